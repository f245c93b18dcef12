package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dwizi/boost-runtime/internal/deferred"
	"github.com/dwizi/boost-runtime/internal/heartbeat"
)

func (r *Runtime) Run(ctx context.Context) error {
	r.logger.Info("boost-runtime starting",
		"addr", r.cfg.HTTPAddr,
		"environment", r.cfg.Environment,
		"simulation_mode", r.cfg.SimulationMode,
	)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return runMonitored(groupCtx, r.heartbeat, "scan-engine", 20*time.Second, func(runCtx context.Context) error {
			return r.engine.Start(runCtx)
		})
	})
	group.Go(func() error {
		return runMonitored(groupCtx, r.heartbeat, "deferred-queue", 20*time.Second, func(runCtx context.Context) error {
			return r.runDeferredTicks(runCtx)
		})
	})
	group.Go(func() error {
		return runMonitored(groupCtx, r.heartbeat, "sweeper", 0, func(runCtx context.Context) error {
			return r.runSweeps(runCtx)
		})
	})
	group.Go(func() error {
		return runMonitored(groupCtx, r.heartbeat, "checkpointer", 20*time.Second, func(runCtx context.Context) error {
			return r.runCheckpoints(runCtx)
		})
	})
	if r.watcher != nil {
		group.Go(func() error {
			return runMonitored(groupCtx, r.heartbeat, "watcher", 0, func(runCtx context.Context) error {
				return r.watcher.Start(runCtx)
			})
		})
	}
	group.Go(func() error {
		return runMonitored(groupCtx, r.heartbeat, "api", 20*time.Second, func(runCtx context.Context) error {
			err := r.httpServer.ListenAndServe()
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		})
	})
	if r.heartbeatMonitor != nil {
		group.Go(func() error {
			return r.heartbeatMonitor.Start(groupCtx)
		})
	}
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return r.httpServer.Shutdown(shutdownCtx)
	})

	err := group.Wait()

	saveCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if saveErr := r.saveCheckpoint(saveCtx); saveErr != nil {
		r.logger.Error("final checkpoint failed", "error", saveErr)
	}
	return err
}

func (r *Runtime) runDeferredTicks(ctx context.Context) error {
	interval := time.Duration(r.cfg.DeferredTickSec) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	r.logger.Info("deferred tick loop started", "interval", interval.String())
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("deferred tick loop stopped")
			return nil
		case <-ticker.C:
			r.engine.Queue().Tick(ctx)
		}
	}
}

func (r *Runtime) runSweeps(ctx context.Context) error {
	r.logger.Info("deferred sweep loop started", "cron", r.cfg.DeferredSweepCron)
	for {
		next, err := deferred.NextSweep(r.cfg.DeferredSweepCron, time.Now().UTC())
		if err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			r.logger.Info("deferred sweep loop stopped")
			return nil
		case <-time.After(time.Until(next)):
			if evicted := r.engine.Queue().Sweep(); evicted > 0 {
				r.logger.Info("deferred sweep completed", "evicted", evicted)
			}
		}
	}
}

func (r *Runtime) runCheckpoints(ctx context.Context) error {
	interval := time.Duration(r.cfg.CheckpointSec) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	r.logger.Info("checkpoint loop started", "interval", interval.String())
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("checkpoint loop stopped")
			return nil
		case <-ticker.C:
			if err := r.saveCheckpoint(ctx); err != nil && ctx.Err() == nil {
				r.logger.Error("periodic checkpoint failed", "error", err)
			}
		}
	}
}

func (r *Runtime) Close() error {
	if r.store == nil {
		return nil
	}
	return r.store.Close()
}

func runMonitored(
	ctx context.Context,
	reporter *heartbeat.Registry,
	component string,
	beatInterval time.Duration,
	run func(context.Context) error,
) error {
	if run == nil {
		return nil
	}
	if reporter != nil {
		reporter.Starting(component)
		reporter.Beat(component)
	}

	var stopHeartbeat func()
	if reporter != nil && beatInterval > 0 {
		heartbeatCtx, cancel := context.WithCancel(ctx)
		stopHeartbeat = cancel
		go func() {
			ticker := time.NewTicker(beatInterval)
			defer ticker.Stop()
			for {
				select {
				case <-heartbeatCtx.Done():
					return
				case <-ticker.C:
					reporter.Beat(component)
				}
			}
		}()
	}

	err := run(ctx)
	if stopHeartbeat != nil {
		stopHeartbeat()
	}
	if reporter == nil {
		return err
	}
	if err != nil && ctx.Err() == nil {
		reporter.Degrade(component, err)
		return err
	}
	reporter.Stopped(component)
	return err
}
