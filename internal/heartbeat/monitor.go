package heartbeat

import (
	"context"
	"log/slog"
	"time"
)

type MonitorConfig struct {
	Interval   time.Duration
	StaleAfter time.Duration
}

// Monitor periodically snapshots the registry and logs state transitions, so
// a loop that silently wedges shows up in the logs, not just in /healthz.
type Monitor struct {
	registry   *Registry
	interval   time.Duration
	staleAfter time.Duration
	logger     *slog.Logger
}

func NewMonitor(registry *Registry, cfg MonitorConfig, logger *slog.Logger) *Monitor {
	interval := cfg.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Monitor{
		registry:   registry,
		interval:   interval,
		staleAfter: cfg.StaleAfter,
		logger:     logger,
	}
}

func (m *Monitor) Start(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	m.logger.Info("heartbeat monitor started",
		"interval", m.interval.String(),
		"stale_after", m.staleAfter.String(),
	)

	previous := map[string]string{}
	for {
		m.logTransitions(m.registry.Snapshot(m.staleAfter), previous)
		select {
		case <-ctx.Done():
			m.logger.Info("heartbeat monitor stopped")
			return nil
		case <-ticker.C:
		}
	}
}

func (m *Monitor) logTransitions(snapshot Snapshot, previous map[string]string) {
	for _, item := range snapshot.Components {
		before, seen := previous[item.Name]
		previous[item.Name] = item.State
		if !seen || before == item.State {
			continue
		}
		level := slog.LevelInfo
		if item.State == StateDegraded || item.State == StateStale {
			level = slog.LevelWarn
		}
		m.logger.Log(context.Background(), level, "component state changed",
			"component", item.Name,
			"from_state", before,
			"to_state", item.State,
			"error", item.Error,
		)
	}
}
