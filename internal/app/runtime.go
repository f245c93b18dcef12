package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/dwizi/boost-runtime/internal/config"
	"github.com/dwizi/boost-runtime/internal/deferred"
	"github.com/dwizi/boost-runtime/internal/heartbeat"
	"github.com/dwizi/boost-runtime/internal/httpapi"
	"github.com/dwizi/boost-runtime/internal/orchestrator"
	"github.com/dwizi/boost-runtime/internal/platform"
	"github.com/dwizi/boost-runtime/internal/quota"
	"github.com/dwizi/boost-runtime/internal/ratelimit"
	"github.com/dwizi/boost-runtime/internal/selector"
	"github.com/dwizi/boost-runtime/internal/slots"
	"github.com/dwizi/boost-runtime/internal/store"
	"github.com/dwizi/boost-runtime/internal/watcher"
)

// Runtime wires the quota engine, its stores and the operator API into one
// process.
type Runtime struct {
	cfg              config.Config
	logger           *slog.Logger
	store            *store.Store
	pool             *quota.Pool
	registry         *quota.Registry
	allocator        *quota.Allocator
	guard            *ratelimit.Guard
	slots            *slots.Scheduler
	selector         *selector.Selector
	engine           *orchestrator.Engine
	httpServer       *http.Server
	watcher          *watcher.Service
	heartbeat        *heartbeat.Registry
	heartbeatMonitor *heartbeat.Monitor
}

func New(cfg config.Config, logger *slog.Logger) (*Runtime, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	sqlStore, err := store.New(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	if err := sqlStore.AutoMigrate(context.Background()); err != nil {
		sqlStore.Close()
		return nil, err
	}

	pool := quota.NewPool(quota.PoolConfig{
		TotalActions: cfg.PoolTotalActions,
		PackKind:     cfg.PoolPackKind,
		DailyLimit:   cfg.DailyLimit,
	})
	registry := quota.NewRegistry()
	allocator := quota.NewAllocator(pool, registry, logger.With("component", "allocator"))
	guard := ratelimit.NewGuard(ratelimit.Config{
		ThrottleBaseDelay:      time.Duration(cfg.ThrottleBaseDelaySec) * time.Second,
		ThrottleFactor:         2,
		ThrottleMaxDelay:       time.Duration(cfg.ThrottleMaxDelaySec) * time.Second,
		ThrottleResetWindow:    time.Duration(cfg.ThrottleResetWindowSec) * time.Second,
		ThrottleMaxRetries:     cfg.ThrottleMaxRetries,
		AuthPause:              time.Duration(cfg.AuthPauseSec) * time.Second,
		AuthResetWindow:        time.Duration(cfg.AuthResetWindowSec) * time.Second,
		AuthAttentionThreshold: cfg.AuthAttentionThreshold,
		AuthCriticalThreshold:  cfg.AuthCriticalThreshold,
	}, logger.With("component", "ratelimit"))
	slotScheduler := slots.New(slots.Config{
		Tolerance: time.Duration(cfg.SlotToleranceSec) * time.Second,
		Jitter:    cfg.SlotJitter,
	}, logger.With("component", "slots"))

	weights := selector.DefaultWeights
	if cfg.WeightsFile != "" {
		loaded, loadErr := watcher.LoadWeights(cfg.WeightsFile)
		if loadErr != nil {
			logger.Warn("weights file unreadable at startup, using defaults",
				"path", cfg.WeightsFile,
				"error", loadErr,
			)
		} else {
			weights = loaded
		}
	}
	sel := selector.New(allocator, weights, logger.With("component", "selector"))

	mock := buildPlatform(cfg, logger)
	engine := orchestrator.New(
		orchestrator.Config{
			ScanInterval:   time.Duration(cfg.ScanIntervalSec) * time.Second,
			CandidateLimit: cfg.CandidateLimit,
			PacingRate:     cfg.PacingRatePerSec,
			PacingBurst:    cfg.PacingBurst,
		},
		orchestrator.Dependencies{
			Allocator: allocator,
			Registry:  registry,
			Selector:  sel,
			Guard:     guard,
			Slots:     slotScheduler,
			Accounts:  mock,
			Content:   mock,
			Executor:  mock,
		},
		deferred.DefaultConfig(),
		logger.With("component", "engine"),
	)

	var heartbeatRegistry *heartbeat.Registry
	var heartbeatMonitor *heartbeat.Monitor
	if cfg.HeartbeatEnabled {
		heartbeatRegistry = heartbeat.NewRegistry()
		heartbeatMonitor = heartbeat.NewMonitor(heartbeatRegistry, heartbeat.MonitorConfig{
			Interval:   time.Duration(cfg.HeartbeatIntervalSec) * time.Second,
			StaleAfter: time.Duration(cfg.HeartbeatStaleSec) * time.Second,
		}, logger.With("component", "heartbeat"))
	}

	var weightsWatcher *watcher.Service
	if cfg.WeightsFile != "" {
		weightsWatcher, err = watcher.New(cfg.WeightsFile, sel, logger.With("component", "watcher"))
		if err != nil {
			sqlStore.Close()
			return nil, err
		}
	}

	handler := httpapi.NewRouter(httpapi.Dependencies{
		Config:              cfg,
		Store:               sqlStore,
		Pool:                pool,
		Registry:            registry,
		Allocator:           allocator,
		Guard:               guard,
		Slots:               slotScheduler,
		Queue:               engine.Queue(),
		Heartbeat:           heartbeatRegistry,
		HeartbeatStaleAfter: time.Duration(cfg.HeartbeatStaleSec) * time.Second,
		Logger:              logger.With("component", "api"),
	})
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	runtime := &Runtime{
		cfg:              cfg,
		logger:           logger,
		store:            sqlStore,
		pool:             pool,
		registry:         registry,
		allocator:        allocator,
		guard:            guard,
		slots:            slotScheduler,
		selector:         sel,
		engine:           engine,
		httpServer:       httpServer,
		watcher:          weightsWatcher,
		heartbeat:        heartbeatRegistry,
		heartbeatMonitor: heartbeatMonitor,
	}
	if err := runtime.restoreCheckpoint(context.Background()); err != nil {
		sqlStore.Close()
		return nil, err
	}
	return runtime, nil
}

// buildPlatform returns the upstream client set. Without a wire client the
// runtime runs against the in-memory mock: seeded in simulation mode, empty
// otherwise so the engine idles instead of failing every cycle.
func buildPlatform(cfg config.Config, logger *slog.Logger) *platform.Mock {
	if !cfg.SimulationMode {
		logger.Warn("no platform client configured, scans will be idle")
		return platform.NewMock(nil, nil)
	}
	accounts := []platform.AccountInfo{
		{ID: "sim-account-1", DisplayName: "Simulated Agent 1"},
		{ID: "sim-account-2", DisplayName: "Simulated Agent 2"},
	}
	content := []string{"sim-content-1", "sim-content-2", "sim-content-3"}
	logger.Info("simulation mode enabled",
		"accounts", len(accounts),
		"content_items", len(content),
	)
	return platform.NewMock(accounts, content)
}
