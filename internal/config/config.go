package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

type Config struct {
	Environment string
	HTTPAddr    string
	DataDir     string
	DBPath      string

	PoolTotalActions int
	PoolPackKind     string
	DailyLimit       int

	ScanIntervalSec   int
	CandidateLimit    int
	PacingRatePerSec  float64
	PacingBurst       int
	SimulationMode    bool
	CheckpointSec     int
	DeferredTickSec   int
	DeferredSweepCron string

	ThrottleBaseDelaySec   int
	ThrottleMaxDelaySec    int
	ThrottleResetWindowSec int
	ThrottleMaxRetries     int
	AuthPauseSec           int
	AuthResetWindowSec     int
	AuthAttentionThreshold int
	AuthCriticalThreshold  int

	SlotToleranceSec int
	SlotJitter       float64

	WeightsFile string

	HeartbeatEnabled     bool
	HeartbeatIntervalSec int
	HeartbeatStaleSec    int
}

func FromEnv() Config {
	dataDir := stringOrDefault("BOOST_RUNTIME_DATA_DIR", "/data")
	dbPath := stringOrDefault("BOOST_RUNTIME_DB_PATH", filepath.Join(dataDir, "boost-runtime", "state.sqlite"))

	return Config{
		Environment: stringOrDefault("BOOST_RUNTIME_ENV", "development"),
		HTTPAddr:    stringOrDefault("BOOST_RUNTIME_HTTP_ADDR", ":8080"),
		DataDir:     dataDir,
		DBPath:      dbPath,

		PoolTotalActions: intOrDefault("BOOST_RUNTIME_POOL_TOTAL_ACTIONS", 1000),
		PoolPackKind:     stringOrDefault("BOOST_RUNTIME_POOL_PACK_KIND", "starter"),
		DailyLimit:       intOrDefault("BOOST_RUNTIME_DAILY_LIMIT", 100),

		ScanIntervalSec:   intOrDefault("BOOST_RUNTIME_SCAN_INTERVAL_SECONDS", 300),
		CandidateLimit:    intOrDefault("BOOST_RUNTIME_CANDIDATE_LIMIT", 20),
		PacingRatePerSec:  floatOrDefault("BOOST_RUNTIME_PACING_RATE_PER_SECOND", 1),
		PacingBurst:       intOrDefault("BOOST_RUNTIME_PACING_BURST", 1),
		SimulationMode:    boolOrDefault("BOOST_RUNTIME_SIMULATION_MODE", false),
		CheckpointSec:     intOrDefault("BOOST_RUNTIME_CHECKPOINT_SECONDS", 60),
		DeferredTickSec:   intOrDefault("BOOST_RUNTIME_DEFERRED_TICK_SECONDS", 60),
		DeferredSweepCron: stringOrDefault("BOOST_RUNTIME_DEFERRED_SWEEP_CRON", "*/30 * * * *"),

		ThrottleBaseDelaySec:   intOrDefault("BOOST_RUNTIME_THROTTLE_BASE_DELAY_SECONDS", 900),
		ThrottleMaxDelaySec:    intOrDefault("BOOST_RUNTIME_THROTTLE_MAX_DELAY_SECONDS", 14400),
		ThrottleResetWindowSec: intOrDefault("BOOST_RUNTIME_THROTTLE_RESET_WINDOW_SECONDS", 86400),
		ThrottleMaxRetries:     intOrDefault("BOOST_RUNTIME_THROTTLE_MAX_RETRIES", 5),
		AuthPauseSec:           intOrDefault("BOOST_RUNTIME_AUTH_PAUSE_SECONDS", 900),
		AuthResetWindowSec:     intOrDefault("BOOST_RUNTIME_AUTH_RESET_WINDOW_SECONDS", 43200),
		AuthAttentionThreshold: intOrDefault("BOOST_RUNTIME_AUTH_ATTENTION_THRESHOLD", 3),
		AuthCriticalThreshold:  intOrDefault("BOOST_RUNTIME_AUTH_CRITICAL_THRESHOLD", 5),

		SlotToleranceSec: intOrDefault("BOOST_RUNTIME_SLOT_TOLERANCE_SECONDS", 900),
		SlotJitter:       floatOrDefault("BOOST_RUNTIME_SLOT_JITTER", 0.2),

		WeightsFile: strings.TrimSpace(os.Getenv("BOOST_RUNTIME_WEIGHTS_FILE")),

		HeartbeatEnabled:     boolOrDefault("BOOST_RUNTIME_HEARTBEAT_ENABLED", true),
		HeartbeatIntervalSec: intOrDefault("BOOST_RUNTIME_HEARTBEAT_INTERVAL_SECONDS", 30),
		HeartbeatStaleSec:    intOrDefault("BOOST_RUNTIME_HEARTBEAT_STALE_SECONDS", 120),
	}
}

func stringOrDefault(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}

func intOrDefault(name string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed < 1 {
		return fallback
	}
	return parsed
}

func boolOrDefault(name string, fallback bool) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(name)))
	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func floatOrDefault(name string, fallback float64) float64 {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}
