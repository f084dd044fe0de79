package manager

import (
	"time"

	"github.com/raulk/clock"
	"github.com/rs/zerolog"

	"vllmgate/internal/artifacts"
	"vllmgate/internal/supervisor"
)

// Defaults applied when corresponding ManagerConfig fields are unset.
const (
	defaultInferenceService   = "vllm"
	defaultSelfService        = "vllm-proxy-api"
	defaultRestartDelay       = 15 * time.Second
	defaultManualRestartDelay = 30 * time.Second
	defaultEstimatedSeconds   = 60
	defaultAcceptWindow       = 2 * time.Second
	defaultReadyPollInterval  = 3 * time.Second
	defaultReadyTimeout       = 2 * time.Minute
	defaultLoadingTimeout     = 3 * time.Second
	defaultHealthTimeout      = 5 * time.Second
	defaultMetricsTimeout     = 2 * time.Second
	defaultStatusTimeout      = 5 * time.Second
)

// ManagerConfig encapsulates all tunables for Manager construction.
type ManagerConfig struct {
	Cache    Cache
	Store    SelectionStore
	Upstream Upstream
	// Supervisor recreates the inference service and restarts the gateway.
	Supervisor supervisor.Supervisor
	// Source fetches artifacts. Nil disables automated downloads.
	Source artifacts.Source

	InferenceService string
	SelfService      string

	RestartDelay       time.Duration
	ManualRestartDelay time.Duration
	EstimatedSeconds   int
	// AcceptWindow is how long SwitchModel waits for the recreate to fail
	// before reporting the switch as accepted.
	AcceptWindow      time.Duration
	ReadyPollInterval time.Duration
	ReadyTimeout      time.Duration
	// MinFreeDiskBytes fails a download up front when the cache filesystem
	// has less free space. Zero disables the check.
	MinFreeDiskBytes uint64

	Clock     clock.Clock
	Logger    *zerolog.Logger
	Publisher EventPublisher
}

// NewWithConfig constructs a Manager from ManagerConfig.
func NewWithConfig(cfg ManagerConfig) *Manager {
	m := newManager(cfg)
	if cfg.InferenceService == "" {
		m.inferenceService = defaultInferenceService
	}
	if cfg.SelfService == "" {
		m.selfService = defaultSelfService
	}
	if cfg.RestartDelay <= 0 {
		m.restartDelay = defaultRestartDelay
	}
	if cfg.ManualRestartDelay <= 0 {
		m.manualRestartDelay = defaultManualRestartDelay
	}
	if cfg.EstimatedSeconds <= 0 {
		m.estimatedSeconds = defaultEstimatedSeconds
	}
	if cfg.AcceptWindow <= 0 {
		m.acceptWindow = defaultAcceptWindow
	}
	if cfg.ReadyPollInterval <= 0 {
		m.readyPollInterval = defaultReadyPollInterval
	}
	if cfg.ReadyTimeout <= 0 {
		m.readyTimeout = defaultReadyTimeout
	}
	if m.clock == nil {
		m.clock = clock.New()
	}
	if m.publisher == nil {
		m.publisher = noopPublisher{}
	}
	return m
}
