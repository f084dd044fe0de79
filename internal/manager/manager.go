package manager

import (
	"context"
	"sync"
	"time"

	"github.com/raulk/clock"
	"github.com/rs/zerolog"

	"vllmgate/internal/artifacts"
	"vllmgate/internal/supervisor"
)

type Manager struct {
	cache     Cache
	store     SelectionStore
	up        Upstream
	sup       supervisor.Supervisor
	source    artifacts.Source
	clock     clock.Clock
	log       zerolog.Logger
	pubMu     sync.RWMutex
	publisher EventPublisher

	inferenceService   string
	selfService        string
	restartDelay       time.Duration
	manualRestartDelay time.Duration
	estimatedSeconds   int
	acceptWindow       time.Duration
	readyPollInterval  time.Duration
	readyTimeout       time.Duration
	minFreeDiskBytes   uint64

	// download tracker slot; dlGen identifies the task allowed to write it
	dlMu  sync.RWMutex
	dl    DownloadJob
	dlGen uint64

	// switch slot; nil until the first accepted switch
	swMu  sync.RWMutex
	sw    *SwitchOperation
	swGen uint64

	// background task lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed bool
	lifeMu sync.Mutex
}

func newManager(cfg ManagerConfig) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		cache:              cfg.Cache,
		store:              cfg.Store,
		up:                 cfg.Upstream,
		sup:                cfg.Supervisor,
		source:             cfg.Source,
		clock:              cfg.Clock,
		log:                zerolog.Nop(),
		publisher:          cfg.Publisher,
		inferenceService:   cfg.InferenceService,
		selfService:        cfg.SelfService,
		restartDelay:       cfg.RestartDelay,
		manualRestartDelay: cfg.ManualRestartDelay,
		estimatedSeconds:   cfg.EstimatedSeconds,
		acceptWindow:       cfg.AcceptWindow,
		readyPollInterval:  cfg.ReadyPollInterval,
		readyTimeout:       cfg.ReadyTimeout,
		minFreeDiskBytes:   cfg.MinFreeDiskBytes,
		dl:                 DownloadJob{Status: DownloadIdle},
		ctx:                ctx,
		cancel:             cancel,
	}
	if cfg.Logger != nil {
		m.log = cfg.Logger.With().Str("component", "manager").Logger()
	}
	return m
}

// SetEventPublisher installs a publisher for lifecycle events.
func (m *Manager) SetEventPublisher(p EventPublisher) {
	if p == nil {
		p = noopPublisher{}
	}
	m.pubMu.Lock()
	m.publisher = p
	m.pubMu.Unlock()
}

func (m *Manager) publish(e Event) {
	m.pubMu.RLock()
	p := m.publisher
	m.pubMu.RUnlock()
	p.Publish(e)
}

// spawn runs fn as a background task bound to the manager lifetime. Tasks
// outlive the request that started them and are canceled by Close.
func (m *Manager) spawn(fn func(ctx context.Context)) bool {
	m.lifeMu.Lock()
	defer m.lifeMu.Unlock()
	if m.closed {
		return false
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		fn(m.ctx)
	}()
	return true
}

// Close cancels background tasks (downloads, pending restarts, readiness
// polling) and waits for them to return.
func (m *Manager) Close() error {
	m.lifeMu.Lock()
	if m.closed {
		m.lifeMu.Unlock()
		return nil
	}
	m.closed = true
	m.lifeMu.Unlock()
	m.cancel()
	m.wg.Wait()
	return nil
}

// CacheDir returns the local artifact cache directory.
func (m *Manager) CacheDir() string { return m.cache.Dir() }
