package manager

import (
	"context"
	"net/http"
	"time"

	"vllmgate/internal/upstream"
	"vllmgate/pkg/types"
)

// Upstream is the subset of *upstream.Client the manager uses.
type Upstream interface {
	Do(ctx context.Context, method, url string, opts upstream.Options) (*http.Response, error)
	URL(path string) string
	MetricsURL() string
}

// Cache is the local artifact cache (see registry.Cache).
type Cache interface {
	Dir() string
	DirExists() bool
	Exists(id string) bool
	Present(id string) bool
	Scan() ([]types.ModelRecord, error)
	Delete(id string) error
	DiskFree() (uint64, error)
}

// SelectionStore persists the selected model id (see envstore.Store).
type SelectionStore interface {
	Selected() (string, error)
	SetSelected(id string) error
}

// manualCommander is implemented by sources that can describe a manual
// download.
type manualCommander interface {
	ManualCommand(modelID, hubDir string) string
}

// DownloadStatus is the state of the download tracker.
type DownloadStatus string

const (
	DownloadIdle        DownloadStatus = "idle"
	DownloadDownloading DownloadStatus = "downloading"
	DownloadComplete    DownloadStatus = "complete"
	DownloadError       DownloadStatus = "error"
)

// DownloadJob is a snapshot of the tracked artifact fetch.
type DownloadJob struct {
	OperationID string
	ModelID     string
	Status      DownloadStatus
	// Progress is a coarse percentage; it never decreases while
	// downloading and is kept as is on error.
	Progress    int
	Error       string
	StartedAt   time.Time
	CompletedAt time.Time
}

// DownloadResult is returned by TriggerDownload.
type DownloadResult struct {
	// Manual is true when only instructions were returned.
	Manual       bool
	OperationID  string
	ModelID      string
	Command      string
	Instructions []string
}

// SwitchPhase is a step of the switch workflow. Phases only move forward;
// SwitchFailed can follow any phase.
type SwitchPhase string

const (
	SwitchIdle              SwitchPhase = "idle"
	SwitchValidating        SwitchPhase = "validating"
	SwitchPersistingConfig  SwitchPhase = "persisting_config"
	SwitchRecreatingService SwitchPhase = "recreating_service"
	SwitchAwaitingReady     SwitchPhase = "awaiting_ready"
	SwitchReady             SwitchPhase = "ready"
	SwitchFailed            SwitchPhase = "failed"
)

var phaseOrder = map[SwitchPhase]int{
	SwitchValidating:        1,
	SwitchPersistingConfig:  2,
	SwitchRecreatingService: 3,
	SwitchAwaitingReady:     4,
	SwitchReady:             5,
}

// Terminal reports whether no further transition can happen.
func (p SwitchPhase) Terminal() bool { return p == SwitchReady || p == SwitchFailed }

// SwitchOperation is a snapshot of the current switch workflow.
type SwitchOperation struct {
	OperationID      string
	ModelID          string
	Phase            SwitchPhase
	EstimatedSeconds int
	Message          string
	StartedAt        time.Time
	UpdatedAt        time.Time
}

// SwitchResult is returned once a switch has been accepted.
type SwitchResult struct {
	OperationID      string
	ModelID          string
	EstimatedSeconds int
}

// LoadingState classifies the inference service while it (re)starts.
type LoadingState string

const (
	LoadingStarting LoadingState = "starting"
	LoadingLoading  LoadingState = "loading"
	LoadingReady    LoadingState = "ready"
)

// LoadingStatus is the result of PollLoadingStatus.
type LoadingStatus struct {
	State        LoadingState
	ModelLoaded  bool
	CurrentModel string
	Message      string
	Error        string
}

// HealthStatus is the overall health verdict.
type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"
	HealthDegraded  HealthStatus = "degraded"
	HealthUnhealthy HealthStatus = "unhealthy"
)

// HealthSnapshot is recomputed on every Health call.
type HealthSnapshot struct {
	Status          HealthStatus
	UpstreamHealthy bool
	ModelLoaded     bool
	QueueSize       *int
	Models          []string
	Error           string
}

// RestartResult is returned by RestartAPI.
type RestartResult struct {
	Delay   time.Duration
	Message string
	Info    string
}
