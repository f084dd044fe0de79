// Package manager orchestrates the lifecycle of the model served by the
// inference service. It is structured into small files by concern:
//
//   - manager.go: core Manager type, background task supervision, Close.
//   - config.go: ManagerConfig and package defaults; NewWithConfig applies defaults.
//   - types.go: collaborator interfaces and state types (DownloadJob, SwitchOperation).
//   - errors.go: error types and helpers (IsModelNotFound, IsConflict, ...).
//   - download.go: the download tracker (one job slot, last trigger wins).
//   - switch.go: the switch orchestrator and its readiness poller.
//   - loading.go: upstream model listing and loading-status classification.
//   - health.go: health aggregation and queue-depth scraping.
//   - status_report.go: model-status reporting over the local cache.
//   - delete.go: cached artifact removal.
//   - restart.go: delayed self-restart scheduling.
//
// Download and switch progress is only observable by polling: Download and
// SwitchStatus return snapshots copied under lock, never live state.
// Neither is persisted; after a process restart callers re-query the
// inference service directly.
package manager
