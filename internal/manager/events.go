package manager

import "github.com/rs/zerolog"

// Event names published by the manager.
const (
	EventDownloadStarted  = "download_started"
	EventDownloadProgress = "download_progress"
	EventDownloadComplete = "download_complete"
	EventDownloadFailed   = "download_failed"
	EventSwitchPhase      = "switch_phase"
	EventModelDeleted     = "model_deleted"
	EventRestartScheduled = "restart_scheduled"
	EventRestartFailed    = "restart_failed"
)

// Event represents a manager lifecycle event.
// Minimal and stable: name + model ID and optional fields via key/values.
type Event struct {
	Name    string
	ModelID string
	Fields  map[string]any
}

// EventPublisher receives events from the manager. Implementations should be
// lightweight and non-blocking; Publish must not panic.
type EventPublisher interface {
	Publish(Event)
}

// noopPublisher is the default; it drops events.
type noopPublisher struct{}

func (noopPublisher) Publish(Event) {}

// LogPublisher writes every event as a debug log line.
type LogPublisher struct {
	Logger zerolog.Logger
}

func (p LogPublisher) Publish(e Event) {
	ev := p.Logger.Debug().Str("event", e.Name)
	if e.ModelID != "" {
		ev = ev.Str("model_id", e.ModelID)
	}
	if len(e.Fields) > 0 {
		ev = ev.Fields(e.Fields)
	}
	ev.Msg("manager event")
}
