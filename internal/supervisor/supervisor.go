// Package supervisor recreates and restarts the containers the gateway
// orchestrates: the inference service after a model switch and the gateway
// itself to drop connection state bound to the old inference container.
package supervisor

import (
	"context"
	"fmt"
)

// Supervisor is the container-runtime capability used by the manager.
type Supervisor interface {
	// Recreate replaces the named service so it starts with the current
	// persisted configuration. It blocks until the runtime reports success.
	Recreate(ctx context.Context, service string) error
	// Restart restarts the named service in place.
	Restart(ctx context.Context, service string) error
}

// Kind names a Supervisor implementation in configuration.
type Kind string

const (
	KindCompose    Kind = "compose"
	KindKubernetes Kind = "kubernetes"
)

// Error wraps a failed supervisor action.
type Error struct {
	Action  string
	Service string
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Action, e.Service, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
