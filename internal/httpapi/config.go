package httpapi

import "time"

// maxBodyBytes controls the maximum allowed request body size for JSON endpoints.
// Default remains 1 MiB.
var maxBodyBytes int64 = 1 << 20

// SetMaxBodyBytes allows configuring the maximum request body size.
func SetMaxBodyBytes(n int64) {
	if n <= 0 {
		maxBodyBytes = 1 << 20
		return
	}
	maxBodyBytes = n
}

// CORS configuration (opt-in). If disabled, no CORS middleware is added.
var (
	corsEnabled        bool
	corsAllowedOrigins []string
	corsAllowedMethods []string
	corsAllowedHeaders []string
)

// SetCORSOptions configures CORS behavior for the HTTP server.
func SetCORSOptions(enabled bool, origins, methods, headers []string) {
	corsEnabled = enabled
	corsAllowedOrigins = append([]string(nil), origins...)
	corsAllowedMethods = append([]string(nil), methods...)
	corsAllowedHeaders = append([]string(nil), headers...)
}

// Options configure NewMux.
type Options struct {
	// APIKey is the bearer token required on protected routes. Empty
	// disables authentication.
	APIKey string
	// RateLimitPerMinute bounds POST /chat per client IP. Zero disables it.
	RateLimitPerMinute int
	// UpstreamTimeout bounds buffered chat requests. Default 300s.
	UpstreamTimeout time.Duration
	// StreamTimeout bounds the wait for a streamed chat response to start and
	// then each gap between reads; a long generation is never cut off while
	// data keeps arriving. Default 600s.
	StreamTimeout time.Duration
	// ModelsRetries is the attempt budget of GET /models. Default 2.
	ModelsRetries int
	// Ready, when set, backs GET /ready in addition to the liveness checks.
	Ready func() error
}

func (o Options) withDefaults() Options {
	if o.UpstreamTimeout <= 0 {
		o.UpstreamTimeout = 300 * time.Second
	}
	if o.StreamTimeout <= 0 {
		o.StreamTimeout = 600 * time.Second
	}
	if o.ModelsRetries <= 0 {
		o.ModelsRetries = 2
	}
	return o
}
