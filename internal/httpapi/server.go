package httpapi

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/heptiolabs/healthcheck"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"vllmgate/internal/manager"
	"vllmgate/internal/upstream"
	"vllmgate/pkg/types"
)

// Service defines the lifecycle operations required by the HTTP API layer.
type Service interface {
	TriggerDownload(modelID string, auto bool) (manager.DownloadResult, error)
	Download() manager.DownloadJob
	SwitchModel(ctx context.Context, modelID string) (manager.SwitchResult, error)
	SwitchStatus() (manager.SwitchOperation, bool)
	PollLoadingStatus(ctx context.Context) manager.LoadingStatus
	Health(ctx context.Context) manager.HealthSnapshot
	ModelStatus(ctx context.Context) (types.ModelStatusResponse, error)
	DeleteModel(modelID string, force bool) error
	RestartAPI() manager.RestartResult
}

// Upstream is the subset of *upstream.Client used to proxy requests.
type Upstream interface {
	RequestWithRetry(ctx context.Context, method, url string, opts upstream.Options) (*http.Response, error)
	URL(path string) string
	MetricsURL() string
}

// NewMux builds the HTTP surface. Every API route is served at the root and
// under /api.
func NewMux(svc Service, up Upstream, opts Options) http.Handler {
	opts = opts.withDefaults()
	r := chi.NewRouter()
	// Basic middlewares: request id, real ip, recoverer
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(MetricsMiddleware)
	if corsEnabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   corsAllowedOrigins,
			AllowedMethods:   corsAllowedMethods,
			AllowedHeaders:   corsAllowedHeaders,
			AllowCredentials: false,
			MaxAge:           300,
		}))
	}
	// Security headers
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})

	// one limiter shared by /chat and /api/chat
	chatLimit := rateLimit(opts.RateLimitPerMinute)
	routes := func(r chi.Router) {
		// public
		r.Get("/healthz", healthHandler(svc))

		r.Group(func(r chi.Router) {
			r.Use(requireBearer(opts.APIKey))
			r.With(chatLimit).Post("/chat", chatHandler(up, opts))
			r.Get("/models", modelsHandler(up, opts))
			r.Get("/model-status", modelStatusHandler(svc))
			r.Post("/download-model", downloadHandler(svc))
			r.Get("/download-progress", downloadProgressHandler(svc))
			r.Post("/switch-model", switchHandler(svc))
			r.Get("/switch-status", switchStatusHandler(svc))
			r.Get("/model-loading-status", loadingStatusHandler(svc))
			r.Delete("/delete-model", deleteHandler(svc))
			r.Post("/restart-api", restartHandler(svc))
		})
	}
	routes(r)
	r.Route("/api", routes)

	r.Get("/", rootHandler)
	r.Get("/metrics", upstreamMetricsHandler(up))
	r.Get("/proxy-metrics", promhttp.Handler().ServeHTTP)

	probes := healthcheck.NewHandler()
	probes.AddLivenessCheck("goroutine-threshold", healthcheck.GoroutineCountCheck(10000))
	if opts.Ready != nil {
		probes.AddReadinessCheck("upstream", opts.Ready)
	}
	r.Get("/live", probes.LiveEndpoint)
	r.Get("/ready", probes.ReadyEndpoint)

	MountSwagger(r)
	return r
}

// rootHandler lists the service endpoints.
func rootHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "vllmgate",
		"version": Version,
		"endpoints": map[string]string{
			"chat":                 "/api/chat",
			"models":               "/api/models",
			"model_status":         "/api/model-status",
			"model_loading_status": "/api/model-loading-status",
			"switch_model":         "/api/switch-model",
			"switch_status":        "/api/switch-status",
			"restart_api":          "/api/restart-api",
			"health":               "/api/healthz",
			"metrics":              "/metrics",
			"proxy_metrics":        "/proxy-metrics",
			"download_model":       "/api/download-model",
			"download_progress":    "/api/download-progress",
			"delete_model":         "/api/delete-model",
		},
		"docs": "/swagger/index.html",
	})
}

// Version is reported by GET /; set by the binary at startup.
var Version = "dev"
