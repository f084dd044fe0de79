package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"vllmgate/internal/artifacts"
	"vllmgate/internal/config"
	"vllmgate/internal/envstore"
	"vllmgate/internal/httpapi"
	"vllmgate/internal/manager"
	"vllmgate/internal/registry"
	"vllmgate/internal/supervisor"
	"vllmgate/internal/upstream"
)

type serveFlags struct {
	configPath string
	addr       string
	logLevel   string
}

func newServeCmd() *cobra.Command {
	var f serveFlags
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP gateway",
		Long:  "Start the gateway in front of the vLLM server. Settings come from defaults, the optional config file and the environment, in that order.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Resolve(f.configPath)
			if err != nil {
				return err
			}
			if f.addr != "" {
				cfg.Addr = f.addr
			}
			if f.logLevel != "" {
				cfg.LogLevel = f.logLevel
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
	cmd.Flags().StringVar(&f.configPath, "config", os.Getenv("VLLMGATE_CONFIG"), "Path to a YAML, JSON or TOML config file")
	cmd.Flags().StringVar(&f.addr, "addr", "", "HTTP listen address, e.g. :8080 (overrides config)")
	cmd.Flags().StringVar(&f.logLevel, "log-level", "", "Log level: debug|info|warn|error (overrides config)")
	return cmd
}

func newLogger(cfg config.Config) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil || cfg.LogLevel == "" {
		lvl = zerolog.InfoLevel
	}
	var l zerolog.Logger
	if cfg.LogFormat == "console" {
		l = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	} else {
		l = zerolog.New(os.Stderr)
	}
	return l.Level(lvl).With().Timestamp().Str("service", "vllmgate").Logger()
}

func newSupervisor(cfg config.Config, log *zerolog.Logger) (supervisor.Supervisor, error) {
	switch supervisor.Kind(cfg.Supervisor) {
	case supervisor.KindCompose, "":
		return supervisor.NewCompose(supervisor.ComposeConfig{
			Project:         cfg.ComposeProject,
			Dir:             cfg.ComposeDir,
			RecreateTimeout: cfg.RecreateTimeout.Duration,
			Logger:          log,
		}), nil
	case supervisor.KindKubernetes:
		k, err := supervisor.NewKubeFromConfig(cfg.KubeNamespace, cfg.Kubeconfig, log)
		if err != nil {
			return nil, err
		}
		return k, nil
	default:
		return nil, fmt.Errorf("unknown supervisor %q (want compose or kubernetes)", cfg.Supervisor)
	}
}

// newSource returns nil when automated downloads are disabled.
func newSource(cfg config.Config, log *zerolog.Logger) (artifacts.Source, error) {
	switch cfg.ArtifactSource {
	case "huggingface", "hf":
		return artifacts.NewHuggingFace(artifacts.HFConfig{
			Endpoint: cfg.HFEndpoint,
			Token:    cfg.HFToken,
			Logger:   log,
		}), nil
	case "s3":
		s, err := artifacts.NewS3(artifacts.S3Config{
			Bucket:   cfg.S3Bucket,
			Prefix:   cfg.S3Prefix,
			Region:   cfg.S3Region,
			Endpoint: cfg.S3Endpoint,
			Logger:   log,
		})
		if err != nil {
			return nil, err
		}
		return s, nil
	case "none", "":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown artifact source %q (want huggingface, s3 or none)", cfg.ArtifactSource)
	}
}

func serve(ctx context.Context, cfg config.Config) error {
	log := newLogger(cfg)

	cache, err := registry.New(cfg.ModelsDir)
	if err != nil {
		return fmt.Errorf("open model cache: %w", err)
	}
	sup, err := newSupervisor(cfg, &log)
	if err != nil {
		return err
	}
	src, err := newSource(cfg, &log)
	if err != nil {
		return err
	}

	client := upstream.New(upstream.Config{
		BaseURL:      cfg.UpstreamBaseURL,
		Timeout:      cfg.UpstreamTimeout.Duration,
		MaxRetries:   cfg.RetryMax,
		RetryDelay:   cfg.RetryDelay.Duration,
		FreshTimeout: cfg.FreshTimeout.Duration,
		Logger:       &log,
	})
	defer client.Close()

	mgr := manager.NewWithConfig(manager.ManagerConfig{
		Cache:              cache,
		Store:              envstore.New(cfg.EnvFile, cfg.SelectedModelKey),
		Upstream:           client,
		Supervisor:         sup,
		Source:             src,
		InferenceService:   cfg.InferenceService,
		SelfService:        cfg.SelfService,
		RestartDelay:       cfg.RestartDelay.Duration,
		ManualRestartDelay: cfg.ManualRestartDelay.Duration,
		EstimatedSeconds:   cfg.EstimatedSwitchSeconds,
		AcceptWindow:       cfg.SwitchAcceptWindow.Duration,
		ReadyPollInterval:  cfg.ReadyPollInterval.Duration,
		ReadyTimeout:       cfg.ReadyTimeout.Duration,
		MinFreeDiskBytes:   cfg.MinFreeDiskBytes,
		Logger:             &log,
		Publisher:          manager.LogPublisher{Logger: log},
	})
	defer mgr.Close()

	httpapi.Version = version
	httpapi.SetLogger(log)
	httpapi.SetBaseContext(ctx)
	httpapi.SetMaxBodyBytes(cfg.MaxBodyBytes)
	if len(cfg.CORSOrigins) > 0 {
		httpapi.SetCORSOptions(true, cfg.CORSOrigins,
			[]string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
			[]string{"Authorization", "Content-Type", "X-Log-Level"})
	}
	if cfg.APIKey == "" || cfg.APIKey == "change-me" {
		log.Warn().Msg("PROXY_API_KEY is unset or the default; set a real key before exposing the gateway")
	}

	handler := httpapi.NewMux(mgr, client, httpapi.Options{
		APIKey:             cfg.APIKey,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		UpstreamTimeout:    cfg.UpstreamTimeout.Duration,
		StreamTimeout:      cfg.StreamTimeout.Duration,
		Ready: func() error {
			rctx, cancel := context.WithTimeout(ctx, 3*time.Second)
			defer cancel()
			if st := mgr.PollLoadingStatus(rctx); st.State != manager.LoadingReady {
				return errors.New(st.Message)
			}
			return nil
		},
	})
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().
			Str("addr", cfg.Addr).
			Str("upstream", cfg.UpstreamBaseURL).
			Str("models_dir", cache.Dir()).
			Str("supervisor", cfg.Supervisor).
			Str("artifact_source", cfg.ArtifactSource).
			Str("version", version).
			Msg("vllmgate listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown error")
	}
	return nil
}
