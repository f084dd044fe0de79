package supervisor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Runner executes a command in dir and returns its combined output.
type Runner func(ctx context.Context, dir, name string, args ...string) ([]byte, error)

// ComposeConfig configures Compose.
type ComposeConfig struct {
	Project string
	// Dir is the working directory holding the compose file.
	Dir string
	// RecreateTimeout bounds `docker compose up`. Default 120s.
	RecreateTimeout time.Duration
	// StopTimeout is passed to `docker restart -t`. Default 10s.
	StopTimeout time.Duration
	Logger      *zerolog.Logger
	// Run overrides command execution.
	Run Runner
}

// Compose drives the docker compose CLI.
type Compose struct {
	cfg ComposeConfig
	log zerolog.Logger
	run Runner
}

// NewCompose returns a compose-backed Supervisor.
func NewCompose(cfg ComposeConfig) *Compose {
	if cfg.RecreateTimeout <= 0 {
		cfg.RecreateTimeout = 120 * time.Second
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = 10 * time.Second
	}
	c := &Compose{cfg: cfg, log: zerolog.Nop(), run: cfg.Run}
	if cfg.Logger != nil {
		c.log = cfg.Logger.With().Str("component", "supervisor").Str("kind", string(KindCompose)).Logger()
	}
	if c.run == nil {
		c.run = execRunner
	}
	return c
}

func execRunner(ctx context.Context, dir, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	cmd.Env = os.Environ()
	return cmd.CombinedOutput()
}

// Recreate runs `docker compose -p <project> up -d --force-recreate <service>`.
func (c *Compose) Recreate(ctx context.Context, service string) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.RecreateTimeout)
	defer cancel()

	args := []string{"compose"}
	if c.cfg.Project != "" {
		args = append(args, "-p", c.cfg.Project)
	}
	args = append(args, "up", "-d", "--force-recreate", service)

	c.log.Info().Str("service", service).Msg("recreating service")
	out, err := c.run(ctx, c.cfg.Dir, "docker", args...)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("docker compose timed out after %s, the container may still be restarting", c.cfg.RecreateTimeout)
		} else if msg := strings.TrimSpace(string(out)); msg != "" {
			err = fmt.Errorf("docker compose up failed: %s", msg)
		}
		c.log.Error().Err(err).Str("service", service).Msg("recreate failed")
		return &Error{Action: "recreate", Service: service, Err: err}
	}
	c.log.Info().Str("service", service).Msg("service recreated")
	return nil
}

// Restart runs `docker restart -t <stop timeout> <container>`.
func (c *Compose) Restart(ctx context.Context, service string) error {
	secs := int(c.cfg.StopTimeout / time.Second)
	out, err := c.run(ctx, c.cfg.Dir, "docker", "restart", "-t", fmt.Sprint(secs), service)
	if err != nil {
		if msg := strings.TrimSpace(string(out)); msg != "" {
			err = fmt.Errorf("%w: %s", err, msg)
		}
		return &Error{Action: "restart", Service: service, Err: err}
	}
	c.log.Info().Str("container", service).Msg("container restarted")
	return nil
}
