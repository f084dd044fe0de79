package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/vrischmann/envconfig"
	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so config files can spell durations as
// strings ("4s", "2m") in every supported format.
type Duration struct{ time.Duration }

func (d Duration) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

func (d *Duration) UnmarshalText(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "" {
		d.Duration = 0
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = v
	return nil
}

// Config holds runtime parameters for the service.
// Zero values mean "unspecified" and are replaced by Defaults in Resolve.
type Config struct {
	Addr      string `json:"addr" yaml:"addr" toml:"addr"`
	LogLevel  string `json:"log_level" yaml:"log_level" toml:"log_level"`
	LogFormat string `json:"log_format" yaml:"log_format" toml:"log_format"`
	APIKey    string `json:"api_key" yaml:"api_key" toml:"api_key"`

	UpstreamBaseURL string   `json:"upstream_base_url" yaml:"upstream_base_url" toml:"upstream_base_url"`
	UpstreamTimeout Duration `json:"upstream_timeout" yaml:"upstream_timeout" toml:"upstream_timeout"`
	StreamTimeout   Duration `json:"stream_timeout" yaml:"stream_timeout" toml:"stream_timeout"`
	RetryMax        int      `json:"retry_max" yaml:"retry_max" toml:"retry_max"`
	RetryDelay      Duration `json:"retry_delay" yaml:"retry_delay" toml:"retry_delay"`
	FreshTimeout    Duration `json:"fresh_timeout" yaml:"fresh_timeout" toml:"fresh_timeout"`

	ModelsDir        string `json:"models_dir" yaml:"models_dir" toml:"models_dir"`
	EnvFile          string `json:"env_file" yaml:"env_file" toml:"env_file"`
	SelectedModelKey string `json:"selected_model_key" yaml:"selected_model_key" toml:"selected_model_key"`
	MinFreeDiskBytes uint64 `json:"min_free_disk_bytes" yaml:"min_free_disk_bytes" toml:"min_free_disk_bytes"`

	ArtifactSource string `json:"artifact_source" yaml:"artifact_source" toml:"artifact_source"`
	HFEndpoint     string `json:"hf_endpoint" yaml:"hf_endpoint" toml:"hf_endpoint"`
	HFToken        string `json:"hf_token" yaml:"hf_token" toml:"hf_token"`
	S3Bucket       string `json:"s3_bucket" yaml:"s3_bucket" toml:"s3_bucket"`
	S3Prefix       string `json:"s3_prefix" yaml:"s3_prefix" toml:"s3_prefix"`
	S3Region       string `json:"s3_region" yaml:"s3_region" toml:"s3_region"`
	S3Endpoint     string `json:"s3_endpoint" yaml:"s3_endpoint" toml:"s3_endpoint"`

	Supervisor       string `json:"supervisor" yaml:"supervisor" toml:"supervisor"`
	ComposeProject   string `json:"compose_project" yaml:"compose_project" toml:"compose_project"`
	ComposeDir       string `json:"compose_dir" yaml:"compose_dir" toml:"compose_dir"`
	KubeNamespace    string `json:"kube_namespace" yaml:"kube_namespace" toml:"kube_namespace"`
	Kubeconfig       string `json:"kubeconfig" yaml:"kubeconfig" toml:"kubeconfig"`
	InferenceService string `json:"inference_service" yaml:"inference_service" toml:"inference_service"`
	SelfService      string `json:"self_service" yaml:"self_service" toml:"self_service"`

	RecreateTimeout        Duration `json:"recreate_timeout" yaml:"recreate_timeout" toml:"recreate_timeout"`
	RestartDelay           Duration `json:"restart_delay" yaml:"restart_delay" toml:"restart_delay"`
	ManualRestartDelay     Duration `json:"manual_restart_delay" yaml:"manual_restart_delay" toml:"manual_restart_delay"`
	EstimatedSwitchSeconds int      `json:"estimated_switch_seconds" yaml:"estimated_switch_seconds" toml:"estimated_switch_seconds"`
	SwitchAcceptWindow     Duration `json:"switch_accept_window" yaml:"switch_accept_window" toml:"switch_accept_window"`
	ReadyPollInterval      Duration `json:"ready_poll_interval" yaml:"ready_poll_interval" toml:"ready_poll_interval"`
	ReadyTimeout           Duration `json:"ready_timeout" yaml:"ready_timeout" toml:"ready_timeout"`

	RateLimitPerMinute int      `json:"rate_limit_per_minute" yaml:"rate_limit_per_minute" toml:"rate_limit_per_minute"`
	CORSOrigins        []string `json:"cors_origins" yaml:"cors_origins" toml:"cors_origins"`
	MaxBodyBytes       int64    `json:"max_body_bytes" yaml:"max_body_bytes" toml:"max_body_bytes"`
}

// Defaults returns the configuration of the reference deployment: a
// compose project with a "vllm" service next to the proxy.
func Defaults() Config {
	return Config{
		Addr:      ":8080",
		LogLevel:  "info",
		LogFormat: "json",
		APIKey:    "change-me",

		UpstreamBaseURL: "http://vllm:8000/v1",
		UpstreamTimeout: Duration{300 * time.Second},
		StreamTimeout:   Duration{600 * time.Second},
		RetryMax:        10,
		RetryDelay:      Duration{4 * time.Second},
		FreshTimeout:    Duration{10 * time.Second},

		ModelsDir:        "/workspace/models/hub",
		EnvFile:          "/workspace/.env",
		SelectedModelKey: "DEFAULT_MODEL",

		ArtifactSource: "huggingface",
		HFEndpoint:     "https://huggingface.co",

		Supervisor:       "compose",
		ComposeProject:   "talktuah",
		ComposeDir:       "/workspace",
		KubeNamespace:    "default",
		InferenceService: "vllm",
		SelfService:      "vllm-proxy-api",

		RecreateTimeout:        Duration{120 * time.Second},
		RestartDelay:           Duration{15 * time.Second},
		ManualRestartDelay:     Duration{30 * time.Second},
		EstimatedSwitchSeconds: 60,
		SwitchAcceptWindow:     Duration{2 * time.Second},
		ReadyPollInterval:      Duration{3 * time.Second},
		ReadyTimeout:           Duration{2 * time.Minute},

		RateLimitPerMinute: 60,
		CORSOrigins:        []string{"*"},
		MaxBodyBytes:       1 << 20,
	}
}

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".json":
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	return cfg, nil
}

// envOverrides lists the variables read from the process environment.
// Secrets only ever come from here.
type envOverrides struct {
	Addr      string `envconfig:"VLLMGATE_ADDR"`
	LogLevel  string `envconfig:"VLLMGATE_LOG_LEVEL"`
	LogFormat string `envconfig:"VLLMGATE_LOG_FORMAT"`
	APIKey    string `envconfig:"PROXY_API_KEY"`

	UpstreamBaseURL string        `envconfig:"VLLM_BASE_URL"`
	UpstreamTimeout time.Duration `envconfig:"VLLMGATE_UPSTREAM_TIMEOUT"`
	RetryMax        int           `envconfig:"VLLMGATE_RETRY_MAX"`
	RetryDelay      time.Duration `envconfig:"VLLMGATE_RETRY_DELAY"`

	ModelsDir        string `envconfig:"MODELS_DIR"`
	EnvFile          string `envconfig:"VLLMGATE_ENV_FILE"`
	MinFreeDiskBytes uint64 `envconfig:"VLLMGATE_MIN_FREE_DISK_BYTES"`

	ArtifactSource string `envconfig:"VLLMGATE_ARTIFACT_SOURCE"`
	HFEndpoint     string `envconfig:"HF_ENDPOINT"`
	HFToken        string `envconfig:"HF_TOKEN"`
	S3Bucket       string `envconfig:"VLLMGATE_S3_BUCKET"`
	S3Prefix       string `envconfig:"VLLMGATE_S3_PREFIX"`
	S3Region       string `envconfig:"AWS_REGION"`
	S3Endpoint     string `envconfig:"VLLMGATE_S3_ENDPOINT"`

	Supervisor     string `envconfig:"VLLMGATE_SUPERVISOR"`
	ComposeProject string `envconfig:"COMPOSE_PROJECT_NAME"`
	ComposeDir     string `envconfig:"VLLMGATE_COMPOSE_DIR"`
	KubeNamespace  string `envconfig:"POD_NAMESPACE"`
	Kubeconfig     string `envconfig:"KUBECONFIG"`

	RateLimitPerMinute int `envconfig:"VLLMGATE_RATE_LIMIT_PER_MINUTE"`
}

// FromEnv reads environment overrides into a Config. Unset variables
// leave the corresponding field at its zero value.
func FromEnv() (Config, error) {
	var env envOverrides
	if err := envconfig.InitWithOptions(&env, envconfig.Options{AllOptional: true}); err != nil {
		return Config{}, fmt.Errorf("read env config: %w", err)
	}
	return Config{
		Addr:               env.Addr,
		LogLevel:           env.LogLevel,
		LogFormat:          env.LogFormat,
		APIKey:             env.APIKey,
		UpstreamBaseURL:    env.UpstreamBaseURL,
		UpstreamTimeout:    Duration{env.UpstreamTimeout},
		RetryMax:           env.RetryMax,
		RetryDelay:         Duration{env.RetryDelay},
		ModelsDir:          env.ModelsDir,
		EnvFile:            env.EnvFile,
		MinFreeDiskBytes:   env.MinFreeDiskBytes,
		ArtifactSource:     env.ArtifactSource,
		HFEndpoint:         env.HFEndpoint,
		HFToken:            env.HFToken,
		S3Bucket:           env.S3Bucket,
		S3Prefix:           env.S3Prefix,
		S3Region:           env.S3Region,
		S3Endpoint:         env.S3Endpoint,
		Supervisor:         env.Supervisor,
		ComposeProject:     env.ComposeProject,
		ComposeDir:         env.ComposeDir,
		KubeNamespace:      env.KubeNamespace,
		Kubeconfig:         env.Kubeconfig,
		RateLimitPerMinute: env.RateLimitPerMinute,
	}, nil
}

// Resolve layers defaults, the optional config file and the environment,
// later layers winning for every non-zero field.
func Resolve(path string) (Config, error) {
	cfg := Defaults()
	if path != "" {
		fileCfg, err := Load(path)
		if err != nil {
			return cfg, fmt.Errorf("load config %s: %w", path, err)
		}
		cfg = Merge(cfg, fileCfg)
	}
	envCfg, err := FromEnv()
	if err != nil {
		return cfg, err
	}
	return Merge(cfg, envCfg), nil
}
