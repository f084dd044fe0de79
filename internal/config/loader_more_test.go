package config

import (
	"testing"
	"time"
)

func TestLoad_NonexistentFile(t *testing.T) {
	if _, err := Load("/definitely/not/a/real/file-12345.yaml"); err == nil {
		t.Fatalf("expected error for nonexistent file")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	d := t.TempDir()
	p := writeTempFile(t, d, "bad.yaml", "addr: :8080\n: broken\n")
	if _, err := Load(p); err == nil {
		t.Fatalf("expected YAML unmarshal error")
	}
}

func TestLoad_InvalidJSON(t *testing.T) {
	d := t.TempDir()
	p := writeTempFile(t, d, "bad.json", `{ "addr": ":8080", "models_dir": }`)
	if _, err := Load(p); err == nil {
		t.Fatalf("expected JSON unmarshal error")
	}
}

func TestLoad_InvalidTOML(t *testing.T) {
	d := t.TempDir()
	p := writeTempFile(t, d, "bad.toml", "addr=:8080\nmodels_dir\n")
	if _, err := Load(p); err == nil {
		t.Fatalf("expected TOML unmarshal error")
	}
}

func TestMerge_NonZeroWins(t *testing.T) {
	base := Defaults()
	got := Merge(base, Config{Addr: ":1", RetryMax: 2, RestartDelay: Duration{time.Second}})
	if got.Addr != ":1" || got.RetryMax != 2 || got.RestartDelay.Duration != time.Second {
		t.Fatalf("override not applied: %+v", got)
	}
	if got.UpstreamBaseURL != base.UpstreamBaseURL || got.RetryDelay != base.RetryDelay {
		t.Fatalf("zero fields must keep base values: %+v", got)
	}
}

func TestResolve_DefaultsFileEnv(t *testing.T) {
	d := t.TempDir()
	p := writeTempFile(t, d, "cfg.yaml", "addr: :9000\nmodels_dir: /file/models\n")
	t.Setenv("MODELS_DIR", "/env/models")
	t.Setenv("PROXY_API_KEY", "s3cret")
	t.Setenv("VLLMGATE_RETRY_DELAY", "1s")

	cfg, err := Resolve(p)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if cfg.Addr != ":9000" {
		t.Fatalf("file value lost: %q", cfg.Addr)
	}
	if cfg.ModelsDir != "/env/models" || cfg.APIKey != "s3cret" || cfg.RetryDelay.Duration != time.Second {
		t.Fatalf("env overrides not applied: %+v", cfg)
	}
	if cfg.UpstreamBaseURL != "http://vllm:8000/v1" || cfg.RetryMax != 10 {
		t.Fatalf("defaults lost: %+v", cfg)
	}
}

func TestResolve_NoFile(t *testing.T) {
	cfg, err := Resolve("")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if cfg.SwitchAcceptWindow.Duration != 2*time.Second || cfg.ReadyPollInterval.Duration != 3*time.Second {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}
