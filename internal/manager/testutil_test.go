package manager

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/raulk/clock"
	"github.com/stretchr/testify/require"

	"vllmgate/internal/artifacts"
	"vllmgate/internal/registry"
	"vllmgate/internal/upstream"
	"vllmgate/pkg/types"
)

type fakeStore struct {
	mu       sync.Mutex
	selected string
	writes   int
	err      error
	readErr  error
}

func (s *fakeStore) Selected() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selected, s.readErr
}

func (s *fakeStore) SetSelected(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.writes++
	s.selected = id
	return nil
}

func (s *fakeStore) snapshot() (string, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selected, s.writes
}

type fakeSupervisor struct {
	mu          sync.Mutex
	recreates   []string
	restarts    []string
	recreateErr error
	// block, when set, holds Recreate until closed.
	block chan struct{}
}

func (s *fakeSupervisor) Recreate(ctx context.Context, service string) error {
	s.mu.Lock()
	s.recreates = append(s.recreates, service)
	block, err := s.block, s.recreateErr
	s.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func (s *fakeSupervisor) Restart(_ context.Context, service string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.restarts = append(s.restarts, service)
	return nil
}

func (s *fakeSupervisor) counts() (recreates, restarts int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.recreates), len(s.restarts)
}

// fakeSource lays out a minimal snapshot. Fetches of models listed in gates
// wait for the gate to close first.
type fakeSource struct {
	mu    sync.Mutex
	gates map[string]chan struct{}
	errs  map[string]error
	calls int
}

func (s *fakeSource) Name() string { return "fake" }

func (s *fakeSource) Fetch(ctx context.Context, modelID, hubDir string, progress artifacts.ProgressFunc) error {
	s.mu.Lock()
	s.calls++
	gate, err := s.gates[modelID], s.errs[modelID]
	s.mu.Unlock()
	progress(1, 2)
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err != nil {
		return err
	}
	dir := filepath.Join(hubDir, registry.DirName(modelID), "snapshots", "fake")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, "config.json"), []byte("{}"), 0o644); err != nil {
		return err
	}
	progress(2, 2)
	return nil
}

func (s *fakeSource) gate(modelID string) chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gates == nil {
		s.gates = map[string]chan struct{}{}
	}
	ch := make(chan struct{})
	s.gates[modelID] = ch
	return ch
}

func (s *fakeSource) fail(modelID string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.errs == nil {
		s.errs = map[string]error{}
	}
	s.errs[modelID] = err
}

func (s *fakeSource) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// fakeVLLM serves /v1/models and /metrics like the inference service.
type fakeVLLM struct {
	srv           *httptest.Server
	mu            sync.Mutex
	models        []string
	modelsStatus  int
	metrics       string
	metricsStatus int
}

func newFakeVLLM(t *testing.T, models ...string) *fakeVLLM {
	t.Helper()
	f := &fakeVLLM{models: models}
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/models", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		code, ids := f.modelsStatus, append([]string(nil), f.models...)
		f.mu.Unlock()
		if code != 0 && code != http.StatusOK {
			http.Error(w, "not ready", code)
			return
		}
		list := types.UpstreamModelList{Object: "list", Data: []types.UpstreamModel{}}
		for _, id := range ids {
			list.Data = append(list.Data, types.UpstreamModel{ID: id, Object: "model"})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(list)
	})
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		code, body := f.metricsStatus, f.metrics
		f.mu.Unlock()
		if code != 0 && code != http.StatusOK {
			http.Error(w, "no metrics", code)
			return
		}
		_, _ = w.Write([]byte(body))
	})
	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeVLLM) setModels(ids ...string) {
	f.mu.Lock()
	f.models = ids
	f.mu.Unlock()
}

func (f *fakeVLLM) setModelsStatus(code int) {
	f.mu.Lock()
	f.modelsStatus = code
	f.mu.Unlock()
}

func (f *fakeVLLM) setMetrics(code int, body string) {
	f.mu.Lock()
	f.metricsStatus, f.metrics = code, body
	f.mu.Unlock()
}

type fixture struct {
	m     *Manager
	dir   string
	cache *registry.Cache
	store *fakeStore
	sup   *fakeSupervisor
	src   *fakeSource
	vllm  *fakeVLLM
	up    *upstream.Client
	clk   *clock.Mock
	pub   *MemoryPublisher
}

// newFixture builds a Manager over a temp cache, fake collaborators, a fake
// inference service and a mock clock. mutate may adjust the config.
func newFixture(t *testing.T, mutate func(*ManagerConfig)) *fixture {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "hub")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	cache, err := registry.New(dir)
	require.NoError(t, err)

	f := &fixture{
		dir:   dir,
		cache: cache,
		store: &fakeStore{},
		sup:   &fakeSupervisor{},
		src:   &fakeSource{},
		vllm:  newFakeVLLM(t),
		clk:   clock.NewMock(),
		pub:   NewMemoryPublisher(),
	}
	f.up = upstream.New(upstream.Config{BaseURL: f.vllm.srv.URL + "/v1"})
	t.Cleanup(f.up.Close)

	cfg := ManagerConfig{
		Cache:      cache,
		Store:      f.store,
		Upstream:   f.up,
		Supervisor: f.sup,
		Source:     f.src,
		Clock:      f.clk,
		Publisher:  f.pub,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	f.m = NewWithConfig(cfg)
	t.Cleanup(func() { _ = f.m.Close() })
	return f
}

// seed places a cached artifact for id.
func (f *fixture) seed(t *testing.T, id string) {
	t.Helper()
	snap := filepath.Join(f.dir, registry.DirName(id), "snapshots", "abc")
	require.NoError(t, os.MkdirAll(snap, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(snap, "config.json"), []byte(`{"model_type":"llama"}`), 0o644))
}

// seedPartial places an artifact whose fetch has not finished.
func (f *fixture) seedPartial(t *testing.T, id string) {
	t.Helper()
	snap := filepath.Join(f.dir, registry.DirName(id), "snapshots", "abc")
	require.NoError(t, os.MkdirAll(snap, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(snap, "model.safetensors.incomplete"), []byte("wei"), 0o644))
}

var errBoom = errors.New("boom")
