package e2e

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"vllmgate/internal/artifacts"
	"vllmgate/internal/envstore"
	"vllmgate/internal/httpapi"
	"vllmgate/internal/manager"
	"vllmgate/internal/registry"
	"vllmgate/internal/upstream"
)

const apiKey = "e2e-key"

// fakeVLLM serves the OpenAI endpoints the gateway relies on. The served
// model changes when the supervisor recreates the service.
type fakeVLLM struct {
	mu    sync.Mutex
	model string
}

func (f *fakeVLLM) serving() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.model
}

func (f *fakeVLLM) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/v1/models":
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"data":   []map[string]string{{"id": f.serving(), "object": "model"}},
		})
	case "/metrics":
		_, _ = io.WriteString(w, "vllm:num_requests_waiting{model_name=\"x\"} 0.0\n")
	case "/v1/chat/completions":
		var req struct {
			Stream bool `json:"stream"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		if !req.Stream {
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprintf(w, `{"model":%q,"choices":[{"message":{"role":"assistant","content":"ok"}}]}`, f.serving())
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, tok := range []string{"waves", "fold"} {
			fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{\"content\":%q}}]}\n\n", tok)
			w.(http.Flusher).Flush()
		}
		_, _ = io.WriteString(w, "data: [DONE]\n\n")
	default:
		http.NotFound(w, r)
	}
}

// recreator swaps the fake server's model for the persisted selection.
type recreator struct {
	vllm  *fakeVLLM
	store *envstore.Store

	mu        sync.Mutex
	recreated []string
	restarted []string
}

func (s *recreator) Recreate(_ context.Context, service string) error {
	id, err := s.store.Selected()
	if err != nil {
		return err
	}
	s.vllm.mu.Lock()
	s.vllm.model = id
	s.vllm.mu.Unlock()
	s.mu.Lock()
	s.recreated = append(s.recreated, service)
	s.mu.Unlock()
	return nil
}

func (s *recreator) Restart(_ context.Context, service string) error {
	s.mu.Lock()
	s.restarted = append(s.restarted, service)
	s.mu.Unlock()
	return nil
}

// dirSource materializes an artifact as a single file.
type dirSource struct{}

func (dirSource) Name() string { return "dir" }

func (dirSource) Fetch(_ context.Context, modelID, hubDir string, progress artifacts.ProgressFunc) error {
	dir := filepath.Join(hubDir, registry.DirName(modelID), "snapshots", "main")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	progress(1, 1)
	return os.WriteFile(filepath.Join(dir, "config.json"), []byte("{}"), 0o644)
}

type stack struct {
	srv   *httptest.Server
	mgr   *manager.Manager
	vllm  *fakeVLLM
	store *envstore.Store
	sup   *recreator
	hub   string
}

// newStack wires the real cache, selection store, upstream client, manager
// and HTTP layer around a fake vLLM. Models listed in cached get a cache
// directory; the first one is selected and served.
func newStack(t *testing.T, cached ...string) *stack {
	t.Helper()
	root := t.TempDir()
	hub := filepath.Join(root, "hub")
	for _, id := range cached {
		snap := filepath.Join(hub, registry.DirName(id), "snapshots", "main")
		if err := os.MkdirAll(snap, 0o755); err != nil {
			t.Fatalf("seed %s: %v", id, err)
		}
		if err := os.WriteFile(filepath.Join(snap, "config.json"), []byte("{}"), 0o644); err != nil {
			t.Fatalf("seed %s: %v", id, err)
		}
	}
	store := envstore.New(filepath.Join(root, ".env"), "DEFAULT_MODEL")
	vllm := &fakeVLLM{}
	if len(cached) > 0 {
		vllm.model = cached[0]
		if err := store.SetSelected(cached[0]); err != nil {
			t.Fatalf("seed selection: %v", err)
		}
	}
	up := httptest.NewServer(vllm)
	t.Cleanup(up.Close)

	cache, err := registry.New(hub)
	if err != nil {
		t.Fatalf("cache: %v", err)
	}
	client := upstream.New(upstream.Config{BaseURL: up.URL + "/v1", MaxRetries: 2, RetryDelay: time.Millisecond})
	t.Cleanup(client.Close)

	sup := &recreator{vllm: vllm, store: store}
	mgr := manager.NewWithConfig(manager.ManagerConfig{
		Cache:      cache,
		Store:      store,
		Upstream:   client,
		Supervisor: sup,
		Source:     dirSource{},
		// keep the self-restart pending for the whole test
		RestartDelay:      time.Hour,
		AcceptWindow:      20 * time.Millisecond,
		ReadyPollInterval: 10 * time.Millisecond,
		ReadyTimeout:      5 * time.Second,
	})
	t.Cleanup(func() { _ = mgr.Close() })

	srv := httptest.NewServer(httpapi.NewMux(mgr, client, httpapi.Options{APIKey: apiKey}))
	t.Cleanup(srv.Close)
	return &stack{srv: srv, mgr: mgr, vllm: vllm, store: store, sup: sup, hub: hub}
}

func (s *stack) call(t *testing.T, method, path, body string) (int, []byte) {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequestWithContext(context.Background(), method, s.srv.URL+path, rd)
	if err != nil {
		t.Fatalf("new req: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, b
}

func decodeInto(t *testing.T, b []byte, v any) {
	t.Helper()
	if err := json.Unmarshal(b, v); err != nil {
		t.Fatalf("json: %v body=%s", err, b)
	}
}

// eventually polls cond every 10ms for up to 3s.
func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
