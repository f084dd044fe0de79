package httpapi

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"vllmgate/internal/manager"
	"vllmgate/internal/upstream"
	"vllmgate/pkg/types"
)

const testKey = "secret"

// mockService records calls and returns canned results.
type mockService struct {
	mu sync.Mutex

	downloadRes manager.DownloadResult
	downloadErr error
	job         manager.DownloadJob
	switchRes   manager.SwitchResult
	switchErr   error
	switchOp    *manager.SwitchOperation
	loading     manager.LoadingStatus
	health      manager.HealthSnapshot
	status      types.ModelStatusResponse
	statusErr   error
	deleteErr   error

	triggered []string
	autoFlags []bool
	switched  []string
	deleted   []string
	forced    []bool
	restarts  int
}

func (m *mockService) TriggerDownload(id string, auto bool) (manager.DownloadResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.triggered = append(m.triggered, id)
	m.autoFlags = append(m.autoFlags, auto)
	return m.downloadRes, m.downloadErr
}

func (m *mockService) Download() manager.DownloadJob { return m.job }

func (m *mockService) SwitchModel(_ context.Context, id string) (manager.SwitchResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.switched = append(m.switched, id)
	return m.switchRes, m.switchErr
}

func (m *mockService) SwitchStatus() (manager.SwitchOperation, bool) {
	if m.switchOp == nil {
		return manager.SwitchOperation{Phase: manager.SwitchIdle}, false
	}
	return *m.switchOp, true
}

func (m *mockService) PollLoadingStatus(context.Context) manager.LoadingStatus { return m.loading }
func (m *mockService) Health(context.Context) manager.HealthSnapshot           { return m.health }

func (m *mockService) ModelStatus(context.Context) (types.ModelStatusResponse, error) {
	return m.status, m.statusErr
}

func (m *mockService) DeleteModel(id string, force bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = append(m.deleted, id)
	m.forced = append(m.forced, force)
	return m.deleteErr
}

func (m *mockService) RestartAPI() manager.RestartResult {
	m.mu.Lock()
	m.restarts++
	m.mu.Unlock()
	return manager.RestartResult{Delay: 30 * time.Second, Message: "API will restart in 30 seconds to refresh DNS cache", Info: "You may need to reconnect after restart"}
}

// newUpstream starts a fake inference service and a client for it.
func newUpstream(t *testing.T, h http.Handler) (*httptest.Server, *upstream.Client) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c := upstream.New(upstream.Config{BaseURL: srv.URL + "/v1", MaxRetries: 2, RetryDelay: time.Millisecond})
	t.Cleanup(c.Close)
	return srv, c
}

func newTestMux(t *testing.T, svc Service, h http.Handler, opts Options) http.Handler {
	t.Helper()
	if h == nil {
		h = http.NotFoundHandler()
	}
	_, up := newUpstream(t, h)
	if opts.APIKey == "" {
		opts.APIKey = testKey
	}
	return NewMux(svc, up, opts)
}

func do(t *testing.T, h http.Handler, method, path, body string, auth bool) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if auth {
		req.Header.Set("Authorization", "Bearer "+testKey)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

var errNotReady = errors.New("upstream not ready")

func newRequest(method, path string) *http.Request {
	return httptest.NewRequest(method, path, nil)
}

func serve(h http.Handler, r *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}
