package manager

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/samber/lo"

	"vllmgate/internal/upstream"
	"vllmgate/pkg/types"
)

// listModels performs a single GET /models against the inference service.
// A transport error is returned as err; any HTTP response yields its status
// code and, for 200, the listed model ids.
func (m *Manager) listModels(ctx context.Context, timeout time.Duration) (int, []string, error) {
	resp, err := m.up.Do(ctx, http.MethodGet, m.up.URL("/models"), upstream.Options{Timeout: timeout})
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return resp.StatusCode, nil, nil
	}
	var list types.UpstreamModelList
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return resp.StatusCode, nil, fmt.Errorf("decode model list: %w", err)
	}
	ids := lo.Map(list.Data, func(um types.UpstreamModel, _ int) string { return um.ID })
	return resp.StatusCode, ids, nil
}

// PollLoadingStatus classifies the inference service while it boots. It
// keeps no state; callers poll it until ready.
func (m *Manager) PollLoadingStatus(ctx context.Context) LoadingStatus {
	code, ids, err := m.listModels(ctx, defaultLoadingTimeout)
	switch {
	case err != nil && code == 0:
		return LoadingStatus{
			State:   LoadingStarting,
			Message: "vLLM container is starting...",
			Error:   err.Error(),
		}
	case err != nil || code != http.StatusOK || len(ids) == 0:
		return LoadingStatus{
			State:   LoadingLoading,
			Message: "vLLM is starting up...",
		}
	default:
		return LoadingStatus{
			State:        LoadingReady,
			ModelLoaded:  true,
			CurrentModel: ids[0],
			Message:      "vLLM is ready",
		}
	}
}

// CurrentModel returns the first model listed by the inference service, or
// "" when none is loaded or the service is unreachable.
func (m *Manager) CurrentModel(ctx context.Context) string {
	_, ids, err := m.listModels(ctx, defaultStatusTimeout)
	if err != nil || len(ids) == 0 {
		return ""
	}
	return ids[0]
}
