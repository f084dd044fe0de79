package manager

import (
	"context"
	"net/http"

	"github.com/samber/lo"

	"vllmgate/pkg/types"
)

// ModelStatus reports the cached artifacts alongside the model the inference
// service is serving and the persisted selection. Upstream failures only
// clear VLLMHealthy; a cache scan failure is returned.
func (m *Manager) ModelStatus(ctx context.Context) (types.ModelStatusResponse, error) {
	resp := types.ModelStatusResponse{
		DownloadedModels: []string{},
		Models:           []types.ModelRecord{},
	}
	if sel, err := m.store.Selected(); err == nil && sel != "" {
		resp.SelectedModel = &sel
	} else if err != nil {
		m.log.Warn().Err(err).Msg("read model selection")
	}
	if !m.cache.DirExists() {
		resp.Message = "Models directory not found. Please download a model first."
		return resp, nil
	}
	resp.ModelsDirExists = true

	records, err := m.cache.Scan()
	if err != nil {
		return types.ModelStatusResponse{}, err
	}
	if records != nil {
		resp.Models = records
	}
	done := lo.Filter(records, func(r types.ModelRecord, _ int) bool { return r.Downloaded })
	resp.DownloadedModels = lo.Map(done, func(r types.ModelRecord, _ int) string { return r.ID })
	resp.ModelsAvailable = len(done) > 0

	code, ids, err := m.listModels(ctx, defaultStatusTimeout)
	if err == nil && code == http.StatusOK {
		resp.VLLMHealthy = true
		if len(ids) > 0 {
			resp.CurrentModel = &ids[0]
		}
	} else if err != nil {
		m.log.Debug().Err(err).Msg("query current model")
	}

	if free, err := m.cache.DiskFree(); err == nil {
		resp.DiskFreeBytes = free
	}
	if resp.ModelsAvailable {
		resp.Message = "Models found"
	} else {
		resp.Message = "No models downloaded yet"
	}
	return resp, nil
}
