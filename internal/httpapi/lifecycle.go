package httpapi

import (
	"io"
	"net/http"
	"strconv"
	"time"

	"vllmgate/internal/manager"
	"vllmgate/internal/upstream"
	"vllmgate/pkg/types"
)

func unixPtr(t time.Time) *int64 {
	if t.IsZero() {
		return nil
	}
	u := t.Unix()
	return &u
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// modelIDParam reads the required model_id query parameter.
func modelIDParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := r.URL.Query().Get("model_id")
	if id == "" {
		writeJSONError(w, http.StatusUnprocessableEntity, "model_id is required")
		return "", false
	}
	return id, true
}

// boolParam reads an optional boolean query parameter.
func boolParam(w http.ResponseWriter, r *http.Request, name string) (bool, bool) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return false, true
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		writeJSONError(w, http.StatusUnprocessableEntity, name+" must be a boolean")
		return false, false
	}
	return b, true
}

func healthHandler(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h := svc.Health(r.Context())
		writeJSON(w, http.StatusOK, types.HealthResponse{
			Status:          string(h.Status),
			GPUAvailable:    h.ModelLoaded,
			ModelLoaded:     h.ModelLoaded,
			UpstreamHealthy: h.UpstreamHealthy,
			QueueSize:       h.QueueSize,
			Details:         types.HealthDetails{Models: h.Models, Error: h.Error},
		})
	}
}

// modelsHandler passes the inference service's model list through verbatim.
func modelsHandler(up Upstream, opts Options) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp, err := up.RequestWithRetry(r.Context(), http.MethodGet, up.URL("/models"), upstream.Options{
			Timeout:    30 * time.Second,
			MaxRetries: opts.ModelsRetries,
		})
		if err == nil {
			err = upstream.CheckStatus(resp)
		}
		if err != nil {
			writeError(w, err, "fetch models from vLLM")
			return
		}
		defer resp.Body.Close()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = io.Copy(w, resp.Body)
	}
}

// upstreamMetricsHandler passes the inference service's Prometheus text
// through.
func upstreamMetricsHandler(up Upstream) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp, err := up.RequestWithRetry(r.Context(), http.MethodGet, up.MetricsURL(), upstream.Options{
			Timeout:    5 * time.Second,
			MaxRetries: 1,
		})
		if err == nil {
			err = upstream.CheckStatus(resp)
		}
		if err != nil {
			writeError(w, err, "fetch metrics from vLLM")
			return
		}
		defer resp.Body.Close()
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		w.WriteHeader(http.StatusOK)
		_, _ = io.Copy(w, resp.Body)
	}
}

func modelStatusHandler(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st, err := svc.ModelStatus(r.Context())
		if err != nil {
			writeError(w, err, "read model status")
			return
		}
		writeJSON(w, http.StatusOK, st)
	}
}

func downloadHandler(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := modelIDParam(w, r)
		if !ok {
			return
		}
		auto, ok := boolParam(w, r, "auto")
		if !ok {
			return
		}
		res, err := svc.TriggerDownload(id, auto)
		if err != nil {
			writeError(w, err, "start download")
			return
		}
		if res.Manual {
			writeJSON(w, http.StatusOK, types.DownloadResponse{
				Status:       "manual",
				Message:      "Manual download instructions for " + id,
				ModelID:      id,
				Command:      res.Command,
				Instructions: res.Instructions,
			})
			return
		}
		writeJSON(w, http.StatusOK, types.DownloadResponse{
			Status:      "downloading",
			Message:     "Download started for " + id,
			ModelID:     id,
			OperationID: res.OperationID,
			Info:        "Download in progress. Check /api/download-progress for status.",
		})
	}
}

func downloadProgressHandler(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job := svc.Download()
		writeJSON(w, http.StatusOK, types.DownloadProgress{
			Status:      string(job.Status),
			Progress:    job.Progress,
			Model:       strPtr(job.ModelID),
			OperationID: job.OperationID,
			Error:       strPtr(job.Error),
			StartedAt:   unixPtr(job.StartedAt),
			CompletedAt: unixPtr(job.CompletedAt),
		})
	}
}

func switchHandler(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := modelIDParam(w, r)
		if !ok {
			return
		}
		rl := newReqLog(r)
		rl.begin("switch", map[string]any{"model_id": id})
		res, err := svc.SwitchModel(r.Context(), id)
		if err != nil {
			rl.end("switch", writeError(w, err, "switch model"), err)
			return
		}
		writeJSON(w, http.StatusOK, types.SwitchResponse{
			Status:           "switching",
			Message:          "Switching to " + id,
			ModelID:          id,
			OperationID:      res.OperationID,
			Info:             "vLLM is loading the new model. Check /api/model-loading-status for progress.",
			EstimatedSeconds: res.EstimatedSeconds,
		})
		rl.end("switch", http.StatusOK, nil)
	}
}

func switchStatusHandler(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		op, ok := svc.SwitchStatus()
		if !ok {
			writeJSON(w, http.StatusOK, types.SwitchStatus{Phase: string(manager.SwitchIdle), Message: "No switch in progress"})
			return
		}
		writeJSON(w, http.StatusOK, types.SwitchStatus{
			OperationID:      op.OperationID,
			ModelID:          op.ModelID,
			Phase:            string(op.Phase),
			EstimatedSeconds: op.EstimatedSeconds,
			Message:          op.Message,
			StartedAt:        unixPtr(op.StartedAt),
			UpdatedAt:        unixPtr(op.UpdatedAt),
		})
	}
}

func loadingStatusHandler(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st := svc.PollLoadingStatus(r.Context())
		writeJSON(w, http.StatusOK, types.LoadingStatus{
			Status:       string(st.State),
			ModelLoaded:  st.ModelLoaded,
			CurrentModel: strPtr(st.CurrentModel),
			Message:      st.Message,
			Error:        st.Error,
		})
	}
}

func deleteHandler(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := modelIDParam(w, r)
		if !ok {
			return
		}
		force, ok := boolParam(w, r, "force")
		if !ok {
			return
		}
		if err := svc.DeleteModel(id, force); err != nil {
			writeError(w, err, "delete model")
			return
		}
		writeJSON(w, http.StatusOK, types.DeleteResponse{
			Status:  "deleted",
			Message: "Model " + id + " deleted successfully",
			ModelID: id,
		})
	}
}

func restartHandler(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res := svc.RestartAPI()
		writeJSON(w, http.StatusOK, types.RestartResponse{
			Status:  "restarting",
			Message: res.Message,
			Info:    res.Info,
		})
	}
}
