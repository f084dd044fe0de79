package manager

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/docker/go-units"
	"github.com/google/uuid"

	"vllmgate/internal/artifacts"
	"vllmgate/internal/registry"
)

// Progress milestones of a download job.
const (
	progressCacheReady = 10
	progressFetchBegin = 30
	progressFetched    = 90
	progressDone       = 100
)

// TriggerDownload starts fetching modelID in the background when auto is
// true, replacing whatever the tracker held before. With auto false it only
// returns instructions for a manual download and mutates nothing.
func (m *Manager) TriggerDownload(modelID string, auto bool) (DownloadResult, error) {
	if err := registry.ValidateID(modelID); err != nil {
		return DownloadResult{}, invalidArgumentError{msg: err.Error()}
	}
	if !auto {
		return m.manualDownload(modelID), nil
	}
	if m.source == nil {
		return DownloadResult{}, downloadUnavailableError{msg: "automated downloads are not configured; use auto=false for manual instructions"}
	}

	opID := uuid.NewString()
	m.dlMu.Lock()
	m.dlGen++
	gen := m.dlGen
	m.dl = DownloadJob{
		OperationID: opID,
		ModelID:     modelID,
		Status:      DownloadDownloading,
		StartedAt:   m.clock.Now(),
	}
	m.dlMu.Unlock()

	m.log.Info().Str("model_id", modelID).Str("operation_id", opID).Str("source", m.source.Name()).Msg("download started")
	m.publish(Event{Name: EventDownloadStarted, ModelID: modelID, Fields: map[string]any{"operation_id": opID}})

	if !m.spawn(func(ctx context.Context) { m.runDownload(ctx, gen, modelID) }) {
		m.finishDownload(gen, modelID, errors.New("manager is shutting down"))
	}
	return DownloadResult{OperationID: opID, ModelID: modelID}, nil
}

// Download returns a snapshot of the tracked job; Idle/0 when nothing was
// ever triggered.
func (m *Manager) Download() DownloadJob {
	m.dlMu.RLock()
	defer m.dlMu.RUnlock()
	return m.dl
}

func (m *Manager) manualDownload(modelID string) DownloadResult {
	hub := m.cache.Dir()
	var cmd string
	if mc, ok := m.source.(manualCommander); ok {
		cmd = mc.ManualCommand(modelID, hub)
	} else {
		cmd = artifacts.NewHuggingFace(artifacts.HFConfig{}).ManualCommand(modelID, hub)
	}
	return DownloadResult{
		Manual:  true,
		ModelID: modelID,
		Command: cmd,
		Instructions: []string{
			"1. Make sure the cache directory exists: mkdir -p " + hub,
			"2. Run: " + cmd,
			"3. Switch to the model: POST /switch-model?model_id=" + modelID,
			"Or let the gateway fetch it: POST /download-model?model_id=" + modelID + "&auto=true",
		},
	}
}

func (m *Manager) runDownload(ctx context.Context, gen uint64, modelID string) {
	hub := m.cache.Dir()
	if err := os.MkdirAll(hub, 0o755); err != nil {
		m.finishDownload(gen, modelID, fmt.Errorf("create cache directory: %w", err))
		return
	}
	m.setProgress(gen, progressCacheReady)

	if m.minFreeDiskBytes > 0 {
		if free, err := m.cache.DiskFree(); err == nil && free < m.minFreeDiskBytes {
			m.finishDownload(gen, modelID, fmt.Errorf("insufficient disk space: %s free, %s required",
				units.HumanSize(float64(free)), units.HumanSize(float64(m.minFreeDiskBytes))))
			return
		}
	}
	m.setProgress(gen, progressFetchBegin)

	span := progressFetched - progressFetchBegin
	err := m.source.Fetch(ctx, modelID, hub, func(done, total int) {
		if total <= 0 {
			return
		}
		p := progressFetchBegin + span*done/total
		// coarse steps of ten
		p -= p % 10
		m.setProgress(gen, p)
	})
	if err != nil {
		m.finishDownload(gen, modelID, err)
		return
	}
	m.setProgress(gen, progressFetched)
	m.finishDownload(gen, modelID, nil)
}

// setProgress raises the job's progress; lower values and writes from a
// superseded task are ignored.
func (m *Manager) setProgress(gen uint64, p int) {
	m.dlMu.Lock()
	if gen != m.dlGen || m.dl.Status != DownloadDownloading || p <= m.dl.Progress {
		m.dlMu.Unlock()
		return
	}
	m.dl.Progress = p
	modelID := m.dl.ModelID
	m.dlMu.Unlock()
	m.publish(Event{Name: EventDownloadProgress, ModelID: modelID, Fields: map[string]any{"progress": p}})
}

func (m *Manager) finishDownload(gen uint64, modelID string, err error) {
	m.dlMu.Lock()
	if gen != m.dlGen {
		m.dlMu.Unlock()
		m.log.Info().Str("model_id", modelID).Msg("superseded download finished; result discarded")
		return
	}
	if err == nil {
		// Persist under the lock so a newer trigger cannot interleave.
		if serr := m.store.SetSelected(modelID); serr != nil {
			err = fmt.Errorf("persist model selection: %w", serr)
		}
	}
	now := m.clock.Now()
	if err != nil {
		m.dl.Status = DownloadError
		m.dl.Error = downloadErrorMessage(err)
	} else {
		m.dl.Status = DownloadComplete
		m.dl.Progress = progressDone
		m.dl.CompletedAt = now
	}
	started := m.dl.StartedAt
	m.dlMu.Unlock()

	if err != nil {
		downloadsTotal.WithLabelValues("error").Inc()
		m.log.Error().Err(err).Str("model_id", modelID).Msg("download failed")
		m.publish(Event{Name: EventDownloadFailed, ModelID: modelID, Fields: map[string]any{"error": err.Error()}})
		return
	}
	downloadsTotal.WithLabelValues("complete").Inc()
	m.log.Info().Str("model_id", modelID).Dur("took", now.Sub(started).Round(time.Millisecond)).Msg("download complete")
	m.publish(Event{Name: EventDownloadComplete, ModelID: modelID})
}

func downloadErrorMessage(err error) string {
	if errors.Is(err, artifacts.ErrUnavailable) {
		return "Artifact source error: " + err.Error()
	}
	return "Download failed: " + err.Error()
}
