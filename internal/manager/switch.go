package manager

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"vllmgate/internal/registry"
)

// SwitchModel makes modelID the model served by the inference service.
//
// Validation and persistence of the selection happen before it returns. The
// service recreate runs in the background; SwitchModel waits at most the
// accept window for it so that a fast supervisor failure is still reported
// to the caller. Later failures only show up in SwitchStatus. A failed
// recreate does not roll back the persisted selection.
func (m *Manager) SwitchModel(ctx context.Context, modelID string) (SwitchResult, error) {
	if err := registry.ValidateID(modelID); err != nil {
		return SwitchResult{}, invalidArgumentError{msg: err.Error()}
	}
	if !m.cache.Exists(modelID) {
		return SwitchResult{}, ErrModelNotFound(modelID)
	}

	opID := uuid.NewString()
	now := m.clock.Now()
	m.swMu.Lock()
	m.swGen++
	gen := m.swGen
	m.sw = &SwitchOperation{
		OperationID:      opID,
		ModelID:          modelID,
		Phase:            SwitchValidating,
		EstimatedSeconds: m.estimatedSeconds,
		Message:          "Model found in cache",
		StartedAt:        now,
		UpdatedAt:        now,
	}
	m.swMu.Unlock()
	log := m.log.With().Str("model_id", modelID).Str("operation_id", opID).Logger()

	m.advance(gen, SwitchPersistingConfig, "Persisting model selection")
	if err := m.store.SetSelected(modelID); err != nil {
		serr := storeError{err: err}
		m.fail(gen, serr.Error())
		log.Error().Err(err).Msg("switch aborted: selection not persisted")
		return SwitchResult{}, serr
	}

	m.advance(gen, SwitchRecreatingService, fmt.Sprintf("Recreating %s with %s", m.inferenceService, modelID))
	done := make(chan error, 1)
	if !m.spawn(func(ctx context.Context) { m.runSwitch(ctx, gen, modelID, done) }) {
		err := orchestrationError{err: errors.New("manager is shutting down")}
		m.fail(gen, err.Error())
		return SwitchResult{}, err
	}

	res := SwitchResult{OperationID: opID, ModelID: modelID, EstimatedSeconds: m.estimatedSeconds}
	window := m.clock.Timer(m.acceptWindow)
	defer window.Stop()
	select {
	case err := <-done:
		if err != nil {
			return SwitchResult{}, orchestrationError{err: err}
		}
	case <-window.C:
	case <-ctx.Done():
		return SwitchResult{}, ctx.Err()
	}
	log.Info().Int("estimated_seconds", m.estimatedSeconds).Msg("switch accepted")
	return res, nil
}

// SwitchStatus returns a snapshot of the latest switch, or false when no
// switch ran in this process.
func (m *Manager) SwitchStatus() (SwitchOperation, bool) {
	m.swMu.RLock()
	defer m.swMu.RUnlock()
	if m.sw == nil {
		return SwitchOperation{Phase: SwitchIdle}, false
	}
	return *m.sw, true
}

func (m *Manager) runSwitch(ctx context.Context, gen uint64, modelID string, done chan<- error) {
	if err := m.sup.Recreate(ctx, m.inferenceService); err != nil {
		m.fail(gen, orchestrationError{err: err}.Error())
		m.log.Error().Err(err).Str("model_id", modelID).Str("service", m.inferenceService).Msg("recreate failed")
		done <- err
		return
	}
	m.advance(gen, SwitchAwaitingReady, fmt.Sprintf("Waiting for %s to load %s", m.inferenceService, modelID))
	done <- nil

	// The old service identity may linger in pooled connections.
	m.ScheduleSelfRestart(m.restartDelay, "switch")
	m.awaitReady(ctx, gen, modelID)
}

// awaitReady polls the loading status until the inference service serves
// modelID, the ready timeout elapses, or a newer switch takes over.
func (m *Manager) awaitReady(ctx context.Context, gen uint64, modelID string) {
	deadline := m.clock.Now().Add(m.readyTimeout)
	for {
		if !m.current(gen) {
			return
		}
		st := m.PollLoadingStatus(ctx)
		if st.State == LoadingReady && st.CurrentModel == modelID {
			m.advance(gen, SwitchReady, "Model "+modelID+" is ready")
			return
		}
		msg := st.Message
		if st.State == LoadingReady {
			msg = fmt.Sprintf("%s is still serving %s", m.inferenceService, st.CurrentModel)
		}
		m.note(gen, msg)

		if !m.clock.Now().Before(deadline) {
			m.fail(gen, fmt.Sprintf("Timed out after %s waiting for %s to load %s", m.readyTimeout, m.inferenceService, modelID))
			return
		}
		t := m.clock.Timer(m.readyPollInterval)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
}

func (m *Manager) current(gen uint64) bool {
	m.swMu.RLock()
	defer m.swMu.RUnlock()
	return gen == m.swGen && m.sw != nil && !m.sw.Phase.Terminal()
}

// advance moves the operation of generation gen forward to phase. Stale
// generations, terminal operations and backward moves are ignored.
func (m *Manager) advance(gen uint64, phase SwitchPhase, msg string) bool {
	m.swMu.Lock()
	if gen != m.swGen || m.sw == nil || m.sw.Phase.Terminal() || phaseOrder[phase] <= phaseOrder[m.sw.Phase] {
		m.swMu.Unlock()
		return false
	}
	m.sw.Phase = phase
	m.sw.Message = msg
	m.sw.UpdatedAt = m.clock.Now()
	modelID := m.sw.ModelID
	m.swMu.Unlock()

	if phase == SwitchReady {
		switchesTotal.WithLabelValues(string(SwitchReady)).Inc()
		m.log.Info().Str("model_id", modelID).Msg("switch complete")
	}
	m.publish(Event{Name: EventSwitchPhase, ModelID: modelID, Fields: map[string]any{"phase": string(phase)}})
	return true
}

func (m *Manager) fail(gen uint64, msg string) {
	m.swMu.Lock()
	if gen != m.swGen || m.sw == nil || m.sw.Phase.Terminal() {
		m.swMu.Unlock()
		return
	}
	m.sw.Phase = SwitchFailed
	m.sw.Message = msg
	m.sw.UpdatedAt = m.clock.Now()
	modelID := m.sw.ModelID
	m.swMu.Unlock()

	switchesTotal.WithLabelValues(string(SwitchFailed)).Inc()
	m.publish(Event{Name: EventSwitchPhase, ModelID: modelID, Fields: map[string]any{"phase": string(SwitchFailed), "error": msg}})
}

func (m *Manager) note(gen uint64, msg string) {
	m.swMu.Lock()
	defer m.swMu.Unlock()
	if gen != m.swGen || m.sw == nil || m.sw.Phase.Terminal() || m.sw.Message == msg {
		return
	}
	m.sw.Message = msg
	m.sw.UpdatedAt = m.clock.Now()
}
