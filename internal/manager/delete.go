package manager

import (
	"errors"
	"fmt"

	"vllmgate/internal/registry"
)

// DeleteModel removes a cached artifact, complete or partial. The model currently selected in the
// configuration store is refused unless force is set, in which case the
// selection is left pointing at a missing artifact.
func (m *Manager) DeleteModel(modelID string, force bool) error {
	if err := registry.ValidateID(modelID); err != nil {
		return invalidArgumentError{msg: err.Error()}
	}
	if !m.cache.Present(modelID) {
		return ErrModelNotFound(modelID)
	}
	if !force {
		sel, err := m.store.Selected()
		if err != nil {
			return storeError{err: err}
		}
		if sel == modelID {
			return conflictError{msg: fmt.Sprintf("Model %s is the selected model; switch to another model first or pass force=true", modelID)}
		}
	}
	if err := m.cache.Delete(modelID); err != nil {
		if errors.Is(err, registry.ErrNotCached) {
			return ErrModelNotFound(modelID)
		}
		return fmt.Errorf("failed to delete model: %w", err)
	}
	m.log.Info().Str("model_id", modelID).Bool("force", force).Msg("model deleted")
	m.publish(Event{Name: EventModelDeleted, ModelID: modelID, Fields: map[string]any{"force": force}})
	return nil
}
