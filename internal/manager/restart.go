package manager

import (
	"context"
	"fmt"
	"time"
)

// ScheduleSelfRestart asks the supervisor to restart the gateway's own
// service after delay. It returns immediately; the restart runs in the
// background and is dropped if the manager closes first.
func (m *Manager) ScheduleSelfRestart(delay time.Duration, reason string) bool {
	m.log.Info().Dur("delay", delay).Str("reason", reason).Str("service", m.selfService).Msg("self-restart scheduled")
	m.publish(Event{Name: EventRestartScheduled, Fields: map[string]any{"delay_seconds": int(delay.Seconds()), "reason": reason}})
	return m.spawn(func(ctx context.Context) {
		t := m.clock.Timer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			restartsTotal.WithLabelValues(reason, "canceled").Inc()
			return
		case <-t.C:
		}
		if err := m.sup.Restart(ctx, m.selfService); err != nil {
			restartsTotal.WithLabelValues(reason, "error").Inc()
			m.log.Error().Err(err).Str("service", m.selfService).Msg("self-restart failed")
			m.publish(Event{Name: EventRestartFailed, Fields: map[string]any{"error": err.Error(), "reason": reason}})
			return
		}
		restartsTotal.WithLabelValues(reason, "ok").Inc()
	})
}

// RestartAPI schedules a manual self-restart, used to drop stale DNS state
// after the inference service moved.
func (m *Manager) RestartAPI() RestartResult {
	m.ScheduleSelfRestart(m.manualRestartDelay, "manual")
	return RestartResult{
		Delay:   m.manualRestartDelay,
		Message: fmt.Sprintf("API will restart in %d seconds to refresh DNS cache", int(m.manualRestartDelay.Seconds())),
		Info:    "You may need to reconnect after restart",
	}
}
