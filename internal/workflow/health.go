package workflow

import (
	"context"

	"voicelog/internal/stage"
)

// StageHealth runs each enabled stage's readiness probe in execution order.
func (m *Manager) StageHealth(ctx context.Context) []stage.Health {
	handlers := m.runner.Handlers()
	out := make([]stage.Health, 0, len(handlers))
	for _, h := range handlers {
		out = append(out, h.HealthCheck(ctx))
	}
	return out
}

// Ready reports whether every enabled stage passed its readiness probe.
func Ready(health []stage.Health) bool {
	for _, h := range health {
		if !h.Ready {
			return false
		}
	}
	return true
}
