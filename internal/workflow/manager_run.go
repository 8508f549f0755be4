package workflow

import (
	"context"
	"errors"
	"time"

	"voicelog/internal/logging"
)

// Run polls on the configured interval until ctx is canceled and waits for
// the running cycle, if any, before returning.
func (m *Manager) Run(ctx context.Context) error {
	m.mu.Lock()
	if m.runCtx != nil {
		m.mu.Unlock()
		return errors.New("workflow already running")
	}
	m.runCtx = ctx
	m.mu.Unlock()
	defer func() {
		m.wg.Wait()
		m.mu.Lock()
		m.runCtx = nil
		m.mu.Unlock()
	}()

	m.logger.Info("workflow started",
		logging.Duration("poll_interval", m.interval),
		logging.Any("stages", m.runner.Stages()),
		logging.String(logging.FieldEventType, "workflow_start"),
	)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.tick(ctx, TriggerStartup)
	for {
		select {
		case <-ctx.Done():
			m.logger.Info("workflow stopping", logging.String(logging.FieldEventType, "workflow_stop"))
			return nil
		case <-ticker.C:
			m.tick(ctx, TriggerScheduled)
		case <-m.nudge:
			m.tick(ctx, TriggerVolumeEvent)
		}
	}
}

// RunOnce starts a manual cycle immediately. It returns false when the
// request was dropped because a cycle is already running or the manager is
// not running.
func (m *Manager) RunOnce() bool {
	m.mu.RLock()
	ctx := m.runCtx
	m.mu.RUnlock()
	if ctx == nil || ctx.Err() != nil {
		return false
	}
	return m.startCycle(ctx, TriggerManual)
}

// RunCycle runs one cycle synchronously, for one-shot use outside Run.
func (m *Manager) RunCycle(ctx context.Context, trigger string) (Summary, error) {
	if !m.active.CompareAndSwap(false, true) {
		return Summary{}, ErrCycleActive
	}
	defer m.active.Store(false)
	return m.runCycle(ctx, trigger)
}

func (m *Manager) tick(ctx context.Context, trigger string) {
	if m.paused.Load() {
		m.pollOnly(ctx)
		return
	}
	m.startCycle(ctx, trigger)
}

// startCycle claims the cycle slot and runs a cycle in the background. A
// trigger that finds the slot taken is dropped.
func (m *Manager) startCycle(ctx context.Context, trigger string) bool {
	if !m.active.CompareAndSwap(false, true) {
		m.logger.Debug("cycle trigger dropped; cycle already running",
			logging.String("trigger", trigger),
			logging.String(logging.FieldEventType, "cycle_trigger_dropped"),
		)
		return false
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer m.active.Store(false)
		_, _ = m.runCycle(ctx, trigger)
	}()
	return true
}

// pollOnly keeps presence tracking current while paused.
func (m *Manager) pollOnly(ctx context.Context) {
	if m.active.Load() {
		return
	}
	state, err := m.watcher.Poll(ctx)
	if err != nil {
		m.logger.Debug("paused poll failed", logging.Error(err))
		return
	}
	m.logger.Debug("paused poll",
		logging.Bool("present", state.Present),
		logging.Int("candidates", len(state.Candidates)),
	)
}
