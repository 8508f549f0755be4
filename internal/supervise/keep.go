package supervise

import (
	"context"
	"time"
)

// KeepPolicy controls how Keep relaunches a process.
type KeepPolicy struct {
	// BaseDelay is the wait after an exit; it doubles on every quick exit.
	BaseDelay time.Duration
	MaxDelay  time.Duration
	// StableAfter is the uptime after which the next delay resets to
	// BaseDelay.
	StableAfter time.Duration
	// Grace is passed to Terminate on shutdown.
	Grace time.Duration
	// Sleep waits between launches. Nil uses a timer bound to the context.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Exit describes one process exit observed by Keep.
type Exit struct {
	PID      int
	ExitCode int
	Err      error
	Uptime   time.Duration
	// NextDelay is the wait before the next launch.
	NextDelay time.Duration
}

// Hooks observe the Keep loop. Nil hooks are skipped.
type Hooks struct {
	OnStart func(proc *Process)
	OnExit  func(exit Exit)
	// OnStartError reports a failed launch; the loop keeps retrying.
	OnStartError func(err error, nextDelay time.Duration)
	OnStop       func(proc *Process)
}

// Keep launches cmd and relaunches it after every exit, whatever the exit
// code, until ctx is done. On shutdown the running child is terminated and
// Keep returns nil once it has exited.
func Keep(ctx context.Context, cmd Command, policy KeepPolicy, hooks Hooks) error {
	backoff := Policy{BaseDelay: policy.BaseDelay, MaxDelay: policy.MaxDelay, Sleep: policy.Sleep}
	quickExits := 0
	grace := policy.Grace
	if grace <= 0 {
		grace = cmd.grace()
	}

	for {
		if ctx.Err() != nil {
			return nil
		}

		proc, err := cmd.Start()
		if err != nil {
			quickExits++
			delay := backoff.Backoff(quickExits)
			if hooks.OnStartError != nil {
				hooks.OnStartError(err, delay)
			}
			if backoff.sleep(ctx, delay) != nil {
				return nil
			}
			continue
		}
		if hooks.OnStart != nil {
			hooks.OnStart(proc)
		}

		select {
		case <-ctx.Done():
			_ = proc.Terminate(grace)
			if hooks.OnStop != nil {
				hooks.OnStop(proc)
			}
			return nil
		case <-proc.Done():
		}

		exit := Exit{
			PID:      proc.PID(),
			ExitCode: proc.ExitCode(),
			Err:      proc.Wait(),
			Uptime:   time.Since(proc.StartedAt()),
		}
		if policy.StableAfter > 0 && exit.Uptime >= policy.StableAfter {
			quickExits = 0
		}
		quickExits++
		exit.NextDelay = backoff.Backoff(quickExits)
		if hooks.OnExit != nil {
			hooks.OnExit(exit)
		}
		if backoff.sleep(ctx, exit.NextDelay) != nil {
			return nil
		}
	}
}
