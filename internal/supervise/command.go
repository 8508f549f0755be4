package supervise

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"voicelog/internal/services"
)

// DefaultGrace is how long a process group gets between SIGTERM and SIGKILL.
const DefaultGrace = 10 * time.Second

// maxCapturedOutput bounds the combined output kept by Run; the tail is kept.
const maxCapturedOutput = 4 << 20

// Command describes an external program.
type Command struct {
	Path string
	Args []string
	Dir  string
	// Env is appended to the current environment.
	Env []string
	// Grace overrides DefaultGrace.
	Grace time.Duration
	// Stdout and Stderr receive output of processes launched with Start.
	Stdout io.Writer
	Stderr io.Writer
}

// Result describes a finished Run.
type Result struct {
	ExitCode int
	Output   []byte
	Duration time.Duration
	TimedOut bool
}

func (c Command) grace() time.Duration {
	if c.Grace > 0 {
		return c.Grace
	}
	return DefaultGrace
}

func (c Command) build() *exec.Cmd {
	cmd := exec.Command(c.Path, c.Args...)
	cmd.Dir = c.Dir
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	// Grandchildren holding the output pipes must not block Wait forever.
	cmd.WaitDelay = c.grace()
	return cmd
}

// String renders the command line for logs.
func (c Command) String() string {
	return fmt.Sprintf("%s %v", c.Path, c.Args)
}

// Run executes the command to completion, capturing combined output. When
// timeout elapses or ctx ends, the whole process group is terminated. A
// timeout is reported with services.ErrTimeout; a non-zero exit with
// services.ErrExternalTool.
func (c Command) Run(ctx context.Context, timeout time.Duration) (Result, error) {
	var output tailBuffer
	cmd := c.build()
	cmd.Stdout = &output
	cmd.Stderr = &output

	started := time.Now()
	proc, err := start(cmd)
	if err != nil {
		return Result{ExitCode: -1}, services.Wrap(services.ErrExternalTool, "supervise", "start", c.Path, err)
	}

	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}

	result := Result{}
	canceled := false
	select {
	case <-proc.Done():
	case <-timer:
		result.TimedOut = true
		_ = proc.Terminate(c.grace())
	case <-ctx.Done():
		canceled = true
		_ = proc.Terminate(c.grace())
	}
	waitErr := proc.Wait()
	result.Duration = time.Since(started)
	result.Output = output.Bytes()
	result.ExitCode = proc.ExitCode()

	switch {
	case result.TimedOut:
		return result, services.Wrap(services.ErrTimeout, "supervise", "run",
			fmt.Sprintf("%s exceeded %s", c.Path, timeout), waitErr)
	case canceled:
		return result, ctx.Err()
	case waitErr != nil:
		return result, services.Wrap(services.ErrExternalTool, "supervise", "run",
			fmt.Sprintf("%s exited with status %d", c.Path, result.ExitCode), waitErr)
	}
	return result, nil
}

// Start launches the command without waiting for it.
func (c Command) Start() (*Process, error) {
	cmd := c.build()
	cmd.Stdout = c.Stdout
	cmd.Stderr = c.Stderr
	proc, err := start(cmd)
	if err != nil {
		return nil, services.Wrap(services.ErrExternalTool, "supervise", "start", c.Path, err)
	}
	return proc, nil
}

// Process is a handle to a running child.
type Process struct {
	cmd     *exec.Cmd
	started time.Time
	done    chan struct{}
	err     error
	mu      sync.Mutex
}

func start(cmd *exec.Cmd) (*Process, error) {
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	p := &Process{cmd: cmd, started: time.Now(), done: make(chan struct{})}
	go func() {
		err := cmd.Wait()
		p.mu.Lock()
		p.err = err
		p.mu.Unlock()
		close(p.done)
	}()
	return p, nil
}

// PID returns the process id, which is also the process group id.
func (p *Process) PID() int {
	return p.cmd.Process.Pid
}

// StartedAt returns the launch time.
func (p *Process) StartedAt() time.Time {
	return p.started
}

// Done is closed when the process exits.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until the process exits and returns its exit error.
func (p *Process) Wait() error {
	<-p.done
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// ExitCode returns the exit status, or -1 while running or when the process
// was killed by a signal.
func (p *Process) ExitCode() int {
	select {
	case <-p.done:
	default:
		return -1
	}
	if p.cmd.ProcessState == nil {
		return -1
	}
	return p.cmd.ProcessState.ExitCode()
}

// Terminate sends SIGTERM to the process group and SIGKILL after grace.
// It returns once the process has exited.
func (p *Process) Terminate(grace time.Duration) error {
	select {
	case <-p.done:
		return nil
	default:
	}
	pgid := p.PID()
	if err := unix.Kill(-pgid, unix.SIGTERM); err != nil && !errors.Is(err, unix.ESRCH) {
		return fmt.Errorf("signal process group %d: %w", pgid, err)
	}
	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-p.done:
		return nil
	case <-timer.C:
	}
	if err := unix.Kill(-pgid, unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
		return fmt.Errorf("kill process group %d: %w", pgid, err)
	}
	<-p.done
	return nil
}

// tailBuffer keeps the last maxCapturedOutput bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n, _ := b.buf.Write(p)
	if over := b.buf.Len() - maxCapturedOutput; over > 0 {
		b.buf.Next(over)
	}
	return n, nil
}

func (b *tailBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.buf.Bytes()...)
}
