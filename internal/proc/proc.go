// Package proc spawns and supervises transport child processes.
package proc

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// Stdio selects how a child's standard streams are wired.
type Stdio int

const (
	// StdioInherit attaches the child to the parent's own streams.
	StdioInherit Stdio = iota
	// StdioPiped exposes a stdin pipe and captures stdout/stderr.
	StdioPiped
	// StdioDiscard throws all three streams away.
	StdioDiscard
)

// Binding is applied to a command before it starts. The platform default
// asks the kernel to SIGTERM the child when this process dies, so transport
// connections never outlive their orchestrator.
type Binding func(*exec.Cmd)

// Process is a live child. It is owned by exactly one caller at a time.
type Process interface {
	// Input is the child's stdin; nil unless spawned with StdioPiped.
	Input() io.WriteCloser
	// Wait blocks until the child exits and returns its exit code.
	Wait() (int, error)
	// WaitTimeout waits up to d for the child to exit. exited is false if
	// d elapsed first, in which case the child is still running.
	WaitTimeout(d time.Duration) (code int, exited bool, err error)
	// Terminate sends SIGTERM to the child. It is a no-op once the child
	// has exited.
	Terminate() error
	// Stdout returns everything captured so far (StdioPiped only).
	Stdout() string
	// Stderr returns everything captured so far (StdioPiped only).
	Stderr() string
}

// Spawner starts child processes.
type Spawner interface {
	Spawn(argv []string, stdio Stdio) (Process, error)
}

// ExecSpawner is the exec-backed Spawner used outside of tests.
type ExecSpawner struct {
	binding Binding
}

// NewSpawner returns an ExecSpawner with the platform death-signal binding.
func NewSpawner() *ExecSpawner {
	return &ExecSpawner{binding: parentDeathBinding}
}

// NewSpawnerWithBinding returns an ExecSpawner with a custom lifecycle
// binding applied to every spawned command.
func NewSpawnerWithBinding(binding Binding) *ExecSpawner {
	return &ExecSpawner{binding: binding}
}

// Spawn starts argv[0] with the requested stream wiring.
func (s *ExecSpawner) Spawn(argv []string, stdio Stdio) (Process, error) {
	if len(argv) == 0 {
		return nil, fmt.Errorf("empty argument vector")
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	p := &execProcess{cmd: cmd, done: make(chan struct{})}

	switch stdio {
	case StdioInherit:
		cmd.Stdin = os.Stdin
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
	case StdioPiped:
		stdin, err := cmd.StdinPipe()
		if err != nil {
			return nil, fmt.Errorf("stdin pipe: %w", err)
		}
		p.stdin = stdin
		cmd.Stdout = &p.stdout
		cmd.Stderr = &p.stderr
	case StdioDiscard:
		cmd.Stdout = io.Discard
		cmd.Stderr = io.Discard
	}

	if s.binding != nil {
		s.binding(cmd)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting %s: %w", argv[0], err)
	}

	go func() {
		p.waitErr = cmd.Wait()
		close(p.done)
	}()

	return p, nil
}

type execProcess struct {
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	stdout  lockedBuffer
	stderr  lockedBuffer
	done    chan struct{}
	waitErr error
}

func (p *execProcess) Input() io.WriteCloser { return p.stdin }

func (p *execProcess) Wait() (int, error) {
	<-p.done
	return exitCode(p.waitErr)
}

func (p *execProcess) WaitTimeout(d time.Duration) (int, bool, error) {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-p.done:
		code, err := exitCode(p.waitErr)
		return code, true, err
	case <-timer.C:
		return 0, false, nil
	}
}

func (p *execProcess) Terminate() error {
	select {
	case <-p.done:
		return nil
	default:
	}
	return p.cmd.Process.Signal(syscall.SIGTERM)
}

func (p *execProcess) Stdout() string { return p.stdout.String() }
func (p *execProcess) Stderr() string { return p.stderr.String() }

// exitCode maps a Wait error to the child's exit code. Death by signal is
// reported as -1, matching os/exec. A non-exit error (the wait itself
// failed) is surfaced as-is.
func exitCode(err error) (int, error) {
	if err == nil {
		return 0, nil
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		return ee.ExitCode(), nil
	}
	return -1, err
}

// lockedBuffer lets the caller read captured output while the child is
// still writing.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
