// Package probe establishes SSH sessions to guests that may still be booting.
//
// A throwaway probe process running a no-op remote command is spawned until
// it exits cleanly, then the real command is started as a fresh process with
// the caller's stream wiring. The probe and the real process are never alive
// at the same time.
package probe

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/skoenig/vmshare/internal/models"
	"github.com/skoenig/vmshare/internal/proc"
	"github.com/skoenig/vmshare/internal/services/sshcmd"
)

const (
	// DefaultRetryInterval is the pause between failed probe attempts, so a
	// fast-failing guest is not hammered.
	DefaultRetryInterval = 2 * time.Second

	// DefaultTimeout is the overall connection deadline when the config
	// does not set one.
	DefaultTimeout = 90 * time.Second

	// probeCommand is the disposable remote command used to test readiness.
	// It cannot fail on the remote side with anything but 0, which is what
	// makes non-0/non-255 probe exits diagnosable as invocation errors.
	probeCommand = "exit"
)

// Service defines the interface for connection establishment.
type Service interface {
	// ConnectWait probes until the deadline, then runs the real command
	// with inherited streams and returns its exit code. A non-zero code
	// from the real command is not an error.
	ConnectWait(ctx context.Context, cfg models.SSHConfig) (int, error)
	// ConnectPiped probes until the deadline and returns the live session
	// with all three streams piped. The caller owns the returned process.
	ConnectPiped(ctx context.Context, cfg models.SSHConfig) (proc.Process, error)
}

// FatalExitError reports a probe exit code that cannot come from transport
// readiness: the probe command is a bare "exit", so anything other than 0 or
// 255 means the invocation itself is broken and retrying cannot help.
type FatalExitError struct {
	Code   int
	Stderr string
}

func (e *FatalExitError) Error() string {
	return fmt.Sprintf("ssh probe failed with exit code %d: %s", e.Code, e.Stderr)
}

// DeadlineError reports that no probe succeeded within the timeout.
type DeadlineError struct {
	Timeout    time.Duration
	LastStderr string
}

func (e *DeadlineError) Error() string {
	return fmt.Sprintf("no ssh connection after %s: %s", e.Timeout, e.LastStderr)
}

// Impl implements the Service interface.
type Impl struct {
	builder *sshcmd.Builder
	spawner proc.Spawner
	logger  zerolog.Logger

	// ConnectionWaitTime bounds a single probe attempt. The builder keeps
	// the ssh ConnectTimeout strictly below it, so ssh always resolves a
	// live attempt before this bound expires.
	ConnectionWaitTime time.Duration
	// RetryInterval is the backoff between failed probe attempts.
	RetryInterval time.Duration
}

// New creates a new probe service.
func New(logger zerolog.Logger) *Impl {
	return NewWithSpawner(logger, proc.NewSpawner())
}

// NewWithSpawner creates a new probe service with a custom spawner (for
// testing).
func NewWithSpawner(logger zerolog.Logger, spawner proc.Spawner) *Impl {
	return &Impl{
		builder:            sshcmd.New(),
		spawner:            spawner,
		logger:             logger,
		ConnectionWaitTime: sshcmd.DefaultConnectionWaitTime,
		RetryInterval:      DefaultRetryInterval,
	}
}

// ConnectWait establishes a connection and runs the real command to
// completion on the caller's terminal.
func (s *Impl) ConnectWait(ctx context.Context, cfg models.SSHConfig) (int, error) {
	session, err := s.timedConnection(ctx, cfg, proc.StdioInherit)
	if err != nil {
		return 0, err
	}

	code, err := session.Wait()
	if err != nil {
		return 0, fmt.Errorf("waiting for ssh session: %w", err)
	}
	return code, nil
}

// ConnectPiped establishes a connection and hands the piped session to the
// caller for interactive use.
func (s *Impl) ConnectPiped(ctx context.Context, cfg models.SSHConfig) (proc.Process, error) {
	return s.timedConnection(ctx, cfg, proc.StdioPiped)
}

// timedConnection runs the probe loop and, on success, spawns the real
// command with the requested stream wiring. A failed attempt never leaves a
// live process behind.
func (s *Impl) timedConnection(ctx context.Context, cfg models.SSHConfig, stdio proc.Stdio) (proc.Process, error) {
	s.builder.ConnectionWaitTime = s.ConnectionWaitTime

	logger := s.logger.With().
		Str("connection_id", uuid.New().String()[:8]).
		Str("host", cfg.Host).
		Logger()

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	deadline := time.Now().Add(timeout)

	var lastStderr string
	attempt := 0

	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		attempt++
		probeArgs, err := s.builder.Command(cfg, probeCommand)
		if err != nil {
			return nil, err
		}

		logger.Debug().Int("attempt", attempt).Strs("argv", probeArgs).Msg("probing ssh")

		p, err := s.spawner.Spawn(probeArgs, proc.StdioPiped)
		if err != nil {
			return nil, fmt.Errorf("spawning ssh probe: %w", err)
		}

		code, exited, err := p.WaitTimeout(s.ConnectionWaitTime)
		if err != nil {
			_ = p.Terminate()
			return nil, fmt.Errorf("waiting for ssh probe: %w", err)
		}

		if !exited {
			// The ssh ConnectTimeout is below the wait bound, so a live
			// attempt should always be resolved by ssh first. Treat a
			// local expiry like a transport failure and retry.
			_ = p.Terminate()
			logger.Info().Int("attempt", attempt).Msg("ssh probe did not exit within wait bound")
			if err := sleep(ctx, s.RetryInterval); err != nil {
				return nil, err
			}
			continue
		}

		switch code {
		case 0:
			// The guest accepted the connection and ran "exit". The probe
			// has already exited; spawn the real command with the caller's
			// wiring. Transport state cannot be carried across processes,
			// so this is a fresh connection over the now-verified target.
			_ = p.Terminate()

			realArgs, err := s.builder.Command(cfg, cfg.Command)
			if err != nil {
				return nil, err
			}

			logger.Info().Int("attempt", attempt).Msg("ssh ready, establishing session")

			session, err := s.spawner.Spawn(realArgs, stdio)
			if err != nil {
				return nil, fmt.Errorf("spawning ssh session: %w", err)
			}
			return session, nil

		case 255:
			// ssh exits 255 when the error is its own rather than the
			// remote command's: the guest is not accepting connections yet.
			lastStderr = strings.TrimSpace(p.Stderr())
			_ = p.Terminate()
			logger.Info().Int("attempt", attempt).Str("stderr", lastStderr).Msg("ssh not ready")
			if err := sleep(ctx, s.RetryInterval); err != nil {
				return nil, err
			}

		default:
			_ = p.Terminate()
			return nil, &FatalExitError{Code: code, Stderr: strings.TrimSpace(p.Stderr())}
		}
	}

	return nil, &DeadlineError{Timeout: timeout, LastStderr: lastStderr}
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
