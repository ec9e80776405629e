// Package sshfs mounts host directories into the guest over sshfs.
package sshfs

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/skoenig/vmshare/internal/models"
	"github.com/skoenig/vmshare/internal/services/probe"
)

const (
	// Sentinel is echoed by the remote script once the mount command has
	// succeeded. Its presence in captured output is the success signal when
	// the session has to be severed; the check in resolveOutcome must match
	// it byte for byte.
	Sentinel = "VMSHARE_SSHFS_DONE"

	// DefaultMaxRunTime bounds the wait for the mount session to exit on
	// its own. sshfs backgrounds itself and its descendants keep the remote
	// shell's streams open, so the session usually has to be cut from the
	// local side once this elapses.
	DefaultMaxRunTime = 2 * time.Second

	// DefaultGateway is the host's address from the guest's network
	// perspective under user-mode networking.
	DefaultGateway = "10.0.2.2"
)

// Service defines the interface for mount operations.
type Service interface {
	Mount(ctx context.Context, ssh models.SSHConfig, mount models.MountConfig) (*models.MountResult, error)
}

// Impl implements the Service interface.
type Impl struct {
	prober probe.Service
	logger zerolog.Logger

	// MaxRunTime is the bound on waiting for the mount session to finish
	// by itself.
	MaxRunTime time.Duration
}

// New creates a new sshfs service.
func New(logger zerolog.Logger) *Impl {
	return NewWithProber(logger, probe.New(logger))
}

// NewWithProber creates a new sshfs service with a custom connection
// establisher (for testing, or to share timing knobs with the caller).
func NewWithProber(logger zerolog.Logger, prober probe.Service) *Impl {
	return &Impl{
		prober:     prober,
		logger:     logger,
		MaxRunTime: DefaultMaxRunTime,
	}
}

// Mount exposes mount.LocalDir at mount.RemoteDir inside the guest. The
// remote sshfs process keeps running detached in the guest after this
// returns; only the local transport session ends.
func (s *Impl) Mount(ctx context.Context, sshCfg models.SSHConfig, mount models.MountConfig) (*models.MountResult, error) {
	if mount.LocalDir == "" || mount.RemoteDir == "" {
		return nil, fmt.Errorf("local and remote directories must not be empty")
	}

	start := time.Now()

	// Agent forwarding lets sshfs in the guest authenticate back to the
	// host; no pseudo-terminal, and quiet logging keeps stderr useful for
	// diagnostics. The session runs an interactive shell fed by the script.
	cfg := sshCfg
	cfg.Command = ""
	cfg.ExtraArgs = append([]string{"-A", "-T", "-o", "LogLevel=ERROR"}, sshCfg.ExtraArgs...)

	session, err := s.prober.ConnectPiped(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("establishing mount session: %w", err)
	}

	script := mountScript(mount)

	s.logger.Info().
		Str("local_dir", mount.LocalDir).
		Str("remote_dir", mount.RemoteDir).
		Str("host", sshCfg.Host).
		Msg("sending sshfs mount script")

	stdin := session.Input()
	if _, err := io.WriteString(stdin, script); err != nil {
		_ = session.Terminate()
		_, _ = session.Wait()
		return nil, fmt.Errorf("sending mount script: %w", err)
	}
	if err := stdin.Close(); err != nil {
		_ = session.Terminate()
		_, _ = session.Wait()
		return nil, fmt.Errorf("closing mount script input: %w", err)
	}

	code, exited, err := session.WaitTimeout(s.maxRunTime())
	if err != nil {
		_ = session.Terminate()
		return nil, fmt.Errorf("waiting for mount session: %w", err)
	}

	if !exited {
		// The script is fail-fast, so a hang at this point means every
		// statement before it succeeded, including the mount and the
		// sentinel echo; what keeps the session open are descendant
		// processes of sshfs holding the shell's streams. Sever the
		// transport locally and let the captured output decide.
		s.logger.Debug().
			Dur("max_run_time", s.maxRunTime()).
			Msg("mount session still open, terminating transport")
		_ = session.Terminate()
		_, _ = session.Wait() // drain remaining output
	}

	result := resolveOutcome(code, !exited, session.Stdout(), session.Stderr())
	result.Duration = time.Since(start)

	if result.Error != nil {
		s.logger.Error().
			Err(result.Error).
			Bool("forced_teardown", result.ForcedTeardown).
			Msg("sshfs mount failed")
	} else {
		s.logger.Info().
			Bool("forced_teardown", result.ForcedTeardown).
			Dur("duration", result.Duration).
			Msg("sshfs mount completed")
	}

	return result, nil
}

func (s *Impl) maxRunTime() time.Duration {
	if s.MaxRunTime > 0 {
		return s.MaxRunTime
	}
	return DefaultMaxRunTime
}

// mountScript composes the remote script. The fail-fast mode is load
// bearing: if the session later hangs, every statement before the hang,
// including the mount and the sentinel echo, must have succeeded.
func mountScript(mount models.MountConfig) string {
	gateway := mount.Gateway
	if gateway == "" {
		gateway = DefaultGateway
	}

	sshfsCmd := fmt.Sprintf("sudo -E sshfs -o allow_other %s@%s:%s %s",
		mount.LocalUser, gateway, mount.LocalDir, mount.RemoteDir)

	return fmt.Sprintf("set -e\n%s\necho %s\nexit\n", sshfsCmd, Sentinel)
}

// resolveOutcome maps what was observed on the session to a mount result.
// Two outcomes count as success: a clean zero exit within the run-time
// bound, and a forced teardown whose captured output contains the sentinel.
// A forced teardown without the sentinel means the hang happened before the
// mount finished.
func resolveOutcome(code int, forced bool, stdout, stderr string) *models.MountResult {
	result := &models.MountResult{
		Output:         stdout,
		Stderr:         stderr,
		ForcedTeardown: forced,
	}

	switch {
	case !forced && code == 0:
		result.Completed = true
	case !forced:
		result.Error = fmt.Errorf("sshfs mount failed with exit code %d: %s", code, stderr)
	case strings.Contains(stdout, Sentinel):
		result.Completed = true
	default:
		result.Error = fmt.Errorf("sshfs mount timed out: %s", stderr)
	}

	return result
}
