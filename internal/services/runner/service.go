// Package runner orchestrates the connect-and-mount workflow.
package runner

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/skoenig/vmshare/internal/models"
	"github.com/skoenig/vmshare/internal/services/probe"
	"github.com/skoenig/vmshare/internal/services/sshfs"
	"github.com/skoenig/vmshare/internal/services/wake"
)

// readinessCommand is run to verify SSH connectivity when there is nothing
// to mount.
const readinessCommand = "exit"

// Service defines the interface for the workflow runner.
type Service interface {
	Run(ctx context.Context, cfg models.Config) error
}

// Impl implements the runner Service interface.
type Impl struct {
	wakeSvc  wake.Service
	probeSvc probe.Service
	sshfsSvc sshfs.Service
	logger   zerolog.Logger
}

// New creates a new runner service with default collaborators.
func New(logger zerolog.Logger) *Impl {
	probeSvc := probe.New(logger)
	return &Impl{
		wakeSvc:  wake.New(logger),
		probeSvc: probeSvc,
		sshfsSvc: sshfs.NewWithProber(logger, probeSvc),
		logger:   logger,
	}
}

// NewWithServices creates a new runner service with custom collaborators
// (for testing, or to apply configured timing knobs).
func NewWithServices(
	logger zerolog.Logger,
	wakeSvc wake.Service,
	probeSvc probe.Service,
	sshfsSvc sshfs.Service,
) *Impl {
	return &Impl{
		wakeSvc:  wakeSvc,
		probeSvc: probeSvc,
		sshfsSvc: sshfsSvc,
		logger:   logger,
	}
}

// Run executes the workflow: wake the target if configured, wait for the
// guest's SSH service, then mount every configured share.
func (s *Impl) Run(ctx context.Context, cfg models.Config) error {
	start := time.Now()

	s.logger.Info().
		Str("host", cfg.SSH.Host).
		Int("mounts", len(cfg.Mounts)).
		Msg("starting run")

	if cfg.Wake != nil {
		result, err := s.wakeSvc.Wake(ctx, *cfg.Wake)
		if err != nil {
			return fmt.Errorf("wake failed: %w", err)
		}
		if result.Error != nil {
			return fmt.Errorf("wake failed: %w", result.Error)
		}
		s.logger.Info().Bool("packet_sent", result.PacketSent).Msg("target woken")
	}

	// With nothing to mount, the run degrades to a readiness check: probe
	// until the guest accepts a connection and runs a no-op.
	if len(cfg.Mounts) == 0 {
		check := cfg.SSH
		check.Command = readinessCommand

		code, err := s.probeSvc.ConnectWait(ctx, check)
		if err != nil {
			return fmt.Errorf("guest not reachable: %w", err)
		}
		if code != 0 {
			return fmt.Errorf("readiness check exited with code %d", code)
		}

		s.logger.Info().Dur("duration", time.Since(start)).Msg("guest ssh is ready")
		return nil
	}

	for _, mount := range cfg.Mounts {
		result, err := s.sshfsSvc.Mount(ctx, cfg.SSH, mount)
		if err != nil {
			return fmt.Errorf("mounting %s: %w", mount.LocalDir, err)
		}
		if result.Error != nil {
			return fmt.Errorf("mounting %s: %w", mount.LocalDir, result.Error)
		}

		s.logger.Info().
			Str("local_dir", mount.LocalDir).
			Str("remote_dir", mount.RemoteDir).
			Bool("forced_teardown", result.ForcedTeardown).
			Dur("duration", result.Duration).
			Msg("share mounted")
	}

	s.logger.Info().
		Int("mounts", len(cfg.Mounts)).
		Dur("duration", time.Since(start)).
		Msg("run completed")

	return nil
}
