package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/skoenig/vmshare/internal/config"
	"github.com/skoenig/vmshare/internal/models"
	"github.com/skoenig/vmshare/internal/services/probe"
	"github.com/skoenig/vmshare/internal/services/runner"
	"github.com/skoenig/vmshare/internal/services/sshfs"
	"github.com/skoenig/vmshare/internal/services/wake"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Connect to the guest and mount all configured shares",
	Long: `Execute the complete workflow:
1. Wake-on-LAN (if configured)
2. Probe the guest's SSH service until it accepts connections
3. Mount each configured share with sshfs

Without any mounts configured, the run degrades to a readiness check.`,
	RunE: runShares,
}

func runShares(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	log.Info().
		Str("config", configFile).
		Str("host", cfg.SSH.Host).
		Int("mounts", len(cfg.Mounts)).
		Msg("configuration loaded")

	ctx, cancel := signalContext()
	defer cancel()

	runnerSvc := buildRunner(log.Logger, cfg)
	if err := runnerSvc.Run(ctx, *cfg); err != nil {
		log.Error().Err(err).Msg("run failed")
		return err
	}

	log.Info().Msg("run completed successfully")
	return nil
}

func loadConfig(cmd *cobra.Command) (*models.Config, error) {
	if configFile == "" {
		log.Error().Msg("config file is required")
		return nil, cmd.Help()
	}

	parser := config.NewParser()
	cfg, err := parser.LoadFile(configFile)
	if err != nil {
		log.Error().Err(err).Str("file", configFile).Msg("failed to load config")
		return nil, err
	}

	if err := config.Validate(cfg); err != nil {
		log.Error().Err(err).Msg("invalid configuration")
		return nil, err
	}

	return cfg, nil
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.Warn().Str("signal", sig.String()).Msg("received signal, shutting down")
		cancel()
	}()

	return ctx, cancel
}

// buildRunner assembles the services with the configured timing knobs
// applied.
func buildRunner(logger zerolog.Logger, cfg *models.Config) *runner.Impl {
	probeSvc := buildProber(logger, cfg)

	sshfsSvc := sshfs.NewWithProber(logger, probeSvc)
	if cfg.Timing.MountMaxRunTime > 0 {
		sshfsSvc.MaxRunTime = cfg.Timing.MountMaxRunTime
	}

	return runner.NewWithServices(logger, wake.New(logger), probeSvc, sshfsSvc)
}

func buildProber(logger zerolog.Logger, cfg *models.Config) *probe.Impl {
	probeSvc := probe.New(logger)
	if cfg.Timing.ConnectionWaitTime > 0 {
		probeSvc.ConnectionWaitTime = cfg.Timing.ConnectionWaitTime
	}
	if cfg.Timing.RetryInterval > 0 {
		probeSvc.RetryInterval = cfg.Timing.RetryInterval
	}
	return probeSvc
}
