package main

import (
	"os"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var execCmd = &cobra.Command{
	Use:   "exec -- command [args...]",
	Short: "Run a command in the guest once SSH is reachable",
	Long: `Probe the guest's SSH service until it accepts connections, then run
the given command with the terminal attached. The command's exit code
becomes vmshare's exit code.`,
	Args: cobra.MinimumNArgs(1),
	RunE: execCommand,
}

func execCommand(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	sshCfg := cfg.SSH
	sshCfg.Command = strings.Join(args, " ")

	ctx, cancel := signalContext()
	defer cancel()

	probeSvc := buildProber(log.Logger, cfg)

	code, err := probeSvc.ConnectWait(ctx, sshCfg)
	if err != nil {
		log.Error().Err(err).Msg("exec failed")
		return err
	}

	if code != 0 {
		// Pass the remote exit code through without cobra's error noise.
		cmd.SilenceErrors = true
		cmd.SilenceUsage = true
		os.Exit(code)
	}

	return nil
}
