package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/skoenig/vmshare/internal/config"
	"github.com/skoenig/vmshare/internal/services/sshcmd"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long:  `Validate the configuration file without connecting to the guest.`,
	RunE:  validateConfig,
}

func validateConfig(cmd *cobra.Command, args []string) error {
	if configFile == "" {
		log.Error().Msg("config file is required")
		return cmd.Help()
	}

	// Check if file exists
	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		log.Error().Str("file", configFile).Msg("config file not found")
		return fmt.Errorf("config file not found: %s", configFile)
	}

	// Load configuration
	parser := config.NewParser()
	cfg, err := parser.LoadFile(configFile)
	if err != nil {
		log.Error().Err(err).Str("file", configFile).Msg("failed to parse config")
		return err
	}

	// Validate configuration
	if err := config.Validate(cfg); err != nil {
		log.Error().Err(err).Msg("configuration validation failed")
		return err
	}

	// Check that the configured keys actually parse
	if len(cfg.SSH.KeyPaths) > 0 {
		if err := sshcmd.ValidateKeys(cfg.SSH.KeyPaths); err != nil {
			log.Error().Err(err).Msg("key validation failed")
			return err
		}
	}

	// Print configuration summary
	fmt.Println("Configuration is valid!")
	fmt.Println()
	fmt.Println("SSH:")
	fmt.Printf("  Host: %s\n", cfg.SSH.Host)
	fmt.Printf("  Port: %d\n", cfg.SSH.Port)
	if cfg.SSH.User != "" {
		fmt.Printf("  User: %s\n", cfg.SSH.User)
	}
	fmt.Printf("  Key paths: %v\n", cfg.SSH.KeyPaths)
	fmt.Printf("  Timeout: %s\n", cfg.SSH.Timeout)

	fmt.Println()
	fmt.Println("Optional Features:")
	fmt.Printf("  Wake-on-LAN: %v\n", cfg.Wake != nil)
	fmt.Printf("  Mounts: %d\n", len(cfg.Mounts))

	if cfg.Wake != nil {
		fmt.Println()
		fmt.Println("Wake Configuration:")
		fmt.Printf("  MAC Address: %s\n", cfg.Wake.MACAddress)
		fmt.Printf("  Broadcast IP: %s\n", cfg.Wake.BroadcastIP)
		fmt.Printf("  Stabilize Wait: %s\n", cfg.Wake.StabilizeWait)
	}

	for i, mount := range cfg.Mounts {
		fmt.Println()
		fmt.Printf("Mount %d:\n", i+1)
		fmt.Printf("  Local: %s\n", mount.LocalDir)
		fmt.Printf("  Remote: %s\n", mount.RemoteDir)
		fmt.Printf("  Local user: %s\n", mount.LocalUser)
		if mount.Gateway != "" {
			fmt.Printf("  Gateway: %s\n", mount.Gateway)
		}
	}

	return nil
}
