// Package config provides configuration file parsing.
package config

import (
	"fmt"
	"os"
	"os/user"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"

	"github.com/skoenig/vmshare/internal/models"
)

// DefaultTimeout is the overall connection deadline when the file does not
// set one.
const DefaultTimeout = 90 * time.Second

// Parser handles configuration file parsing.
type Parser struct {
	v *viper.Viper
}

// NewParser creates a new configuration parser.
func NewParser() *Parser {
	v := viper.New()
	v.SetConfigType("yaml")
	return &Parser{v: v}
}

// LoadFile loads configuration from a file path.
func (p *Parser) LoadFile(path string) (*models.Config, error) {
	p.v.SetConfigFile(path)

	if err := p.v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	return p.parse()
}

// LoadReader loads configuration from a string (useful for testing).
func (p *Parser) LoadReader(content string) (*models.Config, error) {
	if err := p.v.ReadConfig(strings.NewReader(content)); err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	return p.parse()
}

//nolint:gocognit // config parsing requires checking many fields
func (p *Parser) parse() (*models.Config, error) {
	cfg := &models.Config{}

	// Parse ssh config (required).
	cfg.SSH = models.SSHConfig{
		Host:      p.expandEnv(p.v.GetString("ssh.host")),
		Port:      p.v.GetInt("ssh.port"),
		User:      p.expandEnv(p.v.GetString("ssh.user")),
		SSHBin:    p.expandEnv(p.v.GetString("ssh.ssh_bin")),
		ExtraArgs: p.v.GetStringSlice("ssh.extra_args"),
		Timeout:   p.v.GetDuration("ssh.timeout"),
	}

	if cfg.SSH.Host == "" {
		return nil, fmt.Errorf("ssh.host is required")
	}
	if cfg.SSH.Port == 0 {
		cfg.SSH.Port = 22
	}
	if cfg.SSH.Port < 0 {
		return nil, fmt.Errorf("ssh.port must be positive")
	}
	if cfg.SSH.Timeout == 0 {
		cfg.SSH.Timeout = DefaultTimeout
	}

	for _, path := range p.v.GetStringSlice("ssh.key_paths") {
		expanded, err := homedir.Expand(p.expandEnv(path))
		if err != nil {
			return nil, fmt.Errorf("expanding key path %q: %w", path, err)
		}
		cfg.SSH.KeyPaths = append(cfg.SSH.KeyPaths, expanded)
	}

	// Parse optional wake config.
	if p.v.IsSet("wake") {
		cfg.Wake = &models.WakeConfig{
			MACAddress:    p.v.GetString("wake.mac_address"),
			BroadcastIP:   p.v.GetString("wake.broadcast_ip"),
			StabilizeWait: p.v.GetDuration("wake.stabilize_wait"),
		}

		if cfg.Wake.MACAddress == "" {
			return nil, fmt.Errorf("wake.mac_address is required when wake is configured")
		}

		// Set defaults.
		if cfg.Wake.BroadcastIP == "" {
			cfg.Wake.BroadcastIP = "255.255.255.255"
		}
		if cfg.Wake.StabilizeWait == 0 {
			cfg.Wake.StabilizeWait = 10 * time.Second
		}
	}

	// Parse mounts.
	var rawMounts []struct {
		LocalDir  string `mapstructure:"local_dir"`
		RemoteDir string `mapstructure:"remote_dir"`
		LocalUser string `mapstructure:"local_user"`
		Gateway   string `mapstructure:"gateway"`
	}
	if err := p.v.UnmarshalKey("mounts", &rawMounts); err != nil {
		return nil, fmt.Errorf("parsing mounts: %w", err)
	}

	for i, raw := range rawMounts {
		if raw.LocalDir == "" {
			return nil, fmt.Errorf("mounts[%d].local_dir is required", i)
		}
		if raw.RemoteDir == "" {
			return nil, fmt.Errorf("mounts[%d].remote_dir is required", i)
		}

		localDir, err := homedir.Expand(p.expandEnv(raw.LocalDir))
		if err != nil {
			return nil, fmt.Errorf("expanding mounts[%d].local_dir: %w", i, err)
		}

		mount := models.MountConfig{
			LocalDir:  localDir,
			RemoteDir: raw.RemoteDir,
			LocalUser: raw.LocalUser,
			Gateway:   raw.Gateway,
		}
		if mount.LocalUser == "" {
			mount.LocalUser = currentUsername()
		}

		cfg.Mounts = append(cfg.Mounts, mount)
	}

	// Parse timing knobs; zero values mean the service defaults.
	cfg.Timing = models.TimingConfig{
		ConnectionWaitTime: p.v.GetDuration("timing.connection_wait_time"),
		RetryInterval:      p.v.GetDuration("timing.retry_interval"),
		MountMaxRunTime:    p.v.GetDuration("timing.mount_max_run_time"),
	}

	return cfg, nil
}

// expandEnv expands environment variables in the format ${VAR} or $VAR.
func (p *Parser) expandEnv(s string) string {
	return os.ExpandEnv(s)
}

func currentUsername() string {
	u, err := user.Current()
	if err != nil {
		return "root"
	}
	return u.Username
}

// Validate performs validation on the loaded configuration.
func Validate(cfg *models.Config) error {
	if cfg == nil {
		return fmt.Errorf("configuration is nil")
	}

	if cfg.SSH.Host == "" {
		return fmt.Errorf("ssh.host is required")
	}

	if cfg.SSH.Port <= 0 {
		return fmt.Errorf("ssh.port must be positive")
	}

	for i, mount := range cfg.Mounts {
		if mount.LocalDir == "" || mount.RemoteDir == "" {
			return fmt.Errorf("mounts[%d] must set local_dir and remote_dir", i)
		}
	}

	return nil
}
