// Package sshcmd builds invocations of the OpenSSH client binary.
package sshcmd

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/skoenig/vmshare/internal/models"
)

// DefaultConnectionWaitTime bounds a single probe attempt. The ConnectTimeout
// option in the argv is always set strictly below it, so a hanging attempt is
// resolved by ssh itself, never by the local wait.
const DefaultConnectionWaitTime = 3 * time.Second

// Builder produces ssh argument vectors from a connection spec.
type Builder struct {
	// ConnectionWaitTime is the probe's per-attempt wait bound; the argv's
	// ConnectTimeout option is derived from it.
	ConnectionWaitTime time.Duration
	// StageDir is where identity material is staged. Empty means the
	// system temp directory.
	StageDir string
}

// New creates a builder with the default wait bound.
func New() *Builder {
	return &Builder{ConnectionWaitTime: DefaultConnectionWaitTime}
}

// Command returns the full argv to invoke the ssh binary for cfg, optionally
// running remoteCmd on the far side. Identity material is re-staged on every
// call; the staged file paths are the only part of the result that differs
// between two builds of the same spec.
func (b *Builder) Command(cfg models.SSHConfig, remoteCmd string) ([]string, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("host must not be empty")
	}

	port := cfg.Port
	if port == 0 {
		port = 22
	}
	if port < 0 {
		return nil, fmt.Errorf("invalid port %d", port)
	}

	bin := cfg.SSHBin
	if bin == "" {
		bin = "ssh"
	}

	args := []string{bin}
	args = append(args, cfg.ExtraArgs...)
	args = append(args, b.defaultArgs()...)
	args = append(args, "-p", strconv.Itoa(port))

	staged, err := b.stageKeys(cfg.KeyPaths)
	if err != nil {
		return nil, err
	}
	for _, key := range staged {
		args = append(args, "-i", key)
	}

	target := cfg.Host
	if cfg.User != "" {
		target = cfg.User + "@" + cfg.Host
	}
	args = append(args, target)

	if remoteCmd != "" {
		args = append(args, remoteCmd)
	}

	return args, nil
}

// defaultArgs disables host-key verification and interactive prompts, which
// have no place against a freshly booted guest with a generated host key.
func (b *Builder) defaultArgs() []string {
	wait := b.ConnectionWaitTime
	if wait <= 0 {
		wait = DefaultConnectionWaitTime
	}
	connectTimeout := int(wait/time.Second) - 1
	if connectTimeout < 1 {
		connectTimeout = 1
	}

	return []string{
		"-o", "StrictHostKeyChecking=no",
		"-o", "UserKnownHostsFile=/dev/null",
		"-o", "BatchMode=yes",
		"-o", fmt.Sprintf("ConnectTimeout=%d", connectTimeout),
	}
}

// stageKeys copies each private key to a fresh transient file, so the
// originals never leave the caller's control and the permissions are known
// good for ssh.
func (b *Builder) stageKeys(paths []string) ([]string, error) {
	staged := make([]string, 0, len(paths))
	for _, path := range paths {
		material, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading identity file: %w", err)
		}

		f, err := os.CreateTemp(b.StageDir, "vmshare-key-*")
		if err != nil {
			return nil, fmt.Errorf("staging identity file: %w", err)
		}
		if _, err := f.Write(material); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("staging identity file: %w", err)
		}
		if err := f.Chmod(0o600); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("staging identity file: %w", err)
		}
		if err := f.Close(); err != nil {
			return nil, fmt.Errorf("staging identity file: %w", err)
		}
		staged = append(staged, f.Name())
	}
	return staged, nil
}

// ValidateKeys parses every configured private key and reports the first one
// ssh would reject.
func ValidateKeys(paths []string) error {
	for _, path := range paths {
		material, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading identity file %s: %w", path, err)
		}
		if _, err := ssh.ParsePrivateKey(material); err != nil {
			return fmt.Errorf("parsing identity file %s: %w", path, err)
		}
	}
	return nil
}
