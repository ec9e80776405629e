package models

import "time"

// SSHConfig describes how to reach the guest's SSH service. The ssh binary
// is driven as a black box; only its exit codes and streams are interpreted.
type SSHConfig struct {
	Host      string
	Port      int           // defaults to 22
	User      string        // optional; empty means the client's default
	SSHBin    string        // path to the ssh client binary, defaults to "ssh"
	ExtraArgs []string      // extra flags passed through verbatim
	KeyPaths  []string      // private key files, re-staged before each session build
	Command   string        // remote command; empty means an interactive shell
	Timeout   time.Duration // overall deadline for establishing a connection
}
