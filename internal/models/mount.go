package models

import "time"

// MountConfig describes one host directory to expose inside the guest.
type MountConfig struct {
	LocalDir  string // host-side directory to share
	RemoteDir string // guest-side mount point
	LocalUser string // host-side user sshfs authenticates as
	Gateway   string // host address from the guest's perspective, defaults to 10.0.2.2
}

// MountResult holds the outcome of a mount operation.
type MountResult struct {
	Completed      bool
	ForcedTeardown bool // transport was severed after the run-time bound
	Output         string
	Stderr         string
	Duration       time.Duration
	Error          error
}
