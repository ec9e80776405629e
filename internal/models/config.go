// Package models contains the data structures used throughout vmshare.
package models

import "time"

// Config holds the complete configuration for a vmshare run.
type Config struct {
	SSH    SSHConfig
	Wake   *WakeConfig // nil if not configured
	Mounts []MountConfig
	Timing TimingConfig
}

// TimingConfig carries the protocol timing knobs. Zero values mean the
// package defaults apply; tests shorten these for determinism.
type TimingConfig struct {
	ConnectionWaitTime time.Duration // wait bound for a single probe attempt
	RetryInterval      time.Duration // backoff between failed probe attempts
	MountMaxRunTime    time.Duration // wait before forcing mount session teardown
}
