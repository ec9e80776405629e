package models

import "time"

// WakeConfig holds Wake-on-LAN configuration for hosts that must be woken
// before their guests can boot.
type WakeConfig struct {
	MACAddress    string
	BroadcastIP   string
	StabilizeWait time.Duration // wait after the packet before probing SSH
}

// WakeResult holds the result of a Wake-on-LAN operation.
type WakeResult struct {
	PacketSent bool
	Error      error
}
