// Package wake sends Wake-on-LAN packets to hosts that must be up before
// their guests can boot. Readiness is not polled here; the SSH probe loop
// owns that.
package wake

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/mdlayher/wol"
	"github.com/rs/zerolog"

	"github.com/skoenig/vmshare/internal/models"
)

// Service defines the interface for Wake-on-LAN operations.
type Service interface {
	Wake(ctx context.Context, cfg models.WakeConfig) (*models.WakeResult, error)
}

// Client wraps the wol library for mocking.
type Client interface {
	Wake(broadcastIP string, mac net.HardwareAddr) error
}

// DefaultClient is the default implementation using mdlayher/wol.
type DefaultClient struct{}

// Wake sends a magic packet to the specified MAC address.
func (c *DefaultClient) Wake(broadcastIP string, mac net.HardwareAddr) error {
	client, err := wol.NewClient()
	if err != nil {
		return fmt.Errorf("creating WOL client: %w", err)
	}
	defer func() { _ = client.Close() }()

	ip := net.ParseIP(broadcastIP)
	if ip == nil {
		return fmt.Errorf("invalid broadcast IP: %s", broadcastIP)
	}

	if err := client.Wake(ip.String()+":9", mac); err != nil {
		return fmt.Errorf("sending WOL packet: %w", err)
	}

	return nil
}

// Impl implements the wake Service interface.
type Impl struct {
	client Client
	logger zerolog.Logger
}

// New creates a new wake service.
func New(logger zerolog.Logger) *Impl {
	return &Impl{client: &DefaultClient{}, logger: logger}
}

// NewWithClient creates a new wake service with a custom client (for
// testing).
func NewWithClient(logger zerolog.Logger, client Client) *Impl {
	return &Impl{client: client, logger: logger}
}

// Wake sends a WOL packet and optionally waits a fixed stabilization period
// before returning, so the target's network stack has a chance to come up
// before probing starts.
func (s *Impl) Wake(ctx context.Context, cfg models.WakeConfig) (*models.WakeResult, error) {
	result := &models.WakeResult{}

	mac, err := net.ParseMAC(cfg.MACAddress)
	if err != nil {
		result.Error = fmt.Errorf("invalid MAC address %q: %w", cfg.MACAddress, err)
		return result, nil
	}

	s.logger.Info().
		Str("mac", cfg.MACAddress).
		Str("broadcast", cfg.BroadcastIP).
		Msg("sending WOL packet")

	if err := s.client.Wake(cfg.BroadcastIP, mac); err != nil {
		result.Error = err
		return result, nil //nolint:nilerr // error is stored in result struct by design
	}
	result.PacketSent = true

	if cfg.StabilizeWait > 0 {
		s.logger.Debug().
			Str("wait", cfg.StabilizeWait.Round(time.Millisecond).String()).
			Msg("waiting for target to stabilize")
		select {
		case <-ctx.Done():
			result.Error = ctx.Err()
			return result, nil
		case <-time.After(cfg.StabilizeWait):
		}
	}

	return result, nil
}
