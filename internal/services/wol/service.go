// Package wol wakes the storage host before an upload and waits until its
// WebDAV endpoint answers.
package wol

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/fgeck/omnibak-lite/internal/models"
	"github.com/mdlayher/wol"
	"github.com/rs/zerolog"
)

// magicPacketPort is the discard port magic packets are broadcast to.
const magicPacketPort = "9"

// Service defines the interface for Wake-on-LAN operations.
type Service interface {
	Wake(ctx context.Context, cfg models.WOLConfig) (*models.WOLResult, error)
}

// Sender broadcasts magic packets.
type Sender interface {
	Wake(broadcastIP string, mac net.HardwareAddr) error
}

// HTTPClient allows mocking HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// UDPSender sends magic packets over UDP using mdlayher/wol.
type UDPSender struct{}

// Wake sends a magic packet for mac to broadcastIP.
func (UDPSender) Wake(broadcastIP string, mac net.HardwareAddr) error {
	ip := net.ParseIP(broadcastIP)
	if ip == nil {
		return fmt.Errorf("invalid broadcast IP: %s", broadcastIP)
	}

	client, err := wol.NewClient()
	if err != nil {
		return fmt.Errorf("failed to create WOL client: %w", err)
	}
	defer func() { _ = client.Close() }()

	if err := client.Wake(net.JoinHostPort(ip.String(), magicPacketPort), mac); err != nil {
		return fmt.Errorf("failed to send WOL packet: %w", err)
	}
	return nil
}

// Impl implements the WOL Service interface.
type Impl struct {
	sender     Sender
	httpClient HTTPClient
	logger     zerolog.Logger
}

// New creates a new WOL service.
func New(logger zerolog.Logger) *Impl {
	return &Impl{
		sender: UDPSender{},
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
		logger: logger,
	}
}

// NewWithClients creates a new WOL service with custom clients (for testing).
func NewWithClients(logger zerolog.Logger, sender Sender, httpClient HTTPClient) *Impl {
	return &Impl{
		sender:     sender,
		httpClient: httpClient,
		logger:     logger,
	}
}

// Wake sends a magic packet and, when a poll URL is set, waits until the
// storage host answers HTTP and has had StabilizeWait to settle.
func (s *Impl) Wake(ctx context.Context, cfg models.WOLConfig) (*models.WOLResult, error) {
	result := &models.WOLResult{}
	start := time.Now()
	defer func() { result.WaitDuration = time.Since(start) }()

	mac, err := net.ParseMAC(cfg.MACAddress)
	if err != nil {
		result.Error = fmt.Errorf("invalid MAC address %q: %w", cfg.MACAddress, err)
		return result, nil
	}

	s.logger.Info().
		Str("mac", cfg.MACAddress).
		Str("broadcast", cfg.BroadcastIP).
		Msg("waking storage host")

	if err := s.sender.Wake(cfg.BroadcastIP, mac); err != nil {
		result.Error = err
		return result, nil //nolint:nilerr // error is stored in result struct by design
	}
	result.PacketSent = true

	if cfg.PollURL == "" {
		result.TargetReady = true
		return result, nil
	}

	s.logger.Info().
		Str("url", cfg.PollURL).
		Dur("timeout", cfg.Timeout).
		Msg("waiting for storage host to answer")

	polls, err := s.waitForTarget(ctx, cfg)
	result.Polls = polls
	if err != nil {
		result.Error = err
		return result, nil //nolint:nilerr // error is stored in result struct by design
	}

	if cfg.StabilizeWait > 0 {
		s.logger.Debug().Dur("wait", cfg.StabilizeWait).Msg("waiting for storage host to settle")
		select {
		case <-ctx.Done():
			result.Error = ctx.Err()
			return result, nil
		case <-time.After(cfg.StabilizeWait):
		}
	}

	result.TargetReady = true
	s.logger.Info().Int("polls", polls).Dur("duration", time.Since(start)).Msg("storage host is ready")
	return result, nil
}

// waitForTarget polls cfg.PollURL every PollInterval until any HTTP
// response arrives or Timeout passes. It returns the number of polls made.
func (s *Impl) waitForTarget(ctx context.Context, cfg models.WOLConfig) (int, error) {
	pollCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	polls := 0
	poll := func() error {
		polls++
		// OPTIONS needs no credentials on WebDAV servers.
		req, err := http.NewRequestWithContext(pollCtx, http.MethodOptions, cfg.PollURL, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
		}
		resp, err := s.httpClient.Do(req)
		if err != nil {
			return err
		}
		_ = resp.Body.Close()
		return nil
	}
	notify := func(err error, next time.Duration) {
		s.logger.Debug().Err(err).Dur("next", next).Msg("storage host not ready yet")
	}

	policy := backoff.WithContext(backoff.NewConstantBackOff(cfg.PollInterval), pollCtx)
	err := backoff.RetryNotify(poll, policy, notify)
	if err != nil && ctx.Err() == nil && errors.Is(pollCtx.Err(), context.DeadlineExceeded) {
		return polls, fmt.Errorf("timeout waiting for storage host at %s after %d polls", cfg.PollURL, polls)
	}
	return polls, err
}
