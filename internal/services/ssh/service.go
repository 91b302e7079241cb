// Package ssh powers off the storage host over SSH once a run is done.
package ssh

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/fgeck/omnibak-lite/internal/models"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// dialTimeout bounds the TCP connect and SSH handshake.
const dialTimeout = 30 * time.Second

// Service defines the interface for SSH operations.
type Service interface {
	PowerOff(ctx context.Context, cfg models.SSHShutdownConfig) (*models.SSHResult, error)
	Ping(ctx context.Context, cfg models.SSHShutdownConfig) (*models.SSHResult, error)
}

// SSHClient wraps ssh.Client for mocking.
type SSHClient interface {
	NewSession() (SSHSession, error)
	Close() error
}

// SSHSession wraps ssh.Session for mocking.
type SSHSession interface {
	CombinedOutput(cmd string) ([]byte, error)
	Close() error
}

// ClientFactory creates SSH clients.
type ClientFactory interface {
	NewClient(network, addr string, config *ssh.ClientConfig) (SSHClient, error)
}

// DialFactory dials real SSH connections.
type DialFactory struct{}

// NewClient dials addr and completes the SSH handshake.
func (DialFactory) NewClient(network, addr string, config *ssh.ClientConfig) (SSHClient, error) {
	client, err := ssh.Dial(network, addr, config)
	if err != nil {
		return nil, err
	}
	return &dialedClient{client: client}, nil
}

type dialedClient struct {
	client *ssh.Client
}

func (c *dialedClient) NewSession() (SSHSession, error) {
	session, err := c.client.NewSession()
	if err != nil {
		return nil, err
	}
	return session, nil
}

func (c *dialedClient) Close() error {
	return c.client.Close()
}

// Impl implements the SSH Service interface.
type Impl struct {
	clientFactory ClientFactory
	logger        zerolog.Logger
}

// New creates a new SSH service.
func New(logger zerolog.Logger) *Impl {
	return &Impl{
		clientFactory: DialFactory{},
		logger:        logger,
	}
}

// NewWithClientFactory creates a new SSH service with a custom client factory (for testing).
func NewWithClientFactory(logger zerolog.Logger, factory ClientFactory) *Impl {
	return &Impl{
		clientFactory: factory,
		logger:        logger,
	}
}

// ShutdownCommand returns the remote command that powers the host off after
// cfg.ShutdownDelay minutes.
func ShutdownCommand(cfg models.SSHShutdownConfig) string {
	if cfg.OS == "windows" {
		seconds := cfg.ShutdownDelay * 60
		if seconds == 0 {
			// Gives an operator a minute to abort with shutdown /a.
			seconds = 60
		}
		return fmt.Sprintf("shutdown /s /t %d", seconds)
	}
	if cfg.ShutdownDelay == 0 {
		return "sudo shutdown -h now"
	}
	return fmt.Sprintf("sudo shutdown -h +%d", cfg.ShutdownDelay)
}

func clientConfig(cfg models.SSHShutdownConfig) (*ssh.ClientConfig, error) {
	key := cfg.PrivateKey
	if len(key) == 0 {
		if cfg.KeyPath == "" {
			return nil, fmt.Errorf("no private key provided")
		}
		var err error
		key, err = os.ReadFile(cfg.KeyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read private key from %s: %w", cfg.KeyPath, err)
		}
	}

	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	hostKeyCallback := ssh.InsecureIgnoreHostKey() //nolint:gosec // homelab default, set known_hosts to verify
	if cfg.KnownHosts != "" {
		hostKeyCallback, err = knownhosts.New(cfg.KnownHosts)
		if err != nil {
			return nil, fmt.Errorf("failed to load known hosts from %s: %w", cfg.KnownHosts, err)
		}
	}

	return &ssh.ClientConfig{
		User:            cfg.Username,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: hostKeyCallback,
		Timeout:         dialTimeout,
	}, nil
}

// exec connects, runs one command and returns its combined output. The
// returned bool reports whether the command was started.
func (s *Impl) exec(ctx context.Context, cfg models.SSHShutdownConfig, cmd string) (string, bool, error) {
	sshConfig, err := clientConfig(cfg)
	if err != nil {
		return "", false, err
	}

	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))

	type dialResult struct {
		client SSHClient
		err    error
	}
	dialed := make(chan dialResult, 1)
	go func() {
		client, err := s.clientFactory.NewClient("tcp", addr, sshConfig)
		dialed <- dialResult{client, err}
	}()

	var client SSHClient
	select {
	case <-ctx.Done():
		return "", false, ctx.Err()
	case res := <-dialed:
		if res.err != nil {
			return "", false, fmt.Errorf("failed to connect to %s: %w", addr, res.err)
		}
		client = res.client
	}
	defer func() { _ = client.Close() }()

	session, err := client.NewSession()
	if err != nil {
		return "", false, fmt.Errorf("failed to create session: %w", err)
	}
	defer func() { _ = session.Close() }()

	s.logger.Debug().Str("host", cfg.Host).Str("command", cmd).Msg("running remote command")
	output, err := session.CombinedOutput(cmd)
	return string(output), true, err
}

// PowerOff schedules a shutdown of the storage host.
func (s *Impl) PowerOff(ctx context.Context, cfg models.SSHShutdownConfig) (*models.SSHResult, error) {
	s.logger.Info().
		Str("host", cfg.Host).
		Int("port", cfg.Port).
		Str("user", cfg.Username).
		Int("delay_minutes", cfg.ShutdownDelay).
		Msg("powering off storage host")

	output, started, err := s.exec(ctx, cfg, ShutdownCommand(cfg))
	result := &models.SSHResult{Output: output, CommandRun: started}

	switch {
	case !started:
		result.Error = err
	case err != nil && ctx.Err() != nil:
		result.Error = ctx.Err()
	case err != nil:
		// The host may drop the connection while going down.
		s.logger.Warn().Err(err).Str("output", output).Msg("shutdown command returned an error, the host may still be going down")
	}

	if result.Error == nil {
		s.logger.Info().Str("output", output).Msg("shutdown scheduled")
	}
	return result, nil
}

// Ping checks SSH connectivity and authentication without side effects.
func (s *Impl) Ping(ctx context.Context, cfg models.SSHShutdownConfig) (*models.SSHResult, error) {
	s.logger.Debug().Str("host", cfg.Host).Int("port", cfg.Port).Msg("checking SSH connection")

	output, started, err := s.exec(ctx, cfg, "echo OK")
	result := &models.SSHResult{Output: output, CommandRun: started}
	if err != nil {
		if started {
			err = fmt.Errorf("test command failed: %w", err)
		}
		result.Error = err
	}
	return result, nil
}
