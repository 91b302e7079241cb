package main

import (
	"context"
	"errors"
	"testing"

	"github.com/fgeck/omnibak-lite/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockSSHService struct {
	pingFunc func(ctx context.Context, cfg models.SSHShutdownConfig) (*models.SSHResult, error)
	pings    int
}

func (m *mockSSHService) PowerOff(context.Context, models.SSHShutdownConfig) (*models.SSHResult, error) {
	return nil, errors.New("validate must never power off the host")
}

func (m *mockSSHService) Ping(ctx context.Context, cfg models.SSHShutdownConfig) (*models.SSHResult, error) {
	m.pings++
	if m.pingFunc != nil {
		return m.pingFunc(ctx, cfg)
	}
	return &models.SSHResult{CommandRun: true, Output: "OK\n"}, nil
}

func testSSHConfig() *models.SSHShutdownConfig {
	return &models.SSHShutdownConfig{Host: "nas.local", Port: 22, Username: "root", KeyPath: "/root/.ssh/id_ed25519"}
}

func TestPingStorageHost(t *testing.T) {
	svc := &mockSSHService{}

	err := pingStorageHost(context.Background(), svc, testSSHConfig())

	require.NoError(t, err)
	assert.Equal(t, 1, svc.pings)
}

func TestPingStorageHost_NotConfigured(t *testing.T) {
	svc := &mockSSHService{}

	err := pingStorageHost(context.Background(), svc, nil)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "ssh_shutdown")
	assert.Zero(t, svc.pings)
}

func TestPingStorageHost_Failures(t *testing.T) {
	tests := []struct {
		name string
		ping func(context.Context, models.SSHShutdownConfig) (*models.SSHResult, error)
	}{
		{
			name: "result error",
			ping: func(context.Context, models.SSHShutdownConfig) (*models.SSHResult, error) {
				return &models.SSHResult{Error: errors.New("connection refused")}, nil
			},
		},
		{
			name: "call error",
			ping: func(context.Context, models.SSHShutdownConfig) (*models.SSHResult, error) {
				return nil, errors.New("connection refused")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := pingStorageHost(context.Background(), &mockSSHService{pingFunc: tt.ping}, testSSHConfig())

			require.Error(t, err)
			assert.Contains(t, err.Error(), "nas.local")
			assert.Contains(t, err.Error(), "connection refused")
		})
	}
}
