package config

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	require.NoError(t, err)
	assert.Equal(t, Default().Server, cfg.Server)
	assert.Equal(t, 60, cfg.Auth.TokenExpiryMinutes)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeFile(t, `{
		"server": {"port_client": 8000, "max_connections": 20},
		"auth": {"token_expiry_minutes": 15, "email_required": true}
	}`)
	t.Setenv("PORT_CLIENT", "9000")
	t.Setenv("EMAIL_REQUIRED", "off")
	t.Setenv("JWT_SECRET", "  s3cret ")
	t.Setenv("MAX_CONNECTIONS", "not-a-number")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Server.PortClient)
	assert.Equal(t, 20, cfg.Server.MaxConnections)
	assert.Equal(t, 15, cfg.Auth.TokenExpiryMinutes)
	assert.False(t, cfg.Auth.EmailRequired)
	assert.Equal(t, "s3cret", cfg.JWTSecret)
}

func TestLoad_Rejects(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "malformed", body: `{"server":`},
		{name: "same ports", body: `{"server": {"port_client": 7000, "port_admin": 7000}}`},
		{name: "zero capacity", body: `{"security": {"rate_limit_capacity": -1}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeFile(t, tt.body))
			require.Error(t, err)
		})
	}
}

func TestEnvBoolOrDefault(t *testing.T) {
	tests := []struct {
		value string
		want  bool
	}{
		{"1", true}, {"YES", true}, {"on", true},
		{"0", false}, {"no", false},
		{"maybe", true}, {"", true},
	}
	for _, tt := range tests {
		t.Setenv("FLAG_UNDER_TEST", tt.value)
		assert.Equal(t, tt.want, EnvBoolOrDefault("FLAG_UNDER_TEST", true), tt.value)
	}
}

func TestStore_SwapPinsListenersAndSecret(t *testing.T) {
	initial := Default()
	initial.JWTSecret = "original"
	initial.Database.URL = "postgres://a"
	s := NewStore(initial)

	next := Default()
	next.Server.PortClient = 4000
	next.Server.Bind = "127.0.0.1"
	next.Server.MaxConnections = 7
	next.JWTSecret = "rotated"
	next.Database.URL = "postgres://b"

	snap, err := s.Swap(next)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), snap.Version)
	assert.Equal(t, 1337, snap.Config.Server.PortClient)
	assert.Equal(t, "0.0.0.0", snap.Config.Server.Bind)
	assert.Equal(t, "original", snap.Config.JWTSecret)
	assert.Equal(t, "postgres://a", snap.Config.Database.URL)
	assert.Equal(t, 7, snap.Config.Server.MaxConnections)
}

func TestStore_SwapKeepsCurrentOnInvalid(t *testing.T) {
	s := NewStore(Default())
	bad := Default()
	bad.Auth.TokenExpiryMinutes = 0

	snap, err := s.Swap(bad)
	require.Error(t, err)
	assert.Equal(t, uint64(1), snap.Version)
	assert.Equal(t, 60, s.Current().Config.Auth.TokenExpiryMinutes)
}

func TestStore_ConcurrentReaders(t *testing.T) {
	s := NewStore(Default())
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = s.Swap(Default())
		}()
		go func() {
			defer wg.Done()
			snap := s.Current()
			assert.Positive(t, snap.Config.Server.MaxConnections)
		}()
	}
	wg.Wait()
	assert.Equal(t, uint64(9), s.Current().Version)
}
