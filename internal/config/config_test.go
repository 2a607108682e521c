package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BrandonDHaskell/Portunus/acsbridge/internal/isapi"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "acsbridge.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	return path
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("ACSBRIDGE_CONFIG", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, ":9090", cfg.GRPCAddr)
	assert.Equal(t, "dev", cfg.Env)
	assert.Equal(t, time.Minute, cfg.Sync.Interval)
	assert.Equal(t, 24*time.Hour, cfg.Sync.Lookback)
	assert.Equal(t, isapi.DefaultPageSize, cfg.Sync.PageSize)
	assert.Equal(t, isapi.DefaultTimeout, cfg.DeviceTimeout)
	assert.Equal(t, isapi.ResetAfterResponseIsHealthy, cfg.ResetPolicy())
	assert.Equal(t, isapi.ModeFingerprint, cfg.SyncMode())
	assert.Empty(t, cfg.Devices)
}

func TestLoad_FileAndEnvOverride(t *testing.T) {
	path := writeConfig(t, `
http_addr: ":7000"
env: PROD
sync:
  interval: 15s
  mode: all
health:
  reset_policy: strict
device_timeout: 4s
devices:
  - id: lobby
    name: Lobby Door
    host: 192.168.1.64
    port: 80
    username: admin
    password: secret
    timezone: Asia/Manila
  - id: dock
    scheme: HTTPS
    host: 10.0.0.9
    timeout: 2s
    insecure_skip_verify: true
`)
	t.Setenv("ACSBRIDGE_CONFIG", path)
	t.Setenv("ACSBRIDGE_HTTP_ADDR", ":7100")
	t.Setenv("ACSBRIDGE_SYNC_MAX_PAGES", "3")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":7100", cfg.HTTPAddr, "env wins over file")
	assert.Equal(t, "prod", cfg.Env)
	assert.Equal(t, 15*time.Second, cfg.Sync.Interval)
	assert.Equal(t, 3, cfg.Sync.MaxPages)
	assert.Equal(t, isapi.ModeAll, cfg.SyncMode())
	assert.Equal(t, isapi.ResetIsFailure, cfg.ResetPolicy())

	require.Len(t, cfg.Devices, 2)

	lobby := cfg.Devices[0]
	assert.Equal(t, "Lobby Door", lobby.DisplayName())
	assert.Equal(t, "http", lobby.Scheme)
	assert.Equal(t, 4*time.Second, lobby.Timeout, "inherits device_timeout")

	dev := lobby.ISAPIDevice()
	assert.Equal(t, "http://192.168.1.64:80", dev.BaseURL())
	require.NotNil(t, dev.Location)
	assert.Equal(t, "Asia/Manila", dev.Location.String())

	dock := cfg.Devices[1]
	assert.Equal(t, "dock", dock.DisplayName())
	assert.Equal(t, "https", dock.Scheme)
	assert.Equal(t, 2*time.Second, dock.Timeout)
	assert.True(t, dock.ISAPIDevice().InsecureSkipVerify)
}

func TestLoad_UnknownEnvFallsBackToDev(t *testing.T) {
	t.Setenv("ACSBRIDGE_CONFIG", "")
	t.Setenv("ACSBRIDGE_ENV", "staging")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "dev", cfg.Env)
}

func TestLoad_InvalidDevices(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"missing id", "devices:\n  - host: 10.0.0.1\n"},
		{"missing host", "devices:\n  - id: a\n"},
		{"duplicate id", "devices:\n  - id: a\n    host: 10.0.0.1\n  - id: a\n    host: 10.0.0.2\n"},
		{"bad scheme", "devices:\n  - id: a\n    host: 10.0.0.1\n    scheme: ftp\n"},
		{"bad port", "devices:\n  - id: a\n    host: 10.0.0.1\n    port: 70000\n"},
		{"bad timezone", "devices:\n  - id: a\n    host: 10.0.0.1\n    timezone: Mars/Olympus\n"},
		{"bad reset policy", "health:\n  reset_policy: stirct\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("ACSBRIDGE_CONFIG", writeConfig(t, tt.body))

			_, err := Load()
			require.Error(t, err)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Setenv("ACSBRIDGE_CONFIG", filepath.Join(t.TempDir(), "nope.yaml"))

	_, err := Load()
	require.Error(t, err)
}
