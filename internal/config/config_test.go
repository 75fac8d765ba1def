package config

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/agentmesh-ai/meshd/internal/errors"
	"github.com/agentmesh-ai/meshd/internal/flags"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

const validTOML = `
[server]
name = "meshd-test"
addr = "localhost:9000"
shutdown_timeout = "5s"

[auth]
secret = "0123456789abcdef0123456789abcdef"
issuer = "meshd-test"
audience = "meshd-clients"

[rate_limit]
max = 5
window = "1m"

[federation]
manifest_url = "https://registry.example.com/manifest.json"
verify_key = "manifest-key"
sync_interval = "30s"
`

func TestDefaultLoader_LoadTOML(t *testing.T) {
	path := writeConfig(t, "meshd.toml", validTOML)

	cfg, err := NewDefaultLoader().Load(path)
	require.NoError(t, err)

	require.Equal(t, "meshd-test", cfg.Server.Name)
	require.Equal(t, "localhost:9000", cfg.Server.Addr)
	require.Equal(t, 5*time.Second, time.Duration(cfg.Server.ShutdownTimeout))
	require.Equal(t, 5, cfg.RateLimit.Max)
	require.Equal(t, time.Minute, time.Duration(cfg.RateLimit.Window))
	require.Equal(t, 30*time.Second, time.Duration(cfg.Federation.SyncInterval))

	// Defaults fill unset values.
	require.Equal(t, "0.1.0", cfg.Server.Version)
	require.Equal(t, 5*time.Minute, time.Duration(cfg.RateLimit.SweepInterval))
	require.Equal(t, 30*time.Second, time.Duration(cfg.Notifications.HeartbeatInterval))
}

func TestDefaultLoader_LoadYAML(t *testing.T) {
	path := writeConfig(t, "meshd.yaml", `
server:
  name: meshd-yaml
auth:
  secret: 0123456789abcdef0123456789abcdef
rate_limit:
  max: 10
  window: 30s
`)

	cfg, err := NewDefaultLoader().Load(path)
	require.NoError(t, err)
	require.Equal(t, "meshd-yaml", cfg.Server.Name)
	require.Equal(t, 10, cfg.RateLimit.Max)
	require.Equal(t, 30*time.Second, time.Duration(cfg.RateLimit.Window))
}

func TestDefaultLoader_Failures(t *testing.T) {
	tests := []struct {
		name string
		path func(t *testing.T) string
	}{
		{
			name: "empty path",
			path: func(*testing.T) string { return "" },
		},
		{
			name: "missing file",
			path: func(t *testing.T) string {
				t.Helper()
				return filepath.Join(t.TempDir(), "absent.toml")
			},
		},
		{
			name: "malformed toml",
			path: func(t *testing.T) string {
				t.Helper()
				return writeConfig(t, "bad.toml", `[server`)
			},
		},
		{
			name: "missing auth secret",
			path: func(t *testing.T) string {
				t.Helper()
				return writeConfig(t, "nosecret.toml", `[server]`+"\n"+`name = "x"`)
			},
		},
		{
			name: "federation without verify key",
			path: func(t *testing.T) string {
				t.Helper()
				return writeConfig(t, "nokey.toml", `
[auth]
secret = "s3cret"

[federation]
manifest_url = "https://registry.example.com/manifest.json"
`)
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewDefaultLoader().Load(tc.path(t))
			require.ErrorIs(t, err, errors.ErrConfigLoadFailed)
		})
	}
}

func TestDefaultLoader_AuthSecretEnvOverride(t *testing.T) {
	t.Setenv(flags.EnvVarAuthSecret, "env-secret")

	path := writeConfig(t, "meshd.toml", `
[auth]
secret = "file-secret"
`)

	cfg, err := NewDefaultLoader().Load(path)
	require.NoError(t, err)
	require.Equal(t, "env-secret", cfg.Auth.Secret)
}

func TestValidatingLoader(t *testing.T) {
	path := writeConfig(t, "meshd.toml", validTOML)

	okCalled := false
	ok := func(cfg *Config) error {
		okCalled = true
		require.Equal(t, "meshd-test", cfg.Server.Name)
		return nil
	}

	loader := NewValidatingLoader(NewDefaultLoader(), ok)
	_, err := loader.Load(path)
	require.NoError(t, err)
	require.True(t, okCalled)

	failing := NewValidatingLoader(NewDefaultLoader(), ok, func(*Config) error {
		return fmt.Errorf("predicate rejected")
	})
	_, err = failing.Load(path)
	require.ErrorContains(t, err, "predicate rejected")
}
