// Package config loads and validates the meshd configuration file. TOML is
// the primary format, with YAML accepted by file extension. Validation runs
// through a decorating loader so callers can attach their own predicates.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/agentmesh-ai/meshd/internal/flags"
)

// Duration wraps time.Duration so config values can be written as "30s".
type Duration time.Duration

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// ServerConfig names the instance and binds the listener.
type ServerConfig struct {
	Name            string   `toml:"name"             yaml:"name"`
	Version         string   `toml:"version"          yaml:"version"`
	Addr            string   `toml:"addr"             yaml:"addr"`
	ShutdownTimeout Duration `toml:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// AuthConfig configures bearer-token verification. The secret may also be
// supplied via MESHD_AUTH_SECRET, which takes precedence over the file.
type AuthConfig struct {
	Secret   string `toml:"secret"   yaml:"secret"`
	Issuer   string `toml:"issuer"   yaml:"issuer"`
	Audience string `toml:"audience" yaml:"audience"`
}

// RateLimitConfig configures the fixed-window request limiter.
type RateLimitConfig struct {
	Max           int      `toml:"max"            yaml:"max"`
	Window        Duration `toml:"window"         yaml:"window"`
	SweepInterval Duration `toml:"sweep_interval" yaml:"sweep_interval"`
}

// FederationConfig configures the signed-manifest sync pipeline. An empty
// manifest URL disables federation.
type FederationConfig struct {
	ManifestURL  string   `toml:"manifest_url"  yaml:"manifest_url"`
	VerifyKey    string   `toml:"verify_key"    yaml:"verify_key"`
	SyncInterval Duration `toml:"sync_interval" yaml:"sync_interval"`
	SyncTimeout  Duration `toml:"sync_timeout"  yaml:"sync_timeout"`
}

// NotificationsConfig configures the push channel.
type NotificationsConfig struct {
	HeartbeatInterval Duration `toml:"heartbeat_interval" yaml:"heartbeat_interval"`
}

// CORSConfig configures cross-origin access to the HTTP surface.
type CORSConfig struct {
	Enabled          bool     `toml:"enabled"           yaml:"enabled"`
	AllowOrigins     []string `toml:"allow_origins"     yaml:"allow_origins"`
	AllowMethods     []string `toml:"allow_methods"     yaml:"allow_methods"`
	AllowedHeaders   []string `toml:"allowed_headers"   yaml:"allowed_headers"`
	ExposedHeaders   []string `toml:"exposed_headers"   yaml:"exposed_headers"`
	AllowCredentials bool     `toml:"allow_credentials" yaml:"allow_credentials"`
	MaxAge           Duration `toml:"max_age"           yaml:"max_age"`
}

// Config is the root configuration document.
type Config struct {
	Server        ServerConfig        `toml:"server"        yaml:"server"`
	Auth          AuthConfig          `toml:"auth"          yaml:"auth"`
	RateLimit     RateLimitConfig     `toml:"rate_limit"    yaml:"rate_limit"`
	Federation    FederationConfig    `toml:"federation"    yaml:"federation"`
	Notifications NotificationsConfig `toml:"notifications" yaml:"notifications"`
	CORS          CORSConfig          `toml:"cors"          yaml:"cors"`
}

// applyDefaults fills zero values with serviceable defaults.
func (c *Config) applyDefaults() {
	if c.Server.Name == "" {
		c.Server.Name = "meshd"
	}
	if c.Server.Version == "" {
		c.Server.Version = "0.1.0"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = "localhost:8090"
	}
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = Duration(10 * time.Second)
	}
	if c.RateLimit.Max <= 0 {
		c.RateLimit.Max = 100
	}
	if c.RateLimit.Window <= 0 {
		c.RateLimit.Window = Duration(time.Minute)
	}
	if c.RateLimit.SweepInterval <= 0 {
		c.RateLimit.SweepInterval = Duration(5 * time.Minute)
	}
	if c.Federation.SyncInterval <= 0 {
		c.Federation.SyncInterval = Duration(5 * time.Minute)
	}
	if c.Federation.SyncTimeout <= 0 {
		c.Federation.SyncTimeout = Duration(time.Minute)
	}
	if c.Notifications.HeartbeatInterval <= 0 {
		c.Notifications.HeartbeatInterval = Duration(30 * time.Second)
	}
}

// validate enforces the structural invariants every loaded config must meet.
func (c *Config) validate() error {
	if strings.TrimSpace(c.Auth.Secret) == "" {
		return fmt.Errorf("auth.secret is required (or set %s)", flags.EnvVarAuthSecret)
	}
	if c.Federation.ManifestURL != "" && strings.TrimSpace(c.Federation.VerifyKey) == "" {
		return fmt.Errorf("federation.verify_key is required when federation.manifest_url is set")
	}
	return nil
}
