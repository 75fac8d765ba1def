// Package transport defines the closed set of transport configurations and
// the security validation every configuration must pass before a transport
// may be constructed.
package transport

import (
	"time"
)

// Kind discriminates the closed transport variant.
type Kind string

const (
	KindStdio Kind = "stdio"
	KindHTTP  Kind = "http"
	KindSSE   Kind = "sse"
)

// DefaultTimeout applies when a config omits or zeroes its timeout.
const DefaultTimeout = 30 * time.Second

// StdioConfig describes a local subprocess transport.
type StdioConfig struct {
	Command string            `json:"command"                toml:"command"            yaml:"command"`
	Args    []string          `json:"args,omitempty"         toml:"args"               yaml:"args"`
	Env     map[string]string `json:"env,omitempty"          toml:"env"                yaml:"env"`
	Cwd     string            `json:"cwd,omitempty"          toml:"cwd"                yaml:"cwd"`
	Timeout time.Duration     `json:"timeout,omitempty"      toml:"timeout"            yaml:"timeout"`
}

// HTTPConfig describes an outbound HTTP transport.
type HTTPConfig struct {
	URL     string            `json:"url"                    toml:"url"                yaml:"url"`
	Headers map[string]string `json:"headers,omitempty"      toml:"headers"            yaml:"headers"`
	Timeout time.Duration     `json:"timeout,omitempty"      toml:"timeout"            yaml:"timeout"`
}

// SSEConfig describes a long-lived push transport.
type SSEConfig struct {
	URL               string        `json:"url"               toml:"url"                yaml:"url"`
	WriteURL          string        `json:"writeUrl,omitempty" toml:"write_url"         yaml:"write_url"`
	RetryDelay        time.Duration `json:"retryDelay,omitempty" toml:"retry_delay"     yaml:"retry_delay"`
	MaxRetries        int           `json:"maxRetries,omitempty" toml:"max_retries"     yaml:"max_retries"`
	HeartbeatInterval time.Duration `json:"heartbeatInterval,omitempty" toml:"heartbeat_interval" yaml:"heartbeat_interval"`
}

// Config is the closed variant over the supported transports.
// Exactly one member is set, matching Kind.
type Config struct {
	Kind  Kind         `json:"kind"            toml:"kind"  yaml:"kind"`
	Stdio *StdioConfig `json:"stdio,omitempty" toml:"stdio" yaml:"stdio"`
	HTTP  *HTTPConfig  `json:"http,omitempty"  toml:"http"  yaml:"http"`
	SSE   *SSEConfig   `json:"sse,omitempty"   toml:"sse"   yaml:"sse"`
}

// Sanitized is a transport configuration that has passed validation.
// Only Validate constructs usable values; transport constructors must reject
// the zero value, so an unvalidated config can never reach one.
type Sanitized struct {
	kind  Kind
	stdio StdioConfig
	http  HTTPConfig
	sse   SSEConfig
	valid bool
}

// Valid reports whether this value was produced by Validate.
func (s Sanitized) Valid() bool { return s.valid }

// Kind returns the variant of the sanitized config.
func (s Sanitized) Kind() Kind { return s.kind }

// Stdio returns the sanitized stdio config; the boolean reports whether this
// is a stdio variant.
func (s Sanitized) Stdio() (StdioConfig, bool) {
	return s.stdio, s.valid && s.kind == KindStdio
}

// HTTP returns the sanitized http config; the boolean reports whether this is
// an http variant.
func (s Sanitized) HTTP() (HTTPConfig, bool) {
	return s.http, s.valid && s.kind == KindHTTP
}

// SSE returns the sanitized sse config; the boolean reports whether this is
// an sse variant.
func (s Sanitized) SSE() (SSEConfig, bool) {
	return s.sse, s.valid && s.kind == KindSSE
}
