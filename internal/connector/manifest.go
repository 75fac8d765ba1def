// Package connector implements the federation trust pipeline: signed manifest
// fetch and verification, per-connector proxy connections, and republication
// of remote tools into the versioned registry.
package connector

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/xeipuuv/gojsonschema"

	meshderrors "github.com/agentmesh-ai/meshd/internal/errors"
	"github.com/agentmesh-ai/meshd/internal/transport"
)

const (
	// StatusEnabled marks a connector entry eligible for sync.
	StatusEnabled = "enabled"
	// StatusDisabled marks a connector entry that is skipped during sync.
	StatusDisabled = "disabled"
)

// Entry describes one connector within a manifest.
type Entry struct {
	ID       string           `json:"id"`
	Version  string           `json:"version"`
	Name     string           `json:"name,omitempty"`
	Endpoint transport.Config `json:"endpoint"`
	Auth     string           `json:"auth,omitempty"`
	Scopes   []string         `json:"scopes,omitempty"`
	Status   string           `json:"status"`
	TTL      int64            `json:"ttl,omitempty"`
}

// Expired reports whether the entry's own TTL has elapsed relative to the
// manifest's generation time. A non-positive TTL never expires.
func (e Entry) Expired(generatedAt, now time.Time) bool {
	if e.TTL <= 0 {
		return false
	}
	return now.After(generatedAt.Add(time.Duration(e.TTL) * time.Second))
}

// Manifest is the signed descriptor listing available connectors. It is
// trusted only after Verify succeeds; a manifest that fails verification is
// discarded entirely.
type Manifest struct {
	ID          string    `json:"id"`
	GeneratedAt time.Time `json:"generatedAt"`
	TTLSeconds  int64     `json:"ttlSeconds"`
	Connectors  []Entry   `json:"connectors"`
	Signature   string    `json:"signature"`
}

// TTL returns the manifest-level cache lifetime.
func (m Manifest) TTL() time.Duration {
	return time.Duration(m.TTLSeconds) * time.Second
}

// manifestSchema is the structural contract a manifest document must meet
// before its signature is even considered.
const manifestSchema = `{
	"type": "object",
	"required": ["id", "generatedAt", "ttlSeconds", "connectors", "signature"],
	"properties": {
		"id": {"type": "string", "minLength": 1},
		"generatedAt": {"type": "string"},
		"ttlSeconds": {"type": "integer"},
		"signature": {"type": "string", "minLength": 1},
		"connectors": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["id", "version", "endpoint", "status"],
				"properties": {
					"id": {"type": "string", "minLength": 1},
					"version": {"type": "string", "minLength": 1},
					"name": {"type": "string"},
					"endpoint": {"type": "object"},
					"auth": {"type": "string"},
					"scopes": {"type": "array", "items": {"type": "string"}},
					"status": {"type": "string", "enum": ["enabled", "disabled"]},
					"ttl": {"type": "integer"}
				}
			}
		}
	}
}`

var compiledManifestSchema = gojsonschema.NewStringLoader(manifestSchema)

// ParseManifest validates the raw document against the manifest schema and
// decodes it. Structural failures map to ErrManifestInvalid.
func ParseManifest(raw []byte) (Manifest, error) {
	result, err := gojsonschema.Validate(compiledManifestSchema, gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return Manifest{}, fmt.Errorf("%w: %w", meshderrors.ErrManifestInvalid, err)
	}
	if !result.Valid() {
		details := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			details = append(details, e.String())
		}
		return Manifest{}, fmt.Errorf("%w: %s", meshderrors.ErrManifestInvalid, strings.Join(details, "; "))
	}

	var m Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return Manifest{}, fmt.Errorf("%w: %w", meshderrors.ErrManifestInvalid, err)
	}

	return m, nil
}

// canonicalPayload is the byte sequence the signature covers: the manifest
// serialized with its signature field cleared.
func canonicalPayload(m Manifest) ([]byte, error) {
	m.Signature = ""
	payload, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal manifest payload: %w", err)
	}
	return payload, nil
}

// Sign computes the hex-encoded HMAC-SHA256 signature for the manifest.
// Used by tests and by publishers minting manifests.
func Sign(m Manifest, key []byte) (string, error) {
	if len(key) == 0 {
		return "", fmt.Errorf("signing key cannot be empty")
	}

	payload, err := canonicalPayload(m)
	if err != nil {
		return "", err
	}

	mac := hmac.New(sha256.New, key)
	mac.Write(payload)

	return hex.EncodeToString(mac.Sum(nil)), nil
}

// Verify checks the manifest's signature against the configured key using a
// constant-time comparison. Any failure maps to ErrSignatureVerification.
func Verify(m Manifest, key []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("%w: verification key cannot be empty", meshderrors.ErrSignatureVerification)
	}
	if m.Signature == "" {
		return fmt.Errorf("%w: manifest is unsigned", meshderrors.ErrSignatureVerification)
	}

	received, err := hex.DecodeString(m.Signature)
	if err != nil {
		return fmt.Errorf("%w: malformed signature encoding: %w", meshderrors.ErrSignatureVerification, err)
	}

	expected, err := Sign(m, key)
	if err != nil {
		return fmt.Errorf("%w: %w", meshderrors.ErrSignatureVerification, err)
	}
	expectedBytes, _ := hex.DecodeString(expected)

	if !hmac.Equal(received, expectedBytes) {
		return fmt.Errorf("%w: signature mismatch", meshderrors.ErrSignatureVerification)
	}

	return nil
}
