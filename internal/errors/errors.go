// Package errors defines domain-level errors used throughout the application.
// These errors represent protocol, security and federation failures and are
// mapped to JSON-RPC error codes or HTTP status codes at the relevant boundary.
//
// NOTE: Important for developers
// When adding a new error here, you MUST consider how it should be handled when
// returned from the dispatcher or the management API.
//
// Unmapped errors default to JSON-RPC -32603 (internal error) or HTTP 500.
package errors

import (
	"errors"
)

var (
	// ErrInvalidRequest indicates a malformed JSON-RPC envelope (missing jsonrpc
	// version, id or method, or a version mismatch).
	// Maps to JSON-RPC -32600 Invalid Request with a null id.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrParse indicates an unparsable request body.
	// Maps to JSON-RPC -32700 Parse error.
	ErrParse = errors.New("parse error")

	// ErrMethodNotFound indicates a syntactically valid envelope carrying a
	// method outside the routing table.
	// Maps to JSON-RPC -32603.
	ErrMethodNotFound = errors.New("method not found")

	// ErrValidation indicates params or tool arguments that fail their declared
	// contract. Always returned to the caller, never retried.
	ErrValidation = errors.New("validation failed")

	// ErrToolNotFound indicates that the named tool has no registered handler.
	// This is a tool-layer failure, distinct from a protocol error, so callers
	// can branch on "my tool isn't registered" vs "my call was malformed".
	ErrToolNotFound = errors.New("tool not found")

	// ErrToolExecution indicates that a tool handler ran and failed.
	// Structured and non-fatal to the server.
	ErrToolExecution = errors.New("tool execution failed")

	// ErrResourceNotFound indicates that the requested resource URI is not in
	// the catalog.
	ErrResourceNotFound = errors.New("resource not found")

	// ErrPromptNotFound indicates that the requested prompt template is not in
	// the catalog.
	ErrPromptNotFound = errors.New("prompt not found")

	// ErrDuplicateRegistration indicates a second registration under a name
	// already owned by an in-process caller. Only the execution registry
	// enforces this; the catalog registry overwrites silently.
	ErrDuplicateRegistration = errors.New("duplicate registration")

	// ErrTransportSecurity indicates a transport configuration rejected by the
	// security rules. Fails closed: the transport is never constructed.
	ErrTransportSecurity = errors.New("transport configuration rejected")

	// ErrUnauthorized indicates a missing, malformed or unverifiable bearer
	// token. The request is terminated before dispatch.
	// Maps to HTTP 401 Unauthorized.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrRateLimited indicates the caller exceeded its fixed-window budget.
	// Maps to HTTP 429 Too Many Requests.
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrSignatureVerification indicates a connector manifest whose signature
	// does not verify against the configured key. The manifest is discarded
	// wholesale and the sync cycle aborts with no partial effect.
	ErrSignatureVerification = errors.New("manifest signature verification failed")

	// ErrManifestInvalid indicates a manifest document that fails structural
	// validation before signature checking.
	ErrManifestInvalid = errors.New("manifest document invalid")

	// ErrDelivery indicates a failed notification push. Logged and dropped,
	// never retried; clients compensate with a manual refresh.
	ErrDelivery = errors.New("notification delivery failed")

	// ErrConnectorNotTracked indicates that availability is not being tracked
	// for the named connector.
	// Maps to HTTP 404 Not Found on the management API.
	ErrConnectorNotTracked = errors.New("connector availability is not being tracked")

	// ErrServerClosed indicates a request received after shutdown began.
	// Maps to HTTP 503 Service Unavailable.
	ErrServerClosed = errors.New("server closed")

	// ErrConfigLoadFailed indicates that the configuration file could not be
	// loaded, decoded or validated.
	ErrConfigLoadFailed = errors.New("config load failed")
)
