// Package api exposes the management REST surface under /api/v1: connector
// health, the federated tool catalog, and the forced-sync operation clients
// use to refresh state after missed notifications.
package api

import (
	stdErrors "errors"

	"github.com/danielgtaylor/huma/v2"
	"github.com/hashicorp/go-hclog"

	"github.com/agentmesh-ai/meshd/internal/errors"
)

// mapError maps domain errors to HTTP status codes.
//
// Mapping guidelines:
//   - 400: client errors (bad input, invalid requests)
//   - 404: unknown connector or resource
//   - 502: upstream connector or manifest failures
//   - 500: unexpected internal errors (default case)
//
// Keep this in sync with internal/errors/errors.go: an error without an
// explicit case falls through to 500.
func mapError(logger hclog.Logger, err error) huma.StatusError {
	switch {
	case stdErrors.Is(err, errors.ErrConnectorNotTracked):
		return huma.Error404NotFound(err.Error())
	case stdErrors.Is(err, errors.ErrManifestInvalid):
		logger.Error("Manifest rejected", "error", err)
		return huma.Error502BadGateway("connector manifest is invalid", err)
	case stdErrors.Is(err, errors.ErrSignatureVerification):
		logger.Error("Manifest signature rejected", "error", err)
		return huma.Error502BadGateway("connector manifest failed verification", err)
	default:
		logger.Error("Unexpected error in management API", "error", err)
		return huma.Error500InternalServerError("Internal server error", err)
	}
}
