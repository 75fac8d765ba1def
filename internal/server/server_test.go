package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/require"

	"github.com/agentmesh-ai/meshd/internal/auth"
	"github.com/agentmesh-ai/meshd/internal/ratelimit"
	"github.com/agentmesh-ai/meshd/internal/registry"
)

const (
	testIssuer   = "meshd-test"
	testAudience = "meshd-clients"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func testServer(t *testing.T) (*Server, *Dispatcher) {
	t.Helper()

	logger := hclog.NewNullLogger()

	d, err := NewDispatcher(
		logger,
		Identity{Name: "meshd-test", Version: "0.0.1"},
		registry.NewCatalogRegistry(),
		registry.NewExecutionRegistry(),
		registry.NewVersionedRegistry(),
	)
	require.NoError(t, err)

	verifier, err := auth.NewVerifier(logger, testSecret, testIssuer, testAudience)
	require.NoError(t, err)

	limiter := ratelimit.NewLimiter(logger, 100, time.Minute)
	push := NewPushChannel(logger, time.Second)

	srv, err := New(logger, "localhost:0", d, verifier, limiter, push)
	require.NoError(t, err)

	return srv, d
}

func bearer(t *testing.T) string {
	t.Helper()
	token, err := auth.CreateToken(testSecret, "user-1", testIssuer, testAudience, time.Hour)
	require.NoError(t, err)
	return "Bearer " + token
}

func TestServer_MCPRequiresAuth(t *testing.T) {
	t.Parallel()

	srv, _ := testServer(t)
	handler, err := srv.Handler()
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestServer_MCPDispatchesAuthenticatedRequests(t *testing.T) {
	t.Parallel()

	srv, _ := testServer(t)
	handler, err := srv.Handler()
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`))
	req.Header.Set("Authorization", bearer(t))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"jsonrpc":"2.0","id":1,"result":{"tools":[]}}`, rec.Body.String())
	require.NotEmpty(t, rec.Header().Get("X-RateLimit-Remaining"))
}

func TestServer_ClosedDispatcherReturns503(t *testing.T) {
	t.Parallel()

	srv, d := testServer(t)
	handler, err := srv.Handler()
	require.NoError(t, err)

	d.Close()

	req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`))
	req.Header.Set("Authorization", bearer(t))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServer_HealthzReportsState(t *testing.T) {
	t.Parallel()

	srv, d := testServer(t)
	handler, err := srv.Handler()
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"state":"uninitialized"}`, rec.Body.String())

	d.setReady()

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.JSONEq(t, `{"state":"ready"}`, rec.Body.String())
}

func TestServer_MetricsEndpointIsOpen(t *testing.T) {
	t.Parallel()

	srv, _ := testServer(t)
	handler, err := srv.Handler()
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}
