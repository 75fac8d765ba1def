package connector

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	meshderrors "github.com/agentmesh-ai/meshd/internal/errors"
	"github.com/agentmesh-ai/meshd/internal/registry"
	"github.com/agentmesh-ai/meshd/internal/transport"
)

// fakeProxy is an in-memory ProxyClient.
type fakeProxy struct {
	tools   []registry.Tool
	listErr error
	pingErr error
	closed  atomic.Bool
}

func (f *fakeProxy) ListTools(context.Context) ([]registry.Tool, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.tools, nil
}

func (f *fakeProxy) Ping(context.Context) error { return f.pingErr }

func (f *fakeProxy) Close() error {
	f.closed.Store(true)
	return nil
}

// manifestServer serves a swappable manifest document.
type manifestServer struct {
	mu     sync.Mutex
	body   []byte
	status int
	srv    *httptest.Server
}

func newManifestServer(t *testing.T) *manifestServer {
	t.Helper()

	ms := &manifestServer{status: http.StatusOK}
	ms.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		ms.mu.Lock()
		defer ms.mu.Unlock()
		if ms.status != http.StatusOK {
			w.WriteHeader(ms.status)
			return
		}
		_, _ = w.Write(ms.body)
	}))
	t.Cleanup(ms.srv.Close)

	return ms
}

func (ms *manifestServer) serve(t *testing.T, m Manifest) {
	t.Helper()

	raw, err := json.Marshal(m)
	require.NoError(t, err)

	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.body = raw
	ms.status = http.StatusOK
}

func (ms *manifestServer) fail(status int) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.status = status
}

// signedManifest builds a manifest for one connector, signed with testKey.
// A zero TTL keeps the manager refetching every cycle.
func signedManifest(t *testing.T, entries ...Entry) Manifest {
	t.Helper()

	m := Manifest{
		ID:          "mesh-test",
		GeneratedAt: time.Now().UTC(),
		Connectors:  entries,
	}

	sig, err := Sign(m, testKey)
	require.NoError(t, err)
	m.Signature = sig

	return m
}

func enabledEntry(id string) Entry {
	return Entry{
		ID:      id,
		Version: "1.0.0",
		Endpoint: transport.Config{
			Kind:  transport.KindStdio,
			Stdio: &transport.StdioConfig{Command: "connector-bridge"},
		},
		Scopes: []string{"tools:call"},
		Status: StatusEnabled,
	}
}

func searchTool() registry.Tool {
	return registry.Tool{
		Name:        "search",
		Description: "Searches the mesh",
		Handler: func(context.Context, map[string]any) (any, error) {
			return "ok", nil
		},
	}
}

type managerHarness struct {
	manager   *Manager
	registry  *registry.VersionedRegistry
	tracker   *Tracker
	metrics   *Metrics
	server    *manifestServer
	dialCount atomic.Int64
	changed   atomic.Int64
}

func newManagerHarness(t *testing.T, proxies map[string]*fakeProxy, opts ...Option) *managerHarness {
	t.Helper()

	h := &managerHarness{
		registry: registry.NewVersionedRegistry(),
		tracker:  NewTracker(),
		metrics:  NewMetrics(prometheus.NewRegistry()),
		server:   newManifestServer(t),
	}

	dialer := func(_ context.Context, connectorID string, endpoint transport.Sanitized, _ string) (ProxyClient, error) {
		require.True(t, endpoint.Valid())
		h.dialCount.Add(1)
		p, ok := proxies[connectorID]
		if !ok {
			return nil, meshderrors.ErrConnectorNotTracked
		}
		return p, nil
	}

	allOpts := append([]Option{
		WithDialer(dialer),
		WithCatalogChangedHook(func() { h.changed.Add(1) }),
	}, opts...)

	manager, err := NewManager(
		hclog.NewNullLogger(),
		h.server.srv.URL,
		testKey,
		h.registry,
		h.tracker,
		h.metrics,
		allOpts...,
	)
	require.NoError(t, err)
	h.manager = manager

	return h
}

func TestManager_SyncPublishesConnectorTools(t *testing.T) {
	t.Parallel()

	proxy := &fakeProxy{tools: []registry.Tool{searchTool()}}
	h := newManagerHarness(t, map[string]*fakeProxy{"conn-a": proxy})
	h.server.serve(t, signedManifest(t, enabledEntry("conn-a")))

	result, err := h.manager.Sync(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, result.ConnectorsSynced)
	require.Equal(t, 0, result.ConnectorsFailed)
	require.Equal(t, 1, result.ToolsPublished)
	require.False(t, result.ManifestStale)

	entry, ok := h.registry.Get("conn-a.search")
	require.True(t, ok)
	require.Equal(t, "conn-a", entry.ConnectorID)
	require.Equal(t, "1.0.0", entry.Version)
	require.Equal(t, []string{"tools:call"}, entry.Scopes)

	health, err := h.tracker.Status("conn-a")
	require.NoError(t, err)
	require.Equal(t, AvailabilityReachable, health.Availability)

	require.Equal(t, 1.0, testutil.ToFloat64(h.metrics.availability.WithLabelValues("conn-a")))
	require.Equal(t, 1.0, testutil.ToFloat64(h.metrics.toolsByOrigin.WithLabelValues("conn-a")))
	require.Equal(t, int64(1), h.changed.Load())
}

func TestManager_InvalidSignatureLeavesStateUntouched(t *testing.T) {
	t.Parallel()

	proxy := &fakeProxy{tools: []registry.Tool{searchTool()}}
	h := newManagerHarness(t, map[string]*fakeProxy{"conn-a": proxy})
	h.server.serve(t, signedManifest(t, enabledEntry("conn-a")))

	_, err := h.manager.Sync(context.Background())
	require.NoError(t, err)

	// Tamper after signing: verification must fail and the cycle must abort
	// without touching the registry or availability.
	tampered := signedManifest(t, enabledEntry("conn-a"), enabledEntry("conn-evil"))
	tampered.Connectors[1].Scopes = []string{"admin:*"}
	h.server.serve(t, tampered)

	_, err = h.manager.Sync(context.Background())
	require.ErrorIs(t, err, meshderrors.ErrSignatureVerification)

	_, ok := h.registry.Get("conn-a.search")
	require.True(t, ok)
	_, ok = h.registry.Get("conn-evil.search")
	require.False(t, ok)

	require.Equal(t, 1.0, testutil.ToFloat64(h.metrics.availability.WithLabelValues("conn-a")))

	health, err := h.tracker.Status("conn-a")
	require.NoError(t, err)
	require.Equal(t, AvailabilityReachable, health.Availability)
}

func TestManager_FetchFailureServesStaleManifest(t *testing.T) {
	t.Parallel()

	proxy := &fakeProxy{tools: []registry.Tool{searchTool()}}
	h := newManagerHarness(t, map[string]*fakeProxy{"conn-a": proxy})
	h.server.serve(t, signedManifest(t, enabledEntry("conn-a")))

	_, err := h.manager.Sync(context.Background())
	require.NoError(t, err)

	h.server.fail(http.StatusInternalServerError)

	result, err := h.manager.Sync(context.Background())
	require.NoError(t, err)
	require.True(t, result.ManifestStale)
	require.Equal(t, 1, result.ConnectorsSynced)

	_, ok := h.registry.Get("conn-a.search")
	require.True(t, ok)
}

func TestManager_FetchFailureWithoutCacheFails(t *testing.T) {
	t.Parallel()

	h := newManagerHarness(t, nil)
	h.server.fail(http.StatusInternalServerError)

	_, err := h.manager.Sync(context.Background())
	require.Error(t, err)
}

func TestManager_DisabledConnectorWithdrawsTools(t *testing.T) {
	t.Parallel()

	proxy := &fakeProxy{tools: []registry.Tool{searchTool()}}
	h := newManagerHarness(t, map[string]*fakeProxy{"conn-a": proxy})
	h.server.serve(t, signedManifest(t, enabledEntry("conn-a")))

	_, err := h.manager.Sync(context.Background())
	require.NoError(t, err)
	_, ok := h.registry.Get("conn-a.search")
	require.True(t, ok)

	disabled := enabledEntry("conn-a")
	disabled.Status = StatusDisabled
	h.server.serve(t, signedManifest(t, disabled))

	result, err := h.manager.Sync(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, result.ConnectorsSynced)

	_, ok = h.registry.Get("conn-a.search")
	require.False(t, ok)
	require.True(t, proxy.closed.Load())
	require.Equal(t, 0.0, testutil.ToFloat64(h.metrics.toolsByOrigin.WithLabelValues("conn-a")))
}

func TestManager_UnreachableConnectorKeepsPriorEntries(t *testing.T) {
	t.Parallel()

	proxy := &fakeProxy{tools: []registry.Tool{searchTool()}}
	h := newManagerHarness(t, map[string]*fakeProxy{"conn-a": proxy})
	h.server.serve(t, signedManifest(t, enabledEntry("conn-a")))

	_, err := h.manager.Sync(context.Background())
	require.NoError(t, err)

	// The connection starts failing: the cycle records unavailability but the
	// previously published tools survive.
	proxy.pingErr = context.DeadlineExceeded
	proxy.listErr = context.DeadlineExceeded

	result, err := h.manager.Sync(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, result.ConnectorsFailed)
	require.Equal(t, 0, result.ConnectorsSynced)

	_, ok := h.registry.Get("conn-a.search")
	require.True(t, ok)

	require.Equal(t, 0.0, testutil.ToFloat64(h.metrics.availability.WithLabelValues("conn-a")))

	health, err := h.tracker.Status("conn-a")
	require.NoError(t, err)
	require.Equal(t, AvailabilityUnreachable, health.Availability)
}

func TestManager_ReusesHealthyConnection(t *testing.T) {
	t.Parallel()

	proxy := &fakeProxy{tools: []registry.Tool{searchTool()}}
	h := newManagerHarness(t, map[string]*fakeProxy{"conn-a": proxy})
	h.server.serve(t, signedManifest(t, enabledEntry("conn-a")))

	for range 3 {
		_, err := h.manager.Sync(context.Background())
		require.NoError(t, err)
	}

	require.Equal(t, int64(1), h.dialCount.Load())
}

func TestManager_OverlappingSyncsAreSingleFlight(t *testing.T) {
	t.Parallel()

	gate := make(chan struct{})
	entered := make(chan struct{})

	h := &managerHarness{
		registry: registry.NewVersionedRegistry(),
		tracker:  NewTracker(),
		metrics:  NewMetrics(prometheus.NewRegistry()),
		server:   newManifestServer(t),
	}

	proxy := &fakeProxy{tools: []registry.Tool{searchTool()}}
	var once sync.Once
	dialer := func(context.Context, string, transport.Sanitized, string) (ProxyClient, error) {
		h.dialCount.Add(1)
		once.Do(func() { close(entered) })
		<-gate
		return proxy, nil
	}

	manager, err := NewManager(
		hclog.NewNullLogger(),
		h.server.srv.URL,
		testKey,
		h.registry,
		h.tracker,
		h.metrics,
		WithDialer(dialer),
	)
	require.NoError(t, err)

	h.server.serve(t, signedManifest(t, enabledEntry("conn-a")))

	var wg sync.WaitGroup
	results := make([]SyncResult, 2)
	errs := make([]error, 2)

	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0], errs[0] = manager.Sync(context.Background())
	}()

	// Wait until the first cycle is provably in flight before triggering the
	// second, which must join it rather than start its own.
	<-entered
	wg.Add(1)
	go func() {
		defer wg.Done()
		results[1], errs[1] = manager.Sync(context.Background())
	}()

	close(gate)
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	require.Equal(t, results[0], results[1])
	require.Equal(t, int64(1), h.dialCount.Load())
}
