package connector

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/sync/singleflight"

	"github.com/agentmesh-ai/meshd/internal/cache"
	meshderrors "github.com/agentmesh-ai/meshd/internal/errors"
	"github.com/agentmesh-ai/meshd/internal/registry"
	"github.com/agentmesh-ai/meshd/internal/transport"
)

// maxManifestBytes bounds the manifest document size.
const maxManifestBytes = 1 << 20

// SyncResult summarizes one sync cycle.
type SyncResult struct {
	ConnectorsSynced int  `json:"connectors_synced"`
	ConnectorsFailed int  `json:"connectors_failed"`
	ToolsPublished   int  `json:"tools_published"`
	ManifestStale    bool `json:"manifest_stale"`
}

// Options contains the configurable options for a Manager.
type Options struct {
	HTTPClient       *http.Client
	Dialer           Dialer
	SyncTimeout      time.Duration
	OnCatalogChanged func()
}

// Option defines a functional option for configuring Manager behavior.
type Option func(*Options) error

// WithHTTPClient overrides the HTTP client used for manifest fetches.
func WithHTTPClient(c *http.Client) Option {
	return func(o *Options) error {
		if c == nil {
			return fmt.Errorf("http client cannot be nil")
		}
		o.HTTPClient = c
		return nil
	}
}

// WithDialer overrides how proxy connections are established.
func WithDialer(d Dialer) Option {
	return func(o *Options) error {
		if d == nil {
			return fmt.Errorf("dialer cannot be nil")
		}
		o.Dialer = d
		return nil
	}
}

// WithSyncTimeout bounds a full sync cycle.
func WithSyncTimeout(d time.Duration) Option {
	return func(o *Options) error {
		if d <= 0 {
			return fmt.Errorf("sync timeout must be positive")
		}
		o.SyncTimeout = d
		return nil
	}
}

// WithCatalogChangedHook registers a callback invoked after a cycle that
// republished any connector's tools.
func WithCatalogChangedHook(fn func()) Option {
	return func(o *Options) error {
		if fn == nil {
			return fmt.Errorf("catalog changed hook cannot be nil")
		}
		o.OnCatalogChanged = fn
		return nil
	}
}

func defaultOptions() Options {
	return Options{
		HTTPClient:  &http.Client{Timeout: transport.DefaultTimeout},
		Dialer:      DialMCP,
		SyncTimeout: 60 * time.Second,
	}
}

// Manager drives the federation pipeline: it fetches and verifies the signed
// manifest, maintains per-connector proxy connections, and republishes their
// tools into the versioned registry. Sync cycles are single-flight: an
// overlapping trigger joins the cycle already in flight.
type Manager struct {
	logger      hclog.Logger
	manifestURL string
	verifyKey   []byte

	httpClient       *http.Client
	dial             Dialer
	syncTimeout      time.Duration
	onCatalogChanged func()

	manifests *cache.Cache[Manifest]
	registry  *registry.VersionedRegistry
	tracker   *Tracker
	metrics   *Metrics
	clients   *ClientManager

	group singleflight.Group
}

// NewManager creates a connector manager publishing into reg.
func NewManager(
	logger hclog.Logger,
	manifestURL string,
	verifyKey []byte,
	reg *registry.VersionedRegistry,
	tracker *Tracker,
	metrics *Metrics,
	opts ...Option,
) (*Manager, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if manifestURL == "" {
		return nil, fmt.Errorf("manifest URL cannot be empty")
	}
	if len(verifyKey) == 0 {
		return nil, fmt.Errorf("manifest verification key cannot be empty")
	}
	if reg == nil {
		return nil, fmt.Errorf("versioned registry cannot be nil")
	}
	if tracker == nil {
		return nil, fmt.Errorf("tracker cannot be nil")
	}
	if metrics == nil {
		return nil, fmt.Errorf("metrics cannot be nil")
	}

	options := defaultOptions()
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&options); err != nil {
			return nil, err
		}
	}

	return &Manager{
		logger:           logger.Named("connector"),
		manifestURL:      manifestURL,
		verifyKey:        verifyKey,
		httpClient:       options.HTTPClient,
		dial:             options.Dialer,
		syncTimeout:      options.SyncTimeout,
		onCatalogChanged: options.OnCatalogChanged,
		manifests:        cache.New[Manifest](),
		registry:         reg,
		tracker:          tracker,
		metrics:          metrics,
		clients:          NewClientManager(),
	}, nil
}

// Clients exposes the active proxy connections.
func (m *Manager) Clients() *ClientManager {
	return m.clients
}

// Sync runs one sync cycle, or joins the cycle already in flight.
func (m *Manager) Sync(ctx context.Context) (SyncResult, error) {
	v, err, shared := m.group.Do("sync", func() (any, error) {
		return m.syncOnce(ctx)
	})
	if shared {
		m.logger.Debug("Joined sync cycle already in flight")
	}
	if err != nil {
		return SyncResult{}, err
	}
	return v.(SyncResult), nil
}

// RunSyncLoop syncs immediately and then on every tick until the context is
// canceled.
func (m *Manager) RunSyncLoop(ctx context.Context, interval time.Duration) {
	if _, err := m.Sync(ctx); err != nil {
		m.logger.Error("Connector sync failed", "error", err)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("Stopping connector sync loop")
			return
		case <-ticker.C:
			if _, err := m.Sync(ctx); err != nil {
				m.logger.Error("Connector sync failed", "error", err)
			}
		}
	}
}

// Close releases all proxy connections.
func (m *Manager) Close() {
	m.clients.CloseAll()
}

func (m *Manager) syncOnce(ctx context.Context) (SyncResult, error) {
	started := time.Now()

	ctx, cancel := context.WithTimeout(ctx, m.syncTimeout)
	defer cancel()

	manifest, stale, err := m.currentManifest(ctx)
	if err != nil {
		m.metrics.ObserveSync(time.Since(started), err)
		return SyncResult{}, err
	}

	result := m.applyManifest(ctx, manifest)
	result.ManifestStale = stale

	m.metrics.ObserveSync(time.Since(started), nil)
	m.logger.Info(
		"Connector sync complete",
		"synced", result.ConnectorsSynced,
		"failed", result.ConnectorsFailed,
		"tools", result.ToolsPublished,
		"stale_manifest", stale,
	)

	if result.ConnectorsSynced > 0 && m.onCatalogChanged != nil {
		m.onCatalogChanged()
	}

	return result, nil
}

// currentManifest returns a verified manifest: the cached value while fresh,
// otherwise a re-fetch, degrading to the stale cached generation when the
// fetch fails. A manifest that fails verification is never cached and never
// applied.
func (m *Manager) currentManifest(ctx context.Context) (Manifest, bool, error) {
	// A non-positive manifest TTL disables the freshness short-circuit: the
	// document is refetched every cycle but still retained for degradation.
	if cached, status, ok := m.manifests.Get(); ok && status == cache.StatusFresh && cached.TTLSeconds > 0 {
		return cached, false, nil
	}

	manifest, err := m.fetchManifest(ctx)
	if err != nil {
		// Trust failures fail closed: a tampered or malformed manifest never
		// degrades to a stale generation.
		if errors.Is(err, meshderrors.ErrSignatureVerification) || errors.Is(err, meshderrors.ErrManifestInvalid) {
			return Manifest{}, false, err
		}
		if cached, _, ok := m.manifests.Get(); ok {
			m.logger.Warn("Manifest fetch failed, serving stale manifest", "error", err)
			return cached, true, nil
		}
		return Manifest{}, false, err
	}

	m.manifests.Set(manifest, manifest.TTL())

	return manifest, false, nil
}

func (m *Manager) fetchManifest(ctx context.Context) (Manifest, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.manifestURL, nil)
	if err != nil {
		return Manifest{}, fmt.Errorf("failed to build manifest request: %w", err)
	}

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return Manifest{}, fmt.Errorf("manifest fetch failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return Manifest{}, fmt.Errorf("manifest fetch returned status %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxManifestBytes))
	if err != nil {
		return Manifest{}, fmt.Errorf("failed to read manifest body: %w", err)
	}

	manifest, err := ParseManifest(raw)
	if err != nil {
		return Manifest{}, err
	}

	if err := Verify(manifest, m.verifyKey); err != nil {
		return Manifest{}, err
	}

	return manifest, nil
}

// applyManifest publishes tools for every enabled, unexpired connector.
// A connector that cannot be reached keeps its previous registry entries and
// is marked unavailable; the cycle continues with the remaining connectors.
func (m *Manager) applyManifest(ctx context.Context, manifest Manifest) SyncResult {
	var result SyncResult
	now := time.Now().UTC()

	for _, entry := range manifest.Connectors {
		m.tracker.Track(entry.ID)

		switch {
		case entry.Status != StatusEnabled:
			m.retireConnector(entry.ID)
			continue
		case entry.Expired(manifest.GeneratedAt, now):
			m.logger.Debug("Skipping expired connector entry", "connector", entry.ID)
			continue
		}

		published, err := m.syncConnector(ctx, entry)
		if err != nil {
			m.logger.Error("Connector sync failed", "connector", entry.ID, "error", err)
			m.clients.Remove(entry.ID)
			m.metrics.SetAvailability(entry.ID, false)
			_ = m.tracker.Update(entry.ID, AvailabilityUnreachable, nil)
			result.ConnectorsFailed++
			continue
		}

		result.ConnectorsSynced++
		result.ToolsPublished += published
	}

	return result
}

// retireConnector withdraws a disabled connector's tools and connection.
func (m *Manager) retireConnector(connectorID string) {
	if existing := m.registry.ListConnector(connectorID); len(existing) > 0 {
		m.registry.RemoveConnector(connectorID)
		m.logger.Info("Withdrew tools for disabled connector", "connector", connectorID, "tools", len(existing))
	}
	m.clients.Remove(connectorID)
	m.metrics.SetToolCount(connectorID, 0)
}

// syncConnector establishes or reuses the proxy connection, lists the remote
// tools and atomically replaces the connector's registry entries.
func (m *Manager) syncConnector(ctx context.Context, entry Entry) (int, error) {
	started := time.Now()

	client, err := m.connect(ctx, entry)
	if err != nil {
		return 0, err
	}

	tools, err := client.ListTools(ctx)
	if err != nil {
		// The cached connection may have gone bad; drop it so the next
		// cycle redials.
		m.clients.Remove(entry.ID)
		return 0, err
	}

	entries := make([]registry.VersionedEntry, 0, len(tools))
	for _, tool := range tools {
		entries = append(entries, registry.VersionedEntry{
			Tool:        tool,
			ConnectorID: entry.ID,
			Version:     entry.Version,
			Scopes:      append([]string(nil), entry.Scopes...),
		})
	}

	if err := m.registry.ReplaceConnector(entry.ID, entries); err != nil {
		return 0, fmt.Errorf("failed to publish tools for connector '%s': %w", entry.ID, err)
	}

	latency := time.Since(started)
	m.metrics.SetAvailability(entry.ID, true)
	m.metrics.SetToolCount(entry.ID, len(entries))
	_ = m.tracker.Update(entry.ID, AvailabilityReachable, &latency)

	return len(entries), nil
}

// connect reuses an existing healthy connection or dials a fresh one from the
// validated endpoint.
func (m *Manager) connect(ctx context.Context, entry Entry) (ProxyClient, error) {
	if existing, ok := m.clients.Client(entry.ID); ok {
		if err := existing.Ping(ctx); err == nil {
			return existing, nil
		}
		m.clients.Remove(entry.ID)
	}

	sanitized, err := transport.Validate(entry.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("endpoint rejected for connector '%s': %w", entry.ID, err)
	}

	client, err := m.dial(ctx, entry.ID, sanitized, entry.Auth)
	if err != nil {
		return nil, err
	}

	m.clients.Add(entry.ID, client)

	return client, nil
}
