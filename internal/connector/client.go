package connector

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/client"
	mcptransport "github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/agentmesh-ai/meshd/internal/registry"
	"github.com/agentmesh-ai/meshd/internal/schema"
	"github.com/agentmesh-ai/meshd/internal/transport"
)

// ProxyClient is the connection to one remote connector.
type ProxyClient interface {
	// ListTools returns the tools the connector currently publishes.
	ListTools(ctx context.Context) ([]registry.Tool, error)
	// Ping checks reachability.
	Ping(ctx context.Context) error
	// Close releases the connection.
	Close() error
}

// Dialer establishes a proxy connection from a sanitized endpoint config.
// Only sanitized configs reach a dialer; the zero Sanitized value is
// rejected.
type Dialer func(ctx context.Context, connectorID string, endpoint transport.Sanitized, authToken string) (ProxyClient, error)

// ClientManager holds active proxy connections keyed by connector id.
// It is safe for concurrent use by multiple goroutines.
type ClientManager struct {
	mu      sync.RWMutex
	clients map[string]ProxyClient
}

// NewClientManager creates an empty, concurrency-safe ClientManager.
func NewClientManager() *ClientManager {
	return &ClientManager{
		clients: make(map[string]ProxyClient),
	}
}

// Add registers a proxy connection for a connector id, closing any previous
// connection for the same id.
func (cm *ClientManager) Add(connectorID string, c ProxyClient) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if prev, ok := cm.clients[connectorID]; ok && prev != c {
		_ = prev.Close()
	}
	cm.clients[connectorID] = c
}

// Client returns the proxy connection for the given connector id.
func (cm *ClientManager) Client(connectorID string) (ProxyClient, bool) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	c, ok := cm.clients[connectorID]
	return c, ok
}

// List returns all connector ids with an active connection.
func (cm *ClientManager) List() []string {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	ids := make([]string, 0, len(cm.clients))
	for id := range cm.clients {
		ids = append(ids, id)
	}
	return ids
}

// Remove closes and deletes the connection for a connector id.
func (cm *ClientManager) Remove(connectorID string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if c, ok := cm.clients[connectorID]; ok {
		_ = c.Close()
		delete(cm.clients, connectorID)
	}
}

// CloseAll closes every active connection. Used during shutdown.
func (cm *ClientManager) CloseAll() {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	for id, c := range cm.clients {
		_ = c.Close()
		delete(cm.clients, id)
	}
}

// mcpProxyClient adapts an MCP client connection to ProxyClient.
type mcpProxyClient struct {
	connectorID string
	client      *client.Client
}

// DialMCP is the production Dialer: it builds an MCP client for the sanitized
// endpoint, starts the session and completes the initialize handshake.
func DialMCP(ctx context.Context, connectorID string, endpoint transport.Sanitized, authToken string) (ProxyClient, error) {
	if !endpoint.Valid() {
		return nil, fmt.Errorf("endpoint for connector '%s' has not been validated", connectorID)
	}

	c, err := buildClient(endpoint, authToken)
	if err != nil {
		return nil, fmt.Errorf("failed to build client for connector '%s': %w", connectorID, err)
	}

	if err := c.Start(ctx); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("failed to start session for connector '%s': %w", connectorID, err)
	}

	_, err = c.Initialize(ctx, mcp.InitializeRequest{
		Params: mcp.InitializeParams{
			ProtocolVersion: mcp.LATEST_PROTOCOL_VERSION,
			ClientInfo:      mcp.Implementation{Name: "meshd", Version: "0.1.0"},
		},
	})
	if err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("failed to initialize connector '%s': %w", connectorID, err)
	}

	return &mcpProxyClient{connectorID: connectorID, client: c}, nil
}

func buildClient(endpoint transport.Sanitized, authToken string) (*client.Client, error) {
	headers := map[string]string{}
	if authToken != "" {
		headers["Authorization"] = "Bearer " + authToken
	}

	switch endpoint.Kind() {
	case transport.KindStdio:
		cfg, _ := endpoint.Stdio()
		env := make([]string, 0, len(cfg.Env))
		for k, v := range cfg.Env {
			env = append(env, k+"="+v)
		}
		return client.NewStdioMCPClient(cfg.Command, env, cfg.Args...)
	case transport.KindHTTP:
		cfg, _ := endpoint.HTTP()
		for k, v := range cfg.Headers {
			headers[k] = v
		}
		return client.NewStreamableHttpClient(cfg.URL, mcptransport.WithHTTPHeaders(headers))
	case transport.KindSSE:
		cfg, _ := endpoint.SSE()
		return client.NewSSEMCPClient(cfg.URL, mcptransport.WithHeaders(headers))
	default:
		return nil, fmt.Errorf("unsupported endpoint kind '%s'", endpoint.Kind())
	}
}

func (p *mcpProxyClient) ListTools(ctx context.Context) ([]registry.Tool, error) {
	result, err := p.client.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, fmt.Errorf("failed to list tools for connector '%s': %w", p.connectorID, err)
	}
	if result == nil {
		return nil, fmt.Errorf("connector '%s' returned no tool listing", p.connectorID)
	}

	tools := make([]registry.Tool, 0, len(result.Tools))
	for _, t := range result.Tools {
		tools = append(tools, registry.Tool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: convertInputSchema(t.InputSchema),
			Handler:     p.callHandler(t.Name),
		})
	}

	return tools, nil
}

// callHandler produces a handler that forwards an invocation to the remote
// tool over the proxy connection.
func (p *mcpProxyClient) callHandler(toolName string) registry.ToolHandler {
	return func(ctx context.Context, args map[string]any) (any, error) {
		result, err := p.client.CallTool(ctx, mcp.CallToolRequest{
			Params: mcp.CallToolParams{
				Name:      toolName,
				Arguments: args,
			},
		})
		if err != nil {
			return nil, fmt.Errorf("call to '%s' on connector '%s' failed: %w", toolName, p.connectorID, err)
		}
		return result, nil
	}
}

func (p *mcpProxyClient) Ping(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return p.client.Ping(pingCtx)
}

func (p *mcpProxyClient) Close() error {
	return p.client.Close()
}

// convertInputSchema maps a remote tool's declared schema onto the closed
// validation form. Property shapes beyond type and maxLength are ignored;
// the remote side still enforces its own full contract.
func convertInputSchema(in mcp.ToolInputSchema) schema.InputSchema {
	out := schema.InputSchema{
		Required:   append([]string(nil), in.Required...),
		Properties: make(map[string]schema.Property, len(in.Properties)),
	}

	for name, raw := range in.Properties {
		prop, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		var p schema.Property
		if t, ok := prop["type"].(string); ok {
			p.Type = t
		}
		if ml, ok := prop["maxLength"].(float64); ok {
			p.MaxLength = int(ml)
		}
		out.Properties[name] = p
	}

	return out
}
