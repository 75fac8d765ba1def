// Package server hosts the protocol surface: the JSON-RPC dispatcher, the
// HTTP server with its auth and rate-limit boundary, and the SSE push channel
// notifications are delivered through.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/hashicorp/go-hclog"

	meshderrors "github.com/agentmesh-ai/meshd/internal/errors"
	"github.com/agentmesh-ai/meshd/internal/protocol"
	"github.com/agentmesh-ai/meshd/internal/registry"
)

// State is the dispatcher lifecycle phase. It is recorded for observability
// only: while Uninitialized every method remains routable, clients are simply
// expected to call initialize first.
type State int

const (
	StateUninitialized State = iota
	StateReady
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Identity names the server instance on the wire.
type Identity struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Dispatcher routes JSON-RPC requests onto the registries. All state it
// touches is owned by the registries; the dispatcher itself carries only the
// lifecycle flag, so multiple independent instances can run per process.
type Dispatcher struct {
	logger    hclog.Logger
	identity  Identity
	catalog   *registry.CatalogRegistry
	execution *registry.ExecutionRegistry
	versioned *registry.VersionedRegistry

	mu    sync.RWMutex
	state State
}

// NewDispatcher creates a dispatcher over the given registries.
func NewDispatcher(
	logger hclog.Logger,
	identity Identity,
	catalog *registry.CatalogRegistry,
	execution *registry.ExecutionRegistry,
	versioned *registry.VersionedRegistry,
) (*Dispatcher, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if catalog == nil {
		return nil, fmt.Errorf("catalog registry cannot be nil")
	}
	if execution == nil {
		return nil, fmt.Errorf("execution registry cannot be nil")
	}
	if versioned == nil {
		return nil, fmt.Errorf("versioned registry cannot be nil")
	}

	return &Dispatcher{
		logger:    logger.Named("dispatch"),
		identity:  identity,
		catalog:   catalog,
		execution: execution,
		versioned: versioned,
	}, nil
}

// State returns the current lifecycle phase.
func (d *Dispatcher) State() State {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.state
}

// Close marks the dispatcher terminally closed. Callers stop routing to a
// closed dispatcher; Close itself does not reject requests.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.state = StateClosed
}

func (d *Dispatcher) setReady() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state == StateUninitialized {
		d.state = StateReady
	}
}

// Dispatch reads one request envelope from r and produces its response.
//
// Envelope failures are answered per the protocol: an unparsable body with
// -32700, a malformed envelope with -32600 and a null id (the id cannot be
// trusted), and a well-formed envelope naming an unknown method with -32603.
func (d *Dispatcher) Dispatch(ctx context.Context, r io.Reader) protocol.Response {
	req, err := protocol.ParseRequest(r)
	if err != nil {
		switch {
		case errors.Is(err, meshderrors.ErrParse):
			return protocol.NewErrorResponse(nil, protocol.CodeParseError, "", nil)
		default:
			return protocol.NewErrorResponse(nil, protocol.CodeInvalidRequest, "", nil)
		}
	}

	method, ok := protocol.ParseMethod(req.Method)
	if !ok {
		d.logger.Debug("Unknown method", "method", req.Method)
		return protocol.NewErrorResponse(req.ID, protocol.CodeInternalError,
			fmt.Sprintf("unknown method: %s", req.Method), nil)
	}

	switch method {
	case protocol.MethodInitialize:
		return d.handleInitialize(req)
	case protocol.MethodToolsList:
		return d.handleToolsList(req)
	case protocol.MethodToolsCall:
		return d.handleToolsCall(ctx, req)
	case protocol.MethodResourcesList:
		return d.handleResourcesList(req)
	case protocol.MethodResourcesRead:
		return d.handleResourcesRead(ctx, req)
	case protocol.MethodPromptsList:
		return d.handlePromptsList(req)
	case protocol.MethodPromptsGet:
		return d.handlePromptsGet(req)
	default:
		// Unreachable: ParseMethod returned ok for a value outside the enum.
		return protocol.NewErrorResponse(req.ID, protocol.CodeInternalError, "", nil)
	}
}

type initializeParams struct {
	ProtocolVersion string `json:"protocolVersion"`
	ClientInfo      struct {
		Name    string `json:"name"`
		Version string `json:"version"`
	} `json:"clientInfo"`
}

type initializeResult struct {
	ProtocolVersion string         `json:"protocolVersion"`
	ServerInfo      Identity       `json:"serverInfo"`
	Capabilities    map[string]any `json:"capabilities"`
}

func (d *Dispatcher) handleInitialize(req *protocol.Request) protocol.Response {
	var params initializeParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return protocol.NewErrorResponse(req.ID, protocol.CodeInvalidParams, "", nil)
		}
	}

	d.setReady()
	d.logger.Info(
		"Client initialized",
		"client", params.ClientInfo.Name,
		"client_version", params.ClientInfo.Version,
	)

	return protocol.NewResponse(req.ID, initializeResult{
		ProtocolVersion: params.ProtocolVersion,
		ServerInfo:      d.identity,
		Capabilities: map[string]any{
			"tools":     map[string]any{"listChanged": true},
			"resources": map[string]any{"listChanged": true, "subscribe": true},
			"prompts":   map[string]any{"listChanged": true},
		},
	})
}

func (d *Dispatcher) handleToolsList(req *protocol.Request) protocol.Response {
	catalogTools := d.catalog.Tools()
	federated := d.versioned.List()

	tools := make([]registry.Tool, 0, len(catalogTools)+len(federated))
	tools = append(tools, catalogTools...)
	for _, entry := range federated {
		tool := entry.Tool
		tool.Name = registry.NamespacedName(entry.ConnectorID, entry.Tool.Name)
		tools = append(tools, tool)
	}

	return protocol.NewResponse(req.ID, map[string]any{"tools": tools})
}

type toolsCallParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ToolContent is one item of a tool invocation result.
type ToolContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ToolResult is the result payload of tools/call. Tool-layer failures are
// reported here with IsError set, distinct from protocol errors, so callers
// can branch on "my tool failed" vs "the call itself was malformed".
type ToolResult struct {
	Content []ToolContent `json:"content"`
	IsError bool          `json:"isError,omitempty"`
}

func toolError(id json.RawMessage, format string, args ...any) protocol.Response {
	return protocol.NewResponse(id, ToolResult{
		Content: []ToolContent{{Type: "text", Text: fmt.Sprintf(format, args...)}},
		IsError: true,
	})
}

func (d *Dispatcher) handleToolsCall(ctx context.Context, req *protocol.Request) protocol.Response {
	var params toolsCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil || params.Name == "" {
		return protocol.NewErrorResponse(req.ID, protocol.CodeInvalidParams, "", nil)
	}

	tool, ok := d.resolveTool(params.Name)
	if !ok {
		return toolError(req.ID, "tool not found: %s", params.Name)
	}
	if tool.Handler == nil {
		return toolError(req.ID, "tool is not executable here: %s", params.Name)
	}

	// The handler never runs with arguments that fail its declared contract.
	if err := tool.InputSchema.Validate(params.Arguments); err != nil {
		return toolError(req.ID, "%s", validationMessage(err))
	}

	result, err := tool.Handler(ctx, params.Arguments)
	if err != nil {
		d.logger.Debug("Tool execution failed", "tool", params.Name, "error", err)
		return toolError(req.ID, "tool execution failed: %s", err)
	}

	return protocol.NewResponse(req.ID, ToolResult{
		Content: []ToolContent{{Type: "text", Text: renderResult(result)}},
	})
}

// resolveTool looks the name up across trust levels: the execution registry
// owns local tools, the versioned registry owns namespaced federated tools,
// and the catalog covers anything registered for advertisement only.
func (d *Dispatcher) resolveTool(name string) (registry.Tool, bool) {
	if tool, ok := d.execution.Get(name); ok {
		return tool, true
	}
	if entry, ok := d.versioned.Get(name); ok {
		tool := entry.Tool
		tool.Name = name
		return tool, true
	}
	if tool, ok := d.catalog.Tool(name); ok {
		return tool, true
	}
	return registry.Tool{}, false
}

// validationMessage strips the sentinel prefix so the caller sees only the
// field-level detail ("message is required", not the wrapped chain).
func validationMessage(err error) string {
	return strings.TrimPrefix(err.Error(), meshderrors.ErrValidation.Error()+": ")
}

// renderResult flattens a handler result to text content. Strings pass
// through; anything else is serialized.
func renderResult(result any) string {
	switch v := result.(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		out, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(out)
	}
}

func (d *Dispatcher) handleResourcesList(req *protocol.Request) protocol.Response {
	return protocol.NewResponse(req.ID, map[string]any{"resources": d.catalog.Resources()})
}

type resourcesReadParams struct {
	URI string `json:"uri"`
}

type resourceContent struct {
	URI      string `json:"uri"`
	MimeType string `json:"mimeType,omitempty"`
	Text     string `json:"text"`
}

func (d *Dispatcher) handleResourcesRead(ctx context.Context, req *protocol.Request) protocol.Response {
	var params resourcesReadParams
	if err := json.Unmarshal(req.Params, &params); err != nil || params.URI == "" {
		return protocol.NewErrorResponse(req.ID, protocol.CodeInvalidParams, "", nil)
	}

	res, ok := d.catalog.Resource(params.URI)
	if !ok {
		return protocol.NewErrorResponse(req.ID, protocol.CodeInvalidParams,
			fmt.Sprintf("resource not found: %s", params.URI), nil)
	}

	text := res.Text
	if res.Reader != nil {
		var err error
		text, err = res.Reader(ctx)
		if err != nil {
			d.logger.Error("Resource read failed", "uri", params.URI, "error", err)
			return protocol.NewErrorResponse(req.ID, protocol.CodeInternalError,
				fmt.Sprintf("failed to read resource: %s", params.URI), nil)
		}
	}

	return protocol.NewResponse(req.ID, map[string]any{
		"contents": []resourceContent{{URI: res.URI, MimeType: res.MimeType, Text: text}},
	})
}

func (d *Dispatcher) handlePromptsList(req *protocol.Request) protocol.Response {
	return protocol.NewResponse(req.ID, map[string]any{"prompts": d.catalog.Prompts()})
}

type promptsGetParams struct {
	Name      string            `json:"name"`
	Arguments map[string]string `json:"arguments"`
}

func (d *Dispatcher) handlePromptsGet(req *protocol.Request) protocol.Response {
	var params promptsGetParams
	if err := json.Unmarshal(req.Params, &params); err != nil || params.Name == "" {
		return protocol.NewErrorResponse(req.ID, protocol.CodeInvalidParams, "", nil)
	}

	prompt, ok := d.catalog.Prompt(params.Name)
	if !ok {
		return protocol.NewErrorResponse(req.ID, protocol.CodeInvalidParams,
			fmt.Sprintf("prompt not found: %s", params.Name), nil)
	}

	var messages []registry.PromptMessage
	if prompt.Render != nil {
		var err error
		messages, err = prompt.Render(params.Arguments)
		if err != nil {
			return protocol.NewErrorResponse(req.ID, protocol.CodeInvalidParams,
				fmt.Sprintf("failed to render prompt: %s", err), nil)
		}
	}

	return protocol.NewResponse(req.ID, map[string]any{
		"description": prompt.Description,
		"messages":    messages,
	})
}
