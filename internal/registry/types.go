// Package registry provides the in-memory catalogs for tools, resources and
// prompts. Two trust levels coexist: a strict, duplicate-rejecting execution
// registry for in-process tool ownership, and a permissive catalog registry
// for the protocol surface where redeployed definitions replace prior ones.
// A versioned registry additionally namespaces federated tools by connector.
package registry

import (
	"context"

	"github.com/agentmesh-ai/meshd/internal/schema"
)

// ToolHandler executes a tool with arguments that have already passed the
// tool's declared schema. Implementations may return a typed error which the
// dispatcher reports as a tool-layer failure; the context carries
// cancellation for any I/O the handler performs.
type ToolHandler func(ctx context.Context, args map[string]any) (any, error)

// Tool is a callable tool definition plus its handler.
type Tool struct {
	Name        string             `json:"name"`
	Description string             `json:"description,omitempty"`
	InputSchema schema.InputSchema `json:"inputSchema"`

	// Handler is nil for purely advertised (federated) tools whose execution
	// happens on the owning connector.
	Handler ToolHandler `json:"-"`
}

// Resource is a readable resource definition.
type Resource struct {
	URI         string `json:"uri"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`

	// Text is served for static resources. Reader, when set, takes precedence
	// and is invoked per read.
	Text   string                                    `json:"-"`
	Reader func(ctx context.Context) (string, error) `json:"-"`
}

// PromptArgument describes a single templated prompt argument.
type PromptArgument struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Required    bool   `json:"required,omitempty"`
}

// PromptMessage is one rendered message of a prompt template.
type PromptMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Prompt is a prompt template definition.
type Prompt struct {
	Name        string           `json:"name"`
	Description string           `json:"description,omitempty"`
	Arguments   []PromptArgument `json:"arguments,omitempty"`

	// Render produces the prompt messages for the given arguments.
	Render func(args map[string]string) ([]PromptMessage, error) `json:"-"`
}

// ChangeKind identifies which catalog mutated.
type ChangeKind string

const (
	ChangeTools           ChangeKind = "tools.list_changed"
	ChangeResources       ChangeKind = "resources.list_changed"
	ChangeResourceUpdated ChangeKind = "resources.updated"
	ChangePrompts         ChangeKind = "prompts.list_changed"
)

// Change describes a catalog mutation for interested listeners.
type Change struct {
	Kind ChangeKind
	// URI is set for ChangeResourceUpdated only.
	URI string
}

// ChangeListener observes catalog mutations. Listeners run synchronously on
// the mutating call and must not block.
type ChangeListener func(Change)
