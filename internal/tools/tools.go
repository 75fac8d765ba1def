// Package tools provides the built-in tool set registered at bootstrap. The
// handlers are deliberately small; they exist so a fresh instance exposes a
// working tool surface before any connector publishes.
package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/agentmesh-ai/meshd/internal/registry"
	"github.com/agentmesh-ai/meshd/internal/schema"
)

// Builtins returns the built-in tool definitions.
func Builtins() []registry.Tool {
	return []registry.Tool{
		{
			Name:        "echo",
			Description: "Echoes the provided message back to the caller",
			InputSchema: schema.InputSchema{
				Required: []string{"message"},
				Properties: map[string]schema.Property{
					"message": {Type: "string", MaxLength: 4096},
				},
			},
			Handler: func(_ context.Context, args map[string]any) (any, error) {
				message, _ := args["message"].(string)
				return message, nil
			},
		},
		{
			Name:        "time",
			Description: "Returns the current server time",
			InputSchema: schema.InputSchema{
				Properties: map[string]schema.Property{
					"format": {Type: "string", MaxLength: 64},
				},
			},
			Handler: func(_ context.Context, args map[string]any) (any, error) {
				format := time.RFC3339
				if f, ok := args["format"].(string); ok && f != "" {
					format = f
				}
				return time.Now().UTC().Format(format), nil
			},
		},
	}
}

// Register installs the built-ins into both trust levels: the execution
// registry as owner, and the catalog registry for advertisement.
func Register(execution *registry.ExecutionRegistry, catalog *registry.CatalogRegistry) error {
	for _, tool := range Builtins() {
		if err := execution.Register(tool); err != nil {
			return fmt.Errorf("failed to register builtin tool '%s': %w", tool.Name, err)
		}
		catalog.RegisterTool(tool)
	}
	return nil
}
