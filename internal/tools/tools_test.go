package tools

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agentmesh-ai/meshd/internal/registry"
)

func TestRegister(t *testing.T) {
	t.Parallel()

	execution := registry.NewExecutionRegistry()
	catalog := registry.NewCatalogRegistry()

	require.NoError(t, Register(execution, catalog))

	for _, name := range []string{"echo", "time"} {
		_, ok := execution.Get(name)
		require.True(t, ok, "expected %q in execution registry", name)
		_, ok = catalog.Tool(name)
		require.True(t, ok, "expected %q in catalog registry", name)
	}

	// Registering twice collides in the first-wins execution registry.
	require.Error(t, Register(execution, catalog))
}

func TestEchoTool(t *testing.T) {
	t.Parallel()

	execution := registry.NewExecutionRegistry()
	require.NoError(t, Register(execution, registry.NewCatalogRegistry()))

	echo, ok := execution.Get("echo")
	require.True(t, ok)

	require.NoError(t, echo.InputSchema.Validate(map[string]any{"message": "hello"}))
	require.Error(t, echo.InputSchema.Validate(map[string]any{}))

	out, err := echo.Handler(context.Background(), map[string]any{"message": "hello"})
	require.NoError(t, err)
	require.Equal(t, "hello", out)
}

func TestTimeTool(t *testing.T) {
	t.Parallel()

	execution := registry.NewExecutionRegistry()
	require.NoError(t, Register(execution, registry.NewCatalogRegistry()))

	clock, ok := execution.Get("time")
	require.True(t, ok)

	out, err := clock.Handler(context.Background(), map[string]any{"format": "2006-01-02"})
	require.NoError(t, err)
	require.Len(t, out, len("2006-01-02"))

	out, err = clock.Handler(context.Background(), map[string]any{})
	require.NoError(t, err)
	require.NotEmpty(t, out)
}
