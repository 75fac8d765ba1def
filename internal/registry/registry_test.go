package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agentmesh-ai/meshd/internal/errors"
)

func noopHandler(_ context.Context, _ map[string]any) (any, error) {
	return "ok", nil
}

func TestExecutionRegistry_DuplicateRejected(t *testing.T) {
	t.Parallel()

	r := NewExecutionRegistry()

	require.NoError(t, r.Register(Tool{Name: "echo", Handler: noopHandler}))
	err := r.Register(Tool{Name: "echo", Handler: noopHandler})
	require.ErrorIs(t, err, errors.ErrDuplicateRegistration)

	// First registration still owns the name.
	tool, ok := r.Get("echo")
	require.True(t, ok)
	require.Equal(t, "echo", tool.Name)
	require.Len(t, r.List(), 1)
}

func TestExecutionRegistry_RejectsInvalid(t *testing.T) {
	t.Parallel()

	r := NewExecutionRegistry()
	require.Error(t, r.Register(Tool{Name: "", Handler: noopHandler}))
	require.Error(t, r.Register(Tool{Name: "no-handler"}))
}

func TestCatalogRegistry_LastRegistrationWins(t *testing.T) {
	t.Parallel()

	r := NewCatalogRegistry()

	r.RegisterTool(Tool{Name: "search", Description: "v1"})
	r.RegisterTool(Tool{Name: "search", Description: "v2"})

	tool, ok := r.Tool("search")
	require.True(t, ok)
	require.Equal(t, "v2", tool.Description)
	require.Len(t, r.Tools(), 1)
}

func TestCatalogRegistry_ChangeEvents(t *testing.T) {
	t.Parallel()

	r := NewCatalogRegistry()

	var changes []Change
	r.OnChange(func(c Change) { changes = append(changes, c) })

	r.RegisterTool(Tool{Name: "a"})
	r.RegisterResource(Resource{URI: "file:///a.txt", Name: "a"})
	r.UpdateResource(Resource{URI: "file:///a.txt", Name: "a", Text: "changed"})
	r.RegisterPrompt(Prompt{Name: "p"})
	r.RemoveTool("a")
	r.RemoveTool("a") // absent, no event

	require.Equal(t, []Change{
		{Kind: ChangeTools},
		{Kind: ChangeResources},
		{Kind: ChangeResourceUpdated, URI: "file:///a.txt"},
		{Kind: ChangePrompts},
		{Kind: ChangeTools},
	}, changes)
}

func TestCatalogRegistry_SortedListings(t *testing.T) {
	t.Parallel()

	r := NewCatalogRegistry()
	r.RegisterTool(Tool{Name: "zeta"})
	r.RegisterTool(Tool{Name: "alpha"})
	r.RegisterPrompt(Prompt{Name: "second"})
	r.RegisterPrompt(Prompt{Name: "first"})

	tools := r.Tools()
	require.Equal(t, "alpha", tools[0].Name)
	require.Equal(t, "zeta", tools[1].Name)

	prompts := r.Prompts()
	require.Equal(t, "first", prompts[0].Name)
	require.Equal(t, "second", prompts[1].Name)
}

func TestCatalogRegistry_Subscriptions(t *testing.T) {
	t.Parallel()

	r := NewCatalogRegistry()
	r.Subscribe("file:///x", "client-2")
	r.Subscribe("file:///x", "client-1")
	r.Subscribe("file:///y", "client-1")

	require.Equal(t, []string{"client-1", "client-2"}, r.Subscribers("file:///x"))

	r.Unsubscribe("file:///x", "client-2")
	require.Equal(t, []string{"client-1"}, r.Subscribers("file:///x"))

	r.Unsubscribe("file:///x", "client-1")
	require.Empty(t, r.Subscribers("file:///x"))
}

func TestVersionedRegistry_Namespacing(t *testing.T) {
	t.Parallel()

	r := NewVersionedRegistry()

	require.NoError(t, r.Upsert(VersionedEntry{
		Tool:        Tool{Name: "search"},
		ConnectorID: "conn-a",
		Version:     "1.0.0",
	}))
	require.NoError(t, r.Upsert(VersionedEntry{
		Tool:        Tool{Name: "search"},
		ConnectorID: "conn-b",
		Version:     "2.0.0",
		Scopes:      []string{"read"},
	}))

	// Same tool name under different connectors never collides.
	a, ok := r.Get("conn-a.search")
	require.True(t, ok)
	require.Equal(t, "1.0.0", a.Version)

	b, ok := r.Get("conn-b.search")
	require.True(t, ok)
	require.Equal(t, "2.0.0", b.Version)
	require.Equal(t, []string{"read"}, b.Scopes)

	require.Len(t, r.List(), 2)
}

func TestVersionedRegistry_ReplaceConnector(t *testing.T) {
	t.Parallel()

	r := NewVersionedRegistry()

	require.NoError(t, r.Upsert(VersionedEntry{Tool: Tool{Name: "old"}, ConnectorID: "conn-a"}))
	require.NoError(t, r.Upsert(VersionedEntry{Tool: Tool{Name: "keep"}, ConnectorID: "conn-b"}))

	require.NoError(t, r.ReplaceConnector("conn-a", []VersionedEntry{
		{Tool: Tool{Name: "new1"}, ConnectorID: "conn-a"},
		{Tool: Tool{Name: "new2"}, ConnectorID: "conn-a"},
	}))

	_, ok := r.Get("conn-a.old")
	require.False(t, ok)
	_, ok = r.Get("conn-a.new1")
	require.True(t, ok)
	_, ok = r.Get("conn-b.keep")
	require.True(t, ok)

	// Entries tagged with a different connector id are refused.
	err := r.ReplaceConnector("conn-a", []VersionedEntry{
		{Tool: Tool{Name: "x"}, ConnectorID: "conn-b"},
	})
	require.Error(t, err)
}

func TestVersionedRegistry_RemoveConnector(t *testing.T) {
	t.Parallel()

	r := NewVersionedRegistry()
	require.NoError(t, r.Upsert(VersionedEntry{Tool: Tool{Name: "a"}, ConnectorID: "conn-a"}))
	require.NoError(t, r.Upsert(VersionedEntry{Tool: Tool{Name: "b"}, ConnectorID: "conn-b"}))

	r.RemoveConnector("conn-a")

	require.Len(t, r.List(), 1)
	entries := r.ListConnector("conn-b")
	require.Len(t, entries, 1)
	require.Equal(t, "b", entries[0].Tool.Name)
}
