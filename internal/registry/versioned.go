package registry

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// VersionedEntry is a federated tool together with its origin and the
// capability scopes granted by the connector manifest.
type VersionedEntry struct {
	Tool        Tool     `json:"tool"`
	ConnectorID string   `json:"connectorId"`
	Version     string   `json:"version"`
	Scopes      []string `json:"scopes,omitempty"`
}

// NamespacedName composes the registry key for a federated tool, so tools
// from different connectors never collide with each other or with local
// tools.
func NamespacedName(connectorID, toolName string) string {
	return connectorID + "." + toolName
}

// VersionedRegistry stores federated tools keyed by "<connectorId>.<tool>".
// It is safe for concurrent use by multiple goroutines.
type VersionedRegistry struct {
	mu        sync.RWMutex
	entries   map[string]VersionedEntry
	listeners []ChangeListener
}

// NewVersionedRegistry creates an empty versioned registry.
func NewVersionedRegistry() *VersionedRegistry {
	return &VersionedRegistry{
		entries: make(map[string]VersionedEntry),
	}
}

// OnChange registers a listener for registry mutations. Listeners fire after
// the mutation is applied, outside the registry lock.
func (r *VersionedRegistry) OnChange(l ChangeListener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, l)
}

func (r *VersionedRegistry) notify() {
	r.mu.RLock()
	listeners := make([]ChangeListener, len(r.listeners))
	copy(listeners, r.listeners)
	r.mu.RUnlock()

	for _, l := range listeners {
		l(Change{Kind: ChangeTools})
	}
}

// Upsert installs or replaces a single federated tool under its namespace.
func (r *VersionedRegistry) Upsert(entry VersionedEntry) error {
	if strings.TrimSpace(entry.ConnectorID) == "" {
		return fmt.Errorf("connector id cannot be empty")
	}
	if strings.TrimSpace(entry.Tool.Name) == "" {
		return fmt.Errorf("tool name cannot be empty")
	}

	key := NamespacedName(entry.ConnectorID, entry.Tool.Name)

	r.mu.Lock()
	r.entries[key] = entry
	r.mu.Unlock()

	r.notify()

	return nil
}

// ReplaceConnector atomically swaps the complete toolset for one connector.
// Tools belonging to other connectors are untouched.
func (r *VersionedRegistry) ReplaceConnector(connectorID string, entries []VersionedEntry) error {
	if strings.TrimSpace(connectorID) == "" {
		return fmt.Errorf("connector id cannot be empty")
	}
	for _, e := range entries {
		if e.ConnectorID != connectorID {
			return fmt.Errorf("entry for connector %q cannot replace tools of %q", e.ConnectorID, connectorID)
		}
	}

	prefix := connectorID + "."

	r.mu.Lock()
	for key := range r.entries {
		if strings.HasPrefix(key, prefix) {
			delete(r.entries, key)
		}
	}
	for _, e := range entries {
		r.entries[NamespacedName(connectorID, e.Tool.Name)] = e
	}
	r.mu.Unlock()

	r.notify()

	return nil
}

// RemoveConnector deletes every tool belonging to the connector.
func (r *VersionedRegistry) RemoveConnector(connectorID string) {
	prefix := connectorID + "."

	r.mu.Lock()
	removed := false
	for key := range r.entries {
		if strings.HasPrefix(key, prefix) {
			delete(r.entries, key)
			removed = true
		}
	}
	r.mu.Unlock()

	if removed {
		r.notify()
	}
}

// Get returns the entry for a namespaced name ("<connectorId>.<tool>").
func (r *VersionedRegistry) Get(namespacedName string) (VersionedEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[namespacedName]
	return e, ok
}

// List returns all entries sorted by namespaced name.
func (r *VersionedRegistry) List() []VersionedEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := make([]string, 0, len(r.entries))
	for key := range r.entries {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	entries := make([]VersionedEntry, 0, len(keys))
	for _, key := range keys {
		entries = append(entries, r.entries[key])
	}

	return entries
}

// ListConnector returns the entries for one connector sorted by tool name.
func (r *VersionedRegistry) ListConnector(connectorID string) []VersionedEntry {
	prefix := connectorID + "."

	r.mu.RLock()
	defer r.mu.RUnlock()

	var entries []VersionedEntry
	for key, e := range r.entries {
		if strings.HasPrefix(key, prefix) {
			entries = append(entries, e)
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Tool.Name < entries[j].Tool.Name })

	return entries
}
