package registry

import (
	"sort"
	"sync"
)

// CatalogRegistry is the permissive, protocol-facing catalog of tools,
// resources and prompts, plus resource subscriptions. Registration is
// last-wins: redeployed definitions are expected to replace prior ones, so a
// key always maps to exactly one current definition.
// It is safe for concurrent use by multiple goroutines.
type CatalogRegistry struct {
	mu            sync.RWMutex
	tools         map[string]Tool
	resources     map[string]Resource
	prompts       map[string]Prompt
	subscriptions map[string]map[string]struct{}
	listeners     []ChangeListener
}

// NewCatalogRegistry creates an empty catalog registry.
func NewCatalogRegistry() *CatalogRegistry {
	return &CatalogRegistry{
		tools:         make(map[string]Tool),
		resources:     make(map[string]Resource),
		prompts:       make(map[string]Prompt),
		subscriptions: make(map[string]map[string]struct{}),
	}
}

// OnChange registers a listener for catalog mutations. Listeners fire after
// the mutation is applied, outside the registry lock.
func (r *CatalogRegistry) OnChange(l ChangeListener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, l)
}

func (r *CatalogRegistry) notify(c Change) {
	r.mu.RLock()
	listeners := make([]ChangeListener, len(r.listeners))
	copy(listeners, r.listeners)
	r.mu.RUnlock()

	for _, l := range listeners {
		l(c)
	}
}

// RegisterTool installs or replaces a tool definition.
func (r *CatalogRegistry) RegisterTool(tool Tool) {
	r.mu.Lock()
	r.tools[tool.Name] = tool
	r.mu.Unlock()

	r.notify(Change{Kind: ChangeTools})
}

// RemoveTool deletes a tool definition if present.
func (r *CatalogRegistry) RemoveTool(name string) {
	r.mu.Lock()
	_, existed := r.tools[name]
	delete(r.tools, name)
	r.mu.Unlock()

	if existed {
		r.notify(Change{Kind: ChangeTools})
	}
}

// Tool returns the tool for the given name.
func (r *CatalogRegistry) Tool(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Tools returns all catalog tools sorted by name.
func (r *CatalogRegistry) Tools() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tools := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		tools = append(tools, t)
	}
	sort.Slice(tools, func(i, j int) bool { return tools[i].Name < tools[j].Name })

	return tools
}

// RegisterResource installs or replaces a resource definition.
func (r *CatalogRegistry) RegisterResource(res Resource) {
	r.mu.Lock()
	r.resources[res.URI] = res
	r.mu.Unlock()

	r.notify(Change{Kind: ChangeResources})
}

// UpdateResource replaces a resource in place and signals subscribers that
// its content changed, without a list-changed event.
func (r *CatalogRegistry) UpdateResource(res Resource) {
	r.mu.Lock()
	r.resources[res.URI] = res
	r.mu.Unlock()

	r.notify(Change{Kind: ChangeResourceUpdated, URI: res.URI})
}

// Resource returns the resource for the given URI.
func (r *CatalogRegistry) Resource(uri string) (Resource, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res, ok := r.resources[uri]
	return res, ok
}

// Resources returns all catalog resources sorted by URI.
func (r *CatalogRegistry) Resources() []Resource {
	r.mu.RLock()
	defer r.mu.RUnlock()

	resources := make([]Resource, 0, len(r.resources))
	for _, res := range r.resources {
		resources = append(resources, res)
	}
	sort.Slice(resources, func(i, j int) bool { return resources[i].URI < resources[j].URI })

	return resources
}

// RegisterPrompt installs or replaces a prompt template.
func (r *CatalogRegistry) RegisterPrompt(p Prompt) {
	r.mu.Lock()
	r.prompts[p.Name] = p
	r.mu.Unlock()

	r.notify(Change{Kind: ChangePrompts})
}

// Prompt returns the prompt for the given name.
func (r *CatalogRegistry) Prompt(name string) (Prompt, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.prompts[name]
	return p, ok
}

// Prompts returns all catalog prompts sorted by name.
func (r *CatalogRegistry) Prompts() []Prompt {
	r.mu.RLock()
	defer r.mu.RUnlock()

	prompts := make([]Prompt, 0, len(r.prompts))
	for _, p := range r.prompts {
		prompts = append(prompts, p)
	}
	sort.Slice(prompts, func(i, j int) bool { return prompts[i].Name < prompts[j].Name })

	return prompts
}

// Subscribe records a subscriber for resource-update events on a URI.
func (r *CatalogRegistry) Subscribe(uri, subscriberID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.subscriptions[uri] == nil {
		r.subscriptions[uri] = make(map[string]struct{})
	}
	r.subscriptions[uri][subscriberID] = struct{}{}
}

// Unsubscribe removes a subscriber from a URI.
func (r *CatalogRegistry) Unsubscribe(uri, subscriberID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if subs, ok := r.subscriptions[uri]; ok {
		delete(subs, subscriberID)
		if len(subs) == 0 {
			delete(r.subscriptions, uri)
		}
	}
}

// Subscribers returns the subscriber ids for a URI, sorted.
func (r *CatalogRegistry) Subscribers(uri string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	subs := make([]string, 0, len(r.subscriptions[uri]))
	for id := range r.subscriptions[uri] {
		subs = append(subs, id)
	}
	sort.Strings(subs)

	return subs
}
