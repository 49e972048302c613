package tools

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
)

// Registry is a concurrency-safe store of tool descriptors keyed by name.
// Registering an existing name replaces the descriptor (upsert). Listings
// preserve registration order, which downstream ranking uses as a stable
// tiebreak.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
	order []string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register validates and stores a tool. An existing entry with the same
// name is replaced wholesale and keeps its original position.
func (r *Registry) Register(t Tool) error {
	if err := t.Validate(); err != nil {
		return fmt.Errorf("register tool: %w", err)
	}
	r.mu.Lock()
	_, replaced := r.tools[t.Name]
	if !replaced {
		r.order = append(r.order, t.Name)
	}
	r.tools[t.Name] = t.clone()
	r.mu.Unlock()

	log.Debug().
		Str("tool", t.Name).
		Str("category", t.Category).
		Bool("replaced", replaced).
		Msg("Tool registered")
	return nil
}

// Unregister removes a tool by name and reports whether it was present.
func (r *Registry) Unregister(name string) bool {
	r.mu.Lock()
	_, ok := r.tools[name]
	if ok {
		delete(r.tools, name)
		for i, n := range r.order {
			if n == name {
				r.order = append(r.order[:i], r.order[i+1:]...)
				break
			}
		}
	}
	r.mu.Unlock()
	if ok {
		log.Debug().Str("tool", name).Msg("Tool unregistered")
	}
	return ok
}

// Get returns a copy of the named tool.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	t, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return Tool{}, false
	}
	return t.clone(), true
}

// Has reports whether a tool with the given name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	_, ok := r.tools[name]
	r.mu.RUnlock()
	return ok
}

// SetEnabled flips a tool's enabled flag. Returns false if the tool is
// unknown.
func (r *Registry) SetEnabled(name string, enabled bool) bool {
	r.mu.Lock()
	t, ok := r.tools[name]
	if ok {
		t.Enabled = enabled
		r.tools[name] = t
	}
	r.mu.Unlock()
	return ok
}

// All returns every registered tool, disabled ones included, in
// registration order.
func (r *Registry) All() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name].clone())
	}
	return out
}

// Enabled returns only tools whose Enabled flag is set, in registration
// order.
func (r *Registry) Enabled() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Tool
	for _, name := range r.order {
		if t := r.tools[name]; t.Enabled {
			out = append(out, t.clone())
		}
	}
	return out
}

// ByCategory returns tools whose category matches exactly, disabled
// included, in registration order.
func (r *Registry) ByCategory(category string) []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Tool
	for _, name := range r.order {
		if t := r.tools[name]; t.Category == category {
			out = append(out, t.clone())
		}
	}
	return out
}

// ByTags returns tools matching ANY of the given tags, in registration
// order.
func (r *Registry) ByTags(tags []string) []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Tool
	for _, name := range r.order {
		t := r.tools[name]
		for _, tag := range tags {
			if t.HasTag(tag) {
				out = append(out, t.clone())
				break
			}
		}
	}
	return out
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Stats summarizes registry contents.
type Stats struct {
	Total      int            `json:"total"`
	Enabled    int            `json:"enabled"`
	Categories map[string]int `json:"categories"`
	Tags       map[string]int `json:"tags"`
}

// Stats returns aggregate counts across the registry.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s := Stats{
		Total:      len(r.tools),
		Categories: make(map[string]int),
		Tags:       make(map[string]int),
	}
	for _, t := range r.tools {
		if t.Enabled {
			s.Enabled++
		}
		if t.Category != "" {
			s.Categories[t.Category]++
		}
		for _, tag := range t.Tags {
			s.Tags[tag]++
		}
	}
	return s
}
