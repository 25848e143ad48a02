// Package registry runs discovery passes and holds their results.
//
// A Registry is an insertion-ordered set of extensions. It is built once per
// discovery pass by a Discoverer and treated as read-only afterwards; the
// host threads it through its own components instead of relying on a
// package-level global.
package registry

import (
	"sync"

	"plugdisc/internal/plugin"
)

// Registry holds the extensions of one discovery pass.
type Registry struct {
	mu      sync.RWMutex
	entries []*plugin.Extension
	index   map[*plugin.Extension]struct{}
	byName  map[string]*plugin.Extension
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		index:  make(map[*plugin.Extension]struct{}),
		byName: make(map[string]*plugin.Extension),
	}
}

// Add appends ext unless the same extension is already present. It reports
// whether ext was inserted. Safe for concurrent use.
func (r *Registry) Add(ext *plugin.Extension) bool {
	if ext == nil {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.index[ext]; exists {
		return false
	}
	r.index[ext] = struct{}{}
	r.entries = append(r.entries, ext)
	if _, taken := r.byName[ext.Name]; !taken {
		r.byName[ext.Name] = ext
	}
	return true
}

// List returns the extensions in insertion order. The slice is a copy.
func (r *Registry) List() []*plugin.Extension {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*plugin.Extension, len(r.entries))
	copy(result, r.entries)
	return result
}

// Names returns extension names in insertion order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, len(r.entries))
	for i, e := range r.entries {
		names[i] = e.Name
	}
	return names
}

// Len returns the number of extensions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Get returns the first extension registered under name.
func (r *Registry) Get(name string) (*plugin.Extension, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ext, ok := r.byName[name]
	return ext, ok
}

// Contains reports whether ext itself is registered.
func (r *Registry) Contains(ext *plugin.Extension) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.index[ext]
	return ok
}
