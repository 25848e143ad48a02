package loader

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"plugdisc/internal/plugin"
)

// ErrUnknownModule is wrapped by Static when no extension is registered
// under a module's name.
var ErrUnknownModule = errors.New("no extension registered for module")

// Static resolves modules against extensions compiled into the host.
// Several module names may point at one extension via Alias; a discovery
// pass then sees the same *plugin.Extension twice and keeps one entry.
type Static struct {
	mu     sync.RWMutex
	byName map[string]*plugin.Extension
}

// NewStatic creates an empty static loader.
func NewStatic() *Static {
	return &Static{byName: make(map[string]*plugin.Extension)}
}

// Register adds an extension under name and returns it. Registering the
// same name twice is a programmer error and panics.
func (s *Static) Register(name, description string, fn plugin.HandlerFunc) *plugin.Extension {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byName[name]; exists {
		panic(fmt.Sprintf("extension with name '%s' already registered", name))
	}
	ext := &plugin.Extension{
		Name:        name,
		Module:      plugin.ModuleRef{Name: name, Kind: plugin.KindBuiltin},
		Description: description,
		Handler:     fn,
	}
	s.byName[name] = ext
	return ext
}

// Alias makes alias resolve to the extension registered as target.
func (s *Static) Alias(alias, target string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ext, ok := s.byName[target]
	if !ok {
		return fmt.Errorf("alias %s: %w: %s", alias, ErrUnknownModule, target)
	}
	if _, exists := s.byName[alias]; exists {
		return fmt.Errorf("alias %s: name already registered", alias)
	}
	s.byName[alias] = ext
	return nil
}

// Load returns the extension registered under ref.Name.
func (s *Static) Load(ctx context.Context, ref plugin.ModuleRef) (*plugin.Extension, error) {
	if err := ctx.Err(); err != nil {
		return nil, plugin.NewLoadError(ref, err)
	}

	s.mu.RLock()
	ext, ok := s.byName[ref.Name]
	s.mu.RUnlock()

	if !ok {
		return nil, plugin.NewLoadError(ref, ErrUnknownModule)
	}
	return ext, nil
}
