// Package loader turns module references into extensions.
//
// Two loaders are provided. Interpreter evaluates plugin source with yaegi
// and resolves a well-known accessor function. Static resolves modules
// against extensions compiled into the host and registered explicitly.
package loader

import (
	"context"

	"plugdisc/internal/plugin"
)

// DefaultAccessor is the function every plugin module must export.
const DefaultAccessor = "Handler"

// DescriptionSymbol is an optional exported string describing the plugin.
const DescriptionSymbol = "Description"

// Loader resolves one module reference to its extension point. Failures
// are returned as *plugin.LoadError.
type Loader interface {
	Load(ctx context.Context, ref plugin.ModuleRef) (*plugin.Extension, error)
}

// Func adapts a function to the Loader interface.
type Func func(ctx context.Context, ref plugin.ModuleRef) (*plugin.Extension, error)

func (f Func) Load(ctx context.Context, ref plugin.ModuleRef) (*plugin.Extension, error) {
	return f(ctx, ref)
}
