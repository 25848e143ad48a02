package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"plugdisc/internal/catalog"
	"plugdisc/internal/config"
	"plugdisc/internal/loader"
	"plugdisc/internal/registry"
	"plugdisc/internal/scanner"

	"go.uber.org/zap"
)

// newDiscoverer wires scanner and interpreter from configuration.
func newDiscoverer(c *config.Config, log *zap.Logger, observers ...registry.Observer) *registry.Discoverer {
	sc := scanner.New(
		scanner.WithReservedNames(c.Plugins.ReservedNames...),
		scanner.WithReservedSuffixes(c.Plugins.ReservedSuffixes...),
		scanner.WithSorted(c.Plugins.Sorted),
		scanner.WithLogger(log),
	)
	ld := loader.NewInterpreter(
		loader.WithAccessor(c.Plugins.Accessor),
		loader.WithAllowedImports(c.Loader.AllowedImports...),
		loader.WithLoadTimeout(c.GetLoadTimeout()),
		loader.WithLogger(log),
	)

	opts := []registry.Option{
		registry.WithLogger(log),
		registry.WithParallelism(c.Plugins.Parallelism),
	}
	for _, o := range observers {
		opts = append(opts, registry.WithObserver(o))
	}
	return registry.NewDiscoverer(sc, ld, opts...)
}

// openCatalog opens the pass history when enabled. It returns nil, nil
// when the catalog is disabled.
func openCatalog(c *config.Config, log *zap.Logger) (*catalog.Store, error) {
	if !c.Catalog.Enabled {
		return nil, nil
	}
	return catalog.Open(c.Catalog.Driver, c.Catalog.Path, log)
}

// rootDir returns the plugin directory from args or configuration.
func rootDir(args []string) string {
	if len(args) > 0 && args[0] != "" {
		return args[0]
	}
	return cfg.Plugins.Dir
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
