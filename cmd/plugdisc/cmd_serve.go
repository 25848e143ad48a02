package main

import (
	"context"

	"plugdisc/internal/registry"
	"plugdisc/internal/server"
	"plugdisc/internal/watch"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	serveListen  string
	serveNoWatch bool
)

// serveCmd exposes the registry over HTTP
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve discovered plugins over HTTP",
	Long: `Runs discovery and serves the registry:

  GET  /healthz
  GET  /plugins
  GET  /plugins/{name}
  POST /plugins/{name}/invoke   {"input": "..."}
  GET  /metrics

Unless --no-watch is given, the plugin directory is watched and the served
registry is replaced after every pass.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveListen, "listen", "", "Listen address (overrides server.listen)")
	serveCmd.Flags().BoolVar(&serveNoWatch, "no-watch", false, "Do not watch the plugin directory")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	addr := cfg.Server.Listen
	if serveListen != "" {
		addr = serveListen
	}
	root := cfg.Plugins.Dir

	collector := metricsCollector()
	srv := server.New(nil, server.WithMetrics(collector.Handler()), server.WithLogger(logger))

	observers := []registry.Observer{collector, srv}
	store, err := openCatalog(cfg, logger)
	if err != nil {
		logger.Warn("Catalog unavailable, passes not recorded", zap.Error(err))
	} else if store != nil {
		defer store.Close()
		observers = append(observers, store)
	}
	d := newDiscoverer(cfg, logger, observers...)

	if _, err := d.DiscoverReport(ctx, root); err != nil {
		return err
	}

	if !serveNoWatch {
		w, err := watch.New(root, cfg.GetDebounce(), func(ctx context.Context) error {
			_, err := d.DiscoverReport(ctx, root)
			return err
		}, logger)
		if err != nil {
			return err
		}
		if err := w.Start(ctx); err != nil {
			return err
		}
		defer w.Stop()
	}

	return srv.ListenAndServe(ctx, addr)
}
