package main

import (
	"context"
	"fmt"

	"plugdisc/internal/registry"
	"plugdisc/internal/watch"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// watchCmd re-runs discovery whenever the plugin directory changes
var watchCmd = &cobra.Command{
	Use:   "watch [dir]",
	Short: "Re-run discovery whenever the plugin directory changes",
	Long: `Runs an initial discovery pass, then watches the plugin directory and its
package subdirectories. After changes settle (watch.debounce) a fresh pass
runs and its result is printed. Stop with Ctrl-C.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runWatch,
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	root := rootDir(args)
	out := cmd.OutOrStdout()

	var observers []registry.Observer
	store, err := openCatalog(cfg, logger)
	if err != nil {
		logger.Warn("Catalog unavailable, passes not recorded", zap.Error(err))
	} else if store != nil {
		defer store.Close()
		observers = append(observers, store)
	}
	d := newDiscoverer(cfg, logger, observers...)

	report, err := d.DiscoverReport(ctx, root)
	if err != nil {
		return err
	}
	writeReportTable(out, report)

	w, err := watch.New(root, cfg.GetDebounce(), func(ctx context.Context) error {
		report, err := d.DiscoverReport(ctx, root)
		if err != nil {
			return err
		}
		writeReportTable(out, report)
		return nil
	}, logger)
	if err != nil {
		return err
	}
	if err := w.Start(ctx); err != nil {
		return err
	}
	defer w.Stop()

	fmt.Fprintln(out, mutedStyle.Render(fmt.Sprintf("Watching %s for changes...", root)))
	<-ctx.Done()
	return nil
}
