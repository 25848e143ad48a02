package main

import (
	"fmt"
	"time"

	"plugdisc/internal/catalog"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"
)

var historyLimit int

// historyCmd lists recorded discovery passes
var historyCmd = &cobra.Command{
	Use:   "history [pass-id]",
	Short: "Show recorded discovery passes",
	Long: `Lists recent passes from the catalog (catalog.enabled must be true), or
the module outcomes of one pass when a pass ID is given.`,
	Args: cobra.MaximumNArgs(1),
	RunE: showHistory,
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Number of passes to show")
}

func showHistory(cmd *cobra.Command, args []string) error {
	if !cfg.Catalog.Enabled {
		fmt.Fprintln(cmd.OutOrStdout(), mutedStyle.Render("Catalog disabled. Set catalog.enabled: true or PLUGDISC_CATALOG_PATH."))
		return nil
	}

	store, err := catalog.Open(cfg.Catalog.Driver, cfg.Catalog.Path, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	if len(args) == 1 {
		modules, err := store.Modules(ctx, args[0])
		if err != nil {
			return err
		}
		if len(modules) == 0 {
			fmt.Fprintf(out, "No modules recorded for pass %s.\n", args[0])
			return nil
		}
		t := table.New().Border(lipgloss.NormalBorder()).Headers("#", "NAME", "STATUS", "PATH", "ERROR")
		for _, m := range modules {
			t.Row(fmt.Sprint(m.Position), m.Name, m.Status, m.Path, m.Error)
		}
		fmt.Fprintln(out, t.Render())
		return nil
	}

	passes, err := store.Passes(ctx, historyLimit)
	if err != nil {
		return err
	}
	if len(passes) == 0 {
		fmt.Fprintln(out, "No passes recorded.")
		return nil
	}

	t := table.New().Border(lipgloss.NormalBorder()).
		Headers("PASS", "STARTED", "ROOT", "REGISTERED", "FAILED", "DUPLICATES", "DURATION")
	for _, p := range passes {
		t.Row(p.ID, p.StartedAt.Local().Format(time.DateTime), p.Root,
			fmt.Sprint(p.Registered), fmt.Sprint(p.Failed), fmt.Sprint(p.Duplicates),
			(time.Duration(p.DurationMs) * time.Millisecond).String())
	}
	fmt.Fprintln(out, t.Render())
	return nil
}
