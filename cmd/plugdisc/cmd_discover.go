package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"plugdisc/internal/metrics"
	"plugdisc/internal/registry"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var discoverJSON bool

// discoverCmd runs a single discovery pass
var discoverCmd = &cobra.Command{
	Use:   "discover [dir]",
	Short: "Scan a plugin directory and list the registered extensions",
	Long: `Runs one discovery pass over the plugin directory (default: plugins.dir
from the config) and prints every registered extension followed by the
modules that were skipped.

The command fails only when the directory itself is missing or unreadable.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runDiscover,
}

func init() {
	discoverCmd.Flags().BoolVar(&discoverJSON, "json", false, "Print the pass as JSON")
}

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

func runDiscover(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	report, err := discoverOnce(ctx, rootDir(args))
	if err != nil {
		return err
	}

	if discoverJSON {
		return writeReportJSON(cmd.OutOrStdout(), report)
	}
	writeReportTable(cmd.OutOrStdout(), report)
	return nil
}

// discoverOnce runs a pass and records it in the catalog when enabled.
func discoverOnce(ctx context.Context, root string) (*registry.Report, error) {
	report, err := newDiscoverer(cfg, logger).DiscoverReport(ctx, root)
	if err != nil {
		return nil, err
	}

	store, err := openCatalog(cfg, logger)
	if err != nil {
		logger.Warn("Catalog unavailable, pass not recorded", zap.Error(err))
		return report, nil
	}
	if store != nil {
		defer store.Close()
		if err := store.Record(ctx, report); err != nil {
			logger.Warn("Failed to record discovery pass", zap.Error(err))
		}
	}
	return report, nil
}

type reportJSON struct {
	PassID     string        `json:"pass_id"`
	Root       string        `json:"root"`
	DurationMs int64         `json:"duration_ms"`
	Plugins    []pluginJSON  `json:"plugins"`
	Skipped    []skippedJSON `json:"skipped"`
	Duplicates []string      `json:"duplicates"`
}

type pluginJSON struct {
	Name        string `json:"name"`
	Kind        string `json:"kind"`
	Path        string `json:"path"`
	Description string `json:"description,omitempty"`
}

type skippedJSON struct {
	Module string `json:"module"`
	Path   string `json:"path"`
	Error  string `json:"error"`
}

func writeReportJSON(w io.Writer, report *registry.Report) error {
	out := reportJSON{
		PassID:     report.PassID,
		Root:       report.Root,
		DurationMs: report.Duration.Milliseconds(),
		Plugins:    []pluginJSON{},
		Skipped:    []skippedJSON{},
		Duplicates: []string{},
	}
	for _, ext := range report.Registry.List() {
		out.Plugins = append(out.Plugins, pluginJSON{
			Name:        ext.Name,
			Kind:        string(ext.Module.Kind),
			Path:        ext.Module.Path,
			Description: ext.Description,
		})
	}
	for _, f := range report.Failures {
		out.Skipped = append(out.Skipped, skippedJSON{Module: f.Module, Path: f.Path, Error: f.Err.Error()})
	}
	for _, d := range report.Duplicates {
		out.Duplicates = append(out.Duplicates, d.Name)
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func writeReportTable(w io.Writer, report *registry.Report) {
	fmt.Fprintln(w, headerStyle.Render(fmt.Sprintf("Plugins in %s", report.Root)))

	if report.Registry.Len() == 0 {
		fmt.Fprintln(w, mutedStyle.Render("No plugins registered."))
	} else {
		t := table.New().
			Border(lipgloss.NormalBorder()).
			Headers("NAME", "KIND", "PATH", "DESCRIPTION")
		for _, ext := range report.Registry.List() {
			t.Row(ext.Name, string(ext.Module.Kind), ext.Module.Path, firstLine(ext.Description))
		}
		fmt.Fprintln(w, t.Render())
	}

	if len(report.Failures) > 0 {
		fmt.Fprintln(w, warnStyle.Render(fmt.Sprintf("Skipped %d module(s):", len(report.Failures))))
		for _, f := range report.Failures {
			fmt.Fprintf(w, "  %s: %v\n", f.Module, f.Err)
		}
	}
	if len(report.Duplicates) > 0 {
		fmt.Fprintln(w, mutedStyle.Render(fmt.Sprintf("%d module(s) resolved to an already registered extension.", len(report.Duplicates))))
	}

	fmt.Fprintln(w, mutedStyle.Render(fmt.Sprintf("pass %s: %d registered, %d skipped in %s",
		report.PassID, report.Registry.Len(), len(report.Failures), report.Duration.Round(time.Millisecond))))
}

func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' {
			return s[:i]
		}
	}
	return s
}

// metricsCollector builds the collector used by long-running commands.
func metricsCollector() *metrics.Collector {
	return metrics.NewCollector(metrics.DefaultNamespace, logger)
}
