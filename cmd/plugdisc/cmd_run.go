package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"plugdisc/internal/plugin"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var runTimeout time.Duration

// runCmd discovers plugins and invokes one of them
var runCmd = &cobra.Command{
	Use:   "run <name> [input...]",
	Short: "Invoke a discovered plugin",
	Long: `Runs a discovery pass, then calls the named extension with the remaining
arguments joined by spaces as its input. The handler's output is printed.

Example:
  plugdisc run upper hello world`,
	Args: cobra.MinimumNArgs(1),
	RunE: runPlugin,
}

func init() {
	runCmd.Flags().DurationVar(&runTimeout, "timeout", 30*time.Second, "Invocation timeout")
}

func runPlugin(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	ext, err := findExtension(ctx, args[0])
	if err != nil {
		return err
	}

	input := strings.Join(args[1:], " ")
	if runTimeout > 0 {
		var stop context.CancelFunc
		ctx, stop = context.WithTimeout(ctx, runTimeout)
		defer stop()
	}

	logger.Debug("Invoking plugin", zap.String("plugin", ext.Name), zap.Int("input_len", len(input)))
	out, err := ext.Invoke(ctx, input)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), out)
	return nil
}

// findExtension runs a pass over the configured directory and looks up name.
func findExtension(ctx context.Context, name string) (*plugin.Extension, error) {
	reg, err := newDiscoverer(cfg, logger).Discover(ctx, cfg.Plugins.Dir)
	if err != nil {
		return nil, err
	}
	ext, ok := reg.Get(name)
	if !ok {
		return nil, fmt.Errorf("plugin %q not found in %s (available: %s)",
			name, cfg.Plugins.Dir, strings.Join(reg.Names(), ", "))
	}
	return ext, nil
}
