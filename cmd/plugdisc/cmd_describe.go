package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"
)

var describeStyle string

// describeCmd shows one plugin's module details and description
var describeCmd = &cobra.Command{
	Use:   "describe <name>",
	Short: "Show a plugin's module and description",
	Long: `Shows where a plugin was loaded from and renders the markdown in its
optional exported Description constant.`,
	Args: cobra.ExactArgs(1),
	RunE: describePlugin,
}

func init() {
	describeCmd.Flags().StringVar(&describeStyle, "style", "auto", "Markdown style (auto, dark, light, notty)")
}

func describePlugin(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	ext, err := findExtension(ctx, args[0])
	if err != nil {
		return err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", ext.Name)
	fmt.Fprintf(&b, "- **Module:** `%s`\n", ext.Module.Name)
	fmt.Fprintf(&b, "- **Kind:** %s\n", ext.Module.Kind)
	fmt.Fprintf(&b, "- **Path:** `%s`\n\n", ext.Module.Path)
	if ext.Description != "" {
		b.WriteString(ext.Description)
		b.WriteString("\n")
	} else {
		b.WriteString("_No description._\n")
	}

	out, err := renderMarkdown(b.String(), describeStyle)
	if err != nil {
		// Fall back to the raw markdown.
		out = b.String()
	}
	fmt.Fprint(cmd.OutOrStdout(), out)
	return nil
}

func renderMarkdown(md, style string) (string, error) {
	opts := []glamour.TermRendererOption{glamour.WithWordWrap(80)}
	if style == "" || style == "auto" {
		opts = append(opts, glamour.WithAutoStyle())
	} else {
		opts = append(opts, glamour.WithStandardStyle(style))
	}

	renderer, err := glamour.NewTermRenderer(opts...)
	if err != nil {
		return "", err
	}
	return renderer.Render(md)
}
