package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sells-group/vmt-browser/internal/registry"
	"github.com/sells-group/vmt-browser/internal/theme"
)

var themesCmd = &cobra.Command{
	Use:   "themes",
	Short: "List the map themes and their color classes",
	RunE: func(cmd *cobra.Command, _ []string) error {
		formatThemes(os.Stdout, theme.Default().All())
		return nil
	},
}

var townsCmd = &cobra.Command{
	Use:   "towns",
	Short: "List the municipalities in the registry",
	RunE: func(cmd *cobra.Command, _ []string) error {
		formatTowns(os.Stdout, registry.Default().All())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(themesCmd)
	rootCmd.AddCommand(townsCmd)
}

// formatThemes writes each theme followed by its legend buckets.
func formatThemes(out io.Writer, themes []*theme.Theme) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	for i, t := range themes {
		if i > 0 {
			_, _ = fmt.Fprintln(w)
		}
		thresholds := make([]string, len(t.Thresholds))
		for j, v := range t.Thresholds {
			thresholds[j] = strconv.FormatFloat(v, 'f', -1, 64)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\tthresholds [%s]\n", t.ID, t.Name, t.Field, strings.Join(thresholds, ", "))
		for _, b := range t.Buckets {
			_, _ = fmt.Fprintf(w, "\t%s\t%s\t\n", b.Color, b.Label)
		}
	}
	_ = w.Flush()
}

// formatTowns writes the registry as an id/name table.
func formatTowns(out io.Writer, towns []registry.Municipality) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "TOWN_ID\tNAME")
	_, _ = fmt.Fprintln(w, "-------\t----")
	for _, m := range towns {
		_, _ = fmt.Fprintf(w, "%d\t%s\n", m.ID, m.Name)
	}
	_ = w.Flush()
}
