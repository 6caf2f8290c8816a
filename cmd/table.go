package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/vmt-browser/internal/aggregate"
	"github.com/sells-group/vmt-browser/internal/dataset"
	"github.com/sells-group/vmt-browser/internal/registry"
)

var (
	tableYear   int
	tableFamily string
)

var tableCmd = &cobra.Command{
	Use:   "table <municipality>",
	Short: "Print the per-class, per-period tables for one municipality",
	Long:  "Loads one year's table and prints the aggregated rows for a municipality given by TOWN_ID or name.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		town, err := resolveMunicipality(registry.Default(), args[0])
		if err != nil {
			return err
		}

		year := dataset.Year(tableYear)
		if year == 0 {
			year = dataset.Year(cfg.Data.DefaultYear)
		}

		var families []dataset.Family
		if tableFamily != "" {
			f, ok := dataset.ParseFamily(tableFamily)
			if !ok {
				return eris.Errorf("unknown family %q", tableFamily)
			}
			families = []dataset.Family{f}
		}

		agg, err := newAggregator()
		if err != nil {
			return err
		}

		env, err := initEnv(ctx, nil)
		if err != nil {
			return err
		}
		defer env.Close()

		t, _, err := env.Loader.LoadYear(ctx, year)
		if err != nil {
			return eris.Wrap(err, "table")
		}
		rec, ok := t.Lookup(town.ID)
		if !ok {
			_, _ = fmt.Fprintf(os.Stdout, "No %d data for %s.\n", year, town.Name)
			return nil
		}

		var results []aggregate.Result
		if families == nil {
			results, err = agg.AggregateAll(rec)
		} else {
			var r aggregate.Result
			r, err = agg.Aggregate(rec, families[0])
			results = []aggregate.Result{r}
		}
		if err != nil {
			return eris.Wrap(err, "table")
		}

		for i, r := range results {
			if i > 0 {
				_, _ = fmt.Fprintln(os.Stdout)
			}
			formatAggregate(os.Stdout, r, agg)
		}
		return nil
	},
}

func init() {
	tableCmd.Flags().IntVar(&tableYear, "year", 0, "forecast year (default from config)")
	tableCmd.Flags().StringVar(&tableFamily, "family", "", "metric family (VMT, VHT, VOC, NOX, CO, CO2); default all present")
	rootCmd.AddCommand(tableCmd)
}

// resolveMunicipality accepts a TOWN_ID or a case-insensitive name.
func resolveMunicipality(reg *registry.Registry, arg string) (registry.Municipality, error) {
	if id, err := registry.ParseID(arg); err == nil {
		m, ok := reg.Lookup(id)
		if !ok {
			return registry.Municipality{}, eris.Errorf("municipality %d is not in the registry", id)
		}
		return m, nil
	}
	for _, m := range reg.All() {
		if strings.EqualFold(m.Name, arg) || strings.EqualFold(m.Canonical, arg) {
			return m, nil
		}
	}
	return registry.Municipality{}, eris.Errorf("unknown municipality %q", arg)
}

// formatAggregate writes one family table with its title and any total
// discrepancy.
func formatAggregate(out io.Writer, r aggregate.Result, agg *aggregate.Aggregator) {
	_, _ = fmt.Fprintln(out, r.Title)
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', tabwriter.AlignRight)
	_, _ = fmt.Fprintln(w, "\t"+strings.Join(r.Headers, "\t")+"\t")
	for _, row := range r.Rows {
		_, _ = fmt.Fprintln(w, row.Label+"\t"+strings.Join(row.Cells, "\t")+"\t")
	}
	_ = w.Flush()
	if d := r.Discrepancy; d != nil {
		_, _ = fmt.Fprintf(out, "note: supplied total %s differs from the component sum %s\n",
			agg.Format(d.Supplied), agg.Format(d.Recomputed))
	}
}
