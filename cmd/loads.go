package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/vmt-browser/internal/monitoring"
	"github.com/sells-group/vmt-browser/internal/store"
)

var loadsCmd = &cobra.Command{
	Use:   "loads",
	Short: "Inspect dataset load history",
	Long:  "Commands for listing and summarizing the loads recorded in the cache store.",
}

// -- loads list --

var loadsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded loads",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		status, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")

		loads, err := st.ListLoads(ctx, store.LoadFilter{Status: store.LoadStatus(status), Limit: limit})
		if err != nil {
			return eris.Wrap(err, "loads list")
		}

		if len(loads) == 0 {
			fmt.Fprintln(os.Stderr, "No loads found.")
			return nil
		}

		formatLoadsList(os.Stdout, loads)
		return nil
	},
}

// -- loads stats --

var loadsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show load health over a time window",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		since, _ := cmd.Flags().GetDuration("since")
		asJSON, _ := cmd.Flags().GetBool("json")

		snap, err := monitoring.NewCollector(st, nil).Collect(ctx, max(1, int(since.Hours())))
		if err != nil {
			return eris.Wrap(err, "loads stats")
		}

		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(snap)
		}
		formatLoadStats(os.Stdout, snap)
		return nil
	},
}

func init() {
	loadsListCmd.Flags().String("status", "", "filter by load status (running, complete, failed)")
	loadsListCmd.Flags().Int("limit", 50, "max number of loads to display")

	loadsStatsCmd.Flags().Duration("since", 24*time.Hour, "time window for stats (e.g. 24h, 72h, 168h)")
	loadsStatsCmd.Flags().Bool("json", false, "print the snapshot as JSON")

	loadsCmd.AddCommand(loadsListCmd)
	loadsCmd.AddCommand(loadsStatsCmd)
	rootCmd.AddCommand(loadsCmd)
}

// formatLoadsList writes a tabular list of loads to out.
func formatLoadsList(out io.Writer, loads []store.Load) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tYEARS\tSTATUS\tWARNINGS\tSTARTED\tDURATION\tERROR")
	_, _ = fmt.Fprintln(w, "--\t-----\t------\t--------\t-------\t--------\t-----")

	for _, l := range loads {
		id := l.ID
		if len(id) > 8 {
			id = id[:8]
		}
		years := make([]string, len(l.Years))
		for i, y := range l.Years {
			years[i] = strconv.Itoa(y)
		}
		dur := "-"
		if l.FinishedAt != nil {
			dur = l.FinishedAt.Sub(l.StartedAt).Round(time.Millisecond).String()
		}
		errMsg := l.Error
		if len(errMsg) > 60 {
			errMsg = errMsg[:57] + "..."
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
			id,
			strings.Join(years, ","),
			l.Status,
			l.Warnings,
			l.StartedAt.Format("2006-01-02 15:04"),
			dur,
			errMsg,
		)
	}
	_ = w.Flush()
}

// formatLoadStats writes a load health summary to out.
func formatLoadStats(out io.Writer, s *monitoring.Snapshot) {
	_, _ = fmt.Fprintf(out, "Load stats (last %dh)\n", s.LookbackHours)
	_, _ = fmt.Fprintln(out, "--------------------")
	_, _ = fmt.Fprintf(out, "Total:      %d\n", s.LoadsTotal)
	_, _ = fmt.Fprintf(out, "Complete:   %d\n", s.LoadsComplete)
	_, _ = fmt.Fprintf(out, "Failed:     %d\n", s.LoadsFailed)
	_, _ = fmt.Fprintf(out, "Running:    %d\n", s.LoadsRunning)
	_, _ = fmt.Fprintf(out, "Fail rate:  %.1f%%\n", s.FailRate*100)
	_, _ = fmt.Fprintf(out, "Warnings:   %d\n", s.Warnings)
	if s.LastStatus != "" {
		_, _ = fmt.Fprintf(out, "Last load:  %s\n", s.LastStatus)
	}
	if s.LastError != "" {
		_, _ = fmt.Fprintf(out, "Last error: %s\n", s.LastError)
	}
}
