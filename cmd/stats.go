package main

import (
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show aggregate tender statistics",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		stats, err := st.Statistics(ctx)
		if err != nil {
			return eris.Wrap(err, "stats")
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintf(w, "Total tenders:\t%d\n", stats.TotalTenders)
		_, _ = fmt.Fprintf(w, "Active:\t%d\n", stats.ActiveTenders)
		_, _ = fmt.Fprintf(w, "Closed:\t%d\n", stats.ClosedTenders)
		_, _ = fmt.Fprintf(w, "Enriched:\t%d\n", stats.EnrichedTenders)
		_, _ = fmt.Fprintf(w, "Attachments:\t%d\n", stats.TotalAttachments)
		_, _ = fmt.Fprintf(w, "  Downloaded:\t%d\n", stats.DownloadedAttachments)
		_, _ = fmt.Fprintf(w, "Avg quality score:\t%.2f\n", stats.AvgQualityScore)

		platforms := make([]string, 0, len(stats.PlatformBreakdown))
		for p := range stats.PlatformBreakdown {
			platforms = append(platforms, p)
		}
		sort.Strings(platforms)
		for _, p := range platforms {
			_, _ = fmt.Fprintf(w, "  %s:\t%d\n", p, stats.PlatformBreakdown[p])
		}
		_ = w.Flush()
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statsCmd)
}
