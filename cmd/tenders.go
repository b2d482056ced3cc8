package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/garescout/tender-cli/internal/model"
)

var tendersCmd = &cobra.Command{
	Use:   "tenders",
	Short: "Inspect tracked tenders",
}

var tendersListCmd = &cobra.Command{
	Use:   "list <platform>",
	Short: "List open tenders for a platform",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		tenders, err := st.ListOpenTenders(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "tenders list")
		}

		if len(tenders) == 0 {
			fmt.Fprintln(os.Stderr, "No open tenders.")
			return nil
		}

		formatTenders(os.Stdout, tenders)
		return nil
	},
}

var tendersShowCmd = &cobra.Command{
	Use:   "show <platform> <identity-key>",
	Short: "Show one tender with its attachments and enrichment",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		tender, err := st.GetTender(ctx, args[0], args[1])
		if err != nil {
			return eris.Wrap(err, "tenders show")
		}
		if tender == nil {
			return eris.Errorf("no tender %s on platform %s", args[1], args[0])
		}

		attachments, err := st.ListAttachments(ctx, tender.IdentityKey)
		if err != nil {
			return eris.Wrap(err, "tenders show")
		}
		enrichment, err := st.GetEnrichment(ctx, tender.IdentityKey)
		if err != nil {
			return eris.Wrap(err, "tenders show")
		}

		out := struct {
			Tender      *model.Tender           `json:"tender"`
			Attachments []model.Attachment      `json:"attachments,omitempty"`
			Enrichment  *model.EnrichmentRecord `json:"enrichment,omitempty"`
		}{tender, attachments, enrichment}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	},
}

// formatTenders writes a tabular list of tenders to w.
func formatTenders(out io.Writer, tenders []model.Tender) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "KEY\tTITLE\tSTAGE\tLIFECYCLE\tQUALITY\tLAST_SEEN")
	_, _ = fmt.Fprintln(w, "---\t-----\t-----\t---------\t-------\t---------")

	for _, t := range tenders {
		title := t.Fields.Title
		if len(title) > 40 {
			title = title[:37] + "..."
		}
		stage := string(t.Stage)
		if t.Failed() {
			stage += "!"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%.2f\t%s\n",
			t.IdentityKey,
			title,
			stage,
			t.Lifecycle,
			t.QualityScore,
			t.LastSeenAt.Format("2006-01-02 15:04"),
		)
	}
	_ = w.Flush()
}

func init() {
	tendersCmd.AddCommand(tendersListCmd)
	tendersCmd.AddCommand(tendersShowCmd)
	rootCmd.AddCommand(tendersCmd)
}
