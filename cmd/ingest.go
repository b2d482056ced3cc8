package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/garescout/tender-cli/internal/model"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <platform> <batch.json>",
	Short: "Reconcile a scraped tender batch and run enrichment",
	Long:  "Reads one platform's full scrape output (a JSON array of raw tenders), reconciles it against the store, and advances each tender through attachment download, text extraction and AI enrichment. Pass \"-\" to read the batch from stdin.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		platform := args[0]

		batch, err := readBatch(args[1])
		if err != nil {
			return err
		}

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		run, err := env.Pipeline.Run(ctx, platform, batch)
		if err != nil {
			return eris.Wrapf(err, "ingest %s", platform)
		}

		fmt.Printf("platform=%s found=%d new=%d updated=%d closed=%d errors=%d elapsed=%s\n",
			run.Platform, run.Found, run.New, run.Updated, run.Closed, run.Errors,
			run.EndedAt.Sub(run.StartedAt).Round(time.Millisecond),
		)
		return nil
	},
}

// readBatch parses a JSON array of raw tenders from a file or stdin.
func readBatch(path string) ([]model.RawTender, error) {
	var r io.Reader
	if path == "-" {
		r = os.Stdin
	} else {
		f, err := os.Open(path)
		if err != nil {
			return nil, eris.Wrapf(err, "open batch file %s", path)
		}
		defer f.Close() //nolint:errcheck
		r = f
	}

	var batch []model.RawTender
	if err := json.NewDecoder(r).Decode(&batch); err != nil {
		return nil, eris.Wrap(err, "parse batch")
	}
	return batch, nil
}

func init() {
	rootCmd.AddCommand(ingestCmd)
}
