package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/garescout/tender-cli/internal/model"
)

var (
	enrichLimit int
	enrichKey   string
)

var enrichCmd = &cobra.Command{
	Use:   "enrich <platform>",
	Short: "Re-run enrichment for stalled tenders",
	Long:  "Picks up open tenders that have not reached the Complete stage, including ones parked in a failed stage under the retry cap, and advances them without a fresh scrape.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		platform := args[0]

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		if enrichKey != "" {
			tender, err := env.Store.GetTender(ctx, platform, enrichKey)
			if err != nil {
				return eris.Wrap(err, "enrich")
			}
			if tender == nil {
				return eris.Errorf("no tender %s on platform %s", enrichKey, platform)
			}
			// A targeted retry overrides the cap: reset the counter first.
			tender.RetryCount = 0
			if err := env.Store.UpdateTender(ctx, tender); err != nil {
				return eris.Wrap(err, "enrich")
			}
			if err := env.Pipeline.EnrichOne(ctx, tender); err != nil {
				return eris.Wrap(err, "enrich")
			}
			printTenderState(tender)
			return nil
		}

		n, err := env.Pipeline.EnrichPending(ctx, platform, cfg.Pipeline.StageRetryCap, enrichLimit)
		if err != nil {
			return eris.Wrapf(err, "enrich %s", platform)
		}
		fmt.Printf("platform=%s advanced=%d\n", platform, n)
		return nil
	},
}

func printTenderState(t *model.Tender) {
	if t.Failed() {
		fmt.Printf("%s stage=%s failed_stage=%s retries=%d reason=%s\n",
			t.IdentityKey, t.Stage, t.FailedStage, t.RetryCount, t.FailureReason)
		return
	}
	fmt.Printf("%s stage=%s\n", t.IdentityKey, t.Stage)
}

func init() {
	enrichCmd.Flags().IntVar(&enrichLimit, "limit", 100, "max number of tenders to advance")
	enrichCmd.Flags().StringVar(&enrichKey, "tender", "", "advance a single tender by identity key, resetting its retry count")
	rootCmd.AddCommand(enrichCmd)
}
