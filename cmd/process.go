package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/billscan/billscan/internal/gate"
)

var (
	processFile   string
	processVendor string
	processType   string
)

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Process a single scanned bill",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		doc, err := env.Pipeline.IngestFile(ctx, processFile, processVendor, processType)
		if err != nil {
			return err
		}

		out, err := env.Pipeline.Process(ctx, doc)
		if err != nil {
			return eris.Wrapf(err, "process %s", doc.ID)
		}

		log := zap.L().With(
			zap.String("document_id", doc.ID),
			zap.String("outcome", string(out.Decision.Outcome)),
		)
		if out.Decision.Outcome == gate.OutcomeAutoApprove {
			log.Info("document auto-approved", zap.String("snapshot_id", out.Snapshot.ID))
		} else {
			log.Info("document queued for review",
				zap.String("case_id", out.Case.ID),
				zap.Strings("reasons", out.Decision.Reasons))
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out.Resolution)
	},
}

func init() {
	processCmd.Flags().StringVar(&processFile, "file", "", "path to the scanned bill image (required)")
	processCmd.Flags().StringVar(&processVendor, "vendor", "", "vendor ID")
	processCmd.Flags().StringVar(&processType, "type", "vendor_bill", "document type")
	_ = processCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(processCmd)
}
