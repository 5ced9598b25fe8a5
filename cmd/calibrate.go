package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/billscan/billscan/internal/calibrate"
)

var calibrateCmd = &cobra.Command{
	Use:   "calibrate",
	Short: "Rebuild calibration buckets from the ledger",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		cal := calibrate.New(cfg.Calibration, st)
		if err := cal.Load(ctx); err != nil {
			return err
		}

		snap := cal.Snapshot()
		zap.L().Info("calibration rebuilt",
			zap.Int("points", snap.Points),
			zap.Float64("error", snap.Error),
			zap.Int("vendors", len(snap.ByVendor)))

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(snap)
	},
}

func init() {
	rootCmd.AddCommand(calibrateCmd)
}
