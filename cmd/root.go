package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/billscan/billscan/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "billscan",
	Short: "Vendor bill understanding pipeline",
	Long:  "Turns scanned vendor bills into structured, validated field values: multi-pass recognition, consensus resolution, confidence calibration, and a human review queue.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
