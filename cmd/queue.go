package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var queueLimit int

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "List open review cases, most urgent first",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		cases, err := st.ListOpenCases(ctx, queueLimit)
		if err != nil {
			return err
		}

		zap.L().Info("review queue", zap.Int("open_cases", len(cases)))

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(cases)
	},
}

func init() {
	queueCmd.Flags().IntVar(&queueLimit, "limit", 50, "max cases to list")
	rootCmd.AddCommand(queueCmd)
}
