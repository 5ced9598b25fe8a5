package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/billscan/billscan/internal/export"
)

var exportSince time.Duration

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export approved snapshots to a spreadsheet",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		now := time.Now().UTC()
		snaps, err := st.ListSnapshots(ctx, now.Add(-exportSince))
		if err != nil {
			return err
		}

		path, err := export.New(cfg.Export).Write(snaps, now)
		if err != nil {
			return err
		}

		fmt.Println(path)
		return nil
	},
}

func init() {
	exportCmd.Flags().DurationVar(&exportSince, "since", 7*24*time.Hour, "export snapshots newer than this age")
	rootCmd.AddCommand(exportCmd)
}
