package main

import (
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync/atomic"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/billscan/billscan/internal/gate"
)

var (
	batchDir    string
	batchVendor string
	batchType   string
	batchLimit  int
)

var imageExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
}

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Process a directory of scanned bills",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		files, err := listImages(batchDir, batchLimit)
		if err != nil {
			return err
		}
		zap.L().Info("batch starting",
			zap.Int("documents", len(files)),
			zap.Int("concurrency", cfg.Batch.MaxConcurrentDocuments))

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(cfg.Batch.MaxConcurrentDocuments)

		var approved, queued, failed atomic.Int64

		for _, path := range files {
			g.Go(func() error {
				log := zap.L().With(zap.String("file", path))

				doc, err := env.Pipeline.IngestFile(gctx, path, batchVendor, batchType)
				if err != nil {
					failed.Add(1)
					log.Error("ingest failed", zap.Error(err))
					return nil // a bad scan never aborts the batch
				}

				out, err := env.Pipeline.Process(gctx, doc)
				if err != nil {
					failed.Add(1)
					log.Error("process failed", zap.Error(err))
					return nil
				}

				if out.Decision.Outcome == gate.OutcomeAutoApprove {
					approved.Add(1)
				} else {
					queued.Add(1)
				}
				return nil
			})
		}

		if err := g.Wait(); err != nil {
			return eris.Wrap(err, "batch processing")
		}

		zap.L().Info("batch complete",
			zap.Int64("auto_approved", approved.Load()),
			zap.Int64("queued_for_review", queued.Load()),
			zap.Int64("failed", failed.Load()))
		return nil
	},
}

func listImages(dir string, limit int) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, eris.Wrapf(err, "read batch dir %s", dir)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() || !imageExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
		if limit > 0 && len(files) >= limit {
			break
		}
	}
	return files, nil
}

func init() {
	batchCmd.Flags().StringVar(&batchDir, "dir", "", "directory of scanned bill images (required)")
	batchCmd.Flags().StringVar(&batchVendor, "vendor", "", "vendor ID applied to every document")
	batchCmd.Flags().StringVar(&batchType, "type", "vendor_bill", "document type")
	batchCmd.Flags().IntVar(&batchLimit, "limit", 0, "max documents to process (0 = all)")
	_ = batchCmd.MarkFlagRequired("dir")
	rootCmd.AddCommand(batchCmd)
}
