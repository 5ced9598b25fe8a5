// Package export renders approved snapshots into spreadsheet reports for
// downstream accounting systems.
package export

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"

	"github.com/billscan/billscan/internal/config"
	"github.com/billscan/billscan/internal/model"
)

// Exporter writes snapshot reports to the configured directory.
type Exporter struct {
	cfg config.ExportConfig
}

// New creates an Exporter.
func New(cfg config.ExportConfig) *Exporter {
	return &Exporter{cfg: cfg}
}

// Write renders the snapshots into a timestamped workbook under the export
// directory and returns the file path. Snapshots are immutable, so a report
// is a pure function of its inputs.
func (e *Exporter) Write(snaps []*model.Snapshot, now time.Time) (string, error) {
	if err := os.MkdirAll(e.cfg.Dir, 0o755); err != nil {
		return "", eris.Wrapf(err, "export: create dir %s", e.cfg.Dir)
	}

	f, err := buildWorkbook(snaps)
	if err != nil {
		return "", err
	}

	path := filepath.Join(e.cfg.Dir, fmt.Sprintf("billscan-%s.xlsx", now.UTC().Format("20060102-150405")))
	if err := f.Save(path); err != nil {
		return "", eris.Wrapf(err, "export: save %s", path)
	}

	zap.L().Info("export written",
		zap.String("path", path),
		zap.Int("snapshots", len(snaps)))
	return path, nil
}

func buildWorkbook(snaps []*model.Snapshot) (*xlsx.File, error) {
	f := xlsx.NewFile()

	fields, err := f.AddSheet("fields")
	if err != nil {
		return nil, eris.Wrap(err, "export: add fields sheet")
	}
	writeHeader(fields, "document_id", "case_id", "field", "value",
		"confidence", "raw_confidence", "flags", "exported_at")

	contradictions, err := f.AddSheet("contradictions")
	if err != nil {
		return nil, eris.Wrap(err, "export: add contradictions sheet")
	}
	writeHeader(contradictions, "document_id", "rule", "severity", "fields", "message")

	for _, snap := range snaps {
		for _, key := range sortedFieldKeys(snap.Fields) {
			fld := snap.Fields[key]
			row := fields.AddRow()
			row.AddCell().SetString(snap.DocumentID)
			row.AddCell().SetString(snap.CaseID)
			row.AddCell().SetString(fld.Field)
			row.AddCell().SetString(fld.Value)
			row.AddCell().SetFloatWithFormat(fld.Confidence, "0.00")
			row.AddCell().SetFloatWithFormat(fld.RawConfidence, "0.00")
			row.AddCell().SetString(strings.Join(fld.Flags, ","))
			row.AddCell().SetString(snap.ExportedAt.UTC().Format(time.RFC3339))
		}
		for _, c := range snap.Contradictions {
			row := contradictions.AddRow()
			row.AddCell().SetString(snap.DocumentID)
			row.AddCell().SetString(c.Rule)
			row.AddCell().SetString(string(c.Severity))
			row.AddCell().SetString(strings.Join(c.Fields, ","))
			row.AddCell().SetString(c.Message)
		}
	}

	return f, nil
}

func writeHeader(sheet *xlsx.Sheet, names ...string) {
	row := sheet.AddRow()
	for _, name := range names {
		row.AddCell().SetString(name)
	}
}

func sortedFieldKeys(fields map[string]model.ResolvedField) []string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
