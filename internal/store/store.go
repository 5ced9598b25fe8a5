package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/billscan/billscan/internal/gate"
	"github.com/billscan/billscan/internal/model"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = eris.New("store: not found")

// ErrVersionConflict is returned when a case update carries a stale version.
// Callers must refetch and retry.
var ErrVersionConflict = eris.New("store: version conflict")

// Store is the persistence contract for the pipeline: documents, review
// cases with their audit trail, gate decisions, approved snapshots, and the
// append-only calibration ledger.
type Store interface {
	Migrate(ctx context.Context) error
	Close() error

	CreateDocument(ctx context.Context, doc *model.Document) error
	GetDocument(ctx context.Context, id string) (*model.Document, error)
	UpdateDocumentStatus(ctx context.Context, id string, status model.RunStatus) error

	// SaveCase inserts a new case or, when the case exists, updates it only
	// if the stored version equals expectedVersion. A mismatch returns
	// ErrVersionConflict and writes nothing.
	SaveCase(ctx context.Context, c *model.ReviewCase, expectedVersion int64) error
	GetCase(ctx context.Context, id string) (*model.ReviewCase, error)
	GetCaseByDocument(ctx context.Context, docID string) (*model.ReviewCase, error)
	// ListOpenCases returns cases in pending or in_review state ordered by
	// (severity desc, created_at asc, document_id asc).
	ListOpenCases(ctx context.Context, limit int) ([]*model.ReviewCase, error)

	SaveDecision(ctx context.Context, d *gate.Decision) error
	SaveSnapshot(ctx context.Context, s *model.Snapshot) error
	ListSnapshots(ctx context.Context, since time.Time) ([]*model.Snapshot, error)

	AppendCalibrationPoints(ctx context.Context, points []model.CalibrationPoint) error
	LoadCalibrationPoints(ctx context.Context) ([]model.CalibrationPoint, error)
}
