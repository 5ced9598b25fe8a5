package store

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/billscan/billscan/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })
	return &PostgresStore{pool: mock}, mock
}

func TestPostgresGetDocumentNotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT id, vendor_id, doc_type, input_id, status, created_at, updated_at FROM documents WHERE id = \$1`).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetDocument(context.Background(), "missing")
	assert.True(t, eris.Is(err, ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCreateDocument(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	mock.ExpectExec(`INSERT INTO documents`).
		WithArgs("doc-1", "v-1", "vendor_bill", "input:abc", "queued", now, now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.CreateDocument(context.Background(), &model.Document{
		ID: "doc-1", VendorID: "v-1", Type: "vendor_bill",
		InputID: "input:abc", Status: model.RunStatusQueued,
		CreatedAt: now, UpdatedAt: now,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUpdateDocumentStatusNotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE documents SET status`).
		WithArgs("complete", pgxmock.AnyArg(), "missing").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.UpdateDocumentStatus(context.Background(), "missing", model.RunStatusComplete)
	assert.True(t, eris.Is(err, ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSaveCaseVersionConflict(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE review_cases SET state`).
		WithArgs("in_review", int64(2), "warning", pgxmock.AnyArg(), false, now, "case-1", int64(1)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectRollback()

	err := s.SaveCase(context.Background(), &model.ReviewCase{
		ID:       "case-1",
		State:    model.StateInReview,
		Version:  2,
		Severity: model.SeverityWarning,
		UpdatedAt: now,
	}, 1)
	assert.True(t, eris.Is(err, ErrVersionConflict))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresAppendCalibrationPoints(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO calibration_points`).
		WithArgs(85.0, true, "total", "v-1", now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	err := s.AppendCalibrationPoints(context.Background(), []model.CalibrationPoint{
		{Predicted: 85, Correct: true, Field: "total", VendorID: "v-1", At: now},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
