package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/billscan/billscan/internal/gate"
	"github.com/billscan/billscan/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS documents (
	id         TEXT PRIMARY KEY,
	vendor_id  TEXT NOT NULL DEFAULT '',
	doc_type   TEXT NOT NULL,
	input_id   TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'queued',
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS review_cases (
	id          TEXT PRIMARY KEY,
	document_id TEXT NOT NULL REFERENCES documents(id),
	vendor_id   TEXT NOT NULL DEFAULT '',
	state       TEXT NOT NULL,
	version     INTEGER NOT NULL,
	severity    TEXT NOT NULL DEFAULT '',
	resolution  TEXT,
	reopened    INTEGER NOT NULL DEFAULT 0,
	created_at  DATETIME NOT NULL,
	updated_at  DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS case_audit (
	id      INTEGER PRIMARY KEY AUTOINCREMENT,
	case_id TEXT NOT NULL REFERENCES review_cases(id),
	actor   TEXT NOT NULL,
	action  TEXT NOT NULL,
	from_state TEXT NOT NULL,
	to_state   TEXT NOT NULL,
	reason  TEXT NOT NULL DEFAULT '',
	at      DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS gate_decisions (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	document_id TEXT NOT NULL,
	outcome     TEXT NOT NULL,
	mode        TEXT NOT NULL,
	threshold   REAL NOT NULL,
	reasons     TEXT NOT NULL,
	decided_at  DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS snapshots (
	id          TEXT PRIMARY KEY,
	case_id     TEXT NOT NULL,
	document_id TEXT NOT NULL,
	fields      TEXT NOT NULL,
	exported_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS calibration_points (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	predicted REAL NOT NULL,
	correct   INTEGER NOT NULL,
	field     TEXT NOT NULL,
	vendor_id TEXT NOT NULL DEFAULT '',
	at        DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_documents_status ON documents(status);
CREATE INDEX IF NOT EXISTS idx_cases_document ON review_cases(document_id);
CREATE INDEX IF NOT EXISTS idx_cases_state ON review_cases(state);
CREATE INDEX IF NOT EXISTS idx_audit_case ON case_audit(case_id);
CREATE INDEX IF NOT EXISTS idx_decisions_document ON gate_decisions(document_id);
CREATE INDEX IF NOT EXISTS idx_snapshots_case ON snapshots(case_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateDocument(ctx context.Context, doc *model.Document) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (id, vendor_id, doc_type, input_id, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		doc.ID, doc.VendorID, doc.Type, string(doc.InputID), string(doc.Status), doc.CreatedAt, doc.UpdatedAt,
	)
	return eris.Wrapf(err, "sqlite: insert document %s", doc.ID)
}

func (s *SQLiteStore) GetDocument(ctx context.Context, id string) (*model.Document, error) {
	var doc model.Document
	var inputID, status string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, vendor_id, doc_type, input_id, status, created_at, updated_at FROM documents WHERE id = ?`,
		id,
	).Scan(&doc.ID, &doc.VendorID, &doc.Type, &inputID, &status, &doc.CreatedAt, &doc.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, eris.Wrapf(ErrNotFound, "document %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get document %s", id)
	}
	doc.InputID = model.ArtifactID(inputID)
	doc.Status = model.RunStatus(status)
	return &doc, nil
}

func (s *SQLiteStore) UpdateDocumentStatus(ctx context.Context, id string, status model.RunStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE documents SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update document status %s", id)
	}
	return checkRowsAffected(res, "document", id)
}

func (s *SQLiteStore) SaveCase(ctx context.Context, c *model.ReviewCase, expectedVersion int64) error {
	resJSON, err := json.Marshal(c.Resolution)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal resolution")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin")
	}
	defer tx.Rollback()

	if expectedVersion == 0 {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO review_cases (id, document_id, vendor_id, state, version, severity, resolution, reopened, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			c.ID, c.DocumentID, c.VendorID, string(c.State), c.Version, string(c.Severity),
			string(resJSON), boolInt(c.Reopened), c.CreatedAt, c.UpdatedAt,
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: insert case %s", c.ID)
		}
	} else {
		res, err := tx.ExecContext(ctx,
			`UPDATE review_cases SET state = ?, version = ?, severity = ?, resolution = ?, reopened = ?, updated_at = ?
			 WHERE id = ? AND version = ?`,
			string(c.State), c.Version, string(c.Severity), string(resJSON),
			boolInt(c.Reopened), c.UpdatedAt, c.ID, expectedVersion,
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: update case %s", c.ID)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return eris.Wrap(err, "sqlite: rows affected")
		}
		if n == 0 {
			return eris.Wrapf(ErrVersionConflict, "case %s at version %d", c.ID, expectedVersion)
		}
	}

	// Persist only audit entries past the stored prefix. The trail is
	// append-only so the prefix never changes.
	var have int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM case_audit WHERE case_id = ?`, c.ID,
	).Scan(&have); err != nil {
		return eris.Wrap(err, "sqlite: count audit")
	}
	for _, e := range c.Audit[have:] {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO case_audit (case_id, actor, action, from_state, to_state, reason, at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			c.ID, e.Actor, string(e.Action), string(e.From), string(e.To), e.Reason, e.At,
		); err != nil {
			return eris.Wrapf(err, "sqlite: insert audit for case %s", c.ID)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit case")
}

func (s *SQLiteStore) GetCase(ctx context.Context, id string) (*model.ReviewCase, error) {
	return s.getCase(ctx, `WHERE id = ?`, id)
}

func (s *SQLiteStore) GetCaseByDocument(ctx context.Context, docID string) (*model.ReviewCase, error) {
	return s.getCase(ctx, `WHERE document_id = ? ORDER BY created_at DESC LIMIT 1`, docID)
}

func (s *SQLiteStore) getCase(ctx context.Context, where string, arg any) (*model.ReviewCase, error) {
	var c model.ReviewCase
	var state, severity, resJSON string
	var reopened int
	err := s.db.QueryRowContext(ctx,
		`SELECT id, document_id, vendor_id, state, version, severity, resolution, reopened, created_at, updated_at
		 FROM review_cases `+where, arg,
	).Scan(&c.ID, &c.DocumentID, &c.VendorID, &state, &c.Version, &severity, &resJSON, &reopened, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, eris.Wrapf(ErrNotFound, "case %v", arg)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get case %v", arg)
	}
	c.State = model.CaseState(state)
	c.Severity = model.Severity(severity)
	c.Reopened = reopened != 0
	if resJSON != "" {
		if err := json.Unmarshal([]byte(resJSON), &c.Resolution); err != nil {
			return nil, eris.Wrapf(err, "sqlite: unmarshal resolution for case %s", c.ID)
		}
	}
	if err := s.loadAudit(ctx, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *SQLiteStore) loadAudit(ctx context.Context, c *model.ReviewCase) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT actor, action, from_state, to_state, reason, at FROM case_audit WHERE case_id = ? ORDER BY id`,
		c.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: load audit for case %s", c.ID)
	}
	defer rows.Close()
	for rows.Next() {
		var e model.AuditEntry
		var action, from, to string
		if err := rows.Scan(&e.Actor, &action, &from, &to, &e.Reason, &e.At); err != nil {
			return eris.Wrap(err, "sqlite: scan audit")
		}
		e.Action = model.CaseAction(action)
		e.From = model.CaseState(from)
		e.To = model.CaseState(to)
		c.Audit = append(c.Audit, e)
	}
	return eris.Wrap(rows.Err(), "sqlite: audit rows")
}

func (s *SQLiteStore) ListOpenCases(ctx context.Context, limit int) ([]*model.ReviewCase, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM review_cases
		 WHERE state IN ('pending', 'in_review')
		 ORDER BY CASE severity WHEN 'critical' THEN 2 WHEN 'warning' THEN 1 ELSE 0 END DESC,
		          created_at ASC, document_id ASC
		 LIMIT ?`, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list open cases")
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan case id")
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: case rows")
	}

	out := make([]*model.ReviewCase, 0, len(ids))
	for _, id := range ids {
		c, err := s.GetCase(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func (s *SQLiteStore) SaveDecision(ctx context.Context, d *gate.Decision) error {
	reasons, err := json.Marshal(d.Reasons)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal reasons")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO gate_decisions (document_id, outcome, mode, threshold, reasons, decided_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		d.DocumentID, string(d.Outcome), d.Mode, d.Threshold, string(reasons), d.DecidedAt,
	)
	return eris.Wrapf(err, "sqlite: insert decision for %s", d.DocumentID)
}

func (s *SQLiteStore) SaveSnapshot(ctx context.Context, snap *model.Snapshot) error {
	fields, err := json.Marshal(snap)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal snapshot")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO snapshots (id, case_id, document_id, fields, exported_at) VALUES (?, ?, ?, ?, ?)`,
		snap.ID, snap.CaseID, snap.DocumentID, string(fields), snap.ExportedAt,
	)
	return eris.Wrapf(err, "sqlite: insert snapshot %s", snap.ID)
}

func (s *SQLiteStore) ListSnapshots(ctx context.Context, since time.Time) ([]*model.Snapshot, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT fields FROM snapshots WHERE exported_at >= ? ORDER BY exported_at`, since,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list snapshots")
	}
	defer rows.Close()

	var out []*model.Snapshot
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan snapshot")
		}
		var snap model.Snapshot
		if err := json.Unmarshal([]byte(raw), &snap); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal snapshot")
		}
		out = append(out, &snap)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: snapshot rows")
}

func (s *SQLiteStore) AppendCalibrationPoints(ctx context.Context, points []model.CalibrationPoint) error {
	if len(points) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin")
	}
	defer tx.Rollback()
	for _, p := range points {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO calibration_points (predicted, correct, field, vendor_id, at) VALUES (?, ?, ?, ?, ?)`,
			p.Predicted, boolInt(p.Correct), p.Field, p.VendorID, p.At,
		); err != nil {
			return eris.Wrap(err, "sqlite: insert calibration point")
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit calibration points")
}

func (s *SQLiteStore) LoadCalibrationPoints(ctx context.Context) ([]model.CalibrationPoint, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT predicted, correct, field, vendor_id, at FROM calibration_points ORDER BY id`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: load calibration points")
	}
	defer rows.Close()

	var out []model.CalibrationPoint
	for rows.Next() {
		var p model.CalibrationPoint
		var correct int
		if err := rows.Scan(&p.Predicted, &correct, &p.Field, &p.VendorID, &p.At); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan calibration point")
		}
		p.Correct = correct != 0
		out = append(out, p)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: calibration rows")
}

func checkRowsAffected(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", kind, id)
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
