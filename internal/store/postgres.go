package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/billscan/billscan/internal/gate"
	"github.com/billscan/billscan/internal/model"
)

// Pool is the subset of pgxpool.Pool the store uses. pgxmock satisfies it
// for unit tests.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool Pool
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for the
// hottest store operations.
var preparedStatements = map[string]string{
	"insert_document":    `INSERT INTO documents (id, vendor_id, doc_type, input_id, status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
	"get_document":       `SELECT id, vendor_id, doc_type, input_id, status, created_at, updated_at FROM documents WHERE id = $1`,
	"update_doc_status":  `UPDATE documents SET status = $1, updated_at = $2 WHERE id = $3`,
	"get_case":           `SELECT id, document_id, vendor_id, state, version, severity, resolution, reopened, created_at, updated_at FROM review_cases WHERE id = $1`,
	"insert_calibration": `INSERT INTO calibration_points (predicted, correct, field, vendor_id, at) VALUES ($1, $2, $3, $4, $5)`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS documents (
	id         TEXT PRIMARY KEY,
	vendor_id  TEXT NOT NULL DEFAULT '',
	doc_type   TEXT NOT NULL,
	input_id   TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'queued',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS review_cases (
	id          TEXT PRIMARY KEY,
	document_id TEXT NOT NULL REFERENCES documents(id),
	vendor_id   TEXT NOT NULL DEFAULT '',
	state       TEXT NOT NULL,
	version     BIGINT NOT NULL,
	severity    TEXT NOT NULL DEFAULT '',
	resolution  JSONB,
	reopened    BOOLEAN NOT NULL DEFAULT false,
	created_at  TIMESTAMPTZ NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS case_audit (
	id         BIGSERIAL PRIMARY KEY,
	case_id    TEXT NOT NULL REFERENCES review_cases(id),
	actor      TEXT NOT NULL,
	action     TEXT NOT NULL,
	from_state TEXT NOT NULL,
	to_state   TEXT NOT NULL,
	reason     TEXT NOT NULL DEFAULT '',
	at         TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS gate_decisions (
	id          BIGSERIAL PRIMARY KEY,
	document_id TEXT NOT NULL,
	outcome     TEXT NOT NULL,
	mode        TEXT NOT NULL,
	threshold   DOUBLE PRECISION NOT NULL,
	reasons     JSONB NOT NULL,
	decided_at  TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS snapshots (
	id          TEXT PRIMARY KEY,
	case_id     TEXT NOT NULL,
	document_id TEXT NOT NULL,
	fields      JSONB NOT NULL,
	exported_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS calibration_points (
	id        BIGSERIAL PRIMARY KEY,
	predicted DOUBLE PRECISION NOT NULL,
	correct   BOOLEAN NOT NULL,
	field     TEXT NOT NULL,
	vendor_id TEXT NOT NULL DEFAULT '',
	at        TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_documents_status ON documents(status);
CREATE INDEX IF NOT EXISTS idx_cases_document ON review_cases(document_id);
CREATE INDEX IF NOT EXISTS idx_cases_state ON review_cases(state);
CREATE INDEX IF NOT EXISTS idx_audit_case ON case_audit(case_id);
CREATE INDEX IF NOT EXISTS idx_decisions_document ON gate_decisions(document_id);
CREATE INDEX IF NOT EXISTS idx_snapshots_case ON snapshots(case_id);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) CreateDocument(ctx context.Context, doc *model.Document) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO documents (id, vendor_id, doc_type, input_id, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		doc.ID, doc.VendorID, doc.Type, string(doc.InputID), string(doc.Status), doc.CreatedAt, doc.UpdatedAt,
	)
	return eris.Wrapf(err, "postgres: insert document %s", doc.ID)
}

func (s *PostgresStore) GetDocument(ctx context.Context, id string) (*model.Document, error) {
	var doc model.Document
	var inputID, status string
	err := s.pool.QueryRow(ctx,
		`SELECT id, vendor_id, doc_type, input_id, status, created_at, updated_at FROM documents WHERE id = $1`,
		id,
	).Scan(&doc.ID, &doc.VendorID, &doc.Type, &inputID, &status, &doc.CreatedAt, &doc.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, eris.Wrapf(ErrNotFound, "document %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get document %s", id)
	}
	doc.InputID = model.ArtifactID(inputID)
	doc.Status = model.RunStatus(status)
	return &doc, nil
}

func (s *PostgresStore) UpdateDocumentStatus(ctx context.Context, id string, status model.RunStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE documents SET status = $1, updated_at = $2 WHERE id = $3`,
		string(status), time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update document status %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "document %s", id)
	}
	return nil
}

func (s *PostgresStore) SaveCase(ctx context.Context, c *model.ReviewCase, expectedVersion int64) error {
	resJSON, err := json.Marshal(c.Resolution)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal resolution")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin")
	}
	defer tx.Rollback(ctx)

	if expectedVersion == 0 {
		_, err = tx.Exec(ctx,
			`INSERT INTO review_cases (id, document_id, vendor_id, state, version, severity, resolution, reopened, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			c.ID, c.DocumentID, c.VendorID, string(c.State), c.Version, string(c.Severity),
			resJSON, c.Reopened, c.CreatedAt, c.UpdatedAt,
		)
		if err != nil {
			return eris.Wrapf(err, "postgres: insert case %s", c.ID)
		}
	} else {
		tag, err := tx.Exec(ctx,
			`UPDATE review_cases SET state = $1, version = $2, severity = $3, resolution = $4, reopened = $5, updated_at = $6
			 WHERE id = $7 AND version = $8`,
			string(c.State), c.Version, string(c.Severity), resJSON, c.Reopened, c.UpdatedAt, c.ID, expectedVersion,
		)
		if err != nil {
			return eris.Wrapf(err, "postgres: update case %s", c.ID)
		}
		if tag.RowsAffected() == 0 {
			return eris.Wrapf(ErrVersionConflict, "case %s at version %d", c.ID, expectedVersion)
		}
	}

	var have int
	if err := tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM case_audit WHERE case_id = $1`, c.ID,
	).Scan(&have); err != nil {
		return eris.Wrap(err, "postgres: count audit")
	}
	for _, e := range c.Audit[have:] {
		if _, err := tx.Exec(ctx,
			`INSERT INTO case_audit (case_id, actor, action, from_state, to_state, reason, at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			c.ID, e.Actor, string(e.Action), string(e.From), string(e.To), e.Reason, e.At,
		); err != nil {
			return eris.Wrapf(err, "postgres: insert audit for case %s", c.ID)
		}
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit case")
}

func (s *PostgresStore) GetCase(ctx context.Context, id string) (*model.ReviewCase, error) {
	return s.getCase(ctx,
		`SELECT id, document_id, vendor_id, state, version, severity, resolution, reopened, created_at, updated_at
		 FROM review_cases WHERE id = $1`, id)
}

func (s *PostgresStore) GetCaseByDocument(ctx context.Context, docID string) (*model.ReviewCase, error) {
	return s.getCase(ctx,
		`SELECT id, document_id, vendor_id, state, version, severity, resolution, reopened, created_at, updated_at
		 FROM review_cases WHERE document_id = $1 ORDER BY created_at DESC LIMIT 1`, docID)
}

func (s *PostgresStore) getCase(ctx context.Context, query string, arg any) (*model.ReviewCase, error) {
	var c model.ReviewCase
	var state, severity string
	var resJSON []byte
	err := s.pool.QueryRow(ctx, query, arg).Scan(
		&c.ID, &c.DocumentID, &c.VendorID, &state, &c.Version, &severity, &resJSON,
		&c.Reopened, &c.CreatedAt, &c.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, eris.Wrapf(ErrNotFound, "case %v", arg)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get case %v", arg)
	}
	c.State = model.CaseState(state)
	c.Severity = model.Severity(severity)
	if len(resJSON) > 0 {
		if err := json.Unmarshal(resJSON, &c.Resolution); err != nil {
			return nil, eris.Wrapf(err, "postgres: unmarshal resolution for case %s", c.ID)
		}
	}
	if err := s.loadAudit(ctx, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *PostgresStore) loadAudit(ctx context.Context, c *model.ReviewCase) error {
	rows, err := s.pool.Query(ctx,
		`SELECT actor, action, from_state, to_state, reason, at FROM case_audit WHERE case_id = $1 ORDER BY id`,
		c.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: load audit for case %s", c.ID)
	}
	defer rows.Close()
	for rows.Next() {
		var e model.AuditEntry
		var action, from, to string
		if err := rows.Scan(&e.Actor, &action, &from, &to, &e.Reason, &e.At); err != nil {
			return eris.Wrap(err, "postgres: scan audit")
		}
		e.Action = model.CaseAction(action)
		e.From = model.CaseState(from)
		e.To = model.CaseState(to)
		c.Audit = append(c.Audit, e)
	}
	return eris.Wrap(rows.Err(), "postgres: audit rows")
}

func (s *PostgresStore) ListOpenCases(ctx context.Context, limit int) ([]*model.ReviewCase, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id FROM review_cases
		 WHERE state IN ('pending', 'in_review')
		 ORDER BY CASE severity WHEN 'critical' THEN 2 WHEN 'warning' THEN 1 ELSE 0 END DESC,
		          created_at ASC, document_id ASC
		 LIMIT $1`, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list open cases")
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, eris.Wrap(err, "postgres: scan case id")
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: case rows")
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

func (s *PostgresStore) SaveDecision(ctx context.Context, d *gate.Decision) error {
	reasons, err := json.Marshal(d.Reasons)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal reasons")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO gate_decisions (document_id, outcome, mode, threshold, reasons, decided_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		d.DocumentID, string(d.Outcome), d.Mode, d.Threshold, reasons, d.DecidedAt,
	)
	return eris.Wrapf(err, "postgres: insert decision for %s", d.DocumentID)
}

func (s *PostgresStore) SaveSnapshot(ctx context.Context, snap *model.Snapshot) error {
	fields, err := json.Marshal(snap)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal snapshot")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO snapshots (id, case_id, document_id, fields, exported_at) VALUES ($1, $2, $3, $4, $5)`,
		snap.ID, snap.CaseID, snap.DocumentID, fields, snap.ExportedAt,
	)
	return eris.Wrapf(err, "postgres: insert snapshot %s", snap.ID)
}

func (s *PostgresStore) ListSnapshots(ctx context.Context, since time.Time) ([]*model.Snapshot, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT fields FROM snapshots WHERE exported_at >= $1 ORDER BY exported_at`, since,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list snapshots")
	}
	defer rows.Close()

	var out []*model.Snapshot
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, eris.Wrap(err, "postgres: scan snapshot")
		}
		var snap model.Snapshot
		if err := json.Unmarshal(raw, &snap); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal snapshot")
		}
		out = append(out, &snap)
	}
	return out, eris.Wrap(rows.Err(), "postgres: snapshot rows")
}

func (s *PostgresStore) AppendCalibrationPoints(ctx context.Context, points []model.CalibrationPoint) error {
	if len(points) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin")
	}
	defer tx.Rollback(ctx)
	for _, p := range points {
		if _, err := tx.Exec(ctx,
			`INSERT INTO calibration_points (predicted, correct, field, vendor_id, at) VALUES ($1, $2, $3, $4, $5)`,
			p.Predicted, p.Correct, p.Field, p.VendorID, p.At,
		); err != nil {
			return eris.Wrap(err, "postgres: insert calibration point")
		}
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit calibration points")
}

func (s *PostgresStore) LoadCalibrationPoints(ctx context.Context) ([]model.CalibrationPoint, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT predicted, correct, field, vendor_id, at FROM calibration_points ORDER BY id`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: load calibration points")
	}
	defer rows.Close()

	var out []model.CalibrationPoint
	for rows.Next() {
		var p model.CalibrationPoint
		if err := rows.Scan(&p.Predicted, &p.Correct, &p.Field, &p.VendorID, &p.At); err != nil {
			return nil, eris.Wrap(err, "postgres: scan calibration point")
		}
		out = append(out, p)
	}
	return out, eris.Wrap(rows.Err(), "postgres: calibration rows")
}
