package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS access_audit (
		id          UUID PRIMARY KEY,
		created_at  TIMESTAMPTZ NOT NULL,
		actor       TEXT NOT NULL,
		action      TEXT NOT NULL,
		parameters  JSONB NOT NULL DEFAULT '{}'::jsonb,
		snapshot_id BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS access_audit_created_at_idx ON access_audit (created_at DESC)`,
}

// Migrate creates the audit table if it does not exist.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	for i, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("audit migration %d: %w", i, err)
		}
	}
	return nil
}

type auditRow struct {
	ID         string    `db:"id"`
	CreatedAt  time.Time `db:"created_at"`
	Actor      string    `db:"actor"`
	Action     string    `db:"action"`
	Parameters []byte    `db:"parameters"`
	SnapshotID int64     `db:"snapshot_id"`
}

// PostgresSink stores audit records in the access_audit table.
type PostgresSink struct {
	db *sqlx.DB
}

// NewPostgresSink creates a sink over db. Call Migrate first.
func NewPostgresSink(db *sqlx.DB) *PostgresSink {
	return &PostgresSink{db: db}
}

// Write implements Sink.
func (s *PostgresSink) Write(ctx context.Context, rec Record) error {
	params, err := json.Marshal(rec.Parameters)
	if err != nil {
		return err
	}
	if rec.Parameters == nil {
		params = []byte("{}")
	}
	_, err = s.db.NamedExecContext(ctx, `
		INSERT INTO access_audit (id, created_at, actor, action, parameters, snapshot_id)
		VALUES (:id, :created_at, :actor, :action, :parameters, :snapshot_id)
	`, auditRow{
		ID:         rec.ID.String(),
		CreatedAt:  rec.Timestamp,
		Actor:      rec.Actor,
		Action:     rec.Action,
		Parameters: params,
		SnapshotID: int64(rec.SnapshotID),
	})
	return err
}

// Recent returns up to limit records, newest first.
func (s *PostgresSink) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = DefaultCapacity
	}
	var rows []auditRow
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT id, created_at, actor, action, parameters, snapshot_id
		FROM access_audit
		ORDER BY created_at DESC
		LIMIT $1
	`, limit); err != nil {
		return nil, err
	}

	out := make([]Record, 0, len(rows))
	for _, row := range rows {
		id, err := uuid.Parse(row.ID)
		if err != nil {
			return nil, fmt.Errorf("audit row id %q: %w", row.ID, err)
		}
		rec := Record{
			ID:         id,
			Timestamp:  row.CreatedAt.UTC(),
			Actor:      row.Actor,
			Action:     row.Action,
			SnapshotID: uint64(row.SnapshotID),
		}
		if len(row.Parameters) > 0 {
			if err := json.Unmarshal(row.Parameters, &rec.Parameters); err != nil {
				return nil, fmt.Errorf("audit row %s parameters: %w", row.ID, err)
			}
		}
		out = append(out, rec)
	}
	return out, nil
}
