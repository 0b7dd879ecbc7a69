package sched

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS scheduled_transfers (
	id             TEXT PRIMARY KEY,
	customer_id    TEXT NOT NULL,
	source_account TEXT NOT NULL,
	dest_account   TEXT NOT NULL,
	amount         INTEGER NOT NULL,
	currency       TEXT NOT NULL DEFAULT '',
	frequency      TEXT NOT NULL,
	status         TEXT NOT NULL,
	next_run       TIMESTAMP NOT NULL,
	end_date       TIMESTAMP,
	description    TEXT NOT NULL DEFAULT '',
	last_run_at    TIMESTAMP,
	last_code      TEXT NOT NULL DEFAULT '',
	created_at     TIMESTAMP NOT NULL,
	updated_at     TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sched_due ON scheduled_transfers (status, next_run);
CREATE INDEX IF NOT EXISTS idx_sched_customer ON scheduled_transfers (customer_id);
`

// SQLiteStore persists schedules in an embedded SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (and migrates) the database at |path|.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	var db, err = sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	if _, err = db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrating schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Save(ctx context.Context, st *ScheduledTransfer) error {
	var endDate, lastRunAt interface{}
	if !st.EndDate.IsZero() {
		endDate = st.EndDate
	}
	if !st.LastRunAt.IsZero() {
		lastRunAt = st.LastRunAt
	}
	var _, err = s.db.ExecContext(ctx, `
		INSERT INTO scheduled_transfers (
			id, customer_id, source_account, dest_account, amount, currency,
			frequency, status, next_run, end_date, description,
			last_run_at, last_code, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			next_run = excluded.next_run,
			last_run_at = excluded.last_run_at,
			last_code = excluded.last_code,
			updated_at = excluded.updated_at`,
		st.ID, st.CustomerID, st.SourceAccount, st.DestAccount, st.Amount,
		st.Currency, st.Frequency, st.Status, st.NextRun, endDate,
		st.Description, lastRunAt, st.LastCode, st.CreatedAt, st.UpdatedAt)
	if err != nil {
		return fmt.Errorf("saving schedule %s: %w", st.ID, err)
	}
	return nil
}

const selectColumns = `
	id, customer_id, source_account, dest_account, amount, currency,
	frequency, status, next_run, end_date, description,
	last_run_at, last_code, created_at, updated_at`

func scanSchedule(row interface{ Scan(...interface{}) error }) (*ScheduledTransfer, error) {
	var st ScheduledTransfer
	var endDate, lastRunAt sql.NullTime
	var err = row.Scan(
		&st.ID, &st.CustomerID, &st.SourceAccount, &st.DestAccount, &st.Amount,
		&st.Currency, &st.Frequency, &st.Status, &st.NextRun, &endDate,
		&st.Description, &lastRunAt, &st.LastCode, &st.CreatedAt, &st.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if endDate.Valid {
		st.EndDate = endDate.Time
	}
	if lastRunAt.Valid {
		st.LastRunAt = lastRunAt.Time
	}
	return &st, nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*ScheduledTransfer, error) {
	var st, err = scanSchedule(s.db.QueryRowContext(ctx,
		`SELECT `+selectColumns+` FROM scheduled_transfers WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, fmt.Errorf("querying schedule %s: %w", id, err)
	}
	return st, nil
}

func (s *SQLiteStore) Due(ctx context.Context, date time.Time) ([]*ScheduledTransfer, error) {
	return s.query(ctx, `SELECT `+selectColumns+` FROM scheduled_transfers
		WHERE status = ? AND next_run <= ? ORDER BY next_run`, Active, date)
}

func (s *SQLiteStore) ByCustomer(ctx context.Context, customerID string) ([]*ScheduledTransfer, error) {
	return s.query(ctx, `SELECT `+selectColumns+` FROM scheduled_transfers
		WHERE customer_id = ? ORDER BY created_at DESC`, customerID)
}

func (s *SQLiteStore) query(ctx context.Context, q string, args ...interface{}) ([]*ScheduledTransfer, error) {
	var rows, err = s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("querying schedules: %w", err)
	}
	defer rows.Close()

	var out []*ScheduledTransfer
	for rows.Next() {
		var st *ScheduledTransfer
		if st, err = scanSchedule(rows); err != nil {
			return nil, fmt.Errorf("scanning schedule: %w", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Close() error { return s.db.Close() }
