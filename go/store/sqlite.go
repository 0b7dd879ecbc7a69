package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	pf "github.com/paynet/fep/go/protocols/fep"
)

const schema = `
CREATE TABLE IF NOT EXISTS transactions (
	id                 TEXT PRIMARY KEY,
	type               TEXT NOT NULL,
	status             TEXT NOT NULL,
	code               TEXT NOT NULL DEFAULT '',
	amount             INTEGER NOT NULL,
	currency           TEXT NOT NULL DEFAULT '',
	masked_pan         TEXT NOT NULL DEFAULT '',
	source_account     TEXT NOT NULL DEFAULT '',
	dest_account       TEXT NOT NULL DEFAULT '',
	terminal           TEXT NOT NULL DEFAULT '',
	channel            TEXT NOT NULL DEFAULT '',
	customer_id        TEXT NOT NULL DEFAULT '',
	rrn                TEXT NOT NULL DEFAULT '',
	stan               TEXT NOT NULL DEFAULT '',
	auth_code          TEXT NOT NULL DEFAULT '',
	reason             TEXT NOT NULL DEFAULT '',
	processing_time_ms INTEGER NOT NULL DEFAULT 0,
	created_at         TIMESTAMP NOT NULL,
	updated_at         TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_transactions_rrn ON transactions (rrn);
CREATE INDEX IF NOT EXISTS idx_transactions_status ON transactions (status);
`

// SQLiteRepository persists records in an embedded SQLite database.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLite opens (and migrates) the database at |path|. Pass ":memory:"
// for an ephemeral database.
func NewSQLite(path string) (*SQLiteRepository, error) {
	var db, err = sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	// SQLite serializes writers; a single connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err = db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrating schema: %w", err)
	}
	return &SQLiteRepository{db: db}, nil
}

func (s *SQLiteRepository) Save(ctx context.Context, rec *Record) error {
	var now = time.Now().UTC()
	var _, err = s.db.ExecContext(ctx, `
		INSERT INTO transactions (
			id, type, status, code, amount, currency, masked_pan,
			source_account, dest_account, terminal, channel, customer_id,
			rrn, stan, auth_code, reason, processing_time_ms,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			code = excluded.code,
			auth_code = excluded.auth_code,
			reason = excluded.reason,
			processing_time_ms = excluded.processing_time_ms,
			updated_at = excluded.updated_at`,
		rec.ID, rec.Type, rec.Status, rec.Code, rec.Amount, rec.Currency,
		rec.MaskedPAN, rec.SourceAccount, rec.DestAccount, rec.Terminal,
		rec.Channel, rec.CustomerID, rec.RRN, rec.STAN, rec.AuthCode,
		rec.Reason, rec.ProcessingTimeMs, now, now)
	if err != nil {
		return fmt.Errorf("saving transaction %s: %w", rec.ID, err)
	}
	return nil
}

const selectColumns = `
	id, type, status, code, amount, currency, masked_pan,
	source_account, dest_account, terminal, channel, customer_id,
	rrn, stan, auth_code, reason, processing_time_ms, created_at, updated_at`

func scanRecord(row interface{ Scan(...interface{}) error }) (*Record, error) {
	var rec Record
	var err = row.Scan(
		&rec.ID, &rec.Type, &rec.Status, &rec.Code, &rec.Amount, &rec.Currency,
		&rec.MaskedPAN, &rec.SourceAccount, &rec.DestAccount, &rec.Terminal,
		&rec.Channel, &rec.CustomerID, &rec.RRN, &rec.STAN, &rec.AuthCode,
		&rec.Reason, &rec.ProcessingTimeMs, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *SQLiteRepository) FindByID(ctx context.Context, id string) (*Record, error) {
	var rec, err = scanRecord(s.db.QueryRowContext(ctx,
		`SELECT `+selectColumns+` FROM transactions WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, fmt.Errorf("querying transaction %s: %w", id, err)
	}
	return rec, nil
}

func (s *SQLiteRepository) FindByRRN(ctx context.Context, rrn string) ([]*Record, error) {
	return s.query(ctx,
		`SELECT `+selectColumns+` FROM transactions WHERE rrn = ? ORDER BY created_at DESC`, rrn)
}

func (s *SQLiteRepository) FindByStatus(ctx context.Context, status pf.TransactionStatus, limit int) ([]*Record, error) {
	if limit <= 0 {
		limit = -1 // SQLite: no limit.
	}
	return s.query(ctx,
		`SELECT `+selectColumns+` FROM transactions WHERE status = ?
		 ORDER BY created_at DESC LIMIT ?`, status, limit)
}

func (s *SQLiteRepository) query(ctx context.Context, q string, args ...interface{}) ([]*Record, error) {
	var rows, err = s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("querying transactions: %w", err)
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		var rec *Record
		if rec, err = scanRecord(rows); err != nil {
			return nil, fmt.Errorf("scanning transaction: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLiteRepository) UpdateStatus(ctx context.Context, id string, status pf.TransactionStatus) error {
	var res, err = s.db.ExecContext(ctx,
		`UPDATE transactions SET status = ?, updated_at = ? WHERE id = ?`,
		status, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("updating transaction %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteRepository) Close() error { return s.db.Close() }
