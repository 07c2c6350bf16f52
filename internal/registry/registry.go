package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
)

// Entry marks one attachment as ingested.
type Entry struct {
	ClientID         int64
	BankName         string
	AccountCanonical string
	LabelName        string
	MessageID        string
	EmailFrom        string
	EmailSubject     string
	EmailDateRaw     string
	AttachmentName   string
	AttachmentSHA256 string
	SchemaName       string
	TableName        string
	RowsInserted     int
}

// DB is the subset of *sql.DB the store needs.
type DB interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store is the idempotency registry table.
type Store struct {
	db    DB
	table string
}

func NewStore(db DB, schema, table string) *Store {
	return &Store{db: db, table: pq.QuoteIdentifier(schema) + "." + pq.QuoteIdentifier(table)}
}

const insertColumns = `(client_id, bank_name, account_canonical, label_name, message_id,
  email_from, email_subject, email_date_raw,
  attachment_name, attachment_sha256, schema_name, table_name, rows_inserted)`

// insertStatement picks the dedupe key: message id + attachment name, else client + content
// hash, else no key at all.
func (s *Store) insertStatement(e Entry) string {
	base := fmt.Sprintf(`INSERT INTO %s %s
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`, s.table, insertColumns)
	switch {
	case e.MessageID != "":
		return base + "\nON CONFLICT (message_id, attachment_name) DO NOTHING"
	case e.AttachmentSHA256 != "":
		return base + "\nON CONFLICT (client_id, attachment_sha256) WHERE message_id IS NULL DO NOTHING"
	}
	return base
}

func (e Entry) args() []any {
	return []any{
		e.ClientID, nullString(e.BankName), nullString(e.AccountCanonical), nullString(e.LabelName),
		nullString(e.MessageID), nullString(e.EmailFrom), nullString(e.EmailSubject), nullString(e.EmailDateRaw),
		e.AttachmentName, nullString(e.AttachmentSHA256), e.SchemaName, e.TableName, e.RowsInserted,
	}
}

func nullString(s string) sql.NullString {
	s = strings.TrimSpace(s)
	return sql.NullString{String: s, Valid: s != ""}
}

// Record inserts the entry if its key is absent. It reports whether a row was written.
func (s *Store) Record(ctx context.Context, e Entry) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.insertStatement(e), e.args()...)
	if err != nil {
		return false, fmt.Errorf("registry insert %s: %w", e.AttachmentName, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Exists reports whether the entry's key is already registered. Entries without any key never exist.
func (s *Store) Exists(ctx context.Context, e Entry) (bool, error) {
	var q string
	var args []any
	switch {
	case e.MessageID != "":
		q = fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE message_id = $1 AND attachment_name = $2)`, s.table)
		args = []any{e.MessageID, e.AttachmentName}
	case e.AttachmentSHA256 != "":
		q = fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE message_id IS NULL AND client_id = $1 AND attachment_sha256 = $2)`, s.table)
		args = []any{e.ClientID, e.AttachmentSHA256}
	default:
		return false, nil
	}
	var exists bool
	if err := s.db.QueryRowContext(ctx, q, args...).Scan(&exists); err != nil {
		return false, fmt.Errorf("registry lookup %s: %w", e.AttachmentName, err)
	}
	return exists, nil
}

// Activity is one line of the ingest digest.
type Activity struct {
	LabelName   string
	BankName    string
	Attachments int
	Rows        int64
}

// Since summarizes registrations at or after t, grouped by label and bank.
func (s *Store) Since(ctx context.Context, t time.Time) ([]Activity, error) {
	q := fmt.Sprintf(`SELECT COALESCE(label_name, ''), COALESCE(bank_name, ''), COUNT(*), COALESCE(SUM(rows_inserted), 0)
FROM %s
WHERE created_at >= $1
GROUP BY 1, 2
ORDER BY 1, 2`, s.table)
	rows, err := s.db.QueryContext(ctx, q, t)
	if err != nil {
		return nil, fmt.Errorf("registry summary: %w", err)
	}
	defer rows.Close()

	var out []Activity
	for rows.Next() {
		var a Activity
		if err := rows.Scan(&a.LabelName, &a.BankName, &a.Attachments, &a.Rows); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// EnsureSchema creates the registry table and its dedupe indexes.
func (s *Store) EnsureSchema(ctx context.Context, schema string) error {
	stmts := []string{
		fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS %s`, pq.QuoteIdentifier(schema)),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
  id BIGSERIAL PRIMARY KEY,
  client_id BIGINT NOT NULL,
  bank_name TEXT,
  account_canonical TEXT,
  label_name TEXT,
  message_id TEXT,
  email_from TEXT,
  email_subject TEXT,
  email_date_raw TEXT,
  attachment_name TEXT NOT NULL,
  attachment_sha256 TEXT,
  schema_name TEXT NOT NULL,
  table_name TEXT NOT NULL,
  rows_inserted INTEGER NOT NULL DEFAULT 0,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`, s.table),
		fmt.Sprintf(`CREATE UNIQUE INDEX IF NOT EXISTS ingest_registry_msg_att ON %s (message_id, attachment_name)`, s.table),
		fmt.Sprintf(`CREATE UNIQUE INDEX IF NOT EXISTS ingest_registry_client_sha ON %s (client_id, attachment_sha256) WHERE message_id IS NULL`, s.table),
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("registry schema: %w", err)
		}
	}
	return nil
}

// FriendlyError turns driver errors into text suitable for an API response.
func FriendlyError(err error) string {
	if err == nil {
		return ""
	}
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return err.Error()
	}
	switch pqErr.Code {
	case "23505":
		return "This statement file was already ingested."
	case "23503":
		return "Some referenced data was not found (please refresh and try again)."
	case "23514":
		return "Some fields have invalid values. Please check and try again."
	default:
		return "Database error while processing the request. Please try again."
	}
}
