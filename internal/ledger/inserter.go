package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"Mail2Ledger/internal/logger"
)

// Conn is a checked-out storage handle.
type Conn interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Release()
}

type Acquirer interface {
	Acquire(ctx context.Context) (Conn, error)
}

// PoolAcquirer hands out connections from a pgx pool.
type PoolAcquirer struct {
	Pool *pgxpool.Pool
}

func (p PoolAcquirer) Acquire(ctx context.Context) (Conn, error) {
	c, err := p.Pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Inserter writes batches of records with one COPY per attempt inside a transaction.
type Inserter struct {
	acq     Acquirer
	table   pgx.Identifier
	retries int
	backoff time.Duration
	log     zerolog.Logger
}

func NewInserter(acq Acquirer, schema, table string, retries int, backoff time.Duration) *Inserter {
	if retries < 0 {
		retries = 0
	}
	return &Inserter{
		acq:     acq,
		table:   pgx.Identifier{schema, table},
		retries: retries,
		backoff: backoff,
		log:     logger.L().With().Str("component", "inserter").Logger(),
	}
}

// Insert persists records atomically. Transient failures are retried with a fresh
// connection; anything else is returned at once.
func (ins *Inserter) Insert(ctx context.Context, records []Record) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}
	rows := make([][]any, len(records))
	for i, r := range records {
		rows[i] = copyRow(r)
	}

	attempts := 1 + ins.retries
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		n, err := ins.attempt(ctx, rows)
		if err == nil {
			return n, nil
		}
		lastErr = err
		if !IsTransient(err) || attempt == attempts {
			break
		}
		ins.log.Warn().Err(err).Int("attempt", attempt).Int("attempts", attempts).Msg("transient insert failure, retrying")
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(ins.backoff * time.Duration(attempt)):
		}
	}
	return 0, fmt.Errorf("insert %d records into %s: %w", len(records), ins.table.Sanitize(), lastErr)
}

func (ins *Inserter) attempt(ctx context.Context, rows [][]any) (int, error) {
	conn, err := ins.acq.Acquire(ctx)
	if err != nil {
		return 0, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	tx, err := conn.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	copied, err := tx.CopyFrom(ctx, ins.table, Columns, pgx.CopyFromRows(rows))
	if err != nil {
		return 0, fmt.Errorf("copy: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return int(copied), nil
}

// typedColumns keep their Go value; every other column is text.
var typedColumns = map[string]bool{"amount_sign": true, "client_id": true, "createdon": true}

func copyRow(r Record) []any {
	out := make([]any, len(Columns))
	for i, c := range Columns {
		v := r[c]
		if v == nil || typedColumns[c] {
			out[i] = v
			continue
		}
		out[i] = textValue(v)
	}
	return out
}

func textValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	case float64:
		return decimal.NewFromFloat(t).String()
	case decimal.Decimal:
		return t.String()
	case time.Time:
		return t.Format(time.RFC3339)
	}
	return fmt.Sprint(v)
}
