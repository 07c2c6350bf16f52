package ledger

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func columnType(c string) string {
	switch c {
	case "amount_sign":
		return "SMALLINT CHECK (amount_sign IN (-1, 1))"
	case "client_id":
		return "BIGINT"
	case "createdon":
		return "TIMESTAMPTZ NOT NULL DEFAULT now()"
	}
	return "TEXT"
}

// CreateTableSQL returns the DDL for the ledger table.
func CreateTableSQL(schema, table string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE SCHEMA IF NOT EXISTS %s;\n", pgx.Identifier{schema}.Sanitize())
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (\n", pgx.Identifier{schema, table}.Sanitize())
	b.WriteString("  id BIGSERIAL PRIMARY KEY")
	for _, c := range Columns {
		fmt.Fprintf(&b, ",\n  %s %s", pgx.Identifier{c}.Sanitize(), columnType(c))
	}
	b.WriteString("\n);")
	return b.String()
}

// EnsureTable creates the ledger table when it does not exist.
func EnsureTable(ctx context.Context, db Execer, schema, table string) error {
	if _, err := db.Exec(ctx, CreateTableSQL(schema, table)); err != nil {
		return fmt.Errorf("create ledger table: %w", err)
	}
	return nil
}
