package appmanager

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/lib/pq"

	"Mail2Ledger/internal/config"
	"Mail2Ledger/internal/ledger"
	"Mail2Ledger/internal/registry"
)

// DSN is DATABASE_URL when set, else built from the DB_* variables.
func DSN() string {
	if url := strings.TrimSpace(os.Getenv("DATABASE_URL")); url != "" {
		return url
	}
	sslmode := os.Getenv("DB_SSLMODE")
	if sslmode == "" {
		sslmode = "disable"
	}
	return fmt.Sprintf(
		"user=%s password=%s host=%s port=%s dbname=%s sslmode=%s",
		os.Getenv("DB_USER"), os.Getenv("DB_PASSWORD"), os.Getenv("DB_HOST"),
		os.Getenv("DB_PORT"), os.Getenv("DB_NAME"), sslmode,
	)
}

// OpenDatabases opens the database/sql handle used by the registry and the pgx pool
// used for ledger COPY, both on the same DSN.
func OpenDatabases(ctx context.Context) (*sql.DB, *pgxpool.Pool, error) {
	dsn := DSN()
	sqlDB, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("open postgres: %w", err)
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		sqlDB.Close()
		return nil, nil, fmt.Errorf("open pgx pool: %w", err)
	}
	return sqlDB, pool, nil
}

// Migrate creates the ledger table and the registry with its dedupe indexes.
func Migrate(ctx context.Context, cfg config.Config, db *sql.DB, pool *pgxpool.Pool) error {
	if err := ledger.EnsureTable(ctx, pool, cfg.Ingest.Schema, cfg.Ingest.Table); err != nil {
		return err
	}
	store := registry.NewStore(db, cfg.Ingest.Schema, cfg.Ingest.RegistryTable)
	return store.EnsureSchema(ctx, cfg.Ingest.Schema)
}
