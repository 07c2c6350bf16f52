package appmanager

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"Mail2Ledger/internal/ai"
	"Mail2Ledger/internal/archive"
	"Mail2Ledger/internal/config"
	"Mail2Ledger/internal/dashboard"
	"Mail2Ledger/internal/ingest"
	"Mail2Ledger/internal/ledger"
	"Mail2Ledger/internal/logger"
	"Mail2Ledger/internal/mailbox"
	"Mail2Ledger/internal/notification"
	"Mail2Ledger/internal/registry"
)

// BuildPipeline assembles the file pipeline: model-backed detector and classifier, sign
// policy from config and a COPY inserter over the pool.
func BuildPipeline(ctx context.Context, cfg config.Config, pool *pgxpool.Pool) (*ingest.Pipeline, error) {
	if pool == nil {
		return nil, fmt.Errorf("pipeline needs a pgx pool")
	}
	gen, err := ai.NewGeminiGenerator(ctx, cfg.AI)
	if err != nil {
		return nil, err
	}
	policy := ledger.NewSignPolicy(cfg.SignPolicy.SecondarySheetIndex, cfg.SignPolicy.InvertTypes)
	inserter := ledger.NewInserter(ledger.PoolAcquirer{Pool: pool}, cfg.Ingest.Schema, cfg.Ingest.Table, cfg.Ingest.DBRetry, cfg.Ingest.RetryBackoff)
	return ingest.NewPipeline(cfg,
		ai.NewDetector(gen),
		ai.NewClassifier(gen, ledger.Columns),
		ledger.NewNormalizer(policy),
		inserter,
	), nil
}

// BuildArchiver returns nil when archiving is disabled.
func BuildArchiver(ctx context.Context, cfg config.Config) (*archive.Archiver, error) {
	if !cfg.Archive.Enabled || cfg.Archive.Bucket == "" {
		return nil, nil
	}
	return archive.NewS3Archiver(ctx, cfg.Archive)
}

// Components are the long-lived objects shared by the services.
type Components struct {
	Config   config.Config
	Pipeline *ingest.Pipeline
	Registry *registry.Store
	Mailbox  *mailbox.Gmail
	Notifier *notification.NotificationService
	Archiver *archive.Archiver
	Poller   *ingest.Poller
	SSE      *dashboard.SSEServer
	WS       *dashboard.WebSocketServer
}

// Feed fans events out to both push transports.
func (c *Components) Feed() dashboard.Feed {
	return dashboard.Feed{c.SSE, c.WS}
}

// IngestArchiver keeps a nil archiver a nil interface.
func (c *Components) IngestArchiver() ingest.Archiver {
	if c.Archiver == nil {
		return nil
	}
	return c.Archiver
}

// BuildComponents connects every external dependency once. The mailbox doubles as the
// notification transport.
func BuildComponents(ctx context.Context, cfg config.Config, db *sql.DB, pool *pgxpool.Pool) (*Components, error) {
	if db == nil {
		return nil, fmt.Errorf("components need a database handle")
	}
	pipeline, err := BuildPipeline(ctx, cfg, pool)
	if err != nil {
		return nil, err
	}
	gm, err := mailbox.NewGmail(ctx, cfg.Mail)
	if err != nil {
		return nil, err
	}
	arch, err := BuildArchiver(ctx, cfg)
	if err != nil {
		return nil, err
	}

	c := &Components{
		Config:   cfg,
		Pipeline: pipeline,
		Registry: registry.NewStore(db, cfg.Ingest.Schema, cfg.Ingest.RegistryTable),
		Mailbox:  gm,
		Notifier: notification.NewNotificationService(gm),
		Archiver: arch,
		SSE:      dashboard.NewSSEServer(0),
		WS:       dashboard.NewWebSocketServer(),
	}
	orch := ingest.NewOrchestrator(cfg, gm, pipeline, c.Registry, c.Notifier)
	if arch != nil {
		orch.WithArchiver(arch)
	}
	c.Poller = ingest.NewPoller(cfg, gm, orch)

	log := logger.L()
	log.Info().
		Int("sources", len(cfg.Sources)).
		Bool("archive", arch != nil).
		Str("model", cfg.AI.Model).
		Msg("components wired")
	return c, nil
}
