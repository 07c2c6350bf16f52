package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"Mail2Ledger/internal/config"
	"Mail2Ledger/internal/logger"
	"Mail2Ledger/internal/mailbox"
)

// Stats aggregates one poll run.
type Stats struct {
	Processed int `json:"processed"`
	Inserted  int `json:"inserted"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

// Idle is true when the run touched no message at all.
func (s Stats) Idle() bool {
	return s.Processed == 0 && s.Failed == 0 && s.Skipped == 0
}

func (s *Stats) add(r Result) {
	switch r.Outcome {
	case OutcomeProcessed:
		s.Processed++
		s.Inserted += r.Inserted
	case OutcomeSkipped:
		s.Skipped++
	default:
		s.Failed++
	}
}

// MessageProcessor handles one message of one source.
type MessageProcessor interface {
	Process(ctx context.Context, src config.SourceConfig, id string) Result
}

// Poller lists candidate messages per source and hands them to the processor oldest first.
type Poller struct {
	cfg  config.Config
	mail Mailbox
	proc MessageProcessor
}

func NewPoller(cfg config.Config, mail Mailbox, proc MessageProcessor) *Poller {
	return &Poller{cfg: cfg, mail: mail, proc: proc}
}

// RunOnce polls every source once. A missing label only skips its source. Other
// source-level errors are logged and returned joined after the remaining sources ran;
// message failures are only counted.
func (p *Poller) RunOnce(ctx context.Context, sources []config.SourceConfig) (Stats, error) {
	var stats Stats
	if len(sources) == 0 {
		return stats, config.ErrNoSources
	}
	runID := uuid.NewString()
	log := logger.FromContext(ctx).With().Str("run_id", runID).Logger()
	ctx = WithRunSequence(logger.WithContext(ctx, log))
	started := time.Now()

	seen := make(map[string]bool)
	var errs []error
	for _, src := range sources {
		ids, err := p.candidates(ctx, src)
		if errors.Is(err, mailbox.ErrLabelNotFound) {
			log.Warn().Err(err).Str("label", src.Label).Msg("label not found, source skipped")
			continue
		}
		if err != nil {
			log.Error().Err(err).Str("label", src.Label).Msg("source skipped")
			errs = append(errs, err)
			continue
		}
		for i := len(ids) - 1; i >= 0; i-- {
			if err := ctx.Err(); err != nil {
				return stats, err
			}
			id := ids[i]
			if seen[id] {
				continue
			}
			seen[id] = true
			stats.add(p.proc.Process(ctx, src, id))
		}
	}

	log.Info().
		Int("processed", stats.Processed).
		Int("inserted", stats.Inserted).
		Int("failed", stats.Failed).
		Int("skipped", stats.Skipped).
		Dur("took", time.Since(started)).
		Msg("poll run finished")
	return stats, errors.Join(errs...)
}

func (p *Poller) candidates(ctx context.Context, src config.SourceConfig) ([]string, error) {
	labelID, err := p.mail.ResolveLabel(ctx, src.Label)
	if err != nil {
		return nil, err
	}
	query := src.Query
	if query == "" {
		query = p.cfg.Mail.QueryBase
	}
	ids, err := p.mail.List(ctx, labelID, query, p.cfg.Mail.MaxResults)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", src.Label, err)
	}
	return ids, nil
}
