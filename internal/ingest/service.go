package ingest

import (
	"context"
	"sync"
	"time"

	"Mail2Ledger/internal/config"
	"Mail2Ledger/internal/logger"
)

// Runner is one poll pass.
type Runner interface {
	RunOnce(ctx context.Context, sources []config.SourceConfig) (Stats, error)
}

// PollerService runs the poller in the background with adaptive backoff.
type PollerService struct {
	runner  Runner
	sources []config.SourceConfig
	backoff *Backoff

	mu    sync.Mutex
	last  RunReport
	onRun func(RunReport)

	cancel context.CancelFunc
	done   chan struct{}
}

func NewPollerService(cfg config.Config, runner Runner) *PollerService {
	base, max := cfg.PollInterval()
	return &PollerService{
		runner:  runner,
		sources: cfg.Sources,
		backoff: NewBackoff(base, max),
	}
}

// OnRun registers fn to receive every run report. It must be set before Start.
func (s *PollerService) OnRun(fn func(RunReport)) *PollerService {
	s.onRun = fn
	return s
}

func (s *PollerService) Name() string { return "poller" }

func (s *PollerService) Start() error {
	if len(s.sources) == 0 {
		return config.ErrNoSources
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.loop(ctx)
	logger.Audit("Poller started")
	return nil
}

func (s *PollerService) Stop() error {
	if s.cancel == nil {
		return nil
	}
	s.cancel()
	<-s.done
	s.cancel = nil
	return nil
}

func (s *PollerService) loop(ctx context.Context) {
	defer close(s.done)
	log := logger.L().With().Str("service", "poller").Logger()
	for {
		stats, err := s.runner.RunOnce(logger.WithContext(ctx, log), s.sources)
		s.record(stats, err)
		if ctx.Err() != nil {
			return
		}
		wait := s.backoff.Next(stats, err)
		if err != nil {
			log.Error().Err(err).Dur("next_in", wait).Msg("poll run had errors")
		} else {
			log.Debug().Dur("next_in", wait).Msg("sleeping")
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

// RunReport describes the most recent poll run.
type RunReport struct {
	Stats Stats     `json:"stats"`
	Error string    `json:"error,omitempty"`
	At    time.Time `json:"at"`
}

func (s *PollerService) record(stats Stats, err error) {
	r := RunReport{Stats: stats, At: time.Now().UTC()}
	if err != nil {
		r.Error = err.Error()
	}
	s.mu.Lock()
	s.last = r
	s.mu.Unlock()
	if s.onRun != nil {
		s.onRun(r)
	}
}

func (s *PollerService) LastRun() RunReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}
