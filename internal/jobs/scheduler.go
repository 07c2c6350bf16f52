package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"Mail2Ledger/internal/logger"
)

var ErrNoDigestRecipient = errors.New("digest needs notify.alert_to")

// CronService schedules the daily digest.
type CronService struct {
	cfg      *DigestConfig
	source   ActivitySource
	notifier Notifier
	cron     *cron.Cron
}

func NewCronService(cfg *DigestConfig, source ActivitySource, notifier Notifier) *CronService {
	return &CronService{cfg: cfg, source: source, notifier: notifier}
}

func (s *CronService) Name() string {
	return "digest"
}

func (s *CronService) Start() error {
	if s.cfg.To == "" {
		return ErrNoDigestRecipient
	}
	loc, err := time.LoadLocation(s.cfg.TimeZone)
	if err != nil {
		loc = time.UTC
		logger.Audit(fmt.Sprintf("Invalid timezone %s, falling back to UTC: %v", s.cfg.TimeZone, err))
	}

	c := cron.New(cron.WithLocation(loc))
	_, err = c.AddFunc(s.cfg.Schedule, func() { s.run(loc) })
	if err != nil {
		return fmt.Errorf("unable to schedule digest: %w", err)
	}
	c.Start()
	s.cron = c
	logger.Audit(fmt.Sprintf("Digest scheduler started with schedule: %s (timezone: %s)", s.cfg.Schedule, loc))
	return nil
}

func (s *CronService) run(loc *time.Location) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	log := logger.L()
	if err := SendDigest(ctx, s.cfg, s.source, s.notifier, time.Now().In(loc)); err != nil {
		log.Error().Err(err).Msg("digest job failed")
		return
	}
	logger.Audit("Digest sent")
}

func (s *CronService) Stop() error {
	if s.cron == nil {
		return nil
	}
	<-s.cron.Stop().Done()
	s.cron = nil
	return nil
}
