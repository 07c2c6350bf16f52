package jobs

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"Mail2Ledger/internal/config"
	"Mail2Ledger/internal/registry"
)

// DigestConfig holds configuration for the daily ingest digest
type DigestConfig struct {
	Schedule string // Cron schedule (default: "0 8 * * *" for 8 AM daily)
	TimeZone string
	To       string
	Window   time.Duration
}

// NewDefaultDigestConfig builds the digest config from the app config, with
// DIGEST_SCHEDULE taking precedence over the file.
func NewDefaultDigestConfig(cfg config.Config) *DigestConfig {
	schedule := os.Getenv("DIGEST_SCHEDULE")
	if schedule == "" {
		schedule = cfg.Digest.Schedule
	}
	if schedule == "" {
		schedule = config.DefaultDigestSchedule
	}
	tz := cfg.Digest.TimeZone
	if tz == "" {
		tz = config.DefaultTimeZone
	}
	return &DigestConfig{
		Schedule: schedule,
		TimeZone: tz,
		To:       cfg.Notify.AlertTo,
		Window:   24 * time.Hour,
	}
}

type ActivitySource interface {
	Since(ctx context.Context, t time.Time) ([]registry.Activity, error)
}

type Notifier interface {
	Notify(ctx context.Context, to, subject, body string) error
}

// digestBody renders one line per label and bank.
func digestBody(from, to time.Time, rows []registry.Activity) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Mail2Ledger digest %s to %s\n\n", from.Format(time.RFC3339), to.Format(time.RFC3339))
	if len(rows) == 0 {
		b.WriteString("No attachments ingested.\n")
		return b.String()
	}
	var files int
	var total int64
	for _, a := range rows {
		bank := a.BankName
		if bank == "" {
			bank = "-"
		}
		fmt.Fprintf(&b, "label=%s bank=%s attachments=%d rows=%d\n", a.LabelName, bank, a.Attachments, a.Rows)
		files += a.Attachments
		total += a.Rows
	}
	fmt.Fprintf(&b, "\ntotal attachments=%d rows=%d\n", files, total)
	return b.String()
}

// SendDigest summarizes registrations over the window ending at now and mails them.
func SendDigest(ctx context.Context, cfg *DigestConfig, src ActivitySource, n Notifier, now time.Time) error {
	from := now.Add(-cfg.Window)
	rows, err := src.Since(ctx, from)
	if err != nil {
		return fmt.Errorf("load digest activity: %w", err)
	}
	subject := fmt.Sprintf("[Mail2Ledger] Daily digest %s", now.Format("2006-01-02"))
	return n.Notify(ctx, cfg.To, subject, digestBody(from, now, rows))
}
