package ingest

import "time"

// Backoff is the poll loop's interval: doubled after every idle run up to max, reset to
// base after any run that did something. A failed idle run keeps the current interval.
type Backoff struct {
	base, max, cur time.Duration
}

func NewBackoff(base, max time.Duration) *Backoff {
	if max < base {
		max = base
	}
	return &Backoff{base: base, max: max, cur: base}
}

// Next returns how long to sleep after a run.
func (b *Backoff) Next(stats Stats, err error) time.Duration {
	switch {
	case !stats.Idle():
		b.cur = b.base
	case err != nil:
		b.cur = max(b.cur, b.base)
	default:
		b.cur *= 2
	}
	if b.cur > b.max {
		b.cur = b.max
	}
	return b.cur
}

func (b *Backoff) Current() time.Duration {
	return b.cur
}
