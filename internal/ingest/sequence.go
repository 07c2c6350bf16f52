package ingest

import (
	"context"
	"sync"
)

type sequenceKey struct{}

// runSequence carries the row sequence counter across every file of one extraction run.
// Files of a run are ingested one at a time; claim blocks while another file holds it.
type runSequence struct {
	mu   sync.Mutex
	next int
}

// WithRunSequence starts a run-wide sequence on ctx unless ctx already carries one.
func WithRunSequence(ctx context.Context) context.Context {
	if _, ok := ctx.Value(sequenceKey{}).(*runSequence); ok {
		return ctx
	}
	return context.WithValue(ctx, sequenceKey{}, &runSequence{})
}

// runSequenceFrom returns the run's counter, or a fresh one when ctx has none.
func runSequenceFrom(ctx context.Context) *runSequence {
	if seq, ok := ctx.Value(sequenceKey{}).(*runSequence); ok {
		return seq
	}
	return &runSequence{}
}

func (s *runSequence) claim() int {
	s.mu.Lock()
	return s.next
}

func (s *runSequence) release(next int) {
	s.next = next
	s.mu.Unlock()
}
