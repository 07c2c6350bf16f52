package ingest

import (
	"errors"
	"fmt"
)

// ErrZeroRows marks an ingest that committed nothing; the message stays unread for the next poll.
var ErrZeroRows = errors.New("ingest returned 0 rows (likely header_row/sheet_names/bank_name mismatch)")

// ExtractionError records which file, sheet and stage an ingest failed in.
type ExtractionError struct {
	File  string
	Sheet string
	Stage string
	Err   error
}

func (e *ExtractionError) Error() string {
	if e.Sheet != "" {
		return fmt.Sprintf("%s: sheet %q: %s: %v", e.File, e.Sheet, e.Stage, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.File, e.Stage, e.Err)
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}
