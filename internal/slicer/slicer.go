package slicer

import (
	"fmt"
	"regexp"
	"strings"
)

var unnamedHeader = regexp.MustCompile(`^Unnamed:\s*\d*`)

type Options struct {
	DropUnnamed   bool
	DropBlankRows bool
	// FirstSequence continues a run that earlier slicers started.
	FirstSequence int
}

// Slicer turns table specs into row contexts. One Slicer covers one extraction run;
// its sequence counter never resets.
type Slicer struct {
	opts Options
	next int
}

func New(opts Options) *Slicer {
	return &Slicer{opts: opts, next: opts.FirstSequence}
}

// Next is the sequence index the next emitted row will get.
func (s *Slicer) Next() int {
	return s.next
}

// HeaderSpec describes a single table whose header sits at a 0-based row offset and
// whose data runs to the end of the sheet.
func HeaderSpec(headerOffset, rows int) TableSpec {
	header := headerOffset + 1
	start := header + 1
	end := rows
	return TableSpec{HeaderRow: &header, DataStart: &start, DataEnd: &end}
}

// Slice emits rows for each spec in order. Specs that are marked as empty, incomplete
// or out of range yield nothing.
func (s *Slicer) Slice(sheetIndex int, sheetName string, grid Grid, specs []TableSpec) []RowContext {
	var out []RowContext
	for i, spec := range specs {
		out = append(out, s.sliceOne(sheetIndex, sheetName, grid, spec, i)...)
	}
	return out
}

func (s *Slicer) sliceOne(sheetIndex int, sheetName string, grid Grid, spec TableSpec, pos int) []RowContext {
	if spec.NoData() || spec.HeaderRow == nil || spec.DataStart == nil || spec.DataEnd == nil {
		return nil
	}
	last := len(grid) - 1
	hr := *spec.HeaderRow - 1
	ds := *spec.DataStart - 1
	de := *spec.DataEnd - 1
	if de > last {
		de = last
	}
	if hr < 0 || hr > last || ds < 0 || ds > last || de < ds {
		return nil
	}

	table := strings.TrimSpace(spec.Table)
	if table == "" {
		table = fmt.Sprintf("table_%d", pos+1)
	}

	cols, keys := s.headers(grid[hr])
	var out []RowContext
	for r := ds; r <= de; r++ {
		fields := make(Fields, len(cols))
		for i, c := range cols {
			fields[i] = Field{Key: keys[i], Value: grid.Cell(r, c)}
		}
		if s.opts.DropBlankRows && fields.Blank() {
			continue
		}
		out = append(out, RowContext{
			SheetIndex: sheetIndex,
			SheetName:  sheetName,
			Table:      table,
			Row:        r + 1,
			Sequence:   s.next,
			Fields:     fields,
		})
		s.next++
	}
	return out
}

// headers returns the kept column indexes and their unique labels.
func (s *Slicer) headers(row []string) ([]int, []string) {
	var cols []int
	var keys []string
	seen := map[string]int{}
	used := map[string]bool{}
	for c, raw := range row {
		label := strings.TrimSpace(raw)
		if label == "" {
			continue
		}
		if s.opts.DropUnnamed && unnamedHeader.MatchString(label) {
			continue
		}
		key := label
		for used[key] {
			seen[label]++
			key = fmt.Sprintf("%s_%d", label, seen[label]+1)
		}
		used[key] = true
		cols = append(cols, c)
		keys = append(keys, key)
	}
	return cols, keys
}
