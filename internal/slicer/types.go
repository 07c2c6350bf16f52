package slicer

import (
	"bytes"
	"encoding/json"
	"strings"
)

// Grid is one worksheet's display values, 0-indexed and row-major.
type Grid [][]string

// Cell returns the trimmed value at (row, col), or "" outside the grid.
func (g Grid) Cell(row, col int) string {
	if row < 0 || row >= len(g) || col < 0 || col >= len(g[row]) {
		return ""
	}
	return strings.TrimSpace(g[row][col])
}

// TableSpec is one logical table inside a sheet. Row numbers are 1-based.
type TableSpec struct {
	Table     string `json:"table"`
	HeaderRow *int   `json:"header_row"`
	DataStart *int   `json:"data_start"`
	DataEnd   *int   `json:"data_end"`
	Note      string `json:"note,omitempty"`
}

var noDataNotes = map[string]bool{
	"no record":  true,
	"no records": true,
	"nil":        true,
	"n/a":        true,
	"empty":      true,
}

// NoData reports whether the note marks a table with a header but no rows.
func (s TableSpec) NoData() bool {
	return noDataNotes[strings.ToLower(strings.TrimSpace(s.Note))]
}

// Field is one header-keyed cell of a row.
type Field struct {
	Key   string
	Value string
}

// Fields keeps header order; keys are unique.
type Fields []Field

func (f Fields) Get(key string) (string, bool) {
	for _, fd := range f {
		if fd.Key == key {
			return fd.Value, true
		}
	}
	return "", false
}

// Blank reports whether every value is empty.
func (f Fields) Blank() bool {
	for _, fd := range f {
		if fd.Value != "" {
			return false
		}
	}
	return true
}

// MarshalJSON writes a JSON object in header order and omits empty values.
func (f Fields) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	first := true
	for _, fd := range f {
		if fd.Value == "" {
			continue
		}
		if !first {
			buf.WriteByte(',')
		}
		first = false
		k, err := json.Marshal(fd.Key)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(fd.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// RowContext is one extracted data row with its original coordinates.
type RowContext struct {
	SheetIndex int
	SheetName  string
	Table      string
	Row        int // 1-based row number in the sheet
	Sequence   int
	Fields     Fields
}
