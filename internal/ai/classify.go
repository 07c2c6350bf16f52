package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"Mail2Ledger/internal/logger"
	"Mail2Ledger/internal/slicer"
)

type SheetContext struct {
	SheetIndex int    `json:"sheet_index"`
	SheetName  string `json:"sheet_name"`
}

// ClassifyRequest is the payload sent for one row. Row omits empty values.
type ClassifyRequest struct {
	TargetColumns []string      `json:"target_columns"`
	SheetContext  SheetContext  `json:"sheet_context"`
	Row           slicer.Fields `json:"row"`
}

// Classifier maps a raw row onto ledger columns.
type Classifier struct {
	gen     Generator
	columns []string
}

func NewClassifier(gen Generator, columns []string) *Classifier {
	return &Classifier{gen: gen, columns: columns}
}

// Classify returns the model's object. Malformed replies give an empty object; numbers
// are kept as json.Number so their text survives.
func (c *Classifier) Classify(ctx context.Context, row slicer.RowContext) (map[string]any, error) {
	payload, err := json.Marshal(ClassifyRequest{
		TargetColumns: c.columns,
		SheetContext:  SheetContext{SheetIndex: row.SheetIndex, SheetName: row.SheetName},
		Row:           row.Fields,
	})
	if err != nil {
		return nil, err
	}
	raw, err := c.gen.Generate(ctx, classifyInstruction, string(payload))
	if err != nil {
		return nil, fmt.Errorf("classify %s row %d: %w", row.SheetName, row.Row, err)
	}

	dec := json.NewDecoder(bytes.NewReader([]byte(cleanModelJSON(raw))))
	dec.UseNumber()
	var out map[string]any
	if err := dec.Decode(&out); err != nil || out == nil {
		log := logger.FromContext(ctx)
		log.Warn().Err(err).Str("sheet", row.SheetName).Int("row", row.Row).
			Msg("classifier returned malformed output")
		return map[string]any{}, nil
	}
	return out, nil
}
