package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"Mail2Ledger/internal/logger"
	"Mail2Ledger/internal/slicer"
)

type cell struct {
	R int    `json:"r"`
	C int    `json:"c"`
	V string `json:"v"`
}

type detectSheet struct {
	Name  string   `json:"name"`
	Cells [][]cell `json:"cells"`
}

type detectPayload struct {
	Workbook struct {
		Sheets []detectSheet `json:"sheets"`
	} `json:"workbook"`
}

// Detector asks the model where the tables in a sheet are.
type Detector struct {
	gen Generator
}

func NewDetector(gen Generator) *Detector {
	return &Detector{gen: gen}
}

// buildDetectPayload serializes a window with 1-based coordinates and no empty cells.
func buildDetectPayload(sheetName string, window [][]string) ([]byte, error) {
	sh := detectSheet{Name: sheetName, Cells: make([][]cell, 0, len(window))}
	for r, row := range window {
		line := make([]cell, 0, len(row))
		for c, v := range row {
			if v == "" {
				continue
			}
			line = append(line, cell{R: r + 1, C: c + 1, V: v})
		}
		sh.Cells = append(sh.Cells, line)
	}
	var p detectPayload
	p.Workbook.Sheets = []detectSheet{sh}
	return json.Marshal(p)
}

// DetectTables returns the table specs for one sheet. An empty reply or one that cannot
// be parsed yields no tables rather than an error.
func (d *Detector) DetectTables(ctx context.Context, sheetName string, window [][]string) ([]slicer.TableSpec, error) {
	payload, err := buildDetectPayload(sheetName, window)
	if err != nil {
		return nil, err
	}
	raw, err := d.gen.Generate(ctx, detectInstruction, string(payload))
	if errors.Is(err, ErrEmptyResponse) {
		log := logger.FromContext(ctx)
		log.Warn().Str("sheet", sheetName).Msg("table detector returned an empty reply")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("detect tables in %q: %w", sheetName, err)
	}

	var bySheet map[string][]slicer.TableSpec
	if err := json.Unmarshal([]byte(cleanModelJSON(raw)), &bySheet); err != nil {
		log := logger.FromContext(ctx)
		log.Warn().Err(err).Str("sheet", sheetName).Msg("table detector returned malformed output")
		return nil, nil
	}
	if specs, ok := bySheet[sheetName]; ok {
		return specs, nil
	}
	// Single-sheet payload: accept whatever key the model used.
	if len(bySheet) == 1 {
		for _, specs := range bySheet {
			return specs, nil
		}
	}
	return nil, nil
}
