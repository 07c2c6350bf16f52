package ingest

import (
	"context"
	"errors"

	"Mail2Ledger/internal/config"
	"Mail2Ledger/internal/ledger"
	"Mail2Ledger/internal/logger"
	"Mail2Ledger/internal/slicer"
	"Mail2Ledger/internal/workbook"
)

// Detector finds table boundaries in one sheet window.
type Detector interface {
	DetectTables(ctx context.Context, sheetName string, window [][]string) ([]slicer.TableSpec, error)
}

// Classifier maps one row onto ledger columns.
type Classifier interface {
	Classify(ctx context.Context, row slicer.RowContext) (map[string]any, error)
}

// Inserter persists one batch atomically and reports how many rows it wrote.
type Inserter interface {
	Insert(ctx context.Context, records []ledger.Record) (int, error)
}

// Job is one spreadsheet to ingest with its resolved settings.
type Job struct {
	FileName string
	Data     []byte
	Settings config.Settings
}

// FileResult counts what happened to one file. Inserted only includes committed batches.
type FileResult struct {
	FileName string
	Sheets   int
	Rows     int
	Dropped  int
	Inserted int
}

// Pipeline reads a workbook, slices it into rows, classifies and normalizes each row and
// writes the kept records in batches.
type Pipeline struct {
	cfg        config.Config
	detector   Detector
	classifier Classifier
	normalizer *ledger.Normalizer
	inserter   Inserter
}

func NewPipeline(cfg config.Config, detector Detector, classifier Classifier, normalizer *ledger.Normalizer, inserter Inserter) *Pipeline {
	return &Pipeline{
		cfg:        cfg,
		detector:   detector,
		classifier: classifier,
		normalizer: normalizer,
		inserter:   inserter,
	}
}

// IngestFile processes one file. On error the result still reports the batches that
// were committed before the failure.
func (p *Pipeline) IngestFile(ctx context.Context, job Job) (FileResult, error) {
	res := FileResult{FileName: job.FileName}
	log := logger.FromContext(ctx).With().Str("file", job.FileName).Logger()

	wb, err := workbook.Read(job.FileName, job.Data, job.Settings.Password)
	if err != nil {
		return res, &ExtractionError{File: job.FileName, Stage: "read", Err: err}
	}
	sheets, err := wb.Select(job.Settings.SheetNames)
	if err != nil {
		return res, &ExtractionError{File: job.FileName, Stage: "select", Err: err}
	}
	res.Sheets = len(sheets)

	seq := runSequenceFrom(ctx)
	sl := slicer.New(slicer.Options{
		DropUnnamed:   !p.cfg.Ingest.KeepUnnamed,
		DropBlankRows: !p.cfg.Ingest.KeepBlankRows,
		FirstSequence: seq.claim(),
	})
	defer func() { seq.release(sl.Next()) }()
	src := ledger.Source{FileName: job.FileName, ClientID: job.Settings.ClientID, BankName: job.Settings.BankName}
	batch := make([]ledger.Record, 0, p.cfg.Ingest.BatchSize)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := p.inserter.Insert(ctx, batch)
		if err != nil {
			return &ExtractionError{File: job.FileName, Stage: "insert", Err: err}
		}
		res.Inserted += n
		batch = make([]ledger.Record, 0, p.cfg.Ingest.BatchSize)
		return nil
	}

	for _, sheet := range sheets {
		specs, err := p.specs(ctx, job, sheet)
		if err != nil {
			return res, &ExtractionError{File: job.FileName, Sheet: sheet.Name, Stage: "detect", Err: err}
		}
		rows := sl.Slice(sheet.Index, sheet.Name, sheet.Grid, specs)
		log.Debug().Str("sheet", sheet.Name).Int("tables", len(specs)).Int("rows", len(rows)).Msg("sheet sliced")

		for _, row := range rows {
			res.Rows++
			classified, err := p.classify(ctx, row)
			if err != nil {
				return res, &ExtractionError{File: job.FileName, Sheet: sheet.Name, Stage: "classify", Err: err}
			}
			rec, keep := p.normalizer.Normalize(classified, row, sheet.Index, src)
			if !keep {
				res.Dropped++
				continue
			}
			batch = append(batch, rec)
			if len(batch) >= p.cfg.Ingest.BatchSize {
				if err := flush(); err != nil {
					return res, err
				}
			}
		}
	}
	if err := flush(); err != nil {
		return res, err
	}
	log.Info().Int("rows", res.Rows).Int("dropped", res.Dropped).Int("inserted", res.Inserted).Msg("file ingested")
	return res, nil
}

// specs uses the boundary detector in detection mode, otherwise a single table whose
// header sits at the resolved 0-based offset.
func (p *Pipeline) specs(ctx context.Context, job Job, sheet workbook.Sheet) ([]slicer.TableSpec, error) {
	if job.Settings.DetectTables {
		if p.detector == nil {
			return nil, errors.New("table detection requested but no detector is configured")
		}
		window := workbook.Window(sheet.Grid, p.cfg.AI.DetectRows, p.cfg.AI.DetectCols)
		return p.detector.DetectTables(ctx, sheet.Name, window)
	}
	return []slicer.TableSpec{slicer.HeaderSpec(job.Settings.HeaderRow, len(sheet.Grid))}, nil
}

func (p *Pipeline) classify(ctx context.Context, row slicer.RowContext) (map[string]any, error) {
	cctx, cancel := context.WithTimeout(ctx, p.cfg.AI.ClassifyTimeout)
	defer cancel()
	return p.classifier.Classify(cctx, row)
}
