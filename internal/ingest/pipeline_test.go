package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"Mail2Ledger/internal/config"
	"Mail2Ledger/internal/ledger"
	"Mail2Ledger/internal/slicer"
	"Mail2Ledger/internal/workbook"
)

func statementBook(t *testing.T) []byte {
	return buildWorkbook(t, []string{"Cash", "Trades"}, map[string][][]any{
		"Cash": {
			{"Date", "Description", "Amount"},
			{"2025-03-01", "Coupon", "(12.50)"},
			{"", "", ""},
			{"2025-03-02", "Fee", "-1.00"},
			{"2025-03-03", "Deposit", "100.00"},
		},
		"Trades": {
			{"Client statement"},
			{"Date", "Description", "Qty", "Amount"},
			{"2025-03-04", "Buy ACME", "10", "1000.00"},
		},
	})
}

func newTestPipeline(cfg config.Config, det Detector, cls Classifier, ins Inserter) *Pipeline {
	return NewPipeline(cfg, det, cls, ledger.NewNormalizer(ledger.DefaultSignPolicy()), ins)
}

func TestIngestFile_HeaderMode(t *testing.T) {
	cfg := testConfig()
	ins := &fakeInserter{}
	cls := &echoClassifier{}
	p := newTestPipeline(cfg, nil, cls, ins)

	res, err := p.IngestFile(context.Background(), Job{
		FileName: "march.xlsx",
		Data:     statementBook(t),
		Settings: config.Settings{ClientID: 42, BankName: "UBS", SheetNames: []string{"Cash"}},
	})

	require.NoError(t, err)
	assert.Equal(t, 1, res.Sheets)
	assert.Equal(t, 3, res.Rows, "blank row is filtered before classification")
	assert.Equal(t, 3, res.Inserted)
	assert.Equal(t, 3, cls.calls)
	require.Len(t, ins.batches, 2)
	assert.Len(t, ins.batches[0], 2)
	assert.Len(t, ins.batches[1], 1)

	first := ins.batches[0][0]
	assert.Equal(t, "12.50", first["amount"])
	assert.Equal(t, -1, first["amount_sign"])
	assert.Equal(t, "march.xlsx", first["file_name"])
	assert.Equal(t, int64(42), first["client_id"])
	assert.Equal(t, "UBS", first["bank_name"])
	assert.Equal(t, "2025-03-01", first["value_date"])
	assert.IsType(t, time.Time{}, first["createdon"])
	assert.Equal(t, "100.00", ins.batches[1][0]["amount"])
	assert.Equal(t, 1, ins.batches[1][0]["amount_sign"])
}

func TestIngestFile_SequenceSpansRun(t *testing.T) {
	cls := &echoClassifier{}
	p := newTestPipeline(testConfig(), nil, cls, &fakeInserter{})
	job := Job{
		FileName: "march.xlsx",
		Data:     statementBook(t),
		Settings: config.Settings{ClientID: 42, SheetNames: []string{"Cash"}},
	}

	ctx := WithRunSequence(context.Background())
	assert.Same(t, ctx, WithRunSequence(ctx), "nested runs share the outer counter")
	for i := 0; i < 2; i++ {
		_, err := p.IngestFile(ctx, job)
		require.NoError(t, err)
	}
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5}, cls.seqs)

	cls.seqs = nil
	_, err := p.IngestFile(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2}, cls.seqs, "a file outside any run starts its own")
}

func TestIngestFile_HeaderOffset(t *testing.T) {
	ins := &fakeInserter{}
	p := newTestPipeline(testConfig(), nil, &echoClassifier{}, ins)

	res, err := p.IngestFile(context.Background(), Job{
		FileName: "march.xlsx",
		Data:     statementBook(t),
		Settings: config.Settings{ClientID: 42, HeaderRow: 1, SheetNames: []string{"1"}},
	})

	require.NoError(t, err)
	assert.Equal(t, 1, res.Inserted)
	rec := ins.batches[0][0]
	assert.Equal(t, "10", rec["quantity"])
	assert.Equal(t, -1, rec["amount_sign"], "positive quantity on the secondary sheet is an outflow")
}

func TestIngestFile_DetectionMode(t *testing.T) {
	det := &fakeDetector{specs: map[string][]slicer.TableSpec{
		"Trades": {{Table: "trades", HeaderRow: intp(2), DataStart: intp(3), DataEnd: intp(50)}},
		"Cash":   {{Table: "cash", Note: "no record"}},
	}}
	ins := &fakeInserter{}
	p := newTestPipeline(testConfig(), det, &echoClassifier{}, ins)

	res, err := p.IngestFile(context.Background(), Job{
		FileName: "march.xlsx",
		Data:     statementBook(t),
		Settings: config.Settings{ClientID: 42, DetectTables: true},
	})

	require.NoError(t, err)
	assert.Equal(t, 2, res.Sheets)
	assert.Equal(t, 1, res.Rows)
	assert.Equal(t, 1, res.Inserted)
	assert.Equal(t, "Buy ACME", ins.batches[0][0]["description"])
}

func TestIngestFile_DetectionWithoutDetector(t *testing.T) {
	p := newTestPipeline(testConfig(), nil, &echoClassifier{}, &fakeInserter{})

	_, err := p.IngestFile(context.Background(), Job{
		FileName: "march.xlsx",
		Data:     statementBook(t),
		Settings: config.Settings{DetectTables: true},
	})

	var xerr *ExtractionError
	require.ErrorAs(t, err, &xerr)
	assert.Equal(t, "detect", xerr.Stage)
}

func TestIngestFile_SheetNotFound(t *testing.T) {
	p := newTestPipeline(testConfig(), nil, &echoClassifier{}, &fakeInserter{})

	_, err := p.IngestFile(context.Background(), Job{
		FileName: "march.xlsx",
		Data:     statementBook(t),
		Settings: config.Settings{SheetNames: []string{"Holdings"}},
	})

	assert.ErrorIs(t, err, workbook.ErrSheetNotFound)
	var xerr *ExtractionError
	require.ErrorAs(t, err, &xerr)
	assert.Equal(t, "select", xerr.Stage)
}

func TestIngestFile_ClassifierError(t *testing.T) {
	ins := &fakeInserter{}
	p := newTestPipeline(testConfig(), nil, &echoClassifier{err: context.DeadlineExceeded}, ins)

	_, err := p.IngestFile(context.Background(), Job{
		FileName: "march.xlsx",
		Data:     statementBook(t),
		Settings: config.Settings{SheetNames: []string{"Cash"}},
	})

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Empty(t, ins.batches)
}

func TestIngestFile_InsertFailureKeepsCommittedCount(t *testing.T) {
	ins := &fakeInserter{failAt: 2}
	p := newTestPipeline(testConfig(), nil, &echoClassifier{}, ins)

	res, err := p.IngestFile(context.Background(), Job{
		FileName: "march.xlsx",
		Data:     statementBook(t),
		Settings: config.Settings{SheetNames: []string{"Cash"}},
	})

	require.Error(t, err)
	assert.Equal(t, 2, res.Inserted)
	var xerr *ExtractionError
	require.True(t, errors.As(err, &xerr))
	assert.Equal(t, "insert", xerr.Stage)
}

func TestIngestFile_UnreadableFile(t *testing.T) {
	p := newTestPipeline(testConfig(), nil, &echoClassifier{}, &fakeInserter{})

	_, err := p.IngestFile(context.Background(), Job{FileName: "march.xlsx", Data: []byte("garbage")})

	var xerr *ExtractionError
	require.ErrorAs(t, err, &xerr)
	assert.Equal(t, "read", xerr.Stage)
}

func TestExtractionError_Message(t *testing.T) {
	err := &ExtractionError{File: "a.xlsx", Sheet: "Cash", Stage: "classify", Err: errors.New("timeout")}
	assert.Equal(t, `a.xlsx: sheet "Cash": classify: timeout`, err.Error())
	assert.Equal(t, "a.xlsx: read: bad", (&ExtractionError{File: "a.xlsx", Stage: "read", Err: errors.New("bad")}).Error())
}
