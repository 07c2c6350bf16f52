package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"Mail2Ledger/internal/checksum"
	"Mail2Ledger/internal/config"
	"Mail2Ledger/internal/ledger"
	"Mail2Ledger/internal/mailbox"
	"Mail2Ledger/internal/registry"
	"Mail2Ledger/internal/slicer"
)

// events records side effects in order across fakes.
type events struct {
	mu  sync.Mutex
	log []string
}

func (e *events) add(format string, args ...any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.log = append(e.log, fmt.Sprintf(format, args...))
}

type fakeMailbox struct {
	ev       *events
	labels   map[string]string
	lists    map[string][]string
	listErr  map[string]error
	messages map[string]*mailbox.Message
	markErr  error
	read     map[string]bool
}

func newFakeMailbox(ev *events) *fakeMailbox {
	return &fakeMailbox{
		ev:       ev,
		labels:   map[string]string{},
		lists:    map[string][]string{},
		listErr:  map[string]error{},
		messages: map[string]*mailbox.Message{},
		read:     map[string]bool{},
	}
}

func (m *fakeMailbox) ResolveLabel(ctx context.Context, name string) (string, error) {
	id, ok := m.labels[name]
	if !ok {
		return "", fmt.Errorf("%w: %q", mailbox.ErrLabelNotFound, name)
	}
	return id, nil
}

func (m *fakeMailbox) List(ctx context.Context, labelID, query string, max int64) ([]string, error) {
	if err := m.listErr[labelID]; err != nil {
		return nil, err
	}
	var out []string
	for _, id := range m.lists[labelID] {
		if !m.read[id] {
			out = append(out, id)
		}
	}
	return out, nil
}

func (m *fakeMailbox) Get(ctx context.Context, id string) (*mailbox.Message, error) {
	m.ev.add("get %s", id)
	msg, ok := m.messages[id]
	if !ok {
		return nil, errors.New("message not found")
	}
	return msg, nil
}

func (m *fakeMailbox) MarkRead(ctx context.Context, id string) error {
	if m.markErr != nil {
		return m.markErr
	}
	m.ev.add("mark %s", id)
	m.read[id] = true
	return nil
}

type fakeRegistry struct {
	ev      *events
	entries map[string]registry.Entry
	err     error
}

func newFakeRegistry(ev *events) *fakeRegistry {
	return &fakeRegistry{ev: ev, entries: map[string]registry.Entry{}}
}

func regKey(e registry.Entry) string { return e.MessageID + "|" + e.AttachmentName }

func (r *fakeRegistry) Exists(ctx context.Context, e registry.Entry) (bool, error) {
	if r.err != nil {
		return false, r.err
	}
	_, ok := r.entries[regKey(e)]
	return ok, nil
}

func (r *fakeRegistry) Record(ctx context.Context, e registry.Entry) (bool, error) {
	if r.err != nil {
		return false, r.err
	}
	r.ev.add("register %s %s %d", e.MessageID, e.AttachmentName, e.RowsInserted)
	if _, ok := r.entries[regKey(e)]; ok {
		return false, nil
	}
	r.entries[regKey(e)] = e
	return true, nil
}

type sent struct{ to, subject, body string }

type fakeNotifier struct {
	ev   *events
	sent []sent
	err  func(to, subject string) error
}

func (n *fakeNotifier) Notify(ctx context.Context, to, subject, body string) error {
	n.ev.add("notify %s %s", to, subject)
	n.sent = append(n.sent, sent{to, subject, body})
	if n.err != nil {
		return n.err(to, subject)
	}
	return nil
}

// fakeFiles stands in for the pipeline.
type fakeFiles struct {
	ev    *events
	calls int
	fn    func(job Job) (FileResult, error)
}

func (f *fakeFiles) IngestFile(ctx context.Context, job Job) (FileResult, error) {
	f.calls++
	f.ev.add("ingest %s", job.FileName)
	return f.fn(job)
}

type fakeInserter struct {
	batches [][]ledger.Record
	failAt  int // 1-based batch that fails; 0 never
}

func (f *fakeInserter) Insert(ctx context.Context, records []ledger.Record) (int, error) {
	if f.failAt > 0 && len(f.batches)+1 == f.failAt {
		return 0, errors.New("constraint violation")
	}
	f.batches = append(f.batches, records)
	return len(records), nil
}

func (f *fakeInserter) total() int {
	n := 0
	for _, b := range f.batches {
		n += len(b)
	}
	return n
}

// echoClassifier copies a few well-known headers onto ledger columns.
type echoClassifier struct {
	err   error
	calls int
	seqs  []int
}

func (c *echoClassifier) Classify(ctx context.Context, row slicer.RowContext) (map[string]any, error) {
	c.calls++
	c.seqs = append(c.seqs, row.Sequence)
	if c.err != nil {
		return nil, c.err
	}
	out := map[string]any{}
	for header, col := range map[string]string{"Date": "trade_date", "Description": "description", "Amount": "amount", "Qty": "quantity"} {
		if v, ok := row.Fields.Get(header); ok && v != "" {
			out[col] = v
		}
	}
	out["file_name"] = "from-classifier.xlsx"
	return out, nil
}

type fakeDetector struct {
	specs map[string][]slicer.TableSpec
	err   error
}

func (d *fakeDetector) DetectTables(ctx context.Context, sheetName string, window [][]string) ([]slicer.TableSpec, error) {
	return d.specs[sheetName], d.err
}

func intp(v int) *int { return &v }

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Ingest.BatchSize = 2
	cfg.Notify.AlertTo = "ops@example.com"
	cfg.Sources = []config.SourceConfig{{Label: "Statements", ClientID: 42, DefaultBank: "UBS"}}
	return cfg
}

func buildWorkbook(t *testing.T, order []string, sheets map[string][][]any) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	for i, name := range order {
		if i == 0 {
			require.NoError(t, f.SetSheetName("Sheet1", name))
		} else {
			_, err := f.NewSheet(name)
			require.NoError(t, err)
		}
		for r, row := range sheets[name] {
			cell, err := excelize.CoordinatesToCellName(1, r+1)
			require.NoError(t, err)
			require.NoError(t, f.SetSheetRow(name, cell, &row))
		}
	}
	path := filepath.Join(t.TempDir(), "stmt.xlsx")
	require.NoError(t, f.SaveAs(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return data
}

func attachment(name string, data []byte) mailbox.Attachment {
	return mailbox.Attachment{Name: name, Data: data, SHA256: checksum.Sum(data), Size: len(data)}
}
