package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"Mail2Ledger/internal/checksum"
	"Mail2Ledger/internal/config"
	"Mail2Ledger/internal/ingest"
	"Mail2Ledger/internal/notification"
	"Mail2Ledger/internal/registry"
	"Mail2Ledger/internal/resource"
)

type stubFiles struct {
	mu   sync.Mutex
	jobs []ingest.Job
	fn   func(ingest.Job) (ingest.FileResult, error)
}

func (s *stubFiles) IngestFile(ctx context.Context, job ingest.Job) (ingest.FileResult, error) {
	s.mu.Lock()
	s.jobs = append(s.jobs, job)
	s.mu.Unlock()
	return s.fn(job)
}

// stubRegistry behaves like the unique (client_id, sha256) index: Record of a known key
// inserts nothing and returns false. hidden keeps Exists blind to entries written
// "by another process".
type stubRegistry struct {
	mu      sync.Mutex
	entries []registry.Entry
	hidden  bool
}

func (s *stubRegistry) find(e registry.Entry) bool {
	for _, x := range s.entries {
		if x.ClientID == e.ClientID && x.AttachmentSHA256 == e.AttachmentSHA256 {
			return true
		}
	}
	return false
}

func (s *stubRegistry) Exists(ctx context.Context, e registry.Entry) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.hidden && s.find(e), nil
}

func (s *stubRegistry) Record(ctx context.Context, e registry.Entry) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.find(e) {
		return false, nil
	}
	s.entries = append(s.entries, e)
	return true, nil
}

type stubHealth struct{ ok bool }

func (h stubHealth) Healthy() bool { return h.ok }
func (h stubHealth) Statuses() []resource.Status {
	return []resource.Status{{Name: "postgres", OK: h.ok}}
}

type stubPoller struct{}

func (stubPoller) LastRun() ingest.RunReport {
	return ingest.RunReport{Stats: ingest.Stats{Processed: 2}}
}

func newTestRouter(files *stubFiles, reg *stubRegistry) http.Handler {
	cfg := config.Default()
	return NewRouter(NewGateway(Deps{Config: cfg, Files: files, Registry: reg}))
}

type part struct {
	name string
	data []byte
}

func uploadRequest(t *testing.T, fields map[string]string, files ...part) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	for _, f := range files {
		fw, err := mw.CreateFormFile("file", f.name)
		require.NoError(t, err)
		_, err = fw.Write(f.data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	req := httptest.NewRequest(http.MethodPost, "/api/ingest/upload", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

type uploadResponse struct {
	Success bool               `json:"success"`
	Error   string             `json:"error"`
	Rows    []FileUploadResult `json:"rows"`
}

func decodeUpload(t *testing.T, rec *httptest.ResponseRecorder) uploadResponse {
	t.Helper()
	var out uploadResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func okFiles() *stubFiles {
	return &stubFiles{fn: func(job ingest.Job) (ingest.FileResult, error) {
		return ingest.FileResult{FileName: job.FileName, Rows: 4, Inserted: 4}, nil
	}}
}

func TestUpload_Success(t *testing.T) {
	files, reg := okFiles(), &stubRegistry{}
	h := newTestRouter(files, reg)
	data := []byte("xlsx bytes")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, uploadRequest(t, map[string]string{
		"client_id":   "42",
		"bank_name":   "hdfc",
		"header_row":  "2",
		"sheet_names": "Cash, Trades",
	}, part{"march.xlsx", data}))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	out := decodeUpload(t, rec)
	assert.True(t, out.Success)
	require.Len(t, out.Rows, 1)
	assert.Equal(t, StatusIngested, out.Rows[0].Status)
	assert.Equal(t, 4, out.Rows[0].Inserted)
	assert.Equal(t, checksum.Sum(data), out.Rows[0].SHA256)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	require.Len(t, files.jobs, 1)
	s := files.jobs[0].Settings
	assert.Equal(t, int64(42), s.ClientID)
	assert.Equal(t, "HDFC", s.BankName)
	assert.Equal(t, 2, s.HeaderRow)
	assert.Equal(t, []string{"Cash", "Trades"}, s.SheetNames)

	require.Len(t, reg.entries, 1)
	assert.Equal(t, "upload", reg.entries[0].LabelName)
	assert.Empty(t, reg.entries[0].MessageID)
	assert.Equal(t, 4, reg.entries[0].RowsInserted)
}

func TestUpload_DuplicateContent(t *testing.T) {
	files, reg := okFiles(), &stubRegistry{}
	h := newTestRouter(files, reg)
	fields := map[string]string{"client_id": "42"}

	h.ServeHTTP(httptest.NewRecorder(), uploadRequest(t, fields, part{"a.xlsx", []byte("same")}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, uploadRequest(t, fields, part{"renamed.xlsx", []byte("same")}))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, StatusDuplicate, decodeUpload(t, rec).Rows[0].Status)
	assert.Len(t, files.jobs, 1)
}

func TestUpload_ConcurrentSameContent(t *testing.T) {
	var calls, inserted atomic.Int32
	files := &stubFiles{fn: func(job ingest.Job) (ingest.FileResult, error) {
		calls.Add(1)
		time.Sleep(20 * time.Millisecond)
		inserted.Add(4)
		return ingest.FileResult{FileName: job.FileName, Rows: 4, Inserted: 4}, nil
	}}
	reg := &stubRegistry{}
	h := newTestRouter(files, reg)

	reqs := []*http.Request{
		uploadRequest(t, map[string]string{"client_id": "42"}, part{"march.xlsx", []byte("same bytes")}),
		uploadRequest(t, map[string]string{"client_id": "42"}, part{"march-copy.xlsx", []byte("same bytes")}),
	}
	var wg sync.WaitGroup
	statuses := make([]string, len(reqs))
	for i, req := range reqs {
		wg.Add(1)
		go func(i int, req *http.Request) {
			defer wg.Done()
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			var out uploadResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &out); err == nil && len(out.Rows) == 1 {
				statuses[i] = out.Rows[0].Status
			}
		}(i, req)
	}
	wg.Wait()

	assert.ElementsMatch(t, []string{StatusIngested, StatusDuplicate}, statuses)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, int32(4), inserted.Load())
	assert.Len(t, reg.entries, 1)
}

func TestUpload_RegisteredConcurrently(t *testing.T) {
	data := []byte("same")
	reg := &stubRegistry{hidden: true, entries: []registry.Entry{{ClientID: 42, AttachmentSHA256: checksum.Sum(data)}}}
	h := newTestRouter(okFiles(), reg)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, uploadRequest(t, map[string]string{"client_id": "42"}, part{"a.xlsx", data}))

	require.Equal(t, http.StatusOK, rec.Code)
	row := decodeUpload(t, rec).Rows[0]
	assert.Equal(t, StatusDuplicate, row.Status)
	assert.Equal(t, "Same file was registered by a concurrent upload", row.Error)
	assert.Len(t, reg.entries, 1)
}

func TestKeyLocks(t *testing.T) {
	var k keyLocks
	release := k.lock("42:abc")

	acquired := make(chan struct{})
	go func() {
		r := k.lock("42:abc")
		close(acquired)
		r()
	}()

	other := k.lock("43:abc")
	other()

	select {
	case <-acquired:
		t.Fatal("second holder acquired a held key")
	case <-time.After(20 * time.Millisecond):
	}
	release()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("key never released")
	}
	assert.Eventually(t, func() bool { return k.size() == 0 }, time.Second, 5*time.Millisecond)
}

func TestUpload_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		fields map[string]string
		files  []part
		sha    string
		want   string
	}{
		{name: "missing client", fields: map[string]string{}, files: []part{{"a.xlsx", []byte("a")}}, want: "client_id must be a positive integer"},
		{name: "bad header row", fields: map[string]string{"client_id": "1", "header_row": "-1"}, files: []part{{"a.xlsx", []byte("a")}}, want: "header_row must be a non-negative integer"},
		{name: "no files", fields: map[string]string{"client_id": "1"}, want: "No files uploaded"},
		{name: "only junk", fields: map[string]string{"client_id": "1"}, files: []part{{".DS_Store", []byte("a")}}, want: "No files uploaded"},
		{name: "unsupported", fields: map[string]string{"client_id": "1"}, files: []part{{"a.csv", []byte("a")}}, want: "Unsupported file type: a.csv"},
		{name: "checksum mismatch", fields: map[string]string{"client_id": "1"}, files: []part{{"a.xlsx", []byte("a")}}, sha: checksum.Sum([]byte("b")), want: "Checksum mismatch for a.xlsx"},
		{name: "checksum count", fields: map[string]string{"client_id": "1"}, files: []part{{"a.xlsx", []byte("a")}}, sha: "x,y", want: "X-Content-SHA256 must list one checksum per file"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			files := okFiles()
			req := uploadRequest(t, tt.fields, tt.files...)
			if tt.sha != "" {
				req.Header.Set("X-Content-SHA256", tt.sha)
			}
			rec := httptest.NewRecorder()
			newTestRouter(files, &stubRegistry{}).ServeHTTP(rec, req)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tt.want, decodeUpload(t, rec).Error)
			assert.Empty(t, files.jobs)
		})
	}
}

func TestUpload_ChecksumAccepted(t *testing.T) {
	files := okFiles()
	req := uploadRequest(t, map[string]string{"client_id": "1"}, part{"a.xlsx", []byte("a")})
	req.Header.Set("X-Content-SHA256", checksum.Sum([]byte("a")))
	rec := httptest.NewRecorder()
	newTestRouter(files, &stubRegistry{}).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestUpload_Failures(t *testing.T) {
	reg := &stubRegistry{}
	files := &stubFiles{fn: func(job ingest.Job) (ingest.FileResult, error) {
		if job.FileName == "bad.xlsx" {
			return ingest.FileResult{}, errors.New("bad.xlsx: read: not a workbook")
		}
		return ingest.FileResult{Rows: 3}, nil
	}}
	rec := httptest.NewRecorder()
	newTestRouter(files, reg).ServeHTTP(rec, uploadRequest(t, map[string]string{"client_id": "1"},
		part{"bad.xlsx", []byte("1")}, part{"empty.xlsx", []byte("2")}))

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	out := decodeUpload(t, rec)
	assert.False(t, out.Success)
	require.Len(t, out.Rows, 2)
	assert.Equal(t, "bad.xlsx: read: not a workbook", out.Rows[0].Error)
	assert.Equal(t, ingest.ErrZeroRows.Error(), out.Rows[1].Error)
	assert.Empty(t, reg.entries)
}

func TestUpload_Unavailable(t *testing.T) {
	h := NewRouter(NewGateway(Deps{Config: config.Default()}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, uploadRequest(t, map[string]string{"client_id": "1"}, part{"a.xlsx", []byte("a")}))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHealthHandler(t *testing.T) {
	for _, ok := range []bool{true, false} {
		h := NewRouter(NewGateway(Deps{Health: stubHealth{ok: ok}, Poller: stubPoller{}}))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/healthz", nil))

		var out HealthResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
		assert.Equal(t, ok, out.Healthy)
		require.Len(t, out.Resources, 1)
		require.NotNil(t, out.Poller)
		assert.Equal(t, 2, out.Poller.Stats.Processed)
		if ok {
			assert.Equal(t, http.StatusOK, rec.Code)
		} else {
			assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		}
	}
}

func TestNotificationHandler(t *testing.T) {
	ns := notification.NewNotificationService(nil)
	ns.AddNotification(notification.Notice{At: time.Now(), To: "ops@example.com", Subject: "[ALERT] Ingest failed (Statements)"})
	h := NewRouter(NewGateway(Deps{Notices: ns}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/notifications", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var out struct {
		Rows []notification.Notice `json:"rows"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out.Rows, 1)
	assert.Equal(t, "ops@example.com", out.Rows[0].To)
}

func TestRouteNotFound(t *testing.T) {
	rec := httptest.NewRecorder()
	NewRouter(NewGateway(Deps{})).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "Route not found")
}

func TestGatewayService_Addr(t *testing.T) {
	assert.Equal(t, ":8081", NewGatewayService(nil, Deps{}).Addr())
	assert.Equal(t, ":9000", NewGatewayService(map[string]interface{}{"port": 9000}, Deps{}).Addr())
	assert.Equal(t, "127.0.0.1:7000", NewGatewayService(map[string]interface{}{"addr": "127.0.0.1:7000"}, Deps{}).Addr())
}

func TestGatewayService_StartStop(t *testing.T) {
	svc := NewGatewayService(map[string]interface{}{"addr": "127.0.0.1:0"}, Deps{})
	assert.Equal(t, "gateway", svc.Name())
	require.NoError(t, svc.Start())
	require.NoError(t, svc.Stop())
	require.NoError(t, svc.Stop())
}
