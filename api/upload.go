package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"Mail2Ledger/api/constants"
	"Mail2Ledger/internal/archive"
	"Mail2Ledger/internal/checksum"
	"Mail2Ledger/internal/config"
	"Mail2Ledger/internal/dashboard"
	"Mail2Ledger/internal/ingest"
	"Mail2Ledger/internal/logger"
	"Mail2Ledger/internal/registry"
	"Mail2Ledger/internal/workbook"
)

// Upload statuses
const (
	StatusIngested  = "ingested"
	StatusDuplicate = "duplicate"
	StatusFailed    = "failed"
)

// FileUploadResult is the per-file outcome of an upload request.
type FileUploadResult struct {
	File     string `json:"file"`
	SHA256   string `json:"sha256"`
	Status   string `json:"status"`
	Rows     int    `json:"rows"`
	Inserted int    `json:"inserted"`
	Error    string `json:"error,omitempty"`
}

type uploadedFile struct {
	name string
	data []byte
	sha  string
}

// uploadOverrides reads the optional form fields the same way message directives are read.
func uploadOverrides(r *http.Request) (config.Overrides, error) {
	var o config.Overrides
	o.BankName = strings.TrimSpace(r.FormValue(constants.FormBankName))
	o.Password = r.FormValue(constants.FormPassword)
	if v := strings.TrimSpace(r.FormValue(constants.FormHeaderRow)); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return o, errors.New(constants.ErrInvalidHeaderRow)
		}
		o.HeaderRow = &n
	}
	if v := r.FormValue(constants.FormSheetNames); v != "" {
		o.SheetNames = ingest.ParseMeta("sheet_names: " + strings.ReplaceAll(v, "\n", ",")).SheetNames
	}
	return o, nil
}

// UploadHandler ingests spreadsheets posted directly, deduplicated by client and content hash.
func (g *Gateway) UploadHandler(w http.ResponseWriter, r *http.Request) {
	if g.deps.Files == nil || g.deps.Registry == nil {
		RespondWithError(w, http.StatusServiceUnavailable, constants.ErrServiceUnavailable)
		return
	}
	if err := r.ParseMultipartForm(constants.MaxUploadMemory); err != nil {
		RespondWithError(w, http.StatusBadRequest, constants.ErrFailedToParseMultipartForm)
		return
	}
	clientID, err := strconv.ParseInt(strings.TrimSpace(r.FormValue(constants.FormClientID)), 10, 64)
	if err != nil || clientID <= 0 {
		RespondWithError(w, http.StatusBadRequest, constants.ErrInvalidClientID)
		return
	}
	overrides, err := uploadOverrides(r)
	if err != nil {
		RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	files, status, msg := g.readUploads(r)
	if status != 0 {
		RespondWithError(w, status, msg)
		return
	}

	src := config.SourceConfig{Label: constants.UploadLabel, ClientID: clientID}
	settings := g.deps.Config.Resolve(src, overrides)
	// every file of one request continues the same row sequence
	ctx := ingest.WithRunSequence(r.Context())
	log := logger.FromContext(ctx).With().Int64("client_id", clientID).Logger()

	results := make([]FileUploadResult, 0, len(files))
	allOK := true
	for _, f := range files {
		res := g.ingestUpload(ctx, settings, f)
		if res.Status == StatusFailed {
			allOK = false
			log.Warn().Str("file", f.name).Str("error", res.Error).Msg("upload ingest failed")
		}
		results = append(results, res)
	}
	if g.deps.Feed != nil {
		g.deps.Feed.Publish(dashboard.NewEvent("upload", results))
	}

	if !allOK {
		RespondWithPayload(w, http.StatusUnprocessableEntity, false, constants.ErrIngestFailed, results)
		return
	}
	RespondWithPayload(w, http.StatusOK, true, "", results)
}

// readUploads returns the accepted files, or a non-zero status and message on rejection.
func (g *Gateway) readUploads(r *http.Request) ([]uploadedFile, int, string) {
	var headers []string
	for _, fh := range r.MultipartForm.File[constants.FormFile] {
		if !workbook.IsJunkFile(fh.Filename) {
			headers = append(headers, fh.Filename)
		}
	}
	if len(headers) == 0 {
		return nil, http.StatusBadRequest, constants.ErrNoFilesUploaded
	}

	var sums []string
	if v := strings.TrimSpace(r.Header.Get(constants.HeaderContentSHA256)); v != "" {
		for _, s := range strings.Split(v, ",") {
			sums = append(sums, strings.TrimSpace(s))
		}
		if len(sums) != len(headers) {
			return nil, http.StatusBadRequest, constants.ErrChecksumCount
		}
	}

	var out []uploadedFile
	i := 0
	for _, fh := range r.MultipartForm.File[constants.FormFile] {
		if workbook.IsJunkFile(fh.Filename) {
			continue
		}
		if !workbook.IsSpreadsheet(fh.Filename, g.deps.Config.Mail.AllowXLS) {
			return nil, http.StatusBadRequest, constants.ErrUnsupportedFile(fh.Filename)
		}
		f, err := fh.Open()
		if err != nil {
			return nil, http.StatusBadRequest, constants.ErrFileOpen(fh.Filename)
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			return nil, http.StatusBadRequest, constants.ErrFileOpen(fh.Filename)
		}
		if sums != nil {
			ok, err := checksum.NewChecksumMatcher(sums[i]).Match(data)
			if err != nil || !ok {
				return nil, http.StatusBadRequest, constants.ErrChecksumMismatch(fh.Filename)
			}
		}
		out = append(out, uploadedFile{name: fh.Filename, data: data, sha: checksum.Sum(data)})
		i++
	}
	return out, 0, ""
}

func (g *Gateway) ingestUpload(ctx context.Context, s config.Settings, f uploadedFile) FileUploadResult {
	res := FileUploadResult{File: f.name, SHA256: f.sha}
	entry := registry.Entry{
		ClientID:         s.ClientID,
		BankName:         s.BankName,
		LabelName:        constants.UploadLabel,
		AttachmentName:   f.name,
		AttachmentSHA256: f.sha,
		SchemaName:       g.deps.Config.Ingest.Schema,
		TableName:        g.deps.Config.Ingest.Table,
	}
	release := g.claims.lock(strconv.FormatInt(s.ClientID, 10) + ":" + f.sha)
	defer release()

	exists, err := g.deps.Registry.Exists(ctx, entry)
	if err != nil {
		res.Status, res.Error = StatusFailed, registry.FriendlyError(err)
		return res
	}
	if exists {
		res.Status = StatusDuplicate
		return res
	}

	if g.deps.Archiver != nil {
		if _, err := g.deps.Archiver.Store(ctx, archive.Object{ClientID: s.ClientID, Name: f.name, SHA256: f.sha, Data: f.data}); err != nil {
			log := logger.FromContext(ctx)
			log.Warn().Err(err).Str("file", f.name).Msg("archive failed")
		}
	}

	fr, err := g.deps.Files.IngestFile(ctx, ingest.Job{FileName: f.name, Data: f.data, Settings: s})
	res.Rows, res.Inserted = fr.Rows, fr.Inserted
	if err != nil {
		res.Status, res.Error = StatusFailed, err.Error()
		return res
	}
	if fr.Inserted == 0 {
		res.Status, res.Error = StatusFailed, ingest.ErrZeroRows.Error()
		return res
	}
	entry.RowsInserted = fr.Inserted
	recorded, err := g.deps.Registry.Record(ctx, entry)
	if err != nil {
		res.Status, res.Error = StatusFailed, registry.FriendlyError(err)
		return res
	}
	if !recorded {
		// another process registered the same content while this one was ingesting
		log := logger.FromContext(ctx)
		log.Warn().Str("file", f.name).Str("sha256", f.sha).Int("inserted", fr.Inserted).
			Msg("upload registered concurrently; ledger rows may be duplicated")
		res.Status, res.Error = StatusDuplicate, constants.ErrConcurrentUpload
		return res
	}
	res.Status = StatusIngested
	return res
}
