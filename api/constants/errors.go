package constants

import "fmt"

// ============================================================================
// REQUEST ERRORS
// ============================================================================

const (
	ErrFailedToParseMultipartForm = "Failed to parse multipart form"
	ErrNoFilesUploaded            = "No files uploaded"
	ErrInvalidClientID            = "client_id must be a positive integer"
	ErrInvalidHeaderRow           = "header_row must be a non-negative integer"
	ErrChecksumCount              = "X-Content-SHA256 must list one checksum per file"
	ErrRouteNotFound              = "Route not found"
)

// ============================================================================
// INGEST ERRORS
// ============================================================================

const (
	ErrIngestFailed       = "One or more files failed to ingest"
	ErrServiceUnavailable = "Ingest service unavailable"
	ErrConcurrentUpload   = "Same file was registered by a concurrent upload"
)

// ErrUnsupportedFile formats the rejection of a non-spreadsheet upload.
func ErrUnsupportedFile(name string) string {
	return fmt.Sprintf("Unsupported file type: %s", name)
}

// ErrChecksumMismatch formats a checksum failure for one file.
func ErrChecksumMismatch(name string) string {
	return fmt.Sprintf("Checksum mismatch for %s", name)
}

// ErrFileOpen formats a failure to read an uploaded part.
func ErrFileOpen(name string) string {
	return fmt.Sprintf("Failed to open file: %s", name)
}
