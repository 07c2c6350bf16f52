package constants

// Content Types
const (
	ContentTypeJSON = "application/json"
	ContentTypeText = "Content-Type"
)

// Headers
const (
	HeaderRequestID     = "X-Request-ID"
	HeaderContentSHA256 = "X-Content-SHA256"
)

// Upload form fields
const (
	FormFile       = "file"
	FormClientID   = "client_id"
	FormBankName   = "bank_name"
	FormHeaderRow  = "header_row"
	FormSheetNames = "sheet_names"
	FormPassword   = "password"
)

// UploadLabel is recorded as the registry label of direct uploads.
const UploadLabel = "upload"

// MaxUploadMemory is the multipart memory limit; larger parts spill to disk.
const MaxUploadMemory = 32 << 20
