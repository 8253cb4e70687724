package utils

// Upload thresholds (binary units)
const (
	UploadSimpleMaxBytes = 5 * 1024 * 1024 // 5 MiB
	UploadChunkSize      = 8 * 1024 * 1024 // 8 MiB
)

// Retry configuration
const (
	DefaultMaxRetries   = 3
	DefaultRetryDelayMs = 1000
	MaxRetryDelayMs     = 32000
)

// Transfer and walk concurrency
const (
	DefaultConcurrency     = 4
	DefaultWalkConcurrency = 4
	MaxConcurrency         = 64
)

// Schema version
const SchemaVersion = "1.0"

// Drive MIME types
const (
	MimeTypeFolder = "application/vnd.google-apps.folder"
	MimeTypeDICOM  = "application/dicom"
	MimeTypeBinary = "application/octet-stream"
)

// DriveListFields are the fields requested when listing a folder's children
const DriveListFields = "nextPageToken,incompleteSearch,files(id,name,mimeType,size,md5Checksum,modifiedTime,parents,trashed)"

// DriveFileFields are the fields requested for a single file
const DriveFileFields = "id,name,mimeType,size,md5Checksum,modifiedTime,parents,trashed"
