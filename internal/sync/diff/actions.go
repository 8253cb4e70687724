package diff

import (
	"github.com/dl-alexandre/mrisync/internal/store"
	"github.com/dl-alexandre/mrisync/internal/sync/scanner"
)

type ActionType string

const (
	ActionCreate ActionType = "CREATE"
	ActionSkip   ActionType = "SKIP"
	ActionUpdate ActionType = "UPDATE"
)

// Decision is the planned action for one local file
type Decision struct {
	Action ActionType
	Local  scanner.LocalEntry
	// RelPath is the slash-separated path below the sync root
	RelPath  string
	ParentID string
	// Remote is the existing entry for SKIP and UPDATE
	Remote *store.RemoteEntry
	Reason string
}

type FingerprintMode string

const (
	FingerprintSizeMTime FingerprintMode = "size-mtime"
	FingerprintMD5       FingerprintMode = "md5"
)

type Options struct {
	Update      bool
	Fingerprint FingerprintMode
}
