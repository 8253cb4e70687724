package scanner

import "time"

// LocalEntry is a snapshot of one local directory or file taken when its
// parent directory was read
type LocalEntry struct {
	Path    string
	Name    string
	Depth   int
	IsDir   bool
	Size    int64
	ModTime time.Time
}

// Exclusion records an entry dropped by the scanner and why
type Exclusion struct {
	Path   string
	Reason string
}

// Exclusion reasons
const (
	ReasonSymlink    = "symlink"
	ReasonEmpty      = "zero-byte file"
	ReasonUnreadable = "unreadable"
	ReasonSpecial    = "not a regular file"
)

// Listing is the content of one directory, sorted by name
type Listing struct {
	Dir      string
	Depth    int
	Dirs     []LocalEntry
	Files    []LocalEntry
	Excluded []Exclusion
}
