// Package store defines the narrow remote storage capability the sync
// engine depends on, and the value types it exchanges with backends.
package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/dl-alexandre/mrisync/internal/utils"
)

// Kind distinguishes folders from files on either side of a sync
type Kind int

const (
	KindFile Kind = iota
	KindFolder
)

func (k Kind) String() string {
	if k == KindFolder {
		return "folder"
	}
	return "file"
}

// Fingerprint is the change-detection data of a remote file. Zero values
// mean the backend did not report that attribute.
type Fingerprint struct {
	Size    int64
	ModTime time.Time
	MD5     string
}

// RemoteEntry is one child of a remote folder
type RemoteEntry struct {
	ID       string
	ParentID string
	Name     string
	Kind     Kind
	// Fingerprint is nil when the listing did not include it and a
	// separate GetMetadata call is required.
	Fingerprint *Fingerprint
}

func (e RemoteEntry) IsFolder() bool {
	return e.Kind == KindFolder
}

// Upload describes a file transfer. Open is called for every attempt so a
// retried transfer restarts from the first byte.
type Upload struct {
	Name    string
	Size    int64
	ModTime time.Time
	Open    func() (io.ReadCloser, error)
}

// Store is the remote capability used by the sync engine.
// Implementations must be safe for concurrent use.
type Store interface {
	// ListChildren returns every direct child of folderID
	ListChildren(ctx context.Context, folderID string) ([]RemoteEntry, error)
	// CreateFolder creates a child folder called name under parentID
	CreateFolder(ctx context.Context, parentID, name string) (RemoteEntry, error)
	// UploadFile creates a new file under parentID
	UploadFile(ctx context.Context, parentID string, up Upload) (RemoteEntry, error)
	// ReplaceFile replaces the content of the existing file fileID
	ReplaceFile(ctx context.Context, fileID string, up Upload) (RemoteEntry, error)
	// GetMetadata returns the fingerprint of fileID
	GetMetadata(ctx context.Context, fileID string) (Fingerprint, error)
}

// ErrorKind classifies backend failures
type ErrorKind int

const (
	ErrTransient ErrorKind = iota
	ErrPermanent
	ErrNotFound
	ErrAuth
)

func (k ErrorKind) String() string {
	switch k {
	case ErrTransient:
		return "transient"
	case ErrNotFound:
		return "not found"
	case ErrAuth:
		return "auth"
	default:
		return "permanent"
	}
}

// Error is returned by backends once their own retries are exhausted
type Error struct {
	Op   string
	ID   string
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("%s %s: %s: %v", e.Op, e.ID, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError wraps err with the operation and object id it concerned
func NewError(op, id string, kind ErrorKind, err error) *Error {
	return &Error{Op: op, ID: id, Kind: kind, Err: err}
}

// KindOf returns the ErrorKind carried by err, ErrPermanent when unknown
func KindOf(err error) ErrorKind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return ErrPermanent
}

// IsNotFound reports whether err is a not-found store error
func IsNotFound(err error) bool {
	return err != nil && KindOf(err) == ErrNotFound
}

// Wrap converts a classified backend error into a store Error. A nil err
// stays nil.
func Wrap(op, id string, err error) error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return NewError(op, id, ErrTransient, err)
	}

	switch utils.CodeOf(err) {
	case utils.ErrCodeFileNotFound:
		return NewError(op, id, ErrNotFound, err)
	case utils.ErrCodeAuthRequired, utils.ErrCodeAuthExpired, utils.ErrCodeAuthClientInvalid,
		utils.ErrCodeScopeInsufficient, utils.ErrCodePermissionDenied:
		return NewError(op, id, ErrAuth, err)
	}
	if utils.IsRetryable(err) {
		return NewError(op, id, ErrTransient, err)
	}
	return NewError(op, id, ErrPermanent, err)
}

// FolderChecker is implemented by backends that can confirm a remote
// root exists and is a folder before any planning starts.
type FolderChecker interface {
	CheckFolder(ctx context.Context, folderID string) error
}
