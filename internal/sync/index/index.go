// Package index caches the children of remote folders for one run and
// serializes folder creation so each destination folder is created once.
package index

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/dl-alexandre/mrisync/internal/logging"
	"github.com/dl-alexandre/mrisync/internal/store"
	"golang.org/x/sync/singleflight"
)

// PlaceholderPrefix marks folder ids invented during a dry run
const PlaceholderPrefix = "dryrun:"

// ErrKindMismatch is returned when a folder is needed where the remote
// holds a file of the same name, or the reverse
var ErrKindMismatch = errors.New("remote entry kind mismatch")

// RemoteStoreError wraps a store failure with the folder it concerned
type RemoteStoreError struct {
	Op       string
	FolderID string
	Name     string
	Err      error
}

func (e *RemoteStoreError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("%s %q in folder %s: %v", e.Op, e.Name, e.FolderID, e.Err)
	}
	return fmt.Sprintf("%s folder %s: %v", e.Op, e.FolderID, e.Err)
}

func (e *RemoteStoreError) Unwrap() error {
	return e.Err
}

type Options struct {
	DryRun bool
}

type Stats struct {
	Listings      int64
	FolderCreates int64
	MetadataCalls int64
}

type folder struct {
	// create serializes EnsureSubfolder for children of this folder
	create   sync.Mutex
	loaded   bool
	children map[string]store.RemoteEntry
}

type Index struct {
	store  store.Store
	logger logging.Logger
	opts   Options

	mu       sync.Mutex
	folders  map[string]*folder
	metadata map[string]store.Fingerprint
	group    singleflight.Group

	listings      atomic.Int64
	folderCreates atomic.Int64
	metadataCalls atomic.Int64
}

func New(s store.Store, logger logging.Logger, opts Options) *Index {
	if logger == nil {
		logger = logging.NewNoOpLogger()
	}
	return &Index{
		store:    s,
		logger:   logger,
		opts:     opts,
		folders:  make(map[string]*folder),
		metadata: make(map[string]store.Fingerprint),
	}
}

// IsPlaceholder reports whether id was invented by a dry run
func IsPlaceholder(id string) bool {
	return strings.HasPrefix(id, PlaceholderPrefix)
}

func (idx *Index) folderLocked(id string) *folder {
	f, ok := idx.folders[id]
	if !ok {
		f = &folder{children: make(map[string]store.RemoteEntry)}
		idx.folders[id] = f
	}
	return f
}

func (idx *Index) snapshot(id string) (map[string]store.RemoteEntry, bool) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	f, ok := idx.folders[id]
	if !ok || !f.loaded {
		return nil, false
	}
	out := make(map[string]store.RemoteEntry, len(f.children))
	for name, e := range f.children {
		out[name] = e
	}
	return out, true
}

// ChildrenOf returns a copy of folderID's children keyed by name, listing
// the folder remotely on first use
func (idx *Index) ChildrenOf(ctx context.Context, folderID string) (map[string]store.RemoteEntry, error) {
	if children, ok := idx.snapshot(folderID); ok {
		return children, nil
	}
	if IsPlaceholder(folderID) {
		idx.markEmpty(folderID)
		children, _ := idx.snapshot(folderID)
		return children, nil
	}

	_, err, _ := idx.group.Do(folderID, func() (interface{}, error) {
		if _, ok := idx.snapshot(folderID); ok {
			return nil, nil
		}
		return nil, idx.load(ctx, folderID)
	})
	if err != nil {
		return nil, err
	}
	children, _ := idx.snapshot(folderID)
	return children, nil
}

func (idx *Index) load(ctx context.Context, folderID string) error {
	idx.listings.Add(1)
	entries, err := idx.store.ListChildren(ctx, folderID)
	if err != nil {
		return &RemoteStoreError{Op: "list", FolderID: folderID, Err: err}
	}

	listed := make(map[string]store.RemoteEntry, len(entries))
	for _, e := range entries {
		if first, dup := listed[e.Name]; dup {
			idx.logger.Warn("Duplicate remote name, keeping the first",
				logging.F("folderId", folderID),
				logging.F("name", e.Name),
				logging.F("keptId", first.ID),
				logging.F("ignoredId", e.ID),
			)
			continue
		}
		listed[e.Name] = e
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()
	f := idx.folderLocked(folderID)
	// Entries recorded while the listing was in flight are newer
	for name, e := range f.children {
		listed[name] = e
	}
	f.children = listed
	f.loaded = true
	return nil
}

func (idx *Index) markEmpty(folderID string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	f := idx.folderLocked(folderID)
	f.loaded = true
}

// EnsureSubfolder returns the child folder name of parentID, creating it
// when missing. Concurrent calls for one parent are serialized.
func (idx *Index) EnsureSubfolder(ctx context.Context, parentID, name string) (store.RemoteEntry, error) {
	if _, err := idx.ChildrenOf(ctx, parentID); err != nil {
		return store.RemoteEntry{}, err
	}

	idx.mu.Lock()
	f := idx.folderLocked(parentID)
	idx.mu.Unlock()

	f.create.Lock()
	defer f.create.Unlock()

	idx.mu.Lock()
	existing, ok := f.children[name]
	idx.mu.Unlock()
	if ok {
		if !existing.IsFolder() {
			return store.RemoteEntry{}, &RemoteStoreError{
				Op:       "ensure folder",
				FolderID: parentID,
				Name:     name,
				Err:      fmt.Errorf("%w: remote %q is a file", ErrKindMismatch, name),
			}
		}
		return existing, nil
	}

	var entry store.RemoteEntry
	if idx.opts.DryRun {
		entry = store.RemoteEntry{
			ID:       PlaceholderPrefix + parentID + "/" + name,
			ParentID: parentID,
			Name:     name,
			Kind:     store.KindFolder,
		}
	} else {
		idx.folderCreates.Add(1)
		created, err := idx.store.CreateFolder(ctx, parentID, name)
		if err != nil {
			return store.RemoteEntry{}, &RemoteStoreError{Op: "create folder", FolderID: parentID, Name: name, Err: err}
		}
		entry = created
		idx.logger.Debug("Remote folder created",
			logging.F("folderId", entry.ID),
			logging.F("parentId", parentID),
			logging.F("name", name),
		)
	}

	idx.mu.Lock()
	f.children[name] = entry
	// A new folder is known to be empty; never list it
	child := idx.folderLocked(entry.ID)
	child.loaded = true
	idx.mu.Unlock()

	return entry, nil
}

// Record stores the result of an upload so later lookups see it
func (idx *Index) Record(folderID string, entry store.RemoteEntry) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	f := idx.folderLocked(folderID)
	f.children[entry.Name] = entry
	if entry.Fingerprint != nil {
		idx.metadata[entry.ID] = *entry.Fingerprint
	} else {
		delete(idx.metadata, entry.ID)
	}
}

// Metadata returns the fingerprint of a remote file, fetching it through
// the store when the listing did not carry one
func (idx *Index) Metadata(ctx context.Context, entry store.RemoteEntry) (store.Fingerprint, error) {
	if entry.Fingerprint != nil {
		return *entry.Fingerprint, nil
	}

	idx.mu.Lock()
	fp, ok := idx.metadata[entry.ID]
	idx.mu.Unlock()
	if ok {
		return fp, nil
	}

	idx.metadataCalls.Add(1)
	fp, err := idx.store.GetMetadata(ctx, entry.ID)
	if err != nil {
		return store.Fingerprint{}, &RemoteStoreError{Op: "get metadata", FolderID: entry.ParentID, Name: entry.Name, Err: err}
	}

	idx.mu.Lock()
	idx.metadata[entry.ID] = fp
	idx.mu.Unlock()
	return fp, nil
}

func (idx *Index) Stats() Stats {
	return Stats{
		Listings:      idx.listings.Load(),
		FolderCreates: idx.folderCreates.Load(),
		MetadataCalls: idx.metadataCalls.Load(),
	}
}
