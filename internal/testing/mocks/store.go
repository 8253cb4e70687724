package mocks

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/dl-alexandre/mrisync/internal/store"
)

// Store operation names used by FakeStore counters and failure injection
const (
	OpList         = "list"
	OpCreateFolder = "create_folder"
	OpUpload       = "upload"
	OpReplace      = "replace"
	OpMetadata     = "metadata"
)

type fakeEntry struct {
	entry   store.RemoteEntry
	content []byte
}

// FakeStore is an in-memory store.Store
type FakeStore struct {
	// OmitFingerprints makes listings leave Fingerprint nil, like S3
	OmitFingerprints bool
	// ListDelay slows every ListChildren call
	ListDelay time.Duration

	mu       sync.Mutex
	rootID   string
	entries  map[string]*fakeEntry
	children map[string][]string
	nextID   int
	calls    map[string]int
	failures map[string]error
}

// NewFakeStore creates an empty store whose root folder is rootID
func NewFakeStore(rootID string) *FakeStore {
	return &FakeStore{
		rootID:   rootID,
		entries:  make(map[string]*fakeEntry),
		children: make(map[string][]string),
		calls:    make(map[string]int),
		failures: make(map[string]error),
	}
}

var _ store.Store = (*FakeStore)(nil)

func (f *FakeStore) newID() string {
	f.nextID++
	return fmt.Sprintf("fake-%d", f.nextID)
}

func (f *FakeStore) add(parentID string, e store.RemoteEntry, content []byte) string {
	e.ID = f.newID()
	e.ParentID = parentID
	f.entries[e.ID] = &fakeEntry{entry: e, content: content}
	f.children[parentID] = append(f.children[parentID], e.ID)
	return e.ID
}

// AddFolder seeds a folder and returns its id
func (f *FakeStore) AddFolder(parentID, name string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.add(parentID, store.RemoteEntry{Name: name, Kind: store.KindFolder}, nil)
}

// AddFile seeds a file and returns its id
func (f *FakeStore) AddFile(parentID, name string, content []byte, mtime time.Time) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	fp := fingerprintOf(content, mtime)
	return f.add(parentID, store.RemoteEntry{Name: name, Kind: store.KindFile, Fingerprint: &fp}, content)
}

// FailOn makes op fail with err. key is the entry name for OpCreateFolder
// and OpUpload, and the remote id for the other operations.
func (f *FakeStore) FailOn(op, key string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[op+"\x00"+key] = err
}

// Calls returns how many times op was invoked
func (f *FakeStore) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

// Mutations counts folder creations, uploads and replacements
func (f *FakeStore) Mutations() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[OpCreateFolder] + f.calls[OpUpload] + f.calls[OpReplace]
}

// Find walks names from the root folder
func (f *FakeStore) Find(names ...string) (store.RemoteEntry, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	parent := f.rootID
	var found store.RemoteEntry
	for _, name := range names {
		ok := false
		for _, id := range f.children[parent] {
			if e := f.entries[id]; e.entry.Name == name {
				found, ok = e.entry, true
				break
			}
		}
		if !ok {
			return store.RemoteEntry{}, false
		}
		parent = found.ID
	}
	return found, true
}

// Content returns the bytes stored for id
func (f *FakeStore) Content(id string) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	if e, ok := f.entries[id]; ok {
		return e.content
	}
	return nil
}

// Paths lists every entry as a slash path relative to the root, sorted
func (f *FakeStore) Paths() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	var walk func(parent, prefix string)
	walk = func(parent, prefix string) {
		for _, id := range f.children[parent] {
			e := f.entries[id].entry
			p := prefix + e.Name
			if e.IsFolder() {
				out = append(out, p+"/")
				walk(id, p+"/")
			} else {
				out = append(out, p)
			}
		}
	}
	walk(f.rootID, "")
	sort.Strings(out)
	return out
}

func (f *FakeStore) begin(op, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[op]++
	return f.failures[op+"\x00"+key]
}

func (f *FakeStore) ListChildren(ctx context.Context, folderID string) ([]store.RemoteEntry, error) {
	if err := f.begin(OpList, folderID); err != nil {
		return nil, err
	}
	if f.ListDelay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(f.ListDelay):
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if folderID != f.rootID {
		if e, ok := f.entries[folderID]; !ok || !e.entry.IsFolder() {
			return nil, store.NewError("list", folderID, store.ErrNotFound, fmt.Errorf("no such folder"))
		}
	}
	out := make([]store.RemoteEntry, 0, len(f.children[folderID]))
	for _, id := range f.children[folderID] {
		e := f.entries[id].entry
		if f.OmitFingerprints {
			e.Fingerprint = nil
		} else if e.Fingerprint != nil {
			fp := *e.Fingerprint
			e.Fingerprint = &fp
		}
		out = append(out, e)
	}
	return out, nil
}

func (f *FakeStore) CreateFolder(ctx context.Context, parentID, name string) (store.RemoteEntry, error) {
	if err := f.begin(OpCreateFolder, name); err != nil {
		return store.RemoteEntry{}, err
	}
	if err := ctx.Err(); err != nil {
		return store.RemoteEntry{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.add(parentID, store.RemoteEntry{Name: name, Kind: store.KindFolder}, nil)
	return f.entries[id].entry, nil
}

func (f *FakeStore) UploadFile(ctx context.Context, parentID string, up store.Upload) (store.RemoteEntry, error) {
	if err := f.begin(OpUpload, up.Name); err != nil {
		return store.RemoteEntry{}, err
	}
	content, err := readUpload(ctx, up)
	if err != nil {
		return store.RemoteEntry{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	fp := fingerprintOf(content, up.ModTime)
	id := f.add(parentID, store.RemoteEntry{Name: up.Name, Kind: store.KindFile, Fingerprint: &fp}, content)
	return f.entries[id].entry, nil
}

func (f *FakeStore) ReplaceFile(ctx context.Context, fileID string, up store.Upload) (store.RemoteEntry, error) {
	if err := f.begin(OpReplace, fileID); err != nil {
		return store.RemoteEntry{}, err
	}
	content, err := readUpload(ctx, up)
	if err != nil {
		return store.RemoteEntry{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entries[fileID]
	if !ok || e.entry.IsFolder() {
		return store.RemoteEntry{}, store.NewError("replace", fileID, store.ErrNotFound, fmt.Errorf("no such file"))
	}
	fp := fingerprintOf(content, up.ModTime)
	e.entry.Fingerprint = &fp
	e.content = content
	return e.entry, nil
}

func (f *FakeStore) GetMetadata(ctx context.Context, fileID string) (store.Fingerprint, error) {
	if err := f.begin(OpMetadata, fileID); err != nil {
		return store.Fingerprint{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entries[fileID]
	if !ok || e.entry.Fingerprint == nil {
		return store.Fingerprint{}, store.NewError("get metadata", fileID, store.ErrNotFound, fmt.Errorf("no such file"))
	}
	return *e.entry.Fingerprint, nil
}

func readUpload(ctx context.Context, up store.Upload) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r, err := up.Open()
	if err != nil {
		return nil, store.NewError("open", up.Name, store.ErrPermanent, err)
	}
	defer r.Close()
	return io.ReadAll(r)
}

func fingerprintOf(content []byte, mtime time.Time) store.Fingerprint {
	sum := md5.Sum(content)
	return store.Fingerprint{
		Size:    int64(len(content)),
		ModTime: mtime,
		MD5:     hex.EncodeToString(sum[:]),
	}
}
