package testing

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dl-alexandre/mrisync/internal/types"
	"github.com/dl-alexandre/mrisync/internal/utils"
	"github.com/spf13/afero"
	"google.golang.org/api/drive/v3"
)

// TestContext creates a standard test context
func TestContext() context.Context {
	return context.Background()
}

// TestRequestContext creates a standard request context for testing
func TestRequestContext() *types.RequestContext {
	return &types.RequestContext{
		Profile:           "test-profile",
		DriveID:           "",
		InvolvedFileIDs:   []string{},
		InvolvedParentIDs: []string{},
		RequestType:       types.RequestTypeListOrSearch,
		TraceID:           "test-trace-id",
	}
}

// TestFile creates a mock Drive file for testing
func TestFile(id, name string, size int64, parent string) *drive.File {
	return &drive.File{
		Id:           id,
		Name:         name,
		MimeType:     utils.MimeTypeBinary,
		Size:         size,
		ModifiedTime: "2024-01-02T03:04:05.000Z",
		Parents:      []string{parent},
	}
}

// TestFolder creates a mock Drive folder for testing
func TestFolder(id, name, parent string) *drive.File {
	return &drive.File{
		Id:       id,
		Name:     name,
		MimeType: utils.MimeTypeFolder,
		Parents:  []string{parent},
	}
}

// TreeFile is one file of a test tree
type TreeFile struct {
	Path    string
	Content string
	ModTime time.Time
}

// WriteTree writes files under root on fs, creating directories as needed.
// A zero ModTime leaves the filesystem's own timestamp.
func WriteTree(t *testing.T, fs afero.Fs, root string, files ...TreeFile) {
	t.Helper()
	for _, f := range files {
		path := filepath.Join(root, filepath.FromSlash(f.Path))
		if err := fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("mkdir %s: %v", filepath.Dir(path), err)
		}
		if err := afero.WriteFile(fs, path, []byte(f.Content), 0o644); err != nil {
			t.Fatalf("write %s: %v", path, err)
		}
		if !f.ModTime.IsZero() {
			if err := fs.Chtimes(path, f.ModTime, f.ModTime); err != nil {
				t.Fatalf("chtimes %s: %v", path, err)
			}
		}
	}
}

// MkdirTree creates empty directories under root
func MkdirTree(t *testing.T, fs afero.Fs, root string, dirs ...string) {
	t.Helper()
	for _, d := range dirs {
		if err := fs.MkdirAll(filepath.Join(root, filepath.FromSlash(d)), os.ModePerm); err != nil {
			t.Fatalf("mkdir %s: %v", d, err)
		}
	}
}
