package scanner

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	testutil "github.com/dl-alexandre/mrisync/internal/testing"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadDir(t *testing.T) {
	fs := afero.NewMemMapFs()
	mtime := time.Date(2020, 1, 2, 3, 4, 5, 0, time.UTC)
	testutil.WriteTree(t, fs, "/mri",
		testutil.TreeFile{Path: "b.dcm", Content: "bb", ModTime: mtime},
		testutil.TreeFile{Path: "a.dcm", Content: "a", ModTime: mtime},
		testutil.TreeFile{Path: "empty.dcm", Content: ""},
		testutil.TreeFile{Path: "hlp17umm00001_00001/dicom/x", Content: "x"},
	)
	testutil.MkdirTree(t, fs, "/mri", "aaa")

	listing, err := ReadDir(fs, "/mri", 0)
	require.NoError(t, err)

	require.Len(t, listing.Dirs, 2)
	assert.Equal(t, "aaa", listing.Dirs[0].Name)
	assert.Equal(t, "hlp17umm00001_00001", listing.Dirs[1].Name)
	assert.Equal(t, 1, listing.Dirs[1].Depth)
	assert.True(t, listing.Dirs[1].IsDir)

	require.Len(t, listing.Files, 2)
	assert.Equal(t, "a.dcm", listing.Files[0].Name)
	assert.Equal(t, filepath.Join("/mri", "a.dcm"), listing.Files[0].Path)
	assert.Equal(t, int64(2), listing.Files[1].Size)
	assert.True(t, listing.Files[1].ModTime.Equal(mtime))

	require.Len(t, listing.Excluded, 1)
	assert.Equal(t, ReasonEmpty, listing.Excluded[0].Reason)
}

func TestReadDir_Missing(t *testing.T) {
	_, err := ReadDir(afero.NewMemMapFs(), "/nope", 0)
	assert.Error(t, err)
}

func TestReadDir_Symlink(t *testing.T) {
	root := t.TempDir()
	target := filepath.Join(root, "real.dcm")
	require.NoError(t, os.WriteFile(target, []byte("data"), 0o644))
	if err := os.Symlink(target, filepath.Join(root, "link.dcm")); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}

	listing, err := ReadDir(afero.NewOsFs(), root, 0)
	require.NoError(t, err)

	require.Len(t, listing.Files, 1)
	assert.Equal(t, "real.dcm", listing.Files[0].Name)
	require.Len(t, listing.Excluded, 1)
	assert.Equal(t, ReasonSymlink, listing.Excluded[0].Reason)
}

func TestHashFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	testutil.WriteTree(t, fs, "/", testutil.TreeFile{Path: "a", Content: "a"})

	hash, err := HashFile(fs, "/a")
	require.NoError(t, err)
	assert.Equal(t, "0cc175b9c0f1b6a831c399e269772661", hash)

	_, err = HashFile(fs, "/missing")
	assert.Error(t, err)
}

func TestStat(t *testing.T) {
	fs := afero.NewMemMapFs()
	testutil.MkdirTree(t, fs, "/", "mri")

	entry, err := Stat(fs, "/mri")
	require.NoError(t, err)
	assert.True(t, entry.IsDir)
}
