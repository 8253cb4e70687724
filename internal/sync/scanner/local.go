package scanner

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

// ReadDir lists dir, whose own depth is depth, one level deep. Errors
// reading dir itself are returned; problems with single children end up
// in Listing.Excluded.
func ReadDir(fs afero.Fs, dir string, depth int) (Listing, error) {
	infos, err := afero.ReadDir(fs, dir)
	if err != nil {
		return Listing{}, fmt.Errorf("read directory %s: %w", dir, err)
	}

	listing := Listing{Dir: dir, Depth: depth}
	for _, info := range infos {
		current := filepath.Join(dir, info.Name())
		mode := info.Mode()

		if mode&os.ModeSymlink != 0 {
			listing.Excluded = append(listing.Excluded, Exclusion{Path: current, Reason: ReasonSymlink})
			continue
		}

		entry := LocalEntry{
			Path:    current,
			Name:    info.Name(),
			Depth:   depth + 1,
			ModTime: info.ModTime(),
		}

		if info.IsDir() {
			entry.IsDir = true
			listing.Dirs = append(listing.Dirs, entry)
			continue
		}
		if !mode.IsRegular() {
			listing.Excluded = append(listing.Excluded, Exclusion{Path: current, Reason: ReasonSpecial})
			continue
		}
		if info.Size() == 0 {
			listing.Excluded = append(listing.Excluded, Exclusion{Path: current, Reason: ReasonEmpty})
			continue
		}
		if err := checkReadable(fs, current); err != nil {
			listing.Excluded = append(listing.Excluded, Exclusion{Path: current, Reason: ReasonUnreadable})
			continue
		}

		entry.Size = info.Size()
		listing.Files = append(listing.Files, entry)
	}
	return listing, nil
}

func checkReadable(fs afero.Fs, path string) error {
	f, err := fs.Open(path)
	if err != nil {
		return err
	}
	return f.Close()
}

// Stat returns a LocalEntry for path, used to check the sync root
func Stat(fs afero.Fs, path string) (LocalEntry, error) {
	info, err := fs.Stat(path)
	if err != nil {
		return LocalEntry{}, err
	}
	return LocalEntry{
		Path:    path,
		Name:    info.Name(),
		IsDir:   info.IsDir(),
		Size:    info.Size(),
		ModTime: info.ModTime(),
	}, nil
}

// HashFile returns the hex MD5 of the file content
func HashFile(fs afero.Fs, path string) (hash string, err error) {
	f, err := fs.Open(path)
	if err != nil {
		return "", err
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
