package diff

import (
	"errors"
	"time"

	"github.com/dl-alexandre/mrisync/internal/store"
)

// ErrRemoteIsFolder is returned when a local file maps onto a remote folder
var ErrRemoteIsFolder = errors.New("remote entry is a folder")

// Classify decides what to do with a local file given the remote entry of
// the same name, if any. remoteFP may be nil when the backend could not
// report one; in update mode that counts as a change.
func Classify(local store.Fingerprint, remote *store.RemoteEntry, remoteFP *store.Fingerprint, opts Options) (ActionType, string, error) {
	if remote == nil {
		return ActionCreate, "not present remotely", nil
	}
	if remote.IsFolder() {
		return "", "", ErrRemoteIsFolder
	}
	if !opts.Update {
		return ActionSkip, "present remotely", nil
	}
	if remoteFP == nil {
		return ActionUpdate, "remote fingerprint unavailable", nil
	}

	if opts.Fingerprint == FingerprintMD5 && local.MD5 != "" && remoteFP.MD5 != "" {
		if local.MD5 == remoteFP.MD5 {
			return ActionSkip, "checksum matches", nil
		}
		return ActionUpdate, "checksum differs", nil
	}

	if local.Size != remoteFP.Size {
		return ActionUpdate, "size differs", nil
	}
	if remoteFP.ModTime.IsZero() {
		return ActionUpdate, "remote modified time unknown", nil
	}
	if !SameSecond(local.ModTime, remoteFP.ModTime) {
		return ActionUpdate, "modified time differs", nil
	}
	return ActionSkip, "size and modified time match", nil
}

// SameSecond compares two instants at one-second precision
func SameSecond(a, b time.Time) bool {
	return a.Truncate(time.Second).Equal(b.Truncate(time.Second))
}
