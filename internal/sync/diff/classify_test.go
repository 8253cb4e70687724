package diff

import (
	"errors"
	"testing"
	"time"

	"github.com/dl-alexandre/mrisync/internal/store"
)

func TestClassify(t *testing.T) {
	mtime := time.Date(2023, 4, 5, 6, 7, 8, 0, time.UTC)
	local := store.Fingerprint{Size: 10, ModTime: mtime.Add(300 * time.Millisecond), MD5: "aaa"}
	file := &store.RemoteEntry{ID: "f", Name: "a.dcm", Kind: store.KindFile}

	tests := []struct {
		name     string
		remote   *store.RemoteEntry
		remoteFP *store.Fingerprint
		opts     Options
		want     ActionType
	}{
		{
			name: "absent remotely",
			want: ActionCreate,
		},
		{
			name: "absent remotely in update mode",
			opts: Options{Update: true},
			want: ActionCreate,
		},
		{
			name:     "present, default mode ignores differences",
			remote:   file,
			remoteFP: &store.Fingerprint{Size: 99},
			want:     ActionSkip,
		},
		{
			name:     "update mode, same size and second",
			remote:   file,
			remoteFP: &store.Fingerprint{Size: 10, ModTime: mtime},
			opts:     Options{Update: true},
			want:     ActionSkip,
		},
		{
			name:     "update mode, size differs",
			remote:   file,
			remoteFP: &store.Fingerprint{Size: 11, ModTime: mtime},
			opts:     Options{Update: true},
			want:     ActionUpdate,
		},
		{
			name:     "update mode, mtime differs",
			remote:   file,
			remoteFP: &store.Fingerprint{Size: 10, ModTime: mtime.Add(2 * time.Second)},
			opts:     Options{Update: true},
			want:     ActionUpdate,
		},
		{
			name:   "update mode, no remote fingerprint",
			remote: file,
			opts:   Options{Update: true},
			want:   ActionUpdate,
		},
		{
			name:     "update mode, remote mtime unknown",
			remote:   file,
			remoteFP: &store.Fingerprint{Size: 10},
			opts:     Options{Update: true},
			want:     ActionUpdate,
		},
		{
			name:     "md5 match wins over mtime",
			remote:   file,
			remoteFP: &store.Fingerprint{Size: 10, ModTime: mtime.Add(time.Hour), MD5: "aaa"},
			opts:     Options{Update: true, Fingerprint: FingerprintMD5},
			want:     ActionSkip,
		},
		{
			name:     "md5 mismatch",
			remote:   file,
			remoteFP: &store.Fingerprint{Size: 10, ModTime: mtime, MD5: "bbb"},
			opts:     Options{Update: true, Fingerprint: FingerprintMD5},
			want:     ActionUpdate,
		},
		{
			name:     "md5 mode falls back to size-mtime without remote checksum",
			remote:   file,
			remoteFP: &store.Fingerprint{Size: 10, ModTime: mtime},
			opts:     Options{Update: true, Fingerprint: FingerprintMD5},
			want:     ActionSkip,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, reason, err := Classify(local, tt.remote, tt.remoteFP, tt.opts)
			if err != nil {
				t.Fatalf("Classify() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Classify() = %s (%s), want %s", got, reason, tt.want)
			}
			if reason == "" {
				t.Error("Classify() returned an empty reason")
			}
		})
	}
}

func TestClassify_RemoteFolder(t *testing.T) {
	folder := &store.RemoteEntry{ID: "d", Name: "a.dcm", Kind: store.KindFolder}
	_, _, err := Classify(store.Fingerprint{Size: 1}, folder, nil, Options{})
	if !errors.Is(err, ErrRemoteIsFolder) {
		t.Errorf("Classify() error = %v, want ErrRemoteIsFolder", err)
	}
}

func TestSameSecond(t *testing.T) {
	base := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	if !SameSecond(base.Add(100*time.Millisecond), base.Add(900*time.Millisecond)) {
		t.Error("instants within one second should match")
	}
	if SameSecond(base.Add(900*time.Millisecond), base.Add(1100*time.Millisecond)) {
		t.Error("instants in different seconds should not match")
	}
	if !SameSecond(base, base.In(time.FixedZone("X", 3600))) {
		t.Error("time zone must not matter")
	}
}
