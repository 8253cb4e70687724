package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/dl-alexandre/mrisync/internal/logging"
	"github.com/dl-alexandre/mrisync/internal/store"
	"github.com/dl-alexandre/mrisync/internal/sync/diff"
	"github.com/dl-alexandre/mrisync/internal/sync/index"
	"github.com/dl-alexandre/mrisync/internal/utils"
	"github.com/spf13/afero"
)

type Options struct {
	Concurrency int
	DryRun      bool
}

// FileError is a CREATE or UPDATE that did not complete
type FileError struct {
	Path   string
	Action diff.ActionType
	Err    error
}

func (e *FileError) Error() string {
	return fmt.Sprintf("%s %s: %v", strings.ToLower(string(e.Action)), e.Path, e.Err)
}

func (e *FileError) Unwrap() error {
	return e.Err
}

// Outcome is the result of applying one decision
type Outcome struct {
	Action diff.ActionType
	Path   string
	Entry  store.RemoteEntry
	Bytes  int64
	DryRun bool
	Err    error
}

type Summary struct {
	Created  int
	Updated  int
	Skipped  int
	Failed   int
	Bytes    int64
	DryRun   bool
	Failures []*FileError
}

func (s *Summary) add(o Outcome) {
	if o.Err != nil {
		s.Failed++
		var fe *FileError
		if !errors.As(o.Err, &fe) {
			fe = &FileError{Path: o.Path, Action: o.Action, Err: o.Err}
		}
		s.Failures = append(s.Failures, fe)
		return
	}
	switch o.Action {
	case diff.ActionCreate:
		s.Created++
	case diff.ActionUpdate:
		s.Updated++
	case diff.ActionSkip:
		s.Skipped++
	}
	s.Bytes += o.Bytes
}

type Executor struct {
	store  store.Store
	index  *index.Index
	fs     afero.Fs
	logger logging.Logger
	opts   Options
}

func New(s store.Store, idx *index.Index, fs afero.Fs, logger logging.Logger, opts Options) *Executor {
	if logger == nil {
		logger = logging.NewNoOpLogger()
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = utils.DefaultConcurrency
	}
	return &Executor{
		store:  s,
		index:  idx,
		fs:     fs,
		logger: logger,
		opts:   opts,
	}
}

// Apply carries out one decision. Failures come back in Outcome.Err as a
// *FileError.
func (e *Executor) Apply(ctx context.Context, d diff.Decision) Outcome {
	out := Outcome{Action: d.Action, Path: d.RelPath, DryRun: e.opts.DryRun}
	line := indent(d.Local.Depth) + strings.ToLower(string(d.Action)) + " " + d.RelPath

	switch d.Action {
	case diff.ActionSkip:
		e.logger.Debug(line, logging.F("reason", d.Reason))
		return out
	case diff.ActionCreate, diff.ActionUpdate:
	default:
		out.Err = &FileError{Path: d.RelPath, Action: d.Action, Err: fmt.Errorf("unknown action %q", d.Action)}
		return out
	}

	if e.opts.DryRun {
		e.logger.Info(line,
			logging.F("folderId", d.ParentID),
			logging.F("size", d.Local.Size),
			logging.F("dryRun", true),
		)
		return out
	}
	if err := ctx.Err(); err != nil {
		out.Err = &FileError{Path: d.RelPath, Action: d.Action, Err: err}
		return out
	}

	up := store.Upload{
		Name:    d.Local.Name,
		Size:    d.Local.Size,
		ModTime: d.Local.ModTime,
		Open: func() (io.ReadCloser, error) {
			return e.fs.Open(d.Local.Path)
		},
	}

	var (
		entry store.RemoteEntry
		err   error
	)
	if d.Action == diff.ActionCreate {
		entry, err = e.store.UploadFile(ctx, d.ParentID, up)
	} else {
		if d.Remote == nil {
			err = fmt.Errorf("update without a remote entry")
		} else {
			entry, err = e.store.ReplaceFile(ctx, d.Remote.ID, up)
		}
	}
	if err != nil {
		e.logger.Error("Transfer failed",
			logging.F("action", string(d.Action)),
			logging.F("path", d.Local.Path),
			logging.F("error", err.Error()),
		)
		out.Err = &FileError{Path: d.RelPath, Action: d.Action, Err: err}
		return out
	}

	if entry.ParentID == "" {
		entry.ParentID = d.ParentID
	}
	e.index.Record(d.ParentID, entry)
	out.Entry = entry
	out.Bytes = d.Local.Size

	e.logger.Info(line,
		logging.F("folderId", d.ParentID),
		logging.F("fileId", entry.ID),
		logging.F("size", d.Local.Size),
	)
	return out
}

// Run drains decisions with Concurrency workers and returns once the
// channel is closed and every worker is done. After ctx is cancelled the
// remaining decisions are drained without remote calls and counted as
// failures.
func (e *Executor) Run(ctx context.Context, decisions <-chan diff.Decision) Summary {
	summary := Summary{DryRun: e.opts.DryRun}
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < e.opts.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for d := range decisions {
				o := e.Apply(ctx, d)
				mu.Lock()
				summary.add(o)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	sort.Slice(summary.Failures, func(i, j int) bool {
		return summary.Failures[i].Path < summary.Failures[j].Path
	})
	return summary
}

func indent(depth int) string {
	return strings.Repeat("  ", depth)
}
