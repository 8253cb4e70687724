package sync

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/dl-alexandre/mrisync/internal/logging"
	"github.com/dl-alexandre/mrisync/internal/store"
	"github.com/dl-alexandre/mrisync/internal/sync/diff"
	"github.com/dl-alexandre/mrisync/internal/sync/exclude"
	"github.com/dl-alexandre/mrisync/internal/sync/executor"
	"github.com/dl-alexandre/mrisync/internal/sync/index"
	"github.com/dl-alexandre/mrisync/internal/sync/match"
	"github.com/dl-alexandre/mrisync/internal/sync/planner"
	"github.com/dl-alexandre/mrisync/internal/sync/scanner"
	"github.com/dl-alexandre/mrisync/internal/utils"
	"github.com/google/uuid"
	"github.com/spf13/afero"
)

// queueSize bounds decisions waiting for an upload worker
const queueSize = 256

type Engine struct {
	store  store.Store
	fs     afero.Fs
	namer  scanner.Namer
	logger logging.Logger
}

type Options struct {
	Levels          match.Levels
	Sequences       match.PatternSet
	Files           match.PatternSet
	Exclude         *exclude.Matcher
	AllLevels       bool
	Diff            diff.Options
	Concurrency     int
	WalkConcurrency int
	DryRun          bool
}

type Result struct {
	RunID    string
	Root     string
	RootID   string
	Report   planner.Report
	Summary  executor.Summary
	Stats    index.Stats
	Duration time.Duration
}

// Failed reports whether any subtree, file classification or transfer
// failed during the run
func (r Result) Failed() bool {
	return len(r.Report.FailedSubtrees) > 0 || len(r.Report.FileFailures) > 0 || r.Summary.Failed > 0
}

// Err returns a BATCH_PARTIAL_FAILURE error when the run was not clean
func (r Result) Err() error {
	if !r.Failed() {
		return nil
	}
	failed := r.Summary.Failed + len(r.Report.FileFailures)
	return utils.NewAppError(utils.NewCLIError(utils.ErrCodeBatchPartialFailure,
		fmt.Sprintf("%d file(s) and %d subtree(s) failed", failed, len(r.Report.FailedSubtrees))).
		WithContext("runId", r.RunID).
		WithContext("failedFiles", failed).
		WithContext("failedSubtrees", len(r.Report.FailedSubtrees)).
		Build())
}

func NewEngine(s store.Store, fs afero.Fs, namer scanner.Namer, logger logging.Logger) *Engine {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if logger == nil {
		logger = logging.NewNoOpLogger()
	}
	return &Engine{
		store:  s,
		fs:     fs,
		namer:  namer,
		logger: logger,
	}
}

// Run mirrors the matching part of root into the remote folder rootID.
// Every call builds its own index, planner and executor. A nil error with
// Result.Failed() true means the run finished with isolated failures.
func (e *Engine) Run(ctx context.Context, root, rootID string, opts Options) (Result, error) {
	started := time.Now()
	result := Result{
		RunID:  uuid.NewString(),
		Root:   filepath.Clean(root),
		RootID: rootID,
	}
	logger := e.logger.WithTraceID(result.RunID)

	if checker, ok := e.store.(store.FolderChecker); ok && rootID != "" {
		if err := checker.CheckFolder(ctx, rootID); err != nil {
			return result, utils.NewConfigurationError(fmt.Sprintf("remote root %s is not a usable folder", rootID), err)
		}
	}

	idx := index.New(e.store, logger, index.Options{DryRun: opts.DryRun})
	p := planner.New(e.fs, idx, e.namer, logger, planner.Options{
		Levels:          opts.Levels,
		Sequences:       opts.Sequences,
		Files:           opts.Files,
		Exclude:         opts.Exclude,
		AllLevels:       opts.AllLevels,
		Diff:            opts.Diff,
		WalkConcurrency: opts.WalkConcurrency,
	})
	if err := p.Validate(ctx, result.Root, rootID); err != nil {
		return result, err
	}
	exec := executor.New(e.store, idx, e.fs, logger, executor.Options{
		Concurrency: opts.Concurrency,
		DryRun:      opts.DryRun,
	})

	logger.Info("Starting sync",
		logging.F("root", result.Root),
		logging.F("folderId", rootID),
		logging.F("levels", opts.Levels.Depth()),
		logging.F("sequences", opts.Sequences.String()),
		logging.F("update", opts.Diff.Update),
		logging.F("dryRun", opts.DryRun),
	)

	decisions := make(chan diff.Decision, queueSize)
	done := make(chan executor.Summary, 1)
	go func() {
		done <- exec.Run(ctx, decisions)
	}()

	report, planErr := p.Plan(ctx, result.Root, rootID, func(d diff.Decision) {
		decisions <- d
	})
	close(decisions)
	result.Summary = <-done
	result.Report = report
	result.Stats = idx.Stats()
	result.Duration = time.Since(started)

	logger.Info("Sync finished",
		logging.F("created", result.Summary.Created),
		logging.F("updated", result.Summary.Updated),
		logging.F("skipped", result.Summary.Skipped),
		logging.F("failed", result.Summary.Failed+len(report.FileFailures)),
		logging.F("failedSubtrees", len(report.FailedSubtrees)),
		logging.F("bytes", result.Summary.Bytes),
		logging.F("duration", result.Duration.String()),
	)

	if planErr != nil {
		if errors.Is(planErr, context.Canceled) || errors.Is(planErr, context.DeadlineExceeded) {
			return result, utils.WrapAppError(utils.NewCLIError(utils.ErrCodeCancelled, "sync interrupted").
				WithContext("runId", result.RunID).
				Build(), planErr)
		}
		return result, planErr
	}
	return result, nil
}
