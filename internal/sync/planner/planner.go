// Package planner walks the local MRI tree level by level alongside the
// remote index and emits one decision per candidate file.
package planner

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"sync"

	"github.com/dl-alexandre/mrisync/internal/logging"
	"github.com/dl-alexandre/mrisync/internal/store"
	"github.com/dl-alexandre/mrisync/internal/sync/diff"
	"github.com/dl-alexandre/mrisync/internal/sync/exclude"
	"github.com/dl-alexandre/mrisync/internal/sync/index"
	"github.com/dl-alexandre/mrisync/internal/sync/match"
	"github.com/dl-alexandre/mrisync/internal/sync/scanner"
	"github.com/dl-alexandre/mrisync/internal/utils"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"
)

type Options struct {
	Levels    match.Levels
	Sequences match.PatternSet
	// Files pre-filters leaf files by raw name; an empty set disables it
	Files   match.PatternSet
	Exclude *exclude.Matcher
	// AllLevels plans files in every visited directory, not only at the
	// deepest level
	AllLevels       bool
	Diff            diff.Options
	WalkConcurrency int
}

// Failure is a path the planner could not handle
type Failure struct {
	Path string
	Err  error
}

type Report struct {
	DirsVisited     int
	DirsPruned      int
	FilesConsidered int
	FilesExcluded   int
	FilesUnmatched  int
	Decisions       map[diff.ActionType]int
	// FailedSubtrees are directories whose listing or remote folder
	// could not be resolved; nothing below them was planned
	FailedSubtrees []Failure
	// FileFailures are single files that could not be classified
	FileFailures []Failure
}

type frame struct {
	path     string
	rel      string
	folderID string
	depth    int
}

type Planner struct {
	fs     afero.Fs
	index  *index.Index
	namer  scanner.Namer
	logger logging.Logger
	opts   Options

	mu     sync.Mutex
	report Report
	claims map[string]string
}

func New(fs afero.Fs, idx *index.Index, namer scanner.Namer, logger logging.Logger, opts Options) *Planner {
	if logger == nil {
		logger = logging.NewNoOpLogger()
	}
	if namer == nil {
		namer = scanner.FileNameNamer{}
	}
	if opts.WalkConcurrency <= 0 {
		opts.WalkConcurrency = utils.DefaultWalkConcurrency
	}
	if opts.Diff.Fingerprint == "" {
		opts.Diff.Fingerprint = diff.FingerprintSizeMTime
	}
	return &Planner{
		fs:     fs,
		index:  idx,
		namer:  namer,
		logger: logger,
		opts:   opts,
	}
}

// Validate checks both roots before anything is created remotely
func (p *Planner) Validate(ctx context.Context, root, rootID string) error {
	entry, err := scanner.Stat(p.fs, root)
	if err != nil {
		return utils.NewConfigurationError(fmt.Sprintf("local root %s is not accessible", root), err)
	}
	if !entry.IsDir {
		return utils.NewConfigurationError(fmt.Sprintf("local root %s is not a directory", root), nil)
	}
	if rootID == "" {
		return utils.NewConfigurationError("remote root folder id is empty", nil)
	}
	if p.opts.Levels.Depth() == 0 {
		return utils.NewConfigurationError("at least one directory level pattern is required", nil)
	}
	if p.opts.Sequences.Empty() {
		return utils.NewConfigurationError("at least one sequence pattern is required", nil)
	}
	if _, err := p.index.ChildrenOf(ctx, rootID); err != nil {
		return utils.NewConfigurationError(fmt.Sprintf("remote root %s cannot be listed", rootID), err)
	}
	return nil
}

// Plan walks root and calls emit for every decision. emit is called from
// several goroutines at once. The returned error is non-nil only when the
// root itself cannot be read or ctx is cancelled; narrower failures are
// collected in the report.
func (p *Planner) Plan(ctx context.Context, root, rootID string, emit func(diff.Decision)) (Report, error) {
	p.mu.Lock()
	p.report = Report{Decisions: make(map[diff.ActionType]int)}
	p.claims = make(map[string]string)
	p.mu.Unlock()

	top, err := p.visit(ctx, frame{path: root, folderID: rootID}, emit)
	if err != nil {
		return p.snapshot(), err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.WalkConcurrency)
	for _, f := range top {
		f := f
		g.Go(func() error {
			return p.walk(gctx, f, emit)
		})
	}
	err = g.Wait()
	return p.snapshot(), err
}

func (p *Planner) snapshot() Report {
	p.mu.Lock()
	defer p.mu.Unlock()
	r := p.report
	r.Decisions = make(map[diff.ActionType]int, len(p.report.Decisions))
	for k, v := range p.report.Decisions {
		r.Decisions[k] = v
	}
	r.FailedSubtrees = append([]Failure(nil), p.report.FailedSubtrees...)
	r.FileFailures = append([]Failure(nil), p.report.FileFailures...)
	return r
}

// walk handles one subtree depth first with an explicit stack
func (p *Planner) walk(ctx context.Context, start frame, emit func(diff.Decision)) error {
	stack := []frame{start}
	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		children, err := p.visit(ctx, f, emit)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			p.failSubtree(f.rel, err)
			continue
		}
		// Reverse so siblings come off the stack in name order
		for i := len(children) - 1; i >= 0; i-- {
			stack = append(stack, children[i])
		}
	}
	return nil
}

// visit reads one directory, resolves the remote folders of matching
// subdirectories and plans its files
func (p *Planner) visit(ctx context.Context, f frame, emit func(diff.Decision)) ([]frame, error) {
	listing, err := scanner.ReadDir(p.fs, f.path, f.depth)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.report.DirsVisited++
	p.report.FilesExcluded += len(listing.Excluded)
	p.mu.Unlock()

	for _, ex := range listing.Excluded {
		p.logger.Warn("Skipping file",
			logging.F("path", ex.Path),
			logging.F("reason", ex.Reason),
		)
	}

	p.logger.Info(indent(f.depth)+"scan "+displayPath(f.rel),
		logging.F("folderId", f.folderID),
		logging.F("dirs", len(listing.Dirs)),
		logging.F("files", len(listing.Files)),
	)

	var next []frame
	pruned := 0
	for _, d := range listing.Dirs {
		rel := path.Join(f.rel, d.Name)
		if p.opts.Exclude.IsExcluded(rel, true) || !p.opts.Levels.Match(f.depth+1, d.Name) {
			pruned++
			p.logger.Debug(indent(f.depth+1) + "prune " + rel + "/")
			continue
		}

		folder, err := p.index.EnsureSubfolder(ctx, f.folderID, d.Name)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			p.failSubtree(rel, err)
			continue
		}
		next = append(next, frame{path: d.Path, rel: rel, folderID: folder.ID, depth: f.depth + 1})
	}
	if pruned > 0 {
		p.mu.Lock()
		p.report.DirsPruned += pruned
		p.mu.Unlock()
	}

	if p.opts.AllLevels || f.depth == p.opts.Levels.Depth() {
		if err := p.planFiles(ctx, f, listing.Files, emit); err != nil {
			return next, err
		}
	}
	return next, nil
}

func (p *Planner) planFiles(ctx context.Context, f frame, files []scanner.LocalEntry, emit func(diff.Decision)) error {
	var children map[string]store.RemoteEntry
	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		rel := path.Join(f.rel, file.Name)
		p.count(func(r *Report) { r.FilesConsidered++ })

		if p.opts.Exclude.IsExcluded(rel, false) {
			p.count(func(r *Report) { r.FilesExcluded++ })
			p.logger.Debug(indent(file.Depth) + "exclude " + rel)
			continue
		}
		if !p.opts.Files.Empty() && !p.opts.Files.Matches(file.Name) {
			p.count(func(r *Report) { r.FilesUnmatched++ })
			continue
		}
		seq, err := p.namer.SequenceName(p.fs, file)
		if err != nil {
			p.count(func(r *Report) { r.FilesExcluded++ })
			p.logger.Warn("Skipping file without a sequence name",
				logging.F("path", file.Path),
				logging.F("error", err.Error()),
			)
			continue
		}
		if !p.opts.Sequences.Matches(seq) {
			p.count(func(r *Report) { r.FilesUnmatched++ })
			p.logger.Debug(indent(file.Depth)+"ignore "+rel, logging.F("sequence", seq))
			continue
		}

		if !p.claim(f.folderID, file.Name, rel) {
			continue
		}

		if children == nil {
			children, err = p.index.ChildrenOf(ctx, f.folderID)
			if err != nil {
				return err
			}
		}

		decision, err := p.decide(ctx, f, file, rel, children)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.failFile(rel, err)
			continue
		}
		p.count(func(r *Report) { r.Decisions[decision.Action]++ })
		emit(decision)
	}
	return nil
}

func (p *Planner) decide(ctx context.Context, f frame, file scanner.LocalEntry, rel string, children map[string]store.RemoteEntry) (diff.Decision, error) {
	decision := diff.Decision{
		Local:    file,
		RelPath:  rel,
		ParentID: f.folderID,
	}

	local := store.Fingerprint{Size: file.Size, ModTime: file.ModTime}
	var remote *store.RemoteEntry
	var remoteFP *store.Fingerprint

	if existing, ok := children[file.Name]; ok {
		remote = &existing
		if p.opts.Diff.Update && !existing.IsFolder() {
			fp, err := p.index.Metadata(ctx, existing)
			if err != nil {
				return decision, err
			}
			remoteFP = &fp
			if p.opts.Diff.Fingerprint == diff.FingerprintMD5 && fp.MD5 != "" {
				local.MD5, err = scanner.HashFile(p.fs, file.Path)
				if err != nil {
					return decision, fmt.Errorf("hash local file: %w", err)
				}
			}
		}
	}

	action, reason, err := diff.Classify(local, remote, remoteFP, p.opts.Diff)
	if err != nil {
		if errors.Is(err, diff.ErrRemoteIsFolder) {
			return decision, fmt.Errorf("%w: %s", index.ErrKindMismatch, err)
		}
		return decision, err
	}
	decision.Action = action
	decision.Remote = remote
	decision.Reason = reason
	return decision, nil
}

// claim reserves the destination (folderID, name). A second local file
// mapping onto the same destination is dropped.
func (p *Planner) claim(folderID, name, rel string) bool {
	key := folderID + "\x00" + name
	p.mu.Lock()
	first, taken := p.claims[key]
	if !taken {
		p.claims[key] = rel
	}
	p.mu.Unlock()
	if taken {
		p.logger.Warn("Destination already claimed by another file",
			logging.F("path", rel),
			logging.F("claimedBy", first),
		)
	}
	return !taken
}

func (p *Planner) count(fn func(r *Report)) {
	p.mu.Lock()
	fn(&p.report)
	p.mu.Unlock()
}

func (p *Planner) failSubtree(rel string, err error) {
	p.logger.Error("Subtree failed, continuing with the rest",
		logging.F("path", displayPath(rel)),
		logging.F("error", err.Error()),
	)
	p.count(func(r *Report) {
		r.FailedSubtrees = append(r.FailedSubtrees, Failure{Path: displayPath(rel), Err: err})
	})
}

func (p *Planner) failFile(rel string, err error) {
	p.logger.Error("Cannot plan file",
		logging.F("path", rel),
		logging.F("error", err.Error()),
	)
	p.count(func(r *Report) {
		r.FileFailures = append(r.FileFailures, Failure{Path: rel, Err: err})
	})
}

func indent(depth int) string {
	return strings.Repeat("  ", depth)
}

func displayPath(rel string) string {
	if rel == "" {
		return "."
	}
	return rel + "/"
}
