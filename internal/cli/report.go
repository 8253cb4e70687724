package cli

import (
	"errors"
	"strconv"

	syncengine "github.com/dl-alexandre/mrisync/internal/sync"
	"github.com/dl-alexandre/mrisync/internal/sync/index"
	"github.com/dl-alexandre/mrisync/internal/types"
	"github.com/dl-alexandre/mrisync/internal/utils"
)

// runReport is the printed result of one sync run
type runReport struct {
	RunID           string        `json:"runId"`
	Root            string        `json:"root"`
	FolderID        string        `json:"folderId"`
	DryRun          bool          `json:"dryRun"`
	Created         int           `json:"created"`
	Updated         int           `json:"updated"`
	Skipped         int           `json:"skipped"`
	Failed          int           `json:"failed"`
	FailedSubtrees  int           `json:"failedSubtrees"`
	Bytes           int64         `json:"bytes"`
	DirsVisited     int           `json:"dirsVisited"`
	DirsPruned      int           `json:"dirsPruned"`
	FilesConsidered int           `json:"filesConsidered"`
	FilesExcluded   int           `json:"filesExcluded"`
	FilesUnmatched  int           `json:"filesUnmatched"`
	RemoteListings  int64         `json:"remoteListings"`
	FoldersCreated  int64         `json:"foldersCreated"`
	MetadataCalls   int64         `json:"metadataCalls"`
	DurationMs      int64         `json:"durationMs"`
	Failures        []failureItem `json:"failures"`
}

type failureItem struct {
	Path   string `json:"path"`
	Action string `json:"action"`
	Code   string `json:"code"`
	Error  string `json:"error"`
}

// subtreeCode tells remote failures apart from unreadable local
// directories
func subtreeCode(err error) string {
	var remote *index.RemoteStoreError
	if errors.As(err, &remote) {
		return utils.ErrCodeRemoteStore
	}
	return utils.ErrCodeInvalidPath
}

func newRunReport(r syncengine.Result) *runReport {
	report := &runReport{
		RunID:           r.RunID,
		Root:            r.Root,
		FolderID:        r.RootID,
		DryRun:          r.Summary.DryRun,
		Created:         r.Summary.Created,
		Updated:         r.Summary.Updated,
		Skipped:         r.Summary.Skipped,
		Failed:          r.Summary.Failed + len(r.Report.FileFailures),
		FailedSubtrees:  len(r.Report.FailedSubtrees),
		Bytes:           r.Summary.Bytes,
		DirsVisited:     r.Report.DirsVisited,
		DirsPruned:      r.Report.DirsPruned,
		FilesConsidered: r.Report.FilesConsidered,
		FilesExcluded:   r.Report.FilesExcluded,
		FilesUnmatched:  r.Report.FilesUnmatched,
		RemoteListings:  r.Stats.Listings,
		FoldersCreated:  r.Stats.FolderCreates,
		MetadataCalls:   r.Stats.MetadataCalls,
		DurationMs:      r.Duration.Milliseconds(),
		Failures:        []failureItem{},
	}
	for _, f := range r.Report.FailedSubtrees {
		report.Failures = append(report.Failures, failureItem{
			Path:   f.Path,
			Action: "walk",
			Code:   subtreeCode(f.Err),
			Error:  f.Err.Error(),
		})
	}
	for _, f := range r.Report.FileFailures {
		report.Failures = append(report.Failures, failureItem{
			Path:   f.Path,
			Action: "plan",
			Code:   utils.ErrCodeFileTransferFailed,
			Error:  f.Err.Error(),
		})
	}
	for _, f := range r.Summary.Failures {
		report.Failures = append(report.Failures, failureItem{
			Path:   f.Path,
			Action: string(f.Action),
			Code:   utils.ErrCodeFileTransferFailed,
			Error:  f.Err.Error(),
		})
	}
	return report
}

type summaryTable struct {
	r *runReport
}

func (r *runReport) AsTableRenderer() types.TableRenderer {
	return summaryTable{r: r}
}

func (t summaryTable) Headers() []string {
	if t.r.DryRun {
		return []string{"Result (dry run)", "Count"}
	}
	return []string{"Result", "Count"}
}

func (t summaryTable) Rows() [][]string {
	r := t.r
	return [][]string{
		{"Created", strconv.Itoa(r.Created)},
		{"Updated", strconv.Itoa(r.Updated)},
		{"Skipped", strconv.Itoa(r.Skipped)},
		{"Failed", strconv.Itoa(r.Failed)},
		{"Failed subtrees", strconv.Itoa(r.FailedSubtrees)},
		{"Transferred", formatSize(r.Bytes)},
		{"Directories visited", strconv.Itoa(r.DirsVisited)},
		{"Directories pruned", strconv.Itoa(r.DirsPruned)},
		{"Files unmatched", strconv.Itoa(r.FilesUnmatched)},
		{"Files excluded", strconv.Itoa(r.FilesExcluded)},
	}
}

func (t summaryTable) EmptyMessage() string {
	return "Nothing to report"
}

type failureTable []failureItem

func (f failureTable) Headers() []string {
	return []string{"Failed path", "Action", "Code", "Error"}
}

func (f failureTable) Rows() [][]string {
	rows := make([][]string, 0, len(f))
	for _, item := range f {
		rows = append(rows, []string{item.Path, item.Action, item.Code, truncate(item.Error, 80)})
	}
	return rows
}

func (f failureTable) EmptyMessage() string {
	return "No failures"
}
