package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/dl-alexandre/mrisync/internal/types"
	"github.com/dl-alexandre/mrisync/internal/utils"
	"github.com/google/uuid"
	"github.com/olekukonko/tablewriter"
)

// OutputWriter handles CLI output formatting
type OutputWriter struct {
	w        io.Writer
	format   types.OutputFormat
	quiet    bool
	warnings []types.CLIWarning
}

// NewOutputWriter creates a new output writer. A nil w means stdout.
func NewOutputWriter(w io.Writer, format types.OutputFormat, quiet bool) *OutputWriter {
	if w == nil {
		w = os.Stdout
	}
	return &OutputWriter{
		w:        w,
		format:   format,
		quiet:    quiet,
		warnings: []types.CLIWarning{},
	}
}

// AddWarning adds a warning to the output
func (w *OutputWriter) AddWarning(code, message, severity string) {
	w.warnings = append(w.warnings, types.CLIWarning{
		Code:     code,
		Message:  message,
		Severity: severity,
	})
}

// WriteSuccess writes a successful result
func (w *OutputWriter) WriteSuccess(command string, data interface{}) error {
	if w.format == types.OutputFormatJSON {
		return w.writeJSON(w.envelope(command, data, nil))
	}
	if w.quiet {
		return nil
	}
	return w.writeTable(command, data)
}

// WriteError writes an error result
func (w *OutputWriter) WriteError(command string, cliErr types.CLIError) error {
	return w.writeJSON(w.envelope(command, nil, []types.CLIError{cliErr}))
}

func (w *OutputWriter) envelope(command string, data interface{}, errs []types.CLIError) types.CLIOutput {
	traceID := uuid.New().String()
	if r, ok := data.(*runReport); ok && r.RunID != "" {
		traceID = r.RunID
	}
	if errs == nil {
		errs = []types.CLIError{}
	}
	return types.CLIOutput{
		SchemaVersion: utils.SchemaVersion,
		TraceID:       traceID,
		Command:       command,
		Data:          data,
		Warnings:      w.warnings,
		Errors:        errs,
	}
}

func (w *OutputWriter) writeJSON(output types.CLIOutput) error {
	encoder := json.NewEncoder(w.w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(output)
}

func (w *OutputWriter) writeTable(command string, data interface{}) error {
	if report, ok := data.(*runReport); ok {
		return w.writeRunReport(report)
	}
	if renderable, ok := data.(types.TableRenderable); ok {
		return w.renderTable(renderable.AsTableRenderer())
	}
	if renderer, ok := data.(types.TableRenderer); ok {
		return w.renderTable(renderer)
	}
	// Fallback to JSON for unknown types
	return w.writeJSON(w.envelope(command, data, nil))
}

func (w *OutputWriter) renderTable(renderer types.TableRenderer) error {
	rows := renderer.Rows()
	if len(rows) == 0 {
		fmt.Fprintln(w.w, renderer.EmptyMessage())
		return nil
	}

	table := tablewriter.NewWriter(w.w)
	table.SetHeader(renderer.Headers())
	table.SetBorder(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)

	for _, row := range rows {
		table.Append(row)
	}

	table.Render()
	return nil
}

func (w *OutputWriter) writeRunReport(r *runReport) error {
	if err := w.renderTable(r.AsTableRenderer()); err != nil {
		return err
	}
	if len(r.Failures) == 0 {
		return nil
	}
	fmt.Fprintln(w.w)
	return w.renderTable(failureTable(r.Failures))
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}

func formatSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
