package report

import (
	"encoding/json"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/sharedvolume/drift-detector/internal/models"
)

var statusMarks = map[models.DiffStatus]string{
	models.StatusSynced:   "=",
	models.StatusModified: "M",
	models.StatusAdded:    "+",
	models.StatusDeleted:  "-",
}

// WriteJSON writes the report as indented JSON
func WriteJSON(w io.Writer, report *models.SyncReport) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

// WriteText writes a human-readable report. Synced paths are listed only
// when showSynced is set.
func WriteText(w io.Writer, report *models.SyncReport, showSynced bool) error {
	fmt.Fprintf(w, "Project %s", report.ProjectID)
	if report.Commit != "" {
		fmt.Fprintf(w, " @ %s", shortCommit(report.Commit))
	}
	fmt.Fprintf(w, " (run %s, %s)\n", report.RunID, report.Duration.Round(time.Millisecond))

	for _, r := range report.Results {
		fmt.Fprintf(w, "\n%s [%s]", r.HostLabel, r.HostID)
		if r.Outcome == models.OutcomeError {
			fmt.Fprintf(w, " ERROR: %s\n", r.ErrorMessage)
		} else {
			fmt.Fprintln(w)
		}
		if r.Truncated {
			fmt.Fprintln(w, "  warning: remote listing truncated, results are partial")
		}

		for _, d := range r.Diffs {
			if d.Status == models.StatusSynced && !showSynced {
				continue
			}
			fmt.Fprintf(w, "  %s %s%s\n", statusMarks[d.Status], path.Join(d.RemoteRoot, d.RelativePath), sizes(d))
		}
	}

	s := report.Summary
	fmt.Fprintf(w, "\nSummary: %d hosts (%d failed), %d synced, %d modified, %d added, %d deleted\n",
		s.Hosts, s.FailedHosts, s.Synced, s.Modified, s.Added, s.Deleted)
	return nil
}

func sizes(d models.FileDiff) string {
	switch {
	case d.GitSize != nil && d.ServerSize != nil:
		if *d.GitSize == *d.ServerSize {
			return ""
		}
		return fmt.Sprintf(" (git %s, host %s)", formatBytes(*d.GitSize), formatBytes(*d.ServerSize))
	case d.GitSize != nil:
		return fmt.Sprintf(" (%s)", formatBytes(*d.GitSize))
	case d.ServerSize != nil:
		return fmt.Sprintf(" (%s)", formatBytes(*d.ServerSize))
	}
	return ""
}

func shortCommit(c string) string {
	if len(c) > 12 {
		return c[:12]
	}
	return c
}

func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
