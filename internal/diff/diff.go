// Package diff classifies every path of a Git index against a host index.
package diff

import (
	"sort"

	"github.com/sharedvolume/drift-detector/internal/models"
)

// Compute compares the Git side against the server side of one mapping.
// Every path in either index yields exactly one FileDiff, ordered by path.
//
// Content is compared only when checkContent is set and both hashes are
// known; otherwise a path present on both sides counts as synced.
func Compute(git, server *models.FileIndex, checkContent bool) []models.FileDiff {
	paths := make(map[string]struct{}, git.Len()+server.Len())
	if git != nil {
		for p := range git.Files {
			paths[p] = struct{}{}
		}
	}
	if server != nil {
		for p := range server.Files {
			paths[p] = struct{}{}
		}
	}

	sorted := make([]string, 0, len(paths))
	for p := range paths {
		sorted = append(sorted, p)
	}
	sort.Strings(sorted)

	diffs := make([]models.FileDiff, 0, len(sorted))
	for _, p := range sorted {
		g, inGit := lookup(git, p)
		s, onServer := lookup(server, p)

		d := models.FileDiff{RelativePath: p}
		switch {
		case inGit && onServer:
			d.GitSize = sizePtr(g.SizeBytes)
			d.ServerSize = sizePtr(s.SizeBytes)
			d.GitHash = g.ContentHash
			d.ServerHash = s.ContentHash
			d.Status = models.StatusSynced
			if checkContent && g.ContentHash != "" && s.ContentHash != "" && g.ContentHash != s.ContentHash {
				d.Status = models.StatusModified
			}
		case inGit:
			d.Status = models.StatusAdded
			d.GitSize = sizePtr(g.SizeBytes)
			d.GitHash = g.ContentHash
		default:
			d.Status = models.StatusDeleted
			d.ServerSize = sizePtr(s.SizeBytes)
			d.ServerHash = s.ContentHash
		}
		diffs = append(diffs, d)
	}
	return diffs
}

// Summarize counts statuses over every result of a report
func Summarize(results []models.HostSyncResult) models.Summary {
	var sum models.Summary
	for _, r := range results {
		sum.Hosts++
		if r.Outcome == models.OutcomeError {
			sum.FailedHosts++
		}
		for _, d := range r.Diffs {
			switch d.Status {
			case models.StatusSynced:
				sum.Synced++
			case models.StatusModified:
				sum.Modified++
			case models.StatusAdded:
				sum.Added++
			case models.StatusDeleted:
				sum.Deleted++
			}
		}
	}
	return sum
}

func lookup(idx *models.FileIndex, p string) (models.FileRecord, bool) {
	if idx == nil {
		return models.FileRecord{}, false
	}
	rec, ok := idx.Files[p]
	return rec, ok
}

func sizePtr(n int64) *int64 {
	return &n
}
