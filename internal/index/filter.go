// Package index builds content-addressed file indices of local trees and
// remote hosts
package index

import (
	"fmt"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/sharedvolume/drift-detector/internal/models"
	"github.com/sharedvolume/drift-detector/pkg/errors"
)

// CompileIgnore compiles an ignore pattern; an empty pattern returns nil
func CompileIgnore(pattern string) (*regexp.Regexp, error) {
	if pattern == "" {
		return nil, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, errors.NewValidationError(fmt.Sprintf("invalid ignore pattern %q: %v", pattern, err))
	}
	return re, nil
}

// Ignored reports whether rel or any of its ancestor directories matches re.
// This is the same decision a walk makes when it skips matching directories.
func Ignored(rel string, re *regexp.Regexp) bool {
	if re == nil {
		return false
	}
	for i := 0; i < len(rel); i++ {
		if rel[i] == '/' && re.MatchString(rel[:i]) {
			return true
		}
	}
	return re.MatchString(rel)
}

// Filter returns a copy of idx without ignored paths
func Filter(idx *models.FileIndex, re *regexp.Regexp) *models.FileIndex {
	out := models.NewFileIndex()
	out.Truncated = idx.Truncated
	for rel, rec := range idx.Files {
		if !Ignored(rel, re) {
			out.Files[rel] = rec
		}
	}
	return out
}

// NormalizeSubdir turns a user supplied subdirectory into a clean slash
// path without leading or trailing slashes; the tree root is ""
func NormalizeSubdir(subdir string) string {
	cleaned := path.Clean("/" + filepath.ToSlash(subdir))
	return strings.Trim(cleaned, "/")
}

// Project restricts idx to subdir and rewrites keys relative to it
func Project(idx *models.FileIndex, subdir string) *models.FileIndex {
	subdir = NormalizeSubdir(subdir)
	out := models.NewFileIndex()
	out.Truncated = idx.Truncated
	if subdir == "" {
		for rel, rec := range idx.Files {
			out.Files[rel] = rec
		}
		return out
	}

	prefix := subdir + "/"
	for rel, rec := range idx.Files {
		if !strings.HasPrefix(rel, prefix) {
			continue
		}
		rec.RelativePath = rel[len(prefix):]
		out.Add(rec)
	}
	return out
}
