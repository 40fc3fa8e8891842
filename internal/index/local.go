package index

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"github.com/sharedvolume/drift-detector/internal/models"
	"github.com/sharedvolume/drift-detector/pkg/errors"
)

// vcsDir is Git metadata, never part of the deployed tree
const vcsDir = ".git"

const hashBufferSize = 64 * 1024

var bufferPool = sync.Pool{
	New: func() interface{} {
		buf := make([]byte, hashBufferSize)
		return &buf
	},
}

// BuildLocal walks root and indexes every regular file. Paths matching
// ignore are skipped; a matching directory skips its whole subtree.
// Entries that cannot be read are left out of the index.
func BuildLocal(root string, ignore *regexp.Regexp) (*models.FileIndex, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, errors.NewFileSystemError(fmt.Sprintf("cannot index %s", root), err)
	}
	if !info.IsDir() {
		return nil, errors.NewFileSystemError(fmt.Sprintf("cannot index %s: not a directory", root), nil)
	}

	idx := models.NewFileIndex()
	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, walkErr error) error {
		if p == root {
			return walkErr
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if walkErr != nil {
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}

		if d.IsDir() {
			if rel == vcsDir || (ignore != nil && ignore.MatchString(rel)) {
				return fs.SkipDir
			}
			return nil
		}
		// Symlinks and special files are not indexed, same as find -type f.
		if !d.Type().IsRegular() {
			return nil
		}
		if ignore != nil && ignore.MatchString(rel) {
			return nil
		}

		if rec, ok := hashFile(p, rel); ok {
			idx.Add(rec)
		}
		return nil
	})
	if err != nil {
		return nil, errors.NewFileSystemError(fmt.Sprintf("failed to walk %s", root), err)
	}
	return idx, nil
}

// hashFile returns the record for one file, or false if it cannot be read
func hashFile(p, rel string) (models.FileRecord, bool) {
	f, err := os.Open(p)
	if err != nil {
		return models.FileRecord{}, false
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return models.FileRecord{}, false
	}

	bufPtr := bufferPool.Get().(*[]byte)
	defer bufferPool.Put(bufPtr)

	h := md5.New()
	if _, err := io.CopyBuffer(h, f, *bufPtr); err != nil {
		return models.FileRecord{}, false
	}

	return models.FileRecord{
		RelativePath: rel,
		SizeBytes:    info.Size(),
		ContentHash:  hex.EncodeToString(h.Sum(nil)),
	}, true
}
