// Package gitsource materializes a Git branch tip into a local cache slot.
//
// Every materialization deletes the slot and clones again with depth 1, so
// the working tree always equals the remote branch tip.
package gitsource

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sharedvolume/drift-detector/internal/logging"
	"github.com/sharedvolume/drift-detector/internal/utils"
	"github.com/sharedvolume/drift-detector/pkg/errors"
)

// DefaultCloneTimeout bounds a single clone
const DefaultCloneTimeout = 120 * time.Second

// Source identifies what to materialize
type Source struct {
	URL    string
	Branch string
	Token  string
}

// CloneRequest is handed to a Cloner
type CloneRequest struct {
	URL    string
	Branch string
	Token  string
	Dir    string
}

// Cloner performs a shallow single-branch clone into an empty directory
// and returns the checked out commit
type Cloner interface {
	Clone(ctx context.Context, req CloneRequest) (string, error)
	Name() string
}

// Checkout is a materialized working tree. The slot stays reserved for the
// caller until Release.
type Checkout struct {
	Dir    string
	Commit string

	releaseOnce sync.Once
	release     func()
}

// Release hands the slot back to other runs
func (c *Checkout) Release() {
	c.releaseOnce.Do(func() {
		if c.release != nil {
			c.release()
		}
	})
}

// Materializer produces checkouts
type Materializer interface {
	Materialize(ctx context.Context, src Source) (*Checkout, error)
}

// Cache keeps one slot per repository URL under a base directory
type Cache struct {
	baseDir string
	cloner  Cloner
	timeout time.Duration
	logger  *zap.Logger

	mu    sync.Mutex
	slots map[string]*sync.Mutex
}

// NewCache creates a new cache rooted at baseDir
func NewCache(baseDir string, cloner Cloner, timeout time.Duration, logger *zap.Logger) *Cache {
	if timeout <= 0 {
		timeout = DefaultCloneTimeout
	}
	return &Cache{
		baseDir: baseDir,
		cloner:  cloner,
		timeout: timeout,
		logger:  logging.OrNop(logger).Named("git"),
		slots:   make(map[string]*sync.Mutex),
	}
}

// SlotDir returns the slot for a repository URL. The branch is not part of
// the key so re-runs reuse the same slot.
func (c *Cache) SlotDir(repoURL string) string {
	sum := sha256.Sum256([]byte(repoURL))
	return filepath.Join(c.baseDir, hex.EncodeToString(sum[:])[:16])
}

func (c *Cache) lockSlot(slot string) func() {
	c.mu.Lock()
	m, ok := c.slots[slot]
	if !ok {
		m = &sync.Mutex{}
		c.slots[slot] = m
	}
	c.mu.Unlock()

	m.Lock()
	return m.Unlock
}

// Materialize wipes the slot for src.URL and clones src.Branch into it
func (c *Cache) Materialize(ctx context.Context, src Source) (*Checkout, error) {
	masked := MaskCredentials(src.URL, src.Token)
	if !validateURL(src.URL) {
		return nil, errors.NewAcquisitionError(errors.ReasonInvalidURL, fmt.Sprintf("invalid repository URL %q", masked), nil)
	}

	slot := c.SlotDir(src.URL)
	unlock := c.lockSlot(slot)
	ok := false
	defer func() {
		if !ok {
			unlock()
		}
	}()

	c.logger.Info("materializing repository",
		zap.String("repo", masked),
		zap.String("branch", src.Branch),
		zap.String("slot", slot),
		zap.String("backend", c.cloner.Name()))

	if err := os.RemoveAll(slot); err != nil {
		return nil, errors.NewAcquisitionError(errors.ReasonCloneFailed, "failed to remove stale checkout", err)
	}
	if err := utils.EnsureDir(c.baseDir); err != nil {
		return nil, errors.NewAcquisitionError(errors.ReasonCloneFailed, "failed to create cache directory", err)
	}

	cloneCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	commit, err := c.cloner.Clone(cloneCtx, CloneRequest{
		URL:    src.URL,
		Branch: src.Branch,
		Token:  src.Token,
		Dir:    slot,
	})
	if err != nil {
		_ = os.RemoveAll(slot)
		reason := errors.ReasonCloneFailed
		msg := fmt.Sprintf("git clone of %s failed", masked)
		if stderrors.Is(cloneCtx.Err(), context.DeadlineExceeded) {
			reason = errors.ReasonTimeout
			msg = fmt.Sprintf("git clone of %s timed out after %v", masked, c.timeout)
		}
		c.logger.Error("clone failed", zap.String("repo", masked), zap.String("reason", reason))
		return nil, errors.NewAcquisitionError(reason, msg, stderrors.New(MaskCredentials(err.Error(), src.Token)))
	}

	c.logger.Info("repository materialized",
		zap.String("repo", masked),
		zap.String("commit", commit),
		zap.Duration("took", time.Since(start)))

	ok = true
	return &Checkout{Dir: slot, Commit: commit, release: unlock}, nil
}

// Cleanup removes every slot
func (c *Cache) Cleanup() error {
	c.logger.Debug("removing cache directory", zap.String("dir", c.baseDir))
	return utils.RemoveIfExists(c.baseDir)
}
