package index

import (
	"context"
	"fmt"
	"path"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sharedvolume/drift-detector/internal/logging"
	"github.com/sharedvolume/drift-detector/internal/models"
	"github.com/sharedvolume/drift-detector/internal/transport"
	"github.com/sharedvolume/drift-detector/pkg/errors"
)

// DefaultMaxRemoteFiles caps a single remote listing
const DefaultMaxRemoteFiles = 5000

// blockEnd terminates the output block of one file in the stat script
const blockEnd = "@@DRIFT@@"

// Shell helpers shared by every stat script. GNU tools first, BSD second.
// Digests read stdin so md5sum never escapes the file name in its output.
const scriptPrelude = `s() { stat -c %s "$1" 2>/dev/null || stat -f %z "$1" 2>/dev/null; }
h() { if command -v md5sum >/dev/null 2>&1; then md5sum <"$1" 2>/dev/null | cut -d' ' -f1; else md5 -q <"$1" 2>/dev/null; fi; }
`

// RemoteOptions tune one remote indexing
type RemoteOptions struct {
	Ignore      *regexp.Regexp
	ComputeHash bool
	// ExecTimeout overrides the session's timeout for each command.
	ExecTimeout time.Duration
}

// RemoteIndexer builds file indices of remote roots over a session
type RemoteIndexer struct {
	maxFiles int
	logger   *zap.Logger
}

// NewRemoteIndexer creates a new remote indexer
func NewRemoteIndexer(maxFiles int, logger *zap.Logger) *RemoteIndexer {
	if maxFiles <= 0 {
		maxFiles = DefaultMaxRemoteFiles
	}
	return &RemoteIndexer{
		maxFiles: maxFiles,
		logger:   logging.OrNop(logger).Named("index.remote"),
	}
}

// MaxFiles returns the listing cap
func (r *RemoteIndexer) MaxFiles() int {
	return r.maxFiles
}

// Index lists regular files under remoteRoot and collects their sizes and,
// when requested, their MD5 digests. All metadata comes back in one round
// trip. A failed listing is an error; failed metadata collection only
// degrades the records to size 0 and an empty hash.
func (r *RemoteIndexer) Index(ctx context.Context, sess transport.Session, remoteRoot string, opts RemoteOptions) (*models.FileIndex, error) {
	root := NormalizeRemoteRoot(remoteRoot)

	paths, truncated, err := r.list(ctx, sess, root, opts.ExecTimeout)
	if err != nil {
		return nil, errors.NewIndexError(errors.ReasonListingFailed, fmt.Sprintf("failed to list %s", root), err)
	}

	idx := models.NewFileIndex()
	idx.Truncated = truncated
	if truncated {
		r.logger.Warn("remote listing truncated",
			zap.String("root", root),
			zap.Int("limit", r.maxFiles))
	}

	var absPaths, relPaths []string
	for _, p := range paths {
		rel, ok := relativeTo(root, p)
		if !ok || Ignored(rel, opts.Ignore) {
			continue
		}
		absPaths = append(absPaths, p)
		relPaths = append(relPaths, rel)
	}
	if len(absPaths) == 0 {
		return idx, nil
	}

	records := r.stat(ctx, sess, absPaths, opts)
	for i, rel := range relPaths {
		rec := records[i]
		rec.RelativePath = rel
		idx.Add(rec)
	}

	r.logger.Debug("remote root indexed",
		zap.String("root", root),
		zap.Int("files", idx.Len()),
		zap.Bool("hashed", opts.ComputeHash))
	return idx, nil
}

func (r *RemoteIndexer) list(ctx context.Context, sess transport.Session, root string, timeout time.Duration) ([]string, bool, error) {
	// -H follows a symlinked root but nothing below it. NUL and newline are
	// swapped so head counts files and newlines inside names survive as NUL.
	line := fmt.Sprintf(`find -H %s -type f -print0 2>/dev/null | tr '\n\000' '\000\n' | head -n %d`,
		transport.ShellQuote(root), r.maxFiles+1)
	res, err := sess.Exec(ctx, transport.Command{Line: line, Timeout: timeout})
	if err != nil {
		return nil, false, err
	}
	paths, truncated := splitListing(res.Stdout, r.maxFiles)
	return paths, truncated, nil
}

// splitListing reads one path per line, restoring newlines that the listing
// command encoded as NUL.
func splitListing(out string, maxFiles int) ([]string, bool) {
	var paths []string
	for _, l := range strings.Split(out, "\n") {
		if l == "" {
			continue
		}
		paths = append(paths, strings.ReplaceAll(l, "\x00", "\n"))
	}
	if len(paths) > maxFiles {
		return paths[:maxFiles], true
	}
	return paths, false
}

func (r *RemoteIndexer) stat(ctx context.Context, sess transport.Session, paths []string, opts RemoteOptions) []models.FileRecord {
	script := BuildStatScript(paths, opts.ComputeHash)
	res, err := sess.Exec(ctx, transport.Command{
		Line:    "sh -s",
		Stdin:   []byte(script),
		Timeout: opts.ExecTimeout,
	})
	if err != nil {
		r.logger.Warn("remote metadata collection failed, sizes and hashes unavailable",
			zap.Int("files", len(paths)),
			zap.Error(err))
		return make([]models.FileRecord, len(paths))
	}
	return ParseStatOutput(res.Stdout, len(paths))
}

// BuildStatScript returns a POSIX sh script that prints one block per path,
// in order: an S: line with the size, an H: line with the MD5 digest when
// withHash is set, then the block terminator.
func BuildStatScript(paths []string, withHash bool) string {
	var b strings.Builder
	b.WriteString(scriptPrelude)
	if withHash {
		b.WriteString(`f() { echo "S:$(s "$1")"; echo "H:$(h "$1")"; echo '` + blockEnd + `'; }` + "\n")
	} else {
		b.WriteString(`f() { echo "S:$(s "$1")"; echo '` + blockEnd + `'; }` + "\n")
	}
	for _, p := range paths {
		b.WriteString("f ")
		b.WriteString(transport.ShellQuote(p))
		b.WriteByte('\n')
	}
	return b.String()
}

// ParseStatOutput reads n blocks written by a BuildStatScript script. Missing
// or malformed values come back as size 0 and an empty hash.
func ParseStatOutput(out string, n int) []models.FileRecord {
	records := make([]models.FileRecord, n)
	i := 0
	for _, line := range strings.Split(out, "\n") {
		if i >= n {
			break
		}
		line = strings.TrimRight(line, "\r")
		switch {
		case line == blockEnd:
			i++
		case strings.HasPrefix(line, "S:"):
			size, err := strconv.ParseInt(strings.TrimSpace(line[2:]), 10, 64)
			if err == nil && size >= 0 {
				records[i].SizeBytes = size
			}
		case strings.HasPrefix(line, "H:"):
			// GNU md5sum marks an escaped file name with a leading backslash.
			h := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(line[2:])), `\`)
			if isMD5Hex(h) {
				records[i].ContentHash = h
			}
		}
	}
	return records
}

func isMD5Hex(s string) bool {
	if len(s) != 32 {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

// NormalizeRemoteRoot cleans a remote root path; "/" stays "/"
func NormalizeRemoteRoot(root string) string {
	if root == "" {
		return "/"
	}
	return path.Clean(root)
}

// relativeTo strips root from an absolute listing entry
func relativeTo(root, p string) (string, bool) {
	var rel string
	if root == "/" {
		rel = strings.TrimLeft(p, "/")
	} else {
		prefix := root + "/"
		if !strings.HasPrefix(p, prefix) {
			return "", false
		}
		rel = p[len(prefix):]
	}
	rel = strings.TrimLeft(rel, "/")
	if rel == "" {
		return "", false
	}
	return rel, true
}
