package index

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	stderrors "errors"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sharedvolume/drift-detector/internal/models"
	"github.com/sharedvolume/drift-detector/internal/transport"
	"github.com/sharedvolume/drift-detector/pkg/errors"
)

func md5Hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		p := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0644))
	}
}

func TestBuildLocal(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"a.txt":            "hello",
		"web/index.html":   "<html/>",
		"web/tmp/x.log":    "log",
		".git/HEAD":        "ref: refs/heads/main",
		"nested/.git/keep": "not the repo metadata",
	})

	idx, err := BuildLocal(root, nil)
	require.NoError(t, err)

	assert.Equal(t, 4, idx.Len())
	assert.Equal(t, models.FileRecord{RelativePath: "a.txt", SizeBytes: 5, ContentHash: md5Hex("hello")}, idx.Files["a.txt"])
	assert.Contains(t, idx.Files, "web/index.html")
	assert.Contains(t, idx.Files, "nested/.git/keep")
	assert.NotContains(t, idx.Files, ".git/HEAD")
	assert.False(t, idx.Truncated)
}

func TestBuildLocal_IgnoreSkipsSubtree(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"a.txt":           "a",
		"tmp/b.txt":       "b",
		"tmp/deep/c.txt":  "c",
		"web/tmp.log":     "d",
		"web/keep/ok.txt": "e",
	})

	idx, err := BuildLocal(root, regexp.MustCompile(`^tmp$|\.log$`))
	require.NoError(t, err)

	keys := make([]string, 0, idx.Len())
	for k := range idx.Files {
		keys = append(keys, k)
	}
	assert.ElementsMatch(t, []string{"a.txt", "web/keep/ok.txt"}, keys)
}

func TestBuildLocal_SkipsSymlinks(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"real.txt": "x"})
	if err := os.Symlink(filepath.Join(root, "real.txt"), filepath.Join(root, "link.txt")); err != nil {
		t.Skip("symlinks not supported")
	}

	idx, err := BuildLocal(root, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, idx.Len())
	assert.Contains(t, idx.Files, "real.txt")
}

func TestBuildLocal_MissingRoot(t *testing.T) {
	_, err := BuildLocal(filepath.Join(t.TempDir(), "missing"), nil)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeFileSystem))
}

func TestBuildLocal_EmptyFileHash(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"empty": ""})

	idx, err := BuildLocal(root, nil)
	require.NoError(t, err)
	assert.Equal(t, "d41d8cd98f00b204e9800998ecf8427e", idx.Files["empty"].ContentHash)
	assert.Equal(t, int64(0), idx.Files["empty"].SizeBytes)
}

func indexOf(paths ...string) *models.FileIndex {
	idx := models.NewFileIndex()
	for _, p := range paths {
		idx.Add(models.FileRecord{RelativePath: p, SizeBytes: int64(len(p))})
	}
	return idx
}

func TestProject(t *testing.T) {
	idx := indexOf("README.md", "web/index.html", "web/css/site.css", "webapp/main.go")
	idx.Truncated = true

	for _, subdir := range []string{"web", "/web/", "./web", "web//"} {
		got := Project(idx, subdir)
		assert.Equal(t, 2, got.Len(), subdir)
		assert.Equal(t, "css/site.css", got.Files["css/site.css"].RelativePath, subdir)
		assert.Contains(t, got.Files, "index.html", subdir)
		assert.True(t, got.Truncated)
	}

	whole := Project(idx, "")
	assert.Equal(t, idx.Len(), whole.Len())
	assert.Equal(t, idx.Len(), Project(idx, "/").Len())
	assert.Equal(t, 0, Project(idx, "missing").Len())
}

func TestFilterAndIgnored(t *testing.T) {
	re := regexp.MustCompile(`^node_modules$|\.tmp$`)

	assert.True(t, Ignored("node_modules/pkg/index.js", re))
	assert.True(t, Ignored("a/b.tmp", re))
	assert.False(t, Ignored("src/node_modules.txt", re))
	assert.False(t, Ignored("anything", nil))

	got := Filter(indexOf("node_modules/x.js", "src/a.go", "src/a.tmp"), re)
	assert.Equal(t, 1, got.Len())
	assert.Contains(t, got.Files, "src/a.go")
}

func TestCompileIgnore(t *testing.T) {
	re, err := CompileIgnore("")
	require.NoError(t, err)
	assert.Nil(t, re)

	re, err = CompileIgnore(`\.log$`)
	require.NoError(t, err)
	assert.True(t, re.MatchString("x.log"))

	_, err = CompileIgnore("([")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeValidation))
}

// fakeSession answers commands from a handler and records them.
type fakeSession struct {
	handle   func(cmd transport.Command) (*transport.Result, error)
	commands []transport.Command
}

func (f *fakeSession) Exec(_ context.Context, cmd transport.Command) (*transport.Result, error) {
	f.commands = append(f.commands, cmd)
	return f.handle(cmd)
}

func (f *fakeSession) Close() error { return nil }

// statBlocks renders the output a stat script would produce.
func statBlocks(sizes []string, hashes []string) string {
	var b strings.Builder
	for i, s := range sizes {
		b.WriteString("S:" + s + "\n")
		if hashes != nil {
			b.WriteString("H:" + hashes[i] + "\n")
		}
		b.WriteString(blockEnd + "\n")
	}
	return b.String()
}

func TestRemoteIndexer_Index(t *testing.T) {
	sess := &fakeSession{handle: func(cmd transport.Command) (*transport.Result, error) {
		if strings.HasPrefix(cmd.Line, "find ") {
			return &transport.Result{Stdout: "/srv/app/a.txt\n/srv/app/web/b.html\n/srv/app/cache/c.bin\n"}, nil
		}
		return &transport.Result{Stdout: statBlocks(
			[]string{"5", "12"},
			[]string{md5Hex("hello"), strings.ToUpper(md5Hex("page"))},
		)}, nil
	}}

	r := NewRemoteIndexer(0, nil)
	idx, err := r.Index(context.Background(), sess, "/srv/app/", RemoteOptions{
		Ignore:      regexp.MustCompile(`^cache$`),
		ComputeHash: true,
	})
	require.NoError(t, err)

	require.Len(t, sess.commands, 2)
	assert.Equal(t, `find -H '/srv/app' -type f -print0 2>/dev/null | tr '\n\000' '\000\n' | head -n 5001`, sess.commands[0].Line)
	assert.Equal(t, "sh -s", sess.commands[1].Line)
	script := string(sess.commands[1].Stdin)
	assert.Contains(t, script, "f '/srv/app/a.txt'\n")
	assert.NotContains(t, script, "c.bin")

	assert.Equal(t, 2, idx.Len())
	assert.Equal(t, models.FileRecord{RelativePath: "a.txt", SizeBytes: 5, ContentHash: md5Hex("hello")}, idx.Files["a.txt"])
	assert.Equal(t, md5Hex("page"), idx.Files["web/b.html"].ContentHash)
	assert.False(t, idx.Truncated)
}

func TestRemoteIndexer_Truncation(t *testing.T) {
	sess := &fakeSession{handle: func(cmd transport.Command) (*transport.Result, error) {
		if strings.HasPrefix(cmd.Line, "find ") {
			return &transport.Result{Stdout: "/r/1\n/r/2\n/r/3\n/r/4\n"}, nil
		}
		return &transport.Result{Stdout: statBlocks([]string{"1", "2", "3"}, nil)}, nil
	}}

	idx, err := NewRemoteIndexer(3, nil).Index(context.Background(), sess, "/r", RemoteOptions{})
	require.NoError(t, err)
	assert.Equal(t, `find -H '/r' -type f -print0 2>/dev/null | tr '\n\000' '\000\n' | head -n 4`, sess.commands[0].Line)
	assert.Equal(t, 3, idx.Len())
	assert.True(t, idx.Truncated)
	assert.NotContains(t, idx.Files, "4")
	assert.Empty(t, idx.Files["1"].ContentHash)
}

func TestRemoteIndexer_ListingFailure(t *testing.T) {
	sess := &fakeSession{handle: func(transport.Command) (*transport.Result, error) {
		return nil, errors.NewExecError(errors.ReasonTimeout, "command timed out", nil)
	}}

	_, err := NewRemoteIndexer(0, nil).Index(context.Background(), sess, "/srv", RemoteOptions{})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeIndex))
	assert.Equal(t, errors.ReasonListingFailed, errors.ReasonOf(err))
	assert.True(t, errors.IsType(err, errors.ErrTypeExec))
}

func TestRemoteIndexer_StatFailureDegrades(t *testing.T) {
	sess := &fakeSession{handle: func(cmd transport.Command) (*transport.Result, error) {
		if strings.HasPrefix(cmd.Line, "find ") {
			return &transport.Result{Stdout: "/srv/a\n/srv/b\n"}, nil
		}
		return &transport.Result{ExitCode: 2}, stderrors.New("boom")
	}}

	idx, err := NewRemoteIndexer(0, nil).Index(context.Background(), sess, "/srv", RemoteOptions{ComputeHash: true})
	require.NoError(t, err)
	assert.Equal(t, models.FileRecord{RelativePath: "a"}, idx.Files["a"])
	assert.Equal(t, models.FileRecord{RelativePath: "b"}, idx.Files["b"])
}

func TestRemoteIndexer_EmptyRoot(t *testing.T) {
	sess := &fakeSession{handle: func(transport.Command) (*transport.Result, error) {
		return &transport.Result{}, nil
	}}

	idx, err := NewRemoteIndexer(0, nil).Index(context.Background(), sess, "/missing", RemoteOptions{ComputeHash: true})
	require.NoError(t, err)
	assert.Equal(t, 0, idx.Len())
	assert.Len(t, sess.commands, 1)
}

func TestParseStatOutput_Malformed(t *testing.T) {
	out := "S:abc\nH:nothex\n" + blockEnd + "\nS:-4\n" + blockEnd + "\nS:7\r\nH:" + md5Hex("x") + "\r\n" + blockEnd + "\n"
	recs := ParseStatOutput(out, 4)
	require.Len(t, recs, 4)
	assert.Equal(t, models.FileRecord{}, recs[0])
	assert.Equal(t, models.FileRecord{}, recs[1])
	assert.Equal(t, models.FileRecord{SizeBytes: 7, ContentHash: md5Hex("x")}, recs[2])
	assert.Equal(t, models.FileRecord{}, recs[3])
}

func TestBuildStatScript(t *testing.T) {
	script := BuildStatScript([]string{"/srv/it's here"}, false)
	assert.Contains(t, script, `f '/srv/it'\''s here'`)
	assert.NotContains(t, script, `echo "H:`)

	script = BuildStatScript([]string{"/srv/a"}, true)
	assert.Contains(t, script, `echo "H:$(h "$1")"`)
	assert.Contains(t, script, `md5sum <"$1"`)
}

func TestParseStatOutput_EscapedDigest(t *testing.T) {
	out := "S:9\nH:\\" + md5Hex("backslash") + "\n" + blockEnd + "\n"
	recs := ParseStatOutput(out, 1)
	assert.Equal(t, models.FileRecord{SizeBytes: 9, ContentHash: md5Hex("backslash")}, recs[0])
}

func TestRelativeTo(t *testing.T) {
	rel, ok := relativeTo("/", "/etc/hosts")
	assert.True(t, ok)
	assert.Equal(t, "etc/hosts", rel)

	_, ok = relativeTo("/srv/app", "/srv/application/x")
	assert.False(t, ok)

	_, ok = relativeTo("/srv/app", "/srv/app")
	assert.False(t, ok)
}
