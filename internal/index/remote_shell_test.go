package index

import (
	"bytes"
	"context"
	"os/exec"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sharedvolume/drift-detector/internal/transport"
)

// shellSession runs commands with the local sh, standing in for a remote host.
type shellSession struct{}

func (shellSession) Exec(ctx context.Context, cmd transport.Command) (*transport.Result, error) {
	c := exec.CommandContext(ctx, "sh", "-c", cmd.Line)
	if cmd.Stdin != nil {
		c.Stdin = bytes.NewReader(cmd.Stdin)
	}
	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr
	err := c.Run()
	return &transport.Result{Stdout: stdout.String(), Stderr: stderr.String()}, err
}

func (shellSession) Close() error { return nil }

func requireShellTools(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("file names used here are not valid on windows")
	}
	for _, tool := range []string{"sh", "find", "tr", "head", "stat"} {
		if _, err := exec.LookPath(tool); err != nil {
			t.Skipf("%s not available", tool)
		}
	}
	_, errSum := exec.LookPath("md5sum")
	_, errMD5 := exec.LookPath("md5")
	if errSum != nil && errMD5 != nil {
		t.Skip("no md5 tool available")
	}
}

func TestRemoteIndexer_MatchesLocalIndexThroughShell(t *testing.T) {
	requireShellTools(t)

	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"plain.txt":          "plain",
		"with space.txt":     "spaces",
		"it's.txt":           "quote",
		`back\slash.txt`:     "backslash",
		"$(echo pwn).txt":    "substitution",
		"line\nbreak.txt":    "newline",
		"nested/dir/deep.md": "deep",
		"empty":              "",
	})

	local, err := BuildLocal(root, nil)
	require.NoError(t, err)
	require.Equal(t, 8, local.Len())

	remote, err := NewRemoteIndexer(0, nil).Index(context.Background(), shellSession{}, root, RemoteOptions{ComputeHash: true})
	require.NoError(t, err)

	assert.False(t, remote.Truncated)
	assert.Equal(t, local.Files, remote.Files)
	assert.Equal(t, md5Hex("backslash"), remote.Files[`back\slash.txt`].ContentHash)
	assert.Equal(t, int64(len("newline")), remote.Files["line\nbreak.txt"].SizeBytes)
}

func TestRemoteIndexer_ShellListingTruncates(t *testing.T) {
	requireShellTools(t)

	root := t.TempDir()
	writeTree(t, root, map[string]string{"a": "1", "b": "2", "c\nd": "3"})

	remote, err := NewRemoteIndexer(2, nil).Index(context.Background(), shellSession{}, root, RemoteOptions{})
	require.NoError(t, err)
	assert.True(t, remote.Truncated)
	assert.Equal(t, 2, remote.Len())
}

func TestSplitListing(t *testing.T) {
	paths, truncated := splitListing("/r/a\n/r/b\x00c\n\n/r/d\n", 5)
	assert.False(t, truncated)
	assert.Equal(t, []string{"/r/a", "/r/b\nc", "/r/d"}, paths)

	paths, truncated = splitListing("/r/a\n/r/b\n/r/c\n", 2)
	assert.True(t, truncated)
	assert.Equal(t, []string{"/r/a", "/r/b"}, paths)
}
