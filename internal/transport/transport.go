// Package transport runs commands on remote hosts.
//
// A Session is a scoped resource: whoever obtains one from a Dialer closes it
// exactly once, on every exit path.
package transport

import (
	"context"
	"time"

	"github.com/sharedvolume/drift-detector/internal/models"
)

// Default timeouts
const (
	DefaultConnectTimeout = 15 * time.Second
	DefaultExecTimeout    = 30 * time.Second
)

// Command is one remote command line
type Command struct {
	Line string
	// Stdin is streamed to the remote process and then closed.
	Stdin []byte
	// Timeout overrides the session's exec timeout when non-zero.
	Timeout time.Duration
}

// Result holds the complete output of a finished command
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Session is one authenticated command channel to one host
type Session interface {
	// Exec runs cmd and returns once the remote side closed the channel.
	// A non-zero exit returns both the Result and an exec error.
	Exec(ctx context.Context, cmd Command) (*Result, error)

	// Close releases the connection. Calling it more than once is a no-op.
	Close() error
}

// Dialer opens sessions
type Dialer interface {
	Dial(ctx context.Context, cred models.HostCredential, connectTimeout time.Duration) (Session, error)
}

// ShellQuote wraps s in single quotes, escaping any embedded single quotes.
func ShellQuote(s string) string {
	out := make([]byte, 0, len(s)+2)
	out = append(out, '\'')
	for i := 0; i < len(s); i++ {
		if s[i] == '\'' {
			out = append(out, `'\''`...)
			continue
		}
		out = append(out, s[i])
	}
	return string(append(out, '\''))
}
