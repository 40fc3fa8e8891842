package transport

import (
	"bytes"
	"context"
	"encoding/base64"
	stderrors "errors"
	"fmt"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/sharedvolume/drift-detector/internal/logging"
	"github.com/sharedvolume/drift-detector/internal/models"
	"github.com/sharedvolume/drift-detector/pkg/errors"
)

// SSHOptions configures an SSHDialer
type SSHOptions struct {
	// KnownHostsFile enables host key verification when set.
	KnownHostsFile string
	ExecTimeout    time.Duration
}

// SSHDialer opens sessions over golang.org/x/crypto/ssh
type SSHDialer struct {
	hostKeyCallback ssh.HostKeyCallback
	execTimeout     time.Duration
	logger          *zap.Logger
}

// NewSSHDialer creates a new SSH dialer
func NewSSHDialer(opts SSHOptions, logger *zap.Logger) (*SSHDialer, error) {
	logger = logging.OrNop(logger).Named("ssh")

	callback := ssh.InsecureIgnoreHostKey()
	if opts.KnownHostsFile != "" {
		cb, err := knownhosts.New(opts.KnownHostsFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load known hosts file: %w", err)
		}
		callback = cb
		logger.Info("host key verification enabled", zap.String("known_hosts", opts.KnownHostsFile))
	} else {
		logger.Warn("host key verification disabled, set SSH_KNOWN_HOSTS to enable it")
	}

	execTimeout := opts.ExecTimeout
	if execTimeout <= 0 {
		execTimeout = DefaultExecTimeout
	}

	return &SSHDialer{
		hostKeyCallback: callback,
		execTimeout:     execTimeout,
		logger:          logger,
	}, nil
}

// Dial connects and authenticates to cred within connectTimeout. The timeout
// covers both the TCP connect and the SSH handshake.
func (d *SSHDialer) Dial(ctx context.Context, cred models.HostCredential, connectTimeout time.Duration) (Session, error) {
	if connectTimeout <= 0 {
		connectTimeout = DefaultConnectTimeout
	}
	addr := cred.Address()

	auth, err := authMethod(cred)
	if err != nil {
		return nil, errors.NewConnectError(errors.ReasonAuthFailure, fmt.Sprintf("invalid credentials for %s", addr), err)
	}

	config := &ssh.ClientConfig{
		User:            cred.Username,
		Auth:            []ssh.AuthMethod{auth},
		HostKeyCallback: d.hostKeyCallback,
		Timeout:         connectTimeout,
	}

	dialCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	d.logger.Debug("dialing", zap.String("host", cred.ID), zap.String("addr", addr), zap.String("auth", string(cred.AuthMode)))

	var netDialer net.Dialer
	conn, err := netDialer.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		return nil, classifyConnectError(dialCtx, addr, err)
	}

	// The handshake has no context of its own; bound it by the same deadline.
	deadline, _ := dialCtx.Deadline()
	_ = conn.SetDeadline(deadline)
	stop := context.AfterFunc(dialCtx, func() {
		_ = conn.SetDeadline(time.Unix(1, 0))
	})

	c, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	stop()
	if err != nil {
		conn.Close()
		return nil, classifyConnectError(dialCtx, addr, err)
	}
	_ = conn.SetDeadline(time.Time{})

	d.logger.Debug("connected", zap.String("host", cred.ID), zap.String("addr", addr))
	return &sshSession{
		client:      ssh.NewClient(c, chans, reqs),
		addr:        addr,
		execTimeout: d.execTimeout,
		logger:      d.logger,
	}, nil
}

// authMethod selects exactly one auth method from the credential's mode
func authMethod(cred models.HostCredential) (ssh.AuthMethod, error) {
	switch cred.AuthMode {
	case models.AuthPassword:
		return ssh.Password(cred.Secret), nil
	case models.AuthKeypair:
		signer, err := parsePrivateKey(cred.Secret)
		if err != nil {
			return nil, err
		}
		return ssh.PublicKeys(signer), nil
	default:
		return nil, fmt.Errorf("unsupported auth mode %q", cred.AuthMode)
	}
}

// parsePrivateKey accepts a PEM key or its base64 encoding
func parsePrivateKey(secret string) (ssh.Signer, error) {
	signer, err := ssh.ParsePrivateKey([]byte(secret))
	if err == nil {
		return signer, nil
	}
	decoded, decErr := base64.StdEncoding.DecodeString(strings.TrimSpace(secret))
	if decErr != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	signer, err = ssh.ParsePrivateKey(decoded)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	return signer, nil
}

func classifyConnectError(ctx context.Context, addr string, err error) error {
	msg := fmt.Sprintf("failed to connect to %s", addr)

	var keyErr *knownhosts.KeyError
	switch {
	case stderrors.As(err, &keyErr), strings.Contains(err.Error(), "knownhosts:"):
		return errors.NewConnectError(errors.ReasonAuthFailure, msg+": host key verification failed", err)
	case strings.Contains(err.Error(), "unable to authenticate"):
		return errors.NewConnectError(errors.ReasonAuthFailure, msg, err)
	case isTimeout(err) || stderrors.Is(ctx.Err(), context.DeadlineExceeded):
		return errors.NewConnectError(errors.ReasonTimeout, msg, err)
	default:
		return errors.NewConnectError(errors.ReasonNetworkError, msg, err)
	}
}

func isTimeout(err error) bool {
	if stderrors.Is(err, context.DeadlineExceeded) || stderrors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if stderrors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return strings.Contains(err.Error(), "i/o timeout")
}

type sshSession struct {
	client      *ssh.Client
	addr        string
	execTimeout time.Duration
	logger      *zap.Logger

	closeOnce sync.Once
	closeErr  error
}

// Exec runs one command on a fresh channel of the connection
func (s *sshSession) Exec(ctx context.Context, cmd Command) (*Result, error) {
	timeout := cmd.Timeout
	if timeout <= 0 {
		timeout = s.execTimeout
	}

	session, err := s.client.NewSession()
	if err != nil {
		return nil, errors.NewExecError(errors.ReasonNetworkError, fmt.Sprintf("failed to open channel on %s", s.addr), err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr
	if cmd.Stdin != nil {
		session.Stdin = bytes.NewReader(cmd.Stdin)
	}

	if err := session.Start(cmd.Line); err != nil {
		return nil, errors.NewExecError(errors.ReasonNetworkError, fmt.Sprintf("failed to start command on %s", s.addr), err)
	}

	// Wait returns only after the channel closed and both streams drained.
	done := make(chan error, 1)
	go func() {
		done <- session.Wait()
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		res := &Result{Stdout: stdout.String(), Stderr: stderr.String()}
		if err == nil {
			return res, nil
		}
		var exitErr *ssh.ExitError
		if stderrors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitStatus()
			return res, errors.NewExecError(errors.ReasonNonZeroExit,
				fmt.Sprintf("remote command on %s exited with status %d: %s", s.addr, res.ExitCode, firstLine(res.Stderr)), err)
		}
		return nil, errors.NewExecError(errors.ReasonNetworkError, fmt.Sprintf("remote command on %s failed", s.addr), err)
	case <-timer.C:
		s.abort(session)
		return nil, errors.NewExecError(errors.ReasonTimeout, fmt.Sprintf("remote command on %s timed out after %v", s.addr, timeout), nil)
	case <-ctx.Done():
		s.abort(session)
		if stderrors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, errors.NewExecError(errors.ReasonTimeout, fmt.Sprintf("remote command on %s timed out", s.addr), ctx.Err())
		}
		return nil, errors.NewExecError(errors.ReasonNetworkError, fmt.Sprintf("remote command on %s cancelled", s.addr), ctx.Err())
	}
}

// abort kills a running command; the pending Wait result is dropped into
// the buffered channel and never read.
func (s *sshSession) abort(session *ssh.Session) {
	_ = session.Signal(ssh.SIGKILL)
	_ = session.Close()
}

// Close closes the underlying connection once
func (s *sshSession) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.client.Close()
		s.logger.Debug("session closed", zap.String("addr", s.addr))
	})
	return s.closeErr
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
