package gitsource

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"go.uber.org/zap"

	"github.com/sharedvolume/drift-detector/internal/logging"
)

// ShellCloner clones by running the git binary
type ShellCloner struct {
	gitBin string
	logger *zap.Logger
}

// NewShellCloner creates a new git command cloner
func NewShellCloner(logger *zap.Logger) *ShellCloner {
	return &ShellCloner{
		gitBin: "git",
		logger: logging.OrNop(logger).Named("git.shell"),
	}
}

// Name returns the backend name
func (s *ShellCloner) Name() string {
	return "shell"
}

// Clone runs git clone --depth 1 --single-branch and resolves HEAD
func (s *ShellCloner) Clone(ctx context.Context, req CloneRequest) (string, error) {
	repoURL, err := AuthenticatedURL(req.URL, req.Token)
	if err != nil {
		return "", fmt.Errorf("failed to parse Git URL: %w", err)
	}
	// Local paths ignore --depth unless addressed as file:// URLs.
	if strings.HasPrefix(repoURL, "/") {
		repoURL = "file://" + repoURL
	}

	args := []string{"clone", "--depth", "1", "--single-branch", "--no-tags"}
	if req.Branch != "" {
		args = append(args, "--branch", req.Branch)
	}
	args = append(args, repoURL, req.Dir)

	// Log the command without the credentials
	s.logger.Debug("executing git clone",
		zap.String("command", MaskCredentials(strings.Join(append([]string{s.gitBin}, args...), " "), req.Token)))

	cmd := exec.CommandContext(ctx, s.gitBin, args...)
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
	if out, err := cmd.CombinedOutput(); err != nil {
		if stderrors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("git clone timed out: %w", ctx.Err())
		}
		return "", fmt.Errorf("%w: %s", err, strings.TrimSpace(MaskCredentials(string(out), req.Token)))
	}

	out, err := exec.CommandContext(ctx, s.gitBin, "-C", req.Dir, "rev-parse", "HEAD").Output()
	if err != nil {
		return "", fmt.Errorf("git rev-parse failed: %w", err)
	}
	return strings.TrimSpace(string(out)), nil
}
