package gitsource

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	"go.uber.org/zap"

	"github.com/sharedvolume/drift-detector/internal/logging"
)

// GoGitCloner clones in-process with go-git, for hosts without a git binary
type GoGitCloner struct {
	logger *zap.Logger
}

// NewGoGitCloner creates a new go-git cloner
func NewGoGitCloner(logger *zap.Logger) *GoGitCloner {
	return &GoGitCloner{logger: logging.OrNop(logger).Named("git.gogit")}
}

// Name returns the backend name
func (g *GoGitCloner) Name() string {
	return "gogit"
}

// Clone performs a shallow single-branch clone of req into req.Dir
func (g *GoGitCloner) Clone(ctx context.Context, req CloneRequest) (string, error) {
	g.logger.Debug("cloning", zap.String("repo", MaskCredentials(req.URL, req.Token)), zap.String("branch", req.Branch))

	repo, err := git.PlainCloneContext(ctx, req.Dir, false, cloneOptions(req))
	if err != nil {
		return "", fmt.Errorf("failed to clone repository: %w", err)
	}
	head, err := repo.Head()
	if err != nil {
		return "", fmt.Errorf("failed to resolve HEAD: %w", err)
	}
	return head.Hash().String(), nil
}

func cloneOptions(req CloneRequest) *git.CloneOptions {
	opts := &git.CloneOptions{
		URL:          req.URL,
		Depth:        1,
		SingleBranch: true,
		Tags:         git.NoTags,
	}
	if req.Branch != "" {
		opts.ReferenceName = plumbing.NewBranchReferenceName(req.Branch)
	}
	// The token travels as basic auth, never inside the URL.
	if req.Token != "" && strings.HasPrefix(req.URL, "https://") {
		opts.Auth = &githttp.BasicAuth{Username: "x-access-token", Password: req.Token}
	}
	return opts
}

// NewCloner returns the cloner for a backend name
func NewCloner(backend string, logger *zap.Logger) (Cloner, error) {
	switch backend {
	case "", "shell":
		return NewShellCloner(logger), nil
	case "gogit":
		return NewGoGitCloner(logger), nil
	default:
		return nil, fmt.Errorf("unsupported git backend: %s", backend)
	}
}
