package service

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/sharedvolume/drift-detector/internal/logging"
	"github.com/sharedvolume/drift-detector/internal/models"
	"github.com/sharedvolume/drift-detector/internal/report"
	"github.com/sharedvolume/drift-detector/pkg/errors"
)

// Runner executes drift checks; *engine.Engine implements it
type Runner interface {
	Run(ctx context.Context, project models.ProjectSpec, hosts []models.HostCredential) (*models.SyncReport, error)
	FileContent(ctx context.Context, cred models.HostCredential, path string) ([]byte, bool, error)
}

// DriftService handles drift check operations
type DriftService struct {
	runner     Runner
	publishers []report.Publisher
	runTimeout time.Duration
	logger     *zap.Logger

	mutex   sync.Mutex
	running map[string]bool
}

// NewDriftService creates a new drift service
func NewDriftService(runner Runner, publishers []report.Publisher, runTimeout time.Duration, logger *zap.Logger) *DriftService {
	return &DriftService{
		runner:     runner,
		publishers: publishers,
		runTimeout: runTimeout,
		logger:     logging.OrNop(logger).Named("service"),
		running:    make(map[string]bool),
	}
}

// IsRunning returns true if a check of projectID is currently in progress
func (s *DriftService) IsRunning(projectID string) bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.running[projectID]
}

func (s *DriftService) acquire(projectID string) bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.running[projectID] {
		return false
	}
	s.running[projectID] = true
	return true
}

func (s *DriftService) release(projectID string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	delete(s.running, projectID)
}

// Check runs one drift check and publishes its report. A second check of
// the same project while one is running fails with a busy error.
func (s *DriftService) Check(ctx context.Context, req *models.DriftRequest) (*models.SyncReport, error) {
	if err := s.validateRequest(req); err != nil {
		return nil, err
	}

	projectID := req.Project.ID
	if !s.acquire(projectID) {
		return nil, errors.NewBusyError(fmt.Sprintf("drift check of project %s already in progress", projectID))
	}
	defer s.release(projectID)

	if s.runTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.runTimeout)
		defer cancel()
	}

	rep, err := s.runner.Run(ctx, req.Project, req.Hosts)
	if err != nil {
		return nil, err
	}

	if len(s.publishers) > 0 {
		// Publishing outlives a cancelled request.
		pubCtx := context.WithoutCancel(ctx)
		if failed := report.PublishAll(pubCtx, s.publishers, rep, s.logger); failed > 0 {
			s.logger.Warn("report not delivered everywhere",
				zap.String("run", rep.RunID),
				zap.Int("failed", failed),
				zap.Int("publishers", len(s.publishers)))
		}
	}
	return rep, nil
}

// FileContent returns the head of one remote file
func (s *DriftService) FileContent(ctx context.Context, req *models.FileContentRequest) (*models.FileContentResponse, error) {
	if req == nil {
		return nil, errors.NewValidationError("file content request is required")
	}
	if err := req.Host.Validate(); err != nil {
		return nil, err
	}
	if req.Path == "" {
		return nil, errors.NewValidationError("path is required")
	}

	content, truncated, err := s.runner.FileContent(ctx, req.Host, req.Path)
	if err != nil {
		return nil, err
	}
	resp := &models.FileContentResponse{
		HostID:    req.Host.ID,
		Path:      req.Path,
		Content:   string(content),
		Encoding:  models.EncodingUTF8,
		Truncated: truncated,
	}
	if !utf8.Valid(content) {
		resp.Content = base64.StdEncoding.EncodeToString(content)
		resp.Encoding = models.EncodingBase64
	}
	return resp, nil
}

// validateRequest validates the drift request
func (s *DriftService) validateRequest(req *models.DriftRequest) error {
	if req == nil {
		return errors.NewValidationError("drift request is required")
	}
	if err := req.Project.Validate(); err != nil {
		return err
	}
	if len(req.Hosts) == 0 {
		return errors.NewValidationError("at least one host is required")
	}
	return nil
}
