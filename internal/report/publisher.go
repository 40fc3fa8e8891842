// Package report publishes and renders drift reports.
package report

import (
	"context"
	"fmt"
	"path"
	"strings"

	"go.uber.org/zap"

	"github.com/sharedvolume/drift-detector/internal/config"
	"github.com/sharedvolume/drift-detector/internal/logging"
	"github.com/sharedvolume/drift-detector/internal/models"
)

// Publisher delivers a finished report somewhere outside the process
type Publisher interface {
	Name() string
	Publish(ctx context.Context, report *models.SyncReport) error
}

// NewPublishers builds the publishers enabled in cfg
func NewPublishers(cfg config.ReportConfig, logger *zap.Logger) ([]Publisher, error) {
	var pubs []Publisher
	if cfg.S3Bucket != "" {
		s3p, err := NewS3Publisher(cfg, logger)
		if err != nil {
			return nil, err
		}
		pubs = append(pubs, s3p)
	}
	if cfg.WebhookURL != "" {
		pubs = append(pubs, NewWebhookPublisher(cfg.WebhookURL, cfg.WebhookTimeout, logger))
	}
	return pubs, nil
}

// PublishAll hands report to every publisher. Failures are logged and do
// not stop the remaining publishers.
func PublishAll(ctx context.Context, pubs []Publisher, report *models.SyncReport, logger *zap.Logger) int {
	logger = logging.OrNop(logger)
	failed := 0
	for _, p := range pubs {
		if err := p.Publish(ctx, report); err != nil {
			failed++
			logger.Warn("report publishing failed",
				zap.String("publisher", p.Name()),
				zap.String("run", report.RunID),
				zap.Error(err))
		}
	}
	return failed
}

// ObjectKey returns the storage key of a report, grouped by project
func ObjectKey(prefix string, report *models.SyncReport) string {
	project := report.ProjectID
	if project == "" {
		project = "unnamed"
	}
	name := fmt.Sprintf("%s-%s.json", report.GeneratedAt.UTC().Format("20060102T150405Z"), report.RunID)
	return path.Join(strings.Trim(prefix, "/"), project, name)
}
