package report

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/sharedvolume/drift-detector/internal/logging"
	"github.com/sharedvolume/drift-detector/internal/models"
)

const userAgent = "drift-detector/1.0"

// WebhookPublisher POSTs reports to an HTTP endpoint
type WebhookPublisher struct {
	url     string
	timeout time.Duration
	client  *http.Client
	logger  *zap.Logger
}

// NewWebhookPublisher creates a new webhook publisher
func NewWebhookPublisher(url string, timeout time.Duration, logger *zap.Logger) *WebhookPublisher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookPublisher{
		url:     url,
		timeout: timeout,
		client:  &http.Client{},
		logger:  logging.OrNop(logger).Named("report.webhook"),
	}
}

// Name returns the publisher name
func (w *WebhookPublisher) Name() string {
	return "webhook"
}

// Publish sends the report as the JSON request body
func (w *WebhookPublisher) Publish(ctx context.Context, report *models.SyncReport) error {
	body, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("X-Drift-Run-Id", report.RunID)

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to deliver report: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook rejected report: %s", resp.Status)
	}

	w.logger.Debug("report delivered", zap.String("run", report.RunID), zap.String("status", resp.Status))
	return nil
}
