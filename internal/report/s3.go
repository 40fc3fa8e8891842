package report

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/aws/aws-sdk-go/service/s3/s3manager/s3manageriface"
	"go.uber.org/zap"

	"github.com/sharedvolume/drift-detector/internal/config"
	"github.com/sharedvolume/drift-detector/internal/logging"
	"github.com/sharedvolume/drift-detector/internal/models"
)

// S3Publisher archives reports as JSON objects in a bucket
type S3Publisher struct {
	bucket   string
	prefix   string
	uploader s3manageriface.UploaderAPI
	logger   *zap.Logger
}

// NewS3Publisher creates a new S3 publisher. Credentials come from the
// default AWS chain.
func NewS3Publisher(cfg config.ReportConfig, logger *zap.Logger) (*S3Publisher, error) {
	logger = logging.OrNop(logger).Named("report.s3")

	awsCfg := &aws.Config{
		Region: aws.String(cfg.S3Region),
	}
	if cfg.S3Endpoint != "" {
		// S3-compatible services usually want path style, AWS wants virtual-hosted
		awsCfg.Endpoint = aws.String(cfg.S3Endpoint)
		awsCfg.S3ForcePathStyle = aws.Bool(!strings.Contains(cfg.S3Endpoint, "amazonaws.com"))
		awsCfg.DisableSSL = aws.Bool(strings.HasPrefix(cfg.S3Endpoint, "http://"))
	}

	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	logger.Info("report archive enabled",
		zap.String("bucket", cfg.S3Bucket),
		zap.String("prefix", cfg.S3Prefix),
		zap.String("endpoint", cfg.S3Endpoint))

	return newS3Publisher(cfg.S3Bucket, cfg.S3Prefix, s3manager.NewUploader(sess), logger), nil
}

func newS3Publisher(bucket, prefix string, uploader s3manageriface.UploaderAPI, logger *zap.Logger) *S3Publisher {
	return &S3Publisher{
		bucket:   bucket,
		prefix:   prefix,
		uploader: uploader,
		logger:   logging.OrNop(logger),
	}
}

// Name returns the publisher name
func (p *S3Publisher) Name() string {
	return "s3"
}

// Publish uploads the report as JSON
func (p *S3Publisher) Publish(ctx context.Context, report *models.SyncReport) error {
	body, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}

	key := ObjectKey(p.prefix, report)
	out, err := p.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:      aws.String(p.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("failed to upload report to s3://%s/%s: %w", p.bucket, key, err)
	}

	p.logger.Info("report archived",
		zap.String("location", out.Location),
		zap.Int("bytes", len(body)))
	return nil
}
