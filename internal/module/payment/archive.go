package payment

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"
)

// Archiver stores raw webhook payloads for dispute and audit purposes.
type Archiver interface {
	Archive(ctx context.Context, provider, eventID string, payload []byte) error
}

// S3Archiver writes payloads to an S3 bucket, keyed by provider,
// delivery date, and event ID.
type S3Archiver struct {
	client *s3.Client
	bucket string
	prefix string
	logger *zap.Logger
}

// NewS3Archiver creates an S3-backed webhook archiver.
func NewS3Archiver(ctx context.Context, region, bucket, prefix string, logger *zap.Logger) (*S3Archiver, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return &S3Archiver{
		client: s3.NewFromConfig(awsCfg),
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
		logger: logger,
	}, nil
}

func (a *S3Archiver) Archive(ctx context.Context, provider, eventID string, payload []byte) error {
	key := fmt.Sprintf("%s/%s/%s/%s.json",
		a.prefix, provider, time.Now().UTC().Format("2006-01-02"), eventID)

	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(payload),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("archive webhook payload: %w", err)
	}

	a.logger.Debug("webhook payload archived",
		zap.String("provider", provider),
		zap.String("event_id", eventID),
		zap.String("key", key))
	return nil
}

// NoopArchiver discards payloads. Used when archiving is disabled.
type NoopArchiver struct{}

func (NoopArchiver) Archive(ctx context.Context, provider, eventID string, payload []byte) error {
	return nil
}
