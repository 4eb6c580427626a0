// Package archive copies a day of page views to S3 compatible storage as
// JSON lines.
package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	json "github.com/goccy/go-json"
	"github.com/mx-space/insight/internal/config"
	"github.com/mx-space/insight/internal/models"
	"go.uber.org/zap"
)

const (
	batchSize   = 1000
	contentType = "application/x-ndjson"
)

// ErrIncompleteConfig is returned when bucket, region or keys are missing.
var ErrIncompleteConfig = errors.New("archive: bucket, region, access_key_id and secret_access_key are required")

// ObjectPutter is the subset of the S3 client used here.
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// PageViewSource streams page views in batches.
type PageViewSource interface {
	EachPageView(ctx context.Context, from, to time.Time, batchSize int, fn func([]models.PageView) error) error
}

// Archiver uploads page views of one UTC day per object.
type Archiver struct {
	client ObjectPutter
	source PageViewSource
	bucket string
	prefix string
	logger *zap.Logger
}

// NewS3Client builds a static-credential client. A custom endpoint switches
// to path-style addressing unless the config already asks for it.
func NewS3Client(cfg config.ArchiveConfig) (*s3.Client, error) {
	if strings.TrimSpace(cfg.Bucket) == "" || strings.TrimSpace(cfg.Region) == "" ||
		strings.TrimSpace(cfg.AccessKeyID) == "" || strings.TrimSpace(cfg.SecretAccessKey) == "" {
		return nil, ErrIncompleteConfig
	}
	opts := s3.Options{
		Region: strings.TrimSpace(cfg.Region),
		Credentials: aws.NewCredentialsCache(credentials.NewStaticCredentialsProvider(
			strings.TrimSpace(cfg.AccessKeyID), strings.TrimSpace(cfg.SecretAccessKey), "")),
		UsePathStyle: cfg.PathStyle,
	}
	if endpoint := normalizeEndpoint(cfg.Endpoint); endpoint != "" {
		opts.BaseEndpoint = aws.String(endpoint)
		opts.UsePathStyle = true
	}
	return s3.New(opts), nil
}

func New(client ObjectPutter, source PageViewSource, bucket, prefix string, logger *zap.Logger) *Archiver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Archiver{
		client: client,
		source: source,
		bucket: bucket,
		prefix: strings.Trim(strings.TrimSpace(prefix), "/"),
		logger: logger.Named("Archive"),
	}
}

// ObjectKey is the object name for the page views of day.
func (a *Archiver) ObjectKey(day time.Time) string {
	key := "pageviews/" + day.UTC().Format("2006/01/02") + ".jsonl"
	if a.prefix == "" {
		return key
	}
	return a.prefix + "/" + key
}

// ArchiveDay uploads every page view of the UTC day containing day. Nothing
// is uploaded for an empty day and the returned key is empty.
func (a *Archiver) ArchiveDay(ctx context.Context, day time.Time) (string, int, error) {
	y, m, d := day.UTC().Date()
	from := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	to := from.Add(24*time.Hour - time.Nanosecond)

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	n := 0
	err := a.source.EachPageView(ctx, from, to, batchSize, func(batch []models.PageView) error {
		for i := range batch {
			if err := enc.Encode(&batch[i]); err != nil {
				return err
			}
		}
		n += len(batch)
		return nil
	})
	if err != nil {
		return "", n, fmt.Errorf("read page views: %w", err)
	}
	if n == 0 {
		a.logger.Debug("nothing to archive", zap.Time("day", from))
		return "", 0, nil
	}

	key := a.ObjectKey(from)
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(a.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(buf.Bytes()),
		ContentLength: aws.Int64(int64(buf.Len())),
		ContentType:   aws.String(contentType),
	})
	if err != nil {
		return "", n, fmt.Errorf("upload %s: %w", key, err)
	}
	a.logger.Info("page views archived", zap.String("key", key), zap.Int("rows", n), zap.Int("bytes", buf.Len()))
	return key, n, nil
}

func normalizeEndpoint(raw string) string {
	endpoint := strings.TrimSpace(raw)
	if endpoint == "" {
		return ""
	}
	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		endpoint = "https://" + endpoint
	}
	return strings.TrimSuffix(endpoint, "/")
}
