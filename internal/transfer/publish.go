package transfer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"

	"github.com/a3tai/pdf-field-mapper/internal/logging"
)

// ErrAlreadyPublished is returned by a create-only publish when the object exists
var ErrAlreadyPublished = errors.New("field map already published")

// Publisher uploads an exported field map to the deployed asset set
type Publisher interface {
	Publish(ctx context.Context, data []byte) (string, error)
}

// GCSPublisher writes the export to a Cloud Storage object
type GCSPublisher struct {
	bucket     *storage.BucketHandle
	bucketName string
	object     string
	createOnly bool
	logger     logging.Logger
}

// NewGCSPublisher creates a publisher for gs://bucket/object. With createOnly set an existing
// object is never overwritten.
func NewGCSPublisher(client *storage.Client, bucket, object string, createOnly bool, logger logging.Logger) (*GCSPublisher, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client cannot be nil")
	}
	if bucket == "" || object == "" {
		return nil, fmt.Errorf("bucket and object are required")
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &GCSPublisher{
		bucket:     client.Bucket(bucket),
		bucketName: bucket,
		object:     object,
		createOnly: createOnly,
		logger:     logger,
	}, nil
}

// Publish uploads data and returns the gs:// URL of the object
func (p *GCSPublisher) Publish(ctx context.Context, data []byte) (string, error) {
	obj := p.bucket.Object(p.object)
	if p.createOnly {
		obj = obj.If(storage.Conditions{DoesNotExist: true})
	}

	writer := obj.NewWriter(ctx)
	writer.ContentType = "application/json"

	if _, err := io.Copy(writer, bytes.NewReader(data)); err != nil {
		_ = writer.Close()
		return "", p.classify(err)
	}
	if err := writer.Close(); err != nil {
		return "", p.classify(err)
	}

	url := fmt.Sprintf("gs://%s/%s", p.bucketName, p.object)
	p.logger.Infow("published field map", "url", url, "bytes", len(data))
	return url, nil
}

func (p *GCSPublisher) classify(err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Code == http.StatusPreconditionFailed {
		p.logger.Warnw("field map object already exists", "bucket", p.bucketName, "object", p.object)
		return ErrAlreadyPublished
	}
	p.logger.Errorw("failed to publish field map", "bucket", p.bucketName, "object", p.object, "error", err)
	return fmt.Errorf("failed to write to GCS: %w", err)
}

// PublishStore exports the store's fields and hands them to pub
func PublishStore(ctx context.Context, pub Publisher, s Lister, template string, now time.Time) (string, error) {
	if pub == nil {
		return "", fmt.Errorf("publishing is not configured")
	}
	data, err := Marshal(s.List(), template, now)
	if err != nil {
		return "", err
	}
	return pub.Publish(ctx, data)
}
