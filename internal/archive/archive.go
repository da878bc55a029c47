// Package archive copies completed transcripts to S3-compatible object
// storage. It decorates a store.Store so archiving rides on the session's
// persistence retries.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog"

	"call-transcription-service/internal/models"
	"call-transcription-service/internal/observability/logging"
	"call-transcription-service/internal/observability/metrics"
	"call-transcription-service/internal/store"
)

// Config holds the object storage settings.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// objectPutter is the part of *minio.Client the archive uses.
type objectPutter interface {
	PutObject(ctx context.Context, bucket, object string, reader io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// Store saves to the wrapped store and uploads completed transcripts.
type Store struct {
	store.Store
	client  objectPutter
	bucket  string
	logger  zerolog.Logger
	metrics *metrics.Metrics
}

// NewClient creates a MinIO client and makes sure the bucket exists.
func NewClient(ctx context.Context, cfg Config) (*minio.Client, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket existence: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
	}
	return client, nil
}

// New wraps next so completed snapshots are also written to bucket.
func New(next store.Store, client objectPutter, bucket string) *Store {
	return &Store{
		Store:   next,
		client:  client,
		bucket:  bucket,
		logger:  logging.WithComponent("archive"),
		metrics: metrics.DefaultMetrics,
	}
}

// ObjectName is where a call's transcript is archived.
func ObjectName(callID string) string {
	return "transcripts/" + callID + ".json"
}

// Save implements store.Store.
func (s *Store) Save(ctx context.Context, snap models.SessionSnapshot) error {
	if err := s.Store.Save(ctx, snap); err != nil {
		return err
	}
	if snap.State != models.StateCompleted {
		return nil
	}

	snap.PartialSegments = nil
	body, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return &store.PersistenceError{Op: "archive", CallID: snap.CallID, Err: err}
	}

	_, err = s.client.PutObject(ctx, s.bucket, ObjectName(snap.CallID), bytes.NewReader(body), int64(len(body)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	s.metrics.RecordArchive(err)
	if err != nil {
		return &store.PersistenceError{Op: "archive", CallID: snap.CallID, Err: fmt.Errorf("failed to upload transcript: %w", err)}
	}

	s.logger.Info().
		Str("callId", snap.CallID).
		Str("bucket", s.bucket).
		Str("object", ObjectName(snap.CallID)).
		Int("bytes", len(body)).
		Msg("Transcript archived")
	return nil
}
