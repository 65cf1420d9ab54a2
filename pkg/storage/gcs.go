package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// GCSStore keeps objects in a Google Cloud Storage bucket.
type GCSStore struct {
	client        *storage.Client
	bucket        string
	uploadTimeout time.Duration
	logger        *zap.Logger
}

var _ BlobStore = (*GCSStore)(nil)

// NewGCSStore creates a client using application default credentials.
func NewGCSStore(ctx context.Context, bucket string, uploadTimeout time.Duration, logger *zap.Logger, opts ...option.ClientOption) (*GCSStore, error) {
	opts = append(opts, option.WithScopes(storage.ScopeReadWrite))
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	if uploadTimeout <= 0 {
		uploadTimeout = 2 * time.Minute
	}
	return &GCSStore{
		client:        client,
		bucket:        bucket,
		uploadTimeout: uploadTimeout,
		logger:        logger.Named("storage.gcs"),
	}, nil
}

// Close releases the underlying client.
func (s *GCSStore) Close() error {
	return s.client.Close()
}

func (s *GCSStore) Put(ctx context.Context, key string, r io.Reader, contentType string) (*ObjectInfo, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, s.uploadTimeout)
	defer cancel()

	w := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
	w.ContentType = contentType

	dr := newDigestReader(r)
	if err := writeObject(w, cancel, dr); err != nil {
		return nil, err
	}

	info := dr.info(key)
	s.logger.Debug("Stored object", zap.String("bucket", s.bucket), zap.String("key", key), zap.Int64("size", info.Size))
	return info, nil
}

func (s *GCSStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	rc, err := s.client.Bucket(s.bucket).Object(key).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("open GCS object %q: %w", key, err)
	}
	return rc, nil
}

func (s *GCSStore) Delete(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	err := s.client.Bucket(s.bucket).Object(key).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("failed to delete GCS object %q in bucket %q: %w", key, s.bucket, err)
	}
	return nil
}

func (s *GCSStore) List(ctx context.Context, prefix string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	it := s.client.Bucket(s.bucket).Objects(ctx, &storage.Query{Prefix: prefix})
	var keys []string
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list GCS objects under %q: %w", prefix, err)
		}
		keys = append(keys, attrs.Name)
	}
	return keys, nil
}

// writeObject copies r into w and commits the object on Close. On a failed
// copy the writer's context is cancelled first, so Close aborts the upload
// instead of committing a partial object.
func writeObject(w io.WriteCloser, abort context.CancelFunc, r io.Reader) error {
	if _, err := io.Copy(w, r); err != nil {
		abort()
		_ = w.Close()
		return fmt.Errorf("failed to write data to GCS: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close GCS writer: %w", err)
	}
	return nil
}
