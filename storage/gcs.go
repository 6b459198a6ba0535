package storage

import (
	"context"
	"fmt"
	"io"

	gcs "cloud.google.com/go/storage"
)

// GCSStore writes objects to Google Cloud Storage.
type GCSStore struct {
	open   func(ctx context.Context, bucket, key, contentType string) io.WriteCloser
	closer io.Closer
}

// NewGCSStore wraps an existing GCS client. The caller keeps ownership of
// client.
func NewGCSStore(client *gcs.Client) *GCSStore {
	return &GCSStore{
		open: func(ctx context.Context, bucket, key, contentType string) io.WriteCloser {
			w := client.Bucket(bucket).Object(key).NewWriter(ctx)
			w.ContentType = contentType
			return w
		},
	}
}

// NewGCSStoreFromEnv builds a client from application default credentials.
// Close releases it.
func NewGCSStoreFromEnv(ctx context.Context) (*GCSStore, error) {
	client, err := gcs.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create gcs client: %w", err)
	}
	store := NewGCSStore(client)
	store.closer = client
	return store, nil
}

func (s *GCSStore) Scheme() string {
	return "gs"
}

// PutObject uploads body in one writer session. The object only becomes
// visible when Close succeeds; a failed write cancels the upload.
func (s *GCSStore) PutObject(ctx context.Context, bucket, key, contentType string, body []byte) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w := s.open(ctx, bucket, key, contentType)
	if _, err := w.Write(body); err != nil {
		cancel()
		_ = w.Close()
		return err
	}
	return w.Close()
}

// Close releases the client created by NewGCSStoreFromEnv.
func (s *GCSStore) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}
