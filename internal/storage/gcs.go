package storage

import (
	"context"
	"fmt"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/gcsblob" // GCS driver
)

// NewGCSStore opens a GCS bucket using application default credentials.
func NewGCSStore(ctx context.Context, cfg Config) (*BlobStore, error) {
	bucket, err := blob.OpenBucket(ctx, "gs://"+cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("open GCS bucket %s: %w", cfg.Bucket, err)
	}

	if cfg.PublicHost == "" {
		cfg.PublicHost = "storage.googleapis.com/" + cfg.Bucket
	}
	return newBlobStore(bucket, cfg), nil
}
