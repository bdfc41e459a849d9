package storage

import (
	"fmt"
	"os"

	"gocloud.dev/blob/fileblob"
	"gocloud.dev/blob/memblob"
)

// NewFileStore keeps objects under a local directory for development.
// fileblob writes to a temp file and renames on Close, so partial
// uploads never become visible.
func NewFileStore(cfg Config) (*BlobStore, error) {
	if err := os.MkdirAll(cfg.LocalDir, 0755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}

	bucket, err := fileblob.OpenBucket(cfg.LocalDir, nil)
	if err != nil {
		return nil, fmt.Errorf("open local bucket %s: %w", cfg.LocalDir, err)
	}

	return newBlobStore(bucket, cfg), nil
}

// NewMemStore returns an in-memory store, mainly for tests.
func NewMemStore(cfg Config) *BlobStore {
	if cfg.Bucket == "" {
		cfg.Bucket = "mem"
	}
	return newBlobStore(memblob.OpenBucket(nil), cfg)
}
