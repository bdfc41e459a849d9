package storage

import (
	"context"
	"fmt"
	"io"
	"sort"

	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"
)

// BlobStore stores photos in any gocloud.dev bucket.
type BlobStore struct {
	bucket     *blob.Bucket
	name       string
	publicHost string
	partSize   int64
}

func newBlobStore(bucket *blob.Bucket, cfg Config) *BlobStore {
	return &BlobStore{
		bucket:     bucket,
		name:       cfg.Bucket,
		publicHost: cfg.publicHost(),
		partSize:   cfg.partSize(),
	}
}

// Put streams r to the bucket. The writer context is cancelled before
// Close on any failure, which makes the driver discard the upload.
func (s *BlobStore) Put(ctx context.Context, ns Namespace, key string, r io.Reader, size int64, contentType string) (Ref, error) {
	fullKey := ns.Key(key)

	wctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w, err := s.bucket.NewWriter(wctx, fullKey, &blob.WriterOptions{
		ContentType: contentType,
		BufferSize:  int(s.partSize),
	})
	if err != nil {
		return Ref{}, fmt.Errorf("create writer for %s: %w", fullKey, err)
	}

	n, err := io.Copy(w, r)
	if err == nil && size >= 0 && n != size {
		err = fmt.Errorf("short write: %d of %d bytes", n, size)
	}
	if err != nil {
		cancel()
		w.Close()
		return Ref{}, fmt.Errorf("write %s: %w", fullKey, err)
	}

	if err := w.Close(); err != nil {
		return Ref{}, fmt.Errorf("close writer for %s: %w", fullKey, err)
	}

	return s.Ref(fullKey), nil
}

// List returns all object keys under ns.
func (s *BlobStore) List(ctx context.Context, ns Namespace) ([]string, error) {
	keys := []string{}

	iter := s.bucket.List(&blob.ListOptions{
		Prefix: string(ns),
	})

	for {
		obj, err := iter.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", ns, err)
		}
		if !keepKey(ns, obj.Key, obj.IsDir) {
			continue
		}
		keys = append(keys, obj.Key)
	}

	sort.Strings(keys)
	return keys, nil
}

// Get reads the object at fullKey.
func (s *BlobStore) Get(ctx context.Context, fullKey string) ([]byte, error) {
	data, err := s.bucket.ReadAll(ctx, fullKey)
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, fmt.Errorf("get %s: %w", fullKey, ErrNotFound)
		}
		return nil, fmt.Errorf("get %s: %w", fullKey, err)
	}
	return data, nil
}

// Ref returns the reference for fullKey.
func (s *BlobStore) Ref(fullKey string) Ref {
	return Ref{
		Bucket: s.name,
		Key:    fullKey,
		URL:    publicURL(s.publicHost, fullKey),
	}
}

// Close releases the bucket connection.
func (s *BlobStore) Close() error {
	if s.bucket != nil {
		return s.bucket.Close()
	}
	return nil
}

var _ ObjectStore = (*BlobStore)(nil)
