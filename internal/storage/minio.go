package storage

import (
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioStore talks to MinIO through its native client. Multipart uploads
// are aborted by the client when a part fails.
type MinioStore struct {
	client     *minio.Client
	bucket     string
	publicHost string
	partSize   uint64
}

// NewMinioStore connects to cfg.Endpoint and creates the bucket if needed.
func NewMinioStore(ctx context.Context, cfg Config) (*MinioStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", cfg.Bucket, err)
		}
	}

	if cfg.PublicHost == "" {
		cfg.PublicHost = cfg.Endpoint + "/" + cfg.Bucket
	}

	return &MinioStore{
		client:     client,
		bucket:     cfg.Bucket,
		publicHost: cfg.PublicHost,
		partSize:   uint64(cfg.partSize()),
	}, nil
}

// Put uploads r in PartSize chunks.
func (s *MinioStore) Put(ctx context.Context, ns Namespace, key string, r io.Reader, size int64, contentType string) (Ref, error) {
	fullKey := ns.Key(key)

	_, err := s.client.PutObject(ctx, s.bucket, fullKey, r, size, minio.PutObjectOptions{
		ContentType: contentType,
		PartSize:    s.partSize,
	})
	if err != nil {
		return Ref{}, fmt.Errorf("put %s: %w", fullKey, err)
	}
	return s.Ref(fullKey), nil
}

// List returns all object keys under ns.
func (s *MinioStore) List(ctx context.Context, ns Namespace) ([]string, error) {
	keys := []string{}

	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    string(ns),
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("list %s: %w", ns, obj.Err)
		}
		if !keepKey(ns, obj.Key, false) {
			continue
		}
		keys = append(keys, obj.Key)
	}

	sort.Strings(keys)
	return keys, nil
}

// Get reads the object at fullKey.
func (s *MinioStore) Get(ctx context.Context, fullKey string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, fullKey, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", fullKey, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, fmt.Errorf("get %s: %w", fullKey, ErrNotFound)
		}
		return nil, fmt.Errorf("read %s: %w", fullKey, err)
	}
	return data, nil
}

// Ref returns the reference for fullKey.
func (s *MinioStore) Ref(fullKey string) Ref {
	return Ref{
		Bucket: s.bucket,
		Key:    fullKey,
		URL:    publicURL(s.publicHost, fullKey),
	}
}

// Close is a no-op for the minio client.
func (s *MinioStore) Close() error {
	return nil
}

var _ ObjectStore = (*MinioStore)(nil)
