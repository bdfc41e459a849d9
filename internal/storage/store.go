package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
)

// PartSize is the fixed part size for multipart transfers.
const PartSize = 5 << 20

// Namespace is a key prefix inside the single photo bucket.
type Namespace string

const (
	Uploads Namespace = "uploads/"
	Selfies Namespace = "selfies/"
)

// Key joins the namespace and an object name into a full key.
func (n Namespace) Key(name string) string {
	return string(n) + name
}

// Valid reports whether n is one of the known namespaces.
func (n Namespace) Valid() bool {
	return n == Uploads || n == Selfies
}

// ParseNamespace accepts "uploads", "uploads/", "selfies" or "selfies/".
func ParseNamespace(s string) (Namespace, error) {
	ns := Namespace(strings.TrimSuffix(s, "/") + "/")
	if !ns.Valid() {
		return "", fmt.Errorf("unknown namespace %q", s)
	}
	return ns, nil
}

// Ref points at a stored object and carries its public URL.
type Ref struct {
	Bucket string `json:"bucket"`
	Key    string `json:"key"`
	URL    string `json:"url"`
}

// ErrNotFound is returned by Get when the key does not exist.
var ErrNotFound = errors.New("object not found")

// ObjectStore is the bucket used for photos and selfies.
type ObjectStore interface {
	// Put stores r under ns+key. A failed or cancelled transfer leaves
	// no object behind.
	Put(ctx context.Context, ns Namespace, key string, r io.Reader, size int64, contentType string) (Ref, error)

	// List returns full keys under ns in ascending order. The namespace
	// marker object and directory placeholders are excluded.
	List(ctx context.Context, ns Namespace) ([]string, error)

	// Get reads the whole object at fullKey.
	Get(ctx context.Context, fullKey string) ([]byte, error)

	// Ref derives the reference for fullKey without a network call.
	Ref(fullKey string) Ref

	// Close releases any resources.
	Close() error
}

// Config configures the storage backend.
type Config struct {
	Backend string // "s3" | "gcs" | "file" | "mem" | "minio"
	Bucket  string

	// S3 and MinIO
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool

	// file
	LocalDir string

	PublicHost string
	PartSize   int64
}

func (c Config) publicHost() string {
	if c.PublicHost != "" {
		return c.PublicHost
	}
	return c.Bucket + ".s3.amazonaws.com"
}

func (c Config) partSize() int64 {
	if c.PartSize < PartSize {
		return PartSize
	}
	return c.PartSize
}

// NewObjectStore creates a storage backend based on configuration.
func NewObjectStore(ctx context.Context, cfg Config) (ObjectStore, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket required for %s backend", cfg.Backend)
	}

	switch cfg.Backend {
	case "s3":
		return NewS3Store(ctx, cfg)
	case "gcs":
		return NewGCSStore(ctx, cfg)
	case "file":
		if cfg.LocalDir == "" {
			return nil, fmt.Errorf("LocalDir required for file backend")
		}
		return NewFileStore(cfg)
	case "mem":
		return NewMemStore(cfg), nil
	case "minio":
		if cfg.Endpoint == "" {
			return nil, fmt.Errorf("Endpoint required for minio backend")
		}
		return NewMinioStore(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown storage backend: %s", cfg.Backend)
	}
}

// publicURL builds https://{host}/{key}; host may carry a path prefix.
func publicURL(host, fullKey string) string {
	u := url.URL{Path: fullKey}
	return "https://" + strings.TrimSuffix(host, "/") + "/" + u.EscapedPath()
}

// keepKey filters listing entries down to real objects under ns.
func keepKey(ns Namespace, key string, isDir bool) bool {
	if isDir || key == string(ns) || strings.HasSuffix(key, "/") {
		return false
	}
	return strings.HasPrefix(key, string(ns))
}
