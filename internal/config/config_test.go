package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv(FileEnv, "")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "file", cfg.Storage.Backend)
	assert.Equal(t, 99, cfg.Faces.Threshold)
	assert.Equal(t, int64(10<<20), cfg.Limits.MaxBulkBytes)
	assert.Equal(t, int64(5<<20), cfg.Limits.MaxSelfieBytes)
	assert.Equal(t, []string{"image/jpeg", "image/png"}, cfg.Limits.AllowedTypes)
	assert.Equal(t, int64(5<<20), cfg.Storage.PartSize)
}

func TestLoadFileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "photo-matcher.yaml")
	data := []byte(`
storage:
  backend: s3
  bucket: from-file
faces:
  threshold: 90
perf:
  compare_workers: 2
retry:
  base_delay: 50ms
`)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	t.Setenv("STORAGE_BUCKET", "from-env")
	t.Setenv("PERF_UPLOAD_WORKERS", "7")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "s3", cfg.Storage.Backend)
	assert.Equal(t, "from-env", cfg.Storage.Bucket)
	assert.Equal(t, 90, cfg.Faces.Threshold)
	assert.Equal(t, 2, cfg.Perf.CompareWorkers)
	assert.Equal(t, 7, cfg.Perf.UploadWorkers)
	assert.Equal(t, 50*time.Millisecond, cfg.Retry.BaseDelay)
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown backend", func(c *Config) { c.Storage.Backend = "ftp" }},
		{"threshold above 100", func(c *Config) { c.Faces.Threshold = 101 }},
		{"no compare workers", func(c *Config) { c.Perf.CompareWorkers = 0 }},
		{"empty bucket", func(c *Config) { c.Storage.Bucket = "" }},
		{"part size below 5 MiB", func(c *Config) { c.Storage.PartSize = 1 << 20 }},
		{"selfie limit above bulk", func(c *Config) { c.Limits.MaxSelfieBytes = 20 << 20 }},
		{"minio without endpoint", func(c *Config) { c.Storage.Backend = "minio" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
