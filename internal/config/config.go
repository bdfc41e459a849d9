package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// FileEnv names the environment variable pointing at an optional YAML overlay.
const FileEnv = "PHOTO_MATCHER_CONFIG"

type Config struct {
	Storage StorageConfig `yaml:"storage"`
	Faces   FacesConfig   `yaml:"faces"`
	Limits  LimitsConfig  `yaml:"limits"`
	Perf    PerfConfig    `yaml:"perf"`
	Retry   RetryConfig   `yaml:"retry"`
	Audit   AuditConfig   `yaml:"audit"`
	Metrics MetricsConfig `yaml:"metrics"`
	Log     LogConfig     `yaml:"log"`
	HTTP    HTTPConfig    `yaml:"http"`
}

type StorageConfig struct {
	Backend    string `yaml:"backend" envconfig:"STORAGE_BACKEND" validate:"required,oneof=s3 gcs file mem minio"`
	Bucket     string `yaml:"bucket" envconfig:"STORAGE_BUCKET" validate:"required"`
	Region     string `yaml:"region" envconfig:"STORAGE_REGION"`
	Endpoint   string `yaml:"endpoint" envconfig:"STORAGE_ENDPOINT"`
	AccessKey  string `yaml:"access_key" envconfig:"STORAGE_ACCESS_KEY"`
	SecretKey  string `yaml:"secret_key" envconfig:"STORAGE_SECRET_KEY"`
	UseSSL     bool   `yaml:"use_ssl" envconfig:"STORAGE_USE_SSL"`
	PublicHost string `yaml:"public_host" envconfig:"STORAGE_PUBLIC_HOST"`
	LocalDir   string `yaml:"local_dir" envconfig:"STORAGE_LOCAL_DIR"`
	PartSize   int64  `yaml:"part_size" envconfig:"STORAGE_PART_SIZE" validate:"gte=5242880"`
}

type FacesConfig struct {
	Region    string        `yaml:"region" envconfig:"FACES_REGION"`
	Endpoint  string        `yaml:"endpoint" envconfig:"FACES_ENDPOINT"`
	AccessKey string        `yaml:"access_key" envconfig:"FACES_ACCESS_KEY"`
	SecretKey string        `yaml:"secret_key" envconfig:"FACES_SECRET_KEY"`
	Threshold int           `yaml:"threshold" envconfig:"FACES_THRESHOLD" validate:"gte=0,lte=100"`
	Timeout   time.Duration `yaml:"timeout" envconfig:"FACES_TIMEOUT" validate:"gt=0"`
}

type LimitsConfig struct {
	MaxBulkBytes   int64    `yaml:"max_bulk_bytes" envconfig:"LIMITS_MAX_BULK_BYTES" validate:"gt=0"`
	MaxSelfieBytes int64    `yaml:"max_selfie_bytes" envconfig:"LIMITS_MAX_SELFIE_BYTES" validate:"gt=0"`
	AllowedTypes   []string `yaml:"allowed_types" envconfig:"LIMITS_ALLOWED_TYPES" validate:"min=1,dive,required"`
}

type PerfConfig struct {
	UploadWorkers  int `yaml:"upload_workers" envconfig:"PERF_UPLOAD_WORKERS" validate:"gte=1"`
	CompareWorkers int `yaml:"compare_workers" envconfig:"PERF_COMPARE_WORKERS" validate:"gte=1"`
}

type RetryConfig struct {
	Attempts  uint64        `yaml:"attempts" envconfig:"RETRY_ATTEMPTS"`
	BaseDelay time.Duration `yaml:"base_delay" envconfig:"RETRY_BASE_DELAY" validate:"gt=0"`
}

type AuditConfig struct {
	Enabled     bool   `yaml:"enabled" envconfig:"AUDIT_ENABLED"`
	Dir         string `yaml:"dir" envconfig:"AUDIT_DIR"`
	Endpoint    string `yaml:"endpoint" envconfig:"AUDIT_ENDPOINT"`
	NATSURL     string `yaml:"nats_url" envconfig:"AUDIT_NATS_URL"`
	NATSSubject string `yaml:"nats_subject" envconfig:"AUDIT_NATS_SUBJECT"`
	PostgresDSN string `yaml:"postgres_dsn" envconfig:"AUDIT_POSTGRES_DSN"`
}

type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled" envconfig:"METRICS_ENABLED"`
	Namespace string `yaml:"namespace" envconfig:"METRICS_NAMESPACE"`
}

type LogConfig struct {
	Format string `yaml:"format" envconfig:"LOG_FORMAT" validate:"oneof=json text"`
	Level  string `yaml:"level" envconfig:"LOG_LEVEL" validate:"oneof=debug info warn warning error"`
}

type HTTPConfig struct {
	Address         string        `yaml:"address" envconfig:"HTTP_ADDRESS" validate:"required"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"HTTP_SHUTDOWN_TIMEOUT"`
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	return Config{
		Storage: StorageConfig{
			Backend:  "file",
			Bucket:   "event-photos",
			Region:   "us-east-1",
			LocalDir: "./data",
			PartSize: 5 << 20,
		},
		Faces: FacesConfig{
			Region:    "us-east-1",
			Threshold: 99,
			Timeout:   30 * time.Second,
		},
		Limits: LimitsConfig{
			MaxBulkBytes:   10 << 20,
			MaxSelfieBytes: 5 << 20,
			AllowedTypes:   []string{"image/jpeg", "image/png"},
		},
		Perf: PerfConfig{
			UploadWorkers:  4,
			CompareWorkers: 8,
		},
		Retry: RetryConfig{
			Attempts:  3,
			BaseDelay: 200 * time.Millisecond,
		},
		Audit: AuditConfig{
			Dir:         "./audit",
			NATSSubject: "photo-matcher.audit",
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: "photo_matcher",
		},
		Log: LogConfig{
			Format: "text",
			Level:  "info",
		},
		HTTP: HTTPConfig{
			Address:         ":8080",
			ShutdownTimeout: 10 * time.Second,
		},
	}
}

// Load builds a Config from defaults, an optional YAML file and the
// environment, in that order. A .env file in the working directory is
// read first when present.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	cfg := Default()

	if path == "" {
		path = os.Getenv(FileEnv)
	}
	if path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}

	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("process env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// MustLoad is Load that exits the process on error.
func MustLoad(path string) Config {
	log.Println("[config] loading")

	cfg, err := Load(path)
	if err != nil {
		log.Fatalf("[config] %v", err)
	}
	return cfg
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

var validate = validator.New()

// Validate checks field constraints and the cross-field rules validator
// tags cannot express.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Limits.MaxSelfieBytes > c.Limits.MaxBulkBytes {
		return fmt.Errorf("invalid config: max selfie bytes %d exceeds max bulk bytes %d",
			c.Limits.MaxSelfieBytes, c.Limits.MaxBulkBytes)
	}
	if c.Storage.Backend == "minio" && c.Storage.Endpoint == "" {
		return fmt.Errorf("invalid config: minio backend requires STORAGE_ENDPOINT")
	}
	return nil
}
