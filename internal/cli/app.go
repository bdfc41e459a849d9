package cli

import (
	"context"
	"fmt"
	"log"

	"github.com/withObsrvr/photo-matcher/internal/audit"
	"github.com/withObsrvr/photo-matcher/internal/config"
	"github.com/withObsrvr/photo-matcher/internal/faces"
	"github.com/withObsrvr/photo-matcher/internal/logging"
	"github.com/withObsrvr/photo-matcher/internal/metrics"
	"github.com/withObsrvr/photo-matcher/internal/pipeline"
	"github.com/withObsrvr/photo-matcher/internal/storage"
)

// app holds the long-lived clients shared by every command. They are
// created once and closed on exit.
type app struct {
	cfg     config.Config
	store   storage.ObjectStore
	emitter audit.Emitter
	svc     *pipeline.Service
}

func newApp(ctx context.Context, progress func(pipeline.ItemResult)) (*app, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}

	logging.Setup(logging.Config{Format: cfg.Log.Format, Level: cfg.Log.Level})
	if cfg.Metrics.Enabled {
		metrics.Init(cfg.Metrics.Namespace)
	}
	log.Printf("[main] photo-matcher %s (%s)", Version, GitSHA)

	raw, err := storage.NewObjectStore(ctx, storage.Config{
		Backend:    cfg.Storage.Backend,
		Bucket:     cfg.Storage.Bucket,
		Region:     cfg.Storage.Region,
		Endpoint:   cfg.Storage.Endpoint,
		AccessKey:  cfg.Storage.AccessKey,
		SecretKey:  cfg.Storage.SecretKey,
		UseSSL:     cfg.Storage.UseSSL,
		LocalDir:   cfg.Storage.LocalDir,
		PublicHost: cfg.Storage.PublicHost,
		PartSize:   cfg.Storage.PartSize,
	})
	if err != nil {
		return nil, fmt.Errorf("create storage: %w", err)
	}
	store := storage.WithRetry(raw, cfg.Storage.Backend, cfg.Retry.Attempts, cfg.Retry.BaseDelay)

	comparator, err := newComparator(ctx, cfg, store)
	if err != nil {
		store.Close()
		return nil, err
	}

	emitter := audit.NewEmitter(ctx, audit.Config{
		Enabled:     cfg.Audit.Enabled,
		Dir:         cfg.Audit.Dir,
		Endpoint:    cfg.Audit.Endpoint,
		NATSURL:     cfg.Audit.NATSURL,
		NATSSubject: cfg.Audit.NATSSubject,
		PostgresDSN: cfg.Audit.PostgresDSN,
		Producer: audit.ProducerInfo{
			Name:    "photo-matcher",
			Version: Version,
			GitSHA:  GitSHA,
		},
	})

	validator := pipeline.NewValidator(cfg.Limits.MaxBulkBytes, cfg.Limits.MaxSelfieBytes, cfg.Limits.AllowedTypes)
	svc := pipeline.NewService(store, comparator, validator, pipeline.Options{
		UploadWorkers:  cfg.Perf.UploadWorkers,
		CompareWorkers: cfg.Perf.CompareWorkers,
		Emitter:        emitter,
		Progress:       progress,
	})

	return &app{cfg: cfg, store: store, emitter: emitter, svc: svc}, nil
}

// newComparator builds the Rekognition comparator. Only S3 objects can be
// referenced by Rekognition directly; other backends send image bytes.
func newComparator(ctx context.Context, cfg config.Config, store storage.ObjectStore) (faces.Comparator, error) {
	region := cfg.Faces.Region
	if region == "" {
		region = cfg.Storage.Region
	}
	client, err := faces.NewRekognitionClient(ctx, faces.Config{
		Region:    region,
		Endpoint:  cfg.Faces.Endpoint,
		AccessKey: cfg.Faces.AccessKey,
		SecretKey: cfg.Faces.SecretKey,
		Timeout:   cfg.Faces.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("create face comparator: %w", err)
	}

	var images faces.ImageSource
	if cfg.Storage.Backend != "s3" {
		images = store
	}
	rek := faces.NewRekognitionComparator(client, images, cfg.Faces.Timeout)
	return faces.WithRetry(rek, cfg.Retry.Attempts, cfg.Retry.BaseDelay), nil
}

func (a *app) Close() {
	if err := a.emitter.Close(); err != nil {
		log.Printf("[audit] close: %v", err)
	}
	if err := a.store.Close(); err != nil {
		log.Printf("[storage] close: %v", err)
	}
}
