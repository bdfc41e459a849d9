package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/withObsrvr/photo-matcher/internal/logging"
	"github.com/withObsrvr/photo-matcher/internal/metrics"
	"github.com/withObsrvr/photo-matcher/internal/storage"
)

// Uploader writes items to the object store on a bounded worker pool.
// One item's failure never cancels its siblings.
type Uploader struct {
	store    storage.ObjectStore
	keys     *KeyGenerator
	workers  int
	log      *slog.Logger
	mu       sync.Mutex
	progress func(ItemResult)
}

// UploaderOption customizes an Uploader.
type UploaderOption func(*Uploader)

// WithProgress calls fn once per item as it reaches a terminal state.
// Calls are serialized.
func WithProgress(fn func(ItemResult)) UploaderOption {
	return func(u *Uploader) { u.progress = fn }
}

// WithKeyGenerator shares a key generator between uploaders.
func WithKeyGenerator(g *KeyGenerator) UploaderOption {
	return func(u *Uploader) { u.keys = g }
}

// NewUploader creates an uploader with at most workers concurrent puts.
func NewUploader(store storage.ObjectStore, workers int, opts ...UploaderOption) *Uploader {
	if workers < 1 {
		workers = 1
	}
	u := &Uploader{
		store:   store,
		keys:    NewKeyGenerator(),
		workers: workers,
		log:     logging.Component("uploader"),
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// Submit uploads items under ns and returns once every item is terminal.
// Keys are assigned up front, in submission order. Items not yet started
// when ctx is cancelled are reported as failed with the context error.
func (u *Uploader) Submit(ctx context.Context, ns storage.Namespace, items []*UploadItem) UploadReport {
	ctx, batchID := logging.EnsureCorrelationID(ctx)
	report := UploadReport{
		BatchID:   batchID,
		Namespace: ns,
		Results:   make([]ItemResult, len(items)),
	}

	for _, item := range items {
		if item.Key == "" {
			item.Key = u.keys.Next(item.Name)
		}
	}

	var g errgroup.Group
	g.SetLimit(u.workers)

	for i, item := range items {
		if err := ctx.Err(); err != nil {
			report.Results[i] = u.fail(item, err)
			continue
		}
		g.Go(func() error {
			workerLog := u.log.With("correlation_id", report.BatchID, "key", item.Key)
			report.Results[i] = u.upload(ctx, workerLog, ns, item)
			return nil
		})
	}
	g.Wait()

	return report
}

func (u *Uploader) upload(ctx context.Context, log *slog.Logger, ns storage.Namespace, item *UploadItem) ItemResult {
	if err := ctx.Err(); err != nil {
		return u.fail(item, err)
	}

	item.Status = Uploading
	m := metrics.Get()
	if m != nil {
		m.InFlightUploads.Inc()
		defer m.InFlightUploads.Dec()
	}

	start := time.Now()
	ref, err := u.put(ctx, ns, item)
	if err != nil {
		log.Warn("upload failed", "name", item.Name, "error", err)
		if m != nil {
			m.IncUploads(string(ns), Failed.String())
		}
		return u.fail(item, err)
	}

	if m != nil {
		m.IncUploads(string(ns), Done.String())
		m.ObserveUpload(string(ns), float64(item.Size), time.Since(start).Seconds())
	}
	log.Debug("upload complete", "bytes", item.Size, "duration", time.Since(start))

	item.Status = Done
	res := ItemResult{Name: item.Name, Key: item.Key, Status: Done, Ref: ref}
	u.notify(res)
	return res
}

func (u *Uploader) put(ctx context.Context, ns storage.Namespace, item *UploadItem) (storage.Ref, error) {
	if item.Source == nil {
		return storage.Ref{}, fmt.Errorf("no source for %s", item.Name)
	}
	rc, err := item.Source.Open()
	if err != nil {
		return storage.Ref{}, fmt.Errorf("open %s: %w", item.Name, err)
	}
	defer rc.Close()

	return u.store.Put(ctx, ns, item.Key, rc, item.Size, item.ContentType)
}

func (u *Uploader) fail(item *UploadItem, err error) ItemResult {
	item.Status = Failed
	res := ItemResult{
		Name:   item.Name,
		Key:    item.Key,
		Status: Failed,
		Err:    &UploadError{Name: item.Name, Key: item.Key, Err: err},
	}
	u.notify(res)
	return res
}

func (u *Uploader) notify(res ItemResult) {
	if u.progress == nil {
		return
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	u.progress(res)
}
