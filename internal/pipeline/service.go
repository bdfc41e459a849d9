package pipeline

import (
	"context"
	"fmt"

	"github.com/withObsrvr/photo-matcher/internal/audit"
	"github.com/withObsrvr/photo-matcher/internal/faces"
	"github.com/withObsrvr/photo-matcher/internal/logging"
	"github.com/withObsrvr/photo-matcher/internal/storage"
)

// Options tunes a Service.
type Options struct {
	UploadWorkers  int
	CompareWorkers int
	Emitter        audit.Emitter
	// Progress is called once per corpus or selfie item as it becomes
	// terminal, including items rejected by validation.
	Progress func(ItemResult)
}

// Service is the entry point used by the CLI and the HTTP API.
type Service struct {
	store     storage.ObjectStore
	validator *Validator
	uploader  *Uploader
	matcher   *Matcher
	emitter   audit.Emitter
	progress  func(ItemResult)
}

// SelfieResult is the outcome of a selfie submission.
type SelfieResult struct {
	Selfie storage.Ref `json:"selfie"`
	MatchSet
}

// NewService wires the pipeline around store and comparator.
func NewService(store storage.ObjectStore, comparator faces.Comparator, validator *Validator, opts Options) *Service {
	if validator == nil {
		validator = NewValidator(10<<20, 5<<20, nil)
	}
	emitter := opts.Emitter
	if emitter == nil {
		emitter = audit.Noop{}
	}

	var upOpts []UploaderOption
	if opts.Progress != nil {
		upOpts = append(upOpts, WithProgress(opts.Progress))
	}

	return &Service{
		store:     store,
		validator: validator,
		uploader:  NewUploader(store, opts.UploadWorkers, upOpts...),
		matcher:   NewMatcher(store, comparator, opts.CompareWorkers),
		emitter:   emitter,
		progress:  opts.Progress,
	}
}

// SubmitCorpus validates items against the corpus limits and uploads the
// valid ones under uploads/. Rejected items are reported as Failed with a
// *ValidationError and never reach the store. The error is non-nil only
// when nothing was submitted or ctx was cancelled.
func (s *Service) SubmitCorpus(ctx context.Context, items []*UploadItem) (UploadReport, error) {
	if len(items) == 0 {
		return UploadReport{}, &ValidationError{Reason: "no files submitted", Err: ErrNoFiles}
	}

	ctx, batchID := logging.EnsureCorrelationID(ctx)
	log := logging.BatchLogger(batchID, "corpus")

	results := make([]ItemResult, len(items))
	var (
		valid []*UploadItem
		index []int
	)
	for i, item := range items {
		if err := Validate(item.Info(), s.validator.Corpus); err != nil {
			item.Status = Failed
			results[i] = ItemResult{Name: item.Name, Status: Failed, Err: err}
			log.Info("file rejected", "name", item.Name, "error", err)
			if s.progress != nil {
				s.progress(results[i])
			}
			continue
		}
		valid = append(valid, item)
		index = append(index, i)
	}

	if len(valid) > 0 {
		uploaded := s.uploader.Submit(ctx, storage.Uploads, valid)
		for j, res := range uploaded.Results {
			results[index[j]] = res
		}
	}

	report := UploadReport{BatchID: batchID, Namespace: storage.Uploads, Results: results}
	log.Info("corpus batch finished",
		"total", len(results),
		"succeeded", report.Succeeded(),
		"failed", report.Failed(),
	)
	s.emit(ctx, corpusEvent(report))

	if err := ctx.Err(); err != nil {
		return report, fmt.Errorf("corpus batch %s: %w", batchID, err)
	}
	return report, nil
}

// SubmitSelfie validates and stores the selfie under selfies/, then
// matches it against the corpus. A zero threshold means
// faces.DefaultThreshold. Validation runs before any storage call.
func (s *Service) SubmitSelfie(ctx context.Context, item *UploadItem, threshold int) (SelfieResult, error) {
	if item == nil {
		return SelfieResult{}, &ValidationError{Reason: "no selfie submitted", Err: ErrNoFiles}
	}
	if threshold == 0 {
		threshold = faces.DefaultThreshold
	}
	if err := faces.ValidateThreshold(threshold); err != nil {
		return SelfieResult{}, &ValidationError{Name: item.Name, Reason: err.Error()}
	}
	if err := Validate(item.Info(), s.validator.Selfie); err != nil {
		item.Status = Failed
		return SelfieResult{}, err
	}

	ctx, batchID := logging.EnsureCorrelationID(ctx)
	log := logging.BatchLogger(batchID, "selfie")

	up := s.uploader.Submit(ctx, storage.Selfies, []*UploadItem{item})
	res := up.Results[0]
	if res.Status != Done {
		if ctxErr := ctx.Err(); ctxErr != nil {
			log.Warn("selfie upload cancelled", "name", item.Name)
			return SelfieResult{}, fmt.Errorf("selfie %s: %w", batchID, ctxErr)
		}
		log.Error("selfie upload failed", "name", item.Name, "error", res.Err)
		return SelfieResult{}, res.Err
	}

	set, err := s.matcher.Run(ctx, res.Ref, threshold)
	s.emit(ctx, matchEvent(batchID, res.Ref, threshold, set, err))

	return SelfieResult{Selfie: res.Ref, MatchSet: set}, err
}

// List returns references to every stored object under ns.
func (s *Service) List(ctx context.Context, ns storage.Namespace) ([]storage.Ref, error) {
	keys, err := s.store.List(ctx, ns)
	if err != nil {
		return nil, &SubsystemError{Op: "list " + string(ns), Err: err}
	}
	refs := make([]storage.Ref, 0, len(keys))
	for _, k := range keys {
		refs = append(refs, s.store.Ref(k))
	}
	return refs, nil
}

// emit writes evt to the audit trail. Failures are logged only.
func (s *Service) emit(ctx context.Context, evt *audit.Event) {
	if err := s.emitter.Emit(context.WithoutCancel(ctx), evt); err != nil {
		logging.FromContext(ctx).Warn("audit emit failed", "event_type", evt.EventType, "batch_id", evt.Batch.ID, "error", err)
	}
}

func corpusEvent(r UploadReport) *audit.Event {
	objects := make([]audit.ObjectInfo, 0, len(r.Results))
	for _, res := range r.Results {
		obj := audit.ObjectInfo{Name: res.Name, Key: res.Key, Status: res.Status.String()}
		if res.Err != nil {
			obj.Error = res.Err.Error()
		}
		objects = append(objects, obj)
	}
	return &audit.Event{
		EventType: audit.EventCorpusUpload,
		Batch: audit.BatchInfo{
			ID:        r.BatchID,
			Namespace: string(r.Namespace),
			Total:     len(r.Results),
			Succeeded: r.Succeeded(),
			Failed:    r.Failed(),
		},
		Objects: objects,
	}
}

func matchEvent(batchID string, selfie storage.Ref, threshold int, set MatchSet, runErr error) *audit.Event {
	info := &audit.MatchInfo{
		ReferenceKey: selfie.Key,
		Threshold:    threshold,
		Candidates:   set.Candidates,
		Matched:      make([]string, 0, len(set.Matches)),
		NoFace:       set.NoFace,
		State:        set.State.String(),
	}
	for _, m := range set.Matches {
		info.Matched = append(info.Matched, m.Ref.Key)
	}
	for _, sk := range set.Skipped {
		info.Skipped = append(info.Skipped, audit.SkippedInfo{Key: sk.Key, Error: sk.Err.Error()})
	}
	if runErr != nil {
		info.Error = runErr.Error()
		if Classify(runErr) == KindSubsystem {
			info.State = "failed"
		}
	}

	return &audit.Event{
		EventType: audit.EventSelfieMatch,
		Batch: audit.BatchInfo{
			ID:        batchID,
			Namespace: string(storage.Selfies),
			Total:     set.Candidates,
			Succeeded: len(set.Matches),
			Failed:    len(set.Skipped),
		},
		Match: info,
	}
}
