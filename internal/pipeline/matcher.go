package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/withObsrvr/photo-matcher/internal/faces"
	"github.com/withObsrvr/photo-matcher/internal/logging"
	"github.com/withObsrvr/photo-matcher/internal/metrics"
	"github.com/withObsrvr/photo-matcher/internal/storage"
)

// Matcher compares one reference image against every photo in the corpus.
type Matcher struct {
	store      storage.ObjectStore
	comparator faces.Comparator
	workers    int
	log        *slog.Logger
}

// NewMatcher creates a matcher that runs up to workers comparisons at once.
func NewMatcher(store storage.ObjectStore, comparator faces.Comparator, workers int) *Matcher {
	if workers < 1 {
		workers = 1
	}
	return &Matcher{
		store:      store,
		comparator: comparator,
		workers:    workers,
		log:        logging.Component("matcher"),
	}
}

type outcomeKind int

const (
	notRun outcomeKind = iota
	matched
	noMatch
	noFace
	failed
)

type outcome struct {
	kind  outcomeKind
	score float64
	err   error
}

// Run lists the corpus and compares selfie against each candidate.
//
// A listing failure returns *SubsystemError and no MatchSet. Per-candidate
// failures are recorded in MatchSet.Skipped and never stop the run. On
// cancellation no new comparisons start, and the matches found so far are
// returned with Partial set alongside the context error.
func (m *Matcher) Run(ctx context.Context, selfie storage.Ref, threshold int) (MatchSet, error) {
	if err := faces.ValidateThreshold(threshold); err != nil {
		return MatchSet{}, &ValidationError{Reason: err.Error()}
	}

	ctx, batchID := logging.EnsureCorrelationID(ctx)
	log := logging.BatchLogger(batchID, "match").With("reference", selfie.Key)

	batch := &ComparisonBatch{
		ID:           batchID,
		ReferenceKey: selfie.Key,
		Threshold:    threshold,
		State:        Idle,
	}

	batch.State = Running
	keys, err := m.store.List(ctx, storage.Uploads)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			batch.State = Cancelled
			m.recordRun("cancelled", 0)
			log.Warn("match run cancelled before listing finished")
			return batch.Result(), fmt.Errorf("match run %s: %w", batchID, ctxErr)
		}
		m.recordRun("subsystem_error", 0)
		log.Error("candidate listing failed", "error", err)
		return MatchSet{}, &SubsystemError{Op: "list candidates", Err: err}
	}
	batch.CandidateKeys = keys
	log.Info("match run started", "candidates", len(keys), "threshold", threshold, "workers", m.workers)

	outcomes := make([]outcome, len(keys))
	var mu sync.Mutex

	var g errgroup.Group
	g.SetLimit(m.workers)

	for i, key := range keys {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			res := m.compare(ctx, log, selfie, m.store.Ref(key), threshold)

			mu.Lock()
			outcomes[i] = res
			mu.Unlock()
			return nil
		})
	}
	g.Wait()

	m.merge(batch, outcomes)

	if ctxErr := ctx.Err(); ctxErr != nil {
		batch.State = Cancelled
		m.recordRun("cancelled", len(batch.Matches))
		log.Warn("match run cancelled", "matches", len(batch.Matches), "not_run", batch.NotRun)
		return batch.Result(), fmt.Errorf("match run %s: %w", batchID, ctxErr)
	}

	batch.State = Completed
	m.recordRun("completed", len(batch.Matches))
	log.Info("match run completed",
		"matches", len(batch.Matches),
		"no_face", batch.NoFace,
		"skipped", len(batch.Skipped),
	)
	return batch.Result(), nil
}

func (m *Matcher) compare(ctx context.Context, log *slog.Logger, selfie, target storage.Ref, threshold int) outcome {
	met := metrics.Get()
	if met != nil {
		met.InFlightComparisons.Inc()
		defer met.InFlightComparisons.Dec()
	}

	start := time.Now()
	res, err := m.comparator.Compare(ctx, selfie, target, threshold)
	if met != nil {
		met.ObserveComparisonDuration(time.Since(start).Seconds())
	}

	var out outcome
	switch {
	case err == nil && res.Matched:
		out = outcome{kind: matched, score: res.Score}
	case err == nil:
		out = outcome{kind: noMatch, score: res.Score}
	case errors.Is(err, faces.ErrNoFaceDetected):
		log.Debug("no face detected", "candidate", target.Key)
		out = outcome{kind: noFace}
	case ctx.Err() != nil && errors.Is(err, ctx.Err()):
		return outcome{kind: notRun}
	default:
		log.Warn("comparison failed, skipping candidate", "candidate", target.Key, "error", err)
		out = outcome{kind: failed, err: err}
	}

	if met != nil {
		met.IncComparisons(out.kind.label())
	}
	return out
}

// merge folds outcomes into batch in candidate discovery order.
func (m *Matcher) merge(batch *ComparisonBatch, outcomes []outcome) {
	for i, out := range outcomes {
		key := batch.CandidateKeys[i]
		switch out.kind {
		case matched:
			batch.Matches = append(batch.Matches, Match{Ref: m.store.Ref(key), Score: out.score})
		case noFace:
			batch.NoFace++
		case failed:
			batch.Skipped = append(batch.Skipped, &ComparisonError{Key: key, Err: out.err})
		case notRun:
			batch.NotRun++
		}
	}
}

func (m *Matcher) recordRun(result string, matches int) {
	if met := metrics.Get(); met != nil {
		met.IncMatchRuns(result)
		if result == "completed" {
			met.ObserveMatchesFound(float64(matches))
		}
	}
}

func (k outcomeKind) label() string {
	switch k {
	case matched:
		return "match"
	case noMatch:
		return "no_match"
	case noFace:
		return "no_face"
	case failed:
		return "error"
	default:
		return "not_run"
	}
}
