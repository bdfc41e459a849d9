package storage

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"
	"gocloud.dev/gcerrors"

	"github.com/withObsrvr/photo-matcher/internal/metrics"
)

// RetryingStore retries transient storage failures with exponential
// backoff. Put is only retried when the body can be rewound.
type RetryingStore struct {
	ObjectStore
	backend  string
	attempts uint64
	base     time.Duration
	log      *slog.Logger
}

// WithRetry wraps store. attempts is the number of retries after the
// first try; zero disables retrying.
func WithRetry(store ObjectStore, backend string, attempts uint64, base time.Duration) *RetryingStore {
	if base <= 0 {
		base = 200 * time.Millisecond
	}
	return &RetryingStore{
		ObjectStore: store,
		backend:     backend,
		attempts:    attempts,
		base:        base,
		log:         slog.With("component", "storage", "backend", backend),
	}
}

func (s *RetryingStore) backoff() retry.Backoff {
	return retry.WithMaxRetries(s.attempts, retry.NewExponential(s.base))
}

// Put uploads with retry when r implements io.Seeker.
func (s *RetryingStore) Put(ctx context.Context, ns Namespace, key string, r io.Reader, size int64, contentType string) (Ref, error) {
	seeker, rewindable := r.(io.Seeker)
	if !rewindable || s.attempts == 0 {
		ref, err := s.ObjectStore.Put(ctx, ns, key, r, size, contentType)
		if err != nil {
			s.recordError("put")
		}
		return ref, err
	}

	attempt := 0
	return retry.DoValue(ctx, s.backoff(), func(ctx context.Context) (Ref, error) {
		attempt++
		if attempt > 1 {
			if _, err := seeker.Seek(0, io.SeekStart); err != nil {
				return Ref{}, err
			}
		}
		ref, err := s.ObjectStore.Put(ctx, ns, key, r, size, contentType)
		if err != nil {
			return Ref{}, s.classify("put", attempt, err)
		}
		return ref, nil
	})
}

// List lists with retry.
func (s *RetryingStore) List(ctx context.Context, ns Namespace) ([]string, error) {
	attempt := 0
	return retry.DoValue(ctx, s.backoff(), func(ctx context.Context) ([]string, error) {
		attempt++
		keys, err := s.ObjectStore.List(ctx, ns)
		if err != nil {
			return nil, s.classify("list", attempt, err)
		}
		return keys, nil
	})
}

// Get reads with retry.
func (s *RetryingStore) Get(ctx context.Context, fullKey string) ([]byte, error) {
	attempt := 0
	return retry.DoValue(ctx, s.backoff(), func(ctx context.Context) ([]byte, error) {
		attempt++
		data, err := s.ObjectStore.Get(ctx, fullKey)
		if err != nil {
			return nil, s.classify("get", attempt, err)
		}
		return data, nil
	})
}

// classify records the failure and marks it retryable when it is transient.
func (s *RetryingStore) classify(op string, attempt int, err error) error {
	s.recordError(op)
	if !Transient(err) {
		return err
	}
	if uint64(attempt) <= s.attempts {
		s.log.Warn("storage operation failed, retrying", "operation", op, "attempt", attempt, "error", err)
		if m := metrics.Get(); m != nil {
			m.IncRetryAttempts("storage_" + op)
		}
	}
	return retry.RetryableError(err)
}

func (s *RetryingStore) recordError(op string) {
	if m := metrics.Get(); m != nil {
		m.IncStorageErrors(s.backend, op)
	}
}

// Transient reports whether err is worth retrying.
func Transient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, ErrNotFound) {
		return false
	}
	switch gcerrors.Code(err) {
	case gcerrors.NotFound, gcerrors.InvalidArgument, gcerrors.PermissionDenied,
		gcerrors.AlreadyExists, gcerrors.FailedPrecondition, gcerrors.Unimplemented:
		return false
	}
	return true
}
