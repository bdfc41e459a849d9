package faces

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/aws/smithy-go"
	"github.com/sethvargo/go-retry"

	"github.com/withObsrvr/photo-matcher/internal/metrics"
	"github.com/withObsrvr/photo-matcher/internal/storage"
)

// RetryingComparator retries transient comparator failures with
// exponential backoff.
type RetryingComparator struct {
	next     Comparator
	attempts uint64
	base     time.Duration
	log      *slog.Logger
}

// WithRetry wraps next. attempts counts retries after the first call.
func WithRetry(next Comparator, attempts uint64, base time.Duration) *RetryingComparator {
	if base <= 0 {
		base = 200 * time.Millisecond
	}
	return &RetryingComparator{
		next:     next,
		attempts: attempts,
		base:     base,
		log:      slog.With("component", "faces"),
	}
}

func (r *RetryingComparator) Compare(ctx context.Context, source, target storage.Ref, threshold int) (Comparison, error) {
	b := retry.WithMaxRetries(r.attempts, retry.NewExponential(r.base))

	attempt := 0
	return retry.DoValue(ctx, b, func(ctx context.Context) (Comparison, error) {
		attempt++
		res, err := r.next.Compare(ctx, source, target, threshold)
		if err == nil {
			return res, nil
		}
		if !Transient(err) {
			return Comparison{}, err
		}
		if uint64(attempt) <= r.attempts {
			r.log.Debug("comparison failed, retrying", "target", target.Key, "attempt", attempt, "error", err)
			if m := metrics.Get(); m != nil {
				m.IncRetryAttempts("compare")
			}
		}
		return Comparison{}, retry.RetryableError(err)
	})
}

// throttling codes are client faults that still succeed on retry.
var throttling = map[string]bool{
	"ThrottlingException":                    true,
	"ProvisionedThroughputExceededException": true,
	"LimitExceededException":                 true,
	"TooManyRequestsException":               true,
	"RequestTimeout":                         true,
}

// Transient reports whether a comparator error is worth retrying.
func Transient(err error) bool {
	if err == nil || errors.Is(err, ErrNoFaceDetected) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		if throttling[apiErr.ErrorCode()] {
			return true
		}
		return apiErr.ErrorFault() != smithy.FaultClient
	}
	return true
}
