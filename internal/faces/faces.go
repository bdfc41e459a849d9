// Package faces compares a selfie against corpus photos.
package faces

import (
	"context"
	"errors"
	"fmt"

	"github.com/withObsrvr/photo-matcher/internal/storage"
)

// DefaultThreshold favours precision: only near-certain matches count.
const DefaultThreshold = 99

// ErrNoFaceDetected means one of the two images contains no detectable
// face. Callers treat it as a skip, not a failure.
var ErrNoFaceDetected = errors.New("no face detected")

// Comparison is the result of a successful comparison.
type Comparison struct {
	Matched bool
	Score   float64 // best similarity, 0..100
}

// Comparator scores how similar the face in source is to any face in target.
type Comparator interface {
	Compare(ctx context.Context, source, target storage.Ref, threshold int) (Comparison, error)
}

// ComparatorFunc adapts a function to Comparator.
type ComparatorFunc func(ctx context.Context, source, target storage.Ref, threshold int) (Comparison, error)

func (f ComparatorFunc) Compare(ctx context.Context, source, target storage.Ref, threshold int) (Comparison, error) {
	return f(ctx, source, target, threshold)
}

// Classify reports whether score clears threshold. The boundary is inclusive.
func Classify(score float64, threshold int) bool {
	return score >= float64(threshold)
}

// ValidateThreshold checks that threshold is a percentage.
func ValidateThreshold(threshold int) error {
	if threshold < 0 || threshold > 100 {
		return fmt.Errorf("threshold %d out of range 0..100", threshold)
	}
	return nil
}
