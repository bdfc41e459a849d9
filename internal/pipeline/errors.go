package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/withObsrvr/photo-matcher/internal/faces"
)

// Validation reasons. A *ValidationError wraps exactly one of these.
var (
	ErrUnsupportedType = errors.New("unsupported content type")
	ErrTooLarge        = errors.New("file too large")
	ErrEmptyFile       = errors.New("empty file")
	ErrNoFiles         = errors.New("no files submitted")
)

// ValidationError rejects a file before any network call.
type ValidationError struct {
	Name   string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Name == "" {
		return "validation: " + e.Reason
	}
	return fmt.Sprintf("validation: %s: %s", e.Name, e.Reason)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// UploadError is one item's failed write. Siblings are unaffected.
type UploadError struct {
	Name string
	Key  string
	Err  error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("upload %s (%s): %v", e.Name, e.Key, e.Err)
}

func (e *UploadError) Unwrap() error { return e.Err }

// ComparisonError is one candidate's failed comparison. The candidate is
// skipped and the run continues.
type ComparisonError struct {
	Key string
	Err error
}

func (e *ComparisonError) Error() string {
	return fmt.Sprintf("compare %s: %v", e.Key, e.Err)
}

func (e *ComparisonError) Unwrap() error { return e.Err }

// SubsystemError means the run could not start at all, for example
// because the candidate listing failed.
type SubsystemError struct {
	Op  string
	Err error
}

func (e *SubsystemError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *SubsystemError) Unwrap() error { return e.Err }

// Kind names an error variant.
type Kind int

const (
	KindNone Kind = iota
	KindValidation
	KindUpload
	KindNoFace
	KindComparison
	KindSubsystem
	KindCanceled
	KindUnknown
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindValidation:
		return "validation"
	case KindUpload:
		return "upload"
	case KindNoFace:
		return "no_face"
	case KindComparison:
		return "comparison"
	case KindSubsystem:
		return "subsystem"
	case KindCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Classify maps err to its variant. Typed variants take precedence over
// the causes they wrap.
func Classify(err error) Kind {
	if err == nil {
		return KindNone
	}

	var (
		validation *ValidationError
		upload     *UploadError
		comparison *ComparisonError
		subsystem  *SubsystemError
	)
	switch {
	case errors.As(err, &validation):
		return KindValidation
	case errors.As(err, &subsystem):
		return KindSubsystem
	case errors.As(err, &upload):
		return KindUpload
	case errors.As(err, &comparison):
		return KindComparison
	case errors.Is(err, faces.ErrNoFaceDetected):
		return KindNoFace
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCanceled
	default:
		return KindUnknown
	}
}
