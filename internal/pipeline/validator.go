package pipeline

import (
	"fmt"
	"io"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// Limits is the ceiling applied to one upload path.
type Limits struct {
	MaxBytes     int64
	AllowedTypes []string
}

// Validator holds the two ceilings: one for corpus photos, one for selfies.
type Validator struct {
	Corpus Limits
	Selfie Limits
}

// DefaultAllowedTypes are the only image types the comparator accepts.
var DefaultAllowedTypes = []string{"image/jpeg", "image/png"}

// NewValidator builds a validator with the given ceilings.
func NewValidator(maxBulk, maxSelfie int64, allowed []string) *Validator {
	if len(allowed) == 0 {
		allowed = DefaultAllowedTypes
	}
	return &Validator{
		Corpus: Limits{MaxBytes: maxBulk, AllowedTypes: allowed},
		Selfie: Limits{MaxBytes: maxSelfie, AllowedTypes: allowed},
	}
}

// Validate checks one file against limits. It has no side effects.
// Media type parameters are ignored; the type itself must match exactly.
func Validate(file FileInfo, limits Limits) error {
	ct := mediaType(file.ContentType)

	allowed := false
	for _, t := range limits.AllowedTypes {
		if ct == t {
			allowed = true
			break
		}
	}
	if !allowed {
		return &ValidationError{
			Name:   file.Name,
			Reason: fmt.Sprintf("content type %q not allowed", file.ContentType),
			Err:    ErrUnsupportedType,
		}
	}

	if file.Size <= 0 {
		return &ValidationError{Name: file.Name, Reason: "file is empty", Err: ErrEmptyFile}
	}
	if file.Size > limits.MaxBytes {
		return &ValidationError{
			Name:   file.Name,
			Reason: fmt.Sprintf("size %d exceeds limit %d", file.Size, limits.MaxBytes),
			Err:    ErrTooLarge,
		}
	}
	return nil
}

// DetectContentType sniffs the media type from the head of r.
func DetectContentType(r io.Reader) (string, error) {
	mt, err := mimetype.DetectReader(r)
	if err != nil {
		return "", fmt.Errorf("detect content type: %w", err)
	}
	return normalizeType(mt.String()), nil
}

// ResolveContentType trusts a declared image type and sniffs otherwise.
func ResolveContentType(declared string, head []byte) string {
	ct := normalizeType(declared)
	if strings.HasPrefix(ct, "image/") {
		return ct
	}
	return normalizeType(mimetype.Detect(head).String())
}

func mediaType(ct string) string {
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	return strings.TrimSpace(ct)
}

func normalizeType(ct string) string {
	return strings.ToLower(mediaType(ct))
}
