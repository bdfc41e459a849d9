package pipeline

import (
	"bytes"
	"io"
	"os"

	"github.com/google/uuid"

	"github.com/withObsrvr/photo-matcher/internal/storage"
)

// Status is the lifecycle of one UploadItem.
type Status int

const (
	Pending Status = iota
	Uploading
	Done
	Failed
)

func (s Status) String() string {
	switch s {
	case Pending:
		return "pending"
	case Uploading:
		return "uploading"
	case Done:
		return "done"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// MarshalText renders the status name in JSON.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Source opens the local bytes of an item. Readers that also implement
// io.Seeker can be retried by the storage layer.
type Source interface {
	Open() (io.ReadCloser, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func() (io.ReadCloser, error)

func (f SourceFunc) Open() (io.ReadCloser, error) { return f() }

// FileSource reads from a path on disk.
func FileSource(path string) Source {
	return SourceFunc(func() (io.ReadCloser, error) {
		return os.Open(path)
	})
}

type nopSeekCloser struct{ *bytes.Reader }

func (nopSeekCloser) Close() error { return nil }

// BytesSource serves an in-memory buffer.
func BytesSource(b []byte) Source {
	return SourceFunc(func() (io.ReadCloser, error) {
		return nopSeekCloser{bytes.NewReader(b)}, nil
	})
}

// FileInfo is what the validator looks at.
type FileInfo struct {
	Name        string
	ContentType string
	Size        int64
}

// UploadItem is one file on its way to the object store. Only the
// Uploader mutates Key and Status once the item is submitted.
type UploadItem struct {
	Name        string
	Key         string
	ContentType string
	Size        int64
	Status      Status
	Source      Source
}

// Info returns the fields the validator checks.
func (it *UploadItem) Info() FileInfo {
	return FileInfo{Name: it.Name, ContentType: it.ContentType, Size: it.Size}
}

// Batch is the working set of items selected for one submission.
type Batch struct {
	ID    string
	Items []*UploadItem
}

// NewBatch returns an empty batch with a fresh ID.
func NewBatch() *Batch {
	return &Batch{ID: uuid.NewString()}
}

// Add appends a pending item.
func (b *Batch) Add(item *UploadItem) {
	item.Status = Pending
	b.Items = append(b.Items, item)
}

// Remove discards the first pending item called name. It reports whether
// an item was removed.
func (b *Batch) Remove(name string) bool {
	for i, it := range b.Items {
		if it.Name == name && it.Status == Pending {
			b.Items = append(b.Items[:i], b.Items[i+1:]...)
			return true
		}
	}
	return false
}

// ItemResult is the terminal outcome of one item.
type ItemResult struct {
	Name   string
	Key    string
	Status Status
	Ref    storage.Ref
	Err    error // *ValidationError or *UploadError when Status is Failed
}

// UploadReport has one result per submitted item, in submission order.
type UploadReport struct {
	BatchID   string
	Namespace storage.Namespace
	Results   []ItemResult
}

// Succeeded counts Done items.
func (r UploadReport) Succeeded() int {
	n := 0
	for _, res := range r.Results {
		if res.Status == Done {
			n++
		}
	}
	return n
}

// Failed counts Failed items.
func (r UploadReport) Failed() int {
	return len(r.Results) - r.Succeeded()
}

// AllDone reports whether every item was stored.
func (r UploadReport) AllDone() bool {
	return len(r.Results) > 0 && r.Failed() == 0
}

// Refs returns the references of stored items in submission order.
func (r UploadReport) Refs() []storage.Ref {
	var refs []storage.Ref
	for _, res := range r.Results {
		if res.Status == Done {
			refs = append(refs, res.Ref)
		}
	}
	return refs
}

// RunState is the lifecycle of a ComparisonBatch.
type RunState int

const (
	Idle RunState = iota
	Running
	Completed
	Cancelled
)

func (s RunState) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Completed:
		return "completed"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// MarshalText renders the state name in JSON.
func (s RunState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Match is one candidate that cleared the threshold.
type Match struct {
	Ref   storage.Ref `json:"ref"`
	Score float64     `json:"score"`
}

// ComparisonBatch tracks one selfie matched against the corpus.
type ComparisonBatch struct {
	ID            string
	ReferenceKey  string
	Threshold     int
	CandidateKeys []string
	Matches       []Match
	Skipped       []*ComparisonError
	NoFace        int
	NotRun        int
	State         RunState
}

// MatchSet is the caller-facing result of a run.
type MatchSet struct {
	BatchID    string             `json:"batch_id"`
	Reference  string             `json:"reference_key"`
	Threshold  int                `json:"threshold"`
	Candidates int                `json:"candidates"`
	Matches    []Match            `json:"matches"`
	Skipped    []*ComparisonError `json:"-"`
	NoFace     int                `json:"no_face"`
	State      RunState           `json:"state"`
	Partial    bool               `json:"partial"`
}

// Refs returns matched references in discovery order.
func (m MatchSet) Refs() []storage.Ref {
	refs := make([]storage.Ref, 0, len(m.Matches))
	for _, match := range m.Matches {
		refs = append(refs, match.Ref)
	}
	return refs
}

// Result snapshots the batch as a MatchSet.
func (b *ComparisonBatch) Result() MatchSet {
	matches := b.Matches
	if matches == nil {
		matches = []Match{}
	}
	return MatchSet{
		BatchID:    b.ID,
		Reference:  b.ReferenceKey,
		Threshold:  b.Threshold,
		Candidates: len(b.CandidateKeys),
		Matches:    matches,
		Skipped:    b.Skipped,
		NoFace:     b.NoFace,
		State:      b.State,
		Partial:    b.State == Cancelled,
	}
}
