package audit

import (
	"time"
)

// Event types.
const (
	EventCorpusUpload = "corpus_upload"
	EventSelfieMatch  = "selfie_match"
)

// SchemaVersion is bumped when the event layout changes.
const SchemaVersion = "1.0"

// Event is one audit record for an upload batch or a match run.
type Event struct {
	Version   string    `json:"version"`
	EventType string    `json:"event_type"`
	EventID   string    `json:"event_id"`
	Timestamp time.Time `json:"timestamp"`

	Batch    BatchInfo    `json:"batch"`
	Objects  []ObjectInfo `json:"objects,omitempty"`
	Match    *MatchInfo   `json:"match,omitempty"`
	Producer ProducerInfo `json:"producer"`
	Chain    ChainInfo    `json:"chain"`
}

// BatchInfo identifies the batch being audited.
type BatchInfo struct {
	ID        string `json:"id"`
	Namespace string `json:"namespace"`
	Total     int    `json:"total"`
	Succeeded int    `json:"succeeded"`
	Failed    int    `json:"failed"`
}

// ObjectInfo is one item of an upload batch.
type ObjectInfo struct {
	Name   string `json:"name"`
	Key    string `json:"key"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// MatchInfo summarizes a match run.
type MatchInfo struct {
	ReferenceKey string        `json:"reference_key"`
	Threshold    int           `json:"threshold"`
	Candidates   int           `json:"candidates"`
	Matched      []string      `json:"matched"`
	NoFace       int           `json:"no_face"`
	Skipped      []SkippedInfo `json:"skipped,omitempty"`
	State        string        `json:"state"`
	Error        string        `json:"error,omitempty"`
}

// SkippedInfo is one candidate whose comparison failed.
type SkippedInfo struct {
	Key   string `json:"key"`
	Error string `json:"error"`
}

// ProducerInfo identifies the software that produced the event.
type ProducerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	GitSHA  string `json:"git_sha,omitempty"`
}

// ChainInfo provides hash chaining for a tamper-evident audit log.
type ChainInfo struct {
	PrevEventHash string `json:"prev_event_hash"`
	EventHash     string `json:"event_hash"`
}

// ChainKey groups events into one chain per event type.
func (e *Event) ChainKey() string {
	return e.Producer.Name + "/" + e.EventType
}
