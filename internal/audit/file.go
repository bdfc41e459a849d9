package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// FileSink appends events as JSON lines to daily zstd files. Each event
// is its own zstd frame, so a reader decodes a file as one stream even
// if the process died between writes.
type FileSink struct {
	mu  sync.Mutex
	dir string
	enc *zstd.Encoder
}

// NewFileSink creates dir if needed.
func NewFileSink(dir string) (*FileSink, error) {
	if dir == "" {
		dir = "./audit"
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create audit dir: %w", err)
	}

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}

	return &FileSink{dir: dir, enc: enc}, nil
}

func (f *FileSink) Name() string { return "file" }

// Path returns the segment file that holds events from evt's day.
func (f *FileSink) Path(evt *Event) string {
	return filepath.Join(f.dir, "audit-"+evt.Timestamp.UTC().Format("2006-01-02")+".jsonl.zst")
}

// Write appends evt to its segment.
func (f *FileSink) Write(_ context.Context, evt *Event) error {
	line, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	line = append(line, '\n')

	f.mu.Lock()
	defer f.mu.Unlock()

	frame := f.enc.EncodeAll(line, nil)

	file, err := os.OpenFile(f.Path(evt), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open segment: %w", err)
	}
	if _, err := file.Write(frame); err != nil {
		file.Close()
		return fmt.Errorf("write segment: %w", err)
	}
	return file.Close()
}

// Close releases the encoder.
func (f *FileSink) Close() error {
	return f.enc.Close()
}

// ReadSegment decodes every event in a segment file, oldest first.
func ReadSegment(path string) ([]Event, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	dec, err := zstd.NewReader(file)
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	defer dec.Close()

	data, err := io.ReadAll(dec)
	if err != nil {
		return nil, fmt.Errorf("decode segment: %w", err)
	}

	var events []Event
	for _, line := range bytes.Split(bytes.TrimSpace(data), []byte("\n")) {
		if len(line) == 0 {
			continue
		}
		var evt Event
		if err := json.Unmarshal(line, &evt); err != nil {
			return nil, fmt.Errorf("parse event: %w", err)
		}
		events = append(events, evt)
	}
	return events, nil
}
