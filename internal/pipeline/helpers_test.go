package pipeline

import (
	"bytes"
	"context"
	"io"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/withObsrvr/photo-matcher/internal/audit"
	"github.com/withObsrvr/photo-matcher/internal/faces"
	"github.com/withObsrvr/photo-matcher/internal/storage"
)

var (
	pngBytes  = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x02\x00\x00\x00")
	jpegBytes = []byte("\xff\xd8\xff\xe0\x00\x10JFIF\x00\x01\x01\x00\x00\x01\x00\x01\x00\x00")
)

// countingStore records calls and can inject failures.
type countingStore struct {
	storage.ObjectStore
	puts    atomic.Int32
	lists   atomic.Int32
	putErr  func(key string) error
	listErr error
}

func newCountingStore() *countingStore {
	return &countingStore{ObjectStore: storage.NewMemStore(storage.Config{Bucket: "event-photos"})}
}

func (s *countingStore) Put(ctx context.Context, ns storage.Namespace, key string, r io.Reader, size int64, contentType string) (storage.Ref, error) {
	s.puts.Add(1)
	if s.putErr != nil {
		if err := s.putErr(key); err != nil {
			return storage.Ref{}, err
		}
	}
	return s.ObjectStore.Put(ctx, ns, key, r, size, contentType)
}

func (s *countingStore) List(ctx context.Context, ns storage.Namespace) ([]string, error) {
	s.lists.Add(1)
	if s.listErr != nil {
		return nil, s.listErr
	}
	return s.ObjectStore.List(ctx, ns)
}

// cancelOnList cancels the caller's context while the listing is in flight.
type cancelOnList struct {
	*countingStore
	cancel context.CancelFunc
}

func (s cancelOnList) List(ctx context.Context, ns storage.Namespace) ([]string, error) {
	s.lists.Add(1)
	s.cancel()
	return nil, ctx.Err()
}

func seed(t *testing.T, store storage.ObjectStore, names ...string) {
	t.Helper()
	for _, name := range names {
		_, err := store.Put(context.Background(), storage.Uploads, name, bytes.NewReader(jpegBytes), int64(len(jpegBytes)), "image/jpeg")
		require.NoError(t, err)
	}
}

func item(name, contentType string, data []byte) *UploadItem {
	return &UploadItem{
		Name:        name,
		ContentType: contentType,
		Size:        int64(len(data)),
		Source:      BytesSource(data),
	}
}

type mockComparator struct {
	mock.Mock
}

func (m *mockComparator) Compare(ctx context.Context, source, target storage.Ref, threshold int) (faces.Comparison, error) {
	args := m.Called(ctx, source, target, threshold)
	return args.Get(0).(faces.Comparison), args.Error(1)
}

// recordingEmitter keeps emitted events in memory.
type recordingEmitter struct {
	mu     sync.Mutex
	err    error
	events []audit.Event
}

func (e *recordingEmitter) Emit(_ context.Context, evt *audit.Event) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, *evt)
	return e.err
}

func (e *recordingEmitter) Close() error { return nil }
