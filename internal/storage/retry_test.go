package storage

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flakyStore fails the first failures calls of each operation with err.
type flakyStore struct {
	*BlobStore
	mu       sync.Mutex
	failures int
	err      error
	calls    map[string]int
}

func newFlakyStore(failures int, err error) *flakyStore {
	return &flakyStore{
		BlobStore: NewMemStore(Config{Bucket: "photos"}),
		failures:  failures,
		err:       err,
		calls:     make(map[string]int),
	}
}

func (f *flakyStore) fail(op string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[op]++
	if f.calls[op] <= f.failures {
		return f.err
	}
	return nil
}

func (f *flakyStore) Put(ctx context.Context, ns Namespace, key string, r io.Reader, size int64, ct string) (Ref, error) {
	if err := f.fail("put"); err != nil {
		io.Copy(io.Discard, r)
		return Ref{}, err
	}
	return f.BlobStore.Put(ctx, ns, key, r, size, ct)
}

func (f *flakyStore) List(ctx context.Context, ns Namespace) ([]string, error) {
	if err := f.fail("list"); err != nil {
		return nil, err
	}
	return f.BlobStore.List(ctx, ns)
}

func TestRetryingStoreRetriesTransient(t *testing.T) {
	flaky := newFlakyStore(2, errors.New("503 slow down"))
	store := WithRetry(flaky, "mem", 3, time.Millisecond)

	ref, err := store.Put(context.Background(), Uploads, "1-a.jpg", strings.NewReader("abc"), 3, "image/jpeg")
	require.NoError(t, err)
	assert.Equal(t, "uploads/1-a.jpg", ref.Key)
	assert.Equal(t, 3, flaky.calls["put"])

	data, err := flaky.Get(context.Background(), "uploads/1-a.jpg")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(data), "body must be rewound between attempts")

	keys, err := store.List(context.Background(), Uploads)
	require.NoError(t, err)
	assert.Equal(t, []string{"uploads/1-a.jpg"}, keys)
}

func TestRetryingStoreGivesUp(t *testing.T) {
	flaky := newFlakyStore(10, errors.New("503 slow down"))
	store := WithRetry(flaky, "mem", 2, time.Millisecond)

	_, err := store.List(context.Background(), Uploads)
	require.Error(t, err)
	assert.Equal(t, 3, flaky.calls["list"])
}

func TestRetryingStoreSkipsPermanent(t *testing.T) {
	flaky := newFlakyStore(10, context.Canceled)
	store := WithRetry(flaky, "mem", 5, time.Millisecond)

	_, err := store.List(context.Background(), Uploads)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, flaky.calls["list"])
}

func TestRetryingStoreUnseekableBodyNotRetried(t *testing.T) {
	flaky := newFlakyStore(1, errors.New("503 slow down"))
	store := WithRetry(flaky, "mem", 5, time.Millisecond)

	body := io.MultiReader(strings.NewReader("abc"))
	_, err := store.Put(context.Background(), Uploads, "1-a.jpg", body, 3, "image/jpeg")
	require.Error(t, err)
	assert.Equal(t, 1, flaky.calls["put"])
}

func TestTransient(t *testing.T) {
	assert.False(t, Transient(nil))
	assert.False(t, Transient(context.DeadlineExceeded))
	assert.False(t, Transient(ErrNotFound))
	assert.True(t, Transient(errors.New("connection reset by peer")))
}
