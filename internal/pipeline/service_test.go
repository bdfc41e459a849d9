package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/withObsrvr/photo-matcher/internal/audit"
	"github.com/withObsrvr/photo-matcher/internal/faces"
	"github.com/withObsrvr/photo-matcher/internal/storage"
)

func newTestService(store storage.ObjectStore, comparator faces.Comparator, emitter audit.Emitter) *Service {
	return NewService(store, comparator, NewValidator(10<<20, 5<<20, nil), Options{
		UploadWorkers:  2,
		CompareWorkers: 2,
		Emitter:        emitter,
	})
}

func TestSubmitSelfieRejectsOversizeBeforeStorage(t *testing.T) {
	store := newCountingStore()
	fc := &mockComparator{}
	svc := newTestService(store, fc, nil)

	selfie := &UploadItem{Name: "me.png", ContentType: "image/png", Size: 6 << 20}
	_, err := svc.SubmitSelfie(context.Background(), selfie, 0)

	require.ErrorIs(t, err, ErrTooLarge)
	assert.Equal(t, KindValidation, Classify(err))
	assert.Zero(t, store.puts.Load())
	assert.Zero(t, store.lists.Load())
	fc.AssertNotCalled(t, "Compare", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestSubmitSelfieDefaultThreshold(t *testing.T) {
	store := newCountingStore()
	seed(t, store, "a.jpg", "b.jpg", "c.jpg")
	emitter := &recordingEmitter{}

	fc := &mockComparator{}
	fc.On("Compare", mock.Anything, mock.Anything, store.Ref("uploads/b.jpg"), faces.DefaultThreshold).
		Return(faces.Comparison{}, faces.ErrNoFaceDetected)
	fc.On("Compare", mock.Anything, mock.Anything, mock.Anything, faces.DefaultThreshold).
		Return(faces.Comparison{Matched: true, Score: 99.4}, nil)

	svc := newTestService(store, fc, emitter)
	res, err := svc.SubmitSelfie(context.Background(), item("me.jpg", "image/jpeg", jpegBytes), 0)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(res.Selfie.Key, "selfies/"))
	assert.Equal(t, faces.DefaultThreshold, res.Threshold)
	assert.Equal(t, []storage.Ref{store.Ref("uploads/a.jpg"), store.Ref("uploads/c.jpg")}, res.Refs())

	selfies, err := store.List(context.Background(), storage.Selfies)
	require.NoError(t, err)
	assert.Equal(t, []string{res.Selfie.Key}, selfies)

	require.Len(t, emitter.events, 1)
	evt := emitter.events[0]
	assert.Equal(t, audit.EventSelfieMatch, evt.EventType)
	assert.Equal(t, res.BatchID, evt.Batch.ID)
	assert.Equal(t, []string{"uploads/a.jpg", "uploads/c.jpg"}, evt.Match.Matched)
	assert.Equal(t, 1, evt.Match.NoFace)
	assert.Equal(t, "completed", evt.Match.State)
}

func TestSubmitSelfieUploadFailure(t *testing.T) {
	store := newCountingStore()
	store.putErr = func(string) error { return errors.New("bucket unreachable") }
	fc := &mockComparator{}

	_, err := newTestService(store, fc, nil).SubmitSelfie(context.Background(), item("me.jpg", "image/jpeg", jpegBytes), 99)

	assert.Equal(t, KindUpload, Classify(err))
	assert.Zero(t, store.lists.Load())
	fc.AssertNotCalled(t, "Compare", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestSubmitSelfieCancelledBeforeUpload(t *testing.T) {
	store := newCountingStore()
	emitter := &recordingEmitter{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestService(store, &mockComparator{}, emitter).
		SubmitSelfie(ctx, item("me.jpg", "image/jpeg", jpegBytes), 99)

	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, KindCanceled, Classify(err))
	var ue *UploadError
	assert.False(t, errors.As(err, &ue))
	assert.Zero(t, store.puts.Load())
	assert.Zero(t, store.lists.Load())
	assert.Empty(t, emitter.events)
}

func TestSubmitSelfieCancelledDuringListing(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store := cancelOnList{countingStore: newCountingStore(), cancel: cancel}
	emitter := &recordingEmitter{}

	res, err := newTestService(store, &mockComparator{}, emitter).
		SubmitSelfie(ctx, item("me.jpg", "image/jpeg", jpegBytes), 99)

	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, KindCanceled, Classify(err))
	assert.True(t, res.Partial)
	assert.NotEmpty(t, res.Selfie.Key)
	require.Len(t, emitter.events, 1)
	assert.Equal(t, "cancelled", emitter.events[0].Match.State)
}

func TestSubmitSelfieListingFailure(t *testing.T) {
	store := newCountingStore()
	store.listErr = errors.New("timeout")
	emitter := &recordingEmitter{}

	res, err := newTestService(store, &mockComparator{}, emitter).
		SubmitSelfie(context.Background(), item("me.jpg", "image/jpeg", jpegBytes), 99)

	assert.Equal(t, KindSubsystem, Classify(err))
	assert.NotEmpty(t, res.Selfie.Key)
	require.Len(t, emitter.events, 1)
	assert.Equal(t, "failed", emitter.events[0].Match.State)
}

func TestSubmitSelfieBadThreshold(t *testing.T) {
	store := newCountingStore()

	_, err := newTestService(store, &mockComparator{}, nil).
		SubmitSelfie(context.Background(), item("me.jpg", "image/jpeg", jpegBytes), -5)

	assert.Equal(t, KindValidation, Classify(err))
	assert.Zero(t, store.puts.Load())
}

func TestSubmitCorpusMixedBatch(t *testing.T) {
	store := newCountingStore()
	emitter := &recordingEmitter{}
	svc := newTestService(store, &mockComparator{}, emitter)

	items := []*UploadItem{
		item("party.gif", "image/gif", []byte("GIF89a")),
		item("cake.jpg", "image/jpeg", jpegBytes),
		{Name: "huge.png", ContentType: "image/png", Size: 11 << 20},
		item("dance.png", "image/png", pngBytes),
	}
	report, err := svc.SubmitCorpus(context.Background(), items)
	require.NoError(t, err)

	require.Len(t, report.Results, 4)
	assert.Equal(t, 2, report.Succeeded())
	assert.Equal(t, 2, report.Failed())
	assert.Equal(t, storage.Uploads, report.Namespace)

	assert.ErrorIs(t, report.Results[0].Err, ErrUnsupportedType)
	assert.Equal(t, Done, report.Results[1].Status)
	assert.ErrorIs(t, report.Results[2].Err, ErrTooLarge)
	assert.Equal(t, Done, report.Results[3].Status)
	assert.Equal(t, int32(2), store.puts.Load())

	require.Len(t, emitter.events, 1)
	evt := emitter.events[0]
	assert.Equal(t, audit.EventCorpusUpload, evt.EventType)
	assert.Equal(t, report.BatchID, evt.Batch.ID)
	assert.Equal(t, 4, evt.Batch.Total)
	assert.Equal(t, 2, evt.Batch.Failed)
	assert.Equal(t, "failed", evt.Objects[0].Status)
	assert.NotEmpty(t, evt.Objects[0].Error)
}

func TestSubmitCorpusEmpty(t *testing.T) {
	_, err := newTestService(newCountingStore(), &mockComparator{}, nil).SubmitCorpus(context.Background(), nil)

	assert.ErrorIs(t, err, ErrNoFiles)
	assert.Equal(t, KindValidation, Classify(err))
}

func TestSubmitCorpusAuditFailureIgnored(t *testing.T) {
	emitter := &recordingEmitter{err: errors.New("sink down")}
	svc := newTestService(newCountingStore(), &mockComparator{}, emitter)

	report, err := svc.SubmitCorpus(context.Background(), []*UploadItem{item("a.jpg", "image/jpeg", jpegBytes)})

	require.NoError(t, err)
	assert.True(t, report.AllDone())
	assert.Len(t, emitter.events, 1)
}

func TestServiceList(t *testing.T) {
	store := newCountingStore()
	seed(t, store, "b.jpg", "a.jpg")
	svc := newTestService(store, &mockComparator{}, nil)

	refs, err := svc.List(context.Background(), storage.Uploads)
	require.NoError(t, err)
	require.Len(t, refs, 2)
	assert.Equal(t, "uploads/a.jpg", refs[0].Key)
	assert.Equal(t, "https://event-photos.s3.amazonaws.com/uploads/a.jpg", refs[0].URL)

	store.listErr = errors.New("boom")
	_, err = svc.List(context.Background(), storage.Uploads)
	assert.Equal(t, KindSubsystem, Classify(err))
}
