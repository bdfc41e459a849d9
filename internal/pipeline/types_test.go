package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/withObsrvr/photo-matcher/internal/faces"
)

func TestBatchRemove(t *testing.T) {
	b := NewBatch()
	require.NotEmpty(t, b.ID)

	b.Add(&UploadItem{Name: "a.jpg"})
	b.Add(&UploadItem{Name: "b.jpg"})
	b.Add(&UploadItem{Name: "c.jpg"})

	assert.True(t, b.Remove("b.jpg"))
	assert.False(t, b.Remove("b.jpg"))

	b.Items[0].Status = Uploading
	assert.False(t, b.Remove("a.jpg"), "items already submitted stay in the batch")

	names := []string{}
	for _, it := range b.Items {
		names = append(names, it.Name)
	}
	assert.Equal(t, []string{"a.jpg", "c.jpg"}, names)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want Kind
	}{
		{nil, KindNone},
		{&ValidationError{Reason: "x", Err: ErrTooLarge}, KindValidation},
		{fmt.Errorf("wrapped: %w", &UploadError{Name: "a", Err: errors.New("x")}), KindUpload},
		{&ComparisonError{Key: "k", Err: faces.ErrNoFaceDetected}, KindComparison},
		{faces.ErrNoFaceDetected, KindNoFace},
		{&SubsystemError{Op: "list", Err: context.Canceled}, KindSubsystem},
		{fmt.Errorf("run: %w", context.DeadlineExceeded), KindCanceled},
		{errors.New("mystery"), KindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.want.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestMatchSetJSON(t *testing.T) {
	b := &ComparisonBatch{ID: "b1", ReferenceKey: "selfies/1-me.jpg", Threshold: 99, State: Completed}

	data, err := json.Marshal(b.Result())
	require.NoError(t, err)

	assert.JSONEq(t, `{
		"batch_id": "b1",
		"reference_key": "selfies/1-me.jpg",
		"threshold": 99,
		"candidates": 0,
		"matches": [],
		"no_face": 0,
		"state": "completed",
		"partial": false
	}`, string(data))
}
