package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/withObsrvr/photo-matcher/internal/faces"
	"github.com/withObsrvr/photo-matcher/internal/pipeline"
	"github.com/withObsrvr/photo-matcher/internal/storage"
)

var (
	pngBytes  = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x02\x00\x00\x00")
	jpegBytes = []byte("\xff\xd8\xff\xe0\x00\x10JFIF\x00\x01\x01\x00\x00\x01\x00\x01\x00\x00")
)

type brokenListStore struct {
	storage.ObjectStore
}

func (brokenListStore) List(context.Context, storage.Namespace) ([]string, error) {
	return nil, errors.New("bucket unreachable")
}

type part struct {
	field, name, contentType string
	data                     []byte
}

func multipartRequest(t *testing.T, url string, fields map[string]string, parts ...part) *http.Request {
	t.Helper()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	for _, p := range parts {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", `form-data; name="`+p.field+`"; filename="`+p.name+`"`)
		if p.contentType != "" {
			h.Set("Content-Type", p.contentType)
		}
		w, err := mw.CreatePart(h)
		require.NoError(t, err)
		_, err = w.Write(p.data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, url, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func newServer(t *testing.T, store storage.ObjectStore, comparator faces.Comparator, validator *pipeline.Validator) http.Handler {
	t.Helper()
	svc := pipeline.NewService(store, comparator, validator, pipeline.Options{UploadWorkers: 2, CompareWorkers: 2})
	return NewRouter(svc, Options{})
}

func memStore() storage.ObjectStore {
	return storage.NewMemStore(storage.Config{Bucket: "event-photos"})
}

func matchAll() faces.Comparator {
	return faces.ComparatorFunc(func(context.Context, storage.Ref, storage.Ref, int) (faces.Comparison, error) {
		return faces.Comparison{Matched: true, Score: 99.9}, nil
	})
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	rec := serve(newServer(t, memStore(), matchAll(), nil), httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestSubmitCorpus(t *testing.T) {
	store := memStore()
	h := newServer(t, store, matchAll(), nil)

	rec := serve(h, multipartRequest(t, "/v1/corpus", nil,
		part{field: "files", name: "dance.png", data: pngBytes},
		part{field: "files", name: "notes.txt", contentType: "text/plain", data: []byte("hello")},
		part{field: "files", name: "cake.jpg", contentType: "image/jpeg", data: jpegBytes},
	))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp corpusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 3, resp.Total)
	assert.Equal(t, 2, resp.Succeeded)
	assert.Equal(t, 1, resp.Failed)
	assert.Equal(t, "done", resp.Items[0].Status)
	assert.Contains(t, resp.Items[0].URL, "https://event-photos.s3.amazonaws.com/uploads/")
	assert.Equal(t, "failed", resp.Items[1].Status)
	assert.Equal(t, "validation", resp.Items[1].Kind)

	keys, err := store.List(context.Background(), storage.Uploads)
	require.NoError(t, err)
	assert.Len(t, keys, 2)
}

func TestSubmitCorpusNoFiles(t *testing.T) {
	rec := serve(newServer(t, memStore(), matchAll(), nil), multipartRequest(t, "/v1/corpus", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), `"kind":"validation"`)
}

func TestSubmitSelfie(t *testing.T) {
	store := memStore()
	_, err := store.Put(context.Background(), storage.Uploads, "1-a.jpg", bytes.NewReader(jpegBytes), int64(len(jpegBytes)), "image/jpeg")
	require.NoError(t, err)

	var gotThreshold int
	comparator := faces.ComparatorFunc(func(_ context.Context, _, _ storage.Ref, threshold int) (faces.Comparison, error) {
		gotThreshold = threshold
		return faces.Comparison{Matched: true, Score: 97}, nil
	})
	h := newServer(t, store, comparator, nil)

	rec := serve(h, multipartRequest(t, "/v1/selfie", map[string]string{"threshold": "95"},
		part{field: "selfie", name: "me.jpg", contentType: "image/jpeg", data: jpegBytes},
	))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Selfie    storage.Ref `json:"selfie"`
		Threshold int         `json:"threshold"`
		State     string      `json:"state"`
		URLs      []string    `json:"urls"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 95, gotThreshold)
	assert.Equal(t, 95, resp.Threshold)
	assert.Equal(t, "completed", resp.State)
	assert.Equal(t, []string{"https://event-photos.s3.amazonaws.com/uploads/1-a.jpg"}, resp.URLs)
	assert.Contains(t, resp.Selfie.Key, "selfies/")
}

func TestSubmitSelfieRejected(t *testing.T) {
	small := pipeline.NewValidator(1<<20, 8, nil)

	tests := []struct {
		name   string
		fields map[string]string
		parts  []part
	}{
		{"too large", nil, []part{{field: "selfie", name: "me.png", data: pngBytes}}},
		{"bad threshold", map[string]string{"threshold": "high"}, []part{{field: "selfie", name: "me.png", data: pngBytes}}},
		{"missing selfie", nil, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(newServer(t, memStore(), matchAll(), small), multipartRequest(t, "/v1/selfie", tt.fields, tt.parts...))
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}
}

func TestSubmitSelfieListingFailure(t *testing.T) {
	h := newServer(t, brokenListStore{memStore()}, matchAll(), nil)

	rec := serve(h, multipartRequest(t, "/v1/selfie", nil,
		part{field: "selfie", name: "me.jpg", contentType: "image/jpeg", data: jpegBytes},
	))

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), `"kind":"subsystem"`)
}

func TestSubmitSelfieCancelled(t *testing.T) {
	h := newServer(t, memStore(), matchAll(), nil)

	req := multipartRequest(t, "/v1/selfie", nil,
		part{field: "selfie", name: "me.jpg", contentType: "image/jpeg", data: jpegBytes},
	)
	ctx, cancel := context.WithCancel(req.Context())
	cancel()
	rec := serve(h, req.WithContext(ctx))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"kind":"canceled"`)
}

func TestListCorpus(t *testing.T) {
	store := memStore()
	for _, name := range []string{"2-b.jpg", "1-a.jpg"} {
		_, err := store.Put(context.Background(), storage.Uploads, name, bytes.NewReader(jpegBytes), int64(len(jpegBytes)), "image/jpeg")
		require.NoError(t, err)
	}
	h := newServer(t, store, matchAll(), nil)

	rec := serve(h, httptest.NewRequest(http.MethodGet, "/v1/corpus", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp listResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Count)
	assert.Equal(t, "uploads/1-a.jpg", resp.Objects[0].Key)

	rec = serve(h, httptest.NewRequest(http.MethodGet, "/v1/corpus?namespace=thumbnails", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
