package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/withObsrvr/photo-matcher/internal/pipeline"
	"github.com/withObsrvr/photo-matcher/internal/storage"
)

type itemResponse struct {
	Name   string `json:"name"`
	Key    string `json:"key,omitempty"`
	Status string `json:"status"`
	URL    string `json:"url,omitempty"`
	Error  string `json:"error,omitempty"`
	Kind   string `json:"error_kind,omitempty"`
}

type corpusResponse struct {
	BatchID   string         `json:"batch_id"`
	Total     int            `json:"total"`
	Succeeded int            `json:"succeeded"`
	Failed    int            `json:"failed"`
	Items     []itemResponse `json:"items"`
}

type listResponse struct {
	Count   int           `json:"count"`
	Objects []storage.Ref `json:"objects"`
}

type skippedResponse struct {
	Key   string `json:"key"`
	Error string `json:"error"`
}

type selfieResponse struct {
	pipeline.SelfieResult
	URLs    []string          `json:"urls"`
	Skipped []skippedResponse `json:"skipped,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// submitCorpus takes multipart field "files". Per-file failures are
// reported in the body with status 200.
func (h *Handler) submitCorpus(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		h.writeError(w, &pipeline.ValidationError{Reason: "invalid multipart body: " + err.Error()})
		return
	}
	defer r.MultipartForm.RemoveAll()

	headers := r.MultipartForm.File["files"]
	items := make([]*pipeline.UploadItem, 0, len(headers))
	for _, fh := range headers {
		it, err := uploadItem(fh)
		if err != nil {
			h.writeError(w, err)
			return
		}
		items = append(items, it)
	}

	report, err := h.svc.SubmitCorpus(r.Context(), items)
	if err != nil && len(report.Results) == 0 {
		h.writeError(w, err)
		return
	}

	resp := corpusResponse{
		BatchID:   report.BatchID,
		Total:     len(report.Results),
		Succeeded: report.Succeeded(),
		Failed:    report.Failed(),
		Items:     make([]itemResponse, 0, len(report.Results)),
	}
	for _, res := range report.Results {
		ir := itemResponse{Name: res.Name, Key: res.Key, Status: res.Status.String(), URL: res.Ref.URL}
		if res.Err != nil {
			ir.Error = res.Err.Error()
			ir.Kind = pipeline.Classify(res.Err).String()
		}
		resp.Items = append(resp.Items, ir)
	}
	writeJSON(w, http.StatusOK, resp)
}

// submitSelfie takes multipart field "selfie" and an optional "threshold".
func (h *Handler) submitSelfie(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		h.writeError(w, &pipeline.ValidationError{Reason: "invalid multipart body: " + err.Error()})
		return
	}
	defer r.MultipartForm.RemoveAll()

	threshold := 0
	if v := r.FormValue("threshold"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			h.writeError(w, &pipeline.ValidationError{Reason: fmt.Sprintf("threshold %q is not an integer", v)})
			return
		}
		threshold = n
	}

	headers := r.MultipartForm.File["selfie"]
	if len(headers) != 1 {
		h.writeError(w, &pipeline.ValidationError{Reason: "exactly one selfie required", Err: pipeline.ErrNoFiles})
		return
	}
	it, err := uploadItem(headers[0])
	if err != nil {
		h.writeError(w, err)
		return
	}

	res, err := h.svc.SubmitSelfie(r.Context(), it, threshold)
	if err != nil && !res.Partial {
		h.writeError(w, err)
		return
	}

	resp := selfieResponse{SelfieResult: res, URLs: make([]string, 0, len(res.Matches))}
	for _, m := range res.Matches {
		resp.URLs = append(resp.URLs, m.Ref.URL)
	}
	for _, sk := range res.Skipped {
		resp.Skipped = append(resp.Skipped, skippedResponse{Key: sk.Key, Error: sk.Err.Error()})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) listCorpus(w http.ResponseWriter, r *http.Request) {
	ns := storage.Uploads
	if v := r.URL.Query().Get("namespace"); v != "" {
		parsed, err := storage.ParseNamespace(v)
		if err != nil {
			h.writeError(w, &pipeline.ValidationError{Reason: err.Error()})
			return
		}
		ns = parsed
	}

	refs, err := h.svc.List(r.Context(), ns)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse{Count: len(refs), Objects: refs})
}

// uploadItem sniffs the part when the client did not declare an image type.
func uploadItem(fh *multipart.FileHeader) (*pipeline.UploadItem, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("open part %s: %w", fh.Filename, err)
	}
	head := make([]byte, 512)
	n, err := io.ReadFull(f, head)
	f.Close()
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read part %s: %w", fh.Filename, err)
	}

	return &pipeline.UploadItem{
		Name:        fh.Filename,
		ContentType: pipeline.ResolveContentType(fh.Header.Get("Content-Type"), head[:n]),
		Size:        fh.Size,
		Source: pipeline.SourceFunc(func() (io.ReadCloser, error) {
			return fh.Open()
		}),
	}, nil
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	kind := pipeline.Classify(err)
	status := http.StatusInternalServerError
	switch kind {
	case pipeline.KindValidation:
		status = http.StatusBadRequest
	case pipeline.KindSubsystem, pipeline.KindUpload:
		status = http.StatusBadGateway
	case pipeline.KindCanceled:
		status = http.StatusServiceUnavailable
	}
	if status >= 500 {
		h.log.Error("request failed", "kind", kind.String(), "error", err)
	}
	writeJSON(w, status, errorResponse{Error: err.Error(), Kind: kind.String()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
