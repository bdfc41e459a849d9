// Package httpapi exposes the pipeline over HTTP.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/withObsrvr/photo-matcher/internal/metrics"
	"github.com/withObsrvr/photo-matcher/internal/pipeline"
	"github.com/withObsrvr/photo-matcher/internal/storage"
)

// Pipeline is the subset of *pipeline.Service the handlers need.
type Pipeline interface {
	SubmitCorpus(ctx context.Context, items []*pipeline.UploadItem) (pipeline.UploadReport, error)
	SubmitSelfie(ctx context.Context, item *pipeline.UploadItem, threshold int) (pipeline.SelfieResult, error)
	List(ctx context.Context, ns storage.Namespace) ([]storage.Ref, error)
}

// Options configures the router.
type Options struct {
	// MaxRequestBytes caps a whole request body, all files included.
	MaxRequestBytes int64
	// RequestTimeout bounds one request, including a full match run.
	RequestTimeout time.Duration
}

const (
	defaultMaxRequestBytes = 256 << 20
	defaultRequestTimeout  = 5 * time.Minute
	multipartMemory        = 32 << 20
)

// Handler serves the v1 API.
type Handler struct {
	svc  Pipeline
	opts Options
	log  *slog.Logger
}

// NewRouter builds the http.Handler with chi.
func NewRouter(svc Pipeline, opts Options) http.Handler {
	if opts.MaxRequestBytes <= 0 {
		opts.MaxRequestBytes = defaultMaxRequestBytes
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = defaultRequestTimeout
	}
	h := &Handler{svc: svc, opts: opts, log: slog.With("component", "http")}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(loggerMiddleware(h.log))
	r.Use(middleware.Recoverer)

	r.Get("/health", h.health)
	if m := metrics.Get(); m != nil {
		r.Method(http.MethodGet, "/metrics", m.Handler())
	}

	r.Route("/v1", func(r chi.Router) {
		r.Use(middleware.Timeout(opts.RequestTimeout))
		r.Use(middleware.RequestSize(opts.MaxRequestBytes))

		r.Post("/corpus", h.submitCorpus)
		r.Get("/corpus", h.listCorpus)
		r.Post("/selfie", h.submitSelfie)
	})

	return r
}

func loggerMiddleware(l *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				if r.URL.Path == "/health" || r.URL.Path == "/metrics" {
					return
				}
				l.Info("http_request",
					"request_id", middleware.GetReqID(r.Context()),
					"method", r.Method,
					"path", r.URL.Path,
					"status", ww.Status(),
					"duration", time.Since(start),
				)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}

type healthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Timestamp: time.Now().UTC()})
}
