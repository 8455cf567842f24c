package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"ocr-accuracy-validator/internal/jobs"
	"ocr-accuracy-validator/internal/models"
	"ocr-accuracy-validator/internal/ratelimit"
	"ocr-accuracy-validator/internal/storage"
	"ocr-accuracy-validator/internal/store"
	"ocr-accuracy-validator/internal/telemetry"
)

// JobService is the job lifecycle surface the API exposes.
type JobService interface {
	Create(ctx context.Context, documentID string) (models.ValidationJob, error)
	Status(ctx context.Context, jobID string) (models.JobSnapshot, error)
	Result(ctx context.Context, jobID string) (models.JobResult, error)
	History(ctx context.Context, documentID string) ([]models.JobSnapshot, error)
}

// Records are the read-only lookups behind file downloads and stored results.
type Records interface {
	GetDocument(ctx context.Context, id string) (models.Document, error)
	GetUpload(ctx context.Context, id string) (models.Upload, error)
	ListFieldResults(ctx context.Context, uploadID string) ([]models.FieldResult, error)
}

// Limiter guards job creation.
type Limiter interface {
	Allow(ctx context.Context, clientID string) (ratelimit.Decision, error)
}

// Server wires HTTP handlers over the validation runner and the storage backend.
type Server struct {
	jobs    JobService
	records Records
	files   storage.Backend
	limiter Limiter
	log     *zap.Logger
}

// New constructs the API server. limiter may be nil to disable rate limiting.
func New(js JobService, records Records, files storage.Backend, limiter Limiter, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		jobs:    js,
		records: records,
		files:   files,
		limiter: limiter,
		log:     log,
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Mount("/metrics", telemetry.Handler())

	r.Route("/validation", func(r chi.Router) {
		r.Post("/run", s.handleRun)
		r.Get("/status/{id}", s.handleStatus)
		r.Get("/result/{id}", s.handleResult)
		r.Get("/upload/{id}/results", s.handleUploadResults)
	})
	r.Get("/documents/{id}/validation-jobs", s.handleHistory)
	r.Get("/documents/{id}/sample", s.handleSample)
	r.Get("/uploads/{id}/file", s.handleUploadFile)
	return r
}

type runRequest struct {
	DocumentID string `json:"document_id"`
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.DocumentID == "" {
		writeError(w, http.StatusBadRequest, "document_id is required")
		return
	}
	if s.limiter != nil {
		d, err := s.limiter.Allow(r.Context(), clientFromRequest(r))
		if err != nil {
			s.log.Error("rate limiter", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "rate limit error")
			return
		}
		if !d.Allowed {
			telemetry.RateLimitRejects.Inc()
			if d.RetryAfter > 0 {
				w.Header().Set("Retry-After", strconv.Itoa(int(d.RetryAfter.Seconds())))
			}
			writeError(w, http.StatusTooManyRequests, "rate limited")
			return
		}
	}

	job, err := s.jobs.Create(r.Context(), req.DocumentID)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, job.Snapshot())
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap, err := s.jobs.Status(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	res, err := s.jobs.Result(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleUploadResults(w http.ResponseWriter, r *http.Request) {
	rows, err := s.records.ListFieldResults(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, err)
		return
	}
	out := make([]models.FieldScore, 0, len(rows))
	for _, row := range rows {
		out = append(out, models.FieldScore{
			FieldName: row.FieldName,
			UserValue: row.UserValue,
			OCRValue:  row.OCRValue,
			Accuracy:  row.Accuracy,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	history, err := s.jobs.History(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, history)
}

func (s *Server) handleUploadFile(w http.ResponseWriter, r *http.Request) {
	up, err := s.records.GetUpload(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, err)
		return
	}
	if err := storage.Serve(w, r, s.files, up.File, ""); err != nil {
		s.fail(w, err)
	}
}

func (s *Server) handleSample(w http.ResponseWriter, r *http.Request) {
	doc, err := s.records.GetDocument(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, err)
		return
	}
	if doc.SampleJSON == nil {
		writeError(w, http.StatusNotFound, "Sample JSON not uploaded for document")
		return
	}
	if err := storage.Serve(w, r, s.files, *doc.SampleJSON, ""); err != nil {
		s.fail(w, err)
	}
}

// fail maps domain errors onto HTTP statuses.
func (s *Server) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, jobs.ErrJobNotFound),
		errors.Is(err, jobs.ErrDocumentNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, store.ErrNotFound), errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, jobs.ErrNoEligibleUploads):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, storage.ErrBackendMismatch), errors.Is(err, storage.ErrInvalidRef):
		s.log.Error("stored reference unusable", zap.Error(err))
		writeError(w, http.StatusConflict, "stored file is not available on this backend")
	default:
		s.log.Error("request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func clientFromRequest(r *http.Request) string {
	if v := r.Header.Get("X-Client-ID"); v != "" {
		return v
	}
	return "default"
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"detail": msg})
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
