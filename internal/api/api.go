// Package api exposes the research pipeline over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/FranksOps/dossier/internal/metrics"
	"github.com/FranksOps/dossier/internal/pipeline"
	"github.com/FranksOps/dossier/internal/report"
	"github.com/FranksOps/dossier/internal/storage"
)

// maxRequestBody bounds POST bodies.
const maxRequestBody = 64 << 10

// Researcher is the pipeline surface the API needs. *pipeline.Pipeline
// satisfies it.
type Researcher interface {
	Run(ctx context.Context, query string) pipeline.Outcome
	SavedReports(ctx context.Context, limit int) ([]storage.QuerySummary, error)
	ReportDetails(ctx context.Context, id string) (*storage.Query, error)
	Stats(ctx context.Context) (storage.Stats, error)
}

type handler struct {
	research Researcher
	logger   *slog.Logger
}

// NewRouter builds the HTTP routes.
func NewRouter(research Researcher, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &handler{research: research, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(h.logRequests)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Post("/research", h.runResearch)
		r.Get("/reports", h.listReports)
		r.Get("/reports/{id}", h.getReport)
		r.Get("/status/{id}", h.getStatus)
		r.Get("/stats", h.getStats)
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Page not found"})
	})
	return r
}

func (h *handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		h.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

type researchRequest struct {
	Query string `json:"query"`
}

func (h *handler) runResearch(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)

	var req researchRequest
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": "Invalid JSON body"})
			return
		}
	} else {
		if err := r.ParseForm(); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": "Invalid form body"})
			return
		}
		req.Query = r.PostForm.Get("query")
	}

	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": "Please enter a research query."})
		return
	}

	// The run outlives a client that disconnects so the query never stays
	// in a non-terminal status.
	out := h.research.Run(context.WithoutCancel(r.Context()), req.Query)
	writeJSON(w, http.StatusOK, out)
}

func (h *handler) listReports(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", pipeline.DefaultReportLimit)
	if limit < 1 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be positive"})
		return
	}

	list, err := h.research.SavedReports(r.Context(), limit)
	if err != nil {
		h.serverError(w, "list reports", err)
		return
	}
	if list == nil {
		list = []storage.QuerySummary{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *handler) getReport(w http.ResponseWriter, r *http.Request) {
	q, ok := h.lookup(w, r)
	if !ok {
		return
	}

	format := report.FormatJSON
	if f := r.URL.Query().Get("format"); f != "" {
		parsed, err := report.ParseFormat(f)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		format = parsed
	}

	if format == report.FormatJSON {
		writeJSON(w, http.StatusOK, q)
		return
	}

	switch format {
	case report.FormatHTML:
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
	case report.FormatMarkdown:
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	default:
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	}
	if err := report.Write(w, format, report.FromQuery(q)); err != nil {
		h.logger.Error("render report", "query_id", q.ID, "err", err)
	}
}

type statusResponse struct {
	Status           storage.Status `json:"status"`
	HasReport        bool           `json:"has_report"`
	SourcesFound     int            `json:"sources_found"`
	SourcesExtracted int            `json:"sources_extracted"`
	Error            string         `json:"error_message,omitempty"`
}

func (h *handler) getStatus(w http.ResponseWriter, r *http.Request) {
	q, ok := h.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{
		Status:           q.Status,
		HasReport:        q.Report != nil,
		SourcesFound:     q.SourcesFound,
		SourcesExtracted: q.SourcesExtracted,
		Error:            q.Error,
	})
}

func (h *handler) getStats(w http.ResponseWriter, r *http.Request) {
	st, err := h.research.Stats(r.Context())
	if err != nil {
		h.serverError(w, "stats", err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *handler) lookup(w http.ResponseWriter, r *http.Request) (*storage.Query, bool) {
	id := chi.URLParam(r, "id")
	q, err := h.research.ReportDetails(r.Context(), id)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Query not found"})
		return nil, false
	case err != nil:
		h.serverError(w, "load query", err)
		return nil, false
	}
	return q, true
}

func (h *handler) serverError(w http.ResponseWriter, op string, err error) {
	h.logger.Error("request failed", "op", op, "err", err)
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func queryInt(r *http.Request, key string, def int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return -1
	}
	return v
}
