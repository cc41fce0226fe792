// Package api exposes the HTTP status interface for the harvest service.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fiscalops/docharvest/internal/harvest"
	"github.com/fiscalops/docharvest/internal/middleware"
)

// ReadinessCheck reports whether downstream dependencies are reachable.
type ReadinessCheck func(ctx context.Context) error

// Server wires HTTP handlers to the ledger.
type Server struct {
	router chi.Router
	ledger harvest.Ledger
	ready  ReadinessCheck
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(ledger harvest.Ledger, ready ReadinessCheck, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		ledger: ledger,
		ready:  ready,
		logger: logger,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(timeoutMiddleware(30 * time.Second))
	r.Use(middleware.Metrics)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/requests", s.listRequests)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(s.logger, w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		if err := s.ready(r.Context()); err != nil {
			writeError(s.logger, w, http.StatusServiceUnavailable, err.Error())
			return
		}
	}
	writeJSON(s.logger, w, http.StatusOK, map[string]string{"status": "ready"})
}

type requestView struct {
	ID             string `json:"id"`
	CompanyCode    int64  `json:"company_code"`
	Model          string `json:"model"`
	Situation      string `json:"situation"`
	InitialPeriod  string `json:"initial_period"`
	FinalPeriod    string `json:"final_period"`
	Status         string `json:"status"`
	Queued         bool   `json:"queued"`
	LinkDownload   string `json:"link_download,omitempty"`
	FileName       string `json:"file_name,omitempty"`
	FilePath       string `json:"file_path,omitempty"`
	QuantityNotes  int    `json:"quantity_notes"`
	WarningMessage string `json:"warning_message,omitempty"`
}

func (s *Server) listRequests(w http.ResponseWriter, r *http.Request) {
	entries, err := s.ledger.ListAll(r.Context())
	if err != nil {
		s.logger.Error("Ledger listing failed", zap.Error(err))
		writeError(s.logger, w, http.StatusInternalServerError, "failed to list requests")
		return
	}

	statusFilter := r.URL.Query().Get("status")
	queuedOnly := r.URL.Query().Get("queued") == "true"

	views := make([]requestView, 0, len(entries))
	for _, entry := range entries {
		if statusFilter != "" && string(entry.Status) != statusFilter {
			continue
		}
		if queuedOnly && !entry.Queued {
			continue
		}
		views = append(views, requestView{
			ID:             entry.ID.String(),
			CompanyCode:    entry.Key.CompanyCode,
			Model:          string(entry.Key.Model),
			Situation:      string(entry.Key.Situation),
			InitialPeriod:  entry.Key.Period.Initial.Format("2006-01-02"),
			FinalPeriod:    entry.Key.Period.Final.Format("2006-01-02"),
			Status:         string(entry.Status),
			Queued:         entry.Queued,
			LinkDownload:   entry.LinkDownload,
			FileName:       entry.FileName,
			FilePath:       entry.FilePath,
			QuantityNotes:  entry.QuantityNotes,
			WarningMessage: entry.WarningMessage,
		})
	}

	writeJSON(s.logger, w, http.StatusOK, map[string]any{"requests": views})
}

type requestIDKey struct{}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Info("Request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("Panic recovered", zap.Any("panic", rec))
				writeError(s.logger, w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (sw *statusWriter) WriteHeader(code int) {
	sw.status = code
	sw.ResponseWriter.WriteHeader(code)
}

func writeJSON(logger *zap.Logger, w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Error("Write JSON failed", zap.Error(err))
	}
}

func writeError(logger *zap.Logger, w http.ResponseWriter, status int, msg string) {
	writeJSON(logger, w, status, map[string]string{"error": msg})
}
