// Package api exposes the operator HTTP interface for the monitor.
package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/ddbot/internal/history"
	"github.com/JakeFAU/ddbot/internal/metrics"
	"github.com/JakeFAU/ddbot/internal/scheduler"
)

// StatusSource reports the latest poll cycle.
type StatusSource interface {
	LastCycle() (scheduler.CycleReport, time.Time, bool)
	ConsecutiveFailures() int
}

// AlertSource lists recorded alerts.
type AlertSource interface {
	Recent(within time.Duration) []history.Record
}

// Server wires HTTP handlers to the scheduler and alert history.
type Server struct {
	router chi.Router
	status StatusSource
	alerts AlertSource
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes. Either source
// may be nil, in which case its routes report 503.
func NewServer(status StatusSource, alerts AlertSource, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		status: status,
		alerts: alerts,
		logger: logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(30 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/status", s.getStatus)
		r.Get("/alerts", s.listAlerts)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// readyz turns ready once the first poll cycle has completed.
func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	if s.status == nil {
		writeError(w, http.StatusServiceUnavailable, "monitor not running")
		return
	}
	if _, _, ok := s.status.LastCycle(); !ok {
		writeError(w, http.StatusServiceUnavailable, "no poll cycle completed yet")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type resultView struct {
	Service     string `json:"service"`
	ReportCount int    `json:"report_count"`
	Status      string `json:"status"`
	Tier        string `json:"source_tier"`
	Error       string `json:"error,omitempty"`
	Timestamp   string `json:"timestamp"`
}

type alertView struct {
	Service     string   `json:"service"`
	ReportCount int      `json:"report_count"`
	Outcome     string   `json:"outcome"`
	Recipients  []string `json:"recipients,omitempty"`
}

type statusResponse struct {
	CompletedAt         string       `json:"completed_at"`
	AnySuccess          bool         `json:"any_success"`
	ConsecutiveFailures int          `json:"consecutive_failures"`
	Results             []resultView `json:"results"`
	Alerts              []alertView  `json:"alerts"`
}

func (s *Server) getStatus(w http.ResponseWriter, _ *http.Request) {
	if s.status == nil {
		writeError(w, http.StatusServiceUnavailable, "monitor not running")
		return
	}
	report, at, ok := s.status.LastCycle()
	if !ok {
		writeError(w, http.StatusNotFound, "no poll cycle completed yet")
		return
	}
	resp := statusResponse{
		CompletedAt:         at.UTC().Format(time.RFC3339),
		AnySuccess:          report.AnySuccess,
		ConsecutiveFailures: s.status.ConsecutiveFailures(),
		Results:             make([]resultView, 0, len(report.Results)),
		Alerts:              make([]alertView, 0, len(report.Alerts)),
	}
	for _, r := range report.Results {
		resp.Results = append(resp.Results, resultView{
			Service:     r.Service,
			ReportCount: r.ReportCount,
			Status:      string(r.Status),
			Tier:        string(r.Tier),
			Error:       r.Error,
			Timestamp:   r.Timestamp.UTC().Format(time.RFC3339),
		})
	}
	for _, a := range report.Alerts {
		resp.Alerts = append(resp.Alerts, alertView{
			Service:     a.Service,
			ReportCount: a.ReportCount,
			Outcome:     a.Outcome,
			Recipients:  a.Recipients,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) listAlerts(w http.ResponseWriter, r *http.Request) {
	if s.alerts == nil {
		writeError(w, http.StatusServiceUnavailable, "history not available")
		return
	}
	hours := 24.0
	if raw := r.URL.Query().Get("hours"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || v <= 0 {
			writeError(w, http.StatusBadRequest, "hours must be a positive number")
			return
		}
		hours = v
	}
	records := s.alerts.Recent(time.Duration(hours * float64(time.Hour)))
	if records == nil {
		records = []history.Record{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"alerts": records})
}

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
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		reqID, _ := r.Context().Value(requestIDKey{}).(string)
		s.logger.Debug("request completed",
			zap.String("request_id", reqID),
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
				s.logger.Error("panic recovered", zap.Any("error", rec))
				writeError(w, http.StatusInternalServerError, "internal server error")
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

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
