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
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/webspider/internal/config"
	"github.com/JakeFAU/webspider/internal/metrics"
	"github.com/JakeFAU/webspider/internal/spider"
)

// Sites registers and looks up site tree nodes.
type Sites interface {
	Register(ctx context.Context, rawURL string) (*spider.Node, error)
	FindNode(rawURL string) (*spider.Node, bool)
}

// Server wires HTTP handlers to the scan controller.
type Server struct {
	router chi.Router
	scans  *spider.Controller
	sites  Sites
	cfg    config.Config
	logger *zap.Logger

	// startMu serializes the running-scan check with StartScan.
	startMu sync.Mutex
}

// NewServer constructs a Server with middleware and routes.
func NewServer(scans *spider.Controller, sites Sites, cfg config.Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		scans:  scans,
		sites:  sites,
		cfg:    cfg,
		logger: logger.Named("api"),
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(metrics.Middleware)
	r.Use(loggingMiddleware(s.logger))
	r.Use(recoverMiddleware(s.logger))
	r.Use(timeoutMiddleware(60 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.Post("/sites", s.registerSite)
		r.Route("/scans", func(r chi.Router) {
			r.Get("/", s.listScans)
			r.Post("/", s.submitScan)
			r.Delete("/", s.removeAllScans)
			r.Delete("/finished", s.removeFinishedScans)
			r.Post("/pause-all", s.pauseAllScans)
			r.Post("/resume-all", s.resumeAllScans)
			r.Post("/stop-all", s.stopAllScans)
			r.Route("/{scan_id}", func(r chi.Router) {
				r.Get("/", s.getScan)
				r.Delete("/", s.removeScan)
				r.Get("/status", s.getScanStatus)
				r.Get("/results", s.getResults)
				r.Get("/results/out-of-scope", s.getResultsOutOfScope)
				r.Get("/resources", s.getResources)
				r.Post("/pause", s.pauseScan)
				r.Post("/resume", s.resumeScan)
				r.Post("/stop", s.stopScan)
			})
		})
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

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":       "ready",
		"active_scans": len(s.scans.ActiveScans()),
	})
}

func (s *Server) registerSite(w http.ResponseWriter, r *http.Request) {
	var req siteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	node, err := s.registerNode(r.Context(), req.URL)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"node": node})
}

func (s *Server) submitScan(w http.ResponseWriter, r *http.Request) {
	var req scanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	scanID, err := s.startScan(req)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]int{"scan_id": scanID})
}

func (s *Server) listScans(w http.ResponseWriter, _ *http.Request) {
	all := s.scans.AllScans()
	summaries := make([]spider.Summary, 0, len(all))
	for _, scan := range all {
		summaries = append(summaries, scan.Summary())
	}
	writeJSON(w, http.StatusOK, map[string]any{"scans": summaries})
}

func (s *Server) getScan(w http.ResponseWriter, r *http.Request) {
	scan, ok := s.lookupScan(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, scan.Summary())
}

func (s *Server) getScanStatus(w http.ResponseWriter, r *http.Request) {
	scan, ok := s.lookupScan(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": scan.Progress(),
		"state":  scan.State(),
	})
}

func (s *Server) getResults(w http.ResponseWriter, r *http.Request) {
	scan, ok := s.lookupScan(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"scan_id": scan.ID(), "results": nonNil(scan.Results())})
}

func (s *Server) getResultsOutOfScope(w http.ResponseWriter, r *http.Request) {
	scan, ok := s.lookupScan(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"scan_id": scan.ID(), "results": nonNil(scan.ResultsOutOfScope())})
}

func (s *Server) getResources(w http.ResponseWriter, r *http.Request) {
	scan, ok := s.lookupScan(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"scan_id": scan.ID(), "resources": nonNil(scan.Resources())})
}

func (s *Server) pauseScan(w http.ResponseWriter, r *http.Request) {
	s.controlScan(w, r, s.scans.PauseScan)
}

func (s *Server) resumeScan(w http.ResponseWriter, r *http.Request) {
	s.controlScan(w, r, s.scans.ResumeScan)
}

func (s *Server) stopScan(w http.ResponseWriter, r *http.Request) {
	s.controlScan(w, r, s.scans.StopScan)
}

// controlScan applies action to the scan named in the path. Transitions the
// scan refuses are not errors; the response carries the resulting state.
func (s *Server) controlScan(w http.ResponseWriter, r *http.Request, action func(int)) {
	scan, ok := s.lookupScan(w, r)
	if !ok {
		return
	}
	action(scan.ID())
	writeJSON(w, http.StatusOK, map[string]any{"scan_id": scan.ID(), "state": scan.State()})
}

func (s *Server) removeScan(w http.ResponseWriter, r *http.Request) {
	id, ok := parseScanID(w, r)
	if !ok {
		return
	}
	scan, ok := s.scans.RemoveScan(id)
	if !ok {
		writeError(w, http.StatusNotFound, "scan not found")
		return
	}
	writeJSON(w, http.StatusOK, scan.Summary())
}

func (s *Server) removeAllScans(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]int{"removed": s.scans.RemoveAllScans()})
}

func (s *Server) removeFinishedScans(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]int{"removed": s.scans.RemoveFinishedScans()})
}

func (s *Server) pauseAllScans(w http.ResponseWriter, _ *http.Request) {
	s.scans.PauseAllScans()
	writeJSON(w, http.StatusOK, map[string]string{"status": "paused"})
}

func (s *Server) resumeAllScans(w http.ResponseWriter, _ *http.Request) {
	s.scans.ResumeAllScans()
	writeJSON(w, http.StatusOK, map[string]string{"status": "resumed"})
}

func (s *Server) stopAllScans(w http.ResponseWriter, _ *http.Request) {
	s.scans.StopAllScans()
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

func (s *Server) lookupScan(w http.ResponseWriter, r *http.Request) (*spider.Scan, bool) {
	id, ok := parseScanID(w, r)
	if !ok {
		return nil, false
	}
	scan, ok := s.scans.Scan(id)
	if !ok {
		writeError(w, http.StatusNotFound, "scan not found")
		return nil, false
	}
	return scan, true
}

func parseScanID(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(chi.URLParam(r, "scan_id"))
	if err != nil || id < 0 {
		writeError(w, http.StatusBadRequest, "invalid scan id")
		return 0, false
	}
	return id, true
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequestID returns the id assigned to the request carried by ctx.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("request_id", RequestID(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered",
						zap.String("request_id", RequestID(r.Context())),
						zap.Any("error", rec),
					)
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
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

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

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
