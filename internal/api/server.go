package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/scoutlab/scholarhunt/internal/config"
	"github.com/scoutlab/scholarhunt/internal/coordinator"
	"github.com/scoutlab/scholarhunt/internal/hunter"
	"github.com/scoutlab/scholarhunt/internal/metrics"
	"github.com/scoutlab/scholarhunt/internal/pipeline"
)

const logTailLines = 10

// Server wires HTTP handlers to the coordinator and pipeline runner.
type Server struct {
	router chi.Router
	coord  *coordinator.Coordinator
	runner *pipeline.Runner
	idGen  hunter.IDGenerator
	cfg    config.Config
	logger *zap.Logger

	mu        sync.Mutex
	lastJobID string
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	coord *coordinator.Coordinator,
	runner *pipeline.Runner,
	idGen hunter.IDGenerator,
	cfg config.Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		coord:  coord,
		runner: runner,
		idGen:  idGen,
		cfg:    cfg,
		logger: logger,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(60 * time.Second))
	if cfg.Auth.Enabled {
		r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
	}

	r.Get("/healthz", s.healthz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Get("/status", s.status)
	r.Post("/run", s.run)
	r.Get("/queue", s.queue)
	r.Get("/jobs/{job_id}", s.jobStatus)
	r.Post("/terminate", s.terminate)

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

type runRequest struct {
	User         string   `json:"user"`
	Keywords     string   `json:"keywords"`
	Recipient    string   `json:"recipient"`
	PositionType string   `json:"position_type"`
	SearchTypes  []string `json:"search_types"`
}

func (r runRequest) toParams(cfg config.Config) hunter.RunParams {
	params := hunter.RunParams{
		User:      r.User,
		Keywords:  r.Keywords,
		Recipient: r.Recipient,
	}
	if params.User == "" {
		params.User = "dashboard"
	}
	if params.Recipient == "" {
		params.Recipient = cfg.SMTP.Recipient
	}
	switch r.PositionType {
	case string(hunter.PositionPostDoc):
		params.PositionType = hunter.PositionPostDoc
	case string(hunter.PositionPhD):
		params.PositionType = hunter.PositionPhD
	default:
		params.PositionType = hunter.PositionType(cfg.Run.DefaultPositionType)
	}
	for _, st := range r.SearchTypes {
		switch hunter.SearchType(st) {
		case hunter.SearchOpen, hunter.SearchInquiry, hunter.SearchProfessors:
			params.SearchTypes = append(params.SearchTypes, hunter.SearchType(st))
		}
	}
	return params
}

// run starts a pipeline run immediately when the coordinator is free, or
// queues it behind the current run. Both outcomes are 202: the work
// always happens after the response.
func (s *Server) run(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON")
			return
		}
	}
	params := req.toParams(s.cfg)

	if s.coord.IsLocked() {
		jobID, err := s.coord.Enqueue(params)
		if err != nil {
			s.logger.Error("enqueue failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to queue run")
			return
		}
		metrics.SetQueueDepth(s.coord.QueueLen())
		writeJSON(w, http.StatusAccepted, map[string]any{
			"status":   "queued",
			"job_id":   jobID,
			"position": s.coord.Position(jobID),
		})
		return
	}

	token, ok := s.coord.Acquire("dashboard", params)
	if !ok {
		// Lost the race with another caller; queue instead.
		jobID, err := s.coord.Enqueue(params)
		if err != nil {
			s.logger.Error("enqueue failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to queue run")
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]any{
			"status":   "queued",
			"job_id":   jobID,
			"position": s.coord.Position(jobID),
		})
		return
	}

	jobID, err := s.idGen.NewID()
	if err != nil {
		s.coord.Release(token)
		s.logger.Error("generate job id failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to start run")
		return
	}

	s.mu.Lock()
	s.lastJobID = jobID
	s.mu.Unlock()

	go func() {
		if err := s.runner.Execute(context.Background(), "dashboard", jobID, token, params); err != nil {
			s.logger.Warn("dashboard run failed", zap.String("job_id", jobID), zap.Error(err))
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]any{
		"status": "started",
		"job_id": jobID,
	})
}

func (s *Server) status(w http.ResponseWriter, _ *http.Request) {
	payload := map[string]any{
		"locked":       s.coord.IsLocked(),
		"queue_length": s.coord.QueueLen(),
	}
	if info := s.coord.LockInfo(); info != nil {
		payload["lock"] = info
	}

	s.mu.Lock()
	lastJobID := s.lastJobID
	s.mu.Unlock()
	if lastJobID != "" {
		if state, err := s.coord.Status(lastJobID); err == nil && state != nil {
			payload["last_job"] = map[string]any{
				"job_id":   state.JobID,
				"status":   state.Status,
				"result":   state.Result,
				"log_tail": tailLines(state.LogOutput, logTailLines),
			}
		}
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *Server) queue(w http.ResponseWriter, _ *http.Request) {
	entries := s.coord.Queue()
	writeJSON(w, http.StatusOK, map[string]any{
		"length":  len(entries),
		"entries": entries,
	})
}

func (s *Server) jobStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	state, err := s.coord.Status(jobID)
	if err != nil {
		s.logger.Error("read job status failed", zap.String("job_id", jobID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load job")
		return
	}
	if state == nil {
		// A queued job has no status file yet; report its position.
		if pos := s.coord.Position(jobID); pos > 0 {
			writeJSON(w, http.StatusOK, map[string]any{
				"job_id":   jobID,
				"status":   coordinator.StatusQueued,
				"position": pos,
			})
			return
		}
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) terminate(w http.ResponseWriter, _ *http.Request) {
	s.coord.Terminate(s.cfg.TerminateGrace())
	metrics.SetQueueDepth(0)
	writeJSON(w, http.StatusOK, map[string]string{"status": "terminated"})
}

func tailLines(text string, n int) string {
	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
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
					logger.Error("panic recovered", zap.Any("error", rec))
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

type requestIDKey struct{}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
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
