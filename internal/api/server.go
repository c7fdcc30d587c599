package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"mediagrab/pkg/events"
	"mediagrab/pkg/logger"
	"mediagrab/pkg/models"
)

// Controller is the run coordinator as seen by the API
type Controller interface {
	Start(ctx context.Context, target models.Target, cfg models.RunConfig) error
	Stop(ctx context.Context, target models.Target) error
	Reset(ctx context.Context, target models.Target) error
	Result(ctx context.Context, target models.Target) (models.Result, error)
	State(target models.Target) models.RunState
}

// Subscriber hands out event subscriptions
type Subscriber interface {
	Subscribe(buffer int) (<-chan events.Event, func())
}

// Server exposes start, stop, reset, result and an event stream over HTTP
type Server struct {
	ctrl     Controller
	events   Subscriber
	defaults models.RunConfig
	logger   logger.Logger
}

// New creates the API server. defaults fill fields a start request leaves out.
func New(ctrl Controller, sub Subscriber, defaults models.RunConfig, log logger.Logger) *Server {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Server{
		ctrl:     ctrl,
		events:   sub,
		defaults: defaults,
		logger:   logger.Component(log, "api"),
	}
}

// Router builds the chi router
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Route("/api", func(r chi.Router) {
		r.Post("/start", s.handleStart)
		r.Post("/stop", s.handleStop)
		r.Post("/reset", s.handleReset)
		r.Get("/result", s.handleResult)
		r.Get("/state", s.handleState)
		r.Get("/events", s.handleEvents)
	})
	return r
}

// ListenAndServe serves until ctx is cancelled
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.InfoWithFields("API listening", map[string]interface{}{
			"addr": addr,
		})
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return fmt.Errorf("api server failed: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.DebugWithFields("HTTP request", map[string]interface{}{
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     ww.Status(),
			"duration":   time.Since(start),
			"request_id": middleware.GetReqID(r.Context()),
		})
	})
}

// StartRequest is the body of POST /api/start. Durations are milliseconds.
type StartRequest struct {
	Target      string `json:"target"`
	ArchiveName string `json:"archive_name,omitempty"`
	Folder      string `json:"folder,omitempty"`
	StepPx      int    `json:"step_px,omitempty"`
	IntervalMs  int    `json:"interval_ms,omitempty"`
	ScanEveryMs int    `json:"scan_every_ms,omitempty"`
	StallMs     int    `json:"stall_ms,omitempty"`
}

// TargetRequest is the body of stop and reset
type TargetRequest struct {
	Target string `json:"target"`
}

// Ack answers every command
type Ack struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

func (s *Server) runConfig(req StartRequest) models.RunConfig {
	cfg := s.defaults
	if req.ArchiveName != "" {
		cfg.ArchiveName = req.ArchiveName
	}
	if req.Folder != "" {
		cfg.Folder = req.Folder
	}
	if req.StepPx != 0 {
		cfg.Scroll.StepPx = req.StepPx
	}
	if req.IntervalMs != 0 {
		cfg.Scroll.Interval = time.Duration(req.IntervalMs) * time.Millisecond
	}
	if req.ScanEveryMs != 0 {
		cfg.Scroll.ScanEvery = time.Duration(req.ScanEveryMs) * time.Millisecond
	}
	if req.StallMs != 0 {
		cfg.Scroll.StallAfter = time.Duration(req.StallMs) * time.Millisecond
	}
	return cfg
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req StartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAck(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	target := strings.TrimSpace(req.Target)
	if target == "" {
		writeAck(w, http.StatusBadRequest, fmt.Errorf("target is required"))
		return
	}

	if err := s.ctrl.Start(r.Context(), models.Target(target), s.runConfig(req)); err != nil {
		s.logger.WarnWithFields("Start rejected", map[string]interface{}{
			"target": target,
			"error":  err.Error(),
		})
		writeAck(w, http.StatusUnprocessableEntity, err)
		return
	}
	writeAck(w, http.StatusOK, nil)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.handleTargetCommand(w, r, s.ctrl.Stop)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	s.handleTargetCommand(w, r, s.ctrl.Reset)
}

func (s *Server) handleTargetCommand(w http.ResponseWriter, r *http.Request, cmd func(context.Context, models.Target) error) {
	var req TargetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAck(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if strings.TrimSpace(req.Target) == "" {
		writeAck(w, http.StatusBadRequest, fmt.Errorf("target is required"))
		return
	}
	if err := cmd(r.Context(), models.Target(strings.TrimSpace(req.Target))); err != nil {
		writeAck(w, http.StatusInternalServerError, err)
		return
	}
	writeAck(w, http.StatusOK, nil)
}

func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	target := r.URL.Query().Get("target")
	if target == "" {
		writeAck(w, http.StatusBadRequest, fmt.Errorf("target is required"))
		return
	}
	result, err := s.ctrl.Result(r.Context(), models.Target(target))
	if err != nil {
		writeAck(w, http.StatusInternalServerError, err)
		return
	}
	if result.Images == nil {
		result.Images = []string{}
	}
	if result.Videos == nil {
		result.Videos = []string{}
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	target := r.URL.Query().Get("target")
	if target == "" {
		writeAck(w, http.StatusBadRequest, fmt.Errorf("target is required"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"target": target,
		"state":  s.ctrl.State(models.Target(target)),
	})
}

// handleEvents streams bus events as server-sent events. A slow client
// misses events rather than stalling the bus.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeAck(w, http.StatusInternalServerError, fmt.Errorf("streaming unsupported"))
		return
	}
	filter := models.Target(r.URL.Query().Get("target"))

	ch, cancel := s.events.Subscribe(64)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			if filter != "" && e.Target != "" && e.Target != filter {
				continue
			}
			data, err := json.Marshal(e)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.Type, data)
			flusher.Flush()
		}
	}
}

func writeAck(w http.ResponseWriter, status int, err error) {
	ack := Ack{OK: err == nil}
	if err != nil {
		ack.Error = err.Error()
	}
	writeJSON(w, status, ack)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
