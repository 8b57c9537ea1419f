package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"whisperflow/internal/api"
	"whisperflow/internal/credentials"
	"whisperflow/internal/logging"
	"whisperflow/internal/media"
	"whisperflow/internal/observe"
	"whisperflow/internal/pipeline"
	"whisperflow/internal/preflight"
)

// Ingester turns an upload into a waveform.
type Ingester interface {
	Load(ctx context.Context, up media.Upload) (media.Waveform, error)
}

// TokenSource supplies the Hugging Face token for diarization.
type TokenSource interface {
	Token() (string, credentials.Source, error)
}

// Config holds the listener and request limits.
type Config struct {
	Bind           string
	MaxUploadBytes int64
	// Defaults seed options the client does not send.
	Defaults pipeline.Options
}

// Dependencies are the collaborators the server drives.
type Dependencies struct {
	Models    pipeline.Models
	Ingest    Ingester
	Tokens    TokenSource
	Lock      *pipeline.RunLock
	Fallback  pipeline.AlignmentFallback
	Telemetry *observe.Provider
	// Health reports readiness for /healthz; nil reports no checks.
	Health func(ctx context.Context) []preflight.Result
	Logger *slog.Logger
}

// Server is the HTTP front end of the pipeline.
type Server struct {
	cfg     Config
	deps    Dependencies
	orch    *pipeline.Orchestrator
	hub     *hub
	metrics *observe.Metrics
	logger  *slog.Logger

	upgrader websocket.Upgrader

	runCtx    context.Context
	cancelRun context.CancelFunc
	runs      sync.WaitGroup
	active    atomic.Bool

	mu   sync.Mutex
	last *entry
}

// entry is the retained run plus the waveform backing it.
type entry struct {
	run  *pipeline.Run
	wave media.Waveform
	done chan struct{}
}

// New builds a server. Ingest and Lock are required.
func New(cfg Config, deps Dependencies) (*Server, error) {
	if deps.Ingest == nil {
		return nil, errors.New("server: ingester required")
	}
	if deps.Lock == nil {
		deps.Lock = pipeline.NewRunLock("")
	}
	if cfg.Defaults.BatchSize == 0 {
		cfg.Defaults = pipeline.DefaultOptions()
	}
	s := &Server{
		cfg:    cfg,
		deps:   deps,
		hub:    newHub(),
		logger: logging.NewComponentLogger(deps.Logger, "server"),
	}
	if deps.Telemetry != nil {
		s.metrics = deps.Telemetry.Metrics
	}
	s.runCtx, s.cancelRun = context.WithCancel(context.Background())
	s.orch = pipeline.New(deps.Models,
		pipeline.WithLogger(deps.Logger),
		pipeline.WithAlignmentFallback(deps.Fallback),
		pipeline.WithProgress(s.hub.publish),
		pipeline.WithStageObserver(s.metrics.ObserveStage),
	)
	return s, nil
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	wrap := observe.Middleware(s.metrics, s.logger)
	route := func(pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, wrap(pattern, h))
	}
	route("POST /api/transcriptions", s.handleCreate)
	route("GET /api/transcriptions/{id}", s.handleGet)
	route("GET /api/transcriptions/{id}/subtitles", s.handleSubtitles)
	route("GET /api/transcriptions/{id}/events", s.handleEvents)
	route("GET /healthz", s.handleHealth)
	if s.deps.Telemetry != nil {
		mux.Handle("GET /metrics", s.deps.Telemetry.Handler())
	}
	return mux
}

// Run serves until ctx is cancelled, then shuts down and waits for the
// in-flight run to reach a terminal state.
func (s *Server) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.cfg.Bind)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	s.logger.Info("server listening",
		logging.String(logging.FieldEventType, "server_listen"),
		logging.String("address", listener.Addr().String()),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		s.Close()
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	shutdownErr := srv.Shutdown(shutdownCtx)
	s.Close()
	return shutdownErr
}

// Close cancels the in-flight run between stages and waits for it to finish.
func (s *Server) Close() {
	s.cancelRun()
	s.runs.Wait()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last != nil {
		_ = s.last.wave.Cleanup()
		s.last = nil
	}
}

func (s *Server) lookup(id string) *entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil || s.last.run.ID() != id {
		return nil
	}
	return s.last
}

// retain replaces the retained run, discarding the previous one.
func (s *Server) retain(e *entry) {
	s.mu.Lock()
	prev := s.last
	s.last = e
	s.mu.Unlock()
	if prev != nil {
		_ = prev.wave.Cleanup()
	}
}

func (s *Server) discard(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last != nil && s.last.run.ID() == id {
		_ = s.last.wave.Cleanup()
		s.last = nil
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", logging.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	s.writeJSON(w, statusFor(err), api.ErrorResponse{Error: api.FromError(err)})
}
