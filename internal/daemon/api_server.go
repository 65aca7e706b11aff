package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"callscribe/internal/auth"
	"callscribe/internal/config"
	"callscribe/internal/logging"
	"callscribe/internal/queue"
	"callscribe/internal/services"
	"callscribe/internal/session"
)

// maxSegmentBody bounds a POST /api/segments body. Audio is base64 encoded.
const maxSegmentBody = 32 << 20

type apiServer struct {
	bind   string
	logger *slog.Logger
	daemon *Daemon
	router chi.Router

	mu       sync.Mutex
	listener net.Listener
	server   *http.Server
}

// startRequest is the POST /api/sessions body.
type startRequest struct {
	session.MeetingInfo
	External   bool `json:"external"`
	Transcribe bool `json:"transcribe"`
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) *apiServer {
	s := &apiServer{
		bind:   strings.TrimSpace(cfg.Daemon.APIBind),
		logger: logging.NewComponentLogger(logger, "api-server"),
		daemon: d,
	}
	s.router = s.routes(cfg)
	return s
}

func (s *apiServer) routes(cfg *config.Config) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.Daemon.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// The hub authenticates its own upgrade requests.
	r.Handle("/ws/privileged", s.daemon.hub)

	r.Route("/api", func(api chi.Router) {
		api.Use(auth.Middleware(cfg.Daemon.APISecret))
		api.Get("/status", s.handleStatus)
		api.Get("/logs", s.handleLogs)
		api.Route("/sessions", func(sr chi.Router) {
			sr.Get("/", s.handleSessions)
			sr.Post("/", s.handleStartSession)
			sr.Get("/{id}", s.handleSession)
			sr.Post("/{id}/stop", s.handleStopSession)
			sr.Post("/{id}/transcribe", s.handleTranscribe)
		})
		api.Post("/segments", s.handleSegment)
		api.Post("/queue/reset", s.handleQueueReset)
		api.Post("/queue/resume", s.handleQueueResume)
	})
	return r
}

func (s *apiServer) start(ctx context.Context) error {
	if s.bind == "" {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	server := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}
	s.mu.Lock()
	s.listener = listener
	s.server = server
	s.mu.Unlock()

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()

	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	s.mu.Lock()
	server := s.server
	s.server = nil
	s.listener = nil
	s.mu.Unlock()
	if server == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)
}

func (s *apiServer) address() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *apiServer) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("api request",
			logging.String("method", r.Method),
			logging.String("path", r.URL.Path),
			logging.Int("status", ww.Status()),
			logging.Duration("elapsed", time.Since(start)),
			logging.String(logging.FieldCorrelationID, middleware.GetReqID(r.Context())),
		)
	})
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.daemon.Status(r.Context()))
}

func (s *apiServer) handleSessions(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	sessions, err := s.daemon.Sessions(r.Context(), limit)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

func (s *apiServer) handleSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.daemon.Session(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, sess)
}

func (s *apiServer) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	sess, err := s.daemon.StartSession(r.Context(), req.MeetingInfo, session.StartOptions{
		External:   req.External,
		Transcribe: req.Transcribe,
	})
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, sess)
}

func (s *apiServer) handleStopSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.daemon.StopSession(r.Context(), sessionParam(r))
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, sess)
}

func (s *apiServer) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	sess, err := s.daemon.EnableTranscription(r.Context(), sessionParam(r))
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, sess)
}

func (s *apiServer) handleSegment(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxSegmentBody)
	var req session.CaptureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeError(w, http.StatusRequestEntityTooLarge, "segment too large")
			return
		}
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	seg, err := s.daemon.CaptureSegment(r.Context(), req)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]any{
		"session_id": seg.SessionID,
		"sequence":   seg.Sequence,
		"bytes":      seg.Size(),
	})
}

func (s *apiServer) handleQueueReset(w http.ResponseWriter, r *http.Request) {
	discarded := s.daemon.QueueReset(r.Context())
	s.writeJSON(w, http.StatusOK, map[string]int{"discarded": discarded})
}

func (s *apiServer) handleQueueResume(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.daemon.QueueResume(r.Context()))
}

func (s *apiServer) handleLogs(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	since, _ := strconv.ParseUint(query.Get("since"), 10, 64)
	limit, _ := strconv.Atoi(query.Get("limit"))
	if limit <= 0 {
		limit = 200
	}
	events, next := s.daemon.Logs(since, limit)
	component := strings.TrimSpace(query.Get("component"))
	sessionID := strings.TrimSpace(query.Get("session"))
	filtered := events[:0:0]
	for _, evt := range events {
		if component != "" && !strings.EqualFold(component, evt.Component) {
			continue
		}
		if sessionID != "" && evt.SessionID != sessionID {
			continue
		}
		filtered = append(filtered, evt)
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"events": filtered, "next": next})
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrSessionConflict),
		errors.Is(err, session.ErrNoActiveSession),
		errors.Is(err, session.ErrInvalidTransition),
		errors.Is(err, session.ErrNoLocalCapture):
		return http.StatusConflict
	case errors.Is(err, queue.ErrQueuePaused):
		return http.StatusServiceUnavailable
	case errors.Is(err, services.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, services.ErrTransient):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// sessionParam maps the "active" alias to an empty id, which the daemon
// resolves to the active session.
func sessionParam(r *http.Request) string {
	id := chi.URLParam(r, "id")
	if id == "active" {
		return ""
	}
	return id
}

func (s *apiServer) writeFailure(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Warn("api request failed", logging.Error(err), logging.Int("status", status))
	}
	s.writeError(w, status, err.Error())
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
