package daemon

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"voicelog/internal/config"
	"voicelog/internal/ledger"
	"voicelog/internal/logging"
	"voicelog/internal/services"
	"voicelog/internal/workflow"
)

// LedgerListResponse is the body of GET /api/ledger.
type LedgerListResponse struct {
	Entries []*ledger.Entry `json:"entries"`
}

// ActionResponse is returned by the control endpoints.
type ActionResponse struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

type apiServer struct {
	bind   string
	logger *slog.Logger
	daemon *Daemon

	listener net.Listener
	server   *http.Server
}

// newAPIServer returns nil when no bind address is configured.
func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) (*apiServer, error) {
	if cfg == nil || d == nil {
		return nil, nil
	}
	bind := strings.TrimSpace(cfg.App.APIBind)
	if bind == "" {
		return nil, nil
	}
	srv := &apiServer{
		bind:   bind,
		logger: logging.NewComponentLogger(logger, "api-server"),
		daemon: d,
	}
	srv.server = &http.Server{
		Handler:           srv.routes(cfg.App.APIToken),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv, nil
}

func (s *apiServer) routes(token string) chi.Router {
	r := chi.NewRouter()
	r.Get("/health", s.handleHealth)
	r.Group(func(r chi.Router) {
		r.Use(authMiddleware(token))
		r.Get("/api/status", s.handleStatus)
		r.Post("/api/pause", s.handlePause)
		r.Post("/api/resume", s.handleResume)
		r.Post("/api/run", s.handleRun)
		r.Post("/api/stop", s.handleStop)
		r.Get("/api/ledger", s.handleLedger)
	})
	return r
}

func (s *apiServer) start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("api server listening",
		logging.String("address", listener.Addr().String()),
		logging.String(logging.FieldEventType, "api_server_start"),
	)
	return nil
}

func (s *apiServer) stop() {
	if s == nil {
		return
	}
	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
}

func (s *apiServer) address() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *apiServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	stages := s.daemon.workflow.StageHealth(r.Context())
	code := http.StatusOK
	if !workflow.Ready(stages) {
		code = http.StatusServiceUnavailable
	}
	s.writeJSON(w, code, map[string]any{
		"ready":  code == http.StatusOK,
		"stages": stages,
	})
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.daemon.Status(r.Context()))
}

func (s *apiServer) handlePause(w http.ResponseWriter, _ *http.Request) {
	s.daemon.Pause()
	s.writeJSON(w, http.StatusOK, ActionResponse{OK: true, Message: "ingestion paused"})
}

func (s *apiServer) handleResume(w http.ResponseWriter, _ *http.Request) {
	s.daemon.Resume()
	s.writeJSON(w, http.StatusOK, ActionResponse{OK: true, Message: "ingestion resumed"})
}

func (s *apiServer) handleRun(w http.ResponseWriter, _ *http.Request) {
	if !s.daemon.RunOnce() {
		s.writeJSON(w, http.StatusConflict, ActionResponse{Message: "request dropped: a cycle is already running"})
		return
	}
	s.writeJSON(w, http.StatusAccepted, ActionResponse{OK: true, Message: "cycle started"})
}

func (s *apiServer) handleStop(w http.ResponseWriter, _ *http.Request) {
	s.logger.Info("stop requested over http", logging.String(logging.FieldEventType, "api_stop_requested"))
	s.daemon.Shutdown()
	s.writeJSON(w, http.StatusAccepted, ActionResponse{OK: true, Message: "daemon stopping"})
}

func (s *apiServer) handleLedger(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := ledger.Filter{
		FailedOnly:     truthy(query.Get("failed")),
		AwaitingDelete: truthy(query.Get("awaiting_delete")),
	}
	if value := strings.TrimSpace(query.Get("limit")); value != "" {
		limit, err := strconv.Atoi(value)
		if err != nil || limit < 0 {
			s.writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		filter.Limit = limit
	}
	entries, err := s.daemon.ListLedger(r.Context(), filter)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, services.Details(err).Message)
		return
	}
	if entries == nil {
		entries = []*ledger.Entry{}
	}
	s.writeJSON(w, http.StatusOK, LedgerListResponse{Entries: entries})
}

func truthy(value string) bool {
	return value == "1" || strings.EqualFold(value, "true")
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

// authMiddleware validates bearer tokens. An empty token disables the check.
func authMiddleware(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if token == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			presented, ok := strings.CutPrefix(auth, "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"error":"unauthorized"}` + "\n"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
