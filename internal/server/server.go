// Package server exposes the api facade over HTTP. Handlers stay thin:
// decode the request, call the facade, translate the error marker to a
// status code, and encode the DTO.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"log/slog"

	"tsumugi/internal/api"
	"tsumugi/internal/config"
	"tsumugi/internal/logging"
	"tsumugi/internal/services"
)

// Server serves the enrichment API on the configured bind address.
type Server struct {
	bind   string
	logger *slog.Logger
	svc    *api.Service

	listener net.Listener
	server   *http.Server
}

// New builds a server around the facade. An empty bind address is a
// configuration error; use "127.0.0.1:0" to pick an ephemeral port.
func New(cfg *config.Config, svc *api.Service, logger *slog.Logger) (*Server, error) {
	bind := strings.TrimSpace(cfg.Paths.APIBind)
	if bind == "" {
		return nil, services.Wrap(
			services.ErrConfiguration,
			"server",
			"configure",
			"api bind address is empty",
			nil,
		)
	}

	srv := &Server{
		bind:   bind,
		logger: logger,
		svc:    svc,
	}

	token := cfg.Paths.APIToken
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", authMiddleware(token, srv.handleStatus))
	mux.HandleFunc("/api/characters", authMiddleware(token, srv.handleCharacters))
	mux.HandleFunc("/api/characters/", authMiddleware(token, srv.handleCharacterByID))
	mux.HandleFunc("/api/batch", authMiddleware(token, srv.handleBatch))
	mux.HandleFunc("/api/jobs", authMiddleware(token, srv.handleJobs))
	mux.HandleFunc("/api/jobs/", authMiddleware(token, srv.handleJobByID))
	mux.HandleFunc("/api/cache", authMiddleware(token, srv.handleCache))
	mux.HandleFunc("/api/cache/sweep", authMiddleware(token, srv.handleCacheSweep))

	srv.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv, nil
}

// Start begins listening and serving. The server shuts down when ctx is
// cancelled.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log().Error("api server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.log().Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

// Stop shuts the server down and releases the listener.
func (s *Server) Stop() {
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

// Addr reports the bound address once Start has succeeded.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	report, err := s.svc.Status(r.Context())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleCharacters(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		var statuses []string
		for _, value := range r.URL.Query()["status"] {
			if trimmed := strings.TrimSpace(value); trimmed != "" {
				statuses = append(statuses, trimmed)
			}
		}
		characters, err := s.svc.ListCharacters(r.Context(), statuses...)
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, characterListResponse{Characters: characters})
	case http.MethodPost:
		var req addCharacterRequest
		if err := decodeJSON(r, &req); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		character, err := s.svc.AddCharacter(r.Context(), req.Name, req.Series, req.Description)
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		s.writeJSON(w, http.StatusCreated, character)
	default:
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleCharacterByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/characters/")
	parts := strings.Split(rest, "/")
	if len(parts) == 0 || parts[0] == "" {
		s.writeError(w, http.StatusNotFound, "character not found")
		return
	}
	id, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid character id")
		return
	}

	switch {
	case len(parts) == 1 && r.Method == http.MethodGet:
		record, err := s.svc.DescribeCharacter(r.Context(), id)
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, record)
	case len(parts) == 1 && r.Method == http.MethodDelete:
		if err := s.svc.RemoveCharacter(r.Context(), id); err != nil {
			s.writeServiceError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]int64{"removed": id})
	case len(parts) == 2 && parts[1] == "enrich" && r.Method == http.MethodPost:
		var req api.EnrichRequest
		if err := decodeJSON(r, &req); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		req.CharacterID = id
		outcome, err := s.svc.EnrichOne(r.Context(), req)
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, outcome)
	case len(parts) == 2 && parts[1] == "protect" && r.Method == http.MethodPost:
		var req protectRequest
		if err := decodeJSON(r, &req); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		record, err := s.svc.SetProtection(r.Context(), id, req.Protected)
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, record)
	default:
		s.writeError(w, http.StatusNotFound, "character not found")
	}
}

func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req api.BatchRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	// Jobs outlive the request; the poll endpoints observe them.
	progress, err := s.svc.StartBatch(context.WithoutCancel(r.Context()), req)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, progress)
}

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.writeJSON(w, http.StatusOK, jobListResponse{Jobs: s.svc.Jobs()})
}

func (s *Server) handleJobByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/jobs/")
	parts := strings.Split(rest, "/")
	if len(parts) == 0 || parts[0] == "" {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}
	jobID := parts[0]

	switch {
	case len(parts) == 1 && r.Method == http.MethodGet:
		progress, err := s.svc.Job(jobID)
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, progress)
	case len(parts) == 2 && parts[1] == "summary" && r.Method == http.MethodGet:
		summary, err := s.svc.JobSummary(jobID)
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, summary)
	case len(parts) == 2 && parts[1] == "cancel" && r.Method == http.MethodPost:
		if err := s.svc.CancelJob(jobID); err != nil {
			s.writeServiceError(w, err)
			return
		}
		s.writeJSON(w, http.StatusAccepted, map[string]string{"cancelled": jobID})
	default:
		s.writeError(w, http.StatusNotFound, "job not found")
	}
}

func (s *Server) handleCache(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.writeJSON(w, http.StatusOK, s.svc.CacheStats())
	case http.MethodDelete:
		category := strings.TrimSpace(r.URL.Query().Get("category"))
		if category != "" {
			removed, err := s.svc.InvalidateCategory(category)
			if err != nil {
				s.writeServiceError(w, err)
				return
			}
			s.writeJSON(w, http.StatusOK, map[string]int{"removed": removed})
			return
		}
		removed, err := s.svc.ClearCache()
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]int{"removed": removed})
	default:
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleCacheSweep(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	removed, err := s.svc.SweepExpiredCache()
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int{"removed": removed})
}

type characterListResponse struct {
	Characters []api.CharacterSummary `json:"characters"`
}

type jobListResponse struct {
	Jobs []api.BatchProgress `json:"jobs"`
}

type addCharacterRequest struct {
	Name        string `json:"name"`
	Series      string `json:"series"`
	Description string `json:"description"`
}

type protectRequest struct {
	Protected bool `json:"protected"`
}

func decodeJSON(r *http.Request, dst any) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(dst)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// statusForError maps service error markers onto HTTP status codes.
func statusForError(err error) int {
	switch {
	case errors.Is(err, services.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrProtectedRecord), errors.Is(err, services.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, services.ErrConfiguration):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	s.writeError(w, statusForError(err), err.Error())
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log().Error("failed to encode response", logging.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

func (s *Server) log() *slog.Logger {
	if s.logger != nil {
		return s.logger.With(logging.String(logging.FieldComponent, "api-server"))
	}
	return logging.NewNop()
}
