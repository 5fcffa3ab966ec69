// ABOUTME: HTTP API for the relay: agent provisioning, file inquiries and
// ABOUTME: fetches, the upload delivery endpoint, and the agent WebSocket mount.

// Package api provides the relay HTTP surface. Admin routes are gated by
// bearer tokens; the upload route is gated by single-use upload tokens
// issued over the agent channel.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/vanogrid/slskd/internal/auth"
	"github.com/vanogrid/slskd/internal/relay"
	"github.com/vanogrid/slskd/internal/store"
	"github.com/vanogrid/slskd/internal/transport"
)

// uploadTokenHeader carries the single-use upload token on deliveries.
const uploadTokenHeader = "X-Upload-Token"

// Server is the relay HTTP API server.
type Server struct {
	coordinator *relay.Coordinator
	store       *store.SQLiteStore
	transport   *transport.Server
	verifier    auth.TokenVerifier
	logger      *slog.Logger
	mux         *chi.Mux
}

// NewServer creates the API server and wires its routes.
func NewServer(c *relay.Coordinator, st *store.SQLiteStore, tr *transport.Server, verifier auth.TokenVerifier, logger *slog.Logger) *Server {
	srv := &Server{
		coordinator: c,
		store:       st,
		transport:   tr,
		verifier:    verifier,
		logger:      logger.With("component", "api"),
	}

	mux := chi.NewRouter()
	mux.Use(chimw.Recoverer)
	mux.Use(chimw.RealIP)

	mux.Get("/healthz", srv.handleHealthz)

	// Agent channel (challenge/response auth happens inside).
	mux.Get("/ws/agents", tr.HandleAgentWS)

	// Upload deliveries are authorized by a redeemed upload token, not a JWT.
	mux.Put("/api/v0/uploads/{id}", srv.handleUploadDelivery)

	mux.Route("/api/v0", func(r chi.Router) {
		r.Use(auth.Middleware(verifier))

		r.Get("/agents", srv.handleListAgents)
		r.Post("/agents", srv.handleCreateAgent)
		r.Delete("/agents/{name}", srv.handleDeleteAgent)
		r.Get("/agents/{name}/files/{filename}/info", srv.handleFileInfo)
		r.Get("/agents/{name}/files/{filename}", srv.handleFileFetch)
		r.Get("/audit", srv.handleListAudit)
	})

	srv.mux = mux
	return srv
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"agents": s.transport.ConnCount(),
	})
}

// agentView is the API projection of a provisioned agent.
type agentView struct {
	Name      string     `json:"name"`
	Online    bool       `json:"online"`
	CreatedAt time.Time  `json:"created_at"`
	LastLogin *time.Time `json:"last_login,omitempty"`
}

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := s.store.ListAgents(r.Context())
	if err != nil {
		s.logger.Error("listing agents", "error", err)
		writeError(w, http.StatusInternalServerError, "listing agents failed")
		return
	}

	views := make([]agentView, 0, len(agents))
	for _, a := range agents {
		views = append(views, agentView{
			Name:      a.Name,
			Online:    s.coordinator.IsOnline(a.Name),
			CreatedAt: a.CreatedAt,
			LastLogin: a.LastLogin,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"agents": views})
}

func (s *Server) handleCreateAgent(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	secret, err := s.store.CreateAgent(r.Context(), req.Name)
	if err != nil {
		if errors.Is(err, store.ErrDuplicateAgent) {
			writeError(w, http.StatusConflict, "agent already exists")
			return
		}
		s.logger.Error("creating agent", "agent", req.Name, "error", err)
		writeError(w, http.StatusInternalServerError, "creating agent failed")
		return
	}

	// The secret is shown once; only its HMAC use survives server-side.
	writeJSON(w, http.StatusCreated, map[string]string{
		"name":   req.Name,
		"secret": secret,
	})
}

func (s *Server) handleDeleteAgent(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := s.store.DeleteAgent(r.Context(), name); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "agent not found")
			return
		}
		s.logger.Error("deleting agent", "agent", name, "error", err)
		writeError(w, http.StatusInternalServerError, "deleting agent failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleFileInfo(w http.ResponseWriter, r *http.Request) {
	agentName := chi.URLParam(r, "name")
	filename := chi.URLParam(r, "filename")

	fut, err := s.coordinator.RequestFileInfo(agentName, filename)
	if err != nil {
		writeRelayError(w, err)
		return
	}

	info, err := fut.Wait(r.Context())
	if err != nil {
		writeRelayError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleFileFetch(w http.ResponseWriter, r *http.Request) {
	agentName := chi.URLParam(r, "name")
	filename := chi.URLParam(r, "filename")

	fut, err := s.coordinator.RequestFile(agentName, filename)
	if err != nil {
		writeRelayError(w, err)
		return
	}

	stream, err := fut.Wait(r.Context())
	if err != nil {
		writeRelayError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	if stream.Length > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(stream.Length, 10))
	}
	_, copyErr := io.Copy(w, stream.Body)
	stream.Finish(copyErr)
	if copyErr != nil {
		s.logger.Warn("file fetch interrupted", "agent", agentName, "filename", filename, "error", copyErr)
	}
}

// handleUploadDelivery receives the agent's out-of-band file push. The
// request body is handed to the waiting future and must stay readable until
// the consumer finishes, so this handler blocks for the transfer duration.
func (s *Server) handleUploadDelivery(w http.ResponseWriter, r *http.Request) {
	token := r.Header.Get(uploadTokenHeader)
	agentName, ok := s.coordinator.RedeemUploadToken(token)
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid upload token")
		return
	}

	correlationID := chi.URLParam(r, "id")
	filename := r.URL.Query().Get("filename")

	err := s.coordinator.DeliverUpload(r.Context(), agentName, correlationID, filename, r.ContentLength, r.Body)
	if err != nil {
		s.logger.Warn("upload delivery failed", "agent", agentName, "request_id", correlationID, "error", err)
		writeError(w, http.StatusConflict, "no pending upload for this id")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 1000 {
			limit = n
		}
	}

	entries, err := s.store.ListAudit(r.Context(), limit)
	if err != nil {
		s.logger.Error("listing audit entries", "error", err)
		writeError(w, http.StatusInternalServerError, "listing audit entries failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

// writeRelayError maps relay errors to HTTP statuses.
func writeRelayError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, relay.ErrAgentOffline):
		writeError(w, http.StatusBadGateway, "agent is not connected")
	case errors.Is(err, relay.ErrTimeout):
		writeError(w, http.StatusGatewayTimeout, "agent did not reply in time")
	case errors.Is(err, relay.ErrConnectionLost):
		writeError(w, http.StatusBadGateway, "agent disconnected")
	case errors.Is(err, relay.ErrUploadRejected):
		writeError(w, http.StatusNotFound, "agent could not provide the file")
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
