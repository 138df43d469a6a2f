package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/score-keeper/internal/domain"
	"github.com/score-keeper/internal/service"
	"github.com/score-keeper/internal/websocket"
)

// SignatureHeader carries the optional HMAC of the request body.
const SignatureHeader = "X-Signature"

// Handler provides HTTP handlers for the score API
type Handler struct {
	service *service.ScoreService
	hub     *websocket.Hub
	logger  *slog.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(service *service.ScoreService, hub *websocket.Hub, logger *slog.Logger) *Handler {
	return &Handler{
		service: service,
		hub:     hub,
		logger:  logger,
	}
}

// APIResponse represents a standard API response
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Message string      `json:"message,omitempty"`
}

// Router creates and configures the HTTP router
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	r.Use(corsMiddleware)

	// Health check
	r.Get("/health", h.HealthCheck)
	r.Get("/ready", h.ReadyCheck)

	// WebSocket endpoint
	r.Get("/ws", h.HandleWebSocket)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/scores", h.SubmitScore)
		r.Get("/scores/{userKey}", h.GetBestScore)

		r.Get("/leaderboard", h.GetLeaderboard)
		r.Get("/stats", h.GetStats)

		r.Route("/referrals", func(r chi.Router) {
			r.Post("/", h.RegisterReferral)
			r.Get("/{userKey}/link", h.GetReferralLink)
		})

		r.Post("/admin/reset", h.ResetStore)
	})

	return r
}

// corsMiddleware adds CORS headers
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, X-Request-ID, "+SignatureHeader)

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// clientKey identifies the originating client for rate limiting.
func clientKey(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeSuccess writes a successful JSON response
func (h *Handler) writeSuccess(w http.ResponseWriter, data interface{}) {
	h.writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    data,
	})
}

// writeError maps a service error onto the HTTP error taxonomy.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrInvalidSignature):
		status = http.StatusForbidden
	case errors.Is(err, domain.ErrRateLimited):
		status = http.StatusTooManyRequests
	case errors.Is(err, domain.ErrReferralNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrCorruptState):
		h.logger.Error("request failed", "error", err)
		err = domain.ErrCorruptState
	default:
		// Storage faults are never masked as empty results.
		h.logger.Error("request failed", "error", err)
		err = domain.ErrStorageUnavailable
	}
	h.writeJSON(w, status, APIResponse{
		Success: false,
		Error:   err.Error(),
	})
}

// HandleWebSocket handles WebSocket upgrade requests
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	websocket.ServeWs(h.hub, h.logger, w, r)
}

// HealthCheck returns service health status
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, map[string]string{"status": "healthy"})
}

// ReadyCheck returns service readiness status
func (h *Handler) ReadyCheck(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, map[string]string{"status": "ready"})
}

// GetBestScore returns a player's best score, 0 for unknown players.
func (h *Handler) GetBestScore(w http.ResponseWriter, r *http.Request) {
	userKey := chi.URLParam(r, "userKey")
	if userKey == "" {
		h.writeError(w, domain.ErrInvalidInput)
		return
	}

	best, err := h.service.FetchScore(r.Context(), userKey)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeSuccess(w, map[string]int64{"best_score": best})
}

// SubmitScore handles score submission
func (h *Handler) SubmitScore(w http.ResponseWriter, r *http.Request) {
	var req domain.SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, domain.ErrInvalidInput)
		return
	}

	sig := r.Header.Get(SignatureHeader)
	if err := h.service.SubmitScore(r.Context(), req, sig, clientKey(r)); err != nil {
		h.writeError(w, err)
		return
	}

	h.writeSuccess(w, nil)
}

// GetLeaderboard returns ranked top entries
func (h *Handler) GetLeaderboard(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil {
			limit = l
		}
	}

	entries, err := h.service.Leaderboard(r.Context(), limit)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeSuccess(w, entries)
}

// GetStats returns aggregate leaderboard statistics
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.Stats(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeSuccess(w, stats)
}

// GetReferralLink returns the player's invite link, minting a code on first
// request.
func (h *Handler) GetReferralLink(w http.ResponseWriter, r *http.Request) {
	userKey := chi.URLParam(r, "userKey")
	if userKey == "" {
		h.writeError(w, domain.ErrInvalidInput)
		return
	}

	link, err := h.service.ReferralLink(r.Context(), userKey)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeSuccess(w, map[string]string{"referral_link": link})
}

// RegisterReferral links a player to the owner of a referral code. Duplicate
// registrations report success=false with a message rather than an error
// status.
func (h *Handler) RegisterReferral(w http.ResponseWriter, r *http.Request) {
	var req domain.RegisterReferralRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, domain.ErrInvalidInput)
		return
	}

	err := h.service.RegisterReferral(r.Context(), req.UserKey, req.ReferralCode)
	switch {
	case err == nil:
		h.writeJSON(w, http.StatusOK, APIResponse{
			Success: true,
			Message: "referral registered",
		})
	case errors.Is(err, domain.ErrAlreadyReferred), errors.Is(err, domain.ErrSelfReferral):
		h.writeJSON(w, http.StatusOK, APIResponse{
			Success: false,
			Message: err.Error(),
		})
	default:
		h.writeError(w, err)
	}
}

// ResetStore wipes all score records
func (h *Handler) ResetStore(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Reset(r.Context()); err != nil {
		h.writeError(w, err)
		return
	}

	h.writeSuccess(w, map[string]string{"status": "reset"})
}
