// ABOUTME: HTTP handlers for auth, provider settings, and health endpoints
// ABOUTME: Failure responses collapse through the shared 401 writer

package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/taskdeck/taskdeck/internal/auth"
	"github.com/taskdeck/taskdeck/internal/credential"
	"github.com/taskdeck/taskdeck/internal/settings"
)

// AllowlistPaths is the fixed bootstrap allowlist. Kept as an explicit,
// auditable list rather than inferred from path patterns. The event channel
// appears here because it is gated by its own single-use token at upgrade
// time, not by the session cookie.
var AllowlistPaths = []string{
	"/health",
	"/api/auth/status",
	"/api/auth/login",
	"/api/events",
}

// Handler carries the dependencies of the HTTP surface.
type Handler struct {
	login    *auth.LoginService
	sessions *auth.SessionManager
	realtime *auth.RealtimeTokenIssuer
	gate     *auth.Gate
	settings *settings.Store
	events   *EventHub
	logger   *slog.Logger
}

// New creates the API handler.
func New(login *auth.LoginService, sessions *auth.SessionManager, realtime *auth.RealtimeTokenIssuer, gate *auth.Gate, settingsStore *settings.Store, events *EventHub, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		login:    login,
		sessions: sessions,
		realtime: realtime,
		gate:     gate,
		settings: settingsStore,
		events:   events,
		logger:   logger.With("component", "api"),
	}
}

// RegisterRoutes registers all routes on the given mux. The gate middleware
// is applied by the server around the whole mux, so handlers here can rely
// on auth.IdentityFromContext for non-allowlisted paths.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/auth/status", h.handleAuthStatus)
	mux.HandleFunc("POST /api/auth/login", h.handleLogin)
	mux.HandleFunc("POST /api/auth/logout", h.handleLogout)
	mux.HandleFunc("GET /api/auth/realtime-token", h.handleRealtimeToken)

	mux.HandleFunc("GET /api/providers/{id}/auth-mode", h.handleGetAuthMode)
	mux.HandleFunc("PUT /api/providers/{id}/auth-mode", h.handleSetAuthMode)

	mux.HandleFunc("GET /api/events", h.handleEvents)
	mux.HandleFunc("GET /health", h.handleHealth)
}

// clientIdentity derives the rate-limit identity from the remote address.
func clientIdentity(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// writeJSON writes v with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// handleAuthStatus reports whether the request carries valid credentials.
// On the allowlist, so it must authenticate by itself.
func (h *Handler) handleAuthStatus(w http.ResponseWriter, r *http.Request) {
	_, ok := h.gate.Authenticate(r)
	writeJSON(w, http.StatusOK, map[string]bool{"authenticated": ok})
}

type loginRequest struct {
	Secret string `json:"secret"`
}

type loginResponse struct {
	Success bool   `json:"success"`
	Token   string `json:"token,omitempty"`
}

// handleLogin verifies the presented secret and sets the session cookie.
func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		// A malformed body is handled as a failed attempt: it must not be
		// distinguishable from a wrong secret, and it still costs budget.
		req.Secret = ""
	}

	identity := clientIdentity(r)
	session, err := h.login.Login(identity, req.Secret)
	switch {
	case errors.Is(err, auth.ErrRateLimited):
		if retry := h.login.RetryAfter(identity); retry > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(retry))
		}
		writeJSON(w, http.StatusTooManyRequests, loginResponse{Success: false})
		return
	case errors.Is(err, auth.ErrInvalidCredential):
		writeJSON(w, http.StatusUnauthorized, loginResponse{Success: false})
		return
	case err != nil:
		h.logger.Error("login failed internally", "error", err)
		writeJSON(w, http.StatusInternalServerError, loginResponse{Success: false})
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     auth.SessionCookieName,
		Value:    session.Token,
		Path:     "/",
		Expires:  session.ExpiresAt,
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})

	writeJSON(w, http.StatusOK, loginResponse{Success: true, Token: session.Token})
}

// handleLogout invalidates the current session and clears the cookie.
// Idempotent: logging out without a session still clears the cookie.
func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if id := auth.IdentityFromContext(r.Context()); id != nil && id.SessionToken != "" {
		h.sessions.Invalidate(id.SessionToken)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     auth.SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})

	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// handleRealtimeToken issues a single-use token for the event channel.
// Reaching here requires having passed the gate.
func (h *Handler) handleRealtimeToken(w http.ResponseWriter, r *http.Request) {
	token, err := h.realtime.Issue()
	if err != nil {
		h.logger.Error("realtime token issuance failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

// handleGetAuthMode returns the auth mode for one execution backend.
func (h *Handler) handleGetAuthMode(w http.ResponseWriter, r *http.Request) {
	backendID := r.PathValue("id")
	writeJSON(w, http.StatusOK, map[string]credential.AuthMode{"mode": h.settings.Mode(backendID)})
}

type setAuthModeRequest struct {
	Mode credential.AuthMode `json:"mode"`
}

// handleSetAuthMode persists a backend's auth mode. The change takes
// effect on the next outbound resolution.
func (h *Handler) handleSetAuthMode(w http.ResponseWriter, r *http.Request) {
	backendID := r.PathValue("id")

	var req setAuthModeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	if err := h.settings.SetMode(backendID, req.Mode); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]credential.AuthMode{"mode": req.Mode})
}

type healthResponse struct {
	Status             string `json:"status"`
	DurabilityDegraded bool   `json:"durability_degraded"`
	Time               string `json:"time"`
}

// handleHealth reports liveness and the session durability state, so an
// operator notices a silently degraded guarantee.
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:             "ok",
		DurabilityDegraded: h.sessions.Degraded(),
		Time:               time.Now().UTC().Format(time.RFC3339),
	})
}
