// ABOUTME: HTTP middleware gating every inbound request
// ABOUTME: Allowlist, static secret header, or session cookie; single 401 shape

package auth

import (
	"log/slog"
	"net/http"
)

const (
	// SessionCookieName is the name of the session cookie.
	SessionCookieName = "taskdeck_session"

	// SecretHeaderName carries the shared secret verbatim for trusted
	// local clients that cannot persist cookies.
	SecretHeaderName = "X-Taskdeck-Secret"
)

// Gate intercepts every inbound request. Requests are admitted on a fixed
// bootstrap allowlist, via the static secret header, or via a valid session
// cookie; everything else is rejected with a single collapsed 401 shape
// that never distinguishes unknown, expired, or malformed credentials.
type Gate struct {
	secrets  *SecretStore
	sessions *SessionManager

	// allowlist is the fixed set of bootstrap paths (health check, login,
	// auth status). Exact paths only: matching patterns would make the
	// exposed surface impossible to audit.
	allowlist map[string]struct{}

	logger *slog.Logger
}

// NewGate creates the auth gate with the given bootstrap allowlist.
func NewGate(secrets *SecretStore, sessions *SessionManager, allowlist []string, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	set := make(map[string]struct{}, len(allowlist))
	for _, p := range allowlist {
		set[p] = struct{}{}
	}
	return &Gate{
		secrets:   secrets,
		sessions:  sessions,
		allowlist: set,
		logger:    logger.With("component", "gate"),
	}
}

// Authenticate inspects a request's credentials without writing a
// response. It backs both the middleware and the public auth-status
// endpoint. Validation of an expired session removes it as a side effect.
func (g *Gate) Authenticate(r *http.Request) (*Identity, bool) {
	if header := r.Header.Get(SecretHeaderName); header != "" {
		secret, err := g.secrets.Get()
		if err != nil {
			g.logger.Error("secret unavailable for header auth", "error", err)
		} else if SecretEqual(secret, header) {
			return &Identity{Method: MethodSecret}, true
		}
		// Wrong header falls through to the cookie check so that a stale
		// header on a browser request cannot lock out a valid session.
	}

	if cookie, err := r.Cookie(SessionCookieName); err == nil {
		if session, ok := g.sessions.Validate(cookie.Value); ok {
			return &Identity{Method: MethodSession, SessionToken: session.Token}, true
		}
	}

	return nil, false
}

// Middleware wraps next with the gate's state machine:
//
//	path in allowlist                    -> allow
//	secret header matches (constant time) -> allow, no session created
//	session cookie validates              -> allow, no rotation
//	otherwise                             -> 401
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := g.allowlist[r.URL.Path]; ok {
			next.ServeHTTP(w, r)
			return
		}

		identity, ok := g.Authenticate(r)
		if !ok {
			g.logger.Debug("request rejected", "path", r.URL.Path)
			WriteUnauthorized(w)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
	})
}

// WriteUnauthorized writes the single shared 401 response. Every auth
// failure path must go through it so that no new failure kind can leak
// detail by constructing its own response.
func WriteUnauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"unauthorized"}`))
}
