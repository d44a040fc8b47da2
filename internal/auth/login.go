// ABOUTME: LoginService verifies the shared secret and creates sessions
// ABOUTME: Rate limit is consulted before any secret comparison happens

package auth

import (
	"fmt"
	"log/slog"
)

// LoginService authenticates operators against the shared secret.
type LoginService struct {
	secrets  *SecretStore
	sessions *SessionManager
	limiter  *RateLimiter
	logger   *slog.Logger
}

// NewLoginService wires the secret store, session manager, and rate
// limiter into a login flow.
func NewLoginService(secrets *SecretStore, sessions *SessionManager, limiter *RateLimiter, logger *slog.Logger) *LoginService {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoginService{
		secrets:  secrets,
		sessions: sessions,
		limiter:  limiter,
		logger:   logger.With("component", "login"),
	}
}

// Login verifies the presented secret for the given client identity and
// returns a fresh session on success.
//
// The rate limiter is consulted (and the attempt counted) before the
// stored secret is touched: an over-budget identity is rejected without
// burning comparison time, and every call counts exactly once regardless
// of outcome.
func (l *LoginService) Login(identity, presented string) (Session, error) {
	if !l.limiter.Allow(identity) {
		l.logger.Warn("login rate limited", "identity", identity)
		return Session{}, ErrRateLimited
	}

	secret, err := l.secrets.Get()
	if err != nil {
		return Session{}, fmt.Errorf("loading shared secret: %w", err)
	}

	if !SecretEqual(secret, presented) {
		l.logger.Warn("login failed", "identity", identity)
		return Session{}, ErrInvalidCredential
	}

	session, err := l.sessions.Create()
	if err != nil {
		return Session{}, fmt.Errorf("creating session: %w", err)
	}

	l.logger.Info("login successful", "identity", identity)
	return session, nil
}

// RetryAfter reports how long identity must wait before its attempt
// window resets. Used for the Retry-After hint on 429 responses.
func (l *LoginService) RetryAfter(identity string) (seconds int) {
	d := l.limiter.RetryAfter(identity)
	if d <= 0 {
		return 0
	}
	return int(d.Seconds()) + 1
}
