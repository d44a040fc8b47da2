// ABOUTME: End-to-end scenario tests for the auth flow with real file stores
// ABOUTME: Validates fresh-boot login and rotation without any mocking

package auth

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// authStack is the fully wired auth core against a temp data directory.
type authStack struct {
	secrets  *SecretStore
	sessions *SessionManager
	limiter  *RateLimiter
	login    *LoginService
	realtime *RealtimeTokenIssuer
	dataDir  string
}

func newAuthStack(t *testing.T) *authStack {
	t.Helper()
	dir := t.TempDir()

	secrets := NewSecretStore(filepath.Join(dir, "secret"), nil)
	sessions, err := NewSessionManager(filepath.Join(dir, "sessions.json"), DefaultSessionTTL, nil)
	require.NoError(t, err)
	limiter := NewRateLimiter(DefaultMaxAttempts, DefaultAttemptWindow)

	return &authStack{
		secrets:  secrets,
		sessions: sessions,
		limiter:  limiter,
		login:    NewLoginService(secrets, sessions, limiter, nil),
		realtime: NewRealtimeTokenIssuer(DefaultRealtimeTokenTTL),
		dataDir:  dir,
	}
}

func TestScenario_FreshBootLogin(t *testing.T) {
	// Fresh boot: no persisted secret. The first Get generates and
	// persists one, and a login with that exact value succeeds and
	// returns a 64-character hex token.
	stack := newAuthStack(t)

	secret, err := stack.secrets.Get()
	require.NoError(t, err)

	session, err := stack.login.Login("127.0.0.1", secret)
	require.NoError(t, err)
	assert.Regexp(t, hexToken, session.Token)

	// The session is immediately visible to validation, no consistency
	// window.
	_, ok := stack.sessions.Validate(session.Token)
	assert.True(t, ok)
}

func TestScenario_RealtimeTokenBridge(t *testing.T) {
	// An authenticated operator obtains a realtime token and redeems it
	// once for the event channel; replays fail.
	stack := newAuthStack(t)

	secret, err := stack.secrets.Get()
	require.NoError(t, err)
	_, err = stack.login.Login("127.0.0.1", secret)
	require.NoError(t, err)

	token, err := stack.realtime.Issue()
	require.NoError(t, err)

	assert.True(t, stack.realtime.Redeem(token))
	assert.False(t, stack.realtime.Redeem(token), "replay must fail")
}

func TestScenario_SecretRotationInvalidatesSessions(t *testing.T) {
	stack := newAuthStack(t)

	secret, err := stack.secrets.Get()
	require.NoError(t, err)
	session, err := stack.login.Login("127.0.0.1", secret)
	require.NoError(t, err)

	rotated, err := stack.secrets.Rotate()
	require.NoError(t, err)
	stack.sessions.InvalidateAll()

	_, ok := stack.sessions.Validate(session.Token)
	assert.False(t, ok, "sessions minted under the old secret must not survive rotation")

	_, err = stack.login.Login("10.0.0.1", secret)
	assert.ErrorIs(t, err, ErrInvalidCredential, "old secret no longer logs in")

	newSession, err := stack.login.Login("10.0.0.2", rotated)
	require.NoError(t, err)
	_, ok = stack.sessions.Validate(newSession.Token)
	assert.True(t, ok)
}

func TestScenario_BurstOfBadLoginsLocksOutCorrectSecret(t *testing.T) {
	// Five wrong secrets inside the window; the sixth attempt is rejected
	// as rate-limited even though it carries the correct secret.
	stack := newAuthStack(t)

	secret, err := stack.secrets.Get()
	require.NoError(t, err)

	for i := 0; i < DefaultMaxAttempts; i++ {
		_, err := stack.login.Login("192.168.1.9", "guess")
		assert.ErrorIs(t, err, ErrInvalidCredential)
	}

	_, err = stack.login.Login("192.168.1.9", secret)
	assert.ErrorIs(t, err, ErrRateLimited)

	// After the window elapses the correct secret works again.
	stack.limiter.now = func() time.Time { return time.Now().Add(DefaultAttemptWindow + time.Second) }
	_, err = stack.login.Login("192.168.1.9", secret)
	assert.NoError(t, err)
}
