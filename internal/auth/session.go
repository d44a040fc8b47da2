// ABOUTME: SessionManager creates, validates, and expires session tokens
// ABOUTME: In-memory index mirrored to an atomically rewritten JSON file

package auth

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultSessionTTL is the default session lifetime.
const DefaultSessionTTL = 30 * 24 * time.Hour

// sessionTokenBytes yields 64 hex characters per token.
const sessionTokenBytes = 32

// defaultFlushWait bounds how long a mutation waits for the durable write
// before continuing with the in-memory index authoritative.
const defaultFlushWait = 5 * time.Second

// Session is a server-issued credential proving a prior successful login.
type Session struct {
	Token     string    `json:"token"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// SessionManager owns the session index. The in-memory map is authoritative
// for validation; the durable file exists only to survive restarts and is
// rewritten atomically (write-temp-then-rename) on every mutation. A failed
// flush keeps the in-memory session valid, marks durability as degraded,
// and is retried on the next mutation or sweep.
type SessionManager struct {
	mu       sync.RWMutex
	sessions map[string]Session

	flushMu  sync.Mutex
	path     string
	ttl      time.Duration
	degraded atomic.Bool

	logger *slog.Logger
	now    func() time.Time

	// flushWait and writeFile are injectable for tests.
	flushWait time.Duration
	writeFile func(path string, v any) error
}

// NewSessionManager creates a session manager backed by the file at path,
// loading any previously persisted sessions. Expired records are dropped on
// load. An unreadable (but existing) file is an error; a missing file is a
// fresh start.
func NewSessionManager(path string, ttl time.Duration, logger *slog.Logger) (*SessionManager, error) {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	if logger == nil {
		logger = slog.Default()
	}

	m := &SessionManager{
		sessions:  make(map[string]Session),
		path:      path,
		ttl:       ttl,
		logger:    logger.With("component", "sessions"),
		now:       time.Now,
		flushWait: defaultFlushWait,
		writeFile: writeFileAtomic,
	}

	if err := m.load(); err != nil {
		return nil, err
	}
	return m, nil
}

// load reads the durable store into the in-memory index.
func (m *SessionManager) load() error {
	data, err := os.ReadFile(m.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading session file: %w", err)
	}

	var records []Session
	if err := json.Unmarshal(data, &records); err != nil {
		return fmt.Errorf("parsing session file: %w", err)
	}

	now := m.now()
	for _, s := range records {
		if now.Before(s.ExpiresAt) {
			m.sessions[s.Token] = s
		}
	}
	m.logger.Debug("loaded sessions", "count", len(m.sessions))
	return nil
}

// Create generates a new session with a cryptographically random 256-bit
// token and flushes the durable store.
func (m *SessionManager) Create() (Session, error) {
	buf := make([]byte, sessionTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return Session{}, fmt.Errorf("generating session token: %w", err)
	}

	now := m.now()
	session := Session{
		Token:     hex.EncodeToString(buf),
		CreatedAt: now,
		ExpiresAt: now.Add(m.ttl),
	}

	m.mu.Lock()
	m.sessions[session.Token] = session
	m.mu.Unlock()

	m.flush()
	return session, nil
}

// Validate looks up a session token. An expired session is treated as
// absent and removed from both the index and the durable store as a side
// effect of the observation.
func (m *SessionManager) Validate(token string) (Session, bool) {
	m.mu.RLock()
	session, ok := m.sessions[token]
	m.mu.RUnlock()
	if !ok {
		return Session{}, false
	}

	if !m.now().Before(session.ExpiresAt) {
		m.Invalidate(token)
		return Session{}, false
	}
	return session, true
}

// Invalidate removes a session from the index and the durable store.
// Idempotent: invalidating an unknown token is a no-op.
func (m *SessionManager) Invalidate(token string) {
	m.mu.Lock()
	_, existed := m.sessions[token]
	delete(m.sessions, token)
	m.mu.Unlock()

	if existed {
		m.flush()
	}
}

// InvalidateAll drops every session. Used when the shared secret rotates.
func (m *SessionManager) InvalidateAll() {
	m.mu.Lock()
	count := len(m.sessions)
	m.sessions = make(map[string]Session)
	m.mu.Unlock()

	if count > 0 {
		m.logger.Info("invalidated all sessions", "count", count)
	}
	m.flush()
}

// Sweep removes expired sessions and retries a pending flush. Correctness
// does not depend on it (expiry is checked lazily at validation); it only
// bounds memory and durable-file growth.
func (m *SessionManager) Sweep() int {
	now := m.now()

	m.mu.Lock()
	removed := 0
	for token, s := range m.sessions {
		if !now.Before(s.ExpiresAt) {
			delete(m.sessions, token)
			removed++
		}
	}
	m.mu.Unlock()

	if removed > 0 || m.degraded.Load() {
		m.flush()
	}
	return removed
}

// Degraded reports whether the last flush failed, meaning the durable
// mirror lags the authoritative in-memory state.
func (m *SessionManager) Degraded() bool {
	return m.degraded.Load()
}

// flush rewrites the durable store from a snapshot of the index. The
// snapshot is taken only after winning flushMu, so concurrent flushes
// persist in mutation order and a stale snapshot can never overwrite a
// newer one. The caller waits at most flushWait: a hung disk must not
// stall the request path, so on timeout the flag is raised and the write
// is left to finish in the background. Failures are non-fatal either way;
// the in-memory state stays authoritative and the sweep retries.
func (m *SessionManager) flush() {
	done := make(chan struct{})

	go func() {
		defer close(done)

		m.flushMu.Lock()
		defer m.flushMu.Unlock()

		m.mu.RLock()
		records := make([]Session, 0, len(m.sessions))
		for _, s := range m.sessions {
			records = append(records, s)
		}
		m.mu.RUnlock()

		sort.Slice(records, func(i, j int) bool { return records[i].CreatedAt.Before(records[j].CreatedAt) })

		if err := m.writeFile(m.path, records); err != nil {
			m.degraded.Store(true)
			m.logger.Error("session flush failed, in-memory state remains authoritative", "error", err)
			return
		}
		if m.degraded.Swap(false) {
			m.logger.Info("session durability restored")
		}
	}()

	select {
	case <-done:
	case <-time.After(m.flushWait):
		m.degraded.Store(true)
		m.logger.Warn("session flush slow, continuing with in-memory state", "wait", m.flushWait)
	}
}

// writeFileAtomic marshals v as JSON and replaces path via a temp file
// rename so readers never observe a partial write.
func writeFileAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("setting permissions: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("renaming temp file: %w", err)
	}
	return nil
}
