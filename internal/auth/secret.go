// ABOUTME: SecretStore manages the server's long-lived shared secret
// ABOUTME: Generated on first boot, persisted to a 0600 file, rotatable

package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// secretBytes is the entropy of a generated shared secret.
const secretBytes = 32

// SecretStore owns the shared secret used to bootstrap trust. The secret is
// generated once and persisted; an operator-supplied override replaces it
// for the process lifetime without being persisted, so restarting without
// the override reverts to the generated value.
type SecretStore struct {
	mu     sync.RWMutex
	path   string
	value  string
	logger *slog.Logger
}

// NewSecretStore creates a secret store backed by the file at path.
// Nothing is read or generated until the first Get call.
func NewSecretStore(path string, logger *slog.Logger) *SecretStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &SecretStore{
		path:   path,
		logger: logger.With("component", "secrets"),
	}
}

// Get returns the active secret, generating and persisting one on first
// call if none exists. Failure to persist a freshly generated secret is
// fatal to the caller: without it no future login could ever succeed.
func (s *SecretStore) Get() (string, error) {
	s.mu.RLock()
	if s.value != "" {
		v := s.value
		s.mu.RUnlock()
		return v, nil
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.value != "" {
		return s.value, nil
	}

	data, err := os.ReadFile(s.path)
	switch {
	case err == nil:
		secret := strings.TrimSpace(string(data))
		if secret == "" {
			return "", fmt.Errorf("secret file %s is empty", s.path)
		}
		s.value = secret
		return secret, nil
	case os.IsNotExist(err):
		secret, genErr := generateSecret()
		if genErr != nil {
			return "", fmt.Errorf("generating secret: %w", genErr)
		}
		if writeErr := s.persist(secret); writeErr != nil {
			return "", fmt.Errorf("persisting secret: %w", writeErr)
		}
		s.logger.Info("generated new shared secret", "path", s.path)
		s.value = secret
		return secret, nil
	default:
		return "", fmt.Errorf("reading secret file: %w", err)
	}
}

// Override replaces the active secret for the process lifetime. The
// override is never persisted: it exists for ephemeral and test contexts.
func (s *SecretStore) Override(value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.value = value
	s.logger.Info("shared secret overridden for process lifetime")
}

// Rotate generates a fresh secret, persists it, and returns it. Callers
// are expected to invalidate all existing sessions after a rotation.
func (s *SecretStore) Rotate() (string, error) {
	secret, err := generateSecret()
	if err != nil {
		return "", fmt.Errorf("generating secret: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.persist(secret); err != nil {
		return "", fmt.Errorf("persisting rotated secret: %w", err)
	}
	s.value = secret
	s.logger.Info("shared secret rotated", "path", s.path)
	return secret, nil
}

// persist writes the secret with owner-only permissions. Callers hold s.mu.
func (s *SecretStore) persist(secret string) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return fmt.Errorf("creating secret directory: %w", err)
	}
	return os.WriteFile(s.path, []byte(secret+"\n"), 0600)
}

// generateSecret returns a fresh high-entropy secret as a hex string.
func generateSecret() (string, error) {
	buf := make([]byte, secretBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// SecretEqual compares two secrets in constant time. Both values are
// hashed first so that unequal lengths short-circuit to "not equal"
// without revealing the length difference via timing.
func SecretEqual(a, b string) bool {
	da := sha256.Sum256([]byte(a))
	db := sha256.Sum256([]byte(b))
	return subtle.ConstantTimeCompare(da[:], db[:]) == 1
}
