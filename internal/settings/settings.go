// ABOUTME: Operator settings fragment for per-backend auth mode selection
// ABOUTME: TOML-backed, atomically rewritten, effective on the next resolve

package settings

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/BurntSushi/toml"

	"github.com/taskdeck/taskdeck/internal/credential"
)

// providerSettings is the per-backend fragment this subsystem reads and
// writes. Other operator settings live elsewhere.
type providerSettings struct {
	AuthMode credential.AuthMode `toml:"auth_mode"`
}

type settingsFile struct {
	Providers map[string]providerSettings `toml:"providers"`
}

// Store holds the auth-mode selection per execution backend. Read-mostly:
// a mode change takes effect on the next outbound call, with no
// retroactive effect on in-flight resolutions.
type Store struct {
	mu        sync.RWMutex
	path      string
	providers map[string]providerSettings
	logger    *slog.Logger
}

// NewStore creates a settings store backed by the TOML file at path and
// performs the initial load. A missing file is an empty store.
func NewStore(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		path:      path,
		providers: map[string]providerSettings{},
		logger:    logger.With("component", "settings"),
	}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload re-reads the settings file, keeping the last good snapshot if the
// file is unreadable or malformed.
func (s *Store) Reload() error {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading settings file: %w", err)
	}

	var file settingsFile
	if err := toml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parsing settings file: %w", err)
	}

	providers := file.Providers
	if providers == nil {
		providers = map[string]providerSettings{}
	}
	for id, p := range providers {
		if p.AuthMode != "" && !p.AuthMode.Valid() {
			return fmt.Errorf("provider %q: unknown auth_mode %q", id, p.AuthMode)
		}
	}

	s.mu.Lock()
	s.providers = providers
	s.mu.Unlock()

	s.logger.Debug("settings loaded", "providers", len(providers))
	return nil
}

// Mode returns the auth mode for a backend. Unconfigured backends default
// to subscription-token, the mode that cannot forward a direct key.
func (s *Store) Mode(backendID string) credential.AuthMode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if p, ok := s.providers[backendID]; ok && p.AuthMode.Valid() {
		return p.AuthMode
	}
	return credential.ModeSubscriptionToken
}

// SetMode persists a backend's auth mode to the settings file.
func (s *Store) SetMode(backendID string, mode credential.AuthMode) error {
	if !mode.Valid() {
		return fmt.Errorf("unknown auth mode %q", mode)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.providers[backendID] = providerSettings{AuthMode: mode}
	if err := s.persistLocked(); err != nil {
		return err
	}
	s.logger.Info("auth mode updated", "backend", backendID, "mode", mode)
	return nil
}

// persistLocked rewrites the settings file atomically. Callers hold s.mu.
func (s *Store) persistLocked() error {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(settingsFile{Providers: s.providers}); err != nil {
		return fmt.Errorf("encoding settings: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("creating settings directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(buf.Bytes()); err != nil {
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
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("renaming temp file: %w", err)
	}
	return nil
}

// Path returns the backing file path, used by the reload watcher.
func (s *Store) Path() string {
	return s.path
}
