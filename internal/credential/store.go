// ABOUTME: TOML-backed store for per-backend credential records
// ABOUTME: Read on every outbound call, reloadable, never mutated here

package credential

import (
	"fmt"
	"log/slog"
	"maps"
	"os"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/google/uuid"
)

// credentialsFile is the on-disk TOML shape:
//
//	[shared]
//	anthropic = "sk-ant-..."
//
//	[backends.anthropic]
//	api_key_source = "shared-credential-store"
//	api_key_from_store = "anthropic"
//	timeout = "90s"
type credentialsFile struct {
	Shared   map[string]string `toml:"shared"`
	Backends map[string]Record `toml:"backends"`
}

// Store reads the credentials file and serves immutable snapshots of it.
// Lifecycle of the records belongs to operator settings CRUD elsewhere;
// this subsystem only reads, so a failed reload keeps the last good
// snapshot.
type Store struct {
	mu       sync.RWMutex
	path     string
	shared   map[string]string
	backends map[string]Record
	logger   *slog.Logger
}

// NewStore creates a credential store backed by the TOML file at path and
// performs the initial load. A missing file is an empty store, not an
// error.
func NewStore(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		path:     path,
		shared:   map[string]string{},
		backends: map[string]Record{},
		logger:   logger.With("component", "credentials"),
	}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload re-reads the credentials file, replacing the current snapshot on
// success and keeping it on failure.
func (s *Store) Reload() error {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading credentials file: %w", err)
	}

	var file credentialsFile
	if err := toml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parsing credentials file: %w", err)
	}

	backends := make(map[string]Record, len(file.Backends))
	for id, rec := range file.Backends {
		if rec.ID == "" {
			rec.ID = uuid.New().String()
		}
		if rec.TimeoutRaw != "" {
			d, err := time.ParseDuration(rec.TimeoutRaw)
			if err != nil {
				return fmt.Errorf("parsing timeout for backend %q: %w", id, err)
			}
			rec.Timeout = d
		}
		if rec.APIKeySource != "" {
			switch rec.APIKeySource {
			case SourceInline, SourceEnvironment, SourceSharedStore:
			default:
				return fmt.Errorf("backend %q: unknown api_key_source %q", id, rec.APIKeySource)
			}
		}
		backends[id] = rec
	}

	shared := file.Shared
	if shared == nil {
		shared = map[string]string{}
	}

	s.mu.Lock()
	s.shared = shared
	s.backends = backends
	s.mu.Unlock()

	s.logger.Debug("credentials loaded", "backends", len(backends), "shared_keys", len(shared))
	return nil
}

// Get returns the record for a backend. A missing backend yields a zero
// record: resolution then falls back to ambient sources.
func (s *Store) Get(backendID string) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.backends[backendID]
	return rec, ok
}

// SharedSnapshot returns a copy of the shared credential table for one
// resolution call, keeping Resolve pure against concurrent reloads.
func (s *Store) SharedSnapshot() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.shared)
}

// Path returns the backing file path, used by the reload watcher.
func (s *Store) Path() string {
	return s.path
}
