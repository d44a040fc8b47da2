// ABOUTME: Server assembly wiring stores, auth gate, HTTP surface, and sweeps
// ABOUTME: Manages lifecycle: startup, settings hot-reload, graceful shutdown

package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/taskdeck/taskdeck/internal/api"
	"github.com/taskdeck/taskdeck/internal/auth"
	"github.com/taskdeck/taskdeck/internal/config"
	"github.com/taskdeck/taskdeck/internal/credential"
	"github.com/taskdeck/taskdeck/internal/settings"
)

// SecretOverrideEnv, when set, replaces the persisted shared secret for the
// process lifetime. Intended for ephemeral and test deployments.
const SecretOverrideEnv = "TASKDECK_SECRET"

// defaultSweepInterval bounds memory growth from abandoned tokens,
// expired sessions, and stale rate-limit counters.
const defaultSweepInterval = 5 * time.Minute

// Server owns the taskdeck control-plane components and their lifecycle.
type Server struct {
	cfg    *config.Config
	logger *slog.Logger

	secrets     *auth.SecretStore
	sessions    *auth.SessionManager
	limiter     *auth.RateLimiter
	loginSvc    *auth.LoginService
	realtime    *auth.RealtimeTokenIssuer
	gate        *auth.Gate
	credentials *credential.Store
	settings    *settings.Store
	events      *api.EventHub

	httpServer *http.Server
}

// New assembles a server from configuration. Persistence failures at this
// stage are fatal: a server that cannot read its own state must not start.
func New(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if err := os.MkdirAll(cfg.Data.Dir, 0700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	secrets := auth.NewSecretStore(cfg.SecretPath(), logger)
	if override := os.Getenv(SecretOverrideEnv); override != "" {
		secrets.Override(override)
	} else if _, err := secrets.Get(); err != nil {
		// First boot must be able to generate and persist the secret.
		return nil, fmt.Errorf("initializing shared secret: %w", err)
	}

	sessions, err := auth.NewSessionManager(cfg.SessionsPath(), cfg.Auth.SessionTTL, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing session manager: %w", err)
	}

	credStore, err := credential.NewStore(cfg.CredentialsPath(), logger)
	if err != nil {
		return nil, fmt.Errorf("initializing credential store: %w", err)
	}

	settingsStore, err := settings.NewStore(cfg.SettingsPath(), logger)
	if err != nil {
		return nil, fmt.Errorf("initializing settings store: %w", err)
	}

	limiter := auth.NewRateLimiter(cfg.Auth.MaxLoginAttempts, cfg.Auth.LoginWindow)
	loginSvc := auth.NewLoginService(secrets, sessions, limiter, logger)
	realtime := auth.NewRealtimeTokenIssuer(cfg.Auth.RealtimeTokenTTL)
	gate := auth.NewGate(secrets, sessions, api.AllowlistPaths, logger)
	events := api.NewEventHub()

	handler := api.New(loginSvc, sessions, realtime, gate, settingsStore, events, logger)

	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)

	chain := gate.Middleware(mux)
	chain = api.LoggingMiddleware(logger)(chain)

	return &Server{
		cfg:         cfg,
		logger:      logger.With("component", "server"),
		secrets:     secrets,
		sessions:    sessions,
		limiter:     limiter,
		loginSvc:    loginSvc,
		realtime:    realtime,
		gate:        gate,
		credentials: credStore,
		settings:    settingsStore,
		events:      events,
		httpServer: &http.Server{
			Addr:              cfg.Server.HTTPAddr,
			Handler:           chain,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}, nil
}

// Resolve assembles the credential set to forward for one outbound call to
// an execution backend. The ambient environment is snapshotted per call so
// the underlying resolution stays pure.
func (s *Server) Resolve(backendID string) credential.Resolved {
	rec, _ := s.credentials.Get(backendID)
	mode := s.settings.Mode(backendID)
	return credential.Resolve(backendID, mode, rec, s.credentials.SharedSnapshot(), credential.EnvSnapshot(os.Environ()))
}

// RotateSecret generates a fresh shared secret and invalidates every
// existing session, so credentials minted under the old secret cannot
// outlive it.
func (s *Server) RotateSecret() (string, error) {
	secret, err := s.secrets.Rotate()
	if err != nil {
		return "", err
	}
	s.sessions.InvalidateAll()
	s.events.Publish(api.Event{Type: "secret_rotated"})
	return secret, nil
}

// Run starts the HTTP server, the sweep loop, and the settings watcher,
// blocking until ctx is cancelled or the server fails.
func (s *Server) Run(ctx context.Context) error {
	sweepInterval := s.cfg.Auth.SweepInterval
	if sweepInterval <= 0 {
		sweepInterval = defaultSweepInterval
	}

	go s.sweepLoop(ctx, sweepInterval)
	go s.watchFiles(ctx)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", s.cfg.Server.HTTPAddr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("shutting down")
	s.events.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down http server: %w", err)
	}
	return nil
}

// sweepLoop prunes expired sessions, abandoned realtime tokens, and stale
// rate-limit counters. Correctness never depends on it: all expiry is also
// checked lazily at validation or redemption time.
func (s *Server) sweepLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sessions := s.sessions.Sweep()
			tokens := s.realtime.Sweep()
			counters := s.limiter.Prune()
			if sessions+tokens+counters > 0 {
				s.logger.Debug("sweep complete",
					"sessions", sessions, "realtime_tokens", tokens, "rate_counters", counters)
			}
			if s.sessions.Degraded() {
				s.events.Publish(api.Event{Type: "durability_degraded"})
			}
		}
	}
}

// watchFiles hot-reloads the settings fragment and credentials file when
// they change on disk. Editors and atomic rewrites replace files rather
// than writing in place, so the watch is on the data directory and events
// are matched by name. A failed reload keeps the last good snapshot.
func (s *Server) watchFiles(ctx context.Context) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		s.logger.Warn("file watching disabled", "error", err)
		return
	}
	defer watcher.Close()

	if err := watcher.Add(s.cfg.Data.Dir); err != nil {
		s.logger.Warn("file watching disabled", "error", err)
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			switch filepath.Base(event.Name) {
			case filepath.Base(s.settings.Path()):
				if err := s.settings.Reload(); err != nil {
					s.logger.Warn("settings reload failed, keeping previous snapshot", "error", err)
				}
			case filepath.Base(s.credentials.Path()):
				if err := s.credentials.Reload(); err != nil {
					s.logger.Warn("credentials reload failed, keeping previous snapshot", "error", err)
				}
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			s.logger.Warn("file watcher error", "error", err)
		}
	}
}
