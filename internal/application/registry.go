package application

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/viralforge/mesh/services/integrations/M31-telegram-login-service/internal/domain"
	"github.com/viralforge/mesh/services/integrations/M31-telegram-login-service/internal/ports"
)

const (
	sessionIDPrefix = "session_"
	closeAllLimit   = 16
)

// RegistryConfig configures a Registry.
type RegistryConfig struct {
	// SessionDir is the storage root. It is created on first use.
	SessionDir string
	// Parameters is the client configuration template shared by every session.
	Parameters ports.TdlibParameters
	Timeouts   Timeouts
	Logger     *slog.Logger
	Clock      func() time.Time
	// NewID overrides random id generation. Used by tests to force collisions.
	NewID func() string
}

// Registry owns every live session of the process.
type Registry struct {
	factory    ports.BackendFactory
	sessionDir string
	params     ports.TdlibParameters
	timeouts   Timeouts
	logger     *slog.Logger
	nowFn      func() time.Time
	newID      func() string

	rootOnce sync.Once
	rootErr  error

	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewRegistry(factory ports.BackendFactory, cfg RegistryConfig) *Registry {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = func() time.Time { return time.Now().UTC() }
	}
	if cfg.NewID == nil {
		cfg.NewID = randomSessionSuffix
	}
	if cfg.SessionDir == "" {
		cfg.SessionDir = "./sessions"
	}
	return &Registry{
		factory:    factory,
		sessionDir: cfg.SessionDir,
		params:     cfg.Parameters,
		timeouts:   cfg.Timeouts.withDefaults(),
		logger:     cfg.Logger,
		nowFn:      cfg.Clock,
		newID:      cfg.NewID,
		sessions:   make(map[string]*Session),
	}
}

// randomSessionSuffix returns 32 lowercase hex chars from a random UUID.
func randomSessionSuffix() string {
	id := uuid.New()
	return hex.EncodeToString(id[:])
}

// Create returns the live session for the derived id, or registers a new one.
// created is false when an existing session was returned. No backend client is
// created here.
func (r *Registry) Create(creds domain.Credentials, name string) (session *Session, created bool, err error) {
	if err := creds.Validate(); err != nil {
		return nil, false, err
	}
	if name != "" {
		if err := domain.ValidateSessionName(name); err != nil {
			return nil, false, err
		}
	}
	if err := r.ensureRoot(); err != nil {
		return nil, false, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var id string
	if name != "" {
		id = sessionIDPrefix + name
		if existing, ok := r.sessions[id]; ok {
			if !existing.sameCredentials(creds) {
				r.logger.Warn("session exists with different credentials, keeping original",
					"module", "application.registry",
					"layer", "application",
					"operation", "create",
					"outcome", "reused",
					"session_id", id,
				)
			}
			return existing, false, nil
		}
	} else {
		for {
			id = sessionIDPrefix + r.newID()
			if _, taken := r.sessions[id]; !taken {
				break
			}
		}
	}

	session = newSession(sessionConfig{
		id:         id,
		creds:      creds,
		storageDir: filepath.Join(r.sessionDir, id),
		params:     r.params,
		factory:    r.factory,
		timeouts:   r.timeouts,
		logger:     r.logger,
		nowFn:      r.nowFn,
	})
	r.sessions[id] = session
	r.logger.Info("session created",
		"module", "application.registry",
		"layer", "application",
		"operation", "create",
		"outcome", "success",
		"session_id", id,
	)
	return session, true, nil
}

func (r *Registry) ensureRoot() error {
	r.rootOnce.Do(func() {
		if err := os.MkdirAll(r.sessionDir, 0o700); err != nil {
			r.rootErr = fmt.Errorf("create session root: %w", err)
		}
	})
	return r.rootErr
}

// Get returns the live session with id.
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	session, ok := r.sessions[id]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return session, nil
}

// List returns a snapshot of every live session ordered by creation time.
func (r *Registry) List() []domain.SessionInfo {
	r.mu.RLock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.RUnlock()

	out := make([]domain.SessionInfo, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Info())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].SessionID < out[j].SessionID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Close removes the session and stops its client. The session is gone from the
// registry even when stopping the client fails; that failure is only logged.
func (r *Registry) Close(id string) (*Session, error) {
	r.mu.Lock()
	session, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	r.mu.Unlock()
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	if err := session.stop(); err != nil {
		r.logger.Warn("backend client stop failed",
			"module", "application.registry",
			"layer", "application",
			"operation", "close",
			"outcome", "failure",
			"session_id", id,
			"error", err,
		)
	}
	return session, nil
}

// CloseAll stops every session concurrently and empties the registry.
// Individual stop failures are logged and swallowed.
func (r *Registry) CloseAll(ctx context.Context) []*Session {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(closeAllLimit)
	for _, s := range sessions {
		g.Go(func() error {
			if err := s.stop(); err != nil {
				r.logger.Warn("backend client stop failed",
					"module", "application.registry",
					"layer", "application",
					"operation", "close_all",
					"outcome", "failure",
					"session_id", s.ID(),
					"error", err,
				)
			}
			return nil
		})
	}
	_ = g.Wait()
	r.logger.Info("all sessions closed",
		"module", "application.registry",
		"layer", "application",
		"operation", "close_all",
		"outcome", "success",
		"count", len(sessions),
	)
	return sessions
}
