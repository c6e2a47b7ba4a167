package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/viralforge/mesh/services/integrations/M31-telegram-login-service/internal/domain"
	"github.com/viralforge/mesh/services/integrations/M31-telegram-login-service/internal/ports"
)

// Timeouts bounds every wait of the authorization protocol.
type Timeouts struct {
	// InitialProbe bounds the direct probe that opens every login attempt.
	InitialProbe time.Duration
	// StepWait bounds an automatic submission together with the wait for the
	// notification it causes.
	StepWait time.Duration
	// ResumeWait bounds a code or password submission together with the wait for
	// its notification.
	ResumeWait time.Duration
	// Probe bounds the fallback probe issued when a wait times out.
	Probe time.Duration
}

// DefaultTimeouts returns the production wait bounds.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		InitialProbe: 5 * time.Second,
		StepWait:     10 * time.Second,
		ResumeWait:   10 * time.Second,
		Probe:        5 * time.Second,
	}
}

func (t Timeouts) withDefaults() Timeouts {
	d := DefaultTimeouts()
	if t.InitialProbe <= 0 {
		t.InitialProbe = d.InitialProbe
	}
	if t.StepWait <= 0 {
		t.StepWait = d.StepWait
	}
	if t.ResumeWait <= 0 {
		t.ResumeWait = d.ResumeWait
	}
	if t.Probe <= 0 {
		t.Probe = d.Probe
	}
	return t
}

// Session is one authenticating or authenticated Telegram login.
//
// Protocol operations (BeginLogin, SubmitCode, SubmitPassword) are mutually exclusive:
// a call that finds another one in flight fails fast with domain.ErrSessionBusy.
// Read accessors never wait for an in-flight operation.
type Session struct {
	id         string
	creds      domain.Credentials
	storageDir string
	params     ports.TdlibParameters
	factory    ports.BackendFactory
	timeouts   Timeouts
	logger     *slog.Logger
	nowFn      func() time.Time
	createdAt  time.Time

	op     chan struct{}
	signal *stateSignal

	mu           sync.RWMutex
	client       ports.BackendClient
	closed       bool
	isAuthorized bool
	lastUsed     time.Time
	state        domain.AuthState

	// unconfirmed marks state as carried over from before a submission whose
	// effect the backend never confirmed.
	unconfirmed bool
	status      domain.Status
}

type sessionConfig struct {
	id         string
	creds      domain.Credentials
	storageDir string
	params     ports.TdlibParameters
	factory    ports.BackendFactory
	timeouts   Timeouts
	logger     *slog.Logger
	nowFn      func() time.Time
}

func newSession(cfg sessionConfig) *Session {
	now := cfg.nowFn()
	return &Session{
		id:         cfg.id,
		creds:      cfg.creds,
		storageDir: cfg.storageDir,
		params:     cfg.params,
		factory:    cfg.factory,
		timeouts:   cfg.timeouts.withDefaults(),
		logger:     cfg.logger.With("session_id", cfg.id),
		nowFn:      cfg.nowFn,
		createdAt:  now,
		lastUsed:   now,
		op:         make(chan struct{}, 1),
		signal:     newStateSignal(),
		status:     domain.StatusUnknown,
	}
}

// ID returns the process-unique session identifier.
func (s *Session) ID() string { return s.id }

// Phone returns the account phone number.
func (s *Session) Phone() string { return s.creds.Phone }

// StoragePath returns the directory that holds this session's backend data.
func (s *Session) StoragePath() string { return s.storageDir }

// CreatedAt returns the session creation time.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

func (s *Session) IsAuthorized() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isAuthorized
}

// State returns the last observed authorization state, nil before the first probe.
func (s *Session) State() domain.AuthState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Session) LastUsed() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastUsed
}

// Initialized reports whether a backend client has been created.
func (s *Session) Initialized() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.client != nil
}

// Info returns a consistent snapshot of the session summary.
func (s *Session) Info() domain.SessionInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return domain.SessionInfo{
		SessionID:    s.id,
		Phone:        s.creds.Phone,
		IsAuthorized: s.isAuthorized,
		Status:       s.status,
		CreatedAt:    s.createdAt,
		LastUsed:     s.lastUsed,
	}
}

func (s *Session) sameCredentials(creds domain.Credentials) bool {
	return s.creds == creds
}

func (s *Session) acquire() error {
	select {
	case s.op <- struct{}{}:
		return nil
	default:
		return domain.ErrSessionBusy
	}
}

func (s *Session) release() { <-s.op }

func (s *Session) touch() {
	s.mu.Lock()
	s.lastUsed = s.nowFn()
	s.mu.Unlock()
}

// adopt records state as the last observed state. Authorization is monotonic.
func (s *Session) adopt(state domain.AuthState) {
	if state == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
	s.unconfirmed = false
	if _, ok := state.(domain.StateReady); ok {
		s.isAuthorized = true
	}
}

func (s *Session) markUnconfirmed() {
	s.mu.Lock()
	s.unconfirmed = true
	s.mu.Unlock()
}

// observed returns the last state and whether the backend has confirmed it since
// the most recent submission.
func (s *Session) observed() (domain.AuthState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state, !s.unconfirmed
}

func (s *Session) activeClient() (ports.BackendClient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, domain.ErrSessionClosed
	}
	if s.client == nil {
		return nil, domain.ErrClientNotInitialized
	}
	return s.client, nil
}

// ensureClient moves the session from Uninitialized to Active. Callers hold the op lock.
func (s *Session) ensureClient(ctx context.Context) (ports.BackendClient, error) {
	client, err := s.activeClient()
	if err == nil || errors.Is(err, domain.ErrSessionClosed) {
		return client, err
	}

	if err := os.MkdirAll(s.storageDir, 0o700); err != nil {
		return nil, fmt.Errorf("create session directory: %w", err)
	}
	params, err := s.parameters()
	if err != nil {
		return nil, err
	}

	client, err = s.factory.NewClient(ctx, ports.ClientConfig{
		SessionID:     s.id,
		StorageDir:    s.storageDir,
		Parameters:    params,
		OnStateChange: s.signal.Publish,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: create backend client: %v", domain.ErrBackendFailure, err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = client.Close()
		return nil, domain.ErrSessionClosed
	}
	s.client = client
	s.mu.Unlock()
	s.logger.Info("backend client created",
		"module", "application.session",
		"layer", "application",
		"operation", "init_client",
		"outcome", "success",
	)
	return client, nil
}

// parameters resolves the fixed client configuration for this session's storage.
func (s *Session) parameters() (ports.TdlibParameters, error) {
	params := s.params
	params.DatabaseDirectory = filepath.Join(s.storageDir, "database")
	params.FilesDirectory = filepath.Join(s.storageDir, "files")
	params.APIHash = s.creds.APIHash
	apiID, err := strconv.Atoi(s.creds.APIID)
	if err != nil {
		return ports.TdlibParameters{}, fmt.Errorf("%w: api_id must be numeric", domain.ErrInvalidInput)
	}
	params.APIID = apiID
	return params, nil
}

// stop tears the backend client down. The client is closed at most once.
func (s *Session) stop() error {
	s.mu.Lock()
	client := s.client
	s.client = nil
	s.closed = true
	s.mu.Unlock()
	if client == nil {
		return nil
	}
	return client.Close()
}

func (s *Session) report(status domain.Status, message string, state domain.AuthState) domain.StatusReport {
	s.mu.Lock()
	s.status = status
	s.mu.Unlock()
	out := domain.StatusReport{
		SessionID: s.id,
		Status:    status,
		Message:   message,
	}
	if state != nil && (status == domain.StatusUnknown || status == domain.StatusAwaitingPhone) {
		out.State = state.Payload()
	}
	return out
}

func (s *Session) failure(prefix string, err error) domain.StatusReport {
	s.logger.Warn("protocol operation failed",
		"module", "application.session",
		"layer", "application",
		"operation", prefix,
		"outcome", "failure",
		"error", err,
	)
	s.mu.Lock()
	s.status = domain.StatusError
	s.mu.Unlock()
	return domain.StatusReport{
		SessionID: s.id,
		Status:    domain.StatusError,
		Message:   fmt.Sprintf("%s: %v", prefix, err),
	}
}
