package application

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/viralforge/mesh/services/integrations/M31-telegram-login-service/internal/domain"
	"github.com/viralforge/mesh/services/integrations/M31-telegram-login-service/internal/ports"
)

// Service is the use-case facade over the session registry. Persistence, lockout and
// event dependencies are optional; a nil dependency disables that concern.
type Service struct {
	cfg      Config
	registry *Registry
	history  ports.SessionHistoryRepository
	attempts ports.LoginAttemptRepository
	outbox   ports.OutboxRepository
	lockouts ports.LockoutStore
	logger   *slog.Logger
	nowFn    func() time.Time
}

type Dependencies struct {
	Config   Config
	Registry *Registry
	History  ports.SessionHistoryRepository
	Attempts ports.LoginAttemptRepository
	Outbox   ports.OutboxRepository
	Lockouts ports.LockoutStore
	Logger   *slog.Logger
	Clock    func() time.Time
}

func NewService(deps Dependencies) *Service {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Clock == nil {
		deps.Clock = func() time.Time { return time.Now().UTC() }
	}
	return &Service{
		cfg:      deps.Config.withDefaults(),
		registry: deps.Registry,
		history:  deps.History,
		attempts: deps.Attempts,
		outbox:   deps.Outbox,
		lockouts: deps.Lockouts,
		logger:   deps.Logger,
		nowFn:    deps.Clock,
	}
}

// Login creates (or reuses) the session for the request and begins its login.
func (s *Service) Login(ctx context.Context, req LoginRequest) (domain.StatusReport, error) {
	creds := domain.Credentials{
		APIID:                 strings.TrimSpace(req.APIID),
		APIHash:               strings.TrimSpace(req.APIHash),
		Phone:                 strings.TrimSpace(req.Phone),
		DatabaseEncryptionKey: req.DatabaseEncryptionKey,
	}
	if creds.DatabaseEncryptionKey == "" {
		creds.DatabaseEncryptionKey = domain.DefaultDatabaseEncryptionKey
	}
	if err := s.checkLockout(ctx, creds.Phone); err != nil {
		return domain.StatusReport{}, err
	}

	session, created, err := s.registry.Create(creds, strings.TrimSpace(req.SessionName))
	if err != nil {
		return domain.StatusReport{}, err
	}
	if created {
		s.saveHistory(ctx, session)
		s.enqueueEvent(ctx, eventTypeSessionCreated, session, nil)
	}

	opCtx, cancel := context.WithTimeout(ctx, s.cfg.OperationTimeout)
	defer cancel()
	wasAuthorized := session.IsAuthorized()
	report, err := session.BeginLogin(opCtx)
	if err != nil {
		return domain.StatusReport{}, err
	}
	s.afterOperation(ctx, session, operationLogin, report, wasAuthorized)
	return report, nil
}

// SubmitCode forwards a one-time code to a session parked at the code step.
func (s *Service) SubmitCode(ctx context.Context, req SubmitCodeRequest) (domain.StatusReport, error) {
	code := strings.TrimSpace(req.Code)
	if err := domain.ValidateCode(code); err != nil {
		return domain.StatusReport{}, err
	}
	return s.resume(ctx, req.SessionID, operationSubmitCode, func(ctx context.Context, session *Session) (domain.StatusReport, error) {
		return session.SubmitCode(ctx, code)
	})
}

// SubmitPassword forwards the two-factor password to a session parked at the password step.
func (s *Service) SubmitPassword(ctx context.Context, req SubmitPasswordRequest) (domain.StatusReport, error) {
	if err := domain.ValidateTwoFactorPassword(req.Password); err != nil {
		return domain.StatusReport{}, err
	}
	return s.resume(ctx, req.SessionID, operationSubmitPassword, func(ctx context.Context, session *Session) (domain.StatusReport, error) {
		return session.SubmitPassword(ctx, req.Password)
	})
}

func (s *Service) resume(
	ctx context.Context,
	sessionID string,
	operation string,
	call func(context.Context, *Session) (domain.StatusReport, error),
) (domain.StatusReport, error) {
	session, err := s.registry.Get(strings.TrimSpace(sessionID))
	if err != nil {
		return domain.StatusReport{}, err
	}
	if err := s.checkLockout(ctx, session.Phone()); err != nil {
		return domain.StatusReport{}, err
	}

	opCtx, cancel := context.WithTimeout(ctx, s.cfg.OperationTimeout)
	defer cancel()
	wasAuthorized := session.IsAuthorized()
	report, err := call(opCtx, session)
	if err != nil {
		return domain.StatusReport{}, err
	}
	s.afterOperation(ctx, session, operation, report, wasAuthorized)
	if report.Status == domain.StatusError {
		s.recordLockoutFailure(ctx, session.Phone())
	}
	return report, nil
}

func (s *Service) GetSession(_ context.Context, sessionID string) (domain.SessionInfo, error) {
	session, err := s.registry.Get(strings.TrimSpace(sessionID))
	if err != nil {
		return domain.SessionInfo{}, err
	}
	return session.Info(), nil
}

func (s *Service) ListSessions(_ context.Context) SessionListResponse {
	sessions := s.registry.List()
	return SessionListResponse{Sessions: sessions, Total: len(sessions)}
}

// CloseSession removes one session. It fails only when the session does not exist.
func (s *Service) CloseSession(ctx context.Context, sessionID string) error {
	session, err := s.registry.Close(strings.TrimSpace(sessionID))
	if err != nil {
		return err
	}
	s.markClosed(ctx, session)
	return nil
}

// CloseAllSessions stops every live session and returns how many were closed.
func (s *Service) CloseAllSessions(ctx context.Context) int {
	closed := s.registry.CloseAll(ctx)
	for _, session := range closed {
		s.markClosed(ctx, session)
	}
	return len(closed)
}

// LoginHistory returns persisted protocol outcomes of a session, newest first.
// History outlives the session, so closed ids are still answered.
func (s *Service) LoginHistory(ctx context.Context, sessionID string, q LoginHistoryQuery) (LoginHistoryResponse, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return LoginHistoryResponse{}, domain.ErrInvalidInput
	}
	if q.Page < 1 {
		q.Page = 1
	}
	if q.Limit <= 0 || q.Limit > 100 {
		q.Limit = 20
	}
	out := LoginHistoryResponse{SessionID: sessionID, Attempts: []domain.LoginAttempt{}, Page: q.Page, Limit: q.Limit}
	if s.attempts == nil {
		return out, nil
	}
	attempts, err := s.attempts.ListBySession(ctx, sessionID, q.Limit, (q.Page-1)*q.Limit)
	if err != nil {
		return LoginHistoryResponse{}, err
	}
	out.Attempts = append(out.Attempts, attempts...)
	return out, nil
}

// afterOperation persists the outcome of one protocol operation.
func (s *Service) afterOperation(ctx context.Context, session *Session, operation string, report domain.StatusReport, wasAuthorized bool) {
	s.recordAttempt(ctx, session.ID(), operation, report)
	s.saveHistory(ctx, session)
	if !wasAuthorized && session.IsAuthorized() {
		s.enqueueEvent(ctx, eventTypeSessionAuthorized, session, nil)
		s.clearLockout(ctx, session.Phone())
	}
}

func (s *Service) markClosed(ctx context.Context, session *Session) {
	now := s.nowFn()
	if s.history != nil {
		if err := s.history.MarkClosed(ctx, session.ID(), now); err != nil {
			s.warn(ctx, "mark_session_closed", session.ID(), err)
		}
	}
	s.enqueueEvent(ctx, eventTypeSessionClosed, session, &now)
}
