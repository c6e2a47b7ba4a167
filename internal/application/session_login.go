package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/viralforge/mesh/services/integrations/M31-telegram-login-service/internal/domain"
	"github.com/viralforge/mesh/services/integrations/M31-telegram-login-service/internal/ports"
)

// maxAutomaticSteps caps the submissions one BeginLogin may issue on its own.
const maxAutomaticSteps = 8

const (
	msgCodeSent            = "Authentication code has been sent to your Telegram app"
	msgPasswordRequired    = "Two-factor authentication password required"
	msgAuthorized          = "Successfully authorized"
	msgAuthorizedWith2FA   = "Successfully authorized with 2FA"
	msgUnknownState        = "Unknown authorization state"
	msgPhoneSubmitted      = "Phone number submitted, waiting for Telegram"
	msgStalled             = "Authorization state did not advance"
	msgProbeTimeout        = "Timed out waiting for authorization state"
	msgCodeChecking        = "Code submitted, checking status"
	msgPasswordChecking    = "Password submitted, checking status"
	msgCodeNotExpected     = "Session is not waiting for a code"
	msgPasswordNotExpected = "Session is not waiting for a password"
)

// BeginLogin drives the backend until it needs external input or is authorized.
// Backend failures are folded into an error report; the returned error is only
// domain.ErrSessionBusy or domain.ErrSessionClosed.
func (s *Session) BeginLogin(ctx context.Context) (report domain.StatusReport, err error) {
	if err := s.acquire(); err != nil {
		return domain.StatusReport{}, err
	}
	defer s.release()
	defer s.recoverReport("Error during login", &report, &err)
	s.touch()

	client, err := s.ensureClient(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrSessionClosed) {
			return domain.StatusReport{}, err
		}
		return s.failure("Error initializing client", err), nil
	}

	state, err := s.probe(ctx, client, s.timeouts.InitialProbe)
	if err != nil {
		return s.failure("Error during login", err), nil
	}
	if state == nil {
		if pending, ok := s.signal.Wait(ctx, 0); ok {
			state = pending
		} else if cached, confirmed := s.observed(); confirmed {
			state = cached
		} else {
			return s.report(domain.StatusUnknown, msgProbeTimeout, cached), nil
		}
	}
	if state == nil {
		return s.report(domain.StatusUnknown, msgProbeTimeout, nil), nil
	}

	for steps := 0; ; steps++ {
		s.adopt(state)
		if !automatic(state) {
			return s.loginReport(state), nil
		}
		if steps >= maxAutomaticSteps {
			return s.report(domain.StatusUnknown, msgStalled, state), nil
		}

		s.signal.Drain()
		deadline := time.Now().Add(s.timeouts.StepWait)
		err := s.submitWithin(ctx, deadline, state.Discriminant(), func(ctx context.Context) error {
			return s.submitAutomatic(ctx, client, state)
		})
		if err != nil {
			return s.failure("Error during login", err), nil
		}
		next, err := s.awaitNextState(ctx, client, state, deadline, s.timeouts.Probe)
		if err != nil {
			return s.failure("Error during login", err), nil
		}
		if next == nil {
			s.markUnconfirmed()
			return s.stalledReport(state), nil
		}
		if domain.SameDiscriminant(next, state) {
			return s.stalledReport(state), nil
		}
		state = next
	}
}

// SubmitCode resumes a login parked at the code step.
func (s *Session) SubmitCode(ctx context.Context, code string) (domain.StatusReport, error) {
	return s.resume(ctx, resumeStep{
		want:     domain.TypeWaitCode,
		errorMsg: "Error submitting code",
		missMsg:  msgCodeNotExpected,
		submit: func(ctx context.Context) error {
			return client.CheckCode(ctx, code)
		},
		outcome: func(state domain.AuthState) (domain.Status, string) {
			switch state.(type) {
			case domain.StateWaitPassword:
				return domain.StatusAwaitingPassword, msgPasswordRequired
			case domain.StateReady:
				return domain.StatusAuthorized, msgAuthorized
			default:
				return domain.StatusUnknown, msgCodeChecking
			}
		},
	})
}

// SubmitPassword resumes a login parked at the two-factor password step.
func (s *Session) SubmitPassword(ctx context.Context, password string) (domain.StatusReport, error) {
	return s.resume(ctx, resumeStep{
		want:     domain.TypeWaitPassword,
		errorMsg: "Error submitting password",
		missMsg:  msgPasswordNotExpected,
		submit: func(ctx context.Context) error {
			return client.CheckPassword(ctx, password)
		},
		outcome: func(state domain.AuthState) (domain.Status, string) {
			if _, ok := state.(domain.StateReady); ok {
				return domain.StatusAuthorized, msgAuthorizedWith2FA
			}
			return domain.StatusUnknown, msgPasswordChecking
		},
	})
}

type resumeStep struct {
	want     string
	errorMsg string
	missMsg  string
	submit   func(ctx context.Context) error
	outcome  func(state domain.AuthState) (domain.Status, string)
}

// resume submits externally supplied input. When the backend is not waiting for that
// input the value is never sent; the current state is reported instead. A cached state
// left unconfirmed by an earlier probe timeout is re-probed first, and nothing is sent
// while the backend cannot confirm it.
func (s *Session) resume(ctx context.Context, step resumeStep) (report domain.StatusReport, err error) {
	if err := s.acquire(); err != nil {
		return domain.StatusReport{}, err
	}
	defer s.release()
	defer s.recoverReport(step.errorMsg, &report, &err)

	client, err := s.activeClient()
	if err != nil {
		return domain.StatusReport{}, err
	}
	s.touch()

	current, confirmed := s.observed()
	if current == nil || !confirmed || current.Discriminant() != step.want {
		probed, err := s.probe(ctx, client, s.timeouts.Probe)
		if err != nil {
			return s.failure(step.errorMsg, err), nil
		}
		switch {
		case probed != nil:
			s.adopt(probed)
			current = probed
		case current == nil || !confirmed:
			return s.report(domain.StatusUnknown, msgProbeTimeout, current), nil
		}
		if current.Discriminant() != step.want {
			return s.currentReport(current, step.missMsg), nil
		}
	}

	s.signal.Drain()
	deadline := time.Now().Add(s.timeouts.ResumeWait)
	if err := s.submitWithin(ctx, deadline, step.want, step.submit); err != nil {
		return s.failure(step.errorMsg, err), nil
	}
	next, err := s.awaitNextState(ctx, client, current, deadline, s.timeouts.Probe)
	if err != nil {
		return s.failure(step.errorMsg, err), nil
	}
	if next == nil {
		// The backend may have moved on; the next resume must confirm before sending.
		s.markUnconfirmed()
		status, message := step.outcome(current)
		return s.report(status, message, current), nil
	}
	s.adopt(next)
	status, message := step.outcome(next)
	return s.report(status, message, next), nil
}

// awaitNextState waits until deadline for a notification whose discriminant differs
// from prev, then falls back to exactly one probe. A notification already pending is
// taken even when the deadline has passed. A nil state with a nil error means the
// probe timed out and the caller keeps the last known state.
func (s *Session) awaitNextState(ctx context.Context, client ports.BackendClient, prev domain.AuthState, deadline time.Time, probe time.Duration) (domain.AuthState, error) {
	for {
		state, ok := s.signal.Wait(ctx, time.Until(deadline))
		if !ok {
			break
		}
		if !domain.SameDiscriminant(state, prev) {
			return state, nil
		}
	}
	return s.probe(ctx, client, probe)
}

// submitWithin sends one submission bounded by deadline. A submission the backend has
// not acknowledged by then is left in flight and counts as sent; the caller goes on
// to wait for its effect. Only the caller's own context ending is a failure.
func (s *Session) submitWithin(ctx context.Context, deadline time.Time, step string, submit func(context.Context) error) error {
	submitCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	err := submit(submitCtx)
	if err == nil {
		return nil
	}
	if ctx.Err() == nil && errors.Is(submitCtx.Err(), context.DeadlineExceeded) {
		s.logger.Warn("submission not acknowledged before deadline",
			"module", "application.session",
			"layer", "application",
			"operation", "submit",
			"outcome", "timeout",
			"state", step,
		)
		return nil
	}
	return err
}

// probe asks the backend for its state directly. Timeouts are absorbed.
func (s *Session) probe(ctx context.Context, client ports.BackendClient, timeout time.Duration) (domain.AuthState, error) {
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	state, err := client.AuthorizationState(probeCtx)
	if err == nil && state != nil {
		return state, nil
	}
	if err == nil || errors.Is(err, context.DeadlineExceeded) || probeCtx.Err() != nil {
		s.logger.Warn("authorization state probe timed out",
			"module", "application.session",
			"layer", "application",
			"operation", "probe",
			"outcome", "timeout",
			"timeout", timeout.String(),
		)
		return nil, nil
	}
	return nil, fmt.Errorf("%w: probe authorization state: %v", domain.ErrBackendFailure, err)
}

func automatic(state domain.AuthState) bool {
	switch state.(type) {
	case domain.StateWaitParameters, domain.StateWaitEncryptionKey, domain.StateWaitPhoneNumber:
		return true
	default:
		return false
	}
}

func (s *Session) submitAutomatic(ctx context.Context, client ports.BackendClient, state domain.AuthState) error {
	var err error
	switch state.(type) {
	case domain.StateWaitParameters:
		params, perr := s.parameters()
		if perr != nil {
			return perr
		}
		err = client.SetParameters(ctx, params)
	case domain.StateWaitEncryptionKey:
		err = client.SetEncryptionKey(ctx, s.creds.DatabaseEncryptionKey)
	case domain.StateWaitPhoneNumber:
		err = client.SetPhoneNumber(ctx, s.creds.Phone)
	default:
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %v", domain.ErrBackendFailure, state.Discriminant(), err)
	}
	s.logger.Debug("automatic step submitted",
		"module", "application.session",
		"layer", "application",
		"operation", "advance",
		"outcome", "submitted",
		"state", state.Discriminant(),
	)
	return nil
}

func (s *Session) loginReport(state domain.AuthState) domain.StatusReport {
	switch state.(type) {
	case domain.StateWaitCode:
		return s.report(domain.StatusAwaitingCode, msgCodeSent, state)
	case domain.StateWaitPassword:
		return s.report(domain.StatusAwaitingPassword, msgPasswordRequired, state)
	case domain.StateReady:
		return s.report(domain.StatusAuthorized, msgAuthorized, state)
	default:
		return s.report(domain.StatusUnknown, msgUnknownState, state)
	}
}

// stalledReport answers a loop that stopped on an automatic state.
func (s *Session) stalledReport(state domain.AuthState) domain.StatusReport {
	if _, ok := state.(domain.StateWaitPhoneNumber); ok {
		return s.report(domain.StatusAwaitingPhone, msgPhoneSubmitted, state)
	}
	return s.report(domain.StatusUnknown, msgStalled, state)
}

func (s *Session) currentReport(state domain.AuthState, fallback string) domain.StatusReport {
	status := domain.StatusOf(state)
	switch status {
	case domain.StatusAuthorized:
		return s.report(status, msgAuthorized, state)
	case domain.StatusAwaitingCode:
		return s.report(status, msgCodeSent, state)
	case domain.StatusAwaitingPassword:
		return s.report(status, msgPasswordRequired, state)
	default:
		return s.report(status, fallback, state)
	}
}

// recoverReport turns a panic raised by a backend call into an error report.
func (s *Session) recoverReport(prefix string, report *domain.StatusReport, err *error) {
	if r := recover(); r != nil {
		*report = s.failure(prefix, fmt.Errorf("%w: panic: %v", domain.ErrBackendFailure, r))
		*err = nil
	}
}
