package application

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/viralforge/mesh/services/integrations/M31-telegram-login-service/internal/domain"
	"github.com/viralforge/mesh/services/integrations/M31-telegram-login-service/internal/ports"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testCreds(phone string) domain.Credentials {
	return domain.Credentials{
		APIID:                 "12345",
		APIHash:               "0123456789abcdef",
		Phone:                 phone,
		DatabaseEncryptionKey: domain.DefaultDatabaseEncryptionKey,
	}
}

// fastTimeouts keeps the fallback paths of the protocol well under a second.
func fastTimeouts() Timeouts {
	return Timeouts{
		InitialProbe: 50 * time.Millisecond,
		StepWait:     50 * time.Millisecond,
		ResumeWait:   50 * time.Millisecond,
		Probe:        50 * time.Millisecond,
	}
}

// fakeBackend emulates the authorization state machine of one client.
// After a submission it moves to next[current] and, unless silent, notifies.
type fakeBackend struct {
	mu         sync.Mutex
	state      domain.AuthState
	next       map[string]string
	onState    func(domain.AuthState)
	silent     bool
	blockProbe bool
	// hangSubmit applies a submission but never acknowledges it; the call
	// returns only when its context ends.
	hangSubmit bool
	submitErr  map[string]error
	panicOn    string
	closeErr   error
	closeCalls int
	calls      map[string]int
	lastParams ports.TdlibParameters
	lastValue  map[string]string
	// entered and gate, when set, hold every submission until gate is closed.
	entered chan string
	gate    chan struct{}
}

func newFakeBackend(start string) *fakeBackend {
	return &fakeBackend{
		state: domain.NewState(start),
		next: map[string]string{
			domain.TypeWaitParameters:    domain.TypeWaitEncryptionKey,
			domain.TypeWaitEncryptionKey: domain.TypeWaitPhoneNumber,
			domain.TypeWaitPhoneNumber:   domain.TypeWaitCode,
			domain.TypeWaitCode:          domain.TypeWaitPassword,
			domain.TypeWaitPassword:      domain.TypeReady,
		},
		submitErr: map[string]error{},
		calls:     map[string]int{},
		lastValue: map[string]string{},
	}
}

func (b *fakeBackend) submit(ctx context.Context, method, value string) error {
	if b.entered != nil {
		b.entered <- method
	}
	if b.gate != nil {
		<-b.gate
	}
	if b.panicOn == method {
		panic("backend exploded")
	}

	b.mu.Lock()
	b.calls[method]++
	b.lastValue[method] = value
	if err := b.submitErr[method]; err != nil {
		b.mu.Unlock()
		return err
	}
	var notify domain.AuthState
	if to, ok := b.next[b.state.Discriminant()]; ok {
		b.state = domain.NewState(to)
		notify = b.state
	}
	onState, silent, hang := b.onState, b.silent, b.hangSubmit
	b.mu.Unlock()

	if notify != nil && onState != nil && !silent {
		onState(notify)
	}
	if hang {
		<-ctx.Done()
		return ctx.Err()
	}
	return nil
}

func (b *fakeBackend) SetParameters(ctx context.Context, params ports.TdlibParameters) error {
	b.mu.Lock()
	b.lastParams = params
	b.mu.Unlock()
	return b.submit(ctx, "SetParameters", "")
}

func (b *fakeBackend) SetEncryptionKey(ctx context.Context, key string) error {
	return b.submit(ctx, "SetEncryptionKey", key)
}

func (b *fakeBackend) SetPhoneNumber(ctx context.Context, phone string) error {
	return b.submit(ctx, "SetPhoneNumber", phone)
}

func (b *fakeBackend) CheckCode(ctx context.Context, code string) error {
	return b.submit(ctx, "CheckCode", code)
}

func (b *fakeBackend) CheckPassword(ctx context.Context, password string) error {
	return b.submit(ctx, "CheckPassword", password)
}

func (b *fakeBackend) setBlockProbe(block bool) {
	b.mu.Lock()
	b.blockProbe = block
	b.mu.Unlock()
}

func (b *fakeBackend) AuthorizationState(ctx context.Context) (domain.AuthState, error) {
	b.mu.Lock()
	b.calls["AuthorizationState"]++
	block, state := b.blockProbe, b.state
	b.mu.Unlock()
	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return state, nil
}

func (b *fakeBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closeCalls++
	return b.closeErr
}

func (b *fakeBackend) setState(discriminant string) {
	b.mu.Lock()
	b.state = domain.NewState(discriminant)
	b.mu.Unlock()
}

func (b *fakeBackend) callCount(method string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[method]
}

func (b *fakeBackend) closes() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closeCalls
}

// fakeFactory hands out one fakeBackend per session id.
type fakeFactory struct {
	mu       sync.Mutex
	build    func(sessionID string) *fakeBackend
	backends map[string]*fakeBackend
	configs  []ports.ClientConfig
	err      error
}

func newFakeFactory(build func(sessionID string) *fakeBackend) *fakeFactory {
	return &fakeFactory{build: build, backends: map[string]*fakeBackend{}}
}

func (f *fakeFactory) NewClient(_ context.Context, cfg ports.ClientConfig) (ports.BackendClient, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.configs = append(f.configs, cfg)
	if f.err != nil {
		return nil, f.err
	}
	b := f.build(cfg.SessionID)
	b.mu.Lock()
	b.onState = cfg.OnStateChange
	b.mu.Unlock()
	f.backends[cfg.SessionID] = b
	return b, nil
}

func (f *fakeFactory) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.configs)
}

func (f *fakeFactory) backend(sessionID string) *fakeBackend {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.backends[sessionID]
}

// fakeClock advances by step on every read.
type fakeClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), step: time.Second}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(c.step)
	return c.now
}

type fakeHistory struct {
	mu      sync.Mutex
	records map[string]domain.SessionRecord
	closed  map[string]time.Time
}

func newFakeHistory() *fakeHistory {
	return &fakeHistory{records: map[string]domain.SessionRecord{}, closed: map[string]time.Time{}}
}

func (h *fakeHistory) Upsert(_ context.Context, record domain.SessionRecord) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records[record.SessionID] = record
	return nil
}

func (h *fakeHistory) MarkClosed(_ context.Context, sessionID string, closedAt time.Time) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed[sessionID] = closedAt
	return nil
}

type fakeAttempts struct {
	mu   sync.Mutex
	rows []domain.LoginAttempt
}

func (a *fakeAttempts) Insert(_ context.Context, attempt domain.LoginAttempt) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	attempt.ID = int64(len(a.rows) + 1)
	a.rows = append(a.rows, attempt)
	return nil
}

func (a *fakeAttempts) ListBySession(_ context.Context, sessionID string, limit, offset int) ([]domain.LoginAttempt, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]domain.LoginAttempt, 0)
	for _, row := range a.rows {
		if row.SessionID == sessionID {
			out = append(out, row)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if offset >= len(out) {
		return []domain.LoginAttempt{}, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type fakeOutbox struct {
	mu     sync.Mutex
	events []ports.OutboxEvent
}

func (o *fakeOutbox) Enqueue(_ context.Context, event ports.OutboxEvent) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, event)
	return nil
}

func (o *fakeOutbox) ClaimUnpublished(context.Context, int, string, time.Time) ([]ports.OutboxRecord, error) {
	return nil, nil
}

func (o *fakeOutbox) MarkPublished(context.Context, uuid.UUID, string, time.Time) error { return nil }

func (o *fakeOutbox) MarkFailed(context.Context, uuid.UUID, string, string, time.Time) error {
	return nil
}

func (o *fakeOutbox) MarkDeadLettered(context.Context, uuid.UUID, string, string, time.Time) error {
	return nil
}

func (o *fakeOutbox) types() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]string, 0, len(o.events))
	for _, e := range o.events {
		out = append(out, e.EventType)
	}
	return out
}

type fakeLockouts struct {
	mu       sync.Mutex
	states   map[string]ports.LockoutState
	failures map[string]int
	cleared  map[string]int
	getErr   error
}

func newFakeLockouts() *fakeLockouts {
	return &fakeLockouts{
		states:   map[string]ports.LockoutState{},
		failures: map[string]int{},
		cleared:  map[string]int{},
	}
}

func (l *fakeLockouts) Get(_ context.Context, key string) (ports.LockoutState, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.getErr != nil {
		return ports.LockoutState{}, l.getErr
	}
	return l.states[key], nil
}

func (l *fakeLockouts) RecordFailure(_ context.Context, key string, now time.Time, threshold int, window time.Duration) (ports.LockoutState, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failures[key]++
	state := l.states[key]
	state.FailedCount++
	if state.FailedCount >= threshold {
		until := now.Add(window)
		state.LockedUntil = &until
	}
	l.states[key] = state
	return state, nil
}

func (l *fakeLockouts) Clear(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cleared[key]++
	delete(l.states, key)
	return nil
}

var errBackendDown = errors.New("backend down")
