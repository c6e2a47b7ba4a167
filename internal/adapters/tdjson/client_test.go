package tdjson

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/viralforge/mesh/services/integrations/M31-telegram-login-service/internal/domain"
	"github.com/viralforge/mesh/services/integrations/M31-telegram-login-service/internal/ports"
)

// fakeBridge answers TDLib requests over a websocket the way td_json_client does.
type fakeBridge struct {
	mu       sync.Mutex
	query    url.Values
	requests []map[string]any
	state    string
	// mute drops responses for the listed request types.
	mute map[string]bool
}

func newFakeBridge(t *testing.T) (*fakeBridge, *httptest.Server) {
	b := &fakeBridge{state: domain.TypeWaitPhoneNumber, mute: map[string]bool{}}
	srv := httptest.NewServer(http.HandlerFunc(b.serve))
	t.Cleanup(srv.Close)
	return b, srv
}

func (b *fakeBridge) serve(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	b.query = r.URL.Query()
	b.mu.Unlock()

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer conn.CloseNow()

	ctx := r.Context()
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var req map[string]any
		if err := json.Unmarshal(data, &req); err != nil {
			continue
		}
		for _, frame := range b.handle(req) {
			raw, _ := json.Marshal(frame)
			if err := conn.Write(ctx, websocket.MessageText, raw); err != nil {
				return
			}
		}
	}
}

func (b *fakeBridge) handle(req map[string]any) []map[string]any {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.requests = append(b.requests, req)

	tag, _ := req["@type"].(string)
	extra := req["@extra"]
	if b.mute[tag] {
		return nil
	}
	ok := map[string]any{"@type": "ok", "@extra": extra}
	switch tag {
	case "getAuthorizationState":
		return []map[string]any{{"@type": b.state, "@extra": extra}}
	case "setAuthenticationPhoneNumber":
		b.state = domain.TypeWaitCode
		return []map[string]any{
			ok,
			{"@type": "updateAuthorizationState", "authorization_state": map[string]any{"@type": domain.TypeWaitCode}},
		}
	case "checkAuthenticationCode":
		if req["code"] == "00000" {
			return []map[string]any{{"@type": "error", "code": 400, "message": "PHONE_CODE_INVALID", "@extra": extra}}
		}
		b.state = domain.TypeReady
		return []map[string]any{
			{"@type": "updateAuthorizationState", "authorization_state": map[string]any{"@type": domain.TypeReady}},
			ok,
		}
	default:
		return []map[string]any{ok}
	}
}

func (b *fakeBridge) lastRequest(tag string) map[string]any {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := len(b.requests) - 1; i >= 0; i-- {
		if b.requests[i]["@type"] == tag {
			return b.requests[i]
		}
	}
	return nil
}

type stateRecorder struct {
	mu     sync.Mutex
	states []domain.AuthState
	seen   chan struct{}
}

func newStateRecorder() *stateRecorder {
	return &stateRecorder{seen: make(chan struct{}, 16)}
}

func (r *stateRecorder) record(state domain.AuthState) {
	r.mu.Lock()
	r.states = append(r.states, state)
	r.mu.Unlock()
	r.seen <- struct{}{}
}

func (r *stateRecorder) wait(t *testing.T) domain.AuthState {
	t.Helper()
	select {
	case <-r.seen:
	case <-time.After(2 * time.Second):
		t.Fatal("no state update received")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.states[len(r.states)-1]
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/td"
}

func dialTestClient(t *testing.T, srv *httptest.Server, rec *stateRecorder) ports.BackendClient {
	t.Helper()
	factory := NewFactory(FactoryConfig{
		BridgeURL: wsURL(srv),
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	client, err := factory.NewClient(context.Background(), ports.ClientConfig{
		SessionID:     "session_test",
		StorageDir:    "/tmp/sessions/session_test",
		OnStateChange: rec.record,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestFactoryPassesSessionToBridge(t *testing.T) {
	t.Parallel()

	bridge, srv := newFakeBridge(t)
	client := dialTestClient(t, srv, newStateRecorder())

	_, err := client.AuthorizationState(context.Background())
	require.NoError(t, err)

	bridge.mu.Lock()
	defer bridge.mu.Unlock()
	assert.Equal(t, "session_test", bridge.query.Get("session"))
	assert.Equal(t, "/tmp/sessions/session_test", bridge.query.Get("dir"))
}

func TestAuthorizationStateIsParsed(t *testing.T) {
	t.Parallel()

	_, srv := newFakeBridge(t)
	client := dialTestClient(t, srv, newStateRecorder())

	state, err := client.AuthorizationState(context.Background())
	require.NoError(t, err)
	_, ok := state.(domain.StateWaitPhoneNumber)
	assert.True(t, ok, "got %T", state)
}

func TestSubmissionUpdatesReachSubscriber(t *testing.T) {
	t.Parallel()

	bridge, srv := newFakeBridge(t)
	rec := newStateRecorder()
	client := dialTestClient(t, srv, rec)
	ctx := context.Background()

	require.NoError(t, client.SetPhoneNumber(ctx, "+15550001"))
	assert.Equal(t, domain.TypeWaitCode, rec.wait(t).Discriminant())
	assert.Equal(t, "+15550001", bridge.lastRequest("setAuthenticationPhoneNumber")["phone_number"])

	require.NoError(t, client.CheckCode(ctx, "12345"))
	assert.Equal(t, domain.TypeReady, rec.wait(t).Discriminant())
}

func TestTdlibErrorIsReturned(t *testing.T) {
	t.Parallel()

	_, srv := newFakeBridge(t)
	client := dialTestClient(t, srv, newStateRecorder())

	err := client.CheckCode(context.Background(), "00000")
	var tdErr *Error
	require.True(t, errors.As(err, &tdErr), "got %v", err)
	assert.Equal(t, 400, tdErr.Code)
	assert.Equal(t, "PHONE_CODE_INVALID", tdErr.Message)
}

func TestRequestsCarryTdlibFieldNames(t *testing.T) {
	t.Parallel()

	bridge, srv := newFakeBridge(t)
	client := dialTestClient(t, srv, newStateRecorder())
	ctx := context.Background()

	require.NoError(t, client.SetEncryptionKey(ctx, "changeme1234"))
	key := bridge.lastRequest("checkDatabaseEncryptionKey")["encryption_key"]
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("changeme1234")), key)

	require.NoError(t, client.SetParameters(ctx, ports.TdlibParameters{
		DatabaseDirectory: "/tmp/db",
		APIID:             12345,
		APIHash:           "hash",
	}))
	params, ok := bridge.lastRequest("setTdlibParameters")["parameters"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(12345), params["api_id"])
	assert.Equal(t, "hash", params["api_hash"])
	assert.Equal(t, "/tmp/db", params["database_directory"])

	require.NoError(t, client.CheckPassword(ctx, "secret"))
	assert.Equal(t, "secret", bridge.lastRequest("checkAuthenticationPassword")["password"])
}

func TestRequestHonorsContextDeadline(t *testing.T) {
	t.Parallel()

	bridge, srv := newFakeBridge(t)
	bridge.mute["getAuthorizationState"] = true
	client := dialTestClient(t, srv, newStateRecorder())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := client.AuthorizationState(ctx)
	assert.True(t, errors.Is(err, context.DeadlineExceeded), "got %v", err)
}

func TestUnansweredRequestKeepsConnectionUsable(t *testing.T) {
	t.Parallel()

	bridge, srv := newFakeBridge(t)
	bridge.mute["setAuthenticationPhoneNumber"] = true
	client := dialTestClient(t, srv, newStateRecorder())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := client.SetPhoneNumber(ctx, "+15550001")
	assert.True(t, errors.Is(err, context.DeadlineExceeded), "got %v", err)
	assert.Eventually(t, func() bool {
		return bridge.lastRequest("setAuthenticationPhoneNumber") != nil
	}, time.Second, 10*time.Millisecond)

	state, err := client.AuthorizationState(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.TypeWaitPhoneNumber, state.Discriminant())
}

func TestExpiredContextSendsNothing(t *testing.T) {
	t.Parallel()

	bridge, srv := newFakeBridge(t)
	client := dialTestClient(t, srv, newStateRecorder())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := client.CheckCode(ctx, "12345")
	assert.True(t, errors.Is(err, context.Canceled), "got %v", err)
	assert.Nil(t, bridge.lastRequest("checkAuthenticationCode"))
}

func TestCloseSendsCloseAndRejectsLaterRequests(t *testing.T) {
	t.Parallel()

	bridge, srv := newFakeBridge(t)
	client := dialTestClient(t, srv, newStateRecorder())

	_ = client.Close()
	assert.NoError(t, client.Close(), "second close is a no-op")
	assert.NotNil(t, bridge.lastRequest("close"))

	_, err := client.AuthorizationState(context.Background())
	assert.True(t, errors.Is(err, ErrClosed), "got %v", err)
}

func TestFactoryDialFailure(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	endpoint := wsURL(srv)
	srv.Close()

	factory := NewFactory(FactoryConfig{
		BridgeURL:   endpoint,
		DialTimeout: 200 * time.Millisecond,
		Retry:       RetryConfig{MaxRetries: 1, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond, Multiplier: 2},
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	_, err := factory.NewClient(context.Background(), ports.ClientConfig{SessionID: "session_x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dialing tdjson bridge")
}

func TestRetryStopsOnContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := retry(ctx, RetryConfig{MaxRetries: 5, InitialBackoff: time.Hour, MaxBackoff: time.Hour, Multiplier: 2}, func() error {
		calls++
		cancel()
		return errors.New("fail")
	})
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, 1, calls)
}

func TestRetryReturnsLastError(t *testing.T) {
	t.Parallel()

	calls := 0
	err := retry(context.Background(), RetryConfig{MaxRetries: 2, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond, Multiplier: 2}, func() error {
		calls++
		return errors.New("still failing")
	})
	assert.EqualError(t, err, "still failing")
	assert.Equal(t, 3, calls)
}

func TestExtraOf(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "7", extraOf("7"))
	assert.Equal(t, "7", extraOf(float64(7)))
	assert.Equal(t, "", extraOf(nil))
}
