package tdjson

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/pkg/errors"

	"github.com/viralforge/mesh/services/integrations/M31-telegram-login-service/internal/domain"
	"github.com/viralforge/mesh/services/integrations/M31-telegram-login-service/internal/ports"
)

const (
	closeRequestTimeout = 2 * time.Second
	// writeTimeout bounds a single frame write. The websocket is torn down when a
	// write context ends mid-frame, so writes never inherit the caller's deadline.
	writeTimeout = 5 * time.Second
)

// ErrClosed is returned for requests on a client whose connection is gone.
var ErrClosed = errors.New("tdjson client closed")

// Error is a TDLib "error" object returned for a request.
type Error struct {
	Code    int
	Message string
}

func (e *Error) Error() string {
	return "tdlib error " + strconv.Itoa(e.Code) + ": " + e.Message
}

type object = map[string]any

// Client is one session's bridge connection.
type Client struct {
	conn    *websocket.Conn
	onState func(domain.AuthState)
	logger  *slog.Logger

	writeMu sync.Mutex
	nextID  atomic.Uint64

	mu      sync.Mutex
	pending map[string]chan object
	readErr error

	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

var _ ports.BackendClient = (*Client)(nil)

func newClient(conn *websocket.Conn, cfg ports.ClientConfig, logger *slog.Logger) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		conn:    conn,
		onState: cfg.OnStateChange,
		logger:  logger.With("session_id", cfg.SessionID),
		pending: make(map[string]chan object),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go c.readLoop(ctx)
	return c
}

func (c *Client) SetParameters(ctx context.Context, params ports.TdlibParameters) error {
	_, err := c.send(ctx, object{"@type": "setTdlibParameters", "parameters": params})
	return err
}

// SetEncryptionKey submits the local database key. TDLib bytes fields travel base64 encoded.
func (c *Client) SetEncryptionKey(ctx context.Context, key string) error {
	_, err := c.send(ctx, object{
		"@type":          "checkDatabaseEncryptionKey",
		"encryption_key": base64.StdEncoding.EncodeToString([]byte(key)),
	})
	return err
}

func (c *Client) SetPhoneNumber(ctx context.Context, phone string) error {
	_, err := c.send(ctx, object{"@type": "setAuthenticationPhoneNumber", "phone_number": phone})
	return err
}

func (c *Client) CheckCode(ctx context.Context, code string) error {
	_, err := c.send(ctx, object{"@type": "checkAuthenticationCode", "code": code})
	return err
}

func (c *Client) CheckPassword(ctx context.Context, password string) error {
	_, err := c.send(ctx, object{"@type": "checkAuthenticationPassword", "password": password})
	return err
}

func (c *Client) AuthorizationState(ctx context.Context) (domain.AuthState, error) {
	resp, err := c.send(ctx, object{"@type": "getAuthorizationState"})
	if err != nil {
		return nil, err
	}
	return domain.ParseAuthState(resp), nil
}

// Close asks TDLib to close the instance, then drops the connection.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), closeRequestTimeout)
		defer cancel()
		if _, sendErr := c.send(ctx, object{"@type": "close"}); sendErr != nil && !errors.Is(sendErr, ErrClosed) {
			c.logger.Warn("tdjson close request failed",
				"module", "tdjson",
				"layer", "adapter",
				"operation", "close",
				"outcome", "failure",
				"error", sendErr,
			)
		}
		if closeErr := c.conn.Close(websocket.StatusNormalClosure, "session closed"); closeErr != nil && !isClosedConn(closeErr) {
			err = errors.Wrap(closeErr, "closing bridge connection")
		}
		c.cancel()
		<-c.done
	})
	return err
}

// send writes one request and waits for the response carrying the same @extra.
// When ctx ends first the request stays in flight on the bridge and its late
// response is dropped.
func (c *Client) send(ctx context.Context, req object) (object, error) {
	extra := strconv.FormatUint(c.nextID.Add(1), 10)
	req["@extra"] = extra
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, errors.Wrap(err, "encoding request")
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ch := make(chan object, 1)
	c.mu.Lock()
	if c.readErr != nil {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	c.pending[extra] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, extra)
		c.mu.Unlock()
	}()

	writeCtx, cancelWrite := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	c.writeMu.Lock()
	err = c.conn.Write(writeCtx, websocket.MessageText, payload)
	c.writeMu.Unlock()
	cancelWrite()
	if err != nil {
		return nil, errors.Wrapf(err, "writing %v", req["@type"])
	}

	select {
	case resp := <-ch:
		if tag, _ := resp["@type"].(string); tag == "error" {
			return nil, toError(resp)
		}
		return resp, nil
	case <-c.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Client) readLoop(ctx context.Context) {
	defer close(c.done)
	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			c.mu.Lock()
			c.readErr = err
			c.mu.Unlock()
			if ctx.Err() == nil && !isClosedConn(err) {
				c.logger.Warn("tdjson read failed",
					"module", "tdjson",
					"layer", "adapter",
					"operation", "read",
					"outcome", "failure",
					"error", err,
				)
			}
			return
		}

		var msg object
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Warn("tdjson frame discarded",
				"module", "tdjson",
				"layer", "adapter",
				"operation", "decode",
				"outcome", "failure",
				"error", err,
			)
			continue
		}
		c.dispatch(msg)
	}
}

func (c *Client) dispatch(msg object) {
	if tag, _ := msg["@type"].(string); tag == "updateAuthorizationState" {
		if raw, ok := msg["authorization_state"].(map[string]any); ok && c.onState != nil {
			c.onState(domain.ParseAuthState(raw))
		}
		return
	}

	extra := extraOf(msg["@extra"])
	if extra == "" {
		return
	}
	c.mu.Lock()
	ch, ok := c.pending[extra]
	c.mu.Unlock()
	if ok {
		select {
		case ch <- msg:
		default:
		}
	}
}

// extraOf normalizes the echoed correlation id, which bridges may return as a number.
func extraOf(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatUint(uint64(t), 10)
	default:
		return ""
	}
}

func toError(resp object) error {
	e := &Error{}
	if code, ok := resp["code"].(float64); ok {
		e.Code = int(code)
	}
	e.Message, _ = resp["message"].(string)
	return e
}

func isClosedConn(err error) bool {
	if errors.Is(err, net.ErrClosed) || errors.Is(err, context.Canceled) {
		return true
	}
	status := websocket.CloseStatus(err)
	return status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway
}
