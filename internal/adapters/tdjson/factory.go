// Package tdjson talks to TDLib through a td_json_client websocket bridge.
//
// Every session owns one websocket connection. Frames are TDLib JSON objects:
// requests carry an "@extra" correlation id which the bridge echoes on the matching
// response, and unsolicited updates arrive without one.
package tdjson

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/coder/websocket"
	"github.com/pkg/errors"

	"github.com/viralforge/mesh/services/integrations/M31-telegram-login-service/internal/ports"
)

type FactoryConfig struct {
	// BridgeURL is the bridge websocket endpoint, e.g. ws://127.0.0.1:8765/td.
	BridgeURL   string
	DialTimeout time.Duration
	Retry       RetryConfig
	// HTTPClient is used for the websocket handshake. Nil uses http.DefaultClient.
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Factory opens one bridge connection per session.
type Factory struct {
	cfg FactoryConfig
}

func NewFactory(cfg FactoryConfig) *Factory {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	if cfg.Retry.Multiplier <= 0 {
		cfg.Retry = DefaultRetryConfig()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Factory{cfg: cfg}
}

var _ ports.BackendFactory = (*Factory)(nil)

func (f *Factory) NewClient(ctx context.Context, cfg ports.ClientConfig) (ports.BackendClient, error) {
	endpoint, err := f.endpoint(cfg)
	if err != nil {
		return nil, err
	}

	var conn *websocket.Conn
	err = retry(ctx, f.cfg.Retry, func() error {
		dialCtx, cancel := context.WithTimeout(ctx, f.cfg.DialTimeout)
		defer cancel()
		c, _, dialErr := websocket.Dial(dialCtx, endpoint, &websocket.DialOptions{HTTPClient: f.cfg.HTTPClient})
		if dialErr != nil {
			f.cfg.Logger.WarnContext(ctx, "tdjson bridge dial failed",
				"module", "tdjson",
				"layer", "adapter",
				"operation", "dial",
				"outcome", "failure",
				"session_id", cfg.SessionID,
				"error", dialErr,
			)
			return dialErr
		}
		conn = c
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "dialing tdjson bridge")
	}
	conn.SetReadLimit(1 << 20)

	return newClient(conn, cfg, f.cfg.Logger), nil
}

func (f *Factory) endpoint(cfg ports.ClientConfig) (string, error) {
	u, err := url.Parse(f.cfg.BridgeURL)
	if err != nil {
		return "", errors.Wrap(err, "parsing bridge url")
	}
	q := u.Query()
	q.Set("session", cfg.SessionID)
	q.Set("dir", cfg.StorageDir)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
