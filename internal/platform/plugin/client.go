// Package plugin talks to the game-client automation plugin over its local HTTP surface.
package plugin

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/fatflowers/roleguard/pkg/config"
)

var (
	// ErrRejected is returned when the plugin answers with a non-200 status.
	ErrRejected = errors.New("plugin rejected the command")
	// ErrUnreachable is returned when the plugin cannot be reached within the call timeout.
	ErrUnreachable = errors.New("plugin unreachable")
)

// SessionStatus is the state of the exchange window as reported by the plugin.
type SessionStatus struct {
	Status string         `json:"status"`
	Extra  map[string]any `json:"-"`
}

const (
	SessionCompleted = "completed"
	SessionDeclined  = "declined"
)

type Client struct {
	baseURL     string
	callTimeout time.Duration
	httpClient  *http.Client
	log         *zap.SugaredLogger
}

func NewClient(cfg *config.Config, log *zap.SugaredLogger) *Client {
	timeout := cfg.Plugin.CallTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:     strings.TrimRight(cfg.Plugin.BaseURL, "/"),
		callTimeout: timeout,
		httpClient:  &http.Client{},
		log:         log.With("component", "plugin_client"),
	}
}

// do runs one request under the per-call timeout and returns the response body on 200.
func (c *Client) do(ctx context.Context, method, path string, in any) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("encoding %s body: %w", path, err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("creating %s request: %w", path, err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %v", ErrUnreachable, method, path, err)
	}
	defer resp.Body.Close()

	out, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", ErrUnreachable, path, err)
	}
	if resp.StatusCode != http.StatusOK {
		c.log.Warnw("plugin_call_rejected", "method", method, "path", path, "status_code", resp.StatusCode)
		return nil, fmt.Errorf("%w: %s %s: HTTP %d", ErrRejected, method, path, resp.StatusCode)
	}
	return out, nil
}

// Status returns nil when the plugin is up and ready for commands.
func (c *Client) Status(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodGet, "/status", nil)
	return err
}

func (c *Client) CurrentChannel(ctx context.Context) (int, error) {
	b, err := c.do(ctx, http.MethodGet, "/world", nil)
	if err != nil {
		return 0, err
	}
	var out struct {
		World int `json:"world"`
	}
	if err := json.Unmarshal(b, &out); err != nil {
		return 0, fmt.Errorf("decoding /world: %w", err)
	}
	return out.World, nil
}

func (c *Client) SwitchChannel(ctx context.Context, world int) error {
	_, err := c.do(ctx, http.MethodPost, "/world/hop", map[string]int{"world": world})
	return err
}

func (c *Client) InitiateContact(ctx context.Context, name string) error {
	_, err := c.do(ctx, http.MethodPost, "/trade/request", map[string]string{"rsn": name})
	return err
}

func (c *Client) Offer(ctx context.Context, amount int64) error {
	_, err := c.do(ctx, http.MethodPost, "/trade/offer", map[string]int64{"amount": amount})
	return err
}

func (c *Client) Accept(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodPost, "/trade/accept", nil)
	return err
}

func (c *Client) SessionStatus(ctx context.Context) (SessionStatus, error) {
	b, err := c.do(ctx, http.MethodGet, "/trade/status", nil)
	if err != nil {
		return SessionStatus{}, err
	}
	var extra map[string]any
	if err := json.Unmarshal(b, &extra); err != nil {
		return SessionStatus{}, fmt.Errorf("decoding /trade/status: %w", err)
	}
	st, _ := extra["status"].(string)
	return SessionStatus{Status: strings.ToLower(st), Extra: extra}, nil
}

// CaptureEvidence returns the current screenshot bytes.
func (c *Client) CaptureEvidence(ctx context.Context) ([]byte, error) {
	return c.do(ctx, http.MethodGet, "/screenshot", nil)
}

func (c *Client) SendMessage(ctx context.Context, text string, public bool) error {
	_, err := c.do(ctx, http.MethodPost, "/chat/send", map[string]any{"message": text, "public": public})
	return err
}

var Module = fx.Options(
	fx.Provide(NewClient),
)
