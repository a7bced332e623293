// Package identity validates in-game names against the public hiscores feed.
package identity

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/fatflowers/roleguard/pkg/config"
)

var (
	// ErrUnavailable is returned when the feed cannot answer.
	ErrUnavailable = errors.New("identity feed unavailable")
	// ErrMalformedName is returned for names the game would never accept.
	ErrMalformedName = errors.New("malformed in-game name")
)

// Names are 1-12 characters of letters, digits, spaces, hyphens and underscores.
var namePattern = regexp.MustCompile(`^[A-Za-z0-9 _-]{1,12}$`)

// NormalizeName trims name and checks its shape.
func NormalizeName(name string) (string, error) {
	n := strings.TrimSpace(name)
	if !namePattern.MatchString(n) {
		return "", ErrMalformedName
	}
	return n, nil
}

type Client struct {
	baseURL    string
	httpClient *http.Client
	log        *zap.SugaredLogger
}

func NewClient(cfg *config.Config, log *zap.SugaredLogger) *Client {
	timeout := cfg.InGame.IdentityTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    cfg.InGame.IdentityFeedURL,
		httpClient: &http.Client{Timeout: timeout},
		log:        log.With("component", "identity_feed"),
	}
}

// Exists reports whether the feed knows name. A non-empty 200 response means the identity
// exists; 404 means it does not; anything else is ErrUnavailable.
func (c *Client) Exists(ctx context.Context, name string) (bool, error) {
	n, err := NormalizeName(name)
	if err != nil {
		return false, err
	}
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return false, fmt.Errorf("invalid identity feed URL: %w", err)
	}
	q := u.Query()
	q.Set("player", n)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return false, fmt.Errorf("creating identity request failed: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return false, nil
	case resp.StatusCode != http.StatusOK:
		c.log.Warnw("identity_feed_bad_status", "status_code", resp.StatusCode)
		return false, fmt.Errorf("%w: HTTP %d", ErrUnavailable, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return false, fmt.Errorf("%w: reading body: %v", ErrUnavailable, err)
	}
	return wellFormed(body), nil
}

// wellFormed accepts the hiscores CSV: one or more lines of comma separated integers.
func wellFormed(body []byte) bool {
	s := strings.TrimSpace(string(body))
	if s == "" {
		return false
	}
	for _, line := range strings.Split(s, "\n") {
		for _, f := range strings.Split(strings.TrimSpace(line), ",") {
			if f == "" {
				return false
			}
			for i, r := range f {
				if (r < '0' || r > '9') && !(r == '-' && i == 0) {
					return false
				}
			}
		}
	}
	return true
}

var Module = fx.Options(
	fx.Provide(NewClient),
)
