package rate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/fatflowers/roleguard/pkg/config"
)

// ErrRateUnavailable is returned when the price feed cannot produce a usable rate.
var ErrRateUnavailable = errors.New("exchange rate unavailable")

// Feed returns the USD price of one unit of currency.
type Feed interface {
	USDRate(ctx context.Context, currency string) (decimal.Decimal, error)
}

// CoinbaseFeed reads the public exchange-rates endpoint:
// GET {base}?currency=BTC -> {"data":{"currency":"BTC","rates":{"USD":"50000.12",...}}}
type CoinbaseFeed struct {
	baseURL    string
	httpClient *http.Client
	log        *zap.SugaredLogger
}

func NewCoinbaseFeed(cfg *config.Config, log *zap.SugaredLogger) *CoinbaseFeed {
	timeout := cfg.Crypto.RateFeedTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &CoinbaseFeed{
		baseURL: cfg.Crypto.RateFeedURL,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     30 * time.Second,
			},
		},
		log: log.With("component", "rate_feed"),
	}
}

type coinbaseResponse struct {
	Data struct {
		Currency string            `json:"currency"`
		Rates    map[string]string `json:"rates"`
	} `json:"data"`
}

func (f *CoinbaseFeed) USDRate(ctx context.Context, currency string) (decimal.Decimal, error) {
	u, err := url.Parse(f.baseURL)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid rate feed URL: %w", err)
	}
	q := u.Query()
	q.Set("currency", strings.ToUpper(currency))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("creating rate request failed: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %v", ErrRateUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: reading body: %v", ErrRateUnavailable, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		f.log.Warnw("rate_feed_bad_status", "currency", currency, "status_code", resp.StatusCode)
		return decimal.Zero, fmt.Errorf("%w: HTTP %d", ErrRateUnavailable, resp.StatusCode)
	}

	var parsed coinbaseResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return decimal.Zero, fmt.Errorf("%w: parsing response: %v", ErrRateUnavailable, err)
	}
	raw, ok := parsed.Data.Rates["USD"]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: USD rate missing for %s", ErrRateUnavailable, currency)
	}
	rate, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: invalid USD rate %q", ErrRateUnavailable, raw)
	}
	if !rate.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: non-positive USD rate %s", ErrRateUnavailable, raw)
	}
	return rate, nil
}
