package rate

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/fx"

	"github.com/fatflowers/roleguard/pkg/config"
)

// cryptoPrecision is the number of decimal places kept in crypto settlement amounts.
const cryptoPrecision = 8

var gpPerMillion = decimal.NewFromInt(1_000_000)

// Converter turns USD amounts into crypto amounts using a live feed. Every call is a fresh
// round trip; there is no cache and no retry.
type Converter struct {
	feed Feed
}

func NewConverter(feed Feed) *Converter { return &Converter{feed: feed} }

// Convert returns usd / rate(currency) rounded to 8 decimal places.
func (c *Converter) Convert(ctx context.Context, usd decimal.Decimal, currency string) (decimal.Decimal, error) {
	rate, err := c.feed.USDRate(ctx, currency)
	if err != nil {
		if errors.Is(err, ErrRateUnavailable) {
			return decimal.Zero, err
		}
		return decimal.Zero, fmt.Errorf("%w: %v", ErrRateUnavailable, err)
	}
	if !rate.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: non-positive rate for %s", ErrRateUnavailable, currency)
	}
	return usd.DivRound(rate, cryptoPrecision), nil
}

// GPConverter prices the in-game currency at a fixed USD rate per million units.
type GPConverter struct {
	usdPerMillion decimal.Decimal
}

func NewGPConverter(cfg *config.Config) (*GPConverter, error) {
	r, err := cfg.InGame.GPRateDecimal()
	if err != nil {
		return nil, fmt.Errorf("invalid gp rate: %w", err)
	}
	if !r.IsPositive() {
		return nil, errors.New("gp rate must be positive")
	}
	return &GPConverter{usdPerMillion: r}, nil
}

// GPAmount returns usd / rate * 1,000,000 without rounding.
func (g *GPConverter) GPAmount(usd decimal.Decimal) decimal.Decimal {
	return usd.Mul(gpPerMillion).Div(g.usdPerMillion)
}

// USDAmount returns gp / 1,000,000 * rate.
func (g *GPConverter) USDAmount(gp decimal.Decimal) decimal.Decimal {
	return gp.Mul(g.usdPerMillion).Div(gpPerMillion)
}

// Units is the whole number of GP handed over in a trade.
func (g *GPConverter) Units(usd decimal.Decimal) int64 {
	return g.GPAmount(usd).Floor().IntPart()
}

var Module = fx.Options(
	fx.Provide(
		NewCoinbaseFeed,
		func(f *CoinbaseFeed) Feed { return f },
		NewConverter,
		NewGPConverter,
	),
)
