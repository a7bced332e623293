package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/fatflowers/roleguard/internal/app/service/ledger"
	"github.com/fatflowers/roleguard/internal/app/service/rate"
	"github.com/fatflowers/roleguard/internal/app/service/trade"
	"github.com/fatflowers/roleguard/internal/models"
	"github.com/fatflowers/roleguard/internal/platform/identity"
	"github.com/fatflowers/roleguard/pkg/config"
	"github.com/fatflowers/roleguard/pkg/logctx"
	"github.com/fatflowers/roleguard/pkg/metrics"
	"github.com/fatflowers/roleguard/pkg/types"
)

var (
	ErrInvalidType         = errors.New("invalid payment type")
	ErrInvalidAmount       = errors.New("amount must be positive")
	ErrRailUnavailable     = errors.New("payment rail is not configured")
	ErrIdentityInvalid     = errors.New("in-game name not found")
	ErrNoPendingPayment    = errors.New("no pending payment")
	ErrTransactionRefInUse = errors.New("transaction already attached to another payment")
)

// RecentPaymentsLimit is how many payments a user listing shows.
const RecentPaymentsLimit = 5

type Converter interface {
	Convert(ctx context.Context, usd decimal.Decimal, currency string) (decimal.Decimal, error)
}

type IdentityChecker interface {
	Exists(ctx context.Context, name string) (bool, error)
}

type TradeLauncher interface {
	Launch(ctx context.Context, tradeID string)
}

type Service struct {
	cfg      *config.Config
	ledger   ledger.Ledger
	rates    Converter
	gp       *rate.GPConverter
	identity IdentityChecker
	trades   TradeLauncher
	log      *zap.SugaredLogger
	now      func() time.Time
}

func New(cfg *config.Config, l ledger.Ledger, rates Converter, gp *rate.GPConverter, id IdentityChecker, trades TradeLauncher, log *zap.SugaredLogger) *Service {
	return &Service{
		cfg:      cfg,
		ledger:   l,
		rates:    rates,
		gp:       gp,
		identity: id,
		trades:   trades,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

type CreateRequest struct {
	ExternalID  string          `json:"external_id" binding:"required"`
	DisplayName string          `json:"display_name"`
	Type        string          `json:"type" binding:"required"`
	AmountUSD   decimal.Decimal `json:"amount_usd"`
}

// Quote tells the payer how to settle a new payment.
type Quote struct {
	Payment               *models.Payment `json:"payment"`
	Unit                  string          `json:"unit"`
	ConfirmationsRequired int             `json:"confirmations_required,omitempty"`
	World                 int             `json:"world,omitempty"`
	Location              string          `json:"location,omitempty"`
	TraderName            string          `json:"trader_name,omitempty"`
}

// Create prices the request and stores a pending payment with a fixed deadline.
func (s *Service) Create(ctx context.Context, req *CreateRequest) (*Quote, error) {
	pt, ok := types.ParsePaymentType(req.Type)
	if !ok {
		return nil, ErrInvalidType
	}
	if !req.AmountUSD.IsPositive() {
		return nil, ErrInvalidAmount
	}
	displayName := req.DisplayName
	if displayName == "" {
		displayName = req.ExternalID
	}

	p := &models.Payment{
		UserID:    req.ExternalID,
		Username:  displayName,
		Type:      pt,
		AmountUSD: req.AmountUSD,
		Status:    types.PaymentStatusPending,
	}
	quote := &Quote{Payment: p, Unit: pt.Unit()}

	if pt.IsCrypto() {
		addr := s.cfg.Crypto.AddressFor(pt.Currency())
		if addr == "" {
			return nil, ErrRailUnavailable
		}
		amount, err := s.rates.Convert(ctx, req.AmountUSD, pt.Currency())
		if err != nil {
			return nil, err
		}
		p.AmountSettlement = amount
		p.RecipientAddress = &addr
		quote.ConfirmationsRequired = s.cfg.Payment.ConfirmationThreshold
	} else {
		p.AmountSettlement = decimal.NewFromInt(s.gp.Units(req.AmountUSD))
		quote.World = s.cfg.InGame.World
		quote.Location = s.cfg.InGame.Location
		quote.TraderName = s.cfg.InGame.TraderName
	}

	if _, err := s.ledger.EnsureAccount(ctx, req.ExternalID, displayName); err != nil {
		return nil, err
	}
	p.CreatedAt = s.now()
	p.ExpiresAt = p.CreatedAt.Add(s.cfg.Payment.Timeout())
	if err := s.ledger.CreatePayment(ctx, p); err != nil {
		return nil, err
	}

	metrics.PaymentCreated(string(pt))
	logctx.FromCtx(ctx, s.log).Infow("payment_created", "payment_id", p.ID, "user_id", p.UserID,
		"type", pt, "amount_usd", p.AmountUSD.String(), "amount_settlement", p.AmountSettlement.String(),
		"expires_at", p.ExpiresAt)
	return quote, nil
}

// AttachTransaction records the chain transaction hash the payer sent. Attaching the same
// hash twice is a no-op.
func (s *Service) AttachTransaction(ctx context.Context, paymentID, ref string) (*models.Payment, error) {
	if ref == "" {
		return nil, errors.New("transaction_ref is required")
	}
	existing, err := s.ledger.FindPaymentByTransactionRef(ctx, ref)
	switch {
	case err == nil && existing.ID != paymentID:
		return nil, ErrTransactionRefInUse
	case err != nil && !errors.Is(err, ledger.ErrNotFound):
		return nil, err
	}

	p, _, err := s.ledger.MutatePayment(ctx, paymentID, func(p *models.Payment) (ledger.Mutation, error) {
		if !p.Type.IsCrypto() {
			return ledger.MutationNone, ErrInvalidType
		}
		if p.TransactionRef != nil {
			if *p.TransactionRef == ref {
				return ledger.MutationNone, nil
			}
			return ledger.MutationNone, ErrTransactionRefInUse
		}
		if !p.Status.IsOpen() {
			return ledger.MutationNone, ErrNoPendingPayment
		}
		p.TransactionRef = &ref
		return ledger.MutationSave, nil
	})
	if err != nil {
		return nil, err
	}
	logctx.FromCtx(ctx, s.log).Infow("payment_transaction_attached", "payment_id", paymentID, "transaction_ref", ref)
	return p, nil
}

type IdentityRequest struct {
	InGameName  string `json:"in_game_name" binding:"required"`
	DisplayName string `json:"display_name"`
}

type IdentityResult struct {
	InGameName string          `json:"in_game_name"`
	Payment    *models.Payment `json:"payment,omitempty"`
	Trade      *models.Trade   `json:"trade,omitempty"`
}

// RegisterIdentity validates and stores the payer's in-game name. If an in-game payment is
// waiting, its trade is created and started in the background.
func (s *Service) RegisterIdentity(ctx context.Context, externalID string, req *IdentityRequest) (*IdentityResult, error) {
	name, err := identity.NormalizeName(req.InGameName)
	if err != nil {
		return nil, ErrIdentityInvalid
	}
	ok, err := s.identity.Exists(ctx, name)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrIdentityInvalid
	}

	displayName := req.DisplayName
	if displayName == "" {
		displayName = externalID
	}
	if _, err := s.ledger.EnsureAccount(ctx, externalID, displayName); err != nil {
		return nil, err
	}
	if err := s.ledger.SetInGameName(ctx, externalID, name); err != nil {
		return nil, err
	}
	log := logctx.FromCtx(ctx, s.log).With("user_id", externalID, "in_game_name", name)
	log.Infow("in_game_name_registered")

	res := &IdentityResult{InGameName: name}
	p, err := s.ledger.FindOpenPayment(ctx, externalID, types.PaymentTypeOSRSGP)
	if errors.Is(err, ledger.ErrNotFound) {
		return res, nil
	}
	if err != nil {
		return nil, err
	}
	res.Payment = p

	t, err := s.ledger.GetTradeByPayment(ctx, p.ID)
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		t = &models.Trade{
			PaymentID:   p.ID,
			UserID:      externalID,
			InGameName:  name,
			AmountUnits: p.AmountSettlement.IntPart(),
			World:       s.cfg.InGame.World,
			Location:    s.cfg.InGame.Location,
			Status:      types.TradeStatusPending,
		}
		if err := s.ledger.CreateTrade(ctx, t); err != nil {
			return nil, err
		}
		log.Infow("trade_created", "trade_id", t.ID, "payment_id", p.ID, "amount_units", t.AmountUnits)
	case err != nil:
		return nil, err
	}
	res.Trade = t

	// A failed trade waits for an operator re-run.
	if t.Status == types.TradeStatusPending {
		s.trades.Launch(ctx, t.ID)
	}
	return res, nil
}

func (s *Service) ListUserPayments(ctx context.Context, externalID string) ([]*models.Payment, error) {
	items, err := s.ledger.ListUserPayments(ctx, externalID, RecentPaymentsLimit)
	if err != nil {
		return nil, fmt.Errorf("listing payments of %s: %w", externalID, err)
	}
	return items, nil
}

var Module = fx.Options(
	fx.Provide(
		func(c *rate.Converter) Converter { return c },
		func(c *identity.Client) IdentityChecker { return c },
		func(s *trade.Service) TradeLauncher { return s },
		New,
	),
)
