// Package privilege runs the side effects of a completed payment once its ledger
// transaction has committed.
package privilege

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/fatflowers/roleguard/internal/models"
	"github.com/fatflowers/roleguard/pkg/logctx"
	"github.com/fatflowers/roleguard/pkg/metrics"
)

// Granter assigns the paid role on the chat platform.
type Granter interface {
	Grant(ctx context.Context, p *models.Payment) error
}

// LogGranter only records the grant. The chat platform integration lives outside this service
// and reads has_privilege from the account.
type LogGranter struct {
	log *zap.SugaredLogger
}

func NewLogGranter(log *zap.SugaredLogger) *LogGranter { return &LogGranter{log: log} }

func (g *LogGranter) Grant(ctx context.Context, p *models.Payment) error {
	logctx.FromCtx(ctx, g.log).Infow("privilege_granted", "user_id", p.UserID, "payment_id", p.ID)
	return nil
}

// Service is called by every path that completes a payment.
type Service struct {
	granter Granter
	log     *zap.SugaredLogger
}

func New(g Granter, log *zap.SugaredLogger) *Service { return &Service{granter: g, log: log} }

// Completed records metrics and grants the privilege. Failures are logged and swallowed: the
// ledger already holds has_privilege and an operator can re-grant.
func (s *Service) Completed(ctx context.Context, p *models.Payment) {
	if p == nil {
		return
	}
	metrics.PaymentCompleted(string(p.Type))
	log := logctx.FromCtx(ctx, s.log)
	log.Infow("payment_completed", "payment_id", p.ID, "user_id", p.UserID, "type", p.Type, "amount_usd", p.AmountUSD.String())
	if s.granter == nil {
		return
	}
	if err := s.granter.Grant(ctx, p); err != nil {
		log.Errorw("privilege_grant_failed", "payment_id", p.ID, "user_id", p.UserID, "error", err)
	}
}

var Module = fx.Options(
	fx.Provide(
		NewLogGranter,
		func(g *LogGranter) Granter { return g },
		New,
	),
)
