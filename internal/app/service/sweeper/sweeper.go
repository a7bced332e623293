package sweeper

import (
	"context"
	"errors"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/fatflowers/roleguard/internal/app/service/ledger"
	"github.com/fatflowers/roleguard/internal/models"
	"github.com/fatflowers/roleguard/pkg/config"
	"github.com/fatflowers/roleguard/pkg/metrics"
)

// Sweeper expires open payments whose deadline has passed.
type Sweeper struct {
	ledger    ledger.Ledger
	interval  time.Duration
	batchSize int
	log       *zap.SugaredLogger
	now       func() time.Time

	stop chan struct{}
	done chan struct{}
}

func New(cfg *config.Config, l ledger.Ledger, log *zap.SugaredLogger) *Sweeper {
	return &Sweeper{
		ledger:    l,
		interval:  cfg.Sweeper.Interval,
		batchSize: cfg.Sweeper.BatchSize,
		log:       log.With("component", "expiry_sweeper"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Sweep runs one pass and returns the number of payments it expired. Each candidate is
// re-checked under its row lock, so a payment completed since the scan is left alone and
// a second pass changes nothing.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	start := time.Now()
	now := s.now()
	candidates, err := s.ledger.ListExpiredPayments(ctx, now, s.batchSize)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, c := range candidates {
		_, m, err := s.ledger.MutatePayment(ctx, c.ID, func(p *models.Payment) (ledger.Mutation, error) {
			if err := ledger.Expire(p, now); err != nil {
				return ledger.MutationNone, err
			}
			return ledger.MutationSave, nil
		})
		switch {
		case errors.Is(err, ledger.ErrTerminal), errors.Is(err, ledger.ErrNotDue):
			continue
		case err != nil:
			s.log.Errorw("payment_expire_failed", "payment_id", c.ID, "error", err)
			continue
		}
		if m == ledger.MutationSave {
			expired++
			s.log.Infow("payment_expired", "payment_id", c.ID, "user_id", c.UserID, "type", c.Type, "expires_at", c.ExpiresAt)
		}
	}

	metrics.PaymentsExpired(expired)
	metrics.ObserveProcess("sweeper", "sweep", start)
	return expired, nil
}

// Start launches the periodic loop.
func (s *Sweeper) Start() {
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go s.loop()
	s.log.Infow("expiry sweeper started", "interval", s.interval)
}

func (s *Sweeper) loop() {
	defer close(s.done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-s.stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		select {
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
				s.log.Errorw("sweep failed", "error", err)
			}
		case <-s.stop:
			return
		}
	}
}

// Stop ends the loop and waits for an in-flight pass.
func (s *Sweeper) Stop(ctx context.Context) error {
	if s.stop == nil {
		return nil
	}
	close(s.stop)
	select {
	case <-s.done:
		s.log.Infow("expiry sweeper stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func register(lc fx.Lifecycle, s *Sweeper) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			s.Start()
			return nil
		},
		OnStop: s.Stop,
	})
}

var Module = fx.Options(
	fx.Provide(New),
	fx.Invoke(register),
)
