package trade

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/samber/lo"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/fatflowers/roleguard/internal/app/service/ledger"
	"github.com/fatflowers/roleguard/internal/app/service/privilege"
	"github.com/fatflowers/roleguard/internal/models"
	"github.com/fatflowers/roleguard/internal/platform/evidence"
	"github.com/fatflowers/roleguard/internal/platform/plugin"
	"github.com/fatflowers/roleguard/pkg/config"
	"github.com/fatflowers/roleguard/pkg/logctx"
	"github.com/fatflowers/roleguard/pkg/metrics"
	"github.com/fatflowers/roleguard/pkg/types"
)

var (
	ErrNotRunnable    = errors.New("trade is not runnable")
	ErrAlreadyRunning = errors.New("trade is already running")
	ErrPaymentClosed  = errors.New("payment is no longer open")
)

// EvidenceStore keeps receipt images.
type EvidenceStore interface {
	Save(ctx context.Context, tradeID string, data []byte) (string, error)
}

// Service runs trades against the ledger: it claims the trade row, executes the
// choreography without holding any row lock, then writes the outcome back.
type Service struct {
	ledger    ledger.Ledger
	orch      *Orchestrator
	plugin    PluginClient
	evidence  EvidenceStore
	completed *privilege.Service
	clock     Clock
	log       *zap.SugaredLogger

	mu      sync.Mutex
	running map[string]context.CancelFunc
	wg      sync.WaitGroup
}

func NewService(l ledger.Ledger, orch *Orchestrator, p PluginClient, store EvidenceStore, completed *privilege.Service, clock Clock, log *zap.SugaredLogger) *Service {
	return &Service{
		ledger:    l,
		orch:      orch,
		plugin:    p,
		evidence:  store,
		completed: completed,
		clock:     clock,
		log:       log,
		running:   make(map[string]context.CancelFunc),
	}
}

// Launch starts the trade in the background and only logs a refusal to start.
func (s *Service) Launch(ctx context.Context, tradeID string) {
	if _, err := s.Start(ctx, tradeID); err != nil {
		logctx.FromCtx(ctx, s.log).Errorw("trade_launch_failed", "trade_id", tradeID, "error", err)
	}
}

// Start claims the trade and runs it in the background. The run outlives the request that
// started it; an error means the run did not start.
func (s *Service) Start(ctx context.Context, tradeID string) (*models.Trade, error) {
	runCtx, cancel := context.WithCancel(logctx.Detach(ctx))
	t, err := s.begin(ctx, tradeID, cancel)
	if err != nil {
		cancel()
		return nil, err
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()
		defer s.unregister(tradeID)
		s.execute(runCtx, t)
	}()
	return t, nil
}

// Run executes a pending or failed trade and records its outcome. An error means the run
// did not start; a finished run, successful or not, is reported through Result.
func (s *Service) Run(ctx context.Context, tradeID string) (Result, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	t, err := s.begin(ctx, tradeID, cancel)
	if err != nil {
		return Result{}, err
	}
	defer s.unregister(tradeID)
	return s.execute(runCtx, t), nil
}

// begin registers the run for cancellation and claims the trade row.
func (s *Service) begin(ctx context.Context, tradeID string, cancel context.CancelFunc) (*models.Trade, error) {
	if err := s.register(tradeID, cancel); err != nil {
		return nil, err
	}
	t, err := s.claim(ctx, tradeID)
	if err != nil {
		s.unregister(tradeID)
		return nil, err
	}
	logctx.FromCtx(ctx, s.log).Infow("trade_started", "trade_id", tradeID, "payment_id", t.PaymentID, "attempt", t.GetExtra().Attempts)
	return t, nil
}

func (s *Service) execute(ctx context.Context, t *models.Trade) Result {
	log := logctx.FromCtx(ctx, s.log).With("trade_id", t.ID)
	res := s.orch.Execute(ctx, Request{
		TradeID:    t.ID,
		InGameName: t.InGameName,
		Amount:     t.AmountUnits,
		World:      t.World,
	})

	// The outcome is written even if the run was cancelled.
	finishCtx := logctx.Detach(ctx)
	if res.Success {
		s.succeed(finishCtx, t, res, log)
	} else {
		s.fail(finishCtx, t, res, log)
	}
	return res
}

// Cancel stops an in-flight run. A trade left in progress by a previous process is marked
// failed directly.
func (s *Service) Cancel(ctx context.Context, tradeID string) error {
	s.mu.Lock()
	cancel, ok := s.running[tradeID]
	s.mu.Unlock()
	if ok {
		cancel()
		return nil
	}

	now := s.clock.Now()
	_, err := s.ledger.MutateTrade(ctx, tradeID, func(t *models.Trade) (bool, error) {
		if t.Status != types.TradeStatusInProgress && t.Status != types.TradeStatusPending {
			return false, ErrNotRunnable
		}
		t.Status = types.TradeStatusFailed
		t.Reason = lo.ToPtr(ReasonCancelled)
		t.CompletedAt = &now
		return true, nil
	})
	if err != nil {
		return err
	}
	metrics.Trade("cancelled", string(StateConnecting))
	logctx.FromCtx(ctx, s.log).Infow("trade_cancelled_offline", "trade_id", tradeID)
	return nil
}

// Stop cancels every run and waits for their outcomes to be written.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	for _, cancel := range s.running {
		cancel()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) register(tradeID string, cancel context.CancelFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.running[tradeID]; ok {
		return ErrAlreadyRunning
	}
	s.running[tradeID] = cancel
	return nil
}

func (s *Service) unregister(tradeID string) {
	s.mu.Lock()
	delete(s.running, tradeID)
	s.mu.Unlock()
}

// claim moves the trade to in progress if its payment is still open.
func (s *Service) claim(ctx context.Context, tradeID string) (*models.Trade, error) {
	t, err := s.ledger.GetTrade(ctx, tradeID)
	if err != nil {
		return nil, err
	}
	if !t.Status.Runnable() {
		return nil, ErrNotRunnable
	}
	p, err := s.ledger.GetPayment(ctx, t.PaymentID)
	if err != nil {
		return nil, fmt.Errorf("loading payment of trade %s: %w", tradeID, err)
	}
	if !p.Status.IsOpen() {
		return nil, ErrPaymentClosed
	}

	now := s.clock.Now()
	return s.ledger.MutateTrade(ctx, tradeID, func(t *models.Trade) (bool, error) {
		if !t.Status.Runnable() {
			return false, ErrNotRunnable
		}
		extra := t.GetExtra()
		extra.Attempts++
		extra.FailedStep = ""
		t.Extra = models.NewTradeExtra(extra)
		t.Status = types.TradeStatusInProgress
		t.StartedAt = &now
		t.CompletedAt = nil
		t.Reason = nil
		return true, nil
	})
}

func (s *Service) succeed(ctx context.Context, t *models.Trade, res Result, log *zap.SugaredLogger) {
	var evidenceRef *string
	if len(res.Evidence) > 0 {
		if ref, err := s.evidence.Save(ctx, t.ID, res.Evidence); err != nil {
			log.Warnw("trade_evidence_save_failed", "error", err)
		} else {
			evidenceRef = &ref
		}
	}

	now := s.clock.Now()
	_, err := s.ledger.MutateTrade(ctx, t.ID, func(t *models.Trade) (bool, error) {
		t.Status = types.TradeStatusCompleted
		t.CompletedAt = &now
		t.EvidenceRef = evidenceRef
		t.Reason = nil
		extra := t.GetExtra()
		extra.EvidenceSz = len(res.Evidence)
		t.Extra = models.NewTradeExtra(extra)
		return true, nil
	})
	if err != nil {
		log.Errorw("trade_outcome_write_failed", "status", types.TradeStatusCompleted, "error", err)
	}
	metrics.Trade("completed", string(res.Step))

	p, m, err := s.ledger.MutatePayment(ctx, t.PaymentID, ledger.CompleteMutator(now))
	switch {
	case errors.Is(err, ledger.ErrTerminal):
		log.Warnw("ledger_integrity_violation", "payment_id", t.PaymentID, "reason", "trade completed on a terminal payment")
	case err != nil:
		log.Errorw("trade_payment_completion_failed", "payment_id", t.PaymentID, "error", err)
	case m == ledger.MutationComplete:
		s.completed.Completed(ctx, p)
	}

	msg := fmt.Sprintf("Trade with %s complete, thank you!", t.InGameName)
	if err := s.plugin.SendMessage(ctx, msg, true); err != nil {
		log.Warnw("trade_confirmation_message_failed", "error", err)
	}
}

func (s *Service) fail(ctx context.Context, t *models.Trade, res Result, log *zap.SugaredLogger) {
	now := s.clock.Now()
	_, err := s.ledger.MutateTrade(ctx, t.ID, func(t *models.Trade) (bool, error) {
		t.Status = types.TradeStatusFailed
		t.Reason = lo.ToPtr(res.Reason)
		t.CompletedAt = &now
		extra := t.GetExtra()
		extra.FailedStep = string(res.Step)
		t.Extra = models.NewTradeExtra(extra)
		return true, nil
	})
	if err != nil {
		log.Errorw("trade_outcome_write_failed", "status", types.TradeStatusFailed, "error", err)
	}

	outcome := "failed"
	if res.Reason == ReasonCancelled {
		outcome = "cancelled"
		if err := s.plugin.SendMessage(ctx, "trade cancelled", false); err != nil {
			log.Warnw("trade_abort_signal_failed", "error", err)
		}
	}
	metrics.Trade(outcome, string(res.Step))
}

func newService(lc fx.Lifecycle, l ledger.Ledger, orch *Orchestrator, p PluginClient, store EvidenceStore, completed *privilege.Service, clock Clock, log *zap.SugaredLogger) *Service {
	s := NewService(l, orch, p, store, completed, clock, log)
	lc.Append(fx.Hook{OnStop: s.Stop})
	return s
}

var Module = fx.Options(
	fx.Provide(
		RealClock,
		func(c *plugin.Client) PluginClient { return c },
		func(s *evidence.FileStore) EvidenceStore { return s },
		func(cfg *config.Config) Timings { return TimingsFromConfig(cfg) },
		NewOrchestrator,
		newService,
	),
)
