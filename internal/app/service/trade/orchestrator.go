package trade

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fatflowers/roleguard/internal/platform/plugin"
	"github.com/fatflowers/roleguard/pkg/config"
	"github.com/fatflowers/roleguard/pkg/logctx"
)

// PluginClient is the remote automation surface of the game client.
type PluginClient interface {
	Status(ctx context.Context) error
	CurrentChannel(ctx context.Context) (int, error)
	SwitchChannel(ctx context.Context, world int) error
	InitiateContact(ctx context.Context, name string) error
	Offer(ctx context.Context, amount int64) error
	Accept(ctx context.Context) error
	SessionStatus(ctx context.Context) (plugin.SessionStatus, error)
	CaptureEvidence(ctx context.Context) ([]byte, error)
	SendMessage(ctx context.Context, text string, public bool) error
}

// State labels each step of the choreography.
type State string

const (
	StateConnecting         State = "connecting"
	StateRelocating         State = "relocating"
	StateSettlingRelocation State = "settling_relocation"
	StateContacting         State = "contacting"
	StateAwaitingWindow     State = "awaiting_window"
	StateOffering           State = "offering"
	StateAwaitingAcceptance State = "awaiting_acceptance"
	StateDone               State = "done"
)

// sessionAwaitingAccept is reported once the counterpart accepted the offer screen and
// ours is the remaining acceptance.
const sessionAwaitingAccept = "awaiting_accept"

const (
	ReasonUnavailable = "automation surface unavailable"
	ReasonTimedOut    = "timed out awaiting acceptance"
	ReasonCancelled   = "cancelled by operator"
)

// Timings holds the fixed waits of the choreography.
type Timings struct {
	// RelocateSettle covers the remote client's render and propagation latency after a
	// world switch.
	RelocateSettle time.Duration
	// WindowSettle covers the time the exchange window needs to open after contact.
	WindowSettle      time.Duration
	PollInterval      time.Duration
	AcceptanceTimeout time.Duration
}

func DefaultTimings() Timings {
	return Timings{
		RelocateSettle:    5 * time.Second,
		WindowSettle:      3 * time.Second,
		PollInterval:      5 * time.Second,
		AcceptanceTimeout: 300 * time.Second,
	}
}

// TimingsFromConfig fills unset values with the defaults.
func TimingsFromConfig(cfg *config.Config) Timings {
	t := DefaultTimings()
	if d := cfg.Trade.RelocateSettle; d > 0 {
		t.RelocateSettle = d
	}
	if d := cfg.Trade.WindowSettle; d > 0 {
		t.WindowSettle = d
	}
	if d := cfg.Trade.PollInterval; d > 0 {
		t.PollInterval = d
	}
	if d := cfg.Trade.AcceptanceTimeout; d > 0 {
		t.AcceptanceTimeout = d
	}
	return t
}

type Request struct {
	TradeID    string
	InGameName string
	Amount     int64
	World      int
}

// Result is the outcome of one run. Reason is short and safe to show to the payer.
type Result struct {
	Success  bool
	Reason   string
	Step     State
	Evidence []byte
}

func failed(step State, reason string) Result {
	return Result{Reason: reason, Step: step}
}

// Orchestrator drives the plugin through the trade choreography. Each step blocks on one
// remote call and the first failure ends the run.
type Orchestrator struct {
	plugin  PluginClient
	clock   Clock
	timings Timings
	log     *zap.SugaredLogger
}

func NewOrchestrator(p PluginClient, clock Clock, timings Timings, log *zap.SugaredLogger) *Orchestrator {
	return &Orchestrator{plugin: p, clock: clock, timings: timings, log: log}
}

// Execute runs the choreography. It always returns a Result; cancelling ctx ends the run
// with ReasonCancelled.
func (o *Orchestrator) Execute(ctx context.Context, req Request) Result {
	log := logctx.FromCtx(ctx, o.log).With("trade_id", req.TradeID, "in_game_name", req.InGameName)

	res := o.execute(ctx, req, log)
	if !res.Success && ctx.Err() != nil {
		res.Reason = ReasonCancelled
	}
	if res.Success {
		log.Infow("trade_step", "step", StateDone)
	} else {
		log.Warnw("trade_aborted", "step", res.Step, "reason", res.Reason)
	}
	return res
}

func (o *Orchestrator) execute(ctx context.Context, req Request, log *zap.SugaredLogger) Result {
	log.Infow("trade_step", "step", StateConnecting)
	if err := o.plugin.Status(ctx); err != nil {
		return failed(StateConnecting, ReasonUnavailable)
	}

	log.Infow("trade_step", "step", StateRelocating, "world", req.World)
	if current, err := o.plugin.CurrentChannel(ctx); err == nil && current == req.World {
		log.Infow("trade_relocation_skipped", "world", current)
	} else {
		if err := o.plugin.SwitchChannel(ctx, req.World); err != nil {
			return failed(StateRelocating, fmt.Sprintf("failed to relocate to world %d", req.World))
		}
		log.Infow("trade_step", "step", StateSettlingRelocation)
		if err := o.wait(ctx, o.timings.RelocateSettle); err != nil {
			return failed(StateSettlingRelocation, ReasonCancelled)
		}
	}

	log.Infow("trade_step", "step", StateContacting)
	if err := o.plugin.InitiateContact(ctx, req.InGameName); err != nil {
		return failed(StateContacting, fmt.Sprintf("failed to contact %s", req.InGameName))
	}

	log.Infow("trade_step", "step", StateAwaitingWindow)
	if err := o.wait(ctx, o.timings.WindowSettle); err != nil {
		return failed(StateAwaitingWindow, ReasonCancelled)
	}

	log.Infow("trade_step", "step", StateOffering, "amount", req.Amount)
	if err := o.plugin.Offer(ctx, req.Amount); err != nil {
		return failed(StateOffering, "failed to offer the amount")
	}

	log.Infow("trade_step", "step", StateAwaitingAcceptance)
	return o.awaitAcceptance(ctx, log)
}

func (o *Orchestrator) awaitAcceptance(ctx context.Context, log *zap.SugaredLogger) Result {
	deadline := o.clock.Now().Add(o.timings.AcceptanceTimeout)
	accepted := false
	for {
		st, err := o.plugin.SessionStatus(ctx)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return failed(StateAwaitingAcceptance, ReasonCancelled)
			}
			// A missed poll is not fatal; the deadline still bounds the wait.
			log.Warnw("trade_poll_failed", "error", err)
		case st.Status == plugin.SessionCompleted:
			return Result{Success: true, Step: StateDone, Reason: "trade completed", Evidence: o.capture(ctx, log)}
		case st.Status == plugin.SessionDeclined:
			return failed(StateAwaitingAcceptance, "trade declined by counterpart")
		case st.Status == sessionAwaitingAccept && !accepted:
			if err := o.plugin.Accept(ctx); err != nil {
				log.Warnw("trade_accept_failed", "error", err)
			} else {
				accepted = true
			}
		}

		remaining := deadline.Sub(o.clock.Now())
		if remaining <= 0 {
			return failed(StateAwaitingAcceptance, ReasonTimedOut)
		}
		if err := o.wait(ctx, min(o.timings.PollInterval, remaining)); err != nil {
			return failed(StateAwaitingAcceptance, ReasonCancelled)
		}
	}
}

// capture is best-effort: the trade already happened.
func (o *Orchestrator) capture(ctx context.Context, log *zap.SugaredLogger) []byte {
	img, err := o.plugin.CaptureEvidence(ctx)
	if err != nil {
		log.Warnw("trade_evidence_capture_failed", "error", err)
		return nil
	}
	return img
}

func (o *Orchestrator) wait(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil || d <= 0 {
		return err
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-o.clock.After(d):
		return nil
	}
}
