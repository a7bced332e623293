package notification_handler

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/fatflowers/roleguard/internal/app/service/ledger"
	notificationlog "github.com/fatflowers/roleguard/internal/app/service/notification_log"
	"github.com/fatflowers/roleguard/internal/app/service/privilege"
	"github.com/fatflowers/roleguard/internal/models"
	"github.com/fatflowers/roleguard/pkg/config"
	"github.com/fatflowers/roleguard/pkg/logctx"
	"github.com/fatflowers/roleguard/pkg/metrics"
	"github.com/fatflowers/roleguard/pkg/types"
)

// Outcome is what a notification did to the ledger.
type Outcome string

const (
	OutcomeCompleted        Outcome = "completed"
	OutcomeConfirming       Outcome = "confirming"
	OutcomeUnchanged        Outcome = "unchanged"
	OutcomeAlreadyCompleted Outcome = "already_completed"
	OutcomeInactive         Outcome = "inactive"
	OutcomeUnmatched        Outcome = "unmatched"
	OutcomeIgnored          Outcome = "ignored"
	OutcomeFailed           Outcome = "failed"
)

// logStatus maps an outcome to the notification log annotation.
func (o Outcome) logStatus() models.PaymentNotificationLogStatus {
	switch o {
	case OutcomeIgnored:
		return models.PaymentNotificationLogStatusIgnored
	case OutcomeUnmatched, OutcomeInactive:
		return models.PaymentNotificationLogStatusUnmatched
	case OutcomeFailed:
		return models.PaymentNotificationLogStatusHandleFailed
	}
	return models.PaymentNotificationLogStatusHandled
}

type Result struct {
	Outcome       Outcome             `json:"outcome"`
	PaymentID     string              `json:"payment_id,omitempty"`
	Status        types.PaymentStatus `json:"status,omitempty"`
	Confirmations int                 `json:"confirmations,omitempty"`
	Err           error               `json:"-"`
}

// NotificationLogger is the audit trail of inbound events.
type NotificationLogger interface {
	Record(ctx context.Context, entry *models.PaymentNotificationLog) error
	Annotate(ctx context.Context, id string, status models.PaymentNotificationLogStatus, result datatypes.JSON, errMsg string)
}

// ConfirmationTracker applies blockchain confirmation events to payments. Delivery is
// at-least-once and unordered; confirmations only move up and completion credits the
// account once, so replays are harmless.
type ConfirmationTracker struct {
	ledger    ledger.Ledger
	notifLog  NotificationLogger
	completed *privilege.Service
	threshold int
	log       *zap.SugaredLogger
	now       func() time.Time
}

func NewConfirmationTracker(cfg *config.Config, l ledger.Ledger, notifLog NotificationLogger, completed *privilege.Service, log *zap.SugaredLogger) *ConfirmationTracker {
	return &ConfirmationTracker{
		ledger:    l,
		notifLog:  notifLog,
		completed: completed,
		threshold: cfg.Payment.ConfirmationThreshold,
		log:       log,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Apply records ev and applies it. It never returns an error: the sender only needs an
// acknowledgement, and failures end up on the log entry.
func (t *ConfirmationTracker) Apply(ctx context.Context, ev *Event) Result {
	start := time.Now()
	log := logctx.FromCtx(ctx, t.log).With("transaction_ref", ev.TransactionRef, "event_type", ev.EventType)

	entry := &models.PaymentNotificationLog{
		Source:         ev.Source,
		EventType:      ev.EventType,
		EventID:        ev.EventID,
		TraceID:        ev.TraceID,
		TransactionRef: ev.TransactionRef,
		Confirmations:  ev.Confirmations,
		Data:           ev.Payload,
		Status:         models.PaymentNotificationLogStatusReceived,
	}
	if err := t.notifLog.Record(ctx, entry); err != nil {
		log.Errorw("notification_log_record_failed", "error", err)
	}

	res, completedPayment := t.apply(ctx, ev)

	var errMsg string
	if res.Err != nil {
		errMsg = res.Err.Error()
		log.Errorw("confirmation_apply_failed", "payment_id", res.PaymentID, "error", res.Err)
	} else {
		log.Infow("confirmation_applied", "outcome", res.Outcome, "payment_id", res.PaymentID,
			"confirmations", res.Confirmations, "status", res.Status)
	}
	resBytes, _ := json.Marshal(res)
	t.notifLog.Annotate(ctx, entry.ID, res.Outcome.logStatus(), datatypes.JSON(resBytes), errMsg)

	metrics.Notification(ev.EventType, string(res.Outcome))
	metrics.ObserveProcess("notification", string(res.Outcome), start)

	if completedPayment != nil {
		t.completed.Completed(ctx, completedPayment)
	}
	return res
}

func (t *ConfirmationTracker) apply(ctx context.Context, ev *Event) (Result, *models.Payment) {
	if ev.EventType != types.EventTypeTxConfirmation {
		return Result{Outcome: OutcomeIgnored}, nil
	}
	if ev.TransactionRef == "" {
		return Result{Outcome: OutcomeUnmatched}, nil
	}

	found, err := t.ledger.FindPaymentByTransactionRef(ctx, ev.TransactionRef)
	if errors.Is(err, ledger.ErrNotFound) {
		return Result{Outcome: OutcomeUnmatched}, nil
	}
	if err != nil {
		return Result{Outcome: OutcomeFailed, Err: err}, nil
	}

	outcome := OutcomeUnchanged
	now := t.now()
	p, m, err := t.ledger.MutatePayment(ctx, found.ID, func(p *models.Payment) (ledger.Mutation, error) {
		switch {
		case p.Status == types.PaymentStatusCompleted:
			outcome = OutcomeAlreadyCompleted
			return ledger.MutationNone, nil
		case p.Status.IsTerminal():
			outcome = OutcomeInactive
			return ledger.MutationNone, nil
		}

		changed := ledger.RaiseConfirmations(p, ev.Confirmations)
		if p.Confirmations >= t.threshold {
			if err := ledger.Complete(p, now); err != nil {
				return ledger.MutationNone, err
			}
			outcome = OutcomeCompleted
			return ledger.MutationComplete, nil
		}
		if p.Confirmations > 0 && ledger.MarkConfirming(p) {
			changed = true
		}
		if !changed {
			return ledger.MutationNone, nil
		}
		outcome = OutcomeConfirming
		return ledger.MutationSave, nil
	})
	if err != nil {
		return Result{Outcome: OutcomeFailed, PaymentID: found.ID, Err: err}, nil
	}

	res := Result{Outcome: outcome, PaymentID: p.ID, Status: p.Status, Confirmations: p.Confirmations}
	if m == ledger.MutationComplete {
		return res, p
	}
	return res, nil
}

var Module = fx.Options(
	fx.Provide(
		func(s *notificationlog.Service) NotificationLogger { return s },
		NewConfirmationTracker,
	),
)
