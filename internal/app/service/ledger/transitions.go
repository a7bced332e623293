package ledger

import (
	"errors"
	"time"

	"github.com/fatflowers/roleguard/internal/models"
	"github.com/fatflowers/roleguard/pkg/types"
)

var (
	// ErrTerminal is returned when a transition targets a completed, expired or failed payment.
	ErrTerminal = errors.New("payment is terminal")
	// ErrNotDue is returned when expiring a payment before its deadline.
	ErrNotDue = errors.New("payment deadline has not passed")
)

// RaiseConfirmations stores observed only if it does not lower the stored count.
// It reports whether the count changed.
func RaiseConfirmations(p *models.Payment, observed int) bool {
	if observed <= p.Confirmations {
		return false
	}
	p.Confirmations = observed
	return true
}

// MarkConfirming moves a pending payment to confirming. It reports whether the status changed.
func MarkConfirming(p *models.Payment) bool {
	if p.Status != types.PaymentStatusPending {
		return false
	}
	p.Status = types.PaymentStatusConfirming
	return true
}

// Complete moves an open payment to completed and stamps completed_at.
func Complete(p *models.Payment, now time.Time) error {
	if p.Status.IsTerminal() {
		return ErrTerminal
	}
	p.Status = types.PaymentStatusCompleted
	p.CompletedAt = &now
	return nil
}

// Expire moves an open payment whose deadline passed to expired.
func Expire(p *models.Payment, now time.Time) error {
	if p.Status.IsTerminal() {
		return ErrTerminal
	}
	if !p.Expired(now) {
		return ErrNotDue
	}
	p.Status = types.PaymentStatusExpired
	return nil
}

// Fail moves an open payment to failed.
func Fail(p *models.Payment, note string) error {
	if p.Status.IsTerminal() {
		return ErrTerminal
	}
	p.Status = types.PaymentStatusFailed
	if note != "" {
		p.Notes = &note
	}
	return nil
}

// CompleteMutator completes the payment under the row lock. A payment that is already
// terminal is left untouched.
func CompleteMutator(now time.Time) PaymentMutator {
	return func(p *models.Payment) (Mutation, error) {
		if err := Complete(p, now); err != nil {
			return MutationNone, err
		}
		return MutationComplete, nil
	}
}
