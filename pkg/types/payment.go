package types

import "strings"

// PaymentType is the settlement rail of a payment.
type PaymentType string

const (
	PaymentTypeBTC    PaymentType = "btc"
	PaymentTypeLTC    PaymentType = "ltc"
	PaymentTypeOSRSGP PaymentType = "osrs_gp"
)

var paymentTypes = []PaymentType{PaymentTypeBTC, PaymentTypeLTC, PaymentTypeOSRSGP}

// ParsePaymentType accepts the rail name case-insensitively.
func ParsePaymentType(s string) (PaymentType, bool) {
	t := PaymentType(strings.ToLower(strings.TrimSpace(s)))
	for _, pt := range paymentTypes {
		if pt == t {
			return t, true
		}
	}
	return "", false
}

// IsCrypto reports whether the rail settles on a blockchain.
func (t PaymentType) IsCrypto() bool {
	return t == PaymentTypeBTC || t == PaymentTypeLTC
}

// Currency is the ticker used against the price feed. Empty for the in-game rail.
func (t PaymentType) Currency() string {
	switch t {
	case PaymentTypeBTC:
		return "BTC"
	case PaymentTypeLTC:
		return "LTC"
	}
	return ""
}

// Unit is the display unit of the settlement amount.
func (t PaymentType) Unit() string {
	if t == PaymentTypeOSRSGP {
		return "GP"
	}
	return t.Currency()
}

type PaymentStatus string

const (
	PaymentStatusPending    PaymentStatus = "pending"
	PaymentStatusConfirming PaymentStatus = "confirming"
	PaymentStatusCompleted  PaymentStatus = "completed"
	PaymentStatusExpired    PaymentStatus = "expired"
	PaymentStatusFailed     PaymentStatus = "failed"
)

// IsTerminal reports whether no further transition is allowed.
func (s PaymentStatus) IsTerminal() bool {
	return s == PaymentStatusCompleted || s == PaymentStatusExpired || s == PaymentStatusFailed
}

// IsOpen reports whether the payment still awaits settlement.
func (s PaymentStatus) IsOpen() bool {
	return s == PaymentStatusPending || s == PaymentStatusConfirming
}

type TradeStatus string

const (
	TradeStatusPending    TradeStatus = "pending"
	TradeStatusInProgress TradeStatus = "in_progress"
	TradeStatusCompleted  TradeStatus = "completed"
	TradeStatusFailed     TradeStatus = "failed"
)

// Runnable reports whether a trade may be (re)started by the orchestrator.
func (s TradeStatus) Runnable() bool {
	return s == TradeStatusPending || s == TradeStatusFailed
}

// Blockchain webhook event types.
const (
	EventTypeTxConfirmation = "tx-confirmation"
)

// Notification sources recorded in the notification log.
const (
	NotificationSourceBlockCypher = "blockcypher"
	NotificationSourcePayment     = "payment"
)
