package models

import (
	"time"

	"github.com/fatflowers/roleguard/pkg/types"
	"github.com/shopspring/decimal"
)

// Payment is a settlement request. It is born pending with a fixed deadline and is
// immutable once completed.
type Payment struct {
	ID       string            `gorm:"column:id;type:uuid;primary_key" json:"id"`
	UserID   string            `gorm:"column:user_id;type:varchar(64);not null;index:idx_payment_user_created,priority:1" json:"user_id"`
	Username string            `gorm:"column:username;type:varchar(128);not null" json:"username"`
	Type     types.PaymentType `gorm:"column:type;type:varchar(32);not null" json:"type"`
	// AmountUSD is fixed at creation.
	AmountUSD decimal.Decimal `gorm:"column:amount_usd;type:numeric(20,8);not null" json:"amount_usd"`
	// AmountSettlement is in crypto units for btc/ltc and in GP for osrs_gp.
	AmountSettlement decimal.Decimal `gorm:"column:amount_settlement;type:numeric(30,8);not null" json:"amount_settlement"`
	RecipientAddress *string         `gorm:"column:recipient_address;type:varchar(128)" json:"recipient_address"`
	// TransactionRef is the chain transaction hash once observed.
	TransactionRef *string             `gorm:"column:transaction_ref;type:varchar(128);uniqueIndex:unique_payment_transaction_ref" json:"transaction_ref"`
	Status         types.PaymentStatus `gorm:"column:status;type:varchar(32);not null;index:idx_payment_status_expires,priority:1" json:"status"`
	Confirmations  int                 `gorm:"column:confirmations;not null;default:0" json:"confirmations"`
	ExpiresAt      time.Time           `gorm:"column:expires_at;not null;index:idx_payment_status_expires,priority:2" json:"expires_at"`
	CompletedAt    *time.Time          `gorm:"column:completed_at;default:null" json:"completed_at"`
	Notes          *string             `gorm:"column:notes;type:text" json:"notes"`
	CreatedAt      time.Time           `gorm:"column:created_at;index:idx_payment_user_created,priority:2,sort:desc" json:"created_at"`
	UpdatedAt      time.Time           `json:"updated_at"`
}

func (Payment) TableName() string { return "payment" }

// Expired reports whether the deadline has passed at now.
func (p *Payment) Expired(now time.Time) bool {
	return p != nil && now.After(p.ExpiresAt)
}
