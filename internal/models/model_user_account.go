package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// UserAccount aggregates a payer. The totals change only when one of the payer's payments
// completes, once per payment.
type UserAccount struct {
	ID            string          `gorm:"column:id;type:uuid;primary_key" json:"id"`
	ExternalID    string          `gorm:"column:external_id;type:varchar(64);not null;uniqueIndex:unique_user_account_external_id" json:"external_id"`
	DisplayName   string          `gorm:"column:display_name;type:varchar(128);not null" json:"display_name"`
	HasPrivilege  bool            `gorm:"column:has_privilege;not null;default:false" json:"has_privilege"`
	TotalPayments int64           `gorm:"column:total_payments;not null;default:0" json:"total_payments"`
	TotalSpentUSD decimal.Decimal `gorm:"column:total_spent_usd;type:numeric(20,8);not null;default:0" json:"total_spent_usd"`
	InGameName    *string         `gorm:"column:in_game_name;type:varchar(32)" json:"in_game_name"`
	LastPaymentAt *time.Time      `gorm:"column:last_payment_at;default:null" json:"last_payment_at"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

func (UserAccount) TableName() string { return "user_account" }
