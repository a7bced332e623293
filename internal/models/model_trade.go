package models

import (
	"time"

	"github.com/fatflowers/roleguard/pkg/types"
	"gorm.io/datatypes"
)

// TradeExtra keeps diagnostic details of the last orchestration run.
type TradeExtra struct {
	FailedStep string `json:"failed_step,omitempty"`
	Attempts   int    `json:"attempts"`
	EvidenceSz int    `json:"evidence_size,omitempty"`
}

// Trade is one in-game settlement attempt, 1:1 with an osrs_gp payment.
type Trade struct {
	ID          string            `gorm:"column:id;type:uuid;primary_key" json:"id"`
	PaymentID   string            `gorm:"column:payment_id;type:uuid;not null;uniqueIndex:unique_trade_payment_id" json:"payment_id"`
	UserID      string            `gorm:"column:user_id;type:varchar(64);not null" json:"user_id"`
	InGameName  string            `gorm:"column:in_game_name;type:varchar(32);not null" json:"in_game_name"`
	AmountUnits int64             `gorm:"column:amount_units;type:bigint;not null" json:"amount_units"`
	World       int               `gorm:"column:world;not null" json:"world"`
	Location    string            `gorm:"column:location;type:varchar(128);not null" json:"location"`
	Status      types.TradeStatus `gorm:"column:status;type:varchar(32);not null" json:"status"`
	Reason      *string           `gorm:"column:reason;type:text" json:"reason"`
	StartedAt   *time.Time        `gorm:"column:started_at;default:null" json:"started_at"`
	CompletedAt *time.Time        `gorm:"column:completed_at;default:null" json:"completed_at"`
	// EvidenceRef is the path of the captured receipt image.
	EvidenceRef *string                          `gorm:"column:evidence_ref;type:varchar(255)" json:"evidence_ref"`
	Extra       datatypes.JSONType[*TradeExtra] `gorm:"column:extra;type:jsonb" json:"extra"`
	CreatedAt   time.Time                        `json:"created_at"`
	UpdatedAt   time.Time                        `json:"updated_at"`
}

func (Trade) TableName() string { return "trade" }

func (t *Trade) GetExtra() *TradeExtra {
	if t == nil || t.Extra.Data() == nil {
		return &TradeExtra{}
	}
	return t.Extra.Data()
}

func NewTradeExtra(e *TradeExtra) datatypes.JSONType[*TradeExtra] {
	return datatypes.NewJSONType(e)
}
