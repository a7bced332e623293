package models

import (
	"time"

	"gorm.io/datatypes"
)

type PaymentNotificationLogStatus string

const (
	PaymentNotificationLogStatusReceived     PaymentNotificationLogStatus = "received"
	PaymentNotificationLogStatusHandled      PaymentNotificationLogStatus = "handled"
	PaymentNotificationLogStatusUnmatched    PaymentNotificationLogStatus = "unmatched"
	PaymentNotificationLogStatusIgnored      PaymentNotificationLogStatus = "ignored"
	PaymentNotificationLogStatusHandleFailed PaymentNotificationLogStatus = "handle_failed"
)

// PaymentNotificationLog is the append-only audit record of an inbound event. Only the
// processing outcome columns are written after creation.
type PaymentNotificationLog struct {
	ID             string                       `gorm:"column:id;type:uuid;primary_key" json:"id"`
	Source         string                       `gorm:"column:source;type:varchar(64);not null" json:"source"`
	EventType      string                       `gorm:"column:event_type;type:varchar(64)" json:"event_type"`
	EventID        string                       `gorm:"column:event_id;type:varchar(128)" json:"event_id"`
	TraceID        string                       `gorm:"column:trace_id;type:varchar(128)" json:"trace_id"`
	TransactionRef string                       `gorm:"column:transaction_ref;type:varchar(128);index" json:"transaction_ref"`
	Confirmations  int                          `gorm:"column:confirmations" json:"confirmations"`
	Data           datatypes.JSON               `gorm:"column:data;type:jsonb" json:"data"`
	Result         *datatypes.JSON              `gorm:"column:result;type:jsonb" json:"result"`
	Status         PaymentNotificationLogStatus `gorm:"column:status;type:varchar(64);not null" json:"status"`
	ErrorMessage   *string                      `gorm:"column:error_message;type:text" json:"error_message"`
	ProcessedAt    *time.Time                   `gorm:"column:processed_at;default:null" json:"processed_at"`
	CreatedAt      time.Time                    `json:"created_at"`
	UpdatedAt      time.Time                    `json:"updated_at"`
}

func (PaymentNotificationLog) TableName() string { return "payment_notification_log" }
