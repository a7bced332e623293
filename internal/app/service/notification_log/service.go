package notification_log

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/fatflowers/roleguard/internal/models"
	"github.com/fatflowers/roleguard/pkg/logctx"
	"github.com/fatflowers/roleguard/pkg/tool"
)

type Service struct {
	db  *gorm.DB
	log *zap.SugaredLogger
	now func() time.Time
}

func New(db *gorm.DB, log *zap.SugaredLogger) *Service {
	return &Service{db: db, log: log, now: func() time.Time { return time.Now().UTC() }}
}

// Record persists a received notification before it is processed. The log must exist even
// if processing crashes, so the write is synchronous.
func (s *Service) Record(ctx context.Context, entry *models.PaymentNotificationLog) error {
	if entry == nil {
		return nil
	}
	if entry.ID == "" {
		entry.ID = tool.GenerateUUIDV7()
	}
	if entry.Status == "" {
		entry.Status = models.PaymentNotificationLogStatusReceived
	}
	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		return fmt.Errorf("failed to save notification log: %w", err)
	}
	return nil
}

// Annotate stores the processing outcome of a recorded notification. The received payload
// is never rewritten.
func (s *Service) Annotate(ctx context.Context, id string, status models.PaymentNotificationLogStatus, result datatypes.JSON, errMsg string) {
	if id == "" {
		return
	}
	now := s.now()
	updates := map[string]any{
		"status":       status,
		"processed_at": &now,
	}
	if len(result) > 0 {
		updates["result"] = result
	}
	if errMsg != "" {
		updates["error_message"] = errMsg
	}
	err := s.db.WithContext(ctx).Model(&models.PaymentNotificationLog{}).Where("id = ?", id).Updates(updates).Error
	if err != nil {
		logctx.FromCtx(ctx, s.log).Errorw("notification_log_annotate_failed", "id", id, "status", status, "error", err)
	}
}

// ListByTransactionRef returns the notifications seen for a chain transaction, oldest first.
func (s *Service) ListByTransactionRef(ctx context.Context, ref string, limit int) ([]*models.PaymentNotificationLog, error) {
	var items []*models.PaymentNotificationLog
	q := s.db.WithContext(ctx).Order("created_at asc")
	if ref != "" {
		q = q.Where("transaction_ref = ?", ref)
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if err := q.Limit(limit).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

var Module = fx.Options(
	fx.Provide(New),
)
