package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/fatflowers/roleguard/internal/models"
	"github.com/fatflowers/roleguard/pkg/logctx"
	"github.com/fatflowers/roleguard/pkg/tool"
	"github.com/fatflowers/roleguard/pkg/types"
)

var ErrNotFound = errors.New("record not found")

// Mutation tells MutatePayment what to do with the row after the mutator ran.
type Mutation int

const (
	// MutationNone leaves the row untouched.
	MutationNone Mutation = iota
	// MutationSave persists the row.
	MutationSave
	// MutationComplete persists the row and credits the payer's account in the same transaction.
	MutationComplete
)

// PaymentMutator inspects and modifies a locked payment.
type PaymentMutator func(p *models.Payment) (Mutation, error)

// TradeMutator inspects and modifies a locked trade. Returning false skips the write.
type TradeMutator func(t *models.Trade) (bool, error)

// Ledger is the persistence surface of the payment core. Every mutation runs inside a
// transaction holding the row, so concurrent writers observe a consistent
// status/confirmations pair.
type Ledger interface {
	CreatePayment(ctx context.Context, p *models.Payment) error
	GetPayment(ctx context.Context, id string) (*models.Payment, error)
	FindPaymentByTransactionRef(ctx context.Context, ref string) (*models.Payment, error)
	FindOpenPayment(ctx context.Context, userID string, t types.PaymentType) (*models.Payment, error)
	ListUserPayments(ctx context.Context, userID string, limit int) ([]*models.Payment, error)
	ListExpiredPayments(ctx context.Context, now time.Time, limit int) ([]*models.Payment, error)
	ScanPayments(ctx context.Context, req *ScanRequest) ([]*models.Payment, int64, error)
	MutatePayment(ctx context.Context, id string, fn PaymentMutator) (*models.Payment, Mutation, error)

	CreateTrade(ctx context.Context, t *models.Trade) error
	GetTrade(ctx context.Context, id string) (*models.Trade, error)
	GetTradeByPayment(ctx context.Context, paymentID string) (*models.Trade, error)
	MutateTrade(ctx context.Context, id string, fn TradeMutator) (*models.Trade, error)

	EnsureAccount(ctx context.Context, externalID, displayName string) (*models.UserAccount, error)
	GetAccount(ctx context.Context, externalID string) (*models.UserAccount, error)
	SetInGameName(ctx context.Context, externalID, name string) error
}

// ScanRequest pages through payments for admin listings.
type ScanRequest struct {
	Filters   []*types.CommonFilter `json:"filters"`
	From      int                   `json:"from"`
	Size      int                   `json:"size"`
	SortBy    string                `json:"sort_by"`
	SortOrder string                `json:"sort_order"`
}

// Repository implements Ledger on gorm.
type Repository struct {
	db       *gorm.DB
	log      *zap.SugaredLogger
	rowLocks bool
}

func NewRepository(db *gorm.DB, log *zap.SugaredLogger) *Repository {
	// SQLite has no row-level locks; its writers are serialized by the database itself.
	return &Repository{db: db, log: log, rowLocks: db.Dialector.Name() != "sqlite"}
}

// DB exposes the handle for read-only reporting queries.
func (r *Repository) DB() *gorm.DB { return r.db }

func (r *Repository) forUpdate(tx *gorm.DB) *gorm.DB {
	if r.rowLocks {
		return tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return tx
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

func (r *Repository) CreatePayment(ctx context.Context, p *models.Payment) error {
	if p.ID == "" {
		p.ID = tool.GenerateUUIDV7()
	}
	if !p.ExpiresAt.After(p.CreatedAt) {
		return fmt.Errorf("payment expires_at must be after created_at")
	}
	if err := r.db.WithContext(ctx).Create(p).Error; err != nil {
		return fmt.Errorf("failed to create payment: %w", err)
	}
	return nil
}

func (r *Repository) GetPayment(ctx context.Context, id string) (*models.Payment, error) {
	var p models.Payment
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&p).Error; err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

func (r *Repository) FindPaymentByTransactionRef(ctx context.Context, ref string) (*models.Payment, error) {
	var p models.Payment
	if err := r.db.WithContext(ctx).Where("transaction_ref = ?", ref).First(&p).Error; err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

// FindOpenPayment returns the most recent pending or confirming payment of a user on a rail.
func (r *Repository) FindOpenPayment(ctx context.Context, userID string, t types.PaymentType) (*models.Payment, error) {
	var p models.Payment
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND type = ? AND status IN ?", userID, string(t), openStatuses()).
		Order("created_at desc").
		First(&p).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

func (r *Repository) ListUserPayments(ctx context.Context, userID string, limit int) ([]*models.Payment, error) {
	var items []*models.Payment
	q := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// ListExpiredPayments returns open payments whose deadline is before now, oldest first.
func (r *Repository) ListExpiredPayments(ctx context.Context, now time.Time, limit int) ([]*models.Payment, error) {
	var items []*models.Payment
	q := r.db.WithContext(ctx).
		Where("status IN ? AND expires_at < ?", openStatuses(), now).
		Order("expires_at asc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

var filterablePaymentColumns = map[string]bool{
	"user_id": true, "type": true, "status": true, "transaction_ref": true,
	"created_at": true, "expires_at": true, "completed_at": true, "amount_usd": true,
}

var sortablePaymentColumns = map[string]bool{
	"created_at": true, "expires_at": true, "completed_at": true, "amount_usd": true, "confirmations": true,
}

func (r *Repository) ScanPayments(ctx context.Context, req *ScanRequest) ([]*models.Payment, int64, error) {
	if req == nil {
		req = &ScanRequest{}
	}
	q := r.db.WithContext(ctx).Model(&models.Payment{})
	for _, f := range req.Filters {
		if f == nil {
			continue
		}
		if !filterablePaymentColumns[f.Field] {
			return nil, 0, fmt.Errorf("unsupported filter field %q", f.Field)
		}
		q = q.Where(clause.Where{Exprs: []clause.Expression{f}})
	}
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count payments: %w", err)
	}

	sortBy := req.SortBy
	if !sortablePaymentColumns[sortBy] {
		sortBy = "created_at"
	}
	size := req.Size
	if size <= 0 || size > 500 {
		size = 100
	}
	var items []*models.Payment
	err := q.Order(clause.OrderByColumn{Column: clause.Column{Name: sortBy}, Desc: !strings.EqualFold(req.SortOrder, "asc")}).
		Offset(req.From).Limit(size).Find(&items).Error
	if err != nil {
		return nil, 0, fmt.Errorf("failed to scan payments: %w", err)
	}
	return items, total, nil
}

// MutatePayment locks the payment, runs fn, and persists the result according to the
// returned Mutation. Completion credits the payer's account exactly once: a mutator
// reporting MutationComplete for a payment that was already completed is ignored.
func (r *Repository) MutatePayment(ctx context.Context, id string, fn PaymentMutator) (*models.Payment, Mutation, error) {
	var out models.Payment
	var m Mutation
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var p models.Payment
		if err := r.forUpdate(tx).Where("id = ?", id).First(&p).Error; err != nil {
			return notFound(err)
		}
		before := p.Status

		var err error
		m, err = fn(&p)
		if err != nil {
			return err
		}
		if m == MutationComplete && (before == types.PaymentStatusCompleted || p.Status != types.PaymentStatusCompleted) {
			logctx.FromCtx(ctx, r.log).Warnw("ledger_integrity_violation",
				"payment_id", p.ID, "before", before, "after", p.Status)
			m = MutationNone
		}
		if m == MutationNone {
			out = p
			return nil
		}
		if before.IsTerminal() && p.Status != before {
			return fmt.Errorf("payment %s: %w", p.ID, ErrTerminal)
		}

		if err := tx.Save(&p).Error; err != nil {
			return fmt.Errorf("failed to save payment: %w", err)
		}
		if m == MutationComplete {
			if err := r.creditAccount(tx, &p); err != nil {
				return err
			}
		}
		out = p
		return nil
	})
	if err != nil {
		return nil, MutationNone, err
	}
	return &out, m, nil
}

func (r *Repository) creditAccount(tx *gorm.DB, p *models.Payment) error {
	var acc models.UserAccount
	err := r.forUpdate(tx).Where("external_id = ?", p.UserID).First(&acc).Error
	created := false
	if errors.Is(err, gorm.ErrRecordNotFound) {
		acc = models.UserAccount{
			ID:            tool.GenerateUUIDV7(),
			ExternalID:    p.UserID,
			DisplayName:   p.Username,
			TotalSpentUSD: decimal.Zero,
		}
		created = true
	} else if err != nil {
		return fmt.Errorf("failed to lock user account: %w", err)
	}

	acc.TotalPayments++
	acc.TotalSpentUSD = acc.TotalSpentUSD.Add(p.AmountUSD)
	acc.LastPaymentAt = p.CompletedAt
	acc.HasPrivilege = true

	if created {
		err = tx.Create(&acc).Error
	} else {
		err = tx.Save(&acc).Error
	}
	if err != nil {
		return fmt.Errorf("failed to credit user account: %w", err)
	}
	return nil
}

func (r *Repository) CreateTrade(ctx context.Context, t *models.Trade) error {
	if t.ID == "" {
		t.ID = tool.GenerateUUIDV7()
	}
	if err := r.db.WithContext(ctx).Create(t).Error; err != nil {
		return fmt.Errorf("failed to create trade: %w", err)
	}
	return nil
}

func (r *Repository) GetTrade(ctx context.Context, id string) (*models.Trade, error) {
	var t models.Trade
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&t).Error; err != nil {
		return nil, notFound(err)
	}
	return &t, nil
}

func (r *Repository) GetTradeByPayment(ctx context.Context, paymentID string) (*models.Trade, error) {
	var t models.Trade
	if err := r.db.WithContext(ctx).Where("payment_id = ?", paymentID).First(&t).Error; err != nil {
		return nil, notFound(err)
	}
	return &t, nil
}

func (r *Repository) MutateTrade(ctx context.Context, id string, fn TradeMutator) (*models.Trade, error) {
	var out models.Trade
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var t models.Trade
		if err := r.forUpdate(tx).Where("id = ?", id).First(&t).Error; err != nil {
			return notFound(err)
		}
		write, err := fn(&t)
		if err != nil {
			return err
		}
		if write {
			if err := tx.Save(&t).Error; err != nil {
				return fmt.Errorf("failed to save trade: %w", err)
			}
		}
		out = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// EnsureAccount returns the account of externalID, creating it on first sight.
func (r *Repository) EnsureAccount(ctx context.Context, externalID, displayName string) (*models.UserAccount, error) {
	acc := models.UserAccount{
		ID:            tool.GenerateUUIDV7(),
		ExternalID:    externalID,
		DisplayName:   displayName,
		TotalSpentUSD: decimal.Zero,
	}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "external_id"}}, DoNothing: true}).
		Create(&acc).Error
	if err != nil {
		return nil, fmt.Errorf("failed to create user account: %w", err)
	}
	return r.GetAccount(ctx, externalID)
}

func (r *Repository) GetAccount(ctx context.Context, externalID string) (*models.UserAccount, error) {
	var acc models.UserAccount
	if err := r.db.WithContext(ctx).Where("external_id = ?", externalID).First(&acc).Error; err != nil {
		return nil, notFound(err)
	}
	return &acc, nil
}

func (r *Repository) SetInGameName(ctx context.Context, externalID, name string) error {
	res := r.db.WithContext(ctx).Model(&models.UserAccount{}).
		Where("external_id = ?", externalID).
		Update("in_game_name", name)
	if res.Error != nil {
		return fmt.Errorf("failed to set in-game name: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func openStatuses() []string {
	return []string{string(types.PaymentStatusPending), string(types.PaymentStatusConfirming)}
}
