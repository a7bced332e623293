package notification_handler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/fatflowers/roleguard/internal/app/service/ledger"
	notificationlog "github.com/fatflowers/roleguard/internal/app/service/notification_log"
	"github.com/fatflowers/roleguard/internal/app/service/privilege"
	"github.com/fatflowers/roleguard/internal/models"
	"github.com/fatflowers/roleguard/internal/platform/db/dbtest"
	"github.com/fatflowers/roleguard/pkg/config"
	"github.com/fatflowers/roleguard/pkg/types"
)

type stubGranter struct {
	calls int
	err   error
}

func (g *stubGranter) Grant(ctx context.Context, p *models.Payment) error {
	g.calls++
	return g.err
}

type fixture struct {
	db      *gorm.DB
	repo    *ledger.Repository
	tracker *ConfirmationTracker
	granter *stubGranter
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := dbtest.Open(t)
	log := zap.NewNop().Sugar()
	repo := ledger.NewRepository(db, log)
	g := &stubGranter{}
	cfg := &config.Config{Payment: config.PaymentConfig{ConfirmationThreshold: 3, TimeoutMinutes: 30}}
	tr := NewConfirmationTracker(cfg, repo, notificationlog.New(db, log), privilege.New(g, log), log)
	return &fixture{db: db, repo: repo, tracker: tr, granter: g}
}

func (f *fixture) seed(t *testing.T, ref string, status types.PaymentStatus) *models.Payment {
	t.Helper()
	now := time.Now().UTC()
	p := &models.Payment{
		UserID:           "u-1",
		Username:         "alice",
		Type:             types.PaymentTypeBTC,
		AmountUSD:        decimal.NewFromInt(10),
		AmountSettlement: decimal.RequireFromString("0.0002"),
		TransactionRef:   &ref,
		Status:           status,
		CreatedAt:        now,
		ExpiresAt:        now.Add(30 * time.Minute),
	}
	require.NoError(t, f.repo.CreatePayment(context.Background(), p))
	return p
}

func confirmation(ref string, n int) *Event {
	return &Event{
		Source:         types.NotificationSourceBlockCypher,
		EventType:      types.EventTypeTxConfirmation,
		TransactionRef: ref,
		Confirmations:  n,
		Payload:        []byte(`{}`),
	}
}

func (f *fixture) logs(t *testing.T) []*models.PaymentNotificationLog {
	t.Helper()
	var items []*models.PaymentNotificationLog
	require.NoError(t, f.db.Order("created_at asc").Find(&items).Error)
	return items
}

func TestApply_OutOfOrderConfirmationsCompleteOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := f.seed(t, "tx-b", types.PaymentStatusPending)

	r1 := f.tracker.Apply(ctx, confirmation("tx-b", 1))
	assert.Equal(t, OutcomeConfirming, r1.Outcome)
	assert.Equal(t, types.PaymentStatusConfirming, r1.Status)

	r2 := f.tracker.Apply(ctx, confirmation("tx-b", 3))
	assert.Equal(t, OutcomeCompleted, r2.Outcome)

	r3 := f.tracker.Apply(ctx, confirmation("tx-b", 2))
	assert.Equal(t, OutcomeAlreadyCompleted, r3.Outcome)

	got, err := f.repo.GetPayment(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.Confirmations)
	assert.Equal(t, types.PaymentStatusCompleted, got.Status)
	assert.NotNil(t, got.CompletedAt)
	assert.Equal(t, 1, f.granter.calls)

	logs := f.logs(t)
	require.Len(t, logs, 3)
	for _, l := range logs {
		assert.Equal(t, models.PaymentNotificationLogStatusHandled, l.Status)
		assert.NotNil(t, l.ProcessedAt)
	}
}

func TestApply_LowerCountNeverDecreasesStoredValue(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := f.seed(t, "tx-m", types.PaymentStatusPending)

	for _, n := range []int{2, 1, 0, 2, 1} {
		f.tracker.Apply(ctx, confirmation("tx-m", n))
		got, err := f.repo.GetPayment(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, 2, got.Confirmations)
		assert.Equal(t, types.PaymentStatusConfirming, got.Status)
	}
}

func TestApply_DuplicateCompletingEventCreditsOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seed(t, "tx-d", types.PaymentStatusPending)

	for i := 0; i < 5; i++ {
		f.tracker.Apply(ctx, confirmation("tx-d", 6))
	}

	acc, err := f.repo.GetAccount(ctx, "u-1")
	require.NoError(t, err)
	assert.EqualValues(t, 1, acc.TotalPayments)
	assert.True(t, acc.TotalSpentUSD.Equal(decimal.NewFromInt(10)))
	assert.True(t, acc.HasPrivilege)
	assert.Equal(t, 1, f.granter.calls)
}

func TestApply_UnknownTransactionIsUnmatched(t *testing.T) {
	f := newFixture(t)

	res := f.tracker.Apply(context.Background(), confirmation("nobody", 4))
	assert.Equal(t, OutcomeUnmatched, res.Outcome)
	assert.NoError(t, res.Err)

	logs := f.logs(t)
	require.Len(t, logs, 1)
	assert.Equal(t, models.PaymentNotificationLogStatusUnmatched, logs[0].Status)
	assert.Equal(t, "nobody", logs[0].TransactionRef)
}

func TestApply_OtherEventTypesAreLoggedOnly(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := f.seed(t, "tx-o", types.PaymentStatusPending)

	ev := confirmation("tx-o", 10)
	ev.EventType = "unconfirmed-tx"
	res := f.tracker.Apply(ctx, ev)
	assert.Equal(t, OutcomeIgnored, res.Outcome)

	got, err := f.repo.GetPayment(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, types.PaymentStatusPending, got.Status)
	assert.Equal(t, 0, got.Confirmations)

	logs := f.logs(t)
	require.Len(t, logs, 1)
	assert.Equal(t, models.PaymentNotificationLogStatusIgnored, logs[0].Status)
}

func TestApply_ExpiredPaymentIsNotRevived(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := f.seed(t, "tx-e", types.PaymentStatusExpired)

	res := f.tracker.Apply(ctx, confirmation("tx-e", 5))
	assert.Equal(t, OutcomeInactive, res.Outcome)

	got, err := f.repo.GetPayment(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, types.PaymentStatusExpired, got.Status)
	assert.Equal(t, 0, got.Confirmations)

	logs := f.logs(t)
	require.Len(t, logs, 1)
	assert.Equal(t, models.PaymentNotificationLogStatusUnmatched, logs[0].Status)

	_, err = f.repo.GetAccount(ctx, "u-1")
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestApply_GrantFailureDoesNotAffectOutcome(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.granter.err = errors.New("chat platform down")
	f.seed(t, "tx-g", types.PaymentStatusPending)

	res := f.tracker.Apply(ctx, confirmation("tx-g", 3))
	assert.Equal(t, OutcomeCompleted, res.Outcome)
	assert.NoError(t, res.Err)
}

type failingLedger struct {
	ledger.Ledger
}

func (failingLedger) FindPaymentByTransactionRef(ctx context.Context, ref string) (*models.Payment, error) {
	return &models.Payment{ID: "p-1"}, nil
}

func (failingLedger) MutatePayment(ctx context.Context, id string, fn ledger.PaymentMutator) (*models.Payment, ledger.Mutation, error) {
	return nil, ledger.MutationNone, errors.New("connection reset")
}

func TestApply_DownstreamFailureIsAnnotatedNotRaised(t *testing.T) {
	f := newFixture(t)
	f.tracker.ledger = failingLedger{}

	res := f.tracker.Apply(context.Background(), confirmation("tx-f", 3))
	assert.Equal(t, OutcomeFailed, res.Outcome)
	require.Error(t, res.Err)

	logs := f.logs(t)
	require.Len(t, logs, 1)
	assert.Equal(t, models.PaymentNotificationLogStatusHandleFailed, logs[0].Status)
	require.NotNil(t, logs[0].ErrorMessage)
	assert.Contains(t, *logs[0].ErrorMessage, "connection reset")
}
