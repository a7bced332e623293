package statistics

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/fatflowers/roleguard/internal/models"
	"github.com/fatflowers/roleguard/internal/platform/db/dbtest"
	"github.com/fatflowers/roleguard/pkg/tool"
	"github.com/fatflowers/roleguard/pkg/types"
)

var day1 = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func seed(t *testing.T, db *gorm.DB, pt types.PaymentType, status types.PaymentStatus, usd int64, at time.Time) {
	t.Helper()
	p := &models.Payment{
		ID:               tool.GenerateUUIDV7(),
		UserID:           "u-1",
		Username:         "alice",
		Type:             pt,
		AmountUSD:        decimal.NewFromInt(usd),
		AmountSettlement: decimal.NewFromInt(1),
		Status:           status,
		CreatedAt:        at.Add(-10 * time.Minute),
		ExpiresAt:        at,
	}
	if status == types.PaymentStatusCompleted {
		p.CompletedAt = &at
	}
	require.NoError(t, db.Create(p).Error)
}

func seedAll(t *testing.T) *Service {
	db := dbtest.Open(t)
	seed(t, db, types.PaymentTypeBTC, types.PaymentStatusCompleted, 10, day1)
	seed(t, db, types.PaymentTypeBTC, types.PaymentStatusCompleted, 5, day1.Add(time.Hour))
	seed(t, db, types.PaymentTypeOSRSGP, types.PaymentStatusCompleted, 20, day1.Add(24*time.Hour))
	seed(t, db, types.PaymentTypeLTC, types.PaymentStatusExpired, 7, day1)
	seed(t, db, types.PaymentTypeLTC, types.PaymentStatusPending, 9, day1.Add(48*time.Hour))
	return New(db)
}

func TestGetStatistic_AllItems(t *testing.T) {
	s := seedAll(t)

	res, err := s.GetStatistic(context.Background(), &StatisticRequest{})
	require.NoError(t, err)
	require.Len(t, res.DataItems, len(AllStatisticTypes))

	daily := res.DataItems[StatisticTypeDailyCompletedCount]
	require.Len(t, daily, 2)
	assert.Equal(t, "2026-03-01", daily[0].Date)
	assert.Equal(t, "btc", daily[0].Label)
	assert.EqualValues(t, 2, daily[0].Count)
	assert.Equal(t, "2026-03-02", daily[1].Date)
	assert.Equal(t, "osrs_gp", daily[1].Label)

	totals := res.DataItems[StatisticTypeTotalVolumeUSD]
	require.Len(t, totals, 2)
	assert.Equal(t, "btc", totals[0].Label)
	assert.True(t, totals[0].Value.Equal(decimal.NewFromInt(15)), totals[0].Value.String())
	assert.True(t, totals[1].Value.Equal(decimal.NewFromInt(20)), totals[1].Value.String())

	expired := res.DataItems[StatisticTypeDailyExpiredCount]
	require.Len(t, expired, 1)
	assert.Equal(t, "ltc", expired[0].Label)
	assert.EqualValues(t, 1, expired[0].Count)
}

func TestGetStatistic_FiltersAndRange(t *testing.T) {
	s := seedAll(t)

	res, err := s.GetStatistic(context.Background(), &StatisticRequest{
		DataItems: []StatisticType{StatisticTypeTotalVolumeUSD},
		Filters:   []*types.CommonFilter{{Field: "type", Operator: types.CommonFilterOperatorEq, Values: []any{"btc"}}},
	})
	require.NoError(t, err)
	require.Len(t, res.DataItems, 1)
	totals := res.DataItems[StatisticTypeTotalVolumeUSD]
	require.Len(t, totals, 1)
	assert.EqualValues(t, 2, totals[0].Count)

	res, err = s.GetStatistic(context.Background(), &StatisticRequest{
		DataItems: []StatisticType{StatisticTypeDailyVolumeUSD},
		From:      day1.Add(12 * time.Hour),
	})
	require.NoError(t, err)
	daily := res.DataItems[StatisticTypeDailyVolumeUSD]
	require.Len(t, daily, 1)
	assert.Equal(t, "osrs_gp", daily[0].Label)
}

func TestGetStatistic_RejectsUnknownInput(t *testing.T) {
	s := New(dbtest.Open(t))

	_, err := s.GetStatistic(context.Background(), &StatisticRequest{
		Filters: []*types.CommonFilter{{Field: "notes", Operator: types.CommonFilterOperatorEq, Values: []any{"x"}}},
	})
	assert.Error(t, err)

	_, err = s.GetStatistic(context.Background(), &StatisticRequest{DataItems: []StatisticType{"renewal_success_rate"}})
	assert.Error(t, err)
}
