package statistics

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/fatflowers/roleguard/internal/models"
	"github.com/fatflowers/roleguard/pkg/types"
)

type StatisticType string

const (
	// Completed payments per day and rail
	StatisticTypeDailyCompletedCount StatisticType = "daily_completed_count"
	StatisticTypeDailyVolumeUSD      StatisticType = "daily_volume_usd"
	StatisticTypeTotalVolumeUSD      StatisticType = "total_volume_usd"

	// Payments that ran out of time, per day of their deadline
	StatisticTypeDailyExpiredCount StatisticType = "daily_expired_count"
)

var AllStatisticTypes = []StatisticType{
	StatisticTypeDailyCompletedCount,
	StatisticTypeDailyVolumeUSD,
	StatisticTypeTotalVolumeUSD,
	StatisticTypeDailyExpiredCount,
}

// Filters narrow every statistic; only these payment columns may be filtered on.
var filterableColumns = []string{"type", "user_id"}

type StatisticRequest struct {
	Filters   []*types.CommonFilter `json:"filters"`
	DataItems []StatisticType       `json:"data_items"`
	// From and To bound the day range, To exclusive. Zero values leave the side open.
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// Build composes the WHERE clause of the request filters.
func (r *StatisticRequest) Build(builder clause.Builder) {
	if len(r.Filters) == 0 {
		builder.WriteString("1=1")
		return
	}
	for i, f := range r.Filters {
		if i > 0 {
			builder.WriteString(" AND ")
		}
		f.Build(builder)
	}
}

func (r *StatisticRequest) validate() error {
	for _, f := range r.Filters {
		if f == nil || !lo.Contains(filterableColumns, f.Field) {
			return fmt.Errorf("unsupported filter field")
		}
	}
	for _, it := range r.DataItems {
		if !lo.Contains(AllStatisticTypes, it) {
			return fmt.Errorf("invalid data item id: %s", it)
		}
	}
	return nil
}

type StatisticDataItem struct {
	Date  string          `json:"date,omitempty"`
	Label string          `json:"label,omitempty"`
	Count int64           `json:"count"`
	Value decimal.Decimal `json:"value"`
}

type StatisticResponse struct {
	DataItems map[StatisticType][]StatisticDataItem `json:"data_items"`
}

// Service aggregates the payment ledger for the operator dashboard.
type Service struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Service { return &Service{db: db} }

// dayExpr formats a timestamp column as YYYY-MM-DD in the current dialect.
func (s *Service) dayExpr(column string) string {
	if s.db.Dialector.Name() == "sqlite" {
		return fmt.Sprintf("strftime('%%Y-%%m-%%d', %s)", column)
	}
	return fmt.Sprintf("TO_CHAR(%s, 'YYYY-MM-DD')", column)
}

func (s *Service) payments(ctx context.Context, request *StatisticRequest, timeColumn string) *gorm.DB {
	q := s.db.WithContext(ctx).Table((models.Payment{}).TableName()).
		Where(clause.Where{Exprs: []clause.Expression{request}})
	if !request.From.IsZero() {
		q = q.Where(timeColumn+" >= ?", request.From)
	}
	if !request.To.IsZero() {
		q = q.Where(timeColumn+" < ?", request.To)
	}
	return q
}

func (s *Service) getDailyCompletedCount(ctx context.Context, request *StatisticRequest) ([]StatisticDataItem, error) {
	var results []StatisticDataItem
	day := s.dayExpr("completed_at")
	q := s.payments(ctx, request, "completed_at").
		Select(day+" as date, type as label, count(*) as count").
		Where("status = ?", types.PaymentStatusCompleted).
		Group(day).Group("type").
		Order("date").Order("label")
	if err := q.Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (s *Service) getDailyVolumeUSD(ctx context.Context, request *StatisticRequest) ([]StatisticDataItem, error) {
	var results []StatisticDataItem
	day := s.dayExpr("completed_at")
	q := s.payments(ctx, request, "completed_at").
		Select(day+" as date, type as label, count(*) as count, sum(amount_usd) as value").
		Where("status = ?", types.PaymentStatusCompleted).
		Group(day).Group("type").
		Order(clause.OrderByColumn{Column: clause.Column{Name: "date"}, Desc: true}).Order("label")
	if err := q.Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (s *Service) getTotalVolumeUSD(ctx context.Context, request *StatisticRequest) ([]StatisticDataItem, error) {
	var results []StatisticDataItem
	q := s.payments(ctx, request, "completed_at").
		Select("type as label, count(*) as count, sum(amount_usd) as value").
		Where("status = ?", types.PaymentStatusCompleted).
		Group("type").
		Order("label")
	if err := q.Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (s *Service) getDailyExpiredCount(ctx context.Context, request *StatisticRequest) ([]StatisticDataItem, error) {
	var results []StatisticDataItem
	day := s.dayExpr("expires_at")
	q := s.payments(ctx, request, "expires_at").
		Select(day+" as date, type as label, count(*) as count, sum(amount_usd) as value").
		Where("status = ?", types.PaymentStatusExpired).
		Group(day).Group("type").
		Order("date").Order("label")
	if err := q.Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (s *Service) getStatistic(ctx context.Context, request *StatisticRequest, id StatisticType) ([]StatisticDataItem, error) {
	switch id {
	case StatisticTypeDailyCompletedCount:
		return s.getDailyCompletedCount(ctx, request)
	case StatisticTypeDailyVolumeUSD:
		return s.getDailyVolumeUSD(ctx, request)
	case StatisticTypeTotalVolumeUSD:
		return s.getTotalVolumeUSD(ctx, request)
	case StatisticTypeDailyExpiredCount:
		return s.getDailyExpiredCount(ctx, request)
	default:
		return nil, fmt.Errorf("invalid data item id: %s", id)
	}
}

// GetStatistic computes the requested data items concurrently. An empty DataItems asks
// for all of them.
func (s *Service) GetStatistic(ctx context.Context, request *StatisticRequest) (*StatisticResponse, error) {
	if err := request.validate(); err != nil {
		return nil, err
	}
	items := lo.Uniq(request.DataItems)
	if len(items) == 0 {
		items = AllStatisticTypes
	}

	var wg sync.WaitGroup
	errChan := make(chan error, len(items))
	resChan := make(chan *lo.Entry[StatisticType, []StatisticDataItem], len(items))

	for _, item := range items {
		wg.Add(1)
		go func(id StatisticType) {
			defer wg.Done()
			res, err := s.getStatistic(ctx, request, id)
			if err != nil {
				errChan <- fmt.Errorf("%s: %w", id, err)
				return
			}
			resChan <- &lo.Entry[StatisticType, []StatisticDataItem]{Key: id, Value: res}
		}(item)
	}

	wg.Wait()
	close(errChan)
	close(resChan)
	if err, ok := <-errChan; ok {
		return nil, err
	}

	results := make(map[StatisticType][]StatisticDataItem, len(items))
	for entry := range resChan {
		results[entry.Key] = entry.Value
	}
	return &StatisticResponse{DataItems: results}, nil
}

var Module = fx.Options(
	fx.Provide(New),
)
