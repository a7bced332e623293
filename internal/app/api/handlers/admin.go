package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/fatflowers/roleguard/internal/app/service/ledger"
	"github.com/fatflowers/roleguard/internal/app/service/statistics"
	"github.com/fatflowers/roleguard/internal/models"
	"github.com/fatflowers/roleguard/pkg/response"
	"github.com/fatflowers/roleguard/pkg/types"
)

// AdminLedger is the read side of the ledger used by operators.
type AdminLedger interface {
	ScanPayments(ctx context.Context, req *ledger.ScanRequest) ([]*models.Payment, int64, error)
	GetTrade(ctx context.Context, id string) (*models.Trade, error)
	GetAccount(ctx context.Context, externalID string) (*models.UserAccount, error)
}

// TradeOperator starts and cancels trades on behalf of an operator.
type TradeOperator interface {
	Start(ctx context.Context, tradeID string) (*models.Trade, error)
	Cancel(ctx context.Context, tradeID string) error
}

type StatisticsProvider interface {
	GetStatistic(ctx context.Context, req *statistics.StatisticRequest) (*statistics.StatisticResponse, error)
}

type NotificationLister interface {
	ListByTransactionRef(ctx context.Context, ref string, limit int) ([]*models.PaymentNotificationLog, error)
}

// AdminDeps groups the collaborators of the admin API.
type AdminDeps struct {
	Ledger        AdminLedger
	Trades        TradeOperator
	Stats         StatisticsProvider
	Notifications NotificationLister
	Threshold     int
	Log           *zap.SugaredLogger
}

type ListPaymentsRequest struct {
	Filters   []*types.CommonFilter `json:"filters"`
	From      int                   `json:"from"`
	Size      int                   `json:"size"`
	SortBy    string                `json:"sort_by"`
	SortOrder string                `json:"sort_order"`
}

type ListPaymentsResponse struct {
	Items []*PaymentItem `json:"items"`
	Total int64          `json:"total"`
}

// @Summary      List Payments (Admin)
// @Description  Retrieves a paginated and filterable list of payments.
// @Tags         Admin
// @Accept       json
// @Produce      json
// @Security     OperatorToken
// @Param        request body ListPaymentsRequest true "Filters, pagination and sorting"
// @Success      200  {object}  handlers.RespListPayments
// @Router       /api/v1/admin/payments/scan [post]
func ApiListPayments(d *AdminDeps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ListPaymentsRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
			return
		}
		scanReq := &ledger.ScanRequest{Filters: req.Filters, From: req.From, Size: req.Size, SortBy: req.SortBy, SortOrder: req.SortOrder}
		items, total, err := d.Ledger.ScanPayments(c.Request.Context(), scanReq)
		if err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
			return
		}
		c.JSON(http.StatusOK, response.OKT(&ListPaymentsResponse{
			Items: lo.Map(items, func(p *models.Payment, _ int) *PaymentItem { return toPaymentItem(p, d.Threshold) }),
			Total: total,
		}))
	}
}

// @Summary      Get Trade (Admin)
// @Tags         Admin
// @Produce      json
// @Security     OperatorToken
// @Param        id  path  string  true  "Trade ID"
// @Success      200  {object}  handlers.RespTrade
// @Router       /api/v1/admin/trades/{id} [get]
func ApiGetTrade(d *AdminDeps) gin.HandlerFunc {
	return func(c *gin.Context) {
		t, err := d.Ledger.GetTrade(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondError(c, d.Log, err)
			return
		}
		c.JSON(http.StatusOK, response.OKT(t))
	}
}

// @Summary      Run Trade (Admin)
// @Description  Starts a pending or failed trade again. The trade runs in the background.
// @Tags         Admin
// @Produce      json
// @Security     OperatorToken
// @Param        id  path  string  true  "Trade ID"
// @Success      200  {object}  handlers.RespTrade
// @Router       /api/v1/admin/trades/{id}/run [post]
func ApiRunTrade(d *AdminDeps) gin.HandlerFunc {
	return func(c *gin.Context) {
		t, err := d.Trades.Start(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondError(c, d.Log, err)
			return
		}
		c.JSON(http.StatusOK, response.OKT(t))
	}
}

// @Summary      Cancel Trade (Admin)
// @Description  Cancels a running trade, or marks a stale pending or in-progress trade failed.
// @Tags         Admin
// @Produce      json
// @Security     OperatorToken
// @Param        id  path  string  true  "Trade ID"
// @Success      200  {object}  handlers.RespOK
// @Router       /api/v1/admin/trades/{id}/cancel [post]
func ApiCancelTrade(d *AdminDeps) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := d.Trades.Cancel(c.Request.Context(), c.Param("id")); err != nil {
			respondError(c, d.Log, err)
			return
		}
		c.JSON(http.StatusOK, response.OKT[any](nil))
	}
}

// @Summary      Get Account (Admin)
// @Tags         Admin
// @Produce      json
// @Security     OperatorToken
// @Param        external_id  path  string  true  "Payer external ID"
// @Success      200  {object}  handlers.RespAccount
// @Router       /api/v1/admin/accounts/{external_id} [get]
func ApiGetAccount(d *AdminDeps) gin.HandlerFunc {
	return func(c *gin.Context) {
		a, err := d.Ledger.GetAccount(c.Request.Context(), c.Param("external_id"))
		if err != nil {
			respondError(c, d.Log, err)
			return
		}
		c.JSON(http.StatusOK, response.OKT(a))
	}
}

// parseStatisticQuery reads from/to (YYYY-MM-DD, to inclusive), items and type.
func parseStatisticQuery(c *gin.Context) (*statistics.StatisticRequest, error) {
	req := &statistics.StatisticRequest{}
	if v := c.Query("from"); v != "" {
		from, err := time.Parse(time.DateOnly, v)
		if err != nil {
			return nil, err
		}
		req.From = from
	}
	if v := c.Query("to"); v != "" {
		to, err := time.Parse(time.DateOnly, v)
		if err != nil {
			return nil, err
		}
		req.To = to.AddDate(0, 0, 1)
	}
	if v := c.Query("items"); v != "" {
		for _, it := range strings.Split(v, ",") {
			req.DataItems = append(req.DataItems, statistics.StatisticType(strings.TrimSpace(it)))
		}
	}
	if v := c.Query("type"); v != "" {
		req.Filters = append(req.Filters, &types.CommonFilter{Field: "type", Operator: types.CommonFilterOperatorEq, Values: []any{v}})
	}
	return req, nil
}

// @Summary      Payment Statistics (Admin)
// @Description  Daily completed payment counts and USD volume grouped by rail.
// @Tags         Admin
// @Produce      json
// @Security     OperatorToken
// @Param        from   query  string  false  "First day, YYYY-MM-DD"
// @Param        to     query  string  false  "Last day, YYYY-MM-DD"
// @Param        items  query  string  false  "Comma separated statistic types"
// @Param        type   query  string  false  "Payment rail"
// @Success      200  {object}  handlers.RespStatistic
// @Router       /api/v1/admin/statistics [get]
func ApiGetStatistics(d *AdminDeps) gin.HandlerFunc {
	return func(c *gin.Context) {
		req, err := parseStatisticQuery(c)
		if err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, "dates must be YYYY-MM-DD"))
			return
		}
		res, err := d.Stats.GetStatistic(c.Request.Context(), req)
		if err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
			return
		}
		c.JSON(http.StatusOK, response.OKT(res))
	}
}

// @Summary      Query Payment Statistics (Admin)
// @Tags         Admin
// @Accept       json
// @Produce      json
// @Security     OperatorToken
// @Param        request body statistics.StatisticRequest true "Statistic request parameters"
// @Success      200  {object}  handlers.RespStatistic
// @Router       /api/v1/admin/statistics [post]
func ApiQueryStatistics(d *AdminDeps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req statistics.StatisticRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
			return
		}
		res, err := d.Stats.GetStatistic(c.Request.Context(), &req)
		if err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
			return
		}
		c.JSON(http.StatusOK, response.OKT(res))
	}
}

// @Summary      List Notifications (Admin)
// @Description  Lists logged inbound notifications of a chain transaction, oldest first.
// @Tags         Admin
// @Produce      json
// @Security     OperatorToken
// @Param        transaction_ref  query  string  false  "Chain transaction hash"
// @Param        limit            query  int     false  "Maximum rows"
// @Success      200  {object}  handlers.RespNotifications
// @Router       /api/v1/admin/notifications [get]
func ApiListNotifications(d *AdminDeps) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := 0
		if v := c.Query("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, "invalid limit"))
				return
			}
			limit = n
		}
		items, err := d.Notifications.ListByTransactionRef(c.Request.Context(), c.Query("transaction_ref"), limit)
		if err != nil {
			respondError(c, d.Log, err)
			return
		}
		c.JSON(http.StatusOK, response.OKT(items))
	}
}

func RegisterAdminRoutes(r gin.IRouter, d *AdminDeps) {
	r.POST("/payments/scan", ApiListPayments(d))
	r.GET("/accounts/:external_id", ApiGetAccount(d))
	r.GET("/trades/:id", ApiGetTrade(d))
	r.POST("/trades/:id/run", ApiRunTrade(d))
	r.POST("/trades/:id/cancel", ApiCancelTrade(d))
	r.GET("/statistics", ApiGetStatistics(d))
	r.POST("/statistics", ApiQueryStatistics(d))
	r.GET("/notifications", ApiListNotifications(d))
}
