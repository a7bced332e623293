package handlers

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/fatflowers/roleguard/internal/app/service/payment"
	"github.com/fatflowers/roleguard/internal/models"
	"github.com/fatflowers/roleguard/pkg/response"
	"github.com/fatflowers/roleguard/pkg/types"
)

// PaymentAPI is the payer-facing side of the payment service.
type PaymentAPI interface {
	Create(ctx context.Context, req *payment.CreateRequest) (*payment.Quote, error)
	AttachTransaction(ctx context.Context, paymentID, ref string) (*models.Payment, error)
	RegisterIdentity(ctx context.Context, externalID string, req *payment.IdentityRequest) (*payment.IdentityResult, error)
	ListUserPayments(ctx context.Context, externalID string) ([]*models.Payment, error)
}

// PaymentItem is the payer's view of a payment.
type PaymentItem struct {
	ID                    string              `json:"id"`
	Type                  types.PaymentType   `json:"type"`
	Status                types.PaymentStatus `json:"status"`
	Unit                  string              `json:"unit"`
	AmountUSD             decimal.Decimal     `json:"amount_usd"`
	AmountSettlement      decimal.Decimal     `json:"amount_settlement"`
	RecipientAddress      *string             `json:"recipient_address,omitempty"`
	TransactionRef        *string             `json:"transaction_ref,omitempty"`
	Confirmations         int                 `json:"confirmations"`
	ConfirmationsRequired int                 `json:"confirmations_required,omitempty"`
	// Progress reads "confirmations/threshold" while a crypto payment is confirming.
	Progress    string     `json:"progress,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	ExpiresAt   time.Time  `json:"expires_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

func toPaymentItem(p *models.Payment, threshold int) *PaymentItem {
	item := &PaymentItem{
		ID:               p.ID,
		Type:             p.Type,
		Status:           p.Status,
		Unit:             p.Type.Unit(),
		AmountUSD:        p.AmountUSD,
		AmountSettlement: p.AmountSettlement,
		RecipientAddress: p.RecipientAddress,
		TransactionRef:   p.TransactionRef,
		Confirmations:    p.Confirmations,
		CreatedAt:        p.CreatedAt,
		ExpiresAt:        p.ExpiresAt,
		CompletedAt:      p.CompletedAt,
	}
	if p.Type.IsCrypto() {
		item.ConfirmationsRequired = threshold
		if p.Status == types.PaymentStatusConfirming {
			item.Progress = fmt.Sprintf("%d/%d", p.Confirmations, threshold)
		}
	}
	return item
}

// QuoteResponse tells the payer where and how much to pay.
type QuoteResponse struct {
	Payment    *PaymentItem `json:"payment"`
	World      int          `json:"world,omitempty"`
	Location   string       `json:"location,omitempty"`
	TraderName string       `json:"trader_name,omitempty"`
}

type AttachTransactionRequest struct {
	TransactionRef string `json:"transaction_ref" binding:"required"`
}

// @Summary      Create Payment
// @Description  Prices a USD amount on the requested rail and stores a pending payment with a fixed deadline.
// @Tags         Payment
// @Accept       json
// @Produce      json
// @Param        request body payment.CreateRequest true "Payment request"
// @Success      200  {object}  handlers.RespQuote
// @Router       /api/v1/payments [post]
func ApiCreatePayment(svc PaymentAPI, threshold int, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req payment.CreateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
			return
		}
		q, err := svc.Create(c.Request.Context(), &req)
		if err != nil {
			respondError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, response.OKT(&QuoteResponse{
			Payment:    toPaymentItem(q.Payment, threshold),
			World:      q.World,
			Location:   q.Location,
			TraderName: q.TraderName,
		}))
	}
}

// @Summary      Attach Transaction
// @Description  Attaches the observed chain transaction hash to a pending crypto payment.
// @Tags         Payment
// @Accept       json
// @Produce      json
// @Param        id       path  string                    true  "Payment ID"
// @Param        request  body  AttachTransactionRequest  true  "Transaction hash"
// @Success      200  {object}  handlers.RespPayment
// @Router       /api/v1/payments/{id}/transaction [post]
func ApiAttachTransaction(svc PaymentAPI, threshold int, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req AttachTransactionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
			return
		}
		p, err := svc.AttachTransaction(c.Request.Context(), c.Param("id"), req.TransactionRef)
		if err != nil {
			respondError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, response.OKT(toPaymentItem(p, threshold)))
	}
}

// @Summary      Register In-Game Identity
// @Description  Validates and stores the payer's in-game name and starts the trade of a pending in-game payment.
// @Tags         Payment
// @Accept       json
// @Produce      json
// @Param        external_id  path  string                   true  "Payer external ID"
// @Param        request      body  payment.IdentityRequest  true  "In-game name"
// @Success      200  {object}  handlers.RespOK
// @Router       /api/v1/users/{external_id}/identity [post]
func ApiRegisterIdentity(svc PaymentAPI, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req payment.IdentityRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
			return
		}
		res, err := svc.RegisterIdentity(c.Request.Context(), c.Param("external_id"), &req)
		if err != nil {
			respondError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, response.OKT(res))
	}
}

// @Summary      List User Payments
// @Description  Lists the payer's most recent payments, newest first.
// @Tags         Payment
// @Produce      json
// @Param        external_id  path  string  true  "Payer external ID"
// @Success      200  {object}  handlers.RespPaymentList
// @Router       /api/v1/users/{external_id}/payments [get]
func ApiListUserPayments(svc PaymentAPI, threshold int, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		items, err := svc.ListUserPayments(c.Request.Context(), c.Param("external_id"))
		if err != nil {
			respondError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, response.OKT(lo.Map(items, func(p *models.Payment, _ int) *PaymentItem {
			return toPaymentItem(p, threshold)
		})))
	}
}

func RegisterPaymentRoutes(r gin.IRouter, svc PaymentAPI, threshold int, log *zap.SugaredLogger) {
	r.POST("/payments", ApiCreatePayment(svc, threshold, log))
	r.POST("/payments/:id/transaction", ApiAttachTransaction(svc, threshold, log))
	r.POST("/users/:external_id/identity", ApiRegisterIdentity(svc, log))
	r.GET("/users/:external_id/payments", ApiListUserPayments(svc, threshold, log))
}
