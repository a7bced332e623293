package handlers

import (
	"context"
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	nh "github.com/fatflowers/roleguard/internal/app/service/notification_handler"
	"github.com/fatflowers/roleguard/internal/models"
	"github.com/fatflowers/roleguard/pkg/logctx"
	"github.com/fatflowers/roleguard/pkg/response"
	"github.com/fatflowers/roleguard/pkg/types"
)

// ConfirmationApplier consumes blockchain confirmation events.
type ConfirmationApplier interface {
	Apply(ctx context.Context, ev *nh.Event) nh.Result
}

// NotificationRecorder appends to the notification audit log.
type NotificationRecorder interface {
	Record(ctx context.Context, entry *models.PaymentNotificationLog) error
}

// tokenAllowed checks the shared webhook token when one is configured.
func tokenAllowed(c *gin.Context, token string) bool {
	if token == "" {
		return true
	}
	return subtle.ConstantTimeCompare([]byte(c.Query("token")), []byte(token)) == 1
}

// @Summary      BlockCypher Webhook
// @Description  Receives blockchain confirmation events. Every event is logged; only "tx-confirmation" events change payments. The sender is always acknowledged.
// @Tags         Webhook
// @Accept       json
// @Produce      json
// @Param        X-EventType  header  string  true   "Event type"
// @Param        token        query   string  false  "Shared webhook token"
// @Param        payload      body    object  true   "Event body with hash and confirmations"
// @Success      200  {object}  handlers.RespOK
// @Failure      401  {object}  handlers.RespOK
// @Router       /api/v2/payment/webhook/blockcypher [post]
func ApiBlockCypherWebhook(tracker ConfirmationApplier, token string, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		reqLog := logctx.FromGin(c, log)
		if !tokenAllowed(c, token) {
			reqLog.Warnw("webhook_blockcypher_unauthorized", "client_ip", c.ClientIP())
			c.JSON(http.StatusUnauthorized, response.ErrorT[any](response.APIResponseCodeUnauthorized, nil))
			return
		}
		body, err := c.GetRawData()
		if err != nil {
			reqLog.Warnw("webhook_blockcypher_read_failed", "error", err)
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, "unreadable body"))
			return
		}

		ev := nh.ParseChainEvent(types.NotificationSourceBlockCypher, c.GetHeader("X-EventType"), body)
		ev.TraceID = logctx.TraceID(c.Request.Context())
		reqLog.Infow("webhook_blockcypher_received", "event_type", ev.EventType, "transaction_ref", ev.TransactionRef,
			"confirmations", ev.Confirmations)

		res := tracker.Apply(c.Request.Context(), ev)
		c.JSON(http.StatusOK, response.OKT(res))
	}
}

// @Summary      Payment Webhook
// @Description  Receives generic payment events. They are logged for audit and not processed.
// @Tags         Webhook
// @Accept       json
// @Produce      json
// @Param        payload  body  object  true  "Event body"
// @Success      200  {object}  handlers.RespOK
// @Router       /api/v2/payment/webhook/payment [post]
func ApiPaymentWebhook(recorder NotificationRecorder, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		reqLog := logctx.FromGin(c, log)
		body, err := c.GetRawData()
		if err != nil {
			reqLog.Warnw("webhook_payment_read_failed", "error", err)
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, "unreadable body"))
			return
		}
		ev := nh.ParseChainEvent(types.NotificationSourcePayment, c.GetHeader("X-EventType"), body)
		entry := &models.PaymentNotificationLog{
			Source:         ev.Source,
			EventType:      ev.EventType,
			EventID:        ev.EventID,
			TraceID:        logctx.TraceID(c.Request.Context()),
			TransactionRef: ev.TransactionRef,
			Confirmations:  ev.Confirmations,
			Data:           ev.Payload,
			Status:         models.PaymentNotificationLogStatusIgnored,
		}
		if err := recorder.Record(c.Request.Context(), entry); err != nil {
			reqLog.Errorw("webhook_payment_record_failed", "error", err)
		}
		reqLog.Infow("webhook_payment_received", "event_type", ev.EventType)
		c.JSON(http.StatusOK, response.OKT[any](nil))
	}
}

func RegisterPaymentWebhookRoutes(r gin.IRouter, tracker ConfirmationApplier, recorder NotificationRecorder, token string, log *zap.SugaredLogger) {
	r.POST("/webhook/blockcypher", ApiBlockCypherWebhook(tracker, token, log))
	r.POST("/webhook/payment", ApiPaymentWebhook(recorder, log))
}
