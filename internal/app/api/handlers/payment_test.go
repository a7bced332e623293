package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fatflowers/roleguard/internal/app/service/payment"
	"github.com/fatflowers/roleguard/internal/app/service/rate"
	"github.com/fatflowers/roleguard/internal/models"
	"github.com/fatflowers/roleguard/pkg/response"
	"github.com/fatflowers/roleguard/pkg/types"
)

type stubPayments struct {
	createReq *payment.CreateRequest
	quote     *payment.Quote
	err       error
	payments  []*models.Payment
	identity  *payment.IdentityResult
	attached  [2]string
}

func (s *stubPayments) Create(_ context.Context, req *payment.CreateRequest) (*payment.Quote, error) {
	s.createReq = req
	return s.quote, s.err
}

func (s *stubPayments) AttachTransaction(_ context.Context, id, ref string) (*models.Payment, error) {
	s.attached = [2]string{id, ref}
	if s.err != nil {
		return nil, s.err
	}
	return s.payments[0], nil
}

func (s *stubPayments) RegisterIdentity(_ context.Context, _ string, _ *payment.IdentityRequest) (*payment.IdentityResult, error) {
	return s.identity, s.err
}

func (s *stubPayments) ListUserPayments(_ context.Context, _ string) ([]*models.Payment, error) {
	return s.payments, s.err
}

func paymentRouter(svc PaymentAPI) http.Handler {
	r := newTestRouter()
	RegisterPaymentRoutes(r.Group("/api/v1"), svc, 3, nopLog)
	return r
}

func btcPayment(status types.PaymentStatus, confirmations int) *models.Payment {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	addr := "bc1qexample"
	return &models.Payment{
		ID:               "p-1",
		UserID:           "u-1",
		Type:             types.PaymentTypeBTC,
		AmountUSD:        decimal.NewFromInt(10),
		AmountSettlement: decimal.RequireFromString("0.0002"),
		RecipientAddress: &addr,
		Status:           status,
		Confirmations:    confirmations,
		CreatedAt:        now,
		ExpiresAt:        now.Add(30 * time.Minute),
	}
}

func TestApiCreatePayment_ReturnsQuote(t *testing.T) {
	svc := &stubPayments{quote: &payment.Quote{Payment: btcPayment(types.PaymentStatusPending, 0), Unit: "BTC", ConfirmationsRequired: 3}}

	w, env := call(t, paymentRouter(svc), http.MethodPost, "/api/v1/payments",
		`{"external_id":"u-1","display_name":"alice","type":"btc","amount_usd":10}`, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, response.APIResponseCodeOK, env.Code)
	assert.True(t, svc.createReq.AmountUSD.Equal(decimal.NewFromInt(10)))

	var out QuoteResponse
	require.NoError(t, json.Unmarshal(env.Data, &out))
	assert.Equal(t, "p-1", out.Payment.ID)
	assert.Equal(t, "BTC", out.Payment.Unit)
	assert.Equal(t, 3, out.Payment.ConfirmationsRequired)
	assert.True(t, out.Payment.AmountSettlement.Equal(decimal.RequireFromString("0.0002")))
	assert.Empty(t, out.Payment.Progress)
}

func TestApiCreatePayment_ErrorCodes(t *testing.T) {
	cases := []struct {
		name string
		err  error
		code response.APIResponseCode
		msg  bool
	}{
		{"invalid type", payment.ErrInvalidType, response.APIResponseCodeBadRequest, true},
		{"feed down", fmt.Errorf("pricing: %w", rate.ErrRateUnavailable), response.APIResponseCodeUnavailable, true},
		{"rail not configured", payment.ErrRailUnavailable, response.APIResponseCodeUnavailable, true},
		{"internal", errors.New("pq: connection refused"), response.APIResponseCodeError, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w, env := call(t, paymentRouter(&stubPayments{err: tc.err}), http.MethodPost, "/api/v1/payments",
				map[string]any{"external_id": "u-1", "type": "btc", "amount_usd": "10"}, nil)
			require.Equal(t, http.StatusOK, w.Code)
			assert.Equal(t, tc.code, env.Code)
			if tc.msg {
				assert.NotEqual(t, "null", string(env.Data))
			} else {
				assert.Equal(t, "null", string(env.Data))
				assert.NotContains(t, w.Body.String(), "connection refused")
			}
		})
	}
}

func TestApiCreatePayment_RejectsMissingFields(t *testing.T) {
	_, env := call(t, paymentRouter(&stubPayments{}), http.MethodPost, "/api/v1/payments", `{"type":"btc"}`, nil)
	assert.Equal(t, response.APIResponseCodeBadRequest, env.Code)
}

func TestApiListUserPayments_ShowsProgress(t *testing.T) {
	svc := &stubPayments{payments: []*models.Payment{btcPayment(types.PaymentStatusConfirming, 2), btcPayment(types.PaymentStatusCompleted, 3)}}

	_, env := call(t, paymentRouter(svc), http.MethodGet, "/api/v1/users/u-1/payments", nil, nil)
	require.Equal(t, response.APIResponseCodeOK, env.Code)

	var items []PaymentItem
	require.NoError(t, json.Unmarshal(env.Data, &items))
	require.Len(t, items, 2)
	assert.Equal(t, "2/3", items[0].Progress)
	assert.Empty(t, items[1].Progress)
}

func TestApiAttachTransaction(t *testing.T) {
	svc := &stubPayments{payments: []*models.Payment{btcPayment(types.PaymentStatusPending, 0)}}
	_, env := call(t, paymentRouter(svc), http.MethodPost, "/api/v1/payments/p-1/transaction", `{"transaction_ref":"abc"}`, nil)
	assert.Equal(t, response.APIResponseCodeOK, env.Code)
	assert.Equal(t, [2]string{"p-1", "abc"}, svc.attached)

	svc.err = payment.ErrTransactionRefInUse
	_, env = call(t, paymentRouter(svc), http.MethodPost, "/api/v1/payments/p-1/transaction", `{"transaction_ref":"abc"}`, nil)
	assert.Equal(t, response.APIResponseCodeConflict, env.Code)

	_, env = call(t, paymentRouter(svc), http.MethodPost, "/api/v1/payments/p-1/transaction", `{}`, nil)
	assert.Equal(t, response.APIResponseCodeBadRequest, env.Code)
}

func TestApiRegisterIdentity(t *testing.T) {
	svc := &stubPayments{identity: &payment.IdentityResult{InGameName: "Zezima"}}
	_, env := call(t, paymentRouter(svc), http.MethodPost, "/api/v1/users/u-1/identity", `{"in_game_name":"zezima"}`, nil)
	require.Equal(t, response.APIResponseCodeOK, env.Code)
	assert.Contains(t, string(env.Data), `"in_game_name":"Zezima"`)

	svc.err = payment.ErrIdentityInvalid
	_, env = call(t, paymentRouter(svc), http.MethodPost, "/api/v1/users/u-1/identity", `{"in_game_name":"nobody"}`, nil)
	assert.Equal(t, response.APIResponseCodeBadRequest, env.Code)
}
