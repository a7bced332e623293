package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/fatflowers/roleguard/internal/app/service/ledger"
	"github.com/fatflowers/roleguard/internal/app/service/payment"
	"github.com/fatflowers/roleguard/internal/app/service/rate"
	"github.com/fatflowers/roleguard/internal/app/service/trade"
	"github.com/fatflowers/roleguard/internal/platform/identity"
	"github.com/fatflowers/roleguard/pkg/logctx"
	"github.com/fatflowers/roleguard/pkg/response"
)

// errorCodes maps service errors to response codes. Their messages are short enough to be
// shown to the requester as is.
var errorCodes = []struct {
	err  error
	code response.APIResponseCode
}{
	{payment.ErrInvalidType, response.APIResponseCodeBadRequest},
	{payment.ErrInvalidAmount, response.APIResponseCodeBadRequest},
	{payment.ErrIdentityInvalid, response.APIResponseCodeBadRequest},
	{identity.ErrMalformedName, response.APIResponseCodeBadRequest},
	{ledger.ErrNotFound, response.APIResponseCodeNotFound},
	{payment.ErrNoPendingPayment, response.APIResponseCodeConflict},
	{payment.ErrTransactionRefInUse, response.APIResponseCodeConflict},
	{ledger.ErrTerminal, response.APIResponseCodeConflict},
	{trade.ErrNotRunnable, response.APIResponseCodeConflict},
	{trade.ErrAlreadyRunning, response.APIResponseCodeConflict},
	{trade.ErrPaymentClosed, response.APIResponseCodeConflict},
	{payment.ErrRailUnavailable, response.APIResponseCodeUnavailable},
	{rate.ErrRateUnavailable, response.APIResponseCodeUnavailable},
	{identity.ErrUnavailable, response.APIResponseCodeUnavailable},
}

func errorCode(err error) (response.APIResponseCode, string) {
	for _, e := range errorCodes {
		if errors.Is(err, e.err) {
			return e.code, e.err.Error()
		}
	}
	return response.APIResponseCodeError, ""
}

// respondError writes the envelope for err. Unknown errors are logged and answered without
// detail.
func respondError(c *gin.Context, log *zap.SugaredLogger, err error) {
	code, msg := errorCode(err)
	if code == response.APIResponseCodeError {
		logctx.FromGin(c, log).Errorw("request_failed", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusOK, response.ErrorT[any](code, nil))
		return
	}
	logctx.FromGin(c, log).Infow("request_rejected", "path", c.FullPath(), "code", code, "reason", msg)
	c.JSON(http.StatusOK, response.ErrorT[any](code, msg))
}
