package handlers

import (
	"github.com/fatflowers/roleguard/internal/app/service/statistics"
	"github.com/fatflowers/roleguard/internal/models"
	"github.com/fatflowers/roleguard/pkg/response"
)

// RespOK is a generic OK envelope for endpoints returning no specific data.
type RespOK struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    interface{}              `json:"data"`
}

// RespQuote wraps QuoteResponse in the standard envelope.
type RespQuote struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    QuoteResponse            `json:"data"`
}

// RespPayment wraps a single PaymentItem in the standard envelope.
type RespPayment struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    PaymentItem              `json:"data"`
}

// RespPaymentList wraps a list of payments in the standard envelope.
type RespPaymentList struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    []PaymentItem            `json:"data"`
}

// RespListPayments wraps ListPaymentsResponse in the standard envelope.
type RespListPayments struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    ListPaymentsResponse     `json:"data"`
}

type RespTrade struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    models.Trade             `json:"data"`
}

type RespAccount struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    models.UserAccount       `json:"data"`
}

// RespStatistic wraps StatisticResponse in the standard envelope.
type RespStatistic struct {
	Code    response.APIResponseCode     `json:"code"`
	Message string                       `json:"message"`
	Data    statistics.StatisticResponse `json:"data"`
}

type RespNotifications struct {
	Code    response.APIResponseCode        `json:"code"`
	Message string                          `json:"message"`
	Data    []models.PaymentNotificationLog `json:"data"`
}
