// Package docs holds the OpenAPI document served at /swagger.
// Regenerate with: swag init -g cmd/api/main.go
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {},
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/healthz": {
            "get": {
                "tags": [
                    "System"
                ],
                "summary": "Health check",
                "produces": [
                    "application/json"
                ],
                "consumes": [
                    "application/json"
                ],
                "parameters": [],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/handlers.RespOK"
                        }
                    }
                }
            }
        },
        "/readyz": {
            "get": {
                "tags": [
                    "System"
                ],
                "summary": "Readiness check",
                "produces": [
                    "application/json"
                ],
                "consumes": [
                    "application/json"
                ],
                "parameters": [],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/handlers.RespOK"
                        }
                    }
                }
            }
        },
        "/api/v1/payments": {
            "post": {
                "tags": [
                    "Payment"
                ],
                "summary": "Create Payment",
                "produces": [
                    "application/json"
                ],
                "consumes": [
                    "application/json"
                ],
                "parameters": [
                    {
                        "in": "body",
                        "name": "request",
                        "required": true,
                        "schema": {
                            "$ref": "#/definitions/payment.CreateRequest"
                        }
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/handlers.RespQuote"
                        }
                    }
                }
            }
        },
        "/api/v1/payments/{id}/transaction": {
            "post": {
                "tags": [
                    "Payment"
                ],
                "summary": "Attach Transaction",
                "produces": [
                    "application/json"
                ],
                "consumes": [
                    "application/json"
                ],
                "parameters": [
                    {
                        "type": "string",
                        "description": "Payment ID",
                        "name": "id",
                        "in": "path",
                        "required": true
                    },
                    {
                        "in": "body",
                        "name": "request",
                        "required": true,
                        "schema": {
                            "$ref": "#/definitions/handlers.AttachTransactionRequest"
                        }
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/handlers.RespPayment"
                        }
                    }
                }
            }
        },
        "/api/v1/users/{external_id}/identity": {
            "post": {
                "tags": [
                    "Payment"
                ],
                "summary": "Register In-Game Identity",
                "produces": [
                    "application/json"
                ],
                "consumes": [
                    "application/json"
                ],
                "parameters": [
                    {
                        "type": "string",
                        "description": "Payer external ID",
                        "name": "external_id",
                        "in": "path",
                        "required": true
                    },
                    {
                        "in": "body",
                        "name": "request",
                        "required": true,
                        "schema": {
                            "$ref": "#/definitions/payment.IdentityRequest"
                        }
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/handlers.RespOK"
                        }
                    }
                }
            }
        },
        "/api/v1/users/{external_id}/payments": {
            "get": {
                "tags": [
                    "Payment"
                ],
                "summary": "List User Payments",
                "produces": [
                    "application/json"
                ],
                "consumes": [
                    "application/json"
                ],
                "parameters": [
                    {
                        "type": "string",
                        "description": "Payer external ID",
                        "name": "external_id",
                        "in": "path",
                        "required": true
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/handlers.RespPaymentList"
                        }
                    }
                }
            }
        },
        "/api/v1/admin/payments/scan": {
            "post": {
                "tags": [
                    "Admin"
                ],
                "summary": "List Payments (Admin)",
                "produces": [
                    "application/json"
                ],
                "consumes": [
                    "application/json"
                ],
                "parameters": [
                    {
                        "in": "body",
                        "name": "request",
                        "required": true,
                        "schema": {
                            "$ref": "#/definitions/handlers.ListPaymentsRequest"
                        }
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/handlers.RespListPayments"
                        }
                    }
                },
                "security": [
                    {
                        "OperatorToken": []
                    }
                ]
            }
        },
        "/api/v1/admin/accounts/{external_id}": {
            "get": {
                "tags": [
                    "Admin"
                ],
                "summary": "Get Account (Admin)",
                "produces": [
                    "application/json"
                ],
                "consumes": [
                    "application/json"
                ],
                "parameters": [
                    {
                        "type": "string",
                        "description": "Payer external ID",
                        "name": "external_id",
                        "in": "path",
                        "required": true
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/handlers.RespOK"
                        }
                    }
                },
                "security": [
                    {
                        "OperatorToken": []
                    }
                ]
            }
        },
        "/api/v1/admin/trades/{id}": {
            "get": {
                "tags": [
                    "Admin"
                ],
                "summary": "Get Trade (Admin)",
                "produces": [
                    "application/json"
                ],
                "consumes": [
                    "application/json"
                ],
                "parameters": [
                    {
                        "type": "string",
                        "description": "Trade ID",
                        "name": "id",
                        "in": "path",
                        "required": true
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/handlers.RespOK"
                        }
                    }
                },
                "security": [
                    {
                        "OperatorToken": []
                    }
                ]
            }
        },
        "/api/v1/admin/trades/{id}/run": {
            "post": {
                "tags": [
                    "Admin"
                ],
                "summary": "Run Trade (Admin)",
                "produces": [
                    "application/json"
                ],
                "consumes": [
                    "application/json"
                ],
                "parameters": [
                    {
                        "type": "string",
                        "description": "Trade ID",
                        "name": "id",
                        "in": "path",
                        "required": true
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/handlers.RespOK"
                        }
                    }
                },
                "security": [
                    {
                        "OperatorToken": []
                    }
                ]
            }
        },
        "/api/v1/admin/trades/{id}/cancel": {
            "post": {
                "tags": [
                    "Admin"
                ],
                "summary": "Cancel Trade (Admin)",
                "produces": [
                    "application/json"
                ],
                "consumes": [
                    "application/json"
                ],
                "parameters": [
                    {
                        "type": "string",
                        "description": "Trade ID",
                        "name": "id",
                        "in": "path",
                        "required": true
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/handlers.RespOK"
                        }
                    }
                },
                "security": [
                    {
                        "OperatorToken": []
                    }
                ]
            }
        },
        "/api/v1/admin/statistics": {
            "get": {
                "tags": [
                    "Admin"
                ],
                "summary": "Payment Statistics (Admin)",
                "produces": [
                    "application/json"
                ],
                "consumes": [
                    "application/json"
                ],
                "parameters": [
                    {
                        "type": "string",
                        "description": "First day, YYYY-MM-DD",
                        "name": "from",
                        "in": "query"
                    },
                    {
                        "type": "string",
                        "description": "Last day, YYYY-MM-DD",
                        "name": "to",
                        "in": "query"
                    },
                    {
                        "type": "string",
                        "description": "Comma separated statistic types",
                        "name": "items",
                        "in": "query"
                    },
                    {
                        "type": "string",
                        "description": "Payment rail",
                        "name": "type",
                        "in": "query"
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/handlers.RespOK"
                        }
                    }
                },
                "security": [
                    {
                        "OperatorToken": []
                    }
                ]
            },
            "post": {
                "tags": [
                    "Admin"
                ],
                "summary": "Query Payment Statistics (Admin)",
                "produces": [
                    "application/json"
                ],
                "consumes": [
                    "application/json"
                ],
                "parameters": [
                    {
                        "in": "body",
                        "name": "request",
                        "required": true,
                        "schema": {
                            "$ref": "#/definitions/statistics.StatisticRequest"
                        }
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/handlers.RespOK"
                        }
                    }
                },
                "security": [
                    {
                        "OperatorToken": []
                    }
                ]
            }
        },
        "/api/v1/admin/notifications": {
            "get": {
                "tags": [
                    "Admin"
                ],
                "summary": "List Notifications (Admin)",
                "produces": [
                    "application/json"
                ],
                "consumes": [
                    "application/json"
                ],
                "parameters": [
                    {
                        "type": "string",
                        "description": "Chain transaction hash",
                        "name": "transaction_ref",
                        "in": "query"
                    },
                    {
                        "type": "integer",
                        "description": "Maximum rows",
                        "name": "limit",
                        "in": "query"
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/handlers.RespOK"
                        }
                    }
                },
                "security": [
                    {
                        "OperatorToken": []
                    }
                ]
            }
        },
        "/api/v2/payment/webhook/blockcypher": {
            "post": {
                "tags": [
                    "Webhook"
                ],
                "summary": "BlockCypher Webhook",
                "produces": [
                    "application/json"
                ],
                "consumes": [
                    "application/json"
                ],
                "parameters": [
                    {
                        "type": "string",
                        "description": "Event type",
                        "name": "X-EventType",
                        "in": "header",
                        "required": true
                    },
                    {
                        "type": "string",
                        "description": "Shared webhook token",
                        "name": "token",
                        "in": "query"
                    },
                    {
                        "in": "body",
                        "name": "payload",
                        "required": true,
                        "schema": {
                            "type": "object"
                        }
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/handlers.RespOK"
                        }
                    }
                },
                "description": "Every event is logged; only tx-confirmation events change payments. The sender is always acknowledged."
            }
        },
        "/api/v2/payment/webhook/payment": {
            "post": {
                "tags": [
                    "Webhook"
                ],
                "summary": "Payment Webhook",
                "produces": [
                    "application/json"
                ],
                "consumes": [
                    "application/json"
                ],
                "parameters": [
                    {
                        "in": "body",
                        "name": "payload",
                        "required": true,
                        "schema": {
                            "type": "object"
                        }
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/handlers.RespOK"
                        }
                    }
                }
            }
        }
    },
    "definitions": {
        "handlers.RespOK": {
            "type": "object",
            "properties": {
                "code": {
                    "type": "integer"
                },
                "message": {
                    "type": "string"
                },
                "data": {
                    "type": "object"
                }
            }
        },
        "handlers.PaymentItem": {
            "type": "object",
            "properties": {
                "id": {
                    "type": "string"
                },
                "type": {
                    "type": "string"
                },
                "status": {
                    "type": "string"
                },
                "unit": {
                    "type": "string"
                },
                "amount_usd": {
                    "type": "string"
                },
                "amount_settlement": {
                    "type": "string"
                },
                "recipient_address": {
                    "type": "string"
                },
                "transaction_ref": {
                    "type": "string"
                },
                "confirmations": {
                    "type": "integer"
                },
                "confirmations_required": {
                    "type": "integer"
                },
                "progress": {
                    "type": "string"
                },
                "created_at": {
                    "type": "string"
                },
                "expires_at": {
                    "type": "string"
                },
                "completed_at": {
                    "type": "string"
                }
            }
        },
        "handlers.RespPayment": {
            "type": "object",
            "properties": {
                "code": {
                    "type": "integer"
                },
                "message": {
                    "type": "string"
                },
                "data": {
                    "$ref": "#/definitions/handlers.PaymentItem"
                }
            }
        },
        "handlers.RespPaymentList": {
            "type": "object",
            "properties": {
                "code": {
                    "type": "integer"
                },
                "message": {
                    "type": "string"
                },
                "data": {
                    "type": "array",
                    "items": {
                        "$ref": "#/definitions/handlers.PaymentItem"
                    }
                }
            }
        },
        "handlers.RespQuote": {
            "type": "object",
            "properties": {
                "code": {
                    "type": "integer"
                },
                "message": {
                    "type": "string"
                },
                "data": {
                    "type": "object",
                    "properties": {
                        "payment": {
                            "$ref": "#/definitions/handlers.PaymentItem"
                        },
                        "world": {
                            "type": "integer"
                        },
                        "location": {
                            "type": "string"
                        },
                        "trader_name": {
                            "type": "string"
                        }
                    }
                }
            }
        },
        "handlers.RespListPayments": {
            "type": "object",
            "properties": {
                "code": {
                    "type": "integer"
                },
                "message": {
                    "type": "string"
                },
                "data": {
                    "type": "object",
                    "properties": {
                        "items": {
                            "type": "array",
                            "items": {
                                "$ref": "#/definitions/handlers.PaymentItem"
                            }
                        },
                        "total": {
                            "type": "integer"
                        }
                    }
                }
            }
        },
        "handlers.AttachTransactionRequest": {
            "type": "object",
            "required": [
                "transaction_ref"
            ],
            "properties": {
                "transaction_ref": {
                    "type": "string"
                }
            }
        },
        "types.CommonFilter": {
            "type": "object",
            "properties": {
                "field": {
                    "type": "string"
                },
                "operator": {
                    "type": "string"
                },
                "values": {
                    "type": "array",
                    "items": {}
                }
            }
        },
        "handlers.ListPaymentsRequest": {
            "type": "object",
            "properties": {
                "filters": {
                    "type": "array",
                    "items": {
                        "$ref": "#/definitions/types.CommonFilter"
                    }
                },
                "from": {
                    "type": "integer"
                },
                "size": {
                    "type": "integer"
                },
                "sort_by": {
                    "type": "string"
                },
                "sort_order": {
                    "type": "string"
                }
            }
        },
        "payment.CreateRequest": {
            "type": "object",
            "required": [
                "external_id",
                "type"
            ],
            "properties": {
                "external_id": {
                    "type": "string"
                },
                "display_name": {
                    "type": "string"
                },
                "type": {
                    "type": "string",
                    "enum": [
                        "btc",
                        "ltc",
                        "osrs_gp"
                    ]
                },
                "amount_usd": {
                    "type": "string"
                }
            }
        },
        "payment.IdentityRequest": {
            "type": "object",
            "required": [
                "in_game_name"
            ],
            "properties": {
                "in_game_name": {
                    "type": "string"
                },
                "display_name": {
                    "type": "string"
                }
            }
        },
        "statistics.StatisticRequest": {
            "type": "object",
            "properties": {
                "filters": {
                    "type": "array",
                    "items": {
                        "$ref": "#/definitions/types.CommonFilter"
                    }
                },
                "data_items": {
                    "type": "array",
                    "items": {
                        "type": "string",
                        "enum": [
                            "daily_completed_count",
                            "daily_volume_usd",
                            "total_volume_usd",
                            "daily_expired_count"
                        ]
                    }
                },
                "from": {
                    "type": "string"
                },
                "to": {
                    "type": "string"
                }
            }
        }
    },
    "securityDefinitions": {
        "OperatorToken": {
            "description": "\"Bearer \" followed by an HS256 operator token.",
            "type": "apiKey",
            "name": "Authorization",
            "in": "header"
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "localhost:8888",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "Roleguard API",
	Description:      "Sells a community role for BTC, LTC or in-game gold: payment requests, blockchain confirmation webhooks and automated in-game trades.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
