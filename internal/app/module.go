package app

import (
	"time"

	"go.uber.org/fx"

	"github.com/fatflowers/roleguard/internal/app/api/server"
	"github.com/fatflowers/roleguard/internal/app/service/ledger"
	notificationhandler "github.com/fatflowers/roleguard/internal/app/service/notification_handler"
	notificationlog "github.com/fatflowers/roleguard/internal/app/service/notification_log"
	"github.com/fatflowers/roleguard/internal/app/service/payment"
	"github.com/fatflowers/roleguard/internal/app/service/privilege"
	"github.com/fatflowers/roleguard/internal/app/service/rate"
	"github.com/fatflowers/roleguard/internal/app/service/statistics"
	"github.com/fatflowers/roleguard/internal/app/service/sweeper"
	"github.com/fatflowers/roleguard/internal/app/service/trade"
	"github.com/fatflowers/roleguard/internal/platform/db"
	"github.com/fatflowers/roleguard/internal/platform/evidence"
	"github.com/fatflowers/roleguard/internal/platform/identity"
	"github.com/fatflowers/roleguard/internal/platform/plugin"
	"github.com/fatflowers/roleguard/pkg/config"
	"github.com/fatflowers/roleguard/pkg/logger"
)

const (
	DefaultStartTimeout = 15 * time.Second
	// Long enough for running trades to write their outcome.
	DefaultStopTimeout = 30 * time.Second
)

var Module = fx.Options(
	logger.Module,
	config.Module,
	db.Module,
	identity.Module,
	plugin.Module,
	evidence.Module,
	ledger.Module,
	rate.Module,
	privilege.Module,
	notificationlog.Module,
	notificationhandler.Module,
	trade.Module,
	payment.Module,
	sweeper.Module,
	statistics.Module,
	server.Module,
)
