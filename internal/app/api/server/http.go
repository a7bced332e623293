package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/fatflowers/roleguard/docs"
	"github.com/fatflowers/roleguard/internal/app/api/handlers"
	mw "github.com/fatflowers/roleguard/internal/app/api/middleware"
	"github.com/fatflowers/roleguard/internal/app/service/ledger"
	nh "github.com/fatflowers/roleguard/internal/app/service/notification_handler"
	notificationlog "github.com/fatflowers/roleguard/internal/app/service/notification_log"
	"github.com/fatflowers/roleguard/internal/app/service/payment"
	"github.com/fatflowers/roleguard/internal/app/service/statistics"
	"github.com/fatflowers/roleguard/internal/app/service/trade"
	cfgpkg "github.com/fatflowers/roleguard/pkg/config"
	metrics "github.com/fatflowers/roleguard/pkg/metrics"
)

func newEngine() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	// Add request tracing middleware only; request logger & access log are attached per group in registerRoutes
	r.Use(mw.TraceMiddleware())
	return r
}

type routeDeps struct {
	fx.In

	Lifecycle fx.Lifecycle
	Engine    *gin.Engine
	Log       *zap.SugaredLogger
	Config    *cfgpkg.Config
	DB        *gorm.DB
	Ledger    ledger.Ledger
	Payments  *payment.Service
	Tracker   *nh.ConfirmationTracker
	NotifLog  *notificationlog.Service
	Trades    *trade.Service
	Stats     *statistics.Service
}

func registerRoutes(d routeDeps) {
	r, log, cfg := d.Engine, d.Log, d.Config

	// Prometheus metrics
	if cfg.MetricsAddr != "" {
		p := metrics.NewPrometheus(metrics.NewPrometheusOptions{
			ReqCntURLLabelMappingFn: func(c *gin.Context) string {
				if fp := c.FullPath(); fp != "" {
					return fp
				}
				return c.Request.URL.Path
			},
			Logger: log,
		})
		p.SetListenAddress(cfg.MetricsAddr)
		p.Use(r)
		d.Lifecycle.Append(fx.Hook{OnStop: func(context.Context) error { return p.Close() }})

		log.Infow("metrics started", "addr", cfg.MetricsAddr)
	}

	var pinger handlers.Pinger
	if sqlDB, err := d.DB.DB(); err == nil {
		pinger = sqlDB
	}

	// Public group: request logger + access log
	pub := r.Group("/")
	pub.Use(mw.RequestLoggerMiddleware(log), mw.AccessLogMiddleware(log))
	handlers.RegisterHealthRoutes(pub, pinger)
	// Swagger UI
	docs.SwaggerInfo.BasePath = "/"
	pub.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	apiV1 := r.Group("/api/v1")
	apiV1.Use(mw.RequestLoggerMiddleware(log), mw.AccessLogMiddleware(log))
	handlers.RegisterPaymentRoutes(apiV1, d.Payments, cfg.Payment.ConfirmationThreshold, log)

	// Operator APIs
	admin := apiV1.Group("/admin")
	admin.Use(mw.OperatorAuthMiddleware(cfg.Admin.JWTSecret, log))
	handlers.RegisterAdminRoutes(admin, &handlers.AdminDeps{
		Ledger:        d.Ledger,
		Trades:        d.Trades,
		Stats:         d.Stats,
		Notifications: d.NotifLog,
		Threshold:     cfg.Payment.ConfirmationThreshold,
		Log:           log,
	})

	// Inbound notifications
	apiV2Payment := r.Group("/api/v2/payment")
	apiV2Payment.Use(mw.RequestLoggerMiddleware(log), mw.AccessLogMiddleware(log))
	handlers.RegisterPaymentWebhookRoutes(apiV2Payment, d.Tracker, d.NotifLog, cfg.Webhook.Token, log)
}

func runServer(lc fx.Lifecycle, log *zap.SugaredLogger, cfg *cfgpkg.Config, r *gin.Engine) {
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 5 * time.Second}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Infow("starting HTTP server", "addr", addr)
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Errorf("server error: %v", err)
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			log.Infow("stopping HTTP server")
			shutdownCtx, cancel := context.WithTimeout(ctx, 120*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

var Module = fx.Options(
	fx.Provide(newEngine),
	fx.Invoke(registerRoutes),
	fx.Invoke(runServer),
)
