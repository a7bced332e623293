package main

// @title           Roleguard API
// @version         1.0
// @description     Sells a community role for BTC, LTC or in-game gold: payment requests, blockchain confirmation webhooks and automated in-game trades.

// @host      localhost:8888
// @BasePath  /

// @securityDefinitions.apikey  OperatorToken
// @in                          header
// @name                        Authorization
// @description                 "Bearer " followed by an HS256 operator token.

import (
	"context"
	"os"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/fatflowers/roleguard/internal/app"
)

func main() {
	// Allow graceful stop with SIGINT/SIGTERM handled by fx
	exitCode := 0
	defer func() { os.Exit(exitCode) }()

	a := fx.New(app.Module, fx.StopTimeout(app.DefaultStopTimeout))
	startCtx, cancel := context.WithTimeout(context.Background(), app.DefaultStartTimeout)
	defer cancel()
	if err := a.Start(startCtx); err != nil {
		// Logging might not be ready; fallback to zap example
		zap.NewExample().Sugar().Errorf("failed to start app: %v", err)
		exitCode = 1
		return
	}

	// Block until signal
	<-a.Done()

	stopCtx, cancel2 := context.WithTimeout(context.Background(), app.DefaultStopTimeout)
	defer cancel2()
	if err := a.Stop(stopCtx); err != nil {
		zap.NewExample().Sugar().Errorf("failed to stop app: %v", err)
		exitCode = 1
		return
	}
}
