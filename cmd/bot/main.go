package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mellow-sync/mellow/internal/setup"
	"github.com/mellow-sync/mellow/internal/setup/telemetry"
	"github.com/sourcegraph/conc"
	"go.uber.org/zap"
)

const (
	// BotLogDir specifies where bot log files are stored.
	BotLogDir = "logs/bot_logs"

	// ShutdownTimeout bounds the drain of in-flight work.
	ShutdownTimeout = 30 * time.Second
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	defer stop()

	// Initialize application with required dependencies
	app, err := setup.InitializeApp(ctx, telemetry.ServiceBot, BotLogDir)
	if err != nil {
		log.Fatalf("Failed to initialize application: %v", err)
	}

	var wg conc.WaitGroup

	// Server logs are drained by Cleanup, so the sink outlives the signal
	wg.Go(func() { app.ServerLogs.Run(context.WithoutCancel(ctx)) })
	wg.Go(func() { app.Gateway.Onboarding().Run(ctx) })
	wg.Go(func() {
		if err := app.API.Run(ctx); err != nil {
			app.Logger.Error("Admin API stopped", zap.Error(err))
			stop()
		}
	})

	// Start the bot and connect to Discord
	if err := app.Discord.Open(ctx); err != nil {
		app.Logger.Error("Failed to open gateway", zap.Error(err))
		stop()
	} else if err := app.Commands.RegisterAll(ctx); err != nil {
		app.Logger.Error("Failed to register application commands", zap.Error(err))
	}

	app.Logger.Info("Bot has been started. Waiting for interrupt signal to gracefully shutdown...")
	<-ctx.Done()

	app.Logger.Info("Shutting down bot...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()

	app.Cleanup(shutdownCtx)
	wg.Wait()
}
