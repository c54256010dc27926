package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tradepro/internal/api"
	"tradepro/internal/config"
	"tradepro/internal/database"
	"tradepro/internal/ledger"
	"tradepro/internal/logger"
	"tradepro/internal/pricing"
	"tradepro/internal/settlement"
	"tradepro/internal/staking"
	"tradepro/internal/trades"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	// Load .env first so the API key can live outside the config file.
	_ = godotenv.Load()

	cfg, err := config.LoadConfig("./configs")
	if err != nil {
		// We can't use the logger here because it's not initialized yet.
		panic(fmt.Sprintf("could not load config: %v", err))
	}

	log, err := logger.NewLogger(cfg.Logger.Level, cfg.Logger.Format)
	if err != nil {
		panic(err)
	}
	defer log.Sync()
	log.Info("Configuration loaded")

	db, err := database.NewDatabase(&cfg)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	log.Info("Database connection successful and schema migrated.")

	// Live feed when an API key is configured, simulator otherwise.
	var oracle pricing.Oracle
	var quotes pricing.QuoteProvider
	if cfg.Oracle.ApiKey != "" {
		client := pricing.NewClient(&cfg.Oracle, log.Named("oracle"))
		oracle = client
		quotes = client
		log.Info("Using live price feed", zap.String("base_url", cfg.Oracle.BaseURL))
	} else {
		oracle = pricing.NewSimulator(time.Now().UnixNano())
		log.Warn("No oracle API key configured, using simulated prices")
	}

	payouts := pricing.NewPayoutCalculator(quotes, cfg.Trading.DefaultPayout, log.Named("payouts"))
	ledgerSvc := ledger.NewService(db, &cfg.Trading, log.Named("ledger"))
	store := trades.NewStore(db)
	controls := settlement.NewControls(db)
	engine := settlement.NewEngine(log.Named("settlement"), &cfg.Trading, db, store, ledgerSvc, oracle, payouts, controls)
	stakingSvc := staking.NewService(log.Named("staking"), &cfg.Staking, db, ledgerSvc)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		sigchan := make(chan os.Signal, 1)
		signal.Notify(sigchan, syscall.SIGINT, syscall.SIGTERM)
		<-sigchan
		log.Info("Shutdown signal received, gracefully shutting down...")
		cancel()
	}()

	server := api.NewServer(cfg.Server.Port, engine, controls, ledgerSvc, stakingSvc, log)
	server.Start()

	// Mature staking positions piggyback on a slower tick than settlement.
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := stakingSvc.ProcessMatured(ctx, time.Now().UTC()); err != nil {
					log.Error("Staking maturity sweep failed", zap.Error(err))
				}
			}
		}
	}()

	engine.Run(ctx)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Stop(shutdownCtx); err != nil {
		log.Error("API server shutdown failed", zap.Error(err))
	}

	log.Info("Server has been shut down.")
}
