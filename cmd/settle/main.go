package main

import (
	"context"
	"fmt"
	"time"

	"tradepro/internal/config"
	"tradepro/internal/database"
	"tradepro/internal/ledger"
	"tradepro/internal/logger"
	"tradepro/internal/pricing"
	"tradepro/internal/settlement"
	"tradepro/internal/trades"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// One-shot settlement sweep: settle everything due right now and exit.
// Useful from cron or for manual runs against a live database.
func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadConfig("./configs")
	if err != nil {
		panic(fmt.Sprintf("could not load config: %v", err))
	}

	log, err := logger.NewLogger(cfg.Logger.Level, cfg.Logger.Format)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	db, err := database.NewDatabase(&cfg)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}

	var oracle pricing.Oracle
	var quotes pricing.QuoteProvider
	if cfg.Oracle.ApiKey != "" {
		client := pricing.NewClient(&cfg.Oracle, log.Named("oracle"))
		oracle = client
		quotes = client
	} else {
		oracle = pricing.NewSimulator(time.Now().UnixNano())
		log.Warn("No oracle API key configured, using simulated prices")
	}

	payouts := pricing.NewPayoutCalculator(quotes, cfg.Trading.DefaultPayout, log.Named("payouts"))
	ledgerSvc := ledger.NewService(db, &cfg.Trading, log.Named("ledger"))
	store := trades.NewStore(db)
	controls := settlement.NewControls(db)
	engine := settlement.NewEngine(log.Named("settlement"), &cfg.Trading, db, store, ledgerSvc, oracle, payouts, controls)

	count, err := engine.SettleDueTrades(context.Background(), time.Now().UTC())
	if err != nil {
		log.Fatal("Settlement sweep failed", zap.Error(err))
	}
	log.Info("Settlement sweep finished", zap.Int("processed", count))
}
