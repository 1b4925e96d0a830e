package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"valrtrader/config"
	"valrtrader/internal/valr/trader"
	"valrtrader/logger"

	"go.uber.org/zap"
)

func main() {
	// viper config
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	// zap logger
	log, err := logger.New(cfg.Log)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	t, err := trader.New(cfg, log)
	if err != nil {
		log.Fatal("failed to start trader", zap.Error(err))
	}

	log.Info("trader starting",
		zap.String("pair", cfg.Market.Pair),
		zap.String("strategy", cfg.Strategy.Name),
		zap.String("environment", cfg.Log.Environment))

	if err := t.Run(ctx); err != nil {
		log.Error("trader failed", zap.Error(err))
		_ = log.Sync()
		os.Exit(1)
	}
}
