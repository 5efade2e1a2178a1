package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/chainmatch/chainbook/params"
	"github.com/chainmatch/chainbook/pkg/activity"
	"github.com/chainmatch/chainbook/pkg/api"
	"github.com/chainmatch/chainbook/pkg/chain"
	"github.com/chainmatch/chainbook/pkg/exchange"
	"github.com/chainmatch/chainbook/pkg/settle"
	"github.com/chainmatch/chainbook/pkg/util"
)

func main() {
	// Load config from .env file and environment variables
	cfg := params.LoadFromEnv("")

	logger, err := util.NewEngineLogger(cfg.LogFile, cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	if cfg.PrivateKey == "" {
		logger.Warn("PRIVATE_KEY not set, settlement submission disabled")
	}

	store, err := activity.OpenStore(cfg.ActivityPath)
	if err != nil {
		logger.Fatal("activity store", zap.Error(err))
	}
	defer store.Close()

	provider := chain.NewEVMProvider(cfg.PrivateKey, logger)
	defer provider.Close()

	validator := settle.NewValidator(provider, cfg.Settlement, logger)
	settler := settle.NewSettler(provider, cfg, validator, logger)
	actLog := activity.NewLog(store, cfg.TapeSize, logger)
	ex := exchange.New(cfg, validator, settler, actLog, logger)

	server := api.NewServer(ex, validator, cfg, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := server.Start(); err != nil {
			logger.Fatal("api server", zap.Error(err))
		}
	}()

	logger.Info("engine started")
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown", zap.Error(err))
	}
	logger.Info("engine stopped")
}
