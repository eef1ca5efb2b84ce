// history-backfill 由已存回执重建账户历史状态表
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/shardeum/relayer-collector/internal/config"
	"github.com/shardeum/relayer-collector/internal/repository"
	"github.com/shardeum/relayer-collector/internal/service"
	"github.com/shardeum/relayer-collector/pkg/logger"
)

const serviceName = "history-backfill"

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config/config.yaml", "config file path")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	if err := logger.Init(&logger.Config{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		ServiceName: serviceName,
	}); err != nil {
		panic("failed to init logger: " + err.Error())
	}
	defer logger.Sync()

	engine, err := repository.NewEngine(&cfg.Storage)
	if err != nil {
		logger.Error("invalid storage config", zap.Error(err))
		return 1
	}
	db, err := repository.Open(engine, cfg.Storage.LogLevel)
	if err != nil {
		logger.Error("failed to open database", zap.Error(err))
		return 1
	}
	sqlDB, _ := db.DB()
	if sqlDB != nil {
		defer sqlDB.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	start := time.Now()
	written, err := service.NewHistoryBackfill(repository.NewStore(db)).Run(ctx)
	if err != nil {
		logger.Error("history backfill failed", zap.Int("written", written), zap.Error(err))
		return 1
	}
	logger.Info("history backfill finished",
		zap.Int("written", written),
		zap.Duration("elapsed", time.Since(start)))
	return 0
}
