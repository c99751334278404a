package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"famly/global"
	"famly/global/config"
	"famly/logger"
)

func main() {
	path := flag.String("config", "config.yaml", "path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*path)
	if err != nil {
		logger.Error("load config", zap.Error(err))
		os.Exit(1)
	}
	log := logger.Init(logger.Options{
		Level:      cfg.Log.Level,
		Color:      cfg.Log.Color,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	defer logger.Sync()
	gin.SetMode(gin.ReleaseMode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := global.New(ctx, cfg, log)
	if err != nil {
		log.Error("start hub", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
	if err := app.Run(ctx); err != nil {
		log.Error("hub stopped", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
	log.Info("hub stopped")
}
