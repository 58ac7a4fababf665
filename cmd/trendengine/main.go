// cmd/trendengine consumes TF candles from Redis Streams, computes Supertrend
// for every configured series and publishes the results.
package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"trendengine/config"
	"trendengine/internal/indengine"
	"trendengine/internal/logger"
	"trendengine/internal/notification"
)

func main() {
	appCfg, err := config.Load()
	if err != nil {
		log.Fatalf("[trendengine] config: %v", err)
	}
	logger.Init(appCfg.App.Service, appCfg.App.LogLevel)

	cfg, err := indengine.FromAppConfig(appCfg)
	if err != nil {
		log.Fatalf("[trendengine] config: %v", err)
	}
	log.Printf("[trendengine] enabled TFs: %v, snapshot interval: %s", cfg.EnabledTFs, cfg.SnapshotInterval)

	svc, err := indengine.New(cfg, notification.FromConfig(appCfg))
	if err != nil {
		log.Fatalf("[trendengine] init failed: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := svc.Run(ctx); err != nil {
		log.Fatalf("[trendengine] fatal: %v", err)
	}
}
