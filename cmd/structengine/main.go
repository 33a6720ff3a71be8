package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"chanlun-engine/config"
	"chanlun-engine/internal/logger"
	"chanlun-engine/internal/structengine"
)

func main() {
	cfg := config.Load()
	logger.Init("structengine", logger.ParseLevel(cfg.LogLevel))
	log.Printf("[structengine] symbols: %v, gap threshold: %d, snapshot interval: %s",
		cfg.Symbols, cfg.GapThreshold, cfg.SnapshotInterval)

	svc, err := structengine.New(cfg)
	if err != nil {
		log.Fatalf("[structengine] init failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	if err := svc.Run(ctx); err != nil {
		log.Fatalf("[structengine] fatal: %v", err)
	}
}
