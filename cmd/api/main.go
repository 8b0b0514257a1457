package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/markdave123-py/Indexa/internal/app"
	"github.com/markdave123-py/Indexa/internal/config"
	"github.com/markdave123-py/Indexa/pkg/logger"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle SIGINT/SIGTERM for graceful shutdown
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		<-c
		cancel()
	}()

	cfg := config.LoadConfig()
	logger.Init(&logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})

	application, err := app.NewApp(ctx, cfg)
	if err != nil {
		log.Fatalf("startup failed: %v", err)
	}
	defer application.Close()

	workerErr := make(chan error, 1)
	go func() {
		workerErr <- application.Workers.Run(ctx)
	}()
	go func() {
		if err := application.Server.Start(ctx); err != nil {
			logger.Error(ctx, "http server error", "error", err)
			cancel()
		}
	}()

	logger.Info(ctx, "ingestion pipeline running")

	select {
	case <-ctx.Done():
	case err := <-workerErr:
		if err != nil {
			logger.Error(ctx, "worker pool halted", "error", err)
		}
		cancel()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := application.Server.Shutdown(shutdownCtx); err != nil {
		logger.Error(shutdownCtx, "shutdown error", "error", err)
	}
	logger.Info(context.Background(), "shut down cleanly")
}
