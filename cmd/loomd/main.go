package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"loom/internal/config"
	"loom/internal/daemon"
	"loom/internal/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, _, _, err := config.Load("")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, logPath, err := logging.NewFromConfig(cfg)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}

	d, err := daemon.New(cfg, logger)
	if err != nil {
		logger.Error("create daemon", logging.Args(logging.Error(err))...)
		os.Exit(1)
	}

	if err := d.Start(context.Background()); err != nil {
		logger.Error("start daemon", logging.Args(logging.Error(err))...)
		_ = d.Close()
		os.Exit(1)
	}
	logger.Info("loomd running", logging.Args(logging.String("log_file", logPath))...)

	<-ctx.Done()
	// Restores default signal handling: a second interrupt kills the
	// process outright instead of waiting for the drain.
	stop()
	logger.Info("loomd shutting down; draining in-flight conversions")
	if err := d.Close(); err != nil {
		logger.Warn("close daemon", logging.Args(logging.Error(err))...)
	}
}
