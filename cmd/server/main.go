package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"taskchat/internal/app"
	"taskchat/internal/logging"
)

func main() {
	configDir := flag.String("config", "", "directory containing taskchat.yaml")
	flag.Parse()

	cfg, err := app.LoadConfig(*configDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "taskchat-server: %v\n", err)
		os.Exit(1)
	}
	logging.Init(cfg.Log)
	logger := logging.L()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	handle, err := app.RunServer(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("server start failed")
	}
	if err := handle.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("server error")
	}
}
