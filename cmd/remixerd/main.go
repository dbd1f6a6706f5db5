package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/remixsync/remixsync/internal/core/observability/log"
	"github.com/remixsync/remixsync/internal/server"
)

func main() {
	configPath := flag.String("config", "", "path to yaml config")
	flag.Parse()

	config, err := server.LoadConfigFile(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error loading config:", err)
		os.Exit(1)
	}

	logger := log.New(log.ParseLevel(config.LogLevel))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		<-stopCh
		cancel()
	}()

	srv := server.NewServer(config, logger)
	if err := srv.Run(ctx); err != nil {
		logger.Fatal("hub failed", log.Error(err))
	}
}
