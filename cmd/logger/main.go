// Command logger collects counter readings from Modbus/TCP devices and MQTT
// sensors and persists them to TimescaleDB.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ibs-source/counterlog/internal/api"
	"github.com/ibs-source/counterlog/internal/config"
	"github.com/ibs-source/counterlog/internal/log"
	"github.com/ibs-source/counterlog/internal/service"
)

// httpShutdownTimeout bounds the graceful HTTP server stop
const httpShutdownTimeout = 5 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	logger := log.New()
	logger.Info("Starting counter data logger")

	cfg, err := config.Load()
	if err != nil {
		logger.Error("Failed to load configuration: %v", err)
		return 1
	}

	svc, err := service.New(cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize service: %v", err)
		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Every component exists once Start returns, so the HTTP server never
	// observes a half-constructed service.
	if err := svc.Start(ctx); err != nil {
		logger.Error("Failed to start service: %v", err)
		return 1
	}

	svcDone := make(chan error, 1)
	go func() {
		svcDone <- svc.Run(ctx)
	}()

	httpErr := make(chan error, 1)
	var apiSrv *api.Server
	if cfg.HTTP.Enabled {
		apiSrv = api.NewServer(&cfg.HTTP, svc, logger)
		apiSrv.Start(httpErr)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	exitCode := 0
	var runErr error
	select {
	case sig := <-sigCh:
		logger.Info("Received signal %s, shutting down", sig)
		cancel()
		runErr = <-svcDone
	case err := <-httpErr:
		logger.Error("HTTP server failed: %v", err)
		exitCode = 1
		cancel()
		runErr = <-svcDone
	case runErr = <-svcDone:
		cancel()
	}

	if runErr != nil {
		logger.Error("Service terminated with error: %v", runErr)
		exitCode = 1
	}

	if apiSrv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
		if err := apiSrv.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown failed: %v", err)
		}
		shutdownCancel()
	}

	logger.Info("Counter data logger stopped")
	return exitCode
}
