// FILE: src/cmd/tapwire/main.go
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tapwire/src/internal/config"
	"tapwire/src/internal/version"

	"github.com/lixenwraith/log"
)

var logger *log.Logger

func main() {
	if err := parseFlags(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	InitOutputHandler(*quiet)

	if *showVersion {
		fmt.Println(version.String())
		os.Exit(0)
	}

	if *configFile != "" {
		os.Setenv("TAPWIRE_CONFIG_FILE", *configFile)
	}

	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		FatalError(1, "Failed to load config: %v\n", err)
	}
	applyFlagOverrides(cfg)

	if err := initializeLogger(cfg); err != nil {
		FatalError(1, "Failed to initialize logger: %v\n", err)
	}
	defer shutdownLogger()

	logger.Info("msg", "tapwire starting",
		"version", version.String(),
		"app", cfg.Application.Name,
		"collector_port", cfg.CollectorPort(),
		"transport", cfg.Server.Transport)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	rt, err := bootstrap(cfg)
	if err != nil {
		logger.Error("msg", "Failed to bootstrap", "error", err)
		shutdownLogger()
		os.Exit(1)
	}

	Print("tapwire session %s capturing for %q on port %d\n",
		rt.tap.Session().ID, cfg.Application.Name, cfg.CollectorPort())

	if *demo {
		go rt.runDemoTraffic()
	}

	<-sigChan
	logger.Info("msg", "Shutdown signal received, starting graceful shutdown...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	done := make(chan struct{})
	go func() {
		rt.shutdown(shutdownCtx)
		close(done)
	}()

	select {
	case <-done:
		logger.Info("msg", "Shutdown complete")
	case <-shutdownCtx.Done():
		logger.Error("msg", "Shutdown timeout exceeded - forcing exit")
		os.Exit(1)
	}
}

func shutdownLogger() {
	if logger != nil {
		if err := logger.Shutdown(2 * time.Second); err != nil {
			Error("Logger shutdown error: %v\n", err)
		}
	}
}
