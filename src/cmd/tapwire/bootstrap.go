// FILE: src/cmd/tapwire/bootstrap.go
package main

import (
	"context"
	"errors"
	"fmt"
	stdlog "log"
	"net/http"
	"time"

	"tapwire/src/internal/collector"
	"tapwire/src/internal/config"
	"tapwire/src/internal/core"
	"tapwire/src/internal/tap"

	"github.com/lixenwraith/log"
)

// runtime bundles everything main has to shut down.
type runtime struct {
	cfg       *config.Config
	tap       *tap.Tap
	collector *collector.Collector
}

// bootstrap brings up the optional embedded collector and the capture
// pipeline.
func bootstrap(cfg *config.Config) (*runtime, error) {
	rt := &runtime{cfg: cfg}

	if *embedded {
		col, err := collector.New(collector.Config{
			Host:       cfg.Server.Host,
			Port:       cfg.CollectorPort(),
			AuthSecret: cfg.Server.AuthSecret,
		}, func(frame core.WireFrame, remoteAddr string) {
			PrintFrame(frame)
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create collector: %w", err)
		}
		if err := col.Start(); err != nil {
			return nil, fmt.Errorf("failed to start collector: %w", err)
		}
		rt.collector = col
	}

	t, err := tap.New(cfg, logger)
	if err != nil {
		rt.stopCollector()
		return nil, fmt.Errorf("failed to create tap: %w", err)
	}
	if err := t.Start(); err != nil {
		rt.stopCollector()
		return nil, fmt.Errorf("failed to start capture: %w", err)
	}
	rt.tap = t

	return rt, nil
}

// shutdown flushes queued entries, then tears everything down.
func (rt *runtime) shutdown(ctx context.Context) {
	if rt.tap != nil {
		if err := rt.tap.Flush(ctx); err != nil {
			logger.Warn("msg", "Flush incomplete", "error", err)
		}
		rt.tap.Destroy()
	}
	rt.stopCollector()
}

func (rt *runtime) stopCollector() {
	if rt.collector != nil {
		rt.collector.Stop()
		rt.collector = nil
	}
}

// runDemoTraffic exercises every capture path so a fresh install has
// something to look at: teed log output, explicit levels, a contained
// panic, a reported error, and an outbound HTTP call.
func (rt *runtime) runDemoTraffic() {
	time.Sleep(500 * time.Millisecond)

	stdlog.Print("demo: host application started")
	stdlog.Print("WARN demo: cache miss rate above threshold")

	rt.tap.Info("demo: explicit info entry")
	rt.tap.Error("demo: explicit error entry")
	rt.tap.CaptureError(errors.New("demo: payment declined for order 1234"))

	rt.tap.Go(func() {
		panic("demo: worker panic, contained")
	})

	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get("http://127.0.0.1:1/unreachable")
	if err == nil {
		resp.Body.Close()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rt.tap.Flush(ctx); err != nil {
		logger.Warn("msg", "Demo flush incomplete", "error", err)
	}
	logger.Info("msg", "Demo traffic emitted")
}

// initializeLogger sets up the pipeline's own logger. Quiet mode
// silences it entirely.
func initializeLogger(cfg *config.Config) error {
	logger = log.NewLogger()

	if cfg.Logging.Quiet {
		return logger.ApplyConfigString(
			"disable_file=true",
			"enable_console=false",
			"level=255")
	}

	level := cfg.Logging.Level
	if level == "" {
		level = "info"
	}
	levelValue, err := parseLogLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}

	return logger.ApplyConfigString(
		fmt.Sprintf("level=%d", levelValue),
		"disable_file=true",
		"enable_console=true",
		"console_target=stderr")
}
