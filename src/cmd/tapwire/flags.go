// FILE: src/cmd/tapwire/flags.go
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"tapwire/src/internal/config"

	"github.com/lixenwraith/log"
)

// Command-line flags
var (
	configFile  = flag.String("config", "", "Config file path")
	showVersion = flag.Bool("version", false, "Show version information")
	quiet       = flag.Bool("quiet", false, "Suppress all console output")

	appName       = flag.String("app", "", "Application name (overrides config)")
	port          = flag.Int("port", 0, "Collector port (overrides config; 0 derives from app name)")
	transportKind = flag.String("transport", "", "Transport: tcp, websocket, http (overrides config)")
	logLevel      = flag.String("log-level", "", "Log level: debug, info, warn, error (overrides config)")

	embedded = flag.Bool("collector", false, "Run an embedded collector and print received frames")
	demo     = flag.Bool("demo", false, "Emit sample traffic through the capture pipeline")
)

func init() {
	flag.Usage = customUsage
}

func customUsage() {
	fmt.Fprintf(os.Stderr, "tapwire - Runtime Diagnostics Capture\n\n")
	fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "Options:\n")

	fmt.Fprintf(os.Stderr, "\nGeneral:\n")
	fmt.Fprintf(os.Stderr, "  -config string\n\tConfig file path\n")
	fmt.Fprintf(os.Stderr, "  -version\n\tShow version information\n")
	fmt.Fprintf(os.Stderr, "  -quiet\n\tSuppress all console output\n")

	fmt.Fprintf(os.Stderr, "\nCapture:\n")
	fmt.Fprintf(os.Stderr, "  -app string\n\tApplication name (overrides config)\n")
	fmt.Fprintf(os.Stderr, "  -port int\n\tCollector port (overrides config; 0 derives from app name)\n")
	fmt.Fprintf(os.Stderr, "  -transport string\n\tTransport: tcp, websocket, http (overrides config)\n")
	fmt.Fprintf(os.Stderr, "  -log-level string\n\tLog level: debug, info, warn, error (overrides config)\n")

	fmt.Fprintf(os.Stderr, "\nDemo:\n")
	fmt.Fprintf(os.Stderr, "  -collector\n\tRun an embedded collector and print received frames\n")
	fmt.Fprintf(os.Stderr, "  -demo\n\tEmit sample traffic through the capture pipeline\n")

	fmt.Fprintf(os.Stderr, "\nExamples:\n")
	fmt.Fprintf(os.Stderr, "  # Capture for app \"orders\" with an embedded collector and sample traffic\n")
	fmt.Fprintf(os.Stderr, "  %s -app orders -collector -demo\n\n", os.Args[0])

	fmt.Fprintf(os.Stderr, "  # Point capture at an external collector\n")
	fmt.Fprintf(os.Stderr, "  %s -app orders -port 3042 -transport websocket\n\n", os.Args[0])

	fmt.Fprintf(os.Stderr, "Environment Variables:\n")
	fmt.Fprintf(os.Stderr, "  TAPWIRE_CONFIG_FILE  Config file path\n")
	fmt.Fprintf(os.Stderr, "  TAPWIRE_CONFIG_DIR   Config directory\n")
}

func parseFlags() error {
	flag.Parse()

	if *transportKind != "" {
		switch *transportKind {
		case "tcp", "websocket", "http":
		default:
			return fmt.Errorf("invalid transport: %s (valid: tcp, websocket, http)", *transportKind)
		}
	}

	if *logLevel != "" {
		if _, err := parseLogLevel(*logLevel); err != nil {
			return fmt.Errorf("invalid log-level: %s (valid: debug, info, warn, error)", *logLevel)
		}
	}

	if *port < 0 || *port > 65535 {
		return fmt.Errorf("invalid port: %d", *port)
	}

	return nil
}

func applyFlagOverrides(cfg *config.Config) {
	if *appName != "" {
		cfg.Application.Name = *appName
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *transportKind != "" {
		cfg.Server.Transport = *transportKind
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	if *quiet {
		cfg.Logging.Quiet = true
	}
}

func parseLogLevel(level string) (int, error) {
	switch strings.ToLower(level) {
	case "debug":
		return int(log.LevelDebug), nil
	case "info":
		return int(log.LevelInfo), nil
	case "warn", "warning":
		return int(log.LevelWarn), nil
	case "error":
		return int(log.LevelError), nil
	default:
		return 0, fmt.Errorf("unknown log level: %s", level)
	}
}
