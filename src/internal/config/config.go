// FILE: src/internal/config/config.go
package config

import (
	"fmt"
	"regexp"
	"time"
)

// Config is the full capture pipeline configuration.
type Config struct {
	// Application identity
	Application ApplicationConfig `toml:"application"`

	// Collector endpoint
	Server ServerConfig `toml:"server"`

	// Capture toggles and filters
	Capture CaptureConfig `toml:"capture"`

	// Delivery behavior
	Delivery DeliveryConfig `toml:"delivery"`

	// Local logging of the pipeline itself
	Logging LoggingConfig `toml:"logging"`
}

type ApplicationConfig struct {
	Name        string `toml:"name"`
	Environment string `toml:"environment"`
	Developer   string `toml:"developer"`
	Branch      string `toml:"branch"`
}

type ServerConfig struct {
	Host string `toml:"host"`
	// Port zero means derive from the application name.
	Port int    `toml:"port"`
	Path string `toml:"path"`

	// Transport kind: tcp, websocket, or http.
	Transport string `toml:"transport"`

	// AuthSecret enables the JWT handshake when non-empty.
	AuthSecret string `toml:"auth_secret"`
}

type CaptureConfig struct {
	EnableRemoteLogging  bool `toml:"enable_remote_logging"`
	EnableLogCapture     bool `toml:"enable_log_capture"`
	EnableErrorCapture   bool `toml:"enable_error_capture"`
	EnableNetworkCapture bool `toml:"enable_network_capture"`

	SuppressConsoleOutput bool `toml:"suppress_console_output"`
	CaptureRequestBodies  bool `toml:"capture_request_bodies"`

	LogLevels       []string `toml:"log_levels"`
	IncludePatterns []string `toml:"include_patterns"`
	ExcludePatterns []string `toml:"exclude_patterns"`
	IncludeURLs     []string `toml:"include_urls"`
	ExcludeURLs     []string `toml:"exclude_urls"`

	MaxLogSize int `toml:"max_log_size"`

	// RateLimit caps captured entries per second; zero disables.
	RateLimit      float64 `toml:"rate_limit"`
	RateLimitBurst int     `toml:"rate_limit_burst"`
}

type DeliveryConfig struct {
	MaxQueueSize      int  `toml:"max_queue_size"`
	BatchSize         int  `toml:"batch_size"`
	BatchTimeoutMS    int  `toml:"batch_timeout_ms"`
	MaxRetries        int  `toml:"max_retries"`
	RetryDelayMS      int  `toml:"retry_delay_ms"`
	EnableCompression bool `toml:"enable_compression"`
}

type LoggingConfig struct {
	// Level for the pipeline's own logger: debug, info, warn, error.
	Level string `toml:"level"`
	// Quiet discards the pipeline's own log output entirely.
	Quiet bool `toml:"quiet"`
}

func defaults() *Config {
	return &Config{
		Application: ApplicationConfig{
			Name:        "app",
			Environment: "development",
		},
		Server: ServerConfig{
			Host:      "127.0.0.1",
			Path:      "/tapwire",
			Transport: "tcp",
		},
		Capture: CaptureConfig{
			EnableRemoteLogging:  true,
			EnableLogCapture:     true,
			EnableErrorCapture:   true,
			EnableNetworkCapture: true,
			MaxLogSize:           10 * 1024,
			RateLimitBurst:       100,
		},
		Delivery: DeliveryConfig{
			MaxQueueSize:   1000,
			BatchSize:      50,
			BatchTimeoutMS: 1000,
			MaxRetries:     3,
			RetryDelayMS:   1000,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// portRange is where derived collector ports land: 3001-3100.
const (
	portBase  = 3001
	portRange = 100
)

// DerivePort maps an application name onto a stable collector port so
// one machine can host a collector per application without
// coordination. Same name, same port, every process.
func DerivePort(appName string) int {
	var h uint32
	for _, ch := range appName {
		h = h*31 + uint32(ch)
	}
	return portBase + int(h%portRange)
}

// CollectorPort returns the configured port, deriving one from the
// application name when unset.
func (c *Config) CollectorPort() int {
	if c.Server.Port > 0 {
		return c.Server.Port
	}
	return DerivePort(c.Application.Name)
}

// BatchTimeout returns the batch timeout as a duration.
func (c *Config) BatchTimeout() time.Duration {
	return time.Duration(c.Delivery.BatchTimeoutMS) * time.Millisecond
}

// RetryDelay returns the retry delay as a duration.
func (c *Config) RetryDelay() time.Duration {
	return time.Duration(c.Delivery.RetryDelayMS) * time.Millisecond
}

// validate rejects configurations that cannot run. Soft problems like
// unmatchable filter patterns degrade at runtime instead.
func (c *Config) validate() error {
	if c.Application.Name == "" {
		return fmt.Errorf("application.name cannot be empty")
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	switch c.Server.Transport {
	case "", "tcp", "websocket", "http":
	default:
		return fmt.Errorf("unknown server.transport: %q", c.Server.Transport)
	}
	for _, level := range c.Capture.LogLevels {
		if !validLevel(level) {
			return fmt.Errorf("unknown capture.log_levels entry: %q", level)
		}
	}
	if c.Capture.MaxLogSize < 0 {
		return fmt.Errorf("capture.max_log_size cannot be negative")
	}
	if c.Capture.RateLimit < 0 {
		return fmt.Errorf("capture.rate_limit cannot be negative")
	}
	if c.Delivery.MaxQueueSize < 0 {
		return fmt.Errorf("delivery.max_queue_size cannot be negative")
	}
	if c.Delivery.BatchSize < 0 {
		return fmt.Errorf("delivery.batch_size cannot be negative")
	}
	if c.Delivery.MaxRetries < 0 {
		return fmt.Errorf("delivery.max_retries cannot be negative")
	}
	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown logging.level: %q", c.Logging.Level)
	}
	return nil
}

func validLevel(level string) bool {
	switch level {
	case "log", "info", "warn", "error", "debug":
		return true
	}
	return false
}

var nameRe = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]*$`)

// ValidAppName reports whether a name is safe to embed in derived
// ports, session metadata, and collector paths.
func ValidAppName(name string) bool {
	return nameRe.MatchString(name)
}
