// FILE: src/internal/collector/collector.go
// Standalone frame receiver: the out-of-process endpoint the transport
// connects to. Accepts newline-delimited JSON frames over TCP, parses
// them defensively, and hands valid ones to a handler.
package collector

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"tapwire/src/internal/core"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lixenwraith/log"
	"github.com/lixenwraith/log/compat"
	"github.com/panjf2000/gnet/v2"
)

// Handler receives every valid frame with the sender's address.
type Handler func(frame core.WireFrame, remoteAddr string)

// Config holds collector settings.
type Config struct {
	Host string
	Port int

	// AuthSecret requires a valid JWT auth frame as the first line of
	// every connection when non-empty.
	AuthSecret string

	// MaxLineSize bounds one frame; oversized lines close the
	// connection. Defaults to 1 MiB.
	MaxLineSize int
}

// Collector is a gnet-based TCP server for capture frames.
type Collector struct {
	config  Config
	handler Handler
	logger  *log.Logger

	server   *frameServer
	engine   *gnet.Engine
	engineMu sync.Mutex
	done     chan struct{}
	wg       sync.WaitGroup

	// Statistics
	totalFrames     atomic.Uint64
	malformedFrames atomic.Uint64
	rejectedAuth    atomic.Uint64
	activeConns     atomic.Int64
	startTime       time.Time
}

// New creates a collector. Start brings the listener up.
func New(cfg Config, handler Handler, logger *log.Logger) (*Collector, error) {
	if handler == nil {
		return nil, fmt.Errorf("collector requires a frame handler")
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("invalid collector port: %d", cfg.Port)
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.MaxLineSize <= 0 {
		cfg.MaxLineSize = 1024 * 1024
	}

	return &Collector{
		config:    cfg,
		handler:   handler,
		logger:    logger,
		done:      make(chan struct{}),
		startTime: time.Now(),
	}, nil
}

// Start launches the event loop and waits briefly for it to bind.
func (c *Collector) Start() error {
	c.server = &frameServer{
		collector: c,
		clients:   make(map[gnet.Conn]*clientState),
	}

	addr := fmt.Sprintf("tcp://%s:%d", c.config.Host, c.config.Port)
	gnetLogger := compat.NewGnetAdapter(c.logger)

	errChan := make(chan error, 1)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.logger.Info("msg", "Collector starting",
			"component", "collector",
			"port", c.config.Port)

		err := gnet.Run(c.server, addr,
			gnet.WithLogger(gnetLogger),
			gnet.WithMulticore(true),
			gnet.WithReusePort(true),
		)
		if err != nil {
			c.logger.Error("msg", "Collector server failed",
				"component", "collector",
				"port", c.config.Port,
				"error", err)
		}
		errChan <- err
	}()

	select {
	case err := <-errChan:
		close(c.done)
		c.wg.Wait()
		return err
	case <-time.After(100 * time.Millisecond):
		c.logger.Info("msg", "Collector started",
			"component", "collector",
			"port", c.config.Port,
			"auth_required", c.config.AuthSecret != "")
		return nil
	}
}

// Stop shuts the event loop down.
func (c *Collector) Stop() {
	c.logger.Info("msg", "Stopping collector", "component", "collector")
	close(c.done)

	c.engineMu.Lock()
	engine := c.engine
	c.engineMu.Unlock()

	if engine != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		(*engine).Stop(ctx)
	}

	c.wg.Wait()

	c.logger.Info("msg", "Collector stopped",
		"component", "collector",
		"total_frames", c.totalFrames.Load(),
		"malformed_frames", c.malformedFrames.Load())
}

// GetStats returns collector statistics.
func (c *Collector) GetStats() map[string]any {
	return map[string]any{
		"type":               "collector",
		"port":               c.config.Port,
		"active_connections": c.activeConns.Load(),
		"total_frames":       c.totalFrames.Load(),
		"malformed_frames":   c.malformedFrames.Load(),
		"rejected_auth":      c.rejectedAuth.Load(),
		"uptime":             time.Since(c.startTime).Seconds(),
	}
}

// verifyToken checks an auth frame token against the shared secret.
func (c *Collector) verifyToken(token string) error {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(c.config.AuthSecret), nil
	})
	if err != nil {
		return err
	}
	if !parsed.Valid {
		return fmt.Errorf("invalid token")
	}
	return nil
}
