// FILE: src/internal/transport/transport.go
// Delivery channel to the collector. All variants share the same
// contract: Send never blocks the caller, entries leave in the order
// they arrived, and a dead collector costs queued memory, not host
// correctness.
package transport

import (
	"context"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"tapwire/src/internal/core"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lixenwraith/log"
)

// Transport kinds accepted by New.
const (
	KindTCP       = "tcp"
	KindWebSocket = "websocket"
	KindHTTP      = "http"
)

// State is the connection lifecycle of a transport.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateDestroyed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDestroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}

// Transport delivers entries to the collector. Send enqueues and
// returns immediately; delivery order matches enqueue order. Flush
// blocks until the queue has drained or ctx expires. Destroy tears the
// channel down; a destroyed transport silently discards Send.
type Transport interface {
	Send(entry core.Entry)
	Flush(ctx context.Context) error
	Destroy()
	State() State
	GetStats() map[string]any
}

// Encoder turns one entry into its wire frame, newline excluded.
type Encoder func(core.Entry) ([]byte, error)

// Config holds the settings shared by every transport variant.
type Config struct {
	Kind string
	Host string
	Port int
	Path string

	// AuthSecret enables the JWT handshake when non-empty.
	AuthSecret string
	SessionID  string
	AppName    string

	MaxQueueSize int
	BatchSize    int
	BatchTimeout time.Duration
	MaxRetries   int
	RetryDelay   time.Duration

	DialTimeout  time.Duration
	WriteTimeout time.Duration
	KeepAlive    time.Duration

	// ReadIdleTimeout bounds each wait for collector response data; an
	// expired wait is treated as an idle connection, not a failure.
	ReadIdleTimeout time.Duration

	ReconnectDelay    time.Duration
	MaxReconnectDelay time.Duration
	ReconnectBackoff  float64

	// EnableCompression gzips HTTP batch bodies. TCP and WebSocket
	// frames are sent uncompressed.
	EnableCompression bool

	Encode Encoder
}

func (c *Config) normalize() {
	if c.Host == "" {
		c.Host = "127.0.0.1"
	}
	if c.Path == "" {
		c.Path = "/tapwire"
	}
	if c.MaxQueueSize <= 0 {
		c.MaxQueueSize = 1000
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
	if c.BatchTimeout <= 0 {
		c.BatchTimeout = time.Second
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = time.Second
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = 10 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 30 * time.Second
	}
	if c.KeepAlive <= 0 {
		c.KeepAlive = 30 * time.Second
	}
	if c.ReadIdleTimeout <= 0 {
		c.ReadIdleTimeout = 5 * time.Second
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = time.Second
	}
	if c.MaxReconnectDelay <= 0 {
		c.MaxReconnectDelay = 30 * time.Second
	}
	if c.ReconnectBackoff < 1.0 {
		c.ReconnectBackoff = 1.5
	}
}

func (c *Config) addr() string {
	return net.JoinHostPort(c.Host, fmt.Sprintf("%d", c.Port))
}

// New creates and starts a transport of the configured kind.
func New(cfg Config, logger *log.Logger) (Transport, error) {
	cfg.normalize()
	if cfg.Encode == nil {
		return nil, fmt.Errorf("transport requires an entry encoder")
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("invalid collector port: %d", cfg.Port)
	}

	switch cfg.Kind {
	case "", KindTCP:
		return newTCP(cfg, logger), nil
	case KindWebSocket:
		return newWS(cfg, logger), nil
	case KindHTTP:
		return newHTTP(cfg, logger), nil
	default:
		return nil, fmt.Errorf("unknown transport kind: %q", cfg.Kind)
	}
}

// authToken mints the short-lived HS256 token sent on a fresh channel.
func authToken(cfg Config) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": cfg.AppName,
		"sid": cfg.SessionID,
		"iat": now.Unix(),
		"exp": now.Add(time.Minute).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(cfg.AuthSecret))
}

// stateVar is the shared atomic state holder. Destroyed is terminal.
type stateVar struct {
	v atomic.Int32
}

func (s *stateVar) get() State {
	return State(s.v.Load())
}

func (s *stateVar) set(next State) {
	for {
		cur := s.v.Load()
		if State(cur) == StateDestroyed {
			return
		}
		if s.v.CompareAndSwap(cur, int32(next)) {
			return
		}
	}
}

func (s *stateVar) destroy() {
	s.v.Store(int32(StateDestroyed))
}
