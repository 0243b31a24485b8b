// FILE: src/internal/transport/ws.go
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"tapwire/src/internal/core"

	"github.com/gorilla/websocket"
	"github.com/lixenwraith/log"
)

// WSTransport delivers frames over a WebSocket, one text message per
// entry. The reconnection and draining shape mirrors the TCP
// transport; only the channel mechanics differ.
type WSTransport struct {
	config Config
	queue  *entryQueue
	logger *log.Logger

	conn   *websocket.Conn
	connMu sync.RWMutex

	state stateVar
	done  chan struct{}
	kick  chan struct{}
	wg    sync.WaitGroup
	once  sync.Once

	// Statistics
	totalSent       atomic.Uint64
	totalBatches    atomic.Uint64
	failedBatches   atomic.Uint64
	totalReconnects atomic.Uint64
	inflight        atomic.Int32
	lastConnectErr  atomic.Value // string
}

func newWS(cfg Config, logger *log.Logger) *WSTransport {
	w := &WSTransport{
		config: cfg,
		queue:  newEntryQueue(cfg.MaxQueueSize),
		logger: logger,
		done:   make(chan struct{}),
		kick:   make(chan struct{}, 1),
	}
	w.lastConnectErr.Store("")

	w.wg.Add(2)
	go w.connectionManager()
	go w.processLoop()

	logger.Info("msg", "WebSocket transport started",
		"component", "ws_transport",
		"url", w.url())
	return w
}

func (w *WSTransport) url() string {
	u := url.URL{Scheme: "ws", Host: w.config.addr(), Path: w.config.Path}
	return u.String()
}

// Send enqueues an entry for delivery. Never blocks.
func (w *WSTransport) Send(entry core.Entry) {
	if w.state.get() == StateDestroyed {
		return
	}
	w.queue.Push(entry)
}

// Flush blocks until the queue has drained or ctx expires.
func (w *WSTransport) Flush(ctx context.Context) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		if w.state.get() == StateDestroyed {
			return fmt.Errorf("transport destroyed")
		}
		if w.queue.Len() == 0 && w.inflight.Load() == 0 {
			return nil
		}
		select {
		case w.kick <- struct{}{}:
		default:
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Destroy closes the socket and stops the goroutines. Idempotent.
func (w *WSTransport) Destroy() {
	w.once.Do(func() {
		w.state.destroy()
		close(w.done)

		w.connMu.Lock()
		if w.conn != nil {
			_ = w.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			_ = w.conn.Close()
			w.conn = nil
		}
		w.connMu.Unlock()
		w.wg.Wait()

		w.logger.Info("msg", "WebSocket transport destroyed",
			"component", "ws_transport",
			"total_sent", w.totalSent.Load(),
			"failed_batches", w.failedBatches.Load())
	})
}

func (w *WSTransport) State() State {
	return w.state.get()
}

// GetStats returns transport statistics.
func (w *WSTransport) GetStats() map[string]any {
	lastErr, _ := w.lastConnectErr.Load().(string)
	return map[string]any{
		"type":             "websocket",
		"state":            w.State().String(),
		"url":              w.url(),
		"queued":           w.queue.Len(),
		"queue_dropped":    w.queue.Dropped(),
		"total_sent":       w.totalSent.Load(),
		"total_batches":    w.totalBatches.Load(),
		"failed_batches":   w.failedBatches.Load(),
		"total_reconnects": w.totalReconnects.Load(),
		"last_error":       lastErr,
	}
}

func (w *WSTransport) connectionManager() {
	defer w.wg.Done()

	reconnectDelay := w.config.ReconnectDelay
	connectedBefore := false

	for {
		select {
		case <-w.done:
			return
		default:
		}

		w.state.set(StateConnecting)
		conn, err := w.connect()
		if err != nil {
			w.state.set(StateDisconnected)
			w.lastConnectErr.Store(err.Error())
			w.logger.Warn("msg", "Failed to connect to collector",
				"component", "ws_transport",
				"url", w.url(),
				"error", err,
				"retry_delay", reconnectDelay)

			select {
			case <-w.done:
				return
			case <-time.After(reconnectDelay):
			}

			reconnectDelay = time.Duration(float64(reconnectDelay) * w.config.ReconnectBackoff)
			if reconnectDelay > w.config.MaxReconnectDelay {
				reconnectDelay = w.config.MaxReconnectDelay
			}
			continue
		}

		w.lastConnectErr.Store("")
		reconnectDelay = w.config.ReconnectDelay
		// The first connect is not a reconnect.
		if connectedBefore {
			w.totalReconnects.Add(1)
		}
		connectedBefore = true

		w.connMu.Lock()
		w.conn = conn
		w.connMu.Unlock()
		w.state.set(StateConnected)

		w.logger.Info("msg", "Connected to collector",
			"component", "ws_transport",
			"url", w.url())

		select {
		case w.kick <- struct{}{}:
		default:
		}

		w.readResponses(conn)

		w.connMu.Lock()
		w.conn = nil
		w.connMu.Unlock()
		w.state.set(StateDisconnected)
		_ = conn.Close()

		w.logger.Warn("msg", "Lost connection to collector",
			"component", "ws_transport",
			"url", w.url())
	}
}

func (w *WSTransport) connect() (*websocket.Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: w.config.DialTimeout,
	}
	conn, _, err := dialer.Dial(w.url(), nil)
	if err != nil {
		return nil, err
	}

	if w.config.AuthSecret != "" {
		token, err := authToken(w.config)
		if err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("failed to mint auth token: %w", err)
		}
		_ = conn.SetWriteDeadline(time.Now().Add(w.config.WriteTimeout))
		if err := conn.WriteJSON(core.AuthFrame{Type: core.WireTypeAuth, Token: token}); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("auth write failed: %w", err)
		}
	}

	return conn, nil
}

// readResponses blocks reading collector messages until the socket
// dies; Destroy closing the socket unblocks it. Responses are
// advisory; malformed ones are discarded.
func (w *WSTransport) readResponses(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var resp core.CollectorResponse
		if err := json.Unmarshal(data, &resp); err != nil {
			continue
		}
		if resp.Status != "" {
			w.logger.Debug("msg", "Collector response",
				"component", "ws_transport",
				"status", resp.Status,
				"message", resp.Message)
		}
	}
}

func (w *WSTransport) processLoop() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.config.BatchTimeout)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-w.queue.Wait():
			if w.queue.Len() >= w.config.BatchSize {
				w.drain()
			}
		case <-w.kick:
			w.drain()
		case <-ticker.C:
			w.drain()
		}
	}
}

func (w *WSTransport) drain() {
	for {
		if w.state.get() != StateConnected {
			return
		}
		w.inflight.Store(1)
		batch := w.queue.PopBatch(w.config.BatchSize)
		if len(batch) == 0 {
			w.inflight.Store(0)
			return
		}
		w.sendBatch(batch)
		w.inflight.Store(0)
	}
}

// sendBatch writes each frame as its own text message, retrying the
// whole batch up to MaxRetries before dropping it.
func (w *WSTransport) sendBatch(batch []core.Entry) {
	w.totalBatches.Add(1)

	frames := make([][]byte, 0, len(batch))
	for _, entry := range batch {
		frame, err := w.config.Encode(entry)
		if err != nil {
			w.logger.Debug("msg", "Failed to encode entry",
				"component", "ws_transport",
				"error", err)
			continue
		}
		frames = append(frames, frame)
	}
	if len(frames) == 0 {
		return
	}

	var lastErr error
	for attempt := 0; attempt <= w.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-w.done:
				return
			case <-time.After(w.config.RetryDelay):
			}
		}

		if err := w.writeFrames(frames); err != nil {
			lastErr = err
			w.logger.Debug("msg", "Batch write failed",
				"component", "ws_transport",
				"attempt", attempt+1,
				"error", err)
			continue
		}

		w.totalSent.Add(uint64(len(frames)))
		return
	}

	w.failedBatches.Add(1)
	w.logger.Warn("msg", "Dropped batch after retries",
		"component", "ws_transport",
		"batch_size", len(batch),
		"retries", w.config.MaxRetries,
		"last_error", lastErr)
}

func (w *WSTransport) writeFrames(frames [][]byte) error {
	w.connMu.RLock()
	conn := w.conn
	w.connMu.RUnlock()

	if conn == nil {
		return fmt.Errorf("not connected")
	}
	for _, frame := range frames {
		if err := conn.SetWriteDeadline(time.Now().Add(w.config.WriteTimeout)); err != nil {
			return err
		}
		if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			_ = conn.Close()
			return fmt.Errorf("write failed: %w", err)
		}
	}
	return nil
}
