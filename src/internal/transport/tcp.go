// FILE: src/internal/transport/tcp.go
package transport

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"tapwire/src/internal/core"

	"github.com/lixenwraith/log"
)

// TCPTransport delivers newline-delimited JSON frames over a
// persistent connection. A connection manager goroutine dials,
// re-dials with exponential backoff, and watches for collector
// responses; a separate process loop drains the queue in order.
type TCPTransport struct {
	config Config
	queue  *entryQueue
	logger *log.Logger

	conn   net.Conn
	connMu sync.RWMutex

	state stateVar
	done  chan struct{}
	kick  chan struct{}
	wg    sync.WaitGroup
	once  sync.Once

	connectTime time.Time

	// Statistics
	totalSent       atomic.Uint64
	totalBatches    atomic.Uint64
	failedBatches   atomic.Uint64
	totalReconnects atomic.Uint64
	totalResponses  atomic.Uint64
	inflight        atomic.Int32
	lastConnectErr  atomic.Value // string
}

func newTCP(cfg Config, logger *log.Logger) *TCPTransport {
	t := &TCPTransport{
		config: cfg,
		queue:  newEntryQueue(cfg.MaxQueueSize),
		logger: logger,
		done:   make(chan struct{}),
		kick:   make(chan struct{}, 1),
	}
	t.lastConnectErr.Store("")

	t.wg.Add(2)
	go t.connectionManager()
	go t.processLoop()

	logger.Info("msg", "TCP transport started",
		"component", "tcp_transport",
		"address", cfg.addr(),
		"batch_size", cfg.BatchSize)
	return t
}

// Send enqueues an entry for delivery. Never blocks; when the queue is
// full the oldest entry is dropped.
func (t *TCPTransport) Send(entry core.Entry) {
	if t.state.get() == StateDestroyed {
		return
	}
	t.queue.Push(entry)
}

// Flush blocks until everything enqueued so far has been written, or
// ctx expires. A flush pushes delivery even below the batch threshold.
func (t *TCPTransport) Flush(ctx context.Context) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		if t.state.get() == StateDestroyed {
			return fmt.Errorf("transport destroyed")
		}
		if t.queue.Len() == 0 && t.inflight.Load() == 0 {
			return nil
		}
		select {
		case t.kick <- struct{}{}:
		default:
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Destroy stops the goroutines and closes the connection. Idempotent;
// queued entries are discarded.
func (t *TCPTransport) Destroy() {
	t.once.Do(func() {
		t.state.destroy()
		close(t.done)

		// Closing the connection unblocks the response reader.
		t.connMu.Lock()
		if t.conn != nil {
			_ = t.conn.Close()
			t.conn = nil
		}
		t.connMu.Unlock()
		t.wg.Wait()

		t.logger.Info("msg", "TCP transport destroyed",
			"component", "tcp_transport",
			"total_sent", t.totalSent.Load(),
			"failed_batches", t.failedBatches.Load(),
			"total_reconnects", t.totalReconnects.Load())
	})
}

func (t *TCPTransport) State() State {
	return t.state.get()
}

// GetStats returns transport statistics.
func (t *TCPTransport) GetStats() map[string]any {
	lastErr, _ := t.lastConnectErr.Load().(string)
	return map[string]any{
		"type":             "tcp",
		"state":            t.State().String(),
		"address":          t.config.addr(),
		"queued":           t.queue.Len(),
		"queue_dropped":    t.queue.Dropped(),
		"total_sent":       t.totalSent.Load(),
		"total_batches":    t.totalBatches.Load(),
		"failed_batches":   t.failedBatches.Load(),
		"total_reconnects": t.totalReconnects.Load(),
		"responses":        t.totalResponses.Load(),
		"last_error":       lastErr,
	}
}

func (t *TCPTransport) connectionManager() {
	defer t.wg.Done()

	reconnectDelay := t.config.ReconnectDelay
	connectedBefore := false

	for {
		select {
		case <-t.done:
			return
		default:
		}

		t.state.set(StateConnecting)
		conn, err := t.connect()
		if err != nil {
			t.state.set(StateDisconnected)
			t.lastConnectErr.Store(err.Error())
			t.logger.Warn("msg", "Failed to connect to collector",
				"component", "tcp_transport",
				"address", t.config.addr(),
				"error", err,
				"retry_delay", reconnectDelay)

			select {
			case <-t.done:
				return
			case <-time.After(reconnectDelay):
			}

			// Exponential backoff
			reconnectDelay = time.Duration(float64(reconnectDelay) * t.config.ReconnectBackoff)
			if reconnectDelay > t.config.MaxReconnectDelay {
				reconnectDelay = t.config.MaxReconnectDelay
			}
			continue
		}

		t.lastConnectErr.Store("")
		reconnectDelay = t.config.ReconnectDelay
		t.connectTime = time.Now()
		// The first connect is not a reconnect.
		if connectedBefore {
			t.totalReconnects.Add(1)
		}
		connectedBefore = true

		t.connMu.Lock()
		t.conn = conn
		t.connMu.Unlock()
		t.state.set(StateConnected)

		t.logger.Info("msg", "Connected to collector",
			"component", "tcp_transport",
			"address", t.config.addr(),
			"local_addr", conn.LocalAddr())

		// Wake the process loop so queued entries drain promptly.
		select {
		case t.kick <- struct{}{}:
		default:
		}

		t.readResponses(conn)

		t.connMu.Lock()
		t.conn = nil
		t.connMu.Unlock()
		t.state.set(StateDisconnected)
		_ = conn.Close()

		t.logger.Warn("msg", "Lost connection to collector",
			"component", "tcp_transport",
			"address", t.config.addr(),
			"uptime", time.Since(t.connectTime))
	}
}

func (t *TCPTransport) connect() (net.Conn, error) {
	dialer := &net.Dialer{
		Timeout:   t.config.DialTimeout,
		KeepAlive: t.config.KeepAlive,
	}

	conn, err := dialer.Dial("tcp", t.config.addr())
	if err != nil {
		return nil, err
	}

	if tcpConn, ok := conn.(*net.TCPConn); ok {
		tcpConn.SetKeepAlive(true)
		tcpConn.SetKeepAlivePeriod(t.config.KeepAlive)
	}

	if err := t.authenticate(conn); err != nil {
		_ = conn.Close()
		return nil, err
	}

	return conn, nil
}

// authenticate sends the auth frame as the first line on the fresh
// connection. No-op without a configured secret.
func (t *TCPTransport) authenticate(conn net.Conn) error {
	if t.config.AuthSecret == "" {
		return nil
	}
	token, err := authToken(t.config)
	if err != nil {
		return fmt.Errorf("failed to mint auth token: %w", err)
	}
	frame, err := json.Marshal(core.AuthFrame{Type: core.WireTypeAuth, Token: token})
	if err != nil {
		return fmt.Errorf("failed to marshal auth frame: %w", err)
	}
	frame = append(frame, '\n')

	if err := conn.SetWriteDeadline(time.Now().Add(t.config.WriteTimeout)); err != nil {
		return err
	}
	if _, err := conn.Write(frame); err != nil {
		return fmt.Errorf("auth write failed: %w", err)
	}
	return nil
}

// readResponses blocks on the connection reading collector lines until
// the connection dies. Anything the collector sends is parsed
// defensively and only logged; malformed lines are discarded. A line
// split across idle timeouts is carried over, not thrown away.
func (t *TCPTransport) readResponses(conn net.Conn) {
	reader := bufio.NewReaderSize(conn, 4096)
	var pending []byte

	for {
		select {
		case <-t.done:
			return
		default:
		}

		if err := conn.SetReadDeadline(time.Now().Add(t.config.ReadIdleTimeout)); err != nil {
			return
		}
		chunk, err := reader.ReadBytes('\n')
		pending = append(pending, chunk...)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				// Idle connection, still alive; keep the partial line.
				if len(pending) > 64*1024 {
					pending = pending[:0]
				}
				continue
			}
			return
		}

		line := bytes.TrimRight(pending, "\n")
		pending = pending[:0]

		var resp core.CollectorResponse
		if err := json.Unmarshal(line, &resp); err != nil {
			continue
		}
		if resp.Status != "" {
			t.totalResponses.Add(1)
			t.logger.Debug("msg", "Collector response",
				"component", "tcp_transport",
				"status", resp.Status,
				"message", resp.Message)
		}
	}
}

func (t *TCPTransport) processLoop() {
	defer t.wg.Done()

	ticker := time.NewTicker(t.config.BatchTimeout)
	defer ticker.Stop()

	for {
		select {
		case <-t.done:
			return
		case <-t.queue.Wait():
			if t.queue.Len() >= t.config.BatchSize {
				t.drain()
			}
		case <-t.kick:
			t.drain()
		case <-ticker.C:
			t.drain()
		}
	}
}

// drain ships queued entries batch by batch while the connection
// holds. Entries stay queued across disconnects.
func (t *TCPTransport) drain() {
	for {
		if t.state.get() != StateConnected {
			return
		}
		t.inflight.Store(1)
		batch := t.queue.PopBatch(t.config.BatchSize)
		if len(batch) == 0 {
			t.inflight.Store(0)
			return
		}
		t.sendBatch(batch)
		t.inflight.Store(0)
	}
}

// sendBatch writes one batch as newline-delimited frames, retrying up
// to MaxRetries. A batch that exhausts its retries is dropped and
// counted; delivery moves on.
func (t *TCPTransport) sendBatch(batch []core.Entry) {
	t.totalBatches.Add(1)

	var buf bytes.Buffer
	encoded := 0
	for _, entry := range batch {
		frame, err := t.config.Encode(entry)
		if err != nil {
			t.logger.Debug("msg", "Failed to encode entry",
				"component", "tcp_transport",
				"error", err)
			continue
		}
		buf.Write(frame)
		buf.WriteByte('\n')
		encoded++
	}
	if encoded == 0 {
		return
	}

	var lastErr error
	for attempt := 0; attempt <= t.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-t.done:
				return
			case <-time.After(t.config.RetryDelay):
			}
		}

		if err := t.write(buf.Bytes()); err != nil {
			lastErr = err
			t.logger.Debug("msg", "Batch write failed",
				"component", "tcp_transport",
				"attempt", attempt+1,
				"error", err)
			continue
		}

		t.totalSent.Add(uint64(encoded))
		return
	}

	t.failedBatches.Add(1)
	t.logger.Warn("msg", "Dropped batch after retries",
		"component", "tcp_transport",
		"batch_size", len(batch),
		"retries", t.config.MaxRetries,
		"last_error", lastErr)
}

func (t *TCPTransport) write(data []byte) error {
	t.connMu.RLock()
	conn := t.conn
	t.connMu.RUnlock()

	if conn == nil {
		return fmt.Errorf("not connected")
	}
	if err := conn.SetWriteDeadline(time.Now().Add(t.config.WriteTimeout)); err != nil {
		return fmt.Errorf("failed to set write deadline: %w", err)
	}
	n, err := conn.Write(data)
	if err != nil {
		// Dead connection; the manager will re-dial.
		_ = conn.Close()
		return fmt.Errorf("write failed: %w", err)
	}
	if n != len(data) {
		return fmt.Errorf("partial write: %d/%d bytes", n, len(data))
	}
	return nil
}
