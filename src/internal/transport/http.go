// FILE: src/internal/transport/http.go
package transport

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"tapwire/src/internal/core"
	"tapwire/src/internal/version"

	"github.com/lixenwraith/log"
	"github.com/valyala/fasthttp"
)

// HTTPTransport posts frame batches to the collector endpoint. There
// is no persistent channel; state reflects the outcome of the most
// recent POST. Bodies are JSON arrays of frames, gzipped when
// compression is enabled.
type HTTPTransport struct {
	config Config
	queue  *entryQueue
	client *fasthttp.Client
	logger *log.Logger

	state stateVar
	done  chan struct{}
	kick  chan struct{}
	wg    sync.WaitGroup
	once  sync.Once

	// Statistics
	totalSent     atomic.Uint64
	totalBatches  atomic.Uint64
	failedBatches atomic.Uint64
	inflight      atomic.Int32
	lastError     atomic.Value // string
}

func newHTTP(cfg Config, logger *log.Logger) *HTTPTransport {
	h := &HTTPTransport{
		config: cfg,
		queue:  newEntryQueue(cfg.MaxQueueSize),
		logger: logger,
		done:   make(chan struct{}),
		kick:   make(chan struct{}, 1),
	}
	h.lastError.Store("")

	h.client = &fasthttp.Client{
		MaxConnsPerHost:     4,
		MaxIdleConnDuration: 10 * time.Second,
		ReadTimeout:         cfg.WriteTimeout,
		WriteTimeout:        cfg.WriteTimeout,
	}

	h.wg.Add(1)
	go h.processLoop()

	logger.Info("msg", "HTTP transport started",
		"component", "http_transport",
		"url", h.url(),
		"batch_size", cfg.BatchSize,
		"compression", cfg.EnableCompression)
	return h
}

func (h *HTTPTransport) url() string {
	return fmt.Sprintf("http://%s%s", h.config.addr(), h.config.Path)
}

// Send enqueues an entry for delivery. Never blocks.
func (h *HTTPTransport) Send(entry core.Entry) {
	if h.state.get() == StateDestroyed {
		return
	}
	h.queue.Push(entry)
}

// Flush blocks until the queue has drained or ctx expires.
func (h *HTTPTransport) Flush(ctx context.Context) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		if h.state.get() == StateDestroyed {
			return fmt.Errorf("transport destroyed")
		}
		if h.queue.Len() == 0 && h.inflight.Load() == 0 {
			return nil
		}
		select {
		case h.kick <- struct{}{}:
		default:
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Destroy stops the loop after a best-effort final drain. Idempotent.
func (h *HTTPTransport) Destroy() {
	h.once.Do(func() {
		close(h.done)
		h.wg.Wait()

		// Remaining entries get one last attempt before teardown.
		for {
			batch := h.queue.PopBatch(h.config.BatchSize)
			if len(batch) == 0 {
				break
			}
			h.sendBatch(batch)
		}
		h.state.destroy()

		h.logger.Info("msg", "HTTP transport destroyed",
			"component", "http_transport",
			"total_sent", h.totalSent.Load(),
			"total_batches", h.totalBatches.Load(),
			"failed_batches", h.failedBatches.Load())
	})
}

func (h *HTTPTransport) State() State {
	return h.state.get()
}

// GetStats returns transport statistics.
func (h *HTTPTransport) GetStats() map[string]any {
	lastErr, _ := h.lastError.Load().(string)
	return map[string]any{
		"type":           "http",
		"state":          h.State().String(),
		"url":            h.url(),
		"queued":         h.queue.Len(),
		"queue_dropped":  h.queue.Dropped(),
		"total_sent":     h.totalSent.Load(),
		"total_batches":  h.totalBatches.Load(),
		"failed_batches": h.failedBatches.Load(),
		"last_error":     lastErr,
	}
}

func (h *HTTPTransport) processLoop() {
	defer h.wg.Done()

	ticker := time.NewTicker(h.config.BatchTimeout)
	defer ticker.Stop()

	for {
		select {
		case <-h.done:
			return
		case <-h.queue.Wait():
			if h.queue.Len() >= h.config.BatchSize {
				h.drain()
			}
		case <-h.kick:
			h.drain()
		case <-ticker.C:
			h.drain()
		}
	}
}

func (h *HTTPTransport) drain() {
	for {
		h.inflight.Store(1)
		batch := h.queue.PopBatch(h.config.BatchSize)
		if len(batch) == 0 {
			h.inflight.Store(0)
			return
		}
		h.sendBatch(batch)
		h.inflight.Store(0)
	}
}

// sendBatch posts one batch, retrying up to MaxRetries, then drops it.
func (h *HTTPTransport) sendBatch(batch []core.Entry) {
	h.totalBatches.Add(1)

	body := h.encodeBatch(batch)
	if body == nil {
		return
	}

	contentEncoding := ""
	if h.config.EnableCompression {
		body = fasthttp.AppendGzipBytes(nil, body)
		contentEncoding = "gzip"
	}

	var token string
	if h.config.AuthSecret != "" {
		minted, err := authToken(h.config)
		if err != nil {
			h.logger.Warn("msg", "Failed to mint auth token",
				"component", "http_transport",
				"error", err)
		} else {
			token = minted
		}
	}

	var lastErr error
	for attempt := 0; attempt <= h.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-h.done:
				// Teardown in progress; one try is all it gets.
				return
			case <-time.After(h.config.RetryDelay):
			}
		}

		statusCode, err := h.post(body, contentEncoding, token)
		if err != nil {
			lastErr = err
			h.state.set(StateDisconnected)
			h.lastError.Store(err.Error())
			h.logger.Debug("msg", "Batch POST failed",
				"component", "http_transport",
				"attempt", attempt+1,
				"error", err)
			continue
		}

		if statusCode >= 200 && statusCode < 300 {
			h.state.set(StateConnected)
			h.lastError.Store("")
			h.totalSent.Add(uint64(len(batch)))
			return
		}

		lastErr = fmt.Errorf("collector returned status %d", statusCode)
		// Client errors will not improve with retries.
		if statusCode >= 400 && statusCode < 500 {
			break
		}
		h.logger.Debug("msg", "Collector returned error status",
			"component", "http_transport",
			"attempt", attempt+1,
			"status_code", statusCode)
	}

	h.failedBatches.Add(1)
	h.lastError.Store(lastErr.Error())
	h.logger.Warn("msg", "Dropped batch after retries",
		"component", "http_transport",
		"batch_size", len(batch),
		"retries", h.config.MaxRetries,
		"last_error", lastErr)
}

// encodeBatch renders the frames as one JSON array body.
func (h *HTTPTransport) encodeBatch(batch []core.Entry) []byte {
	body := []byte{'['}
	encoded := 0
	for _, entry := range batch {
		frame, err := h.config.Encode(entry)
		if err != nil {
			h.logger.Debug("msg", "Failed to encode entry",
				"component", "http_transport",
				"error", err)
			continue
		}
		if encoded > 0 {
			body = append(body, ',')
		}
		body = append(body, frame...)
		encoded++
	}
	if encoded == 0 {
		return nil
	}
	return append(body, ']')
}

func (h *HTTPTransport) post(body []byte, contentEncoding, token string) (int, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(h.url())
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	req.Header.Set("User-Agent", fmt.Sprintf("tapwire/%s", version.Short()))
	if contentEncoding != "" {
		req.Header.Set(fasthttp.HeaderContentEncoding, contentEncoding)
	}
	if token != "" {
		req.Header.Set(fasthttp.HeaderAuthorization, "Bearer "+token)
	}
	req.SetBody(body)

	if err := h.client.DoTimeout(req, resp, h.config.WriteTimeout); err != nil {
		return 0, err
	}
	return resp.StatusCode(), nil
}
