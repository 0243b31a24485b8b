// FILE: src/internal/intercept/network.go
package intercept

import (
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"tapwire/src/internal/core"
	"tapwire/src/internal/filter"
	"tapwire/src/internal/flow"
	"tapwire/src/internal/format"

	"github.com/lixenwraith/log"
)

// NetworkConfig controls network interception behavior.
type NetworkConfig struct {
	// CaptureBodies enables request body capture (replayable bodies
	// only; live streams are never consumed).
	CaptureBodies bool
}

// NetworkInterceptor wraps the process default HTTP transport,
// emitting a request entry before each outbound call and a response or
// error entry after it settles. The wrapped call's semantics — context
// cancellation included — pass through untouched.
type NetworkInterceptor struct {
	mu       sync.Mutex
	active   bool
	original http.RoundTripper

	config  NetworkConfig
	urls    *filter.Set
	limiter *flow.Limiter
	builder *format.Builder
	sink    func(core.Entry)
	report  func(format string, args ...any)
	logger  *log.Logger

	// Statistics
	totalRequests atomic.Uint64
	totalFailed   atomic.Uint64
	totalSkipped  atomic.Uint64
	failureOnce   sync.Once
}

// NewNetwork creates a network interceptor. The urls filter set
// applies its include/exclude patterns to the full request URL.
func NewNetwork(cfg NetworkConfig, urls *filter.Set, limiter *flow.Limiter, builder *format.Builder,
	sink func(core.Entry), report func(string, ...any), logger *log.Logger) *NetworkInterceptor {
	return &NetworkInterceptor{
		config:  cfg,
		urls:    urls,
		limiter: limiter,
		builder: builder,
		sink:    sink,
		report:  report,
		logger:  logger,
	}
}

// Start swaps http.DefaultTransport for the capturing wrapper.
// Idempotent: a second Start while active is a no-op, so the transport
// is never double-patched.
func (n *NetworkInterceptor) Start() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.active {
		return
	}
	n.original = http.DefaultTransport
	http.DefaultTransport = &capturingTransport{interceptor: n, next: n.original}
	n.active = true

	n.logger.Info("msg", "Network interceptor installed",
		"component", "network_interceptor",
		"capture_bodies", n.config.CaptureBodies)
}

// Stop restores the exact transport reference stored at Start.
// Idempotent.
func (n *NetworkInterceptor) Stop() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.active {
		return
	}
	http.DefaultTransport = n.original
	n.active = false

	n.logger.Info("msg", "Network interceptor removed",
		"component", "network_interceptor",
		"total_requests", n.totalRequests.Load())
}

// Active reports whether the wrapper is currently installed.
func (n *NetworkInterceptor) Active() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.active
}

// Wrap chains the interceptor onto an arbitrary transport for clients
// that do not use http.DefaultTransport. The previous transport keeps
// running underneath; nil wraps http.DefaultTransport at call time.
func (n *NetworkInterceptor) Wrap(next http.RoundTripper) http.RoundTripper {
	return &capturingTransport{interceptor: n, next: next}
}

// GetStats returns interceptor statistics.
func (n *NetworkInterceptor) GetStats() map[string]any {
	return map[string]any{
		"type":           "network",
		"active":         n.Active(),
		"total_requests": n.totalRequests.Load(),
		"total_skipped":  n.totalSkipped.Load(),
		"total_failed":   n.totalFailed.Load(),
	}
}

// capturingTransport is the RoundTripper installed over the original.
type capturingTransport struct {
	interceptor *NetworkInterceptor
	next        http.RoundTripper
}

func (t *capturingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	n := t.interceptor
	next := t.next
	if next == nil {
		next = http.DefaultTransport
	}

	url := req.URL.String()
	if !n.urls.AllowText(url) || !n.limiter.Allow() {
		n.totalSkipped.Add(1)
		return next.RoundTrip(req)
	}

	requestID := core.NewEntryID()
	n.emitRequest(req, requestID, url)

	start := time.Now()
	resp, err := next.RoundTrip(req)
	elapsed := float64(time.Since(start).Microseconds()) / 1000.0

	if err != nil {
		n.emitError(req, requestID, url, elapsed, err)
		return resp, err
	}
	n.emitResponse(req, resp, requestID, url, elapsed)
	return resp, err
}

// emitRequest builds the pre-call entry. All capture work is isolated:
// a panic here is recovered and the host request proceeds untouched.
func (n *NetworkInterceptor) emitRequest(req *http.Request, requestID, url string) {
	defer n.recoverFailure()

	n.totalRequests.Add(1)
	entry := n.builder.NetworkRequest(format.RequestInfo{
		RequestID: requestID,
		Method:    req.Method,
		URL:       url,
		Headers:   req.Header,
		Body:      n.replayableBody(req),
	})
	n.sink(entry)
}

func (n *NetworkInterceptor) emitResponse(req *http.Request, resp *http.Response, requestID, url string, elapsed float64) {
	defer n.recoverFailure()

	entry := n.builder.NetworkResponse(format.ResponseInfo{
		RequestID:      requestID,
		Method:         req.Method,
		URL:            url,
		Status:         resp.StatusCode,
		Headers:        resp.Header,
		DurationMillis: elapsed,
	})
	n.sink(entry)
}

func (n *NetworkInterceptor) emitError(req *http.Request, requestID, url string, elapsed float64, cause error) {
	defer n.recoverFailure()

	entry := n.builder.NetworkError(format.ResponseInfo{
		RequestID:      requestID,
		Method:         req.Method,
		URL:            url,
		DurationMillis: elapsed,
	}, cause)
	n.sink(entry)
}

// replayableBody reads a copy of the request body via GetBody, which
// the http package provides exactly for replay. The live body stream
// is never touched.
func (n *NetworkInterceptor) replayableBody(req *http.Request) any {
	if !n.config.CaptureBodies || req.GetBody == nil {
		return nil
	}
	rc, err := req.GetBody()
	if err != nil {
		return nil
	}
	defer rc.Close()

	limit := int64(n.builder.MaxBodySize()) + 1
	data, err := io.ReadAll(io.LimitReader(rc, limit))
	if err != nil {
		return nil
	}
	return data
}

func (n *NetworkInterceptor) recoverFailure() {
	if r := recover(); r != nil {
		n.totalFailed.Add(1)
		n.failureOnce.Do(func() {
			n.report("network capture failed: %v", r)
		})
	}
}
