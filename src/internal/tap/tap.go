// FILE: src/internal/tap/tap.go
// The capture facade: one Tap owns the session, the interceptors, the
// entry pipeline and the collector transport. Host applications talk
// to this package and nothing below it.
package tap

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"tapwire/src/internal/config"
	"tapwire/src/internal/core"
	"tapwire/src/internal/filter"
	"tapwire/src/internal/flow"
	"tapwire/src/internal/format"
	"tapwire/src/internal/intercept"
	"tapwire/src/internal/sanitize"
	"tapwire/src/internal/session"
	"tapwire/src/internal/transport"

	"github.com/lixenwraith/log"
)

// Listener receives every captured entry synchronously, in
// registration order, before the entry is handed to the transport.
type Listener func(core.Entry)

// Tap is the capture pipeline for one application process.
type Tap struct {
	config  *config.Config
	logger  *log.Logger
	session *session.Session

	sanitizer *sanitize.Sanitizer
	builder   *format.Builder
	bindings  intercept.NativeBindings

	console *intercept.ConsoleInterceptor
	network *intercept.NetworkInterceptor
	errors  *intercept.ErrorInterceptor

	transport   transport.Transport
	transportMu sync.Mutex

	listenerMu sync.Mutex
	listeners  []*listenerSlot

	mu      sync.Mutex
	started bool

	destroyed atomic.Bool

	// Statistics
	totalEntries   atomic.Uint64
	listenerPanics atomic.Uint64
	panicOnce      sync.Once
	report         func(format string, args ...any)
}

type listenerSlot struct {
	fn Listener
}

// New builds a tap from validated configuration. Nothing is patched
// and nothing connects until Start.
func New(cfg *config.Config, logger *log.Logger) (*Tap, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if !config.ValidAppName(cfg.Application.Name) {
		return nil, fmt.Errorf("invalid application name: %q", cfg.Application.Name)
	}

	sess := session.New(cfg.Application.Name)
	app := core.Application{
		Name:        cfg.Application.Name,
		SessionID:   sess.ID,
		Environment: cfg.Application.Environment,
		Developer:   cfg.Application.Developer,
		Branch:      cfg.Application.Branch,
	}

	sanitizer := sanitize.New(sanitize.Config{})
	builder := format.NewBuilder(app, sanitizer, cfg.Capture.MaxLogSize, logger)
	bindings := intercept.CaptureBindings()

	t := &Tap{
		config:    cfg,
		logger:    logger,
		session:   sess,
		sanitizer: sanitizer,
		builder:   builder,
		bindings:  bindings,
		report:    bindings.Reporter(),
	}

	limiter := flow.New(cfg.Capture.RateLimit, cfg.Capture.RateLimitBurst, logger)
	logFilters := filter.NewSet(filter.Config{
		Levels:          cfg.Capture.LogLevels,
		IncludePatterns: cfg.Capture.IncludePatterns,
		ExcludePatterns: cfg.Capture.ExcludePatterns,
	}, logger)
	urlFilters := filter.NewSet(filter.Config{
		IncludePatterns: cfg.Capture.IncludeURLs,
		ExcludePatterns: cfg.Capture.ExcludeURLs,
	}, logger)

	t.console = intercept.NewConsole(
		intercept.ConsoleConfig{Suppress: cfg.Capture.SuppressConsoleOutput},
		logFilters, limiter, builder, t.dispatch, t.report, logger)
	t.network = intercept.NewNetwork(
		intercept.NetworkConfig{CaptureBodies: cfg.Capture.CaptureRequestBodies},
		urlFilters, limiter, builder, t.dispatch, t.report, logger)
	t.errors = intercept.NewError(logFilters, limiter, builder, t.dispatch, t.report, logger)

	logger.Info("msg", "Tap created",
		"component", "tap",
		"app", app.Name,
		"session_id", sess.ID,
		"environment", app.Environment)
	return t, nil
}

// Start installs the enabled interceptors and brings up the collector
// transport. Idempotent.
func (t *Tap) Start() error {
	if t.destroyed.Load() {
		return fmt.Errorf("tap destroyed")
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.started {
		return nil
	}

	if t.config.Capture.EnableRemoteLogging {
		if err := t.startTransport(); err != nil {
			return err
		}
	}

	if t.config.Capture.EnableLogCapture {
		t.console.Start()
	}
	if t.config.Capture.EnableNetworkCapture {
		t.network.Start()
	}
	if t.config.Capture.EnableErrorCapture {
		t.errors.Start()
	}

	t.session.SetCapturing(true)
	t.started = true

	t.logger.Info("msg", "Capture started",
		"component", "tap",
		"session_id", t.session.ID,
		"log_capture", t.config.Capture.EnableLogCapture,
		"error_capture", t.config.Capture.EnableErrorCapture,
		"network_capture", t.config.Capture.EnableNetworkCapture,
		"remote", t.config.Capture.EnableRemoteLogging)
	return nil
}

// Stop uninstalls the interceptors, restoring every patched global to
// the reference captured at install time. The transport stays up so
// already-queued entries keep draining. Idempotent.
func (t *Tap) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.started {
		return
	}

	t.console.Stop()
	t.network.Stop()
	t.errors.Stop()
	t.session.SetCapturing(false)
	t.started = false

	t.logger.Info("msg", "Capture stopped",
		"component", "tap",
		"session_id", t.session.ID,
		"total_entries", t.totalEntries.Load())
}

// Destroy stops capture and tears down the transport. Terminal and
// idempotent; queued undelivered entries are discarded.
func (t *Tap) Destroy() {
	if !t.destroyed.CompareAndSwap(false, true) {
		return
	}
	t.Stop()

	t.transportMu.Lock()
	tr := t.transport
	t.transport = nil
	t.transportMu.Unlock()
	if tr != nil {
		tr.Destroy()
	}

	t.logger.Info("msg", "Tap destroyed",
		"component", "tap",
		"session_id", t.session.ID)
}

// Flush blocks until every queued entry has been handed to the
// collector, or ctx expires.
func (t *Tap) Flush(ctx context.Context) error {
	t.transportMu.Lock()
	tr := t.transport
	t.transportMu.Unlock()
	if tr == nil {
		return nil
	}
	return tr.Flush(ctx)
}

// Session returns the capture session identity.
func (t *Tap) Session() *session.Session {
	return t.session
}

// AddListener registers a synchronous entry listener and returns its
// removal function. A panicking listener is contained and counted; the
// entry still reaches later listeners and the transport.
func (t *Tap) AddListener(fn Listener) func() {
	slot := &listenerSlot{fn: fn}
	t.listenerMu.Lock()
	t.listeners = append(t.listeners, slot)
	t.listenerMu.Unlock()

	return func() {
		t.listenerMu.Lock()
		defer t.listenerMu.Unlock()
		for i, s := range t.listeners {
			if s == slot {
				t.listeners = append(t.listeners[:i], t.listeners[i+1:]...)
				return
			}
		}
	}
}

// Explicit logging surface. These run through the same filter,
// classification and delivery path as intercepted output.

func (t *Tap) Log(args ...any) { t.console.Capture(core.LevelLog, args...) }

func (t *Tap) Info(args ...any) { t.console.Capture(core.LevelInfo, args...) }

func (t *Tap) Warn(args ...any) { t.console.Capture(core.LevelWarn, args...) }

func (t *Tap) Error(args ...any) { t.console.Capture(core.LevelError, args...) }

func (t *Tap) Debug(args ...any) { t.console.Capture(core.LevelDebug, args...) }

// Recover captures and swallows a panic; use as `defer tap.Recover()`.
func (t *Tap) Recover() {
	if v := recover(); v != nil {
		t.errors.CapturePanic(v)
	}
}

// Go runs fn on a new goroutine with panic capture.
func (t *Tap) Go(fn func()) { t.errors.Go(fn) }

// CaptureError reports a handled error worth surfacing.
func (t *Tap) CaptureError(err error) { t.errors.CaptureError(err) }

// GetStats aggregates statistics from every component.
func (t *Tap) GetStats() map[string]any {
	t.transportMu.Lock()
	tr := t.transport
	t.transportMu.Unlock()

	stats := map[string]any{
		"session":         t.session.GetStats(),
		"console":         t.console.GetStats(),
		"network":         t.network.GetStats(),
		"errors":          t.errors.GetStats(),
		"total_entries":   t.totalEntries.Load(),
		"listener_panics": t.listenerPanics.Load(),
	}
	if tr != nil {
		stats["transport"] = tr.GetStats()
	}
	return stats
}

func (t *Tap) startTransport() error {
	t.transportMu.Lock()
	defer t.transportMu.Unlock()
	if t.transport != nil {
		return nil
	}

	tr, err := transport.New(transport.Config{
		Kind:              t.config.Server.Transport,
		Host:              t.config.Server.Host,
		Port:              t.config.CollectorPort(),
		Path:              t.config.Server.Path,
		AuthSecret:        t.config.Server.AuthSecret,
		SessionID:         t.session.ID,
		AppName:           t.config.Application.Name,
		MaxQueueSize:      t.config.Delivery.MaxQueueSize,
		BatchSize:         t.config.Delivery.BatchSize,
		BatchTimeout:      t.config.BatchTimeout(),
		MaxRetries:        t.config.Delivery.MaxRetries,
		RetryDelay:        t.config.RetryDelay(),
		EnableCompression: t.config.Delivery.EnableCompression,
		Encode:            format.NewWireEncoder(t.sanitizer),
	}, t.logger)
	if err != nil {
		return fmt.Errorf("failed to start transport: %w", err)
	}
	t.transport = tr
	return nil
}

// dispatch fans one entry out to the listeners, then the transport.
func (t *Tap) dispatch(entry core.Entry) {
	t.totalEntries.Add(1)

	t.listenerMu.Lock()
	slots := append([]*listenerSlot(nil), t.listeners...)
	t.listenerMu.Unlock()

	for _, slot := range slots {
		t.invokeListener(slot.fn, entry)
	}

	t.transportMu.Lock()
	tr := t.transport
	t.transportMu.Unlock()
	if tr != nil {
		tr.Send(entry)
	}
}

func (t *Tap) invokeListener(fn Listener, entry core.Entry) {
	defer func() {
		if r := recover(); r != nil {
			t.listenerPanics.Add(1)
			t.panicOnce.Do(func() {
				t.report("entry listener panicked: %v", r)
			})
		}
	}()
	fn(entry)
}
