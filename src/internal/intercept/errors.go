// FILE: src/internal/intercept/errors.go
package intercept

import (
	"runtime/debug"
	"sync"
	"sync/atomic"

	"tapwire/src/internal/core"
	"tapwire/src/internal/filter"
	"tapwire/src/internal/flow"
	"tapwire/src/internal/format"

	"github.com/lixenwraith/log"
)

// PanicHook receives a recovered panic value and the stack captured at
// recovery time.
type PanicHook func(v any, stack []byte)

// The process-wide panic hook slot. Embedding applications may install
// their own hook; the error interceptor chains onto whatever is
// present rather than replacing it.
var (
	hookMu    sync.RWMutex
	panicHook PanicHook
)

// SetPanicHook installs h as the process panic hook, replacing any
// previous hook. Pass nil to clear.
func SetPanicHook(h PanicHook) {
	hookMu.Lock()
	panicHook = h
	hookMu.Unlock()
}

// CurrentPanicHook returns the installed hook, or nil.
func CurrentPanicHook() PanicHook {
	hookMu.RLock()
	defer hookMu.RUnlock()
	return panicHook
}

func firePanicHook(v any, stack []byte) {
	if h := CurrentPanicHook(); h != nil {
		h(v, stack)
	}
}

// ErrorInterceptor captures panics recovered through Recover/Go and
// errors reported through CaptureError. Start chains onto any
// pre-existing panic hook: the previous hook runs first, with its
// behavior preserved, then capture happens.
type ErrorInterceptor struct {
	mu       sync.Mutex
	active   bool
	previous PanicHook

	filters *filter.Set
	limiter *flow.Limiter
	builder *format.Builder
	sink    func(core.Entry)
	report  func(format string, args ...any)
	guard   reentryGuard
	logger  *log.Logger

	// Statistics
	totalPanics   atomic.Uint64
	totalErrors   atomic.Uint64
	totalFiltered atomic.Uint64
	totalFailed   atomic.Uint64
	failureOnce   sync.Once
}

// NewError creates an error interceptor.
func NewError(filters *filter.Set, limiter *flow.Limiter, builder *format.Builder,
	sink func(core.Entry), report func(string, ...any), logger *log.Logger) *ErrorInterceptor {
	return &ErrorInterceptor{
		filters: filters,
		limiter: limiter,
		builder: builder,
		sink:    sink,
		report:  report,
		logger:  logger,
	}
}

// Start chains the interceptor onto the process panic hook.
// Idempotent.
func (e *ErrorInterceptor) Start() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.active {
		return
	}
	e.previous = CurrentPanicHook()
	previous := e.previous
	SetPanicHook(func(v any, stack []byte) {
		if previous != nil {
			previous(v, stack)
		}
		e.capturePanic(v, stack)
	})
	e.active = true

	e.logger.Info("msg", "Error interceptor installed",
		"component", "error_interceptor",
		"chained", e.previous != nil)
}

// Stop restores the exact hook reference stored at Start. Idempotent.
func (e *ErrorInterceptor) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.active {
		return
	}
	SetPanicHook(e.previous)
	e.active = false

	e.logger.Info("msg", "Error interceptor removed",
		"component", "error_interceptor",
		"total_panics", e.totalPanics.Load(),
		"total_errors", e.totalErrors.Load())
}

// Active reports whether the interceptor is chained in.
func (e *ErrorInterceptor) Active() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active
}

// Recover is the uncaught-panic entry point; use as `defer ei.Recover()`
// at a goroutine top. The panic is captured through the hook chain and
// swallowed.
func (e *ErrorInterceptor) Recover() {
	if v := recover(); v != nil {
		firePanicHook(v, debug.Stack())
	}
}

// CapturePanic feeds an already-recovered panic value through the
// hook chain, for callers that run their own recover.
func (e *ErrorInterceptor) CapturePanic(v any) {
	if v == nil {
		return
	}
	firePanicHook(v, debug.Stack())
}

// Go runs fn on a new goroutine guarded by Recover.
func (e *ErrorInterceptor) Go(fn func()) {
	go func() {
		defer e.Recover()
		fn()
	}()
}

// CaptureError reports an error that was handled but is worth
// surfacing — the unhandled-rejection analog for error values passed
// around instead of panics.
func (e *ErrorInterceptor) CaptureError(err error) {
	if err == nil {
		return
	}
	if !e.guard.enter() {
		return
	}
	defer e.guard.exit()
	defer e.recoverFailure()

	if !e.filters.Allow(core.LevelError, err.Error()) || !e.limiter.Allow() {
		e.totalFiltered.Add(1)
		return
	}
	e.totalErrors.Add(1)
	e.sink(e.builder.CapturedError(err, nil))
}

// GetStats returns interceptor statistics.
func (e *ErrorInterceptor) GetStats() map[string]any {
	return map[string]any{
		"type":           "error",
		"active":         e.Active(),
		"total_panics":   e.totalPanics.Load(),
		"total_errors":   e.totalErrors.Load(),
		"total_filtered": e.totalFiltered.Load(),
		"total_failed":   e.totalFailed.Load(),
	}
}

func (e *ErrorInterceptor) capturePanic(v any, stack []byte) {
	if !e.guard.enter() {
		return
	}
	defer e.guard.exit()
	defer e.recoverFailure()

	preview := previewOf(v)
	if !e.filters.Allow(core.LevelError, preview) || !e.limiter.Allow() {
		e.totalFiltered.Add(1)
		return
	}
	e.totalPanics.Add(1)
	e.sink(e.builder.Panic(v, stack))
}

func (e *ErrorInterceptor) recoverFailure() {
	if r := recover(); r != nil {
		e.totalFailed.Add(1)
		e.failureOnce.Do(func() {
			e.report("error capture failed: %v", r)
		})
	}
}

func previewOf(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case error:
		return t.Error()
	default:
		return "panic"
	}
}
