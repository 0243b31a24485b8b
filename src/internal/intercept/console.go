// FILE: src/internal/intercept/console.go
package intercept

import (
	"io"
	stdlog "log"
	"strings"
	"sync"
	"sync/atomic"

	"tapwire/src/internal/core"
	"tapwire/src/internal/filter"
	"tapwire/src/internal/flow"
	"tapwire/src/internal/format"

	"github.com/lixenwraith/log"
)

// ConsoleConfig controls console interception behavior.
type ConsoleConfig struct {
	// Suppress drops the original output instead of forwarding it.
	Suppress bool
}

// ConsoleInterceptor tees the process's default log output through the
// capture pipeline. Install and uninstall are symmetric: Stop restores
// the exact io.Writer reference that was current at Start.
type ConsoleInterceptor struct {
	mu       sync.Mutex
	active   bool
	original io.Writer

	config  ConsoleConfig
	filters *filter.Set
	limiter *flow.Limiter
	builder *format.Builder
	sink    func(core.Entry)
	report  func(format string, args ...any)
	guard   reentryGuard
	logger  *log.Logger

	// Statistics
	totalCaptured atomic.Uint64
	totalFiltered atomic.Uint64
	totalFailed   atomic.Uint64
	failureOnce   sync.Once
}

// NewConsole creates a console interceptor. The sink receives every
// structured entry that survives filtering.
func NewConsole(cfg ConsoleConfig, filters *filter.Set, limiter *flow.Limiter, builder *format.Builder,
	sink func(core.Entry), report func(string, ...any), logger *log.Logger) *ConsoleInterceptor {
	return &ConsoleInterceptor{
		config:  cfg,
		filters: filters,
		limiter: limiter,
		builder: builder,
		sink:    sink,
		report:  report,
		logger:  logger,
	}
}

// Start installs the tee writer. Idempotent: a second Start while
// active is a no-op.
func (c *ConsoleInterceptor) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active {
		return
	}
	// The tee carries its own snapshot of the writer it replaces, so
	// Write never takes c.mu. The stdlib logger holds its internal
	// mutex across Write; taking c.mu there would order the two locks
	// opposite to Start/Stop and wedge the host's logging goroutines.
	c.original = stdlog.Writer()
	stdlog.SetOutput(&teeWriter{interceptor: c, original: c.original})
	c.active = true

	c.logger.Info("msg", "Console interceptor installed",
		"component", "console_interceptor",
		"suppress", c.config.Suppress)
}

// Stop restores the original writer reference. Idempotent.
func (c *ConsoleInterceptor) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.active {
		return
	}
	// A write racing Stop forwards through the tee's own snapshot, so
	// output still reaches the real destination.
	stdlog.SetOutput(c.original)
	c.active = false

	c.logger.Info("msg", "Console interceptor removed",
		"component", "console_interceptor",
		"total_captured", c.totalCaptured.Load())
}

// Active reports whether the tee is currently installed.
func (c *ConsoleInterceptor) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Capture builds and emits a leveled entry directly, outside the
// writer tee. Used by the facade's explicit logging surface.
func (c *ConsoleInterceptor) Capture(level core.Level, args ...any) {
	if !c.guard.enter() {
		return
	}
	defer c.guard.exit()
	defer c.recoverFailure()

	text := renderPreview(args)
	if !c.filters.Allow(level, text) || !c.limiter.Allow() {
		c.totalFiltered.Add(1)
		return
	}
	entry := c.builder.Log(level, args...)
	c.totalCaptured.Add(1)
	c.sink(entry)
}

// GetStats returns interceptor statistics.
func (c *ConsoleInterceptor) GetStats() map[string]any {
	return map[string]any{
		"type":           "console",
		"active":         c.Active(),
		"total_captured": c.totalCaptured.Load(),
		"total_filtered": c.totalFiltered.Load(),
		"total_failed":   c.totalFailed.Load(),
	}
}

// capture processes one teed output line. Never propagates a failure:
// internal panics are recovered, counted and reported once through the
// stored original writer.
func (c *ConsoleInterceptor) capture(line string) {
	if !c.guard.enter() {
		return
	}
	defer c.guard.exit()
	defer c.recoverFailure()

	level := detectLevel(line)
	if !c.filters.Allow(level, line) || !c.limiter.Allow() {
		c.totalFiltered.Add(1)
		return
	}
	entry := c.builder.CapturedLine(level, line)
	c.totalCaptured.Add(1)
	c.sink(entry)
}

func (c *ConsoleInterceptor) recoverFailure() {
	if r := recover(); r != nil {
		c.totalFailed.Add(1)
		c.failureOnce.Do(func() {
			c.report("console capture failed: %v", r)
		})
	}
}

// teeWriter forwards writes to the original destination first, then
// feeds the capture pipeline. The original's result is returned
// unchanged so host behavior is unaffected. It holds the replaced
// writer directly; Write must stay lock-free with respect to the
// interceptor mutex because the stdlib logger serializes writes under
// its own lock.
type teeWriter struct {
	interceptor *ConsoleInterceptor
	original    io.Writer
}

func (w *teeWriter) Write(p []byte) (int, error) {
	c := w.interceptor

	n := len(p)
	var err error
	if !c.config.Suppress && w.original != nil {
		n, err = w.original.Write(p)
	}

	c.capture(strings.TrimRight(string(p), "\n"))
	return n, err
}

// detectLevel derives an entry level from a raw output line. Plain
// lines without a recognizable marker default to LevelLog.
func detectLevel(line string) core.Level {
	lower := strings.ToLower(line)
	switch {
	case strings.Contains(lower, "panic"), strings.Contains(lower, "fatal"),
		strings.Contains(lower, "error"):
		return core.LevelError
	case strings.Contains(lower, "warn"):
		return core.LevelWarn
	case strings.Contains(lower, "debug"):
		return core.LevelDebug
	case strings.Contains(lower, "info"):
		return core.LevelInfo
	default:
		return core.LevelLog
	}
}

// renderPreview builds the cheap pre-filter text for explicit capture
// arguments without running the full serializer.
func renderPreview(args []any) string {
	var sb strings.Builder
	for i, arg := range args {
		if i > 0 {
			sb.WriteByte(' ')
		}
		switch v := arg.(type) {
		case string:
			sb.WriteString(v)
		case error:
			sb.WriteString(v.Error())
		default:
			// Full serialization happens after filtering.
		}
	}
	return sb.String()
}
