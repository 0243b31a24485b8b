// FILE: src/internal/intercept/console_test.go
package intercept

import (
	"bytes"
	"io"
	stdlog "log"
	"sync"
	"testing"
	"time"

	"tapwire/src/internal/core"
	"tapwire/src/internal/filter"
	"tapwire/src/internal/format"
	"tapwire/src/internal/sanitize"

	"github.com/lixenwraith/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger() *log.Logger {
	return log.NewLogger()
}

func testBuilder() *format.Builder {
	app := core.Application{Name: "testapp", SessionID: "s1", Environment: "test"}
	return format.NewBuilder(app, sanitize.New(sanitize.Config{}), 0, newTestLogger())
}

type entrySink struct {
	mu      sync.Mutex
	entries []core.Entry
	fail    bool
}

func (s *entrySink) accept(e core.Entry) {
	if s.fail {
		panic("sink exploded")
	}
	s.mu.Lock()
	s.entries = append(s.entries, e)
	s.mu.Unlock()
}

func (s *entrySink) all() []core.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]core.Entry(nil), s.entries...)
}

func newConsoleForTest(t *testing.T, cfg ConsoleConfig, fcfg filter.Config, sink *entrySink) (*ConsoleInterceptor, *bytes.Buffer) {
	t.Helper()

	var buf bytes.Buffer
	prevWriter := stdlog.Writer()
	stdlog.SetOutput(&buf)
	t.Cleanup(func() { stdlog.SetOutput(prevWriter) })

	filters := filter.NewSet(fcfg, newTestLogger())
	c := NewConsole(cfg, filters, nil, testBuilder(), sink.accept,
		func(string, ...any) {}, newTestLogger())
	t.Cleanup(c.Stop)
	return c, &buf
}

func TestConsoleInterceptor_InstallUninstallSymmetry(t *testing.T) {
	sink := &entrySink{}
	c, buf := newConsoleForTest(t, ConsoleConfig{}, filter.Config{}, sink)

	original := stdlog.Writer()
	require.True(t, original == interface{}(buf), "test precondition")

	// N starts, one stop: the original reference must come back.
	c.Start()
	c.Start()
	c.Start()
	assert.False(t, stdlog.Writer() == interface{}(buf), "tee should be installed")

	c.Stop()
	assert.True(t, stdlog.Writer() == interface{}(buf), "original writer must be restored")

	// Idempotent stop.
	c.Stop()
	assert.True(t, stdlog.Writer() == interface{}(buf))
}

func TestConsoleInterceptor_StartStopUnderConcurrentWrites(t *testing.T) {
	// Writers run inside the stdlib logger's own lock while Start/Stop
	// cycle the installed output. Neither side may ever wait on the
	// other's lock order, or host logging wedges.
	prevWriter := stdlog.Writer()
	stdlog.SetOutput(io.Discard)
	t.Cleanup(func() { stdlog.SetOutput(prevWriter) })

	sink := &entrySink{}
	filters := filter.NewSet(filter.Config{}, newTestLogger())
	c := NewConsole(ConsoleConfig{}, filters, nil, testBuilder(), sink.accept,
		func(string, ...any) {}, newTestLogger())
	t.Cleanup(c.Stop)

	stop := make(chan struct{})
	var writers sync.WaitGroup
	for i := 0; i < 4; i++ {
		writers.Add(1)
		go func() {
			defer writers.Done()
			for {
				select {
				case <-stop:
					return
				default:
					stdlog.Print("host line under contention")
				}
			}
		}()
	}

	cycled := make(chan struct{})
	go func() {
		for i := 0; i < 200; i++ {
			c.Start()
			c.Stop()
		}
		close(cycled)
	}()

	select {
	case <-cycled:
	case <-time.After(10 * time.Second):
		t.Fatal("install/uninstall deadlocked against concurrent log writes")
	}
	close(stop)
	writers.Wait()

	assert.True(t, stdlog.Writer() == io.Discard, "original writer must be restored")
}

func TestConsoleInterceptor_ForwardsAndCaptures(t *testing.T) {
	sink := &entrySink{}
	c, buf := newConsoleForTest(t, ConsoleConfig{}, filter.Config{}, sink)
	c.Start()

	stdlog.Print("hello from the host")

	assert.Contains(t, buf.String(), "hello from the host")
	entries := sink.all()
	require.Len(t, entries, 1)
	assert.Equal(t, core.TypeLog, entries[0].Type)
	assert.Contains(t, entries[0].Message, "hello from the host")
	assert.Equal(t, "testapp", entries[0].Application.Name)
}

func TestConsoleInterceptor_Suppress(t *testing.T) {
	sink := &entrySink{}
	c, buf := newConsoleForTest(t, ConsoleConfig{Suppress: true}, filter.Config{}, sink)
	c.Start()

	stdlog.Print("invisible")

	assert.Empty(t, buf.String())
	require.Len(t, sink.all(), 1)
}

func TestConsoleInterceptor_LevelDetection(t *testing.T) {
	sink := &entrySink{}
	c, _ := newConsoleForTest(t, ConsoleConfig{}, filter.Config{}, sink)
	c.Start()

	stdlog.Print("ERROR something broke")
	stdlog.Print("warn: disk filling")
	stdlog.Print("just a line")

	entries := sink.all()
	require.Len(t, entries, 3)
	assert.Equal(t, core.LevelError, entries[0].Level)
	assert.Equal(t, core.LevelWarn, entries[1].Level)
	assert.Equal(t, core.LevelLog, entries[2].Level)
}

func TestConsoleInterceptor_LevelFiltering(t *testing.T) {
	sink := &entrySink{}
	c, _ := newConsoleForTest(t, ConsoleConfig{},
		filter.Config{Levels: []string{"error", "warn"}}, sink)
	c.Start()

	c.Capture(core.LevelLog, "a")
	c.Capture(core.LevelError, "b")
	c.Capture(core.LevelWarn, "c")
	c.Capture(core.LevelInfo, "d")

	entries := sink.all()
	require.Len(t, entries, 2)
	assert.Equal(t, core.LevelError, entries[0].Level)
	assert.Equal(t, core.LevelWarn, entries[1].Level)
}

func TestConsoleInterceptor_SinkFailureDoesNotReachHost(t *testing.T) {
	sink := &entrySink{fail: true}
	reported := 0

	var buf bytes.Buffer
	prevWriter := stdlog.Writer()
	stdlog.SetOutput(&buf)
	t.Cleanup(func() { stdlog.SetOutput(prevWriter) })

	c := NewConsole(ConsoleConfig{}, filter.NewSet(filter.Config{}, newTestLogger()), nil,
		testBuilder(), sink.accept,
		func(string, ...any) { reported++ }, newTestLogger())
	t.Cleanup(c.Stop)
	c.Start()

	assert.NotPanics(t, func() {
		stdlog.Print("x")
		stdlog.Print("y")
	})

	// Host output still lands.
	assert.Contains(t, buf.String(), "x")
	assert.Contains(t, buf.String(), "y")
	// Failure reported exactly once, counted every time.
	assert.Equal(t, 1, reported)
	assert.Equal(t, uint64(2), c.GetStats()["total_failed"])
}

func TestConsoleInterceptor_NoRecursionFromListener(t *testing.T) {
	// A sink that logs through the intercepted path must not retrigger
	// capture on the same goroutine.
	var captured []core.Entry
	depth := 0

	var buf bytes.Buffer
	prevWriter := stdlog.Writer()
	stdlog.SetOutput(&buf)
	t.Cleanup(func() { stdlog.SetOutput(prevWriter) })

	var c *ConsoleInterceptor
	sink := func(e core.Entry) {
		captured = append(captured, e)
		depth++
		require.Less(t, depth, 3, "unbounded recursion")
		stdlog.Print("echo from sink")
		depth--
	}
	c = NewConsole(ConsoleConfig{}, filter.NewSet(filter.Config{}, newTestLogger()), nil,
		testBuilder(), sink, func(string, ...any) {}, newTestLogger())
	t.Cleanup(c.Stop)
	c.Start()

	stdlog.Print("outer")

	// Exactly one capture: the echo was forwarded but not re-captured.
	require.Len(t, captured, 1)
	assert.Contains(t, captured[0].Message, "outer")
	assert.Contains(t, buf.String(), "echo from sink")
}
