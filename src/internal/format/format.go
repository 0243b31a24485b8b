// FILE: src/internal/format/format.go
// Entry assembly: raw interception data plus sanitizer and classifier
// output become one immutable core.Entry.
package format

import (
	"fmt"
	"strings"

	"tapwire/src/internal/classify"
	"tapwire/src/internal/core"
	"tapwire/src/internal/sanitize"

	"github.com/lixenwraith/log"
)

// Builder assembles structured entries. The application identity is
// frozen at construction; entries created later always carry the
// identity that was current when the builder was made.
type Builder struct {
	app        core.Application
	sanitizer  *sanitize.Sanitizer
	maxLogSize int
	logger     *log.Logger
}

// NewBuilder creates an entry builder bound to one application
// identity and one sanitizer.
func NewBuilder(app core.Application, sanitizer *sanitize.Sanitizer, maxLogSize int, logger *log.Logger) *Builder {
	if maxLogSize <= 0 {
		maxLogSize = 10 * 1024
	}
	return &Builder{
		app:        app,
		sanitizer:  sanitizer,
		maxLogSize: maxLogSize,
		logger:     logger,
	}
}

// Log builds a console entry from leveled arguments. Each argument is
// rendered through the circular-safe serializer; the message is the
// space-joined rendering, size-bounded.
func (b *Builder) Log(level core.Level, args ...any) core.Entry {
	rendered := make([]string, 0, len(args))
	for _, arg := range args {
		rendered = append(rendered, b.renderArg(arg))
	}
	return b.assemble(core.TypeLog, level, strings.Join(rendered, " "), rendered, nil, "")
}

// CapturedLine builds a console entry from an already-formatted output
// line (the log-writer tee path).
func (b *Builder) CapturedLine(level core.Level, line string) core.Entry {
	return b.assemble(core.TypeLog, level, line, nil, nil, "")
}

// Panic builds an error entry from a recovered panic value and stack.
func (b *Builder) Panic(v any, stack []byte) core.Entry {
	msg := fmt.Sprintf("panic: %v", v)
	return b.assemble(core.TypeError, core.LevelError, msg, nil, nil, string(stack))
}

// CapturedError builds an error entry from an explicitly reported
// error (the unhandled-rejection analog).
func (b *Builder) CapturedError(err error, stack []byte) core.Entry {
	msg := "error: <nil>"
	if err != nil {
		msg = err.Error()
	}
	return b.assemble(core.TypeError, core.LevelError, msg, nil, nil, string(stack))
}

// RequestInfo is the raw material for a network-request entry.
type RequestInfo struct {
	RequestID string
	Method    string
	URL       string
	Headers   map[string][]string
	Body      any
}

// NetworkRequest builds the entry emitted before an outbound call.
func (b *Builder) NetworkRequest(info RequestInfo) core.Entry {
	url := b.sanitizer.URL(info.URL)
	net := &core.Network{
		Method:    info.Method,
		URL:       url,
		Headers:   b.sanitizer.HeaderValues(info.Headers),
		Body:      b.sanitizer.Body(info.Body),
		RequestID: info.RequestID,
	}
	msg := fmt.Sprintf("%s %s", info.Method, url)
	return b.assemble(core.TypeNetworkRequest, core.LevelInfo, msg, nil, net, "")
}

// ResponseInfo is the raw material for a network-response entry.
type ResponseInfo struct {
	RequestID      string
	Method         string
	URL            string
	Status         int
	Headers        map[string][]string
	DurationMillis float64
}

// NetworkResponse builds the entry emitted after an outbound call
// settles successfully.
func (b *Builder) NetworkResponse(info ResponseInfo) core.Entry {
	url := b.sanitizer.URL(info.URL)
	net := &core.Network{
		Method:         info.Method,
		URL:            url,
		Status:         info.Status,
		Headers:        b.sanitizer.HeaderValues(info.Headers),
		DurationMillis: info.DurationMillis,
		RequestID:      info.RequestID,
	}
	level := core.LevelInfo
	if info.Status >= 400 {
		level = core.LevelError
	}
	msg := fmt.Sprintf("%s %s -> %d (%.1fms)", info.Method, url, info.Status, info.DurationMillis)
	return b.assemble(core.TypeNetworkResponse, level, msg, nil, net, "")
}

// NetworkError builds the entry emitted when an outbound call fails to
// settle.
func (b *Builder) NetworkError(info ResponseInfo, err error) core.Entry {
	url := b.sanitizer.URL(info.URL)
	errText := "<nil>"
	if err != nil {
		errText = err.Error()
	}
	net := &core.Network{
		Method:         info.Method,
		URL:            url,
		DurationMillis: info.DurationMillis,
		Error:          errText,
		RequestID:      info.RequestID,
	}
	msg := fmt.Sprintf("%s %s failed: %s", info.Method, url, errText)
	return b.assemble(core.TypeNetworkError, core.LevelError, msg, nil, net, "")
}

// Application returns the frozen application identity.
func (b *Builder) Application() core.Application {
	return b.app
}

// MaxBodySize exposes the sanitizer's body ceiling for callers that
// bound reads before capture.
func (b *Builder) MaxBodySize() int {
	return b.sanitizer.MaxBodySize()
}

func (b *Builder) renderArg(arg any) string {
	switch v := arg.(type) {
	case string:
		return v
	case error:
		return v.Error()
	case fmt.Stringer:
		return v.String()
	default:
		return b.sanitizer.Serialize(arg)
	}
}

func (b *Builder) assemble(typ core.EntryType, level core.Level, message string, args []string, network *core.Network, stack string) core.Entry {
	truncated := false
	if len(message) > b.maxLogSize {
		message = b.sanitizer.Truncate(message, b.maxLogSize)
		truncated = true
	}

	cls := classify.Classify(classify.Input{
		Type:        typ,
		Level:       level,
		Message:     message,
		Args:        args,
		AppName:     b.app.Name,
		Environment: b.app.Environment,
	})

	return core.Entry{
		ID:          core.NewEntryID(),
		Type:        typ,
		Timestamp:   core.Now(),
		Level:       level,
		Message:     message,
		Args:        args,
		Truncated:   truncated,
		Application: b.app,
		Category:    cls.Category,
		Severity:    cls.Severity,
		Tags:        cls.Tags,
		Context:     Snapshot(),
		Network:     network,
		Stack:       stack,
	}
}
