// FILE: src/internal/intercept/bindings.go
// Interceptors patch process-wide globals: the default log writer, the
// default HTTP transport and the panic hook slot. NativeBindings is the
// explicit snapshot of those globals, captured once at install time and
// restored atomically at uninstall; nothing here relies on ambient
// lookup of "the current writer" mid-session.
package intercept

import (
	"fmt"
	"io"
	stdlog "log"
	"net/http"
)

// NativeBindings holds the original global references in effect before
// any interceptor was installed.
type NativeBindings struct {
	LogWriter io.Writer
	Transport http.RoundTripper
	PanicHook PanicHook
}

// CaptureBindings snapshots the current globals.
func CaptureBindings() NativeBindings {
	return NativeBindings{
		LogWriter: stdlog.Writer(),
		Transport: http.DefaultTransport,
		PanicHook: CurrentPanicHook(),
	}
}

// Restore reinstates the captured globals.
func (b NativeBindings) Restore() {
	stdlog.SetOutput(b.LogWriter)
	http.DefaultTransport = b.Transport
	SetPanicHook(b.PanicHook)
}

// Reporter returns the internal failure reporting path: it writes
// through the stored original writer, bypassing interception entirely
// so a broken pipeline can never capture its own failure reports.
func (b NativeBindings) Reporter() func(format string, args ...any) {
	w := b.LogWriter
	return func(format string, args ...any) {
		fmt.Fprintf(w, "tapwire: "+format+"\n", args...)
	}
}
