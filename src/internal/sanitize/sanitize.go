// FILE: src/internal/sanitize/sanitize.go
// Redaction and size limiting for captured diagnostic data. All
// sanitization happens before an entry reaches the transport queue;
// nothing is redacted retroactively.
package sanitize

import (
	"io"
	"net/url"
	"strings"
	"unicode/utf8"
)

// Markers inserted in place of redacted or rewritten content.
const (
	RedactedMarker    = "[REDACTED]"
	TruncatedMarker   = "...[TRUNCATED]"
	CircularMarker    = "[Circular]"
	StreamPlaceholder = "[Stream]"
	binaryPlaceholder = "[Binary]"
)

// Default size ceilings, overridable via Config.
const (
	DefaultMaxHeaderSize = 256
	DefaultMaxBodySize   = 4096
	DefaultMaxValueSize  = 1024
)

// defaultSensitiveHeaders are matched exactly against lower-cased
// header names.
var defaultSensitiveHeaders = []string{
	"authorization",
	"cookie",
	"set-cookie",
	"bearer",
	"basic",
	"proxy-authorization",
}

// defaultSensitiveMarks are matched as substrings of lower-cased
// header names.
var defaultSensitiveMarks = []string{
	"api-key",
	"apikey",
	"auth-token",
	"access-token",
	"secret",
}

// defaultSensitiveParams are query parameter names redacted from URLs.
var defaultSensitiveParams = []string{
	"token",
	"key",
	"password",
	"secret",
	"auth",
}

// Config controls deny-lists and size ceilings. Zero values fall back
// to the built-in defaults; Extra* entries extend (never replace) the
// built-in lists.
type Config struct {
	MaxHeaderSize int
	MaxBodySize   int
	MaxValueSize  int
	ExtraHeaders  []string
	ExtraParams   []string
}

// Sanitizer redacts sensitive header, body and URL content and
// enforces size ceilings. Safe for concurrent use after construction.
type Sanitizer struct {
	headers   map[string]bool
	marks     []string
	params    map[string]bool
	maxHeader int
	maxBody   int
	maxValue  int
}

// New builds a sanitizer from cfg.
func New(cfg Config) *Sanitizer {
	s := &Sanitizer{
		headers:   make(map[string]bool),
		params:    make(map[string]bool),
		marks:     defaultSensitiveMarks,
		maxHeader: cfg.MaxHeaderSize,
		maxBody:   cfg.MaxBodySize,
		maxValue:  cfg.MaxValueSize,
	}
	if s.maxHeader <= 0 {
		s.maxHeader = DefaultMaxHeaderSize
	}
	if s.maxBody <= 0 {
		s.maxBody = DefaultMaxBodySize
	}
	if s.maxValue <= 0 {
		s.maxValue = DefaultMaxValueSize
	}
	for _, h := range defaultSensitiveHeaders {
		s.headers[h] = true
	}
	for _, h := range cfg.ExtraHeaders {
		s.headers[strings.ToLower(h)] = true
	}
	for _, p := range defaultSensitiveParams {
		s.params[p] = true
	}
	for _, p := range cfg.ExtraParams {
		s.params[strings.ToLower(p)] = true
	}
	return s
}

// Headers returns a redacted copy of the given header map. Names are
// lower-cased for the sensitivity check; sensitive values are replaced
// with RedactedMarker, oversized values are truncated with a marker
// suffix. The input map is never mutated.
func (s *Sanitizer) Headers(headers map[string]string) map[string]string {
	if headers == nil {
		return nil
	}
	out := make(map[string]string, len(headers))
	for name, value := range headers {
		if s.sensitiveHeader(name) {
			out[name] = RedactedMarker
			continue
		}
		out[name] = s.Truncate(value, s.maxHeader)
	}
	return out
}

// HeaderValues flattens multi-valued headers (http.Header shape) into
// a single-valued map before redaction.
func (s *Sanitizer) HeaderValues(headers map[string][]string) map[string]string {
	if headers == nil {
		return nil
	}
	flat := make(map[string]string, len(headers))
	for name, values := range headers {
		flat[name] = strings.Join(values, ", ")
	}
	return s.Headers(flat)
}

func (s *Sanitizer) sensitiveHeader(name string) bool {
	lower := strings.ToLower(name)
	if s.headers[lower] {
		return true
	}
	for _, mark := range s.marks {
		if strings.Contains(lower, mark) {
			return true
		}
	}
	return false
}

// Body normalizes heterogeneous body types into a size-bounded string
// representation. Non-serializable bodies degrade to a typed
// placeholder; Body never panics and never consumes a live stream.
func (s *Sanitizer) Body(body any) string {
	switch b := body.(type) {
	case nil:
		return ""
	case string:
		return s.Truncate(b, s.maxBody)
	case []byte:
		if utf8.Valid(b) {
			return s.Truncate(string(b), s.maxBody)
		}
		return binaryPlaceholder
	case url.Values:
		return s.Truncate(b.Encode(), s.maxBody)
	case io.Reader:
		// Reading would consume the host's stream.
		return StreamPlaceholder
	default:
		return s.Truncate(s.Serialize(body), s.maxBody)
	}
}

// URL redacts known-sensitive query parameter values while leaving the
// rest of the URL intact. Malformed URLs pass through unchanged.
func (s *Sanitizer) URL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	if len(q) == 0 {
		return raw
	}
	changed := false
	for name := range q {
		if s.params[strings.ToLower(name)] {
			q.Set(name, RedactedMarker)
			changed = true
		}
	}
	if !changed {
		return raw
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// Truncate bounds s to max bytes, appending TruncatedMarker when a
// rewrite happened. The cut backs up to a rune boundary so the result
// stays valid UTF-8.
func (s *Sanitizer) Truncate(value string, max int) string {
	if max <= 0 || len(value) <= max {
		return value
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(value[cut]) {
		cut--
	}
	return value[:cut] + TruncatedMarker
}

// MaxBodySize exposes the configured body ceiling.
func (s *Sanitizer) MaxBodySize() int { return s.maxBody }
