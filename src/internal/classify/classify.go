// FILE: src/internal/classify/classify.go
// Deterministic classification of captured entries. Pure functions:
// identical input always yields identical category, severity and tags,
// and nothing here ever panics on odd input.
package classify

import (
	"strings"

	"tapwire/src/internal/core"
)

// Result is the classification attached to an entry at creation.
type Result struct {
	Category string
	Severity core.Severity
	Tags     []string
}

// Input carries everything classification may depend on. Application
// name and environment feed the tag set only.
type Input struct {
	Type        core.EntryType
	Level       core.Level
	Message     string
	Args        []string
	AppName     string
	Environment string
}

// rule pairs a predicate with the category it assigns. Rules are
// evaluated in order, first match wins; precedence is explicit in the
// slice ordering (type errors before reference errors, since messages
// can overlap both).
type rule struct {
	category string
	keywords []string
}

var categoryRules = []rule{
	{"security", []string{"cors", "csp violation", "unauthorized", "forbidden", "certificate", "x509", "permission denied", "access denied"}},
	{"timeout", []string{"timeout", "timed out", "deadline exceeded"}},
	{"network", []string{"connection refused", "connection reset", "no such host", "dns", "broken pipe", "unexpected eof", "network is unreachable"}},
	{"type-error", []string{"type assertion", "cannot convert", "mismatched types", "invalid operation", "typeerror", "is not a function"}},
	{"reference-error", []string{"nil pointer", "invalid memory address", "referenceerror", "is not defined", "undefined variable", "index out of range"}},
	{"syntax-error", []string{"syntax error", "unexpected token", "invalid character", "unexpected end of"}},
	{"memory", []string{"out of memory", "cannot allocate", "oom"}},
	{"deprecation", []string{"deprecated", "deprecation"}},
	{"panic", []string{"panic:", "goroutine", "runtime error"}},
}

// severityKeywords escalate the base score. Factors record which
// triggers fired so severity stays explainable.
var severityEscalations = []struct {
	factor   string
	boost    int
	keywords []string
}{
	{"security", 40, []string{"cors", "csp", "unauthorized", "forbidden", "certificate", "x509", "security"}},
	{"network", 20, []string{"timeout", "timed out", "connection refused", "connection reset", "no such host", "unreachable"}},
	{"crash", 25, []string{"panic:", "fatal", "out of memory"}},
}

// techKeywords feed the tag set when detected in the message.
var techKeywords = []string{"http", "grpc", "sql", "json", "tls", "dns", "websocket", "redis", "kafka", "auth"}

// levelBaseScores seed severity scoring per level.
var levelBaseScores = map[core.Level]int{
	core.LevelDebug: 10,
	core.LevelLog:   20,
	core.LevelInfo:  25,
	core.LevelWarn:  50,
	core.LevelError: 70,
}

// Severity score bands. Fixed: the mapping never shifts at runtime.
const (
	bandMedium   = 40
	bandHigh     = 60
	bandCritical = 85
	maxScore     = 100
)

// Classify derives category, severity and tags for one entry. Total
// and deterministic; empty messages classify into the per-level
// default bucket.
func Classify(in Input) Result {
	text := strings.ToLower(in.Message)
	for _, arg := range in.Args {
		text += " " + strings.ToLower(arg)
	}

	return Result{
		Category: category(in, text),
		Severity: severity(in, text),
		Tags:     tags(in, text),
	}
}

func category(in Input, text string) string {
	// Network entries carry their category from the entry type itself;
	// keyword rules refine only the error case.
	switch in.Type {
	case core.TypeNetworkRequest, core.TypeNetworkResponse:
		return "network"
	case core.TypeNetworkError:
		if c, ok := matchCategory(text); ok {
			return c
		}
		return "network"
	}

	if c, ok := matchCategory(text); ok {
		return c
	}
	return defaultCategory(in.Level, in.Type)
}

func matchCategory(text string) (string, bool) {
	for _, r := range categoryRules {
		for _, kw := range r.keywords {
			if strings.Contains(text, kw) {
				return r.category, true
			}
		}
	}
	return "", false
}

func defaultCategory(level core.Level, typ core.EntryType) string {
	if typ == core.TypeError {
		return "runtime-error"
	}
	switch level {
	case core.LevelError:
		return "runtime-error"
	case core.LevelWarn:
		return "warning"
	case core.LevelDebug:
		return "debug"
	default:
		return "general"
	}
}

func severity(in Input, text string) core.Severity {
	score, ok := levelBaseScores[in.Level]
	if !ok {
		score = levelBaseScores[core.LevelLog]
	}
	factors := []string{"level:" + string(in.Level)}

	if in.Type == core.TypeError {
		score += 10
		factors = append(factors, "uncaught")
	}

	for _, esc := range severityEscalations {
		for _, kw := range esc.keywords {
			if strings.Contains(text, kw) {
				score += esc.boost
				factors = append(factors, esc.factor)
				break
			}
		}
	}

	if score > maxScore {
		score = maxScore
	}

	return core.Severity{
		Level:   scoreBand(score),
		Score:   score,
		Factors: factors,
	}
}

func scoreBand(score int) string {
	switch {
	case score >= bandCritical:
		return "critical"
	case score >= bandHigh:
		return "high"
	case score >= bandMedium:
		return "medium"
	default:
		return "low"
	}
}

func tags(in Input, text string) []string {
	out := make([]string, 0, 6)
	seen := make(map[string]bool)

	add := func(tag string) {
		if tag == "" || seen[tag] {
			return
		}
		seen[tag] = true
		out = append(out, tag)
	}

	add(string(in.Level))
	if in.Type != core.TypeLog {
		add(string(in.Type))
	}
	for _, kw := range techKeywords {
		if strings.Contains(text, kw) {
			add(kw)
		}
	}
	add(in.Environment)
	add(in.AppName)

	return out
}
