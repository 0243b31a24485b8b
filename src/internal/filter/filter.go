// FILE: src/internal/filter/filter.go
package filter

import (
	"regexp"
	"strings"
	"sync/atomic"

	"tapwire/src/internal/core"

	"github.com/lixenwraith/log"
)

// Config describes one shared filter set consulted by interceptors
// before any expensive capture work.
type Config struct {
	// Levels to pass. Empty means all levels.
	Levels []string

	// IncludePatterns, when non-empty, require at least one match.
	IncludePatterns []string

	// ExcludePatterns drop an entry on any match.
	ExcludePatterns []string
}

// predicate matches either as a compiled regex or, when the pattern is
// not a valid regex, as a literal substring.
type predicate struct {
	raw     string
	re      *regexp.Regexp
	literal bool
}

func compile(patterns []string) []predicate {
	out := make([]predicate, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			out = append(out, predicate{raw: p, literal: true})
			continue
		}
		out = append(out, predicate{raw: p, re: re})
	}
	return out
}

func (p predicate) match(text string) bool {
	if p.literal {
		return strings.Contains(text, p.raw)
	}
	return p.re.MatchString(text)
}

// Set applies level and pattern filtering to candidate entries.
// Checks run cheapest first: level, then exclusions, then inclusions.
type Set struct {
	levels  map[core.Level]bool
	include []predicate
	exclude []predicate
	logger  *log.Logger

	// Statistics
	totalChecked atomic.Uint64
	totalPassed  atomic.Uint64
}

// NewSet builds a filter set from configuration. Patterns that fail to
// compile as regular expressions degrade to literal substring
// predicates rather than erroring; level filtering is validated
// upstream by the configuration layer.
func NewSet(cfg Config, logger *log.Logger) *Set {
	s := &Set{
		levels:  make(map[core.Level]bool, len(cfg.Levels)),
		include: compile(cfg.IncludePatterns),
		exclude: compile(cfg.ExcludePatterns),
		logger:  logger,
	}
	for _, lv := range cfg.Levels {
		s.levels[core.ParseLevel(lv)] = true
	}

	logger.Debug("msg", "Filter set created",
		"component", "filter",
		"levels", len(cfg.Levels),
		"include_patterns", len(cfg.IncludePatterns),
		"exclude_patterns", len(cfg.ExcludePatterns))
	return s
}

// Allow reports whether an entry at the given level with the given
// text should be captured.
func (s *Set) Allow(level core.Level, text string) bool {
	s.totalChecked.Add(1)

	if len(s.levels) > 0 && !s.levels[level] {
		return false
	}
	if !s.allowPatterns(text) {
		return false
	}

	s.totalPassed.Add(1)
	return true
}

// AllowText applies only the pattern predicates; used for URL
// filtering where levels do not apply.
func (s *Set) AllowText(text string) bool {
	s.totalChecked.Add(1)
	if !s.allowPatterns(text) {
		return false
	}
	s.totalPassed.Add(1)
	return true
}

func (s *Set) allowPatterns(text string) bool {
	for _, p := range s.exclude {
		if p.match(text) {
			return false
		}
	}
	if len(s.include) > 0 {
		matched := false
		for _, p := range s.include {
			if p.match(text) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	return true
}

// GetStats returns filter statistics.
func (s *Set) GetStats() map[string]any {
	return map[string]any{
		"levels":        len(s.levels),
		"include_count": len(s.include),
		"exclude_count": len(s.exclude),
		"total_checked": s.totalChecked.Load(),
		"total_passed":  s.totalPassed.Load(),
	}
}
