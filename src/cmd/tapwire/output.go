// FILE: src/cmd/tapwire/output.go
package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"tapwire/src/internal/core"

	"golang.org/x/term"
)

// Manages all application output respecting quiet mode
type OutputHandler struct {
	quiet    bool
	colorize bool
	mu       sync.RWMutex
	stdout   io.Writer
	stderr   io.Writer
}

// Global output handler instance
var output *OutputHandler

// Initializes the global output handler
func InitOutputHandler(quiet bool) {
	output = &OutputHandler{
		quiet:    quiet,
		colorize: term.IsTerminal(int(os.Stdout.Fd())),
		stdout:   os.Stdout,
		stderr:   os.Stderr,
	}
}

// Writes to stdout if not in quiet mode
func (o *OutputHandler) Print(format string, args ...any) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	if !o.quiet {
		fmt.Fprintf(o.stdout, format, args...)
	}
}

// Writes to stderr if not in quiet mode
func (o *OutputHandler) Error(format string, args ...any) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	if !o.quiet {
		fmt.Fprintf(o.stderr, format, args...)
	}
}

// Writes to stderr and exits (respects quiet mode)
func (o *OutputHandler) FatalError(code int, format string, args ...any) {
	o.Error(format, args...)
	os.Exit(code)
}

// PrintFrame renders one received collector frame as a console line,
// colorized by severity when stdout is a terminal.
func (o *OutputHandler) PrintFrame(frame core.WireFrame) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.quiet {
		return
	}

	line := fmt.Sprintf("%-7s %-5s [%s][%s][%s] %s",
		frame.Type,
		strings.ToUpper(string(frame.Data.Level)),
		frame.Data.Application.Name,
		frame.Data.Category,
		strings.ToUpper(frame.Data.Severity.Level),
		frame.Data.Message)

	if o.colorize {
		switch frame.Data.Severity.Level {
		case "critical", "high":
			line = "\033[31m" + line + "\033[0m"
		case "medium":
			line = "\033[33m" + line + "\033[0m"
		}
	}
	fmt.Fprintln(o.stdout, line)
}

// Helper functions for global output handler
func Print(format string, args ...any) {
	if output != nil {
		output.Print(format, args...)
	}
}

func Error(format string, args ...any) {
	if output != nil {
		output.Error(format, args...)
	}
}

func FatalError(code int, format string, args ...any) {
	if output != nil {
		output.FatalError(code, format, args...)
	} else {
		fmt.Fprintf(os.Stderr, format, args...)
		os.Exit(code)
	}
}

func PrintFrame(frame core.WireFrame) {
	if output != nil {
		output.PrintFrame(frame)
	}
}
