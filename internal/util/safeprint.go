package util

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/fatih/color"
)

// SafePrinter serializes terminal output across goroutines. Watcher,
// orchestrator and plugin callbacks all print through the same instance
// so status lines never interleave.
type SafePrinter struct {
	mu        sync.Mutex
	out       io.Writer
	suspended bool
}

// Default is the shared SafePrinter used across the application.
var Default = &SafePrinter{}

// SetOutput redirects printing, mainly for tests. A nil writer resets
// to stdout.
func (s *SafePrinter) SetOutput(w io.Writer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.out = w
}

func (s *SafePrinter) writer() io.Writer {
	if s.out != nil {
		return s.out
	}
	return os.Stdout
}

func (s *SafePrinter) Print(a ...interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.suspended {
		return
	}
	fmt.Fprint(s.writer(), a...)
}

func (s *SafePrinter) Printf(format string, a ...interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.suspended {
		return
	}
	fmt.Fprintf(s.writer(), format, a...)
}

func (s *SafePrinter) Println(a ...interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.suspended {
		return
	}
	fmt.Fprintln(s.writer(), a...)
}

// Successf prints a green success line.
func (s *SafePrinter) Successf(format string, a ...interface{}) {
	s.Println(color.GreenString("✅ "+format, a...))
}

// Warnf prints a yellow warning line.
func (s *SafePrinter) Warnf(format string, a ...interface{}) {
	s.Println(color.YellowString("⚠️  "+format, a...))
}

// Errorf prints a red error line.
func (s *SafePrinter) Errorf(format string, a ...interface{}) {
	s.Println(color.RedString("❌ "+format, a...))
}

// Statusf overwrites the current line with a transient status.
func (s *SafePrinter) Statusf(format string, a ...interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.suspended {
		return
	}
	fmt.Fprintf(s.writer(), "\r\x1b[K"+format, a...)
}

func (s *SafePrinter) ClearScreen() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.suspended {
		return
	}
	fmt.Fprint(s.writer(), "\x1b[2J\x1b[H")
}

// PrintBlock prints a potentially multi-line block atomically. If clearLine is
// true it first clears the current line, useful to overwrite a status line.
func (s *SafePrinter) PrintBlock(block string, clearLine bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.suspended {
		return
	}
	if clearLine {
		fmt.Fprint(s.writer(), "\r\x1b[K")
	}
	fmt.Fprint(s.writer(), block)
	if !strings.HasSuffix(block, "\n") {
		fmt.Fprint(s.writer(), "\n")
	}
}

// ClearLine clears the current line and returns the cursor to the beginning.
func (s *SafePrinter) ClearLine() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.suspended {
		return
	}
	fmt.Fprint(s.writer(), "\r\x1b[K")
}

// Suspend silences all subsequent prints until Resume is called. Used while
// interactive prompts or the TUI own the terminal.
func (s *SafePrinter) Suspend() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.suspended = true
}

// Resume re-enables printing after Suspend.
func (s *SafePrinter) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.suspended = false
}

func (s *SafePrinter) IsSuspended() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.suspended
}
