package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/term"

	"deploy-reloaded/cmd"
	"deploy-reloaded/internal/events"
	"deploy-reloaded/internal/util"
)

// truncateToBytes truncates s to at most max bytes without splitting
// UTF-8 runes.
func truncateToBytes(s string, max int) string {
	if len(s) <= max {
		return s
	}
	var b []byte
	for _, r := range s {
		rb := []byte(string(r))
		if len(b)+len(rb) > max {
			break
		}
		b = append(b, rb...)
	}
	if len(b) == 0 {
		return s[:max]
	}
	return string(b)
}

func main() {
	// Process title preference order: PROC_TITLE env, then the default.
	procTitle := "deploy-reloaded"
	if t := os.Getenv("PROC_TITLE"); t != "" {
		procTitle = t
	}
	// Collapse whitespace, PR_SET_NAME (Linux comm) is limited to 16
	// bytes including NUL.
	procTitle = strings.Join(strings.Fields(procTitle), "-")
	procTitle = truncateToBytes(procTitle, 15)
	// gspt.SetProcTitle(procTitle) is unavailable: gspt is cgo-only and
	// this build mandates CGO_ENABLED=0.
	_ = procTitle

	// Capture original terminal state (if stdin is a TTY) so we can
	// restore it on forced exit.
	var origState *term.State
	if fi, _ := os.Stdin.Stat(); (fi.Mode() & os.ModeCharDevice) != 0 {
		if st, err := term.GetState(int(os.Stdin.Fd())); err == nil {
			origState = st
		}
	}

	forceExit := func(code int) {
		if origState != nil {
			_ = term.Restore(int(os.Stdin.Fd()), origState)
		}
		os.Exit(code)
	}

	// Context used to issue graceful cancellation to the command tree.
	ctx, cancel := context.WithCancel(context.Background())

	// First Ctrl+C cancels the running operation cooperatively, the
	// second forces the process down.
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		util.Default.Warnf("cancelling, press Ctrl+C again to force quit")
		cancel()
		<-sigCh
		forceExit(cmd.ExitCancelled)
	}()

	shutdown := make(chan struct{})
	events.GlobalBus.Subscribe(events.EventShutdownRequested, func(reason string) {
		cancel()
		close(shutdown)
	})

	var wg sync.WaitGroup
	done := make(chan struct{})
	var runErr error

	wg.Add(1)
	go func() {
		defer wg.Done()
		runErr = cmd.ExecuteContext(ctx)
		close(done)
	}()

waitLoop:
	for {
		select {
		case <-shutdown:
			// A component requested shutdown via the bus, give the
			// command tree a bounded window to unwind.
			select {
			case <-done:
				break waitLoop
			case <-time.After(5 * time.Second):
				forceExit(1)
			}
		case <-done:
			util.Default.ClearLine()
			break waitLoop
		}
	}

	wg.Wait()
	cancel()

	if origState != nil {
		_ = term.Restore(int(os.Stdin.Fd()), origState)
	}
	os.Exit(cmd.ExitCode(runErr))
}
