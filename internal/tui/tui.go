// Package tui renders the watch-mode status view: a live header over
// the stream of watcher and transfer output, with keys for pausing,
// reloading the configuration and a stats readout.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"deploy-reloaded/internal/events"
	"deploy-reloaded/internal/util"
	"deploy-reloaded/internal/watcher"
)

// WatchOptions wires the status view to a running watcher.
type WatchOptions struct {
	Watcher   *watcher.Watcher
	Workspace string
	Targets   int
	Packages  int
	// Reload re-reads the workspace config and hands it to the watcher.
	Reload func() error
}

const maxLines = 200

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#8be9fd"))
	infoStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#6272a4"))
	pausedStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#ffb86c"))
	statsStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#50fa7b"))
	errStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#ff5555"))
	footerStyle = lipgloss.NewStyle().Faint(true)
)

type (
	lineMsg        string
	opDeltaMsg     int
	tickMsg        time.Time
	reloadDoneMsg  struct{ err error }
	watcherDoneMsg struct{ err error }
	quitRequestMsg struct{}
)

type watchModel struct {
	opts WatchOptions
	spin spinner.Model

	lines     []string
	running   int
	stats     watcher.Stats
	showStats bool
	started   time.Time
	width     int

	err      error
	quitting bool
}

func newWatchModel(opts WatchOptions) *watchModel {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("#ff79c6"))
	return &watchModel{
		opts:    opts,
		spin:    sp,
		started: time.Now(),
		width:   80,
	}
}

func (m *watchModel) Init() tea.Cmd {
	return tea.Batch(m.spin.Tick, tick())
}

func tick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m *watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case lineMsg:
		m.push(string(msg))
		return m, nil

	case opDeltaMsg:
		m.running += int(msg)
		if m.running < 0 {
			m.running = 0
		}
		return m, nil

	case tickMsg:
		m.stats = m.opts.Watcher.Stats()
		return m, tick()

	case reloadDoneMsg:
		if msg.err != nil {
			m.push(errStyle.Render(fmt.Sprintf("reload failed: %v", msg.err)))
		}
		return m, nil

	case watcherDoneMsg:
		m.err = msg.err
		m.quitting = true
		return m, tea.Quit

	case quitRequestMsg:
		m.quitting = true
		return m, tea.Quit

	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		switch msg.String() {
		case "p":
			m.opts.Watcher.TogglePause()
			m.stats = m.opts.Watcher.Stats()
			return m, nil
		case "r":
			reload := m.opts.Reload
			if reload == nil {
				return m, nil
			}
			return m, func() tea.Msg { return reloadDoneMsg{reload()} }
		case "s":
			m.showStats = !m.showStats
			return m, nil
		case "q", "ctrl+c", "esc":
			m.quitting = true
			return m, tea.Quit
		}
	}
	return m, nil
}

// push appends a timestamped line to the bounded scrollback.
func (m *watchModel) push(line string) {
	line = strings.TrimRight(line, "\n")
	if line == "" {
		return
	}
	stamped := infoStyle.Render(time.Now().Format("15:04:05")) + " " + line
	m.lines = append(m.lines, stamped)
	if len(m.lines) > maxLines {
		m.lines = m.lines[len(m.lines)-maxLines:]
	}
}

func (m *watchModel) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder

	b.WriteString(m.spin.View())
	b.WriteString(headerStyle.Render("deploy-reloaded watch"))
	b.WriteString(infoStyle.Render("  " + m.opts.Workspace))
	b.WriteString("\n")

	status := fmt.Sprintf("  %s, %s",
		util.Plural(m.opts.Packages, "package", "packages"),
		util.Plural(m.opts.Targets, "target", "targets"))
	if m.running > 0 {
		status += fmt.Sprintf(", running %d", m.running)
	}
	if m.stats.Paused {
		status += "  " + pausedStyle.Render("[paused]")
	}
	b.WriteString(infoStyle.Render(status))
	b.WriteString("\n")

	if m.showStats {
		uptime := time.Since(m.started).Round(time.Second)
		b.WriteString(statsStyle.Render(fmt.Sprintf(
			"  events %d, triggered %d, skipped %d, pending %d, uptime %s",
			m.stats.Events, m.stats.Triggered, m.stats.Skipped, m.stats.Pending, uptime)))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	show := m.lines
	if len(show) > 12 {
		show = show[len(show)-12:]
	}
	for _, l := range show {
		b.WriteString(truncateLine(l, m.width))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(footerStyle.Render("  [p] pause  [r] reload  [s] stats  [q] quit"))
	b.WriteString("\n")
	return b.String()
}

func truncateLine(s string, width int) string {
	if width <= 0 || lipgloss.Width(s) <= width {
		return s
	}
	// crude cut, keeps the view from wrapping
	runes := []rune(s)
	if len(runes) > width {
		runes = runes[:width]
	}
	return string(runes)
}

// lineForwarder adapts SafePrinter output into program messages. A
// bounded channel keeps printers from ever blocking on the view.
type lineForwarder struct {
	ch chan string
}

func newLineForwarder() *lineForwarder {
	return &lineForwarder{ch: make(chan string, 256)}
}

func (f *lineForwarder) Write(p []byte) (int, error) {
	s := strings.ReplaceAll(string(p), "\r\x1b[K", "")
	s = strings.ReplaceAll(s, "\x1b[2J\x1b[1;1H", "")
	for _, part := range strings.Split(s, "\n") {
		line := strings.TrimRight(part, "\r ")
		if strings.TrimSpace(line) == "" {
			continue
		}
		select {
		case f.ch <- line:
		default:
			// view is behind, drop rather than stall a transfer
		}
	}
	return len(p), nil
}

// RunWatch runs the watcher and the status view until the context ends
// or the user quits. Console output from the rest of the application is
// routed into the view while it is up.
func RunWatch(ctx context.Context, opts WatchOptions) error {
	if opts.Watcher == nil {
		return fmt.Errorf("tui: watch options need a watcher")
	}

	wctx, cancel := context.WithCancel(ctx)
	defer cancel()

	m := newWatchModel(opts)
	p := tea.NewProgram(m)

	fw := newLineForwarder()
	util.Default.SetOutput(fw)
	defer util.Default.SetOutput(nil)

	pumpDone := make(chan struct{})
	go func() {
		defer close(pumpDone)
		for {
			select {
			case line, ok := <-fw.ch:
				if !ok {
					return
				}
				p.Send(lineMsg(line))
			case <-wctx.Done():
				return
			}
		}
	}()

	onStarted := func(id, target string) { p.Send(opDeltaMsg(1)) }
	onFinished := func(id, target, state string) { p.Send(opDeltaMsg(-1)) }
	onCancelled := func(id, target string) { p.Send(opDeltaMsg(-1)) }
	_ = events.GlobalBus.Subscribe(events.EventOperationStarted, onStarted)
	_ = events.GlobalBus.Subscribe(events.EventOperationFinished, onFinished)
	_ = events.GlobalBus.Subscribe(events.EventOperationCancelled, onCancelled)
	defer func() {
		_ = events.GlobalBus.Unsubscribe(events.EventOperationStarted, onStarted)
		_ = events.GlobalBus.Unsubscribe(events.EventOperationFinished, onFinished)
		_ = events.GlobalBus.Unsubscribe(events.EventOperationCancelled, onCancelled)
	}()

	go func() {
		err := opts.Watcher.Run(wctx)
		p.Send(watcherDoneMsg{err})
	}()
	go func() {
		<-wctx.Done()
		p.Send(quitRequestMsg{})
	}()

	final, err := p.Run()
	cancel()
	<-pumpDone
	if err != nil {
		return err
	}
	if fm, ok := final.(*watchModel); ok && fm.err != nil {
		return fm.err
	}
	return nil
}
