// SPDX-License-Identifier: MIT
package tui

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"melpipe/internal/transport"
)

// RefreshInterval is how often the monitor redraws.
const RefreshInterval = 33 * time.Millisecond

var (
	barStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#25A065"))

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#A8A8A8")).
			Width(labelWidth).
			Align(lipgloss.Right)

	pausedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFDF5")).
			Background(lipgloss.Color("#C04040")).
			Padding(0, 1)
)

const labelWidth = 8

var (
	quitKey  = key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "Quit"))
	pauseKey = key.NewBinding(key.WithKeys("p", " "), key.WithHelp("p", "Pause"))
)

// Monitor is a transport that keeps the most recent feature frame for a
// terminal view. Send never blocks on the UI.
type Monitor struct {
	mu     sync.Mutex
	latest transport.Frame
	fresh  bool
	closed bool
	count  uint64
}

// NewMonitor returns an empty Monitor.
func NewMonitor() *Monitor {
	return &Monitor{}
}

// Send replaces the frame the next redraw shows.
func (m *Monitor) Send(f transport.Frame) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return transport.ErrClosed
	}
	m.latest.Seq = f.Seq
	m.latest.Timestamp = f.Timestamp
	m.latest.Kind = f.Kind
	m.latest.Values = append(m.latest.Values[:0], f.Values...)
	m.fresh = true
	m.count++
	return nil
}

// Close marks the stream finished.
func (m *Monitor) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

// snapshot copies the latest frame into dst if it changed since the last
// call.
func (m *Monitor) snapshot(dst *transport.Frame) (changed, closed bool, count uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.fresh {
		dst.Seq = m.latest.Seq
		dst.Timestamp = m.latest.Timestamp
		dst.Kind = m.latest.Kind
		dst.Values = append(dst.Values[:0], m.latest.Values...)
		m.fresh = false
		changed = true
	}
	return changed, m.closed, m.count
}

type tickMsg time.Time

func tick() tea.Cmd {
	return tea.Tick(RefreshInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// MonitorModel is the Bubble Tea model drawing one bar per feature value.
type MonitorModel struct {
	source   *Monitor
	title    string
	labels   []string
	frame    transport.Frame
	received uint64
	ended    bool
	paused   bool

	viewport viewport.Model
	ready    bool
	width    int
}

// NewMonitorModel returns a model reading from source. labels name the
// rows; missing labels fall back to the value index.
func NewMonitorModel(source *Monitor, title string, labels []string) MonitorModel {
	return MonitorModel{
		source: source,
		title:  title,
		labels: labels,
	}
}

// Init starts the redraw timer.
func (m MonitorModel) Init() tea.Cmd {
	return tick()
}

// Update handles redraw ticks, resizes and key presses.
func (m MonitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		if !m.ready {
			m.viewport = viewport.New(msg.Width, msg.Height-4)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = msg.Height - 4
		}
		m.viewport.SetContent(m.renderBars())

	case tickMsg:
		changed, ended, count := m.source.snapshot(&m.frame)
		m.received, m.ended = count, ended
		if changed && !m.paused && m.ready {
			m.viewport.SetContent(m.renderBars())
		}
		cmds = append(cmds, tick())

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, quitKey):
			return m, tea.Quit
		case key.Matches(msg, pauseKey):
			m.paused = !m.paused
		}
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

// View renders the UI
func (m MonitorModel) View() string {
	if !m.ready {
		return "Initializing..."
	}

	title := titleStyle.Render(m.title)
	if m.paused {
		title += " " + pausedStyle.Render("PAUSED")
	}
	status := fmt.Sprintf("%s • frame %d • %d received", m.frame.Kind, m.frame.Seq, m.received)
	if m.ended {
		status += " • stream ended"
	}
	help := infoStyle.Render(fmt.Sprintf("%s • %s • ↑/↓: Scroll", helpText(quitKey), helpText(pauseKey)))

	return fmt.Sprintf("%s\n%s\n%s\n%s", title, infoStyle.Render(status), m.viewport.View(), help)
}

func helpText(b key.Binding) string {
	return b.Help().Key + ": " + b.Help().Desc
}

// renderBars draws one row per value, scaled between the frame's minimum
// and maximum.
func (m MonitorModel) renderBars() string {
	values := m.frame.Values
	if len(values) == 0 {
		return "Waiting for frames..."
	}

	barWidth := max(m.width-labelWidth-12, 10)
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range values {
		lo, hi = min(lo, v), max(hi, v)
	}

	var sb strings.Builder
	for i, v := range values {
		label := fmt.Sprintf("%d", i)
		if i < len(m.labels) {
			label = m.labels[i]
		}
		sb.WriteString(labelStyle.Render(label))
		sb.WriteString(" ")
		sb.WriteString(barStyle.Render(Bar(v, lo, hi, barWidth)))
		sb.WriteString(fmt.Sprintf(" %8.2f\n", v))
	}
	return sb.String()
}

// Bar draws v on a width-cell scale from lo to hi, padded with spaces.
func Bar(v, lo, hi float64, width int) string {
	if width <= 0 {
		return ""
	}
	frac := 0.0
	if hi > lo {
		frac = (v - lo) / (hi - lo)
	}
	if math.IsNaN(frac) {
		frac = 0
	}
	n := int(math.Round(min(max(frac, 0), 1) * float64(width)))
	return strings.Repeat("█", n) + strings.Repeat(" ", width-n)
}

// HzLabels formats band centre frequencies as row labels.
func HzLabels(centers []float64) []string {
	labels := make([]string, len(centers))
	for i, hz := range centers {
		if hz >= 1000 {
			labels[i] = fmt.Sprintf("%.1fk", hz/1000)
		} else {
			labels[i] = fmt.Sprintf("%.0f", hz)
		}
	}
	return labels
}

// RunMonitor shows frames from source until the user quits or ctx ends.
func RunMonitor(ctx context.Context, source *Monitor, title string, labels []string) error {
	p := tea.NewProgram(
		NewMonitorModel(source, title, labels),
		tea.WithAltScreen(),
		tea.WithContext(ctx),
	)
	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}

var _ transport.Transport = (*Monitor)(nil)
