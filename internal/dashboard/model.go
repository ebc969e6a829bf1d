package dashboard

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/devpoll/devpoll/internal/errors"
	"github.com/devpoll/devpoll/internal/poll"
	"github.com/devpoll/devpoll/internal/sink"
	"github.com/devpoll/devpoll/internal/ui"
)

// sparkWidth is how many recent latencies a row keeps.
const sparkWidth = 20

// HostEntry holds the state of a single host in the dashboard.
type HostEntry struct {
	Name        string
	Address     string
	State       poll.State
	Total       int
	Done        int
	Failures    int
	Streak      int
	LastLatency time.Duration
	LastError   string
	LastOutput  string
	Latencies   []float64
	StartTime   time.Time
	Elapsed     time.Duration
}

// Model is the Bubble Tea model for the dashboard.
type Model struct {
	hosts      []HostEntry
	index      map[string]int
	selected   int
	width      int
	height     int
	spinner    spinner.Model
	completed  bool
	showOutput bool
	summary    *poll.Summary
	err        error
	cancelFunc context.CancelFunc
	quitting   bool
	startTime  time.Time
	totalTime  time.Duration
}

// NewModel creates a dashboard with one pending row per job.
func NewModel(jobs []poll.PollJob, cancelFunc context.CancelFunc) Model {
	m := Model{
		hosts:      make([]HostEntry, 0, len(jobs)),
		index:      make(map[string]int, len(jobs)),
		spinner:    ui.NewSpinner(),
		cancelFunc: cancelFunc,
		startTime:  time.Now(),
	}
	for _, j := range jobs {
		m.index[j.Host.ID()] = len(m.hosts)
		m.hosts = append(m.hosts, HostEntry{
			Name:    j.Host.ID(),
			Address: j.Host.Address,
			State:   poll.StateIdle,
			Total:   j.TotalTicks(),
		})
	}
	return m
}

// Init returns the initial command for the model.
func (m Model) Init() tea.Cmd {
	return m.spinner.Tick
}

// Update handles messages and updates the model state.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case ResultMsg:
		m.apply(msg.Result)
		return m, nil

	case RunDoneMsg:
		m.completed = true
		m.summary = msg.Summary
		m.err = msg.Err
		m.totalTime = time.Since(m.startTime)
		if msg.Summary != nil {
			m.totalTime = msg.Summary.Duration()
		}
		// Don't quit immediately - let user see results
		return m, nil
	}

	return m, nil
}

func (m *Model) apply(r poll.PollResult) {
	i, ok := m.index[r.Host]
	if !ok {
		i = len(m.hosts)
		m.index[r.Host] = i
		m.hosts = append(m.hosts, HostEntry{Name: r.Host, Address: r.Address})
	}
	h := &m.hosts[i]

	if h.StartTime.IsZero() {
		h.StartTime = time.Now()
	}
	if r.End {
		h.State = r.State
		h.Done = r.Ticks
		h.Elapsed = time.Since(h.StartTime)
		return
	}

	h.State = poll.StateRunning
	h.Done = r.Seq + 1
	h.LastLatency = r.Latency
	h.Latencies = append(h.Latencies, float64(r.Latency.Microseconds())/1000)
	if len(h.Latencies) > sparkWidth {
		h.Latencies = h.Latencies[len(h.Latencies)-sparkWidth:]
	}
	if r.Failed() {
		h.Failures++
		h.Streak++
		h.LastError = r.Kind.String() + ": " + r.ErrString()
		return
	}
	h.Streak = 0
	h.LastError = ""
	h.LastOutput = r.Output
}

// handleKey processes keyboard input.
func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "j", "down":
		if m.selected < len(m.hosts)-1 {
			m.selected++
		}
		return m, nil

	case "k", "up":
		if m.selected > 0 {
			m.selected--
		}
		return m, nil

	case "g", "home":
		m.selected = 0
		return m, nil

	case "G", "end":
		if len(m.hosts) > 0 {
			m.selected = len(m.hosts) - 1
		}
		return m, nil

	case "o", "enter":
		m.showOutput = !m.showOutput
		return m, nil

	case "q", "ctrl+c":
		if m.cancelFunc != nil {
			m.cancelFunc()
		}
		m.quitting = true
		return m, tea.Quit
	}

	return m, nil
}

// View renders the dashboard.
func (m Model) View() string {
	if m.quitting {
		return ""
	}

	var sb strings.Builder
	sb.WriteString(m.renderHeader())
	sb.WriteString("\n")
	if m.err != nil && !errors.IsCode(m.err, errors.ErrSink) {
		sb.WriteString(errorStyle.Render(ui.SymbolWarning + " " + errors.OneLine(m.err)))
		sb.WriteString("\n")
	}

	mode := GetLayoutMode(m.width)
	for i, h := range m.hosts {
		sb.WriteString(m.renderHostLine(h, i == m.selected, mode))
		sb.WriteString("\n")
	}

	if m.showOutput && m.selected < len(m.hosts) {
		sb.WriteString(m.renderOutput(m.hosts[m.selected]))
	}

	if ShowFooter(m.height) {
		sb.WriteString("\n")
		sb.WriteString(m.renderFooter())
	}
	return sb.String()
}

func (m Model) renderHeader() string {
	var pending, running, completed, aborted int
	for _, h := range m.hosts {
		switch h.State {
		case poll.StateIdle:
			pending++
		case poll.StateRunning:
			running++
		case poll.StateCompleted:
			completed++
		case poll.StateAborted:
			aborted++
		}
	}

	var status string
	if m.completed {
		if aborted > 0 {
			status = summaryBadStyle.Render(fmt.Sprintf("%d aborted", aborted)) +
				footerStyle.Render(", ") +
				summaryOKStyle.Render(fmt.Sprintf("%d completed", completed))
		} else {
			status = summaryOKStyle.Render(fmt.Sprintf("All %d completed", completed))
		}
		if m.summary != nil {
			total, failed := m.summary.Results()
			status += footerStyle.Render(fmt.Sprintf(", %d/%d polls failed", failed, total))
		}
		status += footerStyle.Render(" in " + sink.FormatDuration(m.totalTime))
	} else {
		var parts []string
		if running > 0 {
			parts = append(parts, runningStyle.Render(fmt.Sprintf("%d polling", running)))
		}
		if pending > 0 {
			parts = append(parts, pendingStyle.Render(fmt.Sprintf("%d pending", pending)))
		}
		if completed > 0 {
			parts = append(parts, completedStyle.Render(fmt.Sprintf("%d completed", completed)))
		}
		if aborted > 0 {
			parts = append(parts, abortedStyle.Render(fmt.Sprintf("%d aborted", aborted)))
		}
		status = strings.Join(parts, footerStyle.Render(" | "))
	}

	return headerStyle.Render("Hosts") + " " + status
}

func (m Model) nameWidth() int {
	w := 0
	for _, h := range m.hosts {
		if n := lipgloss.Width(h.Name); n > w {
			w = n
		}
	}
	return w
}

func (m Model) renderHostLine(h HostEntry, selected bool, mode LayoutMode) string {
	var symbol string
	var style lipgloss.Style
	switch h.State {
	case poll.StateRunning:
		symbol = m.spinner.View()
		style = runningStyle
	case poll.StateCompleted:
		symbol = ui.SymbolComplete
		style = completedStyle
	case poll.StateAborted:
		symbol = ui.SymbolSkipped
		style = abortedStyle
	default:
		symbol = ui.SymbolPending
		style = pendingStyle
	}

	line := style.Render(symbol) + " " + ui.PadRight(h.Name, m.nameWidth())
	if mode != LayoutMinimal && h.Address != "" && h.Address != h.Name {
		line += " " + addressStyle.Render("["+h.Address+"]")
	}
	if h.Total > 0 {
		line += " " + mutedStyle.Render(fmt.Sprintf("%d/%d", h.Done, h.Total))
	} else if h.Done > 0 {
		line += " " + mutedStyle.Render(fmt.Sprintf("%d", h.Done))
	}
	if mode == LayoutStandard && len(h.Latencies) > 0 {
		color := ui.ColorSuccess
		if h.Streak > 0 {
			color = ui.ColorError
		}
		line += " " + ui.RenderSparkline(h.Latencies, sparkWidth, color)
	}
	if h.Done > 0 {
		line += " " + mutedStyle.Render(sink.FormatDuration(h.LastLatency))
	}
	if h.Failures > 0 {
		line += " " + errorStyle.Render(fmt.Sprintf("%s%d", ui.SymbolFail, h.Failures))
	}
	if h.State.Terminal() && h.Elapsed > 0 {
		line += " " + mutedStyle.Render("in "+sink.FormatDuration(h.Elapsed))
	}
	if h.LastError != "" && mode != LayoutMinimal {
		line += " " + errorStyle.Render(h.LastError)
	}

	if selected {
		return selectedStyle.Render(line)
	}
	return unselectedStyle.Render(line)
}

// maxOutputLines bounds the output pane.
const maxOutputLines = 10

func (m Model) renderOutput(h HostEntry) string {
	text := strings.TrimRight(strings.ReplaceAll(h.LastOutput, "\r\n", "\n"), "\n")
	if text == "" {
		text = "(no output yet)"
	}
	lines := strings.Split(text, "\n")
	if len(lines) > maxOutputLines {
		lines = append(lines[:maxOutputLines], fmt.Sprintf("... %d more lines", len(lines)-maxOutputLines))
	}
	return outputStyle.Render(strings.Join(lines, "\n")) + "\n"
}

func (m Model) renderFooter() string {
	if m.completed {
		return footerStyle.Render("o: toggle output | q: exit")
	}
	return footerStyle.Render("j/k: navigate | o: toggle output | q: cancel and exit")
}
