package cli

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"github.com/devpoll/devpoll/internal/poll"
	"github.com/devpoll/devpoll/internal/sink"
	"github.com/devpoll/devpoll/internal/ui"
)

// printSummary writes the end-of-run report: one headline, then a line
// per host that failed at least once.
func printSummary(w io.Writer, s *poll.Summary, logDir string, noColor bool) {
	r := lipgloss.NewRenderer(w)
	if noColor {
		r.SetColorProfile(termenv.Ascii)
	}
	ok := r.NewStyle().Foreground(ui.ColorSuccess)
	bad := r.NewStyle().Foreground(ui.ColorError)
	muted := r.NewStyle().Foreground(ui.ColorMuted)

	fmt.Fprintln(w)
	if s.Success() {
		fmt.Fprintln(w, ok.Render(ui.SymbolSuccess)+" "+pollSummaryLine(s))
	} else {
		fmt.Fprintln(w, bad.Render(ui.SymbolFail)+" "+pollSummaryLine(s))
	}

	for _, h := range s.Hosts {
		if h.Failures == 0 && h.State != poll.StateAborted {
			continue
		}
		sym := ui.SymbolFail
		if h.State == poll.StateAborted {
			sym = ui.SymbolSkipped
		}
		line := fmt.Sprintf("  %s %s %d/%d failed, avg %s", bad.Render(sym), h.Host, h.Failures, h.Results, avgLatency(h))
		if kinds := formatKinds(h.ByKind); kinds != "" {
			line += muted.Render(" (" + kinds + ")")
		}
		if h.State == poll.StateAborted {
			line += bad.Render(" aborted")
		}
		if h.LastError != "" {
			line += muted.Render(": " + h.LastError)
		}
		fmt.Fprintln(w, line)
	}

	if logDir != "" {
		fmt.Fprintln(w, muted.Render("Logs: "+logDir))
	}
}

func formatKinds(byKind map[poll.ErrorKind]int) string {
	parts := make([]string, 0, len(byKind))
	for k, n := range byKind {
		if n > 0 && k != poll.KindNone {
			parts = append(parts, fmt.Sprintf("%s %d", k, n))
		}
	}
	sort.Strings(parts)
	return strings.Join(parts, ", ")
}

// avgLatency formats a host's mean latency, or "-" with no results.
func avgLatency(h *poll.HostSummary) string {
	if h.Results == 0 {
		return "-"
	}
	return sink.FormatDuration(h.AvgLatency())
}
