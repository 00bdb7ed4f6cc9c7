package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/Iron-Ham/krenk/internal/orchestrator"
	"github.com/Iron-Ham/krenk/internal/util"
)

const defaultLineWidth = 120

// Printer writes engine events to a console, one line per event.
type Printer struct {
	w       io.Writer
	styled  bool
	verbose bool
	width   int
	styles  printerStyles
}

type printerStyles struct {
	stage    lipgloss.Style
	ok       lipgloss.Style
	muted    lipgloss.Style
	director lipgloss.Style
	warn     lipgloss.Style
	fail     lipgloss.Style
}

func defaultStyles() printerStyles {
	return printerStyles{
		stage:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7D56F4")),
		ok:       lipgloss.NewStyle().Foreground(lipgloss.Color("#04B575")),
		muted:    lipgloss.NewStyle().Foreground(lipgloss.Color("#6C6C6C")),
		director: lipgloss.NewStyle().Foreground(lipgloss.Color("#00AFFF")),
		warn:     lipgloss.NewStyle().Foreground(lipgloss.Color("#FFAF00")),
		fail:     lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FF5F87")),
	}
}

// NewPrinter returns a printer for w. Styled output uses terminal colors;
// verbose output includes worker output and resource samples.
func NewPrinter(w io.Writer, styled, verbose bool) *Printer {
	p := &Printer{w: w, styled: styled, verbose: verbose, width: defaultLineWidth, styles: defaultStyles()}
	if f, ok := w.(*os.File); ok {
		if width, _, err := term.GetSize(int(f.Fd())); err == nil && width > 0 {
			p.width = width
		}
	}
	return p
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// Print writes ev if it has a console representation.
func (p *Printer) Print(ev orchestrator.Event) {
	if line := p.Format(ev); line != "" {
		fmt.Fprintln(p.w, line)
	}
}

// Format renders ev as a single line, or "" when ev is not shown.
func (p *Printer) Format(ev orchestrator.Event) string {
	var tag, body string
	var style lipgloss.Style

	switch {
	case ev.Type == orchestrator.EventStage:
		tag, body, style = p.stageLine(ev)
	case ev.IsDirector():
		tag, style = "director", p.styles.director
		body = fmt.Sprintf("%s: %s", ev.Role, ev.Message)
	default:
		switch ev.Type {
		case orchestrator.EventAgentSpawned:
			if !p.verbose {
				return ""
			}
			tag, style = "spawn", p.styles.muted
			body = fmt.Sprintf("%s pid %d", ev.Role, ev.PID)
		case orchestrator.EventAgentOutput:
			line := util.FirstLine(ev.Message)
			if !p.verbose || line == "" {
				return ""
			}
			tag, style = ev.Role, p.styles.muted
			body = line
		case orchestrator.EventAgentDone:
			if !p.verbose || ev.Result == nil {
				return ""
			}
			tag, style = "agent", p.styles.muted
			body = fmt.Sprintf("%s exited %d after %s", ev.Role, ev.Result.ExitCode, ev.Result.Duration.Round(time.Second))
			if ev.Result.Cost > 0 {
				body += fmt.Sprintf(" ($%.2f)", ev.Result.Cost)
			}
		case orchestrator.EventAgentError:
			tag, style = "error", p.styles.fail
			body = fmt.Sprintf("%s: %s", ev.Role, ev.Message)
		case orchestrator.EventSupervisorWarning:
			tag, style = "warn", p.styles.warn
			body = fmt.Sprintf("%s (pid %d): %s", ev.Role, ev.PID, ev.Message)
		case orchestrator.EventSupervisorKilled:
			tag, style = "kill", p.styles.fail
			body = fmt.Sprintf("%s (pid %d): %s", ev.Role, ev.PID, ev.Message)
		case orchestrator.EventSupervisorStats:
			if !p.verbose || len(ev.Stats) == 0 {
				return ""
			}
			tag, style = "stats", p.styles.muted
			body = statsSummary(ev)
		default:
			// run:complete and run:failed are summarized by the caller
			return ""
		}
	}

	prefix := "[" + tag + "]"
	if p.styled {
		prefix = style.Render(prefix)
	}
	return util.TruncateANSI(prefix+" "+body, p.width)
}

func (p *Printer) stageLine(ev orchestrator.Event) (string, string, lipgloss.Style) {
	switch ev.StageStatus {
	case orchestrator.StageStarted:
		return "stage", fmt.Sprintf("%s (%s)", ev.Message, ev.Role), p.styles.stage
	case orchestrator.StageCompleted:
		return "ok", ev.Message, p.styles.ok
	case orchestrator.StageSkipped:
		return "skip", ev.Message, p.styles.muted
	case orchestrator.StageRejected:
		return "skip", ev.Message + " (rejected)", p.styles.muted
	case orchestrator.StageRevision:
		return "revise", ev.Message, p.styles.warn
	default:
		return string(ev.StageStatus), ev.Message, p.styles.muted
	}
}

func statsSummary(ev orchestrator.Event) string {
	parts := make([]string, 0, len(ev.Stats))
	for _, s := range ev.Stats {
		parts = append(parts, fmt.Sprintf("%s %dMB %.0f%%", s.Role, s.RSSBytes/(1024*1024), s.CPUPercent))
	}
	return strings.Join(parts, ", ")
}
