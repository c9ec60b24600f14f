package tui

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"neuroseq/engine"
	"neuroseq/theme"
)

// maxChainRows caps how many chain events the monitor lists.
const maxChainRows = 16

type Model struct {
	Engine   *engine.Engine
	Theme    *theme.Theme
	Refresh  time.Duration
	quitting bool
}

type tickMsg time.Time

func NewModel(eng *engine.Engine, th *theme.Theme, refresh time.Duration) Model {
	if refresh <= 0 {
		refresh = 250 * time.Millisecond
	}
	return Model{
		Engine:  eng,
		Theme:   th,
		Refresh: refresh,
	}
}

func tick(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m Model) Init() tea.Cmd {
	return tick(m.Refresh)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit

		case "p", " ":
			m.Engine.SetPlaying(!m.Engine.Playing())

		case "+", "=":
			m.Engine.SetTempo(m.Engine.Tempo() + 5)

		case "-", "_":
			if t := m.Engine.Tempo(); t > 5 {
				m.Engine.SetTempo(t - 5)
			}
		}

	case tickMsg:
		return m, tick(m.Refresh)
	}

	return m, nil
}

func (m Model) View() string {
	if m.quitting {
		return ""
	}

	s := m.Engine.Stats()

	headerStyle := lipgloss.NewStyle().Foreground(m.Theme.Accent())
	dimStyle := lipgloss.NewStyle().Foreground(m.Theme.Muted())
	warnStyle := lipgloss.NewStyle().Foreground(m.Theme.Warning())

	playState := "STOP"
	if m.Engine.Playing() {
		playState = "PLAY"
	}

	header := headerStyle.Render(fmt.Sprintf(
		"neuroseq  %s  %3dbpm  tick:%d", playState, s.Tempo, s.Playhead))

	stats := fmt.Sprintf(
		"events:%-4d  heap A free:%d/%d  heap B:%4.0f%%  ring:%d/%d\nids:%-4d  synapses:%-4d  commit:%s",
		s.Active, s.FreeA, s.ZoneA, s.UtilizationB*100,
		s.RingDepth, s.RingCap,
		s.IDLive, s.SynLive, commitName(s.CommitState))

	var out strings.Builder
	out.WriteString("\n")
	out.WriteString(header)
	out.WriteString("\n\n")
	out.WriteString(stats)
	out.WriteString("\n\n")
	out.WriteString(m.chainView(dimStyle))
	out.WriteString("\n")
	out.WriteString(dimStyle.Render("space:play  +/-:tempo  q:quit"))

	if s.PanicCode != 0 {
		out.WriteString("\n")
		out.WriteString(warnStyle.Render(fmt.Sprintf("KERNEL PANIC code=%d", s.PanicCode)))
	}

	return out.String()
}

func (m Model) chainView(dim lipgloss.Style) string {
	var rows []string
	playhead := m.Engine.Playhead()

	m.Engine.Traverse(func(p engine.Ptr, v engine.NodeView) bool {
		if len(rows) >= maxChainRows {
			rows = append(rows, dim.Render("  ..."))
			return false
		}
		marker := " "
		if v.Tick <= playhead && playhead < v.Tick+v.Dur {
			marker = string(m.Theme.Symbols.StepPlayhead)
		}
		muted := ""
		if v.Flags&engine.FlagMuted != 0 {
			muted = " [muted]"
		}
		rows = append(rows, fmt.Sprintf("%s %6d %-8s d1:%-3d d2:%-3d dur:%d%s",
			marker, v.Tick, v.Op, v.Data1, v.Data2, v.Dur, muted))
		return true
	})

	if len(rows) == 0 {
		return dim.Render("  (chain empty)")
	}
	return strings.Join(rows, "\n")
}

func commitName(state uint32) string {
	switch state {
	case 1:
		return "PENDING"
	case 2:
		return "ACK"
	default:
		return "IDLE"
	}
}
