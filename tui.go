package main

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"callguard/session"
)

// TUI message types
type AnalysisMsg struct{ Update session.Update }
type SessionErrorMsg struct{ Text string }
type SessionStateMsg struct{ State session.State }
type tickMsg time.Time

var (
	tuiProgram *tea.Program
	tuiMu      sync.Mutex
)

func tuiSend(msg tea.Msg) {
	tuiMu.Lock()
	p := tuiProgram
	tuiMu.Unlock()
	if p != nil {
		p.Send(msg)
	}
}

var (
	styleStreaming  = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	styleIdle       = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	styleTransition = lipgloss.NewStyle().Foreground(lipgloss.Color("226"))
	styleSuspicious = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	styleClean      = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	styleDim        = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	styleInfo       = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	styleError      = lipgloss.NewStyle().Foreground(lipgloss.Color("208"))
	styleHelp       = lipgloss.NewStyle().Foreground(lipgloss.Color("239"))
	styleHelpBold   = lipgloss.NewStyle().Foreground(lipgloss.Color("239")).Bold(true)
)

type tuiModel struct {
	state         session.State
	frame         int
	width, height int

	modeLine   string
	deviceLine string

	fragments int
	last      *session.Update
	history   []string // rendered suspicion history lines
	lastError string
}

func NewTUIProgram(modeLine, deviceLine string) *tea.Program {
	m := tuiModel{modeLine: modeLine, deviceLine: deviceLine}
	return tea.NewProgram(m, tea.WithAltScreen())
}

func tuiTick() tea.Cmd {
	return tea.Tick(120*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m tuiModel) Init() tea.Cmd {
	return tuiTick()
}

func (m tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			if ctrl := controller(); ctrl != nil {
				go ctrl.Stop()
			}
			return m, tea.Quit
		case "s":
			if ctrl := controller(); ctrl != nil {
				go ctrl.Start(context.Background())
			}
		case "x":
			if ctrl := controller(); ctrl != nil {
				go ctrl.Stop()
			}
		}

	case tickMsg:
		m.frame++
		return m, tuiTick()

	case SessionStateMsg:
		m.state = msg.State
		if msg.State == session.Initializing {
			m.fragments = 0
			m.last = nil
			m.history = nil
			m.lastError = ""
		}

	case AnalysisMsg:
		u := msg.Update
		m.fragments++
		m.last = &u
		m.history = m.history[:0]
		for _, f := range u.History {
			m.history = append(m.history, fmt.Sprintf("%6.1fs  %.2f  %s",
				f.Timestamp, f.Confidence, strings.Join(f.Reasons, ", ")))
		}

	case SessionErrorMsg:
		m.lastError = msg.Text
	}
	return m, nil
}

func confidenceBar(confidence float64, width int) string {
	filled := int(confidence * float64(width))
	if filled > width {
		filled = width
	}
	bar := strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
	style := styleClean
	if confidence >= 0.5 {
		style = styleSuspicious
	}
	return style.Render(bar)
}

func (m tuiModel) statusLine() string {
	switch m.state {
	case session.Streaming:
		pulse := "●"
		if m.frame%8 < 4 {
			pulse = "◉"
		}
		return styleStreaming.Render(pulse + " LISTENING")
	case session.Initializing:
		return styleTransition.Render("◌ CONNECTING")
	case session.Stopping:
		return styleTransition.Render("◌ STOPPING")
	}
	return styleIdle.Render("○ IDLE")
}

func (m tuiModel) View() string {
	if m.width == 0 || m.height == 0 {
		return "Loading..."
	}

	var lines []string
	lines = append(lines, m.statusLine())
	lines = append(lines, styleInfo.Render(m.modeLine))
	lines = append(lines, styleDim.Render(m.deviceLine))
	lines = append(lines, "")

	if m.last != nil {
		f := m.last.Fragment
		verdict := styleClean.Render("clean")
		if f.Suspicious {
			verdict = styleSuspicious.Render("SUSPICIOUS")
		}
		lines = append(lines, fmt.Sprintf("%s  %s %.2f",
			verdict, confidenceBar(f.Confidence, 20), f.Confidence))
		if len(f.Reasons) > 0 {
			lines = append(lines, styleInfo.Render("  "+strings.Join(f.Reasons, ", ")))
		}
		if len(f.Keywords) > 0 {
			lines = append(lines, styleDim.Render("  keywords: "+strings.Join(f.Keywords, ", ")))
		}
	} else if m.state == session.Streaming {
		lines = append(lines, styleDim.Render("waiting for analysis..."))
	}
	lines = append(lines, "")

	if len(m.history) > 0 {
		lines = append(lines, styleSuspicious.Render(fmt.Sprintf("suspicion history (%d)", len(m.history))))
		show := m.history
		if len(show) > 8 {
			show = show[len(show)-8:]
		}
		for _, h := range show {
			lines = append(lines, styleError.Render("  "+h))
		}
		lines = append(lines, "")
	}

	if m.lastError != "" {
		lines = append(lines, styleError.Render("! "+m.lastError))
		lines = append(lines, "")
	}

	if m.fragments > 0 {
		lines = append(lines, styleDim.Render(fmt.Sprintf("%d fragments analyzed", m.fragments)))
	}

	lines = append(lines,
		styleHelpBold.Render("s")+styleHelp.Render(" start  ")+
			styleHelpBold.Render("x")+styleHelp.Render(" stop  ")+
			styleHelpBold.Render("q")+styleHelp.Render(" quit"),
		styleHelp.Render("callguard "+version),
	)

	return lipgloss.NewStyle().
		Padding(1, 2).
		Width(m.width).
		Height(m.height).
		Render(strings.Join(lines, "\n"))
}
