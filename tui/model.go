// Package tui shows the progress of an exploration run in the terminal.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/guptarohit/asciigraph"

	"github.com/brensch/panotree/explorer"
)

const (
	historyCapacity = 600
	recentLines     = 10
)

var (
	headerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("86")).Bold(true).MarginBottom(1)
	labelStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Width(14)
	valueStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	bestStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("205")).Bold(true)
	graphStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("49")).Padding(1, 0)
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	helpStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("240")).MarginTop(1)
)

type TickMsg time.Time

// DoneMsg ends the program. Err is the run's error, if any.
type DoneMsg struct {
	Err error
}

type Model struct {
	total   int
	updates <-chan explorer.Iteration
	cancel  context.CancelFunc

	startTime time.Time
	now       time.Time

	iterations int
	best       float64
	bestNode   string
	treeSize   int
	values     []float64
	recent     []string

	renderTime time.Duration
	scoreTime  time.Duration

	finished bool
	err      error
}

// New returns a model reading iterations from updates until it is closed.
// cancel is called when the user quits.
func New(total int, updates <-chan explorer.Iteration, cancel context.CancelFunc) Model {
	now := time.Now()
	return Model{
		total:     total,
		updates:   updates,
		cancel:    cancel,
		startTime: now,
		now:       now,
		values:    make([]float64, 0, historyCapacity),
	}
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Millisecond*250, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

func waitForUpdate(updates <-chan explorer.Iteration) tea.Cmd {
	return func() tea.Msg {
		it, ok := <-updates
		if !ok {
			return DoneMsg{}
		}
		return it
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(waitForUpdate(m.updates), tickCmd())
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "q" || msg.String() == "ctrl+c" {
			if m.cancel != nil {
				m.cancel()
			}
			return m, tea.Quit
		}
	case TickMsg:
		m.now = time.Time(msg)
		if m.finished {
			return m, nil
		}
		return m, tickCmd()
	case explorer.Iteration:
		m.observe(msg)
		return m, waitForUpdate(m.updates)
	case DoneMsg:
		m.finished = true
		if msg.Err != nil {
			m.err = msg.Err
		}
		return m, tea.Quit
	}
	return m, nil
}

func (m *Model) observe(it explorer.Iteration) {
	m.iterations = it.Index + 1
	m.best = it.Best
	m.bestNode = it.BestNode
	m.renderTime = it.RenderTime
	m.scoreTime = it.ScoreTime

	if len(m.values) == historyCapacity {
		m.values = m.values[1:]
	}
	m.values = append(m.values, it.Value)

	line := fmt.Sprintf("#%-4d %s depth %-2d value %.4f b %.4f", it.Index, it.Record.ID, it.Depth, it.Value, it.Record.B)
	m.recent = append([]string{line}, m.recent...)
	if len(m.recent) > recentLines {
		m.recent = m.recent[:recentLines]
	}
}

func (m Model) row(label, value string) string {
	return labelStyle.Render(label) + valueStyle.Render(value) + "\n"
}

func (m Model) View() string {
	var s strings.Builder
	s.WriteString(headerStyle.Render("panotree exploration") + "\n")

	elapsed := m.now.Sub(m.startTime)
	rate := 0.0
	if elapsed.Seconds() >= 1 {
		rate = float64(m.iterations) / elapsed.Seconds()
	}

	s.WriteString(m.row("Iteration", fmt.Sprintf("%d/%d", m.iterations, m.total)))
	s.WriteString(m.row("Duration", elapsed.Round(time.Second).String()))
	s.WriteString(m.row("Iter/Sec", fmt.Sprintf("%.2f", rate)))
	s.WriteString(m.row("Render", m.renderTime.Round(time.Millisecond).String()))
	s.WriteString(m.row("Score", m.scoreTime.Round(time.Millisecond).String()))
	if m.bestNode != "" {
		s.WriteString(labelStyle.Render("Best") + bestStyle.Render(fmt.Sprintf("%.4f at %s", m.best, m.bestNode)) + "\n")
	}

	if len(m.values) > 1 {
		chart := asciigraph.Plot(m.values, asciigraph.Height(8), asciigraph.Width(60), asciigraph.Caption("Value"))
		s.WriteString(graphStyle.Render(chart) + "\n")
	}

	s.WriteString("\nRecent nodes:\n")
	for _, line := range m.recent {
		s.WriteString(line + "\n")
	}

	if m.err != nil {
		s.WriteString(errStyle.Render("error: "+m.err.Error()) + "\n")
	}
	if m.finished {
		s.WriteString(helpStyle.Render("Finished.") + "\n")
	} else {
		s.WriteString(helpStyle.Render("Press q to quit.") + "\n")
	}
	return s.String()
}

// Iterations reports how many iterations the model has seen.
func (m Model) Iterations() int { return m.iterations }

func (m Model) Err() error { return m.err }
