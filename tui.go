package main

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/kwv/icpstep/cloud"
)

var (
	colorCyan  = lipgloss.Color("36")
	colorGreen = lipgloss.Color("35")
	colorRed   = lipgloss.Color("167")
	colorDim   = lipgloss.Color("240")

	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(colorCyan)
	reportStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorDim).
			Padding(0, 1)
	okStyle   = lipgloss.NewStyle().Foreground(colorGreen)
	errStyle  = lipgloss.NewStyle().Foreground(colorRed)
	helpStyle = lipgloss.NewStyle().Foreground(colorDim)
)

// stepMsg carries the outcome of a step trigger.
type stepMsg struct {
	report cloud.StepReport
	err    error
}

// renderMsg carries the outcome of writing the view.
type renderMsg struct {
	path string
	err  error
}

// stepModel is the bubbletea model of the terminal stepping viewer: space
// runs one step trigger, r writes the render, q quits.
type stepModel struct {
	report   cloud.StepReport
	status   string
	failed   bool
	stepping bool

	step   func() (cloud.StepReport, error)
	render func() (string, error)
}

func newStepModel(initial cloud.StepReport, step func() (cloud.StepReport, error), render func() (string, error)) stepModel {
	return stepModel{report: initial, step: step, render: render}
}

func (m stepModel) Init() tea.Cmd {
	return nil
}

func (m stepModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case " ":
			// steps are serialized; ignore the key while one runs
			if m.stepping {
				return m, nil
			}
			m.stepping = true
			m.status = "stepping..."
			m.failed = false
			step := m.step
			return m, func() tea.Msg {
				report, err := step()
				return stepMsg{report: report, err: err}
			}
		case "r":
			render := m.render
			return m, func() tea.Msg {
				path, err := render()
				return renderMsg{path: path, err: err}
			}
		}
	case stepMsg:
		m.stepping = false
		m.report = msg.report
		if msg.err != nil {
			m.status = fmt.Sprintf("step failed: %v", msg.err)
			m.failed = true
		} else {
			m.status = ""
		}
	case renderMsg:
		if msg.err != nil {
			m.status = fmt.Sprintf("render failed: %v", msg.err)
			m.failed = true
		} else {
			m.status = "wrote " + msg.path
			m.failed = false
		}
	}
	return m, nil
}

func (m stepModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("icpstep"))
	b.WriteString(helpStyle.Render("  session " + m.report.SessionID))
	b.WriteString("\n\n")
	b.WriteString(reportStyle.Render(strings.TrimRight(m.report.String(), "\n")))
	b.WriteString("\n")

	if m.status != "" {
		style := okStyle
		if m.failed {
			style = errStyle
		}
		b.WriteString(style.Render(m.status))
		b.WriteString("\n")
	}

	b.WriteString(helpStyle.Render("space step  r render  q quit"))
	b.WriteString("\n")
	return b.String()
}
