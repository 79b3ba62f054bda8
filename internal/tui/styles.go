package tui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/parallel-agents/internal/task"
)

// Border styles
var (
	StyleFocusedBorder = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(lipgloss.Color("62"))

	StyleUnfocusedBorder = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(lipgloss.Color("240"))
)

// Status styles
var (
	StyleStatusRunning = lipgloss.NewStyle().
				Foreground(lipgloss.Color("yellow")).
				Bold(true)

	StyleStatusComplete = lipgloss.NewStyle().
				Foreground(lipgloss.Color("green")).
				Bold(true)

	StyleStatusFailed = lipgloss.NewStyle().
				Foreground(lipgloss.Color("red")).
				Bold(true)

	StyleStatusRetrying = lipgloss.NewStyle().
				Foreground(lipgloss.Color("208"))

	StyleStatusPending = lipgloss.NewStyle().
				Foreground(lipgloss.Color("240"))
)

// UI element styles
var (
	StyleTitle = lipgloss.NewStyle().
			Bold(true).
			Padding(0, 1)

	StyleSelected = lipgloss.NewStyle().
			Background(lipgloss.Color("62")).
			Foreground(lipgloss.Color("0"))

	StyleLabel = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))

	StyleHelp = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))
)

// strategyStyle colors a merge strategy tag by how much of the task succeeded.
func strategyStyle(strategy string) lipgloss.Style {
	switch strategy {
	case task.MergeAllSuccess, task.MergeSingle:
		return StyleStatusComplete
	case task.MergePartialSuccess:
		return StyleStatusRetrying
	case task.MergeStrategyError:
		return StyleStatusFailed
	default:
		return StyleStatusPending
	}
}

// titled renders a pane title with an underline of the same width.
func titled(title string) string {
	t := StyleTitle.Render(title)
	return t + "\n" + StyleLabel.Render(strings.Repeat("─", lipgloss.Width(t))) + "\n\n"
}
