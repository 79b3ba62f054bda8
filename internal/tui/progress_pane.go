package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/aristath/parallel-agents/internal/events"
)

// Outcome is the merged result of the submission being watched.
type Outcome struct {
	Success       bool
	MergeStrategy string
	Confidence    float64
	Err           string
	Duration      time.Duration
}

// ProgressPaneModel shows microtask counts for the current task and its outcome.
type ProgressPaneModel struct {
	taskID    string
	mode      string
	total     int
	completed int
	running   int
	failed    int
	pending   int
	outcome   *Outcome
	bar       progress.Model
	width     int
	height    int
	focused   bool
}

func NewProgressPaneModel() ProgressPaneModel {
	return ProgressPaneModel{
		bar: progress.New(progress.WithDefaultGradient(), progress.WithoutPercentage()),
	}
}

func (m ProgressPaneModel) Update(msg tea.Msg) (ProgressPaneModel, tea.Cmd) {
	switch msg := msg.(type) {
	case events.TaskSubmittedEvent:
		m = ProgressPaneModel{bar: m.bar, width: m.width, height: m.height, focused: m.focused}
		m.taskID = msg.ID
		m.mode = msg.Mode

	case events.TaskDecomposedEvent:
		m.total = len(msg.Microtasks)
		m.pending = m.total

	case events.ProgressEvent:
		m.total = msg.Total
		m.completed = msg.Completed
		m.running = msg.Running
		m.failed = msg.Failed
		m.pending = msg.Pending

	case events.TaskFinishedEvent:
		m.outcome = &Outcome{
			Success:       msg.Success,
			MergeStrategy: msg.MergeStrategy,
			Confidence:    msg.Confidence,
			Err:           msg.Err,
			Duration:      msg.Duration,
		}
	}

	return m, nil
}

// Fraction is the share of microtasks in a terminal state.
func (m ProgressPaneModel) Fraction() float64 {
	if m.total == 0 {
		return 0
	}
	return float64(m.completed+m.failed) / float64(m.total)
}

// Outcome returns the finished result, or nil while the task runs.
func (m ProgressPaneModel) Outcome() *Outcome {
	return m.outcome
}

func (m ProgressPaneModel) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString(titled("Progress"))

	if m.taskID == "" {
		b.WriteString(StyleStatusPending.Render("No task submitted"))
	} else {
		fmt.Fprintf(&b, "%s %s (%s)\n\n", StyleLabel.Render("Task:"), m.taskID, m.mode)
		fmt.Fprintf(&b, "Total:     %d\n", m.total)
		fmt.Fprintf(&b, "Completed: %s\n", StyleStatusComplete.Render(fmt.Sprint(m.completed)))
		fmt.Fprintf(&b, "Running:   %s\n", StyleStatusRunning.Render(fmt.Sprint(m.running)))
		fmt.Fprintf(&b, "Failed:    %s\n", StyleStatusFailed.Render(fmt.Sprint(m.failed)))
		fmt.Fprintf(&b, "Pending:   %s\n\n", StyleStatusPending.Render(fmt.Sprint(m.pending)))

		if m.total > 0 {
			fmt.Fprintf(&b, "%s  %d/%d\n", m.bar.ViewAs(m.Fraction()), m.completed+m.failed, m.total)
		}
		if o := m.outcome; o != nil {
			b.WriteString("\n")
			fmt.Fprintf(&b, "%s %s  confidence %.2f  in %v\n",
				StyleLabel.Render("Merged:"),
				strategyStyle(o.MergeStrategy).Render(o.MergeStrategy),
				o.Confidence,
				o.Duration.Round(time.Millisecond))
			if o.Err != "" {
				b.WriteString(StyleStatusFailed.Render(o.Err))
				b.WriteString("\n")
			}
		}
	}

	style := StyleUnfocusedBorder
	if m.focused {
		style = StyleFocusedBorder
	}
	return style.
		Width(max(m.width-2, 1)).
		Height(max(m.height-2, 1)).
		Render(b.String())
}

func (m *ProgressPaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
	m.bar.Width = max(min(w-16, 40), 10)
}

func (m *ProgressPaneModel) SetFocused(focused bool) {
	m.focused = focused
}
