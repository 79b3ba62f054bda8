package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/parallel-agents/internal/events"
)

// Microtask display states.
const (
	statusPending   = "pending"
	statusRunning   = "running"
	statusRetrying  = "retrying"
	statusCompleted = "completed"
	statusFailed    = "failed"
)

// MicrotaskState is what the dashboard knows about one microtask.
type MicrotaskState struct {
	ID           string
	Type         string
	AgentType    string
	AgentID      string
	Dependencies []string
	Status       string
	Attempts     int
	Log          []string
	Duration     time.Duration
}

// MicrotaskPaneModel lists microtasks and shows the attempt log of the selected one.
type MicrotaskPaneModel struct {
	microtasks  map[string]*MicrotaskState
	order       []string
	selectedIdx int
	viewport    viewport.Model
	keys        keyMap
	width       int
	height      int
	focused     bool
	updateTag   int
}

func NewMicrotaskPaneModel() MicrotaskPaneModel {
	return MicrotaskPaneModel{
		microtasks: make(map[string]*MicrotaskState),
		viewport:   viewport.New(0, 0),
		keys:       defaultKeyMap(),
	}
}

// refreshMsg debounces viewport refreshes while events stream in.
type refreshMsg struct {
	tag int
}

func (m MicrotaskPaneModel) Update(msg tea.Msg) (MicrotaskPaneModel, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		if !m.focused {
			break
		}
		switch {
		case key.Matches(msg, m.keys.Down):
			if m.selectedIdx < len(m.order)-1 {
				m.selectedIdx++
				m.updateViewportContent()
			}
		case key.Matches(msg, m.keys.Up):
			if m.selectedIdx > 0 {
				m.selectedIdx--
				m.updateViewportContent()
			}
		default:
			m.viewport, cmd = m.viewport.Update(msg)
		}
		return m, cmd

	case events.TaskDecomposedEvent:
		for _, info := range msg.Microtasks {
			mt := m.ensure(info.ID)
			mt.Type = info.Type
			mt.AgentType = info.AgentType
			mt.Dependencies = info.Dependencies
			line := fmt.Sprintf("planned for %s agents", info.AgentType)
			if len(info.Dependencies) > 0 {
				line += fmt.Sprintf(" after %s", strings.Join(info.Dependencies, ", "))
			}
			mt.Log = append(mt.Log, line)
		}
		if len(m.order) > 0 {
			m.updateViewportContent()
		}
		return m, nil

	case events.MicrotaskDispatchedEvent:
		mt := m.ensure(msg.MicrotaskID)
		mt.Status = statusRunning
		mt.AgentID = msg.AgentID
		mt.Attempts = msg.Attempt
		mt.Log = append(mt.Log, fmt.Sprintf("%s attempt %d dispatched to %s", stamp(msg.Timestamp), msg.Attempt, msg.AgentID))
		return m, m.refresh(msg.MicrotaskID)

	case events.MicrotaskCompletedEvent:
		mt := m.ensure(msg.MicrotaskID)
		mt.Status = statusCompleted
		mt.Duration = msg.Duration
		mt.Log = append(mt.Log, fmt.Sprintf("%s completed by %s in %v", stamp(msg.Timestamp), msg.AgentID, msg.Duration.Round(time.Millisecond)))
		return m, m.refresh(msg.MicrotaskID)

	case events.MicrotaskFailedEvent:
		mt := m.ensure(msg.MicrotaskID)
		mt.Status = statusFailed
		if msg.Retrying {
			mt.Status = statusRetrying
		}
		what := "failed"
		if msg.Timeout {
			what = "timed out"
		}
		line := fmt.Sprintf("%s attempt %d %s", stamp(msg.Timestamp), msg.Attempt, what)
		if msg.AgentID != "" {
			line += " on " + msg.AgentID
		}
		if msg.Err != nil {
			line += ": " + msg.Err.Error()
		}
		mt.Log = append(mt.Log, line)
		return m, m.refresh(msg.MicrotaskID)

	case refreshMsg:
		if msg.tag == m.updateTag {
			m.updateViewportContent()
		}
	}

	return m, nil
}

// ensure returns the state for id, adding a pending entry the first time it is seen.
func (m *MicrotaskPaneModel) ensure(id string) *MicrotaskState {
	if mt, ok := m.microtasks[id]; ok {
		return mt
	}
	mt := &MicrotaskState{ID: id, Status: statusPending}
	m.microtasks[id] = mt
	m.order = append(m.order, id)
	return mt
}

// refresh schedules a viewport update when id is the selected microtask.
func (m *MicrotaskPaneModel) refresh(id string) tea.Cmd {
	if m.selectedID() != id {
		return nil
	}
	m.updateTag++
	tag := m.updateTag
	return tea.Tick(50*time.Millisecond, func(time.Time) tea.Msg {
		return refreshMsg{tag: tag}
	})
}

func (m MicrotaskPaneModel) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}

	listWidth := min(32, m.width/2)
	list := m.renderList(listWidth)
	detail := lipgloss.NewStyle().
		Width(max(m.width-listWidth-4, 1)).
		Height(max(m.height-2, 1)).
		Render(m.viewport.View())

	style := StyleUnfocusedBorder
	if m.focused {
		style = StyleFocusedBorder
	}
	return style.
		Width(max(m.width-2, 1)).
		Height(max(m.height-2, 1)).
		Render(lipgloss.JoinHorizontal(lipgloss.Top, list, detail))
}

func (m MicrotaskPaneModel) renderList(width int) string {
	var b strings.Builder
	b.WriteString(titled("Microtasks"))

	if len(m.order) == 0 {
		b.WriteString(StyleStatusPending.Render("Waiting..."))
	}
	for i, id := range m.order {
		mt := m.microtasks[id]
		name := id
		if mt.AgentType != "" {
			name = fmt.Sprintf("%s [%s]", id, mt.AgentType)
		}
		if limit := width - 3; limit > 3 && lipgloss.Width(name) > limit {
			name = name[:limit-3] + "..."
		}
		line := StatusIcon(mt.Status) + " " + name
		if i == m.selectedIdx {
			line = StyleSelected.Render(line)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}

	return lipgloss.NewStyle().
		Width(width).
		Height(max(m.height-2, 1)).
		Render(b.String())
}

// StatusIcon returns a styled status indicator.
func StatusIcon(status string) string {
	switch status {
	case statusRunning:
		return StyleStatusRunning.Render("●")
	case statusRetrying:
		return StyleStatusRetrying.Render("↻")
	case statusCompleted:
		return StyleStatusComplete.Render("✓")
	case statusFailed:
		return StyleStatusFailed.Render("✗")
	default:
		return StyleStatusPending.Render("○")
	}
}

func (m MicrotaskPaneModel) selectedID() string {
	if m.selectedIdx >= 0 && m.selectedIdx < len(m.order) {
		return m.order[m.selectedIdx]
	}
	return ""
}

// Selected returns the selected microtask, or nil before any arrived.
func (m MicrotaskPaneModel) Selected() *MicrotaskState {
	return m.microtasks[m.selectedID()]
}

func (m *MicrotaskPaneModel) updateViewportContent() {
	mt := m.Selected()
	if mt == nil {
		m.viewport.SetContent("Waiting for microtasks...")
		return
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s  %s\n", StyleLabel.Render("type"), mt.Type)
	fmt.Fprintf(&b, "%s  %s\n", StyleLabel.Render("agent"), valueOr(mt.AgentID, "-"))
	fmt.Fprintf(&b, "%s  %d\n\n", StyleLabel.Render("attempts"), mt.Attempts)
	b.WriteString(strings.Join(mt.Log, "\n"))

	m.viewport.SetContent(b.String())
	m.viewport.GotoBottom()
}

func (m *MicrotaskPaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h

	listWidth := min(32, w/2)
	m.viewport.Width = max(w-listWidth-4, 10)
	m.viewport.Height = max(h-4, 5)
}

func (m *MicrotaskPaneModel) SetFocused(focused bool) {
	m.focused = focused
}

func stamp(t time.Time) string {
	if t.IsZero() {
		return "--:--:--"
	}
	return t.Format("15:04:05")
}

func valueOr(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
