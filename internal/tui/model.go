// Package tui is the live dashboard of a submission: microtask attempts,
// progress of the graph, and pool status, driven by the event bus.
package tui

import (
	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/parallel-agents/internal/config"
	"github.com/aristath/parallel-agents/internal/events"
)

// PaneID identifies which pane is focused.
type PaneID int

const (
	PaneMicrotasks PaneID = iota
	PaneProgress
	PanePools
	paneCount
)

// Model is the root Bubble Tea model for the dashboard.
type Model struct {
	microtaskPane MicrotaskPaneModel
	progressPane  ProgressPaneModel
	poolPane      PoolPaneModel
	settingsPane  SettingsPaneModel
	help          help.Model
	keys          keyMap
	focusedPane   PaneID
	eventSub      <-chan events.Event
	width         int
	height        int
	quitting      bool
	showSettings  bool
}

// New subscribes to every topic of bus and returns the dashboard model.
// cfg is edited in place by the settings pane.
func New(bus *events.EventBus, cfg *config.Config, globalPath, projectPath string) Model {
	m := Model{
		microtaskPane: NewMicrotaskPaneModel(),
		progressPane:  NewProgressPaneModel(),
		poolPane:      NewPoolPaneModel(),
		settingsPane:  NewSettingsPaneModel(cfg, globalPath, projectPath),
		help:          help.New(),
		keys:          defaultKeyMap(),
		focusedPane:   PaneMicrotasks,
		eventSub:      bus.SubscribeAll(256),
	}
	m.updateFocusStates()
	return m
}

func (m Model) Init() tea.Cmd {
	return waitForEvent(m.eventSub)
}

// busClosedMsg is delivered once the bus closes the subscription.
type busClosedMsg struct{}

func waitForEvent(sub <-chan events.Event) tea.Cmd {
	return func() tea.Msg {
		event, ok := <-sub
		if !ok {
			return busClosedMsg{}
		}
		return event
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		// The settings form is modal.
		if m.showSettings {
			if key.Matches(msg, m.keys.Close) {
				m.showSettings = false
				m.settingsPane.SetVisible(false)
				return m, nil
			}
			var cmd tea.Cmd
			m.settingsPane, cmd = m.settingsPane.Update(msg)
			if !m.settingsPane.IsVisible() {
				m.showSettings = false
			}
			return m, cmd
		}

		switch {
		case key.Matches(msg, m.keys.Quit):
			m.quitting = true
			return m, tea.Quit
		case key.Matches(msg, m.keys.Settings):
			m.showSettings = true
			m.settingsPane.SetVisible(true)
			cmds = append(cmds, m.settingsPane.Init())
		case key.Matches(msg, m.keys.Next):
			m.focusedPane = (m.focusedPane + 1) % paneCount
			m.updateFocusStates()
		case key.Matches(msg, m.keys.Prev):
			m.focusedPane = (m.focusedPane + paneCount - 1) % paneCount
			m.updateFocusStates()
		case key.Matches(msg, m.keys.Pane1):
			m.focusedPane = PaneMicrotasks
			m.updateFocusStates()
		case key.Matches(msg, m.keys.Pane2):
			m.focusedPane = PaneProgress
			m.updateFocusStates()
		case key.Matches(msg, m.keys.Pane3):
			m.focusedPane = PanePools
			m.updateFocusStates()
		default:
			if m.focusedPane == PaneMicrotasks {
				var cmd tea.Cmd
				m.microtaskPane, cmd = m.microtaskPane.Update(msg)
				cmds = append(cmds, cmd)
			}
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.computeLayout()
		m.settingsPane.SetSize(msg.Width, msg.Height)

	case events.TaskSubmittedEvent, events.TaskFinishedEvent, events.ProgressEvent:
		var cmd tea.Cmd
		m.progressPane, cmd = m.progressPane.Update(msg)
		cmds = append(cmds, cmd, waitForEvent(m.eventSub))

	case events.TaskDecomposedEvent:
		var cmd tea.Cmd
		m.progressPane, _ = m.progressPane.Update(msg)
		m.microtaskPane, cmd = m.microtaskPane.Update(msg)
		cmds = append(cmds, cmd, waitForEvent(m.eventSub))

	case events.MicrotaskDispatchedEvent, events.MicrotaskCompletedEvent, events.MicrotaskFailedEvent:
		var cmd tea.Cmd
		m.microtaskPane, cmd = m.microtaskPane.Update(msg)
		cmds = append(cmds, cmd, waitForEvent(m.eventSub))

	case events.PoolStatusEvent:
		m.poolPane, _ = m.poolPane.Update(msg)
		cmds = append(cmds, waitForEvent(m.eventSub))

	case refreshMsg:
		var cmd tea.Cmd
		m.microtaskPane, cmd = m.microtaskPane.Update(msg)
		cmds = append(cmds, cmd)

	case busClosedMsg:
		// Nothing more will arrive; the view stays up until the user quits.

	default:
		if m.showSettings {
			var cmd tea.Cmd
			m.settingsPane, cmd = m.settingsPane.Update(msg)
			cmds = append(cmds, cmd)
		}
	}

	return m, tea.Batch(cmds...)
}

func (m Model) View() string {
	if m.quitting {
		return ""
	}
	if m.width == 0 || m.height == 0 {
		return "Initializing..."
	}
	if m.showSettings {
		return m.settingsPane.View()
	}

	right := lipgloss.JoinVertical(lipgloss.Left, m.progressPane.View(), m.poolPane.View())
	body := lipgloss.JoinHorizontal(lipgloss.Top, m.microtaskPane.View(), right)
	return lipgloss.JoinVertical(lipgloss.Left, body, StyleHelp.Render(m.help.View(m.keys)))
}

// Outcome returns the merged result once the watched task has finished.
func (m Model) Outcome() *Outcome {
	return m.progressPane.Outcome()
}

// computeLayout gives the microtask pane the left 55% and stacks progress over pools on the right.
func (m *Model) computeLayout() {
	leftWidth := (m.width * 55) / 100
	rightWidth := m.width - leftWidth
	availableHeight := m.height - 1 // help bar
	progressHeight := (availableHeight * 60) / 100

	m.microtaskPane.SetSize(leftWidth, availableHeight)
	m.progressPane.SetSize(rightWidth, progressHeight)
	m.poolPane.SetSize(rightWidth, availableHeight-progressHeight)
	m.help.Width = m.width

	m.updateFocusStates()
}

func (m *Model) updateFocusStates() {
	m.microtaskPane.SetFocused(m.focusedPane == PaneMicrotasks)
	m.progressPane.SetFocused(m.focusedPane == PaneProgress)
	m.poolPane.SetFocused(m.focusedPane == PanePools)
}
