package tui

import (
	"fmt"
	"slices"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/aristath/parallel-agents/internal/events"
)

type poolRow struct {
	status  string
	size    int
	updated time.Time
}

// PoolPaneModel shows the last reported status and size of every pool.
type PoolPaneModel struct {
	pools   map[string]poolRow
	width   int
	height  int
	focused bool
}

func NewPoolPaneModel() PoolPaneModel {
	return PoolPaneModel{pools: make(map[string]poolRow)}
}

func (m PoolPaneModel) Update(msg tea.Msg) (PoolPaneModel, tea.Cmd) {
	if e, ok := msg.(events.PoolStatusEvent); ok {
		m.pools[e.AgentType] = poolRow{status: e.Status, size: e.Size, updated: e.Timestamp}
	}
	return m, nil
}

func (m PoolPaneModel) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString(titled("Pools"))

	if len(m.pools) == 0 {
		b.WriteString(StyleStatusPending.Render("No pools reported"))
	} else {
		fmt.Fprintf(&b, "%s\n", StyleLabel.Render(fmt.Sprintf("%-12s %-12s %4s  %s", "TYPE", "STATUS", "SIZE", "UPDATED")))
		types := make([]string, 0, len(m.pools))
		for t := range m.pools {
			types = append(types, t)
		}
		slices.Sort(types)
		for _, t := range types {
			row := m.pools[t]
			fmt.Fprintf(&b, "%-12s %s %4d  %s\n", t, poolStatusStyle(row.status), row.size, stamp(row.updated))
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

func poolStatusStyle(status string) string {
	padded := fmt.Sprintf("%-12s", status)
	switch status {
	case "active":
		return StyleStatusComplete.Render(padded)
	case "scaling", "draining":
		return StyleStatusRunning.Render(padded)
	case "unknown":
		return StyleStatusFailed.Render(padded)
	default:
		return StyleStatusPending.Render(padded)
	}
}

func (m *PoolPaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
}

func (m *PoolPaneModel) SetFocused(focused bool) {
	m.focused = focused
}
