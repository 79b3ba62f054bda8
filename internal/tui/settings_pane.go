package tui

import (
	"fmt"
	"strconv"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/parallel-agents/internal/config"
)

// SettingsPaneModel edits the dispatch policy and saves it to a config file.
// Changes apply to the next run; a running orchestrator keeps its config.
type SettingsPaneModel struct {
	form        *huh.Form
	config      *config.Config
	globalPath  string
	projectPath string
	width       int
	height      int
	visible     bool
	savedTo     string
	err         error
	fields      *settingsFields
}

// settingsFields holds the form bindings. It lives on the heap so the form's
// pointers stay valid while the pane is copied by value through Update.
type settingsFields struct {
	saveTarget          string
	decomposition       string
	balancing           string
	maxRetries          string
	microtaskTimeout    string
	complexityThreshold string
	lengthThreshold     string
}

func NewSettingsPaneModel(cfg *config.Config, globalPath, projectPath string) SettingsPaneModel {
	m := SettingsPaneModel{
		config:      cfg,
		globalPath:  globalPath,
		projectPath: projectPath,
		fields:      &settingsFields{},
	}
	m.loadFields()
	m.buildForm()
	return m
}

// loadFields copies the current config into the form bindings.
func (m *SettingsPaneModel) loadFields() {
	m.fields.saveTarget = "project"
	m.fields.decomposition = string(m.config.Decomposition.Strategy)
	m.fields.balancing = string(m.config.LoadBalancing.Strategy)
	m.fields.maxRetries = strconv.Itoa(m.config.LoadBalancing.MaxRetries)
	m.fields.microtaskTimeout = m.config.Decomposition.TimeoutPerMicrotask.Std().String()
	m.fields.complexityThreshold = strconv.Itoa(m.config.Processor.ComplexityThreshold)
	m.fields.lengthThreshold = strconv.Itoa(m.config.Processor.LengthThreshold)
}

func (m *SettingsPaneModel) buildForm() {
	m.form = huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Key("decomposition").
				Title("Decomposition Strategy").
				Options(
					huh.NewOption("Hybrid", string(config.StrategyHybrid)),
					huh.NewOption("Domain", string(config.StrategyDomain)),
					huh.NewOption("Complexity", string(config.StrategyComplexity)),
					huh.NewOption("Manual", string(config.StrategyManual)),
				).
				Value(&m.fields.decomposition),

			huh.NewInput().
				Key("microtaskTimeout").
				Title("Timeout Per Microtask").
				Value(&m.fields.microtaskTimeout).
				Placeholder("2m").
				Validate(validateDuration),
		).Title("Decomposition"),

		huh.NewGroup(
			huh.NewSelect[string]().
				Key("balancing").
				Title("Load Balancing Strategy").
				Options(
					huh.NewOption("Least loaded", string(config.BalanceLeastLoaded)),
					huh.NewOption("Round robin", string(config.BalanceRoundRobin)),
					huh.NewOption("Weighted", string(config.BalanceWeighted)),
					huh.NewOption("Priority", string(config.BalancePriority)),
					huh.NewOption("Affinity", string(config.BalanceAffinity)),
				).
				Value(&m.fields.balancing),

			huh.NewInput().
				Key("maxRetries").
				Title("Max Retries").
				Value(&m.fields.maxRetries).
				Placeholder("2").
				Validate(validateCount),
		).Title("Dispatch"),

		huh.NewGroup(
			huh.NewInput().
				Key("complexityThreshold").
				Title("Parallel From Complexity").
				Value(&m.fields.complexityThreshold).
				Placeholder("6").
				Validate(validateCount),

			huh.NewInput().
				Key("lengthThreshold").
				Title("Parallel From Content Length").
				Value(&m.fields.lengthThreshold).
				Placeholder("200").
				Validate(validateCount),

			huh.NewSelect[string]().
				Key("saveTarget").
				Title("Save To").
				Options(
					huh.NewOption(fmt.Sprintf("Project (%s)", m.projectPath), "project"),
					huh.NewOption(fmt.Sprintf("Global (%s)", m.globalPath), "global"),
				).
				Value(&m.fields.saveTarget),
		).Title("Processor"),
	)
}

func validateDuration(s string) error {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("not a duration: %q", s)
	}
	if d < 0 {
		return fmt.Errorf("must not be negative")
	}
	return nil
}

func validateCount(s string) error {
	n, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("not a number: %q", s)
	}
	if n < 0 {
		return fmt.Errorf("must not be negative")
	}
	return nil
}

func (m SettingsPaneModel) Init() tea.Cmd {
	return m.form.Init()
}

func (m SettingsPaneModel) Update(msg tea.Msg) (SettingsPaneModel, tea.Cmd) {
	if !m.visible {
		return m, nil
	}

	if k, ok := msg.(tea.KeyMsg); ok && k.String() == "esc" {
		m.visible = false
		return m, nil
	}

	form, cmd := m.form.Update(msg)
	if f, ok := form.(*huh.Form); ok {
		m.form = f
	}

	if m.form.State == huh.StateCompleted {
		target := m.projectPath
		if m.fields.saveTarget == "global" {
			target = m.globalPath
		}
		if err := m.save(target); err != nil {
			m.err = err
		} else {
			m.err = nil
			m.savedTo = target
			m.visible = false
		}
	}

	return m, cmd
}

// save applies the form to a copy of the config, validates it and writes it to path.
// The shown config only changes when the write succeeds.
func (m *SettingsPaneModel) save(path string) error {
	next := *m.config
	if err := m.applyForm(&next); err != nil {
		return err
	}
	if err := next.Validate(); err != nil {
		return err
	}
	if err := config.Save(&next, path); err != nil {
		return err
	}
	*m.config = next
	return nil
}

// applyForm copies the form bindings into cfg.
func (m *SettingsPaneModel) applyForm(cfg *config.Config) error {
	timeout, err := time.ParseDuration(m.fields.microtaskTimeout)
	if err != nil {
		return fmt.Errorf("timeout per microtask: %w", err)
	}
	retries, err := strconv.Atoi(m.fields.maxRetries)
	if err != nil {
		return fmt.Errorf("max retries: %w", err)
	}
	complexity, err := strconv.Atoi(m.fields.complexityThreshold)
	if err != nil {
		return fmt.Errorf("complexity threshold: %w", err)
	}
	length, err := strconv.Atoi(m.fields.lengthThreshold)
	if err != nil {
		return fmt.Errorf("length threshold: %w", err)
	}

	cfg.Decomposition.Strategy = config.DecompositionStrategy(m.fields.decomposition)
	cfg.Decomposition.TimeoutPerMicrotask = config.Duration(timeout)
	cfg.LoadBalancing.Strategy = config.BalancingStrategy(m.fields.balancing)
	cfg.LoadBalancing.MaxRetries = retries
	cfg.Processor.ComplexityThreshold = complexity
	cfg.Processor.LengthThreshold = length
	return nil
}

func (m SettingsPaneModel) View() string {
	if !m.visible {
		return ""
	}

	content := m.form.View()
	if m.err != nil {
		content = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9")).
			Bold(true).
			Render(fmt.Sprintf("✗ Error saving: %v", m.err))
	}

	style := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("62")).
		Padding(1, 2).
		Width(max(m.width-4, 1)).
		Height(max(m.height-4, 1))

	title := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("62")).
		Render("⚙ Settings")

	return lipgloss.JoinVertical(lipgloss.Left, title, style.Render(content))
}

func (m *SettingsPaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
	if m.form != nil {
		m.form = m.form.WithWidth(max(w-8, 10)).WithHeight(max(h-8, 5))
	}
}

// SetVisible shows or hides the pane. Showing it rebuilds the form from the current config.
func (m *SettingsPaneModel) SetVisible(v bool) {
	m.visible = v
	m.err = nil
	if v {
		m.loadFields()
		m.buildForm()
		if m.width > 0 {
			m.SetSize(m.width, m.height)
		}
	}
}

func (m SettingsPaneModel) IsVisible() bool {
	return m.visible
}

// SavedTo returns the path of the last successful save.
func (m SettingsPaneModel) SavedTo() string {
	return m.savedTo
}
