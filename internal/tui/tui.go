package tui

import (
	"fmt"
	"os"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"boorusync/internal/plugins"
)

// entry is one plugin flattened for display: its attributes plus the
// capabilities discovered through type assertions.
type entry struct {
	name         string
	domains      []string
	categories   []string
	capabilities []string
	extractor    string
}

func describe(p plugins.Plugin) entry {
	attrs := p.Attributes()
	e := entry{name: attrs.Name, domains: attrs.Domains, categories: attrs.Categories}
	if _, ok := p.(plugins.MetadataPlugin); ok {
		e.capabilities = append(e.capabilities, "source")
	}
	if _, ok := p.(plugins.DestinationPlugin); ok {
		e.capabilities = append(e.capabilities, "destination")
	}
	if _, ok := p.(plugins.ValidationPlugin); ok {
		e.capabilities = append(e.capabilities, "url validator")
	}
	if _, ok := p.(plugins.APIPlugin); ok {
		e.capabilities = append(e.capabilities, "api")
	}
	if _, ok := p.(plugins.Searchable); ok {
		e.capabilities = append(e.capabilities, "searchable")
	}
	if _, ok := p.(plugins.TagExporter); ok {
		e.capabilities = append(e.capabilities, "tag export")
	}
	if override, ok := p.(plugins.ExtractorOverride); ok {
		e.extractor = override.ExtractorPrefix()
	}
	return e
}

// model is the state of the plugin browser: the flattened registry on
// the left, the selected plugin's details on the right.
type model struct {
	entries     []entry
	selectedIdx int
	width       int
	height      int
	quitting    bool
}

// InitialModel builds the browser state from every registered plugin.
func InitialModel(reg *plugins.Registry) model {
	var entries []entry
	for _, p := range reg.All() {
		entries = append(entries, describe(p))
	}
	return model{entries: entries}
}

// Init is the first command that will be run. We don't need any.
func (m model) Init() tea.Cmd {
	return nil
}

// Update handles messages and updates the model accordingly.
func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			return m, tea.Quit
		case "up", "k":
			if m.selectedIdx > 0 {
				m.selectedIdx--
			}
		case "down", "j":
			if m.selectedIdx < len(m.entries)-1 {
				m.selectedIdx++
			}
		}
	}

	return m, cmd
}

// View renders the two panes.
func (m model) View() string {
	if m.quitting {
		return "Quitting...\n"
	}

	docStyle := lipgloss.NewStyle().Margin(1, 2)
	listStyle := lipgloss.NewStyle().Border(lipgloss.NormalBorder(), true).Padding(1).Width(m.width/2 - 5)
	detailStyle := lipgloss.NewStyle().Border(lipgloss.NormalBorder(), true).Padding(1).Width(m.width/2 - 5)

	listContent := "Plugins\n\n"
	if len(m.entries) == 0 {
		listContent += "No plugins registered."
	} else {
		for i, e := range m.entries {
			cursor := " "
			if i == m.selectedIdx {
				cursor = ">"
			}
			listContent += fmt.Sprintf("%s %s\n", cursor, e.name)
		}
	}

	detailContent := "Details\n\n"
	if len(m.entries) == 0 || m.selectedIdx >= len(m.entries) {
		detailContent += "Nothing selected."
	} else {
		e := m.entries[m.selectedIdx]
		detailContent += fmt.Sprintf("Name: %s\n", e.name)
		detailContent += fmt.Sprintf("Domains: %s\n", orNone(e.domains))
		detailContent += fmt.Sprintf("Categories: %s\n", orNone(e.categories))
		detailContent += fmt.Sprintf("Capabilities: %s\n", orNone(e.capabilities))
		if e.extractor != "" {
			detailContent += fmt.Sprintf("Extractor: %s\n", e.extractor)
		}
	}

	leftPane := listStyle.Render(listContent)
	rightPane := detailStyle.Render(detailContent)

	mainContent := lipgloss.JoinHorizontal(lipgloss.Top, leftPane, rightPane)

	help := "\n\n[↑/k] Up | [↓/j] Down | [q] Quit"

	return docStyle.Render(mainContent + help)
}

func orNone(values []string) string {
	if len(values) == 0 {
		return "none"
	}
	return strings.Join(values, ", ")
}

// StartTUI initializes and starts the Bubble Tea application.
func StartTUI(reg *plugins.Registry) {
	p := tea.NewProgram(InitialModel(reg), tea.WithAltScreen())

	if _, err := p.Run(); err != nil {
		fmt.Printf("Error running TUI: %v\n", err)
		os.Exit(1)
	}
}
