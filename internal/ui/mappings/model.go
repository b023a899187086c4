// Package mappings is an interactive browser over the persisted
// task-to-event mapping set, for inspecting what the reconciler currently
// owns on the calendar.
package mappings

import (
	"context"
	"sort"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"calmirror/internal/keys"
	"calmirror/internal/store"
	"calmirror/internal/theme"
)

// loadedMsg is sent when the mapping set has been read from the store.
type loadedMsg struct {
	rows []Row
	err  error
}

// Model is the standalone Bubble Tea model behind the mappings command.
type Model struct {
	list   list.Model
	store  store.Store
	keys   *keys.KeyMap
	err    error
	width  int
	height int
}

// New creates a mappings browser over the given store.
func New(s store.Store) Model {
	l := list.New([]list.Item{}, rowDelegate{}, 0, 0)
	l.Title = "Mapped tasks"
	l.SetShowStatusBar(true)
	l.SetFilteringEnabled(true)
	l.Styles.Title = theme.HeaderStyle

	return Model{
		list:  l,
		store: s,
		keys:  keys.DefaultKeyMap(),
	}
}

// Err reports the load error that ended the program, if any.
func (m Model) Err() error {
	return m.err
}

// Init returns a command that loads the mapping set.
func (m Model) Init() tea.Cmd {
	return m.load()
}

// Update handles messages for the browser.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case loadedMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, tea.Quit
		}
		items := make([]list.Item, len(msg.rows))
		for i, row := range msg.rows {
			items[i] = row
		}
		cmd := m.list.SetItems(items)
		return m, cmd

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.list.SetSize(msg.Width, msg.Height-1)
		return m, nil

	case tea.KeyMsg:
		// While the filter input is focused every key belongs to it.
		if m.list.FilterState() == list.Filtering {
			break
		}
		switch {
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, m.keys.Refresh):
			return m, m.load()
		}
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

// View renders the browser.
func (m Model) View() string {
	if m.err != nil {
		return theme.ErrorStyle.Render("loading mappings: " + m.err.Error())
	}
	if len(m.list.Items()) == 0 && m.list.FilterState() == list.Unfiltered {
		return m.renderEmptyState()
	}
	return lipgloss.JoinVertical(lipgloss.Left, m.list.View(), m.hintLine())
}

// renderEmptyState shows guidance text when no mappings exist yet.
func (m Model) renderEmptyState() string {
	return lipgloss.NewStyle().
		Width(m.width).
		Height(m.height).
		Align(lipgloss.Center, lipgloss.Center).
		Foreground(theme.ColorGray).
		Render("No mappings yet.\nRun a sync to populate the calendar.")
}

// hintLine renders the keyboard shortcut hints from the keymap.
func (m Model) hintLine() string {
	bindings := m.keys.ShortHelp()
	parts := make([]string, 0, len(bindings))
	for _, b := range bindings {
		parts = append(parts, b.Help().Key+" "+b.Help().Desc)
	}
	return theme.HelpStyle.Render(strings.Join(parts, " | "))
}

// load reads the mapping set and sorts it by task id for a stable order.
func (m Model) load() tea.Cmd {
	s := m.store
	return func() tea.Msg {
		entries, err := s.Mappings(context.Background())
		if err != nil {
			return loadedMsg{err: err}
		}

		ids := make([]string, 0, len(entries))
		for id := range entries {
			ids = append(ids, id)
		}
		sort.Strings(ids)

		rows := make([]Row, 0, len(ids))
		for _, id := range ids {
			rows = append(rows, Row{TaskID: id, Entry: entries[id]})
		}
		return loadedMsg{rows: rows}
	}
}
