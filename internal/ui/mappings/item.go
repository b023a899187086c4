package mappings

import (
	"fmt"
	"io"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"

	"calmirror/internal/model"
	"calmirror/internal/theme"
)

// hashPreviewLen is how many hex digits of the content hash each row shows.
const hashPreviewLen = 8

// Row wraps one task-to-event mapping so it can be used in a bubbles/list.
type Row struct {
	TaskID string
	Entry  model.MappingEntry
}

// FilterValue returns the string used for fuzzy filtering.
func (r Row) FilterValue() string {
	return r.TaskID + " " + r.Entry.Href
}

// rowDelegate implements list.ItemDelegate for rendering mapping rows.
type rowDelegate struct{}

// Height returns the number of lines each row takes.
func (d rowDelegate) Height() int { return 1 }

// Spacing returns the number of blank lines between rows.
func (d rowDelegate) Spacing() int { return 0 }

// Update handles per-row messages (unused).
func (d rowDelegate) Update(_ tea.Msg, _ *list.Model) tea.Cmd {
	return nil
}

// Render draws a single mapping line: task id, event href, a content hash
// preview, and a marker when the event carries no version tag.
func (d rowDelegate) Render(w io.Writer, m list.Model, index int, item list.Item) {
	row, ok := item.(Row)
	if !ok {
		return
	}

	hash := row.Entry.ContentHash
	if len(hash) > hashPreviewLen {
		hash = hash[:hashPreviewLen]
	}

	tag := ""
	if row.Entry.Version == "" {
		tag = " " + theme.WarnStyle.Render("untagged")
	}

	line := fmt.Sprintf(
		"%s  %s  %s%s",
		row.TaskID,
		theme.SubtleStyle.Render(row.Entry.Href),
		hash,
		tag,
	)

	if index == m.Index() {
		line = theme.SelectedItemStyle.Render(line)
	} else {
		line = theme.ListItemStyle.Render(line)
	}

	fmt.Fprint(w, line)
}
