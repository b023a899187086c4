package model

import "strings"

// Canonical status constants. Source systems report a variety of labels;
// NormalizeStatus folds them onto this set.
const (
	StatusTodo       = "Todo"
	StatusInProgress = "In progress"
	StatusCompleted  = "Completed"
	StatusOverdue    = "Overdue"
	StatusCancelled  = "Cancelled"
)

// statusAliases maps lowercased source status labels to canonical statuses.
var statusAliases = map[string]string{
	"todo":        StatusTodo,
	"to do":       StatusTodo,
	"not started": StatusTodo,
	"in progress": StatusInProgress,
	"pinned":      StatusInProgress,
	"completed":   StatusCompleted,
	"done":        StatusCompleted,
	"overdue":     StatusOverdue,
	"cancelled":   StatusCancelled,
	"discarded":   StatusCancelled,
}

// NormalizeStatus folds a raw source status label onto the canonical set.
// Unrecognized labels pass through trimmed; an empty label stays empty.
func NormalizeStatus(status string) string {
	trimmed := strings.TrimSpace(status)
	if trimmed == "" {
		return ""
	}
	if canonical, ok := statusAliases[strings.ToLower(trimmed)]; ok {
		return canonical
	}
	return trimmed
}

// FinalStatus reports whether a status label means the task is closed and
// can never become overdue.
func FinalStatus(status string) bool {
	switch NormalizeStatus(status) {
	case StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// GlyphStyle selects which glyph set prefixes event summaries.
type GlyphStyle string

const (
	GlyphStyleEmoji  GlyphStyle = "emoji"
	GlyphStyleSymbol GlyphStyle = "symbol"
)

// IsValid reports whether the glyph style is one of the known sets.
func (g GlyphStyle) IsValid() bool {
	switch g {
	case GlyphStyleEmoji, GlyphStyleSymbol:
		return true
	}
	return false
}

// statusGlyphs holds the per-style status glyph tables.
var statusGlyphs = map[GlyphStyle]map[string]string{
	GlyphStyleEmoji: {
		StatusTodo:       "⬜",
		StatusInProgress: "⚙️",
		StatusCompleted:  "✅",
		StatusOverdue:    "⚠️",
		StatusCancelled:  "❌",
	},
	GlyphStyleSymbol: {
		StatusTodo:       "○",
		StatusInProgress: "⊖",
		StatusCompleted:  "✓⃝",
		StatusOverdue:    "⊜",
		StatusCancelled:  "⊗",
	},
}

// StatusGlyph returns the glyph for a canonical status in the given style.
// Unknown statuses and styles fall back to the emoji Todo glyph.
func StatusGlyph(status string, style GlyphStyle) string {
	if !style.IsValid() {
		style = GlyphStyleEmoji
	}
	set := statusGlyphs[style]
	if glyph, ok := set[NormalizeStatus(status)]; ok {
		return glyph
	}
	return set[StatusTodo]
}

// Task is the normalized representation of a dated task record owned by the
// workspace service. Start and End carry ISO-8601 values as reported by the
// source: a value containing 'T' is a date-time, otherwise a bare date.
type Task struct {
	// ID is the opaque stable identifier assigned by the source system.
	ID string `json:"id"`

	// Title is the human-readable task name.
	Title string `json:"title"`

	// Status is the raw status label from the source
	// (normalize with NormalizeStatus).
	Status string `json:"status"`

	// Start is the scheduled date or date-time; empty means unscheduled.
	Start string `json:"start"`

	// End is the optional end date or date-time.
	End string `json:"end,omitempty"`

	// Datasource is the label of the database the task came from.
	Datasource string `json:"datasource"`

	// Category is the task's category/tag value, if any.
	Category string `json:"category,omitempty"`

	// CategoryLabel is the property name the category was read from.
	CategoryLabel string `json:"category_label,omitempty"`

	// Description is the task body text.
	Description string `json:"description,omitempty"`

	// URL links back to the task in the source system.
	URL string `json:"url,omitempty"`

	// Archived marks tasks removed from the active set.
	Archived bool `json:"archived"`
}

// Eligible reports whether the task participates in calendar sync:
// not archived and carrying a start value.
func (t Task) Eligible() bool {
	return !t.Archived && t.Start != ""
}

// IsDateOnly reports whether an ISO-8601 value names a bare date with no
// time component.
func IsDateOnly(value string) bool {
	trimmed := strings.TrimSpace(value)
	return trimmed != "" && !strings.Contains(trimmed, "T")
}
