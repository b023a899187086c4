package model

// CalendarEvent is the normalized view of a single event on the target
// calendar. UID is the sole correlation key back to a Task: it is set to the
// task id at creation and never changes, while Href may change when an event
// is recreated.
type CalendarEvent struct {
	// Href is the opaque locator assigned by the calendar service.
	Href string `json:"href"`

	// UID equals the owning Task.ID.
	UID string `json:"uid"`

	// Summary is the rendered event title (status glyph + task title).
	Summary string `json:"summary"`

	// Description is the rendered event body.
	Description string `json:"description,omitempty"`

	// Start and End mirror the task schedule in the calendar's terms.
	Start string `json:"start,omitempty"`
	End   string `json:"end,omitempty"`

	// Version is the opaque change tag reported by the calendar service
	// (an entity tag); it changes on every write, including manual edits.
	Version string `json:"version,omitempty"`
}

// MappingEntry records the calendar object a task id is currently bound to,
// together with the content hash the object was last rendered from. At most
// one live entry exists per task id.
type MappingEntry struct {
	// Href locates the calendar object.
	Href string `json:"href"`

	// ContentHash is the digest of the task content the event reflects.
	ContentHash string `json:"content_hash"`

	// Version is the calendar service's change tag after our last write.
	Version string `json:"version,omitempty"`
}
