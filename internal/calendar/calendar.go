// Package calendar defines the target-calendar contract the reconciliation
// engine drives. Implementations translate normalized tasks into provider
// events and report the provider's change tokens.
package calendar

import (
	"context"
	"errors"
	"time"

	"calmirror/internal/model"
)

// ErrTokenInvalid signals that an incremental listing token has expired or
// been revoked by the calendar service. Callers detect it with errors.Is and
// fall back to a full listing within the same run.
var ErrTokenInvalid = errors.New("calendar: change token invalid")

// Metadata describes the calendar to provision on first contact.
type Metadata struct {
	Name     string
	Color    string
	Timezone string
}

// RenderOptions carries the deployment-level inputs event rendering needs
// beyond the task itself. They are fixed at construction; changes apply on
// the next process start.
type RenderOptions struct {
	// Style selects the summary glyph set.
	Style model.GlyphStyle

	// Color is propagated onto each event where the provider supports it.
	Color string

	// DateOnlyLocation resolves date-only due values for the overdue check.
	DateOnlyLocation *time.Location
}

// Delta is the result of an incremental listing: events changed since the
// token was issued, identifiers of events removed since then, and the
// refreshed token. Removals carry hrefs always and uids when the provider
// still exposes them on deleted entries.
type Delta struct {
	Changed      []model.CalendarEvent
	DeletedUIDs  []string
	DeletedHrefs []string
	Token        string
}

// Target abstracts a single external calendar. Every call is one bounded
// request/response exchange; no connection is held across calls.
type Target interface {
	// Ensure provisions (or finds) the calendar described by meta and
	// returns its identifier. Idempotent.
	Ensure(ctx context.Context, meta Metadata) (string, error)

	// ListAll enumerates every event on the calendar and returns a fresh
	// change token for subsequent incremental listings. An empty token
	// means the provider issued none; the next listing is full again.
	ListAll(ctx context.Context) ([]model.CalendarEvent, string, error)

	// ListSince lists changes after token. Returns ErrTokenInvalid (via
	// errors.Is) when the token is stale; the caller then lists fully.
	ListSince(ctx context.Context, token string) (Delta, error)

	// Create renders the task into a new event. The returned event carries
	// the assigned href and version tag.
	Create(ctx context.Context, task model.Task) (model.CalendarEvent, error)

	// Update rewrites the event at href from the task's current content.
	// The calendar is a derived view, so the write is unconditional.
	Update(ctx context.Context, href string, task model.Task) (model.CalendarEvent, error)

	// Delete removes the event at href. Deleting an already-missing event
	// is not an error.
	Delete(ctx context.Context, href string) error
}
