package store

import (
	"context"
	"time"

	"calmirror/internal/model"
)

// Store defines the persistence interface for the sync state document and
// the task-to-event mapping set. Writers touch disjoint column groups so
// concurrent settings updates, sync progress and webhook bookkeeping never
// clobber one another; within a group the semantics are last-write-wins.
type Store interface {
	// Settings reads the single persisted sync state document.
	Settings(ctx context.Context) (model.SyncState, error)

	// SaveSettings persists the operator-editable fields: calendar
	// identity, timezones and the full sync interval. Sync progress and
	// webhook fields are left untouched.
	SaveSettings(ctx context.Context, state model.SyncState) error

	// SaveSyncProgress records the change token and full-pass timestamp
	// written at the end of a clean reconciliation run.
	SaveSyncProgress(ctx context.Context, token string, at time.Time) error

	// SaveVerificationSecret stores the inbound webhook secret captured
	// during the subscription handshake.
	SaveVerificationSecret(ctx context.Context, secret string) error

	// TouchWebhook records the last verified webhook delivery time.
	TouchWebhook(ctx context.Context, at time.Time) error

	// Mapping returns the entry for a task id, or nil when none exists.
	Mapping(ctx context.Context, taskID string) (*model.MappingEntry, error)

	// Mappings returns every live entry keyed by task id.
	Mappings(ctx context.Context) (map[string]model.MappingEntry, error)

	// PutMapping inserts or replaces the entry for a task id.
	PutMapping(ctx context.Context, taskID string, entry model.MappingEntry) error

	// DeleteMapping removes the entry for a task id. Deleting an absent
	// entry is not an error.
	DeleteMapping(ctx context.Context, taskID string) error

	// Close releases the underlying storage.
	Close() error
}
