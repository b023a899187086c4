package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"calmirror/internal/model"
)

// SQLiteStore implements the Store interface using a local SQLite database.
type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath,
// enables WAL mode, and runs any pending schema migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	// SQLite allows one writer at a time; a single pooled connection turns
	// concurrent writers into queued ones instead of SQLITE_BUSY errors.
	db.SetMaxOpenConns(1)

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// Enable foreign keys.
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// runMigrations checks the current schema version and applies any
// outstanding migrations in order.
func (s *SQLiteStore) runMigrations() error {
	currentVersion := 0

	// Check if schema_version table exists.
	var tableCount int
	err := s.db.Get(
		&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	)
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}

	if tableCount > 0 {
		err = s.db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version")
		if err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}

	return nil
}

// Settings reads the single sync state row.
func (s *SQLiteStore) Settings(ctx context.Context) (model.SyncState, error) {
	row := s.db.QueryRowxContext(ctx, `
		SELECT calendar_id, calendar_name, calendar_color, calendar_timezone,
		       date_only_timezone, full_sync_interval_minutes,
		       last_full_sync, change_token,
		       inbound_verification_secret, webhook_last_used
		FROM sync_state WHERE id = 1`)

	var (
		state           model.SyncState
		lastFullSync    sql.NullTime
		webhookLastUsed sql.NullTime
	)

	err := row.Scan(
		&state.CalendarID, &state.CalendarName, &state.CalendarColor,
		&state.CalendarTimezone, &state.DateOnlyTimezone,
		&state.FullSyncIntervalMinutes,
		&lastFullSync, &state.ChangeToken,
		&state.InboundVerificationSecret, &webhookLastUsed,
	)
	if err != nil {
		return model.SyncState{}, fmt.Errorf("reading sync state: %w", err)
	}

	if lastFullSync.Valid {
		t := lastFullSync.Time.UTC()
		state.LastFullSyncAt = &t
	}
	if webhookLastUsed.Valid {
		t := webhookLastUsed.Time.UTC()
		state.WebhookLastUsedAt = &t
	}

	return state, nil
}

// SaveSettings writes the operator-editable columns. Sync progress and
// webhook columns have their own writers; keeping the column groups
// disjoint means concurrent savers cannot clobber each other, and within a
// group last-write-wins is fine because every derived value is
// recomputable by the next reconciliation.
func (s *SQLiteStore) SaveSettings(ctx context.Context, state model.SyncState) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sync_state SET
			calendar_id = ?, calendar_name = ?, calendar_color = ?,
			calendar_timezone = ?, date_only_timezone = ?,
			full_sync_interval_minutes = ?,
			updated_at = ?
		WHERE id = 1`,
		state.CalendarID, state.CalendarName, state.CalendarColor,
		state.CalendarTimezone, state.DateOnlyTimezone,
		state.FullSyncIntervalMinutes,
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("saving sync state: %w", err)
	}

	return nil
}

// SaveSyncProgress records the change token and the time of the completed
// full pass.
func (s *SQLiteStore) SaveSyncProgress(ctx context.Context, token string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sync_state SET change_token = ?, last_full_sync = ?, updated_at = ?
		WHERE id = 1`,
		token, at.UTC(), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("saving sync progress: %w", err)
	}
	return nil
}

// SaveVerificationSecret stores the webhook secret captured during the
// subscription handshake.
func (s *SQLiteStore) SaveVerificationSecret(ctx context.Context, secret string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sync_state SET inbound_verification_secret = ?, updated_at = ?
		WHERE id = 1`,
		secret, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("saving verification secret: %w", err)
	}
	return nil
}

// TouchWebhook records the last verified webhook delivery time.
func (s *SQLiteStore) TouchWebhook(ctx context.Context, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sync_state SET webhook_last_used = ?, updated_at = ?
		WHERE id = 1`,
		at.UTC(), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("recording webhook delivery: %w", err)
	}
	return nil
}

// Mapping returns the entry bound to a task id, or nil when the task has no
// calendar object yet.
func (s *SQLiteStore) Mapping(ctx context.Context, taskID string) (*model.MappingEntry, error) {
	row := s.db.QueryRowxContext(ctx,
		"SELECT href, content_hash, version FROM event_mappings WHERE task_id = ?",
		taskID,
	)

	var entry model.MappingEntry
	err := row.Scan(&entry.Href, &entry.ContentHash, &entry.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading mapping for %s: %w", taskID, err)
	}

	return &entry, nil
}

// Mappings returns every live mapping entry keyed by task id.
func (s *SQLiteStore) Mappings(ctx context.Context) (map[string]model.MappingEntry, error) {
	rows, err := s.db.QueryxContext(ctx,
		"SELECT task_id, href, content_hash, version FROM event_mappings",
	)
	if err != nil {
		return nil, fmt.Errorf("querying mappings: %w", err)
	}
	defer rows.Close()

	entries := make(map[string]model.MappingEntry)
	for rows.Next() {
		var (
			taskID string
			entry  model.MappingEntry
		)
		if err := rows.Scan(&taskID, &entry.Href, &entry.ContentHash, &entry.Version); err != nil {
			return nil, fmt.Errorf("scanning mapping row: %w", err)
		}
		entries[taskID] = entry
	}

	return entries, rows.Err()
}

// PutMapping inserts or replaces the entry for a task id.
func (s *SQLiteStore) PutMapping(ctx context.Context, taskID string, entry model.MappingEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO event_mappings (task_id, href, content_hash, version, updated_at)
		VALUES (?, ?, ?, ?, ?)`,
		taskID, entry.Href, entry.ContentHash, entry.Version, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("upserting mapping for %s: %w", taskID, err)
	}

	return nil
}

// DeleteMapping removes the entry for a task id.
func (s *SQLiteStore) DeleteMapping(ctx context.Context, taskID string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM event_mappings WHERE task_id = ?", taskID)
	if err != nil {
		return fmt.Errorf("deleting mapping for %s: %w", taskID, err)
	}
	return nil
}
