package store

// migration holds a single schema migration with its target version and SQL.
type migration struct {
	version int
	sql     string
}

// migrations is the ordered list of schema migrations.
// Each migration's version must be sequential starting from 1.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS sync_state (
	id                          INTEGER PRIMARY KEY CHECK (id = 1),
	calendar_id                 TEXT NOT NULL DEFAULT '',
	calendar_name               TEXT NOT NULL DEFAULT '[N] Catch-all Tray',
	calendar_color              TEXT NOT NULL DEFAULT '#FF7F00',
	calendar_timezone           TEXT NOT NULL DEFAULT '',
	date_only_timezone          TEXT NOT NULL DEFAULT '',
	full_sync_interval_minutes  INTEGER NOT NULL DEFAULT 30 CHECK (full_sync_interval_minutes >= 1),
	last_full_sync              DATETIME,
	change_token                TEXT NOT NULL DEFAULT '',
	inbound_verification_secret TEXT NOT NULL DEFAULT '',
	webhook_last_used           DATETIME,
	updated_at                  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

INSERT OR IGNORE INTO sync_state (id) VALUES (1);

CREATE TABLE IF NOT EXISTS event_mappings (
	task_id      TEXT PRIMARY KEY,
	href         TEXT NOT NULL,
	content_hash TEXT NOT NULL,
	version      TEXT NOT NULL DEFAULT '',
	updated_at   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_event_mappings_href ON event_mappings(href);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
}
