package model

import (
	"strings"
	"time"
)

// Defaults applied when the persisted sync state carries no value.
const (
	DefaultCalendarName            = "[N] Catch-all Tray"
	DefaultCalendarColor           = "#FF7F00"
	DefaultFullSyncIntervalMinutes = 30
)

// SyncState is the persisted settings document shared by every invocation.
// Writers update disjoint field groups (operator settings, sync progress,
// webhook bookkeeping); within a group the store is last-write-wins, and
// every derived value can be recomputed from authoritative task data.
type SyncState struct {
	// CalendarID identifies the provisioned target calendar.
	CalendarID string `json:"calendar_id"`

	// CalendarName, CalendarColor, and CalendarTimezone describe the
	// calendar metadata used when provisioning.
	CalendarName     string `json:"calendar_name"`
	CalendarColor    string `json:"calendar_color"`
	CalendarTimezone string `json:"calendar_timezone"`

	// DateOnlyTimezone overrides the timezone used to roll date-only due
	// values to end-of-day for overdue checks.
	DateOnlyTimezone string `json:"date_only_timezone,omitempty"`

	// FullSyncIntervalMinutes gates how often a periodic trigger actually
	// performs a full rewrite.
	FullSyncIntervalMinutes int `json:"full_sync_interval_minutes"`

	// LastFullSyncAt is when the last full reconciliation completed without
	// a fatal error; nil means never.
	LastFullSyncAt *time.Time `json:"last_full_sync,omitempty"`

	// ChangeToken is the calendar service's incremental listing cursor;
	// empty means no baseline and the next listing must be full. Status
	// output reports its presence, never the value.
	ChangeToken string `json:"-"`

	// InboundVerificationSecret signs change notifications. It is persisted
	// on the provider's first handshake, never configured by hand, and is
	// kept out of JSON output.
	InboundVerificationSecret string `json:"-"`

	// WebhookLastUsedAt records the last accepted notification,
	// informational only.
	WebhookLastUsedAt *time.Time `json:"webhook_last_used,omitempty"`
}

// FullSyncDue reports whether enough time has passed since the last full
// reconciliation for another one to run. A state that has never completed a
// full run is always due.
func (s SyncState) FullSyncDue(now time.Time) bool {
	if s.LastFullSyncAt == nil {
		return true
	}
	interval := s.FullSyncIntervalMinutes
	if interval <= 0 {
		interval = DefaultFullSyncIntervalMinutes
	}
	return now.Sub(*s.LastFullSyncAt) >= time.Duration(interval)*time.Minute
}

// DateOnlyLocation resolves the timezone for date-only due calculations:
// the explicit override first, then the calendar timezone, then UTC.
func (s SyncState) DateOnlyLocation() *time.Location {
	for _, name := range []string{s.DateOnlyTimezone, s.CalendarTimezone} {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if loc, err := time.LoadLocation(name); err == nil {
			return loc
		}
	}
	return time.UTC
}
