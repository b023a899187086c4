// Package render turns normalized tasks into calendar event content. Every
// function here is a pure function of its inputs so that content hashes stay
// comparable across invocations.
package render

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"calmirror/internal/model"
)

// dateTimeLayouts are the ISO-8601 shapes the workspace service emits.
// Values without an offset are taken as UTC.
var dateTimeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05.000Z07:00",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
}

// ParseDateTime parses an ISO-8601 date-time value.
func ParseDateTime(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	for _, layout := range dateTimeLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date-time value %q", value)
}

// ParseDate parses a bare ISO-8601 date in the given location.
func ParseDate(value string, loc *time.Location) (time.Time, error) {
	t, err := time.ParseInLocation("2006-01-02", strings.TrimSpace(value), loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("unrecognized date value %q", value)
	}
	return t, nil
}

// AllDayEnd returns the exclusive end date of an all-day event: the day
// after end when present, otherwise the day after start.
func AllDayEnd(start, end string) (string, error) {
	value := end
	if strings.TrimSpace(value) == "" {
		value = start
	}
	d, err := ParseDate(value, time.UTC)
	if err != nil {
		return "", err
	}
	return d.AddDate(0, 0, 1).Format("2006-01-02"), nil
}

// Overdue reports whether the task's due instant lies in the past. The due
// instant is End when present, otherwise Start; a date-only due value rolls
// to end-of-day in loc. Tasks in a final status are never overdue.
func Overdue(task model.Task, now time.Time, loc *time.Location) bool {
	if task.Start == "" && task.End == "" {
		return false
	}
	if model.FinalStatus(task.Status) {
		return false
	}

	due := task.End
	if due == "" {
		due = task.Start
	}

	var dueAt time.Time
	if model.IsDateOnly(due) {
		d, err := ParseDate(due, loc)
		if err != nil {
			return false
		}
		dueAt = time.Date(d.Year(), d.Month(), d.Day(), 23, 59, 59, 0, loc)
	} else {
		t, err := ParseDateTime(due)
		if err != nil {
			return false
		}
		dueAt = t
	}

	return dueAt.Before(now)
}

// DeriveStatus returns the status an event should display: Overdue when the
// task is past due, otherwise the canonical raw status (defaulting to Todo).
func DeriveStatus(task model.Task, now time.Time, loc *time.Location) string {
	if Overdue(task, now, loc) {
		return model.StatusOverdue
	}
	status := model.NormalizeStatus(task.Status)
	if status == "" {
		status = model.StatusTodo
	}
	return status
}

// Summary renders the event title: the display status glyph immediately
// followed by the task title, or "Untitled" when the title is blank.
func Summary(task model.Task, style model.GlyphStyle, now time.Time, loc *time.Location) string {
	title := strings.TrimSpace(task.Title)
	if title == "" {
		title = "Untitled"
	}
	return model.StatusGlyph(DeriveStatus(task, now, loc), style) + title
}

// Description composes the event body: a source line, an optional category
// line, then the task body separated by a blank line.
func Description(task model.Task) string {
	datasource := task.Datasource
	if datasource == "" {
		datasource = "-"
	}
	parts := []string{"Source: " + datasource}

	if task.Category != "" {
		label := task.CategoryLabel
		if label == "" {
			label = "Category"
		}
		parts = append(parts, label+": "+task.Category)
	}
	if task.Description != "" {
		parts = append(parts, "", task.Description)
	}

	return strings.Join(parts, "\n")
}

// ContentHash digests the fields that drive rendered event content: title,
// canonical raw status, start, end, and the composed description. The
// time-derived Overdue display status never feeds the hash, so a task's
// digest is stable until its content actually changes.
func ContentHash(task model.Task) string {
	h := sha256.New()
	fields := []string{
		task.Title,
		model.NormalizeStatus(task.Status),
		task.Start,
		task.End,
		Description(task),
	}
	for _, field := range fields {
		// Length-prefix each field so adjacent values cannot alias.
		fmt.Fprintf(h, "%d:%s", len(field), field)
	}
	return hex.EncodeToString(h.Sum(nil))
}
