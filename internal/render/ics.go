package render

import (
	"strings"
	"time"

	"calmirror/internal/model"
)

// icsProdID identifies this producer in generated calendar objects.
const icsProdID = "-//calmirror//EN"

// ICSOptions carries the deployment-level inputs event rendering needs
// beyond the task itself.
type ICSOptions struct {
	// Style selects the summary glyph set.
	Style model.GlyphStyle

	// Color is the calendar color propagated onto each event (RFC 7986).
	Color string

	// Now stamps DTSTAMP/LAST-MODIFIED and anchors the overdue check.
	Now time.Time

	// DateOnlyLocation resolves date-only due values for the overdue check.
	DateOnlyLocation *time.Location
}

// ICSEvent renders the complete iCalendar object PUT to the calendar
// collection for one task. Date-only starts become all-day events with an
// exclusive end one day past the last day; timed starts render in UTC with
// the end defaulting to the start.
func ICSEvent(task model.Task, opts ICSOptions) (string, error) {
	loc := opts.DateOnlyLocation
	if loc == nil {
		loc = time.UTC
	}
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}

	stamp := now.UTC().Format("20060102T150405Z")

	lines := []string{
		"BEGIN:VCALENDAR",
		"PRODID:" + icsProdID,
		"VERSION:2.0",
		"CALSCALE:GREGORIAN",
		"BEGIN:VEVENT",
		"UID:" + escapeICSText(task.ID),
		"DTSTAMP:" + stamp,
		"LAST-MODIFIED:" + stamp,
		"SUMMARY:" + escapeICSText(Summary(task, opts.Style, now, loc)),
	}

	if opts.Color != "" {
		lines = append(lines, "COLOR:"+escapeICSText(opts.Color))
	}
	if task.Category != "" {
		lines = append(lines, "CATEGORIES:"+escapeICSText(task.Category))
	}

	dateLines, err := icsDateLines(task)
	if err != nil {
		return "", err
	}
	lines = append(lines, dateLines...)

	lines = append(lines, "DESCRIPTION:"+escapeICSText(Description(task)))
	if task.URL != "" {
		lines = append(lines, "URL:"+task.URL)
	}

	lines = append(lines,
		"END:VEVENT",
		"END:VCALENDAR",
	)

	var b strings.Builder
	for _, line := range lines {
		b.WriteString(foldICSLine(line))
		b.WriteString("\r\n")
	}
	return b.String(), nil
}

// icsDateLines renders DTSTART/DTEND for a task's schedule.
func icsDateLines(task model.Task) ([]string, error) {
	if task.Start == "" {
		return nil, nil
	}

	if model.IsDateOnly(task.Start) {
		start, err := ParseDate(task.Start, time.UTC)
		if err != nil {
			return nil, err
		}
		endDate, err := AllDayEnd(task.Start, task.End)
		if err != nil {
			return nil, err
		}
		end, err := ParseDate(endDate, time.UTC)
		if err != nil {
			return nil, err
		}
		return []string{
			"DTSTART;VALUE=DATE:" + start.Format("20060102"),
			"DTEND;VALUE=DATE:" + end.Format("20060102"),
		}, nil
	}

	start, err := ParseDateTime(task.Start)
	if err != nil {
		return nil, err
	}
	end := start
	if task.End != "" {
		end, err = ParseDateTime(task.End)
		if err != nil {
			return nil, err
		}
	}
	return []string{
		"DTSTART:" + start.UTC().Format("20060102T150405Z"),
		"DTEND:" + end.UTC().Format("20060102T150405Z"),
	}, nil
}

// escapeICSText escapes text per RFC 5545 §3.3.11.
func escapeICSText(s string) string {
	replacer := strings.NewReplacer(
		`\`, `\\`,
		";", `\;`,
		",", `\,`,
		"\r\n", `\n`,
		"\n", `\n`,
	)
	return replacer.Replace(s)
}

// foldICSLine folds a content line at 75 octets with space continuation
// (RFC 5545 §3.1), keeping multi-byte runes intact.
func foldICSLine(line string) string {
	const limit = 75
	if len(line) <= limit {
		return line
	}

	var b strings.Builder
	count := 0
	for _, r := range line {
		size := len(string(r))
		if count+size > limit {
			b.WriteString("\r\n ")
			count = 1 // continuation space
		}
		b.WriteRune(r)
		count += size
	}
	return b.String()
}
