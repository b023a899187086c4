// Package googlecal implements the calendar target on the Google Calendar
// API. Tasks are correlated to events through a private extended property
// rather than the provider-assigned event id.
package googlecal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"calmirror/internal/calendar"
	"calmirror/internal/model"
	"calmirror/internal/render"
)

const (
	// taskIDProperty is the private extended property carrying the owning
	// task's id on every event this process writes.
	taskIDProperty = "calmirrorTaskId"

	apiTimeout = 30 * time.Second
	pageSize   = 250
)

// Config holds the connection parameters for one Google Calendar account.
type Config struct {
	// CalendarID, when already known from persisted state, skips lookup
	// in Ensure.
	CalendarID string

	// CredentialsJSON is the OAuth client downloaded from the Google
	// console; TokenJSON is a stored oauth2 token with a refresh token.
	CredentialsJSON []byte
	TokenJSON       []byte
}

// Target implements calendar.Target against the Google Calendar API.
type Target struct {
	svc        *gcal.Service
	calendarID string
	render     calendar.RenderOptions
}

var _ calendar.Target = (*Target)(nil)

// New builds an authenticated target. The token source refreshes access
// tokens automatically for the life of the process.
func New(ctx context.Context, cfg Config, opts calendar.RenderOptions) (*Target, error) {
	oauthConfig, err := google.ConfigFromJSON(cfg.CredentialsJSON, gcal.CalendarScope)
	if err != nil {
		return nil, fmt.Errorf("parsing google oauth client: %w", err)
	}
	var token oauth2.Token
	if err := json.Unmarshal(cfg.TokenJSON, &token); err != nil {
		return nil, fmt.Errorf("parsing google oauth token: %w", err)
	}

	httpClient := oauth2.NewClient(ctx, oauthConfig.TokenSource(ctx, &token))
	svc, err := gcal.NewService(ctx, option.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("creating calendar service: %w", err)
	}
	return NewWithService(svc, cfg.CalendarID, opts), nil
}

// NewWithService wraps an existing service, mainly for tests.
func NewWithService(svc *gcal.Service, calendarID string, opts calendar.RenderOptions) *Target {
	return &Target{svc: svc, calendarID: calendarID, render: opts}
}

// Ensure finds the calendar named in meta in the account's calendar list,
// creating it when absent, and returns its id.
func (t *Target) Ensure(ctx context.Context, meta calendar.Metadata) (string, error) {
	if t.calendarID != "" {
		return t.calendarID, nil
	}
	ctx, cancel := context.WithTimeout(ctx, apiTimeout)
	defer cancel()

	var found string
	err := t.svc.CalendarList.List().Pages(ctx, func(resp *gcal.CalendarList) error {
		for _, item := range resp.Items {
			if item.Summary == meta.Name {
				found = item.Id
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("listing calendars: %w", err)
	}

	if found == "" {
		created, err := t.svc.Calendars.Insert(&gcal.Calendar{
			Summary:  meta.Name,
			TimeZone: meta.Timezone,
		}).Context(ctx).Do()
		if err != nil {
			return "", fmt.Errorf("creating calendar: %w", err)
		}
		found = created.Id
		// The list entry color is cosmetic; failures here do not affect
		// the calendar's usability.
		_, _ = t.svc.CalendarList.Patch(found, &gcal.CalendarListEntry{
			BackgroundColor: meta.Color,
			ForegroundColor: "#ffffff",
		}).ColorRgbFormat(true).Context(ctx).Do()
	}
	t.calendarID = found
	return found, nil
}

// ListAll enumerates every live event and returns the sync token issued on
// the final page.
func (t *Target) ListAll(ctx context.Context) ([]model.CalendarEvent, string, error) {
	var (
		events []model.CalendarEvent
		token  string
	)
	call := t.svc.Events.List(t.calendarID).ShowDeleted(false).MaxResults(pageSize)
	err := call.Pages(ctx, func(resp *gcal.Events) error {
		for _, item := range resp.Items {
			events = append(events, eventToModel(item))
		}
		if resp.NextSyncToken != "" {
			token = resp.NextSyncToken
		}
		return nil
	})
	if err != nil {
		return nil, "", fmt.Errorf("listing events: %w", err)
	}
	return events, token, nil
}

// ListSince lists changes after token. A 410 from the API means the token
// expired and maps to calendar.ErrTokenInvalid.
func (t *Target) ListSince(ctx context.Context, token string) (calendar.Delta, error) {
	var delta calendar.Delta
	call := t.svc.Events.List(t.calendarID).SyncToken(token).ShowDeleted(true)
	err := call.Pages(ctx, func(resp *gcal.Events) error {
		for _, item := range resp.Items {
			if item.Status == "cancelled" {
				// Cancelled entries usually arrive as skeletons without
				// extended properties; the id is the only stable handle.
				delta.DeletedHrefs = append(delta.DeletedHrefs, item.Id)
				if uid := eventUID(item); uid != "" {
					delta.DeletedUIDs = append(delta.DeletedUIDs, uid)
				}
				continue
			}
			delta.Changed = append(delta.Changed, eventToModel(item))
		}
		if resp.NextSyncToken != "" {
			delta.Token = resp.NextSyncToken
		}
		return nil
	})
	if err != nil {
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) && apiErr.Code == 410 {
			return calendar.Delta{}, fmt.Errorf("sync token rejected: %w", calendar.ErrTokenInvalid)
		}
		return calendar.Delta{}, fmt.Errorf("listing event changes: %w", err)
	}
	return delta, nil
}

// Create renders the task into a new event.
func (t *Target) Create(ctx context.Context, task model.Task) (model.CalendarEvent, error) {
	body, err := t.eventFromTask(task)
	if err != nil {
		return model.CalendarEvent{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, apiTimeout)
	defer cancel()

	created, err := t.svc.Events.Insert(t.calendarID, body).Context(ctx).Do()
	if err != nil {
		return model.CalendarEvent{}, fmt.Errorf("creating event for task %s: %w", task.ID, err)
	}
	return model.CalendarEvent{
		Href:    created.Id,
		UID:     task.ID,
		Summary: created.Summary,
		Start:   task.Start,
		End:     task.End,
		Version: created.Etag,
	}, nil
}

// Update rewrites the event at href from the task's current content.
func (t *Target) Update(ctx context.Context, href string, task model.Task) (model.CalendarEvent, error) {
	body, err := t.eventFromTask(task)
	if err != nil {
		return model.CalendarEvent{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, apiTimeout)
	defer cancel()

	updated, err := t.svc.Events.Update(t.calendarID, href, body).Context(ctx).Do()
	if err != nil {
		return model.CalendarEvent{}, fmt.Errorf("updating event %s: %w", href, err)
	}
	return model.CalendarEvent{
		Href:    updated.Id,
		UID:     task.ID,
		Summary: updated.Summary,
		Start:   task.Start,
		End:     task.End,
		Version: updated.Etag,
	}, nil
}

// Delete removes the event at href. Already-deleted events answer 404 or
// 410 and count as success.
func (t *Target) Delete(ctx context.Context, href string) error {
	ctx, cancel := context.WithTimeout(ctx, apiTimeout)
	defer cancel()

	err := t.svc.Events.Delete(t.calendarID, href).Context(ctx).Do()
	if err != nil {
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) && (apiErr.Code == 404 || apiErr.Code == 410) {
			return nil
		}
		return fmt.Errorf("deleting event %s: %w", href, err)
	}
	return nil
}

// eventFromTask builds the API event body, mirroring the iCalendar
// rendering: date-only schedules become all-day events with an exclusive
// end, timed ones render in UTC with the end defaulting to the start.
func (t *Target) eventFromTask(task model.Task) (*gcal.Event, error) {
	now := time.Now().UTC()
	loc := t.render.DateOnlyLocation
	if loc == nil {
		loc = time.UTC
	}

	ev := &gcal.Event{
		Summary:     render.Summary(task, t.render.Style, now, loc),
		Description: render.Description(task),
		ExtendedProperties: &gcal.EventExtendedProperties{
			Private: map[string]string{taskIDProperty: task.ID},
		},
	}
	if task.URL != "" {
		ev.Source = &gcal.EventSource{Title: "Workspace", Url: task.URL}
	}

	switch {
	case task.Start == "":
		return nil, fmt.Errorf("task %s has no start", task.ID)
	case model.IsDateOnly(task.Start):
		endDate, err := render.AllDayEnd(task.Start, task.End)
		if err != nil {
			return nil, err
		}
		ev.Start = &gcal.EventDateTime{Date: task.Start}
		ev.End = &gcal.EventDateTime{Date: endDate}
	default:
		start, err := render.ParseDateTime(task.Start)
		if err != nil {
			return nil, err
		}
		end := start
		if task.End != "" {
			end, err = render.ParseDateTime(task.End)
			if err != nil {
				return nil, err
			}
		}
		ev.Start = &gcal.EventDateTime{DateTime: start.UTC().Format(time.RFC3339)}
		ev.End = &gcal.EventDateTime{DateTime: end.UTC().Format(time.RFC3339)}
	}
	return ev, nil
}

func eventToModel(item *gcal.Event) model.CalendarEvent {
	return model.CalendarEvent{
		Href:        item.Id,
		UID:         eventUID(item),
		Summary:     item.Summary,
		Description: item.Description,
		Start:       eventTime(item.Start),
		End:         eventTime(item.End),
		Version:     item.Etag,
	}
}

func eventUID(item *gcal.Event) string {
	if item.ExtendedProperties == nil {
		return ""
	}
	return item.ExtendedProperties.Private[taskIDProperty]
}

func eventTime(edt *gcal.EventDateTime) string {
	if edt == nil {
		return ""
	}
	if edt.Date != "" {
		return edt.Date
	}
	return edt.DateTime
}
