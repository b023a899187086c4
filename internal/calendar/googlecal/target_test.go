package googlecal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"

	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"calmirror/internal/calendar"
	"calmirror/internal/model"
)

func newTestTarget(t *testing.T, calendarID string, handler http.HandlerFunc) *Target {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	svc, err := gcal.NewService(context.Background(),
		option.WithEndpoint(srv.URL+"/"),
		option.WithoutAuthentication())
	if err != nil {
		t.Fatalf("building service: %v", err)
	}
	return NewWithService(svc, calendarID, calendar.RenderOptions{Style: model.GlyphStyleEmoji})
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write([]byte(body))
}

func TestEventFromTask(t *testing.T) {
	// Dates sit far in the future so the rendered summary never carries the
	// overdue glyph regardless of the wall clock.
	tgt := NewWithService(nil, "cal-1", calendar.RenderOptions{Style: model.GlyphStyleEmoji})

	tests := []struct {
		name      string
		task      model.Task
		wantStart gcal.EventDateTime
		wantEnd   gcal.EventDateTime
		wantErr   bool
	}{
		{
			name:      "single all-day",
			task:      model.Task{ID: "t1", Title: "Plan", Status: "Todo", Start: "2100-04-01"},
			wantStart: gcal.EventDateTime{Date: "2100-04-01"},
			wantEnd:   gcal.EventDateTime{Date: "2100-04-02"},
		},
		{
			name:      "multi-day all-day has an exclusive end",
			task:      model.Task{ID: "t1", Title: "Plan", Status: "Todo", Start: "2100-04-01", End: "2100-04-03"},
			wantStart: gcal.EventDateTime{Date: "2100-04-01"},
			wantEnd:   gcal.EventDateTime{Date: "2100-04-04"},
		},
		{
			name:      "timed normalizes to UTC and defaults the end",
			task:      model.Task{ID: "t1", Title: "Call", Status: "Todo", Start: "2100-04-01T10:30:00+02:00"},
			wantStart: gcal.EventDateTime{DateTime: "2100-04-01T08:30:00Z"},
			wantEnd:   gcal.EventDateTime{DateTime: "2100-04-01T08:30:00Z"},
		},
		{
			name:      "timed with explicit end",
			task:      model.Task{ID: "t1", Title: "Call", Status: "Todo", Start: "2100-04-01T10:00:00Z", End: "2100-04-01T11:00:00Z"},
			wantStart: gcal.EventDateTime{DateTime: "2100-04-01T10:00:00Z"},
			wantEnd:   gcal.EventDateTime{DateTime: "2100-04-01T11:00:00Z"},
		},
		{
			name:    "missing start",
			task:    model.Task{ID: "t1", Title: "Someday"},
			wantErr: true,
		},
		{
			name:    "unparseable start",
			task:    model.Task{ID: "t1", Title: "Broken", Start: "2100-13-99"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := tgt.eventFromTask(tt.task)
			if tt.wantErr {
				if err == nil {
					t.Fatal("eventFromTask() expected an error")
				}
				return
			}
			if err != nil {
				t.Fatalf("eventFromTask() error = %v", err)
			}
			if !reflect.DeepEqual(*ev.Start, tt.wantStart) {
				t.Errorf("Start = %+v, want %+v", *ev.Start, tt.wantStart)
			}
			if !reflect.DeepEqual(*ev.End, tt.wantEnd) {
				t.Errorf("End = %+v, want %+v", *ev.End, tt.wantEnd)
			}
			if got := ev.ExtendedProperties.Private[taskIDProperty]; got != tt.task.ID {
				t.Errorf("task id property = %q, want %q", got, tt.task.ID)
			}
		})
	}
}

func TestEventFromTaskMetadata(t *testing.T) {
	tgt := NewWithService(nil, "cal-1", calendar.RenderOptions{Style: model.GlyphStyleEmoji})

	task := model.Task{
		ID:         "t1",
		Title:      "Plan trip",
		Status:     "Todo",
		Start:      "2100-04-01",
		URL:        "https://workspace.example/t1",
		Datasource: "Tasks",
	}
	ev, err := tgt.eventFromTask(task)
	if err != nil {
		t.Fatalf("eventFromTask() error = %v", err)
	}

	if ev.Summary != "⬜Plan trip" {
		t.Errorf("Summary = %q", ev.Summary)
	}
	if !strings.Contains(ev.Description, "Source: Tasks") {
		t.Errorf("Description = %q", ev.Description)
	}
	if ev.Source == nil || ev.Source.Url != task.URL {
		t.Errorf("Source = %+v, want the task url", ev.Source)
	}

	bare, err := tgt.eventFromTask(model.Task{ID: "t2", Title: "x", Start: "2100-04-01"})
	if err != nil {
		t.Fatalf("eventFromTask() error = %v", err)
	}
	if bare.Source != nil {
		t.Errorf("Source = %+v, want nil without a url", bare.Source)
	}
}

func TestEventToModel(t *testing.T) {
	item := &gcal.Event{
		Id:          "ev-1",
		Etag:        `"etag-1"`,
		Summary:     "⬜Plan",
		Description: "Source: Tasks",
		Start:       &gcal.EventDateTime{Date: "2026-03-01"},
		End:         &gcal.EventDateTime{Date: "2026-03-02"},
		ExtendedProperties: &gcal.EventExtendedProperties{
			Private: map[string]string{taskIDProperty: "t1"},
		},
	}

	got := eventToModel(item)
	want := model.CalendarEvent{
		Href:        "ev-1",
		UID:         "t1",
		Summary:     "⬜Plan",
		Description: "Source: Tasks",
		Start:       "2026-03-01",
		End:         "2026-03-02",
		Version:     `"etag-1"`,
	}
	if got != want {
		t.Errorf("eventToModel() = %+v, want %+v", got, want)
	}

	// Foreign events carry no task id property.
	if uid := eventUID(&gcal.Event{Id: "ev-2"}); uid != "" {
		t.Errorf("eventUID = %q, want empty for a foreign event", uid)
	}
}

func TestEventTime(t *testing.T) {
	if got := eventTime(nil); got != "" {
		t.Errorf("eventTime(nil) = %q", got)
	}
	if got := eventTime(&gcal.EventDateTime{Date: "2026-03-01", DateTime: "2026-03-01T10:00:00Z"}); got != "2026-03-01" {
		t.Errorf("eventTime = %q, the all-day date wins", got)
	}
	if got := eventTime(&gcal.EventDateTime{DateTime: "2026-03-01T10:00:00Z"}); got != "2026-03-01T10:00:00Z" {
		t.Errorf("eventTime = %q", got)
	}
}

func TestListAll(t *testing.T) {
	tgt := newTestTarget(t, "cal-1", func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "/calendars/cal-1/events") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		writeJSON(w, http.StatusOK, `{
			"items": [{
				"id": "ev-1",
				"etag": "\"etag-1\"",
				"summary": "⬜Plan",
				"extendedProperties": {"private": {"calmirrorTaskId": "t1"}},
				"start": {"date": "2026-03-01"},
				"end": {"date": "2026-03-02"}
			}],
			"nextSyncToken": "tok-1"
		}`)
	})

	events, token, err := tgt.ListAll(context.Background())
	if err != nil {
		t.Fatalf("ListAll() error = %v", err)
	}
	if token != "tok-1" {
		t.Errorf("token = %q, want tok-1", token)
	}
	if len(events) != 1 || events[0].UID != "t1" || events[0].Href != "ev-1" {
		t.Errorf("events = %+v", events)
	}
}

func TestListSince(t *testing.T) {
	tgt := newTestTarget(t, "cal-1", func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("syncToken"); got != "tok-1" {
			t.Errorf("syncToken = %q, want tok-1", got)
		}
		writeJSON(w, http.StatusOK, `{
			"items": [
				{"id": "ev-gone", "status": "cancelled"},
				{
					"id": "ev-2",
					"etag": "\"etag-2\"",
					"summary": "⬜Changed",
					"extendedProperties": {"private": {"calmirrorTaskId": "t2"}},
					"start": {"dateTime": "2026-03-01T10:00:00Z"},
					"end": {"dateTime": "2026-03-01T11:00:00Z"}
				}
			],
			"nextSyncToken": "tok-2"
		}`)
	})

	delta, err := tgt.ListSince(context.Background(), "tok-1")
	if err != nil {
		t.Fatalf("ListSince() error = %v", err)
	}
	if delta.Token != "tok-2" {
		t.Errorf("Token = %q", delta.Token)
	}
	if len(delta.Changed) != 1 || delta.Changed[0].UID != "t2" {
		t.Errorf("Changed = %+v", delta.Changed)
	}
	// Cancelled entries arrive as skeletons; only the event id survives.
	if len(delta.DeletedHrefs) != 1 || delta.DeletedHrefs[0] != "ev-gone" {
		t.Errorf("DeletedHrefs = %v", delta.DeletedHrefs)
	}
	if len(delta.DeletedUIDs) != 0 {
		t.Errorf("DeletedUIDs = %v, want none for skeletons", delta.DeletedUIDs)
	}
}

func TestListSinceExpiredToken(t *testing.T) {
	tgt := newTestTarget(t, "cal-1", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusGone, `{"error": {"code": 410, "message": "Sync token is no longer valid"}}`)
	})

	_, err := tgt.ListSince(context.Background(), "tok-stale")
	if err == nil {
		t.Fatal("ListSince() expected an error")
	}
	if !errors.Is(err, calendar.ErrTokenInvalid) {
		t.Errorf("err = %v, want ErrTokenInvalid", err)
	}
}

func TestCreate(t *testing.T) {
	tgt := newTestTarget(t, "cal-1", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		var body gcal.Event
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		if body.ExtendedProperties.Private[taskIDProperty] != "t1" {
			t.Errorf("request misses the task id property: %+v", body.ExtendedProperties)
		}
		writeJSON(w, http.StatusOK, `{"id": "ev-9", "etag": "\"etag-9\"", "summary": "⬜Write tests"}`)
	})

	task := model.Task{ID: "t1", Title: "Write tests", Status: "Todo", Start: "2100-04-01"}
	ev, err := tgt.Create(context.Background(), task)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if ev.Href != "ev-9" || ev.UID != "t1" || ev.Version != `"etag-9"` {
		t.Errorf("event = %+v", ev)
	}
}

func TestDeleteToleratesMissing(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		wantErr bool
	}{
		{name: "deleted", status: http.StatusNoContent, wantErr: false},
		{name: "not found", status: http.StatusNotFound, wantErr: false},
		{name: "gone", status: http.StatusGone, wantErr: false},
		{name: "server error", status: http.StatusInternalServerError, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tgt := newTestTarget(t, "cal-1", func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodDelete {
					t.Errorf("method = %s, want DELETE", r.Method)
				}
				if tt.status == http.StatusNoContent {
					w.WriteHeader(tt.status)
					return
				}
				writeJSON(w, tt.status, fmt.Sprintf(`{"error": {"code": %d, "message": "x"}}`, tt.status))
			})

			err := tgt.Delete(context.Background(), "ev-1")
			if (err != nil) != tt.wantErr {
				t.Errorf("Delete() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestEnsureShortCircuitsWithKnownID(t *testing.T) {
	tgt := newTestTarget(t, "cal-known", func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
	})

	id, err := tgt.Ensure(context.Background(), calendar.Metadata{Name: "Tray"})
	if err != nil {
		t.Fatalf("Ensure() error = %v", err)
	}
	if id != "cal-known" {
		t.Errorf("id = %q", id)
	}
}

func TestEnsureFindsCalendarByName(t *testing.T) {
	tgt := newTestTarget(t, "", func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "calendarList") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		writeJSON(w, http.StatusOK, `{
			"items": [
				{"id": "cal-other", "summary": "Personal"},
				{"id": "cal-tray", "summary": "Tray"}
			]
		}`)
	})

	id, err := tgt.Ensure(context.Background(), calendar.Metadata{Name: "Tray"})
	if err != nil {
		t.Fatalf("Ensure() error = %v", err)
	}
	if id != "cal-tray" {
		t.Errorf("id = %q, want cal-tray", id)
	}
}
