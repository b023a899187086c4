package caldav

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"calmirror/internal/calendar"
	"calmirror/internal/model"
)

// recorder wraps a handler and keeps "METHOD path" plus the raw body of
// every request the client sends.
type recorder struct {
	mu     sync.Mutex
	calls  []string
	bodies []string
	handle http.HandlerFunc
}

func (rec *recorder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	rec.mu.Lock()
	rec.calls = append(rec.calls, r.Method+" "+r.URL.Path)
	rec.bodies = append(rec.bodies, string(body))
	rec.mu.Unlock()
	r.Body = io.NopCloser(strings.NewReader(string(body)))
	rec.handle(w, r)
}

func (rec *recorder) len() int {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return len(rec.calls)
}

func (rec *recorder) call(i int) (string, string) {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.calls[i], rec.bodies[i]
}

func newTestClient(t *testing.T, calendarHref string, handle http.HandlerFunc) (*Client, *recorder) {
	t.Helper()

	rec := &recorder{handle: handle}
	srv := httptest.NewServer(rec)
	t.Cleanup(srv.Close)

	c, err := New(Config{
		Origin:       srv.URL,
		Username:     "u",
		Password:     "p",
		CalendarHref: calendarHref,
	}, calendar.RenderOptions{Style: model.GlyphStyleEmoji})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return c, rec
}

func respondXML(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/xml; charset=utf-8")
	w.WriteHeader(status)
	io.WriteString(w, body)
}

func checkAuth(t *testing.T, r *http.Request) {
	t.Helper()
	user, pass, ok := r.BasicAuth()
	if !ok || user != "u" || pass != "p" {
		t.Errorf("request %s %s missing basic auth", r.Method, r.URL.Path)
	}
}

func TestNewRejectsRelativeOrigin(t *testing.T) {
	if _, err := New(Config{Origin: "caldav.example.com/"}, calendar.RenderOptions{}); err == nil {
		t.Error("New() accepted an origin without a scheme")
	}
	c, err := New(Config{}, calendar.RenderOptions{})
	if err != nil {
		t.Fatalf("New() with empty origin: %v", err)
	}
	if got := c.origin.Host; got != "caldav.icloud.com" {
		t.Errorf("default origin host = %q", got)
	}
}

func TestListAll(t *testing.T) {
	listing := `<?xml version="1.0" encoding="utf-8"?>
<d:multistatus xmlns:d="DAV:">
<d:response><d:href>/cal/</d:href><d:propstat><d:status>HTTP/1.1 200 OK</d:status><d:prop><d:sync-token>sync-1</d:sync-token></d:prop></d:propstat></d:response>
<d:response><d:href>/cal/t1.ics</d:href><d:propstat><d:status>HTTP/1.1 200 OK</d:status><d:prop><d:getetag>"etag-1"</d:getetag></d:prop></d:propstat></d:response>
<d:response><d:href>/cal/ignore.txt</d:href><d:propstat><d:status>HTTP/1.1 200 OK</d:status><d:prop><d:getetag>"etag-x"</d:getetag></d:prop></d:propstat></d:response>
</d:multistatus>`

	multiget := `<?xml version="1.0" encoding="utf-8"?>
<d:multistatus xmlns:d="DAV:" xmlns:c="urn:ietf:params:xml:ns:caldav">
<d:response><d:href>/cal/t1.ics</d:href><d:propstat><d:status>HTTP/1.1 200 OK</d:status><d:prop><d:getetag>"etag-1"</d:getetag><c:calendar-data>BEGIN:VCALENDAR
BEGIN:VEVENT
UID:t1
SUMMARY:Hello
DTSTART:20260301T100000Z
END:VEVENT
END:VCALENDAR</c:calendar-data></d:prop></d:propstat></d:response>
</d:multistatus>`

	c, rec := newTestClient(t, "/cal/", func(w http.ResponseWriter, r *http.Request) {
		checkAuth(t, r)
		switch r.Method {
		case "PROPFIND":
			respondXML(w, http.StatusMultiStatus, listing)
		case "REPORT":
			respondXML(w, http.StatusMultiStatus, multiget)
		default:
			t.Errorf("unexpected method %s", r.Method)
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})

	events, token, err := c.ListAll(context.Background())
	if err != nil {
		t.Fatalf("ListAll() error = %v", err)
	}
	if token != "sync-1" {
		t.Errorf("token = %q, want sync-1", token)
	}
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1", len(events))
	}
	ev := events[0]
	if ev.UID != "t1" || ev.Summary != "Hello" || ev.Start != "20260301T100000Z" || ev.Version != `"etag-1"` {
		t.Errorf("event = %+v", ev)
	}

	if rec.len() != 2 {
		t.Fatalf("requests = %d, want listing + multiget", rec.len())
	}
	if _, body := rec.call(1); strings.Contains(body, "ignore.txt") {
		t.Error("multiget must skip non-event resources")
	}
}

func TestListAllEmptyCollection(t *testing.T) {
	listing := `<?xml version="1.0" encoding="utf-8"?>
<d:multistatus xmlns:d="DAV:">
<d:response><d:href>/cal/</d:href><d:propstat><d:status>HTTP/1.1 200 OK</d:status><d:prop><d:sync-token>sync-1</d:sync-token></d:prop></d:propstat></d:response>
</d:multistatus>`

	c, rec := newTestClient(t, "/cal/", func(w http.ResponseWriter, r *http.Request) {
		respondXML(w, http.StatusMultiStatus, listing)
	})

	events, token, err := c.ListAll(context.Background())
	if err != nil {
		t.Fatalf("ListAll() error = %v", err)
	}
	if len(events) != 0 || token != "sync-1" {
		t.Errorf("events = %d token = %q", len(events), token)
	}
	if rec.len() != 1 {
		t.Errorf("requests = %d, an empty listing needs no multiget", rec.len())
	}
}

func TestListSince(t *testing.T) {
	report := `<?xml version="1.0" encoding="utf-8"?>
<d:multistatus xmlns:d="DAV:">
<d:response><d:href>/cal/gone.ics</d:href><d:status>HTTP/1.1 404 Not Found</d:status></d:response>
<d:response><d:href>/cal/t2.ics</d:href><d:propstat><d:status>HTTP/1.1 200 OK</d:status><d:prop><d:getetag>"etag-2"</d:getetag></d:prop></d:propstat></d:response>
<d:sync-token>sync-2</d:sync-token>
</d:multistatus>`

	multiget := `<?xml version="1.0" encoding="utf-8"?>
<d:multistatus xmlns:d="DAV:" xmlns:c="urn:ietf:params:xml:ns:caldav">
<d:response><d:href>/cal/t2.ics</d:href><d:propstat><d:status>HTTP/1.1 200 OK</d:status><d:prop><d:getetag>"etag-2"</d:getetag><c:calendar-data>BEGIN:VCALENDAR
BEGIN:VEVENT
UID:t2
SUMMARY:Changed
END:VEVENT
END:VCALENDAR</c:calendar-data></d:prop></d:propstat></d:response>
</d:multistatus>`

	c, rec := newTestClient(t, "/cal/", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		switch {
		case strings.Contains(string(body), "sync-collection"):
			respondXML(w, http.StatusMultiStatus, report)
		case strings.Contains(string(body), "calendar-multiget"):
			respondXML(w, http.StatusMultiStatus, multiget)
		default:
			t.Errorf("unexpected request body %s", body)
			w.WriteHeader(http.StatusBadRequest)
		}
	})

	delta, err := c.ListSince(context.Background(), "sync-1")
	if err != nil {
		t.Fatalf("ListSince() error = %v", err)
	}

	if _, body := rec.call(0); !strings.Contains(body, "<d:sync-token>sync-1</d:sync-token>") {
		t.Errorf("report body = %s, want the previous token", body)
	}
	if delta.Token != "sync-2" {
		t.Errorf("Token = %q, want sync-2", delta.Token)
	}
	if len(delta.Changed) != 1 || delta.Changed[0].UID != "t2" {
		t.Errorf("Changed = %+v", delta.Changed)
	}
	if len(delta.DeletedHrefs) != 1 || delta.DeletedHrefs[0] != "/cal/gone.ics" {
		t.Errorf("DeletedHrefs = %v", delta.DeletedHrefs)
	}
	if len(delta.DeletedUIDs) != 1 || delta.DeletedUIDs[0] != "gone" {
		t.Errorf("DeletedUIDs = %v", delta.DeletedUIDs)
	}
}

func TestListSinceStaleToken(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		wantStale bool
	}{
		{name: "precondition", status: 403, body: `<d:error xmlns:d="DAV:"><d:valid-sync-token/></d:error>`, wantStale: true},
		{name: "bad request", status: 400, body: "", wantStale: true},
		{name: "server error", status: 500, body: "", wantStale: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newTestClient(t, "/cal/", func(w http.ResponseWriter, r *http.Request) {
				respondXML(w, tt.status, tt.body)
			})

			_, err := c.ListSince(context.Background(), "sync-0")
			if err == nil {
				t.Fatal("ListSince() expected an error")
			}
			if got := errors.Is(err, calendar.ErrTokenInvalid); got != tt.wantStale {
				t.Errorf("errors.Is(ErrTokenInvalid) = %v, want %v (err %v)", got, tt.wantStale, err)
			}
		})
	}
}

func TestCreate(t *testing.T) {
	c, rec := newTestClient(t, "/cal/", func(w http.ResponseWriter, r *http.Request) {
		checkAuth(t, r)
		if r.Method != http.MethodPut {
			t.Errorf("method = %s, want PUT", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/calendar") {
			t.Errorf("Content-Type = %q", ct)
		}
		w.Header().Set("ETag", `"etag-9"`)
		w.WriteHeader(http.StatusCreated)
	})

	// The start date is far in the future so the summary never renders the
	// overdue glyph regardless of the wall clock.
	task := model.Task{ID: "t1", Title: "Write tests", Status: "Todo", Start: "2100-01-01"}
	ev, err := c.Create(context.Background(), task)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if ev.Href != "/cal/t1.ics" || ev.UID != "t1" || ev.Version != `"etag-9"` {
		t.Errorf("event = %+v", ev)
	}
	if ev.Summary != "⬜Write tests" {
		t.Errorf("Summary = %q", ev.Summary)
	}

	call, body := rec.call(0)
	if call != "PUT /cal/t1.ics" {
		t.Errorf("request = %q", call)
	}
	if !strings.Contains(body, "BEGIN:VCALENDAR") || !strings.Contains(body, "UID:t1") {
		t.Errorf("body = %q, want a rendered VCALENDAR", body)
	}
}

func TestUpdateWriteFailure(t *testing.T) {
	c, _ := newTestClient(t, "/cal/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInsufficientStorage)
	})

	_, err := c.Update(context.Background(), "/cal/t1.ics", model.Task{ID: "t1", Title: "x", Start: "2026-03-01"})
	if err == nil {
		t.Error("Update() expected an error on a failed PUT")
	}
}

func TestDelete(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		wantErr bool
	}{
		{name: "deleted", status: http.StatusNoContent, wantErr: false},
		{name: "already gone", status: http.StatusNotFound, wantErr: false},
		{name: "server error", status: http.StatusInternalServerError, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, rec := newTestClient(t, "/cal/", func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodDelete {
					t.Errorf("method = %s, want DELETE", r.Method)
				}
				w.WriteHeader(tt.status)
			})

			err := c.Delete(context.Background(), "/cal/t1.ics")
			if (err != nil) != tt.wantErr {
				t.Errorf("Delete() error = %v, wantErr %v", err, tt.wantErr)
			}
			if call, _ := rec.call(0); call != "DELETE /cal/t1.ics" {
				t.Errorf("request = %q", call)
			}
		})
	}
}

func TestEnsureSkipsDiscoveryWhenHrefKnown(t *testing.T) {
	c, rec := newTestClient(t, "/known/", func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
	})

	href, err := c.Ensure(context.Background(), calendar.Metadata{Name: "Tray"})
	if err != nil {
		t.Fatalf("Ensure() error = %v", err)
	}
	if href != "/known/" {
		t.Errorf("href = %q", href)
	}
	if rec.len() != 0 {
		t.Errorf("requests = %d, want none", rec.len())
	}
}

func TestEnsureDiscoversExistingCalendar(t *testing.T) {
	principal := `<?xml version="1.0" encoding="utf-8"?>
<d:multistatus xmlns:d="DAV:">
<d:response><d:href>/</d:href><d:propstat><d:status>HTTP/1.1 200 OK</d:status><d:prop><d:current-user-principal><d:href>/principals/u1/</d:href></d:current-user-principal></d:prop></d:propstat></d:response>
</d:multistatus>`

	homeSet := `<?xml version="1.0" encoding="utf-8"?>
<d:multistatus xmlns:d="DAV:" xmlns:c="urn:ietf:params:xml:ns:caldav">
<d:response><d:href>/principals/u1/</d:href><d:propstat><d:status>HTTP/1.1 200 OK</d:status><d:prop><c:calendar-home-set><d:href>/home/u1/</d:href></c:calendar-home-set></d:prop></d:propstat></d:response>
</d:multistatus>`

	calendars := `<?xml version="1.0" encoding="utf-8"?>
<d:multistatus xmlns:d="DAV:" xmlns:c="urn:ietf:params:xml:ns:caldav">
<d:response><d:href>/home/u1/other/</d:href><d:propstat><d:status>HTTP/1.1 200 OK</d:status><d:prop><d:displayname>Other</d:displayname><d:resourcetype><d:collection/><c:calendar/></d:resourcetype></d:prop></d:propstat></d:response>
<d:response><d:href>/home/u1/tray</d:href><d:propstat><d:status>HTTP/1.1 200 OK</d:status><d:prop><d:displayname>Tray</d:displayname><d:resourcetype><d:collection/><c:calendar/></d:resourcetype></d:prop></d:propstat></d:response>
</d:multistatus>`

	c, _ := newTestClient(t, "", func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/":
			respondXML(w, http.StatusMultiStatus, principal)
		case "/principals/u1/":
			respondXML(w, http.StatusMultiStatus, homeSet)
		case "/home/u1/":
			respondXML(w, http.StatusMultiStatus, calendars)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	})

	href, err := c.Ensure(context.Background(), calendar.Metadata{Name: "Tray"})
	if err != nil {
		t.Fatalf("Ensure() error = %v", err)
	}
	if href != "/home/u1/tray/" {
		t.Errorf("href = %q, want the matching calendar with a trailing slash", href)
	}

	// The discovered href is remembered for later calls.
	href2, err := c.Ensure(context.Background(), calendar.Metadata{Name: "Tray"})
	if err != nil || href2 != href {
		t.Errorf("second Ensure() = %q, %v", href2, err)
	}
}

func TestEnsureCreatesMissingCalendar(t *testing.T) {
	principal := `<?xml version="1.0" encoding="utf-8"?>
<d:multistatus xmlns:d="DAV:">
<d:response><d:href>/</d:href><d:propstat><d:status>HTTP/1.1 200 OK</d:status><d:prop><d:current-user-principal><d:href>/principals/u1/</d:href></d:current-user-principal></d:prop></d:propstat></d:response>
</d:multistatus>`

	homeSet := `<?xml version="1.0" encoding="utf-8"?>
<d:multistatus xmlns:d="DAV:" xmlns:c="urn:ietf:params:xml:ns:caldav">
<d:response><d:href>/principals/u1/</d:href><d:propstat><d:status>HTTP/1.1 200 OK</d:status><d:prop><c:calendar-home-set><d:href>/home/u1/</d:href></c:calendar-home-set></d:prop></d:propstat></d:response>
</d:multistatus>`

	empty := `<?xml version="1.0" encoding="utf-8"?>
<d:multistatus xmlns:d="DAV:"></d:multistatus>`

	c, rec := newTestClient(t, "", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case "PROPFIND":
			switch r.URL.Path {
			case "/":
				respondXML(w, http.StatusMultiStatus, principal)
			case "/principals/u1/":
				respondXML(w, http.StatusMultiStatus, homeSet)
			default:
				respondXML(w, http.StatusMultiStatus, empty)
			}
		case "MKCALENDAR":
			w.WriteHeader(http.StatusCreated)
		case "PROPPATCH":
			respondXML(w, http.StatusMultiStatus, empty)
		default:
			t.Errorf("unexpected method %s", r.Method)
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})

	href, err := c.Ensure(context.Background(), calendar.Metadata{Name: "Tray & Friends", Color: "#FF7F00"})
	if err != nil {
		t.Fatalf("Ensure() error = %v", err)
	}
	if !strings.HasPrefix(href, "/home/u1/") || !strings.HasSuffix(href, "/") {
		t.Errorf("href = %q, want a fresh collection under the home set", href)
	}

	var sawCreate, sawColor bool
	for i := 0; i < rec.len(); i++ {
		call, body := rec.call(i)
		switch {
		case strings.HasPrefix(call, "MKCALENDAR"):
			sawCreate = true
			if !strings.Contains(body, "Tray &amp; Friends") {
				t.Errorf("mkcalendar body = %s, want the escaped display name", body)
			}
		case strings.HasPrefix(call, "PROPPATCH"):
			sawColor = true
			if !strings.Contains(body, "#FF7F00FF") {
				t.Errorf("proppatch body = %s, want the widened apple color", body)
			}
		}
	}
	if !sawCreate {
		t.Error("a missing calendar must be created")
	}
	if !sawColor {
		t.Error("creating a calendar must attempt to set its color")
	}
}
