// Package caldav implements the calendar target against a CalDAV server,
// using WebDAV discovery, sync-collection reports for incremental listings
// and plain PUT/DELETE for writes.
package caldav

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"calmirror/internal/calendar"
	"calmirror/internal/model"
	"calmirror/internal/render"
)

const (
	// DefaultOrigin is the iCloud CalDAV endpoint.
	DefaultOrigin = "https://caldav.icloud.com/"

	requestTimeout = 30 * time.Second
)

const (
	principalBody = `<?xml version="1.0" encoding="utf-8"?><d:propfind xmlns:d="DAV:"><d:prop><d:current-user-principal/></d:prop></d:propfind>`
	homeSetBody   = `<?xml version="1.0" encoding="utf-8"?><d:propfind xmlns:d="DAV:" xmlns:c="urn:ietf:params:xml:ns:caldav"><d:prop><c:calendar-home-set/></d:prop></d:propfind>`
	calendarsBody = `<?xml version="1.0" encoding="utf-8"?><d:propfind xmlns:d="DAV:"><d:prop><d:displayname/><d:resourcetype/></d:prop></d:propfind>`
	eventsBody    = `<?xml version="1.0" encoding="utf-8"?><d:propfind xmlns:d="DAV:"><d:prop><d:getetag/><d:sync-token/></d:prop></d:propfind>`
)

// Config holds the connection parameters for one CalDAV account.
type Config struct {
	// Origin is the server base URL, e.g. https://caldav.icloud.com/.
	Origin   string
	Username string
	Password string

	// CalendarHref, when already known from persisted state, skips
	// discovery in Ensure.
	CalendarHref string
}

// Client talks to a single CalDAV calendar collection. Ensure must be
// called once before the listing and write methods.
type Client struct {
	httpClient   *http.Client
	origin       *url.URL
	username     string
	password     string
	calendarHref string
	render       calendar.RenderOptions
}

var _ calendar.Target = (*Client)(nil)

// New creates a CalDAV client from cfg. Rendering options are fixed for
// the lifetime of the client.
func New(cfg Config, opts calendar.RenderOptions) (*Client, error) {
	origin := cfg.Origin
	if origin == "" {
		origin = DefaultOrigin
	}
	parsed, err := url.Parse(origin)
	if err != nil {
		return nil, fmt.Errorf("parsing caldav origin: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("caldav origin %q is not an absolute URL", origin)
	}
	return &Client{
		httpClient:   &http.Client{Timeout: requestTimeout},
		origin:       parsed,
		username:     cfg.Username,
		password:     cfg.Password,
		calendarHref: cfg.CalendarHref,
		render:       opts,
	}, nil
}

// Ensure finds the calendar named in meta under the account's calendar
// home, creating it when absent, and returns its href.
func (c *Client) Ensure(ctx context.Context, meta calendar.Metadata) (string, error) {
	if c.calendarHref != "" {
		return c.calendarHref, nil
	}

	principal, err := c.propfindHref(ctx, c.origin.String(), principalBody, func(p prop) string {
		return p.CurrentUserPrincipal.Href
	})
	if err != nil {
		return "", fmt.Errorf("discovering principal: %w", err)
	}
	home, err := c.propfindHref(ctx, c.absURL(principal), homeSetBody, func(p prop) string {
		return p.CalendarHomeSet.Href
	})
	if err != nil {
		return "", fmt.Errorf("discovering calendar home: %w", err)
	}

	href, err := c.findCalendar(ctx, home, meta.Name)
	if err != nil {
		return "", err
	}
	if href == "" {
		href, err = c.makeCalendar(ctx, home, meta)
		if err != nil {
			return "", err
		}
	}
	c.calendarHref = href
	return href, nil
}

// ListAll enumerates the collection's event resources and fetches their
// bodies in one multiget, returning the collection's current sync token.
func (c *Client) ListAll(ctx context.Context) ([]model.CalendarEvent, string, error) {
	status, body, _, err := c.do(ctx, "PROPFIND", c.absURL(c.calendarHref), "1", eventsBody)
	if err != nil {
		return nil, "", err
	}
	if status != http.StatusMultiStatus {
		return nil, "", fmt.Errorf("listing events: unexpected status %d", status)
	}
	var ms multistatus
	if err := xml.Unmarshal(body, &ms); err != nil {
		return nil, "", fmt.Errorf("parsing event listing: %w", err)
	}

	var (
		token string
		hrefs []string
		etags = make(map[string]string)
	)
	for _, resp := range ms.Responses {
		p, ok := okProp(resp)
		if !ok {
			continue
		}
		if p.SyncToken != "" {
			token = p.SyncToken
		}
		if p.ETag == "" || !strings.HasSuffix(resp.Href, ".ics") {
			continue
		}
		hrefs = append(hrefs, resp.Href)
		etags[resp.Href] = p.ETag
	}

	events, err := c.multiget(ctx, hrefs, etags)
	if err != nil {
		return nil, "", err
	}
	return events, token, nil
}

// ListSince runs a sync-collection report against token. A token the
// server no longer honors maps to calendar.ErrTokenInvalid.
func (c *Client) ListSince(ctx context.Context, token string) (calendar.Delta, error) {
	reportBody := fmt.Sprintf(
		`<?xml version="1.0" encoding="utf-8"?><d:sync-collection xmlns:d="DAV:"><d:sync-token>%s</d:sync-token><d:sync-level>1</d:sync-level><d:prop><d:getetag/></d:prop></d:sync-collection>`,
		xmlEscape(token),
	)
	status, body, _, err := c.do(ctx, "REPORT", c.absURL(c.calendarHref), "1", reportBody)
	if err != nil {
		return calendar.Delta{}, err
	}
	if status != http.StatusMultiStatus {
		if staleToken(status, body) {
			return calendar.Delta{}, fmt.Errorf("sync token rejected with status %d: %w", status, calendar.ErrTokenInvalid)
		}
		return calendar.Delta{}, fmt.Errorf("sync report: unexpected status %d", status)
	}
	var ms multistatus
	if err := xml.Unmarshal(body, &ms); err != nil {
		return calendar.Delta{}, fmt.Errorf("parsing sync report: %w", err)
	}

	var (
		hrefs        []string
		etags        = make(map[string]string)
		deletedUIDs  []string
		deletedHrefs []string
	)
	for _, resp := range ms.Responses {
		if strings.Contains(resp.Status, "404") {
			deletedHrefs = append(deletedHrefs, resp.Href)
			if uid := hrefUID(resp.Href); uid != "" {
				deletedUIDs = append(deletedUIDs, uid)
			}
			continue
		}
		p, ok := okProp(resp)
		if !ok || !strings.HasSuffix(resp.Href, ".ics") {
			continue
		}
		hrefs = append(hrefs, resp.Href)
		etags[resp.Href] = p.ETag
	}

	events, err := c.multiget(ctx, hrefs, etags)
	if err != nil {
		return calendar.Delta{}, err
	}
	return calendar.Delta{
		Changed:      events,
		DeletedUIDs:  deletedUIDs,
		DeletedHrefs: deletedHrefs,
		Token:        ms.SyncToken,
	}, nil
}

// Create writes the task as a new event named after its id.
func (c *Client) Create(ctx context.Context, task model.Task) (model.CalendarEvent, error) {
	href := c.calendarHref + url.PathEscape(task.ID) + ".ics"
	return c.put(ctx, href, task)
}

// Update rewrites the event at href in place.
func (c *Client) Update(ctx context.Context, href string, task model.Task) (model.CalendarEvent, error) {
	return c.put(ctx, href, task)
}

// Delete removes the event at href. A 404 means the event is already gone
// and counts as success.
func (c *Client) Delete(ctx context.Context, href string) error {
	status, _, _, err := c.do(ctx, "DELETE", c.absURL(href), "", "")
	if err != nil {
		return err
	}
	if status >= 300 && status != http.StatusNotFound {
		return fmt.Errorf("deleting event %s: unexpected status %d", href, status)
	}
	return nil
}

func (c *Client) put(ctx context.Context, href string, task model.Task) (model.CalendarEvent, error) {
	now := time.Now().UTC()
	ics, err := render.ICSEvent(task, render.ICSOptions{
		Style:            c.render.Style,
		Color:            c.render.Color,
		Now:              now,
		DateOnlyLocation: c.render.DateOnlyLocation,
	})
	if err != nil {
		return model.CalendarEvent{}, err
	}
	status, _, header, err := c.doFull(ctx, "PUT", c.absURL(href), "", "text/calendar; charset=utf-8", ics)
	if err != nil {
		return model.CalendarEvent{}, err
	}
	if status >= 300 {
		return model.CalendarEvent{}, fmt.Errorf("writing event %s: unexpected status %d", href, status)
	}
	return model.CalendarEvent{
		Href:    href,
		UID:     task.ID,
		Summary: render.Summary(task, c.render.Style, now, c.render.DateOnlyLocation),
		Start:   task.Start,
		End:     task.End,
		Version: header.Get("ETag"),
	}, nil
}

// multiget fetches the iCalendar bodies for hrefs and extracts each event's
// uid. Etags from the preceding listing are carried through as versions.
func (c *Client) multiget(ctx context.Context, hrefs []string, etags map[string]string) ([]model.CalendarEvent, error) {
	if len(hrefs) == 0 {
		return nil, nil
	}
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="utf-8"?><c:calendar-multiget xmlns:d="DAV:" xmlns:c="urn:ietf:params:xml:ns:caldav"><d:prop><d:getetag/><c:calendar-data/></d:prop>`)
	for _, href := range hrefs {
		b.WriteString("<d:href>")
		b.WriteString(xmlEscape(href))
		b.WriteString("</d:href>")
	}
	b.WriteString(`</c:calendar-multiget>`)

	status, body, _, err := c.do(ctx, "REPORT", c.absURL(c.calendarHref), "1", b.String())
	if err != nil {
		return nil, err
	}
	if status != http.StatusMultiStatus {
		return nil, fmt.Errorf("fetching event bodies: unexpected status %d", status)
	}
	var ms multistatus
	if err := xml.Unmarshal(body, &ms); err != nil {
		return nil, fmt.Errorf("parsing multiget response: %w", err)
	}

	events := make([]model.CalendarEvent, 0, len(hrefs))
	for _, resp := range ms.Responses {
		p, ok := okProp(resp)
		if !ok || p.CalendarData == "" {
			continue
		}
		lines := unfoldICS(p.CalendarData)
		uid := icsProperty(lines, "UID")
		if uid == "" {
			uid = hrefUID(resp.Href)
		}
		version := p.ETag
		if version == "" {
			version = etags[resp.Href]
		}
		events = append(events, model.CalendarEvent{
			Href:        resp.Href,
			UID:         uid,
			Summary:     icsProperty(lines, "SUMMARY"),
			Description: icsProperty(lines, "DESCRIPTION"),
			Start:       icsProperty(lines, "DTSTART"),
			End:         icsProperty(lines, "DTEND"),
			Version:     version,
		})
	}
	return events, nil
}

func (c *Client) findCalendar(ctx context.Context, home, name string) (string, error) {
	status, body, _, err := c.do(ctx, "PROPFIND", c.absURL(home), "1", calendarsBody)
	if err != nil {
		return "", err
	}
	if status != http.StatusMultiStatus {
		return "", fmt.Errorf("listing calendars: unexpected status %d", status)
	}
	var ms multistatus
	if err := xml.Unmarshal(body, &ms); err != nil {
		return "", fmt.Errorf("parsing calendar listing: %w", err)
	}
	for _, resp := range ms.Responses {
		p, ok := okProp(resp)
		if !ok || p.ResourceType.Calendar == nil {
			continue
		}
		if p.DisplayName == name {
			return ensureTrailingSlash(resp.Href), nil
		}
	}
	return "", nil
}

func (c *Client) makeCalendar(ctx context.Context, home string, meta calendar.Metadata) (string, error) {
	href := ensureTrailingSlash(home) + uuid.NewString() + "/"
	body := fmt.Sprintf(
		`<?xml version="1.0" encoding="utf-8"?><c:mkcalendar xmlns:d="DAV:" xmlns:c="urn:ietf:params:xml:ns:caldav"><d:set><d:prop><d:displayname>%s</d:displayname></d:prop></d:set></c:mkcalendar>`,
		xmlEscape(meta.Name),
	)
	status, _, _, err := c.doFull(ctx, "MKCALENDAR", c.absURL(href), "", "application/xml; charset=utf-8", body)
	if err != nil {
		return "", err
	}
	if status != http.StatusCreated {
		return "", fmt.Errorf("creating calendar: unexpected status %d", status)
	}
	// The color is cosmetic; servers that reject the Apple property keep
	// the calendar usable, so failures here are ignored.
	_ = c.setColor(ctx, href, meta.Color)
	return href, nil
}

func (c *Client) setColor(ctx context.Context, href, color string) error {
	if color == "" {
		return nil
	}
	body := fmt.Sprintf(
		`<?xml version="1.0" encoding="utf-8"?><d:propertyupdate xmlns:d="DAV:" xmlns:a="http://apple.com/ns/ical/"><d:set><d:prop><a:calendar-color symbolic-color="custom">%s</a:calendar-color></d:prop></d:set></d:propertyupdate>`,
		xmlEscape(appleColor(color)),
	)
	status, _, _, err := c.doFull(ctx, "PROPPATCH", c.absURL(href), "", "application/xml; charset=utf-8", body)
	if err != nil {
		return err
	}
	if status != http.StatusMultiStatus && status >= 300 {
		return fmt.Errorf("setting calendar color: unexpected status %d", status)
	}
	return nil
}

// propfindHref runs a Depth 0 PROPFIND and extracts one href-valued
// property via pick.
func (c *Client) propfindHref(ctx context.Context, rawURL, body string, pick func(prop) string) (string, error) {
	status, respBody, _, err := c.do(ctx, "PROPFIND", rawURL, "0", body)
	if err != nil {
		return "", err
	}
	if status != http.StatusMultiStatus {
		return "", fmt.Errorf("unexpected status %d", status)
	}
	var ms multistatus
	if err := xml.Unmarshal(respBody, &ms); err != nil {
		return "", fmt.Errorf("parsing propfind response: %w", err)
	}
	for _, resp := range ms.Responses {
		p, ok := okProp(resp)
		if !ok {
			continue
		}
		if href := pick(p); href != "" {
			return href, nil
		}
	}
	return "", fmt.Errorf("property missing from propfind response")
}

func (c *Client) do(ctx context.Context, method, rawURL, depth, body string) (int, []byte, http.Header, error) {
	return c.doFull(ctx, method, rawURL, depth, "application/xml; charset=utf-8", body)
}

func (c *Client) doFull(ctx context.Context, method, rawURL, depth, contentType, body string) (int, []byte, http.Header, error) {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("creating request: %w", err)
	}
	req.SetBasicAuth(c.username, c.password)
	if depth != "" {
		req.Header.Set("Depth", depth)
	}
	if body != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("executing %s %s: %w", method, rawURL, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("reading response body: %w", err)
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		if !staleToken(resp.StatusCode, respBody) {
			return 0, nil, nil, fmt.Errorf("caldav authentication failed with status %d", resp.StatusCode)
		}
	}
	return resp.StatusCode, respBody, resp.Header, nil
}

// absURL resolves a server-relative href against the configured origin.
func (c *Client) absURL(href string) string {
	if strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") {
		return href
	}
	return c.origin.Scheme + "://" + c.origin.Host + href
}

// staleToken reports whether a failed sync report indicates an expired
// token rather than a hard error. Servers answer with 403 plus a
// valid-sync-token precondition, or with 400/507.
func staleToken(status int, body []byte) bool {
	if bytes.Contains(body, []byte("valid-sync-token")) {
		return true
	}
	return status == http.StatusBadRequest || status == http.StatusInsufficientStorage
}

// hrefUID recovers the event uid from an href of the form
// .../<uid>.ics. Events written by this process are always named that
// way; foreign names yield an empty string.
func hrefUID(href string) string {
	base := href
	if idx := strings.LastIndex(base, "/"); idx >= 0 {
		base = base[idx+1:]
	}
	trimmed := strings.TrimSuffix(base, ".ics")
	if trimmed == base {
		return ""
	}
	unescaped, err := url.PathUnescape(trimmed)
	if err != nil {
		return trimmed
	}
	return unescaped
}

func okProp(resp davResponse) (prop, bool) {
	for _, ps := range resp.Propstats {
		if strings.Contains(ps.Status, "200") {
			return ps.Prop, true
		}
	}
	return prop{}, false
}

func ensureTrailingSlash(href string) string {
	if strings.HasSuffix(href, "/") {
		return href
	}
	return href + "/"
}

// appleColor widens #RRGGBB to the #RRGGBBAA form Apple's calendar-color
// property expects.
func appleColor(color string) string {
	if len(color) == 7 && strings.HasPrefix(color, "#") {
		return color + "FF"
	}
	return color
}

func xmlEscape(value string) string {
	var b bytes.Buffer
	_ = xml.EscapeText(&b, []byte(value))
	return b.String()
}
