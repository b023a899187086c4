package workspace

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"calmirror/internal/model"
)

// Property name candidates checked in order when mapping a page to a task.
// Databases name these properties inconsistently; the first matching name
// with a usable type wins.
var (
	statusProperties   = []string{"Status", "Task Status", "Progress"}
	dateProperties     = []string{"Due date", "Due", "Date", "Deadline", "Scheduled"}
	categoryProperties = []string{"Category", "Tags", "Tag", "Type", "Class"}
)

// descriptionProperty is the page property carrying the task body.
const descriptionProperty = "Description"

// queryPageSize is the page size used when enumerating a database.
const queryPageSize = 100

// Adapter implements source.Source for the workspace pages/databases API.
type Adapter struct {
	client     *Client
	databaseID string

	mu         sync.Mutex
	datasource string
}

// NewAdapter creates a workspace source adapter bound to one database.
func NewAdapter(baseURL, token, databaseID string) *Adapter {
	return &Adapter{
		client:     NewClient(baseURL, token),
		databaseID: databaseID,
	}
}

// FetchAll enumerates every record in the configured database, following
// pagination cursors until exhausted.
func (a *Adapter) FetchAll(ctx context.Context) ([]model.Task, error) {
	label := a.datasourceLabel(ctx)

	var tasks []model.Task
	cursor := ""
	for {
		body := queryRequest{StartCursor: cursor, PageSize: queryPageSize}

		var resp queryResponse
		err := a.client.Post(ctx, "/v1/databases/"+a.databaseID+"/query", body, &resp)
		if err != nil {
			return nil, fmt.Errorf("querying database %s: %w", a.databaseID, err)
		}

		for _, page := range resp.Results {
			tasks = append(tasks, pageToTask(page, label))
		}

		if !resp.HasMore || resp.NextCursor == "" {
			break
		}
		cursor = resp.NextCursor
	}

	return tasks, nil
}

// FetchByIDs fetches each record individually. Ids that no longer resolve
// are silently omitted; archived records come back with Archived set.
func (a *Adapter) FetchByIDs(ctx context.Context, ids []string) ([]model.Task, error) {
	label := a.datasourceLabel(ctx)

	tasks := make([]model.Task, 0, len(ids))
	for _, id := range ids {
		var page Page
		err := a.client.Get(ctx, "/v1/pages/"+id, &page)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("fetching page %s: %w", id, err)
		}
		tasks = append(tasks, pageToTask(page, label))
	}

	return tasks, nil
}

// datasourceLabel resolves the database title, caching it after the first
// successful lookup. A failed lookup degrades to an empty label rather than
// failing the fetch.
func (a *Adapter) datasourceLabel(ctx context.Context) string {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.datasource != "" {
		return a.datasource
	}

	var db Database
	if err := a.client.Get(ctx, "/v1/databases/"+a.databaseID, &db); err == nil {
		a.datasource = plainText(db.Title)
	}
	return a.datasource
}

// pageToTask maps a workspace page onto the normalized task model.
func pageToTask(page Page, datasource string) model.Task {
	props := page.Properties

	// The title property's name varies per database; match on type.
	title := ""
	for _, prop := range props {
		if prop.Type == "title" {
			title = plainText(prop.Title)
			break
		}
	}

	status := ""
	for _, name := range statusProperties {
		prop, ok := props[name]
		if !ok {
			continue
		}
		switch {
		case prop.Type == "status" && prop.Status != nil:
			status = prop.Status.Name
		case prop.Type == "select" && prop.Select != nil:
			status = prop.Select.Name
		}
		if status != "" {
			break
		}
	}

	var start, end string
	for _, name := range dateProperties {
		prop, ok := props[name]
		if !ok || prop.Type != "date" || prop.Date == nil {
			continue
		}
		start, end = prop.Date.Start, prop.Date.End
		break
	}

	var category, categoryLabel string
	for _, name := range categoryProperties {
		prop, ok := props[name]
		if !ok {
			continue
		}
		switch {
		case prop.Type == "select" && prop.Select != nil:
			category = prop.Select.Name
		case prop.Type == "multi_select" && len(prop.MultiSelect) > 0:
			category = prop.MultiSelect[0].Name
		}
		if category != "" {
			categoryLabel = name
			break
		}
	}

	description := ""
	if prop, ok := props[descriptionProperty]; ok && prop.Type == "rich_text" {
		description = plainText(prop.RichText)
	}

	return model.Task{
		ID:            page.ID,
		Title:         title,
		Status:        status,
		Start:         start,
		End:           end,
		Datasource:    datasource,
		Category:      category,
		CategoryLabel: categoryLabel,
		Description:   description,
		URL:           page.URL,
		Archived:      page.Archived || page.InTrash,
	}
}

// plainText concatenates the plain text segments of a rich text value.
func plainText(segments []RichText) string {
	var b strings.Builder
	for _, seg := range segments {
		b.WriteString(seg.PlainText)
	}
	return strings.TrimSpace(b.String())
}
