package workspace

// queryRequest is the body for POST /v1/databases/{id}/query.
type queryRequest struct {
	StartCursor string `json:"start_cursor,omitempty"`
	PageSize    int    `json:"page_size"`
}

// queryResponse is one page of database query results.
type queryResponse struct {
	Results    []Page `json:"results"`
	HasMore    bool   `json:"has_more"`
	NextCursor string `json:"next_cursor"`
}

// Page is a task record as returned by the workspace API.
type Page struct {
	ID             string              `json:"id"`
	URL            string              `json:"url"`
	Archived       bool                `json:"archived"`
	InTrash        bool                `json:"in_trash"`
	LastEditedTime string              `json:"last_edited_time"`
	Parent         Parent              `json:"parent"`
	Properties     map[string]Property `json:"properties"`
}

// Parent locates the container a page belongs to.
type Parent struct {
	Type         string `json:"type"`
	DatabaseID   string `json:"database_id,omitempty"`
	DataSourceID string `json:"data_source_id,omitempty"`
}

// Property is a single page property value; Type selects which member
// carries the data.
type Property struct {
	Type        string        `json:"type"`
	Title       []RichText    `json:"title,omitempty"`
	RichText    []RichText    `json:"rich_text,omitempty"`
	Status      *SelectValue  `json:"status,omitempty"`
	Select      *SelectValue  `json:"select,omitempty"`
	MultiSelect []SelectValue `json:"multi_select,omitempty"`
	Date        *DateValue    `json:"date,omitempty"`
}

// RichText is one segment of a rich text value.
type RichText struct {
	PlainText string `json:"plain_text"`
}

// SelectValue is a status/select option.
type SelectValue struct {
	Name string `json:"name"`
}

// DateValue is a date property payload. Start and End are ISO-8601 dates or
// date-times as the source stores them.
type DateValue struct {
	Start string `json:"start"`
	End   string `json:"end,omitempty"`
}

// Database describes a database container; its title labels the datasource.
type Database struct {
	ID    string     `json:"id"`
	Title []RichText `json:"title"`
}

// ErrorResponse is the workspace API's error body.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
