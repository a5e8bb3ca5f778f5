package domain

// WorkItem is an item in the external work tracking service that a feedback
// item may be associated with.
type WorkItem struct {
	ID     int               `json:"id"`
	Fields map[string]any `json:"fields,omitempty"`
	URL    string            `json:"url,omitempty"`
}
