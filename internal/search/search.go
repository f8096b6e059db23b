// Package search provides full-text search over transcripts and social-media
// threads, backed by Meilisearch with a PostgreSQL fallback.
package search

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultEvent ResultType = "event"
	ResultPost  ResultType = "post"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type      ResultType `json:"type"`
	ID        string     `json:"id"`
	Snippet   string     `json:"snippet"`
	DatasetID string     `json:"datasetId"`
	TurnID    string     `json:"turnId,omitempty"`
	EventN    int        `json:"eventN,omitempty"`
	Speaker   string     `json:"speaker,omitempty"`
}

// Query describes a search request.
type Query struct {
	Text       string
	FilterType ResultType // empty = all types
	DatasetID  int64      // 0 = all datasets
	Limit      int
	Offset     int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// EventRecord is the data we index for a dialog event.
type EventRecord struct {
	ID        string `json:"id"`
	DatasetID string `json:"datasetId"`
	TurnID    string `json:"turnId"`
	EventN    int    `json:"eventN"`
	Speaker   string `json:"speaker"`
	Plaintext string `json:"plaintext"`
}

// PostRecord is the data we index for a social-media post.
type PostRecord struct {
	ID        string `json:"id"`
	DatasetID string `json:"datasetId"`
	UserID    string `json:"userId"`
	Question  string `json:"question"`
}
