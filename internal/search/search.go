// Package search provides substring search over posts, backed by Meilisearch
// when configured and falling back to postgres ILIKE matching otherwise.
package search

// Query is a post search request.
type Query struct {
	Text   string
	Limit  int
	Offset int
}

// Result is one post hit.
type Result struct {
	ID      int64    `json:"id"`
	Title   string   `json:"title"`
	Snippet string   `json:"snippet"`
	Author  string   `json:"author"`
	Tags    []string `json:"tags"`
}

// Response is the payload handed back to the HTTP layer.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// PostRecord is the shape indexed into Meilisearch.
type PostRecord struct {
	ID     int64    `json:"id"`
	Title  string   `json:"title"`
	Body   string   `json:"body"`
	Author string   `json:"author"`
	Tags   []string `json:"tags"`
}
