// Package search finds posts and annotations, through Meilisearch when it
// is reachable and Postgres full-text search otherwise.
package search

import "context"

type ResultType string

const (
	ResultPost       ResultType = "post"
	ResultAnnotation ResultType = "annotation"
)

// Result is a single hit. Annotation hits carry their span so the caller
// can deep-link into the post with the span focused.
type Result struct {
	Type           ResultType `json:"type"`
	ID             string     `json:"id"`
	PostID         string     `json:"postId"`
	Title          string     `json:"title"`
	Snippet        string     `json:"snippet"`
	AnnotationType string     `json:"annotationType,omitempty"`
	StartIndex     int        `json:"startIndex,omitempty"`
	EndIndex       int        `json:"endIndex,omitempty"`
}

type Query struct {
	Text           string
	FilterType     ResultType // empty = both
	PostID         string
	AnnotationType string
	Limit          int
	Offset         int
}

func (q Query) limit() int {
	if q.Limit <= 0 || q.Limit > 100 {
		return 20
	}
	return q.Limit
}

func (q Query) offset() int {
	if q.Offset < 0 {
		return 0
	}
	return q.Offset
}

type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
	Backend string   `json:"backend"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
	Healthy() bool
}

type PostRecord struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	Body       string `json:"body"`
	AuthorName string `json:"authorName"`
	CreatedAt  int64  `json:"createdAt"`
}

type AnnotationRecord struct {
	ID         string   `json:"id"`
	PostID     string   `json:"postId"`
	PostTitle  string   `json:"postTitle"`
	Type       string   `json:"type"`
	SpanText   string   `json:"spanText"`
	Comment    string   `json:"comment"`
	Tags       []string `json:"tags"`
	UserName   string   `json:"userName"`
	StartIndex int      `json:"startIndex"`
	EndIndex   int      `json:"endIndex"`
}
