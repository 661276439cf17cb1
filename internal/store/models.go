package store

import "time"

type User struct {
	ID           string
	DisplayName  string
	Email        string
	PasswordHash string
	Role         string
	CreatedAt    time.Time
}

// Post is an immutable document users annotate.
type Post struct {
	ID         string
	AuthorID   string
	AuthorName string
	Title      string
	Body       string
	CreatedAt  time.Time
}

// Annotation is one committed action against a span of a post. Votes carry
// exactly one tag; comments carry text; quotes carry only the span.
type Annotation struct {
	ID         string
	PostID     string
	UserID     string
	UserName   string
	Type       string
	StartIndex int
	EndIndex   int
	SpanText   string
	Weight     float64
	Tags       []string
	Comment    string
	WithQuote  bool
	CreatedAt  time.Time
}

// VoteRecord is the per-user vote direction on a post.
type VoteRecord struct {
	UserID string
	Type   string
}

type VoteTotals struct {
	Up       int
	Down     int
	Comments int
	Quotes   int
}
