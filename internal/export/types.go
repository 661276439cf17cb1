// Package export renders a post with its highlighted span and annotation
// list to PDF, optionally uploading the result to object storage.
package export

import (
	"errors"
	"time"

	"margin/api/internal/annotate"
)

// Document is everything the export template needs. Chunks come from an
// annotate.Board so the highlight matches what readers see on screen.
type Document struct {
	PostID      string
	Title       string
	Author      string
	CreatedAt   time.Time
	Chunks      []annotate.Chunk
	Annotations []Annotation
	Totals      Totals
}

type Annotation struct {
	Type      string
	Author    string
	SpanText  string
	Tags      []string
	Comment   string
	Focused   bool
	CreatedAt time.Time
}

type Totals struct {
	Up       int
	Down     int
	Comments int
	Quotes   int
}

// Result contains the export output. URL is set when the file was
// uploaded to object storage.
type Result struct {
	Data     []byte
	Filename string
	MimeType string
	URL      string
}

var (
	// ErrContentUnavailable indicates the post has no body to export.
	ErrContentUnavailable = errors.New("export content unavailable")
	// ErrPDFDependencyMissing indicates Chromium is not installed.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
)
