package annotate

import (
	"errors"
	"math"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Span is a word-aligned [StartIndex, EndIndex) byte range into a document.
type Span struct {
	StartIndex int     `json:"startIndex"`
	EndIndex   int     `json:"endIndex"`
	Text       string  `json:"text"`
	Weight     float64 `json:"weight"`
}

// Empty reports whether the span covers no text.
func (s Span) Empty() bool {
	return s.EndIndex <= s.StartIndex
}

// Len returns the span length in bytes.
func (s Span) Len() int {
	if s.Empty() {
		return 0
	}
	return s.EndIndex - s.StartIndex
}

var (
	ErrSpanOutOfRange   = errors.New("span out of range")
	ErrSpanMisaligned   = errors.New("span not on word boundaries")
	ErrSpanTextMismatch = errors.New("span text does not match document")
)

// Resolve converts a raw selection into a canonical word-aligned span.
// The boolean is false whenever the selection cannot be anchored; callers
// treat that exactly like "nothing selected".
func Resolve(doc, selected string, sel Selection) (Span, bool) {
	if strings.TrimSpace(selected) == "" {
		return Span{}, false
	}
	if sel.Collapsed || sel.Bounds.Width <= 0 || sel.Bounds.Height <= 0 {
		return Span{}, false
	}

	needle := strings.TrimFunc(selected, unicode.IsSpace)
	start := locate(doc, needle, sel.AnchorOffset)
	if start < 0 {
		return Span{}, false
	}
	end := start + len(needle)
	if end > len(doc) {
		return Span{}, false
	}

	start, end = snap(doc, start, end)
	if start < 0 || end > len(doc) || start > end {
		return Span{}, false
	}
	return SpanAt(doc, start, end)
}

// SpanAt builds a span over doc[start:end] without snapping.
func SpanAt(doc string, start, end int) (Span, bool) {
	if start < 0 || end > len(doc) || start > end {
		return Span{}, false
	}
	return Span{
		StartIndex: start,
		EndIndex:   end,
		Text:       doc[start:end],
		Weight:     weight(end - start),
	}, true
}

// ValidateSpan checks a span that arrived from outside the resolver.
func ValidateSpan(doc string, span Span) error {
	if span.StartIndex < 0 || span.EndIndex > len(doc) || span.StartIndex > span.EndIndex {
		return ErrSpanOutOfRange
	}
	if doc[span.StartIndex:span.EndIndex] != span.Text {
		return ErrSpanTextMismatch
	}
	if !IsWordBoundary(doc, span.StartIndex) || !IsWordBoundary(doc, span.EndIndex) {
		return ErrSpanMisaligned
	}
	return nil
}

// IsWordBoundary reports whether offset i does not split a word of doc.
func IsWordBoundary(doc string, i int) bool {
	if i <= 0 || i >= len(doc) {
		return i == 0 || i == len(doc)
	}
	if !utf8.RuneStart(doc[i]) {
		return false
	}
	before, _ := utf8.DecodeLastRuneInString(doc[:i])
	after, _ := utf8.DecodeRuneInString(doc[i:])
	return unicode.IsSpace(before) || unicode.IsSpace(after)
}

// locate returns the offset of the occurrence of needle nearest to anchor,
// or the first occurrence when anchor is unknown.
func locate(doc, needle string, anchor int) int {
	first := strings.Index(doc, needle)
	if first < 0 || anchor < 0 {
		return first
	}

	best, bestDist := first, distance(first, anchor)
	for offset := first + 1; offset < len(doc); {
		next := strings.Index(doc[offset:], needle)
		if next < 0 {
			break
		}
		idx := offset + next
		if d := distance(idx, anchor); d < bestDist {
			best, bestDist = idx, d
		}
		offset = idx + 1
	}
	return best
}

// snap widens [start, end) outward to the enclosing whitespace boundaries.
func snap(doc string, start, end int) (int, int) {
	for start > 0 {
		r, size := utf8.DecodeLastRuneInString(doc[:start])
		if unicode.IsSpace(r) {
			break
		}
		start -= size
	}
	for end < len(doc) {
		r, size := utf8.DecodeRuneInString(doc[end:])
		if unicode.IsSpace(r) {
			break
		}
		end += size
	}
	return start, end
}

func weight(length int) float64 {
	if length <= 0 {
		return 0
	}
	return math.Log1p(float64(length))
}

func distance(a, b int) int {
	if a > b {
		return a - b
	}
	return b - a
}
