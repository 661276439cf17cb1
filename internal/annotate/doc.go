// Package annotate is the selection-to-annotation engine.
//
// A user selects part of a post; the Tracker notices (pointer events plus a
// 100ms poll for platforms that do not report selection changes reliably)
// and anchors a popover; the Board resolves the selection into a
// word-aligned Span and highlights it; the Panel offers upvote, downvote,
// comment and quote and hands the committed ActionRequest to a Host.
//
// Nothing here persists anything or knows how it is rendered. Offsets are
// byte offsets into the Go string holding the document.
package annotate
