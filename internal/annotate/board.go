package annotate

import (
	"regexp"
	"strings"
	"sync"
	"unicode/utf8"
)

// FocusedSpan is a persisted span reached from a permalink.
type FocusedSpan struct {
	StartWordIndex int `json:"startWordIndex"`
	EndWordIndex   int `json:"endWordIndex"`
}

// Valid reports whether the focused span covers any text.
func (f *FocusedSpan) Valid() bool {
	return f != nil && f.EndWordIndex > f.StartWordIndex
}

// Mode is the board's highlight mode. It is derived from props, never set.
type Mode string

const (
	ModePlain   Mode = "plain"
	ModeFocused Mode = "focused"
	ModeAdHoc   Mode = "adhoc"
)

// Chunk is a contiguous run of document text.
type Chunk struct {
	Text        string `json:"text"`
	Start       int    `json:"start"`
	End         int    `json:"end"`
	Highlighted bool   `json:"highlighted"`
}

type BoardOptions struct {
	UserID          string
	VoteRecords     []VoteRecord
	Annotating      bool
	FocusedSpan     *FocusedSpan
	HighlightedText string
	Breakpoints     Breakpoints
}

// Board renders a document with at most one highlight and pairs the
// selection tracker with the action panel.
type Board struct {
	mu          sync.Mutex
	content     string
	annotating  bool
	focused     *FocusedSpan
	highlighted string
	current     Span
	visible     bool
	host        Host
	panel       *Panel
	tracker     *Tracker
}

func NewBoard(content string, host Host, opts BoardOptions) *Board {
	if host == nil {
		host = HostFuncs{}
	}
	if opts.Breakpoints == (Breakpoints{}) {
		opts.Breakpoints = DefaultBreakpoints()
	}
	b := &Board{
		content:     content,
		annotating:  opts.Annotating,
		focused:     cloneFocus(opts.FocusedSpan),
		highlighted: opts.HighlightedText,
		host:        host,
	}
	b.panel = NewPanel(host, opts.UserID, opts.VoteRecords, opts.Breakpoints)
	return b
}

func (b *Board) Panel() *Panel { return b.panel }

func (b *Board) Content() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.content
}

// Attach wires a tracker over platform to this board. The board owns the
// returned tracker's visibility; the caller owns its lifetime. Samples
// superseded by a hide or a new gesture are dropped.
func (b *Board) Attach(platform Platform, opts TrackerOptions) *Tracker {
	t := newTracker(platform,
		func(gen uint64, sel Selection) { b.apply(true, gen, sel, true) },
		func(gen uint64) { b.apply(true, gen, Selection{}, false) },
		opts,
	)
	b.mu.Lock()
	b.tracker = t
	b.mu.Unlock()
	return t
}

// SetContent swaps the document and drops any stale selection.
func (b *Board) SetContent(content string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if content == b.content {
		return
	}
	b.content = content
	b.clearLocked()
}

func (b *Board) SetAnnotating(on bool) {
	b.mu.Lock()
	b.annotating = on
	b.mu.Unlock()
}

func (b *Board) SetFocusedSpan(f *FocusedSpan) {
	b.mu.Lock()
	b.focused = cloneFocus(f)
	b.mu.Unlock()
}

func (b *Board) SetHighlightedText(text string) {
	b.mu.Lock()
	b.highlighted = text
	b.mu.Unlock()
}

func (b *Board) SetVoteRecords(votes []VoteRecord) {
	b.panel.SetVoteRecords(votes)
}

// CurrentSelection returns the live span; empty when nothing is selected.
func (b *Board) CurrentSelection() Span {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}

// ShowPopover reports whether the action panel is visible.
func (b *Board) ShowPopover() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.tracker != nil && !b.tracker.ShowPopover() {
		return false
	}
	return b.visible
}

// HandleSelect turns a live selection into the current span. A selection
// that does not resolve is handled exactly like no selection.
func (b *Board) HandleSelect(sel Selection) {
	b.apply(false, 0, sel, true)
}

// HandleDeselect clears the selection and hides the panel.
func (b *Board) HandleDeselect() {
	b.apply(false, 0, Selection{}, false)
}

// apply is the single path for selection changes. Tracked samples carry
// the tracker generation they were taken under. The host hears about a
// change only when the current span actually changes.
func (b *Board) apply(tracked bool, gen uint64, sel Selection, present bool) {
	b.mu.Lock()
	var span Span
	ok := false
	if present {
		span, ok = Resolve(b.content, sel.Text, sel)
	}

	if tracked && b.tracker != nil {
		var live bool
		if ok {
			live = b.tracker.showIfCurrent(gen)
		} else {
			live = b.tracker.current(gen)
		}
		if !live {
			b.mu.Unlock()
			return
		}
	}

	prev := b.current
	if !ok {
		b.clearLocked()
		b.mu.Unlock()
		if !prev.Empty() {
			b.host.OnDeselect()
		}
		return
	}

	b.current = span
	b.panel.SetSpan(span)
	b.visible = true
	if !tracked && b.tracker != nil {
		b.tracker.SetShowPopover(true)
	}
	b.mu.Unlock()

	if span != prev {
		b.host.OnSelect(span)
	}
}

// Dismiss hides the panel and forgets the selection without a deselect
// notification, e.g. after a commit.
func (b *Board) Dismiss() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.clearLocked()
}

// clearLocked drops the current span, closes the panel and hides the
// popover. Hiding through the tracker cancels any in-flight tick.
func (b *Board) clearLocked() {
	b.current = Span{}
	b.panel.SetSpan(Span{})
	b.panel.Reset()
	b.visible = false
	if b.tracker != nil {
		b.tracker.SetShowPopover(false)
	}
}

// Mode derives the active highlight mode.
func (b *Board) Mode() Mode {
	b.mu.Lock()
	defer b.mu.Unlock()
	mode, _, _ := b.highlightLocked()
	return mode
}

// Chunks splits the document for rendering under the active mode.
func (b *Board) Chunks() []Chunk {
	b.mu.Lock()
	defer b.mu.Unlock()
	mode, start, end := b.highlightLocked()
	if mode == ModePlain {
		return splitChunks(b.content, 0, 0)
	}
	return splitChunks(b.content, start, end)
}

func (b *Board) highlightLocked() (Mode, int, int) {
	if !b.annotating {
		return ModePlain, 0, 0
	}
	if b.focused.Valid() {
		start := runeFloor(b.content, max(b.focused.StartWordIndex, 0))
		end := runeCeil(b.content, min(b.focused.EndWordIndex, len(b.content)))
		if start < end {
			return ModeFocused, start, end
		}
	}
	if !b.current.Empty() {
		return ModeAdHoc, b.current.StartIndex, b.current.EndIndex
	}
	if start, end, ok := FindNormalized(b.content, b.highlighted); ok {
		return ModeAdHoc, start, end
	}
	return ModePlain, 0, 0
}

// runeFloor moves i back to the start of the rune containing it.
func runeFloor(s string, i int) int {
	for i > 0 && i < len(s) && !utf8.RuneStart(s[i]) {
		i--
	}
	return i
}

// runeCeil moves i forward to the next rune start.
func runeCeil(s string, i int) int {
	for i > 0 && i < len(s) && !utf8.RuneStart(s[i]) {
		i++
	}
	return i
}

// FindNormalized returns the first case-sensitive match of needle in doc
// where any run of whitespace in needle matches any run in doc.
func FindNormalized(doc, needle string) (int, int, bool) {
	fields := strings.Fields(needle)
	if len(fields) == 0 {
		return 0, 0, false
	}
	quoted := make([]string, len(fields))
	for i, f := range fields {
		quoted[i] = regexp.QuoteMeta(f)
	}
	re, err := regexp.Compile(strings.Join(quoted, `\s+`))
	if err != nil {
		return 0, 0, false
	}
	loc := re.FindStringIndex(doc)
	if loc == nil {
		return 0, 0, false
	}
	return loc[0], loc[1], true
}

func splitChunks(doc string, start, end int) []Chunk {
	if start >= end {
		if doc == "" {
			return nil
		}
		return []Chunk{{Text: doc, Start: 0, End: len(doc)}}
	}
	chunks := make([]Chunk, 0, 3)
	if start > 0 {
		chunks = append(chunks, Chunk{Text: doc[:start], Start: 0, End: start})
	}
	chunks = append(chunks, Chunk{Text: doc[start:end], Start: start, End: end, Highlighted: true})
	if end < len(doc) {
		chunks = append(chunks, Chunk{Text: doc[end:], Start: end, End: len(doc)})
	}
	return chunks
}

// MenuEvent is a context-menu request (right click or long press).
type MenuEvent struct {
	OverDocument     bool
	DefaultPrevented bool
	Propagating      bool
}

// ContextMenu suppresses native context menus over the document text so
// they don't fight the select-and-annotate gesture.
func (b *Board) ContextMenu(ev *MenuEvent) {
	if ev == nil || !ev.OverDocument {
		return
	}
	ev.DefaultPrevented = true
	ev.Propagating = false
}

func cloneFocus(f *FocusedSpan) *FocusedSpan {
	if f == nil {
		return nil
	}
	c := *f
	return &c
}
