package annotate

import (
	"log/slog"
	"sync"
	"time"
)

// Platform is the live selection surface the tracker samples: a browser
// page, a native text view, or a scripted stand-in.
type Platform interface {
	// Selection returns the non-collapsed selection inside the selectable
	// container, if there is one.
	Selection() (Selection, bool)
	// ContainerBounds is false until the selectable container is mounted.
	ContainerBounds() (Rect, bool)
	// PopoverBounds is false until the popover element is mounted.
	PopoverBounds() (Rect, bool)
	Viewport() Viewport
	ClearSelection()
}

// Ticker is the subset of time.Ticker the poll needs.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type timeTicker struct{ t *time.Ticker }

func (t timeTicker) C() <-chan time.Time { return t.t.C }
func (t timeTicker) Stop()               { t.t.Stop() }

// NewTimeTicker is the default Ticker factory.
func NewTimeTicker(d time.Duration) Ticker {
	return timeTicker{t: time.NewTicker(d)}
}

// DefaultPollInterval is the fallback poll period while a gesture is active.
const DefaultPollInterval = 100 * time.Millisecond

// TrackerOptions tunes a Tracker; zero values take the defaults.
type TrackerOptions struct {
	PollInterval time.Duration
	TopOffset    float64
	Breakpoints  Breakpoints
	NewTicker    func(time.Duration) Ticker
	// AfterSample runs once each sample has been delivered.
	AfterSample func()
	Logger      *slog.Logger
}

func (o TrackerOptions) withDefaults() TrackerOptions {
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.Breakpoints == (Breakpoints{}) {
		o.Breakpoints = DefaultBreakpoints()
	}
	if o.NewTicker == nil {
		o.NewTicker = NewTimeTicker
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

type selectionPoll struct {
	ticker Ticker
	done   chan struct{}
	gen    uint64
}

// Tracker turns pointer events and a polling fallback into a single
// select/deselect callback pair plus popover geometry.
//
// Callbacks run on the caller's goroutine for pointer events and on the
// poll goroutine for ticks. They may call SetShowPopover but must not call
// the pointer methods or Close.
type Tracker struct {
	platform   Platform
	onSelect   func(uint64, Selection)
	onDeselect func(uint64)
	opts       TrackerOptions
	log        *slog.Logger

	// emitMu serializes sampling and delivery so that notifications reach
	// the callbacks in generation order.
	emitMu sync.Mutex

	mu          sync.Mutex
	gen         uint64
	poll        *selectionPoll
	geometry    Geometry
	hasGeometry bool
	visible     bool
	closed      bool
	wg          sync.WaitGroup
}

func NewTracker(platform Platform, onSelect func(Selection), onDeselect func(), opts TrackerOptions) *Tracker {
	if onSelect == nil {
		onSelect = func(Selection) {}
	}
	if onDeselect == nil {
		onDeselect = func() {}
	}
	return newTracker(platform,
		func(_ uint64, sel Selection) { onSelect(sel) },
		func(uint64) { onDeselect() },
		opts,
	)
}

// newTracker delivers each sample together with the generation it was
// taken under, so the receiver can drop it once superseded.
func newTracker(platform Platform, onSelect func(uint64, Selection), onDeselect func(uint64), opts TrackerOptions) *Tracker {
	opts = opts.withDefaults()
	return &Tracker{
		platform:   platform,
		onSelect:   onSelect,
		onDeselect: onDeselect,
		opts:       opts,
		log:        opts.Logger,
	}
}

// SelectionStart begins a gesture and (re)starts the poll.
func (t *Tracker) SelectionStart() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.stopPollLocked()

	p := &selectionPoll{
		ticker: t.opts.NewTicker(t.opts.PollInterval),
		done:   make(chan struct{}),
		gen:    t.gen,
	}
	t.poll = p
	t.wg.Add(1)
	go t.run(p)
	t.log.Debug("selection poll started", "gen", p.gen, "interval", t.opts.PollInterval)
}

// PointerMove samples the selection while a gesture is in progress.
func (t *Tracker) PointerMove() {
	t.mu.Lock()
	if t.closed || t.poll == nil {
		t.mu.Unlock()
		return
	}
	gen := t.gen
	t.mu.Unlock()
	t.sample(gen)
}

// PointerUp ends the gesture: the poll is torn down and the final
// selection state is delivered once.
func (t *Tracker) PointerUp() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.stopPollLocked()
	gen := t.gen
	t.mu.Unlock()
	t.sample(gen)
}

// SetShowPopover mirrors the externally controlled popover visibility.
// Hiding always clears the platform selection.
func (t *Tracker) SetShowPopover(show bool) {
	t.mu.Lock()
	wasVisible := t.visible
	t.visible = show
	if show || !wasVisible || t.closed {
		t.mu.Unlock()
		return
	}
	t.stopPollLocked()
	t.hasGeometry = false
	t.mu.Unlock()

	t.platform.ClearSelection()
}

// current reports whether gen is still the live generation.
func (t *Tracker) current(gen uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.closed && gen == t.gen
}

// showIfCurrent marks the popover visible unless gen has been superseded.
// The check and the update are atomic with respect to SetShowPopover.
func (t *Tracker) showIfCurrent(gen uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed || gen != t.gen {
		return false
	}
	t.visible = true
	return true
}

func (t *Tracker) ShowPopover() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.visible
}

// Geometry returns the last computed anchor, if any.
func (t *Tracker) Geometry() (Geometry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.geometry, t.hasGeometry
}

// Polling reports whether a poll is active.
func (t *Tracker) Polling() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.poll != nil
}

// Close tears down the poll and waits for its goroutine to exit. After
// Close no callback is invoked.
func (t *Tracker) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	t.stopPollLocked()
	t.mu.Unlock()
	t.wg.Wait()
}

// stopPollLocked cancels the active poll and bumps the generation so any
// tick already in flight is discarded.
func (t *Tracker) stopPollLocked() {
	t.gen++
	if t.poll == nil {
		return
	}
	t.poll.ticker.Stop()
	close(t.poll.done)
	t.log.Debug("selection poll stopped", "gen", t.poll.gen)
	t.poll = nil
}

func (t *Tracker) run(p *selectionPoll) {
	defer t.wg.Done()
	for {
		select {
		case <-p.done:
			return
		case <-p.ticker.C():
			t.sample(p.gen)
		}
	}
}

func (t *Tracker) sample(gen uint64) {
	t.emitMu.Lock()
	defer t.emitMu.Unlock()

	t.mu.Lock()
	if t.closed || gen != t.gen {
		t.mu.Unlock()
		return
	}
	sel, ok := t.platform.Selection()
	if ok {
		t.updateGeometryLocked(sel)
	}
	t.mu.Unlock()

	if ok {
		t.onSelect(gen, sel)
	} else {
		t.onDeselect(gen)
	}
	if t.opts.AfterSample != nil {
		t.opts.AfterSample()
	}
}

func (t *Tracker) updateGeometryLocked(sel Selection) {
	container, ok := t.platform.ContainerBounds()
	if !ok {
		return
	}
	popover, ok := t.platform.PopoverBounds()
	if !ok {
		return
	}
	t.geometry = ComputeGeometry(t.platform.Viewport(), sel.Bounds, container, popover, t.opts.TopOffset, t.opts.Breakpoints)
	t.hasGeometry = true
}
