package annotate

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type manualTicker struct {
	c       chan time.Time
	stopped atomic.Bool
}

func (m *manualTicker) C() <-chan time.Time { return m.c }
func (m *manualTicker) Stop()               { m.stopped.Store(true) }

// tick delivers one tick if the poll goroutine is still listening.
func (m *manualTicker) tick() bool {
	select {
	case m.c <- time.Now():
		return true
	case <-time.After(50 * time.Millisecond):
		return false
	}
}

type tickerFactory struct {
	mu      sync.Mutex
	tickers []*manualTicker
}

func (f *tickerFactory) New(time.Duration) Ticker {
	f.mu.Lock()
	defer f.mu.Unlock()
	tk := &manualTicker{c: make(chan time.Time)}
	f.tickers = append(f.tickers, tk)
	return tk
}

func (f *tickerFactory) last() *manualTicker {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tickers[len(f.tickers)-1]
}

func (f *tickerFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.tickers)
}

type fakePlatform struct {
	mu        sync.Mutex
	sel       Selection
	hasSel    bool
	container *Rect
	popover   *Rect
	vp        Viewport
	clears    int
}

func newFakePlatform() *fakePlatform {
	return &fakePlatform{
		container: &Rect{Top: 50, Left: 20, Width: 800, Height: 2000},
		popover:   &Rect{Width: 340, Height: 120},
		vp:        Viewport{Width: 1200, Height: 800},
	}
}

func (p *fakePlatform) Selection() (Selection, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sel, p.hasSel
}

func (p *fakePlatform) ContainerBounds() (Rect, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.container == nil {
		return Rect{}, false
	}
	return *p.container, true
}

func (p *fakePlatform) PopoverBounds() (Rect, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.popover == nil {
		return Rect{}, false
	}
	return *p.popover, true
}

func (p *fakePlatform) Viewport() Viewport {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.vp
}

func (p *fakePlatform) ClearSelection() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.hasSel = false
	p.sel = Selection{}
	p.clears++
}

func (p *fakePlatform) selectText(text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.hasSel = true
	p.sel = Selection{Text: text, Bounds: Rect{Top: 400, Left: 300, Width: 200, Height: 20}, AnchorOffset: -1}
}

func (p *fakePlatform) clearCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.clears
}

type callCounter struct {
	selects   atomic.Int32
	deselects atomic.Int32
}

func (c *callCounter) total() int32 { return c.selects.Load() + c.deselects.Load() }

func newTestTracker(platform Platform) (*Tracker, *tickerFactory, *callCounter) {
	factory := &tickerFactory{}
	calls := &callCounter{}
	tr := NewTracker(platform,
		func(Selection) { calls.selects.Add(1) },
		func() { calls.deselects.Add(1) },
		TrackerOptions{NewTicker: factory.New},
	)
	return tr, factory, calls
}

func TestTrackerPollDeliversSelection(t *testing.T) {
	platform := newFakePlatform()
	tr, factory, calls := newTestTracker(platform)
	defer tr.Close()

	tr.SelectionStart()
	require.True(t, tr.Polling())

	require.True(t, factory.last().tick())
	assert.Eventually(t, func() bool { return calls.deselects.Load() == 1 }, time.Second, 5*time.Millisecond)

	platform.selectText("quick brown")
	require.True(t, factory.last().tick())
	assert.Eventually(t, func() bool { return calls.selects.Load() == 1 }, time.Second, 5*time.Millisecond)

	g, ok := tr.Geometry()
	require.True(t, ok)
	assert.Equal(t, SideLeft, g.Side)
	assert.Equal(t, 270.0, g.Top)
}

func TestTrackerPointerUpStopsPoll(t *testing.T) {
	platform := newFakePlatform()
	tr, factory, calls := newTestTracker(platform)
	defer tr.Close()

	tr.SelectionStart()
	platform.selectText("quick")
	tr.PointerMove()
	assert.Equal(t, int32(1), calls.selects.Load())

	tr.PointerUp()
	assert.False(t, tr.Polling())
	assert.True(t, factory.last().stopped.Load())
	assert.Equal(t, int32(2), calls.selects.Load())

	// the poll goroutine is gone and no further calls arrive
	assert.False(t, factory.last().tick())
	tr.PointerMove()
	assert.Equal(t, int32(2), calls.total())
}

func TestTrackerSelectionStartRestartsPoll(t *testing.T) {
	tr, factory, _ := newTestTracker(newFakePlatform())
	defer tr.Close()

	tr.SelectionStart()
	first := factory.last()
	tr.SelectionStart()

	assert.Equal(t, 2, factory.count())
	assert.True(t, first.stopped.Load())
	assert.False(t, factory.last().stopped.Load())
	assert.False(t, first.tick())
}

func TestTrackerHideClearsSelection(t *testing.T) {
	platform := newFakePlatform()
	tr, factory, calls := newTestTracker(platform)
	defer tr.Close()

	tr.SetShowPopover(false)
	assert.Zero(t, platform.clearCount(), "already hidden")

	platform.selectText("quick")
	tr.SelectionStart()
	tr.SetShowPopover(true)
	tr.PointerMove()
	_, ok := tr.Geometry()
	require.True(t, ok)

	tr.SetShowPopover(false)
	assert.Equal(t, 1, platform.clearCount())
	assert.False(t, tr.Polling())
	assert.True(t, factory.last().stopped.Load())
	_, ok = tr.Geometry()
	assert.False(t, ok)

	before := calls.total()
	assert.False(t, factory.last().tick())
	assert.Equal(t, before, calls.total())
}

func TestTrackerSkipsGeometryUntilMounted(t *testing.T) {
	platform := newFakePlatform()
	platform.popover = nil
	tr, _, calls := newTestTracker(platform)
	defer tr.Close()

	platform.selectText("quick")
	tr.PointerUp()
	assert.Equal(t, int32(1), calls.selects.Load())
	_, ok := tr.Geometry()
	assert.False(t, ok)

	platform.mu.Lock()
	platform.popover = &Rect{Width: 340, Height: 120}
	platform.mu.Unlock()
	tr.PointerUp()
	first, ok := tr.Geometry()
	require.True(t, ok)

	platform.mu.Lock()
	platform.container = nil
	platform.sel.Bounds.Top = 900
	platform.mu.Unlock()
	tr.PointerUp()
	kept, ok := tr.Geometry()
	require.True(t, ok)
	assert.Equal(t, first, kept, "previous anchor retained")
}

func TestTrackerClose(t *testing.T) {
	platform := newFakePlatform()
	tr, factory, calls := newTestTracker(platform)

	tr.SelectionStart()
	tr.Close()
	assert.True(t, factory.last().stopped.Load())
	assert.False(t, factory.last().tick())

	platform.selectText("quick")
	tr.SelectionStart()
	tr.PointerMove()
	tr.PointerUp()
	assert.Equal(t, 1, factory.count())
	assert.Zero(t, calls.total())

	tr.Close()
}
