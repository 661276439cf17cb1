package replay

import (
	"sync"
	"sync/atomic"
	"time"

	"margin/api/internal/annotate"
)

// scriptedPlatform serves the selection state the script has set so far.
type scriptedPlatform struct {
	mu        sync.Mutex
	sel       annotate.Selection
	hasSel    bool
	container *annotate.Rect
	popover   *annotate.Rect
	viewport  annotate.Viewport
	rec       *recorder
}

func newScriptedPlatform(script Script, rec *recorder) *scriptedPlatform {
	return &scriptedPlatform{
		container: script.Container,
		popover:   script.Popover,
		viewport:  script.Viewport,
		rec:       rec,
	}
}

func (p *scriptedPlatform) setSelection(sel annotate.Selection) {
	p.mu.Lock()
	p.sel, p.hasSel = sel, true
	p.mu.Unlock()
}

// collapse is the user clicking away; unlike ClearSelection it is not an
// observable event.
func (p *scriptedPlatform) collapse() {
	p.mu.Lock()
	p.sel, p.hasSel = annotate.Selection{}, false
	p.mu.Unlock()
}

func (p *scriptedPlatform) Selection() (annotate.Selection, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.hasSel || p.sel.Collapsed {
		return annotate.Selection{}, false
	}
	return p.sel, true
}

func (p *scriptedPlatform) ContainerBounds() (annotate.Rect, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.container == nil {
		return annotate.Rect{}, false
	}
	return *p.container, true
}

func (p *scriptedPlatform) PopoverBounds() (annotate.Rect, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.popover == nil {
		return annotate.Rect{}, false
	}
	return *p.popover, true
}

func (p *scriptedPlatform) Viewport() annotate.Viewport {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.viewport
}

func (p *scriptedPlatform) ClearSelection() {
	p.collapse()
	p.rec.record(Event{Kind: EventCleared})
}

type manualTicker struct {
	c       chan time.Time
	stopped atomic.Bool
}

func (m *manualTicker) C() <-chan time.Time { return m.c }
func (m *manualTicker) Stop()               { m.stopped.Store(true) }

type tickerFactory struct {
	mu      sync.Mutex
	tickers []*manualTicker
}

func (f *tickerFactory) New(time.Duration) annotate.Ticker {
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
