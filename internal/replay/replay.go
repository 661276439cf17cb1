package replay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"margin/api/internal/annotate"
)

type EventKind string

const (
	EventSelect   EventKind = "select"
	EventDeselect EventKind = "deselect"
	EventVote     EventKind = "vote"
	EventComment  EventKind = "comment"
	EventQuote    EventKind = "quote"
	// EventCleared is the tracker clearing the platform selection.
	EventCleared EventKind = "selection-cleared"
	// EventIgnored is a panel gesture that changed nothing.
	EventIgnored EventKind = "ignored"
)

// Event is one observation, attributed to the step that caused it.
type Event struct {
	Step     int                     `json:"step"`
	Kind     EventKind               `json:"kind"`
	Op       Op                      `json:"op,omitempty"`
	Span     *annotate.Span          `json:"span,omitempty"`
	Geometry *annotate.Geometry      `json:"geometry,omitempty"`
	Request  *annotate.ActionRequest `json:"request,omitempty"`
}

// Result is the ordered event log plus the board state after the last step.
type Result struct {
	Events      []Event              `json:"events"`
	ShowPopover bool                 `json:"showPopover"`
	Selection   annotate.Span        `json:"selection"`
	Layout      annotate.PanelLayout `json:"layout"`
}

var ErrTickTimeout = errors.New("poll did not sample within the tick timeout")

type Runner struct {
	log         *slog.Logger
	breakpoints annotate.Breakpoints
	tickTimeout time.Duration
}

type Option func(*Runner)

func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		if logger != nil {
			r.log = logger
		}
	}
}

func WithBreakpoints(bp annotate.Breakpoints) Option {
	return func(r *Runner) { r.breakpoints = bp }
}

func WithTickTimeout(d time.Duration) Option {
	return func(r *Runner) {
		if d > 0 {
			r.tickTimeout = d
		}
	}
}

func NewRunner(opts ...Option) *Runner {
	r := &Runner{
		log:         slog.Default(),
		breakpoints: annotate.DefaultBreakpoints(),
		tickTimeout: time.Second,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run plays script against a fresh board. Ticks are delivered by hand, so
// the event order is deterministic.
func (r *Runner) Run(ctx context.Context, script Script) (Result, error) {
	if err := script.Validate(); err != nil {
		return Result{}, err
	}

	rec := &recorder{userID: script.UserID, votes: append([]annotate.VoteRecord(nil), script.Votes...)}
	platform := newScriptedPlatform(script, rec)
	tickers := &tickerFactory{}
	sampled := make(chan struct{}, 1)

	board := annotate.NewBoard(script.Document, rec, annotate.BoardOptions{
		UserID:      script.UserID,
		VoteRecords: script.Votes,
		Annotating:  true,
		Breakpoints: r.breakpoints,
	})
	tracker := board.Attach(platform, annotate.TrackerOptions{
		TopOffset:   script.TopOffset,
		Breakpoints: r.breakpoints,
		NewTicker:   tickers.New,
		Logger:      r.log,
		AfterSample: func() {
			select {
			case sampled <- struct{}{}:
			default:
			}
		},
	})
	defer tracker.Close()
	rec.setTracker(tracker)

	panel := board.Panel()
	for i, step := range script.Steps {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		rec.setStep(i)
		r.log.Debug("replay step", "step", i, "op", step.Op)

		changed := true
		switch step.Op {
		case OpStart:
			tracker.SelectionStart()
		case OpSelect:
			platform.setSelection(step.Selection.toSelection())
		case OpClear:
			platform.collapse()
		case OpTick:
			if err := r.tick(ctx, tracker, tickers, sampled); err != nil {
				return Result{}, fmt.Errorf("step %d: %w", i, err)
			}
		case OpMove:
			tracker.PointerMove()
		case OpUp:
			tracker.PointerUp()
		case OpClick:
			switch annotate.ActionType(step.Action) {
			case annotate.ActionUp:
				changed = panel.ClickUp()
			case annotate.ActionDown:
				changed = panel.ClickDown()
			case annotate.ActionComment:
				panel.ClickComment()
			case annotate.ActionQuote:
				changed = panel.ClickQuote()
			}
		case OpTag:
			changed = panel.SelectTag(step.Tag)
		case OpType:
			panel.SetCommentText(step.Text)
		case OpEnter:
			changed = panel.KeyPress(annotate.KeyEnter)
		case OpHide:
			board.Dismiss()
		}
		if !changed {
			rec.record(Event{Kind: EventIgnored, Op: step.Op})
		}

		if vote, committed := rec.takeCommit(); committed {
			// The host persists the action, refreshes votes and hides the panel.
			if vote != nil {
				board.SetVoteRecords(rec.addVote(*vote))
			}
			board.Dismiss()
		}
	}

	return Result{
		Events:      rec.snapshot(),
		ShowPopover: board.ShowPopover(),
		Selection:   board.CurrentSelection(),
		Layout:      panel.Layout(script.Viewport.Width),
	}, nil
}

func (r *Runner) tick(ctx context.Context, tracker *annotate.Tracker, tickers *tickerFactory, sampled chan struct{}) error {
	if !tracker.Polling() {
		r.log.Debug("tick without an active poll")
		return nil
	}
	select {
	case <-sampled:
	default:
	}

	timer := time.NewTimer(r.tickTimeout)
	defer timer.Stop()

	select {
	case tickers.last().c <- time.Now():
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return ErrTickTimeout
	}
	select {
	case <-sampled:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return ErrTickTimeout
	}
}

// recorder is the replay host. Board callbacks may arrive on the poll
// goroutine, so every field is guarded.
type recorder struct {
	mu      sync.Mutex
	step    int
	events  []Event
	tracker *annotate.Tracker
	votes   []annotate.VoteRecord
	userID  string

	committed   bool
	pendingVote *annotate.VoteRecord
}

func (r *recorder) setTracker(t *annotate.Tracker) {
	r.mu.Lock()
	r.tracker = t
	r.mu.Unlock()
}

func (r *recorder) setStep(step int) {
	r.mu.Lock()
	r.step = step
	r.mu.Unlock()
}

func (r *recorder) record(ev Event) {
	r.mu.Lock()
	ev.Step = r.step
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) snapshot() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func (r *recorder) OnSelect(span annotate.Span) {
	r.mu.Lock()
	tracker := r.tracker
	r.mu.Unlock()

	ev := Event{Kind: EventSelect, Span: &span}
	if tracker != nil {
		if g, ok := tracker.Geometry(); ok {
			ev.Geometry = &g
		}
	}
	r.record(ev)
}

func (r *recorder) OnDeselect() {
	r.record(Event{Kind: EventDeselect})
}

func (r *recorder) OnVote(req annotate.ActionRequest) {
	r.commit(EventVote, req)
}

func (r *recorder) OnAddComment(req annotate.ActionRequest) {
	r.commit(EventComment, req)
}

func (r *recorder) OnAddQuote(req annotate.ActionRequest) {
	r.commit(EventQuote, req)
}

func (r *recorder) commit(kind EventKind, req annotate.ActionRequest) {
	r.record(Event{Kind: kind, Request: &req})
	r.mu.Lock()
	r.committed = true
	if req.Type.IsVote() {
		r.pendingVote = &annotate.VoteRecord{UserID: r.userID, Type: annotate.VoteType(req.Type)}
	}
	r.mu.Unlock()
}

// takeCommit reports whether the last step committed an action and, for a
// vote, the record the host would now hold.
func (r *recorder) takeCommit() (*annotate.VoteRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	committed, vote := r.committed, r.pendingVote
	r.committed, r.pendingVote = false, nil
	return vote, committed
}

func (r *recorder) addVote(vote annotate.VoteRecord) []annotate.VoteRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.votes = append(r.votes, vote)
	return append([]annotate.VoteRecord(nil), r.votes...)
}
