package annotate

import (
	"strings"
	"sync"
)

// VoteType is the direction of a recorded vote.
type VoteType string

const (
	VoteUp   VoteType = "up"
	VoteDown VoteType = "down"
)

// VoteRecord is a vote owned by the persistence layer; the panel only reads it.
type VoteRecord struct {
	UserID string   `json:"userId"`
	Type   VoteType `json:"type"`
}

// Key is a key press forwarded to the panel.
type Key string

const KeyEnter Key = "Enter"

var voteTags = map[ActionType][]string{
	ActionUp:   {"#true", "#agree", "#like"},
	ActionDown: {"#false", "#disagree", "#dislike"},
}

// VoteTags returns the tag vocabulary offered when a vote control expands.
func VoteTags(action ActionType) []string {
	tags := voteTags[action]
	out := make([]string, len(tags))
	copy(out, tags)
	return out
}

// Panel is the action panel state machine. Expanded is empty when closed;
// quote never stays expanded.
type Panel struct {
	mu       sync.Mutex
	host     Host
	userID   string
	votes    []VoteRecord
	span     Span
	expanded ActionType
	comment  string
	bp       Breakpoints
}

func NewPanel(host Host, userID string, votes []VoteRecord, bp Breakpoints) *Panel {
	if host == nil {
		host = HostFuncs{}
	}
	return &Panel{
		host:   host,
		userID: userID,
		votes:  append([]VoteRecord(nil), votes...),
		bp:     bp,
	}
}

// SetSpan replaces the span the next commit refers to.
func (p *Panel) SetSpan(span Span) {
	p.mu.Lock()
	p.span = span
	p.mu.Unlock()
}

func (p *Panel) Span() Span {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.span
}

// SetVoteRecords refreshes the externally owned vote list.
func (p *Panel) SetVoteRecords(votes []VoteRecord) {
	p.mu.Lock()
	p.votes = append([]VoteRecord(nil), votes...)
	p.mu.Unlock()
}

// Expanded returns the expanded control, or "" when closed.
func (p *Panel) Expanded() ActionType {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.expanded
}

func (p *Panel) CommentText() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.comment
}

// HasVoted reports the current user's existing vote, if any.
func (p *Panel) HasVoted() (VoteType, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.existingVote()
}

func (p *Panel) existingVote() (VoteType, bool) {
	if p.userID == "" {
		return "", false
	}
	for _, v := range p.votes {
		if v.UserID == p.userID {
			return v.Type, true
		}
	}
	return "", false
}

// VoteTooltip explains why the vote controls are disabled; empty when they
// are not.
func (p *Panel) VoteTooltip() string {
	vote, ok := p.HasVoted()
	if !ok {
		return ""
	}
	return VoteTooltipFor(vote)
}

// VoteTooltipFor renders the disabled-vote explanation for a direction.
func VoteTooltipFor(vote VoteType) string {
	if vote == VoteDown {
		return "You have already downvoted this post"
	}
	return "You have already upvoted this post"
}

// ClickUp toggles the upvote control. It reports whether state changed.
func (p *Panel) ClickUp() bool { return p.clickVote(ActionUp) }

// ClickDown toggles the downvote control. It reports whether state changed.
func (p *Panel) ClickDown() bool { return p.clickVote(ActionDown) }

func (p *Panel) clickVote(action ActionType) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, voted := p.existingVote(); voted {
		return false
	}
	p.toggle(action)
	return true
}

// ClickComment toggles the comment control.
func (p *Panel) ClickComment() {
	p.mu.Lock()
	p.toggle(ActionComment)
	p.mu.Unlock()
}

func (p *Panel) toggle(action ActionType) {
	if p.expanded == action {
		p.expanded = ""
		return
	}
	p.expanded = action
}

// SelectTag commits a vote with a single tag from the expanded vocabulary.
func (p *Panel) SelectTag(tag string) bool {
	p.mu.Lock()
	action := p.expanded
	if !action.IsVote() || !containsTag(voteTags[action], tag) {
		p.mu.Unlock()
		return false
	}
	if _, voted := p.existingVote(); voted {
		p.expanded = ""
		p.mu.Unlock()
		return false
	}
	req := ActionRequest{Type: action, Span: p.span, Tags: []string{tag}}
	p.expanded = ""
	p.mu.Unlock()

	p.host.OnVote(req)
	return true
}

func (p *Panel) SetCommentText(text string) {
	p.mu.Lock()
	p.comment = text
	p.mu.Unlock()
}

// KeyPress forwards a key from the comment field. Enter submits.
func (p *Panel) KeyPress(key Key) bool {
	if key != KeyEnter {
		return false
	}
	return p.SubmitComment()
}

// SubmitComment commits the comment text. Blank comments are dropped.
func (p *Panel) SubmitComment() bool {
	p.mu.Lock()
	if p.expanded != ActionComment || strings.TrimSpace(p.comment) == "" {
		p.mu.Unlock()
		return false
	}
	req := ActionRequest{
		Type:        ActionComment,
		Span:        p.span,
		CommentText: p.comment,
		WithQuote:   p.span.Text != "",
	}
	p.expanded = ""
	p.comment = ""
	p.mu.Unlock()

	p.host.OnAddComment(req)
	return true
}

// ClickQuote commits a quote of the current span in one step.
func (p *Panel) ClickQuote() bool {
	p.mu.Lock()
	if p.span.Empty() {
		p.mu.Unlock()
		return false
	}
	req := ActionRequest{Type: ActionQuote, Span: p.span}
	p.expanded = ""
	p.mu.Unlock()

	p.host.OnAddQuote(req)
	return true
}

// Reset collapses the panel and drops any draft comment.
func (p *Panel) Reset() {
	p.mu.Lock()
	p.expanded = ""
	p.comment = ""
	p.mu.Unlock()
}

// Layout returns presentation widths for the viewport.
func (p *Panel) Layout(viewportWidth float64) PanelLayout {
	return PanelLayoutFor(viewportWidth, p.bp)
}

func containsTag(tags []string, tag string) bool {
	for _, t := range tags {
		if t == tag {
			return true
		}
	}
	return false
}
