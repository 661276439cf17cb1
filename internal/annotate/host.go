package annotate

// ActionType is one of the four annotation actions.
type ActionType string

const (
	ActionUp      ActionType = "up"
	ActionDown    ActionType = "down"
	ActionComment ActionType = "comment"
	ActionQuote   ActionType = "quote"
)

// Valid reports whether a is a known action.
func (a ActionType) Valid() bool {
	switch a {
	case ActionUp, ActionDown, ActionComment, ActionQuote:
		return true
	}
	return false
}

// IsVote reports whether a is an upvote or downvote.
func (a ActionType) IsVote() bool {
	return a == ActionUp || a == ActionDown
}

// ActionRequest is what the panel hands to the host on commit.
type ActionRequest struct {
	Type        ActionType `json:"type"`
	Span        Span       `json:"span"`
	Tags        []string   `json:"tags,omitempty"`
	CommentText string     `json:"commentText,omitempty"`
	WithQuote   bool       `json:"withQuote,omitempty"`
}

// Host is implemented by whatever hosts the board: a UI layer, the HTTP
// service, or the replay harness. Every method is invoked at most once per
// gesture and must not block for long.
type Host interface {
	OnSelect(span Span)
	OnDeselect()
	OnVote(req ActionRequest)
	OnAddComment(req ActionRequest)
	OnAddQuote(req ActionRequest)
}

// HostFuncs adapts plain functions to Host. Nil fields are no-ops.
type HostFuncs struct {
	Select     func(Span)
	Deselect   func()
	Vote       func(ActionRequest)
	AddComment func(ActionRequest)
	AddQuote   func(ActionRequest)
}

func (h HostFuncs) OnSelect(span Span) {
	if h.Select != nil {
		h.Select(span)
	}
}

func (h HostFuncs) OnDeselect() {
	if h.Deselect != nil {
		h.Deselect()
	}
}

func (h HostFuncs) OnVote(req ActionRequest) {
	if h.Vote != nil {
		h.Vote(req)
	}
}

func (h HostFuncs) OnAddComment(req ActionRequest) {
	if h.AddComment != nil {
		h.AddComment(req)
	}
}

func (h HostFuncs) OnAddQuote(req ActionRequest) {
	if h.AddQuote != nil {
		h.AddQuote(req)
	}
}
