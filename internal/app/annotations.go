package app

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"margin/api/internal/annotate"
	"margin/api/internal/export"
	"margin/api/internal/rbac"
	"margin/api/internal/search"
	"margin/api/internal/store"
	"margin/api/internal/util"
)

type AnnotationView struct {
	ID         string    `json:"id"`
	PostID     string    `json:"postId"`
	UserID     string    `json:"userId"`
	UserName   string    `json:"userName"`
	Type       string    `json:"type"`
	StartIndex int       `json:"startIndex"`
	EndIndex   int       `json:"endIndex"`
	SpanText   string    `json:"spanText"`
	Weight     float64   `json:"weight"`
	Tags       []string  `json:"tags"`
	Comment    string    `json:"comment,omitempty"`
	WithQuote  bool      `json:"withQuote"`
	CreatedAt  time.Time `json:"createdAt"`
}

func annotationView(a store.Annotation) AnnotationView {
	tags := a.Tags
	if tags == nil {
		tags = []string{}
	}
	return AnnotationView{
		ID:         a.ID,
		PostID:     a.PostID,
		UserID:     a.UserID,
		UserName:   a.UserName,
		Type:       a.Type,
		StartIndex: a.StartIndex,
		EndIndex:   a.EndIndex,
		SpanText:   a.SpanText,
		Weight:     a.Weight,
		Tags:       tags,
		Comment:    a.Comment,
		WithQuote:  a.WithQuote,
		CreatedAt:  a.CreatedAt,
	}
}

// SelectionInput is a client-side selection snapshot. A nil AnchorOffset
// means the client could not place the anchor.
type SelectionInput struct {
	Text         string        `json:"text"`
	AnchorOffset *int          `json:"anchorOffset"`
	Bounds       annotate.Rect `json:"bounds"`
	Collapsed    bool          `json:"collapsed"`
}

func (in SelectionInput) toSelection() annotate.Selection {
	sel := annotate.Selection{
		Text:         in.Text,
		Collapsed:    in.Collapsed,
		Bounds:       in.Bounds,
		AnchorOffset: -1,
	}
	if in.AnchorOffset != nil {
		sel.AnchorOffset = *in.AnchorOffset
	}
	// Clients without layout information send no bounds.
	if sel.Bounds == (annotate.Rect{}) {
		sel.Bounds = annotate.Rect{Width: 1, Height: 1}
	}
	return sel
}

type AnnotateInput struct {
	Selection SelectionInput `json:"selection"`
	Action    string         `json:"action"`
	Tag       string         `json:"tag"`
	Comment   string         `json:"comment"`
}

// commitHost records what the board and panel hand to their host during
// one request.
type commitHost struct {
	mu        sync.Mutex
	selected  annotate.Span
	committed *annotate.ActionRequest
}

func (h *commitHost) OnSelect(span annotate.Span) {
	h.mu.Lock()
	h.selected = span
	h.mu.Unlock()
}

func (h *commitHost) OnDeselect() {
	h.mu.Lock()
	h.selected = annotate.Span{}
	h.mu.Unlock()
}

func (h *commitHost) OnVote(req annotate.ActionRequest)       { h.commit(req) }
func (h *commitHost) OnAddComment(req annotate.ActionRequest) { h.commit(req) }
func (h *commitHost) OnAddQuote(req annotate.ActionRequest)   { h.commit(req) }

func (h *commitHost) commit(req annotate.ActionRequest) {
	h.mu.Lock()
	h.committed = &req
	h.mu.Unlock()
}

func (h *commitHost) request() (annotate.ActionRequest, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.committed == nil {
		return annotate.ActionRequest{}, false
	}
	return *h.committed, true
}

// Annotate replays the selection and panel gesture the client performed
// and persists whatever the panel commits.
func (s *Service) Annotate(ctx context.Context, session Session, postID string, input AnnotateInput) (AnnotationView, error) {
	action := annotate.ActionType(strings.ToLower(strings.TrimSpace(input.Action)))
	if !action.Valid() {
		return AnnotationView{}, errValidation("action must be one of up, down, comment, quote")
	}
	if err := s.authorize(session, rbac.ForAnnotation(string(action))); err != nil {
		return AnnotationView{}, err
	}

	post, err := s.store.GetPost(ctx, postID)
	if err != nil {
		return AnnotationView{}, err
	}
	votes, err := s.voteRecords(ctx, post.ID)
	if err != nil {
		return AnnotationView{}, err
	}

	host := &commitHost{}
	board := annotate.NewBoard(post.Body, host, annotate.BoardOptions{
		UserID:      session.UserID,
		VoteRecords: votes,
		Annotating:  true,
		Breakpoints: s.cfg.Breakpoints,
	})
	panel := board.Panel()

	// A comment may address the whole post; every other action needs a span.
	wholePost := action == annotate.ActionComment && strings.TrimSpace(input.Selection.Text) == ""
	if !wholePost {
		board.HandleSelect(input.Selection.toSelection())
		if board.CurrentSelection().Empty() {
			return AnnotationView{}, errUnresolvableSelection()
		}
	}

	switch action {
	case annotate.ActionUp, annotate.ActionDown:
		clicked := panel.ClickUp
		if action == annotate.ActionDown {
			clicked = panel.ClickDown
		}
		if !clicked() {
			vote, _ := panel.HasVoted()
			return AnnotationView{}, errAlreadyVoted(vote)
		}
		if !panel.SelectTag(input.Tag) {
			return AnnotationView{}, errInvalidTag(action)
		}
	case annotate.ActionComment:
		panel.ClickComment()
		panel.SetCommentText(input.Comment)
		if !panel.KeyPress(annotate.KeyEnter) {
			return AnnotationView{}, errBlankComment()
		}
	case annotate.ActionQuote:
		if !panel.ClickQuote() {
			return AnnotationView{}, errUnresolvableSelection()
		}
	}

	req, ok := host.request()
	if !ok {
		return AnnotationView{}, errUnresolvableSelection()
	}
	if !req.Span.Empty() {
		if err := annotate.ValidateSpan(post.Body, req.Span); err != nil {
			return AnnotationView{}, errUnresolvableSelection()
		}
	}

	saved, err := s.store.InsertAnnotation(ctx, store.Annotation{
		ID:         util.NewID("ann"),
		PostID:     post.ID,
		UserID:     session.UserID,
		Type:       string(req.Type),
		StartIndex: req.Span.StartIndex,
		EndIndex:   req.Span.EndIndex,
		SpanText:   req.Span.Text,
		Weight:     req.Span.Weight,
		Tags:       req.Tags,
		Comment:    strings.TrimSpace(req.CommentText),
		WithQuote:  req.WithQuote,
	})
	if errors.Is(err, store.ErrAlreadyVoted) {
		return AnnotationView{}, errAlreadyVoted("")
	}
	if err != nil {
		return AnnotationView{}, err
	}
	board.Dismiss()
	saved.UserName = session.UserName

	if s.search != nil {
		s.search.IndexAnnotation(search.AnnotationRecord{
			ID:         saved.ID,
			PostID:     saved.PostID,
			PostTitle:  post.Title,
			Type:       saved.Type,
			SpanText:   saved.SpanText,
			Comment:    saved.Comment,
			Tags:       saved.Tags,
			UserName:   saved.UserName,
			StartIndex: saved.StartIndex,
			EndIndex:   saved.EndIndex,
		})
	}
	s.log.Info("annotation committed",
		"post_id", post.ID,
		"annotation_id", saved.ID,
		"type", saved.Type,
		"start", saved.StartIndex,
		"end", saved.EndIndex,
	)
	return annotationView(saved), nil
}

func (s *Service) ListAnnotations(ctx context.Context, postID string) ([]AnnotationView, error) {
	if _, err := s.store.GetPost(ctx, postID); err != nil {
		return nil, err
	}
	annotations, err := s.store.ListAnnotations(ctx, postID)
	if err != nil {
		return nil, err
	}
	views := make([]AnnotationView, 0, len(annotations))
	for _, a := range annotations {
		views = append(views, annotationView(a))
	}
	return views, nil
}

// Export renders the post, optionally focused on one annotation, to PDF.
func (s *Service) Export(ctx context.Context, session Session, postID, annotationID string) (*export.Result, error) {
	if err := s.authorize(session, rbac.ActionExport); err != nil {
		return nil, err
	}
	if s.export == nil {
		return nil, errUnavailable("EXPORT_UNAVAILABLE", "Export is not configured")
	}

	view, err := s.GetPost(ctx, session, postID, ViewOptions{AnnotationID: annotationID})
	if err != nil {
		return nil, err
	}
	annotations, err := s.store.ListAnnotations(ctx, postID)
	if err != nil {
		return nil, err
	}

	doc := export.Document{
		PostID:    view.ID,
		Title:     view.Title,
		Author:    view.AuthorName,
		CreatedAt: view.CreatedAt,
		Chunks:    view.Chunks,
		Totals:    export.Totals(view.Totals),
	}
	for _, a := range annotations {
		doc.Annotations = append(doc.Annotations, export.Annotation{
			Type:      a.Type,
			Author:    a.UserName,
			SpanText:  a.SpanText,
			Tags:      a.Tags,
			Comment:   a.Comment,
			Focused:   a.ID == annotationID,
			CreatedAt: a.CreatedAt,
		})
	}

	result, err := s.export.Export(ctx, doc)
	if errors.Is(err, export.ErrPDFDependencyMissing) {
		return nil, errUnavailable("EXPORT_UNAVAILABLE", "PDF rendering is not available on this server")
	}
	return result, err
}
