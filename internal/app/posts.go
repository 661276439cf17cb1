package app

import (
	"context"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"margin/api/internal/annotate"
	"margin/api/internal/rbac"
	"margin/api/internal/search"
	"margin/api/internal/store"
	"margin/api/internal/util"
)

const maxPostListing = 100

type PostSummary struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	AuthorName string    `json:"authorName"`
	Excerpt    string    `json:"excerpt"`
	CreatedAt  time.Time `json:"createdAt"`
}

type Totals struct {
	Up       int `json:"up"`
	Down     int `json:"down"`
	Comments int `json:"comments"`
	Quotes   int `json:"quotes"`
}

// ViewerState is what the action panel would show the requesting user.
type ViewerState struct {
	HasVoted    bool                  `json:"hasVoted"`
	Vote        annotate.VoteType     `json:"vote,omitempty"`
	VoteTooltip string                `json:"voteTooltip,omitempty"`
	VoteTags    map[string][]string   `json:"voteTags"`
	Layout      *annotate.PanelLayout `json:"layout,omitempty"`
}

type PostView struct {
	ID         string           `json:"id"`
	Title      string           `json:"title"`
	Body       string           `json:"body"`
	AuthorName string           `json:"authorName"`
	CreatedAt  time.Time        `json:"createdAt"`
	Mode       annotate.Mode    `json:"mode"`
	Chunks     []annotate.Chunk `json:"chunks"`
	Totals     Totals           `json:"totals"`
	Viewer     ViewerState      `json:"viewer"`
	Focused    *AnnotationView  `json:"focusedAnnotation,omitempty"`
}

// ViewOptions selects the highlight for a post view. A valid Start/End
// pair wins over AnnotationID, which wins over Highlight.
type ViewOptions struct {
	Start        *int
	End          *int
	AnnotationID string
	Highlight    string
	Viewport     float64
}

type CreatePostInput struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

func (s *Service) ListPosts(ctx context.Context, limit int) ([]PostSummary, error) {
	if limit <= 0 || limit > maxPostListing {
		limit = maxPostListing
	}
	posts, err := s.store.ListPosts(ctx, limit)
	if err != nil {
		return nil, err
	}
	items := make([]PostSummary, 0, len(posts))
	for _, post := range posts {
		items = append(items, PostSummary{
			ID:         post.ID,
			Title:      post.Title,
			AuthorName: post.AuthorName,
			Excerpt:    excerpt(post.Body, 160),
			CreatedAt:  post.CreatedAt,
		})
	}
	return items, nil
}

func (s *Service) CreatePost(ctx context.Context, session Session, input CreatePostInput) (PostView, error) {
	if err := s.authorize(session, rbac.ActionPost); err != nil {
		return PostView{}, err
	}
	if strings.TrimSpace(input.Body) == "" {
		return PostView{}, errValidation("body is required")
	}

	post, err := s.store.InsertPost(ctx, store.Post{
		ID:       util.NewID("pst"),
		AuthorID: session.UserID,
		Title:    strings.TrimSpace(input.Title),
		Body:     input.Body,
	})
	if err != nil {
		return PostView{}, err
	}
	post.AuthorName = session.UserName

	if s.search != nil {
		s.search.IndexPost(search.PostRecord{
			ID:         post.ID,
			Title:      post.Title,
			Body:       post.Body,
			AuthorName: post.AuthorName,
			CreatedAt:  post.CreatedAt.Unix(),
		})
	}
	s.log.Info("post created", "post_id", post.ID, "user_id", session.UserID)

	return s.renderPost(ctx, session, post, nil, "", 0, nil)
}

// GetPost renders a post with at most one highlight.
func (s *Service) GetPost(ctx context.Context, session Session, postID string, opts ViewOptions) (PostView, error) {
	post, err := s.store.GetPost(ctx, postID)
	if err != nil {
		return PostView{}, err
	}

	var focus *annotate.FocusedSpan
	var focused *AnnotationView
	switch {
	case opts.Start != nil && opts.End != nil:
		focus = &annotate.FocusedSpan{StartWordIndex: *opts.Start, EndWordIndex: *opts.End}
	case opts.AnnotationID != "":
		annotation, err := s.store.GetAnnotation(ctx, opts.AnnotationID)
		if err != nil {
			return PostView{}, err
		}
		if annotation.PostID != post.ID {
			return PostView{}, domainError(http.StatusNotFound, "NOT_FOUND", "Annotation does not belong to this post", nil)
		}
		view := annotationView(annotation)
		focused = &view
		focus = focusFor(annotation)
	}

	return s.renderPost(ctx, session, post, focus, opts.Highlight, opts.Viewport, focused)
}

// Permalink renders the post an annotation belongs to with the
// annotation's span focused.
func (s *Service) Permalink(ctx context.Context, session Session, annotationID string, viewport float64) (PostView, error) {
	annotation, err := s.store.GetAnnotation(ctx, annotationID)
	if err != nil {
		return PostView{}, err
	}
	post, err := s.store.GetPost(ctx, annotation.PostID)
	if err != nil {
		return PostView{}, err
	}
	view := annotationView(annotation)
	return s.renderPost(ctx, session, post, focusFor(annotation), "", viewport, &view)
}

func focusFor(annotation store.Annotation) *annotate.FocusedSpan {
	if annotation.EndIndex <= annotation.StartIndex {
		return nil
	}
	return &annotate.FocusedSpan{StartWordIndex: annotation.StartIndex, EndWordIndex: annotation.EndIndex}
}

func (s *Service) renderPost(ctx context.Context, session Session, post store.Post, focus *annotate.FocusedSpan, highlight string, viewport float64, focused *AnnotationView) (PostView, error) {
	votes, err := s.voteRecords(ctx, post.ID)
	if err != nil {
		return PostView{}, err
	}
	totals, err := s.store.VoteTotals(ctx, post.ID)
	if err != nil {
		return PostView{}, err
	}

	board := annotate.NewBoard(post.Body, nil, annotate.BoardOptions{
		UserID:          session.UserID,
		VoteRecords:     votes,
		Annotating:      true,
		FocusedSpan:     focus,
		HighlightedText: highlight,
		Breakpoints:     s.cfg.Breakpoints,
	})

	panel := board.Panel()
	viewer := ViewerState{
		VoteTags: map[string][]string{
			string(annotate.ActionUp):   annotate.VoteTags(annotate.ActionUp),
			string(annotate.ActionDown): annotate.VoteTags(annotate.ActionDown),
		},
	}
	if vote, ok := panel.HasVoted(); ok {
		viewer.HasVoted = true
		viewer.Vote = vote
		viewer.VoteTooltip = panel.VoteTooltip()
	}
	if viewport > 0 {
		layout := panel.Layout(viewport)
		viewer.Layout = &layout
	}

	return PostView{
		ID:         post.ID,
		Title:      post.Title,
		Body:       post.Body,
		AuthorName: post.AuthorName,
		CreatedAt:  post.CreatedAt,
		Mode:       board.Mode(),
		Chunks:     board.Chunks(),
		Totals:     Totals(totals),
		Viewer:     viewer,
		Focused:    focused,
	}, nil
}

func (s *Service) voteRecords(ctx context.Context, postID string) ([]annotate.VoteRecord, error) {
	records, err := s.store.ListVoteRecords(ctx, postID)
	if err != nil {
		return nil, err
	}
	votes := make([]annotate.VoteRecord, 0, len(records))
	for _, record := range records {
		votes = append(votes, annotate.VoteRecord{UserID: record.UserID, Type: annotate.VoteType(record.Type)})
	}
	return votes, nil
}

func (s *Service) Search(ctx context.Context, session Session, query search.Query) (search.Response, error) {
	if err := s.authorize(session, rbac.ActionRead); err != nil {
		return search.Response{}, err
	}
	if strings.TrimSpace(query.Text) == "" {
		return search.Response{}, errValidation("q is required")
	}
	if s.search == nil {
		return search.Response{}, errUnavailable("SEARCH_UNAVAILABLE", "Search is not configured")
	}
	return s.search.Search(ctx, query), nil
}

func excerpt(body string, limit int) string {
	flat := strings.Join(strings.Fields(body), " ")
	if len(flat) <= limit {
		return flat
	}
	cut := strings.LastIndexByte(flat[:limit], ' ')
	if cut <= 0 {
		cut = limit
		for cut > 0 && !utf8.RuneStart(flat[cut]) {
			cut--
		}
	}
	return flat[:cut] + "…"
}
