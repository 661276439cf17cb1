package app

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strings"
	"testing"

	"margin/api/internal/annotate"
	"margin/api/internal/auth"
	"margin/api/internal/export"
	"margin/api/internal/search"
	"margin/api/internal/store"
)

func login(t *testing.T, svc *Service, name string) Session {
	t.Helper()
	session, err := svc.Login(context.Background(), name)
	if err != nil {
		t.Fatalf("Login(%q) error = %v", name, err)
	}
	return session
}

func expectDomainError(t *testing.T, err error, status int, code string) *DomainError {
	t.Helper()
	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		t.Fatalf("expected DomainError %s, got %v", code, err)
	}
	if domainErr.Status != status || domainErr.Code != code {
		t.Fatalf("expected %d %s, got %d %s", status, code, domainErr.Status, domainErr.Code)
	}
	return domainErr
}

func voteInput(action, text, tag string) AnnotateInput {
	return AnnotateInput{Action: action, Tag: tag, Selection: SelectionInput{Text: text}}
}

func TestLoginSessionAndLogout(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	ctx := context.Background()

	session := login(t, svc, "  Avery ")
	if session.UserName != "Avery" || session.Role != "member" || session.Token == "" || session.RefreshToken == "" {
		t.Fatalf("unexpected session: %+v", session)
	}

	parsed, err := svc.SessionFromToken(ctx, session.Token)
	if err != nil {
		t.Fatalf("SessionFromToken() error = %v", err)
	}
	if parsed.UserID != session.UserID || parsed.JTI != session.JTI {
		t.Fatalf("unexpected parsed session: %+v", parsed)
	}

	if err := svc.Logout(ctx, parsed, session.RefreshToken); err != nil {
		t.Fatalf("Logout() error = %v", err)
	}
	if _, err := svc.SessionFromToken(ctx, session.Token); !errors.Is(err, auth.ErrInvalidToken) {
		t.Fatalf("expected revoked token, got %v", err)
	}
	if _, err := svc.Refresh(ctx, session.RefreshToken); err == nil {
		t.Fatal("expected refresh after logout to fail")
	}
}

func TestLoginDefaultsBlankName(t *testing.T) {
	svc := newTestService(newFakeStore())
	if session := login(t, svc, "   "); session.UserName != "Reader" {
		t.Fatalf("expected default name, got %q", session.UserName)
	}
}

func TestRefreshRotatesAndReloadsRole(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	ctx := context.Background()

	session := login(t, svc, "Avery")
	fs.setRole(session.UserID, "moderator")

	refreshed, err := svc.Refresh(ctx, session.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if refreshed.Role != "moderator" {
		t.Fatalf("expected reloaded role, got %q", refreshed.Role)
	}
	if refreshed.RefreshToken == session.RefreshToken {
		t.Fatal("refresh token should rotate")
	}
	if _, err := svc.Refresh(ctx, session.RefreshToken); err == nil {
		t.Fatal("expected reused refresh token to fail")
	}
}

func TestAnnotateUpvoteSnapsToWords(t *testing.T) {
	fs := newFakeStore()
	index := &fakeSearch{}
	svc := newTestService(fs, WithSearch(index))
	postID := seedPost(fs)
	session := login(t, svc, "Sam")

	view, err := svc.Annotate(context.Background(), session, postID, voteInput("up", "uick bro", "#agree"))
	if err != nil {
		t.Fatalf("Annotate() error = %v", err)
	}
	if view.Type != "up" || view.StartIndex != 4 || view.EndIndex != 15 || view.SpanText != "quick brown" {
		t.Fatalf("unexpected annotation: %+v", view)
	}
	if len(view.Tags) != 1 || view.Tags[0] != "#agree" {
		t.Fatalf("expected single tag, got %v", view.Tags)
	}
	if math.Abs(view.Weight-math.Log1p(11)) > 1e-9 {
		t.Fatalf("unexpected weight %v", view.Weight)
	}
	if view.UserName != "Sam" {
		t.Fatalf("expected user name, got %q", view.UserName)
	}
	if len(index.annotations) != 1 || index.annotations[0].PostTitle != "Foxes" || index.annotations[0].EndIndex != 15 {
		t.Fatalf("expected annotation to be indexed, got %+v", index.annotations)
	}
}

func TestAnnotateSecondVoteIsRejected(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	postID := seedPost(fs)
	session := login(t, svc, "Sam")
	ctx := context.Background()

	if _, err := svc.Annotate(ctx, session, postID, voteInput("up", "quick", "#like")); err != nil {
		t.Fatalf("first vote: %v", err)
	}
	_, err := svc.Annotate(ctx, session, postID, voteInput("down", "lazy dog", "#false"))
	domainErr := expectDomainError(t, err, http.StatusConflict, "ALREADY_VOTED")
	details, ok := domainErr.Details.(map[string]any)
	if !ok || details["tooltip"] != "You have already upvoted this post" {
		t.Fatalf("unexpected details: %#v", domainErr.Details)
	}
	if fs.annotationCount() != 1 {
		t.Fatalf("expected one stored annotation, got %d", fs.annotationCount())
	}

	// Other users and non-vote actions are unaffected.
	other := login(t, svc, "Kim")
	if _, err := svc.Annotate(ctx, other, postID, voteInput("down", "lazy dog", "#false")); err != nil {
		t.Fatalf("other user vote: %v", err)
	}
	if _, err := svc.Annotate(ctx, session, postID, voteInput("quote", "fox", "")); err != nil {
		t.Fatalf("quote after vote: %v", err)
	}
}

func TestAnnotateStoreConflictMapsToAlreadyVoted(t *testing.T) {
	fs := newFakeStore()
	fs.insertAnnotationFn = func(context.Context, store.Annotation) (store.Annotation, error) {
		return store.Annotation{}, store.ErrAlreadyVoted
	}
	svc := newTestService(fs)
	postID := seedPost(fs)

	_, err := svc.Annotate(context.Background(), login(t, svc, "Sam"), postID, voteInput("up", "quick", "#true"))
	expectDomainError(t, err, http.StatusConflict, "ALREADY_VOTED")
}

func TestAnnotateRejections(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	postID := seedPost(fs)
	session := login(t, svc, "Sam")
	ctx := context.Background()

	tests := []struct {
		name   string
		input  AnnotateInput
		status int
		code   string
	}{
		{"unknown action", voteInput("love", "quick", ""), http.StatusUnprocessableEntity, "VALIDATION_ERROR"},
		{"text not in post", voteInput("up", "zebra", "#true"), http.StatusUnprocessableEntity, "UNRESOLVABLE_SELECTION"},
		{"whitespace selection", voteInput("quote", "   ", ""), http.StatusUnprocessableEntity, "UNRESOLVABLE_SELECTION"},
		{"collapsed selection", AnnotateInput{Action: "quote", Selection: SelectionInput{Text: "fox", Collapsed: true}}, http.StatusUnprocessableEntity, "UNRESOLVABLE_SELECTION"},
		{"tag from other vocabulary", voteInput("up", "quick", "#false"), http.StatusUnprocessableEntity, "INVALID_TAG"},
		{"blank comment", AnnotateInput{Action: "comment", Comment: "  ", Selection: SelectionInput{Text: "fox"}}, http.StatusUnprocessableEntity, "BLANK_COMMENT"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Annotate(ctx, session, postID, tc.input)
			expectDomainError(t, err, tc.status, tc.code)
		})
	}
	if fs.annotationCount() != 0 {
		t.Fatalf("rejected gestures must not persist, got %d", fs.annotationCount())
	}

	if _, err := svc.Annotate(ctx, session, "pst_missing", voteInput("up", "quick", "#true")); err == nil {
		t.Fatal("expected missing post error")
	}
}

func TestAnnotateCommentAndQuote(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	postID := seedPost(fs)
	session := login(t, svc, "Sam")
	ctx := context.Background()

	quoted, err := svc.Annotate(ctx, session, postID, AnnotateInput{
		Action:    "comment",
		Comment:   "  so fast  ",
		Selection: SelectionInput{Text: "quick"},
	})
	if err != nil {
		t.Fatalf("comment: %v", err)
	}
	if !quoted.WithQuote || quoted.Comment != "so fast" || quoted.SpanText != "quick" {
		t.Fatalf("unexpected comment: %+v", quoted)
	}

	general, err := svc.Annotate(ctx, session, postID, AnnotateInput{Action: "comment", Comment: "great post"})
	if err != nil {
		t.Fatalf("whole-post comment: %v", err)
	}
	if general.WithQuote || general.SpanText != "" || general.EndIndex != 0 {
		t.Fatalf("unexpected whole-post comment: %+v", general)
	}

	quote, err := svc.Annotate(ctx, session, postID, AnnotateInput{Action: "QUOTE", Selection: SelectionInput{Text: "over the"}})
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if quote.Type != "quote" || quote.SpanText != "over the" || len(quote.Tags) != 0 {
		t.Fatalf("unexpected quote: %+v", quote)
	}
}

func TestAnnotateUsesAnchorOffset(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	author, _ := fs.EnsureUserByName(context.Background(), "Avery")
	_, _ = fs.InsertPost(context.Background(), store.Post{ID: "pst_rep", AuthorID: author.ID, Body: "go fast go slow"})
	anchor := 11

	view, err := svc.Annotate(context.Background(), login(t, svc, "Sam"), "pst_rep", AnnotateInput{
		Action:    "quote",
		Selection: SelectionInput{Text: "go", AnchorOffset: &anchor},
	})
	if err != nil {
		t.Fatalf("Annotate() error = %v", err)
	}
	if view.StartIndex != 8 || view.EndIndex != 10 {
		t.Fatalf("expected second occurrence, got %d-%d", view.StartIndex, view.EndIndex)
	}
}

func TestAnnotateForbiddenForViewer(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	postID := seedPost(fs)
	session := login(t, svc, "Sam")
	session.Role = "viewer"

	_, err := svc.Annotate(context.Background(), session, postID, voteInput("up", "quick", "#true"))
	expectDomainError(t, err, http.StatusForbidden, "FORBIDDEN")
}

func TestGetPostHighlightModes(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	postID := seedPost(fs)
	session := login(t, svc, "Sam")
	ctx := context.Background()

	start, end := 4, 15
	focused, err := svc.GetPost(ctx, session, postID, ViewOptions{Start: &start, End: &end, Highlight: "lazy dog"})
	if err != nil {
		t.Fatalf("GetPost() error = %v", err)
	}
	if focused.Mode != annotate.ModeFocused || len(focused.Chunks) != 3 || focused.Chunks[1].Text != "quick brown" {
		t.Fatalf("unexpected focused view: %s %+v", focused.Mode, focused.Chunks)
	}

	badStart, badEnd := 10, 10
	fallback, err := svc.GetPost(ctx, session, postID, ViewOptions{Start: &badStart, End: &badEnd, Highlight: "lazy\n  dog"})
	if err != nil {
		t.Fatalf("GetPost() error = %v", err)
	}
	if fallback.Mode != annotate.ModeAdHoc || fallback.Chunks[1].Text != "lazy dog" {
		t.Fatalf("unexpected fallback view: %s %+v", fallback.Mode, fallback.Chunks)
	}

	plain, err := svc.GetPost(ctx, session, postID, ViewOptions{Viewport: 360})
	if err != nil {
		t.Fatalf("GetPost() error = %v", err)
	}
	if plain.Mode != annotate.ModePlain || len(plain.Chunks) != 1 || plain.Chunks[0].Highlighted {
		t.Fatalf("unexpected plain view: %+v", plain.Chunks)
	}
	if plain.Viewer.Layout == nil || plain.Viewer.Layout.PanelWidth != 260 {
		t.Fatalf("expected compact layout, got %+v", plain.Viewer.Layout)
	}
	if got := plain.Viewer.VoteTags["down"]; len(got) != 3 || got[0] != "#false" {
		t.Fatalf("unexpected vote tags: %v", plain.Viewer.VoteTags)
	}
}

func TestPermalinkFocusesAnnotation(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	postID := seedPost(fs)
	session := login(t, svc, "Sam")
	ctx := context.Background()

	created, err := svc.Annotate(ctx, session, postID, voteInput("up", "jumps", "#like"))
	if err != nil {
		t.Fatalf("Annotate() error = %v", err)
	}

	view, err := svc.Permalink(ctx, session, created.ID, 1200)
	if err != nil {
		t.Fatalf("Permalink() error = %v", err)
	}
	if view.Mode != annotate.ModeFocused || view.Focused == nil || view.Focused.ID != created.ID {
		t.Fatalf("unexpected permalink view: %+v", view)
	}
	var highlighted string
	for _, chunk := range view.Chunks {
		if chunk.Highlighted {
			highlighted = chunk.Text
		}
	}
	if highlighted != "jumps" {
		t.Fatalf("expected highlight on annotation span, got %q", highlighted)
	}
	if !view.Viewer.HasVoted || view.Viewer.VoteTooltip != "You have already upvoted this post" || view.Totals.Up != 1 {
		t.Fatalf("unexpected viewer state: %+v totals %+v", view.Viewer, view.Totals)
	}

	if _, err := svc.Permalink(ctx, session, "ann_missing", 0); err == nil {
		t.Fatal("expected missing annotation error")
	}
}

func TestGetPostRejectsForeignAnnotation(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	postID := seedPost(fs)
	session := login(t, svc, "Sam")
	ctx := context.Background()
	_, _ = fs.InsertPost(ctx, store.Post{ID: "pst_other", AuthorID: session.UserID, Body: "another post entirely"})

	created, err := svc.Annotate(ctx, session, "pst_other", voteInput("quote", "another", ""))
	if err != nil {
		t.Fatalf("Annotate() error = %v", err)
	}
	_, err = svc.GetPost(ctx, session, postID, ViewOptions{AnnotationID: created.ID})
	expectDomainError(t, err, http.StatusNotFound, "NOT_FOUND")
}

func TestCreatePostIndexesAndValidates(t *testing.T) {
	fs := newFakeStore()
	index := &fakeSearch{}
	svc := newTestService(fs, WithSearch(index))
	session := login(t, svc, "Avery")
	ctx := context.Background()

	view, err := svc.CreatePost(ctx, session, CreatePostInput{Title: " Dogs ", Body: "Lazy dogs sleep"})
	if err != nil {
		t.Fatalf("CreatePost() error = %v", err)
	}
	if view.Title != "Dogs" || view.AuthorName != "Avery" || view.Mode != annotate.ModePlain {
		t.Fatalf("unexpected post view: %+v", view)
	}
	if len(index.posts) != 1 || index.posts[0].ID != view.ID {
		t.Fatalf("expected post to be indexed, got %+v", index.posts)
	}

	_, err = svc.CreatePost(ctx, session, CreatePostInput{Title: "Empty", Body: "  "})
	expectDomainError(t, err, http.StatusUnprocessableEntity, "VALIDATION_ERROR")

	viewer := session
	viewer.Role = "viewer"
	_, err = svc.CreatePost(ctx, viewer, CreatePostInput{Body: "x"})
	expectDomainError(t, err, http.StatusForbidden, "FORBIDDEN")
}

func TestListPostsExcerpts(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	author, _ := fs.EnsureUserByName(context.Background(), "Avery")
	_, _ = fs.InsertPost(context.Background(), store.Post{ID: "pst_long", AuthorID: author.ID, Body: strings.Repeat("word ", 60)})

	posts, err := svc.ListPosts(context.Background(), 0)
	if err != nil {
		t.Fatalf("ListPosts() error = %v", err)
	}
	if len(posts) != 1 || !strings.HasSuffix(posts[0].Excerpt, "…") || len(posts[0].Excerpt) > 160+len("…") {
		t.Fatalf("unexpected excerpt: %+v", posts)
	}
}

func TestSearchDelegates(t *testing.T) {
	fs := newFakeStore()
	index := &fakeSearch{}
	svc := newTestService(fs, WithSearch(index))
	session := login(t, svc, "Sam")
	ctx := context.Background()

	resp, err := svc.Search(ctx, session, search.Query{Text: "fox", FilterType: search.ResultAnnotation})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if resp.Total != 1 || resp.Results[0].EndIndex != 15 || index.queries[0].FilterType != search.ResultAnnotation {
		t.Fatalf("unexpected search: %+v", resp)
	}

	_, err = svc.Search(ctx, session, search.Query{Text: " "})
	expectDomainError(t, err, http.StatusUnprocessableEntity, "VALIDATION_ERROR")

	unconfigured := newTestService(fs)
	_, err = unconfigured.Search(ctx, session, search.Query{Text: "fox"})
	expectDomainError(t, err, http.StatusServiceUnavailable, "SEARCH_UNAVAILABLE")
}

func TestExportBuildsDocument(t *testing.T) {
	fs := newFakeStore()
	exp := &fakeExporter{}
	svc := newTestService(fs, WithExporter(exp))
	postID := seedPost(fs)
	member := login(t, svc, "Sam")
	ctx := context.Background()

	created, err := svc.Annotate(ctx, member, postID, voteInput("up", "brown fox", "#true"))
	if err != nil {
		t.Fatalf("Annotate() error = %v", err)
	}
	_, err = svc.Export(ctx, member, postID, created.ID)
	expectDomainError(t, err, http.StatusForbidden, "FORBIDDEN")

	moderator := member
	moderator.Role = "moderator"
	result, err := svc.Export(ctx, moderator, postID, created.ID)
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	if result.MimeType != "application/pdf" {
		t.Fatalf("unexpected result: %+v", result)
	}
	if exp.doc.Title != "Foxes" || exp.doc.Totals.Up != 1 || len(exp.doc.Annotations) != 1 || !exp.doc.Annotations[0].Focused {
		t.Fatalf("unexpected export document: %+v", exp.doc)
	}
	var highlighted string
	for _, chunk := range exp.doc.Chunks {
		if chunk.Highlighted {
			highlighted = chunk.Text
		}
	}
	if highlighted != "brown fox" {
		t.Fatalf("expected focused span in export, got %q", highlighted)
	}

	exp.err = export.ErrPDFDependencyMissing
	_, err = svc.Export(ctx, moderator, postID, "")
	expectDomainError(t, err, http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE")

	_, err = newTestService(fs).Export(ctx, moderator, postID, "")
	expectDomainError(t, err, http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE")
}
