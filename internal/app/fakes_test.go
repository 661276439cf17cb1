package app

import (
	"context"
	"database/sql"
	"strings"
	"sync"
	"time"

	"margin/api/internal/annotate"
	"margin/api/internal/config"
	"margin/api/internal/export"
	"margin/api/internal/search"
	"margin/api/internal/store"
)

// fakeStore is an in-memory dataStore and sessionStore. The fn fields
// override individual operations.
type fakeStore struct {
	mu          sync.Mutex
	users       map[string]store.User
	posts       map[string]store.Post
	annotations []store.Annotation
	refresh     map[string]string
	revoked     map[string]bool

	insertAnnotationFn func(context.Context, store.Annotation) (store.Annotation, error)
	pingFn             func(context.Context) error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:   make(map[string]store.User),
		posts:   make(map[string]store.Post),
		refresh: make(map[string]string),
		revoked: make(map[string]bool),
	}
}

func (f *fakeStore) EnsureUserByName(_ context.Context, name string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.DisplayName == name {
			return u, nil
		}
	}
	u := store.User{ID: "usr_" + strings.ToLower(name), DisplayName: name, Role: "member"}
	f.users[u.ID] = u
	return u, nil
}

func (f *fakeStore) GetUserByID(_ context.Context, id string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return u, nil
}

func (f *fakeStore) GetUserByEmail(_ context.Context, email string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Email == email {
			return u, nil
		}
	}
	return store.User{}, sql.ErrNoRows
}

func (f *fakeStore) CreateUser(_ context.Context, user store.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[user.ID] = user
	return nil
}

func (f *fakeStore) setRole(id, role string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u := f.users[id]
	u.Role = role
	f.users[id] = u
}

func (f *fakeStore) InsertPost(_ context.Context, post store.Post) (store.Post, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	post.CreatedAt = time.Date(2024, 3, 9, 12, 0, 0, 0, time.UTC)
	if author, ok := f.users[post.AuthorID]; ok {
		post.AuthorName = author.DisplayName
	}
	f.posts[post.ID] = post
	return post, nil
}

func (f *fakeStore) GetPost(_ context.Context, id string) (store.Post, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.posts[id]
	if !ok {
		return store.Post{}, sql.ErrNoRows
	}
	return p, nil
}

func (f *fakeStore) ListPosts(_ context.Context, limit int) ([]store.Post, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.Post
	for _, p := range f.posts {
		if len(out) == limit {
			break
		}
		out = append(out, p)
	}
	return out, nil
}

func (f *fakeStore) InsertAnnotation(ctx context.Context, a store.Annotation) (store.Annotation, error) {
	if f.insertAnnotationFn != nil {
		return f.insertAnnotationFn(ctx, a)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if a.Type == "up" || a.Type == "down" {
		for _, existing := range f.annotations {
			if existing.PostID == a.PostID && existing.UserID == a.UserID && (existing.Type == "up" || existing.Type == "down") {
				return store.Annotation{}, store.ErrAlreadyVoted
			}
		}
	}
	a.CreatedAt = time.Now()
	if u, ok := f.users[a.UserID]; ok {
		a.UserName = u.DisplayName
	}
	f.annotations = append(f.annotations, a)
	return a, nil
}

func (f *fakeStore) GetAnnotation(_ context.Context, id string) (store.Annotation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.annotations {
		if a.ID == id {
			return a, nil
		}
	}
	return store.Annotation{}, sql.ErrNoRows
}

func (f *fakeStore) ListAnnotations(_ context.Context, postID string) ([]store.Annotation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.Annotation
	for _, a := range f.annotations {
		if a.PostID == postID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeStore) ListVoteRecords(_ context.Context, postID string) ([]store.VoteRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.VoteRecord
	for _, a := range f.annotations {
		if a.PostID == postID && (a.Type == "up" || a.Type == "down") {
			out = append(out, store.VoteRecord{UserID: a.UserID, Type: a.Type})
		}
	}
	return out, nil
}

func (f *fakeStore) VoteTotals(_ context.Context, postID string) (store.VoteTotals, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var totals store.VoteTotals
	for _, a := range f.annotations {
		if a.PostID != postID {
			continue
		}
		switch a.Type {
		case "up":
			totals.Up++
		case "down":
			totals.Down++
		case "comment":
			totals.Comments++
		case "quote":
			totals.Quotes++
		}
	}
	return totals, nil
}

func (f *fakeStore) annotationCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.annotations)
}

func (f *fakeStore) Ping(ctx context.Context) error {
	if f.pingFn != nil {
		return f.pingFn(ctx)
	}
	return nil
}

func (f *fakeStore) SaveRefreshSession(_ context.Context, hash, userID string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refresh[hash] = userID
	return nil
}

func (f *fakeStore) LookupRefreshSession(_ context.Context, hash string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.refresh[hash]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return store.User{ID: id}, nil
}

func (f *fakeStore) RevokeRefreshSession(_ context.Context, hash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.refresh, hash)
	return nil
}

func (f *fakeStore) RevokeAccessToken(_ context.Context, jti string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revoked[jti] = true
	return nil
}

func (f *fakeStore) IsAccessTokenRevoked(_ context.Context, jti string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.revoked[jti], nil
}

type fakeSearch struct {
	mu          sync.Mutex
	posts       []search.PostRecord
	annotations []search.AnnotationRecord
	queries     []search.Query
}

func (f *fakeSearch) Search(_ context.Context, q search.Query) search.Response {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q)
	return search.Response{
		Results: []search.Result{{Type: search.ResultAnnotation, ID: "ann_1", PostID: "pst_1", StartIndex: 4, EndIndex: 15}},
		Total:   1,
		Query:   q.Text,
		Backend: "fake",
	}
}

func (f *fakeSearch) IndexPost(p search.PostRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.posts = append(f.posts, p)
}

func (f *fakeSearch) IndexAnnotation(a search.AnnotationRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.annotations = append(f.annotations, a)
}

type fakeExporter struct {
	doc    export.Document
	result *export.Result
	err    error
}

func (f *fakeExporter) Export(_ context.Context, doc export.Document) (*export.Result, error) {
	f.doc = doc
	if f.err != nil {
		return nil, f.err
	}
	if f.result != nil {
		return f.result, nil
	}
	return &export.Result{Data: []byte("%PDF-fake"), Filename: "post.pdf", MimeType: "application/pdf"}, nil
}

const foxBody = "The quick brown fox jumps over the lazy dog"

func testConfig() config.Config {
	return config.Config{
		JWTSecret:   "test-secret",
		AccessTTL:   time.Hour,
		RefreshTTL:  24 * time.Hour,
		Breakpoints: annotate.DefaultBreakpoints(),
	}
}

func newTestService(fs *fakeStore, opts ...Option) *Service {
	return New(testConfig(), fs, opts...)
}

// seedPost stores the fox post authored by Avery and returns its ID.
func seedPost(fs *fakeStore) string {
	author, _ := fs.EnsureUserByName(context.Background(), "Avery")
	post, _ := fs.InsertPost(context.Background(), store.Post{ID: "pst_fox", AuthorID: author.ID, Title: "Foxes", Body: foxBody})
	return post.ID
}
