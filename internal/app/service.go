package app

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"margin/api/internal/auth"
	"margin/api/internal/authpw"
	"margin/api/internal/config"
	"margin/api/internal/export"
	"margin/api/internal/rbac"
	"margin/api/internal/search"
	"margin/api/internal/store"
	"margin/api/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	Role         string
	JTI          string
	ExpiresAt    time.Time
}

type dataStore interface {
	EnsureUserByName(context.Context, string) (store.User, error)
	GetUserByID(context.Context, string) (store.User, error)
	InsertPost(context.Context, store.Post) (store.Post, error)
	GetPost(context.Context, string) (store.Post, error)
	ListPosts(context.Context, int) ([]store.Post, error)
	InsertAnnotation(context.Context, store.Annotation) (store.Annotation, error)
	GetAnnotation(context.Context, string) (store.Annotation, error)
	ListAnnotations(context.Context, string) ([]store.Annotation, error)
	ListVoteRecords(context.Context, string) ([]store.VoteRecord, error)
	VoteTotals(context.Context, string) (store.VoteTotals, error)
	Ping(context.Context) error
}

// sessionStore holds refresh sessions and revoked access tokens. Both
// store.PostgresStore and session.RedisStore satisfy it.
type sessionStore interface {
	SaveRefreshSession(context.Context, string, string, time.Time) error
	LookupRefreshSession(context.Context, string) (store.User, error)
	RevokeRefreshSession(context.Context, string) error
	RevokeAccessToken(context.Context, string, time.Time) error
	IsAccessTokenRevoked(context.Context, string) (bool, error)
}

type searchService interface {
	Search(context.Context, search.Query) search.Response
	IndexPost(search.PostRecord)
	IndexAnnotation(search.AnnotationRecord)
}

type exporter interface {
	Export(context.Context, export.Document) (*export.Result, error)
}

type passwordAuth interface {
	SignUp(context.Context, authpw.SignUpRequest) (store.User, error)
	SignIn(context.Context, authpw.SignInRequest) (store.User, error)
}

type Service struct {
	cfg       config.Config
	store     dataStore
	sessions  sessionStore
	signer    *auth.Signer
	search    searchService
	export    exporter
	passwords passwordAuth
	log       *slog.Logger
}

// Option configures optional collaborators of a Service.
type Option func(*Service)

// WithSessions stores refresh sessions somewhere other than the data store.
func WithSessions(sessions sessionStore) Option {
	return func(s *Service) { s.sessions = sessions }
}

func WithSearch(svc searchService) Option {
	return func(s *Service) { s.search = svc }
}

func WithExporter(exp exporter) Option {
	return func(s *Service) { s.export = exp }
}

func WithPasswords(passwords passwordAuth) Option {
	return func(s *Service) { s.passwords = passwords }
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.log = logger }
}

// New builds a Service. When db also implements sessionStore and no
// WithSessions option is given, sessions live in the database.
func New(cfg config.Config, db dataStore, opts ...Option) *Service {
	s := &Service{
		cfg:    cfg,
		store:  db,
		signer: auth.NewSigner(cfg.JWTSecret, cfg.AccessTTL),
		log:    slog.Default(),
	}
	if sessions, ok := db.(sessionStore); ok {
		s.sessions = sessions
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Login(ctx context.Context, name string) (Session, error) {
	userName := strings.TrimSpace(name)
	if userName == "" {
		userName = "Reader"
	}

	user, err := s.store.EnsureUserByName(ctx, userName)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

// Refresh rotates a refresh token. The user is reloaded so a role change
// takes effect on the next access token.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	owner, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	user, err := s.store.GetUserByID(ctx, owner.ID)
	if err != nil {
		return Session{}, err
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

// CreateSession issues tokens for an already authenticated user.
func (s *Service) CreateSession(ctx context.Context, userID string) (Session, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	token, claims, err := s.signer.Issue(auth.Claims{
		Sub:  user.ID,
		Name: user.DisplayName,
		Role: user.Role,
		JTI:  util.NewID("jti"),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	refreshExpires := time.Unix(claims.Iat, 0).Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user.ID, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.DisplayName,
		Role:         user.Role,
		JTI:          claims.JTI,
		ExpiresAt:    time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := s.signer.Parse(token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.sessions.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if err != nil {
		return Session{}, err
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.DisplayName,
		Role:      user.Role,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	if session.JTI != "" {
		if err := s.sessions.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt); err != nil {
			s.log.Warn("revoke access token", "user_id", session.UserID, "error", err)
		}
	}
	if refreshToken != "" {
		if err := s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken)); err != nil {
			s.log.Warn("revoke refresh session", "user_id", session.UserID, "error", err)
		}
	}
	return nil
}

// SignUp registers an email/password account and signs it in.
func (s *Service) SignUp(ctx context.Context, req authpw.SignUpRequest) (Session, error) {
	if s.passwords == nil {
		return Session{}, errUnavailable("AUTH_UNAVAILABLE", "Password authentication is not configured")
	}
	user, err := s.passwords.SignUp(ctx, req)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) SignIn(ctx context.Context, req authpw.SignInRequest) (Session, error) {
	if s.passwords == nil {
		return Session{}, errUnavailable("AUTH_UNAVAILABLE", "Password authentication is not configured")
	}
	user, err := s.passwords.SignIn(ctx, req)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) Can(role string, action rbac.Action) bool {
	return rbac.Can(rbac.Normalize(role), action)
}

func (s *Service) authorize(session Session, action rbac.Action) error {
	if !s.Can(session.Role, action) {
		return errForbidden(string(action))
	}
	return nil
}

// Ping checks the database.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}
