package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"margin/api/internal/util"
)

var (
	// ErrAlreadyVoted is returned when a user votes twice on the same post.
	ErrAlreadyVoted = errors.New("user already voted on this post")
	ErrEmailTaken   = errors.New("email already registered")
)

const uniqueViolation = "23505"

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

// EnsureUserByName returns the user with the given display name, creating
// a member with that name when none exists.
func (s *PostgresStore) EnsureUserByName(ctx context.Context, name string) (User, error) {
	const findUser = `SELECT id, display_name, COALESCE(email, ''), role, created_at FROM users WHERE display_name = $1`
	var user User
	err := s.db.QueryRowContext(ctx, findUser, name).Scan(&user.ID, &user.DisplayName, &user.Email, &user.Role, &user.CreatedAt)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return User{}, fmt.Errorf("lookup user: %w", err)
	}

	err = s.db.QueryRowContext(ctx, `
		INSERT INTO users (id, display_name, role)
		VALUES ($1, $2, 'member')
		ON CONFLICT (display_name) DO UPDATE SET display_name = EXCLUDED.display_name
		RETURNING id, display_name, COALESCE(email, ''), role, created_at
	`, util.NewID("usr"), name).Scan(&user.ID, &user.DisplayName, &user.Email, &user.Role, &user.CreatedAt)
	if err != nil {
		return User{}, fmt.Errorf("insert user: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	return s.getUser(ctx, `WHERE id = $1`, userID)
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	return s.getUser(ctx, `WHERE email = $1`, strings.ToLower(strings.TrimSpace(email)))
}

func (s *PostgresStore) getUser(ctx context.Context, where string, arg string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, COALESCE(email, ''), password_hash, role, created_at
		FROM users `+where, arg).Scan(
		&user.ID,
		&user.DisplayName,
		&user.Email,
		&user.PasswordHash,
		&user.Role,
		&user.CreatedAt,
	)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	role := user.Role
	if role == "" {
		role = "member"
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, display_name, email, password_hash, role)
		VALUES ($1, $2, $3, $4, $5)
	`, user.ID, user.DisplayName, strings.ToLower(strings.TrimSpace(user.Email)), user.PasswordHash, role)
	if isUniqueViolation(err) {
		return ErrEmailTaken
	}
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (s *PostgresStore) InsertPost(ctx context.Context, post Post) (Post, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO posts (id, author_id, title, body)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at
	`, post.ID, post.AuthorID, post.Title, post.Body).Scan(&post.CreatedAt)
	if err != nil {
		return Post{}, fmt.Errorf("insert post: %w", err)
	}
	return post, nil
}

func (s *PostgresStore) GetPost(ctx context.Context, postID string) (Post, error) {
	var post Post
	err := s.db.QueryRowContext(ctx, `
		SELECT p.id, p.author_id, u.display_name, p.title, p.body, p.created_at
		FROM posts p
		JOIN users u ON u.id = p.author_id
		WHERE p.id = $1
	`, postID).Scan(&post.ID, &post.AuthorID, &post.AuthorName, &post.Title, &post.Body, &post.CreatedAt)
	if err != nil {
		return Post{}, err
	}
	return post, nil
}

func (s *PostgresStore) ListPosts(ctx context.Context, limit int) ([]Post, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.id, p.author_id, u.display_name, p.title, p.body, p.created_at
		FROM posts p
		JOIN users u ON u.id = p.author_id
		ORDER BY p.created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list posts: %w", err)
	}
	defer rows.Close()

	items := make([]Post, 0)
	for rows.Next() {
		var item Post
		if err := rows.Scan(&item.ID, &item.AuthorID, &item.AuthorName, &item.Title, &item.Body, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan post: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate posts: %w", err)
	}
	return items, nil
}

// InsertAnnotation persists a committed action. A second vote by the same
// user on the same post fails with ErrAlreadyVoted.
func (s *PostgresStore) InsertAnnotation(ctx context.Context, annotation Annotation) (Annotation, error) {
	tags := annotation.Tags
	if tags == nil {
		tags = []string{}
	}
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return Annotation{}, fmt.Errorf("marshal tags: %w", err)
	}

	err = s.db.QueryRowContext(ctx, `
		INSERT INTO annotations (id, post_id, user_id, type, start_index, end_index, span_text, weight, tags, comment, with_quote)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::jsonb, $10, $11)
		RETURNING created_at
	`,
		annotation.ID,
		annotation.PostID,
		annotation.UserID,
		annotation.Type,
		annotation.StartIndex,
		annotation.EndIndex,
		annotation.SpanText,
		annotation.Weight,
		string(tagsJSON),
		annotation.Comment,
		annotation.WithQuote,
	).Scan(&annotation.CreatedAt)
	if isUniqueViolation(err) {
		return Annotation{}, ErrAlreadyVoted
	}
	if err != nil {
		return Annotation{}, fmt.Errorf("insert annotation: %w", err)
	}
	annotation.Tags = tags
	return annotation, nil
}

const annotationColumns = `
	a.id, a.post_id, a.user_id, u.display_name, a.type, a.start_index, a.end_index,
	a.span_text, a.weight, a.tags::text, a.comment, a.with_quote, a.created_at
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAnnotation(row rowScanner) (Annotation, error) {
	var item Annotation
	var tagsJSON string
	if err := row.Scan(
		&item.ID,
		&item.PostID,
		&item.UserID,
		&item.UserName,
		&item.Type,
		&item.StartIndex,
		&item.EndIndex,
		&item.SpanText,
		&item.Weight,
		&tagsJSON,
		&item.Comment,
		&item.WithQuote,
		&item.CreatedAt,
	); err != nil {
		return Annotation{}, err
	}
	if err := json.Unmarshal([]byte(tagsJSON), &item.Tags); err != nil {
		return Annotation{}, fmt.Errorf("decode tags: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) GetAnnotation(ctx context.Context, annotationID string) (Annotation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+annotationColumns+`
		FROM annotations a
		JOIN users u ON u.id = a.user_id
		WHERE a.id = $1
	`, annotationID)
	return scanAnnotation(row)
}

func (s *PostgresStore) ListAnnotations(ctx context.Context, postID string) ([]Annotation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+annotationColumns+`
		FROM annotations a
		JOIN users u ON u.id = a.user_id
		WHERE a.post_id = $1
		ORDER BY a.created_at ASC, a.id ASC
	`, postID)
	if err != nil {
		return nil, fmt.Errorf("list annotations: %w", err)
	}
	defer rows.Close()

	items := make([]Annotation, 0)
	for rows.Next() {
		item, err := scanAnnotation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan annotation: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate annotations: %w", err)
	}
	return items, nil
}

// ListVoteRecords returns one record per user who voted on the post.
func (s *PostgresStore) ListVoteRecords(ctx context.Context, postID string) ([]VoteRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, type
		FROM annotations
		WHERE post_id = $1 AND type IN ('up', 'down')
		ORDER BY created_at ASC
	`, postID)
	if err != nil {
		return nil, fmt.Errorf("list vote records: %w", err)
	}
	defer rows.Close()

	items := make([]VoteRecord, 0)
	for rows.Next() {
		var item VoteRecord
		if err := rows.Scan(&item.UserID, &item.Type); err != nil {
			return nil, fmt.Errorf("scan vote record: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate vote records: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) VoteTotals(ctx context.Context, postID string) (VoteTotals, error) {
	var totals VoteTotals
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE type = 'up'),
			COUNT(*) FILTER (WHERE type = 'down'),
			COUNT(*) FILTER (WHERE type = 'comment'),
			COUNT(*) FILTER (WHERE type = 'quote')
		FROM annotations
		WHERE post_id = $1
	`, postID).Scan(&totals.Up, &totals.Down, &totals.Comments, &totals.Quotes)
	if err != nil {
		return VoteTotals{}, fmt.Errorf("vote totals: %w", err)
	}
	return totals, nil
}

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT u.id, u.display_name, COALESCE(u.email, ''), u.role, u.created_at
		FROM refresh_sessions rs
		JOIN users u ON u.id = rs.user_id
		WHERE rs.token_hash = $1
			AND rs.revoked_at IS NULL
			AND rs.expires_at > NOW()
	`, tokenHash).Scan(&user.ID, &user.DisplayName, &user.Email, &user.Role, &user.CreatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_access_tokens (jti, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (jti) DO NOTHING
	`, jti, exp)
	if err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var revoked bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM revoked_access_tokens WHERE jti=$1 AND expires_at > NOW())`, jti).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return revoked, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
