package search

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search.
type PgFTS struct {
	db *sql.DB
}

func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy is always true; without Postgres nothing else works either.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search ranks posts and annotations with plainto_tsquery and ts_rank,
// using ts_headline for snippets.
func (p *PgFTS) Search(ctx context.Context, q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	sqlText, args := buildPgQuery(q)
	if sqlText == "" {
		return nil, 0, nil
	}

	var total int
	if err := p.db.QueryRowContext(ctx, fmt.Sprintf("SELECT count(*) FROM (%s) sub", sqlText), args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	dataSQL := fmt.Sprintf(`SELECT type, id, post_id, title, snippet, annotation_type, start_index, end_index
		FROM (%s) sub
		ORDER BY rank DESC, id
		LIMIT %d OFFSET %d`, sqlText, q.limit(), q.offset())

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var typ string
		if err := rows.Scan(&typ, &r.ID, &r.PostID, &r.Title, &r.Snippet, &r.AnnotationType, &r.StartIndex, &r.EndIndex); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Type = ResultType(typ)
		results = append(results, r)
	}
	return results, total, rows.Err()
}

// buildPgQuery returns the UNION ALL of the requested sub-queries and
// their positional arguments. $1 is always the query text.
func buildPgQuery(q Query) (string, []any) {
	const tsQuery = "plainto_tsquery('english', $1)"
	args := []any{q.Text}
	argN := 2

	var subQueries []string

	if q.FilterType == "" || q.FilterType == ResultPost {
		where := "p.fts @@ " + tsQuery
		if q.PostID != "" {
			where += fmt.Sprintf(" AND p.id = $%d", argN)
			args = append(args, q.PostID)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'post'::text AS type, p.id, p.id AS post_id, p.title,
				ts_headline('english', p.body, %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				''::text AS annotation_type, 0 AS start_index, 0 AS end_index,
				ts_rank(p.fts, %s) AS rank
			FROM posts p
			WHERE %s`, tsQuery, tsQuery, where))
	}

	if q.FilterType == "" || q.FilterType == ResultAnnotation {
		where := "a.fts @@ " + tsQuery
		if q.PostID != "" {
			where += fmt.Sprintf(" AND a.post_id = $%d", argN)
			args = append(args, q.PostID)
			argN++
		}
		if q.AnnotationType != "" {
			where += fmt.Sprintf(" AND a.type = $%d", argN)
			args = append(args, q.AnnotationType)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'annotation'::text AS type, a.id, a.post_id, p.title,
				ts_headline('english', a.span_text || ' ' || a.comment, %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				a.type AS annotation_type, a.start_index, a.end_index,
				ts_rank(a.fts, %s) AS rank
			FROM annotations a
			JOIN posts p ON p.id = a.post_id
			WHERE %s`, tsQuery, tsQuery, where))
	}

	return strings.Join(subQueries, " UNION ALL "), args
}

// LoadAllRecords returns every searchable record for a full reindex.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]PostRecord, []AnnotationRecord, error) {
	postRows, err := p.db.QueryContext(ctx, `
		SELECT p.id, p.title, p.body, u.display_name, EXTRACT(EPOCH FROM p.created_at)::bigint
		FROM posts p
		JOIN users u ON u.id = p.author_id
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load posts: %w", err)
	}
	defer postRows.Close()

	posts := make([]PostRecord, 0)
	for postRows.Next() {
		var r PostRecord
		if err := postRows.Scan(&r.ID, &r.Title, &r.Body, &r.AuthorName, &r.CreatedAt); err != nil {
			return nil, nil, fmt.Errorf("scan post: %w", err)
		}
		posts = append(posts, r)
	}
	if err := postRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate posts: %w", err)
	}

	annRows, err := p.db.QueryContext(ctx, `
		SELECT a.id, a.post_id, p.title, a.type, a.span_text, a.comment, a.tags::text,
			u.display_name, a.start_index, a.end_index
		FROM annotations a
		JOIN posts p ON p.id = a.post_id
		JOIN users u ON u.id = a.user_id
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load annotations: %w", err)
	}
	defer annRows.Close()

	annotations := make([]AnnotationRecord, 0)
	for annRows.Next() {
		var r AnnotationRecord
		var tags string
		if err := annRows.Scan(&r.ID, &r.PostID, &r.PostTitle, &r.Type, &r.SpanText, &r.Comment, &tags, &r.UserName, &r.StartIndex, &r.EndIndex); err != nil {
			return nil, nil, fmt.Errorf("scan annotation: %w", err)
		}
		if err := json.Unmarshal([]byte(tags), &r.Tags); err != nil {
			return nil, nil, fmt.Errorf("decode annotation tags: %w", err)
		}
		annotations = append(annotations, r)
	}
	if err := annRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate annotations: %w", err)
	}

	return posts, annotations, nil
}
