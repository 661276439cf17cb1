package search

import (
	"context"
	"log/slog"
)

// Indexer pushes records into the primary search backend.
type Indexer interface {
	Healthy() bool
	IndexPosts(posts ...PostRecord) error
	IndexAnnotations(annotations ...AnnotationRecord) error
}

// Primary is a backend that can both search and index, such as Meili.
type Primary interface {
	Searcher
	Indexer
}

// RecordLoader supplies every record for a full reindex.
type RecordLoader interface {
	LoadAllRecords(ctx context.Context) ([]PostRecord, []AnnotationRecord, error)
}

// Fallback searches and can reload all records; PgFTS satisfies it.
type Fallback interface {
	Searcher
	RecordLoader
}

// Service tries the primary backend first and falls back to Postgres.
type Service struct {
	primary  Primary
	fallback Fallback
	log      *slog.Logger
}

// NewService creates a search service. primary may be nil when
// Meilisearch is not configured.
func NewService(primary Primary, fallback Fallback, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{primary: primary, fallback: fallback, log: logger.With("component", "search")}
}

func (s *Service) primaryReady() bool {
	return s.primary != nil && s.primary.Healthy()
}

// Search never fails; backend errors degrade to an empty response.
func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.primaryReady() {
		results, total, err := s.primary.Search(ctx, q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text, Backend: "meilisearch"}
		}
		s.log.Warn("primary search failed, falling back to postgres", "error", err)
	}

	if s.fallback == nil {
		return Response{Results: []Result{}, Query: q.Text, Backend: "none"}
	}
	results, total, err := s.fallback.Search(ctx, q)
	if err != nil {
		s.log.Error("postgres search failed", "error", err)
		return Response{Results: []Result{}, Query: q.Text, Backend: "postgres"}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text, Backend: "postgres"}
}

// IndexPost indexes a post in the background.
func (s *Service) IndexPost(post PostRecord) {
	if !s.primaryReady() {
		return
	}
	go func() {
		if err := s.primary.IndexPosts(post); err != nil {
			s.log.Warn("index post", "post_id", post.ID, "error", err)
		}
	}()
}

// IndexAnnotation indexes an annotation in the background.
func (s *Service) IndexAnnotation(annotation AnnotationRecord) {
	if !s.primaryReady() {
		return
	}
	go func() {
		if err := s.primary.IndexAnnotations(annotation); err != nil {
			s.log.Warn("index annotation", "annotation_id", annotation.ID, "error", err)
		}
	}()
}

// ReindexAllFromPG loads every record from Postgres and pushes it into
// the primary backend synchronously.
func (s *Service) ReindexAllFromPG(ctx context.Context) error {
	if !s.primaryReady() || s.fallback == nil {
		return nil
	}
	posts, annotations, err := s.fallback.LoadAllRecords(ctx)
	if err != nil {
		return err
	}
	if err := s.primary.IndexPosts(posts...); err != nil {
		return err
	}
	if err := s.primary.IndexAnnotations(annotations...); err != nil {
		return err
	}
	s.log.Info("search reindexed", "posts", len(posts), "annotations", len(annotations))
	return nil
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
