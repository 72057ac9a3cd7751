package search

import (
	"context"
	"log"
)

// Service fronts the Meilisearch index with a postgres fallback so search
// keeps working when the index is down or was never configured.
type Service struct {
	meili    *Meili
	fallback *PGLike
}

func NewService(meili *Meili, fallback *PGLike) *Service {
	return &Service{meili: meili, fallback: fallback}
}

// Search prefers Meilisearch and falls back to postgres on failure.
func (s *Service) Search(ctx context.Context, q Query) (Response, error) {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: results, Total: total, Query: q.Text}, nil
		}
		log.Printf("search: meilisearch query failed, using postgres: %v", err)
	}

	results, total, err := s.fallback.Search(ctx, q)
	if err != nil {
		return Response{}, err
	}
	return Response{Results: results, Total: total, Query: q.Text}, nil
}

// IndexPost pushes a post into the index. Indexing is best effort; a failure
// is logged and the write path is never blocked on it.
func (s *Service) IndexPost(post PostRecord) {
	if s.meili == nil {
		return
	}
	go func() {
		if err := s.meili.IndexPost(post); err != nil {
			log.Printf("search: index post %d: %v", post.ID, err)
		}
	}()
}

// DeletePost removes a post from the index, best effort.
func (s *Service) DeletePost(id int64) {
	if s.meili == nil {
		return
	}
	go func() {
		if err := s.meili.DeletePost(id); err != nil {
			log.Printf("search: delete post %d from index: %v", id, err)
		}
	}()
}

// Close releases the Meilisearch health monitor if one is running.
func (s *Service) Close() {
	if s.meili != nil {
		s.meili.Close()
	}
}
