package search

import (
	"context"

	"go.uber.org/zap"
)

// Service is the facade that tries Meilisearch first and falls back to PG FTS.
type Service struct {
	meili *Meili
	pgfts *PgFTS
	log   *zap.Logger
}

// NewService creates a search service. meili may be nil if Meilisearch is not
// configured.
func NewService(meili *Meili, pgfts *PgFTS, log *zap.Logger) *Service {
	return &Service{meili: meili, pgfts: pgfts, log: log}
}

// Search tries Meilisearch if healthy, otherwise falls back to PG FTS.
func (s *Service) Search(q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		s.log.Warn("meilisearch error, falling back to pgfts", zap.Error(err))
	}

	results, total, err := s.pgfts.Search(q)
	if err != nil {
		s.log.Error("pgfts search failed", zap.Error(err))
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexDataset pushes one dataset's rows into Meilisearch, fire-and-forget.
// Called after an ingest so new material becomes searchable.
func (s *Service) IndexDataset(ctx context.Context, datasetID int64) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	// detach from the request context so indexing survives the response
	ctx = context.WithoutCancel(ctx)
	go func() {
		events, posts, err := s.pgfts.LoadDataset(ctx, datasetID)
		if err != nil {
			s.log.Error("index dataset load failed", zap.Int64("dataset_id", datasetID), zap.Error(err))
			return
		}
		if err := s.meili.IndexEvents(events); err != nil {
			s.log.Error("index events failed", zap.Int64("dataset_id", datasetID), zap.Error(err))
		}
		if err := s.meili.IndexPosts(posts); err != nil {
			s.log.Error("index posts failed", zap.Int64("dataset_id", datasetID), zap.Error(err))
		}
	}()
}

// ReindexAll reads every searchable row from PG and pushes it to Meilisearch.
// Called at startup when Meilisearch is healthy.
func (s *Service) ReindexAll(ctx context.Context) {
	if s.meili == nil || !s.meili.Healthy() || s.pgfts == nil {
		return
	}
	events, posts, err := s.pgfts.LoadDataset(ctx, 0)
	if err != nil {
		s.log.Error("reindex load failed", zap.Error(err))
		return
	}
	if err := s.meili.IndexEvents(events); err != nil {
		s.log.Error("reindex events failed", zap.Error(err))
	}
	if err := s.meili.IndexPosts(posts); err != nil {
		s.log.Error("reindex posts failed", zap.Error(err))
	}
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
