package ingest

import (
	"context"
	"fmt"
	"io"

	"go.uber.org/zap"

	"codabook/api/internal/store"
)

// DataStore is the slice of the data store ingestion writes through.
type DataStore interface {
	InsertTranscript(ctx context.Context, datasetID int64, turns []store.DialogTurn, events [][]store.DialogEvent) error
	InsertSMThread(ctx context.Context, post store.SMPost, replies []store.SMReply) (store.SMPost, error)
}

// Service parses uploads and persists them.
type Service struct {
	store DataStore
	log   *zap.Logger
}

func NewService(st DataStore, log *zap.Logger) *Service {
	return &Service{store: st, log: log}
}

// IngestTranscript parses a transcript spreadsheet and stores it under the
// dataset in one transaction. It reports how many turns and events landed.
func (s *Service) IngestTranscript(ctx context.Context, datasetID int64, r io.Reader) (int, int, error) {
	turns, events, err := ParseTranscript(r)
	if err != nil {
		return 0, 0, err
	}
	if err := s.store.InsertTranscript(ctx, datasetID, turns, events); err != nil {
		return 0, 0, fmt.Errorf("store transcript: %w", err)
	}
	eventCount := 0
	for _, evs := range events {
		eventCount += len(evs)
	}
	s.log.Info("transcript ingested",
		zap.Int64("dataset_id", datasetID),
		zap.Int("turns", len(turns)),
		zap.Int("events", eventCount))
	return len(turns), eventCount, nil
}

// IngestThreads parses a social-media upload and stores every thread. Each
// thread is its own transaction; the first failure aborts the rest.
func (s *Service) IngestThreads(ctx context.Context, datasetID int64, r io.Reader) (int, error) {
	threads, err := ParseThreads(r)
	if err != nil {
		return 0, err
	}
	for i, th := range threads {
		post, replies := th.ToRows(datasetID)
		if _, err := s.store.InsertSMThread(ctx, post, replies); err != nil {
			return i, fmt.Errorf("store thread %d: %w", i, err)
		}
	}
	s.log.Info("threads ingested",
		zap.Int64("dataset_id", datasetID),
		zap.Int("threads", len(threads)))
	return len(threads), nil
}
