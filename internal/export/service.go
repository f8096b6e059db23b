package export

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"codabook/api/internal/schema"
	"codabook/api/internal/store"
)

// DataStore is the slice of the data store the exporter reads from.
type DataStore interface {
	GetUserByUsername(ctx context.Context, username string) (store.User, error)
	GetDatasetByName(ctx context.Context, name string) (store.Dataset, error)
	ListDialogTurns(ctx context.Context, datasetID int64) ([]store.DialogTurn, error)
	ListLabels(ctx context.Context, speaker store.Speaker) ([]store.Label, error)
	ListScales(ctx context.Context, speaker store.Speaker) ([]store.Scale, error)
	LatestAnnotationForTurns(ctx context.Context, datasetID int64, speaker store.Speaker, authorID int64, turnIDs []int64) (store.Annotation, error)
	ListAnnotationLabels(ctx context.Context, annotationID int64) ([]store.AnnotatedLabel, error)
	ListAnnotationScales(ctx context.Context, annotationID int64) ([]store.AnnotatedScale, error)
	ListAnnotationComments(ctx context.Context, annotationID int64) ([]store.AnnotationComment, error)
	ListAnnotationEvidence(ctx context.Context, annotationID int64) ([]store.CitedEvent, error)
}

// ArtifactStore persists the rendered artifacts.
type ArtifactStore interface {
	Put(ctx context.Context, key, contentType string, data []byte) error
}

// Service renders and persists annotation exports.
type Service struct {
	store     DataStore
	artifacts ArtifactStore
	log       *zap.Logger
}

func NewService(st DataStore, artifacts ArtifactStore, log *zap.Logger) *Service {
	return &Service{store: st, artifacts: artifacts, log: log}
}

// LatestPerTurn returns the newest annotation of the perspective authored by
// the user that covers any of the given turns; ErrNotFound when none exists.
func (s *Service) LatestPerTurn(ctx context.Context, datasetID int64, speaker store.Speaker, authorID int64, turnIDs []int64) (store.Annotation, error) {
	return s.store.LatestAnnotationForTurns(ctx, datasetID, speaker, authorID, turnIDs)
}

// Export organizes every annotation the named user made over the named
// dataset and writes one JSON and one XLSX artifact per perspective. A
// missing user or dataset aborts the whole export before anything is written.
func (s *Service) Export(ctx context.Context, username, datasetName string) ([]Result, error) {
	user, err := s.store.GetUserByUsername(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("export user %q: %w", username, err)
	}
	dataset, err := s.store.GetDatasetByName(ctx, datasetName)
	if err != nil {
		return nil, fmt.Errorf("export dataset %q: %w", datasetName, err)
	}
	turns, err := s.store.ListDialogTurns(ctx, dataset.ID)
	if err != nil {
		return nil, fmt.Errorf("export turns: %w", err)
	}

	var results []Result
	for _, speaker := range store.Speakers {
		records, err := s.collectRecords(ctx, user, dataset, speaker, turns)
		if err != nil {
			return nil, err
		}
		if records == nil {
			continue
		}
		rendered, err := s.render(user, dataset, speaker, records)
		if err != nil {
			return nil, err
		}
		results = append(results, rendered...)
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("export %q/%q: %w", username, datasetName, ErrNothingToExport)
	}

	for _, res := range results {
		if err := s.artifacts.Put(ctx, res.Key, res.MimeType, res.Data); err != nil {
			return nil, fmt.Errorf("write artifact: %w", err)
		}
	}
	s.log.Info("export written",
		zap.String("user", user.Username),
		zap.String("dataset", dataset.Name),
		zap.Int("artifacts", len(results)))
	return results, nil
}

// collectRecords walks the dataset's turns in sequence order and organizes
// the newest annotation covering each one, de-duplicating instances that span
// several turns while keeping first-seen order. A nil slice means the user
// annotated nothing under this perspective.
func (s *Service) collectRecords(ctx context.Context, user store.User, dataset store.Dataset, speaker store.Speaker, turns []store.DialogTurn) ([]Record, error) {
	labels, err := s.store.ListLabels(ctx, speaker)
	if err != nil {
		return nil, fmt.Errorf("export labels (%s): %w", speaker, err)
	}
	if len(labels) == 0 {
		s.log.Warn("no codebook loaded, skipping perspective", zap.String("speaker", string(speaker)))
		return nil, nil
	}
	scales, err := s.store.ListScales(ctx, speaker)
	if err != nil {
		return nil, fmt.Errorf("export scales (%s): %w", speaker, err)
	}
	tree := schema.NewTree(speaker, labels, scales, s.log)

	var records []Record
	seen := make(map[int64]struct{})
	for _, turn := range turns {
		ann, err := s.store.LatestAnnotationForTurns(ctx, dataset.ID, speaker, user.ID, []int64{turn.ID})
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("export turn %d: %w", turn.TurnN, err)
		}
		if _, ok := seen[ann.ID]; ok {
			continue
		}
		seen[ann.ID] = struct{}{}

		rec, err := s.organizeAnnotation(ctx, tree, ann)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if len(records) == 0 {
		return nil, nil
	}
	return records, nil
}

func (s *Service) organizeAnnotation(ctx context.Context, tree *schema.Tree, ann store.Annotation) (Record, error) {
	labels, err := s.store.ListAnnotationLabels(ctx, ann.ID)
	if err != nil {
		return Record{}, fmt.Errorf("annotation %d labels: %w", ann.ID, err)
	}
	scales, err := s.store.ListAnnotationScales(ctx, ann.ID)
	if err != nil {
		return Record{}, fmt.Errorf("annotation %d scales: %w", ann.ID, err)
	}
	comments, err := s.store.ListAnnotationComments(ctx, ann.ID)
	if err != nil {
		return Record{}, fmt.Errorf("annotation %d comments: %w", ann.ID, err)
	}
	evidence, err := s.store.ListAnnotationEvidence(ctx, ann.ID)
	if err != nil {
		return Record{}, fmt.Errorf("annotation %d evidence: %w", ann.ID, err)
	}
	return Record{
		AnnotationID:   ann.ID,
		CreatedAt:      ann.CreatedAt,
		CommentSummary: ann.CommentSummary,
		Groups:         Organize(tree, labels, scales, comments, evidence),
	}, nil
}

// render produces the JSON and XLSX artifacts of one perspective.
func (s *Service) render(user store.User, dataset store.Dataset, speaker store.Speaker, records []Record) ([]Result, error) {
	payload := struct {
		User       string    `json:"user"`
		Dataset    string    `json:"dataset"`
		Speaker    string    `json:"speaker"`
		ExportedAt time.Time `json:"exported_at"`
		Records    []Record  `json:"records"`
	}{
		User:       user.Username,
		Dataset:    dataset.Name,
		Speaker:    string(speaker),
		ExportedAt: time.Now().UTC(),
		Records:    records,
	}
	raw, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("render json: %w", err)
	}

	sheet, err := renderXLSX(records)
	if err != nil {
		return nil, fmt.Errorf("render xlsx: %w", err)
	}

	prefix := fmt.Sprintf("exports/%s/%s/%s", user.Username, dataset.Name, speaker)
	return []Result{
		{Key: prefix + ".json", MimeType: "application/json", Data: raw},
		{Key: prefix + ".xlsx", MimeType: "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", Data: sheet},
	}, nil
}
