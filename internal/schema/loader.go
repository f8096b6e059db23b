package schema

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"codabook/api/internal/store"
)

// LabelStore is the slice of the relational store the loader needs. Each
// Insert/Delete call is one transaction on the real store.
type LabelStore interface {
	InsertLabels(ctx context.Context, speaker store.Speaker, specs []store.LabelSpec) error
	DeleteLabels(ctx context.Context, speaker store.Speaker) error
	ListLabels(ctx context.Context, speaker store.Speaker) ([]store.Label, error)
	InsertScales(ctx context.Context, scales []store.Scale) error
	DeleteScales(ctx context.Context, speaker store.Speaker) error
}

// Loader seeds label trees and scale tables from JSON codebook definitions.
// Researchers edit the JSON files directly; an operator unloads and reloads a
// perspective after an edit.
type Loader struct {
	store LabelStore
	log   *zap.Logger
}

func NewLoader(labelStore LabelStore, log *zap.Logger) *Loader {
	return &Loader{store: labelStore, log: log}
}

// Load parses a nested JSON label tree and bulk-creates the label rows for
// the perspective in one transaction. Keys are label names; a value may be an
// object of children, an array of leaf-name strings, or null/empty for a
// leaf. Key order in the file decides insertion order, which in turn decides
// id order and therefore display order.
func (l *Loader) Load(ctx context.Context, speaker store.Speaker, data []byte) error {
	specs, err := parseLabelTree(data)
	if err != nil {
		return fmt.Errorf("parse label tree (%s): %v: %w", speaker, err, ErrInvalidArgument)
	}
	if err := l.store.InsertLabels(ctx, speaker, specs); err != nil {
		return fmt.Errorf("load labels (%s): %w", speaker, err)
	}
	l.log.Info("label tree loaded", zap.String("speaker", string(speaker)), zap.Int("labels", len(specs)))
	return nil
}

// Unload deletes every label of the perspective.
func (l *Loader) Unload(ctx context.Context, speaker store.Speaker) error {
	if err := l.store.DeleteLabels(ctx, speaker); err != nil {
		return fmt.Errorf("unload labels (%s): %w", speaker, err)
	}
	l.log.Info("label tree unloaded", zap.String("speaker", string(speaker)))
	return nil
}

// LoadScales parses a JSON scale table, resolves each top-level key to an
// existing label by normalized name, and bulk-creates one scale row per
// (title, level). Unresolvable labels are skipped with a warning rather than
// aborting the whole load.
func (l *Loader) LoadScales(ctx context.Context, speaker store.Speaker, data []byte) error {
	entries, err := parseScaleTable(data)
	if err != nil {
		return fmt.Errorf("parse scale table (%s): %v: %w", speaker, err, ErrInvalidArgument)
	}

	labels, err := l.store.ListLabels(ctx, speaker)
	if err != nil {
		return fmt.Errorf("load scales (%s): %w", speaker, err)
	}
	tree := NewTree(speaker, labels, nil, l.log)

	var rows []store.Scale
	for _, entry := range entries {
		label, err := tree.Find(entry.LabelName, "")
		if err != nil {
			l.log.Warn("scale table references missing label, skipping",
				zap.String("label", entry.LabelName),
				zap.String("speaker", string(speaker)))
			continue
		}
		for _, level := range entry.Levels {
			rows = append(rows, store.Scale{
				Speaker:    speaker,
				ScaleTitle: entry.Title,
				ScaleLevel: level,
				LabelID:    label.ID,
			})
		}
	}
	if err := l.store.InsertScales(ctx, rows); err != nil {
		return fmt.Errorf("load scales (%s): %w", speaker, err)
	}
	l.log.Info("scales loaded", zap.String("speaker", string(speaker)), zap.Int("rows", len(rows)))
	return nil
}

// UnloadScales deletes every scale of the perspective.
func (l *Loader) UnloadScales(ctx context.Context, speaker store.Speaker) error {
	if err := l.store.DeleteScales(ctx, speaker); err != nil {
		return fmt.Errorf("unload scales (%s): %w", speaker, err)
	}
	l.log.Info("scales unloaded", zap.String("speaker", string(speaker)))
	return nil
}

// parseLabelTree flattens the nested JSON object into parent-pointer specs.
// It walks the raw token stream instead of decoding into a map so that the
// file's key order survives into insertion order.
func parseLabelTree(data []byte) ([]store.LabelSpec, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := expectDelim(dec, '{'); err != nil {
		return nil, err
	}
	var specs []store.LabelSpec
	if err := parseLabelObject(dec, -1, &specs); err != nil {
		return nil, err
	}
	return specs, nil
}

// parseLabelObject consumes the members of an already-opened object, creating
// one spec per key, then consumes the closing brace.
func parseLabelObject(dec *json.Decoder, parentIdx int, specs *[]store.LabelSpec) error {
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("read label name: %w", err)
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("label name: expected string, got %v", keyTok)
		}
		name := Normalize(key)
		if name == "" {
			return fmt.Errorf("empty label name")
		}
		idx := len(*specs)
		*specs = append(*specs, store.LabelSpec{Name: name, ParentIdx: parentIdx})

		tok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("read value of %q: %w", key, err)
		}
		switch v := tok.(type) {
		case json.Delim:
			switch v {
			case '{':
				if err := parseLabelObject(dec, idx, specs); err != nil {
					return err
				}
			case '[':
				// A list value holds childless leaf names.
				for dec.More() {
					leafTok, err := dec.Token()
					if err != nil {
						return fmt.Errorf("read leaf of %q: %w", key, err)
					}
					leaf, ok := leafTok.(string)
					if !ok {
						return fmt.Errorf("leaf of %q: expected string, got %v", key, leafTok)
					}
					leafName := Normalize(leaf)
					if leafName == "" {
						return fmt.Errorf("empty leaf name under %q", key)
					}
					*specs = append(*specs, store.LabelSpec{Name: leafName, ParentIdx: idx})
				}
				if _, err := dec.Token(); err != nil {
					return fmt.Errorf("close leaf list of %q: %w", key, err)
				}
			default:
				return fmt.Errorf("value of %q: unexpected delimiter %v", key, v)
			}
		case nil:
			// null: leaf with no children
		case string:
			if v != "" {
				return fmt.Errorf("value of %q: unexpected string %q", key, v)
			}
		default:
			return fmt.Errorf("value of %q: unexpected token %v", key, tok)
		}
	}
	if _, err := dec.Token(); err != nil {
		return fmt.Errorf("close label object: %w", err)
	}
	return nil
}

// scaleEntry is one (label, scale title) group of the scale table, with its
// levels in file order.
type scaleEntry struct {
	LabelName string
	Title     string
	Levels    []string
}

// parseScaleTable walks {"Label": {"Title": ["level", ...]}} preserving file
// order, so scale ids remain stable across re-seeds of identical files.
func parseScaleTable(data []byte) ([]scaleEntry, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := expectDelim(dec, '{'); err != nil {
		return nil, err
	}
	var entries []scaleEntry
	for dec.More() {
		labelTok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("read scale label: %w", err)
		}
		labelName, ok := labelTok.(string)
		if !ok {
			return nil, fmt.Errorf("scale label: expected string, got %v", labelTok)
		}
		if err := expectDelim(dec, '{'); err != nil {
			return nil, fmt.Errorf("scales of %q: %w", labelName, err)
		}
		for dec.More() {
			titleTok, err := dec.Token()
			if err != nil {
				return nil, fmt.Errorf("read scale title of %q: %w", labelName, err)
			}
			title, ok := titleTok.(string)
			if !ok {
				return nil, fmt.Errorf("scale title of %q: expected string, got %v", labelName, titleTok)
			}
			var levels []string
			if err := dec.Decode(&levels); err != nil {
				return nil, fmt.Errorf("levels of %q/%q: %w", labelName, title, err)
			}
			entries = append(entries, scaleEntry{LabelName: labelName, Title: title, Levels: levels})
		}
		if _, err := dec.Token(); err != nil {
			return nil, fmt.Errorf("close scales of %q: %w", labelName, err)
		}
	}
	return entries, nil
}

func expectDelim(dec *json.Decoder, want json.Delim) error {
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("read token: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != want {
		return fmt.Errorf("expected %q, got %v", want, tok)
	}
	return nil
}
