package annotate

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"codabook/api/internal/schema"
	"codabook/api/internal/store"
)

// MaxCommentLen bounds every free-text comment on the form.
const MaxCommentLen = 200

// otherSentinel is the selection that makes the paired comment mandatory.
const otherSentinel = "Other"

// AnnotationStore is the slice of the data store the assembler writes through.
type AnnotationStore interface {
	SaveAnnotation(ctx context.Context, ann store.Annotation, labels []store.LabelAssociation, scales []store.ScaleAssociation, comments []store.AnnotationComment, evidence []store.Evidence) (store.Annotation, error)
}

// FieldError reports one rejected form field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError carries every field rejection of one submission.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, fmt.Sprintf("%s: %s", f.Field, f.Message))
	}
	return "invalid annotation: " + strings.Join(parts, "; ")
}

// Validate checks a submission against the form rules without touching the
// database. A comment becomes mandatory exactly when its paired selector
// carries the "other" sentinel, comments are length-bounded, and an event
// range must be complete and ordered.
func Validate(tree *schema.Tree, form url.Values) []FieldError {
	var errs []FieldError
	for _, g := range Groups(tree.Speaker()) {
		for _, suffix := range []string{"", "_add"} {
			if selectionIsOther(tree, form.Get(g.LabelField(suffix))) &&
				strings.TrimSpace(form.Get(g.CommentField(suffix))) == "" {
				errs = append(errs, FieldError{
					Field:   g.CommentField(suffix),
					Message: "comment is required when \"other\" is selected",
				})
			}
			if comment := form.Get(g.CommentField(suffix)); len(comment) > MaxCommentLen {
				errs = append(errs, FieldError{
					Field:   g.CommentField(suffix),
					Message: fmt.Sprintf("comment exceeds %d characters", MaxCommentLen),
				})
			}
		}
		if !g.EventRange {
			continue
		}
		start, startSet := parseEventID(form.Get(g.StartEventField()))
		end, endSet := parseEventID(form.Get(g.EndEventField()))
		switch {
		case startSet != endSet:
			field := g.StartEventField()
			if startSet {
				field = g.EndEventField()
			}
			errs = append(errs, FieldError{Field: field, Message: "both ends of the event range must be selected"})
		case startSet && end < start:
			errs = append(errs, FieldError{Field: g.EndEventField(), Message: "event range end precedes its start"})
		}
	}
	if summary := form.Get(SummaryField); len(summary) > MaxCommentLen {
		errs = append(errs, FieldError{
			Field:   SummaryField,
			Message: fmt.Sprintf("comment exceeds %d characters", MaxCommentLen),
		})
	}
	return errs
}

// Submit validates a submission, resolves its selections against the tree and
// persists a fresh annotation instance covering turnIDs. Earlier submissions
// for the same window are never touched; the newest instance wins on read.
// events are the page's dialog events: evidence may cite only those voiced by
// the tree's perspective, exactly the choices the form offered.
func Submit(ctx context.Context, st AnnotationStore, tree *schema.Tree, form url.Values, datasetID, authorID int64, turnIDs []int64, events []store.DialogEvent) (store.Annotation, error) {
	if errs := Validate(tree, form); len(errs) > 0 {
		return store.Annotation{}, &ValidationError{Fields: errs}
	}

	eligible := make(map[int64]struct{})
	for _, choice := range EventChoices(tree.Speaker(), events) {
		eligible[choice.ID] = struct{}{}
	}

	ann := store.Annotation{
		Speaker:        tree.Speaker(),
		DatasetID:      datasetID,
		AuthorID:       authorID,
		CommentSummary: strings.TrimSpace(form.Get(SummaryField)),
		TurnIDs:        turnIDs,
	}
	var (
		labels   []store.LabelAssociation
		scales   []store.ScaleAssociation
		comments []store.AnnotationComment
		evidence []store.Evidence
	)

	for _, g := range Groups(tree.Speaker()) {
		parent, err := tree.Find(g.LabelName, "")
		if err != nil {
			return store.Annotation{}, fmt.Errorf("group %s: %w", g.Letter, err)
		}
		subLevels := tree.Depth(parent.ID) - 1

		for _, suffix := range []string{"", "_add"} {
			isAdd := suffix == "_add"

			selectors := []string{g.LabelField(suffix)}
			for n := 1; n <= subLevels; n++ {
				selectors = append(selectors, g.SubLabelField(n, suffix))
			}
			for _, field := range selectors {
				label, selected, err := resolveSelection(tree, form.Get(field))
				if err != nil {
					return store.Annotation{}, fmt.Errorf("field %s: %w", field, err)
				}
				if !selected {
					continue
				}
				labels = append(labels, store.LabelAssociation{LabelID: label.ID, IsAdditional: isAdd})
			}

			for n := range tree.ScaleTitles(parent.ID) {
				field := g.ScaleField(n+1, suffix)
				id, set := parseEventID(form.Get(field))
				if !set {
					continue
				}
				if _, err := tree.FindScale(parent.ID, id); err != nil {
					return store.Annotation{}, fmt.Errorf("field %s: %w", field, err)
				}
				scales = append(scales, store.ScaleAssociation{ScaleID: id, IsAdditional: isAdd})
			}

			if comment := strings.TrimSpace(form.Get(g.CommentField(suffix))); comment != "" {
				comments = append(comments, store.AnnotationComment{
					LabelID:      parent.ID,
					Comment:      comment,
					IsAdditional: isAdd,
				})
			}

			if !g.EventRange {
				for _, raw := range form[g.EvidenceField(suffix)] {
					id, set := parseEventID(raw)
					if !set {
						continue
					}
					if _, ok := eligible[id]; !ok {
						return store.Annotation{}, fmt.Errorf("field %s: dialog event %d not on this page: %w",
							g.EvidenceField(suffix), id, schema.ErrNotFound)
					}
					evidence = append(evidence, store.Evidence{
						LabelID:       parent.ID,
						DialogEventID: id,
						IsAdditional:  isAdd,
					})
				}
			}
		}

		if g.EventRange {
			start, startSet := parseEventID(form.Get(g.StartEventField()))
			end, _ := parseEventID(form.Get(g.EndEventField()))
			if startSet {
				for id := start; id <= end; id++ {
					evidence = append(evidence, store.Evidence{
						LabelID:       parent.ID,
						DialogEventID: id,
					})
				}
			}
		}
	}

	saved, err := st.SaveAnnotation(ctx, ann, labels, scales, comments, evidence)
	if err != nil {
		return store.Annotation{}, fmt.Errorf("save annotation: %w", err)
	}
	return saved, nil
}

// resolveSelection turns one selector value into a tree label. Empty values
// and the placeholder id are no selection; numeric values must name a label
// of this tree; anything else is tried as a label name.
func resolveSelection(tree *schema.Tree, value string) (store.Label, bool, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return store.Label{}, false, nil
	}
	if id, err := strconv.ParseInt(value, 10, 64); err == nil {
		if id == schema.Placeholder.ID {
			return store.Label{}, false, nil
		}
		label, err := tree.FindByID(id)
		if err != nil {
			return store.Label{}, false, err
		}
		return label, true, nil
	}
	label, err := tree.Find(value, "")
	if err != nil {
		return store.Label{}, false, err
	}
	return label, true, nil
}

// selectionIsOther reports whether a selector value names the "Other" label,
// either literally or through its id.
func selectionIsOther(tree *schema.Tree, value string) bool {
	value = strings.TrimSpace(value)
	if value == "" {
		return false
	}
	if strings.EqualFold(value, otherSentinel) {
		return true
	}
	if id, err := strconv.ParseInt(value, 10, 64); err == nil && id != schema.Placeholder.ID {
		if label, err := tree.FindByID(id); err == nil {
			return strings.EqualFold(schema.Normalize(label.Label), otherSentinel)
		}
	}
	return false
}

// parseEventID parses a numeric select value, treating empty strings and the
// placeholder id as no selection.
func parseEventID(raw string) (int64, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return id, true
}
