package export

import (
	"codabook/api/internal/schema"
	"codabook/api/internal/store"
)

// Organize folds one annotation's associations into a record per top-level
// label of the tree, each split into its main and additional coding. Running
// it twice over the same inputs yields identical output.
func Organize(tree *schema.Tree, labels []store.AnnotatedLabel, scales []store.AnnotatedScale, comments []store.AnnotationComment, evidence []store.CitedEvent) []GroupRecord {
	groups := make([]GroupRecord, 0)
	for _, top := range tree.TopLevel() {
		rec := GroupRecord{Label: top.Label}
		rec.Main = organizeCoding(top, false, labels, scales, comments, evidence)
		rec.Additional = organizeCoding(top, true, labels, scales, comments, evidence)
		groups = append(groups, rec)
	}
	return groups
}

func organizeCoding(top store.Label, additional bool, labels []store.AnnotatedLabel, scales []store.AnnotatedScale, comments []store.AnnotationComment, evidence []store.CitedEvent) Coding {
	coding := Coding{
		Labels:   []string{},
		Scales:   []ScalePair{},
		Evidence: []int{},
		Comments: []string{},
	}

	// Walk the selection chain downwards. Exactly one child is selected per
	// level in practice; if several are, the lowest id wins since the
	// associations arrive sorted by label id.
	current := top.ID
	for {
		next, ok := childAssociation(labels, current, additional)
		if !ok {
			break
		}
		coding.Labels = append(coding.Labels, next.Label)
		current = next.ID
	}

	for _, as := range scales {
		if as.IsAdditional == additional && as.Scale.LabelID == top.ID {
			coding.Scales = append(coding.Scales, ScalePair{Title: as.Scale.ScaleTitle, Level: as.Scale.ScaleLevel})
		}
	}
	for _, ce := range evidence {
		if ce.Evidence.IsAdditional == additional && ce.Evidence.LabelID == top.ID {
			coding.Evidence = append(coding.Evidence, ce.EventN)
		}
	}
	for _, c := range comments {
		if c.IsAdditional == additional && c.LabelID == top.ID {
			coding.Comments = append(coding.Comments, c.Comment)
		}
	}
	return coding
}

func childAssociation(labels []store.AnnotatedLabel, parentID int64, additional bool) (store.Label, bool) {
	for _, al := range labels {
		if al.IsAdditional != additional {
			continue
		}
		if al.Label.ParentID != nil && *al.Label.ParentID == parentID {
			return al.Label, true
		}
	}
	return store.Label{}, false
}
