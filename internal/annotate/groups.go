// Package annotate binds submitted annotation forms to the codebook: it
// populates the dynamic choices of the per-label field groups, validates a
// submission, and assembles the persisted annotation instance.
package annotate

import (
	"fmt"

	"codabook/api/internal/store"
)

// FieldGroup statically declares one top-level label group of the annotation
// form. The field names derived from the letter are an external contract with
// the rendering layer and must not change shape:
//
//	label_<letter>[_add], sub_label_<letter>_<n>[_add],
//	scale_<letter>_<n>[_add], comment_<letter>[_add],
//	evidence_<letter>[_add], start_event_<letter> / end_event_<letter>
type FieldGroup struct {
	Letter    string
	LabelName string
	// EventRange groups cite a contiguous inclusive run of events between a
	// start and an end selection instead of an arbitrary multi-select.
	EventRange bool
}

// Group field name helpers. suffix is "" for the main coding and "_add" for
// the additional one.

func (g FieldGroup) LabelField(suffix string) string { return fmt.Sprintf("label_%s%s", g.Letter, suffix) }

func (g FieldGroup) SubLabelField(n int, suffix string) string {
	return fmt.Sprintf("sub_label_%s_%d%s", g.Letter, n, suffix)
}

func (g FieldGroup) ScaleField(n int, suffix string) string {
	return fmt.Sprintf("scale_%s_%d%s", g.Letter, n, suffix)
}

func (g FieldGroup) CommentField(suffix string) string {
	return fmt.Sprintf("comment_%s%s", g.Letter, suffix)
}

func (g FieldGroup) EvidenceField(suffix string) string {
	return fmt.Sprintf("evidence_%s%s", g.Letter, suffix)
}

func (g FieldGroup) StartEventField() string { return fmt.Sprintf("start_event_%s", g.Letter) }
func (g FieldGroup) EndEventField() string   { return fmt.Sprintf("end_event_%s", g.Letter) }

// SummaryField is the free-text summary of the whole page.
const SummaryField = "comment_summary"

var clientGroups = []FieldGroup{
	{Letter: "a", LabelName: "Need"},
	{Letter: "b", LabelName: "Response of other"},
	{Letter: "c", LabelName: "Response of self"},
	{Letter: "d", LabelName: "Emotional experience and regulation"},
	{Letter: "e", LabelName: "Insight"},
	{Letter: "f", LabelName: "Moment of change", EventRange: true},
}

var therapistGroups = []FieldGroup{
	{Letter: "a", LabelName: "Supportive"},
	{Letter: "b", LabelName: "Expressive"},
	{Letter: "c", LabelName: "Exploratory"},
	{Letter: "d", LabelName: "Directive"},
	{Letter: "e", LabelName: "General helpfulness"},
}

var dyadGroups = []FieldGroup{
	{Letter: "a", LabelName: "Alliance/reciprocity"},
	{Letter: "b", LabelName: "Tension"},
}

// Groups returns the declared field groups of a perspective. The list is the
// single source of truth for which label groups exist on a form; nothing is
// discovered by scanning field names at runtime.
func Groups(speaker store.Speaker) []FieldGroup {
	switch speaker {
	case store.SpeakerClient:
		return clientGroups
	case store.SpeakerTherapist:
		return therapistGroups
	case store.SpeakerDyad:
		return dyadGroups
	}
	return nil
}
