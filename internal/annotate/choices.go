package annotate

import (
	"strconv"
	"strings"

	"codabook/api/internal/schema"
	"codabook/api/internal/store"
)

// CascadePlaceholder is the initial choice of every cascaded sub-select. The
// real options arrive later through the children endpoint, once the level
// above has a selection.
var CascadePlaceholder = schema.Choice{ID: 0, Name: ""}

// GroupChoices is the fully populated render model of one field group.
type GroupChoices struct {
	Letter     string            `json:"letter"`
	LabelName  string            `json:"label_name"`
	LabelID    int64             `json:"label_id"`
	EventRange bool              `json:"event_range"`
	// Fields maps each form field name of the group to its choice list.
	Fields map[string][]schema.Choice `json:"fields"`
	// ScaleTitles holds, in field order, the title behind scale_<letter>_<n>.
	ScaleTitles []string `json:"scale_titles"`
	// SubLevels is how many cascaded sub_label fields the group renders.
	SubLevels int `json:"sub_levels"`
}

// PopulateChoices builds the choice lists of every field group of the tree's
// perspective. Evidence and event-range selectors offer only the events voiced
// by that perspective's speaker; the dyad sees them all.
func PopulateChoices(tree *schema.Tree, events []store.DialogEvent) []GroupChoices {
	eventChoices := EventChoices(tree.Speaker(), events)
	groups := Groups(tree.Speaker())
	out := make([]GroupChoices, 0, len(groups))
	for _, g := range groups {
		parent, err := tree.Find(g.LabelName, "")
		if err != nil {
			continue
		}
		gc := GroupChoices{
			Letter:     g.Letter,
			LabelName:  parent.Label,
			LabelID:    parent.ID,
			EventRange: g.EventRange,
			Fields:     make(map[string][]schema.Choice),
		}
		gc.SubLevels = tree.Depth(parent.ID) - 1
		if gc.SubLevels < 0 {
			gc.SubLevels = 0
		}
		gc.ScaleTitles = tree.ScaleTitles(parent.ID)

		for _, suffix := range []string{"", "_add"} {
			gc.Fields[g.LabelField(suffix)] = tree.ChildrenOf(parent.ID, true)
			for n := 1; n <= gc.SubLevels; n++ {
				gc.Fields[g.SubLabelField(n, suffix)] = []schema.Choice{CascadePlaceholder}
			}
			for n, title := range gc.ScaleTitles {
				choices, err := tree.Scales(parent.ID, title, true)
				if err != nil {
					continue
				}
				gc.Fields[g.ScaleField(n+1, suffix)] = choices
			}
			if g.EventRange {
				continue
			}
			gc.Fields[g.EvidenceField(suffix)] = eventChoices
		}
		if g.EventRange {
			gc.Fields[g.StartEventField()] = eventChoices
			gc.Fields[g.EndEventField()] = eventChoices
		}
		out = append(out, gc)
	}
	return out
}

// EventChoices lists the selectable dialog events of a perspective, keeping
// the order the events were given in. The display name is the event's
// sequence number within the transcript.
func EventChoices(speaker store.Speaker, events []store.DialogEvent) []schema.Choice {
	choices := make([]schema.Choice, 0, len(events))
	for _, ev := range events {
		if !speakerMatches(speaker, ev.Speaker) {
			continue
		}
		choices = append(choices, schema.Choice{ID: ev.ID, Name: strconv.Itoa(ev.EventN)})
	}
	return choices
}

func speakerMatches(speaker store.Speaker, eventSpeaker string) bool {
	if speaker == store.SpeakerDyad {
		return true
	}
	return strings.EqualFold(string(speaker), eventSpeaker)
}
