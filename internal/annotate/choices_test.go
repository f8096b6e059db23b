package annotate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"codabook/api/internal/schema"
	"codabook/api/internal/store"
)

func sessionEvents() []store.DialogEvent {
	return []store.DialogEvent{
		{ID: 10, EventN: 1, Speaker: "client"},
		{ID: 11, EventN: 2, Speaker: "therapist"},
		{ID: 12, EventN: 3, Speaker: "Client"},
	}
}

func TestEventChoicesFiltersBySpeaker(t *testing.T) {
	events := sessionEvents()

	assert.Equal(t, []schema.Choice{
		{ID: 10, Name: "1"},
		{ID: 12, Name: "3"},
	}, EventChoices(store.SpeakerClient, events))

	assert.Equal(t, []schema.Choice{
		{ID: 11, Name: "2"},
	}, EventChoices(store.SpeakerTherapist, events))

	assert.Len(t, EventChoices(store.SpeakerDyad, events), 3)
}

func TestPopulateChoices(t *testing.T) {
	tree := dyadTree()
	groups := PopulateChoices(tree, sessionEvents())
	require.Len(t, groups, 2)

	alliance := groups[0]
	assert.Equal(t, "a", alliance.Letter)
	assert.Equal(t, int64(1), alliance.LabelID)
	assert.Equal(t, 0, alliance.SubLevels)

	// Direct-child selectors open with the placeholder sentinel.
	assert.Equal(t, []schema.Choice{
		schema.Placeholder,
		{ID: 2, Name: "Reciprocal"},
		{ID: 3, Name: "Other"},
	}, alliance.Fields["label_a"])
	assert.Equal(t, alliance.Fields["label_a"], alliance.Fields["label_a_add"])

	require.Equal(t, []string{"Strength"}, alliance.ScaleTitles)
	assert.Equal(t, []schema.Choice{
		schema.Placeholder,
		{ID: 21, Name: "1. low"},
		{ID: 22, Name: "2. high"},
	}, alliance.Fields["scale_a_1"])

	// The dyad cites events from both voices.
	assert.Len(t, alliance.Fields["evidence_a"], 3)

	// A childless group still renders, with no selectable children.
	tension := groups[1]
	assert.Equal(t, "b", tension.Letter)
	assert.Empty(t, tension.Fields["label_b"])
}

func TestPopulateChoicesEventRange(t *testing.T) {
	tree := clientTree()
	groups := PopulateChoices(tree, sessionEvents())
	require.Len(t, groups, 6)

	moc := groups[5]
	require.True(t, moc.EventRange)
	assert.NotContains(t, moc.Fields, "evidence_f")
	assert.Equal(t, []schema.Choice{
		{ID: 10, Name: "1"},
		{ID: 12, Name: "3"},
	}, moc.Fields["start_event_f"])
	assert.Equal(t, moc.Fields["start_event_f"], moc.Fields["end_event_f"])
}

func TestPopulateChoicesCascadedSubSelects(t *testing.T) {
	labels := []store.Label{
		{ID: 1, Speaker: store.SpeakerClient, Label: "Need"},
		{ID: 2, Speaker: store.SpeakerClient, Label: "Attachment", ParentID: ptr(1)},
		{ID: 3, Speaker: store.SpeakerClient, Label: "Closeness", ParentID: ptr(2)},
		{ID: 4, Speaker: store.SpeakerClient, Label: "Response of other"},
		{ID: 5, Speaker: store.SpeakerClient, Label: "Response of self"},
		{ID: 6, Speaker: store.SpeakerClient, Label: "Emotional experience and regulation"},
		{ID: 7, Speaker: store.SpeakerClient, Label: "Insight"},
		{ID: 8, Speaker: store.SpeakerClient, Label: "Moment of change"},
	}
	tree := schema.NewTree(store.SpeakerClient, labels, nil, zap.NewNop())
	groups := PopulateChoices(tree, nil)
	require.NotEmpty(t, groups)

	need := groups[0]
	assert.Equal(t, 1, need.SubLevels)
	// Deeper levels start with only the bare placeholder; real options come
	// from the children endpoint once the level above has a selection.
	assert.Equal(t, []schema.Choice{CascadePlaceholder}, need.Fields["sub_label_a_1"])
}
