package schema

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"codabook/api/internal/store"
)

func ptr(id int64) *int64 { return &id }

// clientTree mirrors a small client codebook:
//
//	Need            -> Attachment, Identity, Other
//	Response of other -> Other
//	Moment of change  (leaf)
func clientTree() *Tree {
	labels := []store.Label{
		{ID: 1, Speaker: store.SpeakerClient, Label: "Need"},
		{ID: 2, Speaker: store.SpeakerClient, Label: "Attachment", ParentID: ptr(1)},
		{ID: 3, Speaker: store.SpeakerClient, Label: "Identity", ParentID: ptr(1)},
		{ID: 4, Speaker: store.SpeakerClient, Label: "Other", ParentID: ptr(1)},
		{ID: 5, Speaker: store.SpeakerClient, Label: "Response of other"},
		{ID: 6, Speaker: store.SpeakerClient, Label: "Other", ParentID: ptr(5)},
		{ID: 7, Speaker: store.SpeakerClient, Label: "Moment of change"},
	}
	scales := []store.Scale{
		{ID: 11, Speaker: store.SpeakerClient, ScaleTitle: "Strength", ScaleLevel: "1. highly maladaptive", LabelID: 1},
		{ID: 12, Speaker: store.SpeakerClient, ScaleTitle: "Strength", ScaleLevel: "5. highly adaptive", LabelID: 1},
		{ID: 13, Speaker: store.SpeakerClient, ScaleTitle: "Clarity", ScaleLevel: "1. unclear", LabelID: 1},
	}
	return NewTree(store.SpeakerClient, labels, scales, zap.NewNop())
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "Need", Normalize("  need "))
	assert.Equal(t, "Response of other", Normalize("RESPONSE OF OTHER"))
	assert.Equal(t, "", Normalize("   "))
}

func TestFindByName(t *testing.T) {
	tree := clientTree()

	label, err := tree.Find("  nEEd ", "")
	require.NoError(t, err)
	assert.Equal(t, int64(1), label.ID)

	_, err = tree.Find("Wish", "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFindAmbiguousPicksLowestID(t *testing.T) {
	tree := clientTree()

	// Two labels are named "Other"; without disambiguation the lowest id wins.
	label, err := tree.Find("other", "")
	require.NoError(t, err)
	assert.Equal(t, int64(4), label.ID)

	label, err = tree.Find("other", "Response of other")
	require.NoError(t, err)
	assert.Equal(t, int64(6), label.ID)

	_, err = tree.Find("other", "Moment of change")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFindByID(t *testing.T) {
	tree := clientTree()

	label, err := tree.FindByID(5)
	require.NoError(t, err)
	assert.Equal(t, "Response of other", label.Label)

	_, err = tree.FindByID(99)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestChildrenOf(t *testing.T) {
	tree := clientTree()

	choices := tree.ChildrenOf(1, true)
	require.Len(t, choices, 4)
	assert.Equal(t, Placeholder, choices[0])
	assert.Equal(t, []Choice{
		{ID: 2, Name: "Attachment"},
		{ID: 3, Name: "Identity"},
		{ID: 4, Name: "Other"},
	}, choices[1:])

	// Without the placeholder only the children themselves come back.
	assert.Len(t, tree.ChildrenOf(1, false), 3)

	// A leaf has no children, so no placeholder either.
	assert.Empty(t, tree.ChildrenOf(7, true))
}

func TestTopLevel(t *testing.T) {
	tree := clientTree()

	top := tree.TopLevel()
	require.Len(t, top, 3)
	assert.Equal(t, "Need", top[0].Label)
	assert.Equal(t, "Response of other", top[1].Label)
	assert.Equal(t, "Moment of change", top[2].Label)
}

func TestDepth(t *testing.T) {
	labels := []store.Label{
		{ID: 1, Label: "A"},
		{ID: 2, Label: "B", ParentID: ptr(1)},
		{ID: 3, Label: "C", ParentID: ptr(2)},
		{ID: 4, Label: "D", ParentID: ptr(2)},
		{ID: 5, Label: "E"},
	}
	tree := NewTree(store.SpeakerDyad, labels, nil, zap.NewNop())

	assert.Equal(t, 2, tree.Depth(1))
	assert.Equal(t, 1, tree.Depth(2))
	// A leaf top-level label has depth 0.
	assert.Equal(t, 0, tree.Depth(5))
}

func TestLeafDescendants(t *testing.T) {
	tree := clientTree()

	leaves := tree.LeafDescendants(1)
	require.Len(t, leaves, 3)
	assert.Equal(t, int64(2), leaves[0].ID)
	assert.Equal(t, int64(4), leaves[2].ID)

	assert.Empty(t, tree.LeafDescendants(7))
}

func TestScaleTitles(t *testing.T) {
	tree := clientTree()

	assert.Equal(t, []string{"Clarity", "Strength"}, tree.ScaleTitles(1))
	assert.Empty(t, tree.ScaleTitles(5))
}

func TestScales(t *testing.T) {
	tree := clientTree()

	choices, err := tree.Scales(1, "Strength", true)
	require.NoError(t, err)
	require.Len(t, choices, 3)
	assert.Equal(t, Placeholder, choices[0])
	assert.Equal(t, "1. highly maladaptive", choices[1].Name)
	assert.Equal(t, "5. highly adaptive", choices[2].Name)

	// Unknown title: empty but non-nil result, logged warning, no error. The
	// field must serialize as an empty list, never JSON null.
	choices, err = tree.Scales(1, "Tension", true)
	require.NoError(t, err)
	require.NotNil(t, choices)
	assert.Empty(t, choices)

	// Scales hang off top-level labels only.
	_, err = tree.Scales(2, "Strength", true)
	assert.True(t, errors.Is(err, ErrInvalidArgument))
}

func TestFindScale(t *testing.T) {
	tree := clientTree()

	scale, err := tree.FindScale(1, 12)
	require.NoError(t, err)
	assert.Equal(t, "5. highly adaptive", scale.ScaleLevel)

	// An id that exists nowhere.
	_, err = tree.FindScale(1, 99)
	assert.ErrorIs(t, err, ErrNotFound)

	// A real scale id hanging off a different top-level label resolves only
	// under its own label.
	_, err = tree.FindScale(5, 12)
	assert.ErrorIs(t, err, ErrNotFound)
}
