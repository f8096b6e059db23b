// Package schema holds the codebook engine: the per-perspective label
// taxonomy, its attached ordinal scales, and the loader that seeds both from
// researcher-edited JSON files.
package schema

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"go.uber.org/zap"

	"codabook/api/internal/store"
)

// ErrNotFound is returned when a label lookup matches nothing.
var ErrNotFound = errors.New("label not found")

// ErrInvalidArgument marks caller misuse, such as asking for the scales of a
// non-top-level label.
var ErrInvalidArgument = errors.New("invalid argument")

// Placeholder is the sentinel choice UI select fields use for "unselected".
// Submitted values equal to its ID are ignored by the assembler.
var Placeholder = Choice{ID: 0, Name: "Select one..."}

// Choice is one (id, display name) option of a select field.
type Choice struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Normalize trims a label name and capitalizes it (first rune upper, rest
// lower). Every name is normalized both on ingestion and on lookup, so
// matching is case and whitespace insensitive.
func Normalize(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	r, size := utf8.DecodeRuneInString(name)
	return string(unicode.ToUpper(r)) + strings.ToLower(name[size:])
}

// Tree is an immutable in-memory arena over one perspective's label rows and
// scale rows. All traversal is done with explicit child lists keyed by id, so
// query cost stays visible and there is no lazy loading behind the scenes.
type Tree struct {
	speaker  store.Speaker
	nodes    map[int64]store.Label
	children map[int64][]int64 // parent id -> child ids, ascending; key 0 holds the top level
	byName   map[string][]int64
	scales   map[int64][]store.Scale // top-level label id -> scale rows, by insertion id
	log      *zap.Logger
}

// NewTree builds the arena from the rows of one perspective.
func NewTree(speaker store.Speaker, labels []store.Label, scales []store.Scale, log *zap.Logger) *Tree {
	t := &Tree{
		speaker:  speaker,
		nodes:    make(map[int64]store.Label, len(labels)),
		children: make(map[int64][]int64),
		byName:   make(map[string][]int64),
		scales:   make(map[int64][]store.Scale),
		log:      log,
	}
	for _, label := range labels {
		t.nodes[label.ID] = label
		parent := int64(0)
		if label.ParentID != nil {
			parent = *label.ParentID
		}
		t.children[parent] = append(t.children[parent], label.ID)
		t.byName[Normalize(label.Label)] = append(t.byName[Normalize(label.Label)], label.ID)
	}
	for parent := range t.children {
		sort.Slice(t.children[parent], func(i, j int) bool { return t.children[parent][i] < t.children[parent][j] })
	}
	for name := range t.byName {
		sort.Slice(t.byName[name], func(i, j int) bool { return t.byName[name][i] < t.byName[name][j] })
	}
	for _, scale := range scales {
		t.scales[scale.LabelID] = append(t.scales[scale.LabelID], scale)
	}
	return t
}

// Speaker returns the perspective this tree belongs to.
func (t *Tree) Speaker() store.Speaker { return t.speaker }

// FindByID resolves a label by its numeric id.
func (t *Tree) FindByID(id int64) (store.Label, error) {
	label, ok := t.nodes[id]
	if !ok {
		return store.Label{}, fmt.Errorf("label id %d (%s): %w", id, t.speaker, ErrNotFound)
	}
	return label, nil
}

// Find resolves a label by normalized name. A non-empty parentName restricts
// the match to labels whose parent carries that name. When several labels
// share the name and no parent is given, the lowest-id match wins and a
// warning is logged.
func (t *Tree) Find(name, parentName string) (store.Label, error) {
	name = Normalize(name)
	candidates := t.byName[name]
	if parentName != "" {
		parentName = Normalize(parentName)
		filtered := candidates[:0:0]
		for _, id := range candidates {
			label := t.nodes[id]
			if label.ParentID == nil {
				continue
			}
			if parent, ok := t.nodes[*label.ParentID]; ok && Normalize(parent.Label) == parentName {
				filtered = append(filtered, id)
			}
		}
		candidates = filtered
	}
	if len(candidates) == 0 {
		return store.Label{}, fmt.Errorf("label %q (%s): %w", name, t.speaker, ErrNotFound)
	}
	if len(candidates) > 1 && parentName == "" {
		t.log.Warn("ambiguous label name, using lowest id",
			zap.String("label", name),
			zap.String("speaker", string(t.speaker)),
			zap.Int("matches", len(candidates)))
	}
	return t.nodes[candidates[0]], nil
}

// ChildrenOf returns the direct children of a label as choices sorted
// ascending by id. With placeholder set, the sentinel is prepended — but only
// when there are children at all.
func (t *Tree) ChildrenOf(labelID int64, placeholder bool) []Choice {
	ids := t.children[labelID]
	if len(ids) == 0 {
		return nil
	}
	choices := make([]Choice, 0, len(ids)+1)
	if placeholder {
		choices = append(choices, Placeholder)
	}
	for _, id := range ids {
		choices = append(choices, Choice{ID: id, Name: t.nodes[id].Label})
	}
	return choices
}

// TopLevel returns the parent labels (no parent of their own), ascending by id.
func (t *Tree) TopLevel() []store.Label {
	ids := t.children[0]
	labels := make([]store.Label, 0, len(ids))
	for _, id := range ids {
		labels = append(labels, t.nodes[id])
	}
	return labels
}

// ScaleTitles returns the sorted unique scale titles attached to a label.
func (t *Tree) ScaleTitles(labelID int64) []string {
	seen := make(map[string]struct{})
	var titles []string
	for _, scale := range t.scales[labelID] {
		if _, ok := seen[scale.ScaleTitle]; ok {
			continue
		}
		seen[scale.ScaleTitle] = struct{}{}
		titles = append(titles, scale.ScaleTitle)
	}
	sort.Strings(titles)
	return titles
}

// Scales returns the levels of one named scale of a top-level label, as
// choices in insertion order. Asking for a non-top-level label is caller
// misuse; an unknown title yields an empty list and a warning.
func (t *Tree) Scales(labelID int64, title string, placeholder bool) ([]Choice, error) {
	label, err := t.FindByID(labelID)
	if err != nil {
		return nil, err
	}
	if label.ParentID != nil {
		return nil, fmt.Errorf("scales of non-top-level label %q: %w", label.Label, ErrInvalidArgument)
	}
	var choices []Choice
	if placeholder {
		choices = append(choices, Placeholder)
	}
	found := false
	for _, scale := range t.scales[labelID] {
		if scale.ScaleTitle != title {
			continue
		}
		found = true
		choices = append(choices, Choice{ID: scale.ID, Name: scale.ScaleLevel})
	}
	if !found {
		t.log.Warn("no scales for title",
			zap.String("label", label.Label),
			zap.String("scale_title", title),
			zap.String("speaker", string(t.speaker)))
		return []Choice{}, nil
	}
	return choices, nil
}

// FindScale resolves a scale row attached to a top-level label by id. An id
// from another label's vocabulary, or another perspective's, matches nothing.
func (t *Tree) FindScale(labelID, scaleID int64) (store.Scale, error) {
	for _, scale := range t.scales[labelID] {
		if scale.ID == scaleID {
			return scale, nil
		}
	}
	return store.Scale{}, fmt.Errorf("scale id %d of label %d (%s): %w", scaleID, labelID, t.speaker, ErrNotFound)
}

// Depth returns the maximum number of edges from the label down to any
// descendant leaf; 0 for a leaf. The traversal keeps an explicit stack, so a
// malformed or unusually deep tree cannot blow the call stack.
func (t *Tree) Depth(labelID int64) int {
	type frame struct {
		id    int64
		depth int
	}
	deepest := 0
	stack := []frame{{id: labelID, depth: 0}}
	for len(stack) > 0 {
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if top.depth > deepest {
			deepest = top.depth
		}
		for _, child := range t.children[top.id] {
			stack = append(stack, frame{id: child, depth: top.depth + 1})
		}
	}
	return deepest
}

// LeafDescendants returns the descendants of a label that have no children of
// their own, ascending by id.
func (t *Tree) LeafDescendants(labelID int64) []store.Label {
	var leaves []store.Label
	stack := append([]int64(nil), t.children[labelID]...)
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if len(t.children[id]) == 0 {
			leaves = append(leaves, t.nodes[id])
			continue
		}
		stack = append(stack, t.children[id]...)
	}
	sort.Slice(leaves, func(i, j int) bool { return leaves[i].ID < leaves[j].ID })
	return leaves
}
