// Package segment partitions a time-ordered transcript into the fixed-length
// windows (pages) an annotator works through one at a time.
package segment

import (
	"errors"
	"fmt"
	"time"

	"codabook/api/internal/store"
)

// ErrNoTurns is returned when Split is called with nothing to split. Callers
// must check for an empty transcript before paging.
var ErrNoTurns = errors.New("no dialog turns to segment")

// ErrPageOutOfRange is returned for a page number outside [1, TotalPages].
var ErrPageOutOfRange = errors.New("page out of range")

// Split greedily partitions the turns into contiguous windows. A turn joins
// the current window while its offset from the window's *first* turn is
// strictly less than the window length; otherwise it starts a new window.
// The turns must already be sorted by timestamp ascending.
//
// Only the time of day of each timestamp is meaningful, so all timestamps are
// anchored to one common date before subtracting. Note the gap is measured
// against the window's first element, not the previous turn: a slow drift of
// closely spaced turns never extends a window past the window length.
func Split(turns []store.DialogTurn, window time.Duration) ([][]store.DialogTurn, error) {
	if len(turns) == 0 {
		return nil, ErrNoTurns
	}
	var segments [][]store.DialogTurn
	current := []store.DialogTurn{turns[0]}
	start := timeOfDay(turns[0].Timestamp)
	for _, turn := range turns[1:] {
		if timeOfDay(turn.Timestamp)-start < window {
			current = append(current, turn)
			continue
		}
		segments = append(segments, current)
		current = []store.DialogTurn{turn}
		start = timeOfDay(turn.Timestamp)
	}
	return append(segments, current), nil
}

// timeOfDay anchors a timestamp to an arbitrary common date by reducing it to
// its clock offset from midnight.
func timeOfDay(t time.Time) time.Duration {
	return time.Duration(t.Hour())*time.Hour +
		time.Duration(t.Minute())*time.Minute +
		time.Duration(t.Second())*time.Second
}

// EventsFromSegments expands each segment into the concatenation, in turn
// order, of its turns' speech events. eventsByTurn groups each turn's events
// already ordered by event number.
func EventsFromSegments(segments [][]store.DialogTurn, eventsByTurn map[int64][]store.DialogEvent) [][]store.DialogEvent {
	expanded := make([][]store.DialogEvent, len(segments))
	for i, seg := range segments {
		for _, turn := range seg {
			expanded[i] = append(expanded[i], eventsByTurn[turn.ID]...)
		}
	}
	return expanded
}

// Page describes one window of a segmented transcript along with the pager
// state the annotation view needs.
type Page[T any] struct {
	Items      []T
	Number     int
	TotalPages int
	HasPrev    bool
	HasNext    bool
	IsFirst    bool
	IsLast     bool
}

// PageOf selects the n-th (1-based) segment. A page maps 1:1 to a segment;
// numbers outside the range are a caller error, never clamped.
func PageOf[T any](segments [][]T, number int) (Page[T], error) {
	if number < 1 || number > len(segments) {
		return Page[T]{}, fmt.Errorf("page %d of %d: %w", number, len(segments), ErrPageOutOfRange)
	}
	return Page[T]{
		Items:      segments[number-1],
		Number:     number,
		TotalPages: len(segments),
		HasPrev:    number > 1,
		HasNext:    number < len(segments),
		IsFirst:    number == 1,
		IsLast:     number == len(segments),
	}, nil
}
