package segment

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codabook/api/internal/store"
)

func turnAt(id int64, hour, min, sec int) store.DialogTurn {
	return store.DialogTurn{
		ID:        id,
		TurnN:     int(id),
		Timestamp: time.Date(0, time.January, 1, hour, min, sec, 0, time.UTC),
	}
}

func TestSplit(t *testing.T) {
	turns := []store.DialogTurn{
		turnAt(1, 0, 0, 10),
		turnAt(2, 0, 2, 20),
		turnAt(3, 0, 4, 40),
		turnAt(4, 0, 5, 30),
		turnAt(5, 0, 10, 0),
		turnAt(6, 0, 15, 30),
		turnAt(7, 0, 22, 10),
		turnAt(8, 0, 23, 40),
	}

	segments, err := Split(turns, 300*time.Second)
	require.NoError(t, err)
	require.Len(t, segments, 4)
	assert.Equal(t, []store.DialogTurn{turns[0], turns[1], turns[2]}, segments[0])
	assert.Equal(t, []store.DialogTurn{turns[3], turns[4]}, segments[1])
	assert.Equal(t, []store.DialogTurn{turns[5]}, segments[2])
	assert.Equal(t, []store.DialogTurn{turns[6], turns[7]}, segments[3])
}

func TestSplitWindowInvariant(t *testing.T) {
	turns := []store.DialogTurn{
		turnAt(1, 9, 0, 0),
		turnAt(2, 9, 3, 0),
		turnAt(3, 9, 4, 59),
		turnAt(4, 9, 5, 0), // exactly the window length away: new window
		turnAt(5, 9, 9, 59),
	}

	segments, err := Split(turns, 5*time.Minute)
	require.NoError(t, err)
	require.Len(t, segments, 2)

	for _, seg := range segments {
		first := seg[0].Timestamp
		for _, turn := range seg {
			assert.Less(t, turn.Timestamp.Sub(first), 5*time.Minute)
		}
	}
}

func TestSplitSingleTurn(t *testing.T) {
	segments, err := Split([]store.DialogTurn{turnAt(1, 10, 0, 0)}, time.Minute)
	require.NoError(t, err)
	require.Len(t, segments, 1)
	assert.Len(t, segments[0], 1)
}

func TestSplitEmptyFails(t *testing.T) {
	_, err := Split(nil, 5*time.Minute)
	assert.ErrorIs(t, err, ErrNoTurns)
}

func TestEventsFromSegments(t *testing.T) {
	segments := [][]store.DialogTurn{
		{turnAt(1, 0, 0, 0), turnAt(2, 0, 1, 0)},
		{turnAt(3, 0, 6, 0)},
	}
	eventsByTurn := map[int64][]store.DialogEvent{
		1: {{ID: 10, DialogTurnID: 1, EventN: 1}, {ID: 11, DialogTurnID: 1, EventN: 2}},
		2: {{ID: 12, DialogTurnID: 2, EventN: 3}},
		3: {{ID: 13, DialogTurnID: 3, EventN: 4}},
	}

	expanded := EventsFromSegments(segments, eventsByTurn)
	require.Len(t, expanded, 2)
	require.Len(t, expanded[0], 3)
	assert.Equal(t, 1, expanded[0][0].EventN)
	assert.Equal(t, 3, expanded[0][2].EventN)
	require.Len(t, expanded[1], 1)
	assert.Equal(t, 4, expanded[1][0].EventN)
}

func TestPageOf(t *testing.T) {
	segments := [][]int{{1, 2}, {3}, {4, 5}}

	page, err := PageOf(segments, 1)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, page.Items)
	assert.True(t, page.IsFirst)
	assert.False(t, page.HasPrev)
	assert.True(t, page.HasNext)
	assert.Equal(t, 3, page.TotalPages)

	page, err = PageOf(segments, 3)
	require.NoError(t, err)
	assert.True(t, page.IsLast)
	assert.True(t, page.HasPrev)
	assert.False(t, page.HasNext)

	_, err = PageOf(segments, 0)
	assert.ErrorIs(t, err, ErrPageOutOfRange)
	_, err = PageOf(segments, 4)
	assert.ErrorIs(t, err, ErrPageOutOfRange)
}
