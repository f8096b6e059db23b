package ingest

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"codabook/api/internal/store"
)

// transcriptSheet builds an in-memory spreadsheet in the upload layout.
func transcriptSheet(t *testing.T, rows [][]interface{}) *bytes.Buffer {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow("Sheet1", cell, &row))
	}
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	return buf
}

func sessionSheet(t *testing.T) *bytes.Buffer {
	return transcriptSheet(t, [][]interface{}{
		{"dialog_turn_main_speaker", "event_speaker", "event_plaintext"},
		{"Timestamp", "", "00:01:30"},
		{"client", "client", "I keep going back to it."},
		{"client", "therapist", "Mm."},
		{"Timestamp", "", "00: 03: 10"},
		{"therapist", "therapist", "What pulls you back?"},
	})
}

func TestParseTranscript(t *testing.T) {
	turns, events, err := ParseTranscript(sessionSheet(t))
	require.NoError(t, err)
	require.Len(t, turns, 2)
	require.Len(t, events, 2)

	assert.Equal(t, 0, turns[0].TurnN)
	assert.Equal(t, "client", turns[0].MainSpeaker)
	assert.Equal(t, "00:01:30", turns[0].Timestamp.Format("15:04:05"))

	// Spaces inside the clock cell are tolerated.
	assert.Equal(t, "00:03:10", turns[1].Timestamp.Format("15:04:05"))
	assert.Equal(t, "therapist", turns[1].MainSpeaker)

	// Events are numbered across the whole upload.
	require.Len(t, events[0], 2)
	assert.Equal(t, 0, events[0][0].EventN)
	assert.Equal(t, "client", events[0][0].Speaker)
	assert.Equal(t, "I keep going back to it.", events[0][0].Plaintext)
	assert.Equal(t, 1, events[0][1].EventN)
	require.Len(t, events[1], 1)
	assert.Equal(t, 2, events[1][0].EventN)
}

func TestParseTranscriptMalformed(t *testing.T) {
	cases := map[string][][]interface{}{
		"missing column": {
			{"dialog_turn_main_speaker", "event_plaintext"},
			{"Timestamp", "00:01:30"},
		},
		"data before first marker": {
			{"dialog_turn_main_speaker", "event_speaker", "event_plaintext"},
			{"client", "client", "hello"},
		},
		"bad clock": {
			{"dialog_turn_main_speaker", "event_speaker", "event_plaintext"},
			{"Timestamp", "", "one thirty"},
			{"client", "client", "hello"},
		},
		"turn without events": {
			{"dialog_turn_main_speaker", "event_speaker", "event_plaintext"},
			{"Timestamp", "", "00:01:30"},
		},
	}
	for name, rows := range cases {
		t.Run(name, func(t *testing.T) {
			_, _, err := ParseTranscript(transcriptSheet(t, rows))
			assert.ErrorIs(t, err, ErrMalformed)
		})
	}

	_, _, err := ParseTranscript(strings.NewReader("not a spreadsheet"))
	assert.ErrorIs(t, err, ErrMalformed)
}

type fakeIngestStore struct {
	turns   []store.DialogTurn
	events  [][]store.DialogEvent
	threads []store.SMPost
	replies [][]store.SMReply
}

func (f *fakeIngestStore) InsertTranscript(_ context.Context, _ int64, turns []store.DialogTurn, events [][]store.DialogEvent) error {
	f.turns, f.events = turns, events
	return nil
}

func (f *fakeIngestStore) InsertSMThread(_ context.Context, post store.SMPost, replies []store.SMReply) (store.SMPost, error) {
	f.threads = append(f.threads, post)
	f.replies = append(f.replies, replies)
	return post, nil
}

func TestIngestTranscript(t *testing.T) {
	st := &fakeIngestStore{}
	svc := NewService(st, zap.NewNop())

	turns, events, err := svc.IngestTranscript(context.Background(), 5, sessionSheet(t))
	require.NoError(t, err)
	assert.Equal(t, 2, turns)
	assert.Equal(t, 3, events)
	assert.Len(t, st.turns, 2)
}

func TestIngestThreads(t *testing.T) {
	st := &fakeIngestStore{}
	svc := NewService(st, zap.NewNop())

	upload := `[
		{"user_id": "u1", "timeline_id": "t1", "post_id": 3, "question": "Anyone else?",
		 "replies": [{"comment": "same here"}, {"comment": "it passes"}]},
		{"user_id": "u2", "timeline_id": "t1", "post_id": 4, "question": "How do you cope?", "replies": []}
	]`
	n, err := svc.IngestThreads(context.Background(), 5, strings.NewReader(upload))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.Len(t, st.threads, 2)
	assert.Equal(t, "u1", st.threads[0].UserID)
	assert.Equal(t, int64(5), st.threads[0].DatasetID)
	require.Len(t, st.replies[0], 2)
	assert.Equal(t, 0, st.replies[0][0].ReplyN)
	assert.Equal(t, "same here", st.replies[0][0].Comment)
}

func TestIngestThreadsMalformed(t *testing.T) {
	svc := NewService(&fakeIngestStore{}, zap.NewNop())

	for _, upload := range []string{
		"{}",
		"[]",
		`[{"user_id": "", "question": "q"}]`,
		`[{"user_id": "u1", "question": ""}]`,
	} {
		_, err := svc.IngestThreads(context.Background(), 5, strings.NewReader(upload))
		assert.ErrorIs(t, err, ErrMalformed, upload)
	}
}
