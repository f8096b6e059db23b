// Package ingest parses uploaded dataset files into store rows.
package ingest

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"codabook/api/internal/store"
)

// ErrMalformed indicates the uploaded file does not follow the expected
// transcript or thread layout.
var ErrMalformed = errors.New("malformed upload")

// timestampMarker starts a new dialog turn inside the transcript sheet.
const timestampMarker = "Timestamp"

// Transcript sheet column headers.
const (
	colMainSpeaker  = "dialog_turn_main_speaker"
	colEventSpeaker = "event_speaker"
	colPlaintext    = "event_plaintext"
)

// ParseTranscript reads a psychotherapy transcript spreadsheet. A row whose
// main-speaker column carries the Timestamp marker opens a new dialog turn:
// its plaintext cell holds the turn's clock time and the row below names the
// turn's main speaker. Every row until the next marker is one speech event.
// The returned event slices are parallel to the turns.
func ParseTranscript(r io.Reader) ([]store.DialogTurn, [][]store.DialogEvent, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, nil, fmt.Errorf("open spreadsheet: %w", ErrMalformed)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, nil, fmt.Errorf("no sheets: %w", ErrMalformed)
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, nil, fmt.Errorf("read sheet %q: %w", sheets[0], err)
	}
	if len(rows) < 2 {
		return nil, nil, fmt.Errorf("sheet %q has no data rows: %w", sheets[0], ErrMalformed)
	}

	cols := map[string]int{}
	for i, name := range rows[0] {
		cols[strings.TrimSpace(name)] = i
	}
	for _, required := range []string{colMainSpeaker, colEventSpeaker, colPlaintext} {
		if _, ok := cols[required]; !ok {
			return nil, nil, fmt.Errorf("missing column %q: %w", required, ErrMalformed)
		}
	}
	cell := func(row []string, name string) string {
		i := cols[name]
		if i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	var (
		turns  []store.DialogTurn
		events [][]store.DialogEvent
		turnN  int
		eventN int
	)
	data := rows[1:]
	for i := 0; i < len(data); i++ {
		if cell(data[i], colMainSpeaker) != timestampMarker {
			return nil, nil, fmt.Errorf("row %d: expected turn marker: %w", i+2, ErrMalformed)
		}
		raw := strings.ReplaceAll(cell(data[i], colPlaintext), " ", "")
		ts, err := time.Parse("15:04:05", raw)
		if err != nil {
			return nil, nil, fmt.Errorf("row %d: bad timestamp %q: %w", i+2, raw, ErrMalformed)
		}
		if i+1 >= len(data) {
			return nil, nil, fmt.Errorf("row %d: turn without events: %w", i+2, ErrMalformed)
		}

		turn := store.DialogTurn{
			TurnN:       turnN,
			Timestamp:   ts,
			MainSpeaker: cell(data[i+1], colMainSpeaker),
		}
		turnN++

		var turnEvents []store.DialogEvent
		j := i + 1
		for ; j < len(data) && cell(data[j], colMainSpeaker) != timestampMarker; j++ {
			turnEvents = append(turnEvents, store.DialogEvent{
				EventN:    eventN,
				Speaker:   cell(data[j], colEventSpeaker),
				Plaintext: cell(data[j], colPlaintext),
			})
			eventN++
		}
		if len(turnEvents) == 0 {
			return nil, nil, fmt.Errorf("row %d: turn without events: %w", i+2, ErrMalformed)
		}
		turns = append(turns, turn)
		events = append(events, turnEvents)
		i = j - 1
	}
	if len(turns) == 0 {
		return nil, nil, fmt.Errorf("no dialog turns: %w", ErrMalformed)
	}
	return turns, events, nil
}
