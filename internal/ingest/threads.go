package ingest

import (
	"encoding/json"
	"fmt"
	"io"

	"codabook/api/internal/store"
)

// Thread is one social-media post with its replies, as uploaded.
type Thread struct {
	UserID     string  `json:"user_id"`
	TimelineID string  `json:"timeline_id"`
	PostID     int     `json:"post_id"`
	Question   string  `json:"question"`
	Replies    []Reply `json:"replies"`
}

type Reply struct {
	Comment string `json:"comment"`
}

// ParseThreads reads a social-media upload: a JSON array of posts with their
// replies flattened out of the per-user timelines.
func ParseThreads(r io.Reader) ([]Thread, error) {
	var threads []Thread
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&threads); err != nil {
		return nil, fmt.Errorf("decode threads: %w", ErrMalformed)
	}
	if len(threads) == 0 {
		return nil, fmt.Errorf("no threads: %w", ErrMalformed)
	}
	for i, th := range threads {
		if th.UserID == "" || th.Question == "" {
			return nil, fmt.Errorf("thread %d missing user or question: %w", i, ErrMalformed)
		}
	}
	return threads, nil
}

// ToRows converts a thread into its store rows. Reply order in the upload
// becomes the reply sequence number.
func (t Thread) ToRows(datasetID int64) (store.SMPost, []store.SMReply) {
	post := store.SMPost{
		DatasetID:  datasetID,
		PostID:     t.PostID,
		Question:   t.Question,
		UserID:     t.UserID,
		TimelineID: t.TimelineID,
	}
	replies := make([]store.SMReply, 0, len(t.Replies))
	for n, r := range t.Replies {
		replies = append(replies, store.SMReply{ReplyN: n, Comment: r.Comment})
	}
	return post, replies
}
