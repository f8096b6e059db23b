package store

import "time"

// Speaker is the coding perspective a segment is annotated from. Each
// perspective carries its own label taxonomy and scale vocabulary; the value
// doubles as the partition key on the schema and annotation tables.
type Speaker string

const (
	SpeakerClient    Speaker = "client"
	SpeakerTherapist Speaker = "therapist"
	SpeakerDyad      Speaker = "dyad"
)

// Speakers lists every valid coding perspective.
var Speakers = []Speaker{SpeakerClient, SpeakerTherapist, SpeakerDyad}

// ValidSpeaker reports whether s names a known perspective.
func ValidSpeaker(s Speaker) bool {
	switch s {
	case SpeakerClient, SpeakerTherapist, SpeakerDyad:
		return true
	}
	return false
}

type User struct {
	ID           int64
	Username     string
	Email        string
	PasswordHash string
	Role         string
	CreatedAt    time.Time
}

// DatasetKind distinguishes the two supported dataset shapes.
type DatasetKind string

const (
	DatasetPsychotherapy DatasetKind = "psychotherapy"
	DatasetSocialMedia   DatasetKind = "social_media"
)

type Dataset struct {
	ID          int64
	Name        string
	Description string
	Kind        DatasetKind
	AuthorID    int64
	CreatedAt   time.Time
}

// DialogTurn is one speaker turn of a psychotherapy transcript. Timestamp is
// a time of day within the session; only its clock component is meaningful.
type DialogTurn struct {
	ID          int64
	DatasetID   int64
	TurnN       int
	Timestamp   time.Time
	MainSpeaker string
}

// DialogEvent is a single speech event inside a dialog turn. EventN orders
// events across the whole dataset.
type DialogEvent struct {
	ID           int64
	DatasetID    int64
	DialogTurnID int64
	EventN       int
	Speaker      string
	Plaintext    string
}

// Label is one node of a perspective's taxonomy. ParentID is nil for the
// top-level coding categories.
type Label struct {
	ID       int64
	Speaker  Speaker
	Label    string
	ParentID *int64
}

// Scale is one ordinal level of a named scale attached to a top-level label.
type Scale struct {
	ID         int64
	Speaker    Speaker
	ScaleTitle string
	ScaleLevel string
	LabelID    int64
}

// Annotation is one submitted coding of a page of dialog turns. Instances are
// append-only: a resubmission for the same turns creates a new row with a
// later CreatedAt, and readers pick the latest.
type Annotation struct {
	ID             int64
	Speaker        Speaker
	DatasetID      int64
	AuthorID       int64
	CommentSummary string
	CreatedAt      time.Time
	TurnIDs        []int64
}

// LabelAssociation links an annotation to a selected label. IsAdditional
// marks the secondary coding of an ambiguous segment.
type LabelAssociation struct {
	AnnotationID int64
	LabelID      int64
	IsAdditional bool
}

type ScaleAssociation struct {
	AnnotationID int64
	ScaleID      int64
	IsAdditional bool
}

// AnnotationComment is a free-text note attached to a top-level label.
type AnnotationComment struct {
	ID           int64
	AnnotationID int64
	LabelID      int64
	Comment      string
	IsAdditional bool
}

// Evidence cites a dialog event in support of a top-level label.
type Evidence struct {
	ID            int64
	AnnotationID  int64
	LabelID       int64
	DialogEventID int64
	IsAdditional  bool
}

// SMPost is a social-media post under a dataset.
type SMPost struct {
	ID         int64
	DatasetID  int64
	PostID     int
	Question   string
	UserID     string
	TimelineID string
}

// SMReply is a reply beneath a social-media post.
type SMReply struct {
	ID       int64
	SMPostID int64
	ReplyN   int
	Comment  string
}

// SMAnnotation is the flat annotation a social-media post receives.
type SMAnnotation struct {
	ID        int64
	SMPostID  int64
	AuthorID  int64
	Body      string
	Kind      string
	CreatedAt time.Time
}
