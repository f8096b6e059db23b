// Package export turns a user's annotations over a dataset into organized,
// persisted artifacts.
package export

import (
	"errors"
	"time"
)

// Format represents the export output format.
type Format string

const (
	FormatJSON Format = "json"
	FormatXLSX Format = "xlsx"
)

// ScalePair is one selected scale level of a top-level label.
type ScalePair struct {
	Title string `json:"title"`
	Level string `json:"level"`
}

// Coding is one side (main or additional) of a top-level label's record. A
// label with no activity keeps every list empty rather than omitted.
type Coding struct {
	// Labels is the chain of selected descendants below the top-level label,
	// parent first.
	Labels   []string    `json:"labels"`
	Scales   []ScalePair `json:"scales"`
	Evidence []int       `json:"evidence"`
	Comments []string    `json:"comments"`
}

// GroupRecord is the organized record of one top-level label.
type GroupRecord struct {
	Label      string `json:"label"`
	Main       Coding `json:"main"`
	Additional Coding `json:"additional"`
}

// Record is one organized annotation instance.
type Record struct {
	AnnotationID   int64         `json:"annotation_id"`
	CreatedAt      time.Time     `json:"created_at"`
	CommentSummary string        `json:"comment_summary"`
	Groups         []GroupRecord `json:"groups"`
}

// Result is one written artifact.
type Result struct {
	Key      string
	MimeType string
	Data     []byte
}

// ErrNothingToExport indicates the user has no annotations anywhere in the
// dataset, so no artifact was written.
var ErrNothingToExport = errors.New("nothing to export")
