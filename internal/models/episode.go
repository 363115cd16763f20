package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

const (
	StatusProcessing = "processing"
	StatusReady      = "ready"
	StatusError      = "error"
)

// Episode is one podcast installment as persisted in the episodes table.
// Nullable columns are pointers; AI-derived fields stay nil until analysis lands.
type Episode struct {
	ID              string     `db:"id" json:"id"`
	Title           string     `db:"title" json:"title"`
	Description     *string    `db:"description" json:"description,omitempty"`
	VideoURL        *string    `db:"video_url" json:"videoUrl,omitempty"`
	SizeBytes       *int64     `db:"size_bytes" json:"sizeBytes,omitempty"`
	DurationSeconds *int       `db:"duration_seconds" json:"durationSeconds,omitempty"`
	UploadedAt      *time.Time `db:"uploaded_at" json:"uploadedAt,omitempty"`
	PublishDate     *time.Time `db:"publish_date" json:"date,omitempty"`
	Status          string     `db:"status" json:"status"`
	ProcessedAt     *time.Time `db:"processed_at" json:"processedAt,omitempty"`
	Summary         *string    `db:"summary" json:"summary,omitempty"`
	Chapters        Chapters   `db:"chapters" json:"chapters,omitempty"`
	ShowNotes       *string    `db:"show_notes" json:"showNotes,omitempty"`
	Hashtags        StringList `db:"hashtags" json:"hashtags,omitempty"`
	CreatedAt       time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt       time.Time  `db:"updated_at" json:"updatedAt"`
}

// SortDate is the publish date, falling back to the upload time.
func (e Episode) SortDate() time.Time {
	if e.PublishDate != nil {
		return *e.PublishDate
	}
	if e.UploadedAt != nil {
		return *e.UploadedAt
	}
	return time.Time{}
}

// HasAIMetadata reports whether any AI-derived field has been written.
func (e Episode) HasAIMetadata() bool {
	return e.Summary != nil || len(e.Chapters) > 0 || e.ShowNotes != nil || len(e.Hashtags) > 0
}

// State distinguishes a still-processing episode from a ready one with or
// without AI metadata.
func (e Episode) State() string {
	switch e.Status {
	case StatusReady:
		if e.HasAIMetadata() {
			return "ready"
		}
		return "ready_without_metadata"
	case StatusError:
		return StatusError
	default:
		return StatusProcessing
	}
}

// Chapter is a chapter marker; Time is "HH:MM".
type Chapter struct {
	Time  string `json:"time"`
	Title string `json:"title"`
}

// Chapters is stored as a JSONB array.
type Chapters []Chapter

func (c Chapters) Value() (driver.Value, error) {
	if c == nil {
		return nil, nil
	}
	b, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (c *Chapters) Scan(src interface{}) error {
	return scanJSON(src, c)
}

// StringList is stored as a JSONB array of strings.
type StringList []string

func (s StringList) Value() (driver.Value, error) {
	if s == nil {
		return nil, nil
	}
	b, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (s *StringList) Scan(src interface{}) error {
	return scanJSON(src, s)
}

func scanJSON(src interface{}, dst interface{}) error {
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		return json.Unmarshal(v, dst)
	case string:
		return json.Unmarshal([]byte(v), dst)
	default:
		return fmt.Errorf("unsupported JSON column type %T", src)
	}
}
