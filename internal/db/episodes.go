package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"studio-podcaster/internal/models"
)

// Writable episode columns. id, created_at and updated_at are managed by the store.
const (
	ColTitle           = "title"
	ColDescription     = "description"
	ColVideoURL        = "video_url"
	ColSizeBytes       = "size_bytes"
	ColDurationSeconds = "duration_seconds"
	ColUploadedAt      = "uploaded_at"
	ColPublishDate     = "publish_date"
	ColStatus          = "status"
	ColProcessedAt     = "processed_at"
	ColSummary         = "summary"
	ColChapters        = "chapters"
	ColShowNotes       = "show_notes"
	ColHashtags        = "hashtags"
)

var writableColumns = map[string]bool{
	ColTitle: true, ColDescription: true, ColVideoURL: true, ColSizeBytes: true,
	ColDurationSeconds: true, ColUploadedAt: true, ColPublishDate: true,
	ColStatus: true, ColProcessedAt: true, ColSummary: true, ColChapters: true,
	ColShowNotes: true, ColHashtags: true,
}

var (
	ErrEpisodeNotFound = errors.New("episode not found")
	ErrEpisodeExists   = errors.New("episode already exists")
	ErrNoFields        = errors.New("no fields to write")
)

// Fields maps column names to values for merge and update writes.
type Fields map[string]interface{}

// columns returns the field names sorted, rejecting anything not writable.
func (f Fields) columns() ([]string, error) {
	if len(f) == 0 {
		return nil, ErrNoFields
	}
	cols := make([]string, 0, len(f))
	for col := range f {
		if !writableColumns[col] {
			return nil, fmt.Errorf("column %q is not writable", col)
		}
		cols = append(cols, col)
	}
	sort.Strings(cols)
	return cols, nil
}

// Store is the episode record store.
type Store struct {
	DB *sqlx.DB
}

func NewStore(conn *sqlx.DB) *Store {
	return &Store{DB: conn}
}

// GetEpisode is a point read by id.
func (s *Store) GetEpisode(ctx context.Context, id string) (models.Episode, error) {
	episode := models.Episode{}
	err := s.DB.GetContext(ctx, &episode, "SELECT * FROM episodes WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return episode, ErrEpisodeNotFound
	}
	return episode, err
}

// readyGuard keeps a ready record ready when a merge names a status, in the
// same statement as the write.
var readyGuard = fmt.Sprintf(
	"status = CASE WHEN episodes.status = '%s' THEN episodes.status ELSE EXCLUDED.status END",
	models.StatusReady,
)

// MergeEpisode writes only the given fields, creating the record if needed.
// Columns not named in fields are left untouched, and a ready record is
// never moved back to another status.
func (s *Store) MergeEpisode(ctx context.Context, id string, fields Fields) error {
	cols, err := fields.columns()
	if err != nil {
		return err
	}

	placeholders := make([]string, 0, len(cols))
	updates := make([]string, 0, len(cols)+1)
	args := []interface{}{id}
	for i, col := range cols {
		placeholders = append(placeholders, fmt.Sprintf("$%d", i+2))
		args = append(args, fields[col])
		if col == ColStatus {
			updates = append(updates, readyGuard)
			continue
		}
		updates = append(updates, fmt.Sprintf("%s = EXCLUDED.%s", col, col))
	}
	updates = append(updates, "updated_at = NOW()")

	query := fmt.Sprintf(
		"INSERT INTO episodes (id, %s) VALUES ($1, %s) ON CONFLICT (id) DO UPDATE SET %s",
		strings.Join(cols, ", "), strings.Join(placeholders, ", "), strings.Join(updates, ", "),
	)
	_, err = s.DB.ExecContext(ctx, query, args...)
	return err
}

// UpdateEpisode sets the given fields on an existing record and fails with
// ErrEpisodeNotFound when there is none.
func (s *Store) UpdateEpisode(ctx context.Context, id string, fields Fields) error {
	cols, err := fields.columns()
	if err != nil {
		return err
	}

	sets := make([]string, 0, len(cols)+1)
	args := make([]interface{}, 0, len(cols)+1)
	for i, col := range cols {
		sets = append(sets, fmt.Sprintf("%s = $%d", col, i+1))
		args = append(args, fields[col])
	}
	sets = append(sets, "updated_at = NOW()")
	args = append(args, id)

	query := fmt.Sprintf("UPDATE episodes SET %s WHERE id = $%d", strings.Join(sets, ", "), len(args))
	res, err := s.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrEpisodeNotFound
	}
	return nil
}

// ListEpisodes returns every record, newest publish date first. Upload time
// stands in for a missing publish date; id breaks ties.
func (s *Store) ListEpisodes(ctx context.Context) ([]models.Episode, error) {
	var episodes []models.Episode
	err := s.DB.SelectContext(ctx, &episodes,
		"SELECT * FROM episodes ORDER BY COALESCE(publish_date, uploaded_at) DESC NULLS LAST, id ASC")
	return episodes, err
}

// CreateEpisode inserts a new record from the admin upload form.
func (s *Store) CreateEpisode(ctx context.Context, e models.Episode) (models.Episode, error) {
	created := models.Episode{}
	err := s.DB.GetContext(ctx, &created, `
		INSERT INTO episodes (id, title, description, publish_date, duration_seconds, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING *`,
		e.ID, e.Title, e.Description, e.PublishDate, e.DurationSeconds, models.StatusProcessing)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return created, ErrEpisodeExists
	}
	return created, err
}

func (s *Store) DeleteEpisode(ctx context.Context, id string) error {
	res, err := s.DB.ExecContext(ctx, "DELETE FROM episodes WHERE id = $1", id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrEpisodeNotFound
	}
	return nil
}

// MarkStaleProcessing moves records stuck in processing since before cutoff to error.
func (s *Store) MarkStaleProcessing(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.DB.ExecContext(ctx, `
		UPDATE episodes SET status = $1, updated_at = NOW()
		WHERE status = $2 AND COALESCE(uploaded_at, created_at) < $3`,
		models.StatusError, models.StatusProcessing, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
