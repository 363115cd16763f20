package test

import (
	"context"
	"sort"
	"sync"
	"time"

	"studio-podcaster/internal/db"
	"studio-podcaster/internal/models"
)

// Write is one recorded store mutation.
type Write struct {
	Op     string
	ID     string
	Fields db.Fields
}

// MemoryStore is an in-memory episode store with the same merge and update
// semantics as db.Store.
type MemoryStore struct {
	mu       sync.Mutex
	episodes map[string]models.Episode
	writes   []Write

	GetErr    error
	MergeErr  error
	UpdateErr error
	ListErr   error
}

func NewMemoryStore(episodes ...models.Episode) *MemoryStore {
	s := &MemoryStore{episodes: map[string]models.Episode{}}
	for _, e := range episodes {
		s.episodes[e.ID] = e
	}
	return s
}

// Episode returns the stored record and whether it exists.
func (s *MemoryStore) Episode(id string) (models.Episode, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.episodes[id]
	return e, ok
}

// Writes returns the mutations applied so far.
func (s *MemoryStore) Writes() []Write {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Write(nil), s.writes...)
}

func (s *MemoryStore) GetEpisode(ctx context.Context, id string) (models.Episode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.GetErr != nil {
		return models.Episode{}, s.GetErr
	}
	e, ok := s.episodes[id]
	if !ok {
		return models.Episode{}, db.ErrEpisodeNotFound
	}
	return e, nil
}

func (s *MemoryStore) MergeEpisode(ctx context.Context, id string, fields db.Fields) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.MergeErr != nil {
		return s.MergeErr
	}
	if len(fields) == 0 {
		return db.ErrNoFields
	}
	e, ok := s.episodes[id]
	if !ok {
		e = models.Episode{ID: id, Status: models.StatusProcessing, CreatedAt: time.Now().UTC()}
	}
	wasReady := e.Status == models.StatusReady
	applyFields(&e, fields)
	if wasReady {
		e.Status = models.StatusReady
	}
	e.UpdatedAt = time.Now().UTC()
	s.episodes[id] = e
	s.writes = append(s.writes, Write{Op: "merge", ID: id, Fields: fields})
	return nil
}

func (s *MemoryStore) UpdateEpisode(ctx context.Context, id string, fields db.Fields) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.UpdateErr != nil {
		return s.UpdateErr
	}
	if len(fields) == 0 {
		return db.ErrNoFields
	}
	e, ok := s.episodes[id]
	if !ok {
		return db.ErrEpisodeNotFound
	}
	applyFields(&e, fields)
	e.UpdatedAt = time.Now().UTC()
	s.episodes[id] = e
	s.writes = append(s.writes, Write{Op: "update", ID: id, Fields: fields})
	return nil
}

func (s *MemoryStore) ListEpisodes(ctx context.Context) ([]models.Episode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ListErr != nil {
		return nil, s.ListErr
	}
	episodes := make([]models.Episode, 0, len(s.episodes))
	for _, e := range s.episodes {
		episodes = append(episodes, e)
	}
	sort.Slice(episodes, func(i, j int) bool {
		di, dj := episodes[i].SortDate(), episodes[j].SortDate()
		if !di.Equal(dj) {
			return di.After(dj)
		}
		return episodes[i].ID < episodes[j].ID
	})
	return episodes, nil
}

func (s *MemoryStore) CreateEpisode(ctx context.Context, e models.Episode) (models.Episode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.episodes[e.ID]; ok {
		return models.Episode{}, db.ErrEpisodeExists
	}
	now := time.Now().UTC()
	e.Status = models.StatusProcessing
	e.CreatedAt, e.UpdatedAt = now, now
	s.episodes[e.ID] = e
	s.writes = append(s.writes, Write{Op: "create", ID: e.ID})
	return e, nil
}

func (s *MemoryStore) DeleteEpisode(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.episodes[id]; !ok {
		return db.ErrEpisodeNotFound
	}
	delete(s.episodes, id)
	s.writes = append(s.writes, Write{Op: "delete", ID: id})
	return nil
}

func (s *MemoryStore) MarkStaleProcessing(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, e := range s.episodes {
		since := e.CreatedAt
		if e.UploadedAt != nil {
			since = *e.UploadedAt
		}
		if e.Status == models.StatusProcessing && since.Before(cutoff) {
			e.Status = models.StatusError
			s.episodes[id] = e
			n++
		}
	}
	return n, nil
}

func applyFields(e *models.Episode, fields db.Fields) {
	for col, v := range fields {
		switch col {
		case db.ColTitle:
			e.Title = v.(string)
		case db.ColDescription:
			s := v.(string)
			e.Description = &s
		case db.ColVideoURL:
			s := v.(string)
			e.VideoURL = &s
		case db.ColSizeBytes:
			n := v.(int64)
			e.SizeBytes = &n
		case db.ColDurationSeconds:
			n := v.(int)
			e.DurationSeconds = &n
		case db.ColUploadedAt:
			t := v.(time.Time)
			e.UploadedAt = &t
		case db.ColPublishDate:
			t := v.(time.Time)
			e.PublishDate = &t
		case db.ColStatus:
			e.Status = v.(string)
		case db.ColProcessedAt:
			t := v.(time.Time)
			e.ProcessedAt = &t
		case db.ColSummary:
			s := v.(string)
			e.Summary = &s
		case db.ColChapters:
			e.Chapters = v.(models.Chapters)
		case db.ColShowNotes:
			s := v.(string)
			e.ShowNotes = &s
		case db.ColHashtags:
			e.Hashtags = v.(models.StringList)
		}
	}
}
