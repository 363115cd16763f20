package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"studio-podcaster/internal/db"
	"studio-podcaster/internal/models"
)

// episodeView is an episode with its derived admin-facing state.
type episodeView struct {
	models.Episode
	State string `json:"state"`
}

func newEpisodeView(e models.Episode) episodeView {
	return episodeView{Episode: e, State: e.State()}
}

// episodeInput is the admin upload form. Absent fields are left untouched on PATCH.
type episodeInput struct {
	ID              string  `json:"id"`
	Title           *string `json:"title"`
	Description     *string `json:"description"`
	Date            *string `json:"date"`
	DurationSeconds *int    `json:"durationSeconds"`
}

func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("date must be RFC 3339 or YYYY-MM-DD: %q", s)
	}
	return t, nil
}

// fields maps the present inputs onto writable columns.
func (in episodeInput) fields() (db.Fields, error) {
	fields := db.Fields{}
	if in.Title != nil {
		if strings.TrimSpace(*in.Title) == "" {
			return nil, errors.New("title must not be empty")
		}
		fields[db.ColTitle] = strings.TrimSpace(*in.Title)
	}
	if in.Description != nil {
		fields[db.ColDescription] = *in.Description
	}
	if in.Date != nil {
		t, err := parseDate(*in.Date)
		if err != nil {
			return nil, err
		}
		fields[db.ColPublishDate] = t
	}
	if in.DurationSeconds != nil {
		if *in.DurationSeconds < 0 {
			return nil, errors.New("durationSeconds must not be negative")
		}
		fields[db.ColDurationSeconds] = *in.DurationSeconds
	}
	return fields, nil
}

func validEpisodeID(id string) bool {
	return id != "" && !strings.ContainsAny(id, "/ \t\n")
}

func (h *Handlers) ListEpisodes(w http.ResponseWriter, r *http.Request) {
	episodes, err := h.store.ListEpisodes(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("Error listing episodes")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	views := make([]episodeView, 0, len(episodes))
	for _, e := range episodes {
		views = append(views, newEpisodeView(e))
	}
	writeJSON(w, http.StatusOK, views)
}

func (h *Handlers) GetEpisode(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	episode, err := h.store.GetEpisode(r.Context(), id)
	if errors.Is(err, db.ErrEpisodeNotFound) {
		http.Error(w, "Episode not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.log.Error().Err(err).Str("episode_id", id).Msg("Error getting episode")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, newEpisodeView(episode))
}

// PostEpisode registers an episode before its video is uploaded. The record
// starts out processing.
func (h *Handlers) PostEpisode(w http.ResponseWriter, r *http.Request) {
	var in episodeInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}
	if !validEpisodeID(in.ID) {
		http.Error(w, "A valid id is required", http.StatusBadRequest)
		return
	}
	if in.Title == nil {
		http.Error(w, "Title is required", http.StatusBadRequest)
		return
	}
	if _, err := in.fields(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	episode := models.Episode{ID: in.ID, Title: strings.TrimSpace(*in.Title), Description: in.Description, DurationSeconds: in.DurationSeconds}
	if in.Date != nil {
		t, _ := parseDate(*in.Date)
		episode.PublishDate = &t
	}

	created, err := h.store.CreateEpisode(r.Context(), episode)
	if errors.Is(err, db.ErrEpisodeExists) {
		http.Error(w, "Episode already exists", http.StatusConflict)
		return
	}
	if err != nil {
		h.log.Error().Err(err).Str("episode_id", in.ID).Msg("Error creating episode")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, newEpisodeView(created))
}

func (h *Handlers) PatchEpisode(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var in episodeInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}
	fields, err := in.fields()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if len(fields) == 0 {
		http.Error(w, "No fields to update", http.StatusBadRequest)
		return
	}

	err = h.store.UpdateEpisode(r.Context(), id, fields)
	if errors.Is(err, db.ErrEpisodeNotFound) {
		http.Error(w, "Episode not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.log.Error().Err(err).Str("episode_id", id).Msg("Error updating episode")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	h.GetEpisode(w, r)
}

func (h *Handlers) DeleteEpisode(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	err := h.store.DeleteEpisode(r.Context(), id)
	if errors.Is(err, db.ErrEpisodeNotFound) {
		http.Error(w, "Episode not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.log.Error().Err(err).Str("episode_id", id).Msg("Error deleting episode")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
