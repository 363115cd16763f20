package handlers

import (
	"net/http"

	"studio-podcaster/internal/feed"
	"studio-podcaster/pkg/tasks"
)

// GetFeedPreview renders the feed from the current records without publishing it.
func (h *Handlers) GetFeedPreview(w http.ResponseWriter, r *http.Request) {
	body, err := h.feed.Render(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("Error rendering feed")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", feed.ContentType)
	w.Write(body)
}

func (h *Handlers) PostRegenerateFeed(w http.ResponseWriter, r *http.Request) {
	task, err := tasks.NewRegenerateFeedTask("manual", "")
	if err != nil {
		h.log.Error().Err(err).Msg("Error creating feed task")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	info, err := h.asynqClient.EnqueueContext(r.Context(), task)
	if err != nil {
		h.log.Error().Err(err).Msg("Error enqueuing feed task")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"taskId": info.ID})
}
