package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"studio-podcaster/internal/db"
	"studio-podcaster/internal/middleware"
	"studio-podcaster/internal/models"
	"studio-podcaster/pkg/tasks"
)

type EpisodeStore interface {
	ListEpisodes(ctx context.Context) ([]models.Episode, error)
	GetEpisode(ctx context.Context, id string) (models.Episode, error)
	CreateEpisode(ctx context.Context, e models.Episode) (models.Episode, error)
	UpdateEpisode(ctx context.Context, id string, fields db.Fields) error
	DeleteEpisode(ctx context.Context, id string) error
}

type FeedRenderer interface {
	Render(ctx context.Context) ([]byte, error)
}

type Options struct {
	EpisodesPrefix  string
	PipelineTimeout time.Duration
	EventsToken     string
	AdminIDs        []int64
}

type Handlers struct {
	store       EpisodeStore
	asynqClient tasks.TaskEnqueuer
	feed        FeedRenderer
	opts        Options
	admins      map[int64]bool
	log         zerolog.Logger
}

func New(store EpisodeStore, asynqClient tasks.TaskEnqueuer, feed FeedRenderer, opts Options, log zerolog.Logger) *Handlers {
	admins := make(map[int64]bool, len(opts.AdminIDs))
	for _, id := range opts.AdminIDs {
		admins[id] = true
	}
	return &Handlers{
		store:       store,
		asynqClient: asynqClient,
		feed:        feed,
		opts:        opts,
		admins:      admins,
		log:         log.With().Str("component", "handlers").Logger(),
	}
}

// Router mounts the public routes and the admin API behind auth and rate limiting.
func (h *Handlers) Router(auth *middleware.Auth, limiter *middleware.RateLimiterMiddleware) *mux.Router {
	r := mux.NewRouter()
	r.Use(middleware.RequestLogger(h.log))

	r.HandleFunc("/healthz", h.Healthz).Methods(http.MethodGet)
	r.HandleFunc("/feed.xml", h.GetFeedPreview).Methods(http.MethodGet)
	r.HandleFunc("/events/storage", h.PostStorageEvent).Methods(http.MethodPost)

	api := r.PathPrefix("/api").Subrouter()
	api.Use(auth.Middleware, limiter.Middleware)
	api.HandleFunc("/episodes", h.ListEpisodes).Methods(http.MethodGet)
	api.HandleFunc("/episodes", h.PostEpisode).Methods(http.MethodPost)
	api.HandleFunc("/episodes/{id}", h.GetEpisode).Methods(http.MethodGet)
	api.HandleFunc("/episodes/{id}", h.PatchEpisode).Methods(http.MethodPatch)
	api.HandleFunc("/episodes/{id}", h.DeleteEpisode).Methods(http.MethodDelete)
	api.HandleFunc("/feed/regenerate", h.PostRegenerateFeed).Methods(http.MethodPost)
	return r
}

func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
