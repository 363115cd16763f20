package tasks

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	TypeIngestEpisode     = "episode:ingest"
	TypeRegenerateFeed    = "feed:regenerate"
	TypeReapStaleEpisodes = "episodes:reap-stale"
)

const (
	QueueHigh    = "high"
	QueueDefault = "default"
)

type IngestEpisodeTaskPayload struct {
	Bucket      string
	Name        string
	ContentType string
	Size        int64
}

// NewIngestEpisodeTask builds the pipeline task for one finalized upload. It is
// never retried by the runtime and gets the full pipeline timeout.
func NewIngestEpisodeTask(p IngestEpisodeTaskPayload, timeout time.Duration) (*asynq.Task, error) {
	payload, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeIngestEpisode, payload,
		asynq.Queue(QueueHigh),
		asynq.MaxRetry(0),
		asynq.Timeout(timeout),
	), nil
}

type RegenerateFeedTaskPayload struct {
	Reason    string
	EpisodeID string
}

func NewRegenerateFeedTask(reason, episodeID string) (*asynq.Task, error) {
	payload, err := json.Marshal(RegenerateFeedTaskPayload{Reason: reason, EpisodeID: episodeID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeRegenerateFeed, payload,
		asynq.Queue(QueueDefault),
		asynq.MaxRetry(3),
		asynq.Timeout(5*time.Minute),
	), nil
}

func NewReapStaleEpisodesTask() (*asynq.Task, error) {
	return asynq.NewTask(TypeReapStaleEpisodes, nil, asynq.Queue(QueueDefault)), nil
}
