package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
	"studio-podcaster/internal/db"
	"studio-podcaster/internal/notify"
	"studio-podcaster/internal/pipeline"
	"studio-podcaster/pkg/tasks"
)

type Ingester interface {
	HandleUpload(ctx context.Context, ev pipeline.StorageEvent) (pipeline.Result, error)
}

type FeedRegenerator interface {
	Regenerate(ctx context.Context) error
}

type StaleMarker interface {
	MarkStaleProcessing(ctx context.Context, cutoff time.Time) (int64, error)
}

type TaskHandler struct {
	asynqClient tasks.TaskEnqueuer
	pipeline    Ingester
	feed        FeedRegenerator
	stale       StaleMarker
	staleAfter  time.Duration
	notifier    notify.Notifier
	now         func() time.Time
	log         zerolog.Logger
}

func NewTaskHandler(client tasks.TaskEnqueuer, p Ingester, feed FeedRegenerator, stale StaleMarker, staleAfter time.Duration, notifier notify.Notifier, log zerolog.Logger) *TaskHandler {
	return &TaskHandler{
		asynqClient: client,
		pipeline:    p,
		feed:        feed,
		stale:       stale,
		staleAfter:  staleAfter,
		notifier:    notifier,
		now:         time.Now,
		log:         log.With().Str("component", "worker").Logger(),
	}
}

// HandleIngestEpisodeTask runs the pipeline for one upload. Swallowed
// collaborator failures are reported to the operator; the task still succeeds.
func (h *TaskHandler) HandleIngestEpisodeTask(ctx context.Context, t *asynq.Task) error {
	var p tasks.IngestEpisodeTaskPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("failed to unmarshal task payload: %w", err)
	}

	res, err := h.pipeline.HandleUpload(ctx, pipeline.StorageEvent{
		Bucket:      p.Bucket,
		Name:        p.Name,
		ContentType: p.ContentType,
		Size:        p.Size,
	})
	if failed := res.Failed(); len(failed) > 0 {
		parts := make([]string, 0, len(failed))
		for _, o := range failed {
			parts = append(parts, fmt.Sprintf("%s: %v", o.Operation, o.Err))
		}
		h.alert(ctx, fmt.Sprintf("Episode %s: %s", res.EpisodeID, strings.Join(parts, "; ")))
	}
	if err != nil {
		return fmt.Errorf("failed to process upload %s: %w", p.Name, err)
	}
	return nil
}

func (h *TaskHandler) HandleRegenerateFeedTask(ctx context.Context, t *asynq.Task) error {
	var p tasks.RegenerateFeedTaskPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &p); err != nil {
			return fmt.Errorf("failed to unmarshal task payload: %w", err)
		}
	}

	h.log.Debug().Str("reason", p.Reason).Str("episode_id", p.EpisodeID).Msg("Regenerating feed")
	if err := h.feed.Regenerate(ctx); err != nil {
		return fmt.Errorf("failed to regenerate feed: %w", err)
	}
	return nil
}

// HandleReapStaleEpisodesTask marks episodes whose pipeline run never
// finished as errored.
func (h *TaskHandler) HandleReapStaleEpisodesTask(ctx context.Context, t *asynq.Task) error {
	cutoff := h.now().Add(-h.staleAfter)
	n, err := h.stale.MarkStaleProcessing(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("failed to mark stale episodes: %w", err)
	}
	if n > 0 {
		h.log.Warn().Int64("count", n).Time("cutoff", cutoff).Msg("Marked stale episodes as error")
		h.alert(ctx, fmt.Sprintf("%d episode(s) stuck in processing since before %s were marked as error", n, cutoff.Format(time.RFC3339)))
	}
	return nil
}

// EnqueueFeedRegeneration is the record-change listener callback. Every
// change yields its own task.
func (h *TaskHandler) EnqueueFeedRegeneration(ctx context.Context, ev db.ChangeEvent) {
	task, err := tasks.NewRegenerateFeedTask("record-change:"+strings.ToLower(ev.Op), ev.ID)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to create feed task")
		return
	}
	if _, err := h.asynqClient.EnqueueContext(ctx, task); err != nil {
		h.log.Error().Err(err).Str("op", ev.Op).Str("episode_id", ev.ID).Msg("Failed to enqueue feed task")
	}
}

// HandleError is the asynq error handler: every failed task reaches the operator.
func (h *TaskHandler) HandleError(ctx context.Context, task *asynq.Task, err error) {
	retried, _ := asynq.GetRetryCount(ctx)
	maxRetry, _ := asynq.GetMaxRetry(ctx)
	h.log.Error().Err(err).Str("task", task.Type()).Int("retried", retried).Int("max_retry", maxRetry).Msg("Task failed")
	if retried >= maxRetry {
		h.alert(ctx, fmt.Sprintf("Task %s failed: %v", task.Type(), err))
	}
}

func (h *TaskHandler) alert(ctx context.Context, text string) {
	if err := h.notifier.Notify(ctx, text); err != nil {
		h.log.Error().Err(err).Msg("Failed to notify operator")
	}
}
