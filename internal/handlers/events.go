package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"studio-podcaster/internal/pipeline"
	"studio-podcaster/pkg/tasks"
)

const (
	maxEventBytes     = 1 << 20
	objectFinalize    = "OBJECT_FINALIZE"
	eventTypeAttrName = "eventType"
)

// objectResource is the GCS object JSON carried by notifications. size is a
// decimal string in the JSON API.
type objectResource struct {
	Bucket      string      `json:"bucket"`
	Name        string      `json:"name"`
	ContentType string      `json:"contentType"`
	Size        json.Number `json:"size"`
}

type pubsubEnvelope struct {
	Message *struct {
		Attributes map[string]string `json:"attributes"`
		Data       []byte            `json:"data"`
		MessageID  string            `json:"messageId"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

var errMalformedEvent = errors.New("malformed storage event")

// decodeStorageEvent accepts a raw object resource or a Pub/Sub push envelope
// wrapping one. ignore is set for envelope events other than object finalize.
func decodeStorageEvent(body []byte) (ev pipeline.StorageEvent, ignore bool, err error) {
	var env pubsubEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return ev, false, fmt.Errorf("%w: %v", errMalformedEvent, err)
	}

	data := body
	if env.Message != nil {
		if t := env.Message.Attributes[eventTypeAttrName]; t != "" && t != objectFinalize {
			return ev, true, nil
		}
		data = env.Message.Data
	}

	var obj objectResource
	if err := json.Unmarshal(data, &obj); err != nil {
		return ev, false, fmt.Errorf("%w: %v", errMalformedEvent, err)
	}
	if obj.Bucket == "" || obj.Name == "" {
		return ev, false, fmt.Errorf("%w: bucket and name are required", errMalformedEvent)
	}

	ev = pipeline.StorageEvent{Bucket: obj.Bucket, Name: obj.Name, ContentType: obj.ContentType}
	if obj.Size != "" {
		if ev.Size, err = obj.Size.Int64(); err != nil {
			return ev, false, fmt.Errorf("%w: bad size %q", errMalformedEvent, obj.Size)
		}
	}
	return ev, false, nil
}

// PostStorageEvent turns a finalized upload notification into an ingest task.
// Events the pipeline would drop are acknowledged without enqueueing.
func (h *Handlers) PostStorageEvent(w http.ResponseWriter, r *http.Request) {
	if h.opts.EventsToken != "" && r.URL.Query().Get("token") != h.opts.EventsToken {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxEventBytes))
	if err != nil {
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	ev, ignore, err := decodeStorageEvent(body)
	if err != nil {
		h.log.Warn().Err(err).Msg("Rejecting storage event")
		http.Error(w, "Malformed storage event", http.StatusBadRequest)
		return
	}
	if ignore {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	_, episodeID, err := pipeline.ParseObjectPath(h.opts.EpisodesPrefix, ev.Name)
	if err != nil {
		if errors.Is(err, pipeline.ErrInvalidObjectName) {
			h.log.Warn().Str("object", ev.Name).Msg("Dropping upload without episode id")
		}
		w.WriteHeader(http.StatusNoContent)
		return
	}

	task, err := tasks.NewIngestEpisodeTask(tasks.IngestEpisodeTaskPayload{
		Bucket:      ev.Bucket,
		Name:        ev.Name,
		ContentType: ev.ContentType,
		Size:        ev.Size,
	}, h.opts.PipelineTimeout)
	if err != nil {
		h.log.Error().Err(err).Msg("Error creating ingest task")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	info, err := h.asynqClient.EnqueueContext(r.Context(), task)
	if err != nil {
		h.log.Error().Err(err).Str("episode_id", episodeID).Msg("Error enqueuing ingest task")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	h.log.Info().Str("episode_id", episodeID).Str("task_id", info.ID).Msg("Ingest task enqueued")
	writeJSON(w, http.StatusAccepted, map[string]string{"episodeId": episodeID, "taskId": info.ID})
}
