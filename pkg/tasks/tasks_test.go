package tasks

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIngestEpisodeTask(t *testing.T) {
	task, err := NewIngestEpisodeTask(IngestEpisodeTaskPayload{
		Bucket: "studio-media",
		Name:   "episodes/104.mp4",
		Size:   2048,
	}, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, TypeIngestEpisode, task.Type())

	var p IngestEpisodeTaskPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &p))
	assert.Equal(t, "episodes/104.mp4", p.Name)
	assert.Equal(t, int64(2048), p.Size)
}

func TestNewRegenerateFeedTask(t *testing.T) {
	task, err := NewRegenerateFeedTask("UPDATE", "104")
	require.NoError(t, err)
	assert.Equal(t, TypeRegenerateFeed, task.Type())

	var p RegenerateFeedTaskPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &p))
	assert.Equal(t, RegenerateFeedTaskPayload{Reason: "UPDATE", EpisodeID: "104"}, p)
}
