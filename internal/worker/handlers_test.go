package worker

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"studio-podcaster/internal/db"
	"studio-podcaster/internal/models"
	"studio-podcaster/internal/pipeline"
	"studio-podcaster/internal/test"
	"studio-podcaster/pkg/tasks"
)

type fakeIngester struct {
	got pipeline.StorageEvent
	res pipeline.Result
	err error
}

func (f *fakeIngester) HandleUpload(ctx context.Context, ev pipeline.StorageEvent) (pipeline.Result, error) {
	f.got = ev
	return f.res, f.err
}

type fakeFeed struct {
	calls int
	err   error
}

func (f *fakeFeed) Regenerate(ctx context.Context) error {
	f.calls++
	return f.err
}

type recordingNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (n *recordingNotifier) Notify(ctx context.Context, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, text)
	return nil
}

func newTestHandler(ing Ingester, feed FeedRegenerator, stale StaleMarker, enqueuer tasks.TaskEnqueuer) (*TaskHandler, *recordingNotifier) {
	notifier := &recordingNotifier{}
	h := NewTaskHandler(enqueuer, ing, feed, stale, 3*time.Hour, notifier, zerolog.Nop())
	return h, notifier
}

func ingestTask(t *testing.T) *asynq.Task {
	task, err := tasks.NewIngestEpisodeTask(tasks.IngestEpisodeTaskPayload{
		Bucket: "studio-media", Name: "episodes/104.mp4", ContentType: "video/mp4", Size: 42,
	}, time.Hour)
	require.NoError(t, err)
	return task
}

func TestHandleIngestEpisodeTask(t *testing.T) {
	// 1. Setup
	ing := &fakeIngester{res: pipeline.Result{EpisodeID: "104", Outcomes: []pipeline.Outcome{
		{Operation: pipeline.OpBackup, Detail: "file-1"},
		{Operation: pipeline.OpAnalysis, Detail: "4 fields merged"},
	}}}
	h, notifier := newTestHandler(ing, &fakeFeed{}, nil, &test.MockTaskEnqueuer{})

	// 2. Run
	err := h.HandleIngestEpisodeTask(context.Background(), ingestTask(t))

	// 3. Assert
	require.NoError(t, err)
	assert.Equal(t, pipeline.StorageEvent{Bucket: "studio-media", Name: "episodes/104.mp4", ContentType: "video/mp4", Size: 42}, ing.got)
	assert.Empty(t, notifier.messages)
}

func TestHandleIngestEpisodeTask_ReportsSwallowedFailures(t *testing.T) {
	ing := &fakeIngester{res: pipeline.Result{EpisodeID: "104", Outcomes: []pipeline.Outcome{
		{Operation: pipeline.OpBackup, Err: errors.New("quota exceeded")},
		{Operation: pipeline.OpAnalysis, Detail: "4 fields merged"},
	}}}
	h, notifier := newTestHandler(ing, &fakeFeed{}, nil, &test.MockTaskEnqueuer{})

	err := h.HandleIngestEpisodeTask(context.Background(), ingestTask(t))

	require.NoError(t, err)
	require.Len(t, notifier.messages, 1)
	assert.Equal(t, "Episode 104: backup: quota exceeded", notifier.messages[0])
}

func TestHandleIngestEpisodeTask_CriticalErrorReturned(t *testing.T) {
	ing := &fakeIngester{res: pipeline.Result{EpisodeID: "104"}, err: db.ErrEpisodeNotFound}
	h, _ := newTestHandler(ing, &fakeFeed{}, nil, &test.MockTaskEnqueuer{})

	err := h.HandleIngestEpisodeTask(context.Background(), ingestTask(t))

	assert.ErrorIs(t, err, db.ErrEpisodeNotFound)
}

func TestHandleIngestEpisodeTask_BadPayload(t *testing.T) {
	h, _ := newTestHandler(&fakeIngester{}, &fakeFeed{}, nil, &test.MockTaskEnqueuer{})

	err := h.HandleIngestEpisodeTask(context.Background(), asynq.NewTask(tasks.TypeIngestEpisode, []byte("{")))

	assert.Error(t, err)
}

func TestHandleRegenerateFeedTask(t *testing.T) {
	feed := &fakeFeed{}
	h, _ := newTestHandler(&fakeIngester{}, feed, nil, &test.MockTaskEnqueuer{})
	task, err := tasks.NewRegenerateFeedTask("record-change:update", "104")
	require.NoError(t, err)

	require.NoError(t, h.HandleRegenerateFeedTask(context.Background(), task))
	assert.Equal(t, 1, feed.calls)

	feed.err = errors.New("bucket unavailable")
	assert.ErrorContains(t, h.HandleRegenerateFeedTask(context.Background(), task), "bucket unavailable")
}

func TestHandleReapStaleEpisodesTask(t *testing.T) {
	// 1. Setup mock database
	store, mock := test.NewMockStore(t)
	h, notifier := newTestHandler(&fakeIngester{}, &fakeFeed{}, store, &test.MockTaskEnqueuer{})
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	h.now = func() time.Time { return now }

	// 2. Define mock expectations
	mock.ExpectExec(regexp.QuoteMeta("UPDATE episodes SET status = $1")).
		WithArgs(models.StatusError, models.StatusProcessing, now.Add(-3*time.Hour)).
		WillReturnResult(sqlmock.NewResult(0, 2))

	// 3. Call the handler
	task, err := tasks.NewReapStaleEpisodesTask()
	require.NoError(t, err)
	require.NoError(t, h.HandleReapStaleEpisodesTask(context.Background(), task))

	// 4. Assertions
	require.Len(t, notifier.messages, 1)
	assert.Contains(t, notifier.messages[0], "2 episode(s)")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleReapStaleEpisodesTask_OnlyProcessing(t *testing.T) {
	old := time.Now().Add(-10 * time.Hour)
	store := test.NewMemoryStore(
		models.Episode{ID: "101", Status: models.StatusProcessing, UploadedAt: &old},
		models.Episode{ID: "102", Status: models.StatusReady, UploadedAt: &old},
		models.Episode{ID: "103", Status: models.StatusProcessing, CreatedAt: time.Now()},
	)
	h, _ := newTestHandler(&fakeIngester{}, &fakeFeed{}, store, &test.MockTaskEnqueuer{})

	require.NoError(t, h.HandleReapStaleEpisodesTask(context.Background(), asynq.NewTask(tasks.TypeReapStaleEpisodes, nil)))

	e, _ := store.Episode("101")
	assert.Equal(t, models.StatusError, e.Status)
	e, _ = store.Episode("102")
	assert.Equal(t, models.StatusReady, e.Status)
	e, _ = store.Episode("103")
	assert.Equal(t, models.StatusProcessing, e.Status)
}

func TestEnqueueFeedRegeneration(t *testing.T) {
	enqueuer := &test.MockTaskEnqueuer{}
	h, _ := newTestHandler(&fakeIngester{}, &fakeFeed{}, nil, enqueuer)

	for _, ev := range []db.ChangeEvent{{Op: "INSERT", ID: "104"}, {Op: "UPDATE", ID: "104"}, {Op: "RECONNECT"}} {
		h.EnqueueFeedRegeneration(context.Background(), ev)
	}

	require.Len(t, enqueuer.EnqueuedTasks, 3)
	var p tasks.RegenerateFeedTaskPayload
	require.NoError(t, json.Unmarshal(enqueuer.EnqueuedTasks[1].Payload(), &p))
	assert.Equal(t, tasks.RegenerateFeedTaskPayload{Reason: "record-change:update", EpisodeID: "104"}, p)
}

func TestHandleError_AlertsOnFinalFailure(t *testing.T) {
	h, notifier := newTestHandler(&fakeIngester{}, &fakeFeed{}, nil, &test.MockTaskEnqueuer{})

	h.HandleError(context.Background(), ingestTask(t), errors.New("finalize failed"))

	require.Len(t, notifier.messages, 1)
	assert.Equal(t, "Task episode:ingest failed: finalize failed", notifier.messages[0])
}
