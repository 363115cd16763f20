package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"studio-podcaster/internal/analysis"
	"studio-podcaster/internal/db"
	"studio-podcaster/internal/feed"
	"studio-podcaster/internal/models"
	"studio-podcaster/internal/test"
)

var fixedNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

type fakeBackup struct {
	calls int32
	err   error
	panic bool
	run   func()
}

func (f *fakeBackup) Backup(ctx context.Context, bucket, name string) (string, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.run != nil {
		f.run()
	}
	if f.panic {
		panic("drive client exploded")
	}
	if f.err != nil {
		return "", f.err
	}
	return "drive-file-1", nil
}

type fakeAnalyzer struct {
	calls    int32
	uri      string
	mimeType string
	meta     analysis.Metadata
	err      error
	run      func()
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, uri, mimeType string) (analysis.Metadata, error) {
	atomic.AddInt32(&f.calls, 1)
	f.uri, f.mimeType = uri, mimeType
	if f.run != nil {
		f.run()
	}
	return f.meta, f.err
}

type fakeFeed struct {
	mu    sync.Mutex
	calls int
	err   error
	seen  []models.Episode
	store *test.MemoryStore
}

func (f *fakeFeed) Regenerate(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.store != nil {
		f.seen, _ = f.store.ListEpisodes(ctx)
	}
	return f.err
}

func strPtr(s string) *string { return &s }

func sampleMetadata() analysis.Metadata {
	return analysis.Metadata{
		Summary:   strPtr("We talk about lenses."),
		Chapters:  models.Chapters{{Time: "00:00", Title: "Intro"}, {Time: "12:30", Title: "Lenses"}},
		ShowNotes: strPtr("Links and gear."),
		Hashtags:  models.StringList{"#photo", "#lens"},
	}
}

func newTestPipeline(store *test.MemoryStore, b Backuper, a Analyzer, f FeedRegenerator) *Pipeline {
	p := New(store, b, a, f, "episodes/", zerolog.Nop())
	p.now = func() time.Time { return fixedNow }
	return p
}

func uploadEvent(name string) StorageEvent {
	return StorageEvent{Bucket: "studio-media", Name: name, ContentType: "video/mp4", Size: 52428800}
}

func TestHandleUpload_EndToEnd(t *testing.T) {
	// 1. Setup
	store := test.NewMemoryStore()
	backup := &fakeBackup{}
	analyzer := &fakeAnalyzer{meta: sampleMetadata()}
	feedFake := &fakeFeed{store: store}
	p := newTestPipeline(store, backup, analyzer, feedFake)

	// 2. Run
	res, err := p.HandleUpload(context.Background(), uploadEvent("episodes/104.mp4"))

	// 3. Assert
	require.NoError(t, err)
	assert.Equal(t, "104", res.EpisodeID)
	assert.Empty(t, res.Failed())
	assert.Equal(t, int32(1), backup.calls)
	assert.Equal(t, "gs://studio-media/episodes/104.mp4", analyzer.uri)
	assert.Equal(t, "video/mp4", analyzer.mimeType)

	episode, ok := store.Episode("104")
	require.True(t, ok)
	assert.Equal(t, models.StatusReady, episode.Status)
	require.NotNil(t, episode.ProcessedAt)
	assert.Equal(t, fixedNow, *episode.ProcessedAt)
	assert.Equal(t, "We talk about lenses.", *episode.Summary)
	assert.Len(t, episode.Chapters, 2)
	assert.Equal(t, "Links and gear.", *episode.ShowNotes)
	assert.Equal(t, models.StringList{"#photo", "#lens"}, episode.Hashtags)
	assert.Equal(t, "https://storage.googleapis.com/studio-media/episodes/104.mp4", *episode.VideoURL)
	assert.Equal(t, int64(52428800), *episode.SizeBytes)

	// Feed regenerated after finalization and saw the ready record.
	assert.Equal(t, 1, feedFake.calls)
	require.Len(t, feedFake.seen, 1)
	assert.Equal(t, models.StatusReady, feedFake.seen[0].Status)
}

func TestHandleUpload_PublishesFeedItem(t *testing.T) {
	store := test.NewMemoryStore(models.Episode{ID: "104", Title: "Lens Talk", Status: models.StatusProcessing})
	writer := &captureWriter{}
	publisher := feed.NewPublisher(store, writer, feed.Channel{Title: "Studio", Description: "Studio shows", SiteURL: "https://studio.example.com"},
		"studio-public", "public/feed.xml", zerolog.Nop())
	p := newTestPipeline(store, &fakeBackup{}, &fakeAnalyzer{meta: sampleMetadata()}, publisher)

	_, err := p.HandleUpload(context.Background(), uploadEvent("episodes/104.mp4"))
	require.NoError(t, err)

	doc := string(writer.body)
	assert.Equal(t, 1, strings.Count(doc, "<item>"))
	assert.Contains(t, doc, "https://studio.example.com/episodes/104")
	assert.Contains(t, doc, "<title>Lens Talk</title>")
	assert.Contains(t, doc, "We talk about lenses.")
}

type captureWriter struct {
	body []byte
}

func (w *captureWriter) WritePublic(ctx context.Context, bucket, name, contentType, cacheControl string, body []byte) error {
	w.body = body
	return nil
}

func TestHandleUpload_IgnoresOutsidePrefix(t *testing.T) {
	store := test.NewMemoryStore()
	backup := &fakeBackup{}
	analyzer := &fakeAnalyzer{}
	feedFake := &fakeFeed{}
	p := newTestPipeline(store, backup, analyzer, feedFake)

	res, err := p.HandleUpload(context.Background(), uploadEvent("thumbnails/104.jpg"))

	require.NoError(t, err)
	assert.True(t, res.Ignored)
	assert.Empty(t, store.Writes())
	assert.Zero(t, backup.calls)
	assert.Zero(t, analyzer.calls)
	assert.Zero(t, feedFake.calls)
}

func TestHandleUpload_DropsInvalidName(t *testing.T) {
	store := test.NewMemoryStore()
	backup := &fakeBackup{}
	p := newTestPipeline(store, backup, &fakeAnalyzer{}, &fakeFeed{})

	res, err := p.HandleUpload(context.Background(), uploadEvent("episodes/"))

	require.NoError(t, err)
	assert.True(t, res.Ignored)
	assert.Empty(t, store.Writes())
	assert.Zero(t, backup.calls)
}

func TestHandleUpload_BackupFailureDoesNotBlockAnalysis(t *testing.T) {
	store := test.NewMemoryStore()
	backup := &fakeBackup{err: errors.New("drive quota exceeded")}
	analyzer := &fakeAnalyzer{meta: sampleMetadata(), run: func() { time.Sleep(20 * time.Millisecond) }}
	p := newTestPipeline(store, backup, analyzer, &fakeFeed{})

	res, err := p.HandleUpload(context.Background(), uploadEvent("episodes/104.mp4"))

	require.NoError(t, err)
	failed := res.Failed()
	require.Len(t, failed, 1)
	assert.Equal(t, OpBackup, failed[0].Operation)

	episode, _ := store.Episode("104")
	assert.Equal(t, models.StatusReady, episode.Status)
	assert.Equal(t, "We talk about lenses.", *episode.Summary)
}

func TestHandleUpload_BothFailStillReady(t *testing.T) {
	store := test.NewMemoryStore()
	feedFake := &fakeFeed{}
	p := newTestPipeline(store,
		&fakeBackup{err: errors.New("auth failed")},
		&fakeAnalyzer{err: errors.New("model unavailable")},
		feedFake)

	res, err := p.HandleUpload(context.Background(), uploadEvent("episodes/104.mp4"))

	require.NoError(t, err)
	assert.Len(t, res.Failed(), 2)

	episode, _ := store.Episode("104")
	assert.Equal(t, models.StatusReady, episode.Status)
	assert.False(t, episode.HasAIMetadata())
	assert.Equal(t, "ready_without_metadata", episode.State())
	assert.Equal(t, 1, feedFake.calls)
}

func TestHandleUpload_AnalysisFailureWritesNoMetadata(t *testing.T) {
	store := test.NewMemoryStore()
	p := newTestPipeline(store, &fakeBackup{}, &fakeAnalyzer{err: analysis.ErrNoMetadata}, &fakeFeed{})

	_, err := p.HandleUpload(context.Background(), uploadEvent("episodes/104.mp4"))
	require.NoError(t, err)

	for _, w := range store.Writes() {
		for col := range w.Fields {
			assert.NotContains(t, []string{db.ColSummary, db.ColChapters, db.ColShowNotes, db.ColHashtags}, col)
		}
	}
}

func TestHandleUpload_PanicIsIsolated(t *testing.T) {
	store := test.NewMemoryStore()
	analyzer := &fakeAnalyzer{meta: sampleMetadata()}
	p := newTestPipeline(store, &fakeBackup{panic: true}, analyzer, &fakeFeed{})

	res, err := p.HandleUpload(context.Background(), uploadEvent("episodes/104.mp4"))

	require.NoError(t, err)
	failed := res.Failed()
	require.Len(t, failed, 1)
	assert.Contains(t, failed[0].Err.Error(), "panic")

	episode, _ := store.Episode("104")
	assert.Equal(t, models.StatusReady, episode.Status)
	assert.NotNil(t, episode.Summary)
}

func TestHandleUpload_RunsOperationsConcurrently(t *testing.T) {
	backupStarted := make(chan struct{})
	analysisStarted := make(chan struct{})
	wait := func(ch chan struct{}) error {
		select {
		case <-ch:
			return nil
		case <-time.After(2 * time.Second):
			return errors.New("operations ran sequentially")
		}
	}

	var backupErr, analysisErr error
	backup := &fakeBackup{run: func() {
		close(backupStarted)
		backupErr = wait(analysisStarted)
	}}
	analyzer := &fakeAnalyzer{meta: sampleMetadata(), run: func() {
		close(analysisStarted)
		analysisErr = wait(backupStarted)
	}}
	p := newTestPipeline(test.NewMemoryStore(), backup, analyzer, &fakeFeed{})

	_, err := p.HandleUpload(context.Background(), uploadEvent("episodes/104.mp4"))

	require.NoError(t, err)
	assert.NoError(t, backupErr)
	assert.NoError(t, analysisErr)
}

func TestHandleUpload_FinalizesOnlyAfterBothSettle(t *testing.T) {
	store := test.NewMemoryStore()
	slow := func() { time.Sleep(30 * time.Millisecond) }
	p := newTestPipeline(store, &fakeBackup{run: slow}, &fakeAnalyzer{meta: sampleMetadata(), run: slow}, &fakeFeed{})

	_, err := p.HandleUpload(context.Background(), uploadEvent("episodes/104.mp4"))
	require.NoError(t, err)

	writes := store.Writes()
	require.NotEmpty(t, writes)
	last := writes[len(writes)-1]
	assert.Equal(t, "update", last.Op)
	assert.Equal(t, models.StatusReady, last.Fields[db.ColStatus])
}

func TestHandleUpload_ReadyIsNotDowngraded(t *testing.T) {
	processed := fixedNow.Add(-24 * time.Hour)
	store := test.NewMemoryStore(models.Episode{
		ID: "104", Title: "Lens Talk", Status: models.StatusReady, ProcessedAt: &processed,
	})
	var statusDuringFanOut string
	backup := &fakeBackup{run: func() {
		e, _ := store.Episode("104")
		statusDuringFanOut = e.Status
	}}
	p := newTestPipeline(store, backup, &fakeAnalyzer{meta: sampleMetadata()}, &fakeFeed{})

	_, err := p.HandleUpload(context.Background(), uploadEvent("episodes/104.mp4"))
	require.NoError(t, err)

	assert.Equal(t, models.StatusReady, statusDuringFanOut)
	episode, _ := store.Episode("104")
	assert.Equal(t, models.StatusReady, episode.Status)
	assert.Equal(t, fixedNow, *episode.ProcessedAt)
}

func TestHandleUpload_MergePreservesManualFields(t *testing.T) {
	publish := fixedNow.Add(72 * time.Hour)
	duration := 3600
	store := test.NewMemoryStore(models.Episode{
		ID: "104", Title: "Lens Talk", Description: strPtr("Manual blurb"),
		PublishDate: &publish, DurationSeconds: &duration, Status: models.StatusProcessing,
	})
	p := newTestPipeline(store, &fakeBackup{}, &fakeAnalyzer{meta: sampleMetadata()}, &fakeFeed{})

	_, err := p.HandleUpload(context.Background(), uploadEvent("episodes/104.mp4"))
	require.NoError(t, err)

	episode, _ := store.Episode("104")
	assert.Equal(t, "Lens Talk", episode.Title)
	assert.Equal(t, "Manual blurb", *episode.Description)
	assert.Equal(t, publish, *episode.PublishDate)
	assert.Equal(t, 3600, *episode.DurationSeconds)
	assert.Equal(t, "We talk about lenses.", *episode.Summary)
}

func TestHandleUpload_FinalizationFailureIsReturned(t *testing.T) {
	store := test.NewMemoryStore()
	store.UpdateErr = db.ErrEpisodeNotFound
	feedFake := &fakeFeed{}
	p := newTestPipeline(store, &fakeBackup{}, &fakeAnalyzer{meta: sampleMetadata()}, feedFake)

	_, err := p.HandleUpload(context.Background(), uploadEvent("episodes/104.mp4"))

	assert.ErrorIs(t, err, db.ErrEpisodeNotFound)
	assert.Zero(t, feedFake.calls)
}

func TestHandleUpload_FeedFailureIsReturned(t *testing.T) {
	store := test.NewMemoryStore()
	p := newTestPipeline(store, &fakeBackup{}, &fakeAnalyzer{meta: sampleMetadata()}, &fakeFeed{err: errors.New("bucket unavailable")})

	_, err := p.HandleUpload(context.Background(), uploadEvent("episodes/104.mp4"))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to regenerate feed")
	episode, _ := store.Episode("104")
	assert.Equal(t, models.StatusReady, episode.Status)
}

func TestHandleUpload_UploadRecordFailureIsReturned(t *testing.T) {
	store := test.NewMemoryStore()
	store.MergeErr = errors.New("connection reset")
	backup := &fakeBackup{}
	p := newTestPipeline(store, backup, &fakeAnalyzer{}, &fakeFeed{})

	_, err := p.HandleUpload(context.Background(), uploadEvent("episodes/104.mp4"))

	require.Error(t, err)
	assert.Zero(t, backup.calls)
}

func TestHandleUpload_UploadMarkNeverReadsFirst(t *testing.T) {
	store := test.NewMemoryStore(models.Episode{ID: "104", Title: "Lens Talk", Status: models.StatusReady})
	store.GetErr = errors.New("reads are not needed")
	p := newTestPipeline(store, &fakeBackup{}, &fakeAnalyzer{meta: sampleMetadata()}, &fakeFeed{})

	_, err := p.HandleUpload(context.Background(), uploadEvent("episodes/104.mp4"))

	require.NoError(t, err)
	episode, _ := store.Episode("104")
	assert.Equal(t, models.StatusReady, episode.Status)
}

func TestHandleUpload_UnconfiguredCollaboratorsSettleAsFailed(t *testing.T) {
	store := test.NewMemoryStore()
	p := newTestPipeline(store, nil, nil, &fakeFeed{})

	res, err := p.HandleUpload(context.Background(), uploadEvent("episodes/104.mp4"))

	require.NoError(t, err)
	for _, o := range res.Failed() {
		assert.ErrorIs(t, o.Err, ErrNotConfigured)
	}
	assert.Len(t, res.Failed(), 2)
}

func TestMetadataFields(t *testing.T) {
	fields := MetadataFields(analysis.Metadata{Summary: strPtr("s")})
	assert.Equal(t, db.Fields{db.ColSummary: "s"}, fields)
	assert.Empty(t, MetadataFields(analysis.Metadata{}))
}
