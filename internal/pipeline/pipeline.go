package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"studio-podcaster/internal/analysis"
	"studio-podcaster/internal/db"
	"studio-podcaster/internal/models"
	"studio-podcaster/internal/storage"
)

// Fan-out operation labels.
const (
	OpBackup   = "backup"
	OpAnalysis = "ai-analysis"
)

var ErrNotConfigured = errors.New("collaborator not configured")

type EpisodeStore interface {
	MergeEpisode(ctx context.Context, id string, fields db.Fields) error
	UpdateEpisode(ctx context.Context, id string, fields db.Fields) error
}

type Backuper interface {
	Backup(ctx context.Context, bucket, name string) (string, error)
}

type Analyzer interface {
	Analyze(ctx context.Context, uri, mimeType string) (analysis.Metadata, error)
}

type FeedRegenerator interface {
	Regenerate(ctx context.Context) error
}

// Outcome is how one fan-out operation settled.
type Outcome struct {
	Operation string
	Detail    string
	Err       error
}

// Result summarizes one pipeline run.
type Result struct {
	EpisodeID string
	Ignored   bool
	Outcomes  []Outcome
}

// Failed lists the fan-out operations that did not succeed.
func (r Result) Failed() []Outcome {
	var failed []Outcome
	for _, o := range r.Outcomes {
		if o.Err != nil {
			failed = append(failed, o)
		}
	}
	return failed
}

// Pipeline turns an uploaded video into a published episode.
type Pipeline struct {
	store    EpisodeStore
	backup   Backuper
	analyzer Analyzer
	feed     FeedRegenerator
	prefix   string
	now      func() time.Time
	log      zerolog.Logger
}

// New wires a pipeline. backup and analyzer may be nil, in which case the
// operation settles as failed with ErrNotConfigured.
func New(store EpisodeStore, backup Backuper, analyzer Analyzer, feed FeedRegenerator, prefix string, log zerolog.Logger) *Pipeline {
	return &Pipeline{
		store:    store,
		backup:   backup,
		analyzer: analyzer,
		feed:     feed,
		prefix:   prefix,
		now:      func() time.Time { return time.Now().UTC() },
		log:      log.With().Str("component", "pipeline").Logger(),
	}
}

// HandleUpload runs ingestion, the settle-all fan-out, finalization and the
// synchronous feed rebuild for one storage event. Events outside the prefix or
// without a usable name are dropped with a nil error. Only failures of the
// critical path are returned.
func (p *Pipeline) HandleUpload(ctx context.Context, ev StorageEvent) (Result, error) {
	_, episodeID, err := ParseObjectPath(p.prefix, ev.Name)
	switch {
	case errors.Is(err, ErrOutsidePrefix):
		p.log.Debug().Str("object", ev.Name).Msg("Ignoring object outside episodes prefix")
		return Result{Ignored: true}, nil
	case err != nil:
		p.log.Warn().Err(err).Str("bucket", ev.Bucket).Str("object", ev.Name).Msg("Dropping invalid upload event")
		return Result{Ignored: true}, nil
	}

	res := Result{EpisodeID: episodeID}
	log := p.log.With().Str("episode_id", episodeID).Str("object", ev.Name).Logger()
	log.Info().Str("bucket", ev.Bucket).Int64("size", ev.Size).Msg("Processing upload")

	if err := p.markProcessing(ctx, ev, episodeID); err != nil {
		return res, err
	}

	res.Outcomes = p.fanOut(ctx, ev, episodeID, log)

	if err := p.finalize(ctx, episodeID); err != nil {
		return res, fmt.Errorf("failed to finalize episode %s: %w", episodeID, err)
	}
	log.Info().Msg("Episode ready")

	if err := p.feed.Regenerate(ctx); err != nil {
		return res, fmt.Errorf("failed to regenerate feed: %w", err)
	}
	return res, nil
}

// markProcessing records the uploaded file. A ready episode keeps its status.
func (p *Pipeline) markProcessing(ctx context.Context, ev StorageEvent, episodeID string) error {
	fields := db.Fields{
		db.ColVideoURL:   storage.PublicURL(ev.Bucket, ev.Name),
		db.ColUploadedAt: p.now(),
		// The store keeps a ready record ready in the same write.
		db.ColStatus: models.StatusProcessing,
	}
	if ev.Size > 0 {
		fields[db.ColSizeBytes] = ev.Size
	}

	if err := p.store.MergeEpisode(ctx, episodeID, fields); err != nil {
		return fmt.Errorf("failed to record upload for episode %s: %w", episodeID, err)
	}
	return nil
}

type operation struct {
	label string
	run   func(ctx context.Context) (string, error)
}

// fanOut runs backup and analysis concurrently and waits for both to settle.
// Neither operation can cancel or abort the other.
func (p *Pipeline) fanOut(ctx context.Context, ev StorageEvent, episodeID string, log zerolog.Logger) []Outcome {
	ops := []operation{
		{label: OpBackup, run: func(ctx context.Context) (string, error) {
			if p.backup == nil {
				return "", ErrNotConfigured
			}
			return p.backup.Backup(ctx, ev.Bucket, ev.Name)
		}},
		{label: OpAnalysis, run: func(ctx context.Context) (string, error) {
			return p.analyze(ctx, ev, episodeID)
		}},
	}

	outcomes := make([]Outcome, len(ops))
	var wg sync.WaitGroup
	for i, op := range ops {
		wg.Add(1)
		go func(i int, op operation) {
			defer wg.Done()
			outcomes[i] = settle(ctx, op)
		}(i, op)
	}
	wg.Wait()

	for _, o := range outcomes {
		if o.Err != nil {
			log.Error().Err(o.Err).Str("operation", o.Operation).Msg("Operation failed")
			continue
		}
		log.Info().Str("operation", o.Operation).Str("detail", o.Detail).Msg("Operation succeeded")
	}
	return outcomes
}

func settle(ctx context.Context, op operation) (out Outcome) {
	out.Operation = op.label
	defer func() {
		if r := recover(); r != nil {
			out.Err = fmt.Errorf("panic: %v", r)
		}
	}()
	out.Detail, out.Err = op.run(ctx)
	return out
}

// analyze merges the AI metadata into the episode. Nothing is written when
// the model call or the parse fails.
func (p *Pipeline) analyze(ctx context.Context, ev StorageEvent, episodeID string) (string, error) {
	if p.analyzer == nil {
		return "", ErrNotConfigured
	}
	meta, err := p.analyzer.Analyze(ctx, storage.URI(ev.Bucket, ev.Name), ev.mimeType())
	if err != nil {
		return "", err
	}

	fields := MetadataFields(meta)
	if len(fields) == 0 {
		return "", analysis.ErrNoMetadata
	}
	if err := p.store.MergeEpisode(ctx, episodeID, fields); err != nil {
		return "", fmt.Errorf("failed to merge metadata: %w", err)
	}
	return fmt.Sprintf("%d fields merged", len(fields)), nil
}

// MetadataFields maps present AI metadata onto episode columns.
func MetadataFields(m analysis.Metadata) db.Fields {
	fields := db.Fields{}
	if m.Summary != nil {
		fields[db.ColSummary] = *m.Summary
	}
	if len(m.Chapters) > 0 {
		fields[db.ColChapters] = m.Chapters
	}
	if m.ShowNotes != nil {
		fields[db.ColShowNotes] = *m.ShowNotes
	}
	if len(m.Hashtags) > 0 {
		fields[db.ColHashtags] = m.Hashtags
	}
	return fields
}

func (p *Pipeline) finalize(ctx context.Context, episodeID string) error {
	return p.store.UpdateEpisode(ctx, episodeID, db.Fields{
		db.ColStatus:      models.StatusReady,
		db.ColProcessedAt: p.now(),
	})
}
