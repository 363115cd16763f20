package feed

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"studio-podcaster/internal/models"
)

const (
	ContentType  = "application/rss+xml; charset=utf-8"
	CacheControl = "public, max-age=300"
)

type EpisodeLister interface {
	ListEpisodes(ctx context.Context) ([]models.Episode, error)
}

type ObjectWriter interface {
	WritePublic(ctx context.Context, bucket, name, contentType, cacheControl string, body []byte) error
}

// Publisher is the only writer of the feed artifact. Every run rebuilds the
// whole document from the current records and overwrites the artifact.
type Publisher struct {
	episodes EpisodeLister
	objects  ObjectWriter
	channel  Channel
	bucket   string
	path     string
	log      zerolog.Logger
}

func NewPublisher(episodes EpisodeLister, objects ObjectWriter, channel Channel, bucket, path string, log zerolog.Logger) *Publisher {
	return &Publisher{
		episodes: episodes,
		objects:  objects,
		channel:  channel,
		bucket:   bucket,
		path:     path,
		log:      log.With().Str("component", "feed").Logger(),
	}
}

// Render builds the feed from the current records without writing it.
func (p *Publisher) Render(ctx context.Context) ([]byte, error) {
	episodes, err := p.episodes.ListEpisodes(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list episodes: %w", err)
	}
	return Build(p.channel, episodes)
}

// Regenerate rebuilds and overwrites the public feed artifact.
func (p *Publisher) Regenerate(ctx context.Context) error {
	body, err := p.Render(ctx)
	if err != nil {
		return err
	}
	if err := p.objects.WritePublic(ctx, p.bucket, p.path, ContentType, CacheControl, body); err != nil {
		return fmt.Errorf("failed to publish feed: %w", err)
	}
	p.log.Info().Str("bucket", p.bucket).Str("path", p.path).Int("bytes", len(body)).Msg("Feed regenerated")
	return nil
}
