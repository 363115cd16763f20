package feed

import (
	"bytes"
	"fmt"
	"net/url"
	"sort"
	"time"

	"github.com/eduncan911/podcast"
	"studio-podcaster/internal/models"
)

// Channel is the podcast-level metadata of the feed.
type Channel struct {
	Title       string
	Description string
	SiteURL     string
	Author      string
	Email       string
	ImageURL    string
	Language    string
}

// EpisodeURL is the canonical public page of an episode.
func EpisodeURL(siteURL, id string) string {
	return fmt.Sprintf("%s/episodes/%s", siteURL, url.PathEscape(id))
}

// ReadyEpisodes keeps only ready episodes, newest publish date first with
// the id as a stable tie-break.
func ReadyEpisodes(episodes []models.Episode) []models.Episode {
	ready := make([]models.Episode, 0, len(episodes))
	for _, e := range episodes {
		if e.Status == models.StatusReady {
			ready = append(ready, e)
		}
	}
	sort.SliceStable(ready, func(i, j int) bool {
		di, dj := ready[i].SortDate(), ready[j].SortDate()
		if !di.Equal(dj) {
			return di.After(dj)
		}
		return ready[i].ID < ready[j].ID
	})
	return ready
}

// Build renders the RSS document for the given records. The output depends
// only on its inputs.
func Build(ch Channel, episodes []models.Episode) ([]byte, error) {
	ready := ReadyEpisodes(episodes)

	// podcast.New stamps nil dates with time.Now, so always pass one.
	latest := feedEpoch
	for _, e := range ready {
		if d := itemDate(e); d.After(latest) {
			latest = d
		}
	}

	p := podcast.New(ch.Title, ch.SiteURL, ch.Description, &latest, &latest)
	p.Generator = "studio-podcaster"
	if ch.Language != "" {
		p.Language = ch.Language
	}
	if ch.Author != "" && ch.Email != "" {
		p.AddAuthor(ch.Author, ch.Email)
	}
	if ch.ImageURL != "" {
		p.AddImage(ch.ImageURL)
	}

	for _, episode := range ready {
		link := EpisodeURL(ch.SiteURL, episode.ID)
		item := podcast.Item{
			Title:       itemTitle(episode),
			Description: itemDescription(episode),
			Link:        link,
			GUID:        link,
		}
		pub := itemDate(episode)
		item.AddPubDate(&pub)
		if episode.VideoURL != nil && *episode.VideoURL != "" {
			var size int64
			if episode.SizeBytes != nil {
				size = *episode.SizeBytes
			}
			item.AddEnclosure(*episode.VideoURL, podcast.MP4, size)
		}
		if episode.DurationSeconds != nil {
			item.AddDuration(int64(*episode.DurationSeconds))
		}
		if episode.Summary != nil {
			item.AddSummary(*episode.Summary)
		}
		if _, err := p.AddItem(item); err != nil {
			return nil, fmt.Errorf("failed to add episode %s to feed: %w", episode.ID, err)
		}
	}

	var buf bytes.Buffer
	if err := p.Encode(&buf); err != nil {
		return nil, fmt.Errorf("failed to encode feed: %w", err)
	}
	return buf.Bytes(), nil
}

// feedEpoch dates a feed or item that has no recorded date of its own.
var feedEpoch = time.Unix(0, 0).UTC()

// itemDate is the sort date, then the processing time, then the creation time.
func itemDate(e models.Episode) time.Time {
	if d := e.SortDate(); !d.IsZero() {
		return d
	}
	if e.ProcessedAt != nil && !e.ProcessedAt.IsZero() {
		return *e.ProcessedAt
	}
	if !e.CreatedAt.IsZero() {
		return e.CreatedAt
	}
	return feedEpoch
}

func itemTitle(e models.Episode) string {
	if e.Title != "" {
		return e.Title
	}
	return "Episode " + e.ID
}

// itemDescription prefers the manual description, then the AI summary.
func itemDescription(e models.Episode) string {
	if e.Description != nil && *e.Description != "" {
		return *e.Description
	}
	if e.Summary != nil && *e.Summary != "" {
		return *e.Summary
	}
	return itemTitle(e)
}
