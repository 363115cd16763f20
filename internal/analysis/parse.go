package analysis

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"studio-podcaster/internal/models"
)

// MaxHashtags caps the hashtag set written to an episode.
const MaxHashtags = 5

var ErrNoMetadata = errors.New("no metadata in model response")

// Metadata holds the AI-derived episode fields. Nil or empty fields were not
// present in the model response and must not be written.
type Metadata struct {
	Summary   *string
	Chapters  models.Chapters
	ShowNotes *string
	Hashtags  models.StringList
}

func (m Metadata) empty() bool {
	return m.Summary == nil && len(m.Chapters) == 0 && m.ShowNotes == nil && len(m.Hashtags) == 0
}

// StripFences removes a surrounding markdown code fence, with or without a
// language tag.
func StripFences(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimLeftFunc(s, unicode.IsLetter)
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// ParseMetadata extracts the four whitelisted keys from a model response.
// Unknown keys and keys of the wrong shape are dropped.
func ParseMetadata(raw string) (Metadata, error) {
	var m Metadata

	body := StripFences(raw)
	if body == "" {
		return m, ErrNoMetadata
	}

	loose, err := decodeObject(body)
	if err != nil {
		return m, err
	}

	for key, val := range loose {
		switch key {
		case "summary":
			m.Summary = decodeText(val)
		case "showNotes":
			m.ShowNotes = decodeText(val)
		case "chapters":
			m.Chapters = decodeChapters(val)
		case "hashtags":
			m.Hashtags = decodeHashtags(val)
		}
	}

	if m.empty() {
		return m, ErrNoMetadata
	}
	return m, nil
}

// decodeObject parses body as a JSON object, falling back to the outermost
// brace span when the model wrapped the object in prose.
func decodeObject(body string) (map[string]json.RawMessage, error) {
	var loose map[string]json.RawMessage
	err := json.Unmarshal([]byte(body), &loose)
	if err == nil {
		return loose, nil
	}

	start, end := strings.Index(body, "{"), strings.LastIndex(body, "}")
	if start >= 0 && end > start {
		if retryErr := json.Unmarshal([]byte(body[start:end+1]), &loose); retryErr == nil {
			return loose, nil
		}
	}
	return nil, fmt.Errorf("failed to parse model response as JSON: %w", err)
}

func decodeText(val json.RawMessage) *string {
	var s string
	if err := json.Unmarshal(val, &s); err != nil {
		return nil
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func decodeChapters(val json.RawMessage) models.Chapters {
	var raw []models.Chapter
	if err := json.Unmarshal(val, &raw); err != nil {
		return nil
	}
	var chapters models.Chapters
	for _, c := range raw {
		c.Time = strings.TrimSpace(c.Time)
		c.Title = strings.TrimSpace(c.Title)
		if c.Title == "" {
			continue
		}
		chapters = append(chapters, c)
	}
	return chapters
}

func decodeHashtags(val json.RawMessage) models.StringList {
	var raw []string
	if err := json.Unmarshal(val, &raw); err != nil {
		return nil
	}
	seen := make(map[string]bool)
	var tags models.StringList
	for _, tag := range raw {
		tag = strings.Join(strings.Fields(tag), "")
		tag = strings.TrimLeft(tag, "#")
		if tag == "" {
			continue
		}
		tag = "#" + tag
		key := strings.ToLower(tag)
		if seen[key] {
			continue
		}
		seen[key] = true
		tags = append(tags, tag)
		if len(tags) == MaxHashtags {
			break
		}
	}
	return tags
}
