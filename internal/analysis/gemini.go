package analysis

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"studio-podcaster/internal/storage"
)

// Prompt asks for the strict JSON object ParseMetadata understands.
const Prompt = `You are given a video podcast episode. Return ONLY a valid JSON object, with no prose, of this exact shape:
{"summary": "two or three sentence summary", "chapters": [{"time": "HH:MM", "title": "chapter title"}], "showNotes": "show notes as plain text paragraphs", "hashtags": ["#tag1", "#tag2", "#tag3", "#tag4", "#tag5"]}
Chapters must be in playback order and start at "00:00". Give exactly five hashtags.`

var (
	ErrFileFailed   = errors.New("Gemini failed to process uploaded video")
	ErrFileInactive = errors.New("uploaded video did not become active in time")
)

type generator interface {
	GenerateContent(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
}

// fileService is the slice of the Gemini Files API the analyzer uses.
type fileService interface {
	UploadFile(ctx context.Context, name string, r io.Reader, opts *genai.UploadFileOptions) (*genai.File, error)
	GetFile(ctx context.Context, name string) (*genai.File, error)
	DeleteFile(ctx context.Context, name string) error
}

// Source streams a stored object's bytes.
type Source interface {
	Download(ctx context.Context, bucket, name string, w io.Writer) (int64, error)
}

// Gemini analyzes stored videos. The Gemini API cannot read gs:// objects, so
// each video is piped from storage into the Files API and referenced by the
// returned file URI. Nothing touches local disk.
type Gemini struct {
	client *genai.Client
	model  generator
	files  fileService
	source Source

	pollInterval time.Duration
	maxPolls     int
}

func NewGemini(ctx context.Context, apiKey, modelName string, source Source) (*Gemini, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	model := client.GenerativeModel(modelName)
	model.SetTemperature(0.2)
	model.ResponseMIMEType = "application/json"

	return &Gemini{
		client:       client,
		model:        model,
		files:        client,
		source:       source,
		pollInterval: 5 * time.Second,
		maxPolls:     120,
	}, nil
}

func (g *Gemini) Close() error {
	if g.client == nil {
		return nil
	}
	return g.client.Close()
}

// Analyze returns the metadata for the video at the gs:// uri, or an error
// when the upload, the model, or its response fails.
func (g *Gemini) Analyze(ctx context.Context, uri, mimeType string) (Metadata, error) {
	bucket, name, err := storage.ParseURI(uri)
	if err != nil {
		return Metadata{}, err
	}

	file, err := g.upload(ctx, bucket, name, mimeType)
	if err != nil {
		return Metadata{}, err
	}
	// Remote copies expire on their own; deletion is best effort.
	defer g.files.DeleteFile(context.Background(), file.Name)

	file, err = g.waitActive(ctx, file)
	if err != nil {
		return Metadata{}, err
	}

	resp, err := g.model.GenerateContent(ctx,
		genai.FileData{MIMEType: mimeType, URI: file.URI},
		genai.Text(Prompt),
	)
	if err != nil {
		return Metadata{}, fmt.Errorf("Gemini API error: %w", err)
	}
	return ParseMetadata(extractText(resp))
}

func (g *Gemini) upload(ctx context.Context, bucket, name, mimeType string) (*genai.File, error) {
	pr, pw := io.Pipe()
	copied := make(chan error, 1)
	go func() {
		_, err := g.source.Download(ctx, bucket, name, pw)
		pw.CloseWithError(err)
		copied <- err
	}()

	file, err := g.files.UploadFile(ctx, "", pr, &genai.UploadFileOptions{
		DisplayName: path.Base(name),
		MIMEType:    mimeType,
	})
	// Unblocks the download if the upload stopped reading early.
	pr.Close()
	downloadErr := <-copied

	if downloadErr != nil && !errors.Is(downloadErr, io.ErrClosedPipe) {
		if file != nil {
			g.files.DeleteFile(context.Background(), file.Name)
		}
		return nil, fmt.Errorf("failed to stream %s to Gemini: %w", storage.URI(bucket, name), downloadErr)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to upload video to Gemini: %w", err)
	}
	return file, nil
}

func (g *Gemini) waitActive(ctx context.Context, file *genai.File) (*genai.File, error) {
	for i := 0; i < g.maxPolls; i++ {
		switch file.State {
		case genai.FileStateActive:
			return file, nil
		case genai.FileStateFailed:
			return nil, ErrFileFailed
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(g.pollInterval):
		}

		current, err := g.files.GetFile(ctx, file.Name)
		if err != nil {
			return nil, fmt.Errorf("failed to get uploaded file status: %w", err)
		}
		file = current
	}
	if file.State == genai.FileStateActive {
		return file, nil
	}
	return nil, ErrFileInactive
}

func extractText(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}
	var text strings.Builder
	for _, cand := range resp.Candidates {
		if cand.Content != nil {
			for _, part := range cand.Content.Parts {
				if t, ok := part.(genai.Text); ok {
					text.WriteString(string(t))
				}
			}
		}
	}
	return text.String()
}
