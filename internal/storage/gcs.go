package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	gcs "google.golang.org/api/storage/v1"
)

const publicHost = "https://storage.googleapis.com"

// GCS is the primary object store for uploaded media and the public feed.
type GCS struct {
	svc *gcs.Service
}

func NewGCS(ctx context.Context, opts ...option.ClientOption) (*GCS, error) {
	opts = append([]option.ClientOption{option.WithScopes(gcs.DevstorageReadWriteScope)}, opts...)
	svc, err := gcs.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	return &GCS{svc: svc}, nil
}

// Download streams the object's bytes into w.
func (g *GCS) Download(ctx context.Context, bucket, name string, w io.Writer) (int64, error) {
	resp, err := g.svc.Objects.Get(bucket, name).Context(ctx).Download()
	if err != nil {
		return 0, fmt.Errorf("failed to download gs://%s/%s: %w", bucket, name, err)
	}
	defer resp.Body.Close()

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, fmt.Errorf("failed to read gs://%s/%s: %w", bucket, name, err)
	}
	return n, nil
}

// WritePublic replaces the object with body in a single upload and makes it
// publicly readable.
func (g *GCS) WritePublic(ctx context.Context, bucket, name, contentType, cacheControl string, body []byte) error {
	obj := &gcs.Object{
		Name:         name,
		ContentType:  contentType,
		CacheControl: cacheControl,
	}
	_, err := g.svc.Objects.Insert(bucket, obj).
		Media(bytes.NewReader(body), googleapi.ContentType(contentType)).
		PredefinedAcl("publicRead").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("failed to write gs://%s/%s: %w", bucket, name, err)
	}
	return nil
}

// PublicURL is the anonymous download URL of an object.
func PublicURL(bucket, name string) string {
	segments := strings.Split(name, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return fmt.Sprintf("%s/%s/%s", publicHost, bucket, strings.Join(segments, "/"))
}

// URI is the gs:// reference handed to the AI model.
func URI(bucket, name string) string {
	return fmt.Sprintf("gs://%s/%s", bucket, name)
}

var ErrInvalidURI = errors.New("not a gs:// object reference")

// ParseURI splits a gs://bucket/name reference.
func ParseURI(uri string) (bucket, name string, err error) {
	rest, ok := strings.CutPrefix(uri, "gs://")
	if !ok {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidURI, uri)
	}
	bucket, name, ok = strings.Cut(rest, "/")
	if !ok || bucket == "" || name == "" {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidURI, uri)
	}
	return bucket, name, nil
}
