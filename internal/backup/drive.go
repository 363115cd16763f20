package backup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// MIMEType is the type every backup copy is stored under.
const MIMEType = "video/mp4"

var ErrNoCredentials = errors.New("no Drive credentials configured")

// Downloader streams an object from primary storage.
type Downloader interface {
	Download(ctx context.Context, bucket, name string, w io.Writer) (int64, error)
}

// Credentials selects how the Drive client authenticates: a service account
// key, or an OAuth client plus a long-lived refresh token.
type Credentials struct {
	ServiceAccountJSON string
	ClientID           string
	ClientSecret       string
	RefreshToken       string
}

// OAuthConfig is shared with the interactive drive-auth command.
func OAuthConfig(clientID, clientSecret, redirectURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Scopes:       []string{drive.DriveFileScope},
		Endpoint:     google.Endpoint,
	}
}

// ClientOptions turns credentials into google API client options.
func ClientOptions(ctx context.Context, creds Credentials) ([]option.ClientOption, error) {
	switch {
	case creds.ServiceAccountJSON != "":
		return []option.ClientOption{
			option.WithCredentialsJSON([]byte(creds.ServiceAccountJSON)),
			option.WithScopes(drive.DriveFileScope),
		}, nil
	case creds.RefreshToken != "":
		conf := OAuthConfig(creds.ClientID, creds.ClientSecret, "")
		ts := conf.TokenSource(ctx, &oauth2.Token{RefreshToken: creds.RefreshToken})
		return []option.ClientOption{option.WithTokenSource(ts)}, nil
	default:
		return nil, ErrNoCredentials
	}
}

// Drive copies uploaded episodes into a fixed Drive folder.
type Drive struct {
	svc        *drive.Service
	objects    Downloader
	folderID   string
	stagingDir string
}

func NewDrive(svc *drive.Service, objects Downloader, folderID, stagingDir string) *Drive {
	return &Drive{svc: svc, objects: objects, folderID: folderID, stagingDir: stagingDir}
}

// Backup stages the object on local disk, uploads it and returns the Drive
// file id. The staging file is removed on every return path.
func (d *Drive) Backup(ctx context.Context, bucket, name string) (string, error) {
	staged, err := os.CreateTemp(d.stagingDir, "backup-*"+path.Ext(name))
	if err != nil {
		return "", fmt.Errorf("failed to create staging file: %w", err)
	}
	defer func() {
		staged.Close()
		os.Remove(staged.Name())
	}()

	if _, err := d.objects.Download(ctx, bucket, name, staged); err != nil {
		return "", err
	}
	if _, err := staged.Seek(0, io.SeekStart); err != nil {
		return "", fmt.Errorf("failed to rewind staging file: %w", err)
	}

	file := &drive.File{
		Name:     path.Base(name),
		MimeType: MIMEType,
	}
	if d.folderID != "" {
		file.Parents = []string{d.folderID}
	}
	created, err := d.svc.Files.Create(file).
		Media(staged, googleapi.ContentType(MIMEType)).
		SupportsAllDrives(true).
		Fields("id").
		Context(ctx).
		Do()
	if err != nil {
		return "", fmt.Errorf("failed to upload %s to Drive: %w", file.Name, err)
	}
	return created.Id, nil
}
