package pipeline

import (
	"errors"
	"path"
	"strings"
)

// DefaultContentType is assumed when the storage event carries none.
const DefaultContentType = "video/mp4"

var (
	ErrOutsidePrefix     = errors.New("object is outside the episodes prefix")
	ErrInvalidObjectName = errors.New("object name yields no episode id")
)

// StorageEvent is a finalized object write in primary storage.
type StorageEvent struct {
	Bucket      string `json:"bucket"`
	Name        string `json:"name"`
	ContentType string `json:"contentType"`
	Size        int64  `json:"size"`
}

func (ev StorageEvent) mimeType() string {
	if ev.ContentType == "" {
		return DefaultContentType
	}
	return ev.ContentType
}

// ParseObjectPath derives the file name and episode id of an object under
// prefix: "episodes/104.mp4" gives "104.mp4" and "104".
func ParseObjectPath(prefix, objectPath string) (fileName, episodeID string, err error) {
	if !strings.HasPrefix(objectPath, prefix) {
		return "", "", ErrOutsidePrefix
	}
	fileName = objectPath[strings.LastIndex(objectPath, "/")+1:]
	episodeID = strings.TrimSuffix(fileName, path.Ext(fileName))
	if fileName == "" || strings.TrimSpace(episodeID) == "" {
		return fileName, "", ErrInvalidObjectName
	}
	return fileName, episodeID, nil
}
