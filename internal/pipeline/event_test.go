package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseObjectPath(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		fileName string
		id       string
		err      error
	}{
		{"plain", "episodes/104.mp4", "104.mp4", "104", nil},
		{"nested", "episodes/season-2/ep-7.mov", "ep-7.mov", "ep-7", nil},
		{"no extension", "episodes/105", "105", "105", nil},
		{"double extension keeps stem", "episodes/106.final.mp4", "106.final.mp4", "106.final", nil},
		{"outside prefix", "thumbnails/104.jpg", "", "", ErrOutsidePrefix},
		{"prefix only", "episodes/", "", "", ErrInvalidObjectName},
		{"extension only", "episodes/.mp4", ".mp4", "", ErrInvalidObjectName},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fileName, id, err := ParseObjectPath("episodes/", tt.path)
			assert.ErrorIs(t, err, tt.err)
			if tt.err == nil {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.id, id)
			if tt.err != ErrOutsidePrefix {
				assert.Equal(t, tt.fileName, fileName)
			}
		})
	}
}

func TestStorageEventMimeType(t *testing.T) {
	assert.Equal(t, "video/quicktime", StorageEvent{ContentType: "video/quicktime"}.mimeType())
	assert.Equal(t, DefaultContentType, StorageEvent{}.mimeType())
}
