package fetch

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/vortexbot/vortex/internal/media"
)

func Test_Video_RejectsUnsupportedSchemes(t *testing.T) {
	fetcher := New(Config{MaxSizeBytes: 1024, MaxDurationSeconds: 60})

	tests := []struct {
		summary string
		url     string
	}{
		{"no scheme", "example.com/watch?v=abc"},
		{"ftp", "ftp://example.com/video.mp4"},
		{"file", "file:///etc/passwd"},
		{"garbage", "::::"},
	}

	for _, tt := range tests {
		t.Run(tt.summary, func(t *testing.T) {
			_, err := fetcher.Video(context.Background(), tt.url, t.TempDir())
			assert.ErrorIs(t, err, media.ErrUnsupportedSource)
		})
	}
}

func Test_SearchTarget(t *testing.T) {
	assert.Equal(t, "ytsearch1:Daft Punk One More Time", SearchTarget("Daft Punk One More Time"))
}

func Test_SanitiseTitle(t *testing.T) {
	tests := []struct {
		summary  string
		input    string
		expected string
	}{
		{"plain", "Song Title", "Song Title"},
		{"path separators", "a/b\\c", "a_b_c"},
		{"template markers", "100%(title)s", "100_(title)s"},
		{"parent traversal", "../../etc", "____etc"},
		{"empty", "   ", "audio"},
	}

	for _, tt := range tests {
		t.Run(tt.summary, func(t *testing.T) {
			assert.Equal(t, tt.expected, sanitiseTitle(tt.input))
		})
	}
}
