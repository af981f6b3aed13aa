package media_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/vortexbot/vortex/internal/media"
)

func Test_FormatDuration(t *testing.T) {
	tests := []struct {
		summary  string
		seconds  float64
		expected string
	}{
		{"zero", 0, "00:00:00"},
		{"seconds only", 42, "00:00:42"},
		{"minutes", 185, "00:03:05"},
		{"hours", 3725.9, "01:02:05"},
	}

	for _, tt := range tests {
		t.Run(tt.summary, func(t *testing.T) {
			assert.Equal(t, tt.expected, media.FormatDuration(tt.seconds))
		})
	}
}

func Test_FormatSize(t *testing.T) {
	tests := []struct {
		summary  string
		size     int64
		expected string
	}{
		{"bytes", 512, "512.0 B"},
		{"kilobytes", 2048, "2.0 KB"},
		{"megabytes", 25 * 1024 * 1024, "25.0 MB"},
		{"gigabytes", 3 * 1024 * 1024 * 1024, "3.0 GB"},
	}

	for _, tt := range tests {
		t.Run(tt.summary, func(t *testing.T) {
			assert.Equal(t, tt.expected, media.FormatSize(tt.size))
		})
	}
}
