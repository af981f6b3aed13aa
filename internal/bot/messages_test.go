package bot

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vortexbot/vortex/internal/media"
	"github.com/vortexbot/vortex/internal/pipeline"
	"github.com/vortexbot/vortex/internal/user"
	"github.com/vortexbot/vortex/pkg/logger"
)

func init() {
	logger.SetMinLoggingLevel(logger.FATAL.Level())
}

func Test_RenderOutcome(t *testing.T) {
	match := &media.RecognitionMatch{Title: "Yesterday", Artist: "The Beatles", ExternalURL: "https://lis.tn/abc"}

	tests := []struct {
		summary  string
		outcome  pipeline.Outcome
		expected []string
	}{
		{"video with recognized track", pipeline.Outcome{Kind: pipeline.VideoReady, Match: match}, []string{"Yesterday - The Beatles", "https://lis.tn/abc"}},
		{"video with transcript", pipeline.Outcome{Kind: pipeline.VideoReady, Transcript: "hello world"}, []string{"hello world"}},
		{"video with nothing", pipeline.Outcome{Kind: pipeline.VideoReady}, []string{"couldn't recognize"}},
		{"match without track audio", pipeline.Outcome{Kind: pipeline.MusicFound, Match: match}, []string{"Yesterday - The Beatles", "https://lis.tn/abc"}},
		{"downloaded track", pipeline.Outcome{Kind: pipeline.MusicDownloaded, Match: match}, []string{"Yesterday - The Beatles"}},
		{"transcript", pipeline.Outcome{Kind: pipeline.Transcript, Transcript: "only speech"}, []string{"only speech"}},
		{"validation failure lists violations", pipeline.Outcome{Kind: pipeline.ValidationFailed, Violations: []string{"too big", "too long"}}, []string{"too big", "too long"}},
		{"not found", pipeline.Outcome{Kind: pipeline.NotFound}, []string{"couldn't find"}},
		{"nothing found", pipeline.Outcome{Kind: pipeline.NothingFound}, []string{"couldn't recognize"}},
		{"pipeline error", pipeline.Outcome{Kind: pipeline.PipelineError}, []string{"went wrong"}},
	}

	for _, test := range tests {
		t.Run(test.summary, func(t *testing.T) {
			rendered := renderOutcome(test.outcome)
			for _, fragment := range test.expected {
				assert.Contains(t, rendered, fragment)
			}
		})
	}
}

func Test_OutcomeKeyboard_OnlyForMatches(t *testing.T) {
	match := &media.RecognitionMatch{Title: "Yesterday", Artist: "The Beatles"}

	assert.Nil(t, outcomeKeyboard(pipeline.Outcome{Kind: pipeline.Transcript, Transcript: "x"}))
	assert.Nil(t, outcomeKeyboard(pipeline.Outcome{Kind: pipeline.VideoReady}))
	assert.Nil(t, outcomeKeyboard(pipeline.Outcome{Kind: pipeline.MusicDownloaded, Match: match}))

	keyboard := outcomeKeyboard(pipeline.Outcome{Kind: pipeline.MusicFound, Match: match})
	require.NotNil(t, keyboard)
	require.Len(t, keyboard.InlineKeyboard, 1)
	require.Len(t, keyboard.InlineKeyboard[0], 1)

	data := keyboard.InlineKeyboard[0][0].CallbackData
	require.NotNil(t, data)
	assert.Equal(t, "download_music:Yesterday - The Beatles", *data)
}

func Test_OutcomeKeyboard_CallbackDataFitsTelegramLimit(t *testing.T) {
	match := &media.RecognitionMatch{
		Title:  strings.Repeat("a", 100),
		Artist: strings.Repeat("b", 100),
	}

	keyboard := outcomeKeyboard(pipeline.Outcome{Kind: pipeline.MusicFound, Match: match})
	require.NotNil(t, keyboard)

	data := keyboard.InlineKeyboard[0][0].CallbackData
	require.NotNil(t, data)
	assert.LessOrEqual(t, len(*data), maxCallbackDataLength)
	assert.True(t, strings.HasPrefix(*data, downloadMusicCallbackPrefix))
}

func Test_ChunkMessage(t *testing.T) {
	t.Run("short text is untouched", func(t *testing.T) {
		assert.Equal(t, []string{"hello"}, chunkMessage("hello"))
	})

	t.Run("long text is split under the limit", func(t *testing.T) {
		chunks := chunkMessage(strings.Repeat("a", maxMessageLength*2+100))

		assert.Len(t, chunks, 3)
		total := 0
		for _, chunk := range chunks {
			assert.LessOrEqual(t, len([]rune(chunk)), maxMessageLength)
			total += len(chunk)
		}
		assert.Equal(t, maxMessageLength*2+100, total)
	})

	t.Run("prefers newline boundaries", func(t *testing.T) {
		text := strings.Repeat("a", maxMessageLength-10) + "\n" + strings.Repeat("b", 100)
		chunks := chunkMessage(text)

		require.Len(t, chunks, 2)
		assert.True(t, strings.HasSuffix(chunks[0], "\n"))
		assert.Equal(t, strings.Repeat("b", 100), chunks[1])
	})
}

func Test_Truncate_NeverSplitsRunes(t *testing.T) {
	text := strings.Repeat("я", 40)
	truncated := truncate(text, 63)

	assert.LessOrEqual(t, len(truncated), 63)
	assert.True(t, strings.HasSuffix(truncated, "я"))
}

func Test_RenderUserStats(t *testing.T) {
	assert.Contains(t, renderUserStats(&user.Stats{}), "haven't used")

	when := time.Date(2024, 5, 1, 12, 30, 0, 0, time.UTC)
	rendered := renderUserStats(&user.Stats{TotalActions: 7, LastActionAt: &when})
	assert.Contains(t, rendered, "7 requests")
	assert.Contains(t, rendered, "2024-05-01 12:30")
}

func Test_IsWebURL(t *testing.T) {
	assert.True(t, isWebURL("https://youtu.be/abc"))
	assert.True(t, isWebURL("http://example.com/watch?v=1"))
	assert.False(t, isWebURL("never gonna give you up"))
	assert.False(t, isWebURL("ftp://example.com/file"))
	assert.False(t, isWebURL("https://"))
}
