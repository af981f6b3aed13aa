package bot

import (
	"fmt"
	"strings"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/vortexbot/vortex/internal/media"
	"github.com/vortexbot/vortex/internal/pipeline"
	"github.com/vortexbot/vortex/internal/user"
)

// Telegram rejects messages longer than this; transcripts are chunked
// to fit.
const maxMessageLength = 4096

const (
	downloadMusicCallbackPrefix = "download_music:"
	maxCallbackDataLength       = 64
)

const welcomeMessage = `Hi! Send me a link to a video and I'll fetch it, tell you which song is playing in it, or transcribe the speech if no music is found.

You can also send me an audio file, a voice message or a video directly - or just type the name of a song to download it.`

func renderOutcome(outcome pipeline.Outcome) string {
	switch outcome.Kind {
	case pipeline.VideoReady:
		return renderClassification(outcome)
	case pipeline.MusicFound:
		return fmt.Sprintf("This sounds like %s, but I couldn't fetch the track itself.\n%s", outcome.Match.Label(), outcome.Match.ExternalURL)
	case pipeline.MusicDownloaded:
		return fmt.Sprintf("Found it: %s", outcome.Match.Label())
	case pipeline.Transcript:
		return "Here's what I heard:\n\n" + outcome.Transcript
	case pipeline.ValidationFailed:
		return "I can't process this file:\n- " + strings.Join(outcome.Violations, "\n- ")
	case pipeline.NotFound:
		return "Sorry, I couldn't find anything for that."
	case pipeline.NothingFound:
		return "I couldn't recognize any music or make out any speech in this one."
	default:
		return "Something went wrong on my end. Please try again later."
	}
}

// renderClassification produces the follow-up message for a fetched
// video: the recognized track, the transcript, or an honest shrug.
func renderClassification(outcome pipeline.Outcome) string {
	if outcome.Match != nil {
		return fmt.Sprintf("The song in this video is %s\n%s", outcome.Match.Label(), outcome.Match.ExternalURL)
	}

	if outcome.Transcript != "" {
		return "No music found, but here's what I heard:\n\n" + outcome.Transcript
	}

	return "I couldn't recognize any music or make out any speech in this one."
}

// outcomeKeyboard returns the inline keyboard to attach to the
// outcome's message, if any. A bare music match gets a download
// button whose callback carries the track label.
func outcomeKeyboard(outcome pipeline.Outcome) *tgbotapi.InlineKeyboardMarkup {
	var match *media.RecognitionMatch
	switch outcome.Kind {
	case pipeline.MusicFound:
		match = outcome.Match
	case pipeline.VideoReady:
		match = outcome.Match
	}

	if match == nil {
		return nil
	}

	data := truncate(downloadMusicCallbackPrefix+match.Label(), maxCallbackDataLength)
	keyboard := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Download this track", data),
		),
	)

	return &keyboard
}

func renderUserStats(stats *user.Stats) string {
	if stats.TotalActions == 0 {
		return "You haven't used the bot yet - send me a link!"
	}

	return fmt.Sprintf("You've made %d requests. Last one: %s", stats.TotalActions, stats.LastActionAt.Format("2006-01-02 15:04"))
}

func renderGlobalStats(stats *user.GlobalStats) string {
	return fmt.Sprintf("Users: %d\nRequests: %d\nActive today: %d", stats.TotalUsers, stats.TotalActions, stats.ActiveToday)
}

// chunkMessage splits text into Telegram-sized pieces, preferring to
// break on a newline when one falls in the final stretch of a chunk.
func chunkMessage(text string) []string {
	runes := []rune(text)
	if len(runes) <= maxMessageLength {
		return []string{text}
	}

	chunks := make([]string, 0, (len(runes)/maxMessageLength)+1)
	for len(runes) > 0 {
		if len(runes) <= maxMessageLength {
			chunks = append(chunks, string(runes))
			break
		}

		split := maxMessageLength
		for i := maxMessageLength - 1; i > maxMessageLength-256; i-- {
			if runes[i] == '\n' {
				split = i + 1
				break
			}
		}

		chunks = append(chunks, string(runes[:split]))
		runes = runes[split:]
	}

	return chunks
}

func truncate(text string, limit int) string {
	if len(text) <= limit {
		return text
	}

	truncated := text[:limit]
	// Don't leave a mangled multi-byte sequence at the cut point.
	for len(truncated) > 0 && !utf8.ValidString(truncated) {
		truncated = truncated[:len(truncated)-1]
	}

	return truncated
}
