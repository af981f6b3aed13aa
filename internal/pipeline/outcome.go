package pipeline

import "github.com/vortexbot/vortex/internal/media"

type OutcomeKind int

const (
	// VideoReady indicates a fetched video has been delivered; the
	// outcome may additionally carry a music match or a transcript
	// discovered in the video's audio.
	VideoReady OutcomeKind = iota

	// MusicFound indicates a musical work was identified but could not
	// be retrieved; the match carries an external link instead.
	MusicFound

	// MusicDownloaded indicates a recognized track was retrieved and
	// delivered as audio.
	MusicDownloaded

	// Transcript indicates no music was identified and the speech in
	// the media was converted to text.
	Transcript

	// ValidationFailed indicates the media breached the size/duration
	// policy; Violations lists every breach found.
	ValidationFailed

	// NotFound indicates the remote source refused to provide the
	// media, or a searched track could not be located.
	NotFound

	// NothingFound indicates the media passed validation but contained
	// neither recognizable music nor discernible speech.
	NothingFound

	// PipelineError indicates an unexpected internal failure. The user
	// receives a generic message and may simply resubmit.
	PipelineError
)

func (e OutcomeKind) String() string {
	return []string{
		"VIDEO_READY",
		"MUSIC_FOUND",
		"MUSIC_DOWNLOADED",
		"TRANSCRIPT",
		"VALIDATION_FAILED",
		"NOT_FOUND",
		"NOTHING_FOUND",
		"PIPELINE_ERROR",
	}[e]
}

// Outcome is the single terminal result of one pipeline run. Exactly
// one outcome is emitted per run, and by the time the caller holds it
// every temporary file the run accumulated has already been removed;
// artifact delivery happens inside the run, via the Delivery sink.
type Outcome struct {
	Kind       OutcomeKind
	Title      string
	Match      *media.RecognitionMatch
	Transcript string
	Violations []string
}
