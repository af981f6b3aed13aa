// Package pipeline coordinates the media acquisition and
// classification sequence: fetch or receive a file, validate it
// against policy, attempt music fingerprint recognition, fall back to
// speech transcription, and emit exactly one terminal outcome - while
// guaranteeing that no temporary file survives the run, regardless of
// which branch terminated it or whether a component panicked.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/vortexbot/vortex/internal/media"
	"github.com/vortexbot/vortex/pkg/logger"
)

var log = logger.Get("Pipeline")

// Config carries the validation ceilings for each intake path. Video
// fetches tolerate larger media than direct uploads, which continue on
// to recognition/transcription immediately.
type Config struct {
	TempDirPath              string  `yaml:"temp_dir" env:"PIPELINE_TEMP_DIR"`
	VideoMaxSizeBytes        int64   `yaml:"video_max_size_bytes" env:"PIPELINE_VIDEO_MAX_SIZE_BYTES" env-default:"52428800"`
	VideoMaxDurationSeconds  float64 `yaml:"video_max_duration_seconds" env:"PIPELINE_VIDEO_MAX_DURATION_SECONDS" env-default:"600"`
	UploadMaxSizeBytes       int64   `yaml:"upload_max_size_bytes" env:"PIPELINE_UPLOAD_MAX_SIZE_BYTES" env-default:"26214400"`
	UploadMaxDurationSeconds float64 `yaml:"upload_max_duration_seconds" env:"PIPELINE_UPLOAD_MAX_DURATION_SECONDS" env-default:"300"`
}

type (
	fetcher interface {
		Video(ctx context.Context, mediaURL string, destDir string) (*media.DownloadResult, error)
		Audio(ctx context.Context, target string, desiredTitle string, destDir string) (*media.DownloadResult, error)
	}

	validator interface {
		Validate(path string, maxSizeBytes int64, maxDurationSeconds float64) media.ValidationOutcome
	}

	recognizer interface {
		Recognize(ctx context.Context, path string) *media.RecognitionMatch
		SearchByQuery(ctx context.Context, query string) *media.RecognitionMatch
	}

	transcriber interface {
		Transcribe(ctx context.Context, path string) (string, bool)
	}

	// ActionSink receives best-effort usage accounting; failures are
	// the sink's concern and never abort a run.
	ActionSink interface {
		LogAction(ctx context.Context, userID int64, kind string)
	}

	// Delivery is the file-delivery sink provided by the front-end.
	// Artifacts are handed off through it BEFORE the run's temporary
	// files are removed; delivery failures are the collaborator's
	// concern.
	Delivery interface {
		DeliverVideo(path string, caption string) error
		DeliverAudio(path string, title string, artist string) error
		DeliverText(text string) error
	}
)

// Coordinator sequences the pipeline components. Each instance holds
// only immutable configuration and collaborator handles; every run
// gets its own uuid-named workspace directory, so concurrent runs
// never share mutable state.
type Coordinator struct {
	config      Config
	fetcher     fetcher
	validator   validator
	recognizer  recognizer
	transcriber transcriber
	actions     ActionSink
}

func New(config Config, fetcher fetcher, validator validator, recognizer recognizer, transcriber transcriber, actions ActionSink) *Coordinator {
	return &Coordinator{
		config:      config,
		fetcher:     fetcher,
		validator:   validator,
		recognizer:  recognizer,
		transcriber: transcriber,
		actions:     actions,
	}
}

// RunURL executes the link intake flow: fetch the video behind the
// URL, validate it, deliver it, then classify its audio (music match
// first, transcript as the fallback).
func (coordinator *Coordinator) RunURL(ctx context.Context, userID int64, mediaURL string, delivery Delivery) Outcome {
	return coordinator.run(ctx, userID, "url", func(workspace string) Outcome {
		download, err := coordinator.fetcher.Video(ctx, mediaURL, workspace)
		if err != nil {
			if errors.Is(err, media.ErrNotFound) || errors.Is(err, media.ErrUnsupportedSource) {
				return Outcome{Kind: NotFound}
			}

			log.Emit(logger.ERROR, "Fetch of %s failed unexpectedly: %v\n", mediaURL, err)
			return Outcome{Kind: PipelineError}
		}

		validation := coordinator.validator.Validate(download.Path, coordinator.config.VideoMaxSizeBytes, coordinator.config.VideoMaxDurationSeconds)
		if !validation.Valid {
			return Outcome{Kind: ValidationFailed, Violations: validation.Violations}
		}

		if err := delivery.DeliverVideo(download.Path, download.Title); err != nil {
			log.Emit(logger.WARNING, "Video delivery for %s failed: %v\n", mediaURL, err)
		}

		outcome := Outcome{Kind: VideoReady, Title: download.Title}
		if match := coordinator.recognizer.Recognize(ctx, download.Path); match != nil {
			outcome.Match = match
			return outcome
		}

		if transcript, ok := coordinator.transcriber.Transcribe(ctx, download.Path); ok {
			outcome.Transcript = transcript
		}

		return outcome
	})
}

// RunUpload executes the direct upload flow. The coordinator takes
// ownership of the uploaded file at path and deletes it before
// returning, on every exit path.
func (coordinator *Coordinator) RunUpload(ctx context.Context, userID int64, path string, kind string, delivery Delivery) Outcome {
	return coordinator.run(ctx, userID, "upload_"+kind, func(workspace string) Outcome {
		defer removeFile(path)

		validation := coordinator.validator.Validate(path, coordinator.config.UploadMaxSizeBytes, coordinator.config.UploadMaxDurationSeconds)
		if !validation.Valid {
			return Outcome{Kind: ValidationFailed, Violations: validation.Violations}
		}

		if match := coordinator.recognizer.Recognize(ctx, path); match != nil {
			return coordinator.retrieveTrack(ctx, match, workspace, delivery)
		}

		if transcript, ok := coordinator.transcriber.Transcribe(ctx, path); ok {
			return Outcome{Kind: Transcript, Transcript: transcript}
		}

		return Outcome{Kind: NothingFound}
	})
}

// RunMusicDownload executes the on-demand "download this recognized
// song" flow: resolve the query to a retrievable track, fetch its
// audio, and deliver it.
func (coordinator *Coordinator) RunMusicDownload(ctx context.Context, userID int64, query string, delivery Delivery) Outcome {
	return coordinator.run(ctx, userID, "music_download", func(workspace string) Outcome {
		match := coordinator.recognizer.SearchByQuery(ctx, query)
		if match == nil {
			return Outcome{Kind: NotFound}
		}

		outcome := coordinator.retrieveTrack(ctx, match, workspace, delivery)
		if outcome.Kind == MusicFound {
			// The caller asked for a download specifically; a bare
			// match with no retrievable audio is a miss here.
			return Outcome{Kind: NotFound}
		}

		return outcome
	})
}

// retrieveTrack fetches the audio for a recognized track into the
// workspace and delivers it. When the audio cannot be retrieved the
// match itself is still reported, with its external link.
func (coordinator *Coordinator) retrieveTrack(ctx context.Context, match *media.RecognitionMatch, workspace string, delivery Delivery) Outcome {
	download, err := coordinator.fetcher.Audio(ctx, match.Label(), match.Label(), workspace)
	if err != nil {
		log.Emit(logger.INFO, "Audio retrieval for '%s' failed (%v) - reporting match only\n", match.Label(), err)
		return Outcome{Kind: MusicFound, Match: match}
	}

	if err := delivery.DeliverAudio(download.Path, match.Title, match.Artist); err != nil {
		log.Emit(logger.WARNING, "Audio delivery for '%s' failed: %v\n", match.Label(), err)
	}

	return Outcome{Kind: MusicDownloaded, Match: match}
}

// run wraps a flow in the guarantees every pipeline run shares: a
// collision-free workspace directory which is removed unconditionally
// once the flow terminates, panic containment, and best-effort action
// accounting.
func (coordinator *Coordinator) run(ctx context.Context, userID int64, kind string, flow func(workspace string) Outcome) (outcome Outcome) {
	workspace := filepath.Join(coordinator.config.TempDirPath, fmt.Sprintf("request-%s", uuid.New()))
	if err := os.MkdirAll(workspace, 0o755); err != nil {
		log.Emit(logger.ERROR, "Failed to create workspace %s: %v\n", workspace, err)
		return Outcome{Kind: PipelineError}
	}

	defer func() {
		if err := os.RemoveAll(workspace); err != nil {
			log.Emit(logger.ERROR, "Failed to remove workspace %s: %v\n", workspace, err)
		}

		if r := recover(); r != nil {
			log.Emit(logger.ERROR, "Pipeline run (%s) panicked: %v\n", kind, r)
			outcome = Outcome{Kind: PipelineError}
		}

		if coordinator.actions != nil {
			coordinator.actions.LogAction(ctx, userID, kind)
		}

		log.Emit(logger.INFO, "Pipeline run (%s) terminal outcome: %s\n", kind, outcome.Kind)
	}()

	return flow(workspace)
}

func removeFile(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Emit(logger.WARNING, "Failed to remove %s: %v\n", path, err)
	}
}
