// Package fetch resolves remote media URLs to local files via yt-dlp,
// enforcing size/duration ceilings while the transfer is in flight.
package fetch

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/lrstanley/go-ytdlp"
	"github.com/vortexbot/vortex/internal/media"
	"github.com/vortexbot/vortex/pkg/logger"
)

var log = logger.Get("Fetcher")

// Config holds the fetch policy. The ceilings are enforced BY yt-dlp
// during the transfer (via --max-filesize and a duration match
// filter), so violating streams are rejected mid-fetch rather than
// downloaded in full.
type Config struct {
	MaxSizeBytes       int64 `yaml:"max_size_bytes" env:"FETCH_MAX_SIZE_BYTES" env-default:"52428800"`
	MaxDurationSeconds int   `yaml:"max_duration_seconds" env:"FETCH_MAX_DURATION_SECONDS" env-default:"600"`
}

// Fetcher downloads remote media using yt-dlp. It holds only immutable
// policy configuration and is safe for concurrent use; each call
// writes exclusively inside the destination directory provided by the
// caller, which is expected to be a request-scoped namespace.
type Fetcher struct {
	config Config
}

func New(config Config) *Fetcher {
	return &Fetcher{config}
}

// SearchTarget converts a free-text query into a target yt-dlp will
// resolve to the single best matching upload.
func SearchTarget(query string) string {
	return "ytsearch1:" + query
}

// Video fetches the media behind the given URL as an mp4 into destDir.
//
// Returns media.ErrUnsupportedSource for URL schemes the extractor
// does not understand, and media.ErrNotFound when the remote site
// refuses or fails to serve the media (callers should suggest a direct
// file upload instead of a link).
func (fetcher *Fetcher) Video(ctx context.Context, mediaURL string, destDir string) (*media.DownloadResult, error) {
	parsed, err := url.Parse(mediaURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return nil, media.ErrUnsupportedSource
	}

	dl := ytdlp.New().
		Format("bestvideo*+bestaudio/best").
		MergeOutputFormat("mp4").
		NoPlaylist().
		RestrictFilenames().
		ForceOverwrites().
		ConcurrentFragments(4).
		MaxFileSize(fmt.Sprintf("%d", fetcher.config.MaxSizeBytes)).
		MatchFilters(fmt.Sprintf("duration <= %d", fetcher.config.MaxDurationSeconds)).
		Output(filepath.Join(destDir, "%(title)s.%(ext)s"))

	return fetcher.run(ctx, dl, mediaURL)
}

// Audio is the audio-only twin of Video, used by the music delivery
// flow. The target may be a URL or a free-text query (which is routed
// through yt-dlp's search resolver); the output file is named after
// desiredTitle rather than the remote upload's own title.
func (fetcher *Fetcher) Audio(ctx context.Context, target string, desiredTitle string, destDir string) (*media.DownloadResult, error) {
	if !strings.Contains(target, "://") && !strings.HasPrefix(target, "ytsearch") {
		target = SearchTarget(target)
	}

	dl := ytdlp.New().
		Format("bestaudio/best").
		ExtractAudio().
		AudioFormat("mp3").
		NoPlaylist().
		RestrictFilenames().
		ForceOverwrites().
		MaxFileSize(fmt.Sprintf("%d", fetcher.config.MaxSizeBytes)).
		MatchFilters(fmt.Sprintf("duration <= %d", fetcher.config.MaxDurationSeconds)).
		Output(filepath.Join(destDir, sanitiseTitle(desiredTitle)+".%(ext)s"))

	return fetcher.run(ctx, dl, target)
}

func (fetcher *Fetcher) run(ctx context.Context, dl *ytdlp.Command, target string) (*media.DownloadResult, error) {
	dl.ProgressFunc(time.Second, func(update ytdlp.ProgressUpdate) {
		logProgress(&update)
	})

	result, err := dl.Run(ctx, target)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		// Remote refusal, geo-blocks, filter rejections and extractor
		// failures all fold into a single negative outcome.
		log.Emit(logger.WARNING, "Fetch of %s failed: %v\n", target, err)
		return nil, media.ErrNotFound
	}

	info, err := result.GetExtractedInfo()
	if err != nil || len(info) == 0 || info[0].Filename == nil {
		log.Emit(logger.WARNING, "Fetch of %s produced no downloadable media\n", target)
		return nil, media.ErrNotFound
	}

	download := &media.DownloadResult{Path: *info[0].Filename, Title: "Unknown"}
	if info[0].Title != nil {
		download.Title = *info[0].Title
	}
	if info[0].Duration != nil {
		download.DurationSeconds = *info[0].Duration
	}
	if info[0].Thumbnail != nil {
		download.ThumbnailURL = *info[0].Thumbnail
	}

	if _, err := os.Stat(download.Path); err != nil {
		log.Emit(logger.WARNING, "Fetch of %s reported %s but the file does not exist\n", target, download.Path)
		return nil, media.ErrNotFound
	}

	log.Emit(logger.SUCCESS, "Fetched %s -> %s (%.0fs)\n", target, download.Path, download.DurationSeconds)
	return download, nil
}

func logProgress(update *ytdlp.ProgressUpdate) {
	if update.TotalBytes <= 0 {
		return
	}

	percent := float64(update.DownloadedBytes) / float64(update.TotalBytes) * 100
	eta := "??"
	if elapsed := time.Since(update.Started).Seconds(); elapsed > 0 && update.DownloadedBytes > 0 {
		bytesPerSecond := float64(update.DownloadedBytes) / elapsed
		remaining := float64(update.TotalBytes-update.DownloadedBytes) / bytesPerSecond
		eta = media.FormatDuration(remaining)
	}

	log.Emit(logger.VERBOSE, "Downloading... %.1f%% (ETA %s)\n", percent, eta)
}

// sanitiseTitle strips path separators and template markers from a
// caller-provided title so it cannot escape the destination directory
// or confuse yt-dlp's output templating.
func sanitiseTitle(title string) string {
	replacer := strings.NewReplacer("/", "_", "\\", "_", "%", "_", "..", "_")
	cleaned := strings.TrimSpace(replacer.Replace(title))
	if cleaned == "" {
		return "audio"
	}

	return cleaned
}
