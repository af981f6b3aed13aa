package ffmpeg

import (
	"context"
	"fmt"
	"strconv"

	"github.com/floostack/transcoder"
	"github.com/floostack/transcoder/ffmpeg"
	"github.com/vortexbot/vortex/pkg/logger"
)

var log = logger.Get("FFmpeg")

// Config holds the paths of the ffmpeg/ffprobe binaries on the host
// machine. Empty paths fall back to resolution via $PATH.
type Config struct {
	FfmpegBinPath  string `yaml:"ffmpeg_binary" env:"FFMPEG_BINARY_PATH" env-default:"ffmpeg"`
	FfprobeBinPath string `yaml:"ffprobe_binary" env:"FFPROBE_BINARY_PATH" env-default:"ffprobe"`
}

// Prober inspects media files using ffprobe.
type Prober struct {
	config Config
}

func NewProber(config Config) *Prober {
	return &Prober{config}
}

// ProbeDuration reads the container duration (in seconds) of the media
// file at the given path. An error is returned when ffprobe fails or
// when the container metadata carries no parseable duration (common
// for malformed or non-media files).
func (prober *Prober) ProbeDuration(path string) (float64, error) {
	cfg := &ffmpeg.Config{
		FfmpegBinPath:  prober.config.FfmpegBinPath,
		FfprobeBinPath: prober.config.FfprobeBinPath,
	}

	metadata, err := ffmpeg.New(cfg).Input(path).GetMetadata()
	if err != nil {
		return 0, fmt.Errorf("failed to extract file metadata information using ffprobe: %w", err)
	}

	duration, err := strconv.ParseFloat(metadata.GetFormat().GetDuration(), 64)
	if err != nil {
		return 0, fmt.Errorf("media metadata contains no parseable duration: %w", err)
	}

	return duration, nil
}

// Extractor produces audio-only renditions of media files using ffmpeg.
type Extractor struct {
	config Config
}

func NewExtractor(config Config) *Extractor {
	return &Extractor{config}
}

// ExtractAudio strips the video stream from the input and writes an
// mp3 encoded copy of the audio to the output path. The output file is
// overwritten if it already exists.
func (extractor *Extractor) ExtractAudio(ctx context.Context, inputPath string, outputPath string) error {
	overwrite := true
	skipVideo := true
	codec := "libmp3lame"
	format := "mp3"

	return extractor.run(ctx, inputPath, outputPath, &ffmpeg.Options{
		Overwrite:    &overwrite,
		SkipVideo:    &skipVideo,
		AudioCodec:   &codec,
		OutputFormat: &format,
	})
}

// ExtractWav writes a 16kHz mono PCM rendition of the inputs audio
// stream; the sample format expected by the speech inference engine.
func (extractor *Extractor) ExtractWav(ctx context.Context, inputPath string, outputPath string) error {
	overwrite := true
	skipVideo := true
	codec := "pcm_s16le"
	format := "wav"
	rate := 16000
	channels := 1

	return extractor.run(ctx, inputPath, outputPath, &ffmpeg.Options{
		Overwrite:     &overwrite,
		SkipVideo:     &skipVideo,
		AudioCodec:    &codec,
		AudioRate:     &rate,
		AudioChannels: &channels,
		OutputFormat:  &format,
	})
}

func (extractor *Extractor) run(ctx context.Context, inputPath string, outputPath string, opts transcoder.Options) error {
	cfg := &ffmpeg.Config{
		ProgressEnabled: true,
		FfmpegBinPath:   extractor.config.FfmpegBinPath,
		FfprobeBinPath:  extractor.config.FfprobeBinPath,
	}

	progressChannel, err := ffmpeg.
		New(cfg).
		Input(inputPath).
		Output(outputPath).
		WithContext(&ctx).
		Start(opts)
	if err != nil {
		return fmt.Errorf("ffmpeg extraction of %s failed: %w", inputPath, err)
	}

	// Drain until the channel closes; the command has finished (or been
	// cancelled via the context) once it does.
	for range progressChannel {
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	log.Emit(logger.DEBUG, "Extraction of %s -> %s complete\n", inputPath, outputPath)
	return nil
}
