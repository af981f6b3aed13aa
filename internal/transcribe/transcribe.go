// Package transcribe converts speech audio to text by running a local
// whisper.cpp binary. Inference is CPU-bound and synchronous, so every
// invocation is dispatched onto a shared worker pool rather than run
// on the goroutine servicing the request.
package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/vortexbot/vortex/internal/media"
	"github.com/vortexbot/vortex/pkg/logger"
	"github.com/vortexbot/vortex/pkg/worker"
)

var log = logger.Get("Transcriber")

// Config holds the inference setup and the transcription-specific
// ceilings. These are deliberately stricter than the validator's
// limits; transcription is far more expensive per second of audio
// than fingerprinting.
type Config struct {
	BinaryPath         string  `yaml:"binary" env:"WHISPER_BINARY_PATH" env-default:"whisper-cli"`
	ModelPath          string  `yaml:"model" env:"WHISPER_MODEL_PATH" env-default:"models/ggml-base.bin"`
	Language           string  `yaml:"language" env:"WHISPER_LANGUAGE" env-default:"auto"`
	Threads            int     `yaml:"threads" env:"WHISPER_THREADS" env-default:"4"`
	MaxSizeBytes       int64   `yaml:"max_size_bytes" env:"TRANSCRIBE_MAX_SIZE_BYTES" env-default:"26214400"`
	MaxDurationSeconds float64 `yaml:"max_duration_seconds" env:"TRANSCRIBE_MAX_DURATION_SECONDS" env-default:"180"`
}

type prober interface {
	ProbeDuration(path string) (float64, error)
}

type wavExtractor interface {
	ExtractWav(ctx context.Context, inputPath string, outputPath string) error
}

type dispatcher interface {
	Dispatch(ctx context.Context, task worker.Task) error
}

// Service performs speech-to-text on local media files. It holds only
// immutable configuration and collaborator handles, making it safe
// for concurrent use from many request goroutines; the worker pool
// bounds how many inference runs execute at once.
type Service struct {
	config    Config
	prober    prober
	extractor wavExtractor
	pool      dispatcher

	// execute runs the inference binary; indirected for testing.
	execute func(ctx context.Context, name string, args ...string) error
}

func New(config Config, prober prober, extractor wavExtractor, pool dispatcher) *Service {
	return &Service{
		config:    config,
		prober:    prober,
		extractor: extractor,
		pool:      pool,
		execute:   runCommand,
	}
}

// Transcribe converts the speech inside the media file at the given
// path to a single flat string; segment texts concatenated in temporal
// order, joined with single spaces. The boolean reports whether a
// transcript was produced. Any internal failure (oversized input,
// extraction failure, model error, unreadable output) yields a miss
// rather than an error.
func (service *Service) Transcribe(ctx context.Context, path string) (string, bool) {
	info, err := os.Stat(path)
	if err != nil {
		log.Emit(logger.WARNING, "Cannot transcribe %s - file cannot be statted: %v\n", path, err)
		return "", false
	}
	if info.Size() > service.config.MaxSizeBytes {
		log.Emit(logger.INFO, "Refusing to transcribe %s - %s exceeds the %s transcription ceiling\n",
			path, media.FormatSize(info.Size()), media.FormatSize(service.config.MaxSizeBytes))
		return "", false
	}

	duration, err := service.prober.ProbeDuration(path)
	if err != nil {
		// Unknown duration bypasses the gate, mirroring the
		// validator's lenient-on-unknown policy.
		log.Emit(logger.WARNING, "Duration of %s could not be determined (%v) - duration gate bypassed\n", path, err)
		duration = 0
	}
	if duration > service.config.MaxDurationSeconds {
		log.Emit(logger.INFO, "Refusing to transcribe %s - %s exceeds the %s transcription ceiling\n",
			path, media.FormatDuration(duration), media.FormatDuration(service.config.MaxDurationSeconds))
		return "", false
	}

	wavPath := filepath.Join(filepath.Dir(path), fmt.Sprintf("speech-%s.wav", uuid.New()))
	defer os.Remove(wavPath)

	if err := service.extractor.ExtractWav(ctx, path, wavPath); err != nil {
		log.Emit(logger.WARNING, "WAV extraction from %s failed (%v) - no transcript\n", path, err)
		return "", false
	}

	transcript, err := service.runInference(ctx, wavPath)
	if err != nil {
		log.Emit(logger.WARNING, "Transcription of %s failed: %v\n", path, err)
		return "", false
	}
	if transcript == "" {
		log.Emit(logger.INFO, "No speech detected in %s\n", path)
		return "", false
	}

	log.Emit(logger.SUCCESS, "Transcribed %s (%d characters)\n", path, len(transcript))
	return transcript, true
}

// runInference executes the whisper binary against the prepared WAV
// file on the worker pool, then parses the JSON segment output it
// leaves behind.
func (service *Service) runInference(ctx context.Context, wavPath string) (string, error) {
	outputPrefix := strings.TrimSuffix(wavPath, filepath.Ext(wavPath))
	outputPath := outputPrefix + ".json"
	defer os.Remove(outputPath)

	args := []string{
		"-m", service.config.ModelPath,
		"-f", wavPath,
		"-l", service.config.Language,
		"-t", strconv.Itoa(service.config.Threads),
		"-oj",
		"-np",
		"--output-file", outputPrefix,
	}

	var inferenceErr error
	if err := service.pool.Dispatch(ctx, func() {
		inferenceErr = service.execute(ctx, service.config.BinaryPath, args...)
	}); err != nil {
		return "", err
	}
	if inferenceErr != nil {
		return "", inferenceErr
	}

	return parseSegmentOutput(outputPath)
}

type segmentOutput struct {
	Transcription []struct {
		Text string `json:"text"`
	} `json:"transcription"`
}

// parseSegmentOutput reads the whisper JSON output file and joins the
// text of every speech segment, in playback order, with single spaces.
func parseSegmentOutput(outputPath string) (string, error) {
	raw, err := os.ReadFile(outputPath)
	if err != nil {
		return "", fmt.Errorf("inference produced no readable output: %w", err)
	}

	var output segmentOutput
	if err := json.Unmarshal(raw, &output); err != nil {
		return "", fmt.Errorf("inference output could not be unmarshalled: %w", err)
	}

	parts := make([]string, 0, len(output.Transcription))
	for _, segment := range output.Transcription {
		if text := strings.TrimSpace(segment.Text); text != "" {
			parts = append(parts, text)
		}
	}

	return strings.Join(parts, " "), nil
}

func runCommand(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if message := strings.TrimSpace(stderr.String()); message != "" {
			return fmt.Errorf("command '%s' failed: %w - stderr: %s", name, err, message)
		}
		return fmt.Errorf("command '%s' failed: %w", name, err)
	}

	return nil
}
