// Package recognize identifies musical works from audio signals by
// submitting an acoustic sample to a remote fingerprinting service.
// Recognition is strictly best-effort: extraction failures, network
// failures and genuine "no known song" responses all fold into a
// single miss result so the pipeline can fall back to transcription.
package recognize

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/vortexbot/vortex/internal/media"
	"github.com/vortexbot/vortex/pkg/logger"
)

var log = logger.Get("Recognizer")

// audioExtensions lists container formats which can be submitted to
// the fingerprinting service directly, without an extraction pass.
var audioExtensions = map[string]bool{
	".mp3": true, ".m4a": true, ".aac": true, ".ogg": true,
	".oga": true, ".opus": true, ".wav": true, ".flac": true,
}

type Config struct {
	APIToken       string `yaml:"api_token" env:"RECOGNIZER_API_TOKEN"`
	Endpoint       string `yaml:"endpoint" env:"RECOGNIZER_ENDPOINT" env-default:"https://api.audd.io/"`
	SearchEndpoint string `yaml:"search_endpoint" env:"RECOGNIZER_SEARCH_ENDPOINT" env-default:"https://itunes.apple.com/search"`
	TimeoutSeconds int    `yaml:"timeout_seconds" env:"RECOGNIZER_TIMEOUT_SECONDS" env-default:"30"`
}

type extractor interface {
	ExtractAudio(ctx context.Context, inputPath string, outputPath string) error
}

// Service submits audio samples to the fingerprinting endpoint and
// resolves title/artist pairs back to retrievable sources. It holds
// only immutable configuration and is safe for concurrent use.
type Service struct {
	config    Config
	extractor extractor
	client    *http.Client
}

func New(config Config, extractor extractor) *Service {
	return &Service{
		config:    config,
		extractor: extractor,
		client:    &http.Client{Timeout: time.Duration(config.TimeoutSeconds) * time.Second},
	}
}

// Recognize attempts to identify a musical work within the media file
// at the given path. Video containers have their audio stream
// extracted to a fresh temporary file first; that file is owned by
// this call and is deleted before returning on every exit path.
//
// A nil result means "no match" - the caller cannot (and need not)
// distinguish an unreachable service from an unknown song.
func (service *Service) Recognize(ctx context.Context, path string) *media.RecognitionMatch {
	samplePath := path

	if !audioExtensions[strings.ToLower(filepath.Ext(path))] {
		extracted := filepath.Join(filepath.Dir(path), fmt.Sprintf("sample-%s.mp3", uuid.New()))
		defer os.Remove(extracted)

		if err := service.extractor.ExtractAudio(ctx, path, extracted); err != nil {
			log.Emit(logger.WARNING, "Audio extraction from %s failed (%v) - treating as no match\n", path, err)
			return nil
		}

		samplePath = extracted
	}

	match, err := service.submitSample(ctx, samplePath)
	if err != nil {
		log.Emit(logger.WARNING, "Fingerprint lookup for %s failed (%v) - treating as no match\n", path, err)
		return nil
	}

	if match != nil {
		log.Emit(logger.SUCCESS, "Recognized %s as '%s'\n", path, match.Label())
	}

	return match
}

type auddResponse struct {
	Status string `json:"status"`
	Result *struct {
		Artist   string `json:"artist"`
		Title    string `json:"title"`
		SongLink string `json:"song_link"`
	} `json:"result"`
	Error *struct {
		ErrorCode    int    `json:"error_code"`
		ErrorMessage string `json:"error_message"`
	} `json:"error"`
}

func (service *Service) submitSample(ctx context.Context, samplePath string) (*media.RecognitionMatch, error) {
	file, err := os.Open(samplePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open audio sample: %w", err)
	}
	defer file.Close()

	body := &bytes.Buffer{}
	form := multipart.NewWriter(body)
	if err := form.WriteField("api_token", service.config.APIToken); err != nil {
		return nil, err
	}

	part, err := form.CreateFormFile("file", filepath.Base(samplePath))
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(part, file); err != nil {
		return nil, fmt.Errorf("failed to buffer audio sample: %w", err)
	}
	if err := form.Close(); err != nil {
		return nil, err
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, service.config.Endpoint, body)
	if err != nil {
		return nil, err
	}
	request.Header.Set("Content-Type", form.FormDataContentType())

	response, err := service.client.Do(request)
	if err != nil {
		return nil, fmt.Errorf("fingerprint service request failed: %w", err)
	}
	defer response.Body.Close()

	responseBody, err := io.ReadAll(response.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read fingerprint service response: %w", err)
	}
	if response.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fingerprint service returned HTTP %d", response.StatusCode)
	}

	var decoded auddResponse
	if err := json.Unmarshal(responseBody, &decoded); err != nil {
		return nil, fmt.Errorf("fingerprint service response could not be unmarshalled: %w", err)
	}

	if decoded.Status != "success" {
		if decoded.Error != nil {
			return nil, fmt.Errorf("fingerprint service error %d: %s", decoded.Error.ErrorCode, decoded.Error.ErrorMessage)
		}
		return nil, fmt.Errorf("fingerprint service reported status '%s'", decoded.Status)
	}

	// A successful response with a null result is the ordinary
	// "no known song" case.
	if decoded.Result == nil {
		return nil, nil
	}

	return &media.RecognitionMatch{
		Title:       orUnknown(decoded.Result.Title),
		Artist:      orUnknown(decoded.Result.Artist),
		ExternalURL: decoded.Result.SongLink,
	}, nil
}

func orUnknown(value string) string {
	if value == "" {
		return "Unknown"
	}

	return value
}
