package pipeline_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vortexbot/vortex/internal/media"
	"github.com/vortexbot/vortex/internal/pipeline"
	"github.com/vortexbot/vortex/pkg/logger"
)

func init() {
	logger.SetMinLoggingLevel(logger.FATAL.Level())
}

type mockFetcher struct {
	videoErr   error
	audioErr   error
	videoPanic bool
	videoCalls int
	audioCalls int
}

func (mock *mockFetcher) Video(_ context.Context, _ string, destDir string) (*media.DownloadResult, error) {
	mock.videoCalls++
	if mock.videoPanic {
		panic("extractor exploded")
	}
	if mock.videoErr != nil {
		return nil, mock.videoErr
	}

	path := filepath.Join(destDir, "video.mp4")
	if err := os.WriteFile(path, []byte("video bytes"), 0o644); err != nil {
		return nil, err
	}

	return &media.DownloadResult{Path: path, Title: "Test Video", DurationSeconds: 30}, nil
}

func (mock *mockFetcher) Audio(_ context.Context, _ string, title string, destDir string) (*media.DownloadResult, error) {
	mock.audioCalls++
	if mock.audioErr != nil {
		return nil, mock.audioErr
	}

	path := filepath.Join(destDir, title+".mp3")
	if err := os.WriteFile(path, []byte("audio bytes"), 0o644); err != nil {
		return nil, err
	}

	return &media.DownloadResult{Path: path, Title: title}, nil
}

type mockValidator struct {
	violations []string
	calls      int
}

func (mock *mockValidator) Validate(string, int64, float64) media.ValidationOutcome {
	mock.calls++
	return media.ValidationOutcome{
		Valid:      len(mock.violations) == 0,
		Violations: mock.violations,
	}
}

type mockRecognizer struct {
	match          *media.RecognitionMatch
	searchMatch    *media.RecognitionMatch
	recognizeCalls int
	searchCalls    int
}

func (mock *mockRecognizer) Recognize(context.Context, string) *media.RecognitionMatch {
	mock.recognizeCalls++
	return mock.match
}

func (mock *mockRecognizer) SearchByQuery(context.Context, string) *media.RecognitionMatch {
	mock.searchCalls++
	return mock.searchMatch
}

type mockTranscriber struct {
	transcript string
	calls      int
}

func (mock *mockTranscriber) Transcribe(context.Context, string) (string, bool) {
	mock.calls++
	return mock.transcript, mock.transcript != ""
}

type mockDelivery struct {
	videos []string
	audios []string
	texts  []string
}

func (mock *mockDelivery) DeliverVideo(path string, _ string) error {
	mock.videos = append(mock.videos, path)
	return nil
}

func (mock *mockDelivery) DeliverAudio(path string, _ string, _ string) error {
	mock.audios = append(mock.audios, path)
	return nil
}

func (mock *mockDelivery) DeliverText(text string) error {
	mock.texts = append(mock.texts, text)
	return nil
}

type harness struct {
	coordinator *pipeline.Coordinator
	tempRoot    string
	fetcher     *mockFetcher
	validator   *mockValidator
	recognizer  *mockRecognizer
	transcriber *mockTranscriber
	delivery    *mockDelivery
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	h := &harness{
		tempRoot:    t.TempDir(),
		fetcher:     &mockFetcher{},
		validator:   &mockValidator{},
		recognizer:  &mockRecognizer{},
		transcriber: &mockTranscriber{},
		delivery:    &mockDelivery{},
	}

	h.coordinator = pipeline.New(pipeline.Config{
		TempDirPath:              h.tempRoot,
		VideoMaxSizeBytes:        50 * 1024 * 1024,
		VideoMaxDurationSeconds:  600,
		UploadMaxSizeBytes:       25 * 1024 * 1024,
		UploadMaxDurationSeconds: 300,
	}, h.fetcher, h.validator, h.recognizer, h.transcriber, nil)

	return h
}

// assertNoOrphanedFiles asserts the cleanup-completeness property: no
// request workspace survives a terminated pipeline run.
func (h *harness) assertNoOrphanedFiles(t *testing.T) {
	t.Helper()

	entries, err := os.ReadDir(h.tempRoot)
	require.NoError(t, err)
	assert.Empty(t, entries, "request workspaces must not outlive the run")
}

func (h *harness) newUpload(t *testing.T) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "voice.ogg")
	require.NoError(t, os.WriteFile(path, []byte("voice bytes"), 0o644))
	return path
}

func Test_RunURL_FetchRefusalIsNotFound(t *testing.T) {
	h := newHarness(t)
	h.fetcher.videoErr = media.ErrNotFound

	outcome := h.coordinator.RunURL(context.Background(), 1, "https://example.com/blocked", h.delivery)

	assert.Equal(t, pipeline.NotFound, outcome.Kind)
	assert.Zero(t, h.validator.calls)
	h.assertNoOrphanedFiles(t)
}

func Test_RunURL_ValidationFailureShortCircuits(t *testing.T) {
	h := newHarness(t)
	h.validator.violations = []string{"File too large (60.0 MB). Maximum size: 50.0 MB"}

	outcome := h.coordinator.RunURL(context.Background(), 1, "https://example.com/watch", h.delivery)

	assert.Equal(t, pipeline.ValidationFailed, outcome.Kind)
	require.Len(t, outcome.Violations, 1)
	assert.Contains(t, outcome.Violations[0], "too large")

	// Short-circuit ordering: neither classification stage may run.
	assert.Zero(t, h.recognizer.recognizeCalls)
	assert.Zero(t, h.transcriber.calls)
	assert.Empty(t, h.delivery.videos)
	h.assertNoOrphanedFiles(t)
}

func Test_RunURL_MatchSkipsTranscription(t *testing.T) {
	h := newHarness(t)
	h.recognizer.match = &media.RecognitionMatch{Title: "One More Time", Artist: "Daft Punk"}
	h.transcriber.transcript = "should never be produced"

	outcome := h.coordinator.RunURL(context.Background(), 1, "https://example.com/watch", h.delivery)

	assert.Equal(t, pipeline.VideoReady, outcome.Kind)
	assert.Equal(t, "Test Video", outcome.Title)
	require.NotNil(t, outcome.Match)
	assert.Equal(t, "One More Time", outcome.Match.Title)

	// Mutual exclusivity: a confirmed match must suppress transcription.
	assert.Zero(t, h.transcriber.calls)
	assert.Len(t, h.delivery.videos, 1, "video must be delivered before cleanup")
	h.assertNoOrphanedFiles(t)
}

func Test_RunURL_MissFallsBackToTranscript(t *testing.T) {
	h := newHarness(t)
	h.transcriber.transcript = "hello world"

	outcome := h.coordinator.RunURL(context.Background(), 1, "https://example.com/watch", h.delivery)

	assert.Equal(t, pipeline.VideoReady, outcome.Kind)
	assert.Nil(t, outcome.Match)
	assert.Equal(t, "hello world", outcome.Transcript)
	assert.Equal(t, 1, h.recognizer.recognizeCalls)
	h.assertNoOrphanedFiles(t)
}

func Test_RunURL_ComponentPanicBecomesPipelineError(t *testing.T) {
	h := newHarness(t)
	h.fetcher.videoPanic = true

	var outcome pipeline.Outcome
	assert.NotPanics(t, func() {
		outcome = h.coordinator.RunURL(context.Background(), 1, "https://example.com/watch", h.delivery)
	})

	assert.Equal(t, pipeline.PipelineError, outcome.Kind)
	h.assertNoOrphanedFiles(t)
}

func Test_RunUpload_ValidationFailureShortCircuits(t *testing.T) {
	h := newHarness(t)
	h.validator.violations = []string{"File too large (30.0 MB). Maximum size: 25.0 MB"}

	outcome := h.coordinator.RunUpload(context.Background(), 1, h.newUpload(t), "audio", h.delivery)

	assert.Equal(t, pipeline.ValidationFailed, outcome.Kind)
	require.Len(t, outcome.Violations, 1)
	assert.Contains(t, outcome.Violations[0], "too large")
	assert.Zero(t, h.recognizer.recognizeCalls)
	assert.Zero(t, h.transcriber.calls)
	h.assertNoOrphanedFiles(t)
}

func Test_RunUpload_VoiceClipTranscribed(t *testing.T) {
	h := newHarness(t)
	h.transcriber.transcript = "hello world"

	outcome := h.coordinator.RunUpload(context.Background(), 1, h.newUpload(t), "voice", h.delivery)

	assert.Equal(t, pipeline.Transcript, outcome.Kind)
	assert.Equal(t, "hello world", outcome.Transcript)
	assert.Equal(t, 1, h.recognizer.recognizeCalls, "recognition must be attempted before transcription")
	h.assertNoOrphanedFiles(t)
}

func Test_RunUpload_MatchRetrievesAndDeliversAudio(t *testing.T) {
	h := newHarness(t)
	h.recognizer.match = &media.RecognitionMatch{Title: "One More Time", Artist: "Daft Punk"}

	outcome := h.coordinator.RunUpload(context.Background(), 1, h.newUpload(t), "audio", h.delivery)

	assert.Equal(t, pipeline.MusicDownloaded, outcome.Kind)
	assert.Zero(t, h.transcriber.calls)
	assert.Len(t, h.delivery.audios, 1)
	h.assertNoOrphanedFiles(t)
}

func Test_RunUpload_MatchWithoutRetrievableAudioReportsMatch(t *testing.T) {
	h := newHarness(t)
	h.recognizer.match = &media.RecognitionMatch{Title: "One More Time", Artist: "Daft Punk", ExternalURL: "https://lis.tn/abc"}
	h.fetcher.audioErr = media.ErrNotFound

	outcome := h.coordinator.RunUpload(context.Background(), 1, h.newUpload(t), "audio", h.delivery)

	assert.Equal(t, pipeline.MusicFound, outcome.Kind)
	require.NotNil(t, outcome.Match)
	assert.Equal(t, "https://lis.tn/abc", outcome.Match.ExternalURL)
	h.assertNoOrphanedFiles(t)
}

func Test_RunUpload_NothingFound(t *testing.T) {
	h := newHarness(t)

	outcome := h.coordinator.RunUpload(context.Background(), 1, h.newUpload(t), "audio", h.delivery)

	assert.Equal(t, pipeline.NothingFound, outcome.Kind)
	assert.Equal(t, 1, h.recognizer.recognizeCalls)
	assert.Equal(t, 1, h.transcriber.calls)
	h.assertNoOrphanedFiles(t)
}

func Test_RunUpload_TakesOwnershipOfUploadedFile(t *testing.T) {
	tests := []struct {
		summary string
		prepare func(h *harness)
	}{
		{"validation failure", func(h *harness) { h.validator.violations = []string{"too big"} }},
		{"nothing found", func(*harness) {}},
		{"transcribed", func(h *harness) { h.transcriber.transcript = "hi" }},
		{"music downloaded", func(h *harness) {
			h.recognizer.match = &media.RecognitionMatch{Title: "T", Artist: "A"}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.summary, func(t *testing.T) {
			h := newHarness(t)
			tt.prepare(h)

			path := h.newUpload(t)
			h.coordinator.RunUpload(context.Background(), 1, path, "audio", h.delivery)

			assert.NoFileExists(t, path, "uploaded file must be deleted by the coordinator")
			h.assertNoOrphanedFiles(t)
		})
	}
}

func Test_RunMusicDownload_SearchMissIsNotFound(t *testing.T) {
	h := newHarness(t)

	outcome := h.coordinator.RunMusicDownload(context.Background(), 1, "unknown song", h.delivery)

	assert.Equal(t, pipeline.NotFound, outcome.Kind)
	assert.Zero(t, h.fetcher.audioCalls)
	h.assertNoOrphanedFiles(t)
}

func Test_RunMusicDownload_DeliversAudio(t *testing.T) {
	h := newHarness(t)
	h.recognizer.searchMatch = &media.RecognitionMatch{Title: "One More Time", Artist: "Daft Punk"}

	outcome := h.coordinator.RunMusicDownload(context.Background(), 1, "One More Time Daft Punk", h.delivery)

	assert.Equal(t, pipeline.MusicDownloaded, outcome.Kind)
	assert.Len(t, h.delivery.audios, 1)
	h.assertNoOrphanedFiles(t)
}

func Test_RunMusicDownload_UnretrievableTrackIsNotFound(t *testing.T) {
	h := newHarness(t)
	h.recognizer.searchMatch = &media.RecognitionMatch{Title: "One More Time", Artist: "Daft Punk"}
	h.fetcher.audioErr = media.ErrNotFound

	outcome := h.coordinator.RunMusicDownload(context.Background(), 1, "One More Time Daft Punk", h.delivery)

	assert.Equal(t, pipeline.NotFound, outcome.Kind)
	h.assertNoOrphanedFiles(t)
}
