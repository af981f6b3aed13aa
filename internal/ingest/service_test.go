package ingest

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vortexbot/vortex/internal/pipeline"
	"github.com/vortexbot/vortex/pkg/logger"
)

func init() {
	logger.SetMinLoggingLevel(logger.FATAL.Level())
}

type stubRunner struct {
	mu    sync.Mutex
	paths []string
	ran   chan string
}

func newStubRunner() *stubRunner {
	return &stubRunner{ran: make(chan string, 8)}
}

func (runner *stubRunner) RunUpload(_ context.Context, _ int64, path string, _ string, _ pipeline.Delivery) pipeline.Outcome {
	runner.mu.Lock()
	runner.paths = append(runner.paths, path)
	runner.mu.Unlock()

	os.Remove(path)
	runner.ran <- path
	return pipeline.Outcome{Kind: pipeline.NothingFound}
}

func awaitRun(t *testing.T, runner *stubRunner) string {
	select {
	case path := <-runner.ran:
		return path
	case <-time.After(time.Second * 5):
		t.Fatal("timed out waiting for pipeline dispatch")
		return ""
	}
}

func Test_DiscoverNewFiles_DispatchesSettledFiles(t *testing.T) {
	watchDir := t.TempDir()
	runner := newStubRunner()
	service, err := New(Config{WatchPath: watchDir, OutputPath: t.TempDir()}, runner)
	require.NoError(t, err)

	path := filepath.Join(watchDir, "sample.mp3")
	require.NoError(t, os.WriteFile(path, []byte("audio"), 0o644))

	service.DiscoverNewFiles(context.Background())

	assert.Equal(t, path, awaitRun(t, runner))
}

func Test_DiscoverNewFiles_DoesNotDispatchSameFileTwice(t *testing.T) {
	watchDir := t.TempDir()
	runner := newStubRunner()
	service, err := New(Config{WatchPath: watchDir, OutputPath: t.TempDir(), RequiredModTimeAgeSeconds: 3600}, runner)
	require.NoError(t, err)

	path := filepath.Join(watchDir, "sample.mp3")
	require.NoError(t, os.WriteFile(path, []byte("audio"), 0o644))

	// Fresh modtime: the file is claimed and held, and a rescan must
	// not claim it again.
	service.DiscoverNewFiles(context.Background())
	service.DiscoverNewFiles(context.Background())

	service.Lock()
	defer service.Unlock()
	assert.Len(t, service.holdTimers, 1)
	assert.Empty(t, runner.paths)
}

func Test_New_RejectsFileAsWatchPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "not-a-dir")
	require.NoError(t, os.WriteFile(path, []byte{}, 0o644))

	_, err := New(Config{WatchPath: path, OutputPath: dir}, newStubRunner())
	assert.ErrorContains(t, err, "is not a directory")
}

func Test_New_CreatesMissingDirectories(t *testing.T) {
	dir := t.TempDir()
	watchPath := filepath.Join(dir, "watch")
	outputPath := filepath.Join(dir, "out")

	_, err := New(Config{WatchPath: watchPath, OutputPath: outputPath}, newStubRunner())
	require.NoError(t, err)

	assert.DirExists(t, watchPath)
	assert.DirExists(t, outputPath)
}

func Test_FileSink_WritesArtifactsNamedAfterSource(t *testing.T) {
	outputDir := t.TempDir()
	workspace := t.TempDir()
	sink := newFileSink(outputDir, "/ingest/holiday recording.mp4")

	trackPath := filepath.Join(workspace, "track.mp3")
	require.NoError(t, os.WriteFile(trackPath, []byte("track-bytes"), 0o644))

	require.NoError(t, sink.DeliverText("hello there"))
	require.NoError(t, sink.DeliverAudio(trackPath, "Song", "Artist"))

	transcript, err := os.ReadFile(filepath.Join(outputDir, "holiday recording.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello there", string(transcript))

	track, err := os.ReadFile(filepath.Join(outputDir, "Song - Artist.mp3"))
	require.NoError(t, err)
	assert.Equal(t, "track-bytes", string(track))
}

func Test_WalkFileSystem_SkipsKnownPaths(t *testing.T) {
	dir := t.TempDir()
	known := filepath.Join(dir, "known.mp3")
	fresh := filepath.Join(dir, "nested", "fresh.mp3")
	require.NoError(t, os.MkdirAll(filepath.Dir(fresh), 0o755))
	require.NoError(t, os.WriteFile(known, []byte{}, 0o644))
	require.NoError(t, os.WriteFile(fresh, []byte{}, 0o644))

	found, err := walkFileSystem(dir, map[string]bool{known: true})
	require.NoError(t, err)

	assert.Len(t, found, 1)
	assert.Contains(t, found, fresh)
}
