// Package ingest watches a directory on the host file system and feeds
// any media file dropped into it through the upload pipeline,
// depositing the resulting artifacts (recognized tracks, transcripts)
// into an output directory. It exists for headless use alongside the
// chat front-end.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rjeczalik/notify"
	"github.com/vortexbot/vortex/internal/pipeline"
	"github.com/vortexbot/vortex/pkg/logger"
)

var log = logger.Get("IngestServ")

type Config struct {
	Enabled bool `yaml:"enabled" env:"INGEST_ENABLED" env-default:"false"`

	// The path to the directory the service should monitor for new
	// files. Files are CONSUMED: the pipeline deletes them once
	// processed.
	WatchPath string `yaml:"watch_path" env:"INGEST_WATCH_PATH"`

	// Where artifacts for processed files are written.
	OutputPath string `yaml:"output_path" env:"INGEST_OUTPUT_PATH"`

	// The service uses a directory watcher, but a 'force' sync is
	// performed on a regular interval to protect against the watcher
	// failing.
	ForceSyncSeconds int `yaml:"force_sync_seconds" env:"INGEST_FORCE_SYNC_SECONDS" env-default:"30"`

	// When a new file is detected, it's likely to be an in-progress
	// copy or download. As we cannot KNOW when it's complete, we
	// instead wait for the 'modtime' of the file to be at least this
	// long in the past before processing.
	RequiredModTimeAgeSeconds int `yaml:"required_modtime_age_seconds" env:"INGEST_MODTIME_AGE_SECONDS" env-default:"10"`
}

func (config *Config) RequiredModTimeAgeDuration() time.Duration {
	return time.Duration(config.RequiredModTimeAgeSeconds) * time.Second
}

type runner interface {
	RunUpload(ctx context.Context, userID int64, path string, kind string, delivery pipeline.Delivery) pipeline.Outcome
}

// ingestService monitors the configured directory and runs each newly
// settled file through the pipeline. Files currently being written to
// are placed on hold until their modtime stops moving.
type ingestService struct {
	*sync.Mutex

	runner runner
	config Config

	// claimed tracks paths that are on hold or currently being
	// processed, so a rescan never dispatches the same file twice.
	claimed    map[string]bool
	holdTimers map[string]*time.Timer
}

// New creates a new ingest service using the provided config for
// subsequent calls to 'Run'.
//
// Both configured paths are validated to be existing directories;
// missing directories are created, and an error is returned if either
// path points to an existing FILE.
func New(config Config, runner runner) (*ingestService, error) {
	for _, path := range []string{config.WatchPath, config.OutputPath} {
		if info, err := os.Stat(path); err == nil {
			if !info.IsDir() {
				return nil, fmt.Errorf("ingest path '%s' is not a directory", path)
			}
		} else if errors.Is(err, os.ErrNotExist) {
			if err := os.MkdirAll(path, os.ModeDir|os.ModePerm); err != nil {
				return nil, fmt.Errorf("ingest path '%s' could not be created: %w", path, err)
			}
		} else {
			return nil, fmt.Errorf("ingest path '%s' could not be accessed: %w", path, err)
		}
	}

	return &ingestService{
		Mutex:      &sync.Mutex{},
		runner:     runner,
		config:     config,
		claimed:    make(map[string]bool),
		holdTimers: make(map[string]*time.Timer),
	}, nil
}

// Run is the main entry point of this service. It's responsible for
// listening to the OS file system and responding to change events, as
// well as regularly polling the file system irrespective of the
// watcher. To kill the service, the calling code should cancel the
// context provided.
func (service *ingestService) Run(ctx context.Context) error {
	fsNotifyChannel := make(chan notify.EventInfo, 8)
	if err := notify.Watch(service.config.WatchPath, fsNotifyChannel, notify.Create, notify.Write, notify.Rename); err != nil {
		return fmt.Errorf("failed to watch '%s': %w", service.config.WatchPath, err)
	}
	defer notify.Stop(fsNotifyChannel)

	forceSyncChannel := time.NewTicker(time.Second * time.Duration(service.config.ForceSyncSeconds))
	defer forceSyncChannel.Stop()
	defer service.clearAllHoldTimers()

	service.DiscoverNewFiles(ctx)

	for {
		select {
		case <-fsNotifyChannel:
			service.DiscoverNewFiles(ctx)
		case <-forceSyncChannel.C:
			service.DiscoverNewFiles(ctx)
		case <-ctx.Done():
			return nil
		}
	}
}

// DiscoverNewFiles scans the watch directory for unclaimed files.
// Files whose modtime is recent enough to suggest an in-progress write
// are placed on hold and re-evaluated later; settled files are
// dispatched to the pipeline immediately.
//
// Note: This function takes ownership of the mutex, and releases it
// when returning.
func (service *ingestService) DiscoverNewFiles(ctx context.Context) {
	service.Lock()
	defer service.Unlock()

	newItems, err := walkFileSystem(service.config.WatchPath, service.claimed)
	if err != nil {
		log.Emit(logger.ERROR, "File system polling failed: %v\n", err)
		return
	}

	minModtimeAge := service.config.RequiredModTimeAgeDuration()
	for path, info := range newItems {
		service.claimed[path] = true

		if age := time.Since(info.ModTime()); age < minModtimeAge {
			service.scheduleHoldTimer(ctx, path, minModtimeAge-age)
			continue
		}

		service.dispatch(ctx, path)
	}
}

// evaluateHold re-checks a held path's modtime once its hold timer
// fires; a file still being written to is re-held, a file that has
// gone away is released, and a settled file is dispatched.
//
// Note: this function takes ownership of the mutex, and releases it
// when returning.
func (service *ingestService) evaluateHold(ctx context.Context, path string) {
	service.Lock()
	defer service.Unlock()

	info, err := os.Stat(path)
	if err != nil {
		delete(service.claimed, path)
		return
	}

	minModtimeAge := service.config.RequiredModTimeAgeDuration()
	if age := time.Since(info.ModTime()); age < minModtimeAge {
		service.scheduleHoldTimer(ctx, path, minModtimeAge-age)
		return
	}

	service.dispatch(ctx, path)
}

// dispatch hands the file to the pipeline on a new goroutine. The
// pipeline takes ownership of the file and deletes it; the claim on
// the path is released once the run terminates so a later file with
// the same name is processed afresh.
func (service *ingestService) dispatch(ctx context.Context, path string) {
	log.Emit(logger.INFO, "Ingesting %s\n", path)

	go func() {
		outcome := service.runner.RunUpload(ctx, 0, path, "ingest", newFileSink(service.config.OutputPath, path))
		log.Emit(logger.INFO, "Ingest of %s finished: %s\n", path, outcome.Kind)

		service.Lock()
		defer service.Unlock()
		delete(service.claimed, path)
	}()
}

// scheduleHoldTimer will call evaluateHold for the path provided after
// the delay specified has elapsed. Any existing hold timer for the
// path is *cancelled* before the new timer is created.
func (service *ingestService) scheduleHoldTimer(ctx context.Context, path string, delay time.Duration) {
	service.clearHoldTimer(path)
	service.holdTimers[path] = time.AfterFunc(delay, func() {
		service.evaluateHold(ctx, path)
	})
}

func (service *ingestService) clearHoldTimer(path string) {
	if timer, ok := service.holdTimers[path]; ok {
		timer.Stop()
		delete(service.holdTimers, path)
	}
}

func (service *ingestService) clearAllHoldTimers() {
	service.Lock()
	defer service.Unlock()

	for key, timer := range service.holdTimers {
		timer.Stop()
		delete(service.holdTimers, key)
	}
}

// walkFileSystem walks the directory provided and constructs a map of
// all the files inside (including any inside of nested directories).
// Files whose paths are included in the 'known' map are NOT included
// in the result.
func walkFileSystem(rootDirPath string, known map[string]bool) (map[string]fs.FileInfo, error) {
	foundItems := make(map[string]fs.FileInfo)
	err := filepath.WalkDir(rootDirPath, func(path string, dir fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if dir.IsDir() {
			return nil
		}

		if _, ok := known[path]; !ok {
			fileInfo, err := dir.Info()
			if err != nil {
				return err
			}
			foundItems[path] = fileInfo
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk file system: %w", err)
	}

	return foundItems, nil
}
