// Package internal wires the individual services together into the
// running application: database, pipeline, Telegram front-end and the
// optional directory ingest service.
package internal

import (
	"context"
	"fmt"
	"sync"

	"github.com/jmoiron/sqlx"
	"github.com/vortexbot/vortex/internal/bot"
	"github.com/vortexbot/vortex/internal/database"
	"github.com/vortexbot/vortex/internal/fetch"
	"github.com/vortexbot/vortex/internal/ffmpeg"
	"github.com/vortexbot/vortex/internal/ingest"
	"github.com/vortexbot/vortex/internal/pipeline"
	"github.com/vortexbot/vortex/internal/recognize"
	"github.com/vortexbot/vortex/internal/transcribe"
	"github.com/vortexbot/vortex/internal/user"
	"github.com/vortexbot/vortex/internal/validate"
	"github.com/vortexbot/vortex/pkg/logger"
	"github.com/vortexbot/vortex/pkg/worker"
)

var log = logger.Get("Core")

type (
	RunnableService interface {
		Run(context.Context) error
	}

	DatabaseManager interface {
		Connect(database.DatabaseConfig) error
		GetSqlxDb() *sqlx.DB
	}
)

// vortexImpl represents the top-level object for the application, and
// is responsible for initialising the stores, services and connections
// that make it up.
type vortexImpl struct {
	config      VortexConfig
	db          DatabaseManager
	pool        *worker.WorkerPool
	coordinator *pipeline.Coordinator
	userStore   *user.Store

	botService    RunnableService
	ingestService RunnableService
}

func New(config VortexConfig) *vortexImpl {
	return &vortexImpl{
		config:    config,
		db:        database.New(),
		pool:      worker.NewWorkerPool(config.Concurrent.Transcription),
		userStore: user.NewStore(),
	}
}

// Run brings up the application: database connection and migrations,
// the transcription worker pool, the pipeline and its services, and
// finally the long-running front-ends.
//
// This function will not return until the application is stopped. To
// stop it, the provided context must be cancelled; errors from which a
// service cannot recover will also cause a stop.
func (vortex *vortexImpl) Run(parent context.Context) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	crashHandler := func(label string, err error) {
		log.Emit(logger.FATAL, "Service crash (%s)! %s\n", label, err.Error())
		cancel()
	}

	log.Emit(logger.NEW, "Connecting to database...\n")
	if err := vortex.db.Connect(vortex.config.Database); err != nil {
		return err
	}

	if err := vortex.pool.Start(); err != nil {
		return err
	}
	defer vortex.pool.Close()

	if err := vortex.initialiseServices(); err != nil {
		return err
	}

	wg := &sync.WaitGroup{}
	vortex.spawnAsyncService(ctx, wg, vortex.botService, "telegram-bot", crashHandler)
	if vortex.ingestService != nil {
		vortex.spawnAsyncService(ctx, wg, vortex.ingestService, "ingest-service", crashHandler)
	}
	log.Emit(logger.SUCCESS, "Vortex services spawned!\n")

	wg.Wait()
	return nil
}

// initialiseServices constructs the pipeline and the front-ends that
// drive it. Must only be called once the database has connected.
func (vortex *vortexImpl) initialiseServices() error {
	prober := ffmpeg.NewProber(vortex.config.Ffmpeg)
	extractor := ffmpeg.NewExtractor(vortex.config.Ffmpeg)

	db := vortex.db.GetSqlxDb()
	vortex.coordinator = pipeline.New(
		vortex.config.Pipeline,
		fetch.New(vortex.config.Fetch),
		validate.New(prober),
		recognize.New(vortex.config.Recognition, extractor),
		transcribe.New(vortex.config.Transcribe, prober, extractor, vortex.pool),
		user.NewActionRecorder(vortex.userStore, db),
	)

	botService, err := bot.New(vortex.config.Bot, vortex.coordinator, vortex.userStore, db)
	if err != nil {
		return fmt.Errorf("failed to construct telegram service: %w", err)
	}
	vortex.botService = botService

	if vortex.config.Ingest.Enabled {
		ingestService, err := ingest.New(vortex.config.Ingest, vortex.coordinator)
		if err != nil {
			return fmt.Errorf("failed to construct ingest service: %w", err)
		}
		vortex.ingestService = ingestService
	}

	return nil
}

// spawnAsyncService will run the provided service as it's own
// go-routine, ensuring that the service waitgroup is updated correctly.
func (vortex *vortexImpl) spawnAsyncService(ctx context.Context, wg *sync.WaitGroup, service RunnableService, serviceLabel string, crashHandler func(string, error)) {
	log.Emit(logger.NEW, "Spawning %s\n", serviceLabel)
	wg.Add(1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				crashHandler(serviceLabel, fmt.Errorf("panic %v", r))
			}
		}()

		defer wg.Done()
		if err := service.Run(ctx); err != nil {
			crashHandler(serviceLabel, err)
		}
	}()
}
