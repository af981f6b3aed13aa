package internal

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/ilyakaznacheev/cleanenv"
	homedir "github.com/mitchellh/go-homedir"
	"github.com/vortexbot/vortex/internal/bot"
	"github.com/vortexbot/vortex/internal/database"
	"github.com/vortexbot/vortex/internal/fetch"
	"github.com/vortexbot/vortex/internal/ffmpeg"
	"github.com/vortexbot/vortex/internal/ingest"
	"github.com/vortexbot/vortex/internal/pipeline"
	"github.com/vortexbot/vortex/internal/recognize"
	"github.com/vortexbot/vortex/internal/transcribe"
)

const vortexUserDirSuffix = "/vortex/"

// VortexConfig is the struct used to contain the various user config
// supplied by file, or manually inside the code.
type VortexConfig struct {
	Concurrent  ConcurrentConfig        `yaml:"concurrency"`
	Ffmpeg      ffmpeg.Config           `yaml:"ffmpeg"`
	Fetch       fetch.Config            `yaml:"fetch"`
	Recognition recognize.Config        `yaml:"recognition" env-required:"true"`
	Transcribe  transcribe.Config       `yaml:"transcription"`
	Pipeline    pipeline.Config         `yaml:"pipeline"`
	Database    database.DatabaseConfig `yaml:"database" env-required:"true"`
	Bot         bot.Config              `yaml:"telegram" env-required:"true"`
	Ingest      ingest.Config           `yaml:"ingest"`
}

// ConcurrentConfig is a subset of the configuration that focuses only
// on the concurrency related configs (number of simultaneous
// transcription inferences).
type ConcurrentConfig struct {
	Transcription int `yaml:"transcription_threads" env:"CONCURRENCY_TRANSCRIPTION_THREADS" env-default:"2"`
}

// LoadFromFile loads a configuration file formatted in YAML in to a
// VortexConfig struct, with environment variables taking precedence.
func (config *VortexConfig) LoadFromFile(configPath string) error {
	if err := cleanenv.ReadConfig(configPath, config); err != nil {
		return fmt.Errorf("failed to load configuration - %v", err.Error())
	}

	config.applyDefaultPaths()
	return nil
}

// applyDefaultPaths fills in any unset directory paths with sensible
// per-user defaults so a minimal config file still works.
func (config *VortexConfig) applyDefaultPaths() {
	if config.Pipeline.TempDirPath == "" {
		config.Pipeline.TempDirPath = filepath.Join(os.TempDir(), vortexUserDirSuffix)
	}

	if config.Bot.DownloadDirPath == "" {
		config.Bot.DownloadDirPath = filepath.Join(config.Pipeline.TempDirPath, "uploads")
	}

	if config.Ingest.Enabled {
		home, err := homedir.Dir()
		if err != nil {
			panic(fmt.Sprintf("FAILURE to derive user home dir %s", err))
		}

		if config.Ingest.WatchPath == "" {
			config.Ingest.WatchPath = filepath.Join(home, vortexUserDirSuffix, "ingest")
		}
		if config.Ingest.OutputPath == "" {
			config.Ingest.OutputPath = filepath.Join(home, vortexUserDirSuffix, "output")
		}
	}
}

// DefaultConfigPath returns the conventional location of the config
// file inside the user's config directory.
func DefaultConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		panic(fmt.Sprintf("FAILURE to derive user config dir %s", err))
	}

	return filepath.Join(dir, vortexUserDirSuffix, "config.yaml")
}
