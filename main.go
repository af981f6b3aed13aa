package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/vortexbot/vortex/internal"
	"github.com/vortexbot/vortex/pkg/logger"
)

var log = logger.Get("Main")

// main is the entry point to the program; it loads the user
// configuration, constructs the application, and runs it until an
// interrupt/terminate signal arrives.
func main() {
	configPath := flag.String("config", internal.DefaultConfigPath(), "path to the YAML configuration file")
	verbose := flag.Bool("verbose", false, "enable verbose logging")
	flag.Parse()

	if *verbose {
		logger.SetMinLoggingLevel(logger.VERBOSE.Level())
	}

	config := internal.VortexConfig{}
	if err := config.LoadFromFile(*configPath); err != nil {
		log.Emit(logger.FATAL, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go listenForInterrupt(cancel)

	if err := internal.New(config).Run(ctx); err != nil {
		log.Emit(logger.FATAL, "Vortex stopped with error: %v\n", err)
		os.Exit(1)
	}

	log.Emit(logger.STOP, "Vortex shutdown complete\n")
}

func listenForInterrupt(cancel context.CancelFunc) {
	signalChannel := make(chan os.Signal, 1)
	signal.Notify(signalChannel, syscall.SIGINT, syscall.SIGTERM)

	<-signalChannel
	log.Emit(logger.STOP, "Interrupt received, shutting down...\n")
	cancel()
}
