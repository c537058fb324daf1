package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"screenspool/internal/collector"
	"screenspool/internal/constants"
	"screenspool/internal/logger"
	"screenspool/internal/registry"
	"screenspool/internal/utils"
)

func main() {
	port := flag.Int("port", 0, "listen port")
	flag.Parse()

	if *port < constants.MinPort || *port > constants.MaxPort {
		fmt.Fprintln(os.Stderr, constants.MsgInvalidPort)
		fmt.Fprintln(os.Stderr, constants.MsgCollectorUsage)
		os.Exit(2)
	}

	// Optional .env for registry and logging knobs.
	godotenv.Load()

	var events *logger.Logger
	if utils.GetEnv("SCREENSPOOL_EVENT_LOG", "") == "1" {
		var err error
		events, err = logger.NewLogger("collector-" + uuid.New().String())
		if err != nil {
			log.Printf("Warning: event log disabled: %v", err)
		} else {
			defer events.Close()
			logger.Infof("Event log: %s", events.GetLogPath())
		}
	}

	store := registry.NewStore()
	recorder := registry.NewRecorder(store)
	defer recorder.Close()

	sink := collector.NewSink(constants.ScreenshotDir)

	reactor, err := collector.NewReactor(*port, sink, recorder, events)
	if err != nil {
		log.Fatalf("Failed to start collector: %v", err)
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigs
		logger.Infof("Shutting down...")
		reactor.Stop()
	}()

	if err := reactor.Run(); err != nil {
		log.Fatalf("Collector failed: %v", err)
	}
}
