package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tubedigest/pipeline"
	"tubedigest/shared/config"
	"tubedigest/shared/scheduler"

	flags "github.com/jessevdk/go-flags"
	log "github.com/sirupsen/logrus"
)

type Opts struct {
	ConfigPath string `long:"config" short:"c" description:"path to the configuration file" default:"config.yaml" env:"TUBEDIGEST_CONFIG"`
	Once       bool   `long:"once" description:"run one digest cycle and exit"`
	Debug      bool   `long:"debug" description:"enable debug logging"`
}

func main() {
	log.SetFormatter(&log.TextFormatter{
		TimestampFormat: time.RFC3339,
		FullTimestamp:   true,
	})

	opts := Opts{}
	if _, err := flags.Parse(&opts); err != nil {
		if flags.WroteHelp(err) {
			return
		}
		log.WithError(err).Fatal("failed to parse command line arguments")
	}

	if opts.Debug {
		log.SetLevel(log.DebugLevel)
	}

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		log.WithError(err).Fatal("failed to load configuration")
	}

	// Create context that responds to signals
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	agent := pipeline.NewDigest(cfg)
	s := scheduler.New(cfg, agent)

	if opts.Once {
		if err := agent.Initialize(); err != nil {
			log.WithError(err).Fatal("failed to initialize agent")
		}
		if err := s.RunOnce(ctx); err != nil {
			log.WithError(err).Fatal("run failed")
		}
		return
	}

	if err := s.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Fatal("scheduler failed")
	}
}
