package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	influxdb2 "github.com/influxdata/influxdb-client-go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v2"

	"github.com/quietpanel/masker/pkg/dsp/gainctl"
	"github.com/quietpanel/masker/pkg/dsp/viz"
	"github.com/quietpanel/masker/pkg/masker"
	"github.com/quietpanel/masker/pkg/masker/config"
	"github.com/quietpanel/masker/pkg/masker/output"
	"github.com/quietpanel/masker/pkg/masker/source"
	fileSource "github.com/quietpanel/masker/pkg/masker/source/file"
	"github.com/quietpanel/masker/pkg/masker/source/sim"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr}).Level(zerolog.InfoLevel)
	configFile := flag.String("config", "masker.yaml", "YAML config file")

	flag.Parse()
	if configFile == nil {
		flag.Usage()
		os.Exit(1)
	}

	contents, err := os.ReadFile(*configFile)
	if err != nil {
		log.Fatal().Err(err).Msg("error reading config file")
	}
	opts := config.Default()
	if err := yaml.Unmarshal(contents, &opts); err != nil {
		log.Fatal().Err(err).Msg("error unmarshaling yaml file")
	}

	if err := opts.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	var src source.Source

	switch opts.Source {
	case "file":
		log.Info().Str("source", "file").Str("path", opts.PlaybackLocation).Msg("initializing ambient source...")
		fs, err := fileSource.NewFileSource(opts.PlaybackLocation, opts.UpdateInterval, true)
		if err != nil {
			log.Fatal().Str("source", "file").Err(err).Msg("failed to open playback file")
		}
		src = fs
	case "sim":
		log.Info().Str("source", "sim").Float64("ambient_rms", opts.SimAmbientRMS).Msg("initializing ambient source...")
		src = sim.NewSimSource(opts.SimAmbientRMS, opts.UpdateInterval)
	default:
		log.Fatal().Str("source", opts.Source).Msg("unknown ambient source")
	}

	var emitter masker.Emitter
	switch opts.Output {
	case "stdout":
		emitter = output.NewPCMWriterOutput(os.Stdout)
	case "discard", "":
		emitter = output.NewDiscardOutput()
	default:
		log.Fatal().Str("output", opts.Output).Msg("unknown output sink")
	}

	vizServer := viz.NewServer(opts.VizServer.Port, opts.VizServer.UpdateInterval)

	maskerOpts := []masker.MaskerOption{
		masker.WithVizServer(vizServer),
		masker.WithLogger(log.Logger),
	}
	if opts.InfluxDB.Host != "" {
		maskerOpts = append(maskerOpts, masker.WithInfluxDB(
			influxdb2.NewClient(opts.InfluxDB.Host, "").WriteAPI(opts.InfluxDB.Organization, opts.InfluxDB.Bucket)))
	}

	m, err := masker.New(src,
		masker.Options{
			SampleRate: opts.SampleRate,
			BlockSize:  opts.BlockSize,
			Controller: gainctl.Config{
				Target:   opts.TargetRMS,
				KP:       opts.KP,
				KI:       opts.KI,
				GainMin:  opts.GainMin,
				GainMax:  opts.GainMax,
				MaxStep:  opts.GainStepMax,
				Interval: opts.UpdateInterval,
			},
			SPLOffsetDB: opts.SPLOffsetDB,
			MaxSPL:      opts.MaxSPL,
			Emitters:    []masker.Emitter{emitter},
		}, maskerOpts...)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create masker")
	}

	eg, ctx := errgroup.WithContext(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	eg.Go(func() error {

		select {
		case <-sigChan:
		case <-ctx.Done():
		}

		return m.Stop()
	})

	eg.Go(func() error {
		return m.Start(ctx)
	})

	if err := eg.Wait(); err != nil && err != context.Canceled {
		log.Fatal().Err(err).Msg("exited program")
	}
}
