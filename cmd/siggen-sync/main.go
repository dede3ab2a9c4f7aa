package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/cenkalti/backoff"

	"github.com/rjboer/GoSigGen/internal/channel"
	"github.com/rjboer/GoSigGen/internal/config"
	"github.com/rjboer/GoSigGen/internal/connectionmgr"
	"github.com/rjboer/GoSigGen/internal/discovery"
	"github.com/rjboer/GoSigGen/internal/logging"
	"github.com/rjboer/GoSigGen/internal/osccontrol"
	"github.com/rjboer/GoSigGen/internal/syncer"
	"github.com/rjboer/GoSigGen/internal/telemetry"
)

func main() {
	cfg, err := config.Load(os.Args[1:], os.LookupEnv)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger := logging.New(cfg.LogLevel, cfg.LogFormat, os.Stderr)
	logging.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("starting signal generator sync (Ctrl+C to stop)",
		logging.F("config", cfg.Path),
		logging.F("server", serverLabel(cfg)),
		logging.F("channels", cfg.Channels()),
	)
	if err := run(ctx, cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("run sync loop: %v", err)
	}
	logger.Info("stopped")
}

func serverLabel(cfg config.Config) string {
	if cfg.Discover {
		return "mdns:" + discovery.ServiceType
	}
	return cfg.ServerAddr
}

// run wires the store, transport, control surfaces and loop, and blocks
// until ctx ends or the loop gives up.
func run(ctx context.Context, cfg config.Config, logger logging.Logger) error {
	store, err := newStore(cfg)
	if err != nil {
		return err
	}
	conn := newManager(cfg, logger)

	var reporters telemetry.MultiReporter
	if cfg.FreqSummary {
		reporters = append(reporters, telemetry.NewStdoutReporter(logger))
	}

	loop := syncer.New(store, conn, cfg.Plan, syncer.Options{
		Interval: cfg.Interval,
		Cadence:  cfg.Cadence,
		Backoff:  backoff.NewConstantBackOff(cfg.Backoff),
		Logger:   logger,
		// The hub joins the reporters below; it needs the loop as controller.
		Reporter: &reporters,
	})

	if cfg.HTTPAddr != "" {
		hub := telemetry.NewHub(cfg.HistoryLimit, loop, logger)
		reporters = append(reporters, hub)
		go telemetry.NewWebServer(cfg.HTTPAddr, hub).Start(ctx)
	}
	if cfg.OSCAddr != "" {
		osc, err := osccontrol.New(loop, logger)
		if err != nil {
			return fmt.Errorf("osc control: %w", err)
		}
		go func() {
			if err := osc.ListenAndServe(ctx, cfg.OSCAddr); err != nil {
				logger.Error("OSC control stopped", logging.Err(err))
			}
		}()
	}

	return loop.Run(ctx)
}

func newStore(cfg config.Config) (*channel.Store, error) {
	store, err := channel.NewStore(cfg.Channels(), cfg.Transform)
	if err != nil {
		return nil, err
	}
	for ch, freq := range cfg.Frequencies {
		if err := store.SetSignal(ch, freq, cfg.Phases[ch], cfg.Amplitudes[ch]); err != nil {
			return nil, fmt.Errorf("seed channel %d: %w", ch, err)
		}
	}
	return store, nil
}

func newManager(cfg config.Config, logger logging.Logger) *connectionmgr.Manager {
	m := connectionmgr.New(cfg.ServerAddr)
	m.ConnectTimeout = cfg.ConnectTimeout
	m.WriteTimeout = cfg.WriteTimeout
	m.Logger = logger
	if cfg.Discover {
		m.SetResolver(discovery.Resolver(discovery.ServiceType, cfg.ConnectTimeout, logger))
	}
	return m
}
