package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/signalsfoundry/airspace-sentinel/core"
	"github.com/signalsfoundry/airspace-sentinel/internal/feedsim"
	"github.com/signalsfoundry/airspace-sentinel/internal/logging"
	"github.com/signalsfoundry/airspace-sentinel/timectrl"
)

func main() {
	addr := flag.String("addr", ":8081", "HTTP address of the simulated feed")
	aircraft := flag.Int("aircraft", 50, "number of simulated aircraft")
	tick := flag.Duration("tick", time.Second, "simulation tick")
	accelerated := flag.Bool("accelerated", false, "advance simulated time as fast as possible")
	failRate := flag.Float64("fail-rate", 0, "probability of an injected 503 per request")
	failure := flag.String("failure", "none", "initial failure mode: none|error|empty|slow")
	zonesFile := flag.String("zones", "", "zone file used to place loitering aircraft (built-in zones when empty)")
	flag.Parse()

	log := logging.NewFromEnv()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	zones := core.DefaultZones()
	if *zonesFile != "" {
		loaded, err := core.LoadZonesFile(*zonesFile)
		if err != nil {
			log.Error(ctx, "failed to load zones", logging.String("path", *zonesFile), logging.Err(err))
			os.Exit(1)
		}
		zones = loaded
	}

	mode, err := feedsim.ParseFailureMode(*failure)
	if err != nil {
		log.Error(ctx, "invalid failure mode", logging.Err(err))
		os.Exit(1)
	}

	sim, err := feedsim.New(feedsim.Config{Aircraft: *aircraft, Zones: zones, FailRate: *failRate})
	if err != nil {
		log.Error(ctx, "failed to build simulator", logging.Err(err))
		os.Exit(1)
	}
	sim.SetFailureMode(mode)

	clockMode := timectrl.RealTime
	if *accelerated {
		clockMode = timectrl.Accelerated
	}
	tc := timectrl.NewTimeController(time.Now().UTC(), *tick, clockMode)
	sim.Advance(tc.Now())
	tc.AddListener(sim.Advance)
	ticking := tc.Start(ctx, 0)

	srv := &http.Server{
		Addr:              *addr,
		Handler:           sim.Handler(log),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error(ctx, "feed simulator server exited", logging.Err(err))
			stop()
		}
	}()
	log.Info(ctx, "feed simulator running",
		logging.String("addr", *addr),
		logging.Int("aircraft", *aircraft),
		logging.Duration("tick", *tick),
		logging.String("failure", string(mode)),
	)

	<-ctx.Done()
	<-ticking

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	log.Info(shutdownCtx, "feed simulator stopped")
}
