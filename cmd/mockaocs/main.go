// Command mockaocs is the mock AOCS endpoint: it runs the 80Hz simulation
// loop, the housekeeping scheduler, the PUS dispatcher, and the session
// server, and stops cleanly on SIGINT/SIGTERM/SIGHUP/SIGQUIT.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/aurora-scoe/aocs-scoe/internal/config"
	"github.com/aurora-scoe/aocs-scoe/internal/dispatch"
	"github.com/aurora-scoe/aocs-scoe/internal/endpoint"
	"github.com/aurora-scoe/aocs-scoe/internal/hkscheduler"
	"github.com/aurora-scoe/aocs-scoe/internal/pusseq"
	"github.com/aurora-scoe/aocs-scoe/internal/scoelog"
	"github.com/aurora-scoe/aocs-scoe/internal/simcore"
	"github.com/aurora-scoe/aocs-scoe/internal/telemetry"
)

const defaultConfigLoc = `/opt/aocs-scoe/etc/mockaocs.conf`

var confLoc = flag.String("config-file", defaultConfigLoc, "Location for configuration file")

func main() {
	flag.Parse()

	cfg, err := config.LoadEndpointConfig(*confLoc)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	lg, err := scoelog.NewStderrLogger(cfg.Global.Log_File)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open logger: %v\n", err)
		os.Exit(1)
	}
	if cfg.Global.Log_Level != "" {
		if err := lg.SetLevelString(cfg.Global.Log_Level); err != nil {
			lg.Fatal("invalid Log-Level", scoelog.KV("level", cfg.Global.Log_Level), scoelog.KV("err", err.Error()))
		}
	}

	sim := simcore.NewSim(rand.New(rand.NewSource(time.Now().UnixNano())))
	factory := pusseq.NewFactory(cfg.Global.APID, cfg.Global.Source_ID, nil)
	staging := dispatch.NewParamStaging()

	srv := endpoint.NewServer(lg)
	scheduler := hkscheduler.NewScheduler(factory, sim, srv, nil)
	registerDefaultStructures(cfg, scheduler)

	disp := dispatch.NewDispatcher(sim, scheduler, staging, factory, srv)
	latency := time.Duration(cfg.Global.Self_Test_Latency_Ms) * time.Millisecond
	disp.SetSelfTest(func() { time.Sleep(latency) })
	srv.SetDispatcher(disp)

	ctx, cancel := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return srv.Serve(cfg.Global.Bind_String)
	})
	g.Go(func() error {
		stop := make(chan struct{})
		go func() {
			<-gctx.Done()
			close(stop)
		}()
		scheduler.Run(stop)
		return nil
	})
	g.Go(func() error {
		runSimLoop(gctx, sim, cfg.Global.Tick_Rate_Hz)
		return nil
	})

	sig := config.WaitForQuit()
	lg.Info("shutting down", scoelog.KV("signal", sig.String()))
	cancel()
	srv.Close()

	if err := g.Wait(); err != nil {
		lg.Error("worker exited with error", scoelog.KV("err", err.Error()))
	}
}

// runSimLoop ticks sim at hz until ctx is canceled. A zero or negative hz
// falls back to the simulation's own fixed 80Hz step rate.
func runSimLoop(ctx context.Context, sim *simcore.Sim, hz float64) {
	if hz <= 0 {
		hz = simcore.TickRate
	}
	t := time.NewTicker(time.Duration(float64(time.Second) / hz))
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			sim.Tick()
		}
	}
}

// registerDefaultStructures creates and arms the six default housekeeping
// structures the controller's telemetry decoder expects to find
// (internal/telemetry.DefaultStructures), applying any interval/enabled
// overrides from the HK-Structure config sections.
func registerDefaultStructures(cfg *config.EndpointConfig, scheduler *hkscheduler.Scheduler) {
	overrides := make(map[uint16]*struct {
		Structure_ID uint16
		Interval_Sec float64
		Enabled      bool
		Parameter    []string
	})
	for _, s := range cfg.HK_Structure {
		overrides[s.Structure_ID] = s
	}

	for id, names := range telemetry.DefaultStructures {
		scheduler.Create(id)
		scheduler.SetParameters(id, names)
		scheduler.SetInterval(id, 1.0)
		scheduler.Enable(id)

		if ov, ok := overrides[id]; ok {
			if ov.Interval_Sec > 0 {
				scheduler.SetInterval(id, ov.Interval_Sec)
			}
			if len(ov.Parameter) > 0 {
				scheduler.SetParameters(id, ov.Parameter)
			}
			if ov.Enabled {
				scheduler.Enable(id)
			} else {
				scheduler.Disable(id)
			}
		}
	}
}
