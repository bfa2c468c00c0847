// Command pipewired is the media graph daemon's entry point: it loads
// config, starts the control loop, the configured number of data loops,
// and the metrics listener, wires up a graph, and runs until signalled
// (§2 Data flow, §5 concurrency model).
/*
 * Copyright (c) 2018-2021, NVIDIA CORPORATION. All rights reserved.
 */
package main

import (
	"context"
	stderrors "errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/553481221/pipewire/cmn/nlog"
	"github.com/553481221/pipewire/config"
	"github.com/553481221/pipewire/graph"
	"github.com/553481221/pipewire/loop"
	"github.com/553481221/pipewire/metrics"
	"github.com/553481221/pipewire/pool"
	"github.com/553481221/pipewire/registry"
	"github.com/553481221/pipewire/sys"
	"github.com/553481221/pipewire/wire"
)

func main() {
	app := &cli.App{
		Name:  "pipewired",
		Usage: "media graph daemon",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Value: "",
				Usage: "path to pipewired.yaml",
			},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		nlog.Errorf("pipewired: %v", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	nlog.SetTitle("pipewired")

	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return errors.Wrap(err, "pipewired: loading config")
	}
	nlog.SetLevel(cfg.Log.Level)

	sys.SetMaxProcs()
	nlog.Infof("pipewired: %d cpu(s) available (containerized=%v)", sys.NumCPU(), sys.Containerized())
	if cfg.DataLoop.Count > sys.NumCPU() {
		nlog.Warningf("pipewired: data_loop.count (%d) exceeds available CPUs (%d)", cfg.DataLoop.Count, sys.NumCPU())
	}

	p := pool.New()
	reg := registry.New()
	control := loop.NewControlLoop()
	m := metrics.New()

	dataLoops := make([]*loop.DataLoop, cfg.DataLoop.Count)
	for i := range dataLoops {
		dataLoops[i] = loop.NewDataLoop(5 * time.Millisecond)
	}
	g := graph.New(p, reg, control, dataLoops...)
	g.SetMetrics(m)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, gctx := errgroup.WithContext(ctx)

	control.Start()
	for _, dl := range dataLoops {
		dl.Start()
	}

	srv := &http.Server{Addr: cfg.Metrics.Listen, Handler: m.Handler()}
	group.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "pipewired: metrics listener")
		}
		return nil
	})

	reg.Subscribe(func(ev wire.RegistryEvent) {
		nlog.Infof("registry: %v %s %q", ev.Kind, ev.ObjectKind, ev.ID)
	})
	_ = g // the graph is wired here, metered, and left idle; node/link
	// construction is driven by whatever external interface (§6) a
	// deployment adds on top.

	group.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			nlog.Warningf("pipewired: metrics shutdown: %v", err)
		}
		return nil
	})

	<-ctx.Done()
	nlog.Infof("pipewired: shutting down")
	for _, dl := range dataLoops {
		dl.Stop()
	}
	control.Stop()

	return group.Wait()
}
