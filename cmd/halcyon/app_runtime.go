package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/halcyon-home/halcyon/internal/analytics"
	"github.com/halcyon-home/halcyon/internal/buildinfo"
	"github.com/halcyon-home/halcyon/internal/bus"
	"github.com/halcyon-home/halcyon/internal/clock"
	"github.com/halcyon-home/halcyon/internal/config"
	"github.com/halcyon-home/halcyon/internal/facade"
	"github.com/halcyon-home/halcyon/internal/focus"
	"github.com/halcyon-home/halcyon/internal/hostdb"
	"github.com/halcyon-home/halcyon/internal/hub"
	"github.com/halcyon-home/halcyon/internal/hvac"
	"github.com/halcyon-home/halcyon/internal/locks"
	"github.com/halcyon-home/halcyon/internal/mirror"
	"github.com/halcyon-home/halcyon/internal/packages"
	"github.com/halcyon-home/halcyon/internal/security"
	"github.com/halcyon-home/halcyon/internal/sleep"
	"github.com/halcyon-home/halcyon/internal/solar"
	"github.com/halcyon-home/halcyon/internal/subsys"
	"github.com/halcyon-home/halcyon/internal/timer"
	"github.com/halcyon-home/halcyon/internal/water"
)

const shutdownGrace = 10 * time.Second

func run() error {
	envCfg, err := config.LoadEnvConfig()
	if err != nil {
		return err
	}
	seed, err := config.LoadSeed(envCfg.SeedFile)
	if err != nil {
		return err
	}
	log.Printf("halcyon %s (%s, built %s)", buildinfo.Version, buildinfo.GitCommit, buildinfo.BuildTime)

	clk := clock.WallClock
	host, dbCloser, err := hostdb.Bootstrap(envCfg.StateDir, clk)
	if err != nil {
		return fmt.Errorf("host bootstrap: %w", err)
	}
	log.Println("host bootstrap complete")

	eventBus := bus.New(envCfg.BusMailboxCapacity, envCfg.BusDiagnosticBudget)
	dispatcher := timer.New(clk)
	rt := &subsys.Runtime{
		Clock: clk,
		Timer: dispatcher,
		Bus:   eventBus,
		Host:  host,
		Caps:  facade.NewCapReader(envCfg.DeviceIOTimeout, envCfg.DeviceIOTimeout),
		Env:   envCfg,
		Seed:  seed,
	}

	securitySub := security.New(rt)
	locksSub := locks.New(rt, securitySub)
	hvacSub := hvac.New(rt)
	solarSub := solar.New(rt)
	waterSub := water.New(rt)
	analyticsSub := analytics.New(rt)
	sleepSub := sleep.New(rt)
	focusSub := focus.New(rt)
	hubSub := hub.New(rt)
	packagesSub := packages.New(rt, nil)
	mirrorSub := mirror.New(rt)

	mirrorSub.RegisterWidget("security", func() any {
		return map[string]any{"mode": securitySub.Mode()}
	})
	mirrorSub.RegisterWidget("solar", func() any {
		grid := solarSub.GridState()
		return map[string]any{
			"productionKw": solarSub.ProductionKW(),
			"gridFlow":     grid.CurrentFlowDirection,
		}
	})
	mirrorSub.RegisterWidget("packages", func() any {
		return packagesSub.Active()
	})

	controller := subsys.NewController(
		securitySub,
		locksSub,
		hvacSub,
		solarSub,
		waterSub,
		analyticsSub,
		sleepSub,
		focusSub,
		hubSub,
		packagesSub,
		mirrorSub,
	)

	initCtx, cancelInit := context.WithTimeout(context.Background(), time.Minute)
	err = controller.InitAll(initCtx)
	cancelInit()
	if err != nil {
		dispatcher.Stop()
		eventBus.Close()
		_ = dbCloser.Close()
		return err
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Printf("received signal %s, shutting down", sig)

	done := make(chan struct{})
	go func() {
		controller.DestroyAll()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(shutdownGrace):
		log.Printf("shutdown grace of %s elapsed, exiting anyway", shutdownGrace)
	}

	dispatcher.Stop()
	eventBus.Close()
	if err := dbCloser.Close(); err != nil {
		log.Printf("host close error: %v", err)
	}
	log.Println("stopped")
	return nil
}
