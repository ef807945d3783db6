package testutil

import (
	"time"

	"github.com/halcyon-home/halcyon/internal/bus"
	"github.com/halcyon-home/halcyon/internal/clock"
	"github.com/halcyon-home/halcyon/internal/config"
	"github.com/halcyon-home/halcyon/internal/facade"
	"github.com/halcyon-home/halcyon/internal/subsys"
	"github.com/halcyon-home/halcyon/internal/timer"
)

// NewRuntime assembles a subsys.Runtime over a fake host and the given clock.
// The returned cleanup stops the shared timer dispatcher and closes the bus.
func NewRuntime(clk clock.Clock, host facade.Facade) (*subsys.Runtime, func()) {
	eventBus := bus.New(0, 0)
	dispatcher := timer.New(clk)
	rt := &subsys.Runtime{
		Clock: clk,
		Timer: dispatcher,
		Bus:   eventBus,
		Host:  host,
		Caps:  facade.NewCapReader(time.Second, time.Second),
		Env:   defaultEnv(),
		Seed:  &config.Seed{},
	}
	return rt, func() {
		dispatcher.Stop()
		eventBus.Close()
	}
}

func defaultEnv() *config.EnvConfig {
	return &config.EnvConfig{
		DeviceIOTimeout:     time.Second,
		SchedulerStopGrace:  time.Second,
		BusMailboxCapacity:  bus.DefaultMailboxCapacity,
		BusDiagnosticBudget: bus.DefaultDiagnosticBudget,
		AuditTrailCapacity:  1000,
		AuditPersistTail:    500,
		AccessLogCapacity:   500,
		TimelineCapacity:    1000,
		AlertLogCapacity:    500,
		AnomalyLogCapacity:  500,
		DeliveryLogCapacity: 100,
	}
}
