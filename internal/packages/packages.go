// Package packages tracks parcel deliveries: a carrier-polled status
// machine per tracking number with arrival notifications.
package packages

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/halcyon-home/halcyon/internal/bus"
	"github.com/halcyon-home/halcyon/internal/clock"
	"github.com/halcyon-home/halcyon/internal/facade"
	"github.com/halcyon-home/halcyon/internal/fault"
	"github.com/halcyon-home/halcyon/internal/store"
	"github.com/halcyon-home/halcyon/internal/subsys"
)

const pollCadence = 30 * time.Minute

// Delivery statuses.
const (
	StatusPending        = "pending"
	StatusInTransit      = "in_transit"
	StatusOutForDelivery = "out_for_delivery"
	StatusDelivered      = "delivered"
	StatusFailed         = "failed"
	StatusReturned       = "returned"
	StatusRescheduled    = "rescheduled"
)

var validStatuses = map[string]bool{
	StatusPending:        true,
	StatusInTransit:      true,
	StatusOutForDelivery: true,
	StatusDelivered:      true,
	StatusFailed:         true,
	StatusReturned:       true,
	StatusRescheduled:    true,
}

// terminal statuses stop polling for that package.
func terminal(status string) bool {
	return status == StatusDelivered || status == StatusReturned
}

// TrackingUpdate is one carrier poll result.
type TrackingUpdate struct {
	Status              string
	EstimatedDeliveryMs int64 // 0 keeps the current estimate
	Detail              string
}

// CarrierClient looks a tracking number up with its carrier. Implementations
// wrap carrier HTTP APIs; the composition root decides which one to wire.
type CarrierClient interface {
	Track(ctx context.Context, carrier, trackingNumber string) (TrackingUpdate, error)
}

// Package is one tracked parcel.
type Package struct {
	TrackingNumber      string `json:"trackingNumber"`
	Carrier             string `json:"carrier"`
	Description         string `json:"description,omitempty"`
	Status              string `json:"status"`
	EstimatedDeliveryMs int64  `json:"estimatedDeliveryMs,omitempty"`
	ActualDeliveryMs    int64  `json:"actualDeliveryMs,omitempty"`
	AddedAtMs           int64  `json:"addedAtMs"`
	LastCheckedMs       int64  `json:"lastCheckedMs,omitempty"`
}

// Packages is the subsystem instance.
type Packages struct {
	*subsys.Base

	mu      sync.Mutex
	tracked *store.Table[string, *Package]
	carrier CarrierClient
}

// New constructs the subsystem. carrier may be nil; polling then skips
// until one is attached.
func New(rt *subsys.Runtime, carrier CarrierClient) *Packages {
	return &Packages{
		Base:    subsys.NewBase("packages", rt),
		tracked: store.NewTable[string, *Package](),
		carrier: carrier,
	}
}

// Init loads persisted packages and registers the carrier poll.
func (p *Packages) Init(ctx context.Context) error {
	if err := p.BeginInit(); err != nil {
		return err
	}
	var persisted map[string]*Package
	if found, err := facade.LoadJSON(p.Runtime().Host, "trackedPackages", &persisted); err != nil {
		log.Printf("[packages] load: %v", err)
	} else if found {
		for num, pkg := range persisted {
			p.tracked.Put(num, pkg)
		}
	}

	p.RegisterTask("poll", pollCadence, p.pollTick)

	p.FinishInit()
	return nil
}

// Track registers a parcel in pending status.
func (p *Packages) Track(trackingNumber, carrier, description string, estimatedMs int64) error {
	trackingNumber = strings.TrimSpace(trackingNumber)
	if trackingNumber == "" || carrier == "" {
		return fault.InvalidArgument("tracking needs a number and a carrier")
	}
	if _, exists := p.tracked.Get(trackingNumber); exists {
		return fault.InvalidArgument("package %q is already tracked", trackingNumber)
	}
	p.tracked.Put(trackingNumber, &Package{
		TrackingNumber:      trackingNumber,
		Carrier:             carrier,
		Description:         description,
		Status:              StatusPending,
		EstimatedDeliveryMs: estimatedMs,
		AddedAtMs:           clock.UnixMillis(p.Runtime().Clock),
	})
	p.persist()
	log.Printf("[packages] tracking %s via %s", trackingNumber, carrier)
	return nil
}

// Untrack removes a parcel.
func (p *Packages) Untrack(trackingNumber string) error {
	if _, ok := p.tracked.Get(trackingNumber); !ok {
		return fault.NotFound("package", trackingNumber)
	}
	p.tracked.Delete(trackingNumber)
	p.persist()
	return nil
}

// ReportStatus applies an out-of-band status update, e.g. from a webhook.
func (p *Packages) ReportStatus(trackingNumber, status string) error {
	if !validStatuses[status] {
		return fault.InvalidArgument("unknown status %q", status)
	}
	pkg, ok := p.tracked.Get(trackingNumber)
	if !ok {
		return fault.NotFound("package", trackingNumber)
	}
	p.applyUpdate(pkg, TrackingUpdate{Status: status})
	return nil
}

// PackageState returns a copy of one parcel.
func (p *Packages) PackageState(trackingNumber string) (Package, error) {
	pkg, ok := p.tracked.Get(trackingNumber)
	if !ok {
		return Package{}, fault.NotFound("package", trackingNumber)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return *pkg, nil
}

// Active returns the non-terminal parcels.
func (p *Packages) Active() []Package {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []Package
	p.tracked.Range(func(_ string, pkg *Package) bool {
		if !terminal(pkg.Status) {
			out = append(out, *pkg)
		}
		return true
	})
	return out
}

// pollTick asks the carrier about every non-terminal parcel. Lookup
// failures log and retry on the next cadence.
func (p *Packages) pollTick() error {
	if p.carrier == nil {
		return nil
	}
	now := clock.UnixMillis(p.Runtime().Clock)

	var pending []*Package
	p.mu.Lock()
	p.tracked.Range(func(_ string, pkg *Package) bool {
		if !terminal(pkg.Status) {
			pending = append(pending, pkg)
		}
		return true
	})
	p.mu.Unlock()

	for _, pkg := range pending {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		update, err := p.carrier.Track(ctx, pkg.Carrier, pkg.TrackingNumber)
		cancel()
		if err != nil {
			log.Printf("[packages] track %s: %v", pkg.TrackingNumber, err)
			continue
		}
		p.mu.Lock()
		pkg.LastCheckedMs = now
		p.mu.Unlock()
		if update.Status != "" && validStatuses[update.Status] {
			p.applyUpdate(pkg, update)
		}
	}
	p.persist()
	return nil
}

func (p *Packages) applyUpdate(pkg *Package, update TrackingUpdate) {
	now := clock.UnixMillis(p.Runtime().Clock)

	p.mu.Lock()
	if pkg.Status == update.Status {
		if update.EstimatedDeliveryMs > 0 {
			pkg.EstimatedDeliveryMs = update.EstimatedDeliveryMs
		}
		p.mu.Unlock()
		return
	}
	pkg.Status = update.Status
	if update.EstimatedDeliveryMs > 0 {
		pkg.EstimatedDeliveryMs = update.EstimatedDeliveryMs
	}
	if update.Status == StatusDelivered {
		pkg.ActualDeliveryMs = now
	}
	num, desc, status := pkg.TrackingNumber, pkg.Description, pkg.Status
	p.mu.Unlock()

	p.Runtime().Bus.Publish(bus.PackageUpdate{TrackingNumber: num, Status: status, AtMs: now})
	p.notifyStatus(num, desc, status, update.Detail)
	p.persist()
}

func (p *Packages) notifyStatus(num, desc, status, detail string) {
	label := desc
	if label == "" {
		label = num
	}
	var title, msg string
	switch status {
	case StatusOutForDelivery:
		title = "Package arriving today"
		msg = fmt.Sprintf("%s is out for delivery", label)
	case StatusDelivered:
		title = "Package delivered"
		msg = fmt.Sprintf("%s was delivered", label)
	case StatusFailed:
		title = "Delivery failed"
		msg = fmt.Sprintf("Delivery attempt for %s failed", label)
	case StatusRescheduled:
		title = "Delivery rescheduled"
		msg = fmt.Sprintf("Delivery of %s was rescheduled", label)
	default:
		log.Printf("[packages] %s -> %s", num, status)
		return
	}
	if detail != "" {
		msg += ": " + detail
	}
	p.Runtime().Host.Notify(facade.Notification{
		Title:    title,
		Message:  msg,
		Priority: facade.PriorityNormal,
		Category: "packages",
	})
}

func (p *Packages) persist() {
	snapshot := make(map[string]*Package)
	p.mu.Lock()
	p.tracked.Range(func(num string, pkg *Package) bool {
		snapshot[num] = pkg
		return true
	})
	p.mu.Unlock()
	if err := facade.SaveJSON(p.Runtime().Host, "trackedPackages", snapshot); err != nil {
		log.Printf("[packages] persist: %v", err)
	}
}

// Destroy tears the subsystem down; safe to call more than once.
func (p *Packages) Destroy() {
	p.Base.Destroy(func() {
		p.persist()
	})
}
