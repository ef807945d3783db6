// Package hub is the integration hub: a webhook registry with per-webhook
// action lists and the HTTP receiver that verifies and executes deliveries.
package hub

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log"
	"sync"

	"github.com/google/uuid"

	"github.com/halcyon-home/halcyon/internal/clock"
	"github.com/halcyon-home/halcyon/internal/facade"
	"github.com/halcyon-home/halcyon/internal/fault"
	"github.com/halcyon-home/halcyon/internal/store"
	"github.com/halcyon-home/halcyon/internal/subsys"
)

// Action kinds a webhook may execute on receipt.
const (
	ActionNotify       = "notify"
	ActionTriggerFlow  = "triggerFlow"
	ActionPublishEvent = "publishEvent"
)

// Action is one configured reaction to a webhook delivery.
type Action struct {
	Type string `json:"type"`

	// Notify fields.
	Title    string `json:"title,omitempty"`
	Message  string `json:"message,omitempty"`
	Priority string `json:"priority,omitempty"`

	// TriggerFlow / PublishEvent target name.
	Name string `json:"name,omitempty"`
}

// Webhook is one registered endpoint.
type Webhook struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Secret      string   `json:"secret"`
	Enabled     bool     `json:"enabled"`
	CreatedAtMs int64    `json:"createdAtMs"`
	Actions     []Action `json:"actions"`

	Deliveries     int64 `json:"deliveries"`
	LastDeliveryMs int64 `json:"lastDeliveryMs,omitempty"`
}

// DeliveryEntry is one processed delivery in the bounded log.
type DeliveryEntry struct {
	DeliveryID string `json:"deliveryId"`
	WebhookID  string `json:"webhookId"`
	AtMs       int64  `json:"atMs"`
	Status     int    `json:"status"`
	Actions    int    `json:"actions"`
}

// Hub is the subsystem instance.
type Hub struct {
	*subsys.Base

	mu       sync.Mutex
	webhooks *store.Table[string, *Webhook]

	deliveries *store.BoundedLog[DeliveryEntry]
	server     *server
}

// New constructs the subsystem.
func New(rt *subsys.Runtime) *Hub {
	return &Hub{
		Base:       subsys.NewBase("hub", rt),
		webhooks:   store.NewTable[string, *Webhook](),
		deliveries: store.NewBoundedLog[DeliveryEntry](rt.Env.DeliveryLogCapacity),
	}
}

// Init loads the persisted registry and starts the HTTP receiver.
func (h *Hub) Init(ctx context.Context) error {
	if err := h.BeginInit(); err != nil {
		return err
	}
	var persisted map[string]*Webhook
	if found, err := facade.LoadJSON(h.Runtime().Host, "webhooks", &persisted); err != nil {
		log.Printf("[hub] load webhooks: %v", err)
	} else if found {
		for id, w := range persisted {
			h.webhooks.Put(id, w)
		}
	}

	h.server = newServer(h, h.Runtime().Env)
	if err := h.server.start(); err != nil {
		h.Base.Destroy(nil)
		return err
	}

	h.FinishInit()
	return nil
}

// CreateWebhook registers an endpoint and generates its signing secret.
func (h *Hub) CreateWebhook(name string, actions []Action) (Webhook, error) {
	if name == "" {
		return Webhook{}, fault.InvalidArgument("webhook needs a name")
	}
	for _, a := range actions {
		if err := validateAction(a); err != nil {
			return Webhook{}, err
		}
	}
	secret, err := newSecret()
	if err != nil {
		return Webhook{}, err
	}
	w := &Webhook{
		ID:          uuid.NewString(),
		Name:        name,
		Secret:      secret,
		Enabled:     true,
		CreatedAtMs: clock.UnixMillis(h.Runtime().Clock),
		Actions:     actions,
	}
	h.webhooks.Put(w.ID, w)
	h.persist()
	log.Printf("[hub] webhook %q created (%s)", name, w.ID)
	return *w, nil
}

// UpdateWebhook replaces an endpoint's name, enabled flag, and actions.
// The id and secret are immutable.
func (h *Hub) UpdateWebhook(id, name string, enabled bool, actions []Action) error {
	w, ok := h.webhooks.Get(id)
	if !ok {
		return fault.NotFound("webhook", id)
	}
	for _, a := range actions {
		if err := validateAction(a); err != nil {
			return err
		}
	}
	h.mu.Lock()
	if name != "" {
		w.Name = name
	}
	w.Enabled = enabled
	w.Actions = actions
	h.mu.Unlock()
	h.persist()
	return nil
}

// DeleteWebhook removes an endpoint.
func (h *Hub) DeleteWebhook(id string) error {
	if _, ok := h.webhooks.Get(id); !ok {
		return fault.NotFound("webhook", id)
	}
	h.webhooks.Delete(id)
	h.persist()
	return nil
}

// RotateSecret regenerates an endpoint's signing secret and returns it.
func (h *Hub) RotateSecret(id string) (string, error) {
	w, ok := h.webhooks.Get(id)
	if !ok {
		return "", fault.NotFound("webhook", id)
	}
	secret, err := newSecret()
	if err != nil {
		return "", err
	}
	h.mu.Lock()
	w.Secret = secret
	h.mu.Unlock()
	h.persist()
	return secret, nil
}

// WebhookState returns a copy of one endpoint.
func (h *Hub) WebhookState(id string) (Webhook, error) {
	w, ok := h.webhooks.Get(id)
	if !ok {
		return Webhook{}, fault.NotFound("webhook", id)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return *w, nil
}

// Webhooks returns a copy of the registry.
func (h *Hub) Webhooks() []Webhook {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []Webhook
	h.webhooks.Range(func(_ string, w *Webhook) bool {
		out = append(out, *w)
		return true
	})
	return out
}

// Deliveries returns the most recent delivery entries, newest first.
func (h *Hub) Deliveries(limit int) []DeliveryEntry {
	return h.deliveries.Query(nil, limit)
}

func validateAction(a Action) error {
	switch a.Type {
	case ActionNotify:
		if a.Message == "" {
			return fault.InvalidArgument("notify action needs a message")
		}
	case ActionTriggerFlow, ActionPublishEvent:
		if a.Name == "" {
			return fault.InvalidArgument("%s action needs a name", a.Type)
		}
	default:
		return fault.InvalidArgument("unknown action type %q", a.Type)
	}
	return nil
}

func newSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func (h *Hub) persist() {
	snapshot := make(map[string]*Webhook)
	h.mu.Lock()
	h.webhooks.Range(func(id string, w *Webhook) bool {
		snapshot[id] = w
		return true
	})
	h.mu.Unlock()
	if err := facade.SaveJSON(h.Runtime().Host, "webhooks", snapshot); err != nil {
		log.Printf("[hub] persist webhooks: %v", err)
	}
}

// Destroy stops the receiver and tears the subsystem down; safe to call
// more than once.
func (h *Hub) Destroy() {
	h.Base.Destroy(func() {
		if h.server != nil {
			h.server.stop()
		}
		h.persist()
	})
}
