package hub

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/zeebo/xxh3"

	"github.com/halcyon-home/halcyon/internal/bus"
	"github.com/halcyon-home/halcyon/internal/clock"
	"github.com/halcyon-home/halcyon/internal/config"
	"github.com/halcyon-home/halcyon/internal/facade"
)

const (
	signatureHeader  = "x-webhook-signature"
	maxBodyBytes     = 1 << 20
	shutdownDeadline = 5 * time.Second
)

// server is the webhook HTTP receiver plus the authenticated registry API.
type server struct {
	httpServer *http.Server
	mux        *http.ServeMux
}

func newServer(h *Hub, env *config.EnvConfig) *server {
	mux := http.NewServeMux()

	mux.Handle("GET /healthz", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	}))
	mux.Handle("POST /webhook/{id}", http.HandlerFunc(h.handleDelivery))

	authed := http.NewServeMux()
	authed.Handle("GET /api/v1/webhooks", http.HandlerFunc(h.handleListWebhooks))
	authed.Handle("POST /api/v1/webhooks", http.HandlerFunc(h.handleCreateWebhook))
	authed.Handle("GET /api/v1/webhooks/{id}", http.HandlerFunc(h.handleGetWebhook))
	authed.Handle("PATCH /api/v1/webhooks/{id}", http.HandlerFunc(h.handleUpdateWebhook))
	authed.Handle("DELETE /api/v1/webhooks/{id}", http.HandlerFunc(h.handleDeleteWebhook))
	authed.Handle("POST /api/v1/webhooks/{id}/actions/rotate-secret", http.HandlerFunc(h.handleRotateSecret))
	authed.Handle("GET /api/v1/deliveries", http.HandlerFunc(h.handleListDeliveries))
	mux.Handle("/api/", authMiddleware(env.WebhookAdminToken, authed))

	srv := &http.Server{
		Addr:    net.JoinHostPort(env.ListenAddress, strconv.Itoa(env.WebhookPort)),
		Handler: mux,
	}
	return &server{httpServer: srv, mux: mux}
}

func (s *server) start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("hub: listen on %s: %w", s.httpServer.Addr, err)
	}
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Printf("[hub] http server: %v", err)
		}
	}()
	log.Printf("[hub] webhook receiver listening on %s", s.httpServer.Addr)
	return nil
}

func (s *server) stop() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownDeadline)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		log.Printf("[hub] shutdown: %v", err)
	}
}

// handler returns the mux for handler-level tests.
func (s *server) handler() http.Handler { return s.mux }

func authMiddleware(token string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if token == "" {
			writeError(w, http.StatusForbidden, "admin API disabled: no admin token configured")
			return
		}
		got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			writeError(w, http.StatusUnauthorized, "invalid admin token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// handleDelivery is the webhook wire endpoint: verify the HMAC signature of
// the raw body, negotiate the payload shape by content type, run the
// configured actions, and report per-action results.
func (h *Hub) handleDelivery(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	wh, ok := h.webhooks.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown webhook")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "read body: "+err.Error())
		return
	}

	h.mu.Lock()
	secret := wh.Secret
	enabled := wh.Enabled
	actions := append([]Action(nil), wh.Actions...)
	name := wh.Name
	h.mu.Unlock()

	if !enabled {
		writeError(w, http.StatusNotFound, "webhook disabled")
		return
	}
	if !verifySignature(secret, body, r.Header.Get(signatureHeader)) {
		h.logDelivery(id, "", http.StatusUnauthorized, 0)
		writeError(w, http.StatusUnauthorized, "invalid signature")
		return
	}

	payload, err := parsePayload(r.Header.Get("Content-Type"), body)
	if err != nil {
		h.logDelivery(id, "", http.StatusInternalServerError, 0)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	now := clock.UnixMillis(h.Runtime().Clock)
	deliveryID := deliveryID(body, now)
	results := make([]map[string]any, 0, len(actions))
	executed := 0
	for _, a := range actions {
		if err := h.execute(a, payload, now); err != nil {
			results = append(results, map[string]any{"type": a.Type, "ok": false, "error": err.Error()})
			continue
		}
		executed++
		results = append(results, map[string]any{"type": a.Type, "ok": true})
	}

	h.mu.Lock()
	wh.Deliveries++
	wh.LastDeliveryMs = now
	h.mu.Unlock()
	h.logDelivery(id, deliveryID, http.StatusOK, executed)
	h.Runtime().Bus.Publish(bus.WebhookReceived{WebhookID: id, DeliveryID: deliveryID, AtMs: now})

	writeJSON(w, http.StatusOK, map[string]any{
		"success":         true,
		"webhook":         name,
		"actionsExecuted": executed,
		"results":         results,
	})
}

func verifySignature(secret string, body []byte, header string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	want := mac.Sum(nil)
	got, err := hex.DecodeString(strings.TrimSpace(header))
	if err != nil {
		return false
	}
	return hmac.Equal(want, got)
}

// parsePayload negotiates the body shape: JSON object, form fields, or the
// raw body under a "raw" key.
func parsePayload(contentType string, body []byte) (map[string]any, error) {
	mediaType := contentType
	if i := strings.Index(mediaType, ";"); i >= 0 {
		mediaType = mediaType[:i]
	}
	switch strings.TrimSpace(strings.ToLower(mediaType)) {
	case "application/json":
		payload := make(map[string]any)
		if len(body) > 0 {
			if err := json.Unmarshal(body, &payload); err != nil {
				return nil, fmt.Errorf("parse json body: %w", err)
			}
		}
		return payload, nil
	case "application/x-www-form-urlencoded":
		form, err := url.ParseQuery(string(body))
		if err != nil {
			return nil, fmt.Errorf("parse form body: %w", err)
		}
		payload := make(map[string]any, len(form))
		for k, vs := range form {
			if len(vs) == 1 {
				payload[k] = vs[0]
			} else {
				payload[k] = vs
			}
		}
		return payload, nil
	default:
		return map[string]any{"raw": string(body)}, nil
	}
}

func (h *Hub) execute(a Action, payload map[string]any, now int64) error {
	switch a.Type {
	case ActionNotify:
		priority := facade.Priority(a.Priority)
		if priority == "" {
			priority = facade.PriorityNormal
		}
		h.Runtime().Host.Notify(facade.Notification{
			Title:    a.Title,
			Message:  a.Message,
			Priority: priority,
			Category: "integration",
			Data:     payload,
		})
		return nil
	case ActionTriggerFlow:
		return h.Runtime().Host.TriggerFlow(a.Name, payload)
	case ActionPublishEvent:
		h.Runtime().Bus.Publish(bus.IntegrationEvent{Name: a.Name, Payload: payload, AtMs: now})
		return nil
	}
	return fmt.Errorf("unknown action type %q", a.Type)
}

func deliveryID(body []byte, now int64) string {
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(now))
	sum := xxh3.Hash(append(append([]byte(nil), body...), ts[:]...))
	return fmt.Sprintf("%016x", sum)
}

func (h *Hub) logDelivery(webhookID, deliveryID string, status, actions int) {
	h.deliveries.Append(DeliveryEntry{
		DeliveryID: deliveryID,
		WebhookID:  webhookID,
		AtMs:       clock.UnixMillis(h.Runtime().Clock),
		Status:     status,
		Actions:    actions,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[hub] write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}
