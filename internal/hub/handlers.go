package hub

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"

	"github.com/halcyon-home/halcyon/internal/fault"
)

// Registry API payloads.
type webhookRequest struct {
	Name    string   `json:"name"`
	Enabled *bool    `json:"enabled,omitempty"`
	Actions []Action `json:"actions"`
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, fault.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, fault.ErrInvalidArgument):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func (h *Hub) handleListWebhooks(w http.ResponseWriter, r *http.Request) {
	hooks := h.Webhooks()
	sort.Slice(hooks, func(i, j int) bool { return hooks[i].CreatedAtMs < hooks[j].CreatedAtMs })
	// Secrets never leave through the list endpoint.
	for i := range hooks {
		hooks[i].Secret = ""
	}
	writeJSON(w, http.StatusOK, hooks)
}

func (h *Hub) handleCreateWebhook(w http.ResponseWriter, r *http.Request) {
	var req webhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "parse body: "+err.Error())
		return
	}
	wh, err := h.CreateWebhook(req.Name, req.Actions)
	if err != nil {
		writeError(w, errorStatus(err), err.Error())
		return
	}
	// The secret is returned once, on create.
	writeJSON(w, http.StatusCreated, wh)
}

func (h *Hub) handleGetWebhook(w http.ResponseWriter, r *http.Request) {
	wh, err := h.WebhookState(r.PathValue("id"))
	if err != nil {
		writeError(w, errorStatus(err), err.Error())
		return
	}
	wh.Secret = ""
	writeJSON(w, http.StatusOK, wh)
}

func (h *Hub) handleUpdateWebhook(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req webhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "parse body: "+err.Error())
		return
	}
	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	if err := h.UpdateWebhook(id, req.Name, enabled, req.Actions); err != nil {
		writeError(w, errorStatus(err), err.Error())
		return
	}
	wh, err := h.WebhookState(id)
	if err != nil {
		writeError(w, errorStatus(err), err.Error())
		return
	}
	wh.Secret = ""
	writeJSON(w, http.StatusOK, wh)
}

func (h *Hub) handleDeleteWebhook(w http.ResponseWriter, r *http.Request) {
	if err := h.DeleteWebhook(r.PathValue("id")); err != nil {
		writeError(w, errorStatus(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Hub) handleRotateSecret(w http.ResponseWriter, r *http.Request) {
	secret, err := h.RotateSecret(r.PathValue("id"))
	if err != nil {
		writeError(w, errorStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"secret": secret})
}

func (h *Hub) handleListDeliveries(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Deliveries(100))
}
