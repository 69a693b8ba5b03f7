package schedule

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/medspa-booking/pkg/logging"
)

// Editor is a template provider that can be changed at runtime.
type Editor interface {
	Provider
	Put(ctx context.Context, providerID string, slots []string) ([]string, error)
	Delete(ctx context.Context, providerID string) error
}

// Handler exposes template management to clinic staff.
type Handler struct {
	store  Editor
	logger *logging.Logger
}

// NewHandler creates a template handler.
func NewHandler(store Editor, logger *logging.Logger) *Handler {
	if store == nil {
		panic("schedule: editor required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{store: store, logger: logger}
}

type templateBody struct {
	ProviderID string   `json:"provider_id"`
	Slots      []string `json:"slots"`
}

// Get handles GET /providers/{providerID}/template.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	providerID := chi.URLParam(r, "providerID")
	slots, err := h.store.TemplateFor(r.Context(), providerID)
	if errors.Is(err, ErrUnknownProvider) {
		http.Error(w, "unknown provider", http.StatusNotFound)
		return
	}
	if err != nil {
		h.logger.Error("failed to load template", "error", err, "provider_id", providerID)
		http.Error(w, "failed to load template", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, templateBody{ProviderID: providerID, Slots: slots})
}

// Put handles PUT /providers/{providerID}/template.
func (h *Handler) Put(w http.ResponseWriter, r *http.Request) {
	providerID := chi.URLParam(r, "providerID")

	var body templateBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if _, err := NormalizeSlots(body.Slots); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	slots, err := h.store.Put(r.Context(), providerID, body.Slots)
	if err != nil {
		h.logger.Error("failed to store template", "error", err, "provider_id", providerID)
		http.Error(w, "failed to store template", http.StatusInternalServerError)
		return
	}
	h.logger.Info("schedule template updated", "provider_id", providerID, "slots", len(slots))
	writeJSON(w, http.StatusOK, templateBody{ProviderID: providerID, Slots: slots})
}

// Delete handles DELETE /providers/{providerID}/template.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	providerID := chi.URLParam(r, "providerID")
	if err := h.store.Delete(r.Context(), providerID); err != nil {
		h.logger.Error("failed to delete template", "error", err, "provider_id", providerID)
		http.Error(w, "failed to delete template", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
