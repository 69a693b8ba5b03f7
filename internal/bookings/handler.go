package bookings

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/medspa-booking/pkg/logging"
)

// ManagementTokenHeader carries the patient's management token.
const ManagementTokenHeader = "X-Management-Token"

// ActorResolver returns the authenticated staff or provider actor for a
// request, or false when the caller is anonymous.
type ActorResolver func(r *http.Request) (Actor, bool)

// Handler exposes the booking service over HTTP.
type Handler struct {
	service *Service
	actorOf ActorResolver
	logger  *logging.Logger
}

// NewHandler creates a bookings handler.
func NewHandler(service *Service, actorOf ActorResolver, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	if actorOf == nil {
		actorOf = func(*http.Request) (Actor, bool) { return Actor{}, false }
	}
	return &Handler{service: service, actorOf: actorOf, logger: logger}
}

type errorResponse struct {
	Error           Kind   `json:"error"`
	Message         string `json:"message"`
	Field           string `json:"field,omitempty"`
	CurrentStatus   Status `json:"current_status,omitempty"`
	RequestedStatus Status `json:"requested_status,omitempty"`
}

type availabilityResponse struct {
	ProviderID string   `json:"provider_id"`
	Date       string   `json:"date"`
	Slots      []string `json:"slots"`
}

// notBookableResponse pairs the error with an empty slot list.
type notBookableResponse struct {
	errorResponse
	ProviderID string   `json:"provider_id"`
	Date       string   `json:"date"`
	Slots      []string `json:"slots"`
}

type listResponse struct {
	Bookings []*Booking `json:"bookings"`
	Count    int        `json:"count"`
}

type auditResponse struct {
	Reference string       `json:"reference"`
	Entries   []AuditEntry `json:"entries"`
}

// Availability handles GET /providers/{providerID}/availability?date=.
func (h *Handler) Availability(w http.ResponseWriter, r *http.Request) {
	providerID := chi.URLParam(r, "providerID")
	date := r.URL.Query().Get("date")

	slots, err := h.service.Availability(r.Context(), providerID, date)
	if KindOf(err) == KindDateNotBookable {
		status, body := h.errorBody(r, err)
		writeJSON(w, status, notBookableResponse{errorResponse: body, ProviderID: providerID, Date: date, Slots: []string{}})
		return
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, availabilityResponse{ProviderID: providerID, Date: date, Slots: slots})
}

// Create handles POST /bookings.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, validationError("body", "invalid request body"))
		return
	}

	result, err := h.service.Create(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

// Get handles GET /bookings/{reference}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	reference := chi.URLParam(r, "reference")

	var (
		booking *Booking
		err     error
	)
	if actor, ok := h.actorOf(r); ok {
		booking, err = h.service.GetForActor(r.Context(), reference, actor)
	} else {
		booking, err = h.service.GetWithToken(r.Context(), reference, managementToken(r))
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, booking)
}

// Update handles PATCH /bookings/{reference}.
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	reference := chi.URLParam(r, "reference")

	var req UpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, validationError("body", "invalid request body"))
		return
	}

	actor, ok := h.actorOf(r)
	token := ""
	if !ok {
		actor = PatientActor()
		token = managementToken(r)
	}

	result, err := h.service.Update(r.Context(), reference, token, actor, req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// ListByProvider handles GET /providers/{providerID}/bookings.
func (h *Handler) ListByProvider(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actorOf(r)
	if !ok {
		http.Error(w, "staff authorization required", http.StatusUnauthorized)
		return
	}
	providerID := chi.URLParam(r, "providerID")

	q := r.URL.Query()
	filter := ListFilter{
		Date: q.Get("date"),
		From: q.Get("from"),
		To:   q.Get("to"),
	}
	if raw := q.Get("status"); raw != "" {
		status, err := ParseStatus(raw)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		filter.Status = &status
	}

	list, err := h.service.ListByProvider(r.Context(), actor, providerID, filter)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse{Bookings: list, Count: len(list)})
}

// AuditTrail handles GET /bookings/{reference}/audit?field=.
func (h *Handler) AuditTrail(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actorOf(r)
	if !ok {
		http.Error(w, "staff authorization required", http.StatusUnauthorized)
		return
	}
	reference := chi.URLParam(r, "reference")

	var fields []string
	for _, raw := range r.URL.Query()["field"] {
		for _, f := range strings.Split(raw, ",") {
			if f = strings.TrimSpace(f); f != "" {
				fields = append(fields, f)
			}
		}
	}

	entries, err := h.service.AuditTrail(r.Context(), actor, reference, fields)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, auditResponse{Reference: reference, Entries: entries})
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, body := h.errorBody(r, err)
	writeJSON(w, status, body)
}

func (h *Handler) errorBody(r *http.Request, err error) (int, errorResponse) {
	var be *Error
	if !errors.As(err, &be) {
		h.logger.Error("booking request failed", "error", err, "method", r.Method, "path", r.URL.Path)
		return http.StatusInternalServerError, errorResponse{Error: "internal_error", Message: "internal error"}
	}

	status := StatusCode(be.Kind)
	if status >= http.StatusInternalServerError {
		h.logger.Error("booking request failed", "error", err, "kind", be.Kind, "path", r.URL.Path)
	} else {
		h.logger.Debug("booking request rejected", "error", err, "kind", be.Kind, "path", r.URL.Path)
	}

	message := be.Message
	if message == "" {
		message = string(be.Kind)
	}
	return status, errorResponse{
		Error:           be.Kind,
		Message:         message,
		Field:           be.Field,
		CurrentStatus:   be.From,
		RequestedStatus: be.To,
	}
}

// StatusCode maps an error kind to its HTTP status.
func StatusCode(kind Kind) int {
	switch kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindUnknownProvider, KindNotFound:
		return http.StatusNotFound
	case KindSlotTaken, KindConcurrentUpdate:
		return http.StatusConflict
	case KindIllegalTransition, KindDateNotBookable:
		return http.StatusUnprocessableEntity
	case KindIssuanceExhausted:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func managementToken(r *http.Request) string {
	if token := strings.TrimSpace(r.Header.Get(ManagementTokenHeader)); token != "" {
		return token
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
