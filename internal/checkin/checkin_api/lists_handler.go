package checkin_api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"ms-checkin/internal/utils"
)

func (h *Handler) Events(w http.ResponseWriter, r *http.Request) {
	events, err := h.Engine.ListEvents(r.Context())
	if err != nil {
		h.serverError(w, "list events", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Events", events))
}

func (h *Handler) Attendees(w http.ResponseWriter, r *http.Request) {
	eventID, ok := eventIDParam(w, r)
	if !ok {
		return
	}
	list, err := h.Engine.ListAttendees(r.Context(), eventID)
	if err != nil {
		h.serverError(w, "list attendees", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Attendees", list))
}

func (h *Handler) Audits(w http.ResponseWriter, r *http.Request) {
	eventID, ok := eventIDParam(w, r)
	if !ok {
		return
	}
	trail, err := h.Engine.AuditTrail(r.Context(), eventID, chi.URLParam(r, "ticketCode"))
	if err != nil {
		h.serverError(w, "audit trail", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Audit trail", trail))
}
