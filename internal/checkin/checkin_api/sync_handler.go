package checkin_api

import (
	"errors"
	"net/http"

	"ms-checkin/internal/importer"
	"ms-checkin/internal/utils"
)

func (h *Handler) StartSync(w http.ResponseWriter, r *http.Request) {
	eventID, ok := eventIDParam(w, r)
	if !ok {
		return
	}
	if err := h.Syncs.Start(eventID); err != nil {
		h.syncError(w, err)
		return
	}
	h.Logger.LogSync(eventID, "sync requested")
	utils.WriteJSON(w, http.StatusAccepted, utils.SuccessResponse("Sync started", importer.Status{EventID: eventID, State: importer.StateRunning}))
}

func (h *Handler) PauseSync(w http.ResponseWriter, r *http.Request) {
	h.controlSync(w, r, "Sync paused", h.Syncs.Pause)
}

func (h *Handler) ResumeSync(w http.ResponseWriter, r *http.Request) {
	h.controlSync(w, r, "Sync resumed", h.Syncs.Resume)
}

func (h *Handler) CancelSync(w http.ResponseWriter, r *http.Request) {
	h.controlSync(w, r, "Sync cancelling", h.Syncs.Cancel)
}

func (h *Handler) SyncStatus(w http.ResponseWriter, r *http.Request) {
	eventID, ok := eventIDParam(w, r)
	if !ok {
		return
	}
	st, found := h.Syncs.Status(eventID)
	if !found {
		utils.WriteJSON(w, http.StatusNotFound, utils.ErrorResponse("No sync recorded for this event", importer.ErrSyncNotRunning.Error()))
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Sync status", st))
}

func (h *Handler) controlSync(w http.ResponseWriter, r *http.Request, message string, op func(eventID int64) error) {
	eventID, ok := eventIDParam(w, r)
	if !ok {
		return
	}
	if err := op(eventID); err != nil {
		h.syncError(w, err)
		return
	}
	st, _ := h.Syncs.Status(eventID)
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse(message, st))
}

func (h *Handler) syncError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, importer.ErrSyncRunning):
		utils.WriteJSON(w, http.StatusConflict, utils.ErrorResponse("Sync already running", err.Error()))
	case errors.Is(err, importer.ErrSyncNotRunning):
		utils.WriteJSON(w, http.StatusNotFound, utils.ErrorResponse("No sync running", err.Error()))
	default:
		h.serverError(w, "sync", err)
	}
}
