package checkin_api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"ms-checkin/internal/breaker"
	"ms-checkin/internal/checkin/db"
	checkin "ms-checkin/internal/checkin/service"
	"ms-checkin/internal/importer"
	"ms-checkin/internal/logger"
	"ms-checkin/internal/models"
	"ms-checkin/internal/sse"
	"ms-checkin/internal/utils"
)

// Engine is the check-in engine surface the API drives.
type Engine interface {
	CheckIn(ctx context.Context, eventID int64, code, entrance, operator string) checkin.Result
	CheckInAdvanced(ctx context.Context, eventID int64, code, checkInType, entrance, operator string) checkin.Result
	CheckOut(ctx context.Context, eventID int64, code, entrance, operator string) checkin.Result
	MarkManualEntry(ctx context.Context, eventID int64, code, entrance, operator, notes string) checkin.Result
	ResetScanCounters(ctx context.Context, eventID int64, code string) checkin.Result
	GetOccupancyBreakdown(ctx context.Context, eventID int64) (models.OccupancyBreakdown, error)
	GetEventStats(ctx context.Context, eventID int64) (models.EventStats, error)
	ListEvents(ctx context.Context) ([]models.Event, error)
	ListAttendees(ctx context.Context, eventID int64) ([]models.Attendee, error)
	AuditTrail(ctx context.Context, eventID int64, code string) ([]models.CheckInAudit, error)
}

type SyncManager interface {
	Start(eventID int64) error
	Pause(eventID int64) error
	Resume(eventID int64) error
	Cancel(eventID int64) error
	Status(eventID int64) (importer.Status, bool)
}

type Handler struct {
	Engine   Engine
	Syncs    SyncManager
	Hub      *sse.Hub
	Breakers *breaker.Registry
	Logger   *logger.Logger
}

func NewHandler(engine Engine, syncs SyncManager, hub *sse.Hub, breakers *breaker.Registry, log *logger.Logger) *Handler {
	return &Handler{
		Engine:   engine,
		Syncs:    syncs,
		Hub:      hub,
		Breakers: breakers,
		Logger:   log,
	}
}

// Routes mounts the event list and every per-event endpoint under
// /events/{eventID}.
func (h *Handler) Routes(r chi.Router) {
	r.Use(h.requestLogger)
	r.Get("/events", h.Events)
	r.Route("/events/{eventID}", func(r chi.Router) {
		r.Post("/checkin", h.CheckIn)
		r.Post("/checkout", h.CheckOut)
		r.Post("/manual-entry", h.ManualEntry)
		r.Get("/attendees", h.Attendees)
		r.Get("/attendees/{ticketCode}/audits", h.Audits)
		r.Post("/attendees/{ticketCode}/reset", h.ResetCounters)
		r.Get("/occupancy", h.Occupancy)
		r.Get("/stats", h.Stats)
		r.Get("/stream", h.Stream)

		r.Route("/sync", func(r chi.Router) {
			r.Get("/", h.SyncStatus)
			r.Post("/", h.StartSync)
			r.Post("/pause", h.PauseSync)
			r.Post("/resume", h.ResumeSync)
			r.Post("/cancel", h.CancelSync)
		})
	})
	r.Get("/health/breakers", h.BreakerStates)
}

type scanRequest struct {
	TicketCode  string `json:"ticket_code"`
	Entrance    string `json:"entrance"`
	Operator    string `json:"operator"`
	CheckInType string `json:"check_in_type"`
	// Advanced applies the ticket type's check-in config.
	Advanced bool   `json:"advanced"`
	Notes    string `json:"notes"`
}

func (h *Handler) CheckIn(w http.ResponseWriter, r *http.Request) {
	eventID, req, ok := h.decodeScan(w, r)
	if !ok {
		return
	}
	var res checkin.Result
	if req.Advanced || req.CheckInType != "" {
		res = h.Engine.CheckInAdvanced(r.Context(), eventID, req.TicketCode, req.CheckInType, req.Entrance, req.Operator)
	} else {
		res = h.Engine.CheckIn(r.Context(), eventID, req.TicketCode, req.Entrance, req.Operator)
	}
	writeResult(w, res)
}

func (h *Handler) CheckOut(w http.ResponseWriter, r *http.Request) {
	eventID, req, ok := h.decodeScan(w, r)
	if !ok {
		return
	}
	writeResult(w, h.Engine.CheckOut(r.Context(), eventID, req.TicketCode, req.Entrance, req.Operator))
}

func (h *Handler) ManualEntry(w http.ResponseWriter, r *http.Request) {
	eventID, req, ok := h.decodeScan(w, r)
	if !ok {
		return
	}
	if req.Operator == "" {
		utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("Manual entry needs an operator", checkin.CodeValidation))
		return
	}
	writeResult(w, h.Engine.MarkManualEntry(r.Context(), eventID, req.TicketCode, req.Entrance, req.Operator, req.Notes))
}

func (h *Handler) ResetCounters(w http.ResponseWriter, r *http.Request) {
	eventID, ok := eventIDParam(w, r)
	if !ok {
		return
	}
	writeResult(w, h.Engine.ResetScanCounters(r.Context(), eventID, chi.URLParam(r, "ticketCode")))
}

func (h *Handler) Occupancy(w http.ResponseWriter, r *http.Request) {
	eventID, ok := eventIDParam(w, r)
	if !ok {
		return
	}
	b, err := h.Engine.GetOccupancyBreakdown(r.Context(), eventID)
	if err != nil {
		h.serverError(w, "occupancy", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Occupancy", b))
}

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	eventID, ok := eventIDParam(w, r)
	if !ok {
		return
	}
	stats, err := h.Engine.GetEventStats(r.Context(), eventID)
	if errors.Is(err, db.ErrNotFound) {
		utils.WriteJSON(w, http.StatusNotFound, utils.ErrorResponse("Event not found", checkin.CodeInvalid))
		return
	}
	if err != nil {
		h.serverError(w, "stats", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Event stats", stats))
}

func (h *Handler) BreakerStates(w http.ResponseWriter, r *http.Request) {
	states := make(map[string]string)
	if h.Breakers != nil {
		for name, st := range h.Breakers.States() {
			states[name] = st.String()
		}
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Upstream breakers", states))
}

func (h *Handler) decodeScan(w http.ResponseWriter, r *http.Request) (int64, scanRequest, bool) {
	var req scanRequest
	eventID, ok := eventIDParam(w, r)
	if !ok {
		return 0, req, false
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid request body", err.Error()))
		return 0, req, false
	}
	return eventID, req, true
}

func (h *Handler) serverError(w http.ResponseWriter, what string, err error) {
	h.Logger.Error("API", fmt.Sprintf("%s: %v", what, err))
	utils.WriteJSON(w, http.StatusInternalServerError, utils.ErrorResponse("Internal error", err.Error()))
}

func (h *Handler) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		h.Logger.LogAPI(r.Method, r.URL.Path, strconv.Itoa(ww.Status()), time.Since(start).String())
	})
}

func eventIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "eventID"), 10, 64)
	if err != nil || id <= 0 {
		utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid event id", checkin.CodeValidation))
		return 0, false
	}
	return id, true
}

// statusFor maps an engine result code to the HTTP status the scanner sees.
func statusFor(code string) int {
	switch code {
	case checkin.CodeSuccess, checkin.CodeCheckedOut, checkin.CodeManualEntry, checkin.CodeCountersReset:
		return http.StatusOK
	case checkin.CodeValidation:
		return http.StatusBadRequest
	case checkin.CodeInvalid:
		return http.StatusNotFound
	case checkin.CodeEventArchived:
		return http.StatusGone
	case checkin.CodeInUseElsewhere:
		return http.StatusConflict
	case checkin.CodeError:
		return http.StatusInternalServerError
	default:
		return http.StatusUnprocessableEntity
	}
}

func writeResult(w http.ResponseWriter, res checkin.Result) {
	utils.WriteJSON(w, statusFor(res.Code), utils.ResultResponse(res.OK, res.Code, res.Message, res))
}
