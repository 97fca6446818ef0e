package checkin_api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"ms-checkin/internal/broadcast"
	"ms-checkin/internal/utils"
)

const heartbeatInterval = 15 * time.Second

// Stream pushes live updates for one event as server-sent events. The topic
// query parameter picks occupancy (default), stats or checkins.
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	eventID, ok := eventIDParam(w, r)
	if !ok {
		return
	}

	var channel string
	switch topic := r.URL.Query().Get("topic"); topic {
	case "", "occupancy":
		channel = broadcast.OccupancyChannel(eventID)
	case "stats":
		channel = broadcast.StatsChannel(eventID)
	case "checkins":
		channel = broadcast.CheckinChannel(eventID)
	default:
		utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("Unknown topic", topic))
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.WriteJSON(w, http.StatusInternalServerError, utils.ErrorResponse("Streaming unsupported", "response writer cannot flush"))
		return
	}

	ctx := r.Context()
	messages := h.Hub.Subscribe(ctx, channel)
	setupSSEHeaders(w)
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "event: ready\ndata: {\"channel\":%q}\n\n", channel)
	flusher.Flush()
	h.Logger.Debug("SSE", fmt.Sprintf("client subscribed to %s", channel))

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case msg, open := <-messages:
			if !open {
				return
			}
			data, err := json.Marshal(msg)
			if err != nil {
				h.Logger.Error("SSE", fmt.Sprintf("encode %s message: %v", channel, err))
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", msg.Kind, data)
			flusher.Flush()

		case <-heartbeat.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()

		case <-ctx.Done():
			h.Logger.Debug("SSE", fmt.Sprintf("client left %s", channel))
			return
		}
	}
}

func setupSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream;charset=UTF-8")
	w.Header().Set("Cache-Control", "no-cache, no-store, max-age=0, must-revalidate")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.Header().Set("X-Content-Type-Options", "nosniff")
}
