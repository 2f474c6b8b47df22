package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/meetai/meeting-server-go/internal/httputil"
	"github.com/meetai/meeting-server-go/internal/model"
	"github.com/meetai/meeting-server-go/internal/sse"
)

// Subscriber hands out per-meeting event streams.
type Subscriber interface {
	Subscribe(meetingID string) *sse.Client
	Unsubscribe(client *sse.Client)
}

// MeetingReader loads a meeting the user may watch.
type MeetingReader interface {
	Get(ctx context.Context, meetingID, userID string) (*model.Meeting, error)
}

// EventsHandler streams status events for one meeting over SSE.
type EventsHandler struct {
	broker    Subscriber
	meetings  MeetingReader
	heartbeat time.Duration
}

func NewEventsHandler(broker Subscriber, meetings MeetingReader) *EventsHandler {
	return &EventsHandler{
		broker:    broker,
		meetings:  meetings,
		heartbeat: sse.HeartbeatInterval,
	}
}

// GET /v1/meetings/{meetingId}/events
func (h *EventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}

	m, err := h.meetings.Get(r.Context(), chi.URLParam(r, "meetingId"), user.ID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Streaming not supported"})
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	client := h.broker.Subscribe(m.ID)
	defer h.broker.Unsubscribe(client)

	log.Info().
		Str("meetingId", m.ID).
		Str("userId", user.ID).
		Msg("sse connection established")

	if err := h.sendEvent(w, flusher, "connected", map[string]any{
		"meetingId": m.ID,
		"status":    m.Status,
	}); err != nil {
		return
	}

	ctx := r.Context()
	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().
				Str("meetingId", m.ID).
				Msg("sse connection closed by client")
			return

		case <-client.Done:
			log.Info().
				Str("meetingId", m.ID).
				Msg("sse connection closed by broker")
			return

		case event := <-client.Events:
			if err := h.sendRawEvent(w, flusher, event); err != nil {
				log.Error().Err(err).Msg("failed to send event")
				return
			}

		case <-heartbeat.C:
			if _, err := fmt.Fprintf(w, ": ping\n\n"); err != nil {
				log.Debug().
					Str("meetingId", m.ID).
					Msg("heartbeat failed, closing connection")
				return
			}
			flusher.Flush()
		}
	}
}

func (h *EventsHandler) sendEvent(w http.ResponseWriter, flusher http.Flusher, eventType string, data any) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	return h.sendRawEvent(w, flusher, sse.Event{Type: eventType, Data: jsonData})
}

func (h *EventsHandler) sendRawEvent(w http.ResponseWriter, flusher http.Flusher, event sse.Event) error {
	if _, err := fmt.Fprintf(w, "event: %s\n", event.Type); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", event.Data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
