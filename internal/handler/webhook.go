package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"

	apperrors "github.com/meetai/meeting-server-go/internal/errors"
	"github.com/meetai/meeting-server-go/internal/httputil"
	"github.com/meetai/meeting-server-go/internal/metrics"
	"github.com/meetai/meeting-server-go/internal/middleware"
	"github.com/meetai/meeting-server-go/internal/model"
	"github.com/meetai/meeting-server-go/internal/service"
)

// Lifecycle is the status machine surface driven by webhooks.
type Lifecycle interface {
	StartSession(ctx context.Context, meetingID string) (*service.SessionStartResult, error)
	ParticipantLeft(ctx context.Context, meetingID, leavingUserID string) (bool, error)
	CallEnded(ctx context.Context, meetingID string) (*model.Meeting, error)
	TranscriptionReady(ctx context.Context, meetingID, transcriptURL string) (*model.Meeting, error)
	RecordingReady(ctx context.Context, meetingID, recordingURL string) (*model.Meeting, error)
}

type webhookFunc func(ctx context.Context, event *WebhookEvent, meetingID string) error

// WebhookHandler routes verified platform events to the status machine.
type WebhookHandler struct {
	lifecycle Lifecycle
	handlers  map[string]webhookFunc
}

func NewWebhookHandler(lifecycle Lifecycle) *WebhookHandler {
	h := &WebhookHandler{lifecycle: lifecycle}
	h.handlers = map[string]webhookFunc{
		EventSessionStarted:       h.sessionStarted,
		EventParticipantLeft:      h.participantLeft,
		EventCallEnded:            h.callEnded,
		EventRecordingStarted:     h.acknowledge,
		EventTranscriptionStarted: h.acknowledge,
		EventTranscriptionReady:   h.transcriptionReady,
		EventRecordingReady:       h.recordingReady,
	}
	return h
}

// POST /webhooks/stream
func (h *WebhookHandler) Webhook(w http.ResponseWriter, r *http.Request) {
	body := middleware.GetWebhookBody(r.Context())
	if body == nil {
		h.fail(w, "unknown", apperrors.InvalidPayload("Missing request body"))
		return
	}

	var event WebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		log.Warn().Err(err).Msg("invalid webhook payload")
		h.fail(w, "unknown", apperrors.InvalidPayload("Invalid JSON"))
		return
	}
	if event.Type == "" {
		h.fail(w, "unknown", apperrors.MissingRequired("type"))
		return
	}

	fn, ok := h.handlers[event.Type]
	if !ok {
		metrics.WebhookEventsTotal.WithLabelValues("other", "ignored").Inc()
		log.Info().Str("eventType", event.Type).Msg("ignoring unhandled webhook event")
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}

	meetingID := event.MeetingID()
	if meetingID == "" {
		log.Warn().Str("eventType", event.Type).Str("callCid", event.CallCID).Msg("webhook without meeting id")
		h.fail(w, event.Type, apperrors.MissingRequired("meetingId"))
		return
	}

	if err := fn(r.Context(), &event, meetingID); err != nil {
		log.Info().
			Err(err).
			Str("eventType", event.Type).
			Str("meetingId", meetingID).
			Msg("webhook event not applied")
		h.fail(w, event.Type, err)
		return
	}

	metrics.WebhookEventsTotal.WithLabelValues(event.Type, "ok").Inc()
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *WebhookHandler) sessionStarted(ctx context.Context, event *WebhookEvent, meetingID string) error {
	res, err := h.lifecycle.StartSession(ctx, meetingID)
	if err != nil {
		return err
	}
	logger := log.Info().Str("meetingId", meetingID)
	if res.Attach != nil {
		logger = logger.Bool("alreadyConnected", res.Attach.AlreadyConnected)
	}
	logger.
		Bool("agentAttached", res.AttachErr == nil).
		Bool("recordingStarted", res.RecordingErr == nil).
		Bool("transcriptionStarted", res.TranscriptionErr == nil).
		Msg("session started")

	// The status write is committed either way; a missing credential is
	// surfaced so operators see it.
	if apperrors.HasCode(res.AttachErr, apperrors.ErrCodeMissingCredential) {
		return res.AttachErr
	}
	return nil
}

func (h *WebhookHandler) participantLeft(ctx context.Context, event *WebhookEvent, meetingID string) error {
	userID := event.participantUserID()
	if userID == "" {
		return apperrors.MissingRequired("participant.user.id")
	}
	_, err := h.lifecycle.ParticipantLeft(ctx, meetingID, userID)
	return err
}

func (h *WebhookHandler) callEnded(ctx context.Context, event *WebhookEvent, meetingID string) error {
	_, err := h.lifecycle.CallEnded(ctx, meetingID)
	return err
}

func (h *WebhookHandler) transcriptionReady(ctx context.Context, event *WebhookEvent, meetingID string) error {
	url := assetURL(event.CallTranscription)
	if url == "" {
		return apperrors.MissingRequired("call_transcription.url")
	}
	_, err := h.lifecycle.TranscriptionReady(ctx, meetingID, url)
	return err
}

func (h *WebhookHandler) recordingReady(ctx context.Context, event *WebhookEvent, meetingID string) error {
	url := assetURL(event.CallRecording)
	if url == "" {
		return apperrors.MissingRequired("call_recording.url")
	}
	_, err := h.lifecycle.RecordingReady(ctx, meetingID, url)
	return err
}

func (h *WebhookHandler) acknowledge(ctx context.Context, event *WebhookEvent, meetingID string) error {
	log.Info().Str("eventType", event.Type).Str("meetingId", meetingID).Msg("webhook acknowledged")
	return nil
}

func (h *WebhookHandler) fail(w http.ResponseWriter, eventType string, err error) {
	metrics.WebhookEventsTotal.WithLabelValues(eventType, webhookOutcome(err)).Inc()
	httputil.WriteError(w, err)
}

func webhookOutcome(err error) string {
	switch apperrors.GetCode(err) {
	case apperrors.ErrCodeTransitionRejected:
		return "rejected"
	case apperrors.ErrCodeNotFound:
		return "not_found"
	case apperrors.ErrCodeInvalidPayload, apperrors.ErrCodeMissingRequired, apperrors.ErrCodeValidation:
		return "invalid"
	default:
		return "error"
	}
}
