package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/meetai/meeting-server-go/internal/errors"
	"github.com/meetai/meeting-server-go/internal/httputil"
	"github.com/meetai/meeting-server-go/internal/middleware"
	"github.com/meetai/meeting-server-go/internal/model"
	"github.com/meetai/meeting-server-go/internal/service"
)

type MeetingManager interface {
	Create(ctx context.Context, userID string, input service.CreateMeetingInput) (*service.CreateMeetingResult, error)
	Get(ctx context.Context, meetingID, userID string) (*model.Meeting, error)
	Update(ctx context.Context, meetingID, userID string, input service.UpdateMeetingInput) (*model.Meeting, error)
	VerifyPIN(ctx context.Context, meetingID, userID, pin string) error
	IssueCallToken(ctx context.Context, user *model.User) (*service.CallToken, error)
}

// ManualTriggers are the owner-initiated retry paths of the status machine.
type ManualTriggers interface {
	AttachAgent(ctx context.Context, meetingID, userID string) (*service.AttachResult, error)
	StartCapture(ctx context.Context, meetingID, userID string) (*service.ManualCaptureResult, error)
	Cancel(ctx context.Context, meetingID, userID string) (*model.Meeting, error)
}

type MeetingsHandler struct {
	meetings MeetingManager
	triggers ManualTriggers
	events   http.Handler
}

func NewMeetingsHandler(meetings MeetingManager, triggers ManualTriggers, events http.Handler) *MeetingsHandler {
	return &MeetingsHandler{meetings: meetings, triggers: triggers, events: events}
}

func (h *MeetingsHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/", h.Create)
	r.Route("/{meetingId}", func(r chi.Router) {
		r.Get("/", h.Get)
		r.Patch("/", h.Update)
		r.Post("/cancel", h.Cancel)
		r.Post("/verify-pin", h.VerifyPIN)
		r.Post("/agent", h.AttachAgent)
		r.Post("/recording", h.StartCapture)
		if h.events != nil {
			r.Get("/events", h.events.ServeHTTP)
		}
	})

	return r
}

// POST /v1/meetings
func (h *MeetingsHandler) Create(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}

	var input service.CreateMeetingInput
	if err := decodeJSON(r, &input, false); err != nil {
		httputil.WriteError(w, err)
		return
	}

	res, err := h.meetings.Create(r.Context(), user.ID, input)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// GET /v1/meetings/{meetingId}
func (h *MeetingsHandler) Get(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}

	m, err := h.meetings.Get(r.Context(), chi.URLParam(r, "meetingId"), user.ID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// PATCH /v1/meetings/{meetingId}
func (h *MeetingsHandler) Update(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}

	var input service.UpdateMeetingInput
	if err := decodeJSON(r, &input, false); err != nil {
		httputil.WriteError(w, err)
		return
	}

	m, err := h.meetings.Update(r.Context(), chi.URLParam(r, "meetingId"), user.ID, input)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// POST /v1/meetings/{meetingId}/cancel
func (h *MeetingsHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}

	m, err := h.triggers.Cancel(r.Context(), chi.URLParam(r, "meetingId"), user.ID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// POST /v1/meetings/{meetingId}/verify-pin
func (h *MeetingsHandler) VerifyPIN(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req struct {
		PIN string `json:"pin"`
	}
	if err := decodeJSON(r, &req, false); err != nil {
		httputil.WriteError(w, err)
		return
	}

	if err := h.meetings.VerifyPIN(r.Context(), chi.URLParam(r, "meetingId"), user.ID, req.PIN); err != nil {
		httputil.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// POST /v1/meetings/{meetingId}/agent
// Manual fallback when the automatic attach did not happen.
func (h *MeetingsHandler) AttachAgent(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}

	res, err := h.triggers.AttachAgent(r.Context(), chi.URLParam(r, "meetingId"), user.ID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// POST /v1/meetings/{meetingId}/recording
func (h *MeetingsHandler) StartCapture(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}

	res, err := h.triggers.StartCapture(r.Context(), chi.URLParam(r, "meetingId"), user.ID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// POST /v1/token
func (h *MeetingsHandler) IssueToken(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}

	tok, err := h.meetings.IssueCallToken(r.Context(), user)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tok)
}

func requireUser(w http.ResponseWriter, r *http.Request) (*model.User, bool) {
	user := middleware.GetUser(r.Context())
	if user == nil {
		httputil.WriteError(w, apperrors.Unauthorized("Unauthorized"))
		return nil, false
	}
	return user, true
}
