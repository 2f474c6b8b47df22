package handler

import (
	"github.com/meetai/meeting-server-go/internal/platform"
)

// Webhook event types sent by the video platform.
const (
	EventSessionStarted       = "call.session_started"
	EventParticipantLeft      = "call.session_participant_left"
	EventCallEnded            = "call.ended"
	EventRecordingStarted     = "call.recording_started"
	EventTranscriptionStarted = "call.transcription_started"
	EventTranscriptionReady   = "call.transcription_ready"
	EventRecordingReady       = "call.recording_ready"
)

// WebhookEvent is the envelope shared by every platform webhook. Only the
// fields the orchestrator reads are decoded.
type WebhookEvent struct {
	Type              string              `json:"type"`
	CallCID           string              `json:"call_cid"`
	CreatedAt         string              `json:"created_at,omitempty"`
	Call              *WebhookCall        `json:"call,omitempty"`
	Participant       *WebhookParticipant `json:"participant,omitempty"`
	CallTranscription *WebhookAsset       `json:"call_transcription,omitempty"`
	CallRecording     *WebhookAsset       `json:"call_recording,omitempty"`
}

type WebhookCall struct {
	CID    string         `json:"cid"`
	ID     string         `json:"id"`
	Custom map[string]any `json:"custom,omitempty"`
}

type WebhookParticipant struct {
	User          platform.User `json:"user"`
	UserSessionID string        `json:"user_session_id,omitempty"`
}

// WebhookAsset is a finished transcription or recording file.
type WebhookAsset struct {
	URL       string `json:"url"`
	Filename  string `json:"filename,omitempty"`
	StartTime string `json:"start_time,omitempty"`
	EndTime   string `json:"end_time,omitempty"`
}

// MeetingID resolves the meeting the event refers to: call.custom.meetingId
// first, then the id part of the call cid.
func (e *WebhookEvent) MeetingID() string {
	if e.Call != nil {
		if id, ok := e.Call.Custom["meetingId"].(string); ok && id != "" {
			return id
		}
	}

	cid := e.CallCID
	if cid == "" && e.Call != nil {
		cid = e.Call.CID
	}
	if _, id, ok := platform.SplitCallCID(cid); ok {
		return id
	}
	return ""
}

func (e *WebhookEvent) participantUserID() string {
	if e.Participant == nil {
		return ""
	}
	return e.Participant.User.ID
}

func assetURL(a *WebhookAsset) string {
	if a == nil {
		return ""
	}
	return a.URL
}
