package model

import (
	"time"
)

type Meeting struct {
	ID              string        `db:"id" json:"id"`
	Name            string        `db:"name" json:"name"`
	UserID          string        `db:"user_id" json:"userId"`
	AgentID         string        `db:"agent_id" json:"agentId"`
	Status          MeetingStatus `db:"status" json:"status"`
	StartedAt       *time.Time    `db:"started_at" json:"startedAt,omitempty"`
	EndedAt         *time.Time    `db:"ended_at" json:"endedAt,omitempty"`
	TranscriptURL   *string       `db:"transcript_url" json:"transcriptUrl,omitempty"`
	RecordingURL    *string       `db:"recording_url" json:"recordingUrl,omitempty"`
	Summary         *string       `db:"summary" json:"summary,omitempty"`
	IsPrivate       bool          `db:"is_private" json:"isPrivate"`
	PinHash         *string       `db:"pin_hash" json:"-"`
	SummaryAttempts int           `db:"summary_attempts" json:"-"`
	CreatedAt       time.Time     `db:"created_at" json:"createdAt"`
	UpdatedAt       time.Time     `db:"updated_at" json:"updatedAt"`
}

// Duration is the wall time between start and end, or zero while either is unset.
func (m *Meeting) Duration() time.Duration {
	if m.StartedAt == nil || m.EndedAt == nil {
		return 0
	}
	return m.EndedAt.Sub(*m.StartedAt)
}

type CreateMeetingParams struct {
	ID        string
	Name      string
	UserID    string
	AgentID   string
	IsPrivate bool
	PinHash   *string
}

type UpdateMeetingDetailsParams struct {
	Name    *string
	AgentID *string
}

// TransitionParams describes a guarded status change. The update only lands
// when the row's current status is one of From.
type TransitionParams struct {
	MeetingID     string
	From          []MeetingStatus
	To            MeetingStatus
	SetStartedAt  bool
	SetEndedAt    bool
	TranscriptURL *string
	At            time.Time
}
