package model

type MeetingStatus string

const (
	MeetingStatusUpcoming   MeetingStatus = "upcoming"
	MeetingStatusActive     MeetingStatus = "active"
	MeetingStatusProcessing MeetingStatus = "processing"
	MeetingStatusCompleted  MeetingStatus = "completed"
	MeetingStatusCancelled  MeetingStatus = "cancelled"
)

// IsTerminal reports whether no automatic transition leaves s.
func (s MeetingStatus) IsTerminal() bool {
	return s == MeetingStatusCompleted || s == MeetingStatusCancelled
}

func (s MeetingStatus) IsValid() bool {
	switch s {
	case MeetingStatusUpcoming, MeetingStatusActive, MeetingStatusProcessing,
		MeetingStatusCompleted, MeetingStatusCancelled:
		return true
	}
	return false
}

// NonTerminalStatuses lists every status a recording URL may be attached in.
var NonTerminalStatuses = []MeetingStatus{
	MeetingStatusUpcoming,
	MeetingStatusActive,
	MeetingStatusProcessing,
}

type SpeakerKind string

const (
	SpeakerKindUser    SpeakerKind = "user"
	SpeakerKindAgent   SpeakerKind = "agent"
	SpeakerKindUnknown SpeakerKind = "unknown"
)
