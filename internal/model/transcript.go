package model

// TranscriptItem is one line of the platform's JSONL transcript.
type TranscriptItem struct {
	Type      string `json:"type"`
	SpeakerID string `json:"speaker_id"`
	Text      string `json:"text"`
	StartTs   int64  `json:"start_ts"`
	StopTs    int64  `json:"stop_ts"`
}

type TranscriptSpeaker struct {
	Name string      `json:"name"`
	Kind SpeakerKind `json:"kind"`
}

type AnnotatedTranscriptItem struct {
	TranscriptItem
	User TranscriptSpeaker `json:"user"`
}

// UnknownSpeakerName is used for speaker ids with no user or agent row.
const UnknownSpeakerName = "Unknown"

// SummaryJob is the unit handed to the summarization queue.
type SummaryJob struct {
	ID            string `json:"id"`
	MeetingID     string `json:"meetingId"`
	TranscriptURL string `json:"transcriptUrl"`
	EnqueuedAt    int64  `json:"enqueuedAt"`
}
