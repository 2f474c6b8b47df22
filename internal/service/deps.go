package service

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/meetai/meeting-server-go/internal/platform"
	"github.com/meetai/meeting-server-go/internal/sse"
)

// Platform is the video platform surface the orchestrator drives.
type Platform interface {
	GetCall(ctx context.Context, callID string) (*platform.Call, error)
	CreateCall(ctx context.Context, params platform.CreateCallParams) (*platform.Call, error)
	UpsertUsers(ctx context.Context, users ...platform.User) error
	ConnectAgent(ctx context.Context, params platform.ConnectAgentParams) error
	StartRecording(ctx context.Context, callID string) error
	StartTranscription(ctx context.Context, callID string) error
	EndCall(ctx context.Context, callID string) error
}

// SummaryDispatcher hands a summary job to the asynchronous runner.
type SummaryDispatcher interface {
	Dispatch(ctx context.Context, meetingID, transcriptURL string) error
}

// EventPublisher fans meeting events out to status stream subscribers.
type EventPublisher interface {
	Publish(ctx context.Context, meetingID string, event sse.Event) error
}

// Summarizer turns an annotated transcript (JSON) into summary text.
type Summarizer interface {
	Summarize(ctx context.Context, transcriptJSON string) (string, error)
}

// TranscriptFetcher downloads the raw transcript body.
type TranscriptFetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// publishEvent logs publish failures and never returns them.
func publishEvent(ctx context.Context, events EventPublisher, meetingID, eventType string, data any) {
	if events == nil {
		return
	}
	event, err := sse.NewEvent(eventType, data)
	if err == nil {
		err = events.Publish(ctx, meetingID, event)
	}
	if err != nil {
		log.Warn().Err(err).Str("meetingId", meetingID).Str("eventType", eventType).Msg("failed to publish meeting event")
	}
}
