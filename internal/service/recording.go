package service

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"

	apperrors "github.com/meetai/meeting-server-go/internal/errors"
	"github.com/meetai/meeting-server-go/internal/metrics"
	"github.com/meetai/meeting-server-go/internal/platform"
	"github.com/meetai/meeting-server-go/pkg/concurrent"
)

const (
	featureRecording     = "recording"
	featureTranscription = "transcription"
)

type CaptureResult struct {
	Started bool    `json:"started"`
	Error   *string `json:"error"`
}

type CaptureState struct {
	Recording    bool `json:"recording"`
	Transcribing bool `json:"transcribing"`
}

type ManualCaptureResult struct {
	MeetingID     string        `json:"meetingId"`
	Recording     CaptureResult `json:"recording"`
	Transcription CaptureResult `json:"transcription"`
	CallState     CaptureState  `json:"callState"`
}

// RecordingService starts recording and transcription independently.
// Neither failure affects the other or any committed status.
type RecordingService struct {
	platform Platform
	pool     *concurrent.WorkerPool
}

func NewRecordingService(p Platform) *RecordingService {
	return &RecordingService{platform: p, pool: concurrent.NewWorkerPool(2)}
}

// Bootstrap attempts both starts and returns each outcome. A feature the
// platform reports as already running counts as started.
func (s *RecordingService) Bootstrap(ctx context.Context, meetingID string) (recErr, transErr error) {
	errs := s.pool.RunAll(ctx,
		func(ctx context.Context) error {
			return s.start(ctx, meetingID, featureRecording, s.platform.StartRecording)
		},
		func(ctx context.Context) error {
			return s.start(ctx, meetingID, featureTranscription, s.platform.StartTranscription)
		},
	)
	return errs[0], errs[1]
}

// StartMissing reads the call's capture flags, starts whatever is off, and
// reports the state re-read afterwards.
func (s *RecordingService) StartMissing(ctx context.Context, meetingID string) (*ManualCaptureResult, error) {
	call, err := s.platform.GetCall(ctx, meetingID)
	if err != nil {
		return nil, apperrors.External("video platform", err)
	}

	result := &ManualCaptureResult{
		MeetingID: meetingID,
		CallState: CaptureState{Recording: call.Recording, Transcribing: call.Transcribing},
	}

	var starts []func(ctx context.Context) error
	var slots []*CaptureResult
	if call.Recording {
		result.Recording.Started = true
	} else {
		starts = append(starts, func(ctx context.Context) error {
			return s.start(ctx, meetingID, featureRecording, s.platform.StartRecording)
		})
		slots = append(slots, &result.Recording)
	}
	if call.Transcribing {
		result.Transcription.Started = true
	} else {
		starts = append(starts, func(ctx context.Context) error {
			return s.start(ctx, meetingID, featureTranscription, s.platform.StartTranscription)
		})
		slots = append(slots, &result.Transcription)
	}

	for i, err := range s.pool.RunAll(ctx, starts...) {
		if err != nil {
			msg := err.Error()
			slots[i].Error = &msg
			continue
		}
		slots[i].Started = true
	}

	if updated, err := s.platform.GetCall(ctx, meetingID); err != nil {
		log.Warn().Err(err).Str("meetingId", meetingID).Msg("failed to re-read call state")
	} else {
		result.CallState = CaptureState{Recording: updated.Recording, Transcribing: updated.Transcribing}
	}

	return result, nil
}

func (s *RecordingService) start(ctx context.Context, meetingID, feature string, fn func(context.Context, string) error) error {
	err := fn(ctx, meetingID)
	switch {
	case err == nil:
		metrics.CaptureStartsTotal.WithLabelValues(feature, "started").Inc()
		log.Info().Str("meetingId", meetingID).Str("feature", feature).Msg("capture started")
		return nil
	case errors.Is(err, platform.ErrAlreadyRunning):
		metrics.CaptureStartsTotal.WithLabelValues(feature, "already_running").Inc()
		log.Info().Str("meetingId", meetingID).Str("feature", feature).Msg("capture already running")
		return nil
	default:
		metrics.CaptureStartsTotal.WithLabelValues(feature, "failed").Inc()
		log.Warn().Err(err).Str("meetingId", meetingID).Str("feature", feature).Msg("failed to start capture")
		return err
	}
}
