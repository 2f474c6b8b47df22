package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/meetai/meeting-server-go/internal/audit"
	apperrors "github.com/meetai/meeting-server-go/internal/errors"
	"github.com/meetai/meeting-server-go/internal/metrics"
	"github.com/meetai/meeting-server-go/internal/model"
	"github.com/meetai/meeting-server-go/internal/repository"
	"github.com/meetai/meeting-server-go/pkg/concurrent"
)

const (
	EventTypeStatus       = "status"
	EventTypeSummaryReady = "summary_ready"
)

type StatusEventData struct {
	MeetingID string              `json:"meetingId"`
	Status    model.MeetingStatus `json:"status"`
	At        time.Time           `json:"at"`
}

// SessionStartResult carries the committed meeting plus the outcome of each
// best-effort side effect.
type SessionStartResult struct {
	Meeting          *model.Meeting
	Attach           *AttachResult
	AttachErr        error
	RecordingErr     error
	TranscriptionErr error
}

// LifecycleService is the meeting status machine. Every status write is a
// single guarded update; side effects run only after it commits.
type LifecycleService struct {
	meetings   repository.MeetingRepository
	agents     repository.AgentRepository
	platform   Platform
	attacher   *AgentAttacher
	recorder   *RecordingService
	dispatcher SummaryDispatcher
	events     EventPublisher
	pool       *concurrent.WorkerPool
	now        func() time.Time
}

func NewLifecycleService(
	meetings repository.MeetingRepository,
	agents repository.AgentRepository,
	p Platform,
	attacher *AgentAttacher,
	recorder *RecordingService,
	dispatcher SummaryDispatcher,
	events EventPublisher,
) *LifecycleService {
	return &LifecycleService{
		meetings:   meetings,
		agents:     agents,
		platform:   p,
		attacher:   attacher,
		recorder:   recorder,
		dispatcher: dispatcher,
		events:     events,
		pool:       concurrent.NewWorkerPool(2),
		now:        time.Now,
	}
}

// StartSession moves upcoming → active, then attaches the agent and starts
// recording and transcription. Side-effect failures are reported in the
// result, never as an error.
func (s *LifecycleService) StartSession(ctx context.Context, meetingID string) (*SessionStartResult, error) {
	m, err := s.transition(ctx, model.TransitionParams{
		MeetingID:    meetingID,
		From:         []model.MeetingStatus{model.MeetingStatusUpcoming},
		To:           model.MeetingStatusActive,
		SetStartedAt: true,
	})
	if err != nil {
		return nil, err
	}

	agent, err := s.agents.FindByID(ctx, m.AgentID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if agent == nil {
		return nil, apperrors.NotFound("Agent")
	}

	result := &SessionStartResult{Meeting: m}
	errs := s.pool.RunAll(ctx,
		func(ctx context.Context) error {
			result.Attach, result.AttachErr = s.attacher.Attach(ctx, m.ID, agent, TriggerWebhook)
			return result.AttachErr
		},
		func(ctx context.Context) error {
			result.RecordingErr, result.TranscriptionErr = s.recorder.Bootstrap(ctx, m.ID)
			return errors.Join(result.RecordingErr, result.TranscriptionErr)
		},
	)
	if result.AttachErr != nil {
		log.Error().
			Err(result.AttachErr).
			Str("meetingId", m.ID).
			Str("agentId", agent.ID).
			Msg("agent attachment failed after session start")
	}
	if err := concurrent.FirstError(errs); err == nil {
		log.Info().Str("meetingId", m.ID).Str("agentId", agent.ID).Msg("session started")
	}

	return result, nil
}

// AttachAgent is the manual fallback: same coordinator, meeting must be
// owned by userID.
func (s *LifecycleService) AttachAgent(ctx context.Context, meetingID, userID string) (*AttachResult, error) {
	m, err := s.ownedMeeting(ctx, meetingID, userID)
	if err != nil {
		return nil, err
	}

	agent, err := s.agents.FindByID(ctx, m.AgentID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if agent == nil {
		return nil, apperrors.NotFound("Agent")
	}

	return s.attacher.Attach(ctx, m.ID, agent, TriggerManual)
}

// StartCapture is the manual recording/transcription retry path.
func (s *LifecycleService) StartCapture(ctx context.Context, meetingID, userID string) (*ManualCaptureResult, error) {
	m, err := s.ownedMeeting(ctx, meetingID, userID)
	if err != nil {
		return nil, err
	}
	return s.recorder.StartMissing(ctx, m.ID)
}

// ParticipantLeft ends the call when nobody but the meeting's agent remains.
// Returns whether an end was requested. Platform failures are logged only.
func (s *LifecycleService) ParticipantLeft(ctx context.Context, meetingID, leavingUserID string) (bool, error) {
	m, err := s.meetings.FindByID(ctx, meetingID)
	if err != nil {
		return false, apperrors.Database(err)
	}
	if m == nil {
		return false, apperrors.NotFound("Meeting")
	}
	if m.Status != model.MeetingStatusActive {
		log.Debug().
			Str("meetingId", meetingID).
			Str("status", string(m.Status)).
			Msg("participant left a meeting that is not active, ignoring")
		return false, nil
	}

	call, err := s.platform.GetCall(ctx, meetingID)
	if err != nil {
		log.Warn().Err(err).Str("meetingId", meetingID).Msg("failed to read call after participant left")
		return false, nil
	}

	for _, id := range call.ParticipantIDs() {
		if id != leavingUserID && id != m.AgentID {
			return false, nil
		}
	}

	if err := s.platform.EndCall(ctx, meetingID); err != nil {
		log.Warn().Err(err).Str("meetingId", meetingID).Msg("failed to end call after last participant left")
		return false, nil
	}
	log.Info().Str("meetingId", meetingID).Str("userId", leavingUserID).Msg("last participant left, call ended")
	return true, nil
}

// CallEnded moves active → processing and stamps endedAt.
func (s *LifecycleService) CallEnded(ctx context.Context, meetingID string) (*model.Meeting, error) {
	return s.transition(ctx, model.TransitionParams{
		MeetingID:  meetingID,
		From:       []model.MeetingStatus{model.MeetingStatusActive},
		To:         model.MeetingStatusProcessing,
		SetEndedAt: true,
	})
}

// TranscriptionReady moves processing → completed with the transcript url
// and dispatches exactly one summary job. A dispatch failure is logged; the
// recovery sweep picks the meeting up later.
func (s *LifecycleService) TranscriptionReady(ctx context.Context, meetingID, transcriptURL string) (*model.Meeting, error) {
	m, err := s.transition(ctx, model.TransitionParams{
		MeetingID:     meetingID,
		From:          []model.MeetingStatus{model.MeetingStatusProcessing},
		To:            model.MeetingStatusCompleted,
		TranscriptURL: &transcriptURL,
	})
	if err != nil {
		return nil, err
	}

	if err := s.dispatcher.Dispatch(ctx, m.ID, transcriptURL); err != nil {
		metrics.SummaryJobsTotal.WithLabelValues("dispatch", "failed").Inc()
		log.Error().Err(err).Str("meetingId", m.ID).Msg("failed to dispatch summary job")
		return m, nil
	}
	metrics.SummaryJobsTotal.WithLabelValues("dispatch", "ok").Inc()
	return m, nil
}

// RecordingReady stores the recording url on any non-terminal meeting.
func (s *LifecycleService) RecordingReady(ctx context.Context, meetingID, recordingURL string) (*model.Meeting, error) {
	m, err := s.meetings.SetRecordingURL(ctx, meetingID, recordingURL)
	if errors.Is(err, repository.ErrTransitionRejected) {
		return nil, s.rejection(ctx, meetingID, "recording_ready")
	}
	if err != nil {
		return nil, apperrors.Database(err)
	}
	log.Info().Str("meetingId", meetingID).Msg("recording url stored")
	return m, nil
}

// Cancel moves upcoming|active → cancelled. Leaving active stamps endedAt
// and asks the platform to end the call.
func (s *LifecycleService) Cancel(ctx context.Context, meetingID, userID string) (*model.Meeting, error) {
	if _, err := s.ownedMeeting(ctx, meetingID, userID); err != nil {
		return nil, err
	}

	m, err := s.transition(ctx, model.TransitionParams{
		MeetingID:  meetingID,
		From:       []model.MeetingStatus{model.MeetingStatusUpcoming, model.MeetingStatusActive},
		To:         model.MeetingStatusCancelled,
		SetEndedAt: true,
	})
	if err != nil {
		return nil, err
	}

	audit.Log(ctx, audit.Event{Type: audit.EventMeetingCancel, UserID: userID, MeetingID: m.ID})

	// endedAt is only stamped when the meeting left active.
	if m.EndedAt != nil {
		if err := s.platform.EndCall(ctx, m.ID); err != nil {
			log.Warn().Err(err).Str("meetingId", m.ID).Msg("failed to end call for cancelled meeting")
		}
	}
	return m, nil
}

func (s *LifecycleService) transition(ctx context.Context, params model.TransitionParams) (*model.Meeting, error) {
	if params.At.IsZero() {
		params.At = s.now()
	}

	m, err := s.meetings.Transition(ctx, params)
	if errors.Is(err, repository.ErrTransitionRejected) {
		metrics.TransitionsTotal.WithLabelValues(string(params.To), "rejected").Inc()
		return nil, s.rejection(ctx, params.MeetingID, "transition to "+string(params.To))
	}
	if err != nil {
		metrics.TransitionsTotal.WithLabelValues(string(params.To), "error").Inc()
		return nil, apperrors.Database(err)
	}

	metrics.TransitionsTotal.WithLabelValues(string(params.To), "applied").Inc()
	log.Info().
		Str("meetingId", m.ID).
		Str("status", string(m.Status)).
		Msg("meeting status changed")

	publishEvent(ctx, s.events, m.ID, EventTypeStatus, StatusEventData{MeetingID: m.ID, Status: m.Status, At: params.At})
	return m, nil
}

// rejection distinguishes a missing meeting (404) from a guard miss (400).
func (s *LifecycleService) rejection(ctx context.Context, meetingID, action string) error {
	m, err := s.meetings.FindByID(ctx, meetingID)
	if err != nil {
		return apperrors.Database(err)
	}
	if m == nil {
		return apperrors.NotFound("Meeting")
	}
	log.Info().
		Str("meetingId", meetingID).
		Str("status", string(m.Status)).
		Str("action", action).
		Msg("transition rejected by guard")
	return apperrors.TransitionRejected(meetingID,
		fmt.Sprintf("Meeting not found under guard: %s not allowed from %s", action, m.Status))
}

func (s *LifecycleService) ownedMeeting(ctx context.Context, meetingID, userID string) (*model.Meeting, error) {
	m, err := s.meetings.FindByIDForUser(ctx, meetingID, userID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if m == nil {
		return nil, apperrors.NotFound("Meeting")
	}
	return m, nil
}
