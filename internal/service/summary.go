package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/meetai/meeting-server-go/internal/metrics"
	"github.com/meetai/meeting-server-go/internal/model"
	"github.com/meetai/meeting-server-go/internal/repository"
	"github.com/meetai/meeting-server-go/internal/transcript"
	"github.com/meetai/meeting-server-go/pkg/concurrent"
)

type SummaryReadyData struct {
	MeetingID string    `json:"meetingId"`
	At        time.Time `json:"at"`
}

// SummaryService runs one summary job: fetch, annotate, summarize, persist.
type SummaryService struct {
	meetings   repository.MeetingRepository
	users      repository.UserRepository
	agents     repository.AgentRepository
	fetcher    TranscriptFetcher
	summarizer Summarizer
	events     EventPublisher
	pool       *concurrent.WorkerPool
}

func NewSummaryService(
	meetings repository.MeetingRepository,
	users repository.UserRepository,
	agents repository.AgentRepository,
	fetcher TranscriptFetcher,
	summarizer Summarizer,
	events EventPublisher,
) *SummaryService {
	return &SummaryService{
		meetings:   meetings,
		users:      users,
		agents:     agents,
		fetcher:    fetcher,
		summarizer: summarizer,
		events:     events,
		pool:       concurrent.NewWorkerPool(2),
	}
}

// Process runs job to completion. A meeting that no longer accepts a
// summary (cancelled or gone) ends the job without error.
func (s *SummaryService) Process(ctx context.Context, job model.SummaryJob) error {
	start := time.Now()
	logger := log.With().Str("meetingId", job.MeetingID).Str("jobId", job.ID).Logger()

	body, err := s.fetcher.Fetch(ctx, job.TranscriptURL)
	if err != nil {
		return s.fail("fetch", err)
	}

	items, err := transcript.Parse(body)
	if err != nil {
		return s.fail("parse", err)
	}

	annotated, err := s.annotate(ctx, items)
	if err != nil {
		return s.fail("speakers", err)
	}

	payload, err := json.Marshal(annotated)
	if err != nil {
		return s.fail("encode", err)
	}

	summary, err := s.summarizer.Summarize(ctx, string(payload))
	if err != nil {
		return s.fail("summarize", err)
	}

	m, err := s.meetings.SaveSummary(ctx, job.MeetingID, summary)
	if errors.Is(err, repository.ErrTransitionRejected) {
		metrics.SummaryJobsTotal.WithLabelValues("save", "skipped").Inc()
		logger.Warn().Msg("meeting no longer accepts a summary, dropping job")
		return nil
	}
	if err != nil {
		return s.fail("save", err)
	}

	metrics.SummaryJobsTotal.WithLabelValues("save", "ok").Inc()
	metrics.SummaryJobDuration.Observe(time.Since(start).Seconds())
	logger.Info().
		Int("items", len(items)).
		Dur("elapsed", time.Since(start)).
		Msg("meeting summary saved")

	s.publishReady(ctx, m.ID)
	return nil
}

func (s *SummaryService) annotate(ctx context.Context, items []model.TranscriptItem) ([]model.AnnotatedTranscriptItem, error) {
	ids := transcript.SpeakerIDs(items)

	var users []model.User
	var agents []model.Agent
	err := s.pool.Run(ctx,
		func(ctx context.Context) error {
			var err error
			users, err = s.users.FindByIDs(ctx, ids)
			return err
		},
		func(ctx context.Context) error {
			var err error
			agents, err = s.agents.FindByIDs(ctx, ids)
			return err
		},
	)
	if err != nil {
		return nil, err
	}

	return transcript.Annotate(items, users, agents), nil
}

func (s *SummaryService) fail(stage string, err error) error {
	metrics.SummaryJobsTotal.WithLabelValues(stage, "failed").Inc()
	return fmt.Errorf("summary %s: %w", stage, err)
}

func (s *SummaryService) publishReady(ctx context.Context, meetingID string) {
	publishEvent(ctx, s.events, meetingID, EventTypeSummaryReady, SummaryReadyData{MeetingID: meetingID, At: time.Now()})
}
