package jobs

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/meetai/meeting-server-go/internal/model"
	"github.com/meetai/meeting-server-go/internal/repository"
)

const recoveryBatchSize = 50

// UnsummarizedClaimer claims completed meetings still waiting for a summary,
// marking each claimed row so it is not handed out again within the window.
type UnsummarizedClaimer interface {
	ClaimUnsummarized(ctx context.Context, now time.Time, updatedBefore time.Time, maxAttempts, limit int) ([]model.Meeting, error)
}

// Dispatcher enqueues a summary job.
type Dispatcher interface {
	Dispatch(ctx context.Context, meetingID, transcriptURL string) error
}

// RecoveryJob periodically re-dispatches summaries that never landed and
// prunes expired sessions. A meeting is re-dispatched at most maxAttempts
// times, once per recoverAfter window.
type RecoveryJob struct {
	meetings     UnsummarizedClaimer
	dispatcher   Dispatcher
	sessionRepo  repository.SessionRepository
	recoverAfter time.Duration
	maxAttempts  int
	interval     time.Duration
	now          func() time.Time
	done         chan struct{}
}

func NewRecoveryJob(
	meetings UnsummarizedClaimer,
	dispatcher Dispatcher,
	sessionRepo repository.SessionRepository,
	recoverAfter time.Duration,
	maxAttempts int,
	interval time.Duration,
) *RecoveryJob {
	return &RecoveryJob{
		meetings:     meetings,
		dispatcher:   dispatcher,
		sessionRepo:  sessionRepo,
		recoverAfter: recoverAfter,
		maxAttempts:  maxAttempts,
		interval:     interval,
		now:          time.Now,
		done:         make(chan struct{}),
	}
}

func (j *RecoveryJob) Start() {
	go j.run()
	log.Info().
		Dur("interval", j.interval).
		Dur("recoverAfter", j.recoverAfter).
		Int("maxAttempts", j.maxAttempts).
		Msg("recovery job started")
}

func (j *RecoveryJob) Stop() {
	close(j.done)
	log.Info().Msg("recovery job stopped")
}

func (j *RecoveryJob) run() {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.sweep()

	for {
		select {
		case <-j.done:
			return
		case <-ticker.C:
			j.sweep()
		}
	}
}

func (j *RecoveryJob) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	j.runCleanup(ctx, "re-dispatch stale summaries", j.redispatch)
	if j.sessionRepo != nil {
		j.runCleanup(ctx, "delete expired sessions", j.sessionRepo.DeleteExpired)
	}
}

// redispatch enqueues one job per claimed stale meeting.
func (j *RecoveryJob) redispatch(ctx context.Context) (int64, error) {
	now := j.now()
	stale, err := j.meetings.ClaimUnsummarized(ctx, now, now.Add(-j.recoverAfter), j.maxAttempts, recoveryBatchSize)
	if err != nil {
		return 0, err
	}

	var count int64
	for _, m := range stale {
		if m.TranscriptURL == nil {
			continue
		}
		if err := j.dispatcher.Dispatch(ctx, m.ID, *m.TranscriptURL); err != nil {
			log.Error().Err(err).Str("meetingId", m.ID).Int("attempt", m.SummaryAttempts).Msg("failed to re-dispatch summary job")
			continue
		}
		if m.SummaryAttempts >= j.maxAttempts {
			log.Warn().Str("meetingId", m.ID).Int("attempts", m.SummaryAttempts).Msg("final summary recovery attempt")
		}
		count++
	}
	return count, nil
}

func (j *RecoveryJob) runCleanup(ctx context.Context, name string, fn func(context.Context) (int64, error)) {
	count, err := fn(ctx)
	if err != nil {
		log.Error().Err(err).Msgf("failed to %s", name)
	} else if count > 0 {
		log.Info().Int64("count", count).Msg(name)
	}
}
