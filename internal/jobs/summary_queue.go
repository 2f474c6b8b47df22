package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/meetai/meeting-server-go/internal/config"
	"github.com/meetai/meeting-server-go/internal/metrics"
	"github.com/meetai/meeting-server-go/internal/model"
	redisclient "github.com/meetai/meeting-server-go/internal/redis"
)

const (
	defaultPollTimeout = 5 * time.Second
	retryBackoff       = time.Second
)

// JobProcessor runs one summary job to completion.
type JobProcessor interface {
	Process(ctx context.Context, job model.SummaryJob) error
}

// SummaryQueue is a Redis list of summary jobs drained by a fixed set of
// workers. A failed job is not retried in place; the recovery sweep
// re-dispatches meetings that still have no summary.
type SummaryQueue struct {
	redis       *redis.Client
	processor   JobProcessor
	workers     int
	pollTimeout time.Duration
	jobTimeout  time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewSummaryQueue(client *redis.Client, processor JobProcessor, workers int) *SummaryQueue {
	if workers < 1 {
		workers = 1
	}
	return &SummaryQueue{
		redis:       client,
		processor:   processor,
		workers:     workers,
		pollTimeout: defaultPollTimeout,
		jobTimeout:  config.SummaryJobTimeout,
	}
}

// Dispatch enqueues a summary job for meetingID.
func (q *SummaryQueue) Dispatch(ctx context.Context, meetingID, transcriptURL string) error {
	job := model.SummaryJob{
		ID:            uuid.NewString(),
		MeetingID:     meetingID,
		TranscriptURL: transcriptURL,
		EnqueuedAt:    time.Now().UnixMilli(),
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal summary job: %w", err)
	}

	depth, err := q.redis.LPush(ctx, redisclient.SummaryQueueKey, payload).Result()
	if err != nil {
		return fmt.Errorf("enqueue summary job: %w", err)
	}
	metrics.SummaryQueueDepth.Set(float64(depth))

	log.Info().
		Str("meetingId", meetingID).
		Str("jobId", job.ID).
		Int64("depth", depth).
		Msg("summary job enqueued")
	return nil
}

func (q *SummaryQueue) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	q.cancel = cancel

	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.work(ctx, i)
	}
	log.Info().Int("workers", q.workers).Msg("summary queue started")
}

// Stop signals the workers and waits for in-flight jobs to finish.
func (q *SummaryQueue) Stop() {
	if q.cancel != nil {
		q.cancel()
	}
	q.wg.Wait()
	log.Info().Msg("summary queue stopped")
}

func (q *SummaryQueue) work(ctx context.Context, worker int) {
	defer q.wg.Done()

	for ctx.Err() == nil {
		res, err := q.redis.BRPop(ctx, q.pollTimeout, redisclient.SummaryQueueKey).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error().Err(err).Int("worker", worker).Msg("failed to poll summary queue")
			select {
			case <-ctx.Done():
				return
			case <-time.After(retryBackoff):
			}
			continue
		}

		// BRPOP replies with [key, value].
		if len(res) != 2 {
			continue
		}
		q.handle(worker, res[1])
	}
}

func (q *SummaryQueue) handle(worker int, payload string) {
	var job model.SummaryJob
	if err := json.Unmarshal([]byte(payload), &job); err != nil {
		metrics.SummaryJobsTotal.WithLabelValues("decode", "failed").Inc()
		log.Error().Err(err).Int("worker", worker).Msg("dropping malformed summary job")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), q.jobTimeout)
	defer cancel()

	if depth, err := q.redis.LLen(ctx, redisclient.SummaryQueueKey).Result(); err == nil {
		metrics.SummaryQueueDepth.Set(float64(depth))
	}

	wait := time.Since(time.UnixMilli(job.EnqueuedAt))
	if err := q.processor.Process(ctx, job); err != nil {
		log.Error().
			Err(err).
			Int("worker", worker).
			Str("jobId", job.ID).
			Str("meetingId", job.MeetingID).
			Dur("queued", wait).
			Msg("summary job failed")
		return
	}
	log.Debug().
		Int("worker", worker).
		Str("jobId", job.ID).
		Str("meetingId", job.MeetingID).
		Dur("queued", wait).
		Msg("summary job done")
}
