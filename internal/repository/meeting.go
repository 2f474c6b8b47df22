package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/meetai/meeting-server-go/internal/model"
)

type MeetingRepository interface {
	FindByID(ctx context.Context, id string) (*model.Meeting, error)
	FindByIDForUser(ctx context.Context, id, userID string) (*model.Meeting, error)
	Create(ctx context.Context, params model.CreateMeetingParams) (*model.Meeting, error)
	// Transition applies a guarded status change in a single statement.
	// Returns ErrTransitionRejected when no row matched the guard.
	Transition(ctx context.Context, params model.TransitionParams) (*model.Meeting, error)
	SetRecordingURL(ctx context.Context, id, url string) (*model.Meeting, error)
	SaveSummary(ctx context.Context, id, summary string) (*model.Meeting, error)
	UpdateDetails(ctx context.Context, id, userID string, params model.UpdateMeetingDetailsParams) (*model.Meeting, error)
	ClaimUnsummarized(ctx context.Context, now time.Time, updatedBefore time.Time, maxAttempts, limit int) ([]model.Meeting, error)
	WithTx(tx *sqlx.Tx) MeetingRepository
}

type meetingRepo struct {
	db dbtx
}

func NewMeetingRepository(db *sqlx.DB) MeetingRepository {
	return &meetingRepo{db: db}
}

func (r *meetingRepo) WithTx(tx *sqlx.Tx) MeetingRepository {
	return &meetingRepo{db: tx}
}

func (r *meetingRepo) FindByID(ctx context.Context, id string) (*model.Meeting, error) {
	var m model.Meeting
	err := r.db.GetContext(ctx, &m, `SELECT * FROM meetings WHERE id = $1`, id)
	return HandleNotFound(&m, err)
}

func (r *meetingRepo) FindByIDForUser(ctx context.Context, id, userID string) (*model.Meeting, error) {
	var m model.Meeting
	err := r.db.GetContext(ctx, &m, `
		SELECT * FROM meetings WHERE id = $1 AND user_id = $2
	`, id, userID)
	return HandleNotFound(&m, err)
}

func (r *meetingRepo) Create(ctx context.Context, params model.CreateMeetingParams) (*model.Meeting, error) {
	var m model.Meeting
	err := r.db.GetContext(ctx, &m, `
		INSERT INTO meetings (id, name, user_id, agent_id, status, is_private, pin_hash)
		VALUES ($1, $2, $3, $4, 'upcoming', $5, $6)
		RETURNING *
	`, params.ID, params.Name, params.UserID, params.AgentID, params.IsPrivate, params.PinHash)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// startedAt is only written when leaving upcoming and endedAt only when
// leaving active, whatever the caller asks for.
func (r *meetingRepo) Transition(ctx context.Context, params model.TransitionParams) (*model.Meeting, error) {
	at := params.At
	if at.IsZero() {
		at = time.Now()
	}

	var m model.Meeting
	err := r.db.GetContext(ctx, &m, `
		UPDATE meetings SET
			status = $3,
			started_at = CASE WHEN $4::boolean AND status = 'upcoming' THEN $6::timestamptz ELSE started_at END,
			ended_at = CASE WHEN $5::boolean AND status = 'active' THEN $6::timestamptz ELSE ended_at END,
			transcript_url = COALESCE($7::text, transcript_url),
			updated_at = $6::timestamptz
		WHERE id = $1 AND status = ANY($2)
		RETURNING *
	`, params.MeetingID, pq.Array(statusStrings(params.From)), string(params.To),
		params.SetStartedAt, params.SetEndedAt, at, params.TranscriptURL)
	return handleGuarded(&m, err)
}

func (r *meetingRepo) SetRecordingURL(ctx context.Context, id, url string) (*model.Meeting, error) {
	var m model.Meeting
	err := r.db.GetContext(ctx, &m, `
		UPDATE meetings SET
			recording_url = $3,
			updated_at = $4
		WHERE id = $1 AND status = ANY($2)
		RETURNING *
	`, id, pq.Array(statusStrings(model.NonTerminalStatuses)), url, time.Now())
	return handleGuarded(&m, err)
}

// SaveSummary overwrites the summary and pins status to completed. A
// cancelled meeting is never resurrected.
func (r *meetingRepo) SaveSummary(ctx context.Context, id, summary string) (*model.Meeting, error) {
	var m model.Meeting
	err := r.db.GetContext(ctx, &m, `
		UPDATE meetings SET
			summary = $2,
			status = 'completed',
			updated_at = $3
		WHERE id = $1 AND status IN ('processing', 'completed')
		RETURNING *
	`, id, summary, time.Now())
	return handleGuarded(&m, err)
}

func (r *meetingRepo) UpdateDetails(ctx context.Context, id, userID string, params model.UpdateMeetingDetailsParams) (*model.Meeting, error) {
	var m model.Meeting
	err := r.db.GetContext(ctx, &m, `
		UPDATE meetings SET
			name = COALESCE($3::text, name),
			agent_id = COALESCE($4::text, agent_id),
			updated_at = $5
		WHERE id = $1 AND user_id = $2 AND status = 'upcoming'
		RETURNING *
	`, id, userID, params.Name, params.AgentID, time.Now())
	return handleGuarded(&m, err)
}

// ClaimUnsummarized picks up to limit completed meetings without a summary
// that have been idle since updatedBefore and have fewer than maxAttempts
// recovery attempts. Claimed rows get updated_at = now and one more attempt,
// so they stay out of the next sweeps until the window passes again.
func (r *meetingRepo) ClaimUnsummarized(ctx context.Context, now time.Time, updatedBefore time.Time, maxAttempts, limit int) ([]model.Meeting, error) {
	var meetings []model.Meeting
	err := r.db.SelectContext(ctx, &meetings, `
		UPDATE meetings
		SET updated_at = $1, summary_attempts = summary_attempts + 1
		WHERE id IN (
			SELECT id FROM meetings
			WHERE status = 'completed'
			AND summary IS NULL
			AND transcript_url IS NOT NULL
			AND updated_at < $2
			AND summary_attempts < $3
			ORDER BY updated_at ASC
			LIMIT $4
			FOR UPDATE SKIP LOCKED
		)
		RETURNING *
	`, now, updatedBefore, maxAttempts, limit)
	return meetings, err
}
