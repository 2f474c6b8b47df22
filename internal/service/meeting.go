package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	"github.com/meetai/meeting-server-go/internal/audit"
	"github.com/meetai/meeting-server-go/internal/config"
	"github.com/meetai/meeting-server-go/internal/database"
	apperrors "github.com/meetai/meeting-server-go/internal/errors"
	"github.com/meetai/meeting-server-go/internal/model"
	"github.com/meetai/meeting-server-go/internal/platform"
	redisclient "github.com/meetai/meeting-server-go/internal/redis"
	"github.com/meetai/meeting-server-go/internal/repository"
	"github.com/meetai/meeting-server-go/internal/util"
)

const (
	maxMeetingNameLength = 100
	callTokenTTL         = time.Hour
)

// TxRunner runs fn inside a database transaction.
type TxRunner interface {
	WithTx(ctx context.Context, fn database.TxFunc) error
}

// Limiter is a keyed sliding-window limiter.
type Limiter interface {
	CheckLimit(ctx context.Context, key string, limit int, window time.Duration) RateLimitResult
}

type CreateMeetingInput struct {
	Name      string `json:"name"`
	AgentID   string `json:"agentId"`
	IsPrivate bool   `json:"isPrivate"`
}

type CreateMeetingResult struct {
	Meeting *model.Meeting `json:"meeting"`
	// PIN is returned once, at creation, for private meetings.
	PIN string `json:"pin,omitempty"`
}

type UpdateMeetingInput struct {
	Name    *string `json:"name"`
	AgentID *string `json:"agentId"`
}

type CallToken struct {
	Token     string    `json:"token"`
	UserID    string    `json:"userId"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type MeetingServiceConfig struct {
	StreamAPISecret      string
	PinAttemptsPerWindow int
}

// MeetingService owns the user-facing meeting operations outside the
// status machine.
type MeetingService struct {
	tx       TxRunner
	meetings repository.MeetingRepository
	agents   repository.AgentRepository
	platform Platform
	limiter  Limiter
	cfg      MeetingServiceConfig
}

func NewMeetingService(
	tx TxRunner,
	meetings repository.MeetingRepository,
	agents repository.AgentRepository,
	p Platform,
	limiter Limiter,
	cfg MeetingServiceConfig,
) *MeetingService {
	if cfg.PinAttemptsPerWindow <= 0 {
		cfg.PinAttemptsPerWindow = 5
	}
	return &MeetingService{
		tx:       tx,
		meetings: meetings,
		agents:   agents,
		platform: p,
		limiter:  limiter,
		cfg:      cfg,
	}
}

// Create inserts the meeting and its platform call together: the row is
// rolled back if the call cannot be created.
func (s *MeetingService) Create(ctx context.Context, userID string, input CreateMeetingInput) (*CreateMeetingResult, error) {
	name, err := validateMeetingName(input.Name)
	if err != nil {
		return nil, err
	}
	if input.AgentID == "" {
		return nil, apperrors.MissingRequired("agentId")
	}

	agent, err := s.ownedAgent(ctx, input.AgentID, userID)
	if err != nil {
		return nil, err
	}

	params := model.CreateMeetingParams{
		ID:        uuid.NewString(),
		Name:      name,
		UserID:    userID,
		AgentID:   agent.ID,
		IsPrivate: input.IsPrivate,
	}

	var pin string
	if input.IsPrivate {
		pin, err = util.GeneratePIN()
		if err != nil {
			return nil, apperrors.Internal("Failed to generate PIN").WithCause(err)
		}
		hash, err := util.HashPIN(pin)
		if err != nil {
			return nil, apperrors.Internal("Failed to hash PIN").WithCause(err)
		}
		params.PinHash = &hash
	}

	var m *model.Meeting
	err = s.tx.WithTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		m, err = s.meetings.WithTx(tx).Create(ctx, params)
		if err != nil {
			return apperrors.Database(err)
		}
		_, err = s.platform.CreateCall(ctx, platform.CreateCallParams{
			CallID:      m.ID,
			CreatedBy:   userID,
			MeetingName: m.Name,
		})
		if err != nil {
			return apperrors.External("video platform", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := s.platform.UpsertUsers(ctx, platform.User{ID: agent.ID, Name: agent.Name, Role: "user"}); err != nil {
		log.Warn().Err(err).Str("agentId", agent.ID).Msg("failed to register agent with video platform")
	}

	audit.Log(ctx, audit.Event{
		Type:      audit.EventMeetingCreate,
		UserID:    userID,
		MeetingID: m.ID,
		Details:   map[string]interface{}{"agentId": agent.ID, "isPrivate": m.IsPrivate},
	})

	return &CreateMeetingResult{Meeting: m, PIN: pin}, nil
}

func (s *MeetingService) Get(ctx context.Context, meetingID, userID string) (*model.Meeting, error) {
	m, err := s.meetings.FindByIDForUser(ctx, meetingID, userID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if m == nil {
		return nil, apperrors.NotFound("Meeting")
	}
	return m, nil
}

// Update edits name and agent while the meeting is still upcoming.
func (s *MeetingService) Update(ctx context.Context, meetingID, userID string, input UpdateMeetingInput) (*model.Meeting, error) {
	var params model.UpdateMeetingDetailsParams
	if input.Name != nil {
		name, err := validateMeetingName(*input.Name)
		if err != nil {
			return nil, err
		}
		params.Name = &name
	}
	if input.AgentID != nil {
		agent, err := s.ownedAgent(ctx, *input.AgentID, userID)
		if err != nil {
			return nil, err
		}
		params.AgentID = &agent.ID
	}
	if params.Name == nil && params.AgentID == nil {
		return nil, apperrors.ValidationError("Nothing to update")
	}

	m, err := s.meetings.UpdateDetails(ctx, meetingID, userID, params)
	if errors.Is(err, repository.ErrTransitionRejected) {
		current, err := s.Get(ctx, meetingID, userID)
		if err != nil {
			return nil, err
		}
		return nil, apperrors.TransitionRejected(meetingID, "Only upcoming meetings can be edited, meeting is "+string(current.Status))
	}
	if err != nil {
		return nil, apperrors.Database(err)
	}
	return m, nil
}

// VerifyPIN checks a private meeting's PIN for userID, bounded by the
// per-(user, meeting) attempt limit.
func (s *MeetingService) VerifyPIN(ctx context.Context, meetingID, userID, pin string) error {
	m, err := s.meetings.FindByID(ctx, meetingID)
	if err != nil {
		return apperrors.Database(err)
	}
	if m == nil {
		return apperrors.NotFound("Meeting")
	}
	if !m.IsPrivate || m.PinHash == nil {
		return nil
	}
	if pin == "" {
		return apperrors.MissingRequired("pin")
	}

	res := s.limiter.CheckLimit(ctx, redisclient.PinAttemptKey(userID, meetingID), s.cfg.PinAttemptsPerWindow, config.PinAttemptWindow)
	if !res.Allowed {
		audit.Log(ctx, audit.Event{Type: audit.EventRateLimitExceed, UserID: userID, MeetingID: meetingID})
		return apperrors.RateLimitExceeded().WithDetails(map[string]any{"resetAt": res.ResetAt})
	}

	if !util.CheckPIN(pin, *m.PinHash) {
		audit.Log(ctx, audit.Event{
			Type:      audit.EventPinFailure,
			UserID:    userID,
			MeetingID: meetingID,
			Details:   map[string]interface{}{"pin": util.MaskPIN(pin), "remaining": res.Remaining},
		})
		return apperrors.Forbidden("Invalid PIN")
	}

	audit.Log(ctx, audit.Event{Type: audit.EventPinSuccess, UserID: userID, MeetingID: meetingID})
	return nil
}

// IssueCallToken registers user with the platform and signs a join token.
func (s *MeetingService) IssueCallToken(ctx context.Context, user *model.User) (*CallToken, error) {
	pu := platform.User{ID: user.ID, Name: user.Name, Role: "admin"}
	if user.Image != nil {
		pu.Image = *user.Image
	}
	if err := s.platform.UpsertUsers(ctx, pu); err != nil {
		return nil, apperrors.External("video platform", err)
	}

	token, err := platform.UserToken(s.cfg.StreamAPISecret, user.ID, callTokenTTL)
	if err != nil {
		return nil, apperrors.Internal("Failed to sign call token").WithCause(err)
	}

	audit.Log(ctx, audit.Event{Type: audit.EventCallTokenIssue, UserID: user.ID})
	return &CallToken{Token: token, UserID: user.ID, ExpiresAt: time.Now().Add(callTokenTTL)}, nil
}

func (s *MeetingService) ownedAgent(ctx context.Context, agentID, userID string) (*model.Agent, error) {
	agent, err := s.agents.FindByID(ctx, agentID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if agent == nil || agent.UserID != userID {
		return nil, apperrors.NotFound("Agent")
	}
	return agent, nil
}

func validateMeetingName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", apperrors.MissingRequired("name")
	}
	if len(name) > maxMeetingNameLength {
		return "", apperrors.ValidationError("name must be at most 100 characters")
	}
	return name, nil
}
