package service

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/meetai/meeting-server-go/internal/audit"
	apperrors "github.com/meetai/meeting-server-go/internal/errors"
	"github.com/meetai/meeting-server-go/internal/lock"
	"github.com/meetai/meeting-server-go/internal/metrics"
	"github.com/meetai/meeting-server-go/internal/model"
	"github.com/meetai/meeting-server-go/internal/platform"
	redisclient "github.com/meetai/meeting-server-go/internal/redis"
)

const (
	TriggerWebhook = "webhook"
	TriggerManual  = "manual"

	defaultLockWait = 10 * time.Second
)

type AttachResult struct {
	Success          bool   `json:"success"`
	Message          string `json:"message"`
	AgentID          string `json:"agentId"`
	AgentName        string `json:"agentName"`
	AlreadyConnected bool   `json:"alreadyConnected"`
}

type AgentAttacherConfig struct {
	OpenAIAPIKey string
	Voice        string
	// LockWait bounds how long a second caller waits for the first attach.
	LockWait time.Duration
}

// AgentAttacher connects at most one instance of an agent to a call. The
// participant check runs under a lock keyed by (meeting, agent) so the
// manual and webhook paths cannot both connect.
type AgentAttacher struct {
	platform Platform
	locker   lock.Locker
	cfg      AgentAttacherConfig
}

func NewAgentAttacher(p Platform, locker lock.Locker, cfg AgentAttacherConfig) *AgentAttacher {
	if cfg.LockWait <= 0 {
		cfg.LockWait = defaultLockWait
	}
	if cfg.Voice == "" {
		cfg.Voice = "alloy"
	}
	return &AgentAttacher{platform: p, locker: locker, cfg: cfg}
}

func (a *AgentAttacher) Attach(ctx context.Context, meetingID string, agent *model.Agent, trigger string) (*AttachResult, error) {
	lockCtx, cancel := context.WithTimeout(ctx, a.cfg.LockWait)
	release, err := a.locker.Acquire(lockCtx, redisclient.AgentLockKey(meetingID, agent.ID))
	cancel()
	if err != nil {
		metrics.AgentAttachTotal.WithLabelValues(trigger, "failed").Inc()
		if errors.Is(err, lock.ErrLockTimeout) {
			return nil, apperrors.Wrap(apperrors.ErrCodeExternal, "Agent attachment already in progress", err)
		}
		return nil, apperrors.External("lock", err)
	}
	defer release()

	call, err := a.platform.GetCall(ctx, meetingID)
	if err != nil {
		metrics.AgentAttachTotal.WithLabelValues(trigger, "failed").Inc()
		return nil, apperrors.External("video platform", err)
	}

	if call.HasParticipant(agent.ID) {
		metrics.AgentAttachTotal.WithLabelValues(trigger, "already_connected").Inc()
		log.Info().
			Str("meetingId", meetingID).
			Str("agentId", agent.ID).
			Str("trigger", trigger).
			Msg("agent already in call")
		return &AttachResult{
			Success:          true,
			Message:          "Agent already in call",
			AgentID:          agent.ID,
			AgentName:        agent.Name,
			AlreadyConnected: true,
		}, nil
	}

	if a.cfg.OpenAIAPIKey == "" {
		metrics.AgentAttachTotal.WithLabelValues(trigger, "failed").Inc()
		return nil, apperrors.MissingCredential("OPENAI_API_KEY")
	}

	err = a.platform.ConnectAgent(ctx, platform.ConnectAgentParams{
		CallID:       meetingID,
		AgentUserID:  agent.ID,
		OpenAIAPIKey: a.cfg.OpenAIAPIKey,
		Session:      platform.DefaultAgentSession(agent.Instructions, a.cfg.Voice),
	})
	if err != nil {
		metrics.AgentAttachTotal.WithLabelValues(trigger, "failed").Inc()
		return nil, apperrors.External("video platform", err)
	}

	metrics.AgentAttachTotal.WithLabelValues(trigger, "connected").Inc()
	audit.Log(ctx, audit.Event{
		Type:      audit.EventAgentConnect,
		MeetingID: meetingID,
		Details:   map[string]interface{}{"agentId": agent.ID, "trigger": trigger},
	})

	return &AttachResult{
		Success:   true,
		Message:   "Agent joined successfully",
		AgentID:   agent.ID,
		AgentName: agent.Name,
	}, nil
}
