package platform

import "strings"

// User is a platform-side identity. Agents are registered as users so they
// can join calls as participants.
type User struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	Image string `json:"image,omitempty"`
	Role  string `json:"role,omitempty"`
}

type Participant struct {
	UserSessionID string `json:"user_session_id"`
	User          User   `json:"user"`
}

type CallSession struct {
	ID           string        `json:"id"`
	Participants []Participant `json:"participants"`
}

// Call is the subset of the platform's call state the server observes.
type Call struct {
	CID          string         `json:"cid"`
	ID           string         `json:"id"`
	Type         string         `json:"type"`
	Recording    bool           `json:"recording"`
	Transcribing bool           `json:"transcribing"`
	Session      *CallSession   `json:"session,omitempty"`
	Custom       map[string]any `json:"custom,omitempty"`
}

// HasParticipant reports whether userID is currently in the call.
func (c *Call) HasParticipant(userID string) bool {
	if c == nil || c.Session == nil {
		return false
	}
	for _, p := range c.Session.Participants {
		if p.User.ID == userID {
			return true
		}
	}
	return false
}

// ParticipantIDs returns the distinct user ids in the call session.
func (c *Call) ParticipantIDs() []string {
	if c == nil || c.Session == nil {
		return nil
	}
	seen := make(map[string]struct{}, len(c.Session.Participants))
	ids := make([]string, 0, len(c.Session.Participants))
	for _, p := range c.Session.Participants {
		if _, ok := seen[p.User.ID]; ok {
			continue
		}
		seen[p.User.ID] = struct{}{}
		ids = append(ids, p.User.ID)
	}
	return ids
}

type callResponse struct {
	Call Call `json:"call"`
}

// CreateCallParams describes a new call keyed by the meeting id.
type CreateCallParams struct {
	CallID      string
	CreatedBy   string
	MeetingName string
}

// TurnDetection configures server-side voice activity detection for the agent.
type TurnDetection struct {
	Type              string  `json:"type"`
	Threshold         float64 `json:"threshold"`
	PrefixPaddingMs   int     `json:"prefix_padding_ms"`
	SilenceDurationMs int     `json:"silence_duration_ms"`
}

// AgentSession is the realtime session configuration applied once the
// agent joins.
type AgentSession struct {
	Instructions      string        `json:"instructions"`
	Voice             string        `json:"voice"`
	InputAudioFormat  string        `json:"input_audio_format"`
	OutputAudioFormat string        `json:"output_audio_format"`
	TurnDetection     TurnDetection `json:"turn_detection"`
}

// DefaultAgentSession returns the fixed audio and turn-detection settings
// with the given prompt and voice.
func DefaultAgentSession(instructions, voice string) AgentSession {
	return AgentSession{
		Instructions:      instructions,
		Voice:             voice,
		InputAudioFormat:  "pcm16",
		OutputAudioFormat: "pcm16",
		TurnDetection: TurnDetection{
			Type:              "server_vad",
			Threshold:         0.5,
			PrefixPaddingMs:   300,
			SilenceDurationMs: 200,
		},
	}
}

// ConnectAgentParams is everything the connect operation needs.
type ConnectAgentParams struct {
	CallID       string
	AgentUserID  string
	OpenAIAPIKey string
	Session      AgentSession
}

// CallCID builds the "<type>:<id>" call identifier.
func CallCID(callType, callID string) string {
	return callType + ":" + callID
}

// SplitCallCID returns the call id part of a "<type>:<id>" cid.
func SplitCallCID(cid string) (callType, callID string, ok bool) {
	callType, callID, ok = strings.Cut(cid, ":")
	if !ok || callID == "" {
		return "", "", false
	}
	return callType, callID, true
}
