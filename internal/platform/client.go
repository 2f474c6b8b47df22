package platform

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
)

const (
	defaultTimeout = 15 * time.Second
	callPath       = "/api/v2/video/call/{type}/{id}"
)

var (
	// ErrAlreadyRunning is returned when recording or transcription is already on.
	ErrAlreadyRunning = errors.New("already running")
	// ErrCallNotFound is returned when the platform has no call with the id.
	ErrCallNotFound = errors.New("call not found")
)

// APIError is the platform's error body.
type APIError struct {
	StatusCode int    `json:"StatusCode"`
	Code       int    `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("platform error (status %d, code %d): %s", e.StatusCode, e.Code, e.Message)
}

type Config struct {
	BaseURL   string
	APIKey    string
	APISecret string
	CallType  string
	Timeout   time.Duration
}

// Client talks to the video platform's REST API.
type Client struct {
	http     *resty.Client
	secret   string
	callType string
}

func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	c := &Client{secret: cfg.APISecret, callType: cfg.CallType}
	c.http = resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("stream-auth-type", "jwt").
		SetQueryParam("api_key", cfg.APIKey).
		SetError(&APIError{})

	c.http.OnBeforeRequest(func(_ *resty.Client, r *resty.Request) error {
		token, err := serverToken(c.secret, time.Now())
		if err != nil {
			return err
		}
		r.SetHeader("Authorization", token)
		return nil
	})
	c.http.OnAfterResponse(func(_ *resty.Client, r *resty.Response) error {
		log.Debug().
			Str("client", "platform").
			Int("status", r.StatusCode()).
			Str("method", r.Request.Method).
			Str("path", r.Request.URL).
			Dur("latency", r.Time()).
			Msg("HTTP client request")
		return nil
	})

	return c
}

func (c *Client) CallType() string {
	return c.callType
}

func (c *Client) call(ctx context.Context, callID string) *resty.Request {
	return c.http.R().
		SetContext(ctx).
		SetPathParams(map[string]string{"type": c.callType, "id": callID})
}

func (c *Client) GetCall(ctx context.Context, callID string) (*Call, error) {
	var out callResponse
	resp, err := c.call(ctx, callID).SetResult(&out).Get(callPath)
	if err := checkResponse(resp, err, "get call"); err != nil {
		return nil, err
	}
	return &out.Call, nil
}

// CreateCall creates the call with auto-on recording and transcription.
func (c *Client) CreateCall(ctx context.Context, params CreateCallParams) (*Call, error) {
	body := map[string]any{
		"data": map[string]any{
			"created_by_id": params.CreatedBy,
			"custom": map[string]any{
				"meetingId":   params.CallID,
				"meetingName": params.MeetingName,
			},
			"settings_override": map[string]any{
				"transcription": map[string]any{
					"language":            "en",
					"mode":                "auto-on",
					"closed_caption_mode": "auto-on",
				},
				"recording": map[string]any{
					"mode":    "auto-on",
					"quality": "1080p",
				},
			},
		},
	}

	var out callResponse
	resp, err := c.call(ctx, params.CallID).SetBody(body).SetResult(&out).Post(callPath)
	if err := checkResponse(resp, err, "create call"); err != nil {
		return nil, err
	}
	return &out.Call, nil
}

func (c *Client) UpsertUsers(ctx context.Context, users ...User) error {
	if len(users) == 0 {
		return nil
	}
	byID := make(map[string]User, len(users))
	for _, u := range users {
		byID[u.ID] = u
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]any{"users": byID}).
		Post("/api/v2/users")
	return checkResponse(resp, err, "upsert users")
}

// ConnectAgent joins the realtime AI agent to the call and applies its session.
func (c *Client) ConnectAgent(ctx context.Context, params ConnectAgentParams) error {
	body := map[string]any{
		"agent_user_id":  params.AgentUserID,
		"openai_api_key": params.OpenAIAPIKey,
		"session":        params.Session,
	}
	resp, err := c.call(ctx, params.CallID).SetBody(body).Post(callPath + "/connect_agent")
	return checkResponse(resp, err, "connect agent")
}

func (c *Client) StartRecording(ctx context.Context, callID string) error {
	resp, err := c.call(ctx, callID).SetBody(map[string]any{}).Post(callPath + "/start_recording")
	return checkCaptureResponse(resp, err, "start recording", recordingRunningPhrases)
}

func (c *Client) StartTranscription(ctx context.Context, callID string) error {
	resp, err := c.call(ctx, callID).SetBody(map[string]any{}).Post(callPath + "/start_transcription")
	return checkCaptureResponse(resp, err, "start transcription", transcriptionRunningPhrases)
}

func (c *Client) EndCall(ctx context.Context, callID string) error {
	resp, err := c.call(ctx, callID).SetBody(map[string]any{}).Post(callPath + "/mark_ended")
	return checkResponse(resp, err, "end call")
}

func checkResponse(resp *resty.Response, err error, op string) error {
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if !resp.IsError() {
		return nil
	}

	apiErr, _ := resp.Error().(*APIError)
	if apiErr == nil || apiErr.Message == "" {
		apiErr = &APIError{Message: resp.String()}
	}
	apiErr.StatusCode = resp.StatusCode()

	if resp.StatusCode() == http.StatusNotFound {
		return fmt.Errorf("%s: %w: %w", op, ErrCallNotFound, apiErr)
	}
	return fmt.Errorf("%s: %w", op, apiErr)
}

var (
	recordingRunningPhrases     = []string{"already being recorded", "recording is already", "already recording"}
	transcriptionRunningPhrases = []string{"already being transcribed", "transcription is already", "already transcribing"}
)

// checkCaptureResponse is checkResponse for start-recording and
// start-transcription calls. A 409, or a message naming that capture as
// active, becomes ErrAlreadyRunning.
func checkCaptureResponse(resp *resty.Response, err error, op string, runningPhrases []string) error {
	err = checkResponse(resp, err, op)
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return err
	}
	if apiErr.StatusCode == http.StatusConflict || containsAny(strings.ToLower(apiErr.Message), runningPhrases) {
		return fmt.Errorf("%s: %w: %w", op, ErrAlreadyRunning, apiErr)
	}
	return err
}

func containsAny(s string, substrs []string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
