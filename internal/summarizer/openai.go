// Package summarizer turns a speaker-annotated transcript into prose.
package summarizer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
)

// ErrMissingAPIKey is returned when no OpenAI credential is configured.
var ErrMissingAPIKey = errors.New("openai api key not configured")

// UserPromptPrefix precedes the JSON transcript in the user message.
const UserPromptPrefix = "Summarize the following transcript: "

const systemPrompt = `You are an expert meeting summarizer. Create a clear, comprehensive summary of the meeting.

Write a well-structured summary in 3-4 paragraphs covering:
1. Overview of what was discussed
2. Key decisions and outcomes
3. Action items and next steps
4. Important highlights or concerns

Write in a professional, easy-to-read style. Use complete sentences and natural language.
Do not use markdown formatting, bullet points, or headers - just flowing paragraph text.`

type Config struct {
	APIKey  string
	Model   string
	BaseURL string
}

type OpenAI struct {
	client *openai.Client
	model  string
}

func NewOpenAI(cfg Config) *OpenAI {
	if cfg.APIKey == "" {
		return &OpenAI{model: cfg.Model}
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	model := cfg.Model
	if model == "" {
		model = openai.GPT4o
	}
	return &OpenAI{client: openai.NewClientWithConfig(clientCfg), model: model}
}

// Summarize sends transcriptJSON to the model and returns the reply text.
func (s *OpenAI) Summarize(ctx context.Context, transcriptJSON string) (string, error) {
	if s.client == nil {
		return "", ErrMissingAPIKey
	}

	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: s.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: UserPromptPrefix + transcriptJSON},
		},
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("chat completion returned no choices")
	}

	summary := strings.TrimSpace(resp.Choices[0].Message.Content)
	if summary == "" {
		return "", errors.New("chat completion returned empty content")
	}
	return summary, nil
}
