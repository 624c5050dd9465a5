// Package genai wraps the external AI provider behind a small client used by
// generation, tagging, follow-up, and transcription features.
package genai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// GenerationError marks a failed or empty upstream AI call. Callers surface
// it to the user and allow a manual retry; there is no automatic retry.
type GenerationError struct {
	Op  string
	Err error
}

func (e *GenerationError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: generation failed", e.Op)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}

// IsGenerationError reports whether err originated from an upstream AI call.
func IsGenerationError(err error) bool {
	var genErr *GenerationError
	return errors.As(err, &genErr)
}

type Config struct {
	APIKey     string
	BaseURL    string
	ChatModel  string
	AudioModel string
}

type Client struct {
	api        *openai.Client
	chatModel  string
	audioModel string
}

// New creates a provider client. Returns nil when no API key is configured;
// callers treat a nil client as "AI features disabled".
func New(cfg Config) *Client {
	if strings.TrimSpace(cfg.APIKey) == "" {
		log.Printf("genai: no API key configured, AI features disabled")
		return nil
	}
	apiCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		apiCfg.BaseURL = cfg.BaseURL
	}
	chatModel := cfg.ChatModel
	if chatModel == "" {
		chatModel = openai.GPT4oMini
	}
	audioModel := cfg.AudioModel
	if audioModel == "" {
		audioModel = openai.Whisper1
	}
	return &Client{
		api:        openai.NewClientWithConfig(apiCfg),
		chatModel:  chatModel,
		audioModel: audioModel,
	}
}

// Complete sends one system+user exchange and returns the text reply.
func (c *Client) Complete(ctx context.Context, op, system, user string) (string, error) {
	return c.complete(ctx, op, system, user, nil)
}

// CompleteJSON is Complete with the provider forced into JSON-object output.
func (c *Client) CompleteJSON(ctx context.Context, op, system, user string) (string, error) {
	return c.complete(ctx, op, system, user, &openai.ChatCompletionResponseFormat{
		Type: openai.ChatCompletionResponseFormatTypeJSONObject,
	})
}

func (c *Client) complete(ctx context.Context, op, system, user string, format *openai.ChatCompletionResponseFormat) (string, error) {
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.chatModel,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		ResponseFormat: format,
	})
	if err != nil {
		return "", &GenerationError{Op: op, Err: err}
	}
	if len(resp.Choices) == 0 {
		return "", &GenerationError{Op: op, Err: errors.New("empty response")}
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return "", &GenerationError{Op: op, Err: errors.New("empty content")}
	}
	return content, nil
}

// Transcribe converts recorded audio to text via the provider's audio model.
func (c *Client) Transcribe(ctx context.Context, filename string, audio io.Reader) (string, error) {
	resp, err := c.api.CreateTranscription(ctx, openai.AudioRequest{
		Model:    c.audioModel,
		FilePath: filename,
		Reader:   audio,
	})
	if err != nil {
		return "", &GenerationError{Op: "transcribe", Err: err}
	}
	return strings.TrimSpace(resp.Text), nil
}
