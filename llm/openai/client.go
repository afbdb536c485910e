// Package openai provides an llm.Summarizer backed by the OpenAI Chat
// Completions API using github.com/openai/openai-go.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	sdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/openplane/warehub/llm"
)

// ChatClient captures the subset of the OpenAI SDK used by the adapter. It is
// satisfied by the SDK's Chat.Completions service so tests can substitute a
// mock.
type ChatClient interface {
	New(ctx context.Context, body sdk.ChatCompletionNewParams, opts ...option.RequestOption) (*sdk.ChatCompletion, error)
}

// Options configures the OpenAI adapter.
type Options struct {
	// Model is the chat model identifier. Required.
	Model string
	// MaxTokens caps the completion length when positive.
	MaxTokens int
	// Temperature is applied when positive.
	Temperature float64
}

// Client implements llm.Summarizer via OpenAI Chat Completions.
type Client struct {
	chat      ChatClient
	model     string
	maxTokens int
	temp      float64
}

var _ llm.Summarizer = (*Client)(nil)

// New builds an OpenAI-backed summarizer.
func New(chat ChatClient, opts Options) (*Client, error) {
	if chat == nil {
		return nil, errors.New("openai client is required")
	}
	if opts.Model == "" {
		return nil, errors.New("model identifier is required")
	}
	return &Client{
		chat:      chat,
		model:     opts.Model,
		maxTokens: opts.MaxTokens,
		temp:      opts.Temperature,
	}, nil
}

// NewFromAPIKey constructs a client using the default OpenAI HTTP client.
func NewFromAPIKey(apiKey, model string) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("api key is required")
	}
	oc := sdk.NewClient(option.WithAPIKey(apiKey))
	return New(&oc.Chat.Completions, Options{Model: model})
}

// Summarize issues one chat completion and returns the first choice's text.
func (c *Client) Summarize(ctx context.Context, req llm.Request) (string, error) {
	user, err := req.UserMessage()
	if err != nil {
		return "", err
	}
	params := sdk.ChatCompletionNewParams{
		Model: sdk.ChatModel(c.model),
		Messages: []sdk.ChatCompletionMessageParamUnion{
			sdk.SystemMessage(req.System()),
			sdk.UserMessage(user),
		},
	}
	if c.maxTokens > 0 {
		params.MaxTokens = sdk.Int(int64(c.maxTokens))
	}
	if c.temp > 0 {
		params.Temperature = sdk.Float(c.temp)
	}
	completion, err := c.chat.New(ctx, params)
	if err != nil {
		if isRateLimited(err) {
			return "", fmt.Errorf("%w: %v", llm.ErrRateLimited, err)
		}
		return "", fmt.Errorf("openai chat.completions.new: %w", err)
	}
	if len(completion.Choices) == 0 || completion.Choices[0].Message.Content == "" {
		return "", errors.New("openai: response contains no text")
	}
	return completion.Choices[0].Message.Content, nil
}

func isRateLimited(err error) bool {
	var apierr *sdk.Error
	if errors.As(err, &apierr) {
		return apierr.StatusCode == http.StatusTooManyRequests
	}
	return false
}
