package anthropic

import (
	"context"
	"errors"
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openplane/warehub/llm"
	"github.com/openplane/warehub/warehouse"
)

type stubMessages struct {
	params sdk.MessageNewParams
	resp   *sdk.Message
	err    error
}

func (s *stubMessages) New(_ context.Context, body sdk.MessageNewParams, _ ...option.RequestOption) (*sdk.Message, error) {
	s.params = body
	return s.resp, s.err
}

func TestSummarizeTranslatesResponse(t *testing.T) {
	stub := &stubMessages{resp: &sdk.Message{
		Content: []sdk.ContentBlockUnion{
			{Type: "text", Text: "the largest order "},
			{Type: "text", Text: "is 42"},
		},
	}}
	client, err := New(stub, Options{Model: "claude-sonnet-4-5"})
	require.NoError(t, err)

	out, err := client.Summarize(context.Background(), llm.Request{
		Prompt:  "what is the largest order?",
		Records: []warehouse.Row{{"amount": 42}},
	})
	require.NoError(t, err)
	assert.Equal(t, "the largest order is 42", out)

	assert.Equal(t, sdk.Model("claude-sonnet-4-5"), stub.params.Model)
	require.Len(t, stub.params.System, 1)
	assert.Equal(t, llm.DefaultSystemPrompt, stub.params.System[0].Text)
	require.Len(t, stub.params.Messages, 1)
}

func TestSummarizeWrapsProviderError(t *testing.T) {
	stub := &stubMessages{err: errors.New("overloaded")}
	client, err := New(stub, Options{Model: "claude-sonnet-4-5"})
	require.NoError(t, err)

	_, err = client.Summarize(context.Background(), llm.Request{Prompt: "hi"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "overloaded")
}

func TestNewValidatesOptions(t *testing.T) {
	_, err := New(nil, Options{Model: "m"})
	require.Error(t, err)
	_, err = New(&stubMessages{}, Options{})
	require.Error(t, err)
}
