package backend

import (
	"context"
	"fmt"
	"io"
	"iter"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"TemanTenang/internal/session"
)

// Anthropic is a Service backed by the Anthropic Messages API
type Anthropic struct {
	client    anthropic.Client
	model     anthropic.Model
	maxTokens int64
}

// NewAnthropic creates an Anthropic backend. Extra request options are
// applied after the API key and HTTP client.
func NewAnthropic(apiKey, model string, maxTokens int, httpClient *http.Client, opts ...option.RequestOption) *Anthropic {
	base := []option.RequestOption{option.WithAPIKey(apiKey)}
	if httpClient != nil {
		base = append(base, option.WithHTTPClient(httpClient))
	}
	return &Anthropic{
		client:    anthropic.NewClient(append(base, opts...)...),
		model:     anthropic.Model(model),
		maxTokens: int64(maxTokens),
	}
}

func (a *Anthropic) Name() string { return "anthropic" }

// params converts the conversation. The persona travels in the system
// parameter since the Messages API has no system role.
func (a *Anthropic) params(messages []session.Message, temperature float64) anthropic.MessageNewParams {
	params := anthropic.MessageNewParams{
		Model:       a.model,
		MaxTokens:   a.maxTokens,
		Temperature: anthropic.Float(temperature),
	}
	for _, msg := range messages {
		switch msg.Role {
		case session.RoleSystem:
			params.System = append(params.System, anthropic.TextBlockParam{Text: msg.Content})
		case session.RoleUser:
			params.Messages = append(params.Messages, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		case session.RoleAssistant:
			params.Messages = append(params.Messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(msg.Content)))
		}
	}
	return params
}

func (a *Anthropic) Stream(ctx context.Context, messages []session.Message, temperature float64) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		stream := a.client.Messages.NewStreaming(ctx, a.params(messages, temperature))
		defer stream.Close()

		stopped := false
		for stream.Next() {
			switch event := stream.Current().AsAny().(type) {
			case anthropic.MessageStopEvent:
				stopped = true
			case anthropic.ContentBlockDeltaEvent:
				delta, ok := event.Delta.AsAny().(anthropic.TextDelta)
				if !ok || delta.Text == "" {
					continue
				}
				if !yield(delta.Text, nil) {
					return
				}
			}
		}
		if err := stream.Err(); err != nil {
			yield("", err)
			return
		}
		// the body ended before message_stop
		if !stopped {
			yield("", io.ErrUnexpectedEOF)
		}
	}
}

func (a *Anthropic) Complete(ctx context.Context, messages []session.Message, temperature float64) (string, error) {
	msg, err := a.client.Messages.New(ctx, a.params(messages, temperature))
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if tb, ok := block.AsAny().(anthropic.TextBlock); ok {
			sb.WriteString(tb.Text)
		}
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("empty response from anthropic")
	}
	return sb.String(), nil
}
