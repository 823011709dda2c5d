package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"math"
	"net/http"

	openai "github.com/sashabaranov/go-openai"

	"TemanTenang/internal/session"
)

// OpenAI is a Service for OpenAI-compatible chat completion APIs. Grok is
// served by the same client pointed at a different base URL.
type OpenAI struct {
	name   string
	model  string
	client *openai.Client
}

// NewOpenAI creates an OpenAI-compatible backend. An empty baseURL keeps the
// client's default endpoint.
func NewOpenAI(name, apiKey, baseURL, model string, httpClient *http.Client) *OpenAI {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if httpClient != nil {
		cfg.HTTPClient = httpClient
	}
	return &OpenAI{
		name:   name,
		model:  model,
		client: openai.NewClientWithConfig(cfg),
	}
}

func (o *OpenAI) Name() string { return o.name }

func (o *OpenAI) request(messages []session.Message, temperature float64, stream bool) openai.ChatCompletionRequest {
	reqMessages := make([]openai.ChatCompletionMessage, len(messages))
	for i, msg := range messages {
		reqMessages[i] = openai.ChatCompletionMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
		}
	}

	// temperature is omitted from the request body when zero, which the API
	// reads as its default of 1
	t := float32(temperature)
	if t == 0 {
		t = math.SmallestNonzeroFloat32
	}

	return openai.ChatCompletionRequest{
		Model:       o.model,
		Messages:    reqMessages,
		Temperature: t,
		Stream:      stream,
	}
}

func (o *OpenAI) Stream(ctx context.Context, messages []session.Message, temperature float64) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		stream, err := o.client.CreateChatCompletionStream(ctx, o.request(messages, temperature, true))
		if err != nil {
			yield("", fmt.Errorf("failed to start stream: %w", err))
			return
		}
		defer stream.Close()

		finished := false
		for {
			response, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				// a dropped connection also reads as EOF, only a finish reason
				// marks a complete reply
				if !finished {
					yield("", io.ErrUnexpectedEOF)
				}
				return
			}
			if err != nil {
				yield("", err)
				return
			}
			if len(response.Choices) == 0 {
				continue
			}
			if response.Choices[0].FinishReason != "" {
				finished = true
			}
			content := response.Choices[0].Delta.Content
			if content == "" {
				continue
			}
			if !yield(content, nil) {
				return
			}
		}
	}
}

func (o *OpenAI) Complete(ctx context.Context, messages []session.Message, temperature float64) (string, error) {
	resp, err := o.client.CreateChatCompletion(ctx, o.request(messages, temperature, false))
	if err != nil {
		return "", err
	}
	if len(resp.Choices) > 0 {
		return resp.Choices[0].Message.Content, nil
	}
	return "", fmt.Errorf("empty response from %s", o.name)
}
