package backend

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/http"
	"strings"

	"TemanTenang/internal/session"
)

// OllamaRequest represents the request body for Ollama API
type OllamaRequest struct {
	Model    string          `json:"model"`
	Messages []OllamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Options  OllamaOptions   `json:"options"`
}

// OllamaMessage is one chat message in Ollama's format
type OllamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// OllamaOptions carries sampling parameters
type OllamaOptions struct {
	Temperature float64 `json:"temperature"`
}

// OllamaResponse represents one response object from Ollama API. When
// streaming, every line of the body is one OllamaResponse.
type OllamaResponse struct {
	Model     string        `json:"model"`
	CreatedAt string        `json:"created_at"`
	Message   OllamaMessage `json:"message"`
	Done      bool          `json:"done"`
	Error     string        `json:"error,omitempty"`
}

// Ollama is a Service backed by a local Ollama server
type Ollama struct {
	baseURL    string
	model      string
	httpClient *http.Client
}

// NewOllama creates an Ollama backend for baseURL (e.g. http://localhost:11434)
func NewOllama(baseURL, model string, httpClient *http.Client) *Ollama {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Ollama{
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		httpClient: httpClient,
	}
}

func (o *Ollama) Name() string { return "ollama" }

func (o *Ollama) post(ctx context.Context, messages []session.Message, temperature float64, stream bool) (*http.Response, error) {
	reqMessages := make([]OllamaMessage, len(messages))
	for i, msg := range messages {
		reqMessages[i] = OllamaMessage{Role: string(msg.Role), Content: msg.Content}
	}

	jsonData, err := json.Marshal(OllamaRequest{
		Model:    o.model,
		Messages: reqMessages,
		Stream:   stream,
		Options:  OllamaOptions{Temperature: temperature},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/chat", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("content-type", "application/json")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request (is Ollama running?): %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("API error: %s - %s", resp.Status, strings.TrimSpace(string(body)))
	}
	return resp, nil
}

func (o *Ollama) Stream(ctx context.Context, messages []session.Message, temperature float64) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		resp, err := o.post(ctx, messages, temperature, true)
		if err != nil {
			yield("", err)
			return
		}
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}

			var chunk OllamaResponse
			if err := json.Unmarshal(line, &chunk); err != nil {
				yield("", fmt.Errorf("failed to unmarshal stream chunk: %w", err))
				return
			}
			if chunk.Error != "" {
				yield("", errors.New(chunk.Error))
				return
			}
			if chunk.Message.Content != "" {
				if !yield(chunk.Message.Content, nil) {
					return
				}
			}
			if chunk.Done {
				return
			}
		}
		if err := scanner.Err(); err != nil {
			yield("", fmt.Errorf("failed to read stream: %w", err))
			return
		}
		yield("", io.ErrUnexpectedEOF)
	}
}

func (o *Ollama) Complete(ctx context.Context, messages []session.Message, temperature float64) (string, error) {
	resp, err := o.post(ctx, messages, temperature, false)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var apiResp OllamaResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return "", fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if apiResp.Error != "" {
		return "", errors.New(apiResp.Error)
	}
	return apiResp.Message.Content, nil
}
