package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

type openAIRequest struct {
	Model       string  `json:"model"`
	Stream      bool    `json:"stream"`
	Temperature float64 `json:"temperature"`
	Messages    []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

func openAIServer(t *testing.T, fragments []string, status int) (*httptest.Server, *openAIRequest) {
	t.Helper()
	return openAIStreamServer(t, fragments, status, true)
}

// openAIStreamServer serves chat completions. Unless finish is set the stream
// closes after the last fragment without a finish reason or [DONE].
func openAIStreamServer(t *testing.T, fragments []string, status int, finish bool) (*httptest.Server, *openAIRequest) {
	t.Helper()
	got := &openAIRequest{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			http.NotFound(w, r)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(got); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if status != http.StatusOK {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			fmt.Fprint(w, `{"error":{"message":"rate limited","type":"requests"}}`)
			return
		}

		if !got.Stream {
			reply := ""
			for _, f := range fragments {
				reply += f
			}
			b, _ := json.Marshal(map[string]any{
				"id":      "chatcmpl-1",
				"object":  "chat.completion",
				"choices": []map[string]any{{"index": 0, "message": map[string]string{"role": "assistant", "content": reply}, "finish_reason": "stop"}},
			})
			w.Header().Set("Content-Type", "application/json")
			w.Write(b)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		for _, f := range fragments {
			b, _ := json.Marshal(map[string]any{
				"id":      "chatcmpl-1",
				"object":  "chat.completion.chunk",
				"choices": []map[string]any{{"index": 0, "delta": map[string]string{"content": f}}},
			})
			fmt.Fprintf(w, "data: %s\n\n", b)
		}
		if !finish {
			return
		}
		fmt.Fprint(w, `data: {"id":"chatcmpl-1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{},"finish_reason":"stop"}]}`+"\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	t.Cleanup(srv.Close)
	return srv, got
}

func TestOpenAI_Stream(t *testing.T) {
	srv, got := openAIServer(t, []string{"Hi", " there!"}, http.StatusOK)
	o := NewOpenAI("openai", "sk-test", srv.URL, "gpt-4o-mini", srv.Client())

	reply, n, err := Collect(o.Stream(context.Background(), helloContext, 0.4))
	require.NoError(t, err)
	require.Equal(t, "Hi there!", reply)
	require.Equal(t, 2, n)

	require.True(t, got.Stream)
	require.Equal(t, "gpt-4o-mini", got.Model)
	require.InDelta(t, 0.4, got.Temperature, 1e-6)
	require.Len(t, got.Messages, 2)
	require.Equal(t, "system", got.Messages[0].Role)
}

func TestOpenAI_CompleteMatchesStream(t *testing.T) {
	srv, _ := openAIServer(t, []string{"Hi", " there!"}, http.StatusOK)
	o := NewOpenAI("grok", "xai-test", srv.URL, "grok-2-latest", srv.Client())
	require.Equal(t, "grok", o.Name())

	streamed, _, err := Collect(o.Stream(context.Background(), helloContext, 0.4))
	require.NoError(t, err)
	whole, err := o.Complete(context.Background(), helloContext, 0.4)
	require.NoError(t, err)
	require.Equal(t, whole, streamed)
}

func TestOpenAI_ZeroTemperatureIsSent(t *testing.T) {
	srv, got := openAIServer(t, []string{"ok"}, http.StatusOK)
	o := NewOpenAI("openai", "sk-test", srv.URL, "gpt-4o-mini", srv.Client())

	_, err := o.Complete(context.Background(), helloContext, 0)
	require.NoError(t, err)
	require.InDelta(t, 0, got.Temperature, 1e-6)
}

func TestOpenAI_APIError(t *testing.T) {
	srv, _ := openAIServer(t, nil, http.StatusTooManyRequests)
	o := NewOpenAI("openai", "sk-test", srv.URL, "gpt-4o-mini", srv.Client())

	_, _, err := Collect(o.Stream(context.Background(), helloContext, 0.4))
	require.ErrorContains(t, err, "rate limited")
}

func TestOpenAI_StreamTruncated(t *testing.T) {
	srv, _ := openAIStreamServer(t, []string{"Hi th"}, http.StatusOK, false)
	o := NewOpenAI("openai", "sk-test", srv.URL, "gpt-4o-mini", srv.Client())

	reply, n, err := Collect(o.Stream(context.Background(), helloContext, 0.4))
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)
	require.Empty(t, reply)
	require.Equal(t, 1, n)
}
