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

	"TemanTenang/internal/session"
)

func ollamaServer(t *testing.T, handler func(w http.ResponseWriter, req OllamaRequest)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/chat":
			var req OllamaRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			handler(w, req)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func writeChunks(w http.ResponseWriter, fragments []string, done bool) {
	for _, f := range fragments {
		b, _ := json.Marshal(OllamaResponse{Model: "llama3", Message: OllamaMessage{Role: "assistant", Content: f}})
		fmt.Fprintf(w, "%s\n", b)
	}
	if done {
		fmt.Fprint(w, `{"model":"llama3","message":{"role":"assistant","content":""},"done":true}`+"\n")
	}
}

var helloContext = []session.Message{
	{Role: session.RoleSystem, Content: "be kind"},
	{Role: session.RoleUser, Content: "Hello"},
}

func TestOllama_Stream(t *testing.T) {
	var got OllamaRequest
	srv := ollamaServer(t, func(w http.ResponseWriter, req OllamaRequest) {
		got = req
		writeChunks(w, []string{"Hi", " there!"}, true)
	})

	o := NewOllama(srv.URL+"/", "llama3:latest", srv.Client())
	reply, n, err := Collect(o.Stream(context.Background(), helloContext, 0.3))
	require.NoError(t, err)
	require.Equal(t, "Hi there!", reply)
	require.Equal(t, 2, n)

	require.True(t, got.Stream)
	require.Equal(t, "llama3:latest", got.Model)
	require.InDelta(t, 0.3, got.Options.Temperature, 1e-9)
	require.Equal(t, []OllamaMessage{{Role: "system", Content: "be kind"}, {Role: "user", Content: "Hello"}}, got.Messages)
}

func TestOllama_StreamTruncated(t *testing.T) {
	srv := ollamaServer(t, func(w http.ResponseWriter, _ OllamaRequest) {
		writeChunks(w, []string{"Hi"}, false)
	})

	o := NewOllama(srv.URL, "llama3:latest", srv.Client())
	_, n, err := Collect(o.Stream(context.Background(), helloContext, 0.3))
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)
	require.Equal(t, 1, n)
}

func TestOllama_StreamErrorLine(t *testing.T) {
	srv := ollamaServer(t, func(w http.ResponseWriter, _ OllamaRequest) {
		writeChunks(w, []string{"Hi"}, false)
		fmt.Fprint(w, `{"error":"model crashed"}`+"\n")
	})

	o := NewOllama(srv.URL, "llama3:latest", srv.Client())
	_, _, err := Collect(o.Stream(context.Background(), helloContext, 0.3))
	require.EqualError(t, err, "model crashed")
}

func TestOllama_HTTPError(t *testing.T) {
	srv := ollamaServer(t, func(w http.ResponseWriter, _ OllamaRequest) {
		http.Error(w, "model not found", http.StatusNotFound)
	})

	o := NewOllama(srv.URL, "missing:latest", srv.Client())
	_, _, err := Collect(o.Stream(context.Background(), helloContext, 0.3))
	require.ErrorContains(t, err, "404")

	_, err = o.Complete(context.Background(), helloContext, 0.3)
	require.ErrorContains(t, err, "model not found")
}

func TestOllama_CompleteMatchesStream(t *testing.T) {
	srv := ollamaServer(t, func(w http.ResponseWriter, req OllamaRequest) {
		if req.Stream {
			writeChunks(w, []string{"Hi", " there!"}, true)
			return
		}
		fmt.Fprint(w, `{"model":"llama3","message":{"role":"assistant","content":"Hi there!"},"done":true}`)
	})

	o := NewOllama(srv.URL, "llama3:latest", srv.Client())
	streamed, _, err := Collect(o.Stream(context.Background(), helloContext, 0))
	require.NoError(t, err)
	whole, err := o.Complete(context.Background(), helloContext, 0)
	require.NoError(t, err)
	require.Equal(t, whole, streamed)
}
