package assistant

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/meetrelay/internal/core"
)

func TestSources(t *testing.T) {
	text := "See https://go.dev/doc. Also (https://pkg.go.dev/net/http) and https://go.dev/doc again."
	assert.Equal(t, []string{"https://go.dev/doc", "https://pkg.go.dev/net/http"}, Sources(text))
	assert.Equal(t, []string{}, Sources("no links here"))
}

func TestNew_RequiresKey(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestAsk_SendsContextAndParsesAnswer(t *testing.T) {
	var got struct {
		Model    string `json:"model"`
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"created": 1700000000,
			"model": "test-model",
			"choices": [{
				"index": 0,
				"finish_reason": "stop",
				"message": {"role": "assistant", "content": "Use errgroup. See https://pkg.go.dev/golang.org/x/sync/errgroup"}
			}]
		}`)
	}))
	defer srv.Close()

	c, err := New(Config{BaseURL: srv.URL, APIKey: "sk-test", Model: "test-model"})
	require.NoError(t, err)

	ans, err := c.Ask(context.Background(), core.AssistantQuery{
		Prompt:         "How do I run goroutines together?",
		WebSearch:      true,
		MeetingContext: "alice: we need concurrency\n",
	})
	require.NoError(t, err)
	assert.Equal(t, "Use errgroup. See https://pkg.go.dev/golang.org/x/sync/errgroup", ans.Text)
	assert.Equal(t, []string{"https://pkg.go.dev/golang.org/x/sync/errgroup"}, ans.Sources)

	assert.Equal(t, "test-model", got.Model)
	require.Len(t, got.Messages, 3)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Contains(t, got.Messages[0].Content, webSearchHint)
	assert.Contains(t, got.Messages[1].Content, "alice: we need concurrency")
	assert.Equal(t, "How do I run goroutines together?", got.Messages[2].Content)
}

func TestAsk_ServerErrorSurfaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"error":{"message":"bad","type":"invalid_request_error"}}`)
	}))
	defer srv.Close()

	c, err := New(Config{BaseURL: srv.URL, APIKey: "sk-test"})
	require.NoError(t, err)
	_, err = c.Ask(context.Background(), core.AssistantQuery{Prompt: "hi"})
	assert.Error(t, err)
}
