package ai

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	domainErrors "github.com/cassiomorais/leadflow/internal/domain/errors"
	"github.com/cassiomorais/leadflow/internal/infrastructure/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const completionBody = `{
	"id": "chatcmpl-1",
	"object": "chat.completion",
	"model": "gpt-4o-mini",
	"choices": [{"index": 0, "message": {"role": "assistant", "content": "Roof repair, 3 days"}, "finish_reason": "stop"}],
	"usage": {"prompt_tokens": 12, "completion_tokens": 5, "total_tokens": 17}
}`

func newTestClient(t *testing.T, handler http.HandlerFunc) *OpenAIClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewOpenAIClient(config.AIConfig{APIKey: "test", BaseURL: srv.URL + "/v1", Model: "gpt-4o-mini"})
}

func TestOpenAIClient_Complete(t *testing.T) {
	var got map[string]any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, completionBody)
	})

	resp, err := c.Complete(context.Background(), Request{System: "be brief", Prompt: "summarize", JSON: true})
	require.NoError(t, err)
	assert.Equal(t, "Roof repair, 3 days", resp.Text)
	assert.Equal(t, 12, resp.PromptTokens)
	assert.Equal(t, "gpt-4o-mini", got["model"])
	assert.Len(t, got["messages"], 2)
	assert.NotNil(t, got["response_format"])
}

func TestOpenAIClient_ClassifiesStatus(t *testing.T) {
	tests := []struct {
		name   string
		status int
		header map[string]string
		want   domainErrors.Kind
	}{
		{"rate limited", http.StatusTooManyRequests, map[string]string{"Retry-After": "7"}, domainErrors.KindRateLimit},
		{"server error", http.StatusInternalServerError, nil, domainErrors.KindTransient},
		{"unavailable", http.StatusServiceUnavailable, nil, domainErrors.KindTransient},
		{"gateway timeout", http.StatusGatewayTimeout, nil, domainErrors.KindTimeout},
		{"bad request", http.StatusBadRequest, nil, domainErrors.KindExternalService},
		{"unauthorized", http.StatusUnauthorized, nil, domainErrors.KindExternalService},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				for k, v := range tt.header {
					w.Header().Set(k, v)
				}
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, `{"error": {"message": "nope", "type": "server_error"}}`)
			})

			_, err := c.Complete(context.Background(), Request{Prompt: "x"})
			require.Error(t, err)
			assert.Equal(t, tt.want, domainErrors.KindOf(err))
		})
	}
}

func TestOpenAIClient_CapturesRetryAfter(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = io.WriteString(w, `{"error": {"message": "slow down", "type": "rate_limit_error"}}`)
	})

	_, err := c.Complete(context.Background(), Request{Prompt: "x"})
	d, ok := domainErrors.RetryAfterOf(err)
	require.True(t, ok)
	assert.Equal(t, 7*time.Second, d)
}

func TestOpenAIClient_ConnectionRefusedIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := NewOpenAIClient(config.AIConfig{APIKey: "test", BaseURL: url + "/v1"})
	_, err := c.Complete(context.Background(), Request{Prompt: "x"})
	assert.Equal(t, domainErrors.KindTransient, domainErrors.KindOf(err))
}

func TestOpenAIClient_EmptyChoicesIsStructural(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id": "x", "choices": []}`)
	})

	_, err := c.Complete(context.Background(), Request{Prompt: "x"})
	assert.Equal(t, domainErrors.KindStructural, domainErrors.KindOf(err))
}

func TestBuildMessages_Vision(t *testing.T) {
	msgs := buildMessages(Request{Prompt: "what is damaged?", ImageURLs: []string{"https://img/1.jpg", "https://img/2.jpg"}})
	require.Len(t, msgs, 1)
	assert.Empty(t, msgs[0].Content)
	assert.Len(t, msgs[0].MultiContent, 3)
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	d, ok := parseRetryAfter("12", now)
	assert.True(t, ok)
	assert.Equal(t, 12*time.Second, d)

	d, ok = parseRetryAfter(now.Add(30*time.Second).Format(http.TimeFormat), now)
	assert.True(t, ok)
	assert.Equal(t, 30*time.Second, d)

	for _, v := range []string{"", "0", "-3", "soon", now.Add(-time.Minute).Format(http.TimeFormat)} {
		_, ok := parseRetryAfter(v, now)
		assert.False(t, ok, v)
	}
}
