package ai

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	domainErrors "github.com/cassiomorais/leadflow/internal/domain/errors"
	"github.com/cassiomorais/leadflow/internal/infrastructure/config"
	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"
)

// OpenAIClient calls an OpenAI-compatible chat completions API.
type OpenAIClient struct {
	client  *openai.Client
	model   string
	limiter *rate.Limiter
}

func NewOpenAIClient(cfg config.AIConfig) *OpenAIClient {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	oc.HTTPClient = &http.Client{Transport: &retryAfterTransport{next: http.DefaultTransport}}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}

	return &OpenAIClient{
		client:  openai.NewClientWithConfig(oc),
		model:   cfg.Model,
		limiter: rate.NewLimiter(limit, burst),
	}
}

func (c *OpenAIClient) Complete(ctx context.Context, req Request) (*Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, classify("openai.complete", err, 0)
	}

	model := req.Model
	if model == "" {
		model = c.model
	}
	chat := openai.ChatCompletionRequest{
		Model:    model,
		Messages: buildMessages(req),
	}
	if req.MaxTokens > 0 {
		chat.MaxCompletionTokens = req.MaxTokens
	}
	if req.JSON {
		chat.ResponseFormat = &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject}
	}

	hint := &retryAfterHint{}
	resp, err := c.client.CreateChatCompletion(withRetryAfterHint(ctx, hint), chat)
	if err != nil {
		return nil, classify("openai.complete", err, hint.get())
	}
	if len(resp.Choices) == 0 {
		return nil, domainErrors.Structural("openai.complete", "response has no choices", nil)
	}
	return &Response{
		Text:             resp.Choices[0].Message.Content,
		Model:            resp.Model,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
	}, nil
}

func buildMessages(req Request) []openai.ChatCompletionMessage {
	var msgs []openai.ChatCompletionMessage
	if req.System != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.System})
	}
	if len(req.ImageURLs) == 0 {
		return append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: req.Prompt})
	}

	parts := []openai.ChatMessagePart{{Type: openai.ChatMessagePartTypeText, Text: req.Prompt}}
	for _, u := range req.ImageURLs {
		parts = append(parts, openai.ChatMessagePart{
			Type:     openai.ChatMessagePartTypeImageURL,
			ImageURL: &openai.ChatMessageImageURL{URL: u, Detail: openai.ImageURLDetailAuto},
		})
	}
	return append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, MultiContent: parts})
}

// classify maps go-openai and transport errors onto the error taxonomy.
func classify(op string, err error, retryAfter time.Duration) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return domainErrors.Timeout(op, err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}

	status := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	default:
		// no HTTP response at all: connection refused, reset, DNS
		return domainErrors.Transient(op, err)
	}

	switch {
	case status == http.StatusTooManyRequests:
		return domainErrors.RateLimited(op, retryAfter, err)
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return domainErrors.Timeout(op, err)
	case status >= http.StatusInternalServerError:
		return domainErrors.Transient(op, err)
	default:
		return domainErrors.ExternalService(op, "request rejected by model provider", err)
	}
}

type retryAfterKey struct{}

type retryAfterHint struct {
	nanos atomic.Int64
}

func (h *retryAfterHint) get() time.Duration { return time.Duration(h.nanos.Load()) }

func withRetryAfterHint(ctx context.Context, h *retryAfterHint) context.Context {
	return context.WithValue(ctx, retryAfterKey{}, h)
}

// retryAfterTransport records a 429's Retry-After header on the hint carried
// by the request context, since go-openai drops response headers on errors.
type retryAfterTransport struct {
	next http.RoundTripper
}

func (t *retryAfterTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.next.RoundTrip(req)
	if err != nil || resp.StatusCode != http.StatusTooManyRequests {
		return resp, err
	}
	if h, ok := req.Context().Value(retryAfterKey{}).(*retryAfterHint); ok {
		if d, ok := parseRetryAfter(resp.Header.Get("Retry-After"), time.Now()); ok {
			h.nanos.Store(int64(d))
		}
	}
	return resp, nil
}

// parseRetryAfter accepts both delta-seconds and HTTP-date forms.
func parseRetryAfter(v string, now time.Time) (time.Duration, bool) {
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs <= 0 {
			return 0, false
		}
		return time.Duration(secs) * time.Second, true
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := at.Sub(now); d > 0 {
			return d, true
		}
	}
	return 0, false
}
