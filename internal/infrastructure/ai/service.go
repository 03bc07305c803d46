package ai

import (
	"context"
	"encoding/json"
	"strings"

	domainErrors "github.com/cassiomorais/leadflow/internal/domain/errors"
	"github.com/cassiomorais/leadflow/internal/infrastructure/resilience"
	"github.com/rs/zerolog"
)

// Service is the AI entry point for the rest of the app. Every call goes
// through the AI executor, so retries, timeouts and the breaker apply.
type Service struct {
	client      Client
	exec        *resilience.Executor
	text        resilience.Config
	vision      resilience.Config
	visionModel string
	logger      zerolog.Logger
}

type ServiceOption func(*Service)

func WithVisionModel(model string) ServiceOption {
	return func(s *Service) { s.visionModel = model }
}

// WithVisionConfig overrides the policy used for image requests.
func WithVisionConfig(cfg resilience.Config) ServiceOption {
	return func(s *Service) { s.vision = cfg }
}

func WithServiceLogger(l zerolog.Logger) ServiceOption {
	return func(s *Service) { s.logger = l }
}

func NewService(client Client, exec *resilience.Executor, opts ...ServiceOption) *Service {
	vision := exec.Defaults()
	vision.Timeout = resilience.VisionConfig().Timeout
	s := &Service{
		client: client,
		exec:   exec,
		text:   exec.Defaults(),
		vision: vision,
		logger: zerolog.Nop(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Generate returns the model's text answer to prompt.
func (s *Service) Generate(ctx context.Context, system, prompt string) (string, error) {
	resp, err := resilience.Execute(ctx, s.exec, s.text, func(ctx context.Context) (*Response, error) {
		return s.client.Complete(ctx, Request{System: system, Prompt: prompt})
	})
	if err != nil {
		return "", err
	}
	s.logUsage("generate", resp)
	return resp.Text, nil
}

// GenerateVision answers prompt about the given images under the longer vision timeout.
func (s *Service) GenerateVision(ctx context.Context, prompt string, imageURLs []string) (string, error) {
	if len(imageURLs) == 0 {
		return "", domainErrors.NewValidationError("image_urls", "at least one image is required")
	}
	resp, err := resilience.Execute(ctx, s.exec, s.vision, func(ctx context.Context) (*Response, error) {
		return s.client.Complete(ctx, Request{Model: s.visionModel, Prompt: prompt, ImageURLs: imageURLs})
	})
	if err != nil {
		return "", err
	}
	s.logUsage("vision", resp)
	return resp.Text, nil
}

// GenerateJSON asks for a JSON object and decodes it into T. An answer that
// does not decode is a Structural error and is not retried.
func GenerateJSON[T any](ctx context.Context, s *Service, system, prompt string) (T, error) {
	return resilience.Execute(ctx, s.exec, s.text, func(ctx context.Context) (T, error) {
		var out T
		resp, err := s.client.Complete(ctx, Request{System: system, Prompt: prompt, JSON: true})
		if err != nil {
			return out, err
		}
		s.logUsage("json", resp)
		if err := json.Unmarshal([]byte(stripFences(resp.Text)), &out); err != nil {
			return out, domainErrors.Structural("ai.generate_json", "model answer is not valid JSON", err)
		}
		return out, nil
	})
}

func (s *Service) logUsage(op string, resp *Response) {
	s.logger.Debug().
		Str("op", op).
		Str("model", resp.Model).
		Int("prompt_tokens", resp.PromptTokens).
		Int("completion_tokens", resp.CompletionTokens).
		Msg("ai call completed")
}

// stripFences removes a ```json ... ``` wrapper some models add anyway.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
