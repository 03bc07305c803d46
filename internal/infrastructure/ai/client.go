package ai

import "context"

// Request is one chat completion.
type Request struct {
	Model     string
	System    string
	Prompt    string
	ImageURLs []string
	MaxTokens int
	// JSON asks the model for a single JSON object.
	JSON bool
}

type Response struct {
	Text             string
	Model            string
	PromptTokens     int
	CompletionTokens int
}

// Client is the port to the model provider. Implementations return
// classified errors.
type Client interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}
