package llm

import (
	"context"
)

// Client sends a single chat completion and returns the assistant content.
type Client interface {
	Complete(ctx context.Context, req ChatRequest) (string, error)
}

// ChatRequest is a provider-neutral chat completion request.
type ChatRequest struct {
	System      string
	User        string
	Temperature float64
	JSONMode    bool
}
