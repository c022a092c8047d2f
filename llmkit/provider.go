package llmkit

import "context"

// ChatModel is the interface every chat-completion backend implements.
// Cancellation is cooperative through ctx; both methods must return
// promptly once ctx is done.
type ChatModel interface {
	// Name returns the provider identifier (e.g. "openai", "anthropic").
	Name() string

	// Complete sends a blocking request and returns the full response.
	Complete(ctx context.Context, req Request) (*Response, error)

	// Stream sends a request and returns a channel of stream events.
	// The channel is closed after the terminal StreamFinish or
	// StreamError event.
	Stream(ctx context.Context, req Request) (<-chan StreamEvent, error)
}

// Closer is implemented by adapters that hold resources.
type Closer interface {
	Close() error
}
