package llmkit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
)

// mockAdapter is a ChatModel returning canned responses.
type mockAdapter struct {
	name     string
	response *Response
	err      error
	calls    atomic.Int64
	mu       sync.Mutex
	lastReq  Request
}

func (m *mockAdapter) Name() string { return m.name }

func (m *mockAdapter) Complete(ctx context.Context, req Request) (*Response, error) {
	m.calls.Add(1)
	m.mu.Lock()
	m.lastReq = req
	m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	return m.response, nil
}

func (m *mockAdapter) Stream(ctx context.Context, req Request) (<-chan StreamEvent, error) {
	m.calls.Add(1)
	ch := make(chan StreamEvent, 8)
	go func() {
		defer close(ch)
		ch <- StreamEvent{Type: StreamStart}
		ch <- StreamEvent{Type: TextDelta, Delta: m.response.Text()}
		ch <- StreamEvent{Type: StreamFinish, Response: m.response}
	}()
	return ch, nil
}

func textResponse(text string) *Response {
	return &Response{
		Message:      AssistantMessage(text),
		FinishReason: FinishReason{Reason: "stop"},
	}
}

func TestClientRoutesToDefaultProvider(t *testing.T) {
	mock := &mockAdapter{name: "mock", response: textResponse("hello")}
	client := NewClient(WithProvider("mock", mock))

	resp, err := client.Complete(context.Background(), Request{Model: "m"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Text() != "hello" {
		t.Errorf("unexpected text: %q", resp.Text())
	}
	if resp.Provider != "" && resp.Provider != "mock" {
		t.Errorf("unexpected provider: %q", resp.Provider)
	}
}

func TestClientUnknownProvider(t *testing.T) {
	client := NewClient()
	_, err := client.Complete(context.Background(), Request{Model: "m", Provider: "ghost"})
	if _, ok := err.(*ConfigurationError); !ok {
		t.Fatalf("expected ConfigurationError, got %T", err)
	}
}

func TestClientInfersProviderFromCatalog(t *testing.T) {
	mock := &mockAdapter{name: "anthropic", response: textResponse("ok")}
	other := &mockAdapter{name: "openai", response: textResponse("wrong")}
	client := NewClient(WithProvider("anthropic", mock), WithProvider("openai", other))

	resp, err := client.Complete(context.Background(), Request{Model: "claude-opus-4-6"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Text() != "ok" {
		t.Errorf("routed to wrong provider, got %q", resp.Text())
	}
}

func TestClientMiddlewareOrder(t *testing.T) {
	mock := &mockAdapter{name: "mock", response: textResponse("base")}

	var order []string
	mw := func(tag string) Middleware {
		return func(ctx context.Context, req Request, next func(context.Context, Request) (*Response, error)) (*Response, error) {
			order = append(order, tag)
			return next(ctx, req)
		}
	}

	client := NewClient(
		WithProvider("mock", mock),
		WithMiddleware(mw("first"), mw("second")),
	)

	if _, err := client.Complete(context.Background(), Request{Model: "m"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Errorf("middleware ran out of order: %v", order)
	}
}

func TestClientStream(t *testing.T) {
	mock := &mockAdapter{name: "mock", response: textResponse("streamed")}
	client := NewClient(WithProvider("mock", mock))

	ch, err := client.Stream(context.Background(), Request{Model: "m"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	acc := NewAccumulator()
	for ev := range ch {
		acc.Process(ev)
	}
	if got := acc.Response().Text(); got != "streamed" {
		t.Errorf("unexpected accumulated text: %q", got)
	}
}
