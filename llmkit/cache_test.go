package llmkit

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestResponseCacheKeyStable(t *testing.T) {
	cache := NewResponseCache(0)
	req := Request{Model: "m", Messages: []Message{UserMessage("hi")}}

	if cache.Key(req) != cache.Key(req) {
		t.Error("identical requests must hash identically")
	}

	other := Request{Model: "m", Messages: []Message{UserMessage("bye")}}
	if cache.Key(req) == cache.Key(other) {
		t.Error("different requests must not collide")
	}
}

func TestResponseCacheServesSecondCall(t *testing.T) {
	mock := &mockAdapter{name: "mock", response: textResponse("cached")}
	cache := NewResponseCache(0)
	client := NewClient(WithProvider("mock", mock), WithMiddleware(cache.Middleware()))

	req := Request{Model: "m", Messages: []Message{UserMessage("hi")}}
	for i := 0; i < 3; i++ {
		resp, err := client.Complete(context.Background(), req)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if resp.Text() != "cached" {
			t.Errorf("unexpected text: %q", resp.Text())
		}
	}

	if got := mock.calls.Load(); got != 1 {
		t.Errorf("expected 1 provider call, got %d", got)
	}
	if cache.Len() != 1 {
		t.Errorf("expected 1 cache entry, got %d", cache.Len())
	}
}

// slowAdapter blocks in Complete until released, to observe in-flight
// deduplication.
type slowAdapter struct {
	mockAdapter
	release chan struct{}
}

func (s *slowAdapter) Complete(ctx context.Context, req Request) (*Response, error) {
	s.calls.Add(1)
	<-s.release
	return s.response, nil
}

func TestResponseCacheDedupesConcurrentCalls(t *testing.T) {
	slow := &slowAdapter{
		mockAdapter: mockAdapter{name: "mock", response: textResponse("once")},
		release:     make(chan struct{}),
	}
	cache := NewResponseCache(0)
	client := NewClient(WithProvider("mock", slow), WithMiddleware(cache.Middleware()))

	req := Request{Model: "m", Messages: []Message{UserMessage("same")}}

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := client.Complete(context.Background(), req); err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}

	time.Sleep(50 * time.Millisecond)
	close(slow.release)
	wg.Wait()

	if got := slow.calls.Load(); got != 1 {
		t.Errorf("expected a single in-flight provider call, got %d", got)
	}
}

func TestResponseCacheBounded(t *testing.T) {
	cache := NewResponseCache(2)
	cache.store("a", textResponse("1"))
	cache.store("b", textResponse("2"))
	cache.store("c", textResponse("3"))

	if cache.Len() != 2 {
		t.Errorf("expected bounded cache of 2, got %d", cache.Len())
	}
}
