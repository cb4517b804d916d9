package provider

import (
	"context"
	"errors"
	"testing"
	"time"

	"shopbot/internal/domain"
)

// slowProvider blocks until the context is done.
type slowProvider struct{ mockProvider }

func (s *slowProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestCompletion_BuildsChatRequest(t *testing.T) {
	p := &mockProvider{name: "mock", chatResp: &domain.ChatResponse{Content: "  {\"ok\":true}  "}}
	c := NewCompletion(CompletionConfig{Provider: p, Logger: testLogger()})

	out, err := c.Complete(context.Background(), domain.CompletionRequest{
		System: "sys", User: "hello", Temperature: 0.3, MaxTokens: 100, JSON: true,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != `{"ok":true}` {
		t.Fatalf("expected trimmed content, got %q", out)
	}

	req := p.lastReq
	if len(req.Messages) != 2 || req.Messages[0].Role != "system" || req.Messages[1].Content != "hello" {
		t.Fatalf("unexpected messages: %+v", req.Messages)
	}
	if req.Temperature != 0.3 || req.MaxTokens != 100 || !req.JSONMode {
		t.Fatalf("options not forwarded: %+v", req)
	}
}

func TestCompletion_NoSystemPrompt(t *testing.T) {
	p := &mockProvider{name: "mock", chatResp: &domain.ChatResponse{Content: "x"}}
	c := NewCompletion(CompletionConfig{Provider: p, Logger: testLogger()})

	if _, err := c.Complete(context.Background(), domain.CompletionRequest{User: "u"}); err != nil {
		t.Fatal(err)
	}
	if len(p.lastReq.Messages) != 1 {
		t.Fatalf("expected only the user message, got %d", len(p.lastReq.Messages))
	}
}

func TestCompletion_EmptyContentIsError(t *testing.T) {
	p := &mockProvider{name: "mock", chatResp: &domain.ChatResponse{Content: "   "}}
	c := NewCompletion(CompletionConfig{Provider: p, Logger: testLogger()})

	if _, err := c.Complete(context.Background(), domain.CompletionRequest{User: "u"}); err == nil {
		t.Fatal("expected error for empty completion")
	}
}

func TestCompletion_Timeout(t *testing.T) {
	p := &slowProvider{mockProvider{name: "slow"}}
	c := NewCompletion(CompletionConfig{Provider: p, Timeout: 20 * time.Millisecond, Logger: testLogger()})

	start := time.Now()
	_, err := c.Complete(context.Background(), domain.CompletionRequest{User: "u"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Fatal("timeout was not enforced")
	}
}

func TestCompletion_ObserveHook(t *testing.T) {
	p := &mockProvider{name: "mock", chatErr: errors.New("boom")}
	var gotProvider string
	var gotErr error
	c := NewCompletion(CompletionConfig{
		Provider: p,
		Logger:   testLogger(),
		Observe: func(provider string, d time.Duration, err error) {
			gotProvider = provider
			gotErr = err
		},
	})

	_, _ = c.Complete(context.Background(), domain.CompletionRequest{User: "u"})
	if gotProvider != "mock" || gotErr == nil {
		t.Fatalf("observe hook not called correctly: %q %v", gotProvider, gotErr)
	}
}

func TestCompletion_RateLimitHonorsContext(t *testing.T) {
	p := &mockProvider{name: "mock", chatResp: &domain.ChatResponse{Content: "x"}}
	// 1 per minute, burst 1: the second call must wait ~60s and hit the timeout.
	c := NewCompletion(CompletionConfig{Provider: p, RateLimitPerMin: 1, Timeout: 50 * time.Millisecond, Logger: testLogger()})

	if _, err := c.Complete(context.Background(), domain.CompletionRequest{User: "u"}); err != nil {
		t.Fatalf("first call: %v", err)
	}
	if _, err := c.Complete(context.Background(), domain.CompletionRequest{User: "u"}); err == nil {
		t.Fatal("expected rate limit wait to fail within timeout")
	}
	if p.calls != 1 {
		t.Fatalf("expected 1 provider call, got %d", p.calls)
	}
}
