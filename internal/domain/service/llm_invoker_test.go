package service

import (
	"context"
	"errors"
	"testing"
	"time"

	domaintool "github.com/agentrt/gateway/internal/domain/tool"
	"go.uber.org/zap"
)

type fakeInvokerLLM struct {
	// scripted is consulted in order; once exhausted the last entry repeats.
	scripted []func() (*LLMResponse, error)
	calls    int
}

func (f *fakeInvokerLLM) Generate(ctx context.Context, req *LLMRequest) (*LLMResponse, error) {
	idx := f.calls
	if idx >= len(f.scripted) {
		idx = len(f.scripted) - 1
	}
	f.calls++
	return f.scripted[idx]()
}

func (f *fakeInvokerLLM) GenerateStream(ctx context.Context, req *LLMRequest, ch chan<- StreamChunk) (*LLMResponse, error) {
	close(ch)
	return f.Generate(ctx, req)
}

func fastInvokerConfig() InvokerConfig {
	cfg := DefaultInvokerConfig()
	cfg.LLMRetryBaseDelay = time.Millisecond
	return cfg
}

func TestInvoker_Invoke_SucceedsFirstTry(t *testing.T) {
	llm := &fakeInvokerLLM{scripted: []func() (*LLMResponse, error){
		func() (*LLMResponse, error) { return &LLMResponse{Content: "ok"}, nil },
	}}
	compactor := NewContextCompactor(DefaultCompactionConfig(), nil)
	inv := NewInvoker(llm, compactor, fastInvokerConfig(), zap.NewNop())

	resp, _, err := inv.Invoke(context.Background(), []LLMMessage{{Role: "user", Content: "hi"}}, nil, "gpt-4", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "ok" {
		t.Fatalf("unexpected content: %q", resp.Content)
	}
	if llm.calls != 1 {
		t.Fatalf("expected exactly one call, got %d", llm.calls)
	}
}

func TestInvoker_Invoke_HardFloorPreCheckBlocksCall(t *testing.T) {
	llm := &fakeInvokerLLM{scripted: []func() (*LLMResponse, error){
		func() (*LLMResponse, error) { return &LLMResponse{Content: "should not be reached"}, nil },
	}}
	cfg := DefaultCompactionConfig()
	cfg.ContextWindowTokens = 10
	cfg.ProactivePruningRatio = 1.0 // disable proactive compaction so the floor check is what fires
	compactor := NewContextCompactor(cfg, nil)

	invCfg := fastInvokerConfig()
	invCfg.ContextWindowHardMinTokens = 100 // way bigger than the window itself
	inv := NewInvoker(llm, compactor, invCfg, zap.NewNop())

	_, _, err := inv.Invoke(context.Background(), []LLMMessage{{Role: "user", Content: "hi"}}, nil, "gpt-4", false)
	if err == nil {
		t.Fatal("expected the hard-floor pre-check to reject the call")
	}
	if llm.calls != 0 {
		t.Fatalf("expected the LLM to never be called, got %d calls", llm.calls)
	}
}

func TestInvoker_Invoke_RetriesTransientThenSucceeds(t *testing.T) {
	llm := &fakeInvokerLLM{scripted: []func() (*LLMResponse, error){
		func() (*LLMResponse, error) { return nil, errors.New("connection reset by peer") },
		func() (*LLMResponse, error) { return &LLMResponse{Content: "recovered"}, nil },
	}}
	compactor := NewContextCompactor(DefaultCompactionConfig(), nil)
	inv := NewInvoker(llm, compactor, fastInvokerConfig(), zap.NewNop())

	resp, _, err := inv.Invoke(context.Background(), []LLMMessage{{Role: "user", Content: "hi"}}, nil, "gpt-4", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "recovered" {
		t.Fatalf("expected the retried call to succeed, got %q", resp.Content)
	}
	if llm.calls != 2 {
		t.Fatalf("expected exactly two calls (one retry), got %d", llm.calls)
	}
}

func TestInvoker_Invoke_NonRetryableErrorFailsFast(t *testing.T) {
	llm := &fakeInvokerLLM{scripted: []func() (*LLMResponse, error){
		func() (*LLMResponse, error) { return nil, errors.New("Unauthorized: invalid API key") },
	}}
	compactor := NewContextCompactor(DefaultCompactionConfig(), nil)
	inv := NewInvoker(llm, compactor, fastInvokerConfig(), zap.NewNop())

	_, _, err := inv.Invoke(context.Background(), []LLMMessage{{Role: "user", Content: "hi"}}, nil, "gpt-4", false)
	if err == nil {
		t.Fatal("expected an auth error to fail without retrying")
	}
	if llm.calls != 1 {
		t.Fatalf("expected exactly one call for a non-retryable error, got %d", llm.calls)
	}
}

func TestInvoker_Invoke_OverflowRecoveryLadderSucceedsOnSummarize(t *testing.T) {
	llm := &fakeInvokerLLM{scripted: []func() (*LLMResponse, error){
		func() (*LLMResponse, error) { return nil, errors.New("context length exceeded") },
		func() (*LLMResponse, error) { return &LLMResponse{Content: "recovered after summarize"}, nil },
	}}
	compactor := NewContextCompactor(DefaultCompactionConfig(), nil)
	inv := NewInvoker(llm, compactor, fastInvokerConfig(), zap.NewNop())

	messages := []LLMMessage{
		{Role: "system", Content: "sys"},
		{Role: "user", Content: "one"},
		{Role: "assistant", Content: "two"},
		{Role: "user", Content: "three"},
	}
	resp, _, err := inv.Invoke(context.Background(), messages, nil, "gpt-4", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "recovered after summarize" {
		t.Fatalf("expected the ladder's first rung to recover, got %q", resp.Content)
	}
}

func TestInvoker_Invoke_OverflowRecoveryLadderGivesUp(t *testing.T) {
	overflow := func() (*LLMResponse, error) { return nil, errors.New("context length exceeded") }
	llm := &fakeInvokerLLM{scripted: []func() (*LLMResponse, error){overflow, overflow, overflow, overflow}}
	compactor := NewContextCompactor(DefaultCompactionConfig(), nil)
	invCfg := fastInvokerConfig()
	invCfg.MaxOverflowRetries = 3
	inv := NewInvoker(llm, compactor, invCfg, zap.NewNop())

	messages := []LLMMessage{
		{Role: "system", Content: "sys"},
		{Role: "user", Content: "one"},
	}
	_, _, err := inv.Invoke(context.Background(), messages, nil, "gpt-4", false)
	if err == nil {
		t.Fatal("expected the overflow ladder to eventually give up")
	}
	if !IsContextOverflowError(err) && err.Error() == "" {
		t.Fatal("expected a non-empty error once the ladder is exhausted")
	}
}

func TestInvoker_Invoke_DropsToolsOnSecondRung(t *testing.T) {
	var sawTools []bool
	llm := &fakeInvokerLLM{scripted: []func() (*LLMResponse, error){
		func() (*LLMResponse, error) { return nil, errors.New("context length exceeded") },
		func() (*LLMResponse, error) { return nil, errors.New("context length exceeded") },
		func() (*LLMResponse, error) { return &LLMResponse{Content: "ok without tools"}, nil },
	}}
	recordingLLM := &recordingToolsLLM{inner: llm, seen: &sawTools}
	compactor := NewContextCompactor(DefaultCompactionConfig(), nil)
	inv := NewInvoker(recordingLLM, compactor, fastInvokerConfig(), zap.NewNop())

	tools := []domaintool.Definition{{Name: "read_file"}}
	_, _, err := inv.Invoke(context.Background(), []LLMMessage{{Role: "user", Content: "hi"}}, tools, "gpt-4", true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sawTools) < 3 {
		t.Fatalf("expected at least 3 recorded calls, got %d", len(sawTools))
	}
	if !sawTools[0] {
		t.Fatal("first call should still carry tools")
	}
	if sawTools[len(sawTools)-1] {
		t.Fatal("by the second recovery rung tools should have been dropped")
	}
}

// recordingToolsLLM wraps another LLMClient and records whether each call
// carried any tool definitions.
type recordingToolsLLM struct {
	inner LLMClient
	seen  *[]bool
}

func (r *recordingToolsLLM) Generate(ctx context.Context, req *LLMRequest) (*LLMResponse, error) {
	*r.seen = append(*r.seen, len(req.Tools) > 0)
	return r.inner.Generate(ctx, req)
}

func (r *recordingToolsLLM) GenerateStream(ctx context.Context, req *LLMRequest, ch chan<- StreamChunk) (*LLMResponse, error) {
	*r.seen = append(*r.seen, len(req.Tools) > 0)
	return r.inner.GenerateStream(ctx, req, ch)
}
