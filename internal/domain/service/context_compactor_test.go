package service

import (
	"context"
	"strings"
	"testing"
)

func TestContextCompactor_ShouldProactivelyCompact(t *testing.T) {
	cfg := DefaultCompactionConfig()
	cfg.ContextWindowTokens = 100
	cfg.ProactivePruningRatio = 0.7
	c := NewContextCompactor(cfg, nil)

	small := []LLMMessage{{Role: "user", Content: "hi"}}
	if c.ShouldProactivelyCompact(small) {
		t.Fatal("should not trigger for a tiny context")
	}

	big := []LLMMessage{{Role: "user", Content: strings.Repeat("x", 400)}}
	if !c.ShouldProactivelyCompact(big) {
		t.Fatal("should trigger once usage crosses the proactive ratio")
	}
}

func TestContextCompactor_TruncateOversizedToolResults(t *testing.T) {
	cfg := DefaultCompactionConfig()
	cfg.HardMaxToolResultChars = 20
	c := NewContextCompactor(cfg, nil)

	messages := []LLMMessage{
		{Role: "user", Content: "hello"},
		{Role: "tool", Content: strings.Repeat("a", 50)},
	}
	out := c.TruncateOversizedToolResults(messages)
	if len(out[1].Content) >= 50 {
		t.Fatalf("expected tool result to be truncated, got %d chars", len(out[1].Content))
	}
	if !strings.Contains(out[1].Content, "truncated") {
		t.Fatal("expected truncation marker in truncated tool result")
	}
	if out[0].Content != "hello" {
		t.Fatal("non-tool messages should be untouched")
	}
}

func TestContextCompactor_SelectivelyPrune_BelowSoftTrim(t *testing.T) {
	cfg := DefaultCompactionConfig()
	cfg.ContextWindowTokens = 100_000
	cfg.SoftTrimRatio = 0.6
	c := NewContextCompactor(cfg, nil)

	messages := []LLMMessage{
		{Role: "user", Content: "hi"},
		{Role: "tool", Name: "read_file", Content: "some output"},
	}
	out := c.SelectivelyPrune(messages)
	if out[1].Content != "some output" {
		t.Fatal("should not prune below the soft trim ratio")
	}
}

func TestContextCompactor_SelectivelyPrune_HardClear(t *testing.T) {
	cfg := DefaultCompactionConfig()
	cfg.ContextWindowTokens = 40
	cfg.CharsPerToken = 1
	cfg.SoftTrimRatio = 0.1
	cfg.HardClearRatio = 0.2
	cfg.KeepLastAssistants = 0
	c := NewContextCompactor(cfg, nil)

	messages := []LLMMessage{
		{Role: "tool", Name: "read_file", Content: "some large tool output here"},
		{Role: "assistant", Content: "ok", ToolCalls: nil},
	}
	out := c.SelectivelyPrune(messages)
	if out[0].Content != "[cleared]" {
		t.Fatalf("expected hard clear past HardClearRatio, got %q", out[0].Content)
	}
}

func TestContextCompactor_SelectivelyPrune_DenyListNeverTouched(t *testing.T) {
	cfg := DefaultCompactionConfig()
	cfg.ContextWindowTokens = 40
	cfg.CharsPerToken = 1
	cfg.SoftTrimRatio = 0.1
	cfg.HardClearRatio = 0.2
	cfg.KeepLastAssistants = 0
	cfg.PruneDeny = []string{"keep_me"}
	c := NewContextCompactor(cfg, nil)

	messages := []LLMMessage{
		{Role: "tool", Name: "keep_me", Content: "protected output"},
		{Role: "assistant", Content: "ok"},
	}
	out := c.SelectivelyPrune(messages)
	if out[0].Content != "protected output" {
		t.Fatal("tool results matching PruneDeny should never be pruned")
	}
}

func TestContextCompactor_Summarize_UsesSummarizerFirst(t *testing.T) {
	cfg := DefaultCompactionConfig()
	cfg.BaseChunkRatio = 0.5
	cfg.MinChunkRatio = 0.1
	cfg.SafetyMargin = 0.0
	cfg.ContextWindowTokens = 1_000_000

	called := false
	summarizer := func(ctx context.Context, messages []LLMMessage) (string, error) {
		called = true
		return "custom summary", nil
	}
	c := NewContextCompactor(cfg, summarizer)

	messages := []LLMMessage{
		{Role: "system", Content: "sys"},
		{Role: "user", Content: "one"},
		{Role: "user", Content: "two"},
		{Role: "user", Content: "three"},
		{Role: "user", Content: "four"},
	}
	out := c.Summarize(context.Background(), messages)
	if !called {
		t.Fatal("expected summarizer to be invoked")
	}
	if out[0].Content != "sys" {
		t.Fatal("leading system message should be preserved")
	}
	if !strings.Contains(out[1].Content, "custom summary") {
		t.Fatalf("expected compaction marker to carry the LLM summary, got %q", out[1].Content)
	}
}

func TestContextCompactor_Summarize_FallsBackWithoutSummarizer(t *testing.T) {
	cfg := DefaultCompactionConfig()
	cfg.BaseChunkRatio = 0.5
	cfg.MinChunkRatio = 0.1
	cfg.SafetyMargin = 0.0
	cfg.ContextWindowTokens = 1_000_000
	c := NewContextCompactor(cfg, nil)

	messages := []LLMMessage{
		{Role: "user", Content: "one"},
		{Role: "assistant", Content: "two"},
		{Role: "user", Content: "three"},
		{Role: "assistant", Content: "four"},
	}
	out := c.Summarize(context.Background(), messages)
	if len(out) == 0 || !strings.Contains(out[0].Content, "compaction marker") {
		t.Fatalf("expected deterministic truncation summary, got %+v", out)
	}
}

func TestContextCompactor_Summarize_DropsOrphanToolResults(t *testing.T) {
	cfg := DefaultCompactionConfig()
	cfg.BaseChunkRatio = 0.5
	cfg.MinChunkRatio = 0.1
	cfg.SafetyMargin = 0.0
	cfg.ContextWindowTokens = 1_000_000
	c := NewContextCompactor(cfg, nil)

	messages := []LLMMessage{
		{Role: "user", Content: "a"},
		{Role: "user", Content: "b"},
		{Role: "user", Content: "c"},
		{Role: "tool", ToolCallID: "missing-call", Content: "orphaned result"},
	}
	out := c.Summarize(context.Background(), messages)
	for _, m := range out {
		if m.Role == "tool" && m.ToolCallID == "missing-call" {
			t.Fatal("orphaned tool result should have been dropped after the cut")
		}
	}
}

func TestContextCompactor_Compact_RunsAllThreeLayers(t *testing.T) {
	cfg := DefaultCompactionConfig()
	cfg.ContextWindowTokens = 50
	cfg.CharsPerToken = 1
	cfg.HardMaxToolResultChars = 30
	cfg.SoftTrimRatio = 0.1
	cfg.HardClearRatio = 0.9
	cfg.ProactivePruningRatio = 0.1
	cfg.BaseChunkRatio = 0.5
	cfg.MinChunkRatio = 0.1
	cfg.SafetyMargin = 0.0
	c := NewContextCompactor(cfg, nil)

	messages := []LLMMessage{
		{Role: "system", Content: "sys"},
		{Role: "tool", Name: "read_file", Content: strings.Repeat("x", 60)},
		{Role: "user", Content: "question"},
		{Role: "assistant", Content: "answer"},
	}
	out := c.Compact(context.Background(), messages)
	if len(out) == 0 {
		t.Fatal("compact should not return an empty slice")
	}
}
