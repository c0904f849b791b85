package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	domaintool "github.com/agentrt/gateway/internal/domain/tool"
	apperrors "github.com/agentrt/gateway/pkg/errors"
	"go.uber.org/zap"
)

// InvokerConfig names the §4.7 tunables governing retry/fallback behavior
// around one LLM call.
type InvokerConfig struct {
	MaxOverflowRetries         int           // MAX_OVERFLOW_RETRIES
	MaxLLMRetries              int           // MAX_LLM_RETRIES
	LLMRetryBaseDelay          time.Duration // LLM_RETRY_BASE_DELAY
	ContextWindowHardMinTokens int           // CONTEXT_WINDOW_HARD_MIN_TOKENS
}

// DefaultInvokerConfig mirrors spec.md §6's documented defaults.
func DefaultInvokerConfig() InvokerConfig {
	return InvokerConfig{
		MaxOverflowRetries:         3,
		MaxLLMRetries:              3,
		LLMRetryBaseDelay:          2 * time.Second,
		ContextWindowHardMinTokens: 4000,
	}
}

// Invoker implements C7: the LLM call wrapped in the overflow-recovery and
// retry/backoff policy spec.md §4.7 describes. Unlike the legacy
// AgentLoop.callLLMWithRetry (kept for the Telegram/gRPC surfaces, which
// predate this contract), Invoke never streams — it returns one finished
// LLMResponse plus the exact message slice that was finally sent, so the
// caller can persist precisely what the provider saw (§4.7's
// "final_history_snapshot").
type Invoker struct {
	llm       LLMClient
	compactor *ContextCompactor
	cfg       InvokerConfig
	logger    *zap.Logger
}

// NewInvoker builds an Invoker around an LLM client and the compaction
// engine used for its overflow-recovery fallback.
func NewInvoker(llm LLMClient, compactor *ContextCompactor, cfg InvokerConfig, logger *zap.Logger) *Invoker {
	return &Invoker{llm: llm, compactor: compactor, cfg: cfg, logger: logger}
}

// Invoke sends messages (with tools attached unless useTools is false) to
// the model, applying in order: a proactive compaction pass, a hard-floor
// pre-check (CONTEXT_WINDOW_HARD_MIN_TOKENS), retryable-error backoff, and
// on a detected context-overflow error an escalating fallback ladder —
// aggressive truncation, then no-tools, then a clean (system-prompt-only)
// context — before giving up with context_overflow_unrecoverable (§4.7).
func (inv *Invoker) Invoke(ctx context.Context, messages []LLMMessage, tools []domaintool.Definition, model string, useTools bool) (*LLMResponse, []LLMMessage, error) {
	working := messages
	if inv.compactor != nil && inv.compactor.ShouldProactivelyCompact(working) {
		working = inv.compactor.Compact(ctx, working)
	}

	if inv.compactor != nil {
		budget := inv.compactor.cfg.ContextWindowTokens
		used := EstimateTokensTotal(working, inv.compactor.cfg.CharsPerToken)
		if budget > 0 && budget-used < inv.cfg.ContextWindowHardMinTokens {
			return nil, working, apperrors.NewContextOverflowError(
				fmt.Sprintf("only %d tokens of headroom remain, below the %d floor", budget-used, inv.cfg.ContextWindowHardMinTokens),
				nil,
			)
		}
	}

	reqTools := tools
	if !useTools {
		reqTools = nil
	}

	resp, err := inv.callWithRetry(ctx, working, reqTools, model)
	if err == nil {
		return resp, working, nil
	}

	if !IsContextOverflowError(err) {
		classified := ClassifyError(err, "", model)
		return nil, working, classified.ToAppError()
	}

	// Overflow recovery ladder: aggressive truncation -> no tools -> clean context.
	for attempt := 1; attempt <= inv.cfg.MaxOverflowRetries; attempt++ {
		switch attempt {
		case 1:
			if inv.compactor != nil {
				working = inv.compactor.Summarize(ctx, working)
			}
		case 2:
			reqTools = nil
		default:
			working = cleanContext(working)
		}

		resp, err = inv.callWithRetry(ctx, working, reqTools, model)
		if err == nil {
			return resp, working, nil
		}
		if !IsContextOverflowError(err) {
			classified := ClassifyError(err, "", model)
			return nil, working, classified.ToAppError()
		}
		inv.logger.Warn("context overflow persisted after recovery step",
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}

	return nil, working, apperrors.NewContextOverflowError("context overflow could not be recovered after fallback ladder", err)
}

// cleanContext keeps only the system prompt and the most recent user
// message — the last rung of the fallback ladder (§4.7 "clean context").
func cleanContext(messages []LLMMessage) []LLMMessage {
	var system *LLMMessage
	var lastUser *LLMMessage
	for i := range messages {
		switch messages[i].Role {
		case "system":
			if system == nil {
				system = &messages[i]
			}
		case "user":
			lastUser = &messages[i]
		}
	}
	out := make([]LLMMessage, 0, 2)
	if system != nil {
		out = append(out, *system)
	}
	if lastUser != nil {
		out = append(out, *lastUser)
	}
	return out
}

// callWithRetry retries transient provider errors with exponential backoff,
// per §4.7 — thought-signature-invalid errors (a content_filter-shaped
// error from providers that reject a malformed reasoning signature) are
// deliberately excluded from backoff since retrying identical input cannot
// help.
func (inv *Invoker) callWithRetry(ctx context.Context, messages []LLMMessage, tools []domaintool.Definition, model string) (*LLMResponse, error) {
	req := &LLMRequest{
		Messages: messages,
		Tools:    tools,
		Model:    model,
	}

	var lastErr error
	for attempt := 0; attempt <= inv.cfg.MaxLLMRetries; attempt++ {
		if attempt > 0 {
			wait := inv.cfg.LLMRetryBaseDelay * time.Duration(1<<(attempt-1))
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		resp, err := inv.llm.Generate(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if IsContextOverflowError(err) {
			return nil, err // overflow is handled by the caller's ladder, not retried here
		}
		if isThoughtSignatureInvalid(err) {
			return nil, err
		}

		classified := ClassifyError(err, "", model)
		if !classified.IsRetryable() {
			return nil, err
		}
		inv.logger.Warn("retrying LLM call", zap.Int("attempt", attempt+1), zap.Error(err))
	}
	return nil, fmt.Errorf("LLM call failed after %d retries: %w", inv.cfg.MaxLLMRetries, lastErr)
}

func isThoughtSignatureInvalid(err error) bool {
	if err == nil {
		return false
	}
	lower := strings.ToLower(err.Error())
	for _, sub := range []string{"thought_signature", "thoughtsignature", "invalid signature"} {
		if strings.Contains(lower, sub) {
			return true
		}
	}
	return false
}
