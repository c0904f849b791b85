package service

import (
	"context"
	"path/filepath"
	"strings"
)

// CompactionConfig names every tunable of the three-layer compaction
// pipeline (§4.4, §6). Ratios are fractions of context_window_tokens.
type CompactionConfig struct {
	ContextWindowTokens int

	// Layer 1: oversized tool-result truncation.
	MaxToolResultContextShare float64 // ctx_share, e.g. 0.25
	HardMaxToolResultChars    int

	// Layer 2: selective pruning.
	SoftTrimRatio      float64 // e.g. 0.6 — trim tool outputs beyond this usage
	HardClearRatio     float64 // e.g. 0.8 — clear tool outputs entirely beyond this
	KeepLastAssistants int     // never prune a tool result feeding the last N assistant turns
	PruneAllow         []string
	PruneDeny          []string

	// Layer 3: LLM summarization.
	ProactivePruningRatio float64 // proactive trigger, e.g. 0.7
	BaseChunkRatio        float64
	MinChunkRatio         float64
	SafetyMargin          float64

	CharsPerToken int
}

// DefaultCompactionConfig mirrors the documented defaults in spec.md §6.
func DefaultCompactionConfig() CompactionConfig {
	return CompactionConfig{
		ContextWindowTokens:       128_000,
		MaxToolResultContextShare: 0.25,
		HardMaxToolResultChars:    20_000,
		SoftTrimRatio:             0.6,
		HardClearRatio:            0.8,
		KeepLastAssistants:        2,
		ProactivePruningRatio:     0.7,
		BaseChunkRatio:            0.5,
		MinChunkRatio:             0.1,
		SafetyMargin:              0.1,
		CharsPerToken:             4,
	}
}

// Summarizer produces an LLM-authored summary of the given message slice.
// Callers wire this to the same LLM client the agent loop already uses;
// kept as a function value here so the compactor has no dependency on
// AgentLoop or any particular provider client.
type Summarizer func(ctx context.Context, messages []LLMMessage) (string, error)

// ContextCompactor implements C4: the three-layer truncate / prune /
// summarize pipeline applied to a session's history before it is sent to
// the model (§4.4).
type ContextCompactor struct {
	cfg        CompactionConfig
	summarizer Summarizer
}

// NewContextCompactor builds a compactor. summarizer may be nil, in which
// case layer 3 falls back straight to the truncation summary.
func NewContextCompactor(cfg CompactionConfig, summarizer Summarizer) *ContextCompactor {
	return &ContextCompactor{cfg: cfg, summarizer: summarizer}
}

// ShouldProactivelyCompact reports whether the current estimated token
// usage already exceeds the proactive trigger ratio of the context
// window, ahead of an actual overflow error (§4.4 proactive trigger).
func (c *ContextCompactor) ShouldProactivelyCompact(messages []LLMMessage) bool {
	used := EstimateTokensTotal(messages, c.cfg.CharsPerToken)
	threshold := int(float64(c.cfg.ContextWindowTokens) * c.cfg.ProactivePruningRatio)
	return used >= threshold
}

// TruncateOversizedToolResults implements layer 1: any tool-result message
// whose size would consume more than MaxToolResultContextShare of the
// context window, or exceeds HardMaxToolResultChars outright, is truncated
// in place with a marker noting how much was cut (§4.4 layer 1).
func (c *ContextCompactor) TruncateOversizedToolResults(messages []LLMMessage) []LLMMessage {
	maxChars := c.cfg.HardMaxToolResultChars
	shareChars := int(float64(c.cfg.ContextWindowTokens) * float64(c.cfg.CharsPerToken) * c.cfg.MaxToolResultContextShare)
	if shareChars > 0 && shareChars < maxChars {
		maxChars = shareChars
	}
	if maxChars <= 0 {
		return messages
	}

	out := make([]LLMMessage, len(messages))
	copy(out, messages)
	for i, m := range out {
		if m.Role != "tool" {
			continue
		}
		if len(m.Content) <= maxChars {
			continue
		}
		cut := len(m.Content) - maxChars
		out[i].Content = m.Content[:maxChars] + "\n...[truncated " + itoa(cut) + " chars]"
	}
	return out
}

// SelectivelyPrune implements layer 2: once accumulated usage crosses
// SoftTrimRatio, tool-result content feeding assistant turns older than
// KeepLastAssistants is trimmed to a one-line placeholder; past
// HardClearRatio it is cleared outright. Tool names matching PruneDeny are
// never touched; when PruneAllow is non-empty only matching names are
// eligible at all (§4.4 layer 2).
func (c *ContextCompactor) SelectivelyPrune(messages []LLMMessage) []LLMMessage {
	used := EstimateTokensTotal(messages, c.cfg.CharsPerToken)
	ratio := 0.0
	if c.cfg.ContextWindowTokens > 0 {
		ratio = float64(used) / float64(c.cfg.ContextWindowTokens)
	}
	if ratio < c.cfg.SoftTrimRatio {
		return messages
	}
	hardClear := ratio >= c.cfg.HardClearRatio

	assistantIdx := -1
	keepFrom := len(messages)
	seen := 0
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "assistant" {
			seen++
			if seen > c.cfg.KeepLastAssistants {
				assistantIdx = i
				keepFrom = i
				break
			}
		}
	}
	if assistantIdx < 0 {
		return messages
	}

	out := make([]LLMMessage, len(messages))
	copy(out, messages)
	for i := 0; i < keepFrom; i++ {
		if out[i].Role != "tool" {
			continue
		}
		if !c.eligibleForPrune(out[i].Name) {
			continue
		}
		if hardClear {
			out[i].Content = "[cleared]"
		} else {
			out[i].Content = truncateOutput(out[i].Content, 200)
		}
	}
	return out
}

func (c *ContextCompactor) eligibleForPrune(toolName string) bool {
	for _, deny := range c.cfg.PruneDeny {
		if globMatch(deny, toolName) {
			return false
		}
	}
	if len(c.cfg.PruneAllow) == 0 {
		return true
	}
	for _, allow := range c.cfg.PruneAllow {
		if globMatch(allow, toolName) {
			return true
		}
	}
	return false
}

func globMatch(pattern, name string) bool {
	ok, err := filepath.Match(pattern, name)
	return err == nil && ok
}

// Summarize implements layer 3: the oldest span of messages (from
// start_idx up to cutoff, chosen so the kept tail stays under the context
// window) is replaced by one compaction-marker system message holding
// either an LLM-authored summary or, failing that, the deterministic
// truncation summary. Tool-result messages left without their originating
// assistant tool_call after the cut are dropped so history never contains
// an orphaned tool reply (§4.4 layer 3, I3).
func (c *ContextCompactor) Summarize(ctx context.Context, messages []LLMMessage) []LLMMessage {
	startIdx := 0
	if len(messages) > 0 && messages[0].Role == "system" {
		startIdx = 1
	}

	cutoff := c.chooseCutoff(messages, startIdx)
	if cutoff <= startIdx {
		return messages
	}

	span := messages[startIdx:cutoff]
	summary := ""
	if c.summarizer != nil {
		if s, err := c.summarizer(ctx, span); err == nil && s != "" {
			summary = s
		}
	}
	if summary == "" {
		summary = truncationSummaryStatic(span)
	}

	compacted := make([]LLMMessage, 0, len(messages)-cutoff+startIdx+1)
	if startIdx > 0 {
		compacted = append(compacted, messages[0])
	}
	compacted = append(compacted, LLMMessage{
		Role:    "system",
		Content: "[compaction marker] " + summary,
	})
	compacted = append(compacted, dropOrphanToolResults(messages[cutoff:])...)
	return compacted
}

// chooseCutoff tries BaseChunkRatio of the remaining span first, backing
// off toward MinChunkRatio if that would leave less than SafetyMargin of
// headroom — the three-fallback-strategy chunking spec.md §4.4 describes.
func (c *ContextCompactor) chooseCutoff(messages []LLMMessage, startIdx int) int {
	n := len(messages) - startIdx
	if n <= 0 {
		return startIdx
	}
	for _, ratio := range []float64{c.cfg.BaseChunkRatio, (c.cfg.BaseChunkRatio + c.cfg.MinChunkRatio) / 2, c.cfg.MinChunkRatio} {
		cut := startIdx + int(float64(n)*ratio)
		if cut <= startIdx {
			continue
		}
		remaining := messages[cut:]
		remainingTokens := EstimateTokensTotal(remaining, c.cfg.CharsPerToken)
		headroom := float64(c.cfg.ContextWindowTokens) * c.cfg.SafetyMargin
		if float64(remainingTokens) <= float64(c.cfg.ContextWindowTokens)-headroom {
			return cut
		}
	}
	return startIdx + int(float64(n)*c.cfg.MinChunkRatio)
}

// dropOrphanToolResults removes any leading tool message whose matching
// assistant tool_call is not present in the slice — summarization can cut
// in the middle of a call/result pair.
func dropOrphanToolResults(messages []LLMMessage) []LLMMessage {
	knownCallIDs := make(map[string]bool)
	for _, m := range messages {
		for _, tc := range m.ToolCalls {
			knownCallIDs[tc.ID] = true
		}
	}
	out := make([]LLMMessage, 0, len(messages))
	for _, m := range messages {
		if m.Role == "tool" && m.ToolCallID != "" && !knownCallIDs[m.ToolCallID] {
			continue
		}
		out = append(out, m)
	}
	return out
}

func truncationSummaryStatic(messages []LLMMessage) string {
	var b strings.Builder
	b.WriteString("context compacted: ")
	userN, asstN, toolN := 0, 0, 0
	for _, m := range messages {
		switch m.Role {
		case "user":
			userN++
		case "assistant":
			asstN++
			toolN += len(m.ToolCalls)
		}
	}
	b.WriteString(itoa(userN) + " user, " + itoa(asstN) + " assistant, " + itoa(toolN) + " tool calls summarized")
	return b.String()
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// Compact runs all three layers in order and returns the final message
// slice to send to the model (§4.4).
func (c *ContextCompactor) Compact(ctx context.Context, messages []LLMMessage) []LLMMessage {
	out := c.TruncateOversizedToolResults(messages)
	out = c.SelectivelyPrune(out)
	if c.ShouldProactivelyCompact(out) {
		out = c.Summarize(ctx, out)
	}
	return out
}
