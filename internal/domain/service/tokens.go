package service

import "encoding/json"

// EstimateTokens implements C1: a cheap character/token count for a single
// message, including a serialized form of any tool_calls payload so that
// tool-heavy messages are budgeted correctly (§4.1). The default ratio is
// 4 characters per token, tunable via charsPerToken.
func EstimateTokens(msg LLMMessage, charsPerToken int) int {
	if charsPerToken <= 0 {
		charsPerToken = 4
	}
	chars := len(msg.TextContent())
	if len(msg.ToolCalls) > 0 {
		if raw, err := json.Marshal(msg.ToolCalls); err == nil {
			chars += len(raw)
		}
	}
	return ceilDiv(chars, charsPerToken)
}

// EstimateTokensTotal sums EstimateTokens over a list of messages; each
// message's estimate is already rounded up, and the sum itself is not
// rounded further (§4.1: "Total for a list is the sum").
func EstimateTokensTotal(msgs []LLMMessage, charsPerToken int) int {
	total := 0
	for _, m := range msgs {
		total += EstimateTokens(m, charsPerToken)
	}
	return total
}

func ceilDiv(a, b int) int {
	if b <= 0 {
		return a
	}
	return (a + b - 1) / b
}
