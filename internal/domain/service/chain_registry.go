package service

import (
	"encoding/json"
	"strings"
	"sync"
)

// ChainStep is one link in a tool-chain rule: when the chain reaches this
// step, Target is invoked with arguments built from ArgMapping, where any
// value equal to the literal string "$value" is replaced by the JSON path
// extraction from the previous step's tool result.
type ChainStep struct {
	Target     string
	Extract    string // dot-notation JSON path, supports "[*]" wildcard
	ArgMapping map[string]string
}

// ChainRule is a declarative "source tool produced output -> queue these
// follow-up tool calls" rule, registered once per process and shared by
// every session (§4.3). Per-session progress through a rule's steps is
// tracked by the registry's cursor map, never on the rule itself.
type ChainRule struct {
	Source string
	Steps  []ChainStep
}

// ChainRegistry implements C3: declarative chain rules with per-session
// step cursors. It is process-wide and read-mostly; registration happens at
// startup and (for MCP-discovered metadata) on tool discovery.
type ChainRegistry struct {
	mu      sync.RWMutex
	rules   map[string]ChainRule // keyed by Source
	cursors map[string]int       // keyed by sessionID + "\x00" + Source
}

// NewChainRegistry creates an empty registry.
func NewChainRegistry() *ChainRegistry {
	return &ChainRegistry{
		rules:   make(map[string]ChainRule),
		cursors: make(map[string]int),
	}
}

// Register adds or replaces a chain rule.
func (r *ChainRegistry) Register(rule ChainRule) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rules[rule.Source] = rule
}

// Clear removes every registered rule and cursor.
func (r *ChainRegistry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rules = make(map[string]ChainRule)
	r.cursors = make(map[string]int)
}

// ClearSession drops every cursor belonging to sessionID, leaving rules
// intact.
func (r *ChainRegistry) ClearSession(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	prefix := sessionID + "\x00"
	for k := range r.cursors {
		if strings.HasPrefix(k, prefix) {
			delete(r.cursors, k)
		}
	}
}

func cursorKey(sessionID, source string) string {
	return sessionID + "\x00" + source
}

// ExecutedCall pairs a tool call that actually ran with the raw content of
// its result, the shape the chain registry needs to decide what follows.
type ExecutedCall struct {
	Name    string
	Content string
}

// Build produces zero or more follow-up tool calls by matching each
// executed call first against registered rules (as a first step) and then
// against in-progress chains whose next step's target equals the call's
// name (subsequent steps). Matches are evaluated in order; chain progress
// is advanced transactionally per session.
func (r *ChainRegistry) Build(executed []ExecutedCall, sessionID string) []ToolCallRequest {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []ToolCallRequest

	for _, call := range executed {
		// (a) first-step match: call.Name matches a registered rule's Source.
		if rule, ok := r.rules[call.Name]; ok && len(rule.Steps) > 0 {
			step := rule.Steps[0]
			if tc, ok := buildStepCall(step, call.Content); ok {
				out = append(out, tc)
				key := cursorKey(sessionID, rule.Source)
				if len(rule.Steps) > 1 {
					r.cursors[key] = 1
				} else {
					delete(r.cursors, key)
				}
			}
			continue
		}

		// (b) subsequent-step match: an in-progress chain whose next step's
		// target equals call.Name.
		for source, rule := range r.rules {
			key := cursorKey(sessionID, source)
			idx, inProgress := r.cursors[key]
			if !inProgress || idx >= len(rule.Steps) {
				continue
			}
			if rule.Steps[idx-1].Target != call.Name {
				continue
			}
			if idx >= len(rule.Steps) {
				delete(r.cursors, key)
				continue
			}
			step := rule.Steps[idx]
			if tc, ok := buildStepCall(step, call.Content); ok {
				out = append(out, tc)
			}
			if idx+1 >= len(rule.Steps) {
				delete(r.cursors, key)
			} else {
				r.cursors[key] = idx + 1
			}
		}
	}

	return out
}

func buildStepCall(step ChainStep, resultContent string) (ToolCallRequest, bool) {
	extracted := extractJSONPath(resultContent, step.Extract)
	args := make(map[string]interface{}, len(step.ArgMapping))
	for param, spec := range step.ArgMapping {
		if spec == "$value" {
			args[param] = extracted
		} else {
			args[param] = spec
		}
	}
	return ToolCallRequest{Name: step.Target, Arguments: args}, true
}

// extractJSONPath walks a dot-notation path (supporting a trailing "[*]"
// wildcard on any segment) over JSON content and returns the matched value.
// Unparseable content or a missing path yields the raw content unchanged —
// chains degrade gracefully rather than dropping the follow-up call.
func extractJSONPath(content, path string) interface{} {
	if path == "" {
		return content
	}
	var doc interface{}
	if err := json.Unmarshal([]byte(content), &doc); err != nil {
		return content
	}

	segments := strings.Split(path, ".")
	cur := doc
	for _, seg := range segments {
		wildcard := strings.HasSuffix(seg, "[*]")
		name := strings.TrimSuffix(seg, "[*]")

		if name != "" {
			m, ok := cur.(map[string]interface{})
			if !ok {
				return content
			}
			cur, ok = m[name]
			if !ok {
				return content
			}
		}

		if wildcard {
			arr, ok := cur.([]interface{})
			if !ok {
				return content
			}
			out := make([]interface{}, len(arr))
			copy(out, arr)
			cur = out
		}
	}
	return cur
}
