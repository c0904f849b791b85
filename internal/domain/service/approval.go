package service

import (
	"strings"

	"github.com/google/uuid"
)

// ApprovalDecision is the user's answer to a parked approval question.
type ApprovalDecision string

const (
	DecisionAllowOnce   ApprovalDecision = "allow_once"
	DecisionAlwaysAllow ApprovalDecision = "always_allow"
	DecisionDeny        ApprovalDecision = "deny"
)

const (
	choiceAllowOnce   = "Allow Once"
	choiceAlwaysAllow = "Always Allow"
	choiceDeny        = "Deny"
)

// userChosePrefix / userInputPrefix are the two shapes an echoed decision
// message can arrive in (§4.6): a literal choice selection, or free-form
// text the caller typed instead of picking one of the offered buttons.
const (
	userChosePrefix = "User chose: "
	userInputPrefix = "User input: "
)

// ApprovalGate implements C6: detecting tool calls that need confirmation,
// parking the turn behind a synthetic ask_question call, and resuming once
// the decision comes back (§4.6).
type ApprovalGate struct {
	schemas interface {
		RequiresApproval(name string, autoApproved map[string]bool) bool
	}
}

// NewApprovalGate wraps a tool classifier capable of reporting which tool
// names require approval.
func NewApprovalGate(schemas interface {
	RequiresApproval(name string, autoApproved map[string]bool) bool
}) *ApprovalGate {
	return &ApprovalGate{schemas: schemas}
}

// Needed reports whether call requires parking the turn for approval,
// given the session's current auto-approved set.
func (g *ApprovalGate) Needed(call ToolCallRequest, autoApproved map[string]bool) bool {
	return g.schemas.RequiresApproval(call.Name, autoApproved)
}

// Park builds the PendingApproval record and the synthetic ask_question
// tool call the caller-facing turn is suspended behind. savedUsage and
// savedProviderRaw let Resume re-attribute the original LLM call's
// accounting once the parked turn completes (§3 PendingApproval).
func (g *ApprovalGate) Park(gated []ToolCallRequest, remainingChained []ToolCallRequest, savedInput []LLMMessage, savedUsage Usage, savedProviderRaw []byte) (*PendingApproval, ToolCallRequest) {
	callID := "approval_" + uuid.NewString()
	question := questionFor(gated)

	synthetic := ToolCallRequest{
		ID:   callID,
		Name: "ask_question",
		Arguments: map[string]interface{}{
			"question": question,
			"choices":  []string{choiceAllowOnce, choiceAlwaysAllow, choiceDeny},
		},
	}

	pending := &PendingApproval{
		ApprovalCallID:     callID,
		ToolCalls:          gated,
		SavedInputMessages: savedInput,
		SavedUsage:         savedUsage,
		SavedProviderRaw:   savedProviderRaw,
		RemainingChained:   remainingChained,
	}
	return pending, synthetic
}

func questionFor(gated []ToolCallRequest) string {
	if len(gated) == 1 {
		return "Allow tool call \"" + gated[0].Name + "\"?"
	}
	names := make([]string, 0, len(gated))
	for _, c := range gated {
		names = append(names, c.Name)
	}
	return "Allow tool calls: " + strings.Join(names, ", ") + "?"
}

// ParseDecision extracts the decision from an echoed answer message
// content, stripping the "User chose: " / "User input: " prefix the
// client wraps the user's reply in (§4.6). A free-form answer that isn't
// one of the three offered choices is treated as a deny — parking exists
// precisely so unreviewed tool calls never execute by default.
func ParseDecision(content string) ApprovalDecision {
	text := content
	switch {
	case strings.HasPrefix(text, userChosePrefix):
		text = strings.TrimPrefix(text, userChosePrefix)
	case strings.HasPrefix(text, userInputPrefix):
		text = strings.TrimPrefix(text, userInputPrefix)
	}
	text = strings.TrimSpace(text)

	switch text {
	case choiceAllowOnce:
		return DecisionAllowOnce
	case choiceAlwaysAllow:
		return DecisionAlwaysAllow
	case choiceDeny:
		return DecisionDeny
	default:
		return DecisionDeny
	}
}

// Resume applies decision to a parked session: on AlwaysAllow every gated
// tool name is added to the session's auto-approved set so future calls
// skip the gate; on Deny none of the gated calls execute. The caller is
// responsible for actually dispatching the gated calls when the decision
// is not Deny, and for folding RemainingChained back into the next
// dispatch round via the chain registry (§4.6).
func (g *ApprovalGate) Resume(sess *Session, decision ApprovalDecision) (execute bool) {
	if sess.PendingApproval == nil {
		return false
	}
	if decision == DecisionAlwaysAllow {
		for _, c := range sess.PendingApproval.ToolCalls {
			sess.Approve(c.Name)
		}
	}
	execute = decision != DecisionDeny
	sess.PendingApproval = nil
	return execute
}
