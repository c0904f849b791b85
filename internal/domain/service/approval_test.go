package service

import "testing"

type fakeApprovalSchemas struct {
	dangerous map[string]bool
}

func (f fakeApprovalSchemas) RequiresApproval(name string, autoApproved map[string]bool) bool {
	if autoApproved[name] {
		return false
	}
	return f.dangerous[name]
}

func TestApprovalGate_Needed(t *testing.T) {
	gate := NewApprovalGate(fakeApprovalSchemas{dangerous: map[string]bool{"delete_file": true}})

	if gate.Needed(ToolCallRequest{Name: "read_file"}, nil) {
		t.Fatal("a non-dangerous tool should not require approval")
	}
	if !gate.Needed(ToolCallRequest{Name: "delete_file"}, nil) {
		t.Fatal("a dangerous tool should require approval")
	}
	if gate.Needed(ToolCallRequest{Name: "delete_file"}, map[string]bool{"delete_file": true}) {
		t.Fatal("an auto-approved tool should no longer require approval")
	}
}

func TestApprovalGate_Park_SingleCall(t *testing.T) {
	gate := NewApprovalGate(fakeApprovalSchemas{dangerous: map[string]bool{"delete_file": true}})
	gated := []ToolCallRequest{{ID: "tc1", Name: "delete_file"}}

	pending, synthetic := gate.Park(gated, nil, []LLMMessage{{Role: "user", Content: "go"}}, Usage{TotalTokens: 10}, nil)

	if synthetic.Name != "ask_question" {
		t.Fatalf("expected synthetic ask_question call, got %s", synthetic.Name)
	}
	choices, ok := synthetic.Arguments["choices"].([]string)
	if !ok || len(choices) != 3 {
		t.Fatalf("expected three choices, got %v", synthetic.Arguments["choices"])
	}
	if pending.ApprovalCallID != synthetic.ID {
		t.Fatal("pending record should reference the synthetic call id")
	}
	if pending.SavedUsage.TotalTokens != 10 {
		t.Fatal("pending record should preserve saved usage for later re-attribution")
	}
}

func TestApprovalGate_Park_MultipleCallsQuestion(t *testing.T) {
	gate := NewApprovalGate(fakeApprovalSchemas{})
	gated := []ToolCallRequest{{Name: "delete_file"}, {Name: "run_shell"}}

	_, synthetic := gate.Park(gated, nil, nil, Usage{}, nil)
	question, _ := synthetic.Arguments["question"].(string)
	if question != "Allow tool calls: delete_file, run_shell?" {
		t.Fatalf("unexpected multi-call question: %q", question)
	}
}

func TestParseDecision_ChosenPrefix(t *testing.T) {
	cases := map[string]ApprovalDecision{
		"User chose: Allow Once":   DecisionAllowOnce,
		"User chose: Always Allow": DecisionAlwaysAllow,
		"User chose: Deny":         DecisionDeny,
	}
	for content, want := range cases {
		if got := ParseDecision(content); got != want {
			t.Fatalf("ParseDecision(%q) = %s, want %s", content, got, want)
		}
	}
}

func TestParseDecision_FreeformDefaultsToDeny(t *testing.T) {
	if got := ParseDecision("User input: sure, go ahead"); got != DecisionDeny {
		t.Fatalf("expected unreviewed freeform answers to deny by default, got %s", got)
	}
}

func TestApprovalGate_Resume_AlwaysAllowGrantsBlanketApproval(t *testing.T) {
	gate := NewApprovalGate(fakeApprovalSchemas{})
	sess := NewSession("s1", "user1")
	sess.PendingApproval = &PendingApproval{
		ApprovalCallID: "approval_1",
		ToolCalls:      []ToolCallRequest{{Name: "delete_file"}},
	}

	execute := gate.Resume(sess, DecisionAlwaysAllow)
	if !execute {
		t.Fatal("AlwaysAllow should execute the gated calls")
	}
	if !sess.IsApproved("delete_file") {
		t.Fatal("AlwaysAllow should add the tool to the session's auto-approved set")
	}
	if sess.PendingApproval != nil {
		t.Fatal("Resume should clear the pending approval")
	}
}

func TestApprovalGate_Resume_DenyDoesNotExecute(t *testing.T) {
	gate := NewApprovalGate(fakeApprovalSchemas{})
	sess := NewSession("s1", "user1")
	sess.PendingApproval = &PendingApproval{ToolCalls: []ToolCallRequest{{Name: "delete_file"}}}

	if gate.Resume(sess, DecisionDeny) {
		t.Fatal("Deny should not execute the gated calls")
	}
	if sess.IsApproved("delete_file") {
		t.Fatal("Deny should not grant blanket approval")
	}
}

func TestApprovalGate_Resume_NoPendingApproval(t *testing.T) {
	gate := NewApprovalGate(fakeApprovalSchemas{})
	sess := NewSession("s1", "user1")

	if gate.Resume(sess, DecisionAllowOnce) {
		t.Fatal("Resume without a pending approval should report no execution")
	}
}
