package service

import (
	"context"
	"testing"

	"github.com/agentrt/gateway/internal/domain/entity"
	domaintool "github.com/agentrt/gateway/internal/domain/tool"
	"go.uber.org/zap"
)

// fakeRunnerLLM answers with a scripted sequence of responses, one per call,
// so a test can drive the turn loop through several iterations deterministically.
type fakeRunnerLLM struct {
	responses []*LLMResponse
	calls     int
}

func (f *fakeRunnerLLM) Generate(ctx context.Context, req *LLMRequest) (*LLMResponse, error) {
	if f.calls >= len(f.responses) {
		return &LLMResponse{Content: "done"}, nil
	}
	resp := f.responses[f.calls]
	f.calls++
	return resp, nil
}

func (f *fakeRunnerLLM) GenerateStream(ctx context.Context, req *LLMRequest, ch chan<- StreamChunk) (*LLMResponse, error) {
	close(ch)
	return f.Generate(ctx, req)
}

// fakeRunnerTools executes every server-side call with a canned success.
type fakeRunnerTools struct {
	defs []domaintool.Definition
}

func (f *fakeRunnerTools) Execute(ctx context.Context, name string, args map[string]interface{}) (*domaintool.Result, error) {
	return &domaintool.Result{Output: "ok:" + name, Success: true}, nil
}

func (f *fakeRunnerTools) GetDefinitions() []domaintool.Definition { return f.defs }
func (f *fakeRunnerTools) GetToolKind(name string) domaintool.Kind { return domaintool.KindRead }

func newTestRunner(t *testing.T, llm LLMClient, dangerous map[string]bool, maxIter int) (*ResponsesRunner, *SessionStore) {
	t.Helper()
	registry := domaintool.NewInMemoryRegistry()
	schemas := domaintool.NewSchemaRegistry(registry, 0)
	for name := range dangerous {
		schemas.SetRequiresApproval(name, true)
	}
	chains := NewChainRegistry()
	sessions := NewSessionStore(SessionStoreConfig{}, zap.NewNop())
	compactor := NewContextCompactor(DefaultCompactionConfig(), nil)
	invoker := NewInvoker(llm, compactor, DefaultInvokerConfig(), zap.NewNop())
	tools := &fakeRunnerTools{}
	runner := NewResponsesRunner(sessions, NewApprovalGate(schemas), chains, schemas, invoker, tools, maxIter, zap.NewNop())
	return runner, sessions
}

func TestResponsesRunner_CompletesWithoutToolCalls(t *testing.T) {
	llm := &fakeRunnerLLM{responses: []*LLMResponse{{Content: "hello there"}}}
	runner, _ := newTestRunner(t, llm, nil, 50)

	result, err := runner.Run(context.Background(), ResponsesRequest{
		SessionID: "s1",
		Input:     []ResponseInputItem{{Type: "message", Role: "user", Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != StatusCompleted {
		t.Fatalf("expected completed status, got %s", result.Status)
	}
	if len(result.Output) != 1 || result.Output[0].Content != "hello there" {
		t.Fatalf("expected a single message output item, got %+v", result.Output)
	}
}

func TestResponsesRunner_ServerSideToolCallLoopsThenCompletes(t *testing.T) {
	llm := &fakeRunnerLLM{responses: []*LLMResponse{
		{ToolCalls: []entity.ToolCallInfo{{ID: "call1", Name: "read_file", Arguments: map[string]interface{}{}}}},
		{Content: "final answer"},
	}}
	runner, _ := newTestRunner(t, llm, nil, 50)

	result, err := runner.Run(context.Background(), ResponsesRequest{
		SessionID: "s2",
		Input:     []ResponseInputItem{{Type: "message", Role: "user", Content: "read the file"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != StatusCompleted {
		t.Fatalf("expected completed status after the tool round, got %s", result.Status)
	}
	if llm.calls != 2 {
		t.Fatalf("expected the model to be invoked twice (tool call + follow-up), got %d", llm.calls)
	}
}

func TestResponsesRunner_ClientSideToolCallParksAsIncomplete(t *testing.T) {
	llm := &fakeRunnerLLM{responses: []*LLMResponse{
		{ToolCalls: []entity.ToolCallInfo{{ID: "call1", Name: "bash", Arguments: map[string]interface{}{"cmd": "ls"}}}},
	}}
	runner, _ := newTestRunner(t, llm, nil, 50)

	result, err := runner.Run(context.Background(), ResponsesRequest{
		SessionID: "s3",
		Input:     []ResponseInputItem{{Type: "message", Role: "user", Content: "list files"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != StatusIncomplete {
		t.Fatalf("expected incomplete status while awaiting the client tool, got %s", result.Status)
	}
	if len(result.Output) != 1 || result.Output[0].Type != "function_call" || result.Output[0].Name != "bash" {
		t.Fatalf("expected a pending function_call output item, got %+v", result.Output)
	}
}

func TestResponsesRunner_DangerousToolParksBehindApproval(t *testing.T) {
	llm := &fakeRunnerLLM{responses: []*LLMResponse{
		{ToolCalls: []entity.ToolCallInfo{{ID: "call1", Name: "delete_file", Arguments: map[string]interface{}{}}}},
	}}
	runner, sessions := newTestRunner(t, llm, map[string]bool{"delete_file": true}, 50)

	result, err := runner.Run(context.Background(), ResponsesRequest{
		SessionID: "s4",
		Input:     []ResponseInputItem{{Type: "message", Role: "user", Content: "delete it"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != StatusIncomplete {
		t.Fatalf("expected incomplete status while parked for approval, got %s", result.Status)
	}
	if len(result.Output) != 1 || result.Output[0].Name != "ask_question" {
		t.Fatalf("expected a synthetic ask_question output item, got %+v", result.Output)
	}

	sess, ok := sessions.Get("s4")
	if !ok || sess.PendingApproval == nil {
		t.Fatal("expected the session to carry a pending approval after parking")
	}
}

func TestResponsesRunner_ResumeParkedApprovalExecutesOnAllow(t *testing.T) {
	llm := &fakeRunnerLLM{responses: []*LLMResponse{
		{ToolCalls: []entity.ToolCallInfo{{ID: "call1", Name: "delete_file", Arguments: map[string]interface{}{}}}},
		{Content: "deleted"},
	}}
	runner, sessions := newTestRunner(t, llm, map[string]bool{"delete_file": true}, 50)

	first, err := runner.Run(context.Background(), ResponsesRequest{
		SessionID: "s5",
		Input:     []ResponseInputItem{{Type: "message", Role: "user", Content: "delete it"}},
	})
	if err != nil || first.Status != StatusIncomplete {
		t.Fatalf("expected the first turn to park for approval, got %+v err=%v", first, err)
	}
	callID := first.Output[0].CallID

	second, err := runner.Run(context.Background(), ResponsesRequest{
		SessionID: "s5",
		Input:     []ResponseInputItem{{Type: "function_call_output", CallID: callID, Content: "User chose: Allow Once"}},
	})
	if err != nil {
		t.Fatalf("unexpected error resuming: %v", err)
	}
	if second.Status != StatusCompleted {
		t.Fatalf("expected the resumed turn to complete, got %s", second.Status)
	}

	sess, _ := sessions.Get("s5")
	if sess.PendingApproval != nil {
		t.Fatal("resuming should clear the pending approval")
	}
	if sess.IsApproved("delete_file") {
		t.Fatal("AllowOnce should not grant blanket future approval")
	}
}

func TestResponsesRunner_ResumeParkedApprovalDeniedSkipsExecution(t *testing.T) {
	llm := &fakeRunnerLLM{responses: []*LLMResponse{
		{ToolCalls: []entity.ToolCallInfo{{ID: "call1", Name: "delete_file", Arguments: map[string]interface{}{}}}},
		{Content: "ok, not deleting"},
	}}
	runner, _ := newTestRunner(t, llm, map[string]bool{"delete_file": true}, 50)

	first, _ := runner.Run(context.Background(), ResponsesRequest{
		SessionID: "s6",
		Input:     []ResponseInputItem{{Type: "message", Role: "user", Content: "delete it"}},
	})
	callID := first.Output[0].CallID

	second, err := runner.Run(context.Background(), ResponsesRequest{
		SessionID: "s6",
		Input:     []ResponseInputItem{{Type: "function_call_output", CallID: callID, Content: "User chose: Deny"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second.Status != StatusCompleted {
		t.Fatalf("expected the turn to still complete after a deny, got %s", second.Status)
	}
}

func TestResponsesRunner_StopsAtMaxIterations(t *testing.T) {
	// Always returns a tool call, so the loop should exhaust maxIterations
	// rather than looping forever.
	responses := make([]*LLMResponse, 0, 5)
	for i := 0; i < 5; i++ {
		responses = append(responses, &LLMResponse{
			ToolCalls: []entity.ToolCallInfo{{ID: "call", Name: "read_file", Arguments: map[string]interface{}{}}},
		})
	}
	llm := &fakeRunnerLLM{responses: responses}
	runner, _ := newTestRunner(t, llm, nil, 3)

	result, err := runner.Run(context.Background(), ResponsesRequest{
		SessionID: "s7",
		Input:     []ResponseInputItem{{Type: "message", Role: "user", Content: "loop forever"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != StatusIncomplete {
		t.Fatalf("expected incomplete once MAX_AGENT_ITERATIONS is hit, got %s", result.Status)
	}
	if llm.calls != 3 {
		t.Fatalf("expected exactly maxIterations calls, got %d", llm.calls)
	}
}
