package service

import (
	"context"

	"github.com/agentrt/gateway/internal/domain/entity"
	domaintool "github.com/agentrt/gateway/internal/domain/tool"
	apperrors "github.com/agentrt/gateway/pkg/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ResponseStatus is the terminal status of one /v1/responses turn (§6).
type ResponseStatus string

const (
	StatusCompleted ResponseStatus = "completed"
	StatusIncomplete ResponseStatus = "incomplete"
	StatusFailed     ResponseStatus = "failed"
)

// ResponseInputItem is one item of a Responses-API style request payload:
// either a plain message or the output of a previously-issued client-side
// tool call being echoed back (§4.8's function_call_output discrimination).
type ResponseInputItem struct {
	Type    string // "message" | "function_call_output"
	Role    string // set when Type == "message"
	Content string // message text, or the tool output when Type == "function_call_output"
	CallID  string // set when Type == "function_call_output"
}

// ResponsesRequest is the runner's input for one turn.
type ResponsesRequest struct {
	SessionID    string
	UserRef      string
	Instructions string
	Input        []ResponseInputItem
	Model        string
	ToolNames    []string // names the caller wants available this turn
}

// ResponseOutputItem is one item of the turn's output array (§6): either an
// assistant message or a function_call awaiting client-side execution
// (including the synthetic ask_question approval prompt).
type ResponseOutputItem struct {
	Type      string // "message" | "function_call"
	Role      string
	Content   string
	CallID    string
	Name      string
	Arguments map[string]interface{}
}

// ResponsesResult is the runner's output for one turn.
type ResponsesResult struct {
	ResponseID string
	SessionID  string
	Status     ResponseStatus
	Output     []ResponseOutputItem
	Usage      Usage
}

// ResponsesRunner implements C8: the bounded agentic turn — echo recovery,
// approval-gate integration, client/server tool classification, chained
// follow-ups, and a hard MAX_AGENT_ITERATIONS ceiling — on top of C2
// (SchemaRegistry), C3 (ChainRegistry), C5 (SessionStore), C6
// (ApprovalGate), and C7 (Invoker) (§4.8).
type ResponsesRunner struct {
	sessions  *SessionStore
	approvals *ApprovalGate
	chains    *ChainRegistry
	schemas   *domaintool.SchemaRegistry
	invoker   *Invoker
	tools     ToolExecutor

	maxIterations int
	logger        *zap.Logger
}

// NewResponsesRunner wires the C8 turn runner from its component
// dependencies.
func NewResponsesRunner(
	sessions *SessionStore,
	approvals *ApprovalGate,
	chains *ChainRegistry,
	schemas *domaintool.SchemaRegistry,
	invoker *Invoker,
	tools ToolExecutor,
	maxIterations int,
	logger *zap.Logger,
) *ResponsesRunner {
	if maxIterations <= 0 {
		maxIterations = 50 // MAX_AGENT_ITERATIONS default, §6
	}
	return &ResponsesRunner{
		sessions:      sessions,
		approvals:     approvals,
		chains:        chains,
		schemas:       schemas,
		invoker:       invoker,
		tools:         tools,
		maxIterations: maxIterations,
		logger:        logger,
	}
}

// Run executes one turn to completion (or to MAX_AGENT_ITERATIONS, or until
// it parks behind an approval gate) and returns the output item array plus
// terminal status (§4.8).
func (r *ResponsesRunner) Run(ctx context.Context, req ResponsesRequest) (*ResponsesResult, error) {
	if req.SessionID == "" {
		req.SessionID = "sess_" + uuid.NewString()
	}
	sess := r.sessions.GetOrCreate(req.SessionID, req.UserRef)

	result := &ResponsesResult{ResponseID: "resp_" + uuid.NewString(), SessionID: req.SessionID}

	// Approval early-out: a parked turn resumes before anything else runs
	// (§4.8 "approval early-out, handled before history normalization").
	if sess.PendingApproval != nil {
		decisionItem, ok := findApprovalAnswer(req.Input, sess.PendingApproval.ApprovalCallID)
		if !ok {
			return nil, apperrors.NewInvalidInputError("session has a pending approval; input must answer it")
		}
		return r.resumeParked(ctx, sess, decisionItem, result)
	}

	userMsgs := inputItemsToMessages(req.Input)
	toolNames := r.resolveToolNames(req.ToolNames)
	toolDefs := r.schemas.Resolve(toolNames)

	messages := buildTurnMessages(sess, req.Instructions, userMsgs)

	return r.loop(ctx, sess, messages, userMsgs, toolDefs, toolNames, req.Model, result)
}

// loop runs the bounded tool-call iteration: invoke the model, and for as
// long as it asks for tool calls (and we're under maxIterations), dispatch
// server-side calls, classify/park approval-gated ones, record client-side
// calls as pending output, and fold chain-registry follow-ups into the next
// round (§4.8).
func (r *ResponsesRunner) loop(ctx context.Context, sess *Session, messages []LLMMessage, userMsgs []LLMMessage, toolDefs []domaintool.Definition, toolNames []string, model string, result *ResponsesResult) (*ResponsesResult, error) {
	executed := make([]ExecutedCall, 0)

	for iter := 0; iter < r.maxIterations; iter++ {
		resp, snapshot, err := r.invoker.Invoke(ctx, messages, toolDefs, model, len(toolDefs) > 0)
		if err != nil {
			result.Status = StatusFailed
			return result, err
		}
		messages = snapshot

		assistantMsg := LLMMessage{Role: "assistant", Content: resp.Content, ToolCalls: resp.ToolCalls}
		if resp.TokensUsed > 0 {
			assistantMsg.Usage = &Usage{TotalTokens: resp.TokensUsed}
		}

		if len(resp.ToolCalls) == 0 {
			r.sessions.AppendAssistant(sess.ID, userMsgs, assistantMsg)
			result.Status = StatusCompleted
			result.Output = append(result.Output, ResponseOutputItem{Type: "message", Role: "assistant", Content: resp.Content})
			return result, nil
		}

		gated, serverSide, clientSide := r.classify(sess, resp.ToolCalls)

		if len(gated) > 0 {
			remaining := toolCallRequests(serverSide)
			pending, synthetic := r.approvals.Park(toolCallRequests(gated), remaining, messages, Usage{TotalTokens: resp.TokensUsed}, nil)
			sess.PendingApproval = pending
			r.sessions.AppendToolInteraction(sess.ID, userMsgs, assistantMsg, nil)
			result.Status = StatusIncomplete
			result.Output = append(result.Output, ResponseOutputItem{
				Type: "function_call", CallID: synthetic.ID, Name: synthetic.Name, Arguments: synthetic.Arguments,
			})
			return result, nil
		}

		toolResults := r.dispatchServerSide(ctx, serverSide)
		for i, call := range serverSide {
			executed = append(executed, ExecutedCall{Name: call.Name, Content: toolResults[i].Content})
		}

		r.sessions.AppendToolInteraction(sess.ID, userMsgs, assistantMsg, resultsToMessages(toolResults))
		userMsgs = nil // only the first round of a turn carries the user's own input
		messages = append(messages, assistantMsg)
		messages = append(messages, resultsToMessages(toolResults)...)

		for _, call := range clientSide {
			result.Output = append(result.Output, ResponseOutputItem{
				Type: "function_call", CallID: call.ID, Name: call.Name, Arguments: call.Arguments,
			})
		}
		if len(clientSide) > 0 {
			result.Status = StatusIncomplete
			return result, nil
		}

		if follow := r.chains.Build(executed, sess.ID); len(follow) > 0 {
			for _, f := range follow {
				messages = append(messages, LLMMessage{Role: "user", Content: "[chained] invoke " + f.Name})
			}
		}
	}

	result.Status = StatusIncomplete
	return result, nil
}

// resumeParked applies the user's approval decision: on allow it executes
// the previously-gated calls, on deny it records a "denied by user" result
// for each. The remaining calls saved at park time are not executed here;
// each is appended as a "[chained] invoke <name>" user message before the
// normal iteration loop resumes (§4.6, §4.8).
func (r *ResponsesRunner) resumeParked(ctx context.Context, sess *Session, decisionItem ResponseInputItem, result *ResponsesResult) (*ResponsesResult, error) {
	pending := sess.PendingApproval
	decision := ParseDecision(decisionItem.Content)
	execute := r.approvals.Resume(sess, decision)

	messages := pending.SavedInputMessages
	var toolResults []ToolResult

	if execute {
		calls := make([]entity.ToolCallInfo, 0, len(pending.ToolCalls))
		for _, c := range pending.ToolCalls {
			calls = append(calls, entity.ToolCallInfo{ID: c.ID, Name: c.Name, Arguments: c.Arguments})
		}
		toolResults = r.dispatchServerSide(ctx, calls)
	} else {
		for _, c := range pending.ToolCalls {
			toolResults = append(toolResults, ToolResult{CallID: c.ID, Name: c.Name, Content: "denied by user", Success: false})
		}
	}

	r.sessions.AppendToolInteraction(sess.ID, nil, LLMMessage{Role: "assistant"}, resultsToMessages(toolResults))
	messages = append(messages, resultsToMessages(toolResults)...)

	for _, f := range pending.RemainingChained {
		messages = append(messages, LLMMessage{Role: "user", Content: "[chained] invoke " + f.Name})
	}

	toolDefs := r.schemas.Resolve(r.resolveToolNames(nil))
	return r.loop(ctx, sess, messages, nil, toolDefs, nil, "", result)
}

func (r *ResponsesRunner) resolveToolNames(requested []string) []string {
	if len(requested) > 0 {
		return requested
	}
	names := make([]string, 0)
	for _, d := range r.tools.GetDefinitions() {
		names = append(names, d.Name)
	}
	return names
}

// classify splits a model's tool calls into gated (need approval and not
// yet auto-approved), server-side, and client-side (§4.2, §4.6).
func (r *ResponsesRunner) classify(sess *Session, calls []entity.ToolCallInfo) (gated, serverSide, clientSide []entity.ToolCallInfo) {
	for _, c := range calls {
		if r.schemas.RequiresApproval(c.Name, sess.AutoApproved) {
			gated = append(gated, c)
			continue
		}
		if r.schemas.IsClientSide(c.Name) {
			clientSide = append(clientSide, c)
		} else {
			serverSide = append(serverSide, c)
		}
	}
	return gated, serverSide, clientSide
}

// ToolResult is one tool's outcome, keyed by its call id.
type ToolResult struct {
	CallID  string
	Name    string
	Content string
	Success bool
}

// dispatchServerSide executes server-side tool calls; per-call failures
// are isolated so one bad call doesn't fail the whole round (§4.8,
// tool_execution_failure in §7).
func (r *ResponsesRunner) dispatchServerSide(ctx context.Context, calls []entity.ToolCallInfo) []ToolResult {
	out := make([]ToolResult, len(calls))
	for i, c := range calls {
		if !r.schemas.Has(c.Name) {
			out[i] = ToolResult{CallID: c.ID, Name: c.Name, Content: apperrors.NewToolNotImplementedError("unknown tool: " + c.Name).Error(), Success: false}
			continue
		}
		res, err := r.tools.Execute(ctx, c.Name, c.Arguments)
		if err != nil {
			r.logger.Warn("tool execution failed", zap.String("tool", c.Name), zap.Error(err))
			out[i] = ToolResult{CallID: c.ID, Name: c.Name, Content: apperrors.NewToolExecutionError(err.Error(), err).Error(), Success: false}
			continue
		}
		out[i] = ToolResult{CallID: c.ID, Name: c.Name, Content: res.Output, Success: res.Success}
	}
	return out
}

func resultsToMessages(results []ToolResult) []LLMMessage {
	out := make([]LLMMessage, len(results))
	for i, res := range results {
		out[i] = LLMMessage{Role: "tool", Content: res.Content, ToolCallID: res.CallID, Name: res.Name}
	}
	return out
}

func findApprovalAnswer(items []ResponseInputItem, callID string) (ResponseInputItem, bool) {
	for _, it := range items {
		if it.Type == "function_call_output" && it.CallID == callID {
			return it, true
		}
	}
	return ResponseInputItem{}, false
}

func inputItemsToMessages(items []ResponseInputItem) []LLMMessage {
	out := make([]LLMMessage, 0, len(items))
	for _, it := range items {
		if it.Type == "function_call_output" {
			out = append(out, LLMMessage{Role: "tool", Content: it.Content, ToolCallID: it.CallID})
			continue
		}
		role := it.Role
		if role == "" {
			role = "user"
		}
		out = append(out, LLMMessage{Role: role, Content: it.Content})
	}
	return out
}

func buildTurnMessages(sess *Session, instructions string, userMsgs []LLMMessage) []LLMMessage {
	out := make([]LLMMessage, 0, len(sess.History)+len(userMsgs)+1)
	if instructions != "" {
		out = append(out, LLMMessage{Role: "system", Content: instructions})
	}
	out = append(out, sess.History...)
	out = append(out, userMsgs...)
	return out
}

func toolCallRequests(calls []entity.ToolCallInfo) []ToolCallRequest {
	out := make([]ToolCallRequest, len(calls))
	for i, c := range calls {
		out[i] = ToolCallRequest{ID: c.ID, Name: c.Name, Arguments: c.Arguments}
	}
	return out
}

