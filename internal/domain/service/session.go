package service

import (
	"time"
)

// Usage mirrors the token accounting a provider reports for one call.
type Usage struct {
	InputTokens     int `json:"input_tokens"`
	OutputTokens    int `json:"output_tokens"`
	TotalTokens     int `json:"total_tokens"`
	CachedTokens    int `json:"cached_tokens,omitempty"`
	ReasoningTokens int `json:"reasoning_tokens,omitempty"`
}

// Add accumulates another usage's counters into u.
func (u *Usage) Add(o Usage) {
	u.InputTokens += o.InputTokens
	u.OutputTokens += o.OutputTokens
	u.TotalTokens += o.TotalTokens
	u.CachedTokens += o.CachedTokens
	u.ReasoningTokens += o.ReasoningTokens
}

// Session is the ordered history of one conversation thread together with
// the bookkeeping the runner needs. The per-session mutex is never part of
// this value — it lives in a separate lock map owned by the session store —
// so a Session can be copied, serialized, and reconstructed freely without
// dragging a synchronization primitive along (§9 design note on cyclic
// references).
type Session struct {
	ID      string
	UserRef string
	CWD     string
	Title   string
	History []LLMMessage

	// AutoApproved holds tool names granted blanket approval via an
	// "Always Allow" answer (§4.6).
	AutoApproved map[string]bool

	// PendingApproval is non-nil while a batch of tool calls is parked
	// awaiting the user's decision. Singleton per session by construction.
	PendingApproval *PendingApproval

	// ChainCursors tracks in-progress tool chains for this session, keyed
	// by the chain rule's source tool name.
	ChainCursors map[string]int

	InputTokens  int64
	OutputTokens int64
	TotalTokens  int64
	TotalCost    float64

	LastAccess time.Time
	CreatedAt  time.Time
}

// NewSession creates an empty session ready to receive its first turn.
func NewSession(id, userRef string) *Session {
	now := time.Now()
	return &Session{
		ID:           id,
		UserRef:      userRef,
		AutoApproved: make(map[string]bool),
		ChainCursors: make(map[string]int),
		LastAccess:   now,
		CreatedAt:    now,
	}
}

// Touch refreshes the LRU/TTL clock.
func (s *Session) Touch() {
	s.LastAccess = time.Now()
}

// IsApproved reports whether name has been granted blanket approval.
func (s *Session) IsApproved(name string) bool {
	return s.AutoApproved[name]
}

// Approve adds name to the session's auto-approved set.
func (s *Session) Approve(name string) {
	if s.AutoApproved == nil {
		s.AutoApproved = make(map[string]bool)
	}
	s.AutoApproved[name] = true
}

// PendingApproval is the per-session, singleton park state created when the
// agent loop gates a batch of server-side tool calls behind user approval
// (§4.6). It carries everything needed to resume the turn exactly where it
// left off once the user answers the synthetic ask_question call.
type PendingApproval struct {
	ApprovalCallID     string
	ToolCalls          []ToolCallRequest
	SavedInputMessages []LLMMessage
	SavedUsage         Usage
	SavedProviderRaw   []byte
	RemainingChained   []ToolCallRequest
}

// ToolCallRequest is a tool call awaiting dispatch — the runner's internal
// currency for anything not yet turned into a history message.
type ToolCallRequest struct {
	ID        string
	Name      string
	Arguments map[string]interface{}
}
