package service

import (
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// SessionStoreConfig bounds the store's LRU/TTL eviction (§4.5, §6).
type SessionStoreConfig struct {
	TTL        time.Duration // SESSION_TTL_SECONDS
	MaxSession int           // MAX_SESSIONS
}

// SessionStore implements C5: an ordered sequence per session with
// canonical message form, replace-tool-result, approval pending state, and
// per-session lock with LRU/TTL eviction.
//
// One mutex per session guards that session's mutation operations; a
// second, coarser mutex guards the top-level maps (creation/eviction) so
// the hot path of "get the lock for session X" never blocks on another
// session's history mutation.
type SessionStore struct {
	cfg SessionStoreConfig

	mapMu    sync.Mutex
	sessions map[string]*Session
	locks    map[string]*sync.Mutex

	logger *zap.Logger
}

// NewSessionStore creates an empty store.
func NewSessionStore(cfg SessionStoreConfig, logger *zap.Logger) *SessionStore {
	if cfg.TTL <= 0 {
		cfg.TTL = 30 * time.Minute
	}
	if cfg.MaxSession <= 0 {
		cfg.MaxSession = 1000
	}
	return &SessionStore{
		cfg:      cfg,
		sessions: make(map[string]*Session),
		locks:    make(map[string]*sync.Mutex),
		logger:   logger,
	}
}

// lockFor returns (creating if necessary) the mutex for sid. The lock map
// entry itself is never evicted while a caller might be holding it — see
// Evict, which skips any session whose lock is currently held.
func (s *SessionStore) lockFor(sid string) *sync.Mutex {
	s.mapMu.Lock()
	defer s.mapMu.Unlock()
	l, ok := s.locks[sid]
	if !ok {
		l = &sync.Mutex{}
		s.locks[sid] = l
	}
	return l
}

// GetOrCreate returns the session for sid, creating it (with userRef) if
// absent.
func (s *SessionStore) GetOrCreate(sid, userRef string) *Session {
	lock := s.lockFor(sid)
	lock.Lock()
	defer lock.Unlock()

	s.mapMu.Lock()
	sess, ok := s.sessions[sid]
	if !ok {
		sess = NewSession(sid, userRef)
		s.sessions[sid] = sess
	}
	s.mapMu.Unlock()

	sess.Touch()
	return sess
}

// Get returns the session for sid without creating it.
func (s *SessionStore) Get(sid string) (*Session, bool) {
	s.mapMu.Lock()
	defer s.mapMu.Unlock()
	sess, ok := s.sessions[sid]
	return sess, ok
}

// History returns the session's message history (by reference — callers
// within the lock may read it freely; mutation must go through the
// dedicated append/replace methods).
func (s *SessionStore) History(sid string) []LLMMessage {
	sess, ok := s.Get(sid)
	if !ok {
		return nil
	}
	return sess.History
}

var browserSnapshotTools = map[string]bool{
	"browser_navigate":   true,
	"browser_screenshot": true,
	"browser_click":      true,
	"browser_type":       true,
}

func isBrowserSnapshot(content string) bool {
	return strings.Contains(content, "Page:") && strings.Contains(content, "[Interactive Elements]")
}

// AppendAssistant records a fresh assistant turn: the incoming user
// messages followed by the assistant's response. provider_raw of the new
// assistant message is preserved verbatim; prior assistant messages are
// left in whatever canonical form they already have (§4.5).
func (s *SessionStore) AppendAssistant(sid string, userMsgs []LLMMessage, response LLMMessage) {
	lock := s.lockFor(sid)
	lock.Lock()
	defer lock.Unlock()

	sess, ok := s.Get(sid)
	if !ok {
		return
	}
	sess.History = append(sess.History, userMsgs...)
	sess.History = append(sess.History, response)
	sess.Touch()
}

// AppendToolInteraction records user -> assistant(tool_calls) -> tool
// results, preserving the assistant's provider_raw. Stale browser-page
// snapshots (identified by a "Page:"/"[Interactive Elements]" shape in a
// browser-tool result) older than the newest one are replaced with a
// one-line URL summary; only the most recent snapshot is kept in full
// (§4.5). This runs unconditionally on every append, per the spec's
// conservative default (§9 open questions).
func (s *SessionStore) AppendToolInteraction(sid string, userMsgs []LLMMessage, assistant LLMMessage, toolResults []LLMMessage) {
	lock := s.lockFor(sid)
	lock.Lock()
	defer lock.Unlock()

	sess, ok := s.Get(sid)
	if !ok {
		return
	}

	sess.History = append(sess.History, userMsgs...)
	sess.History = append(sess.History, assistant)
	sess.History = append(sess.History, toolResults...)

	s.pruneBrowserSnapshotsLocked(sess)
	sess.Touch()
}

// pruneBrowserSnapshotsLocked keeps only the newest browser-page snapshot
// in full, replacing older ones with a one-line URL summary. Caller must
// hold the session's lock.
func (s *SessionStore) pruneBrowserSnapshotsLocked(sess *Session) {
	lastSnapshot := -1
	for i, m := range sess.History {
		if m.Role == "tool" && browserSnapshotTools[m.Name] && isBrowserSnapshot(m.Content) {
			lastSnapshot = i
		}
	}
	if lastSnapshot < 0 {
		return
	}
	for i, m := range sess.History {
		if i == lastSnapshot {
			continue
		}
		if m.Role == "tool" && browserSnapshotTools[m.Name] && isBrowserSnapshot(m.Content) {
			sess.History[i].Content = summarizeBrowserSnapshot(m.Content)
		}
	}
}

func summarizeBrowserSnapshot(content string) string {
	if idx := strings.Index(content, "Page:"); idx >= 0 {
		line := content[idx:]
		if nl := strings.IndexByte(line, '\n'); nl >= 0 {
			line = line[:nl]
		}
		return "[stale snapshot] " + line
	}
	return "[stale browser snapshot]"
}

// ReplaceToolResult performs an in-place substitution of a placeholder tool
// result (originally stored with empty content) once it is finalized by a
// downstream client. Changes exactly one message and never reorders (I5).
func (s *SessionStore) ReplaceToolResult(sid, toolCallID, output, toolName string) bool {
	lock := s.lockFor(sid)
	lock.Lock()
	defer lock.Unlock()

	sess, ok := s.Get(sid)
	if !ok {
		return false
	}
	for i, m := range sess.History {
		if m.Role == "tool" && m.ToolCallID == toolCallID {
			sess.History[i].Content = output
			if toolName != "" {
				sess.History[i].Name = toolName
			}
			sess.Touch()
			return true
		}
	}
	return false
}

// Evict deletes sessions idle beyond TTL (skipping any whose lock is
// currently held) and, if the count still exceeds the cap, LRU-evicts the
// oldest non-locked sessions (I6: a locked session is never evicted).
func (s *SessionStore) Evict() {
	s.mapMu.Lock()
	defer s.mapMu.Unlock()

	now := time.Now()
	for sid, sess := range s.sessions {
		if sess.PendingApproval != nil {
			continue // a parked turn must not be evicted mid-flight
		}
		lock := s.locks[sid]
		if lock != nil && !lock.TryLock() {
			continue // lock held — skip, never evict
		}
		idle := now.Sub(sess.LastAccess)
		expired := idle > s.cfg.TTL
		if lock != nil {
			lock.Unlock()
		}
		if expired {
			delete(s.sessions, sid)
			delete(s.locks, sid)
		}
	}

	if len(s.sessions) <= s.cfg.MaxSession {
		return
	}

	type entry struct {
		sid  string
		last time.Time
	}
	ordered := make([]entry, 0, len(s.sessions))
	for sid, sess := range s.sessions {
		if sess.PendingApproval != nil {
			continue
		}
		if lock := s.locks[sid]; lock != nil {
			if !lock.TryLock() {
				continue
			}
			lock.Unlock()
		}
		ordered = append(ordered, entry{sid, sess.LastAccess})
	}
	for len(s.sessions) > s.cfg.MaxSession && len(ordered) > 0 {
		oldestIdx := 0
		for i, e := range ordered {
			if e.last.Before(ordered[oldestIdx].last) {
				oldestIdx = i
			}
		}
		delete(s.sessions, ordered[oldestIdx].sid)
		delete(s.locks, ordered[oldestIdx].sid)
		ordered = append(ordered[:oldestIdx], ordered[oldestIdx+1:]...)
	}
}
