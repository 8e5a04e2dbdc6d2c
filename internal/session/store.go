// Package session implements the Context Store: in-process session
// lifecycle, a bounded sliding window of conversation turns, and a
// per-session tool-result cache. Storage is non-durable — a restart
// drops all sessions — matching the teacher's in-memory chat store
// pattern in persistence/databases/chat_store_memory.go.
package session

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ConversationTurn is one immutable request/response pair appended to a
// session after the Runtime finishes processing it.
type ConversationTurn struct {
	TurnID           string
	UserInput        string
	AssistantResponse string
	Intent           string
	Confidence       float64
	ToolsUsed        []string
	Success          bool
	Timestamp        time.Time
	ProcessingTime   time.Duration
	Metadata         map[string]any
}

// toolCacheEntry holds a cached tool result keyed by (tool, canonical args).
type toolCacheEntry struct {
	timestamp time.Time
	value     any
}

// Session is a single conversation's state: turn history, a bounded
// sliding window of recent turns, and a tool-result cache.
type Session struct {
	ID           string
	UserID       string
	CreatedAt    time.Time
	LastActivity time.Time
	Metadata     map[string]any

	turns      []ConversationTurn
	window     []ConversationTurn // bounded sliding view, most-recent last
	windowSize int
	toolCache  map[string]toolCacheEntry
}

// Store is the thread-safe Context Store. One mutex guards all sessions;
// critical sections are O(1) map/slice operations only, with no I/O under
// the lock, matching the teacher's memChatStore discipline.
type Store struct {
	mu         sync.Mutex
	sessions   map[string]*Session
	windowSize int
	timeout    time.Duration

	stopReclaim chan struct{}
}

// New builds a Context Store with the given sliding-window size and idle
// session timeout, and starts the background reclaimer.
func New(windowSize int, timeout time.Duration) *Store {
	if windowSize <= 0 {
		windowSize = 20
	}
	if timeout <= 0 {
		timeout = 24 * time.Hour
	}
	s := &Store{
		sessions:    make(map[string]*Session),
		windowSize:  windowSize,
		timeout:     timeout,
		stopReclaim: make(chan struct{}),
	}
	go s.reclaimLoop()
	return s
}

// Close stops the background reclaimer.
func (s *Store) Close() { close(s.stopReclaim) }

func (s *Store) reclaimLoop() {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.reclaimExpired()
		case <-s.stopReclaim:
			return
		}
	}
}

func (s *Store) reclaimExpired() {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, sess := range s.sessions {
		if now.Sub(sess.LastActivity) > s.timeout {
			delete(s.sessions, id)
		}
	}
}

// GetOrCreate returns the session for id, creating it lazily (with a
// fresh session) if it does not exist. Passing an empty id always
// creates a new session with a generated id.
func (s *Store) GetOrCreate(id, userID string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id != "" {
		if sess, ok := s.sessions[id]; ok {
			sess.LastActivity = time.Now()
			return sess
		}
	}
	if id == "" {
		id = fmt.Sprintf("session_%s_%s", time.Now().UTC().Format("20060102_150405"), uuid.NewString()[:8])
	}
	now := time.Now()
	sess := &Session{
		ID:           id,
		UserID:       userID,
		CreatedAt:    now,
		LastActivity: now,
		Metadata:     map[string]any{},
		windowSize:   s.windowSize,
		toolCache:    map[string]toolCacheEntry{},
	}
	s.sessions[id] = sess
	return sess
}

// Get returns the session for id, or nil if absent. Expiry is not checked
// here: an idle session stays until the background reclaimer removes it.
func (s *Store) Get(id string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions[id]
}

// AppendTurn records a completed turn against the session, updating the
// bounded sliding window and last-activity timestamp. The turn is
// immutable once appended.
func (s *Store) AppendTurn(id string, turn ConversationTurn) ConversationTurn {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		sess = &Session{
			ID:           id,
			CreatedAt:    time.Now(),
			LastActivity: time.Now(),
			Metadata:     map[string]any{},
			windowSize:   s.windowSize,
			toolCache:    map[string]toolCacheEntry{},
		}
		s.sessions[id] = sess
	}

	if turn.TurnID == "" {
		turn.TurnID = fmt.Sprintf("turn_%d_%s", len(sess.turns), uuid.NewString()[:6])
	}
	if turn.Timestamp.IsZero() {
		turn.Timestamp = time.Now()
	}

	sess.turns = append(sess.turns, turn)
	sess.window = append(sess.window, turn)
	if len(sess.window) > sess.windowSize {
		sess.window = sess.window[len(sess.window)-sess.windowSize:]
	}
	sess.LastActivity = time.Now()
	return turn
}

// GetRecentTurns returns up to n of the most recent turns in the session's
// sliding window, oldest first.
func (s *Store) GetRecentTurns(id string, n int) []ConversationTurn {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil
	}
	window := sess.window
	if n > 0 && n < len(window) {
		window = window[len(window)-n:]
	}
	out := make([]ConversationTurn, len(window))
	copy(out, window)
	return out
}

// ToolCacheKey builds the canonical cache key tool:sorted-json-args.
// Map keys are sorted and the encoding is deterministic, per the
// make_cache_key convention in the context manager this is grounded on.
func ToolCacheKey(toolName string, args map[string]any) string {
	if args == nil {
		args = map[string]any{}
	}
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	ordered := make(map[string]any, len(args))
	for _, k := range keys {
		ordered[k] = args[k]
	}
	b, err := json.Marshal(ordered)
	if err != nil {
		return toolName + ":" + fmt.Sprintf("%v", args)
	}
	return toolName + ":" + string(b)
}

// GetCached returns a cached tool result for cacheKey if present and, when
// ttl > 0, still within ttl of when it was stored.
func (s *Store) GetCached(id, cacheKey string, ttl time.Duration) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, false
	}
	entry, ok := sess.toolCache[cacheKey]
	if !ok {
		return nil, false
	}
	if ttl > 0 && time.Since(entry.timestamp) > ttl {
		return nil, false
	}
	return entry.value, true
}

// SetCached stores a tool result for cacheKey, creating the session if
// necessary.
func (s *Store) SetCached(id, cacheKey string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		sess = &Session{
			ID:           id,
			CreatedAt:    time.Now(),
			LastActivity: time.Now(),
			Metadata:     map[string]any{},
			windowSize:   s.windowSize,
			toolCache:    map[string]toolCacheEntry{},
		}
		s.sessions[id] = sess
	}
	sess.toolCache[cacheKey] = toolCacheEntry{timestamp: time.Now(), value: value}
}

// Turns returns a copy of every turn recorded for id, oldest first.
func (s *Store) Turns(id string) []ConversationTurn {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil
	}
	out := make([]ConversationTurn, len(sess.turns))
	copy(out, sess.turns)
	return out
}

// Count returns the number of in-memory sessions, including idle ones the
// reclaimer has not yet removed.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}
