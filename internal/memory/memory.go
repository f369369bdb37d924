// Package memory provides bounded conversation history for multi-turn questions.
//
// History lives in process memory only and expires after a period of
// inactivity; nothing is persisted.
package memory

import (
	"strings"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
)

// Roles a turn can have.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is a single chat message.
type Turn struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

type conversation struct {
	mu    sync.Mutex
	turns []Turn
}

// Store keeps recent turns per session with a sliding TTL.
type Store struct {
	cache    *cache.Cache
	maxTurns int
	// guards get-or-create of conversations
	mu sync.Mutex
}

// NewStore creates a conversation store that keeps at most maxTurns turns per
// session and forgets sessions idle for longer than ttl.
func NewStore(maxTurns int, ttl time.Duration) *Store {
	return &Store{
		cache:    cache.New(ttl, ttl/2),
		maxTurns: maxTurns,
	}
}

// DefaultStore creates a store with sensible defaults.
// - Max 20 turns per conversation
// - 1 hour TTL (session expires after 1 hour of inactivity)
func DefaultStore() *Store {
	return NewStore(20, time.Hour)
}

// AddUserMessage adds a user message to the conversation.
func (s *Store) AddUserMessage(sessionID, content string) {
	s.addTurn(sessionID, RoleUser, content)
}

// AddAssistantMessage adds an assistant message to the conversation.
func (s *Store) AddAssistantMessage(sessionID, content string) {
	s.addTurn(sessionID, RoleAssistant, content)
}

func (s *Store) addTurn(sessionID, role, content string) {
	conv := s.conversation(sessionID, true)

	conv.mu.Lock()
	conv.turns = append(conv.turns, Turn{Role: role, Content: content, Timestamp: time.Now()})
	if s.maxTurns > 0 && len(conv.turns) > s.maxTurns {
		conv.turns = conv.turns[len(conv.turns)-s.maxTurns:]
	}
	conv.mu.Unlock()

	// Refresh the expiry on every write.
	s.cache.SetDefault(sessionID, conv)
}

func (s *Store) conversation(sessionID string, create bool) *conversation {
	s.mu.Lock()
	defer s.mu.Unlock()

	if v, ok := s.cache.Get(sessionID); ok {
		return v.(*conversation)
	}
	if !create {
		return nil
	}
	conv := &conversation{}
	s.cache.SetDefault(sessionID, conv)
	return conv
}

// GetHistory returns a copy of the session's turns, oldest first.
// Returns nil if the session doesn't exist.
func (s *Store) GetHistory(sessionID string) []Turn {
	conv := s.conversation(sessionID, false)
	if conv == nil {
		return nil
	}

	conv.mu.Lock()
	defer conv.mu.Unlock()
	turns := make([]Turn, len(conv.turns))
	copy(turns, conv.turns)
	return turns
}

// GetRecentHistory returns the last n turns of a session.
func (s *Store) GetRecentHistory(sessionID string, n int) []Turn {
	return Recent(s.GetHistory(sessionID), n)
}

// ClearSession removes a conversation from memory.
func (s *Store) ClearSession(sessionID string) {
	s.cache.Delete(sessionID)
}

// Recent returns the last n turns. n <= 0 yields no turns.
func Recent(turns []Turn, n int) []Turn {
	if n <= 0 {
		return nil
	}
	if len(turns) <= n {
		return turns
	}
	return turns[len(turns)-n:]
}

// FormatForPrompt renders turns as "role: content" lines, oldest first.
// Returns an empty string when there are no turns.
func FormatForPrompt(turns []Turn) string {
	lines := make([]string, 0, len(turns))
	for _, t := range turns {
		if strings.TrimSpace(t.Content) == "" {
			continue
		}
		lines = append(lines, t.Role+": "+t.Content)
	}
	return strings.Join(lines, "\n")
}
