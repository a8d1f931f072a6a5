package chat

import (
	"sync"

	"github.com/co-de-er123/CrowdAid/internal/domain"
)

// Status describes the transport connection lifecycle.
type Status int

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
)

func (s Status) String() string {
	switch s {
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// State is the single source of truth for conversation, message and unread
// data observed during a session. Mutations come from the read loop and from
// user-triggered commands; reads come from whatever renders the data. All
// access is serialized by an internal mutex.
//
// Message history within a conversation is append-only in server-delivery
// order. There is no deduplication by id and no command/response correlation
// on the wire, so a re-delivered message appears twice.
type State struct {
	mu            sync.RWMutex
	conversations []*domain.Conversation
	messages      map[string][]domain.Message
	activeID      string
	unreadTotal   int
	lastError     string
}

func NewState() *State {
	return &State{
		messages: make(map[string][]domain.Message),
	}
}

func (s *State) findLocked(id string) *domain.Conversation {
	for _, c := range s.conversations {
		if c.ID == id {
			return c
		}
	}
	return nil
}

// recordInboundMessage appends a delivered message to its conversation's
// history and updates that conversation's preview. Unread counters move only
// when the message lands outside the active conversation.
func (s *State) recordInboundMessage(m domain.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.messages[m.ConversationID] = append(s.messages[m.ConversationID], m)

	conv := s.findLocked(m.ConversationID)
	if conv != nil {
		last := m
		conv.LastMessage = &last
	}
	if s.activeID != m.ConversationID {
		if conv != nil {
			conv.UnreadCount++
		}
		s.unreadTotal++
	}
}

// upsertConversation replaces the conversation with the same id, or appends
// it when unknown.
func (s *State) upsertConversation(c domain.Conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, existing := range s.conversations {
		if existing.ID == c.ID {
			s.conversations[i] = &c
			return
		}
	}
	s.conversations = append(s.conversations, &c)
}

// replaceConversations swaps in the full conversation collection; used for
// resync only.
func (s *State) replaceConversations(list []domain.Conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.conversations = make([]*domain.Conversation, 0, len(list))
	for i := range list {
		c := list[i]
		s.conversations = append(s.conversations, &c)
	}
}

// replaceMessages installs message history. The wire carries no request
// correlation, so messages are grouped by their own conversation id and
// replace those buckets. An empty payload can only mean the requested
// history was empty; it clears the active conversation's bucket.
func (s *State) replaceMessages(list []domain.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(list) == 0 {
		if s.activeID != "" {
			s.messages[s.activeID] = nil
		}
		return
	}
	buckets := make(map[string][]domain.Message)
	for _, m := range list {
		buckets[m.ConversationID] = append(buckets[m.ConversationID], m)
	}
	for id, ms := range buckets {
		s.messages[id] = ms
	}
}

// setActive focuses a conversation. Returns false when the id is unknown
// locally. The global unread counter drops by the conversation's previously
// known unread count, floored at zero; the per-conversation counter is
// zeroed separately by the mark-as-read optimistic update.
func (s *State) setActive(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv := s.findLocked(id)
	if conv == nil {
		return false
	}
	s.activeID = id
	s.unreadTotal -= conv.UnreadCount
	if s.unreadTotal < 0 {
		s.unreadTotal = 0
	}
	return true
}

// clearUnread zeroes a conversation's unread counter without touching the
// global counter (the optimistic half of MARK_AS_READ).
func (s *State) clearUnread(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if conv := s.findLocked(id); conv != nil {
		conv.UnreadCount = 0
	}
}

func (s *State) setError(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastError = msg
}

func (s *State) clearError() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastError = ""
}

// Conversations returns a snapshot of the known conversations in their
// current order.
func (s *State) Conversations() []domain.Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Conversation, 0, len(s.conversations))
	for _, c := range s.conversations {
		out = append(out, *c)
	}
	return out
}

// Conversation returns a snapshot of one conversation by id.
func (s *State) Conversation(id string) (domain.Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if c := s.findLocked(id); c != nil {
		return *c, true
	}
	return domain.Conversation{}, false
}

// MessagesFor returns a snapshot of a conversation's message history in
// delivery order.
func (s *State) MessagesFor(conversationID string) []domain.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ms := s.messages[conversationID]
	out := make([]domain.Message, len(ms))
	copy(out, ms)
	return out
}

// ActiveConversationID returns the focused conversation id, or "" when none
// is focused.
func (s *State) ActiveConversationID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeID
}

// UnreadTotal returns the global unread counter.
func (s *State) UnreadTotal() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.unreadTotal
}

// LastError returns the most recent diagnostic message, or "" when the last
// operation succeeded.
func (s *State) LastError() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastError
}
