// Package store holds the in-memory chat cache: ordered, deduplicated
// messages per conversation, conversation summaries and the unread total.
//
// Every mutation is synchronous and publishes a fresh immutable Snapshot, so
// readers never observe a partially applied change. The store lives for one
// session and is never written to disk.
package store

import (
	"maps"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/matheus3301/carechat/internal/bus"
)

// Store is the authoritative chat state for a session.
type Store struct {
	mu            sync.Mutex
	version       uint64
	conversations map[string]Conversation
	messages      map[string][]Message
	unread        int

	snap atomic.Pointer[Snapshot]
	bus  *bus.Bus
}

// New creates an empty store. Snapshots are published on b when non-nil.
func New(b *bus.Bus) *Store {
	s := &Store{
		conversations: make(map[string]Conversation),
		messages:      make(map[string][]Message),
		bus:           b,
	}
	s.snap.Store(emptySnapshot)
	return s
}

// Snapshot returns the latest published snapshot.
func (s *Store) Snapshot() *Snapshot {
	return s.snap.Load()
}

// UpsertConversation inserts or updates a conversation summary. The last
// message preview only moves forward in time, so a stale poll response
// cannot regress it.
func (s *Store) UpsertConversation(c Conversation) {
	if c.ID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations[c.ID] = mergeConversation(s.conversations[c.ID], c)
	s.commit()
}

// ReplaceConversations swaps the whole summary set for cs. Cached messages
// are kept.
func (s *Store) ReplaceConversations(cs []Conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := make(map[string]Conversation, len(cs))
	for _, c := range cs {
		if c.ID == "" {
			continue
		}
		next[c.ID] = mergeConversation(s.conversations[c.ID], c)
	}
	s.conversations = next
	s.commit()
}

func mergeConversation(prev, c Conversation) Conversation {
	if prev.ID == "" {
		return c
	}
	if prev.LastMessageAt.After(c.LastMessageAt) {
		c.LastMessage = prev.LastMessage
		c.LastMessageAt = prev.LastMessageAt
	}
	return c
}

// UpsertMessage inserts m at its (CreatedAt, ID) position. If a message with
// the same ID already exists in the conversation only the read flag is
// merged, and only from unread to read. Returns true when m was new.
func (s *Store) UpsertMessage(m Message) bool {
	if m.ID == "" || m.ConversationID == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.messages[m.ConversationID]
	if i := slices.IndexFunc(list, func(x Message) bool { return x.ID == m.ID }); i >= 0 {
		if m.Read && !list[i].Read {
			list = slices.Clone(list)
			list[i].Read = true
			s.messages[m.ConversationID] = list
			s.commit()
		}
		return false
	}

	pos, _ := slices.BinarySearchFunc(list, m, CompareMessages)
	next := make([]Message, 0, len(list)+1)
	next = append(next, list[:pos]...)
	next = append(next, m)
	next = append(next, list[pos:]...)
	s.messages[m.ConversationID] = next
	s.touchConversation(m)
	s.commit()
	return true
}

// touchConversation advances the summary of m's conversation if m is newer.
func (s *Store) touchConversation(m Message) {
	c, ok := s.conversations[m.ConversationID]
	if !ok || m.CreatedAt.Before(c.LastMessageAt) {
		return
	}
	c.LastMessage = m.Body
	c.LastMessageAt = m.CreatedAt
	s.conversations[m.ConversationID] = c
}

// SetMessages replaces the history of a conversation with msgs, sorted and
// deduplicated. Read state already recorded locally is preserved, and cached
// messages newer than everything in msgs are kept: they arrived while the
// fetch was in flight.
func (s *Store) SetMessages(conversationID string, msgs []Message) {
	if conversationID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.messages[conversationID]
	readBefore := make(map[string]bool, len(prev))
	for _, m := range prev {
		if m.Read {
			readBefore[m.ID] = true
		}
	}

	next := make([]Message, 0, len(msgs))
	seen := make(map[string]bool, len(msgs))
	for _, m := range msgs {
		if m.ID == "" || seen[m.ID] {
			continue
		}
		seen[m.ID] = true
		m.ConversationID = conversationID
		m.Read = m.Read || readBefore[m.ID]
		next = append(next, m)
	}
	slices.SortFunc(next, CompareMessages)

	if len(next) > 0 {
		newest := next[len(next)-1]
		for _, m := range prev {
			if !seen[m.ID] && CompareMessages(m, newest) > 0 {
				next = append(next, m)
				seen[m.ID] = true
			}
		}
	}
	s.messages[conversationID] = next
	if len(next) > 0 {
		s.touchConversation(next[len(next)-1])
	}
	s.commit()
}

// MarkRead marks every message in the conversation not sent by readerID as
// read. Returns the number of messages that changed.
func (s *Store) MarkRead(conversationID, readerID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.messages[conversationID]
	changed := 0
	var next []Message
	for i, m := range list {
		if m.Read || m.SenderID == readerID {
			continue
		}
		if next == nil {
			next = slices.Clone(list)
		}
		next[i].Read = true
		changed++
	}
	if changed > 0 {
		s.messages[conversationID] = next
		s.commit()
	}
	return changed
}

// ClearConversationUnread zeroes a conversation's unread count and removes it
// from the total.
func (s *Store) ClearConversationUnread(conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[conversationID]
	if !ok || c.UnreadCount == 0 {
		return
	}
	s.unread = max(0, s.unread-c.UnreadCount)
	c.UnreadCount = 0
	s.conversations[conversationID] = c
	s.commit()
}

// IncrementUnread adds one unread message to a conversation and the total.
func (s *Store) IncrementUnread(conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.conversations[conversationID]; ok {
		c.UnreadCount++
		s.conversations[conversationID] = c
	}
	s.unread++
	s.commit()
}

// SetUnread sets the total unread count, typically from the server.
func (s *Store) SetUnread(count int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count = max(0, count)
	if count == s.unread {
		return
	}
	s.unread = count
	s.commit()
}

// Clear drops all state. The published snapshot becomes empty.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations = make(map[string]Conversation)
	s.messages = make(map[string][]Message)
	s.unread = 0
	s.commit()
}

// commit publishes a new snapshot. Callers hold s.mu.
func (s *Store) commit() {
	s.version++
	convs := slices.Collect(maps.Values(s.conversations))
	slices.SortFunc(convs, compareConversations)
	snap := &Snapshot{
		Version:       s.version,
		Conversations: convs,
		Messages:      maps.Clone(s.messages),
		UnreadCount:   s.unread,
	}
	s.snap.Store(snap)
	if s.bus != nil {
		s.bus.Emit(bus.StoreUpdated, snap)
	}
}
