package store

// Snapshot is an immutable view of the store. Snapshots share backing arrays
// with later snapshots, so callers must treat every slice as read-only.
type Snapshot struct {
	Version       uint64
	Conversations []Conversation
	Messages      map[string][]Message
	UnreadCount   int
}

var emptySnapshot = &Snapshot{Messages: map[string][]Message{}}

// Conversation returns the summary for id.
func (s *Snapshot) Conversation(id string) (Conversation, bool) {
	for _, c := range s.Conversations {
		if c.ID == id {
			return c, true
		}
	}
	return Conversation{}, false
}

// MessagesFor returns the ordered messages of a conversation.
func (s *Snapshot) MessagesFor(conversationID string) []Message {
	return s.Messages[conversationID]
}

// ActiveWith returns the active conversation with a counterparty, if any.
func (s *Snapshot) ActiveWith(counterpartyID string) (Conversation, bool) {
	for _, c := range s.Conversations {
		if c.CounterpartyID == counterpartyID && c.Active() {
			return c, true
		}
	}
	return Conversation{}, false
}

// Empty reports whether the snapshot holds no chat state at all.
func (s *Snapshot) Empty() bool {
	if len(s.Conversations) > 0 || s.UnreadCount != 0 {
		return false
	}
	for _, msgs := range s.Messages {
		if len(msgs) > 0 {
			return false
		}
	}
	return true
}
