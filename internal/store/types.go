package store

import (
	"strings"
	"time"
)

// ConversationStatus is the lifecycle status of a conversation.
type ConversationStatus string

const (
	StatusActive ConversationStatus = "active"
	StatusClosed ConversationStatus = "closed"
)

// CounterpartyKind says whether the other side is a facility or a professional.
type CounterpartyKind string

const (
	CounterpartyFacility     CounterpartyKind = "facility"
	CounterpartyProfessional CounterpartyKind = "professional"
)

// Conversation is the summary of a thread between the user and a
// facility or professional.
type Conversation struct {
	ID               string
	UserID           string
	CounterpartyID   string
	CounterpartyKind CounterpartyKind
	CounterpartyName string
	Subject          string
	LastMessage      string
	LastMessageAt    time.Time
	Status           ConversationStatus
	UnreadCount      int
}

// Active reports whether the conversation is open for new messages.
func (c Conversation) Active() bool {
	return c.Status == "" || c.Status == StatusActive
}

// MessageKind distinguishes text from other content.
type MessageKind string

const (
	KindText   MessageKind = "text"
	KindImage  MessageKind = "image"
	KindFile   MessageKind = "file"
	KindSystem MessageKind = "system"
)

// Message is a single unit of conversation content. ID is unique within
// its conversation.
type Message struct {
	ID             string
	ConversationID string
	SenderID       string
	Body           string
	Kind           MessageKind
	CreatedAt      time.Time
	Read           bool
}

// CompareMessages orders messages by (CreatedAt, ID) ascending.
func CompareMessages(a, b Message) int {
	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c
	}
	return strings.Compare(a.ID, b.ID)
}

// compareConversations orders the conversation list newest activity first.
func compareConversations(a, b Conversation) int {
	if c := b.LastMessageAt.Compare(a.LastMessageAt); c != 0 {
		return c
	}
	return strings.Compare(a.ID, b.ID)
}
