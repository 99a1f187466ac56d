// Package wire holds the JSON shapes exchanged with the remote chat service,
// over REST and over the realtime connection, and their conversion to store
// types.
package wire

import (
	"strings"
	"time"

	"github.com/matheus3301/carechat/internal/store"
)

// Conversation is the REST/realtime representation of a conversation.
type Conversation struct {
	ID               string     `json:"id"`
	UserID           string     `json:"userId"`
	CounterpartyID   string     `json:"counterpartyId"`
	CounterpartyType string     `json:"counterpartyType,omitempty"`
	CounterpartyName string     `json:"counterpartyName,omitempty"`
	Subject          string     `json:"subject,omitempty"`
	LastMessage      string     `json:"lastMessage,omitempty"`
	LastMessageAt    *time.Time `json:"lastMessageAt,omitempty"`
	Status           string     `json:"status"`
	UnreadCount      int        `json:"unreadCount"`
}

type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	SenderID       string    `json:"senderId"`
	Body           string    `json:"body"`
	Type           string    `json:"type"`
	CreatedAt      time.Time `json:"createdAt"`
	Read           bool      `json:"read"`
}

// ConversationDetail is the body of GET /conversations/{id}.
type ConversationDetail struct {
	Conversation Conversation `json:"conversation"`
	Messages     []Message    `json:"messages"`
}

type CreateConversationRequest struct {
	CounterpartyID string `json:"counterpartyId"`
	Subject        string `json:"subject"`
	InitialMessage string `json:"initialMessage"`
}

type SendMessageRequest struct {
	Body string `json:"body"`
}

type UnreadCount struct {
	Count int `json:"count"`
}

// ErrorBody is the JSON body of a non-2xx response.
type ErrorBody struct {
	Error string `json:"error"`
}

// ToStore converts c to its store form.
func (c Conversation) ToStore() store.Conversation {
	out := store.Conversation{
		ID:               c.ID,
		UserID:           c.UserID,
		CounterpartyID:   c.CounterpartyID,
		CounterpartyKind: store.CounterpartyKind(strings.ToLower(c.CounterpartyType)),
		CounterpartyName: c.CounterpartyName,
		Subject:          c.Subject,
		LastMessage:      c.LastMessage,
		Status:           parseStatus(c.Status),
		UnreadCount:      max(c.UnreadCount, 0),
	}
	if c.LastMessageAt != nil {
		out.LastMessageAt = c.LastMessageAt.UTC()
	}
	return out
}

// FromConversation converts a store conversation to its wire form.
func FromConversation(c store.Conversation) Conversation {
	out := Conversation{
		ID:               c.ID,
		UserID:           c.UserID,
		CounterpartyID:   c.CounterpartyID,
		CounterpartyType: string(c.CounterpartyKind),
		CounterpartyName: c.CounterpartyName,
		Subject:          c.Subject,
		LastMessage:      c.LastMessage,
		Status:           string(c.Status),
		UnreadCount:      c.UnreadCount,
	}
	if !c.LastMessageAt.IsZero() {
		t := c.LastMessageAt
		out.LastMessageAt = &t
	}
	return out
}

// ToStore converts m to its store form.
func (m Message) ToStore() store.Message {
	return store.Message{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		Body:           m.Body,
		Kind:           parseKind(m.Type),
		CreatedAt:      m.CreatedAt.UTC(),
		Read:           m.Read,
	}
}

// FromMessage converts a store message to its wire form.
func FromMessage(m store.Message) Message {
	return Message{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		Body:           m.Body,
		Type:           string(m.Kind),
		CreatedAt:      m.CreatedAt,
		Read:           m.Read,
	}
}

// Messages converts a slice of wire messages, filling in conversationID
// where the server omitted it.
func Messages(conversationID string, in []Message) []store.Message {
	out := make([]store.Message, 0, len(in))
	for _, m := range in {
		if m.ConversationID == "" {
			m.ConversationID = conversationID
		}
		out = append(out, m.ToStore())
	}
	return out
}

// Conversations converts a slice of wire conversations.
func Conversations(in []Conversation) []store.Conversation {
	out := make([]store.Conversation, 0, len(in))
	for _, c := range in {
		out = append(out, c.ToStore())
	}
	return out
}

func parseStatus(s string) store.ConversationStatus {
	switch strings.ToLower(s) {
	case "closed", "archived":
		return store.StatusClosed
	default:
		return store.StatusActive
	}
}

func parseKind(s string) store.MessageKind {
	switch strings.ToLower(s) {
	case "", "text":
		return store.KindText
	case "image":
		return store.KindImage
	case "system":
		return store.KindSystem
	default:
		return store.KindFile
	}
}
