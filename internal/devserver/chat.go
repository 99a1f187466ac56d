package devserver

import (
	"strings"

	"go.uber.org/zap"

	"github.com/matheus3301/carechat/internal/wire"
)

func (s *Server) createConversation(u *User, req wire.CreateConversationRequest) (wire.Conversation, error) {
	body := strings.TrimSpace(req.InitialMessage)
	if req.CounterpartyID == "" {
		return wire.Conversation{}, badRequest("counterpartyId is required")
	}
	if body == "" {
		return wire.Conversation{}, badRequest("initialMessage must not be empty")
	}
	if len(body) > wire.MaxBodyBytes {
		return wire.Conversation{}, badRequest("initialMessage is too long")
	}
	cp, err := s.db.GetUser(req.CounterpartyID)
	if err != nil || (cp.Kind != "facility" && cp.Kind != "professional") {
		return wire.Conversation{}, badRequest("unknown counterparty")
	}

	id, msg, err := s.db.CreateConversation(u.ID, cp.ID, strings.TrimSpace(req.Subject), body, s.now())
	if err != nil {
		return wire.Conversation{}, err
	}
	c, err := s.db.GetConversation(id, u.ID)
	if err != nil {
		return wire.Conversation{}, err
	}
	s.logger.Info("conversation created", zap.String("id", id), zap.String("user", u.ID), zap.String("counterparty", cp.ID))
	s.hub.send(cp.ID, wire.Envelope{Type: wire.TypeMessageNew, ConversationID: id, Message: &msg})
	return c.wire(), nil
}

// sendMessage stores a message from u and fans it out: message.sent to the
// sender's connections, message.new to the other participant's.
func (s *Server) sendMessage(u *User, convID, body string) (wire.Message, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return wire.Message{}, badRequest("body must not be empty")
	}
	if len(body) > wire.MaxBodyBytes {
		return wire.Message{}, badRequest("body is too long")
	}
	c, err := s.db.GetConversation(convID, u.ID)
	if err != nil {
		return wire.Message{}, err
	}
	if c.Status != "active" {
		return wire.Message{}, errClosed
	}
	msg, err := s.db.AddMessage(c.ID, u.ID, body, s.now())
	if err != nil {
		return wire.Message{}, err
	}
	s.hub.send(u.ID, wire.Envelope{Type: wire.TypeMessageSent, ConversationID: c.ID, Message: &msg})
	s.hub.send(c.other(u.ID), wire.Envelope{Type: wire.TypeMessageNew, ConversationID: c.ID, Message: &msg})
	return msg, nil
}

// markRead marks the conversation read for u and tells both participants.
func (s *Server) markRead(u *User, convID string) error {
	c, err := s.db.GetConversation(convID, u.ID)
	if err != nil {
		return err
	}
	if _, err := s.db.MarkRead(c.ID, u.ID); err != nil {
		return err
	}
	env := wire.Envelope{Type: wire.TypeMessagesRead, ConversationID: c.ID, Metadata: &wire.Metadata{UserID: u.ID}}
	s.hub.send(c.other(u.ID), env)
	s.hub.send(u.ID, env)
	return nil
}

func (s *Server) relayTyping(u *User, convID string, isTyping bool) error {
	c, err := s.db.GetConversation(convID, u.ID)
	if err != nil {
		return err
	}
	s.hub.send(c.other(u.ID), wire.Envelope{
		Type:           wire.TypeTyping,
		ConversationID: c.ID,
		Metadata:       &wire.Metadata{UserID: u.ID, IsTyping: isTyping},
	})
	return nil
}
