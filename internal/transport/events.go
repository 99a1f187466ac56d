package transport

import "github.com/matheus3301/carechat/internal/wire"

// Typing is the payload of bus.TransportTyping.
type Typing struct {
	ConversationID string
	UserID         string
	IsTyping       bool
}

// ReadReceipt is the payload of bus.TransportMessagesRead: ReaderID has read
// every message in the conversation.
type ReadReceipt struct {
	ConversationID string
	ReaderID       string
}

// ServerError is an error frame sent by the remote service.
type ServerError struct {
	ConversationID string
	Message        string
}

func (e *ServerError) Error() string {
	if e.Message == "" {
		return "realtime server error"
	}
	return "realtime server error: " + e.Message
}

// dispatch publishes one inbound frame on the bus.
func (a *Adapter) dispatch(env wire.Envelope) {
	switch env.Type {
	case wire.TypeMessageNew, wire.TypeMessageSent:
		if env.Message == nil {
			a.logger.Debug("frame without message", zapType(env.Type))
			return
		}
		m := env.Message.ToStore()
		if m.ConversationID == "" {
			m.ConversationID = env.ConversationID
		}
		kind := kindNewMessage
		if env.Type == wire.TypeMessageSent {
			kind = kindMessageSent
		}
		a.bus.Emit(kind, m)
	case wire.TypeTyping:
		a.bus.Emit(kindTyping, Typing{
			ConversationID: env.ConversationID,
			UserID:         env.UserID(),
			IsTyping:       env.Metadata != nil && env.Metadata.IsTyping,
		})
	case wire.TypeMessagesRead:
		a.bus.Emit(kindMessagesRead, ReadReceipt{
			ConversationID: env.ConversationID,
			ReaderID:       env.UserID(),
		})
	case wire.TypeError:
		msg := ""
		if env.Metadata != nil {
			msg = env.Metadata.Error
		}
		a.bus.Emit(kindError, &ServerError{ConversationID: env.ConversationID, Message: msg})
	case wire.TypeAuthenticated:
	default:
		a.logger.Debug("ignoring frame", zapType(env.Type))
	}
}
