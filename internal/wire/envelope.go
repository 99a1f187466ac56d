package wire

// Realtime envelope types.
const (
	TypeAuthenticated = "authenticated"
	TypeMessageNew    = "message.new"
	TypeMessageSent   = "message.sent"
	TypeTyping        = "typing"
	TypeMessagesRead  = "messages.read"
	TypeError         = "error"

	// TypeMessageSend is the only outbound type not shared with inbound.
	TypeMessageSend = "message.send"
)

const (
	// MaxBodyBytes is the largest message body the service accepts.
	MaxBodyBytes = 16 << 10
	// MaxFrameBytes bounds a single realtime frame. A message carrying a
	// body of MaxBodyBytes, escaped, fits with room to spare.
	MaxFrameBytes = 1 << 20
)

// Envelope is one realtime frame in either direction.
type Envelope struct {
	Type           string    `json:"type"`
	ConversationID string    `json:"conversationId,omitempty"`
	Message        *Message  `json:"message,omitempty"`
	Body           string    `json:"body,omitempty"`
	Metadata       *Metadata `json:"metadata,omitempty"`
}

// Metadata carries the non-message fields of typing, read and error frames.
type Metadata struct {
	UserID   string `json:"userId,omitempty"`
	IsTyping bool   `json:"isTyping,omitempty"`
	Error    string `json:"error,omitempty"`
}

// UserID returns the metadata user id, or "" when metadata is absent.
func (e Envelope) UserID() string {
	if e.Metadata == nil {
		return ""
	}
	return e.Metadata.UserID
}
