package bus

import "time"

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// Event kinds. The prefix before the dot is the namespace subscribers filter on.
const (
	TransportStateChanged = "transport.state_changed"
	TransportConnected    = "transport.connected"
	TransportError        = "transport.error"
	TransportNewMessage   = "transport.new_message"
	TransportMessageSent  = "transport.message_sent"
	TransportTyping       = "transport.typing"
	TransportMessagesRead = "transport.messages_read"

	PollTickFailed = "poll.tick_failed"
	PollRecovered  = "poll.recovered"

	StoreUpdated = "store.updated"

	ChatLoadStateChanged = "chat.load_state_changed"
	ChatViewChanged      = "chat.view_changed"

	SessionStarted = "session.started"
	SessionEnded   = "session.ended"
)
