package sync

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/carechat/internal/bus"
	"github.com/matheus3301/carechat/internal/chaterr"
	"github.com/matheus3301/carechat/internal/poll"
	"github.com/matheus3301/carechat/internal/status"
	"github.com/matheus3301/carechat/internal/store"
	"github.com/matheus3301/carechat/internal/transport"
)

func (e *Engine) handleEvent(ctx context.Context, gen uint64, evt bus.Event) {
	switch p := evt.Payload.(type) {
	case store.Message:
		switch evt.Kind {
		case bus.TransportNewMessage:
			e.applyMessage(ctx, gen, p, true)
		case bus.TransportMessageSent:
			e.applyMessage(ctx, gen, p, false)
		}
	case transport.Typing:
		e.applyTyping(gen, p)
	case transport.ReadReceipt:
		e.applyReadReceipt(gen, p)
	case status.Change[status.ConnState]:
		e.applyConnChange(ctx, gen, p)
	case poll.TickFailure:
		e.applyPollFailure(gen, p)
	case poll.Recovered:
		e.mu.Lock()
		if e.live(gen) && e.errFromPoll {
			e.clearError()
		}
		e.mu.Unlock()
		e.emitView()
	case error:
		if evt.Kind == bus.TransportError {
			e.logger.Debug("transport error", zap.Error(p))
		}
	}
}

// applyMessage inserts a message delivered by the transport. inbound is
// false for the echo of the user's own send.
func (e *Engine) applyMessage(ctx context.Context, gen uint64, m store.Message, inbound bool) {
	e.mu.Lock()
	if !e.live(gen) {
		e.mu.Unlock()
		return
	}
	_, known := e.store.Snapshot().Conversation(m.ConversationID)
	isNew := e.store.UpsertMessage(m)
	fromOther := m.SenderID != e.userID
	open := m.ConversationID == e.currentID
	if isNew && inbound && fromOther && !open && !m.Read {
		e.store.IncrementUnread(m.ConversationID)
	}
	if fromOther {
		if t, ok := e.typing[m.ConversationID]; ok && t.userID == m.SenderID {
			e.dropTyping(m.ConversationID)
		}
	}
	e.mu.Unlock()
	e.emitView()

	if !known {
		go func() {
			if err := e.RefreshConversations(ctx); err != nil && ctx.Err() == nil {
				e.logger.Debug("refresh for unknown conversation failed", zap.Error(err))
			}
		}()
	}
	if isNew && fromOther && open {
		go func() { _ = e.MarkAsRead(ctx, m.ConversationID) }()
	}
}

func (e *Engine) applyTyping(gen uint64, t transport.Typing) {
	e.mu.Lock()
	if !e.live(gen) || t.UserID == e.userID {
		e.mu.Unlock()
		return
	}
	e.dropTyping(t.ConversationID)
	if t.IsTyping {
		id := t.ConversationID
		var timer *time.Timer
		timer = time.AfterFunc(e.opts.TypingTTL, func() {
			e.mu.Lock()
			defer e.mu.Unlock()
			if cur, ok := e.typing[id]; !e.live(gen) || !ok || cur.timer != timer {
				return
			}
			delete(e.typing, id)
			e.emitView()
		})
		e.typing[id] = typingEntry{userID: t.UserID, expires: e.now().Add(e.opts.TypingTTL), timer: timer}
	}
	e.mu.Unlock()
	e.emitView()
}

// dropTyping removes the indicator for conversationID and stops its expiry
// timer. Callers hold e.mu.
func (e *Engine) dropTyping(conversationID string) {
	if t, ok := e.typing[conversationID]; ok {
		t.timer.Stop()
		delete(e.typing, conversationID)
	}
}

// applyReadReceipt handles a messages.read event. From the other side it
// means the user's messages were read; from the user it is another device
// having read the conversation.
func (e *Engine) applyReadReceipt(gen uint64, r transport.ReadReceipt) {
	e.mu.Lock()
	defer e.emitView()
	defer e.mu.Unlock()
	if !e.live(gen) {
		return
	}
	if r.ReaderID == e.userID {
		e.store.MarkRead(r.ConversationID, e.userID)
		e.store.ClearConversationUnread(r.ConversationID)
		return
	}
	e.store.MarkRead(r.ConversationID, r.ReaderID)
}

func (e *Engine) applyConnChange(ctx context.Context, gen uint64, c status.Change[status.ConnState]) {
	e.mu.Lock()
	if !e.live(gen) {
		e.mu.Unlock()
		return
	}
	recovered := false
	switch c.To {
	case status.ConnError:
		e.wasDown = true
	case status.Connected:
		recovered = e.wasDown
		e.wasDown = false
	}
	e.mu.Unlock()
	e.emitView()

	if recovered {
		e.logger.Info("transport recovered, catching up")
		go e.catchUp(ctx)
	}
}

func (e *Engine) applyPollFailure(gen uint64, f poll.TickFailure) {
	if f.Consecutive < e.opts.PollFailureThreshold {
		return
	}
	e.mu.Lock()
	if !e.live(gen) {
		e.mu.Unlock()
		return
	}
	if e.errMsg == "" || e.errFromPoll {
		e.errMsg = chaterr.Message(f.Err)
		e.errFromPoll = true
	}
	e.mu.Unlock()
	e.emitView()
}
