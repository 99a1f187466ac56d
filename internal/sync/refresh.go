package sync

import (
	"context"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/matheus3301/carechat/internal/chaterr"
	"github.com/matheus3301/carechat/internal/status"
)

// RefreshConversations merges the server's conversation list into the store
// through the upsert path. Errors are returned, not shown: the poller
// decides when repeated failures become visible.
func (e *Engine) RefreshConversations(ctx context.Context) error {
	gen, ok := e.session()
	if !ok {
		return chaterr.ErrSessionEnded
	}
	convs, err := e.remote.ListConversations(ctx)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.live(gen) {
		return chaterr.ErrSessionEnded
	}
	for _, c := range convs {
		e.store.UpsertConversation(c)
	}
	if e.listLoads == 0 && !e.load.Is(status.Ready) {
		if e.load.Is(status.Errored) && !e.errFromPoll {
			e.clearError()
		}
		e.settle(status.Ready)
	}
	return nil
}

// RefreshUnread replaces the unread total with the server's count.
func (e *Engine) RefreshUnread(ctx context.Context) error {
	gen, ok := e.session()
	if !ok {
		return chaterr.ErrSessionEnded
	}
	n, err := e.remote.UnreadCount(ctx)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.live(gen) {
		return chaterr.ErrSessionEnded
	}
	e.store.SetUnread(n)
	return nil
}

// RefreshCurrent re-fetches the open conversation and upserts its messages
// one by one, so anything the transport already delivered is a no-op. New
// messages from the other side trigger a read receipt.
func (e *Engine) RefreshCurrent(ctx context.Context) error {
	e.mu.Lock()
	if !e.active || e.currentID == "" {
		e.mu.Unlock()
		return nil
	}
	gen, id, userID := e.gen, e.currentID, e.userID
	e.mu.Unlock()

	conv, msgs, err := e.remote.GetConversation(ctx, id)
	if err != nil {
		return err
	}

	e.mu.Lock()
	if !e.live(gen) || e.currentID != id {
		e.mu.Unlock()
		return nil
	}
	if conv.ID != "" {
		e.store.UpsertConversation(conv)
	}
	unseen := false
	for _, m := range msgs {
		if m.ConversationID == "" {
			m.ConversationID = id
		}
		if e.store.UpsertMessage(m) && m.SenderID != userID && !m.Read {
			unseen = true
		}
	}
	e.mu.Unlock()

	if unseen {
		return e.MarkAsRead(ctx, id)
	}
	return nil
}

// catchUp runs a full refresh after the transport comes back, covering
// whatever was missed while it was down.
func (e *Engine) catchUp(ctx context.Context) {
	var err error
	err = multierr.Append(err, e.RefreshConversations(ctx))
	err = multierr.Append(err, e.RefreshUnread(ctx))
	err = multierr.Append(err, e.RefreshCurrent(ctx))
	if err != nil && ctx.Err() == nil {
		e.logger.Warn("catch-up after reconnect incomplete", zap.Error(err))
	}
	e.emitView()
}
