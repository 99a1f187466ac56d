package sync

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/matheus3301/carechat/internal/chaterr"
	"github.com/matheus3301/carechat/internal/status"
	"github.com/matheus3301/carechat/internal/store"
	"github.com/matheus3301/carechat/internal/wire"
)

// LoadConversations replaces the conversation summaries with the server's
// list. On failure the previous list stays visible and the load state moves
// to ERRORED.
func (e *Engine) LoadConversations(ctx context.Context) error {
	e.mu.Lock()
	if !e.active {
		e.mu.Unlock()
		return chaterr.ErrSessionEnded
	}
	gen := e.gen
	e.busy++
	e.listLoads++
	_ = e.load.Transition(status.Loading)
	e.mu.Unlock()
	e.emitView()

	convs, err := e.remote.ListConversations(ctx)

	e.mu.Lock()
	if !e.live(gen) {
		e.mu.Unlock()
		e.logger.Debug("dropping conversation list from ended session")
		return chaterr.ErrSessionEnded
	}
	e.busy--
	e.listLoads--
	if err != nil {
		e.settle(status.Errored)
		e.setError(err)
		e.mu.Unlock()
		e.emitView()
		e.logger.Warn("load conversations failed", zap.Error(err))
		return err
	}
	e.store.ReplaceConversations(convs)
	e.settle(status.Ready)
	e.clearError()
	e.mu.Unlock()
	e.emitView()
	return nil
}

// LoadConversation makes id the open conversation, fetches its full history
// and then marks it read. Concurrent loads of the same id within a session
// share one fetch and one read receipt. The shared fetch runs on the session
// context, so a caller giving up only stops its own wait. A result arriving
// after the user opened another conversation is discarded.
func (e *Engine) LoadConversation(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return e.reject(&chaterr.ValidationError{Field: "conversationId", Reason: "required"})
	}

	e.mu.Lock()
	if !e.active {
		e.mu.Unlock()
		return chaterr.ErrSessionEnded
	}
	gen, sessCtx := e.gen, e.sessionCtx
	e.currentID = id
	e.busy++
	e.mu.Unlock()
	e.emitView()

	key := strconv.FormatUint(gen, 10) + "/" + id
	flight := e.loads.DoChan(key, func() (any, error) {
		conv, msgs, err := e.remote.GetConversation(sessCtx, id)
		if err != nil {
			return nil, err
		}
		if !e.applyConversation(gen, id, conv, msgs) {
			return nil, nil
		}
		if err := e.MarkAsRead(sessCtx, id); err != nil {
			e.logger.Debug("mark read after load failed", zap.String("conversation", id), zap.Error(err))
		}
		return nil, nil
	})

	var err error
	abandoned := false
	select {
	case res := <-flight:
		err = res.Err
	case <-ctx.Done():
		err = ctx.Err()
		abandoned = true
	}

	e.mu.Lock()
	if !e.live(gen) {
		e.mu.Unlock()
		e.logger.Debug("dropping conversation from ended session", zap.String("conversation", id))
		return chaterr.ErrSessionEnded
	}
	e.busy--
	stale := e.currentID != id
	if err != nil && !stale && !abandoned {
		e.setError(err)
	}
	e.mu.Unlock()
	e.emitView()

	if stale {
		e.logger.Debug("dropping stale conversation load", zap.String("conversation", id))
		return nil
	}
	return err
}

// applyConversation writes a fetched conversation to the store if the
// session is still gen and id is still open.
func (e *Engine) applyConversation(gen uint64, id string, conv store.Conversation, msgs []store.Message) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.live(gen) || e.currentID != id {
		return false
	}
	if conv.ID != "" {
		e.store.UpsertConversation(conv)
	}
	e.store.SetMessages(id, msgs)
	e.clearError()
	return true
}

// LoadMessages is LoadConversation.
func (e *Engine) LoadMessages(ctx context.Context, id string) error {
	return e.LoadConversation(ctx, id)
}

// CloseCurrent leaves the open conversation. Results of loads still in
// flight for it are discarded.
func (e *Engine) CloseCurrent() {
	e.mu.Lock()
	e.currentID = ""
	e.mu.Unlock()
	e.emitView()
}

// CurrentID returns the open conversation id, or "".
func (e *Engine) CurrentID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.currentID
}

// SendMessage sends body to the conversation. When the transport is
// connected it is the only path tried unless it fails; otherwise the message
// goes over REST. No local entry is created here: the message enters the
// store when the server's copy comes back as an event or response.
func (e *Engine) SendMessage(ctx context.Context, conversationID, body string) error {
	body = strings.TrimSpace(body)
	switch {
	case strings.TrimSpace(conversationID) == "":
		return e.reject(&chaterr.ValidationError{Field: "conversationId", Reason: "required"})
	case body == "":
		return e.reject(&chaterr.ValidationError{Field: "body", Reason: "must not be empty"})
	case len(body) > wire.MaxBodyBytes:
		return e.reject(&chaterr.ValidationError{Field: "body", Reason: "too long"})
	}

	e.mu.Lock()
	if !e.active {
		e.mu.Unlock()
		return chaterr.ErrSessionEnded
	}
	gen, t := e.gen, e.transport
	e.mu.Unlock()

	if t != nil && t.State() == status.Connected {
		err := t.Send(ctx, conversationID, body)
		if err == nil {
			e.mu.Lock()
			if e.live(gen) {
				e.clearError()
			}
			e.mu.Unlock()
			e.emitView()
			return nil
		}
		e.logger.Warn("transport send failed, falling back to REST", zap.Error(err))
	}

	msg, err := e.remote.SendMessage(ctx, conversationID, body)

	e.mu.Lock()
	defer e.emitView()
	defer e.mu.Unlock()
	if !e.live(gen) {
		return chaterr.ErrSessionEnded
	}
	if err != nil {
		e.setError(err)
		return err
	}
	e.store.UpsertMessage(msg)
	e.clearError()
	return nil
}

// CreateConversation opens a conversation with counterpartyID. When the
// server reports one is already active, the list is reloaded and the
// existing conversation is opened instead; the caller still sees success.
func (e *Engine) CreateConversation(ctx context.Context, counterpartyID, subject, initialMessage string) (store.Conversation, error) {
	initialMessage = strings.TrimSpace(initialMessage)
	switch {
	case strings.TrimSpace(counterpartyID) == "":
		return store.Conversation{}, e.reject(&chaterr.ValidationError{Field: "counterpartyId", Reason: "required"})
	case initialMessage == "":
		return store.Conversation{}, e.reject(&chaterr.ValidationError{Field: "initialMessage", Reason: "must not be empty"})
	case len(initialMessage) > wire.MaxBodyBytes:
		return store.Conversation{}, e.reject(&chaterr.ValidationError{Field: "initialMessage", Reason: "too long"})
	}

	e.mu.Lock()
	if !e.active {
		e.mu.Unlock()
		return store.Conversation{}, chaterr.ErrSessionEnded
	}
	gen := e.gen
	e.busy++
	e.mu.Unlock()
	e.emitView()

	conv, err := e.remote.CreateConversation(ctx, counterpartyID, strings.TrimSpace(subject), initialMessage)
	if chaterr.IsConflict(err) {
		e.logger.Info("conversation already exists, opening it", zap.String("counterparty", counterpartyID))
		conv, err = e.recoverConflict(ctx, gen, counterpartyID, err)
	}

	e.mu.Lock()
	if !e.live(gen) {
		e.mu.Unlock()
		return store.Conversation{}, chaterr.ErrSessionEnded
	}
	e.busy--
	if err != nil {
		e.setError(err)
		e.mu.Unlock()
		e.emitView()
		return store.Conversation{}, err
	}
	e.store.UpsertConversation(conv)
	e.clearError()
	e.mu.Unlock()

	if err := e.LoadConversation(ctx, conv.ID); err != nil {
		return conv, err
	}
	if snap, ok := e.store.Snapshot().Conversation(conv.ID); ok {
		conv = snap
	}
	return conv, nil
}

// recoverConflict reloads the list and finds the active conversation with
// counterpartyID.
func (e *Engine) recoverConflict(ctx context.Context, gen uint64, counterpartyID string, conflict error) (store.Conversation, error) {
	convs, err := e.remote.ListConversations(ctx)
	if err != nil {
		return store.Conversation{}, err
	}

	e.mu.Lock()
	if !e.live(gen) {
		e.mu.Unlock()
		return store.Conversation{}, chaterr.ErrSessionEnded
	}
	e.store.ReplaceConversations(convs)
	e.mu.Unlock()

	existing, ok := e.store.Snapshot().ActiveWith(counterpartyID)
	if !ok {
		return store.Conversation{}, conflict
	}
	return existing, nil
}

// MarkAsRead sends a read receipt, over the transport when connected and
// over REST otherwise, then refreshes the unread total. A call for a
// conversation that already has one in flight returns immediately.
func (e *Engine) MarkAsRead(ctx context.Context, conversationID string) error {
	if strings.TrimSpace(conversationID) == "" {
		return &chaterr.ValidationError{Field: "conversationId", Reason: "required"}
	}

	e.mu.Lock()
	if !e.active {
		e.mu.Unlock()
		return chaterr.ErrSessionEnded
	}
	if e.reading[conversationID] {
		e.mu.Unlock()
		return nil
	}
	e.reading[conversationID] = true
	gen, t, userID := e.gen, e.transport, e.userID
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		if e.live(gen) {
			delete(e.reading, conversationID)
		}
		e.mu.Unlock()
	}()

	var err error
	if t != nil && t.State() == status.Connected {
		err = t.MarkRead(ctx, conversationID)
		if err != nil {
			e.logger.Debug("transport read receipt failed, using REST", zap.Error(err))
			err = e.remote.MarkRead(ctx, conversationID)
		}
	} else {
		err = e.remote.MarkRead(ctx, conversationID)
	}

	e.mu.Lock()
	if !e.live(gen) {
		e.mu.Unlock()
		return chaterr.ErrSessionEnded
	}
	if err == nil {
		e.store.MarkRead(conversationID, userID)
		e.store.ClearConversationUnread(conversationID)
	}
	e.mu.Unlock()

	if uerr := e.RefreshUnread(ctx); uerr != nil && !errors.Is(uerr, chaterr.ErrSessionEnded) {
		e.logger.Debug("unread refresh after read failed", zap.Error(uerr))
	}
	return err
}

// SetTyping sends a typing indicator. It is transport-only and silently
// skipped when the transport is not connected.
func (e *Engine) SetTyping(ctx context.Context, conversationID string, isTyping bool) error {
	e.mu.Lock()
	t := e.transport
	e.mu.Unlock()
	if t == nil || t.State() != status.Connected {
		return nil
	}
	err := t.Typing(ctx, conversationID, isTyping)
	if errors.Is(err, chaterr.ErrNotConnected) {
		return nil
	}
	return err
}

// reject records a validation error as the view error and returns it.
func (e *Engine) reject(err error) error {
	e.mu.Lock()
	if e.active {
		e.setError(err)
	}
	e.mu.Unlock()
	e.emitView()
	return err
}
