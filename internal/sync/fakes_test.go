package sync

import (
	"context"
	"net/http"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/carechat/internal/bus"
	"github.com/matheus3301/carechat/internal/chaterr"
	"github.com/matheus3301/carechat/internal/status"
	"github.com/matheus3301/carechat/internal/store"
)

type fakeTransport struct {
	mu      sync.Mutex
	state   status.ConnState
	sendErr error
	sends   []string
	reads   []string
	typing  []bool
}

func (f *fakeTransport) State() status.ConnState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeTransport) setState(s status.ConnState) {
	f.mu.Lock()
	f.state = s
	f.mu.Unlock()
}

func (f *fakeTransport) Send(_ context.Context, conversationID, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sends = append(f.sends, conversationID+":"+body)
	return nil
}

func (f *fakeTransport) MarkRead(_ context.Context, conversationID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads = append(f.reads, conversationID)
	return nil
}

func (f *fakeTransport) Typing(_ context.Context, _ string, isTyping bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.typing = append(f.typing, isTyping)
	return nil
}

func (f *fakeTransport) sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.sends)
}

type detail struct {
	conv store.Conversation
	msgs []store.Message
}

// fakeRemote serves canned data. GetConversation blocks on gates[id] when
// one is set.
type fakeRemote struct {
	mu        sync.Mutex
	convs     []store.Conversation
	details   map[string]detail
	unread    int
	listErr   error
	createErr error
	created   store.Conversation
	gates     map[string]chan struct{}
	sent      []string
	reads     []string
	nextMsgID int

	listCalls atomic.Int32
	getCalls  atomic.Int32
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{details: map[string]detail{}, gates: map[string]chan struct{}{}}
}

func (r *fakeRemote) ListConversations(context.Context) ([]store.Conversation, error) {
	r.listCalls.Add(1)
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listErr != nil {
		return nil, r.listErr
	}
	return slices.Clone(r.convs), nil
}

func (r *fakeRemote) GetConversation(ctx context.Context, id string) (store.Conversation, []store.Message, error) {
	r.getCalls.Add(1)
	r.mu.Lock()
	gate := r.gates[id]
	r.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return store.Conversation{}, nil, ctx.Err()
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.details[id]
	if !ok {
		return store.Conversation{}, nil, &chaterr.FetchError{Method: "GET", Path: "/conversations/" + id, Status: http.StatusNotFound}
	}
	return d.conv, slices.Clone(d.msgs), nil
}

func (r *fakeRemote) CreateConversation(_ context.Context, counterpartyID, subject, _ string) (store.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return store.Conversation{}, r.createErr
	}
	c := r.created
	r.convs = append(r.convs, c)
	r.details[c.ID] = detail{conv: c}
	return c, nil
}

func (r *fakeRemote) SendMessage(_ context.Context, conversationID, body string) (store.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, conversationID+":"+body)
	r.nextMsgID++
	return store.Message{
		ID:             "srv-" + strconv.Itoa(r.nextMsgID),
		ConversationID: conversationID,
		SenderID:       "u1",
		Body:           body,
		CreatedAt:      at(1000 + r.nextMsgID),
	}, nil
}

func (r *fakeRemote) MarkRead(_ context.Context, conversationID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reads = append(r.reads, conversationID)
	r.unread = 0
	return nil
}

func (r *fakeRemote) UnreadCount(context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.unread, nil
}

func (r *fakeRemote) readCalls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.reads)
}

func (r *fakeRemote) sentCalls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.sent)
}

func (r *fakeRemote) gate(id string) chan struct{} {
	ch := make(chan struct{})
	r.mu.Lock()
	r.gates[id] = ch
	r.mu.Unlock()
	return ch
}

func at(sec int) time.Time {
	return time.Unix(int64(sec), 0).UTC()
}

func conv(id, counterparty string, unread int) store.Conversation {
	return store.Conversation{ID: id, UserID: "u1", CounterpartyID: counterparty, Status: store.StatusActive, UnreadCount: unread}
}

func msg(convID, id, sender string, sec int) store.Message {
	return store.Message{ID: id, ConversationID: convID, SenderID: sender, Body: id, CreatedAt: at(sec)}
}

type harness struct {
	e  *Engine
	r  *fakeRemote
	tr *fakeTransport
	b  *bus.Bus
	st *store.Store
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	b := bus.New()
	st := store.New(b)
	r := newFakeRemote()
	tr := &fakeTransport{state: status.Disconnected}
	e := NewEngine(st, r, b, zap.NewNop(), Options{TypingTTL: 40 * time.Millisecond})
	e.Begin("u1", tr)
	t.Cleanup(e.End)
	return &harness{e: e, r: r, tr: tr, b: b, st: st}
}

// eventually polls cond until it holds or a second passes.
func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}
