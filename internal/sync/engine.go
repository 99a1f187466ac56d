// Package sync reconciles realtime transport events and polled REST results
// into the message store, and exposes the operations and view the UI uses.
package sync

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/matheus3301/carechat/internal/bus"
	"github.com/matheus3301/carechat/internal/chaterr"
	"github.com/matheus3301/carechat/internal/status"
	"github.com/matheus3301/carechat/internal/store"
)

// Transport is the realtime side the engine sends through.
type Transport interface {
	State() status.ConnState
	Send(ctx context.Context, conversationID, body string) error
	MarkRead(ctx context.Context, conversationID string) error
	Typing(ctx context.Context, conversationID string, isTyping bool) error
}

// Remote is the REST side of the chat service.
type Remote interface {
	ListConversations(ctx context.Context) ([]store.Conversation, error)
	GetConversation(ctx context.Context, id string) (store.Conversation, []store.Message, error)
	CreateConversation(ctx context.Context, counterpartyID, subject, initialMessage string) (store.Conversation, error)
	SendMessage(ctx context.Context, conversationID, body string) (store.Message, error)
	MarkRead(ctx context.Context, conversationID string) error
	UnreadCount(ctx context.Context) (int, error)
}

// Options tunes the engine.
type Options struct {
	// PollFailureThreshold is how many consecutive failed poll ticks surface
	// as the view error. Zero means 3.
	PollFailureThreshold int
	// TypingTTL is how long a typing indicator lasts without a refresh.
	// Zero means 6s.
	TypingTTL time.Duration
}

type typingEntry struct {
	userID  string
	expires time.Time
	timer   *time.Timer
}

// Engine is the only writer of the store. Each authenticated session runs
// between Begin and End; results of calls started in an earlier session are
// dropped.
type Engine struct {
	store  *store.Store
	remote Remote
	bus    *bus.Bus
	logger *zap.Logger
	load   *status.Machine[status.LoadState]
	opts   Options
	now    func() time.Time

	loads singleflight.Group

	mu          sync.Mutex
	active      bool
	gen         uint64
	userID      string
	transport   Transport
	sessionCtx  context.Context
	cancel      context.CancelFunc
	done        chan struct{}
	currentID   string
	busy        int
	listLoads   int
	errMsg      string
	errFromPoll bool
	wasDown     bool
	typing      map[string]typingEntry
	reading     map[string]bool
}

// NewEngine creates an engine with no active session.
func NewEngine(st *store.Store, remote Remote, b *bus.Bus, logger *zap.Logger, opts Options) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.PollFailureThreshold <= 0 {
		opts.PollFailureThreshold = 3
	}
	if opts.TypingTTL <= 0 {
		opts.TypingTTL = 6 * time.Second
	}
	return &Engine{
		store:   st,
		remote:  remote,
		bus:     b,
		logger:  logger.Named("sync"),
		load:    status.NewLoadMachine(b),
		opts:    opts,
		now:     time.Now,
		typing:  make(map[string]typingEntry),
		reading: make(map[string]bool),
	}
}

// Begin starts a session for userID. t may be nil when no realtime
// transport is available. A session already running is ended first.
func (e *Engine) Begin(userID string, t Transport) {
	e.End()

	transportEvents, unsubTransport := e.bus.Subscribe("transport.", 256)
	pollEvents, unsubPoll := e.bus.Subscribe("poll.", 16)

	e.mu.Lock()
	e.gen++
	e.active = true
	e.userID = userID
	e.transport = t
	ctx, cancel := context.WithCancel(context.Background())
	e.sessionCtx, e.cancel = ctx, cancel
	e.done = make(chan struct{})
	gen, done := e.gen, e.done
	e.mu.Unlock()

	go func() {
		defer close(done)
		defer unsubTransport()
		defer unsubPoll()
		for {
			select {
			case evt, ok := <-transportEvents:
				if !ok {
					return
				}
				e.handleEvent(ctx, gen, evt)
			case evt, ok := <-pollEvents:
				if !ok {
					return
				}
				e.handleEvent(ctx, gen, evt)
			case <-ctx.Done():
				return
			}
		}
	}()

	e.logger.Info("session started", zap.String("user", userID))
	e.bus.Emit(bus.SessionStarted, userID)
	e.emitView()
}

// End tears the session down: the store is cleared, engine state is reset
// and any result still in flight will be discarded. Safe to call when no
// session is active.
func (e *Engine) End() {
	e.mu.Lock()
	if !e.active {
		e.mu.Unlock()
		return
	}
	e.active = false
	e.gen++
	cancel, done := e.cancel, e.done
	e.cancel, e.done, e.sessionCtx = nil, nil, nil
	e.userID = ""
	e.transport = nil
	e.currentID = ""
	e.busy = 0
	e.listLoads = 0
	e.errMsg = ""
	e.errFromPoll = false
	e.wasDown = false
	for id := range e.typing {
		e.dropTyping(id)
	}
	clear(e.reading)
	e.store.Clear()
	e.load.Reset()
	e.mu.Unlock()

	cancel()
	<-done

	e.logger.Info("session ended")
	e.bus.Emit(bus.SessionEnded, nil)
	e.emitView()
}

// Active reports whether a session is running.
func (e *Engine) Active() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active
}

// session returns the current generation, or false outside a session.
func (e *Engine) session() (uint64, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.gen, e.active
}

// live reports whether gen is still the running session. Callers hold e.mu.
func (e *Engine) live(gen uint64) bool {
	return e.active && e.gen == gen
}

func (e *Engine) connected() bool {
	e.mu.Lock()
	t := e.transport
	e.mu.Unlock()
	return t != nil && t.State() == status.Connected
}

// setError records err as the view error. Callers hold e.mu.
func (e *Engine) setError(err error) {
	e.errMsg = chaterr.Message(err)
	e.errFromPoll = false
}

// clearError drops the view error. Callers hold e.mu.
func (e *Engine) clearError() {
	e.errMsg = ""
	e.errFromPoll = false
}

// settle moves the load machine to to, passing through Loading when the
// direct transition is not in the table. Callers hold e.mu.
func (e *Engine) settle(to status.LoadState) {
	if e.load.Transition(to) == nil {
		return
	}
	if e.load.Transition(status.Loading) == nil {
		_ = e.load.Transition(to)
	}
}

func (e *Engine) emitView() {
	e.bus.Emit(bus.ChatViewChanged, nil)
}

// View is the read-only state handed to UI consumers.
type View struct {
	Version       uint64
	Conversations []store.Conversation
	Current       *store.Conversation
	Messages      []store.Message
	UnreadCount   int
	IsLoading     bool
	Error         string
	IsConnected   bool
	State         status.LoadState
	// Typing maps conversation id to the id of the participant typing there.
	Typing map[string]string
}

// View assembles the current view from the latest store snapshot.
func (e *Engine) View() View {
	snap := e.store.Snapshot()

	e.mu.Lock()
	currentID := e.currentID
	v := View{
		Version:     snap.Version,
		UnreadCount: snap.UnreadCount,
		IsLoading:   e.busy > 0,
		Error:       e.errMsg,
		State:       e.load.Current(),
		Typing:      make(map[string]string, len(e.typing)),
	}
	now := e.now()
	for id, t := range e.typing {
		if now.Before(t.expires) {
			v.Typing[id] = t.userID
		}
	}
	t := e.transport
	e.mu.Unlock()

	v.Conversations = snap.Conversations
	v.IsConnected = t != nil && t.State() == status.Connected
	if currentID != "" {
		if c, ok := snap.Conversation(currentID); ok {
			v.Current = &c
		}
		v.Messages = snap.MessagesFor(currentID)
	}
	return v
}
