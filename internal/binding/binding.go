// Package binding ties the chat subsystem to the authenticated session:
// seed and connect on sign-in, stop and clear on sign-out.
package binding

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/matheus3301/carechat/internal/chaterr"
	chatsync "github.com/matheus3301/carechat/internal/sync"
)

// Engine is the part of the sync engine the binding drives.
type Engine interface {
	Begin(userID string, t chatsync.Transport)
	End()
	LoadConversations(ctx context.Context) error
	RefreshUnread(ctx context.Context) error
}

// Transport is the realtime connection owned by a session.
type Transport interface {
	chatsync.Transport
	Connect(ctx context.Context, token string) error
	Disconnect()
}

// Poller is the periodic refresh owned by a session.
type Poller interface {
	Start(ctx context.Context)
	Stop()
}

// Session owns the transport and poller lifetimes for one signed-in user.
type Session struct {
	engine    Engine
	transport Transport
	poller    Poller
	logger    *zap.Logger

	mu     sync.Mutex
	userID string
	cancel context.CancelFunc
}

func New(engine Engine, t Transport, p Poller, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{engine: engine, transport: t, poller: p, logger: logger.Named("binding")}
}

// Start signs userID in: the engine session begins, the conversation list
// and unread count are seeded, the transport connects and the poller
// starts. The poller runs whatever the seed and connect outcome; their
// errors are returned combined after everything has been started.
func (s *Session) Start(ctx context.Context, userID, token string) error {
	if userID == "" {
		return &chaterr.ValidationError{Field: "userId", Reason: "required"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.stopLocked()
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.userID = userID

	s.engine.Begin(userID, s.transport)

	var err error
	err = multierr.Append(err, s.engine.LoadConversations(ctx))
	err = multierr.Append(err, s.engine.RefreshUnread(ctx))
	if cerr := s.transport.Connect(ctx, token); cerr != nil {
		s.logger.Warn("realtime unavailable, relying on polling", zap.Error(cerr))
		err = multierr.Append(err, cerr)
	}
	s.poller.Start(runCtx)

	s.logger.Info("session bound", zap.String("user", userID))
	return err
}

// Stop signs out: polling stops, the transport disconnects and the engine
// clears the store. Safe to call when not started.
func (s *Session) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

func (s *Session) stopLocked() {
	if s.cancel == nil {
		return
	}
	s.poller.Stop()
	s.transport.Disconnect()
	s.engine.End()
	s.cancel()
	s.cancel = nil
	s.logger.Info("session unbound", zap.String("user", s.userID))
	s.userID = ""
}

// UserID returns the signed-in user, or "".
func (s *Session) UserID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID
}

// Degraded reports whether err from Start only concerns the realtime
// connection, leaving the session usable through polling.
func Degraded(err error) bool {
	if err == nil {
		return false
	}
	for _, e := range multierr.Errors(err) {
		var ce *chaterr.ConnectionError
		if !errors.As(e, &ce) {
			return false
		}
	}
	return true
}
