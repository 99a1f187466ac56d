// Package transport owns the realtime WebSocket connection to the remote
// chat service and republishes its frames as bus events.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/matheus3301/carechat/internal/bus"
	"github.com/matheus3301/carechat/internal/chaterr"
	"github.com/matheus3301/carechat/internal/status"
	"github.com/matheus3301/carechat/internal/wire"
)

const (
	kindConnected    = bus.TransportConnected
	kindError        = bus.TransportError
	kindNewMessage   = bus.TransportNewMessage
	kindMessageSent  = bus.TransportMessageSent
	kindTyping       = bus.TransportTyping
	kindMessagesRead = bus.TransportMessagesRead
)

var errMissingToken = errors.New("missing credential")

// Options configures an Adapter.
type Options struct {
	URL                  string
	DialTimeout          time.Duration
	HeartbeatInterval    time.Duration
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
	MaxReconnectAttempts int
	HTTPClient           *http.Client

	// WriteTimeout bounds one outbound frame. Zero means 10s.
	WriteTimeout time.Duration
	// ReadLimit is the largest inbound frame accepted. Zero means
	// wire.MaxFrameBytes.
	ReadLimit int64
}

// Adapter maintains at most one realtime connection. Every state change is
// published as bus.TransportStateChanged.
type Adapter struct {
	opts    Options
	bus     *bus.Bus
	logger  *zap.Logger
	machine *status.Machine[status.ConnState]

	mu     sync.Mutex
	conn   *websocket.Conn
	token  string
	life   context.Context
	cancel context.CancelFunc
	recon  *reconnector
}

// New creates a disconnected adapter.
func New(opts Options, b *bus.Bus, logger *zap.Logger) *Adapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 10 * time.Second
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = 25 * time.Second
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	if opts.ReadLimit <= 0 {
		opts.ReadLimit = wire.MaxFrameBytes
	}
	return &Adapter{
		opts:    opts,
		bus:     b,
		logger:  logger.Named("transport"),
		machine: status.NewConnMachine(b),
		recon:   newReconnector(opts.ReconnectBaseDelay, opts.ReconnectMaxDelay, opts.MaxReconnectAttempts),
	}
}

// State returns the current connection state.
func (a *Adapter) State() status.ConnState {
	return a.machine.Current()
}

// Connect dials the realtime endpoint and waits for the server to confirm
// authentication. It is a no-op while connected or connecting. A failure
// leaves the state ERROR and returns *chaterr.ConnectionError; unless the
// credential was missing or rejected, reconnection continues in the
// background until Disconnect.
func (a *Adapter) Connect(ctx context.Context, token string) error {
	a.mu.Lock()
	if s := a.machine.Current(); s == status.Connected || s == status.Connecting {
		a.mu.Unlock()
		return nil
	}
	if a.cancel != nil {
		a.cancel()
	}
	life, cancel := context.WithCancel(context.Background())
	a.life, a.cancel = life, cancel
	a.token = token
	a.recon.reset()
	_ = a.machine.Transition(status.Connecting)
	a.mu.Unlock()

	if token == "" {
		a.markFailed(life, errMissingToken)
		return &chaterr.ConnectionError{Op: "connect", Err: errMissingToken}
	}

	dctx, stop := context.WithCancel(ctx)
	defer stop()
	defer context.AfterFunc(life, stop)()

	conn, rejected, err := a.dial(dctx, token)
	if err != nil {
		if a.markFailed(life, err) && !rejected {
			go a.reconnectLoop(life)
		}
		return &chaterr.ConnectionError{Op: "connect", Err: err}
	}
	if !a.attach(life, conn) {
		_ = conn.CloseNow()
		return &chaterr.ConnectionError{Op: "connect", Err: context.Canceled}
	}
	return nil
}

// Disconnect closes the connection and cancels any pending reconnect. It
// always leaves the state DISCONNECTED and is safe to call repeatedly.
func (a *Adapter) Disconnect() {
	a.mu.Lock()
	if a.cancel != nil {
		a.cancel()
		a.life, a.cancel = nil, nil
	}
	conn := a.conn
	a.conn = nil
	a.token = ""
	if !a.machine.Is(status.Disconnected) {
		_ = a.machine.Transition(status.Disconnected)
	}
	a.mu.Unlock()

	if conn != nil {
		if err := conn.Close(websocket.StatusNormalClosure, "client disconnect"); err != nil {
			a.logger.Debug("close", zap.Error(err))
		}
	}
}

// Send sends a chat message. It fails fast with chaterr.ErrNotConnected
// unless the state is CONNECTED; nothing is queued.
func (a *Adapter) Send(ctx context.Context, conversationID, body string) error {
	return a.write(ctx, wire.Envelope{Type: wire.TypeMessageSend, ConversationID: conversationID, Body: body})
}

// MarkRead sends a read receipt for the conversation.
func (a *Adapter) MarkRead(ctx context.Context, conversationID string) error {
	return a.write(ctx, wire.Envelope{Type: wire.TypeMessagesRead, ConversationID: conversationID})
}

// Typing sends a typing indicator.
func (a *Adapter) Typing(ctx context.Context, conversationID string, isTyping bool) error {
	return a.write(ctx, wire.Envelope{
		Type:           wire.TypeTyping,
		ConversationID: conversationID,
		Metadata:       &wire.Metadata{IsTyping: isTyping},
	})
}

// write sends one frame. The frame is written under the connection's own
// lifetime: cancelling ctx mid-write would close the whole socket, so ctx is
// only checked before the write starts.
func (a *Adapter) write(ctx context.Context, env wire.Envelope) error {
	a.mu.Lock()
	conn, life := a.conn, a.life
	connected := a.machine.Is(status.Connected)
	a.mu.Unlock()
	if conn == nil || life == nil || !connected {
		return chaterr.ErrNotConnected
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	wctx, cancel := context.WithTimeout(life, a.opts.WriteTimeout)
	defer cancel()
	if err := conn.Write(wctx, websocket.MessageText, data); err != nil {
		return &chaterr.ConnectionError{Op: "write", Err: err}
	}
	return nil
}

// dial opens a connection and consumes the authentication frame. rejected
// reports that the server refused the credential, which retrying won't fix.
func (a *Adapter) dial(ctx context.Context, token string) (conn *websocket.Conn, rejected bool, err error) {
	ctx, cancel := context.WithTimeout(ctx, a.opts.DialTimeout)
	defer cancel()

	conn, resp, err := websocket.Dial(ctx, a.opts.URL, &websocket.DialOptions{
		HTTPClient: a.opts.HTTPClient,
		HTTPHeader: http.Header{"Authorization": []string{"Bearer " + token}},
	})
	if err != nil {
		rejected = resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden)
		return nil, rejected, err
	}

	_, data, err := conn.Read(ctx)
	if err != nil {
		_ = conn.CloseNow()
		return nil, false, err
	}
	var env wire.Envelope
	if err := json.Unmarshal(data, &env); err != nil || env.Type != wire.TypeAuthenticated {
		_ = conn.Close(websocket.StatusPolicyViolation, "expected authenticated")
		if env.Type == wire.TypeError {
			return nil, true, errors.New("authentication rejected")
		}
		return nil, false, errors.New("expected authenticated frame, got " + quoteType(env.Type))
	}
	return conn, false, nil
}

// attach installs conn as the live connection unless the session it was
// dialed for has been cancelled.
func (a *Adapter) attach(life context.Context, conn *websocket.Conn) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if life.Err() != nil {
		return false
	}
	conn.SetReadLimit(a.opts.ReadLimit)
	a.conn = conn
	a.recon.markConnected()
	_ = a.machine.Transition(status.Connected)
	a.bus.Emit(kindConnected, nil)
	a.logger.Info("connected", zap.String("url", a.opts.URL))

	go a.readLoop(life, conn)
	go a.heartbeat(life, conn)
	return true
}

// markFailed moves to ERROR and publishes err. Returns false when life was
// cancelled in the meantime, in which case nothing is published.
func (a *Adapter) markFailed(life context.Context, err error) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if life.Err() != nil {
		return false
	}
	_ = a.machine.Transition(status.ConnError)
	a.bus.Emit(kindError, &chaterr.ConnectionError{Op: "connect", Err: err})
	a.logger.Warn("connect failed", zap.Error(err))
	return true
}

func (a *Adapter) readLoop(life context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(context.Background())
		if err != nil {
			a.handleDrop(life, conn, err)
			return
		}
		var env wire.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			a.logger.Debug("malformed frame", zap.Error(err))
			continue
		}
		a.dispatch(env)
	}
}

func (a *Adapter) handleDrop(life context.Context, conn *websocket.Conn, err error) {
	a.mu.Lock()
	if life.Err() != nil || a.conn != conn {
		a.mu.Unlock()
		return
	}
	a.conn = nil
	_ = a.machine.Transition(status.ConnError)
	a.bus.Emit(kindError, &chaterr.ConnectionError{Op: "read", Err: err})
	a.mu.Unlock()

	_ = conn.CloseNow()
	a.logger.Warn("connection dropped", zap.Error(err))
	a.reconnectLoop(life)
}

func (a *Adapter) reconnectLoop(life context.Context) {
	for {
		a.mu.Lock()
		if life.Err() != nil {
			a.mu.Unlock()
			return
		}
		if !a.recon.shouldReconnect() {
			a.mu.Unlock()
			a.logger.Warn("giving up reconnecting")
			return
		}
		delay := a.recon.nextDelay()
		attempt := a.recon.attempt
		token := a.token
		a.mu.Unlock()

		a.logger.Info("reconnecting", zap.Int("attempt", attempt), zap.Duration("delay", delay))
		timer := time.NewTimer(delay)
		select {
		case <-life.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		a.mu.Lock()
		if life.Err() != nil {
			a.mu.Unlock()
			return
		}
		_ = a.machine.Transition(status.Connecting)
		a.mu.Unlock()

		conn, rejected, err := a.dial(life, token)
		if err == nil {
			if !a.attach(life, conn) {
				_ = conn.CloseNow()
			}
			return
		}
		if !a.markFailed(life, err) || rejected {
			return
		}
	}
}

func (a *Adapter) heartbeat(life context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(a.opts.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-life.Done():
			return
		case <-ticker.C:
			a.mu.Lock()
			live := a.conn == conn
			a.mu.Unlock()
			if !live {
				return
			}
			ctx, cancel := context.WithTimeout(life, a.opts.DialTimeout)
			err := conn.Ping(ctx)
			cancel()
			if err != nil && life.Err() == nil {
				a.logger.Warn("heartbeat failed", zap.Error(err))
				_ = conn.Close(websocket.StatusGoingAway, "heartbeat timeout")
				return
			}
		}
	}
}

func zapType(t string) zap.Field { return zap.String("type", t) }

func quoteType(t string) string {
	if t == "" {
		return "nothing"
	}
	return "\"" + t + "\""
}
