package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/matheus3301/carechat/internal/bus"
	"github.com/matheus3301/carechat/internal/chaterr"
	"github.com/matheus3301/carechat/internal/status"
	"github.com/matheus3301/carechat/internal/store"
	"github.com/matheus3301/carechat/internal/wire"
)

// fakeServer is a realtime endpoint accepting the token "good". script runs
// after the authenticated frame for the n-th connection; returning false
// drops that connection.
type fakeServer struct {
	srv    *httptest.Server
	conns  atomic.Int32
	frames chan wire.Envelope
	script func(n int32, c *websocket.Conn) bool
	first  string
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	fs := &fakeServer{frames: make(chan wire.Envelope, 16), first: wire.TypeAuthenticated}
	fs.srv = httptest.NewServer(http.HandlerFunc(fs.handle))
	t.Cleanup(fs.srv.Close)
	return fs
}

func (fs *fakeServer) url() string {
	return "ws" + strings.TrimPrefix(fs.srv.URL, "http")
}

func (fs *fakeServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Authorization") != "Bearer good" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	c, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer func() { _ = c.CloseNow() }()
	n := fs.conns.Add(1)

	ctx := context.Background()
	if err := writeEnvelope(ctx, c, wire.Envelope{Type: fs.first}); err != nil {
		return
	}
	if fs.script != nil && !fs.script(n, c) {
		return
	}
	for {
		_, data, err := c.Read(ctx)
		if err != nil {
			return
		}
		var env wire.Envelope
		if json.Unmarshal(data, &env) == nil {
			fs.frames <- env
		}
	}
}

func writeEnvelope(ctx context.Context, c *websocket.Conn, env wire.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return c.Write(ctx, websocket.MessageText, data)
}

func newAdapter(fs *fakeServer, b *bus.Bus, base time.Duration) *Adapter {
	return New(Options{
		URL:                  fs.url(),
		DialTimeout:          time.Second,
		ReconnectBaseDelay:   base,
		ReconnectMaxDelay:    4 * base,
		MaxReconnectAttempts: 5,
	}, b, zap.NewNop())
}

func waitState(t *testing.T, a *Adapter, want status.ConnState) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if a.State() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("state = %s, want %s", a.State(), want)
}

func TestConnectMissingToken(t *testing.T) {
	fs := newFakeServer(t)
	a := newAdapter(fs, bus.New(), time.Millisecond)
	defer a.Disconnect()

	err := a.Connect(context.Background(), "")
	var ce *chaterr.ConnectionError
	if !errors.As(err, &ce) {
		t.Fatalf("Connect() error = %v, want ConnectionError", err)
	}
	if a.State() != status.ConnError {
		t.Errorf("state = %s, want ERROR", a.State())
	}
	time.Sleep(20 * time.Millisecond)
	if fs.conns.Load() != 0 {
		t.Error("no dial should happen without a credential")
	}
}

func TestConnectRejectedCredentialDoesNotRetry(t *testing.T) {
	fs := newFakeServer(t)
	var hits atomic.Int32
	inner := fs.srv.Config.Handler
	fs.srv.Config.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		inner.ServeHTTP(w, r)
	})
	a := newAdapter(fs, bus.New(), time.Millisecond)
	defer a.Disconnect()

	err := a.Connect(context.Background(), "bad")
	var ce *chaterr.ConnectionError
	if !errors.As(err, &ce) {
		t.Fatalf("Connect() error = %v, want ConnectionError", err)
	}
	time.Sleep(50 * time.Millisecond)
	if got := hits.Load(); got != 1 {
		t.Errorf("server hits = %d, want 1", got)
	}
	if a.State() != status.ConnError {
		t.Errorf("state = %s, want ERROR", a.State())
	}
}

func TestConnectRequiresAuthenticatedFrame(t *testing.T) {
	fs := newFakeServer(t)
	fs.first = "hello"
	a := newAdapter(fs, bus.New(), time.Hour)
	defer a.Disconnect()

	if err := a.Connect(context.Background(), "good"); err == nil {
		t.Fatal("Connect() should fail when the first frame is not authenticated")
	}
	if a.State() != status.ConnError {
		t.Errorf("state = %s, want ERROR", a.State())
	}
}

func TestConnectPublishesStateChanges(t *testing.T) {
	fs := newFakeServer(t)
	b := bus.New()
	changes, unsub := bus.Listen[status.Change[status.ConnState]](b, bus.TransportStateChanged, 8)
	defer unsub()

	a := newAdapter(fs, b, time.Hour)
	if err := a.Connect(context.Background(), "good"); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	a.Disconnect()

	want := []status.ConnState{status.Connecting, status.Connected, status.Disconnected}
	for _, w := range want {
		select {
		case c := <-changes:
			if c.To != w {
				t.Fatalf("transition to %s, want %s", c.To, w)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for %s", w)
		}
	}
}

func TestConnectWhileConnectedIsNoop(t *testing.T) {
	fs := newFakeServer(t)
	a := newAdapter(fs, bus.New(), time.Hour)
	defer a.Disconnect()

	for range 2 {
		if err := a.Connect(context.Background(), "good"); err != nil {
			t.Fatal(err)
		}
	}
	if got := fs.conns.Load(); got != 1 {
		t.Errorf("connections = %d, want 1", got)
	}
}

func TestInboundFramesBecomeEvents(t *testing.T) {
	fs := newFakeServer(t)
	created := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	fs.script = func(_ int32, c *websocket.Conn) bool {
		ctx := context.Background()
		_ = writeEnvelope(ctx, c, wire.Envelope{Type: wire.TypeMessageNew, ConversationID: "c1",
			Message: &wire.Message{ID: "m1", SenderID: "p1", Body: "hi", CreatedAt: created}})
		_ = writeEnvelope(ctx, c, wire.Envelope{Type: wire.TypeTyping, ConversationID: "c1",
			Metadata: &wire.Metadata{UserID: "p1", IsTyping: true}})
		_ = writeEnvelope(ctx, c, wire.Envelope{Type: wire.TypeMessagesRead, ConversationID: "c1",
			Metadata: &wire.Metadata{UserID: "p1"}})
		_ = writeEnvelope(ctx, c, wire.Envelope{Type: wire.TypeError, Metadata: &wire.Metadata{Error: "slow down"}})
		return true
	}
	b := bus.New()
	events, unsub := b.Subscribe("transport.", 32)
	defer unsub()

	a := newAdapter(fs, b, time.Hour)
	if err := a.Connect(context.Background(), "good"); err != nil {
		t.Fatal(err)
	}
	defer a.Disconnect()

	got := map[string]any{}
	timeout := time.After(2 * time.Second)
	for len(got) < 4 {
		select {
		case evt := <-events:
			switch evt.Kind {
			case bus.TransportNewMessage, bus.TransportTyping, bus.TransportMessagesRead, bus.TransportError:
				got[evt.Kind] = evt.Payload
			}
		case <-timeout:
			t.Fatalf("timed out, got %v", got)
		}
	}

	m := got[bus.TransportNewMessage].(store.Message)
	if m.ID != "m1" || m.ConversationID != "c1" || !m.CreatedAt.Equal(created) {
		t.Errorf("message = %+v", m)
	}
	if ty := got[bus.TransportTyping].(Typing); !ty.IsTyping || ty.UserID != "p1" {
		t.Errorf("typing = %+v", ty)
	}
	if rr := got[bus.TransportMessagesRead].(ReadReceipt); rr.ReaderID != "p1" || rr.ConversationID != "c1" {
		t.Errorf("read receipt = %+v", rr)
	}
	var se *ServerError
	if err, _ := got[bus.TransportError].(error); !errors.As(err, &se) || se.Message != "slow down" {
		t.Errorf("error payload = %v", got[bus.TransportError])
	}
}

func TestSendRequiresConnection(t *testing.T) {
	fs := newFakeServer(t)
	a := newAdapter(fs, bus.New(), time.Hour)

	if err := a.Send(context.Background(), "c1", "hi"); !errors.Is(err, chaterr.ErrNotConnected) {
		t.Errorf("Send() error = %v, want ErrNotConnected", err)
	}
	if err := a.MarkRead(context.Background(), "c1"); !errors.Is(err, chaterr.ErrNotConnected) {
		t.Errorf("MarkRead() error = %v, want ErrNotConnected", err)
	}
}

func TestOutboundFrames(t *testing.T) {
	fs := newFakeServer(t)
	a := newAdapter(fs, bus.New(), time.Hour)
	if err := a.Connect(context.Background(), "good"); err != nil {
		t.Fatal(err)
	}
	defer a.Disconnect()

	ctx := context.Background()
	if err := a.Send(ctx, "c1", "hello"); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if err := a.MarkRead(ctx, "c1"); err != nil {
		t.Fatalf("MarkRead() error = %v", err)
	}
	if err := a.Typing(ctx, "c1", true); err != nil {
		t.Fatalf("Typing() error = %v", err)
	}

	want := []wire.Envelope{
		{Type: wire.TypeMessageSend, ConversationID: "c1", Body: "hello"},
		{Type: wire.TypeMessagesRead, ConversationID: "c1"},
		{Type: wire.TypeTyping, ConversationID: "c1"},
	}
	for _, w := range want {
		select {
		case got := <-fs.frames:
			if got.Type != w.Type || got.ConversationID != w.ConversationID || got.Body != w.Body {
				t.Errorf("frame = %+v, want %+v", got, w)
			}
			if got.Type == wire.TypeTyping && (got.Metadata == nil || !got.Metadata.IsTyping) {
				t.Errorf("typing frame missing isTyping: %+v", got)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for %s", w.Type)
		}
	}
}

func TestCancelledSendKeepsConnection(t *testing.T) {
	fs := newFakeServer(t)
	a := newAdapter(fs, bus.New(), time.Hour)
	if err := a.Connect(context.Background(), "good"); err != nil {
		t.Fatal(err)
	}
	defer a.Disconnect()

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	if err := a.Send(cancelled, "c1", "dropped"); !errors.Is(err, context.Canceled) {
		t.Errorf("Send() error = %v, want context.Canceled", err)
	}
	if a.State() != status.Connected {
		t.Fatalf("state = %s after abandoned send", a.State())
	}

	if err := a.Send(context.Background(), "c1", "kept"); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	select {
	case got := <-fs.frames:
		if got.Body != "kept" {
			t.Errorf("frame body = %q, want kept", got.Body)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for frame")
	}
	if n := fs.conns.Load(); n != 1 {
		t.Errorf("connections = %d, want 1", n)
	}
}

func TestLargeFrameIsDelivered(t *testing.T) {
	fs := newFakeServer(t)
	// json escapes "<" to six bytes, well past the library's default read limit.
	body := strings.Repeat("<", wire.MaxBodyBytes)
	fs.script = func(_ int32, c *websocket.Conn) bool {
		_ = writeEnvelope(context.Background(), c, wire.Envelope{Type: wire.TypeMessageNew, ConversationID: "c1",
			Message: &wire.Message{ID: "big", SenderID: "p1", Body: body, CreatedAt: time.Now()}})
		return true
	}
	b := bus.New()
	events, unsub := b.Subscribe(bus.TransportNewMessage, 4)
	defer unsub()

	a := newAdapter(fs, b, time.Hour)
	if err := a.Connect(context.Background(), "good"); err != nil {
		t.Fatal(err)
	}
	defer a.Disconnect()

	select {
	case evt := <-events:
		if m := evt.Payload.(store.Message); len(m.Body) != len(body) {
			t.Errorf("body length = %d, want %d", len(m.Body), len(body))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("large frame not delivered")
	}
	if a.State() != status.Connected {
		t.Errorf("state = %s, want CONNECTED", a.State())
	}
}

func TestDisconnectIdempotent(t *testing.T) {
	fs := newFakeServer(t)
	a := newAdapter(fs, bus.New(), time.Hour)

	a.Disconnect()
	if a.State() != status.Disconnected {
		t.Errorf("state = %s", a.State())
	}
	if err := a.Connect(context.Background(), "good"); err != nil {
		t.Fatal(err)
	}
	a.Disconnect()
	a.Disconnect()
	if a.State() != status.Disconnected {
		t.Errorf("state = %s, want DISCONNECTED", a.State())
	}
	if err := a.Send(context.Background(), "c1", "x"); !errors.Is(err, chaterr.ErrNotConnected) {
		t.Errorf("Send() after Disconnect error = %v", err)
	}
}

func TestReconnectAfterDrop(t *testing.T) {
	fs := newFakeServer(t)
	fs.script = func(n int32, _ *websocket.Conn) bool { return n > 1 }
	b := bus.New()
	connected, unsub := b.Subscribe(bus.TransportConnected, 4)
	defer unsub()

	a := newAdapter(fs, b, 10*time.Millisecond)
	defer a.Disconnect()
	if err := a.Connect(context.Background(), "good"); err != nil {
		t.Fatal(err)
	}

	for i := range 2 {
		select {
		case <-connected:
		case <-time.After(3 * time.Second):
			t.Fatalf("connected event %d not received", i+1)
		}
	}
	waitState(t, a, status.Connected)
	if got := fs.conns.Load(); got != 2 {
		t.Errorf("connections = %d, want 2", got)
	}
}

func TestDisconnectCancelsPendingReconnect(t *testing.T) {
	fs := newFakeServer(t)
	fs.script = func(int32, *websocket.Conn) bool { return false }

	a := newAdapter(fs, bus.New(), 200*time.Millisecond)
	if err := a.Connect(context.Background(), "good"); err != nil {
		t.Fatal(err)
	}
	waitState(t, a, status.ConnError)
	a.Disconnect()

	time.Sleep(600 * time.Millisecond)
	if got := fs.conns.Load(); got != 1 {
		t.Errorf("connections = %d, want 1 (reconnect should be cancelled)", got)
	}
	if a.State() != status.Disconnected {
		t.Errorf("state = %s, want DISCONNECTED", a.State())
	}
}

func TestReconnectorBackoff(t *testing.T) {
	r := newReconnector(100*time.Millisecond, time.Second, 3)
	var prev time.Duration
	for i := range 3 {
		if !r.shouldReconnect() {
			t.Fatalf("attempt %d refused", i)
		}
		d := r.nextDelay()
		if d > time.Second {
			t.Errorf("delay %v exceeds max", d)
		}
		if d < prev && d != time.Second {
			t.Errorf("delay %v shrank from %v", d, prev)
		}
		prev = d
	}
	if r.shouldReconnect() {
		t.Error("attempts beyond max should be refused")
	}
	r.reset()
	if !r.shouldReconnect() {
		t.Error("reset should allow attempts again")
	}
}
