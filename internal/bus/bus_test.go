package bus

import (
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestPublishSubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("transport.", 10)
	defer unsub()

	b.Publish(Event{Kind: TransportStateChanged, Timestamp: time.Now(), Payload: "test"})

	select {
	case evt := <-ch:
		if evt.Kind != TransportStateChanged {
			t.Errorf("got kind %q, want %s", evt.Kind, TransportStateChanged)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestNamespaceFiltering(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("poll.", 10)
	defer unsub()

	b.Emit(TransportConnected, nil)
	b.Emit(PollTickFailed, nil)

	select {
	case evt := <-ch:
		if evt.Kind != PollTickFailed {
			t.Errorf("got kind %q, want %s", evt.Kind, PollTickFailed)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}

	select {
	case evt := <-ch:
		t.Errorf("unexpected event: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPublishStampsTimestamp(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("store.", 1)
	defer unsub()

	b.Publish(Event{Kind: StoreUpdated})
	evt := <-ch
	if evt.Timestamp.IsZero() {
		t.Error("timestamp not set on publish")
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("transport.", 10)
	unsub()
	unsub()

	b.Emit(TransportConnected, nil)

	if _, ok := <-ch; ok {
		t.Error("received event after unsubscribe")
	}
}

func TestDropOnFullBuffer(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("chat.", 1)
	defer unsub()

	b.Emit(ChatViewChanged, 1)
	b.Emit(ChatViewChanged, 2)

	evt := <-ch
	if evt.Payload != 1 {
		t.Errorf("got payload %v, want 1", evt.Payload)
	}
	select {
	case evt := <-ch:
		t.Errorf("second event should have been dropped, got %v", evt)
	default:
	}
}

func TestCloseEndsSubscriptions(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("", 1)
	defer unsub()

	b.Close()
	if _, ok := <-ch; ok {
		t.Error("channel still open after Close")
	}

	late, unsubLate := b.Subscribe("", 1)
	defer unsubLate()
	if _, ok := <-late; ok {
		t.Error("subscription after Close should be closed")
	}
	b.Emit(StoreUpdated, nil)
}

func TestListenTyped(t *testing.T) {
	b := New()
	stream, unsub := Listen[int](b, TransportTyping, 4)

	b.Emit(TransportTyping, "not an int")
	b.Emit(TransportTypingSuffixProbe, 99)
	b.Emit(TransportTyping, 7)

	select {
	case v := <-stream:
		if v != 7 {
			t.Errorf("got %d, want 7", v)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for typed payload")
	}

	unsub()
	select {
	case _, ok := <-stream:
		if ok {
			t.Error("stream should be closed after unsubscribe")
		}
	case <-time.After(time.Second):
		t.Fatal("stream not closed after unsubscribe")
	}
}

// TransportTypingSuffixProbe shares the TransportTyping prefix; Listen must
// match the kind exactly.
const TransportTypingSuffixProbe = TransportTyping + "_probe"

func TestDroppedEventIsLogged(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	b := New(WithLogger(zap.New(core)))
	ch, unsub := b.Subscribe("transport.", 1)
	defer unsub()

	b.Emit(TransportNewMessage, 1)
	b.Emit(TransportNewMessage, 2)

	if evt := <-ch; evt.Payload != 1 {
		t.Errorf("delivered payload = %v, want 1", evt.Payload)
	}
	dropped := logs.FilterMessage("event dropped, subscriber buffer full").All()
	if len(dropped) != 1 {
		t.Fatalf("dropped log entries = %d, want 1", len(dropped))
	}
	if kind := dropped[0].ContextMap()["kind"]; kind != TransportNewMessage {
		t.Errorf("logged kind = %v, want %s", kind, TransportNewMessage)
	}
}
