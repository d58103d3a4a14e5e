package bus

import (
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("gw.", 10)
	defer unsub()

	b.Publish(Now(KindGatewayMessage, "payload"))

	select {
	case evt := <-ch:
		if evt.Kind != KindGatewayMessage {
			t.Errorf("got kind %q, want %q", evt.Kind, KindGatewayMessage)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestPrefixFiltering(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("msg.", 10)
	defer unsub()

	b.Publish(Now(KindGatewayPresence, nil))
	b.Publish(Now(KindMessageUpdated, nil))

	select {
	case evt := <-ch:
		if evt.Kind != KindMessageUpdated {
			t.Errorf("got kind %q, want %q", evt.Kind, KindMessageUpdated)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}

	// The presence event must not have been delivered.
	select {
	case evt := <-ch:
		t.Errorf("unexpected event: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestEmptyPrefixMatchesAll(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("", 10)
	defer unsub()

	b.Publish(Now(KindGatewayTyping, nil))
	b.Publish(Now(KindConversationUpdated, nil))

	for n := 0; n < 2; n++ {
		select {
		case <-ch:
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for event")
		}
	}
}

func TestUnsubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("gw.", 10)
	unsub()

	b.Publish(Now(KindGatewayMessage, nil))

	select {
	case evt := <-ch:
		t.Errorf("received event after unsubscribe: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDropOnFullBuffer(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("gw.", 1)
	defer unsub()

	b.Publish(Now("gw.one", nil))
	b.Publish(Now("gw.two", nil))

	evt := <-ch
	if evt.Kind != "gw.one" {
		t.Errorf("got %q, want gw.one", evt.Kind)
	}
	if b.Dropped() != 1 {
		t.Errorf("dropped = %d, want 1", b.Dropped())
	}
}
