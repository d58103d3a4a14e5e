package presence

import (
	"context"
	"testing"
	"time"

	"github.com/soukly/convo/internal/bus"
	"github.com/soukly/convo/internal/gateway"
)

func TestApplyFromBus(t *testing.T) {
	b := bus.New()
	tr := New(b, nil)
	tr.Start(context.Background())
	defer tr.Stop()

	b.Publish(bus.Now(bus.KindGatewayPresence, &gateway.PresenceUpdate{UserID: "u1", Online: true}))

	deadline := time.Now().Add(time.Second)
	for !tr.IsOnline("u1") {
		if time.Now().After(deadline) {
			t.Fatal("u1 never became online")
		}
		time.Sleep(5 * time.Millisecond)
	}

	b.Publish(bus.Now(bus.KindGatewayPresence, &gateway.PresenceUpdate{UserID: "u1", Online: false}))
	for tr.IsOnline("u1") {
		if time.Now().After(deadline) {
			t.Fatal("u1 never went offline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestIsOnlineUnknownPeer(t *testing.T) {
	tr := New(bus.New(), nil)
	if tr.IsOnline("ghost") {
		t.Error("unknown peer reported online")
	}
}

func TestDuplicateUpdatesNoEvent(t *testing.T) {
	b := bus.New()
	tr := New(b, nil)

	ch, unsub := b.Subscribe(bus.KindPresenceChanged, 10)
	defer unsub()

	tr.apply("u1", true)
	tr.apply("u1", true) // duplicate must not emit

	<-ch
	select {
	case evt := <-ch:
		t.Errorf("unexpected second event: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSnapshot(t *testing.T) {
	tr := New(bus.New(), nil)
	tr.apply("a", true)
	tr.apply("b", true)
	tr.apply("a", false)

	snap := tr.Snapshot()
	if len(snap) != 1 || snap[0] != "b" {
		t.Errorf("Snapshot() = %v, want [b]", snap)
	}
}
