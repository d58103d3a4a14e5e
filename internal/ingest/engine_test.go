package ingest

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/soukly/convo/internal/bus"
	"github.com/soukly/convo/internal/compose"
	"github.com/soukly/convo/internal/gateway"
	"github.com/soukly/convo/internal/messages"
	"github.com/soukly/convo/internal/registry"
)

type nullEmitter struct{}

func (nullEmitter) Send(event string, payload any) error { return nil }
func (nullEmitter) Connected() bool                      { return true }

type fixture struct {
	bus      *bus.Bus
	store    *messages.Store
	registry *registry.Registry
	composer *compose.Composer
	engine   *Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	b := bus.New()
	st := messages.NewStore("me", b, zap.NewNop())
	reg := registry.New("me", b, zap.NewNop())
	comp := compose.New(nullEmitter{}, st, reg, "me", "Me", time.Minute, b, zap.NewNop())

	e := NewEngine(st, reg, comp, b, zap.NewNop())
	e.Start(context.Background())
	t.Cleanup(e.Stop)
	t.Cleanup(comp.Close)
	return &fixture{bus: b, store: st, registry: reg, composer: comp, engine: e}
}

// waitFor polls until cond holds or the deadline passes. Ingestion is
// asynchronous, so tests observe effects rather than call sites.
func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func inbound(id, conv, sender, body string, ts int64) bus.Event {
	return bus.Now(bus.KindGatewayMessage, &gateway.InboundMessage{
		ID: id, ConversationID: conv, SenderID: sender, Body: body, CreatedAt: ts,
	})
}

func TestInboundMessageLandsInStoreAndRegistry(t *testing.T) {
	f := newFixture(t)

	f.bus.Publish(inbound("m1", "conv-1", "peer-1", "hello", 1000))

	waitFor(t, func() bool {
		_, ok := f.store.Get("m1")
		return ok
	}, "message never ingested")

	conv, ok := f.registry.Get("conv-1")
	if !ok {
		t.Fatal("conversation not created")
	}
	if conv.UnreadCount != 1 {
		t.Errorf("unread = %d, want 1", conv.UnreadCount)
	}
	if conv.LastMessage == nil || conv.LastMessage.Preview != "hello" {
		t.Errorf("preview = %+v", conv.LastMessage)
	}
}

func TestReplayedFrameCountsOnce(t *testing.T) {
	f := newFixture(t)

	f.bus.Publish(inbound("m1", "conv-1", "peer-1", "hello", 1000))
	f.bus.Publish(inbound("m1", "conv-1", "peer-1", "hello", 1000))
	f.bus.Publish(inbound("m2", "conv-1", "peer-1", "again", 1001))

	waitFor(t, func() bool {
		_, ok := f.store.Get("m2")
		return ok
	}, "second message never ingested")

	if got := len(f.store.Conversation("conv-1")); got != 2 {
		t.Errorf("store has %d messages, want 2", got)
	}
	conv, _ := f.registry.Get("conv-1")
	if conv.UnreadCount != 2 {
		t.Errorf("unread = %d, want 2 (duplicate not counted)", conv.UnreadCount)
	}
}

func TestAckEventReconcilesPendingSend(t *testing.T) {
	f := newFixture(t)

	tempID, err := f.composer.Compose(compose.Draft{ConversationID: "conv-1", PeerID: "peer-1", Body: "hi"})
	if err != nil {
		t.Fatal(err)
	}

	f.bus.Publish(bus.Now(bus.KindGatewayAck, &gateway.MessageAck{
		TempID: tempID, PermanentID: "perm-1", ServerTimestamp: 2000,
	}))

	waitFor(t, func() bool {
		m, ok := f.store.Get("perm-1")
		return ok && m.DeliveryState == messages.Sent
	}, "ack never reconciled")

	if _, ok := f.store.Get(tempID); ok {
		t.Error("temp id still resolvable after reconciliation")
	}
}

func TestEditAndDeleteEvents(t *testing.T) {
	f := newFixture(t)

	f.bus.Publish(inbound("m1", "conv-1", "peer-1", "first", 1000))
	f.bus.Publish(bus.Now(bus.KindGatewayEdited, &gateway.MessageEdited{
		MessageID: "m1", Body: "first (edited)", EditedAt: 1500,
	}))

	waitFor(t, func() bool {
		m, ok := f.store.Get("m1")
		return ok && m.EditedAt == 1500
	}, "edit never applied")

	m, _ := f.store.Get("m1")
	if m.Body != "first (edited)" {
		t.Errorf("body = %q", m.Body)
	}

	f.bus.Publish(bus.Now(bus.KindGatewayDeleted, &gateway.MessageDeleted{MessageID: "m1"}))
	waitFor(t, func() bool {
		m, ok := f.store.Get("m1")
		return ok && m.IsDeleted
	}, "delete never applied")
}

func TestDeliveredAndReadEvents(t *testing.T) {
	f := newFixture(t)

	tempID, _ := f.composer.Compose(compose.Draft{ConversationID: "conv-1", PeerID: "peer-1", Body: "hi"})
	f.bus.Publish(bus.Now(bus.KindGatewayAck, &gateway.MessageAck{
		TempID: tempID, PermanentID: "perm-1", ServerTimestamp: 2000,
	}))
	f.bus.Publish(bus.Now(bus.KindGatewayDelivered, &gateway.MessageDelivered{
		ConversationID: "conv-1", MessageID: "perm-1",
	}))

	waitFor(t, func() bool {
		m, _ := f.store.Get("perm-1")
		return m.DeliveryState == messages.Delivered
	}, "delivered never applied")

	f.bus.Publish(bus.Now(bus.KindGatewayRead, &gateway.MessagesRead{
		ConversationID: "conv-1", UserID: "peer-1",
	}))
	waitFor(t, func() bool {
		m, _ := f.store.Get("perm-1")
		return m.DeliveryState == messages.Read
	}, "read never applied")
}

func TestDisconnectFailsInFlightSends(t *testing.T) {
	f := newFixture(t)

	tempID, _ := f.composer.Compose(compose.Draft{ConversationID: "conv-1", PeerID: "peer-1", Body: "hi"})

	f.bus.Publish(bus.Now(bus.KindGatewayStateChanged, gateway.StateChange{
		From: gateway.StateConnected, To: gateway.StateDisconnected,
	}))

	waitFor(t, func() bool {
		m, _ := f.store.Get(tempID)
		return m.DeliveryState == messages.Failed
	}, "in-flight send never failed on disconnect")
}

func TestTransportOrderWinsOverTimestamps(t *testing.T) {
	f := newFixture(t)

	// Older timestamp arrives second: list order follows arrival, preview
	// follows creation time.
	f.bus.Publish(inbound("m2", "conv-1", "peer-1", "newer", 2000))
	f.bus.Publish(inbound("m1", "conv-1", "peer-1", "older", 1000))

	waitFor(t, func() bool {
		return len(f.store.Conversation("conv-1")) == 2
	}, "messages never ingested")

	msgs := f.store.Conversation("conv-1")
	if msgs[0].ID != "m2" || msgs[1].ID != "m1" {
		t.Errorf("order = [%s %s], want arrival order [m2 m1]", msgs[0].ID, msgs[1].ID)
	}
	conv, _ := f.registry.Get("conv-1")
	if conv.LastMessage.Preview != "newer" {
		t.Errorf("preview = %q, want newest by creation time", conv.LastMessage.Preview)
	}
}
