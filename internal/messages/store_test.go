package messages

import (
	"errors"
	"testing"
	"time"

	"github.com/soukly/convo/internal/bus"
)

const me = "user-self"

func pendingMsg(tempID, conv, body string) *Message {
	return &Message{
		ID:             tempID,
		ConversationID: conv,
		SenderID:       me,
		Body:           body,
		CreatedAt:      time.Now().UnixMilli(),
		DeliveryState:  Pending,
	}
}

func TestApplyLocalRequiresTempID(t *testing.T) {
	s := NewStore(me, nil, nil)
	err := s.ApplyLocal(&Message{ID: "perm-1", ConversationID: "c1", DeliveryState: Pending})
	if err == nil {
		t.Error("ApplyLocal with permanent id should fail")
	}
}

func TestReconcileKeepsPosition(t *testing.T) {
	s := NewStore(me, nil, nil)

	// An older incoming message, then our pending send, then another incoming.
	s.ApplyIncoming(&Message{ID: "p1", ConversationID: "c1", SenderID: "peer", Body: "hi"})
	if err := s.ApplyLocal(pendingMsg("tmp-1", "c1", "mine")); err != nil {
		t.Fatal(err)
	}
	s.ApplyIncoming(&Message{ID: "p2", ConversationID: "c1", SenderID: "peer", Body: "more"})

	// Server timestamp is far in the future; position must not change.
	if err := s.Reconcile("tmp-1", "perm-9", time.Now().Add(time.Hour).UnixMilli()); err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}

	msgs := s.Conversation("c1")
	if len(msgs) != 3 {
		t.Fatalf("got %d messages, want 3", len(msgs))
	}
	if msgs[1].ID != "perm-9" {
		t.Errorf("middle message id = %q, want perm-9 (position preserved)", msgs[1].ID)
	}
	if msgs[1].DeliveryState != Sent {
		t.Errorf("state = %s, want SENT", msgs[1].DeliveryState)
	}
	if _, ok := s.Get("tmp-1"); ok {
		t.Error("temp id still resolvable after reconciliation")
	}
}

func TestReconcileThenEditLeavesSingleMessage(t *testing.T) {
	s := NewStore(me, nil, nil)
	if err := s.ApplyLocal(pendingMsg("tmp-7", "c1", "draft")); err != nil {
		t.Fatal(err)
	}
	if err := s.Reconcile("tmp-7", "P", 1000); err != nil {
		t.Fatal(err)
	}
	s.ApplyEdit("P", "x", 2000)

	msgs := s.Conversation("c1")
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want exactly 1", len(msgs))
	}
	if msgs[0].ID != "P" || msgs[0].Body != "x" {
		t.Errorf("message = {id:%q body:%q}, want {id:P body:x}", msgs[0].ID, msgs[0].Body)
	}
	if msgs[0].EditedAt != 2000 {
		t.Errorf("EditedAt = %d, want 2000", msgs[0].EditedAt)
	}
}

func TestReconcileUnknownTempID(t *testing.T) {
	s := NewStore(me, nil, nil)
	if err := s.Reconcile("tmp-ghost", "P", 1); !errors.Is(err, ErrUnknownTempID) {
		t.Errorf("error = %v, want ErrUnknownTempID", err)
	}

	// A second ack for an already reconciled id must also be rejected.
	_ = s.ApplyLocal(pendingMsg("tmp-1", "c1", "x"))
	_ = s.Reconcile("tmp-1", "P1", 1)
	if err := s.Reconcile("tmp-1", "P2", 2); !errors.Is(err, ErrUnknownTempID) {
		t.Errorf("second ack error = %v, want ErrUnknownTempID", err)
	}
}

func TestApplyIncomingDeduplicates(t *testing.T) {
	s := NewStore(me, nil, nil)
	m := &Message{ID: "p1", ConversationID: "c1", SenderID: "peer", Body: "hi"}
	if !s.ApplyIncoming(m) {
		t.Fatal("first delivery should be accepted")
	}
	if s.ApplyIncoming(m) {
		t.Error("duplicate delivery should be dropped")
	}
	if got := len(s.Conversation("c1")); got != 1 {
		t.Errorf("got %d messages, want 1", got)
	}
}

func TestApplyIncomingKeepsTransportOrder(t *testing.T) {
	s := NewStore(me, nil, nil)
	// Later arrival carries an earlier timestamp (clock skew); order must
	// follow arrival, not timestamps.
	s.ApplyIncoming(&Message{ID: "a", ConversationID: "c1", SenderID: "peer", CreatedAt: 5000})
	s.ApplyIncoming(&Message{ID: "b", ConversationID: "c1", SenderID: "peer", CreatedAt: 1000})

	msgs := s.Conversation("c1")
	if msgs[0].ID != "a" || msgs[1].ID != "b" {
		t.Errorf("order = [%s %s], want [a b]", msgs[0].ID, msgs[1].ID)
	}
}

func TestDeliveryStateMachine(t *testing.T) {
	tests := []struct {
		from, to DeliveryState
		ok       bool
	}{
		{Pending, Sent, true},
		{Pending, Failed, true},
		{Sent, Delivered, true},
		{Sent, Read, true},
		{Delivered, Read, true},
		{Read, Delivered, false},
		{Read, Sent, false},
		{Delivered, Sent, false},
		{Failed, Sent, false},
		{Pending, Delivered, false},
		{Pending, Read, false},
	}
	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.ok {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.ok)
		}
	}
}

func TestMarkDeliveredIgnoresBackwardMove(t *testing.T) {
	s := NewStore(me, nil, nil)
	_ = s.ApplyLocal(pendingMsg("tmp-1", "c1", "x"))
	_ = s.Reconcile("tmp-1", "P", 1)
	s.MarkRead("c1")

	// A late delivered receipt must not demote Read.
	s.MarkDelivered("P")
	m, _ := s.Get("P")
	if m.DeliveryState != Read {
		t.Errorf("state = %s, want READ", m.DeliveryState)
	}
}

func TestMarkReadOnlyOwnMessages(t *testing.T) {
	s := NewStore(me, nil, nil)
	_ = s.ApplyLocal(pendingMsg("tmp-1", "c1", "mine"))
	_ = s.Reconcile("tmp-1", "P", 1)
	s.ApplyIncoming(&Message{ID: "theirs", ConversationID: "c1", SenderID: "peer", DeliveryState: Sent})

	s.MarkRead("c1")

	mine, _ := s.Get("P")
	theirs, _ := s.Get("theirs")
	if mine.DeliveryState != Read {
		t.Errorf("own message state = %s, want READ", mine.DeliveryState)
	}
	if theirs.DeliveryState != Sent {
		t.Errorf("peer message state = %s, want SENT (untouched)", theirs.DeliveryState)
	}
}

func TestFailOnlyPending(t *testing.T) {
	s := NewStore(me, nil, nil)
	_ = s.ApplyLocal(pendingMsg("tmp-1", "c1", "x"))
	_ = s.Reconcile("tmp-1", "P", 1)

	// Ack already arrived: a late timeout must not fail the message.
	if err := s.Fail("tmp-1"); !errors.Is(err, ErrUnknownTempID) {
		t.Errorf("Fail after reconcile error = %v, want ErrUnknownTempID", err)
	}
	m, _ := s.Get("P")
	if m.DeliveryState != Sent {
		t.Errorf("state = %s, want SENT", m.DeliveryState)
	}
}

func TestEditPermissions(t *testing.T) {
	s := NewStore(me, nil, nil)
	s.ApplyIncoming(&Message{ID: "theirs", ConversationID: "c1", SenderID: "peer", Body: "hello"})

	if err := s.Edit("theirs", "hijacked", 1, me); !errors.Is(err, ErrNotSender) {
		t.Errorf("editing a peer message error = %v, want ErrNotSender", err)
	}

	_ = s.ApplyLocal(pendingMsg("tmp-1", "c1", "v1"))
	_ = s.Reconcile("tmp-1", "P", 1)
	if err := s.Edit("P", "v2", 2, me); err != nil {
		t.Fatalf("Edit() error = %v", err)
	}
	m, _ := s.Get("P")
	if m.Body != "v2" || m.EditedAt != 2 {
		t.Errorf("message = %+v, want body v2 edited at 2", m)
	}
	if m.DeliveryState != Sent {
		t.Errorf("edit changed delivery state to %s", m.DeliveryState)
	}
}

func TestEditDeletedFails(t *testing.T) {
	s := NewStore(me, nil, nil)
	_ = s.ApplyLocal(pendingMsg("tmp-1", "c1", "v1"))
	_ = s.Reconcile("tmp-1", "P", 1)
	if err := s.Delete("P", me); err != nil {
		t.Fatal(err)
	}
	if err := s.Edit("P", "v2", 2, me); !errors.Is(err, ErrDeleted) {
		t.Errorf("edit of tombstone error = %v, want ErrDeleted", err)
	}
}

func TestDeleteTombstoneResolvesReply(t *testing.T) {
	s := NewStore(me, nil, nil)
	_ = s.ApplyLocal(pendingMsg("tmp-1", "c1", "original text"))
	_ = s.Reconcile("tmp-1", "M", 1)

	ref := &ReplyRef{MessageID: "M", PreviewText: "original text", PreviewSenderName: "Me"}
	s.ApplyIncoming(&Message{ID: "R", ConversationID: "c1", SenderID: "peer", Body: "replying", ReplyTo: ref})

	if err := s.Delete("M", me); err != nil {
		t.Fatal(err)
	}

	// The tombstone stays resolvable and yields the placeholder.
	text, sender := s.ResolveReply(ref)
	if text != DeletedPlaceholder {
		t.Errorf("reply text = %q, want %q", text, DeletedPlaceholder)
	}
	if sender != "Me" {
		t.Errorf("reply sender = %q, want Me", sender)
	}

	m, ok := s.Get("M")
	if !ok {
		t.Fatal("tombstone removed from arena")
	}
	if !m.IsDeleted || m.Body != "" || m.Attachments != nil {
		t.Errorf("tombstone = %+v, want deleted with cleared body/attachments", m)
	}
}

func TestResolveReplyOutsideWindow(t *testing.T) {
	s := NewStore(me, nil, nil)
	ref := &ReplyRef{MessageID: "ancient", PreviewText: "old words", PreviewSenderName: "Them"}
	text, sender := s.ResolveReply(ref)
	if text != "old words" || sender != "Them" {
		t.Errorf("ResolveReply = (%q, %q), want denormalized snapshot", text, sender)
	}
}

func TestScrollTarget(t *testing.T) {
	s := NewStore(me, nil, nil)
	s.ApplyIncoming(&Message{ID: "a", ConversationID: "c1", SenderID: "peer"})
	s.ApplyIncoming(&Message{ID: "b", ConversationID: "c1", SenderID: "peer"})

	idx, err := s.ScrollTarget("c1", "b")
	if err != nil || idx != 1 {
		t.Errorf("ScrollTarget(b) = (%d, %v), want (1, nil)", idx, err)
	}
	if _, err := s.ScrollTarget("c1", "paginated-out"); !errors.Is(err, ErrNotFound) {
		t.Errorf("ScrollTarget miss error = %v, want ErrNotFound", err)
	}
}

func TestHydratePrependsHistory(t *testing.T) {
	s := NewStore(me, nil, nil)
	s.ApplyIncoming(&Message{ID: "live", ConversationID: "c1", SenderID: "peer"})

	added := s.Hydrate("c1", []Message{
		{ID: "old1", ConversationID: "c1", SenderID: "peer"},
		{ID: "old2", ConversationID: "c1", SenderID: "peer"},
		{ID: "live", ConversationID: "c1", SenderID: "peer"}, // dup
	})
	if added != 2 {
		t.Errorf("Hydrate added %d, want 2", added)
	}
	msgs := s.Conversation("c1")
	want := []string{"old1", "old2", "live"}
	for i, w := range want {
		if msgs[i].ID != w {
			t.Errorf("msgs[%d].ID = %q, want %q", i, msgs[i].ID, w)
		}
	}
}

func TestMutationsPublishEvents(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("msg.", 16)
	defer unsub()

	s := NewStore(me, b, nil)
	_ = s.ApplyLocal(pendingMsg("tmp-1", "c1", "x"))
	_ = s.Reconcile("tmp-1", "P", 1)

	next := func() bus.Event {
		t.Helper()
		select {
		case evt := <-ch:
			return evt
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for msg event")
			return bus.Event{}
		}
	}

	if m, ok := next().Payload.(Message); !ok || m.ID != "tmp-1" {
		t.Errorf("first event = %+v, want update for tmp-1", m)
	}
	rec, ok := next().Payload.(Reconciliation)
	if !ok || rec.TempID != "tmp-1" || rec.PermanentID != "P" {
		t.Errorf("second event = %+v, want reconciliation tmp-1 -> P", rec)
	}
	if m, ok := next().Payload.(Message); !ok || m.ID != "P" {
		t.Errorf("third event = %+v, want update for P", m)
	}
}
