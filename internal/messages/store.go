// Package messages owns the per-conversation ordered message lists and the
// send/delivery/read state machine. All mutation goes through Store methods;
// every accepted mutation is published on the bus as a msg.updated event.
package messages

import (
	"errors"
	"fmt"
	"sync"

	"github.com/soukly/convo/internal/bus"
	"go.uber.org/zap"
)

var (
	// ErrNotFound means the message id is not in the loaded window.
	ErrNotFound = errors.New("message not found")
	// ErrUnknownTempID means an ack referenced a temp id that is not pending.
	ErrUnknownTempID = errors.New("unknown or already reconciled temp id")
	// ErrNotSender means the caller does not own the message.
	ErrNotSender = errors.New("only the sender may modify a message")
	// ErrDeleted means the message is a tombstone and cannot be edited.
	ErrDeleted = errors.New("message is deleted")
)

// DeletedPlaceholder is what a reply preview shows when its target is a
// tombstone.
const DeletedPlaceholder = "Message unavailable"

// Store keeps messages in an arena keyed by id plus a per-conversation
// ordered id list. Reconciliation is a key rewrite in the arena and an
// in-place id swap in the order list; the list is never re-sorted.
type Store struct {
	mu     sync.Mutex
	arena  map[string]*Message
	order  map[string][]string
	userID string
	bus    *bus.Bus
	logger *zap.Logger
}

// NewStore creates an empty store acting as the given local user.
func NewStore(userID string, b *bus.Bus, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		arena:  make(map[string]*Message),
		order:  make(map[string][]string),
		userID: userID,
		bus:    b,
		logger: logger,
	}
}

func (s *Store) publish(m *Message) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(bus.Now(bus.KindMessageUpdated, *m))
}

// ApplyLocal inserts an optimistic Pending entry with a temp id. It is the
// only way a message enters the store before the server has seen it.
func (s *Store) ApplyLocal(m *Message) error {
	if !IsTempID(m.ID) {
		return fmt.Errorf("local insert requires a temp id, got %q", m.ID)
	}
	if m.DeliveryState != Pending {
		return fmt.Errorf("local insert must be Pending, got %s", m.DeliveryState)
	}

	s.mu.Lock()
	if _, exists := s.arena[m.ID]; exists {
		s.mu.Unlock()
		return fmt.Errorf("duplicate temp id %q", m.ID)
	}
	cp := *m
	s.arena[cp.ID] = &cp
	s.order[cp.ConversationID] = append(s.order[cp.ConversationID], cp.ID)
	snap := cp
	s.mu.Unlock()

	s.publish(&snap)
	return nil
}

// ApplyIncoming appends a server-delivered message in arrival order.
// Duplicate ids are dropped; timestamps are never used for ordering, so
// clock skew across clients cannot corrupt the list. Returns true if the
// message was new.
func (s *Store) ApplyIncoming(m *Message) bool {
	s.mu.Lock()
	if _, exists := s.arena[m.ID]; exists {
		s.mu.Unlock()
		return false
	}
	cp := *m
	if cp.DeliveryState == "" {
		cp.DeliveryState = Sent
	}
	s.arena[cp.ID] = &cp
	s.order[cp.ConversationID] = append(s.order[cp.ConversationID], cp.ID)
	snap := cp
	s.mu.Unlock()

	s.publish(&snap)
	return true
}

// Reconcile rewrites a Pending entry's temp id to the server-assigned
// permanent id, stamps the server timestamp, and transitions to Sent.
// The entry keeps its list position. Acks for ids that are not Pending
// are rejected with ErrUnknownTempID.
func (s *Store) Reconcile(tempID, permID string, serverTS int64) error {
	s.mu.Lock()
	m, ok := s.arena[tempID]
	if !ok || m.DeliveryState != Pending {
		s.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrUnknownTempID, tempID)
	}

	delete(s.arena, tempID)
	m.ID = permID
	m.CreatedAt = serverTS
	m.DeliveryState = Sent
	s.arena[permID] = m

	ids := s.order[m.ConversationID]
	for i, id := range ids {
		if id == tempID {
			ids[i] = permID
			break
		}
	}
	snap := *m
	s.mu.Unlock()

	if s.bus != nil {
		s.bus.Publish(bus.Now(bus.KindMessageReconciled, Reconciliation{TempID: tempID, PermanentID: permID}))
	}
	s.publish(&snap)
	return nil
}

// Fail transitions a Pending entry to Failed. Retry is an explicit user
// action that composes a brand-new message; Failed is terminal.
func (s *Store) Fail(tempID string) error {
	s.mu.Lock()
	m, ok := s.arena[tempID]
	if !ok || m.DeliveryState != Pending {
		s.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrUnknownTempID, tempID)
	}
	m.DeliveryState = Failed
	snap := *m
	s.mu.Unlock()

	s.publish(&snap)
	return nil
}

// MarkDelivered moves a message to Delivered if the transition is legal.
// Illegal moves (already Read, still Pending) are ignored, keeping the
// state machine monotonic under out-of-order receipts.
func (s *Store) MarkDelivered(messageID string) {
	s.transition(messageID, Delivered)
}

// MarkRead moves every own Sent or Delivered message in the conversation
// to Read. Used when the peer's read receipt for the conversation arrives.
func (s *Store) MarkRead(conversationID string) {
	s.mu.Lock()
	var snaps []Message
	for _, id := range s.order[conversationID] {
		m := s.arena[id]
		if m.SenderID != s.userID {
			continue
		}
		if CanTransition(m.DeliveryState, Read) {
			m.DeliveryState = Read
			snaps = append(snaps, *m)
		}
	}
	s.mu.Unlock()

	for i := range snaps {
		s.publish(&snaps[i])
	}
}

func (s *Store) transition(messageID string, to DeliveryState) {
	s.mu.Lock()
	m, ok := s.arena[messageID]
	if !ok || !CanTransition(m.DeliveryState, to) {
		s.mu.Unlock()
		return
	}
	m.DeliveryState = to
	snap := *m
	s.mu.Unlock()

	s.publish(&snap)
}

// Edit changes a message body on behalf of byUserID. Only the sender may
// edit, tombstones are immutable, and delivery state and position are
// untouched.
func (s *Store) Edit(messageID, body string, editedAt int64, byUserID string) error {
	s.mu.Lock()
	m, ok := s.arena[messageID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrNotFound, messageID)
	}
	if m.SenderID != byUserID {
		s.mu.Unlock()
		return ErrNotSender
	}
	if m.IsDeleted {
		s.mu.Unlock()
		return ErrDeleted
	}
	m.Body = body
	m.EditedAt = editedAt
	snap := *m
	s.mu.Unlock()

	s.publish(&snap)
	return nil
}

// ApplyEdit applies a server-relayed edit without a permission check; the
// server already enforced ownership. Unknown ids are dropped.
func (s *Store) ApplyEdit(messageID, body string, editedAt int64) {
	s.mu.Lock()
	m, ok := s.arena[messageID]
	if !ok || m.IsDeleted {
		s.mu.Unlock()
		return
	}
	m.Body = body
	m.EditedAt = editedAt
	snap := *m
	s.mu.Unlock()

	s.publish(&snap)
}

// Delete tombstones a message on behalf of byUserID. The record stays in
// the arena so ReplyRefs keep resolving; body and attachments are cleared.
func (s *Store) Delete(messageID, byUserID string) error {
	s.mu.Lock()
	m, ok := s.arena[messageID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrNotFound, messageID)
	}
	if m.SenderID != byUserID {
		s.mu.Unlock()
		return ErrNotSender
	}
	m.IsDeleted = true
	m.Body = ""
	m.Attachments = nil
	snap := *m
	s.mu.Unlock()

	s.publish(&snap)
	return nil
}

// ApplyDelete applies a server-relayed delete. Unknown ids are dropped.
func (s *Store) ApplyDelete(messageID string) {
	s.mu.Lock()
	m, ok := s.arena[messageID]
	if !ok {
		s.mu.Unlock()
		return
	}
	m.IsDeleted = true
	m.Body = ""
	m.Attachments = nil
	snap := *m
	s.mu.Unlock()

	s.publish(&snap)
}

// Get returns a copy of the message with the given id.
func (s *Store) Get(messageID string) (Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.arena[messageID]
	if !ok {
		return Message{}, false
	}
	return *m, true
}

// Conversation returns copies of the conversation's messages in list order.
func (s *Store) Conversation(conversationID string) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := s.order[conversationID]
	out := make([]Message, 0, len(ids))
	for _, id := range ids {
		out = append(out, *s.arena[id])
	}
	return out
}

// ResolveReply resolves a ReplyRef for rendering. A tombstoned target
// yields the deterministic placeholder; a target outside the loaded window
// falls back to the denormalized snapshot carried by the ref itself.
func (s *Store) ResolveReply(ref *ReplyRef) (text, senderName string) {
	if ref == nil {
		return "", ""
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.arena[ref.MessageID]; ok && m.IsDeleted {
		return DeletedPlaceholder, ref.PreviewSenderName
	}
	return ref.PreviewText, ref.PreviewSenderName
}

// ScrollTarget returns the list index of a message within the loaded
// window. A target that is paginated out reports ErrNotFound; deciding
// whether to fetch more history is the caller's business.
func (s *Store) ScrollTarget(conversationID, messageID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, id := range s.order[conversationID] {
		if id == messageID {
			return i, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrNotFound, messageID)
}

// Hydrate prepends archived history beneath the live window, oldest first.
// Messages already present are skipped.
func (s *Store) Hydrate(conversationID string, history []Message) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	var added []string
	for i := range history {
		m := history[i]
		if _, exists := s.arena[m.ID]; exists {
			continue
		}
		cp := m
		s.arena[cp.ID] = &cp
		added = append(added, cp.ID)
	}
	if len(added) > 0 {
		s.order[conversationID] = append(added, s.order[conversationID]...)
	}
	return len(added)
}
