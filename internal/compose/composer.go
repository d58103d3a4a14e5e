// Package compose turns drafts into wire frames. The flow is optimistic:
// the message lands in the local store as Pending before any byte leaves
// the process, then reconciles or fails when the server answers (or
// doesn't, within the ack window).
package compose

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/soukly/convo/internal/attach"
	"github.com/soukly/convo/internal/bus"
	"github.com/soukly/convo/internal/gateway"
	"github.com/soukly/convo/internal/messages"
	"github.com/soukly/convo/internal/registry"
)

var (
	// ErrEmptyDraft means the draft has no text and no attachments.
	ErrEmptyDraft = errors.New("draft is empty")
	// ErrSelfChat means the draft targets the local user's own id.
	ErrSelfChat = errors.New("cannot message yourself")
)

// Emitter sends frames to the gateway.
type Emitter interface {
	Send(event string, payload any) error
	Connected() bool
}

// Draft is composer input: what the user typed plus staged attachments.
type Draft struct {
	ConversationID string
	PeerID         string
	Body           string
	Attachments    []attach.Attachment
	ReplyTo        string
}

// Failure is the payload published on compose.failed.
type Failure struct {
	TempID         string
	ConversationID string
	Reason         string
}

// Rejection is the payload published on compose.rejected.
type Rejection struct {
	ConversationID string
	Reason         string
}

// Composer validates drafts, inserts them optimistically and emits
// send_message frames. Each in-flight send carries an ack deadline; a
// miss transitions the message to Failed with no automatic retry.
type Composer struct {
	emitter     Emitter
	store       *messages.Store
	registry    *registry.Registry
	userID      string
	displayName string
	ackTimeout  time.Duration
	bus         *bus.Bus
	logger      *zap.Logger

	mu      sync.Mutex
	pending map[string]*pendingSend
}

type pendingSend struct {
	conversationID string
	timer          *time.Timer
}

// New creates a composer for the local user.
func New(emitter Emitter, store *messages.Store, reg *registry.Registry, userID, displayName string, ackTimeout time.Duration, b *bus.Bus, logger *zap.Logger) *Composer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Composer{
		emitter:     emitter,
		store:       store,
		registry:    reg,
		userID:      userID,
		displayName: displayName,
		ackTimeout:  ackTimeout,
		bus:         b,
		logger:      logger,
		pending:     make(map[string]*pendingSend),
	}
}

// Compose validates the draft, inserts it locally as Pending and emits the
// send_message frame. It returns the temp id assigned to the message. A
// transport error still returns the temp id: the message exists, marked
// Failed, and the failure is published on the bus.
func (c *Composer) Compose(draft Draft) (string, error) {
	body := strings.TrimSpace(draft.Body)
	if body == "" && len(draft.Attachments) == 0 {
		c.reject(draft.ConversationID, "empty draft")
		return "", ErrEmptyDraft
	}
	if draft.PeerID != "" && draft.PeerID == c.userID {
		c.reject(draft.ConversationID, "self chat")
		return "", ErrSelfChat
	}

	tempID := messages.TempIDPrefix + uuid.NewString()
	msg := &messages.Message{
		ID:             tempID,
		ConversationID: draft.ConversationID,
		SenderID:       c.userID,
		Body:           body,
		Attachments:    draft.Attachments,
		ReplyTo:        c.buildReply(draft.ConversationID, draft.ReplyTo),
		CreatedAt:      time.Now().UnixMilli(),
		DeliveryState:  messages.Pending,
	}
	if err := c.store.ApplyLocal(msg); err != nil {
		return "", err
	}
	c.registry.Touch(msg)

	if !c.emitter.Connected() {
		c.logger.Warn("composing while disconnected", zap.String("temp_id", tempID))
	}

	err := c.emitter.Send(gateway.EvtSendMessage, gateway.SendMessage{
		ConversationID: draft.ConversationID,
		TempID:         tempID,
		Body:           body,
		Attachments:    draft.Attachments,
		ReplyTo:        msg.ReplyTo,
	})
	if err != nil {
		c.logger.Error("send failed", zap.Error(err), zap.String("temp_id", tempID))
		c.fail(tempID, draft.ConversationID, err.Error())
		return tempID, nil
	}

	c.mu.Lock()
	c.pending[tempID] = &pendingSend{
		conversationID: draft.ConversationID,
		timer: time.AfterFunc(c.ackTimeout, func() {
			c.onAckTimeout(tempID, draft.ConversationID)
		}),
	}
	c.mu.Unlock()

	c.logger.Info("message composed", zap.String("temp_id", tempID), zap.String("conversation_id", draft.ConversationID))
	return tempID, nil
}

// Ack reconciles a pending send with its server-assigned permanent id and
// cancels the ack deadline. Late acks for already-failed sends return the
// store's reconciliation error.
func (c *Composer) Ack(tempID, permID string, serverTS int64) error {
	c.mu.Lock()
	if p, ok := c.pending[tempID]; ok {
		p.timer.Stop()
		delete(c.pending, tempID)
	}
	c.mu.Unlock()

	if err := c.store.Reconcile(tempID, permID, serverTS); err != nil {
		return err
	}
	if m, ok := c.store.Get(permID); ok {
		c.registry.Touch(&m)
	}
	return nil
}

// FailInFlight fails every send still awaiting an ack. Called when the
// gateway drops: an ack for those sends can no longer arrive.
func (c *Composer) FailInFlight(reason string) {
	c.mu.Lock()
	stale := make(map[string]string, len(c.pending))
	for tempID, p := range c.pending {
		p.timer.Stop()
		stale[tempID] = p.conversationID
	}
	c.pending = make(map[string]*pendingSend)
	c.mu.Unlock()

	for tempID, convID := range stale {
		c.fail(tempID, convID, reason)
	}
}

// Edit rewrites one of the local user's messages and forwards the edit to
// the server. Validation (sender, tombstone, pending) happens in the store.
func (c *Composer) Edit(messageID, body string) error {
	body = strings.TrimSpace(body)
	if body == "" {
		return ErrEmptyDraft
	}
	if err := c.store.Edit(messageID, body, time.Now().UnixMilli(), c.userID); err != nil {
		return err
	}
	if m, ok := c.store.Get(messageID); ok {
		c.registry.Touch(&m)
	}
	if err := c.emitter.Send(gateway.EvtEditMessage, gateway.EditMessage{MessageID: messageID, Body: body}); err != nil {
		c.logger.Warn("edit frame not sent", zap.Error(err), zap.String("message_id", messageID))
	}
	return nil
}

// Delete tombstones one of the local user's messages and forwards the
// delete to the server.
func (c *Composer) Delete(messageID string) error {
	if err := c.store.Delete(messageID, c.userID); err != nil {
		return err
	}
	if m, ok := c.store.Get(messageID); ok {
		c.registry.Touch(&m)
	}
	if err := c.emitter.Send(gateway.EvtDeleteMsg, gateway.DeleteMessage{MessageID: messageID}); err != nil {
		c.logger.Warn("delete frame not sent", zap.Error(err), zap.String("message_id", messageID))
	}
	return nil
}

// MarkRead tells the server the local user has read a conversation.
// Best effort: a dropped frame is retried implicitly on the next select.
func (c *Composer) MarkRead(conversationID string) {
	err := c.emitter.Send(gateway.EvtMarkRead, gateway.MarkRead{
		ConversationID: conversationID,
		UserID:         c.userID,
	})
	if err != nil {
		c.logger.Warn("mark_read frame not sent", zap.Error(err), zap.String("conversation_id", conversationID))
	}
}

// Close stops all outstanding ack timers without failing the messages.
func (c *Composer) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range c.pending {
		p.timer.Stop()
	}
	c.pending = make(map[string]*pendingSend)
}

func (c *Composer) onAckTimeout(tempID, conversationID string) {
	c.mu.Lock()
	delete(c.pending, tempID)
	c.mu.Unlock()
	c.fail(tempID, conversationID, "ack timeout")
}

// fail is a no-op when the message already left Pending; the store's
// transition rules arbitrate races between timers and late acks.
func (c *Composer) fail(tempID, conversationID, reason string) {
	if err := c.store.Fail(tempID); err != nil {
		return
	}
	c.logger.Warn("message failed", zap.String("temp_id", tempID), zap.String("reason", reason))
	c.bus.Publish(bus.Now(bus.KindComposeFailed, Failure{
		TempID:         tempID,
		ConversationID: conversationID,
		Reason:         reason,
	}))
}

func (c *Composer) reject(conversationID, reason string) {
	c.bus.Publish(bus.Now(bus.KindComposeRejected, Rejection{
		ConversationID: conversationID,
		Reason:         reason,
	}))
}

// buildReply snapshots the quoted message at compose time so the reply
// keeps rendering even if the original is later edited or deleted.
func (c *Composer) buildReply(conversationID, messageID string) *messages.ReplyRef {
	if messageID == "" {
		return nil
	}
	m, ok := c.store.Get(messageID)
	if !ok {
		return &messages.ReplyRef{MessageID: messageID}
	}

	text := m.Body
	switch {
	case m.IsDeleted:
		text = messages.DeletedPlaceholder
	case text == "" && len(m.Attachments) > 0:
		if m.Attachments[0].Kind == attach.KindImage {
			text = "[photo]"
		} else {
			text = "[location]"
		}
	}

	name := c.displayName
	if m.SenderID != c.userID {
		if conv, ok := c.registry.Get(conversationID); ok {
			name = conv.Peer.DisplayName
		} else {
			name = m.SenderID
		}
	}
	return &messages.ReplyRef{MessageID: messageID, PreviewText: text, PreviewSenderName: name}
}
