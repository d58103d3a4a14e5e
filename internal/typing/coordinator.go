// Package typing turns keystroke bursts into debounced typing_start and
// typing_stop signals, and tracks the remote peer's typing state per
// conversation.
package typing

import (
	"context"
	"sync"
	"time"

	"github.com/soukly/convo/internal/bus"
	"github.com/soukly/convo/internal/gateway"
	"go.uber.org/zap"
)

// Emitter sends frames to the gateway. Satisfied by *gateway.Gateway.
type Emitter interface {
	Send(event string, payload any) error
}

// Coordinator owns one debounce timer per conversation. A burst of
// keystrokes emits exactly one typing_start; the stop fires after the
// debounce window of silence, when the input empties, or when the
// conversation is flushed on switch or unmount.
type Coordinator struct {
	emitter  Emitter
	userID   string
	debounce time.Duration
	bus      *bus.Bus
	logger   *zap.Logger

	mu           sync.Mutex
	timers       map[string]*time.Timer
	remote       map[string]bool
	remoteTimers map[string]*time.Timer
	cancel       context.CancelFunc
}

// New creates a coordinator signaling as userID with the given debounce.
func New(emitter Emitter, userID string, debounce time.Duration, b *bus.Bus, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		emitter:      emitter,
		userID:       userID,
		debounce:     debounce,
		bus:          b,
		logger:       logger,
		timers:       make(map[string]*time.Timer),
		remote:       make(map[string]bool),
		remoteTimers: make(map[string]*time.Timer),
	}
}

// Keystroke registers local typing activity. The first keystroke of a
// burst emits typing_start and arms the timer; later ones only re-arm it.
// Returns the transport error, if any, so the caller can surface a warning
// while disconnected.
func (c *Coordinator) Keystroke(conversationID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if timer, active := c.timers[conversationID]; active {
		timer.Reset(c.debounce)
		return nil
	}

	if err := c.emitter.Send(gateway.EvtTypingStart, gateway.TypingSignal{
		ConversationID: conversationID,
		UserID:         c.userID,
	}); err != nil {
		return err
	}
	c.timers[conversationID] = time.AfterFunc(c.debounce, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.stopLocked(conversationID)
	})
	return nil
}

// InputCleared emits an immediate typing_stop when the compose input
// becomes empty.
func (c *Coordinator) InputCleared(conversationID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopLocked(conversationID)
}

// Flush emits typing_stop for the conversation if a signal is active.
// Called when the active conversation switches or the composer unmounts.
func (c *Coordinator) Flush(conversationID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopLocked(conversationID)
}

// Close flushes every active signal.
func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for conversationID := range c.timers {
		c.stopLocked(conversationID)
	}
	for _, t := range c.remoteTimers {
		t.Stop()
	}
	if c.cancel != nil {
		c.cancel()
	}
}

// stopLocked emits typing_stop and disarms the timer. No-op when no signal
// is active, which keeps stop idempotent under timer/flush races.
func (c *Coordinator) stopLocked(conversationID string) {
	timer, active := c.timers[conversationID]
	if !active {
		return
	}
	timer.Stop()
	delete(c.timers, conversationID)

	if err := c.emitter.Send(gateway.EvtTypingStop, gateway.TypingSignal{
		ConversationID: conversationID,
		UserID:         c.userID,
	}); err != nil {
		c.logger.Warn("typing_stop not sent", zap.String("conversation", conversationID), zap.Error(err))
	}
}

// Start subscribes to relayed typing_update events to track peer typing.
func (c *Coordinator) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()

	ch, unsub := c.bus.Subscribe(bus.KindGatewayTyping, 64)
	go func() {
		defer unsub()
		for {
			select {
			case evt := <-ch:
				if u, ok := evt.Payload.(*gateway.TypingUpdate); ok {
					c.applyRemote(u)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// applyRemote tracks the peer's typing state. A peer that stops sending
// updates goes stale after two debounce windows, so a lost typing_stop
// cannot wedge the indicator on.
func (c *Coordinator) applyRemote(u *gateway.TypingUpdate) {
	c.mu.Lock()
	if t, ok := c.remoteTimers[u.ConversationID]; ok {
		t.Stop()
		delete(c.remoteTimers, u.ConversationID)
	}
	c.remote[u.ConversationID] = u.IsTyping
	if u.IsTyping {
		conversationID := u.ConversationID
		c.remoteTimers[conversationID] = time.AfterFunc(2*c.debounce, func() {
			c.mu.Lock()
			c.remote[conversationID] = false
			delete(c.remoteTimers, conversationID)
			c.mu.Unlock()
			c.publishRemote(conversationID, false)
		})
	}
	c.mu.Unlock()

	c.publishRemote(u.ConversationID, u.IsTyping)
}

func (c *Coordinator) publishRemote(conversationID string, isTyping bool) {
	if c.bus == nil {
		return
	}
	c.bus.Publish(bus.Now(bus.KindTypingPeer, State{
		ConversationID: conversationID,
		PeerIsTyping:   isTyping,
	}))
}

// PeerTyping reports whether the peer is typing in the conversation.
func (c *Coordinator) PeerTyping(conversationID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remote[conversationID]
}

// State is the payload for typing.peer events. Ephemeral, never persisted.
type State struct {
	ConversationID string
	PeerIsTyping   bool
}
