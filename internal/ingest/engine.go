// Package ingest is the single consumer of gateway events. One goroutine
// applies frames in transport order, which is what makes the per-message
// ordering guarantees hold without any further synchronization.
package ingest

import (
	"context"

	"go.uber.org/zap"

	"github.com/soukly/convo/internal/bus"
	"github.com/soukly/convo/internal/compose"
	"github.com/soukly/convo/internal/gateway"
	"github.com/soukly/convo/internal/messages"
	"github.com/soukly/convo/internal/registry"
)

// Engine folds gateway events into the message store and the conversation
// registry. All handlers are idempotent: replayed frames are no-ops.
type Engine struct {
	store    *messages.Store
	registry *registry.Registry
	composer *compose.Composer
	bus      *bus.Bus
	logger   *zap.Logger
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewEngine creates an ingest engine.
func NewEngine(store *messages.Store, reg *registry.Registry, composer *compose.Composer, b *bus.Bus, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		store:    store,
		registry: reg,
		composer: composer,
		bus:      b,
		logger:   logger,
	}
}

// Start subscribes to gateway events and dispatches them in order.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	e.done = make(chan struct{})
	ch, unsub := e.bus.Subscribe("gw.", 256)

	go func() {
		defer close(e.done)
		defer unsub()
		for {
			select {
			case evt := <-ch:
				e.handleEvent(evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop cancels the dispatch loop and waits for it to drain.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
		<-e.done
	}
}

func (e *Engine) handleEvent(evt bus.Event) {
	switch p := evt.Payload.(type) {
	case *gateway.InboundMessage:
		m := p.ToMessage()
		if e.store.ApplyIncoming(m) {
			e.registry.ApplyIncoming(m)
		}

	case *gateway.MessageAck:
		if err := e.composer.Ack(p.TempID, p.PermanentID, p.ServerTimestamp); err != nil {
			e.logger.Warn("ack not applied", zap.Error(err), zap.String("temp_id", p.TempID))
		}

	case *gateway.MessageEdited:
		e.store.ApplyEdit(p.MessageID, p.Body, p.EditedAt)
		e.touch(p.MessageID)

	case *gateway.MessageDeleted:
		e.store.ApplyDelete(p.MessageID)
		e.touch(p.MessageID)

	case *gateway.MessageDelivered:
		e.store.MarkDelivered(p.MessageID)

	case *gateway.MessagesRead:
		e.store.MarkRead(p.ConversationID)

	case gateway.StateChange:
		if p.To == gateway.StateDisconnected {
			e.composer.FailInFlight("gateway disconnected")
		}
	}
}

// touch refreshes the conversation preview after a server-side mutation.
func (e *Engine) touch(messageID string) {
	if m, ok := e.store.Get(messageID); ok {
		e.registry.Touch(&m)
	}
}
