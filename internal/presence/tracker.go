// Package presence maintains the set of currently-online peers, derived
// purely from relayed presence_update events. No polling, no other writers.
package presence

import (
	"context"
	"sync"

	"github.com/soukly/convo/internal/bus"
	"github.com/soukly/convo/internal/gateway"
	"go.uber.org/zap"
)

// Tracker is the process-scoped online set.
type Tracker struct {
	mu     sync.RWMutex
	online map[string]struct{}
	bus    *bus.Bus
	logger *zap.Logger
	cancel context.CancelFunc
}

// New creates an empty tracker.
func New(b *bus.Bus, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		online: make(map[string]struct{}),
		bus:    b,
		logger: logger,
	}
}

// Start subscribes to relayed presence events.
func (t *Tracker) Start(ctx context.Context) {
	ctx, t.cancel = context.WithCancel(ctx)
	ch, unsub := t.bus.Subscribe(bus.KindGatewayPresence, 64)

	go func() {
		defer unsub()
		for {
			select {
			case evt := <-ch:
				if p, ok := evt.Payload.(*gateway.PresenceUpdate); ok {
					t.apply(p.UserID, p.Online)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the tracker.
func (t *Tracker) Stop() {
	if t.cancel != nil {
		t.cancel()
	}
}

func (t *Tracker) apply(userID string, online bool) {
	t.mu.Lock()
	_, was := t.online[userID]
	if online == was {
		t.mu.Unlock()
		return
	}
	if online {
		t.online[userID] = struct{}{}
	} else {
		delete(t.online, userID)
	}
	t.mu.Unlock()

	if t.bus != nil {
		t.bus.Publish(bus.Now(bus.KindPresenceChanged, Change{UserID: userID, Online: online}))
	}
}

// IsOnline reports whether the peer is currently online. O(1).
func (t *Tracker) IsOnline(peerID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.online[peerID]
	return ok
}

// Snapshot returns the current online peer ids.
func (t *Tracker) Snapshot() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, 0, len(t.online))
	for id := range t.online {
		out = append(out, id)
	}
	return out
}

// Change is the payload for presence.changed events.
type Change struct {
	UserID string
	Online bool
}
