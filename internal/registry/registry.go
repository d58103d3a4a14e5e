// Package registry owns the conversation list: unread counters, last-message
// previews, filtering, and the active selection. Unread accounting and
// selection share one lock so an incoming message can never race a
// selection into a nonzero unread count on the active conversation.
package registry

import (
	"sort"
	"sync"

	"github.com/soukly/convo/internal/attach"
	"github.com/soukly/convo/internal/bus"
	"github.com/soukly/convo/internal/identity"
	"github.com/soukly/convo/internal/messages"
	"go.uber.org/zap"
)

// Filter selects a projection of the conversation list.
type Filter string

const (
	FilterAll    Filter = "all"
	FilterUnread Filter = "unread"
	FilterRead   Filter = "read"
)

// MessageSummary is the preview shown in the conversation list.
type MessageSummary struct {
	MessageID string `json:"message_id"`
	SenderID  string `json:"sender_id"`
	Preview   string `json:"preview"`
	CreatedAt int64  `json:"created_at"`
}

// Conversation is one row of the list.
type Conversation struct {
	ID          string            `json:"id"`
	Peer        identity.PeerView `json:"peer"`
	LastMessage *MessageSummary   `json:"last_message,omitempty"`
	UnreadCount int               `json:"unread_count"`
	IsActive    bool              `json:"is_active"`
}

// Registry tracks all conversations for the session.
type Registry struct {
	mu       sync.Mutex
	convs    map[string]*Conversation
	counted  map[string]map[string]struct{}
	activeID string
	userID   string
	bus      *bus.Bus
	logger   *zap.Logger
}

// New creates an empty registry acting as the given local user.
func New(userID string, b *bus.Bus, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		convs:   make(map[string]*Conversation),
		counted: make(map[string]map[string]struct{}),
		userID:  userID,
		bus:     b,
		logger:  logger,
	}
}

func (r *Registry) publish(kind string, c *Conversation) {
	if r.bus == nil {
		return
	}
	cp := *c
	r.bus.Publish(bus.Now(kind, cp))
}

// Ensure creates the conversation for a peer if it does not exist yet and
// returns a copy. Existing conversations get their peer view refreshed.
func (r *Registry) Ensure(conversationID string, peer identity.PeerView) Conversation {
	r.mu.Lock()
	c, ok := r.convs[conversationID]
	if !ok {
		c = &Conversation{ID: conversationID, Peer: peer}
		r.convs[conversationID] = c
	} else {
		c.Peer = peer
	}
	snap := *c
	r.mu.Unlock()

	if !ok {
		r.publish(bus.KindConversationUpdated, &snap)
	}
	return snap
}

// Restore seeds a conversation from the archive at startup. Live entries
// always win: a conversation that already exists is left untouched.
func (r *Registry) Restore(c Conversation) {
	r.mu.Lock()
	if _, ok := r.convs[c.ID]; ok {
		r.mu.Unlock()
		return
	}
	cp := c
	cp.IsActive = false
	r.convs[c.ID] = &cp
	snap := cp
	r.mu.Unlock()

	r.publish(bus.KindConversationUpdated, &snap)
}

// List returns conversations matching the filter, sorted by last-message
// creation time descending. Pure projection, no side effects.
func (r *Registry) List(filter Filter) []Conversation {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Conversation, 0, len(r.convs))
	for _, c := range r.convs {
		switch filter {
		case FilterUnread:
			if c.UnreadCount == 0 {
				continue
			}
		case FilterRead:
			if c.UnreadCount > 0 {
				continue
			}
		}
		out = append(out, *c)
	}
	sort.SliceStable(out, func(i, j int) bool {
		ti, tj := int64(0), int64(0)
		if out[i].LastMessage != nil {
			ti = out[i].LastMessage.CreatedAt
		}
		if out[j].LastMessage != nil {
			tj = out[j].LastMessage.CreatedAt
		}
		if ti != tj {
			return ti > tj
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Get returns a copy of one conversation.
func (r *Registry) Get(conversationID string) (Conversation, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.convs[conversationID]
	if !ok {
		return Conversation{}, false
	}
	return *c, true
}

// Select marks a conversation active and zeroes its unread count in the
// same critical section. Reselecting the active conversation is a no-op.
func (r *Registry) Select(conversationID string) {
	r.mu.Lock()
	if r.activeID == conversationID {
		r.mu.Unlock()
		return
	}

	var snaps []Conversation
	if prev, ok := r.convs[r.activeID]; ok {
		prev.IsActive = false
		snaps = append(snaps, *prev)
	}
	r.activeID = conversationID
	if c, ok := r.convs[conversationID]; ok {
		c.IsActive = true
		c.UnreadCount = 0
		snaps = append(snaps, *c)
	}
	r.mu.Unlock()

	for i := range snaps {
		r.publish(bus.KindConversationUpdated, &snaps[i])
	}
	if r.bus != nil {
		r.bus.Publish(bus.Now(bus.KindConversationSelected, conversationID))
	}
}

// ActiveID returns the currently selected conversation id.
func (r *Registry) ActiveID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.activeID
}

// ApplyIncoming folds a delivered message into the list: the preview moves
// forward if the message is newer by creation time, and the unread counter
// increments only for messages from the peer while the conversation is not
// active. Duplicate message ids never count twice.
func (r *Registry) ApplyIncoming(m *messages.Message) {
	r.mu.Lock()
	c, ok := r.convs[m.ConversationID]
	if !ok {
		c = &Conversation{ID: m.ConversationID, Peer: identity.PeerView{ID: m.SenderID, DisplayName: m.SenderID}}
		r.convs[m.ConversationID] = c
	}

	seen := r.counted[m.ConversationID]
	if seen == nil {
		seen = make(map[string]struct{})
		r.counted[m.ConversationID] = seen
	}
	if _, dup := seen[m.ID]; dup {
		r.mu.Unlock()
		return
	}
	seen[m.ID] = struct{}{}

	r.updatePreviewLocked(c, m)
	if m.SenderID != r.userID && c.ID != r.activeID {
		c.UnreadCount++
	}
	snap := *c
	r.mu.Unlock()

	r.publish(bus.KindConversationUpdated, &snap)
}

// Touch refreshes the preview for a locally originated or mutated message
// without touching unread counters. Used for optimistic sends, acks, and
// edits of the latest message.
func (r *Registry) Touch(m *messages.Message) {
	r.mu.Lock()
	c, ok := r.convs[m.ConversationID]
	if !ok {
		c = &Conversation{ID: m.ConversationID}
		r.convs[m.ConversationID] = c
	}
	r.updatePreviewLocked(c, m)
	snap := *c
	r.mu.Unlock()

	r.publish(bus.KindConversationUpdated, &snap)
}

// updatePreviewLocked advances the preview if m is at least as new by
// creation time. Arrival order is deliberately irrelevant here.
func (r *Registry) updatePreviewLocked(c *Conversation, m *messages.Message) {
	if c.LastMessage != nil && m.CreatedAt < c.LastMessage.CreatedAt && m.ID != c.LastMessage.MessageID {
		return
	}
	c.LastMessage = &MessageSummary{
		MessageID: m.ID,
		SenderID:  m.SenderID,
		Preview:   previewText(m),
		CreatedAt: m.CreatedAt,
	}
}

func previewText(m *messages.Message) string {
	if m.IsDeleted {
		return messages.DeletedPlaceholder
	}
	if m.Body != "" {
		return truncate(m.Body, 100)
	}
	for _, a := range m.Attachments {
		switch a.Kind {
		case attach.KindImage:
			return "[photo]"
		case attach.KindLocation:
			return "[location]"
		}
	}
	return ""
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}
