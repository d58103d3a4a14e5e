// Package archive mirrors in-memory conversation state into SQLite so a
// restarted daemon can hydrate without waiting for the gateway. It is a
// pure bus consumer: nothing in the hot path blocks on disk.
package archive

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/soukly/convo/internal/attach"
	"github.com/soukly/convo/internal/bus"
	"github.com/soukly/convo/internal/identity"
	"github.com/soukly/convo/internal/messages"
	"github.com/soukly/convo/internal/registry"
	"github.com/soukly/convo/internal/store"
)

// Archiver persists msg.* and conv.* events as they happen.
type Archiver struct {
	db     *store.DB
	bus    *bus.Bus
	logger *zap.Logger
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates an archiver writing to the given database.
func New(db *store.DB, b *bus.Bus, logger *zap.Logger) *Archiver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Archiver{db: db, bus: b, logger: logger}
}

// Start subscribes to state-change events and persists them in order.
func (a *Archiver) Start(ctx context.Context) {
	ctx, a.cancel = context.WithCancel(ctx)
	a.done = make(chan struct{})
	msgCh, unsubMsg := a.bus.Subscribe("msg.", 256)
	convCh, unsubConv := a.bus.Subscribe("conv.", 256)

	go func() {
		defer close(a.done)
		defer unsubMsg()
		defer unsubConv()
		for {
			select {
			case evt := <-msgCh:
				a.handleEvent(evt)
			case evt := <-convCh:
				a.handleEvent(evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop cancels the persist loop and waits for it to drain.
func (a *Archiver) Stop() {
	if a.cancel != nil {
		a.cancel()
		<-a.done
	}
}

func (a *Archiver) handleEvent(evt bus.Event) {
	switch p := evt.Payload.(type) {
	case messages.Message:
		if err := a.db.UpsertMessage(toRow(&p)); err != nil {
			a.logger.Error("failed to archive message", zap.Error(err), zap.String("msg_id", p.ID))
		}
	case messages.Reconciliation:
		if err := a.db.RenameMessage(p.TempID, p.PermanentID); err != nil {
			a.logger.Error("failed to rename archived message", zap.Error(err), zap.String("temp_id", p.TempID))
		}
	case registry.Conversation:
		if err := a.db.UpsertConversation(toConvRow(&p)); err != nil {
			a.logger.Error("failed to archive conversation", zap.Error(err), zap.String("conversation_id", p.ID))
		}
	}
}

// Hydrate loads archived state back into the live store and registry.
// perConvLimit caps how much history each conversation gets; older pages
// stay on disk until requested.
func (a *Archiver) Hydrate(st *messages.Store, reg *registry.Registry, perConvLimit int) error {
	convs, err := a.db.ListConversations(200, 0)
	if err != nil {
		return err
	}

	restored := 0
	for _, c := range convs {
		reg.Restore(fromConvRow(&c))

		rows, err := a.db.ListMessages(c.ID, 0, perConvLimit)
		if err != nil {
			return err
		}
		// Rows come back newest-first; history loads oldest-first.
		history := make([]messages.Message, 0, len(rows))
		for i := len(rows) - 1; i >= 0; i-- {
			history = append(history, fromRow(&rows[i]))
		}
		restored += st.Hydrate(c.ID, history)
	}

	a.logger.Info("archive hydrated",
		zap.Int("conversations", len(convs)),
		zap.Int("messages", restored))
	return nil
}

// LoadPage pulls one older page of a conversation's history out of the
// archive into the live store. Rows already in the window are skipped by
// the store's dedup.
func (a *Archiver) LoadPage(st *messages.Store, conversationID string, before int64, limit int) error {
	rows, err := a.db.ListMessages(conversationID, before, limit)
	if err != nil {
		return err
	}
	history := make([]messages.Message, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		history = append(history, fromRow(&rows[i]))
	}
	st.Hydrate(conversationID, history)
	return nil
}

func toRow(m *messages.Message) *store.MessageRow {
	row := &store.MessageRow{
		MsgID:          m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		Body:           m.Body,
		DeliveryState:  string(m.DeliveryState),
		IsDeleted:      m.IsDeleted,
		CreatedAt:      m.CreatedAt,
		EditedAt:       m.EditedAt,
	}
	if len(m.Attachments) > 0 {
		if b, err := json.Marshal(m.Attachments); err == nil {
			row.Attachments = string(b)
		}
	}
	if m.ReplyTo != nil {
		if b, err := json.Marshal(m.ReplyTo); err == nil {
			row.ReplyTo = string(b)
		}
	}
	return row
}

func fromRow(r *store.MessageRow) messages.Message {
	m := messages.Message{
		ID:             r.MsgID,
		ConversationID: r.ConversationID,
		SenderID:       r.SenderID,
		Body:           r.Body,
		DeliveryState:  messages.DeliveryState(r.DeliveryState),
		IsDeleted:      r.IsDeleted,
		CreatedAt:      r.CreatedAt,
		EditedAt:       r.EditedAt,
	}
	if r.Attachments != "" {
		var atts []attach.Attachment
		if err := json.Unmarshal([]byte(r.Attachments), &atts); err == nil {
			m.Attachments = atts
		}
	}
	if r.ReplyTo != "" {
		var ref messages.ReplyRef
		if err := json.Unmarshal([]byte(r.ReplyTo), &ref); err == nil {
			m.ReplyTo = &ref
		}
	}
	return m
}

func toConvRow(c *registry.Conversation) *store.ConversationRow {
	row := &store.ConversationRow{
		ID:             c.ID,
		PeerID:         c.Peer.ID,
		PeerName:       c.Peer.DisplayName,
		PeerAvatarURL:  c.Peer.AvatarURL,
		PeerIsBusiness: c.Peer.IsBusiness,
		UnreadCount:    c.UnreadCount,
	}
	if c.LastMessage != nil {
		row.LastMessageAt = c.LastMessage.CreatedAt
		row.LastMessagePreview = c.LastMessage.Preview
	}
	return row
}

func fromConvRow(r *store.ConversationRow) registry.Conversation {
	c := registry.Conversation{
		ID: r.ID,
		Peer: identity.PeerView{
			ID:          r.PeerID,
			DisplayName: r.PeerName,
			AvatarURL:   r.PeerAvatarURL,
			IsBusiness:  r.PeerIsBusiness,
		},
		UnreadCount: r.UnreadCount,
	}
	if r.LastMessageAt > 0 {
		c.LastMessage = &registry.MessageSummary{
			Preview:   r.LastMessagePreview,
			CreatedAt: r.LastMessageAt,
		}
	}
	return c
}
