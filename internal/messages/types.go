package messages

import (
	"strings"

	"github.com/soukly/convo/internal/attach"
)

// DeliveryState tracks where an outgoing message is in its lifecycle.
// Incoming messages from peers are stored as Read from our side's view.
type DeliveryState string

const (
	Pending   DeliveryState = "PENDING"
	Sent      DeliveryState = "SENT"
	Delivered DeliveryState = "DELIVERED"
	Read      DeliveryState = "READ"
	Failed    DeliveryState = "FAILED"
)

// validTransitions defines the allowed delivery-state moves. Transitions
// are monotonic: once Read or Failed, a message never moves again.
var validTransitions = map[DeliveryState][]DeliveryState{
	Pending:   {Sent, Failed},
	Sent:      {Delivered, Read},
	Delivered: {Read},
	Read:      {},
	Failed:    {},
}

// CanTransition reports whether from -> to is a legal delivery-state move.
func CanTransition(from, to DeliveryState) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// TempIDPrefix marks client-generated ids. Server-assigned permanent ids
// never carry it, so the two namespaces cannot collide.
const TempIDPrefix = "tmp-"

// IsTempID reports whether id belongs to the client-generated namespace.
func IsTempID(id string) bool {
	return strings.HasPrefix(id, TempIDPrefix)
}

// ReplyRef is a denormalized snapshot of the message being replied to, so
// the reply still renders if the original mutates or is deleted.
type ReplyRef struct {
	MessageID         string `json:"message_id"`
	PreviewText       string `json:"preview_text"`
	PreviewSenderName string `json:"preview_sender_name"`
}

// Reconciliation is the payload for msg.reconciled: a temp id was rewritten
// to its server-assigned permanent id.
type Reconciliation struct {
	TempID      string `json:"temp_id"`
	PermanentID string `json:"permanent_id"`
}

// Message is a single conversation entry. Storage is append-only: edits and
// deletes mutate fields, they never remove the record.
type Message struct {
	ID             string              `json:"id"`
	ConversationID string              `json:"conversation_id"`
	SenderID       string              `json:"sender_id"`
	Body           string              `json:"body"`
	Attachments    []attach.Attachment `json:"attachments,omitempty"`
	ReplyTo        *ReplyRef           `json:"reply_to,omitempty"`
	CreatedAt      int64               `json:"created_at"`
	EditedAt       int64               `json:"edited_at,omitempty"`
	DeliveryState  DeliveryState       `json:"delivery_state"`
	IsDeleted      bool                `json:"is_deleted"`
}
