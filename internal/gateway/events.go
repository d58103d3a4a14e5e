package gateway

import (
	"encoding/json"
	"fmt"

	"github.com/soukly/convo/internal/attach"
	"github.com/soukly/convo/internal/bus"
	"github.com/soukly/convo/internal/messages"
)

// Envelope is the wire framing: every frame names its event and carries a
// JSON payload.
type Envelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Outgoing event names.
const (
	EvtTypingStart = "typing_start"
	EvtTypingStop  = "typing_stop"
	EvtSendMessage = "send_message"
	EvtEditMessage = "edit_message"
	EvtDeleteMsg   = "delete_message"
	EvtMarkRead    = "mark_read"
)

// Incoming event names.
const (
	EvtMessage          = "message"
	EvtMessageAck       = "message_ack"
	EvtMessageEdited    = "message_edited"
	EvtMessageDeleted   = "message_deleted"
	EvtMessageDelivered = "message_delivered"
	EvtMessagesRead     = "messages_read"
	EvtPresenceUpdate   = "presence_update"
	EvtTypingUpdate     = "typing_update"
)

// TypingSignal is the payload for typing_start and typing_stop.
type TypingSignal struct {
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
}

// SendMessage is the payload for an outgoing send_message frame.
type SendMessage struct {
	ConversationID string              `json:"conversation_id"`
	TempID         string              `json:"temp_id"`
	Body           string              `json:"body"`
	Attachments    []attach.Attachment `json:"attachments,omitempty"`
	ReplyTo        *messages.ReplyRef  `json:"reply_to,omitempty"`
}

// EditMessage asks the server to rewrite a message body.
type EditMessage struct {
	MessageID string `json:"message_id"`
	Body      string `json:"body"`
}

// DeleteMessage asks the server to tombstone a message.
type DeleteMessage struct {
	MessageID string `json:"message_id"`
}

// MarkRead reports that the local user read a conversation.
type MarkRead struct {
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
}

// InboundMessage is a server-delivered message frame.
type InboundMessage struct {
	ID             string              `json:"id"`
	ConversationID string              `json:"conversation_id"`
	SenderID       string              `json:"sender_id"`
	Body           string              `json:"body"`
	Attachments    []attach.Attachment `json:"attachments,omitempty"`
	ReplyTo        *messages.ReplyRef  `json:"reply_to,omitempty"`
	CreatedAt      int64               `json:"created_at"`
}

// ToMessage converts a wire message into the domain model.
func (im *InboundMessage) ToMessage() *messages.Message {
	return &messages.Message{
		ID:             im.ID,
		ConversationID: im.ConversationID,
		SenderID:       im.SenderID,
		Body:           im.Body,
		Attachments:    im.Attachments,
		ReplyTo:        im.ReplyTo,
		CreatedAt:      im.CreatedAt,
		DeliveryState:  messages.Sent,
	}
}

// MessageAck confirms a send and assigns the permanent id.
type MessageAck struct {
	TempID          string `json:"temp_id"`
	PermanentID     string `json:"permanent_id"`
	ServerTimestamp int64  `json:"server_timestamp"`
}

// MessageEdited relays an edit applied on the server.
type MessageEdited struct {
	MessageID string `json:"message_id"`
	Body      string `json:"body"`
	EditedAt  int64  `json:"edited_at"`
}

// MessageDeleted relays a delete applied on the server.
type MessageDeleted struct {
	MessageID string `json:"message_id"`
}

// MessageDelivered relays the peer client's receipt acknowledgement.
type MessageDelivered struct {
	ConversationID string `json:"conversation_id"`
	MessageID      string `json:"message_id"`
}

// MessagesRead relays the peer's read acknowledgement for a conversation.
type MessagesRead struct {
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
}

// PresenceUpdate relays a peer going online or offline.
type PresenceUpdate struct {
	UserID string `json:"user_id"`
	Online bool   `json:"online"`
}

// TypingUpdate relays a peer's typing state for a conversation.
type TypingUpdate struct {
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
	IsTyping       bool   `json:"is_typing"`
}

// decodeEnvelope maps a wire frame onto its bus kind and typed payload.
// Unknown events return ("", nil, nil) and are dropped by the caller.
func decodeEnvelope(env *Envelope) (kind string, payload any, err error) {
	unmarshal := func(v any) error {
		if err := json.Unmarshal(env.Payload, v); err != nil {
			return fmt.Errorf("decode %s payload: %w", env.Event, err)
		}
		return nil
	}

	switch env.Event {
	case EvtMessage:
		var p InboundMessage
		return bus.KindGatewayMessage, &p, unmarshal(&p)
	case EvtMessageAck:
		var p MessageAck
		return bus.KindGatewayAck, &p, unmarshal(&p)
	case EvtMessageEdited:
		var p MessageEdited
		return bus.KindGatewayEdited, &p, unmarshal(&p)
	case EvtMessageDeleted:
		var p MessageDeleted
		return bus.KindGatewayDeleted, &p, unmarshal(&p)
	case EvtMessageDelivered:
		var p MessageDelivered
		return bus.KindGatewayDelivered, &p, unmarshal(&p)
	case EvtMessagesRead:
		var p MessagesRead
		return bus.KindGatewayRead, &p, unmarshal(&p)
	case EvtPresenceUpdate:
		var p PresenceUpdate
		return bus.KindGatewayPresence, &p, unmarshal(&p)
	case EvtTypingUpdate:
		var p TypingUpdate
		return bus.KindGatewayTyping, &p, unmarshal(&p)
	default:
		return "", nil, nil
	}
}
