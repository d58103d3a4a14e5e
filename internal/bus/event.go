package bus

import "time"

// Event kinds are namespaced by dotted prefix. Subscribers filter on the
// prefix, so "gw." receives every transport event while "gw.message_ack"
// receives only acks.
const (
	// Transport events decoded by the gateway read loop.
	KindGatewayMessage      = "gw.message"
	KindGatewayAck          = "gw.message_ack"
	KindGatewayEdited       = "gw.message_edited"
	KindGatewayDeleted      = "gw.message_deleted"
	KindGatewayDelivered    = "gw.message_delivered"
	KindGatewayRead         = "gw.messages_read"
	KindGatewayPresence     = "gw.presence_update"
	KindGatewayTyping       = "gw.typing_update"
	KindGatewayStateChanged = "gw.state_changed"

	// Local state changes.
	KindMessageUpdated       = "msg.updated"
	KindMessageReconciled    = "msg.reconciled"
	KindConversationUpdated  = "conv.updated"
	KindConversationSelected = "conv.selected"
	KindComposeFailed        = "compose.failed"
	KindComposeRejected      = "compose.rejected"
	KindTypingPeer           = "typing.peer"
	KindPresenceChanged      = "presence.changed"
)

// Event is a single record published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// Now builds an event stamped with the current time.
func Now(kind string, payload any) Event {
	return Event{Kind: kind, Timestamp: time.Now(), Payload: payload}
}
