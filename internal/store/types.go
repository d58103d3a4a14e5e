package store

// ConversationRow is a persisted conversation-list entry.
type ConversationRow struct {
	ID                 string
	PeerID             string
	PeerName           string
	PeerAvatarURL      string
	PeerIsBusiness     bool
	UnreadCount        int
	LastMessageAt      int64
	LastMessagePreview string
}

// MessageRow is a persisted message. Attachments and the reply reference
// are stored as JSON blobs; the row layout stays stable as they evolve.
type MessageRow struct {
	ID             int64
	MsgID          string
	ConversationID string
	SenderID       string
	Body           string
	Attachments    string
	ReplyTo        string
	DeliveryState  string
	IsDeleted      bool
	CreatedAt      int64
	EditedAt       int64
}

// SearchResult holds a message with a search snippet.
type SearchResult struct {
	Message MessageRow
	Snippet string
}
