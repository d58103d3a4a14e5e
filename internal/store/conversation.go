package store

import (
	"database/sql"
	"time"
)

// UpsertConversation inserts or updates a conversation record.
func (db *DB) UpsertConversation(c *ConversationRow) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO conversations (id, peer_id, peer_name, peer_avatar_url, peer_is_business, unread_count, last_message_at, last_message_preview, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			peer_id = excluded.peer_id,
			peer_name = excluded.peer_name,
			peer_avatar_url = excluded.peer_avatar_url,
			peer_is_business = excluded.peer_is_business,
			unread_count = excluded.unread_count,
			last_message_at = excluded.last_message_at,
			last_message_preview = excluded.last_message_preview,
			updated_at = excluded.updated_at`,
		c.ID, c.PeerID, c.PeerName, c.PeerAvatarURL, c.PeerIsBusiness, c.UnreadCount, c.LastMessageAt, c.LastMessagePreview, now)
	return err
}

// ListConversations returns conversations sorted by last message time
// descending.
func (db *DB) ListConversations(limit, offset int) ([]ConversationRow, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(`
		SELECT id, peer_id, peer_name, peer_avatar_url, peer_is_business, unread_count, last_message_at, last_message_preview
		FROM conversations
		ORDER BY last_message_at DESC, id ASC
		LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var convs []ConversationRow
	for rows.Next() {
		var c ConversationRow
		if err := rows.Scan(&c.ID, &c.PeerID, &c.PeerName, &c.PeerAvatarURL, &c.PeerIsBusiness, &c.UnreadCount, &c.LastMessageAt, &c.LastMessagePreview); err != nil {
			return nil, err
		}
		convs = append(convs, c)
	}
	return convs, rows.Err()
}

// GetConversation returns a single conversation by id, or nil if absent.
func (db *DB) GetConversation(id string) (*ConversationRow, error) {
	var c ConversationRow
	err := db.QueryRow(`
		SELECT id, peer_id, peer_name, peer_avatar_url, peer_is_business, unread_count, last_message_at, last_message_preview
		FROM conversations
		WHERE id = ?`, id).
		Scan(&c.ID, &c.PeerID, &c.PeerName, &c.PeerAvatarURL, &c.PeerIsBusiness, &c.UnreadCount, &c.LastMessageAt, &c.LastMessagePreview)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}
