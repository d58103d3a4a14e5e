package store

import "time"

// UpsertMessage inserts or updates a message (idempotent on msg_id).
func (db *DB) UpsertMessage(m *MessageRow) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO messages (msg_id, conversation_id, sender_id, body, attachments, reply_to, delivery_state, is_deleted, created_at, edited_at, stored_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(msg_id) DO UPDATE SET
			body = excluded.body,
			attachments = excluded.attachments,
			reply_to = excluded.reply_to,
			delivery_state = excluded.delivery_state,
			is_deleted = excluded.is_deleted,
			created_at = excluded.created_at,
			edited_at = excluded.edited_at`,
		m.MsgID, m.ConversationID, m.SenderID, m.Body, m.Attachments, m.ReplyTo, m.DeliveryState, m.IsDeleted, m.CreatedAt, m.EditedAt, now)
	return err
}

// RenameMessage rewrites a message id in place. Used when a send ack swaps
// a temp id for the server-assigned permanent one.
func (db *DB) RenameMessage(oldID, newID string) error {
	_, err := db.Exec(`UPDATE messages SET msg_id = ? WHERE msg_id = ?`, newID, oldID)
	return err
}

// ListMessages returns messages for a conversation using keyset pagination
// by creation time. Results come back newest-first.
func (db *DB) ListMessages(conversationID string, beforeTs int64, limit int) ([]MessageRow, error) {
	if limit <= 0 {
		limit = 50
	}
	if beforeTs <= 0 {
		beforeTs = time.Now().UnixMilli() + 1
	}
	rows, err := db.Query(`
		SELECT id, msg_id, conversation_id, sender_id, body, attachments, reply_to, delivery_state, is_deleted, created_at, edited_at
		FROM messages
		WHERE conversation_id = ? AND created_at < ?
		ORDER BY created_at DESC
		LIMIT ?`, conversationID, beforeTs, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []MessageRow
	for rows.Next() {
		var m MessageRow
		if err := rows.Scan(&m.ID, &m.MsgID, &m.ConversationID, &m.SenderID, &m.Body, &m.Attachments, &m.ReplyTo, &m.DeliveryState, &m.IsDeleted, &m.CreatedAt, &m.EditedAt); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}
