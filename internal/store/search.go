package store

// SearchMessages performs a full-text search on message bodies.
func (db *DB) SearchMessages(query string, conversationID string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 50
	}

	q := `
		SELECT m.id, m.msg_id, m.conversation_id, m.sender_id, m.body,
		       m.attachments, m.reply_to, m.delivery_state, m.is_deleted,
		       m.created_at, m.edited_at,
		       snippet(messages_fts, 0, '<<', '>>', '...', 32)
		FROM messages_fts f
		JOIN messages m ON m.id = f.rowid
		WHERE messages_fts MATCH ? AND m.is_deleted = 0`

	args := []any{query}
	if conversationID != "" {
		q += " AND m.conversation_id = ?"
		args = append(args, conversationID)
	}
	q += " ORDER BY rank LIMIT ?"
	args = append(args, limit)

	rows, err := db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		if err := rows.Scan(
			&r.Message.ID, &r.Message.MsgID, &r.Message.ConversationID,
			&r.Message.SenderID, &r.Message.Body, &r.Message.Attachments,
			&r.Message.ReplyTo, &r.Message.DeliveryState, &r.Message.IsDeleted,
			&r.Message.CreatedAt, &r.Message.EditedAt, &r.Snippet,
		); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}
