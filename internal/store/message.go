package store

import (
	"database/sql"
	"time"

	"github.com/mutamirhq/mutamir/internal/platform"
)

// UpsertMessage inserts or updates a cached message (idempotent on
// chat_id + msg_id). Read stamps only move forward; an upsert never
// clears an existing read_at.
func (db *DB) UpsertMessage(m *platform.Message) error {
	var readAt *int64
	if m.ReadAt != nil {
		ms := m.ReadAt.UnixMilli()
		readAt = &ms
	}
	_, err := db.Exec(`
		INSERT INTO messages (chat_id, msg_id, sender_id, sender_name, content, content_type, created_at, read_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(chat_id, msg_id) DO UPDATE SET
			sender_name = excluded.sender_name,
			content = excluded.content,
			content_type = excluded.content_type,
			read_at = COALESCE(excluded.read_at, messages.read_at)`,
		string(m.ChatID), string(m.ID), string(m.SenderID), m.SenderName,
		m.Content, m.ContentType, m.CreatedAt.UnixMilli(), readAt)
	return err
}

// UpsertMessages caches a batch of messages in one transaction.
func (db *DB) UpsertMessages(msgs []platform.Message) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for i := range msgs {
		m := &msgs[i]
		var readAt *int64
		if m.ReadAt != nil {
			ms := m.ReadAt.UnixMilli()
			readAt = &ms
		}
		if _, err := tx.Exec(`
			INSERT INTO messages (chat_id, msg_id, sender_id, sender_name, content, content_type, created_at, read_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(chat_id, msg_id) DO UPDATE SET
				sender_name = excluded.sender_name,
				content = excluded.content,
				content_type = excluded.content_type,
				read_at = COALESCE(excluded.read_at, messages.read_at)`,
			string(m.ChatID), string(m.ID), string(m.SenderID), m.SenderName,
			m.Content, m.ContentType, m.CreatedAt.UnixMilli(), readAt); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ListMessages returns cached messages for a chat using keyset pagination by
// creation time, newest first.
func (db *DB) ListMessages(chatID string, beforeMs int64, limit int) ([]platform.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	if beforeMs <= 0 {
		beforeMs = time.Now().UnixMilli() + 1
	}
	rows, err := db.Query(`
		SELECT chat_id, msg_id, sender_id, sender_name, content, content_type, created_at, read_at
		FROM messages
		WHERE chat_id = ? AND created_at < ?
		ORDER BY created_at DESC
		LIMIT ?`, chatID, beforeMs, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []platform.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// MarkChatRead stamps every unread message in the chat with the given time.
func (db *DB) MarkChatRead(chatID string, at time.Time) error {
	_, err := db.Exec(`UPDATE messages SET read_at = ? WHERE chat_id = ? AND read_at IS NULL`,
		at.UnixMilli(), chatID)
	return err
}

func scanMessage(rows *sql.Rows) (platform.Message, error) {
	var (
		m         platform.Message
		chatID    string
		msgID     string
		senderID  string
		createdMs int64
		readMs    sql.NullInt64
	)
	if err := rows.Scan(&chatID, &msgID, &senderID, &m.SenderName, &m.Content, &m.ContentType, &createdMs, &readMs); err != nil {
		return m, err
	}
	m.ChatID = platform.ID(chatID)
	m.ID = platform.ID(msgID)
	m.SenderID = platform.ID(senderID)
	m.CreatedAt = time.UnixMilli(createdMs)
	if readMs.Valid {
		t := time.UnixMilli(readMs.Int64)
		m.ReadAt = &t
	}
	return m, nil
}
