package store

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/mutamirhq/mutamir/internal/platform"
)

// UpsertNotification inserts or updates a cached notification (idempotent
// on id). As with messages, read stamps only move forward.
func (db *DB) UpsertNotification(n *platform.Notification) error {
	actions, err := json.Marshal(n.Actions)
	if err != nil {
		return err
	}
	var readAt *int64
	if n.ReadAt != nil {
		ms := n.ReadAt.UnixMilli()
		readAt = &ms
	}
	_, err = db.Exec(`
		INSERT INTO notifications (id, title, body, type, priority, read_at, created_at, actions)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			body = excluded.body,
			priority = excluded.priority,
			read_at = COALESCE(excluded.read_at, notifications.read_at)`,
		string(n.ID), n.Title, n.Body, n.Type, n.Priority, readAt, n.CreatedAt.UnixMilli(), string(actions))
	return err
}

// ReplaceNotifications swaps the cached notification list wholesale,
// mirroring a fresh REST fetch.
func (db *DB) ReplaceNotifications(notifs []platform.Notification) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM notifications`); err != nil {
		return err
	}
	for i := range notifs {
		n := &notifs[i]
		actions, err := json.Marshal(n.Actions)
		if err != nil {
			return err
		}
		var readAt *int64
		if n.ReadAt != nil {
			ms := n.ReadAt.UnixMilli()
			readAt = &ms
		}
		if _, err := tx.Exec(`
			INSERT INTO notifications (id, title, body, type, priority, read_at, created_at, actions)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			string(n.ID), n.Title, n.Body, n.Type, n.Priority, readAt, n.CreatedAt.UnixMilli(), string(actions)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ListNotifications returns cached notifications, newest first.
func (db *DB) ListNotifications(limit int) ([]platform.Notification, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := db.Query(`
		SELECT id, title, body, type, priority, read_at, created_at, actions
		FROM notifications
		ORDER BY created_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var notifs []platform.Notification
	for rows.Next() {
		var (
			n       platform.Notification
			id      string
			readMs  sql.NullInt64
			created int64
			actions string
		)
		if err := rows.Scan(&id, &n.Title, &n.Body, &n.Type, &n.Priority, &readMs, &created, &actions); err != nil {
			return nil, err
		}
		n.ID = platform.ID(id)
		n.CreatedAt = time.UnixMilli(created)
		if readMs.Valid {
			t := time.UnixMilli(readMs.Int64)
			n.ReadAt = &t
		}
		if err := json.Unmarshal([]byte(actions), &n.Actions); err != nil {
			return nil, err
		}
		notifs = append(notifs, n)
	}
	return notifs, rows.Err()
}

// MarkNotificationRead stamps one cached notification read.
func (db *DB) MarkNotificationRead(id string, at time.Time) error {
	_, err := db.Exec(`UPDATE notifications SET read_at = ? WHERE id = ? AND read_at IS NULL`,
		at.UnixMilli(), id)
	return err
}

// MarkAllNotificationsRead stamps every unread cached notification.
func (db *DB) MarkAllNotificationsRead(at time.Time) error {
	_, err := db.Exec(`UPDATE notifications SET read_at = ? WHERE read_at IS NULL`, at.UnixMilli())
	return err
}

// DeleteNotification removes one cached notification.
func (db *DB) DeleteNotification(id string) error {
	_, err := db.Exec(`DELETE FROM notifications WHERE id = ?`, id)
	return err
}
