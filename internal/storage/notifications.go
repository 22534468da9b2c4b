package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/encoding/json"

	"github.com/wetneb/dissemin/internal/notify"
)

// NotificationStore keeps user notifications in the catalog database. It
// implements notify.Sink and notify.Replacer.
type NotificationStore struct {
	db *DB
}

var (
	_ notify.Sink     = (*NotificationStore)(nil)
	_ notify.Replacer = (*NotificationStore)(nil)
)

// Notifications returns the notification store sharing d's connections.
func (d *DB) Notifications() *NotificationStore {
	return &NotificationStore{db: d}
}

// Notify implements notify.Sink.
func (s *NotificationStore) Notify(ctx context.Context, n notify.Notification) error {
	payload, err := json.Marshal(n.Payload)
	if err != nil {
		return fmt.Errorf("marshaling %s payload: %w", n.Tag, err)
	}
	if n.Date.IsZero() {
		n.Date = time.Now().UTC()
	}
	_, err = s.db.exec(ctx, `
		INSERT INTO notifications (user_id, tag, level, payload_json, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		n.UserID, n.Tag, string(n.Level), string(payload), unixMilli(n.Date),
	)
	if err != nil {
		return fmt.Errorf("inserting notification for %s: %w", n.UserID, err)
	}
	return nil
}

// ClearTag implements notify.Sink.
func (s *NotificationStore) ClearTag(ctx context.Context, userID, tag string) error {
	_, err := s.db.exec(ctx, `DELETE FROM notifications WHERE user_id = ? AND tag = ?`, userID, tag)
	if err != nil {
		return fmt.Errorf("clearing %s notifications of %s: %w", tag, userID, err)
	}
	return nil
}

// Replace implements notify.Replacer in a single transaction.
func (s *NotificationStore) Replace(ctx context.Context, n notify.Notification) error {
	return s.db.tx(ctx, func(tx *DB) error {
		inner := &NotificationStore{db: tx}
		if err := inner.ClearTag(ctx, n.UserID, n.Tag); err != nil {
			return err
		}
		return inner.Notify(ctx, n)
	})
}

// List returns the pending notifications of a user, oldest first. Payloads
// are returned as raw JSON.
func (s *NotificationStore) List(ctx context.Context, userID string) ([]notify.Notification, error) {
	rows, err := s.db.query(ctx, `
		SELECT user_id, tag, level, payload_json, created_at
		FROM notifications WHERE user_id = ?
		ORDER BY created_at, id`, userID)
	if err != nil {
		return nil, fmt.Errorf("listing notifications of %s: %w", userID, err)
	}
	defer rows.Close()

	var out []notify.Notification
	for rows.Next() {
		var n notify.Notification
		var level, payload string
		var created int64
		if err := rows.Scan(&n.UserID, &n.Tag, &level, &payload, &created); err != nil {
			return nil, err
		}
		n.Level = notify.Level(level)
		n.Payload = json.RawMessage(payload)
		n.Date = fromUnixMilli(created)
		out = append(out, n)
	}
	return out, rows.Err()
}
