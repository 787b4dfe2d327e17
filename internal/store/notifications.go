package store

import (
	"context"
	"fmt"

	"github.com/erazemk/narocila/internal/model"
)

// CreateNotification stores a notification and returns it with its ID set.
func CreateNotification(ctx context.Context, q DBTX, n model.Notification) (*model.Notification, error) {
	result, err := q.ExecContext(ctx,
		`INSERT INTO notifications (type, title, message, recipient, recipient_kind, related_order)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		n.Type, n.Title, n.Message, n.Recipient, n.RecipientKind, n.RelatedOrder,
	)
	if err != nil {
		return nil, fmt.Errorf("creating notification: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("getting notification id: %w", err)
	}

	err = q.QueryRowContext(ctx,
		`SELECT read, created_at FROM notifications WHERE id = ?`, id,
	).Scan(&n.Read, &n.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("reading notification: %w", err)
	}
	n.ID = id
	return &n, nil
}

// ListNotifications returns a recipient's newest notifications.
func ListNotifications(ctx context.Context, q DBTX, kind string, recipient int64, limit int) ([]model.Notification, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, type, title, message, recipient, recipient_kind, related_order, read, created_at
		 FROM notifications
		 WHERE recipient_kind = ? AND recipient = ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT ?`,
		kind, recipient, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing notifications: %w", err)
	}
	defer rows.Close()

	var list []model.Notification
	for rows.Next() {
		var n model.Notification
		if err := rows.Scan(&n.ID, &n.Type, &n.Title, &n.Message, &n.Recipient, &n.RecipientKind,
			&n.RelatedOrder, &n.Read, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning notification: %w", err)
		}
		list = append(list, n)
	}
	return list, rows.Err()
}

// CountUnread counts a recipient's unread notifications.
func CountUnread(ctx context.Context, q DBTX, kind string, recipient int64) (int, error) {
	var n int
	err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM notifications WHERE recipient_kind = ? AND recipient = ? AND read = 0`,
		kind, recipient,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting unread notifications: %w", err)
	}
	return n, nil
}

// MarkNotificationRead marks one of the recipient's notifications as read.
func MarkNotificationRead(ctx context.Context, q DBTX, kind string, recipient, id int64) error {
	result, err := q.ExecContext(ctx,
		`UPDATE notifications SET read = 1 WHERE id = ? AND recipient_kind = ? AND recipient = ?`,
		id, kind, recipient,
	)
	if err != nil {
		return fmt.Errorf("marking notification read: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkAllNotificationsRead marks every notification of the recipient as read.
func MarkAllNotificationsRead(ctx context.Context, q DBTX, kind string, recipient int64) (int64, error) {
	result, err := q.ExecContext(ctx,
		`UPDATE notifications SET read = 1 WHERE recipient_kind = ? AND recipient = ? AND read = 0`,
		kind, recipient,
	)
	if err != nil {
		return 0, fmt.Errorf("marking notifications read: %w", err)
	}
	n, _ := result.RowsAffected()
	return n, nil
}

// ClearNotifications deletes every notification of the recipient.
func ClearNotifications(ctx context.Context, q DBTX, kind string, recipient int64) (int64, error) {
	result, err := q.ExecContext(ctx,
		`DELETE FROM notifications WHERE recipient_kind = ? AND recipient = ?`,
		kind, recipient,
	)
	if err != nil {
		return 0, fmt.Errorf("clearing notifications: %w", err)
	}
	n, _ := result.RowsAffected()
	return n, nil
}
