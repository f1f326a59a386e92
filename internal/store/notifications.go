package store

import (
	"context"
	"fmt"

	"github.com/erazemk/podari/internal/model"
)

// CreateNotifications inserts a batch of notifications. Pass a transaction
// to make the batch atomic.
func CreateNotifications(ctx context.Context, db DBTX, notifications []model.Notification) error {
	for _, n := range notifications {
		n.Truncate()
		if _, err := db.ExecContext(ctx,
			`INSERT INTO notifications (user_id, title, message, category) VALUES (?, ?, ?, ?)`,
			n.UserID, n.Title, n.Message, n.Category,
		); err != nil {
			return fmt.Errorf("creating notification: %w", err)
		}
	}
	return nil
}

// ListNotifications returns a user's notifications, newest first.
func ListNotifications(ctx context.Context, db DBTX, userID int64, unreadOnly bool) ([]model.Notification, error) {
	query := `SELECT id, user_id, title, message, category, read, created_at
	          FROM notifications WHERE user_id = ?`
	if unreadOnly {
		query += ` AND read = 0`
	}
	query += ` ORDER BY created_at DESC, id DESC`

	notifications := []model.Notification{}
	if err := db.SelectContext(ctx, &notifications, query, userID); err != nil {
		return nil, fmt.Errorf("listing notifications: %w", err)
	}
	return notifications, nil
}

// MarkNotificationRead marks one of the user's notifications as read.
func MarkNotificationRead(ctx context.Context, db DBTX, userID, id int64) error {
	res, err := db.ExecContext(ctx,
		`UPDATE notifications SET read = 1 WHERE id = ? AND user_id = ?`, id, userID,
	)
	if err != nil {
		return fmt.Errorf("marking notification read: %w", err)
	}
	return expectOne(res, ErrNotFound)
}

// MarkAllNotificationsRead marks all of the user's notifications as read and
// returns how many changed.
func MarkAllNotificationsRead(ctx context.Context, db DBTX, userID int64) (int64, error) {
	res, err := db.ExecContext(ctx,
		`UPDATE notifications SET read = 1 WHERE user_id = ? AND read = 0`, userID,
	)
	if err != nil {
		return 0, fmt.Errorf("marking notifications read: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking affected rows: %w", err)
	}
	return n, nil
}
