package storage

import (
	"database/sql"
	"fmt"

	"github.com/lotas/studzo/internal/types"
)

// Notifications persists the notification history.
type Notifications struct {
	DB *sql.DB
}

// AppendNotification stores one event.
func (n Notifications) AppendNotification(ev types.Event) error {
	_, err := n.DB.Exec(
		"INSERT INTO notifications (event_id, message, category, received_at) VALUES (?, ?, ?, ?)",
		ev.ID, ev.Message, ev.Category, ev.ReceivedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

// ClearNotifications deletes the whole history.
func (n Notifications) ClearNotifications() error {
	if _, err := n.DB.Exec("DELETE FROM notifications"); err != nil {
		return fmt.Errorf("clear notifications: %w", err)
	}
	return nil
}

// ListNotifications returns up to limit of the most recent events, oldest
// first. A limit <= 0 returns everything.
func ListNotifications(db *sql.DB, limit int) ([]types.Event, error) {
	query := `SELECT event_id, message, category, received_at FROM (
		SELECT id, event_id, message, category, received_at FROM notifications ORDER BY id DESC`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	query += ") ORDER BY id ASC"

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query notifications: %w", err)
	}
	defer rows.Close()

	var result []types.Event
	for rows.Next() {
		var ev types.Event
		if err := rows.Scan(&ev.ID, &ev.Message, &ev.Category, &ev.ReceivedAt); err != nil {
			return nil, err
		}
		result = append(result, ev)
	}
	return result, rows.Err()
}
