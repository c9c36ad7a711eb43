package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"chatrelay/pkg/types"
)

// SetPresence records the user's online flag, status and last_seen. Users
// first seen through presence are created with the event's username.
func (m *Manager) SetPresence(ctx context.Context, event types.PresenceEvent) error {
	status := event.Status
	if status == "" {
		status = types.StatusOffline
		if event.IsOnline {
			status = types.StatusActive
		}
	}
	at := event.Timestamp
	if at.IsZero() {
		at = time.Now()
	}

	return m.executeWrite(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO users (id, display_name, is_online, status, last_seen)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				is_online = excluded.is_online,
				status = excluded.status,
				last_seen = excluded.last_seen
		`, event.UserID, event.Username, event.IsOnline, status, at.UnixNano())
		if err != nil {
			return fmt.Errorf("failed to record presence for %s: %w", event.UserID, err)
		}
		return nil
	})
}

// Presence returns the last recorded presence, or types.ErrRecipientNotFound
// for unknown users.
func (m *Manager) Presence(ctx context.Context, userID string) (*types.PresenceEvent, error) {
	var (
		event    types.PresenceEvent
		name     string
		lastSeen sql.NullInt64
	)
	err := m.db.QueryRowContext(ctx, `
		SELECT id, display_name, is_online, status, last_seen FROM users WHERE id = ?
	`, userID).Scan(&event.UserID, &name, &event.IsOnline, &event.Status, &lastSeen)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, types.ErrRecipientNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query presence: %w", err)
	}

	event.Username = types.UserIdentity{ID: event.UserID, DisplayName: name}.Name()
	if lastSeen.Valid {
		event.Timestamp = time.Unix(0, lastSeen.Int64).UTC()
	}
	return &event, nil
}
