package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"chatrelay/pkg/types"
)

// SaveDeviceToken registers a push token. A token is owned by one user; saving
// it again moves it to the caller and refreshes its device metadata.
func (m *Manager) SaveDeviceToken(ctx context.Context, token types.DeviceToken) error {
	updated := token.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}
	return m.executeWrite(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO device_tokens (token, user_id, device_type, device_id, updated_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(token) DO UPDATE SET
				user_id = excluded.user_id,
				device_type = excluded.device_type,
				device_id = excluded.device_id,
				updated_at = excluded.updated_at
		`, token.Token, token.UserID, token.DeviceType, token.DeviceID, updated.UnixNano())
		if err != nil {
			return fmt.Errorf("failed to save device token: %w", err)
		}
		return nil
	})
}

// DeleteDeviceToken removes token if userID owns it. Missing tokens are not an error.
func (m *Manager) DeleteDeviceToken(ctx context.Context, userID, token string) error {
	return m.executeWrite(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx,
			`DELETE FROM device_tokens WHERE user_id = ? AND token = ?`, userID, token)
		if err != nil {
			return fmt.Errorf("failed to delete device token: %w", err)
		}
		return nil
	})
}

// TokensFor returns userID's tokens, most recently updated first.
func (m *Manager) TokensFor(ctx context.Context, userID string) ([]types.DeviceToken, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT token, user_id, device_type, device_id, updated_at
		FROM device_tokens
		WHERE user_id = ?
		ORDER BY updated_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query device tokens: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var tokens []types.DeviceToken
	for rows.Next() {
		var (
			t       types.DeviceToken
			updated int64
		)
		if err := rows.Scan(&t.Token, &t.UserID, &t.DeviceType, &t.DeviceID, &updated); err != nil {
			return nil, fmt.Errorf("failed to scan device token: %w", err)
		}
		t.UpdatedAt = time.Unix(0, updated).UTC()
		tokens = append(tokens, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating device tokens: %w", err)
	}
	return tokens, nil
}
