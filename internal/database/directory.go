package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"chatrelay/pkg/types"
)

// Channel returns the channel metadata or types.ErrChannelNotFound.
func (m *Manager) Channel(ctx context.Context, channelID string) (types.Channel, error) {
	var ch types.Channel
	err := m.db.QueryRowContext(ctx,
		`SELECT id, name, is_private FROM channels WHERE id = ?`, channelID,
	).Scan(&ch.ID, &ch.Name, &ch.IsPrivate)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Channel{}, types.ErrChannelNotFound
	}
	if err != nil {
		return types.Channel{}, fmt.Errorf("failed to query channel: %w", err)
	}
	return ch, nil
}

// IsChannelMember reports membership; an unknown channel is
// types.ErrChannelNotFound rather than false.
func (m *Manager) IsChannelMember(ctx context.Context, channelID, userID string) (bool, error) {
	var exists, member bool
	err := m.db.QueryRowContext(ctx, `
		SELECT
			EXISTS (SELECT 1 FROM channels WHERE id = ?),
			EXISTS (SELECT 1 FROM channel_members WHERE channel_id = ? AND user_id = ?)
	`, channelID, channelID, userID).Scan(&exists, &member)
	if err != nil {
		return false, fmt.Errorf("failed to query membership: %w", err)
	}
	if !exists {
		return false, types.ErrChannelNotFound
	}
	return member, nil
}

// ChannelMembers returns the channel's members in join order.
func (m *Manager) ChannelMembers(ctx context.Context, channelID string) ([]types.UserIdentity, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT u.id, u.display_name, u.avatar_url
		FROM channel_members cm
		JOIN users u ON u.id = cm.user_id
		WHERE cm.channel_id = ?
		ORDER BY cm.joined_at, u.id
	`, channelID)
	if err != nil {
		return nil, fmt.Errorf("failed to query channel members: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var members []types.UserIdentity
	for rows.Next() {
		var u types.UserIdentity
		if err := rows.Scan(&u.ID, &u.DisplayName, &u.AvatarURL); err != nil {
			return nil, fmt.Errorf("failed to scan member row: %w", err)
		}
		members = append(members, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating member rows: %w", err)
	}
	return members, nil
}

// User returns the stored identity or types.ErrRecipientNotFound.
func (m *Manager) User(ctx context.Context, userID string) (types.UserIdentity, error) {
	var u types.UserIdentity
	err := m.db.QueryRowContext(ctx,
		`SELECT id, display_name, avatar_url FROM users WHERE id = ?`, userID,
	).Scan(&u.ID, &u.DisplayName, &u.AvatarURL)
	if errors.Is(err, sql.ErrNoRows) {
		return types.UserIdentity{}, types.ErrRecipientNotFound
	}
	if err != nil {
		return types.UserIdentity{}, fmt.Errorf("failed to query user: %w", err)
	}
	return u, nil
}

// CanDirectMessage is false when recipientID has blocked senderID.
func (m *Manager) CanDirectMessage(ctx context.Context, senderID, recipientID string) (bool, error) {
	var blocked bool
	err := m.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM blocks WHERE blocker_id = ? AND blocked_id = ?)`,
		recipientID, senderID,
	).Scan(&blocked)
	if err != nil {
		return false, fmt.Errorf("failed to query blocks: %w", err)
	}
	return !blocked, nil
}

// UpsertUser creates the user or refreshes its display name and avatar.
func (m *Manager) UpsertUser(ctx context.Context, user types.UserIdentity) error {
	return m.withTx(ctx, func(tx *sql.Tx) error {
		return upsertUser(ctx, tx, user)
	})
}

// CreateChannel creates or renames a channel.
func (m *Manager) CreateChannel(ctx context.Context, ch types.Channel) error {
	return m.withTx(ctx, func(tx *sql.Tx) error {
		return upsertChannel(ctx, tx, ch, time.Now())
	})
}

// AddChannelMember adds userID to channelID; adding twice is a no-op.
func (m *Manager) AddChannelMember(ctx context.Context, channelID, userID string) error {
	return m.withTx(ctx, func(tx *sql.Tx) error {
		return addMember(ctx, tx, channelID, userID, time.Now())
	})
}

// RemoveChannelMember removes userID from channelID.
func (m *Manager) RemoveChannelMember(ctx context.Context, channelID, userID string) error {
	return m.executeWrite(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx,
			`DELETE FROM channel_members WHERE channel_id = ? AND user_id = ?`, channelID, userID)
		if err != nil {
			return fmt.Errorf("failed to remove member: %w", err)
		}
		return nil
	})
}

// BlockUser records that blockerID refuses direct messages from blockedID.
func (m *Manager) BlockUser(ctx context.Context, blockerID, blockedID string) error {
	return m.withTx(ctx, func(tx *sql.Tx) error {
		return block(ctx, tx, blockerID, blockedID, time.Now())
	})
}

func upsertUser(ctx context.Context, tx *sql.Tx, user types.UserIdentity) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO users (id, display_name, avatar_url) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			display_name = excluded.display_name,
			avatar_url = excluded.avatar_url
	`, user.ID, user.DisplayName, user.AvatarURL)
	if err != nil {
		return fmt.Errorf("failed to upsert user %s: %w", user.ID, err)
	}
	return nil
}

func upsertChannel(ctx context.Context, tx *sql.Tx, ch types.Channel, now time.Time) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO channels (id, name, is_private, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, is_private = excluded.is_private
	`, ch.ID, ch.Name, ch.IsPrivate, now.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to upsert channel %s: %w", ch.ID, err)
	}
	return nil
}

func addMember(ctx context.Context, tx *sql.Tx, channelID, userID string, now time.Time) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO channel_members (channel_id, user_id, joined_at) VALUES (?, ?, ?)
		ON CONFLICT(channel_id, user_id) DO NOTHING
	`, channelID, userID, now.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to add %s to channel %s: %w", userID, channelID, err)
	}
	return nil
}

func block(ctx context.Context, tx *sql.Tx, blockerID, blockedID string, now time.Time) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO blocks (blocker_id, blocked_id, created_at) VALUES (?, ?, ?)
		ON CONFLICT(blocker_id, blocked_id) DO NOTHING
	`, blockerID, blockedID, now.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to block %s for %s: %w", blockedID, blockerID, err)
	}
	return nil
}
