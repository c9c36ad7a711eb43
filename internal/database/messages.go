package database

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"chatrelay/pkg/interfaces"
	"chatrelay/pkg/types"

	"github.com/google/uuid"
)

// History page sizes.
const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 100
)

// AppendMessage stores env and returns the new message id.
func (m *Manager) AppendMessage(ctx context.Context, env *types.OutboundEnvelope) (string, error) {
	if env == nil {
		return "", ErrNilEnvelope
	}

	id := uuid.NewString()
	createdAt := env.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	kind := env.MessageKind
	if kind == "" {
		kind = types.MessageKindText
	}

	var channelID, recipientID sql.NullString
	switch env.Kind() {
	case types.AudienceChannel:
		channelID = sql.NullString{String: env.Audience.Channel.ID, Valid: true}
	case types.AudienceDirect:
		recipientID = sql.NullString{String: env.Audience.Recipient.ID, Valid: true}
	default:
		return "", fmt.Errorf("unknown audience kind %q", env.Kind())
	}

	err := m.executeWrite(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO messages (id, audience_kind, channel_id, sender_id, recipient_id,
				content, message_kind, parent_message_id, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			id,
			string(env.Kind()),
			channelID,
			env.Sender.ID,
			recipientID,
			env.Content,
			string(kind),
			nullString(env.ParentMessageID),
			createdAt.UnixNano(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert message: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

const historySelect = `
	SELECT m.id, m.audience_kind, m.content, m.message_kind,
		COALESCE(m.parent_message_id, ''), m.created_at,
		s.id, s.display_name, s.avatar_url,
		COALESCE(c.id, ''), COALESCE(c.name, ''), COALESCE(c.is_private, 0),
		COALESCE(r.id, ''), COALESCE(r.display_name, ''), COALESCE(r.avatar_url, '')
	FROM messages m
	JOIN users s ON s.id = m.sender_id
	LEFT JOIN channels c ON c.id = m.channel_id
	LEFT JOIN users r ON r.id = m.recipient_id
`

// ChannelHistory returns a page of channel messages, newest first.
func (m *Manager) ChannelHistory(ctx context.Context, channelID, cursor string, limit int) (*types.HistoryPage, error) {
	return m.history(ctx, "m.channel_id = ?", []interface{}{channelID}, cursor, limit)
}

// DirectHistory returns a page of the messages exchanged between userID and
// peerID in either direction, newest first.
func (m *Manager) DirectHistory(ctx context.Context, userID, peerID, cursor string, limit int) (*types.HistoryPage, error) {
	return m.history(ctx,
		"m.audience_kind = 'DIRECT' AND ((m.sender_id = ? AND m.recipient_id = ?) OR (m.sender_id = ? AND m.recipient_id = ?))",
		[]interface{}{userID, peerID, peerID, userID},
		cursor, limit,
	)
}

// history runs a keyset query ordered by (created_at, id) descending. One extra
// row is fetched to tell whether another page exists.
func (m *Manager) history(ctx context.Context, where string, args []interface{}, cursor string, limit int) (*types.HistoryPage, error) {
	limit = clampLimit(limit)

	query := historySelect + " WHERE " + where
	if cursor != "" {
		at, id, err := decodeCursor(cursor)
		if err != nil {
			return nil, err
		}
		query += " AND (m.created_at < ? OR (m.created_at = ? AND m.id < ?))"
		args = append(args, at, at, id)
	}
	query += " ORDER BY m.created_at DESC, m.id DESC LIMIT ?"
	args = append(args, limit+1)

	rows, err := m.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	page := &types.HistoryPage{Messages: make([]types.MessageView, 0, limit)}
	var last struct {
		at int64
		id string
	}
	for rows.Next() {
		env, at, err := scanEnvelope(rows)
		if err != nil {
			return nil, err
		}
		if len(page.Messages) == limit {
			page.NextCursor = encodeCursor(last.at, last.id)
			break
		}
		page.Messages = append(page.Messages, env.View())
		last.at, last.id = at, env.MessageID
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating history rows: %w", err)
	}
	return page, nil
}

func scanEnvelope(rows *sql.Rows) (*types.OutboundEnvelope, int64, error) {
	var (
		env       types.OutboundEnvelope
		kind      string
		msgKind   string
		createdAt int64
		channel   types.Channel
		recipient types.UserIdentity
	)
	err := rows.Scan(
		&env.MessageID,
		&kind,
		&env.Content,
		&msgKind,
		&env.ParentMessageID,
		&createdAt,
		&env.Sender.ID,
		&env.Sender.DisplayName,
		&env.Sender.AvatarURL,
		&channel.ID,
		&channel.Name,
		&channel.IsPrivate,
		&recipient.ID,
		&recipient.DisplayName,
		&recipient.AvatarURL,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to scan message row: %w", err)
	}

	env.MessageKind = types.MessageKind(msgKind)
	env.CreatedAt = time.Unix(0, createdAt).UTC()
	switch types.AudienceKind(kind) {
	case types.AudienceChannel:
		env.Audience = types.ChannelAudience(channel, nil)
	default:
		env.Audience = types.DirectAudience(recipient)
	}
	return &env, createdAt, nil
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultHistoryLimit
	case limit > MaxHistoryLimit:
		return MaxHistoryLimit
	default:
		return limit
	}
}

// Cursors are "<created_at unix nanos>:<message id>" of the last message on
// the previous page.
func encodeCursor(at int64, id string) string {
	return strconv.FormatInt(at, 10) + ":" + id
}

func decodeCursor(cursor string) (int64, string, error) {
	ts, id, ok := strings.Cut(cursor, ":")
	if !ok || id == "" {
		return 0, "", interfaces.ErrInvalidCursor
	}
	at, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return 0, "", interfaces.ErrInvalidCursor
	}
	return at, id, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
