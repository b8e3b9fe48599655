package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SendMessage stores msg with its content gzip-compressed.
func (r *Repository) SendMessage(ctx context.Context, msg NewMessage) (Message, error) {
	compressed, err := compressContent(msg.Content)
	if err != nil {
		return Message{}, err
	}

	stored := Message{
		ChatID:      msg.ChatID,
		SenderID:    msg.SenderID,
		Content:     msg.Content,
		MessageType: msg.MessageType,
		Encrypted:   msg.Encrypted,
	}
	err = r.db.QueryRowContext(ctx, `
		INSERT INTO messages (chat_id, sender_id, content, message_type, encrypted)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, sent_at
	`, msg.ChatID, msg.SenderID, compressed, msg.MessageType, msg.Encrypted).Scan(&stored.ID, &stored.SentAt)
	if err != nil {
		return Message{}, fmt.Errorf("insert message: %w", err)
	}
	return stored, nil
}

// GetChatMessages pages through a chat newest first.
func (r *Repository) GetChatMessages(ctx context.Context, chatID int64, limit, offset int) ([]Message, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT m.id, m.chat_id, m.sender_id, u.username, m.content, m.message_type, m.encrypted,
			m.sent_at, m.delivered_at, m.read_at
		FROM messages m
		JOIN users u ON u.id = m.sender_id
		WHERE m.chat_id = $1
		ORDER BY m.sent_at DESC, m.id DESC
		LIMIT $2 OFFSET $3
	`, chatID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	messages := make([]Message, 0, limit)
	for rows.Next() {
		var msg Message
		var raw []byte
		var deliveredAt, readAt sql.NullTime
		if err := rows.Scan(
			&msg.ID, &msg.ChatID, &msg.SenderID, &msg.SenderUsername, &raw, &msg.MessageType,
			&msg.Encrypted, &msg.SentAt, &deliveredAt, &readAt,
		); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		content, err := decompressContent(raw)
		if err != nil {
			return nil, fmt.Errorf("message %d: %w", msg.ID, err)
		}
		msg.Content = content
		if deliveredAt.Valid {
			value := deliveredAt.Time.UTC()
			msg.DeliveredAt = &value
		}
		if readAt.Valid {
			value := readAt.Time.UTC()
			msg.ReadAt = &value
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return messages, nil
}

// MarkDelivered stamps delivered_at on messages other users sent to chatID.
// Timestamps that are already set are left alone.
func (r *Repository) MarkDelivered(ctx context.Context, chatID, recipientID int64, at time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE messages
		SET delivered_at = COALESCE(delivered_at, $3)
		WHERE chat_id = $1 AND sender_id <> $2 AND delivered_at IS NULL
	`, chatID, recipientID, at.UTC())
	if err != nil {
		return 0, fmt.Errorf("mark delivered: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("mark delivered rows affected: %w", err)
	}
	return affected, nil
}

// MarkRead stamps read_at, and delivered_at when missing, on messages other
// users sent to chatID.
func (r *Repository) MarkRead(ctx context.Context, chatID, readerID int64, at time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE messages
		SET delivered_at = COALESCE(delivered_at, $3), read_at = COALESCE(read_at, $3)
		WHERE chat_id = $1 AND sender_id <> $2 AND read_at IS NULL
	`, chatID, readerID, at.UTC())
	if err != nil {
		return 0, fmt.Errorf("mark read: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("mark read rows affected: %w", err)
	}
	return affected, nil
}

// UnreadCounts maps chat id to the number of unread messages for userID.
func (r *Repository) UnreadCounts(ctx context.Context, userID int64) (map[int64]int64, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT msg.chat_id, COUNT(*)
		FROM messages msg
		JOIN chat_members m ON m.chat_id = msg.chat_id AND m.user_id = $1
		WHERE msg.sender_id <> $1 AND msg.read_at IS NULL
		GROUP BY msg.chat_id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("query unread counts: %w", err)
	}
	defer rows.Close()

	counts := map[int64]int64{}
	for rows.Next() {
		var chatID, count int64
		if err := rows.Scan(&chatID, &count); err != nil {
			return nil, fmt.Errorf("scan unread count: %w", err)
		}
		counts[chatID] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate unread counts: %w", err)
	}
	return counts, nil
}

// DeleteMessage removes a message sent by senderID and returns its chat id.
func (r *Repository) DeleteMessage(ctx context.Context, messageID, senderID int64) (int64, error) {
	var chatID int64
	err := r.db.QueryRowContext(ctx, `
		DELETE FROM messages WHERE id = $1 AND sender_id = $2 RETURNING chat_id
	`, messageID, senderID).Scan(&chatID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("delete message: %w", err)
	}
	return chatID, nil
}
