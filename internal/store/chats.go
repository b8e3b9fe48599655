package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// DirectKey identifies the direct chat of an unordered user pair.
func DirectKey(a, b int64) string {
	if a > b {
		a, b = b, a
	}
	return fmt.Sprintf("%d:%d", a, b)
}

// GetOrCreateDirectChat returns the single direct chat shared by a and b,
// creating it on first use. created reports whether this call inserted it.
func (r *Repository) GetOrCreateDirectChat(ctx context.Context, a, b int64) (int64, bool, error) {
	key := DirectKey(a, b)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, false, fmt.Errorf("begin direct chat tx: %w", err)
	}
	defer tx.Rollback()

	var chatID int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO chats (name, creator_id, kind, direct_key)
		VALUES ('', $1, 'direct', $2)
		ON CONFLICT (direct_key) DO NOTHING
		RETURNING id
	`, a, key).Scan(&chatID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return 0, false, fmt.Errorf("insert direct chat: %w", err)
	}

	if errors.Is(err, sql.ErrNoRows) {
		if err := tx.QueryRowContext(ctx, `SELECT id FROM chats WHERE direct_key = $1`, key).Scan(&chatID); err != nil {
			return 0, false, fmt.Errorf("select direct chat: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return 0, false, fmt.Errorf("commit direct chat tx: %w", err)
		}
		return chatID, false, nil
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO chat_members (chat_id, user_id, role)
		VALUES ($1, $2, 'admin'), ($1, $3, 'admin')
		ON CONFLICT (chat_id, user_id) DO NOTHING
	`, chatID, a, b); err != nil {
		return 0, false, fmt.Errorf("insert direct chat members: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, false, fmt.Errorf("commit direct chat tx: %w", err)
	}
	return chatID, true, nil
}

// CreateGroup inserts a group chat with creatorID as admin and memberIDs as members.
func (r *Repository) CreateGroup(ctx context.Context, creatorID int64, name, description string, memberIDs []int64) (Chat, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return Chat{}, fmt.Errorf("begin group tx: %w", err)
	}
	defer tx.Rollback()

	chat := Chat{Name: name, Description: description, CreatorID: creatorID, Kind: KindGroup}
	err = tx.QueryRowContext(ctx, `
		INSERT INTO chats (name, description, creator_id, kind)
		VALUES ($1, $2, $3, 'group')
		RETURNING id, created_at
	`, name, nullableString(description), creatorID).Scan(&chat.ID, &chat.CreatedAt)
	if err != nil {
		return Chat{}, fmt.Errorf("insert group: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO chat_members (chat_id, user_id, role) VALUES ($1, $2, 'admin')
	`, chat.ID, creatorID); err != nil {
		return Chat{}, fmt.Errorf("insert group creator: %w", err)
	}

	for _, memberID := range memberIDs {
		if memberID == creatorID {
			continue
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO chat_members (chat_id, user_id, role)
			VALUES ($1, $2, 'member')
			ON CONFLICT (chat_id, user_id) DO NOTHING
		`, chat.ID, memberID); err != nil {
			return Chat{}, fmt.Errorf("insert group member: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return Chat{}, fmt.Errorf("commit group tx: %w", err)
	}
	return chat, nil
}

func (r *Repository) GetChat(ctx context.Context, chatID int64) (Chat, error) {
	var chat Chat
	var description sql.NullString
	var creatorID sql.NullInt64
	err := r.db.QueryRowContext(ctx, `
		SELECT id, name, description, creator_id, kind, created_at
		FROM chats
		WHERE id = $1
	`, chatID).Scan(&chat.ID, &chat.Name, &description, &creatorID, &chat.Kind, &chat.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Chat{}, ErrNotFound
		}
		return Chat{}, fmt.Errorf("query chat: %w", err)
	}
	chat.Description = description.String
	chat.CreatorID = creatorID.Int64
	return chat, nil
}

// MemberRole returns the role of userID in chatID, or ErrNotFound for non-members.
func (r *Repository) MemberRole(ctx context.Context, chatID, userID int64) (string, error) {
	var role string
	err := r.db.QueryRowContext(ctx, `
		SELECT role FROM chat_members WHERE chat_id = $1 AND user_id = $2
	`, chatID, userID).Scan(&role)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("query member role: %w", err)
	}
	return role, nil
}

// AddMember reports false when the user already belonged to the chat.
func (r *Repository) AddMember(ctx context.Context, chatID, userID int64, role string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO chat_members (chat_id, user_id, role)
		VALUES ($1, $2, $3)
		ON CONFLICT (chat_id, user_id) DO NOTHING
	`, chatID, userID, role)
	if err != nil {
		return false, fmt.Errorf("insert member: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert member rows affected: %w", err)
	}
	return affected > 0, nil
}

func (r *Repository) RemoveMember(ctx context.Context, chatID, userID int64) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM chat_members WHERE chat_id = $1 AND user_id = $2`, chatID, userID)
	if err != nil {
		return false, fmt.Errorf("delete member: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete member rows affected: %w", err)
	}
	return affected > 0, nil
}

func (r *Repository) ListMembers(ctx context.Context, chatID int64) ([]Member, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT m.user_id, u.username, m.role, m.joined_at
		FROM chat_members m
		JOIN users u ON u.id = m.user_id
		WHERE m.chat_id = $1
		ORDER BY m.joined_at ASC, m.user_id ASC
	`, chatID)
	if err != nil {
		return nil, fmt.Errorf("query members: %w", err)
	}
	defer rows.Close()

	members := []Member{}
	for rows.Next() {
		var member Member
		if err := rows.Scan(&member.UserID, &member.Username, &member.Role, &member.JoinedAt); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		members = append(members, member)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate members: %w", err)
	}
	return members, nil
}

func (r *Repository) MemberIDs(ctx context.Context, chatID int64) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT user_id FROM chat_members WHERE chat_id = $1`, chatID)
	if err != nil {
		return nil, fmt.Errorf("query member ids: %w", err)
	}
	defer rows.Close()

	ids := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan member id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate member ids: %w", err)
	}
	return ids, nil
}

// ListChats returns every chat userID belongs to, most recently active first.
// Direct chats are named after the other participant. kind filters when non-empty.
func (r *Repository) ListChats(ctx context.Context, userID int64, kind string) ([]ChatSummary, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT
			c.id,
			CASE WHEN c.kind = 'direct' THEN COALESCE((
				SELECT u.username
				FROM chat_members om
				JOIN users u ON u.id = om.user_id
				WHERE om.chat_id = c.id AND om.user_id <> $1
				LIMIT 1
			), '') ELSE c.name END,
			COALESCE(c.description, ''),
			COALESCE(c.creator_id, 0),
			c.kind,
			c.created_at,
			m.role,
			(SELECT MAX(sent_at) FROM messages WHERE chat_id = c.id),
			(SELECT COUNT(*) FROM messages WHERE chat_id = c.id AND sender_id <> $1 AND read_at IS NULL)
		FROM chats c
		JOIN chat_members m ON m.chat_id = c.id AND m.user_id = $1
		WHERE ($2 = '' OR c.kind = $2)
		ORDER BY COALESCE((SELECT MAX(sent_at) FROM messages WHERE chat_id = c.id), c.created_at) DESC, c.id DESC
	`, userID, kind)
	if err != nil {
		return nil, fmt.Errorf("query chats: %w", err)
	}
	defer rows.Close()

	chats := []ChatSummary{}
	for rows.Next() {
		var summary ChatSummary
		var lastMessageAt sql.NullTime
		if err := rows.Scan(
			&summary.ID, &summary.Name, &summary.Description, &summary.CreatorID, &summary.Kind,
			&summary.CreatedAt, &summary.Role, &lastMessageAt, &summary.UnreadCount,
		); err != nil {
			return nil, fmt.Errorf("scan chat: %w", err)
		}
		if lastMessageAt.Valid {
			value := lastMessageAt.Time.UTC()
			summary.LastMessageAt = &value
		}
		chats = append(chats, summary)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chats: %w", err)
	}
	return chats, nil
}
